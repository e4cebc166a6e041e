package reader

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/SmitUplenchwar2687/tlog/internal/packet"
)

// FileReader parses newline-delimited messages. A trailing line without a
// newline is held back until the rest of it is written, so the reader can
// tail a file that is still being recorded.
type FileReader struct {
	path    string
	f       *os.File
	br      *bufio.Reader
	partial []byte
	line    int
}

// OpenFile opens a recording file.
func OpenFile(path string) (*FileReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening recording: %w", err)
	}
	return NewFileReader(f, path), nil
}

// NewFileReader reads messages from f; name is used in error messages.
func NewFileReader(f *os.File, name string) *FileReader {
	return &FileReader{path: name, f: f, br: bufio.NewReaderSize(f, 64*1024)}
}

func (r *FileReader) Next(ctx context.Context) (packet.Packet, error) {
	for {
		if err := ctx.Err(); err != nil {
			return packet.Packet{}, err
		}
		chunk, err := r.br.ReadBytes('\n')
		if len(chunk) > 0 {
			r.partial = append(r.partial, chunk...)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return packet.Packet{}, io.EOF
			}
			return packet.Packet{}, fmt.Errorf("reading %s: %w", r.path, err)
		}

		line := bytes.TrimSpace(r.partial)
		r.partial = r.partial[:0]
		r.line++
		if len(line) == 0 {
			continue
		}
		m, err := packet.UnmarshalMessage(line)
		if err != nil {
			return packet.Packet{}, fmt.Errorf("%s:%d: %w", r.path, r.line, err)
		}
		p, err := m.Packet()
		if err != nil {
			return packet.Packet{}, fmt.Errorf("%s:%d: %w", r.path, r.line, err)
		}
		return p, nil
	}
}

func (r *FileReader) Close() error {
	return r.f.Close()
}
