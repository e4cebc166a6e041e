package writer

import (
	"context"
	"os"
	"sync"

	"github.com/SmitUplenchwar2687/tlog/internal/packet"
)

// FileWriter appends one JSON message per line to a file.
type FileWriter struct {
	mu   sync.Mutex
	f    *os.File
	sess packet.Session
	seq  sequencer
}

// OpenFile opens path for appending, creating it if needed. An unwritable
// parent directory surfaces as a *fs.PathError inside the WriteError.
func OpenFile(path string, sess packet.Session) (*FileWriter, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o640)
	if err != nil {
		return nil, &WriteError{Writer: KindFile, Err: err}
	}
	return &FileWriter{f: f, sess: sess}, nil
}

func (w *FileWriter) Write(_ context.Context, p packet.Packet) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	seq := w.seq.next()
	line, err := packet.NewMessage(w.sess, seq, p).Marshal()
	if err != nil {
		return &WriteError{Writer: KindFile, Seq: seq, Err: err}
	}
	line = append(line, '\n')
	if _, err := w.f.Write(line); err != nil {
		return &WriteError{Writer: KindFile, Seq: seq, Err: err}
	}
	w.seq.commit(seq)
	return nil
}

func (w *FileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	err := w.f.Close()
	w.f = nil
	return err
}
