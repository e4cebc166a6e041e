// Package recording reads tlog recordings: newline-delimited JSON messages,
// one per packet, as written by the file writer.
package recording

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/SmitUplenchwar2687/tlog/internal/packet"
	"github.com/SmitUplenchwar2687/tlog/internal/reader"
)

// Packet is one timed chunk of terminal I/O or a window change.
type Packet = packet.Packet

// Channel identifies what a packet carries.
type Channel = packet.Channel

const (
	ChannelInput  = packet.ChannelInput
	ChannelOutput = packet.ChannelOutput
	ChannelWindow = packet.ChannelWindow
)

// Window is a terminal geometry.
type Window = packet.Window

// Message is the serialized form of one packet.
type Message = packet.Message

// Session is the identity recorded with every message.
type Session = packet.Session

// Reader yields packets in recording order.
type Reader = reader.Reader

// Damage sentinels reported by strict reads.
var (
	ErrMalformedMessage = packet.ErrMalformedMessage
	ErrOutOfOrder       = reader.ErrOutOfOrder
	ErrMissingEntry     = reader.ErrMissingEntry
	ErrInvalidTiming    = reader.ErrInvalidTiming
)

// Options controls how damage in a recording is handled.
type Options struct {
	// Lax repairs ordering and timing damage instead of failing.
	Lax bool
	// Warn, if set, receives every repair made in lax mode.
	Warn func(error)
}

// Open opens a recording file for sequential, validated reading.
func Open(path string, opts Options) (Reader, error) {
	f, err := reader.OpenFile(path)
	if err != nil {
		return nil, err
	}
	return reader.Validate(f, reader.ValidateOptions{Lax: opts.Lax, Warn: opts.Warn}), nil
}

// Decode parses one line of a recording.
func Decode(line []byte) (Packet, Session, error) {
	m, err := packet.UnmarshalMessage(line)
	if err != nil {
		return Packet{}, Session{}, err
	}
	p, err := m.Packet()
	if err != nil {
		return Packet{}, Session{}, err
	}
	return p, m.SessionInfo(), nil
}

// ReadAll reads every packet from r and closes it.
func ReadAll(ctx context.Context, r Reader) (pkts []Packet, err error) {
	defer func() {
		if cerr := r.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("closing recording: %w", cerr)
		}
	}()
	for {
		p, err := r.Next(ctx)
		if errors.Is(err, io.EOF) {
			return pkts, nil
		}
		if err != nil {
			return pkts, err
		}
		pkts = append(pkts, p)
	}
}
