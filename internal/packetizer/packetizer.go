// Package packetizer batches raw terminal I/O into timed, size-bounded
// packets.
//
// Bytes are buffered until the oldest buffered byte is Latency old, the
// buffer reaches Payload bytes, the channel switches, a window change
// arrives, or the caller flushes. Payload bytes pass through untouched.
package packetizer

import (
	"fmt"
	"time"

	"github.com/SmitUplenchwar2687/tlog/internal/packet"
)

// Config bounds the packets the packetizer emits.
type Config struct {
	Latency time.Duration `json:"latency" yaml:"latency"` // max age of the oldest buffered byte
	Payload int           `json:"payload" yaml:"payload"` // max payload bytes per packet
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Latency <= 0 {
		return fmt.Errorf("latency must be positive, got %s", c.Latency)
	}
	if c.Payload <= 0 {
		return fmt.Errorf("payload must be positive, got %d", c.Payload)
	}
	return nil
}

// Packetizer is not safe for concurrent use; the capture pipeline drives it
// from a single goroutine.
type Packetizer struct {
	cfg   Config
	start time.Time

	ch      packet.Channel
	buf     []byte
	first   time.Time // capture time of the oldest buffered byte
	pending bool

	last time.Duration // timestamp of the last emitted packet
}

// New creates a packetizer for a recording that started at start.
func New(cfg Config, start time.Time) (*Packetizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Packetizer{
		cfg:   cfg,
		start: start,
		buf:   make([]byte, 0, cfg.Payload),
	}, nil
}

// Write buffers data captured on ch at time at and returns any packets that
// became complete. A channel switch flushes the other channel first.
func (p *Packetizer) Write(ch packet.Channel, data []byte, at time.Time) []packet.Packet {
	if len(data) == 0 {
		return nil
	}
	var out []packet.Packet
	if p.pending && p.ch != ch {
		out = p.appendFlush(out)
	}
	for len(data) > 0 {
		if !p.pending {
			p.ch = ch
			p.first = at
			p.pending = true
		}
		room := p.cfg.Payload - len(p.buf)
		n := len(data)
		if n > room {
			n = room
		}
		p.buf = append(p.buf, data[:n]...)
		data = data[n:]
		if len(p.buf) >= p.cfg.Payload {
			out = p.appendFlush(out)
		}
	}
	return out
}

// Window flushes pending I/O and returns it followed by a window packet.
func (p *Packetizer) Window(w packet.Window, at time.Time) []packet.Packet {
	out := p.appendFlush(nil)
	pkt := packet.NewWindow(p.offset(at), w.Cols, w.Rows)
	p.last = pkt.Timestamp
	return append(out, pkt)
}

// Deadline returns when the pending buffer becomes due.
func (p *Packetizer) Deadline() (time.Time, bool) {
	if !p.pending {
		return time.Time{}, false
	}
	return p.first.Add(p.cfg.Latency), true
}

// Due flushes the pending buffer if it is at least Latency old at now.
func (p *Packetizer) Due(now time.Time) []packet.Packet {
	deadline, ok := p.Deadline()
	if !ok || now.Before(deadline) {
		return nil
	}
	return p.appendFlush(nil)
}

// Flush emits whatever is buffered. An empty flush returns nil.
func (p *Packetizer) Flush() []packet.Packet {
	return p.appendFlush(nil)
}

// Buffered returns the number of bytes waiting to be emitted.
func (p *Packetizer) Buffered() int {
	return len(p.buf)
}

func (p *Packetizer) appendFlush(out []packet.Packet) []packet.Packet {
	if !p.pending {
		return out
	}
	payload := make([]byte, len(p.buf))
	copy(payload, p.buf)
	pkt := packet.Packet{
		Timestamp: p.offset(p.first),
		Channel:   p.ch,
		Payload:   payload,
	}
	p.last = pkt.Timestamp
	p.buf = p.buf[:0]
	p.pending = false
	return append(out, pkt)
}

// offset converts a capture time to a recording offset that never goes
// backwards.
func (p *Packetizer) offset(at time.Time) time.Duration {
	ts := at.Sub(p.start)
	if ts < p.last {
		ts = p.last
	}
	if ts < 0 {
		ts = 0
	}
	return ts
}
