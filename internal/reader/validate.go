package reader

import (
	"context"
	"time"

	"github.com/SmitUplenchwar2687/tlog/internal/packet"
)

// Validator checks the entry numbering and timing of the packets a Reader
// yields. In strict mode the first violation is returned as an error and
// the read should be aborted. In lax mode violations go to Warn and the
// stream is repaired: a gap is accepted, a stale or duplicate entry is
// skipped, a backwards position is clamped to the previous one and a
// window packet without geometry is skipped.
type Validator struct {
	r    Reader
	lax  bool
	warn func(error)

	expected uint64
	prev     packet.Packet
	started  bool
}

// ValidateOptions configures a Validator.
type ValidateOptions struct {
	Lax  bool
	Warn func(error)
}

// Validate wraps r.
func Validate(r Reader, opts ValidateOptions) *Validator {
	warn := opts.Warn
	if warn == nil {
		warn = func(error) {}
	}
	return &Validator{r: r, lax: opts.Lax, warn: warn, expected: 1}
}

// Next returns the next valid packet. Errors from the underlying reader,
// io.EOF included, pass through unchanged.
func (v *Validator) Next(ctx context.Context) (packet.Packet, error) {
	for {
		p, err := v.r.Next(ctx)
		if err != nil {
			return packet.Packet{}, err
		}

		switch {
		case p.Seq < v.expected:
			err := &SequenceError{Err: ErrOutOfOrder, Expected: v.expected, Got: p.Seq}
			if !v.lax {
				return packet.Packet{}, err
			}
			v.warn(err)
			continue
		case p.Seq > v.expected:
			err := &SequenceError{Err: ErrMissingEntry, Expected: v.expected, Got: p.Seq}
			if !v.lax {
				return packet.Packet{}, err
			}
			v.warn(err)
		}

		if terr := v.checkTiming(p); terr != nil {
			if !v.lax {
				return packet.Packet{}, terr
			}
			v.warn(terr)
			if p.Channel == packet.ChannelWindow && p.Window.IsZero() {
				v.expected = p.Seq + 1
				continue
			}
			p.Timestamp = v.prevTimestamp()
		}

		v.expected = p.Seq + 1
		v.prev = p
		v.started = true
		return p, nil
	}
}

func (v *Validator) checkTiming(p packet.Packet) error {
	switch {
	case p.Timestamp < 0:
		return &TimingError{Seq: p.Seq, Pos: p.Timestamp, Prev: v.prevTimestamp(), Reason: "negative position"}
	case v.started && p.Timestamp < v.prev.Timestamp:
		return &TimingError{Seq: p.Seq, Pos: p.Timestamp, Prev: v.prev.Timestamp, Reason: "position before previous entry"}
	case p.Channel == packet.ChannelWindow && p.Window.IsZero():
		return &TimingError{Seq: p.Seq, Pos: p.Timestamp, Prev: v.prevTimestamp(), Reason: "window without geometry"}
	}
	return nil
}

func (v *Validator) prevTimestamp() time.Duration {
	if !v.started {
		return 0
	}
	return v.prev.Timestamp
}

// Close closes the underlying reader.
func (v *Validator) Close() error {
	return v.r.Close()
}
