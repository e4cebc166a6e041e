// Package packet defines the recorded unit of terminal I/O and its wire form.
//
// A Packet is one timestamped, channel-tagged chunk of captured bytes (or a
// window geometry change). A Recording is the ordered sequence of packets
// sharing one Session identity. Message is the self-describing record a
// Packet becomes when it is persisted.
package packet

import (
	"fmt"
	"time"
)

// Channel identifies which stream a packet was captured from.
type Channel uint8

const (
	ChannelInput  Channel = 1 // bytes typed by the user
	ChannelOutput Channel = 2 // bytes written to the terminal
	ChannelWindow Channel = 3 // terminal geometry change
)

func (c Channel) String() string {
	switch c {
	case ChannelInput:
		return "input"
	case ChannelOutput:
		return "output"
	case ChannelWindow:
		return "window"
	default:
		return fmt.Sprintf("channel(%d)", uint8(c))
	}
}

// Code returns the one-letter wire code for the channel.
func (c Channel) Code() string {
	switch c {
	case ChannelInput:
		return "i"
	case ChannelOutput:
		return "o"
	case ChannelWindow:
		return "w"
	default:
		return ""
	}
}

// ParseChannel converts a wire code or a channel name to a Channel.
func ParseChannel(s string) (Channel, error) {
	switch s {
	case "i", "input":
		return ChannelInput, nil
	case "o", "output":
		return ChannelOutput, nil
	case "w", "window":
		return ChannelWindow, nil
	default:
		return 0, fmt.Errorf("unknown channel %q", s)
	}
}

// Window is a terminal geometry.
type Window struct {
	Cols uint16 `json:"cols"`
	Rows uint16 `json:"rows"`
}

// IsZero reports whether either dimension is missing.
func (w Window) IsZero() bool {
	return w.Cols == 0 || w.Rows == 0
}

func (w Window) String() string {
	return fmt.Sprintf("%dx%d", w.Cols, w.Rows)
}

// Packet is one recorded observation.
type Packet struct {
	// Seq is the per-recording sequence number, assigned when the packet is
	// written. Zero means not yet assigned.
	Seq uint64
	// Timestamp is the offset from the recording start.
	Timestamp time.Duration
	Channel   Channel
	// Payload holds the captured bytes verbatim. Empty for window packets.
	Payload []byte
	// Window is set for ChannelWindow packets only.
	Window Window
}

// IsIO reports whether the packet carries terminal bytes.
func (p Packet) IsIO() bool {
	return p.Channel == ChannelInput || p.Channel == ChannelOutput
}

// Len returns the payload size in bytes.
func (p Packet) Len() int {
	return len(p.Payload)
}

// Clone returns a deep copy of p.
func (p Packet) Clone() Packet {
	out := p
	if p.Payload != nil {
		out.Payload = make([]byte, len(p.Payload))
		copy(out.Payload, p.Payload)
	}
	return out
}

func (p Packet) String() string {
	if p.Channel == ChannelWindow {
		return fmt.Sprintf("#%d %s window %s", p.Seq, p.Timestamp, p.Window)
	}
	return fmt.Sprintf("#%d %s %s %dB", p.Seq, p.Timestamp, p.Channel, len(p.Payload))
}

// NewWindow returns a window packet.
func NewWindow(ts time.Duration, cols, rows uint16) Packet {
	return Packet{
		Timestamp: ts,
		Channel:   ChannelWindow,
		Window:    Window{Cols: cols, Rows: rows},
	}
}
