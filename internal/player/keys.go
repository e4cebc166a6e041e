package player

import (
	"context"
	"io"
	"time"
)

// Command is an interactive playback control.
type Command int

const (
	CmdPause      Command = iota // toggle pause
	CmdSkip                      // play the next packet now
	CmdGotoStart                 // seek to the beginning
	CmdGotoEnd                   // seek to the end
	CmdGoto                      // seek to Control.Offset
	CmdFaster                    // double the speed
	CmdSlower                    // halve the speed
	CmdResetSpeed                // speed 1
	CmdQuit
)

func (c Command) String() string {
	switch c {
	case CmdPause:
		return "pause"
	case CmdSkip:
		return "skip"
	case CmdGotoStart:
		return "goto-start"
	case CmdGotoEnd:
		return "goto-end"
	case CmdGoto:
		return "goto"
	case CmdFaster:
		return "faster"
	case CmdSlower:
		return "slower"
	case CmdResetSpeed:
		return "reset-speed"
	case CmdQuit:
		return "quit"
	default:
		return "unknown"
	}
}

// Control is a command with its argument.
type Control struct {
	Cmd    Command
	Offset time.Duration
}

type escState int

const (
	escBase escState = iota
	escEsc           // got ESC
	escCtl           // inside a control sequence or cursor key
	escOSC           // inside an operating system command
	escDCS           // inside a device control string
	escMouse         // inside a mouse report
)

// Decoder turns keyboard bytes into controls. Terminal escape sequences
// (cursor keys, mouse reports, OSC and DCS strings) are swallowed so they
// never trigger a command.
//
// Keys: space or p pause, . skip, } faster, { slower, DEL reset speed,
// q or ctrl-C quit, g start, G end, digits and colons followed by G go to that offset.
type Decoder struct {
	state    escState
	mousePos int
	// bareCSI is set right after ESC [ until the next byte.
	bareCSI bool
	offset  []byte
}

// Feed consumes one byte and returns the control it completes, if any.
func (d *Decoder) Feed(c byte) (Control, bool) {
	switch d.state {
	case escEsc:
		switch c {
		case 0x1b:
			return Control{}, false
		case '[', 'O':
			d.state = escCtl
			d.bareCSI = c == '['
			return Control{}, false
		case ']':
			d.state = escOSC
			return Control{}, false
		case '\\':
			d.state = escBase
			return Control{}, false
		case 'P':
			d.state = escDCS
			return Control{}, false
		}
		d.state = escBase
		if c >= 0x30 && c <= 0x7e {
			return Control{}, false
		}
	case escCtl:
		bare := d.bareCSI
		d.bareCSI = false
		switch {
		case c <= 0x3f || c == 0x7f:
			return Control{}, false
		case c == 'M' && bare:
			// X10 mouse report: ESC [ M followed by three raw bytes.
			d.state = escMouse
			d.mousePos = 0
			return Control{}, false
		default:
			d.state = escBase
			return Control{}, false
		}
	case escOSC:
		switch c {
		case 0x07:
			d.state = escBase
		case 0x1b:
			d.state = escEsc
		}
		return Control{}, false
	case escDCS:
		if c == 0x1b {
			d.state = escEsc
		}
		return Control{}, false
	case escMouse:
		d.mousePos++
		if d.mousePos >= 3 {
			d.state = escBase
		}
		return Control{}, false
	}

	if c == 0x1b {
		d.state = escEsc
		return Control{}, false
	}
	return d.key(c)
}

func (d *Decoder) key(c byte) (Control, bool) {
	if (c >= '0' && c <= '9') || c == ':' {
		d.offset = append(d.offset, c)
		return Control{}, false
	}
	typed := d.offset
	d.offset = nil

	switch c {
	case 'G':
		if len(typed) > 0 {
			if off, err := ParseOffset(string(typed)); err == nil {
				return Control{Cmd: CmdGoto, Offset: off}, true
			}
			return Control{}, false
		}
		return Control{Cmd: CmdGotoEnd}, true
	case 'g':
		return Control{Cmd: CmdGotoStart}, true
	case ' ', 'p':
		return Control{Cmd: CmdPause}, true
	case '.':
		return Control{Cmd: CmdSkip}, true
	case '}':
		return Control{Cmd: CmdFaster}, true
	case '{':
		return Control{Cmd: CmdSlower}, true
	case 0x7f:
		return Control{Cmd: CmdResetSpeed}, true
	case 'q', 0x03:
		return Control{Cmd: CmdQuit}, true
	}
	return Control{}, false
}

// ReadControls decodes r until it fails or ctx is done, sending controls to
// out. It closes out when it returns.
func ReadControls(ctx context.Context, r io.Reader, out chan<- Control) error {
	defer close(out)
	var dec Decoder
	buf := make([]byte, 64)
	for {
		n, err := r.Read(buf)
		for _, c := range buf[:n] {
			ctl, ok := dec.Feed(c)
			if !ok {
				continue
			}
			select {
			case out <- ctl:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}
