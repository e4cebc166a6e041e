// Package player replays a recording to a terminal.
//
// A Player owns a single timeline. Between packets it waits on one select
// that merges the timer for the next packet, interactive controls and
// cancellation; whichever fires first is handled and the wait is
// recomputed. Every packet read is kept, so seeks can go backwards.
package player

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/SmitUplenchwar2687/tlog/internal/clock"
	"github.com/SmitUplenchwar2687/tlog/internal/packet"
	"github.com/SmitUplenchwar2687/tlog/internal/reader"
)

// Speed bounds for interactive speed changes.
const (
	MinSpeed = 1.0 / 16
	MaxSpeed = 16.0
)

// DefaultPollInterval is how often follow mode asks the reader for new
// packets.
const DefaultPollInterval = time.Second

// resetScreen is written before a backwards seek replays from the start.
const resetScreen = "\x1bc"

// State is the playback state.
type State int32

const (
	StateLoading State = iota
	StatePlaying
	StatePaused
	StateSeeking
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateSeeking:
		return "seeking"
	case StateEnded:
		return "ended"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Config holds playback parameters.
type Config struct {
	Speed float64 `json:"speed" yaml:"speed"`
	// Goto is where playback starts.
	Goto Target `json:"-" yaml:"-"`
	// SeekWindow limits the output replayed by a seek to what was shown
	// within this long before the target. Zero replays everything.
	SeekWindow   time.Duration `json:"seek_window" yaml:"seek_window"`
	Follow       bool          `json:"follow" yaml:"follow"`
	PollInterval time.Duration `json:"poll_interval" yaml:"poll_interval"`
	// Persist ignores quit and keeps waiting at the end of the recording.
	Persist bool `json:"persist" yaml:"persist"`
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Speed <= 0 {
		return fmt.Errorf("speed must be positive, got %g", c.Speed)
	}
	if c.SeekWindow < 0 {
		return fmt.Errorf("seek window must not be negative, got %s", c.SeekWindow)
	}
	if c.PollInterval < 0 {
		return fmt.Errorf("poll interval must not be negative, got %s", c.PollInterval)
	}
	return nil
}

// Cursor is the playback position.
type Cursor struct {
	Index int           // packets consumed
	Time  time.Duration // recording time reached
	Speed float64
}

// Player replays one recording.
type Player struct {
	cfg      Config
	src      reader.Reader
	out      io.Writer
	clk      clock.Clock
	controls <-chan Control

	history []packet.Packet
	skip    bool

	// anchor maps wall time to recording time while playing
	anchorWall time.Time
	anchorTime time.Duration

	mu     sync.Mutex
	cursor Cursor
	state  State
}

// New creates a player reading from src and writing to out. controls may be
// nil for non-interactive playback.
func New(cfg Config, src reader.Reader, out io.Writer, clk clock.Clock, controls <-chan Control) (*Player, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &Player{
		cfg:      cfg,
		src:      src,
		out:      out,
		clk:      clk,
		controls: controls,
		cursor:   Cursor{Speed: cfg.Speed},
	}, nil
}

// Cursor returns the current position.
func (p *Player) Cursor() Cursor {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cursor
}

// State returns the current state.
func (p *Player) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Run plays the recording until it ends, the user quits or ctx is done. The
// reader is closed on every exit path. Reader errors are fatal.
func (p *Player) Run(ctx context.Context) (err error) {
	defer func() {
		if cerr := p.src.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("closing recording: %w", cerr)
		}
	}()

	if p.cfg.Goto.Kind != TargetNone {
		if err := p.Seek(ctx, p.cfg.Goto); err != nil {
			return err
		}
	}
	p.setState(StatePlaying)
	p.anchor(p.clk.Now())

	var (
		timer   <-chan time.Time
		timerAt time.Time
	)
	for {
		next, ok, err := p.peek(ctx)
		if err != nil {
			return err
		}
		paused := p.State() == StatePaused

		if !ok {
			var poll <-chan time.Time
			switch {
			case p.cfg.Follow:
				poll = p.clk.After(p.cfg.PollInterval)
			case paused:
			case p.cfg.Persist:
				p.setState(StateEnded)
			default:
				p.setState(StateEnded)
				return nil
			}
			if quit, err := p.wait(ctx, poll); err != nil || quit {
				return err
			}
			continue
		}

		if p.skip {
			p.skip = false
			if err := p.play(next); err != nil {
				return err
			}
			continue
		}
		if paused {
			if quit, err := p.wait(ctx, nil); err != nil || quit {
				return err
			}
			continue
		}

		now := p.clk.Now()
		due := p.dueAt(next.Timestamp)
		if !due.After(now) {
			if err := p.play(next); err != nil {
				return err
			}
			continue
		}
		if timer == nil || !due.Equal(timerAt) {
			timer = p.clk.After(due.Sub(now))
			timerAt = due
		}
		fired, quit, err := p.waitTimer(ctx, timer)
		if err != nil || quit {
			return err
		}
		if fired {
			timer = nil
		}
	}
}

// wait blocks until poll fires, a control arrives or ctx is done.
func (p *Player) wait(ctx context.Context, poll <-chan time.Time) (quit bool, err error) {
	_, quit, err = p.waitTimer(ctx, poll)
	return quit, err
}

func (p *Player) waitTimer(ctx context.Context, timer <-chan time.Time) (fired, quit bool, err error) {
	select {
	case <-ctx.Done():
		return false, false, ctx.Err()
	case <-timer:
		return true, false, nil
	case c, ok := <-p.controls:
		if !ok {
			p.controls = nil
			return false, false, nil
		}
		quit, err := p.Control(ctx, c)
		return false, quit, err
	}
}

// Control applies an interactive control. It reports whether playback
// should stop.
func (p *Player) Control(ctx context.Context, c Control) (bool, error) {
	now := p.clk.Now()
	switch c.Cmd {
	case CmdQuit:
		return !p.cfg.Persist, nil
	case CmdPause:
		if p.State() == StatePaused {
			p.setState(StatePlaying)
			p.anchor(now)
			return false, nil
		}
		p.settle(now)
		if p.State() != StateEnded {
			p.setState(StatePaused)
		}
	case CmdSkip:
		p.skip = true
	case CmdFaster:
		if speed := p.Cursor().Speed * 2; speed <= MaxSpeed {
			p.setSpeed(now, speed)
		}
	case CmdSlower:
		if speed := p.Cursor().Speed / 2; speed >= MinSpeed {
			p.setSpeed(now, speed)
		}
	case CmdResetSpeed:
		p.setSpeed(now, 1)
	case CmdGotoStart:
		return false, p.Seek(ctx, Target{Kind: TargetStart})
	case CmdGotoEnd:
		return false, p.Seek(ctx, Target{Kind: TargetEnd})
	case CmdGoto:
		return false, p.Seek(ctx, Target{Kind: TargetOffset, Offset: c.Offset})
	}
	return false, nil
}

// Seek moves the cursor to t without waiting. Output before the target is
// written at once, limited to the seek window; geometry changes are always
// applied. A pause survives the seek.
func (p *Player) Seek(ctx context.Context, t Target) error {
	prev := p.State()
	p.setState(StateSeeking)
	defer func() {
		if prev == StatePaused {
			p.setState(StatePaused)
		} else {
			p.setState(StatePlaying)
		}
		p.anchor(p.clk.Now())
	}()

	cur := p.Cursor()
	var target time.Duration
	switch t.Kind {
	case TargetStart:
		if cur.Index > 0 {
			if err := p.rewind(); err != nil {
				return err
			}
		}
		return nil
	case TargetOffset:
		target = t.Offset
		if target < cur.Time {
			if err := p.rewind(); err != nil {
				return err
			}
		}
	case TargetEnd:
		if err := p.fill(ctx); err != nil {
			return err
		}
		target = cur.Time
		if n := len(p.history); n > 0 && p.history[n-1].Timestamp > target {
			target = p.history[n-1].Timestamp
		}
	default:
		return nil
	}

	for {
		next, ok, err := p.peek(ctx)
		if err != nil {
			return err
		}
		if !ok || next.Timestamp > target {
			break
		}
		visible := p.cfg.SeekWindow == 0 || next.Timestamp >= target-p.cfg.SeekWindow
		if err := p.apply(next, visible); err != nil {
			return err
		}
	}

	p.mu.Lock()
	if p.cursor.Time < target {
		p.cursor.Time = target
	}
	p.mu.Unlock()
	return nil
}

// peek returns the next packet to play, reading it if needed. ok is false
// at the current end of the recording.
func (p *Player) peek(ctx context.Context) (packet.Packet, bool, error) {
	idx := p.Cursor().Index
	if idx < len(p.history) {
		return p.history[idx], true, nil
	}
	pkt, err := p.src.Next(ctx)
	if errors.Is(err, io.EOF) {
		return packet.Packet{}, false, nil
	}
	if err != nil {
		return packet.Packet{}, false, fmt.Errorf("reading recording: %w", err)
	}
	p.history = append(p.history, pkt)
	return pkt, true, nil
}

// fill reads the rest of what the recording currently holds.
func (p *Player) fill(ctx context.Context) error {
	for {
		pkt, err := p.src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading recording: %w", err)
		}
		p.history = append(p.history, pkt)
	}
}

// play applies the next packet in real time and re-anchors the timeline on
// it, so a late packet does not make the following ones rush.
func (p *Player) play(pkt packet.Packet) error {
	if err := p.apply(pkt, true); err != nil {
		return err
	}
	p.anchorWall = p.clk.Now()
	p.anchorTime = pkt.Timestamp
	return nil
}

func (p *Player) apply(pkt packet.Packet, visible bool) error {
	var err error
	switch pkt.Channel {
	case packet.ChannelOutput:
		if visible {
			_, err = p.out.Write(pkt.Payload)
		}
	case packet.ChannelWindow:
		_, err = fmt.Fprintf(p.out, "\x1b[8;%d;%dt", pkt.Window.Rows, pkt.Window.Cols)
	}
	if err != nil {
		return fmt.Errorf("writing output: %w", err)
	}

	p.mu.Lock()
	p.cursor.Index++
	if pkt.Timestamp > p.cursor.Time {
		p.cursor.Time = pkt.Timestamp
	}
	p.mu.Unlock()
	return nil
}

func (p *Player) rewind() error {
	if _, err := io.WriteString(p.out, resetScreen); err != nil {
		return fmt.Errorf("writing output: %w", err)
	}
	p.mu.Lock()
	p.cursor.Index = 0
	p.cursor.Time = 0
	p.mu.Unlock()
	return nil
}

// dueAt returns the wall time at which recording time ts is reached.
func (p *Player) dueAt(ts time.Duration) time.Time {
	speed := p.Cursor().Speed
	return p.anchorWall.Add(time.Duration(float64(ts-p.anchorTime) / speed))
}

// settle records how far playback got by now in the cursor.
func (p *Player) settle(now time.Time) {
	if p.State() != StatePlaying {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	pos := p.anchorTime + time.Duration(float64(now.Sub(p.anchorWall))*p.cursor.Speed)
	if p.cursor.Index < len(p.history) {
		if next := p.history[p.cursor.Index].Timestamp; pos > next {
			pos = next
		}
	}
	if pos > p.cursor.Time {
		p.cursor.Time = pos
	}
}

func (p *Player) setSpeed(now time.Time, speed float64) {
	p.settle(now)
	p.mu.Lock()
	p.cursor.Speed = speed
	p.mu.Unlock()
	p.anchor(now)
}

// anchor restarts the timeline at the cursor.
func (p *Player) anchor(now time.Time) {
	p.anchorWall = now
	p.anchorTime = p.Cursor().Time
}

func (p *Player) setState(s State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = s
}
