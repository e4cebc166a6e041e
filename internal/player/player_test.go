package player

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/SmitUplenchwar2687/tlog/internal/clock"
	"github.com/SmitUplenchwar2687/tlog/internal/packet"
	"github.com/SmitUplenchwar2687/tlog/internal/reader"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// feed is a resumable in-memory reader: it answers io.EOF when drained and
// picks up packets appended later.
type feed struct {
	mu     sync.Mutex
	ps     []packet.Packet
	pos    int
	closed bool
}

func (f *feed) Next(context.Context) (packet.Packet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pos >= len(f.ps) {
		return packet.Packet{}, io.EOF
	}
	p := f.ps[f.pos]
	f.pos++
	return p, nil
}

func (f *feed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *feed) add(ps ...packet.Packet) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ps = append(f.ps, ps...)
}

// syncBuffer is a bytes.Buffer safe for a writer and a polling reader.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func outAt(seq uint64, sec float64, text string) packet.Packet {
	return packet.Packet{
		Seq:       seq,
		Timestamp: time.Duration(sec * float64(time.Second)),
		Channel:   packet.ChannelOutput,
		Payload:   []byte(text),
	}
}

func recording() []packet.Packet {
	return []packet.Packet{
		outAt(1, 0, "a"),
		outAt(2, 5, "b"),
		outAt(3, 10, "c"),
		outAt(4, 15, "d"),
	}
}

// runToEnd runs p, jumping the virtual clock to every deadline the player
// waits on, and returns Run's error and the virtual time it took.
func runToEnd(t *testing.T, p *Player, clk *clock.VirtualClock) (time.Duration, error) {
	t.Helper()
	start := clk.Now()
	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background()) }()
	deadline := time.Now().Add(5 * time.Second)
	for {
		select {
		case err := <-done:
			return clk.Since(start), err
		default:
		}
		if time.Now().After(deadline) {
			t.Fatal("Run() did not return")
		}
		if next, ok := clk.NextDeadline(); ok {
			clk.Set(next)
		} else {
			time.Sleep(time.Millisecond)
		}
	}
}

func TestPlayer_ReproducesTiming(t *testing.T) {
	clk := clock.NewVirtualClock(epoch)
	var out syncBuffer
	p, err := New(Config{Speed: 1}, &feed{ps: recording()}, &out, clk, nil)
	if err != nil {
		t.Fatal(err)
	}
	took, err := runToEnd(t, p, clk)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out.String() != "abcd" {
		t.Errorf("output = %q, want abcd", out.String())
	}
	if took != 15*time.Second {
		t.Errorf("playback took %s, want 15s", took)
	}
	if p.State() != StateEnded {
		t.Errorf("State() = %s, want ended", p.State())
	}
}

func TestPlayer_DoubleSpeed(t *testing.T) {
	clk := clock.NewVirtualClock(epoch)
	var out syncBuffer
	p, err := New(Config{Speed: 2}, &feed{ps: recording()}, &out, clk, nil)
	if err != nil {
		t.Fatal(err)
	}
	took, err := runToEnd(t, p, clk)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if took >= 9*time.Second {
		t.Errorf("speed 2 playback of 15s took %s, want under 9s", took)
	}
	if out.String() != "abcd" {
		t.Errorf("output = %q, want abcd", out.String())
	}
}

func TestPlayer_ClosesReader(t *testing.T) {
	clk := clock.NewVirtualClock(epoch)
	f := &feed{ps: []packet.Packet{outAt(1, 0, "a")}}
	p, _ := New(Config{Speed: 1}, f, io.Discard, clk, nil)
	if err := p.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !f.closed {
		t.Error("reader left open after playback")
	}

	f = &feed{ps: recording()}
	p, _ = New(Config{Speed: 1}, f, io.Discard, clk, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if !f.closed {
		t.Error("reader left open after cancellation")
	}
}

func TestPlayer_SeekToEndIsIdempotent(t *testing.T) {
	clk := clock.NewVirtualClock(epoch)
	var out syncBuffer
	p, _ := New(Config{Speed: 1}, &feed{ps: recording()}, &out, clk, nil)
	ctx := context.Background()

	if err := p.Seek(ctx, Target{Kind: TargetEnd}); err != nil {
		t.Fatal(err)
	}
	first := p.Cursor()
	shown := out.String()
	if err := p.Seek(ctx, Target{Kind: TargetEnd}); err != nil {
		t.Fatal(err)
	}
	second := p.Cursor()

	if first != second {
		t.Errorf("cursor moved from %+v to %+v", first, second)
	}
	if first.Index != 4 || first.Time != 15*time.Second {
		t.Errorf("cursor = %+v, want index 4 at 15s", first)
	}
	if out.String() != shown || shown != "abcd" {
		t.Errorf("output = %q after %q, want abcd once", out.String(), shown)
	}
	if clk.Since(epoch) != 0 {
		t.Error("seek waited on the clock")
	}
}

func TestPlayer_SeekWindow(t *testing.T) {
	ps := []packet.Packet{
		outAt(1, 0, "a"),
		packet.NewWindow(time.Second, 100, 30),
		outAt(3, 5, "b"),
		outAt(4, 9, "c"),
		outAt(5, 12, "d"),
	}
	ps[1].Seq = 2

	clk := clock.NewVirtualClock(epoch)
	var out syncBuffer
	p, _ := New(Config{Speed: 1, SeekWindow: 2 * time.Second}, &feed{ps: ps}, &out, clk, nil)
	if err := p.Seek(context.Background(), Target{Kind: TargetOffset, Offset: 10 * time.Second}); err != nil {
		t.Fatal(err)
	}
	if got, want := out.String(), "\x1b[8;30;100tc"; got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
	if c := p.Cursor(); c.Index != 4 || c.Time != 10*time.Second {
		t.Errorf("cursor = %+v, want index 4 at 10s", c)
	}

	// Without a window everything before the target is shown.
	var all syncBuffer
	p, _ = New(Config{Speed: 1}, &feed{ps: ps}, &all, clk, nil)
	if err := p.Seek(context.Background(), Target{Kind: TargetOffset, Offset: 10 * time.Second}); err != nil {
		t.Fatal(err)
	}
	if got, want := all.String(), "a\x1b[8;30;100tbc"; got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestPlayer_SeekBackwards(t *testing.T) {
	clk := clock.NewVirtualClock(epoch)
	var out syncBuffer
	p, _ := New(Config{Speed: 1}, &feed{ps: recording()}, &out, clk, nil)
	ctx := context.Background()

	if err := p.Seek(ctx, Target{Kind: TargetEnd}); err != nil {
		t.Fatal(err)
	}
	if err := p.Seek(ctx, Target{Kind: TargetOffset, Offset: 6 * time.Second}); err != nil {
		t.Fatal(err)
	}
	if got, want := out.String(), "abcd"+resetScreen+"ab"; got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
	if err := p.Seek(ctx, Target{Kind: TargetStart}); err != nil {
		t.Fatal(err)
	}
	if c := p.Cursor(); c.Index != 0 || c.Time != 0 {
		t.Errorf("cursor = %+v after goto start", c)
	}
}

func TestPlayer_GotoOnStart(t *testing.T) {
	clk := clock.NewVirtualClock(epoch)
	var out syncBuffer
	p, _ := New(Config{Speed: 1, Goto: Target{Kind: TargetOffset, Offset: 10 * time.Second}}, &feed{ps: recording()}, &out, clk, nil)
	took, err := runToEnd(t, p, clk)
	if err != nil {
		t.Fatal(err)
	}
	if out.String() != "abcd" {
		t.Errorf("output = %q", out.String())
	}
	if took != 5*time.Second {
		t.Errorf("playback from 10s took %s, want 5s", took)
	}
}

func TestPlayer_Controls(t *testing.T) {
	clk := clock.NewVirtualClock(epoch)
	var out syncBuffer
	controls := make(chan Control)
	p, _ := New(Config{Speed: 1}, &feed{ps: recording()}, &out, clk, controls)

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background()) }()

	// "a" plays at once, then the player waits 5s for "b".
	if !clk.BlockUntil(1, 2*time.Second) {
		t.Fatal("player never waited")
	}
	controls <- Control{Cmd: CmdFaster}
	waitFor(t, func() bool { return p.Cursor().Speed == 2 })
	controls <- Control{Cmd: CmdPause}
	waitFor(t, func() bool { return p.State() == StatePaused })

	// Time passing while paused plays nothing.
	clk.Advance(time.Minute)
	controls <- Control{Cmd: CmdSkip}
	waitFor(t, func() bool { return out.String() == "ab" })
	if p.State() != StatePaused {
		t.Fatalf("skip resumed playback")
	}

	controls <- Control{Cmd: CmdGotoEnd}
	waitFor(t, func() bool { return out.String() == "abcd" })

	controls <- Control{Cmd: CmdPause}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not end after resuming at the end")
	}
}

func TestPlayer_SpeedBounds(t *testing.T) {
	clk := clock.NewVirtualClock(epoch)
	p, _ := New(Config{Speed: 1}, &feed{}, io.Discard, clk, nil)
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		p.Control(ctx, Control{Cmd: CmdFaster})
	}
	if got := p.Cursor().Speed; got != MaxSpeed {
		t.Errorf("speed = %g, want %g", got, MaxSpeed)
	}
	p.Control(ctx, Control{Cmd: CmdResetSpeed})
	for i := 0; i < 10; i++ {
		p.Control(ctx, Control{Cmd: CmdSlower})
	}
	if got := p.Cursor().Speed; got != MinSpeed {
		t.Errorf("speed = %g, want %g", got, MinSpeed)
	}
}

func TestPlayer_SpeedOutsideBoundsCanMoveBack(t *testing.T) {
	clk := clock.NewVirtualClock(epoch)
	ctx := context.Background()

	p, _ := New(Config{Speed: 0.03}, &feed{}, io.Discard, clk, nil)
	for i := 0; i < 3; i++ {
		p.Control(ctx, Control{Cmd: CmdFaster})
	}
	if got := p.Cursor().Speed; got != 0.24 {
		t.Errorf("slow start sped up to %g, want 0.24", got)
	}
	p.Control(ctx, Control{Cmd: CmdSlower})
	p.Control(ctx, Control{Cmd: CmdSlower})
	if got := p.Cursor().Speed; got != 0.12 {
		t.Errorf("slowed to %g, want 0.12 (halving below the minimum is refused)", got)
	}

	p, _ = New(Config{Speed: 40}, &feed{}, io.Discard, clk, nil)
	p.Control(ctx, Control{Cmd: CmdSlower})
	if got := p.Cursor().Speed; got != 20 {
		t.Errorf("fast start slowed to %g, want 20", got)
	}
	p.Control(ctx, Control{Cmd: CmdFaster})
	if got := p.Cursor().Speed; got != 20 {
		t.Errorf("speed = %g, doubling above the maximum must be refused", got)
	}
}

func TestPlayer_QuitAndPersist(t *testing.T) {
	clk := clock.NewVirtualClock(epoch)
	p, _ := New(Config{Speed: 1}, &feed{}, io.Discard, clk, nil)
	if quit, _ := p.Control(context.Background(), Control{Cmd: CmdQuit}); !quit {
		t.Error("quit ignored")
	}
	p, _ = New(Config{Speed: 1, Persist: true}, &feed{}, io.Discard, clk, nil)
	if quit, _ := p.Control(context.Background(), Control{Cmd: CmdQuit}); quit {
		t.Error("quit honoured in persist mode")
	}
}

func TestPlayer_Follow(t *testing.T) {
	clk := clock.NewVirtualClock(epoch)
	var out syncBuffer
	f := &feed{ps: []packet.Packet{outAt(1, 0, "first ")}}
	p, _ := New(Config{Speed: 1, Follow: true, PollInterval: time.Second}, f, &out, clk, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	waitFor(t, func() bool { return out.String() == "first " })
	if !clk.BlockUntil(1, 2*time.Second) {
		t.Fatal("follow mode is not polling")
	}
	f.add(outAt(2, 0.5, "second"))
	clk.Advance(time.Second)
	waitFor(t, func() bool { return out.String() == "first second" })

	select {
	case err := <-done:
		t.Fatalf("Run() returned %v while following", err)
	default:
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
}

func TestPlayer_MissingEntryIsFatal(t *testing.T) {
	clk := clock.NewVirtualClock(epoch)
	ps := []packet.Packet{outAt(1, 0, "a"), outAt(3, 0, "c")}
	src := reader.Validate(&feed{ps: ps}, reader.ValidateOptions{})
	p, _ := New(Config{Speed: 1}, src, io.Discard, clk, nil)

	err := p.Run(context.Background())
	if !errors.Is(err, reader.ErrMissingEntry) {
		t.Fatalf("Run() error = %v, want missing entry", err)
	}
	if !strings.Contains(err.Error(), "missing entry") {
		t.Errorf("error %q does not name the missing entry", err)
	}
}

func TestPlayer_LaxSkipsOverGap(t *testing.T) {
	clk := clock.NewVirtualClock(epoch)
	ps := []packet.Packet{outAt(1, 0, "a"), outAt(3, 0, "c")}
	var warnings []error
	src := reader.Validate(&feed{ps: ps}, reader.ValidateOptions{Lax: true, Warn: func(err error) { warnings = append(warnings, err) }})
	var out syncBuffer
	p, _ := New(Config{Speed: 1}, src, &out, clk, nil)

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out.String() != "ac" || len(warnings) != 1 {
		t.Errorf("output = %q, warnings = %v", out.String(), warnings)
	}
}

func TestConfig_Validate(t *testing.T) {
	if err := (Config{Speed: 0}).Validate(); err == nil {
		t.Error("zero speed accepted")
	}
	if err := (Config{Speed: 1, SeekWindow: -time.Second}).Validate(); err == nil {
		t.Error("negative seek window accepted")
	}
	if err := (Config{Speed: 0.5}).Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached")
		}
		time.Sleep(time.Millisecond)
	}
}
