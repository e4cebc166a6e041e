// Package capture turns a live terminal session into a recording.
//
// The terminal relay hands every observation to an Engine without blocking.
// A single logging goroutine owned by the Engine runs the observations
// through the packetizer, the rate limiter and the writer. Throttling and
// slow sinks only ever stall that goroutine, never the relay.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/SmitUplenchwar2687/tlog/internal/clock"
	"github.com/SmitUplenchwar2687/tlog/internal/limiter"
	"github.com/SmitUplenchwar2687/tlog/internal/metrics"
	"github.com/SmitUplenchwar2687/tlog/internal/packet"
	"github.com/SmitUplenchwar2687/tlog/internal/packetizer"
	"github.com/SmitUplenchwar2687/tlog/internal/writer"
)

// State is the lifecycle state of an Engine.
type State int32

const (
	StateIdle State = iota
	StateRecording
	StateSuspended // the logging path waits on the rate limiter
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateSuspended:
		return "suspended"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ErrStarted is returned by Start on an engine that already ran.
var ErrStarted = errors.New("capture engine already started")

// Config selects what gets recorded and how it is batched.
type Config struct {
	Packetizer packetizer.Config
	LogInput   bool
	LogOutput  bool
	LogWindow  bool
	// LimitAction decides whether a failed write ends logging. With pass a
	// write error is fatal to the recording; with drop or delay the entry is
	// lost and logging continues.
	LimitAction limiter.Action
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if err := c.Packetizer.Validate(); err != nil {
		return err
	}
	if _, err := limiter.ParseAction(string(c.LimitAction)); err != nil {
		return err
	}
	return nil
}

// Stats summarizes what the logging path did with the captured data.
type Stats struct {
	Packets        int           `json:"packets"`
	Bytes          int           `json:"bytes"`
	DroppedPackets int           `json:"dropped_packets"`
	DroppedBytes   int           `json:"dropped_bytes"`
	FailedPackets  int           `json:"failed_packets"`
	Exceeded       int           `json:"exceeded"`
	Delayed        time.Duration `json:"delayed"`
}

// Engine records one terminal session into one writer.
type Engine struct {
	cfg     Config
	w       writer.Writer
	lim     limiter.Limiter
	clk     clock.Clock
	metrics *metrics.Capture

	q     *queue
	state atomic.Int32
	done  chan struct{}

	// owned by the logging goroutine
	pz   *packetizer.Packetizer
	dead bool // a fatal write error stopped logging

	mu    sync.Mutex
	stats Stats
	err   error
}

// NewEngine creates an idle engine. m may be nil.
func NewEngine(cfg Config, w writer.Writer, lim limiter.Limiter, clk clock.Clock, m *metrics.Capture) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if w == nil || lim == nil || clk == nil {
		return nil, errors.New("capture engine needs a writer, a limiter and a clock")
	}
	return &Engine{
		cfg:     cfg,
		w:       w,
		lim:     lim,
		clk:     clk,
		metrics: m,
		q:       newQueue(),
		done:    make(chan struct{}),
	}, nil
}

// Start begins the recording at the current clock time. ctx bounds the
// logging path; cancelling it abandons whatever was not written yet.
func (e *Engine) Start(ctx context.Context) error {
	if !e.state.CompareAndSwap(int32(StateIdle), int32(StateRecording)) {
		return ErrStarted
	}
	pz, err := packetizer.New(e.cfg.Packetizer, e.clk.Now())
	if err != nil {
		e.setState(StateTerminated)
		close(e.done)
		return err
	}
	e.pz = pz
	e.metrics.State(int(StateRecording))
	go e.run(ctx)
	return nil
}

// Stop seals the recording. Everything captured so far is logged before
// Stop returns, which under the delay action may take a while. The error is
// the one that ended logging, if any.
func (e *Engine) Stop() error {
	if e.state.CompareAndSwap(int32(StateIdle), int32(StateTerminated)) {
		e.q.close()
		close(e.done)
		return nil
	}
	e.q.close()
	<-e.done

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// Done is closed once the engine has terminated.
func (e *Engine) Done() <-chan struct{} { return e.done }

// State returns the current state.
func (e *Engine) State() State { return State(e.state.Load()) }

// Stats returns a snapshot of the logging counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// Input records bytes typed by the user. It never blocks.
func (e *Engine) Input(data []byte) {
	if e.cfg.LogInput {
		e.enqueue(event{ch: packet.ChannelInput, data: data})
	}
}

// Output records bytes shown to the user. It never blocks.
func (e *Engine) Output(data []byte) {
	if e.cfg.LogOutput {
		e.enqueue(event{ch: packet.ChannelOutput, data: data})
	}
}

// Resize records a terminal geometry change. It never blocks.
func (e *Engine) Resize(w packet.Window) {
	if e.cfg.LogWindow && !w.IsZero() {
		e.enqueue(event{ch: packet.ChannelWindow, window: w})
	}
}

func (e *Engine) enqueue(ev event) {
	if len(ev.data) > 0 {
		// The relay reuses its read buffer.
		ev.data = append([]byte(nil), ev.data...)
	} else if ev.ch != packet.ChannelWindow {
		return
	}
	ev.at = e.clk.Now()
	if e.q.push(ev) {
		e.metrics.QueueLength(e.q.len())
	}
}

func (e *Engine) run(ctx context.Context) {
	defer close(e.done)
	defer e.setState(StateTerminated)

	var (
		timer   <-chan time.Time
		timerAt time.Time
	)
	for {
		evs, closed := e.q.take()
		for _, ev := range evs {
			e.handle(ctx, ev)
		}
		e.metrics.QueueLength(e.q.len())

		if err := ctx.Err(); err != nil {
			e.fail(err)
			return
		}
		if len(evs) == 0 && closed {
			e.emit(ctx, e.pz.Flush())
			return
		}
		if len(evs) > 0 {
			continue
		}

		now := e.clk.Now()
		e.emit(ctx, e.pz.Due(now))
		if deadline, ok := e.pz.Deadline(); ok {
			// Reuse the timer while the deadline holds, so a burst of
			// events does not pile up clock waiters.
			if timer == nil || !deadline.Equal(timerAt) {
				timer = e.clk.After(deadline.Sub(now))
				timerAt = deadline
			}
		} else {
			timer = nil
		}

		select {
		case <-e.q.notify:
		case <-timer:
			timer = nil
		case <-ctx.Done():
		}
	}
}

func (e *Engine) handle(ctx context.Context, ev event) {
	if ev.ch == packet.ChannelWindow {
		e.emit(ctx, e.pz.Window(ev.window, ev.at))
		return
	}
	e.emit(ctx, e.pz.Write(ev.ch, ev.data, ev.at))
}

func (e *Engine) emit(ctx context.Context, pkts []packet.Packet) {
	for _, p := range pkts {
		if e.dead {
			e.count(p, metrics.OutcomeDropped)
			continue
		}
		if p.IsIO() && !e.admit(ctx, p) {
			continue
		}
		e.write(ctx, p)
	}
}

// admit runs p through the rate limiter, suspending the logging path for as
// long as the limiter asks. It reports whether p should be written.
func (e *Engine) admit(ctx context.Context, p packet.Packet) bool {
	exceeded := false
	for {
		d := e.lim.Consume(p.Len())
		if d.Exceeded && !exceeded {
			exceeded = true
			e.mu.Lock()
			e.stats.Exceeded++
			e.mu.Unlock()
		}
		switch d.Kind {
		case limiter.Pass:
			return true
		case limiter.Drop:
			e.count(p, metrics.OutcomeDropped)
			return false
		}

		e.setState(StateSuspended)
		start := e.clk.Now()
		err := clock.Sleep(ctx, e.clk, d.Delay)
		waited := e.clk.Since(start)
		e.setState(StateRecording)

		e.metrics.Delayed(waited)
		e.mu.Lock()
		e.stats.Delayed += waited
		e.mu.Unlock()
		if err != nil {
			e.count(p, metrics.OutcomeDropped)
			return false
		}
	}
}

func (e *Engine) write(ctx context.Context, p packet.Packet) {
	start := e.clk.Now()
	err := e.w.Write(ctx, p)
	e.metrics.WriteLatency(e.clk.Since(start))
	if err == nil {
		e.count(p, metrics.OutcomeWritten)
		return
	}

	e.count(p, metrics.OutcomeFailed)
	if e.cfg.LimitAction == limiter.ActionPass {
		log.Printf("[capture] write failed, recording stopped: %v", err)
		e.fail(err)
		e.dead = true
		return
	}
	log.Printf("[capture] write failed, entry lost: %v", err)
}

func (e *Engine) count(p packet.Packet, outcome string) {
	e.metrics.Packet(p.Channel.String(), outcome, p.Len())

	e.mu.Lock()
	defer e.mu.Unlock()
	switch outcome {
	case metrics.OutcomeWritten:
		e.stats.Packets++
		e.stats.Bytes += p.Len()
	case metrics.OutcomeDropped:
		e.stats.DroppedPackets++
		e.stats.DroppedBytes += p.Len()
	case metrics.OutcomeFailed:
		e.stats.FailedPackets++
	}
}

func (e *Engine) fail(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err == nil {
		e.err = err
	}
}

func (e *Engine) setState(s State) {
	e.state.Store(int32(s))
	e.metrics.State(int(s))
}
