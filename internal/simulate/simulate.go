// Package simulate replays a recording's byte stream through the rate
// limiter under a virtual clock, answering what a limit setting would have
// done to that session without waiting for it in real time.
package simulate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/SmitUplenchwar2687/tlog/internal/clock"
	"github.com/SmitUplenchwar2687/tlog/internal/limiter"
	"github.com/SmitUplenchwar2687/tlog/internal/reader"
)

// Config parameterizes a simulation.
type Config struct {
	Limit limiter.Config
	// Trace keeps one Event per packet in the result.
	Trace bool
}

// Result summarizes a simulation run.
type Result struct {
	Rate     int    `json:"rate"`
	Burst    int    `json:"burst"`
	Action   string `json:"action"`
	Duration string `json:"duration"`

	Packets        int `json:"packets"`
	Bytes          int `json:"bytes"`
	PassedBytes    int `json:"passed_bytes"`
	DroppedPackets int `json:"dropped_packets"`
	DroppedBytes   int `json:"dropped_bytes"`
	DelayedPackets int `json:"delayed_packets"`
	// Exceeded counts packets that did not fit the bucket, whatever the
	// action made of them.
	Exceeded int `json:"exceeded"`
	// TotalDelay is the time the logging path spent suspended; MaxLag is
	// the furthest it fell behind the terminal.
	TotalDelay time.Duration `json:"total_delay"`
	MaxLag     time.Duration `json:"max_lag"`

	Events []Event `json:"events,omitempty"`
}

// Event is the fate of one packet.
type Event struct {
	Offset  time.Duration `json:"offset"`
	Channel string        `json:"channel"`
	Bytes   int           `json:"bytes"`
	Outcome string        `json:"outcome"`
	// Lag is how far behind its capture time the packet was logged.
	Lag time.Duration `json:"lag,omitempty"`
}

// Run feeds every I/O packet of r through a fresh token bucket. The virtual
// clock follows the recorded timestamps; a delayed packet holds back all
// packets behind it, as the logging path of a live capture would.
func Run(ctx context.Context, r reader.Reader, cfg Config) (Result, error) {
	start := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	vc := clock.NewVirtualClock(start)
	tb, err := limiter.NewTokenBucket(cfg.Limit, vc)
	if err != nil {
		return Result{}, err
	}
	burst := cfg.Limit.Burst
	if burst == 0 {
		burst = cfg.Limit.Rate
	}
	res := Result{Rate: cfg.Limit.Rate, Burst: burst, Action: string(tb.Action())}

	var last time.Duration
	for {
		p, err := r.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return res, fmt.Errorf("reading recording: %w", err)
		}
		last = p.Timestamp
		if !p.IsIO() {
			continue
		}
		if at := start.Add(p.Timestamp); vc.Now().Before(at) {
			vc.Set(at)
		}
		res.Packets++
		res.Bytes += p.Len()

		outcome, waited, exceeded := admit(tb, vc, p.Len())
		if exceeded {
			res.Exceeded++
		}
		switch outcome {
		case limiter.Drop:
			res.DroppedPackets++
			res.DroppedBytes += p.Len()
		default:
			res.PassedBytes += p.Len()
		}
		if waited > 0 {
			res.DelayedPackets++
			res.TotalDelay += waited
		}
		lag := vc.Since(start.Add(p.Timestamp))
		if lag > res.MaxLag {
			res.MaxLag = lag
		}
		if cfg.Trace {
			res.Events = append(res.Events, Event{
				Offset:  p.Timestamp,
				Channel: p.Channel.String(),
				Bytes:   p.Len(),
				Outcome: outcome.String(),
				Lag:     lag,
			})
		}
	}
	res.Duration = last.String()
	return res, nil
}

// admit is limiter.Wait for a clock nobody else advances: each Delay moves
// the virtual clock forward by the requested amount.
func admit(l limiter.Limiter, vc *clock.VirtualClock, n int) (outcome limiter.Kind, waited time.Duration, exceeded bool) {
	for {
		d := l.Consume(n)
		exceeded = exceeded || d.Exceeded
		if d.Kind != limiter.Delay {
			if waited > 0 && d.Kind == limiter.Pass {
				return limiter.Delay, waited, exceeded
			}
			return d.Kind, waited, exceeded
		}
		vc.Advance(d.Delay)
		waited += d.Delay
	}
}

// Summary renders r for a terminal.
func Summary(w io.Writer, r Result) {
	fmt.Fprintln(w, "=== tlog limit simulation ===")
	fmt.Fprintf(w, "limit: rate=%d B/s burst=%d B action=%s\n", r.Rate, r.Burst, r.Action)
	fmt.Fprintf(w, "recording: %d packets, %d bytes over %s\n", r.Packets, r.Bytes, r.Duration)
	fmt.Fprintln(w)

	for i, ev := range r.Events {
		fmt.Fprintf(w, "  #%04d %12s %-6s %6dB %-5s", i+1, ev.Offset, ev.Channel, ev.Bytes, ev.Outcome)
		if ev.Lag > 0 {
			fmt.Fprintf(w, " lag=%s", ev.Lag)
		}
		fmt.Fprintln(w)
	}
	if len(r.Events) > 0 {
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w, "--- Summary ---")
	fmt.Fprintf(w, "  logged:   %d bytes\n", r.PassedBytes)
	fmt.Fprintf(w, "  dropped:  %d packets, %d bytes\n", r.DroppedPackets, r.DroppedBytes)
	fmt.Fprintf(w, "  delayed:  %d packets, %s total, max lag %s\n", r.DelayedPackets, r.TotalDelay, r.MaxLag)
	fmt.Fprintf(w, "  exceeded: %d packets\n", r.Exceeded)
}
