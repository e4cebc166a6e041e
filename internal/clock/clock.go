// Package clock abstracts time for the capture and playback pipelines.
//
// Every time-dependent component (rate limiter, packetizer latency, playback
// scheduler) reads time through Clock instead of the time package, so tests
// can drive them with a VirtualClock and never sleep.
package clock

import (
	"context"
	"time"
)

// Clock is the time source packets are stamped, throttled and replayed
// against.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
	After(d time.Duration) <-chan time.Time
}

var (
	_ Clock = (*RealClock)(nil)
	_ Clock = (*VirtualClock)(nil)
)

// RealClock reads the wall clock. Readings keep their monotonic component,
// so packet timestamps of a long recording survive an NTP step.
type RealClock struct{}

func NewRealClock() *RealClock { return &RealClock{} }

func (*RealClock) Now() time.Time                         { return time.Now() }
func (*RealClock) Since(t time.Time) time.Duration        { return time.Since(t) }
func (*RealClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Sleep blocks for d on c, returning early with ctx.Err() if ctx is done.
// A playback delay interrupted by a key press stops its real timer.
func Sleep(ctx context.Context, c Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	var fired <-chan time.Time
	if _, ok := c.(*RealClock); ok {
		t := time.NewTimer(d)
		defer t.Stop()
		fired = t.C
	} else {
		fired = c.After(d)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-fired:
		return nil
	}
}
