package clock

import (
	"time"

	internalclock "github.com/SmitUplenchwar2687/tlog/internal/clock"
)

// Clock abstracts time for the capture engine, the logging limiter and the
// player.
type Clock = internalclock.Clock

// RealClock delegates to the standard time package.
type RealClock = internalclock.RealClock

// VirtualClock is a manually advanced clock for driving playback and
// rate limiting in tests and simulations.
type VirtualClock = internalclock.VirtualClock

// NewRealClock creates a wall-clock implementation.
func NewRealClock() *RealClock {
	return internalclock.NewRealClock()
}

// NewVirtualClock creates a virtual clock starting at the given time.
func NewVirtualClock(start time.Time) *VirtualClock {
	return internalclock.NewVirtualClock(start)
}
