package limiter

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/SmitUplenchwar2687/tlog/internal/clock"
)

// epsilon absorbs float rounding so a caller that slept exactly the
// advertised Delay is admitted.
const epsilon = 1e-6

// TokenBucket implements the token bucket algorithm over bytes.
//
// Bytes accrue at rate per second up to capacity. Refill is computed lazily
// from elapsed time on each Consume; there is no background timer. A request
// larger than the whole bucket is admitted once the bucket is full and
// empties it, so oversize packets are throttled instead of starved.
//
// Uses a Clock interface so it works with VirtualClock in tests and in
// offline simulation.
type TokenBucket struct {
	clock    clock.Clock
	rate     float64 // bytes per second
	capacity float64
	action   Action

	mu       sync.Mutex
	tokens   float64
	lastFill time.Time
}

// NewTokenBucket creates a full bucket from cfg.
func NewTokenBucket(cfg Config, c clock.Clock) (*TokenBucket, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("clock is required")
	}
	burst := cfg.Burst
	if burst == 0 {
		burst = cfg.Rate
	}
	action, _ := ParseAction(string(cfg.Action))
	return &TokenBucket{
		clock:    c,
		rate:     float64(cfg.Rate),
		capacity: float64(burst),
		action:   action,
		tokens:   float64(burst),
		lastFill: c.Now(),
	}, nil
}

// Action returns the configured limit action.
func (tb *TokenBucket) Action() Action {
	return tb.action
}

// Available returns the bytes currently in the bucket.
func (tb *TokenBucket) Available() int {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refill()
	return int(tb.tokens)
}

// Consume asks to log n bytes.
func (tb *TokenBucket) Consume(n int) Decision {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()

	need := float64(n)
	if need > tb.capacity {
		need = tb.capacity
	}

	if tb.tokens+epsilon >= need {
		if float64(n) > tb.capacity {
			tb.tokens = 0
		} else {
			tb.tokens = math.Max(0, tb.tokens-float64(n))
		}
		return tb.decision(Pass, 0, false)
	}

	switch tb.action {
	case ActionDrop:
		return tb.decision(Drop, 0, true)
	case ActionDelay:
		wait := time.Duration(math.Ceil((need - tb.tokens) / tb.rate * float64(time.Second)))
		if wait <= 0 {
			wait = time.Nanosecond
		}
		return tb.decision(Delay, wait, true)
	default:
		// Advisory: log it, drain what there is.
		tb.tokens = 0
		return tb.decision(Pass, 0, true)
	}
}

// refill adds the bytes accrued since the last fill. Must be called with
// tb.mu held.
func (tb *TokenBucket) refill() {
	now := tb.clock.Now()
	elapsed := now.Sub(tb.lastFill).Seconds()
	if elapsed > 0 {
		tb.tokens += elapsed * tb.rate
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
	}
	tb.lastFill = now
}

func (tb *TokenBucket) decision(k Kind, delay time.Duration, exceeded bool) Decision {
	return Decision{
		Kind:      k,
		Delay:     delay,
		Exceeded:  exceeded,
		Available: int(tb.tokens),
		Limit:     int(tb.capacity),
	}
}
