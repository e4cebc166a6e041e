// Package limiter throttles the logging path of a capture session.
//
// The limiter never blocks and never returns an error for throttling: every
// consumption attempt yields a Decision the caller acts on. Only the caller
// sleeps on Delay, and only on the logging goroutine.
package limiter

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/SmitUplenchwar2687/tlog/internal/clock"
)

// Action selects what happens to a packet that does not fit the bucket.
type Action string

const (
	ActionPass  Action = "pass"  // log anyway, the limit is advisory
	ActionDrop  Action = "drop"  // discard the packet from the recording
	ActionDelay Action = "delay" // hold the logging path until it fits
)

// ParseAction converts a configuration value to an Action.
func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case ActionPass, ActionDrop, ActionDelay:
		return a, nil
	default:
		return "", fmt.Errorf("unknown limit action %q (want pass, drop or delay)", s)
	}
}

// Kind is the outcome of a consumption attempt.
type Kind int

const (
	Pass Kind = iota
	Delay
	Drop
)

func (k Kind) String() string {
	switch k {
	case Pass:
		return "pass"
	case Delay:
		return "delay"
	case Drop:
		return "drop"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Decision captures the result of a consumption attempt.
type Decision struct {
	Kind Kind `json:"kind"`
	// Delay is how long until enough bytes accrue. Set only for Delay.
	Delay time.Duration `json:"delay,omitempty"`
	// Exceeded reports the request did not fit the bucket, whatever the
	// action made of it.
	Exceeded  bool `json:"exceeded"`
	Available int  `json:"available"` // bytes left in the bucket after this attempt
	Limit     int  `json:"limit"`     // bucket capacity
}

func (d Decision) String() string {
	if d.Kind == Delay {
		return fmt.Sprintf("delay(%s)", d.Delay)
	}
	return d.Kind.String()
}

// Limiter is the throttle applied to outbound logging.
type Limiter interface {
	// Consume asks to log n bytes.
	Consume(n int) Decision
}

// Config holds the parameters for creating a limiter.
type Config struct {
	Rate   int    `json:"rate" yaml:"rate"`     // bytes per second
	Burst  int    `json:"burst" yaml:"burst"`   // bucket capacity in bytes (0 means burst = rate)
	Action Action `json:"action" yaml:"action"` // what to do when the bucket is short
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Rate <= 0 {
		return fmt.Errorf("limit rate must be positive, got %d", c.Rate)
	}
	if c.Burst < 0 {
		return fmt.Errorf("limit burst must not be negative, got %d", c.Burst)
	}
	if _, err := ParseAction(string(c.Action)); err != nil {
		return err
	}
	return nil
}

// Wait consumes n bytes from l, sleeping on c for as long as the limiter
// answers Delay. It reports whether the bytes were admitted and how long it
// waited. A cancelled context aborts the wait.
func Wait(ctx context.Context, l Limiter, c clock.Clock, n int) (admitted bool, waited time.Duration, err error) {
	for {
		d := l.Consume(n)
		switch d.Kind {
		case Pass:
			return true, waited, nil
		case Drop:
			return false, waited, nil
		}
		start := c.Now()
		if err := clock.Sleep(ctx, c, d.Delay); err != nil {
			return false, waited + c.Since(start), err
		}
		waited += c.Since(start)
	}
}
