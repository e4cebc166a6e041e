// Package limiter exposes the byte-rate token bucket that throttles session
// logging.
package limiter

import (
	internallimiter "github.com/SmitUplenchwar2687/tlog/internal/limiter"
	"github.com/SmitUplenchwar2687/tlog/pkg/clock"
)

// Action is what happens to logging above the limit.
type Action = internallimiter.Action

const (
	ActionPass  = internallimiter.ActionPass
	ActionDrop  = internallimiter.ActionDrop
	ActionDelay = internallimiter.ActionDelay
)

// Kind is the outcome of a consumption attempt.
type Kind = internallimiter.Kind

const (
	Pass  = internallimiter.Pass
	Delay = internallimiter.Delay
	Drop  = internallimiter.Drop
)

// Limiter is the throttle applied to outbound logging.
type Limiter = internallimiter.Limiter

// Decision captures the result of a consumption attempt.
type Decision = internallimiter.Decision

// Config holds the rate, burst and action of a limiter.
type Config = internallimiter.Config

// TokenBucket is a byte-rate token bucket.
type TokenBucket = internallimiter.TokenBucket

// NewTokenBucket creates a bucket that starts full.
func NewTokenBucket(cfg Config, c clock.Clock) (*TokenBucket, error) {
	return internallimiter.NewTokenBucket(cfg, c)
}
