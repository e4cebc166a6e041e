package limiter

import (
	"testing"
	"time"

	"github.com/SmitUplenchwar2687/tlog/pkg/clock"
)

func TestTokenBucketPublicAPI(t *testing.T) {
	vc := clock.NewVirtualClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	tb, err := NewTokenBucket(Config{Rate: 100, Burst: 200, Action: ActionDrop}, vc)
	if err != nil {
		t.Fatalf("NewTokenBucket() error = %v", err)
	}

	if d := tb.Consume(150); d.Kind != Pass {
		t.Fatalf("first consume = %s, want pass", d)
	}
	if d := tb.Consume(100); d.Kind != Drop || !d.Exceeded {
		t.Fatalf("second consume = %+v, want an exceeded drop", d)
	}

	vc.Advance(time.Second)
	if d := tb.Consume(100); d.Kind != Pass {
		t.Fatalf("after refill = %s, want pass", d)
	}
}

func TestNewTokenBucket_InvalidConfig(t *testing.T) {
	vc := clock.NewVirtualClock(time.Now())
	if _, err := NewTokenBucket(Config{Rate: 0, Action: ActionPass}, vc); err == nil {
		t.Fatal("expected error for zero rate")
	}
}
