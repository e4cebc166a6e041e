package storage

import (
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/SmitUplenchwar2687/tlog/internal/clock"
)

func newTestStore() (*MemoryStore, *clock.VirtualClock) {
	vc := clock.NewVirtualClock(epoch)
	return NewMemoryStore(vc), vc
}

func TestMemoryStore_OrdersByStorageTime(t *testing.T) {
	s, vc := newTestStore()

	appendRec(t, s, "r", 1, "first")
	vc.Advance(time.Second)
	appendRec(t, s, "r", 3, "third")
	// A forwarded entry stamped by a host whose clock runs behind.
	if _, err := s.AppendAt(ctx, epoch.Add(500*time.Millisecond), map[string]string{
		FieldRec: "r", FieldID: "2", FieldMessage: "second",
	}); err != nil {
		t.Fatal(err)
	}

	got, err := s.Query(ctx, Query{Match: map[string]string{FieldRec: "r"}})
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, e := range got {
		ids = append(ids, e.Fields[FieldID])
	}
	if len(ids) != 3 || ids[0] != "1" || ids[1] != "2" || ids[2] != "3" {
		t.Errorf("order = %v, want [1 2 3] by storage time", ids)
	}
}

func TestMemoryStore_TimeBounds(t *testing.T) {
	s, vc := newTestStore()
	for i := 1; i <= 5; i++ {
		appendRec(t, s, "r", i, "m")
		vc.Advance(time.Minute)
	}

	got, err := s.Query(ctx, Query{Since: epoch.Add(time.Minute), Until: epoch.Add(3 * time.Minute)})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Errorf("bounded Query() = %d entries, want 3", len(got))
	}

	if _, err := s.Query(ctx, Query{Since: epoch.Add(time.Hour), Until: epoch}); err == nil {
		t.Error("Query() accepted until before since")
	}
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s, _ := newTestStore()
	fields := map[string]string{FieldRec: "r", FieldMessage: "orig"}
	if _, err := s.Append(ctx, fields); err != nil {
		t.Fatal(err)
	}
	fields[FieldMessage] = "mutated"

	got, _ := s.Query(ctx, Query{})
	got[0].Fields[FieldMessage] = "mutated again"

	again, _ := s.Query(ctx, Query{})
	if again[0].Fields[FieldMessage] != "orig" {
		t.Errorf("stored entry was mutated: %q", again[0].Fields[FieldMessage])
	}
}

func TestMemoryStore_Closed(t *testing.T) {
	s, _ := newTestStore()
	_ = s.Close()
	if _, err := s.Append(ctx, map[string]string{FieldRec: "r"}); !errors.Is(err, ErrClosed) {
		t.Errorf("Append() after Close error = %v, want ErrClosed", err)
	}
	if _, err := s.Query(ctx, Query{}); !errors.Is(err, ErrClosed) {
		t.Errorf("Query() after Close error = %v, want ErrClosed", err)
	}
}

func TestMemoryStore_UnknownCursor(t *testing.T) {
	s, _ := newTestStore()
	if _, err := s.Append(ctx, map[string]string{FieldRec: "r"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Query(ctx, Query{After: "99"}); !errors.Is(err, ErrUnknownCursor) {
		t.Errorf("Query(After unknown) error = %v, want ErrUnknownCursor", err)
	}
}

func TestMemoryStore_ConcurrentAppend(t *testing.T) {
	s, _ := newTestStore()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := s.Append(ctx, map[string]string{FieldRec: "r", FieldID: strconv.Itoa(i + 1)}); err != nil {
				t.Errorf("Append() error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	if s.Len() != 50 {
		t.Errorf("Len() = %d, want 50", s.Len())
	}
}
