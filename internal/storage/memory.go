package storage

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/SmitUplenchwar2687/tlog/internal/clock"
)

// MemoryStore is an in-memory structured log. Entries are kept ordered by
// their storage time, the way a journal orders by realtime timestamp, so
// entries stamped with skewed clocks land out of producer order.
// It uses a Clock for timestamps, enabling virtual-time testing.
// Thread-safe for concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
	seq     uint64
	clock   clock.Clock
	closed  bool
}

// NewMemoryStore creates an empty store using the given clock.
func NewMemoryStore(c clock.Clock) *MemoryStore {
	return &MemoryStore{clock: c}
}

func (s *MemoryStore) Append(ctx context.Context, fields map[string]string) (string, error) {
	return s.AppendAt(ctx, s.clock.Now(), fields)
}

// AppendAt stores an entry stamped with ts instead of the clock's time, as a
// forwarded entry from a host with a skewed clock would be.
func (s *MemoryStore) AppendAt(_ context.Context, ts time.Time, fields map[string]string) (string, error) {
	if err := validateFields(fields); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", ErrClosed
	}
	s.seq++
	e := Entry{
		Cursor: strconv.FormatUint(s.seq, 10),
		Time:   ts,
		Fields: copyFields(fields),
	}
	i := sort.Search(len(s.entries), func(i int) bool {
		return s.entries[i].Time.After(ts)
	})
	s.entries = append(s.entries, Entry{})
	copy(s.entries[i+1:], s.entries[i:])
	s.entries[i] = e
	return e.Cursor, nil
}

func (s *MemoryStore) Query(_ context.Context, q Query) ([]Entry, error) {
	if err := validateQuery(q); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	entries := s.entries
	if q.After != "" {
		i := s.indexOf(q.After)
		if i < 0 {
			return nil, fmt.Errorf("%w %q", ErrUnknownCursor, q.After)
		}
		entries = entries[i+1:]
	}

	var out []Entry
	visit := func(e Entry) bool {
		if !q.matches(e) {
			return true
		}
		out = append(out, Entry{Cursor: e.Cursor, Time: e.Time, Fields: copyFields(e.Fields)})
		return q.Limit == 0 || len(out) < q.Limit
	}
	if q.Reverse {
		for i := len(entries) - 1; i >= 0; i-- {
			if !visit(entries[i]) {
				break
			}
		}
	} else {
		for _, e := range entries {
			if !visit(e) {
				break
			}
		}
	}
	return out, nil
}

// indexOf returns the position of the entry at cursor, or -1. Must be
// called with s.mu held.
func (s *MemoryStore) indexOf(cursor string) int {
	for i, e := range s.entries {
		if e.Cursor == cursor {
			return i
		}
	}
	return -1
}

// Len returns the number of stored entries.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
