package capture

import (
	"sync"
	"time"

	"github.com/SmitUplenchwar2687/tlog/internal/packet"
)

// event is one observation from the terminal relay.
type event struct {
	ch     packet.Channel
	data   []byte
	window packet.Window
	at     time.Time
}

// queue is an unbounded hand-off from the terminal relay to the logging
// goroutine. push never blocks.
type queue struct {
	mu     sync.Mutex
	events []event
	closed bool
	notify chan struct{} // signaled (non-blocking) when events arrive or on close
}

func newQueue() *queue {
	return &queue{notify: make(chan struct{}, 1)}
}

// push appends ev and wakes the consumer. It reports false once the queue
// is closed.
func (q *queue) push(ev event) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.events = append(q.events, ev)
	q.mu.Unlock()

	q.signal()
	return true
}

// take removes and returns everything queued, and whether the queue is
// closed.
func (q *queue) take() ([]event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	evs := q.events
	q.events = nil
	return evs, q.closed
}

// close stops accepting events. Events already queued are still taken.
func (q *queue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

func (q *queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
