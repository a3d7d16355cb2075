package stream

import (
	"context"
	"errors"
	"sync"
	"time"

	"chatstream/internal/domain"
)

// ErrQueueClosed is returned by Pop once the closure sentinel is reached.
var ErrQueueClosed = errors.New("event queue closed")

// Queue is an unbounded FIFO of stream events with a closure sentinel.
// Any number of producers may Push; a single consumer Pops.
type Queue struct {
	mu     sync.Mutex
	items  []domain.StreamEvent
	closed bool
	wake   chan struct{}
}

// NewQueue returns an empty open queue.
func NewQueue() *Queue {
	return &Queue{wake: make(chan struct{}, 1)}
}

// Push appends ev. It reports false when the queue was already closed and
// the event was dropped.
func (q *Queue) Push(ev domain.StreamEvent) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, ev)
	q.mu.Unlock()
	q.signal()
	return true
}

// Close appends the closure sentinel. Events queued before it are still
// delivered. Closing twice is a no-op.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

// Closed reports whether Close has been called.
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Len returns the number of undelivered events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Pop returns the next event. It fails with ErrQueueClosed after the
// sentinel, with domain.ErrChannelTimeout when nothing arrives within
// timeout, or with the context error. A timeout of zero waits indefinitely.
func (q *Queue) Pop(ctx context.Context, timeout time.Duration) (domain.StreamEvent, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			ev := q.items[0]
			q.items[0] = domain.StreamEvent{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return ev, nil
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return domain.StreamEvent{}, ErrQueueClosed
		}

		select {
		case <-q.wake:
		case <-expired:
			return domain.StreamEvent{}, domain.ErrChannelTimeout
		case <-ctx.Done():
			return domain.StreamEvent{}, ctx.Err()
		}
	}
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
