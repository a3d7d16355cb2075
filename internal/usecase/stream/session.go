package stream

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"chatstream/internal/domain"
)

// Session is one in-flight streamed answer.
type Session struct {
	ID        string
	Prompt    string
	StartedAt time.Time

	events     *Queue
	contentLen atomic.Int64

	mu        sync.Mutex
	cancel    context.CancelFunc
	stopped   bool
	cancelled bool

	done     chan struct{}
	doneOnce sync.Once
}

// NewSession returns a session with an empty event queue.
func NewSession(id, prompt string) *Session {
	return &Session{
		ID:        id,
		Prompt:    prompt,
		StartedAt: time.Now(),
		events:    NewQueue(),
		done:      make(chan struct{}),
	}
}

// Events returns the session's event queue.
func (s *Session) Events() *Queue { return s.events }

// Done is closed when the generation task has returned.
func (s *Session) Done() <-chan struct{} { return s.done }

// Status reports the session as active.
func (s *Session) Status() domain.SessionStatus {
	return domain.SessionStatus{
		Active:        true,
		MessageID:     s.ID,
		Prompt:        s.Prompt,
		StartedAt:     s.StartedAt,
		Duration:      time.Since(s.StartedAt).Seconds(),
		ContentLength: int(s.contentLen.Load()),
	}
}

// Cancelled reports whether Cancel was called.
func (s *Session) Cancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

// bind attaches the generation's cancel func. It reports false, after
// calling cancel, if the session was stopped before generation began.
func (s *Session) bind(cancel context.CancelFunc) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		cancel()
		return false
	}
	s.cancel = cancel
	return true
}

// stop cancels the generation context. When closeQueue is set the closure
// sentinel is pushed so a waiting consumer wakes up.
func (s *Session) stop(closeQueue bool) {
	s.mu.Lock()
	s.stopped = true
	s.cancelled = s.cancelled || closeQueue
	cancel := s.cancel
	s.mu.Unlock()
	if closeQueue {
		s.events.Close()
	}
	if cancel != nil {
		cancel()
	}
}

func (s *Session) finish() {
	s.doneOnce.Do(func() { close(s.done) })
}
