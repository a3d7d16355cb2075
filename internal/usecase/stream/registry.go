package stream

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"chatstream/internal/domain"
)

// Registry defaults.
const (
	DefaultProcessedSize = 1000
	DefaultProcessedTTL  = 30 * time.Minute
)

// Registry maps message ids to active sessions and remembers recently
// processed ids so a repeated request is answered only once.
type Registry struct {
	mu        sync.RWMutex
	sessions  map[string]*Session
	processed *expirable.LRU[string, time.Time]
	logger    *slog.Logger
}

// NewRegistry creates a registry remembering up to size processed ids for ttl.
func NewRegistry(size int, ttl time.Duration, logger *slog.Logger) *Registry {
	if size <= 0 {
		size = DefaultProcessedSize
	}
	if ttl <= 0 {
		ttl = DefaultProcessedTTL
	}
	return &Registry{
		sessions:  make(map[string]*Session),
		processed: expirable.NewLRU[string, time.Time](size, nil, ttl),
		logger:    logger,
	}
}

// Register adds s. It fails with domain.ErrDuplicateRequest when the id is
// active or was processed recently.
func (r *Registry) Register(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.ID]; ok {
		return domain.NewSubSystemError("stream", "Registry.Register", domain.ErrDuplicateRequest, s.ID)
	}
	if r.Seen(s.ID) {
		return domain.NewSubSystemError("stream", "Registry.Register", domain.ErrDuplicateRequest, s.ID)
	}
	r.sessions[s.ID] = s
	r.processed.Add(s.ID, s.StartedAt)
	return nil
}

// Get returns the active session for id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Lookup returns the status of id; inactive when unknown.
func (r *Registry) Lookup(id string) domain.SessionStatus {
	if s, ok := r.Get(id); ok {
		return s.Status()
	}
	return domain.SessionStatus{Active: false, MessageID: id}
}

// Cancel pushes the closure sentinel onto id's queue, cancels its generation
// and removes it. It reports whether the session was active.
func (r *Registry) Cancel(id string) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if !ok {
		return false
	}
	s.stop(true)
	r.logger.Info("stream cancelled", "message_id", id)
	return true
}

// Remove deletes id during stream teardown and stops any generation still
// running for it. Removing an unknown id is a no-op.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if ok {
		s.stop(false)
	}
}

// Forget drops id from the processed set so it may be submitted again.
func (r *Registry) Forget(id string) {
	r.processed.Remove(id)
}

// Seen reports whether id is in the processed set.
func (r *Registry) Seen(id string) bool {
	_, ok := r.processed.Peek(id)
	return ok
}

// List returns the status of every active session, oldest first.
func (r *Registry) List() []domain.SessionStatus {
	r.mu.RLock()
	out := make([]domain.SessionStatus, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.Status())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Len returns the number of active sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// ProcessedLen returns the number of remembered ids.
func (r *Registry) ProcessedLen() int {
	return r.processed.Len()
}

// ReapStale cancels sessions older than maxAge and returns their ids.
func (r *Registry) ReapStale(maxAge time.Duration) []string {
	cutoff := time.Now().Add(-maxAge)
	r.mu.RLock()
	var stale []string
	for id, s := range r.sessions {
		if s.StartedAt.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	r.mu.RUnlock()

	reaped := stale[:0]
	for _, id := range stale {
		if r.Cancel(id) {
			reaped = append(reaped, id)
		}
	}
	return reaped
}
