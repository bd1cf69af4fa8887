package session

import (
	"fmt"
	"slices"
	"sync"

	"github.com/aretw0/tether/pkg/domain"
)

// Registry is the process-wide index of live sessions keyed by ID. Sessions
// register themselves on creation and unregister once CLOSED.
//
// It is the one structure besides the scheduler queue that other goroutines
// may read, so it carries its own lock. Session state itself must still only
// be touched from the loop.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

func (r *Registry) add(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[s.id]; exists {
		return fmt.Errorf("session %s already registered", s.id)
	}
	r.sessions[s.id] = s
	return nil
}

func (r *Registry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// Get returns the session with the given ID.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, domain.ErrSessionNotFound)
	}
	return s, nil
}

// List returns the registered session IDs in lexical order.
func (r *Registry) List() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	slices.Sort(ids)
	return ids
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Range calls fn for every registered session in ID order until fn returns false.
func (r *Registry) Range(fn func(*Session) bool) {
	for _, id := range r.List() {
		s, err := r.Get(id)
		if err != nil {
			continue
		}
		if !fn(s) {
			return
		}
	}
}
