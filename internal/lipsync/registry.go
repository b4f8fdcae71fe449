package lipsync

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrUnknownSession is returned for ids the registry does not hold.
var ErrUnknownSession = errors.New("unknown lip-sync session")

// Registry holds concurrently running sessions, one per avatar.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Create builds and registers a session. An empty opts.ID gets a random
// UUID.
func (r *Registry) Create(opts Options) *Session {
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	s := NewSession(opts)

	r.mu.Lock()
	r.sessions[s.ID()] = s
	r.mu.Unlock()

	return s
}

// Get returns the session with the given id.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrUnknownSession
	}
	return s, nil
}

// Remove stops and forgets a session.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if !ok {
		return ErrUnknownSession
	}
	s.PlaybackStop()
	return nil
}

// Each calls fn for every registered session.
func (r *Registry) Each(fn func(*Session)) {
	r.mu.RLock()
	list := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		list = append(list, s)
	}
	r.mu.RUnlock()

	for _, s := range list {
		fn(s)
	}
}

// Len returns the number of sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
