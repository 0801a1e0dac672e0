// Package registry indexes the server's live sessions by client identifier.
package registry

import (
	"sync"

	"github.com/omochice/tcp-simple/internal/session"
)

// Registry is a concurrency-safe map from client id to session.
// The lock only guards map access; no I/O happens while it is held.
type Registry struct {
	sessions map[string]*session.Session
	mu       sync.RWMutex
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		sessions: make(map[string]*session.Session),
	}
}

// Insert registers s under id. It returns false if id is already taken.
func (r *Registry) Insert(id string, s *session.Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[id]; exists {
		return false
	}
	r.sessions[id] = s
	return true
}

// Remove unregisters id and reports whether it was present.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[id]; !exists {
		return false
	}
	delete(r.sessions, id)
	return true
}

// Lookup returns the session registered under id.
func (r *Registry) Lookup(id string) (*session.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Snapshot returns a copy of the registered sessions in no particular order.
func (r *Registry) Snapshot() []*session.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*session.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// IDs returns the registered client ids in no particular order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		out = append(out, id)
	}
	return out
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Clear empties the registry and returns what it held.
func (r *Registry) Clear() []*session.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*session.Session, 0, len(r.sessions))
	for id, s := range r.sessions {
		out = append(out, s)
		delete(r.sessions, id)
	}
	return out
}
