package vfs

import "sync"

// SessionRegistry maps an enumerator session's object-path to the
// Session instance producing it, so a later pull request addressed to
// that object-path can find the right producer.
type SessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewSessionRegistry returns an empty SessionRegistry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]*Session)}
}

// Register makes s findable by its ObjectPath.
func (r *SessionRegistry) Register(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ObjectPath] = s
}

// Lookup returns the session registered under path, if any.
func (r *SessionRegistry) Lookup(path string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[path]
	return s, ok
}

// Remove drops path's entry, once both producer and consumer have
// released the session.
func (r *SessionRegistry) Remove(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, path)
}
