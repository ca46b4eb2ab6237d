package local

import "sync"

// Session is process-lifetime state that must not outlive the process,
// such as the organization the user is currently working in.
type Session struct {
	mu        sync.RWMutex
	activeOrg string
	values    map[string]string
}

// NewSession creates an empty session store.
func NewSession() *Session {
	return &Session{values: make(map[string]string)}
}

func (s *Session) ActiveOrg() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeOrg
}

func (s *Session) SetActiveOrg(orgID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeOrg = orgID
}

// Get returns a session value.
func (s *Session) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// Set stores a session value.
func (s *Session) Set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
}
