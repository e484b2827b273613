package gateway

import (
	"strings"
	"sync"
)

// sessionKeys remembers which access key each chat session has bound. Bindings live in memory
// only, so users re-enter their key after a restart.
type sessionKeys struct {
	mu   sync.RWMutex
	keys map[string]string
}

func newSessionKeys() *sessionKeys {
	return &sessionKeys{keys: make(map[string]string)}
}

func (s *sessionKeys) Key(sessionKey string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key, ok := s.keys[sessionKey]
	return key, ok
}

func (s *sessionKeys) Bind(sessionKey string, key string) {
	sessionKey = strings.TrimSpace(sessionKey)
	key = strings.TrimSpace(key)
	if sessionKey == "" || key == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[sessionKey] = key
}

func (s *sessionKeys) Forget(sessionKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, sessionKey)
}

func (s *sessionKeys) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys)
}
