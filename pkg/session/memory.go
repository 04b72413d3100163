package session

import (
	"context"
	"sync"

	"github.com/abdhe/inferoxy-hub/pkg/provider"
)

// MemoryStore is an in-process Store for single-instance runs and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string][]provider.Message
}

// NewMemoryStore creates an empty in-memory history store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string][]provider.Message)}
}

// Append adds messages to the end of a session's history.
func (s *MemoryStore) Append(_ context.Context, sessionID string, msgs ...provider.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sessionID] = append(s.sessions[sessionID], msgs...)
	return nil
}

// History returns a copy of a session's messages in order.
func (s *MemoryStore) History(_ context.Context, sessionID string) ([]provider.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.sessions[sessionID]
	out := make([]provider.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

// Clear removes a session's history.
func (s *MemoryStore) Clear(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}
