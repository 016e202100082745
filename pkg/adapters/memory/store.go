// Package memory provides in-memory implementations of the persistence
// ports. Suitable for tests and single-process deployments.
package memory

import (
	"context"
	"sync"

	"github.com/aretw0/contextkit/pkg/domain"
)

// SessionStore implements ports.SessionStore in memory.
// Safe for concurrent use.
type SessionStore struct {
	data map[string]*domain.Session
	mu   sync.RWMutex
}

// NewSessionStore creates a new in-memory session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		data: make(map[string]*domain.Session),
	}
}

// Save persists the session in memory.
func (s *SessionStore) Save(ctx context.Context, sess *domain.Session) error {
	copied := copySession(sess)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[sess.ID] = copied
	return nil
}

// Load retrieves the session from memory.
func (s *SessionStore) Load(ctx context.Context, sessionID string) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.data[sessionID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}

	// Copy on read so the caller can't mutate stored state by pointer.
	return copySession(sess), nil
}

// Delete removes the session.
func (s *SessionStore) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, sessionID)
	return nil
}

// List returns ids of stored sessions.
func (s *SessionStore) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.data))
	for id := range s.data {
		ids = append(ids, id)
	}
	return ids, nil
}

func copySession(sess *domain.Session) *domain.Session {
	copied := *sess
	copied.ActiveTools = append([]string(nil), sess.ActiveTools...)
	copied.Messages = make([]domain.Message, len(sess.Messages))
	for i, m := range sess.Messages {
		cm := m
		cm.Metadata = copyMap(m.Metadata)
		copied.Messages[i] = cm
	}
	copied.Profile.Tools = append([]string(nil), sess.Profile.Tools...)
	return &copied
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
