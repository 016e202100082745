package memory

import (
	"context"
	"sync"

	"github.com/aretw0/contextkit/pkg/domain"
)

// RecordStore implements ports.RecordStore in memory. Insertion order per
// session is preserved for audit export.
type RecordStore struct {
	mu      sync.RWMutex
	records map[string]*domain.InvocationRecord
	order   map[string][]string
}

// NewRecordStore creates a new in-memory record store.
func NewRecordStore() *RecordStore {
	return &RecordStore{
		records: make(map[string]*domain.InvocationRecord),
		order:   make(map[string][]string),
	}
}

// Save writes or replaces the record keyed by its invocation id.
func (s *RecordStore) Save(ctx context.Context, rec *domain.InvocationRecord) error {
	copied := copyRecord(rec)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[rec.ID]; !exists {
		s.order[rec.SessionID] = append(s.order[rec.SessionID], rec.ID)
	}
	s.records[rec.ID] = copied
	return nil
}

// Get retrieves a record by invocation id.
func (s *RecordStore) Get(ctx context.Context, invocationID string) (*domain.InvocationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[invocationID]
	if !ok {
		return nil, domain.ErrInvocationNotFound
	}
	return copyRecord(rec), nil
}

// ListBySession returns the session's records in insertion order.
func (s *RecordStore) ListBySession(ctx context.Context, sessionID string) ([]*domain.InvocationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.order[sessionID]
	out := make([]*domain.InvocationRecord, 0, len(ids))
	for _, id := range ids {
		if rec, ok := s.records[id]; ok {
			out = append(out, copyRecord(rec))
		}
	}
	return out, nil
}

// PurgeSession removes all records for a session.
func (s *RecordStore) PurgeSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.order[sessionID] {
		delete(s.records, id)
	}
	delete(s.order, sessionID)
	return nil
}

func copyRecord(rec *domain.InvocationRecord) *domain.InvocationRecord {
	copied := *rec
	copied.Parameters = copyMap(rec.Parameters)
	if rec.FinishedAt != nil {
		fin := *rec.FinishedAt
		copied.FinishedAt = &fin
	}
	return &copied
}
