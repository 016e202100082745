package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aretw0/contextkit/pkg/domain"
	backend "github.com/redis/go-redis/v9"
)

// RecordStore implements ports.RecordStore using Redis. Each record is a
// JSON blob; a per-session list keeps insertion order for audit export.
type RecordStore struct {
	client *backend.Client
	prefix string
}

// NewRecordStore creates a Redis record store from an existing client.
func NewRecordStore(client *backend.Client, prefix string) *RecordStore {
	if prefix == "" {
		prefix = "contextkit:"
	}
	return &RecordStore{
		client: client,
		prefix: prefix,
	}
}

func (s *RecordStore) recordKey(invocationID string) string {
	return s.prefix + "record:" + invocationID
}

func (s *RecordStore) sessionKey(sessionID string) string {
	return s.prefix + "session-records:" + sessionID
}

// Save writes or replaces the record keyed by its invocation id.
func (s *RecordStore) Save(ctx context.Context, rec *domain.InvocationRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	// SETNX-style existence check keeps the order list free of duplicates
	// when a record is updated in place.
	existed, err := s.client.Exists(ctx, s.recordKey(rec.ID)).Result()
	if err != nil {
		return fmt.Errorf("failed to check record existence: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.recordKey(rec.ID), data, 0)
	if existed == 0 {
		pipe.RPush(ctx, s.sessionKey(rec.SessionID), rec.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save record: %w", err)
	}
	return nil
}

// Get retrieves a record by invocation id.
func (s *RecordStore) Get(ctx context.Context, invocationID string) (*domain.InvocationRecord, error) {
	val, err := s.client.Get(ctx, s.recordKey(invocationID)).Result()
	if err != nil {
		if err == backend.Nil {
			return nil, domain.ErrInvocationNotFound
		}
		return nil, fmt.Errorf("failed to get record: %w", err)
	}

	var rec domain.InvocationRecord
	if err := json.Unmarshal([]byte(val), &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return &rec, nil
}

// ListBySession returns the session's records in insertion order.
func (s *RecordStore) ListBySession(ctx context.Context, sessionID string) ([]*domain.InvocationRecord, error) {
	ids, err := s.client.LRange(ctx, s.sessionKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list session records: %w", err)
	}

	out := make([]*domain.InvocationRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := s.Get(ctx, id)
		if err != nil {
			if errors.Is(err, domain.ErrInvocationNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// PurgeSession removes all records for a session.
func (s *RecordStore) PurgeSession(ctx context.Context, sessionID string) error {
	ids, err := s.client.LRange(ctx, s.sessionKey(sessionID), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("failed to list session records: %w", err)
	}

	pipe := s.client.Pipeline()
	for _, id := range ids {
		pipe.Del(ctx, s.recordKey(id))
	}
	pipe.Del(ctx, s.sessionKey(sessionID))
	_, err = pipe.Exec(ctx)
	return err
}
