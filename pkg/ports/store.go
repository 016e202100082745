package ports

import (
	"context"

	"github.com/aretw0/contextkit/pkg/domain"
)

// RecordStore persists invocation telemetry records. Records are append-only
// from the caller's perspective: concurrent writers touch independent records
// keyed by invocation id and never mutate another invocation's entry.
type RecordStore interface {
	// Save writes or replaces the record keyed by its invocation id.
	Save(ctx context.Context, rec *domain.InvocationRecord) error

	// Get retrieves a record by invocation id.
	// Returns domain.ErrInvocationNotFound if absent.
	Get(ctx context.Context, invocationID string) (*domain.InvocationRecord, error)

	// ListBySession returns all records for a session, in insertion order.
	ListBySession(ctx context.Context, sessionID string) ([]*domain.InvocationRecord, error)

	// PurgeSession removes all records for a session (teardown/export).
	PurgeSession(ctx context.Context, sessionID string) error
}

// SessionStore persists assistant sessions.
type SessionStore interface {
	// Save persists the session keyed by its id.
	Save(ctx context.Context, sess *domain.Session) error

	// Load retrieves a session by id.
	// Returns domain.ErrSessionNotFound if the session does not exist.
	Load(ctx context.Context, sessionID string) (*domain.Session, error)

	// Delete removes the session.
	Delete(ctx context.Context, sessionID string) error

	// List returns the ids of all stored sessions.
	List(ctx context.Context) ([]string, error)
}
