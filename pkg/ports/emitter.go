package ports

import "github.com/aretw0/contextkit/pkg/domain"

// EventEmitter publishes orchestration progress toward the UI layer.
// Implementations are fire-and-forget: a slow or blocked subscriber must
// never stall orchestration.
type EventEmitter interface {
	// InvocationChanged reports a status transition on an invocation record.
	InvocationChanged(rec *domain.InvocationRecord)

	// StreamProgress reports an incremental partial view of a stream.
	StreamProgress(streamID string, partial string, tokens int)
}

// NopEmitter discards all events.
type NopEmitter struct{}

func (NopEmitter) InvocationChanged(*domain.InvocationRecord) {}
func (NopEmitter) StreamProgress(string, string, int)         {}
