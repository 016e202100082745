// Package middleware wraps RecordStore implementations with cross-cutting
// persistence behavior: credential redaction and at-rest encryption of the
// invocation audit trail.
package middleware

import "github.com/aretw0/contextkit/pkg/ports"

// Middleware allows wrapping a RecordStore to add behavior.
type Middleware func(ports.RecordStore) ports.RecordStore

// Chain applies middlewares right to left, so the first listed wraps the
// outermost layer.
func Chain(store ports.RecordStore, mws ...Middleware) ports.RecordStore {
	for i := len(mws) - 1; i >= 0; i-- {
		store = mws[i](store)
	}
	return store
}
