package middleware

import (
	"context"
	"regexp"

	"github.com/aretw0/contextkit/pkg/domain"
	"github.com/aretw0/contextkit/pkg/ports"
)

type redactMiddleware struct {
	next     ports.RecordStore
	patterns []*regexp.Regexp
}

// NewRedactionMiddleware creates a middleware that masks invocation
// parameters before they reach the store. Credential-looking keys are always
// masked via domain.RedactParams; the extra patterns match additional key
// names specific to a deployment.
func NewRedactionMiddleware(patternStrings []string) Middleware {
	patterns := make([]*regexp.Regexp, len(patternStrings))
	for i, p := range patternStrings {
		patterns[i] = regexp.MustCompile(p)
	}
	return func(next ports.RecordStore) ports.RecordStore {
		return &redactMiddleware{next: next, patterns: patterns}
	}
}

func (m *redactMiddleware) Save(ctx context.Context, rec *domain.InvocationRecord) error {
	// Deep clone so the in-memory record used by the orchestrator keeps its
	// original parameters.
	cloned := *rec
	cloned.Parameters = domain.RedactParams(rec.Parameters)
	maskMap(cloned.Parameters, m.patterns)

	return m.next.Save(ctx, &cloned)
}

func (m *redactMiddleware) Get(ctx context.Context, invocationID string) (*domain.InvocationRecord, error) {
	return m.next.Get(ctx, invocationID)
}

func (m *redactMiddleware) ListBySession(ctx context.Context, sessionID string) ([]*domain.InvocationRecord, error) {
	return m.next.ListBySession(ctx, sessionID)
}

func (m *redactMiddleware) PurgeSession(ctx context.Context, sessionID string) error {
	return m.next.PurgeSession(ctx, sessionID)
}

func maskMap(m map[string]any, patterns []*regexp.Regexp) {
	for k, v := range m {
		for _, p := range patterns {
			if p.MatchString(k) {
				m[k] = "[REDACTED]"
				break
			}
		}

		// Recurse if map
		if subMap, ok := v.(map[string]any); ok {
			maskMap(subMap, patterns)
		}
	}
}
