package ports

import (
	"context"

	"github.com/aretw0/contextkit/pkg/domain"
)

// StreamHandler receives the ordered events of one assistant stream. Every
// field is optional. The transport guarantees at most one terminal callback
// (OnComplete or OnError) and none after cancellation; a token already being
// dispatched when cancel is called may still arrive.
type StreamHandler struct {
	OnToken    func(token string, index int)
	OnComplete func(fullContent string, totalTokens int, durationMs float64)
	OnError    func(err error)
}

// CancelFunc aborts an in-flight stream. Safe to call more than once.
type CancelFunc func()

// Transport is the boundary to the remote tool/completion sidecar. It owns
// timeouts, retries and schema validation of every payload crossing it.
type Transport interface {
	// Health reports sidecar liveness.
	Health(ctx context.Context) (*domain.HealthResponse, error)

	// GenerateEntity performs a synchronous generation call.
	GenerateEntity(ctx context.Context, req domain.GenerateEntityRequest) (*domain.GenerateEntityResponse, error)

	// ExecuteTool performs one atomic tool invocation.
	ExecuteTool(ctx context.Context, req domain.ToolExecutionRequest) (*domain.ToolExecutionResponse, error)

	// RAGQuery performs a retrieval-augmented query.
	RAGQuery(ctx context.Context, req domain.RAGQueryRequest) (*domain.RAGQueryResponse, error)

	// StreamAssist opens a long-lived SSE stream. The returned CancelFunc
	// aborts the underlying request; no terminal callback fires after it.
	StreamAssist(ctx context.Context, req domain.AssistStreamRequest, handler StreamHandler) (CancelFunc, error)
}
