// Package testutils provides shared fakes for exercising the orchestration
// path without a live sidecar.
package testutils

import (
	"context"
	"sync"

	"github.com/aretw0/contextkit/pkg/domain"
	"github.com/aretw0/contextkit/pkg/ports"
)

// FakeTransport implements ports.Transport with scriptable behavior. The
// zero value succeeds on every call; override the Fn fields to script
// failures or streaming sequences. All methods record their calls.
type FakeTransport struct {
	mu sync.Mutex

	HealthFn   func(ctx context.Context) (*domain.HealthResponse, error)
	GenerateFn func(ctx context.Context, req domain.GenerateEntityRequest) (*domain.GenerateEntityResponse, error)
	ExecuteFn  func(ctx context.Context, req domain.ToolExecutionRequest) (*domain.ToolExecutionResponse, error)
	RAGFn      func(ctx context.Context, req domain.RAGQueryRequest) (*domain.RAGQueryResponse, error)
	StreamFn   func(ctx context.Context, req domain.AssistStreamRequest, handler ports.StreamHandler) (ports.CancelFunc, error)

	executed []domain.ToolExecutionRequest
	streams  []domain.AssistStreamRequest
}

// ExecutedTools returns the tool ids dispatched so far, in order.
func (f *FakeTransport) ExecutedTools() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.executed))
	for i, req := range f.executed {
		out[i] = req.ToolID
	}
	return out
}

// ExecutedRequests returns copies of the dispatched execution requests.
func (f *FakeTransport) ExecutedRequests() []domain.ToolExecutionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.ToolExecutionRequest(nil), f.executed...)
}

// StreamRequests returns the stream requests opened so far.
func (f *FakeTransport) StreamRequests() []domain.AssistStreamRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.AssistStreamRequest(nil), f.streams...)
}

func (f *FakeTransport) Health(ctx context.Context) (*domain.HealthResponse, error) {
	if f.HealthFn != nil {
		return f.HealthFn(ctx)
	}
	return &domain.HealthResponse{Status: domain.HealthHealthy}, nil
}

func (f *FakeTransport) GenerateEntity(ctx context.Context, req domain.GenerateEntityRequest) (*domain.GenerateEntityResponse, error) {
	if f.GenerateFn != nil {
		return f.GenerateFn(ctx, req)
	}
	return &domain.GenerateEntityResponse{Entity: map[string]any{"title": "generated"}}, nil
}

func (f *FakeTransport) ExecuteTool(ctx context.Context, req domain.ToolExecutionRequest) (*domain.ToolExecutionResponse, error) {
	f.mu.Lock()
	f.executed = append(f.executed, req)
	f.mu.Unlock()

	if f.ExecuteFn != nil {
		return f.ExecuteFn(ctx, req)
	}
	resp := &domain.ToolExecutionResponse{Result: map[string]any{"ok": true}}
	resp.Metadata.ToolID = req.ToolID
	resp.Metadata.DurationMs = 1
	return resp, nil
}

func (f *FakeTransport) RAGQuery(ctx context.Context, req domain.RAGQueryRequest) (*domain.RAGQueryResponse, error) {
	if f.RAGFn != nil {
		return f.RAGFn(ctx, req)
	}
	return &domain.RAGQueryResponse{Answer: "answer"}, nil
}

func (f *FakeTransport) StreamAssist(ctx context.Context, req domain.AssistStreamRequest, handler ports.StreamHandler) (ports.CancelFunc, error) {
	f.mu.Lock()
	f.streams = append(f.streams, req)
	f.mu.Unlock()

	if f.StreamFn != nil {
		return f.StreamFn(ctx, req, handler)
	}

	// Default script: three tokens then completion, delivered inline.
	tokens := []string{"Hello", ", ", "world"}
	for i, tok := range tokens {
		if handler.OnToken != nil {
			handler.OnToken(tok, i)
		}
	}
	if handler.OnComplete != nil {
		handler.OnComplete("Hello, world", len(tokens), 42)
	}
	return func() {}, nil
}
