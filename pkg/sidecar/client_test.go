package sidecar

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/contextkit/pkg/domain"
)

func validConfig() domain.ProviderConfig {
	return domain.ProviderConfig{
		Provider: domain.ProviderOllama,
		Endpoint: "http://localhost:11434",
		Model:    "llama3",
	}
}

// fastRetry keeps backoff out of test wall time.
func fastRetry(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Factor:       2.0,
		Jitter:       false,
	}
}

func TestHealthOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/health", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"healthy","version":"0.4.1","uptimeSeconds":12.5}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	got, err := c.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.HealthHealthy, got.Status)
	assert.Equal(t, "0.4.1", got.Version)
}

func TestHealthUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c := New(srv.URL, WithRetry(fastRetry(1)))
	got, err := c.Health(context.Background())
	require.Error(t, err)
	assert.Equal(t, domain.KindConnection, domain.KindOf(err))
	require.NotNil(t, got)
	assert.Equal(t, domain.HealthUnknown, got.Status)
}

func TestGenerateEntityOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ai/generate-entity", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"entity": {"title": "Login flow"},
			"metadata": {"promptTokens": 120, "completionTokens": 340, "durationMs": 900.5, "model": "llama3"}
		}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	got, err := c.GenerateEntity(context.Background(), domain.GenerateEntityRequest{
		EntityType: "feature",
		UserPrompt: "a login flow with passwordless magic links",
		Config:     validConfig(),
	})
	require.NoError(t, err)
	assert.Equal(t, "Login flow", got.Entity["title"])
	assert.Equal(t, 340, got.Metadata.CompletionTokens)
	assert.Equal(t, "llama3", got.Metadata.Model)
}

func TestGenerateEntityRejectsBadRequestBeforeNetwork(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.GenerateEntity(context.Background(), domain.GenerateEntityRequest{
		EntityType: "feature",
		UserPrompt: "too short",
		Config:     validConfig(),
	})
	require.Error(t, err)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
	assert.Equal(t, int32(0), hits.Load(), "invalid request must not reach the wire")
}

func TestExecuteToolRemoteError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"detail": "unknown pipeline id", "code": "PIPELINE_NOT_FOUND"}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.ExecuteTool(context.Background(), domain.ToolExecutionRequest{
		ToolID:     "pipeline.validate",
		Parameters: map[string]any{"pipelineId": "p-404"},
		RepoPath:   "/repo",
		Config:     validConfig(),
	})
	require.Error(t, err)
	var te *domain.Error
	require.ErrorAs(t, err, &te)
	assert.Equal(t, domain.KindRemote, te.Kind)
	assert.Equal(t, http.StatusUnprocessableEntity, te.HTTPStatus)
	assert.Equal(t, "PIPELINE_NOT_FOUND", te.Code)
	assert.Contains(t, te.Message, "unknown pipeline id")
	assert.False(t, te.Retryable())
}

func TestExecuteToolRetriesGatewayErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result": {"ok": true}, "metadata": {"durationMs": 4.2, "toolId": "context.read"}}`))
	}))
	defer srv.Close()

	c := New(srv.URL, WithRetry(fastRetry(3)))
	got, err := c.ExecuteTool(context.Background(), domain.ToolExecutionRequest{
		ToolID:     "context.read",
		Parameters: map[string]any{},
		RepoPath:   "/repo",
		Config:     validConfig(),
	})
	require.NoError(t, err)
	assert.Equal(t, int32(3), hits.Load())
	assert.Equal(t, true, got.Result["ok"])
}

func TestExecuteToolDoesNotRetryBadResponses(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result": "not-an-object"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, WithRetry(fastRetry(3)))
	_, err := c.ExecuteTool(context.Background(), domain.ToolExecutionRequest{
		ToolID:     "context.read",
		Parameters: map[string]any{},
		RepoPath:   "/repo",
		Config:     validConfig(),
	})
	require.Error(t, err)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
	assert.Equal(t, int32(1), hits.Load(), "malformed responses are not retryable")
}

func TestCallTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	c := New(srv.URL, WithTimeout(50*time.Millisecond), WithRetry(fastRetry(1)))
	_, err := c.Health(context.Background())
	require.Error(t, err)
	assert.Equal(t, domain.KindTimeout, domain.KindOf(err))
}

func TestCallerCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	c := New(srv.URL, WithRetry(fastRetry(1)))
	_, err := c.Health(ctx)
	require.Error(t, err)
	assert.Equal(t, domain.KindCanceled, domain.KindOf(err))
}

func TestRAGQueryOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ai/rag/query", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"answer": "The ingest pipeline runs nightly.",
			"sources": [{"entityId": "spec-12", "entityType": "spec", "relevanceScore": 0.91, "excerpt": "nightly ingest"}],
			"metadata": {"retrievalTimeMs": 12.0, "generationTimeMs": 440.0, "totalSources": 1}
		}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	got, err := c.RAGQuery(context.Background(), domain.RAGQueryRequest{
		Query:    "when does ingest run?",
		RepoPath: "/repo",
		Config:   validConfig(),
	})
	require.NoError(t, err)
	require.Len(t, got.Sources, 1)
	assert.Equal(t, "spec-12", got.Sources[0].EntityID)
	assert.InDelta(t, 0.91, got.Sources[0].RelevanceScore, 1e-9)
}

func TestNextDelayCapsAtMax(t *testing.T) {
	cfg := RetryConfig{Factor: 2.0, MaxDelay: 300 * time.Millisecond}
	d := 100 * time.Millisecond
	d = nextDelay(d, cfg)
	assert.Equal(t, 200*time.Millisecond, d)
	d = nextDelay(d, cfg)
	assert.Equal(t, 300*time.Millisecond, d)
	d = nextDelay(d, cfg)
	assert.Equal(t, 300*time.Millisecond, d)
}
