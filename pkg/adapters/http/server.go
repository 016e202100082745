// Package http exposes the orchestrator over a REST+SSE surface mirroring
// the sidecar wire contract: JSON bodies in camelCase, streams as
// text/event-stream with a final [DONE] marker.
package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aretw0/contextkit/internal/logging"
	"github.com/aretw0/contextkit/pkg/domain"
	"github.com/aretw0/contextkit/pkg/orchestrator"
	"github.com/aretw0/contextkit/pkg/ports"
	"github.com/aretw0/contextkit/pkg/session"
)

// Server routes HTTP requests into the orchestrator and session manager.
type Server struct {
	core     *orchestrator.Orchestrator
	sessions *session.Manager
	registry *prometheus.Registry
	logger   *slog.Logger
}

// Option configures the Server.
type Option func(*Server)

// WithMetricsRegistry mounts GET /metrics backed by the given registry.
func WithMetricsRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) {
		s.registry = reg
	}
}

// WithLogger configures a request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewHandler builds the HTTP handler for the service.
func NewHandler(core *orchestrator.Orchestrator, sessions *session.Manager, opts ...Option) http.Handler {
	server := &Server{
		core:     core,
		sessions: sessions,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(server)
	}

	r := chi.NewRouter()
	r.Get("/health", server.GetHealth)

	r.Post("/sessions", server.CreateSession)
	r.Get("/sessions", server.ListSessions)
	r.Get("/sessions/{id}", server.GetSession)
	r.Delete("/sessions/{id}", server.DeleteSession)
	r.Post("/sessions/{id}/messages", server.AppendMessage)
	r.Get("/sessions/{id}/invocations", server.ListInvocations)

	r.Post("/ai/generate-entity", server.GenerateEntity)
	r.Post("/ai/tools/execute", server.ExecuteTool)
	r.Post("/ai/rag/query", server.RAGQuery)
	r.Post("/ai/assist/stream", server.StreamAssist)

	r.Get("/approvals", server.ListApprovals)
	r.Post("/approvals/{id}/approve", server.ApproveApproval)
	r.Post("/approvals/{id}/deny", server.DenyApproval)
	r.Post("/approvals/{id}/reason", server.SetApprovalReason)
	r.Post("/approvals/{id}/confirm", server.ConfirmApproval)

	r.Post("/invocations/{id}/cancel", server.CancelInvocation)

	if server.registry != nil {
		r.Get("/metrics", promhttp.HandlerFor(server.registry, promhttp.HandlerOpts{}).ServeHTTP)
	}

	return enableCORS(r)
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Custom-Header")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetHealth handles GET /health, proxying sidecar liveness.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	resp, err := s.core.Health(r.Context())
	if err != nil {
		s.logger.Warn("health probe failed", "err", err)
	}
	if resp == nil {
		resp = &domain.HealthResponse{Status: domain.HealthUnknown}
	}
	writeJSON(w, http.StatusOK, resp)
}

type createSessionRequest struct {
	UserID        string          `json:"userId"`
	Provider      domain.Provider `json:"provider"`
	SystemPrompt  string          `json:"systemPrompt,omitempty"`
	ActiveTools   []string        `json:"activeTools,omitempty"`
	ClientVersion string          `json:"clientVersion,omitempty"`
}

// CreateSession handles POST /sessions.
func (s *Server) CreateSession(w http.ResponseWriter, r *http.Request) {
	var body createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, domain.NewValidationError("invalid request body", err))
		return
	}

	sess, err := s.sessions.Create(r.Context(), session.CreateRequest{
		UserID:        body.UserID,
		Provider:      body.Provider,
		SystemPrompt:  body.SystemPrompt,
		ActiveTools:   body.ActiveTools,
		ClientVersion: body.ClientVersion,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

// ListSessions handles GET /sessions.
func (s *Server) ListSessions(w http.ResponseWriter, r *http.Request) {
	ids, err := s.sessions.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": ids})
}

// GetSession handles GET /sessions/{id}.
func (s *Server) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// DeleteSession handles DELETE /sessions/{id}.
func (s *Server) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type appendMessageRequest struct {
	Role    domain.MessageRole `json:"role"`
	Content string             `json:"content"`
}

// AppendMessage handles POST /sessions/{id}/messages.
func (s *Server) AppendMessage(w http.ResponseWriter, r *http.Request) {
	var body appendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, domain.NewValidationError("invalid request body", err))
		return
	}
	if body.Content == "" {
		writeError(w, domain.NewValidationError("message content is required", nil))
		return
	}
	content, err := domain.SanitizeInput(body.Content)
	if err != nil {
		writeError(w, domain.NewValidationError("invalid message content", err))
		return
	}

	sess, err := s.sessions.AppendMessage(r.Context(), chi.URLParam(r, "id"), domain.Message{
		Role:    body.Role,
		Content: content,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// ListInvocations handles GET /sessions/{id}/invocations, exporting the
// audit trail for the session.
func (s *Server) ListInvocations(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	if _, err := s.sessions.Get(r.Context(), sessionID); err != nil {
		writeError(w, err)
		return
	}
	recs, err := s.core.Recorder().Export(r.Context(), sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"invocations": recs})
}

type generateEntityRequest struct {
	SessionID       string `json:"sessionId"`
	EntityType      string `json:"entityType"`
	UserPrompt      string `json:"userPrompt"`
	LinkedFeatureID string `json:"linkedFeatureId,omitempty"`
}

// GenerateEntity handles POST /ai/generate-entity.
func (s *Server) GenerateEntity(w http.ResponseWriter, r *http.Request) {
	var body generateEntityRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, domain.NewValidationError("invalid request body", err))
		return
	}

	resp, err := s.core.GenerateEntity(r.Context(), body.SessionID, domain.GenerateEntityRequest{
		EntityType:      body.EntityType,
		UserPrompt:      body.UserPrompt,
		LinkedFeatureID: body.LinkedFeatureID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type executeToolRequest struct {
	SessionID    string         `json:"sessionId"`
	ToolID       string         `json:"toolId"`
	Parameters   map[string]any `json:"parameters,omitempty"`
	InvocationID string         `json:"invocationId,omitempty"`
}

type executeToolResponse struct {
	InvocationID string         `json:"invocationId"`
	Result       map[string]any `json:"result,omitempty"`
}

type approvalRequiredResponse struct {
	Error        string `json:"error"`
	InvocationID string `json:"invocationId"`
	ApprovalID   string `json:"approvalId"`
}

// ExecuteTool handles POST /ai/tools/execute. A gated invocation answers 409
// with the approval id; the client resolves the approval and retries with the
// same invocationId.
func (s *Server) ExecuteTool(w http.ResponseWriter, r *http.Request) {
	var body executeToolRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, domain.NewValidationError("invalid request body", err))
		return
	}
	if body.ToolID == "" {
		writeError(w, domain.NewValidationError("toolId is required", nil))
		return
	}

	var opts []orchestrator.CallOption
	if body.InvocationID != "" {
		opts = append(opts, orchestrator.WithInvocationID(body.InvocationID))
	}

	res, err := s.core.ExecuteTool(r.Context(), body.SessionID, body.ToolID, body.Parameters, opts...)
	if err != nil {
		if domain.IsKind(err, domain.KindApprovalRequired) && res != nil && res.ApprovalID != "" {
			writeJSON(w, http.StatusConflict, approvalRequiredResponse{
				Error:        err.Error(),
				InvocationID: res.InvocationID,
				ApprovalID:   res.ApprovalID,
			})
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, executeToolResponse{
		InvocationID: res.InvocationID,
		Result:       res.Payload,
	})
}

type ragQueryRequest struct {
	SessionID   string   `json:"sessionId"`
	Query       string   `json:"query"`
	RepoPath    string   `json:"repoPath,omitempty"`
	TopK        int      `json:"topK,omitempty"`
	EntityTypes []string `json:"entityTypes,omitempty"`
}

// RAGQuery handles POST /ai/rag/query.
func (s *Server) RAGQuery(w http.ResponseWriter, r *http.Request) {
	var body ragQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, domain.NewValidationError("invalid request body", err))
		return
	}

	resp, err := s.core.RAGQuery(r.Context(), body.SessionID, domain.RAGQueryRequest{
		Query:       body.Query,
		RepoPath:    body.RepoPath,
		TopK:        body.TopK,
		EntityTypes: body.EntityTypes,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type streamAssistRequest struct {
	SessionID string `json:"sessionId"`
	Question  string `json:"question"`
}

// StreamAssist handles POST /ai/assist/stream, re-emitting the assistant
// stream as server-sent events. Exactly one terminal event is written,
// followed by the [DONE] marker. Client disconnect cancels the upstream.
func (s *Server) StreamAssist(w http.ResponseWriter, r *http.Request) {
	var body streamAssistRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, domain.NewValidationError("invalid request body", err))
		return
	}
	if body.Question == "" {
		writeError(w, domain.NewValidationError("question is required", nil))
		return
	}
	question, err := domain.SanitizeInput(body.Question)
	if err != nil {
		writeError(w, domain.NewValidationError("invalid question", err))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		s.logger.Error("stream assist: response writer is not a flusher")
		return
	}

	// Headers go out before the upstream call; token callbacks may fire
	// inline and start the event stream immediately.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	sink := &sseSink{w: w, flusher: flusher}
	done := make(chan struct{})

	handle, err := s.core.StreamAssist(r.Context(), body.SessionID, question, ports.StreamHandler{
		OnToken: func(token string, index int) {
			sink.event(map[string]any{
				"type":     "token",
				"token":    token,
				"metadata": map[string]any{"tokenIndex": index},
			})
		},
		OnComplete: func(fullContent string, totalTokens int, durationMs float64) {
			sink.event(map[string]any{
				"type":        "complete",
				"fullContent": fullContent,
				"metadata": map[string]any{
					"totalTokens": totalTokens,
					"durationMs":  durationMs,
				},
			})
			close(done)
		},
		OnError: func(cause error) {
			sink.event(map[string]any{"type": "error", "message": cause.Error()})
			close(done)
		},
	})
	if err != nil {
		sink.close()
		writeError(w, err)
		return
	}

	select {
	case <-r.Context().Done():
		s.logger.Info("stream client disconnected", "invocation_id", handle.InvocationID)
		handle.Cancel()
		sink.close()
		return
	case <-done:
	}

	sink.done()
	sink.close()
}

// sseSink serializes SSE writes from stream callbacks. Writes after close are
// dropped so late transport callbacks cannot touch a finished response.
type sseSink struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	closed  bool
}

func (s *sseSink) event(payload map[string]any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	fmt.Fprintf(s.w, "data: %s\n\n", raw)
	s.flusher.Flush()
}

func (s *sseSink) done() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	fmt.Fprint(s.w, "data: [DONE]\n\n")
	s.flusher.Flush()
}

func (s *sseSink) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// ListApprovals handles GET /approvals.
func (s *Server) ListApprovals(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"approvals": s.core.Approvals().Pending()})
}

// ApproveApproval handles POST /approvals/{id}/approve.
func (s *Server) ApproveApproval(w http.ResponseWriter, r *http.Request) {
	if err := s.core.Approvals().Approve(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DenyApproval handles POST /approvals/{id}/deny.
func (s *Server) DenyApproval(w http.ResponseWriter, r *http.Request) {
	if err := s.core.Approvals().Deny(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type approvalReasonRequest struct {
	Reason string `json:"reason"`
}

// SetApprovalReason handles POST /approvals/{id}/reason.
func (s *Server) SetApprovalReason(w http.ResponseWriter, r *http.Request) {
	var body approvalReasonRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, domain.NewValidationError("invalid request body", err))
		return
	}
	if err := s.core.Approvals().SetReason(chi.URLParam(r, "id"), body.Reason); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ConfirmApproval handles POST /approvals/{id}/confirm, advancing the
// destructive two-step confirmation.
func (s *Server) ConfirmApproval(w http.ResponseWriter, r *http.Request) {
	if err := s.core.Approvals().ConfirmDestructive(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CancelInvocation handles POST /invocations/{id}/cancel.
func (s *Server) CancelInvocation(w http.ResponseWriter, r *http.Request) {
	canceled := s.core.Cancel(chi.URLParam(r, "id"))
	writeJSON(w, http.StatusOK, map[string]any{"canceled": canceled})
}

// -- Helpers --

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("response encode failed", "error", err)
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
	Code  string `json:"code,omitempty"`
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	resp := errorResponse{Error: err.Error()}

	switch {
	case errors.Is(err, domain.ErrSessionNotFound),
		errors.Is(err, domain.ErrApprovalNotFound),
		errors.Is(err, domain.ErrInvocationNotFound):
		status = http.StatusNotFound
	default:
		var de *domain.Error
		if errors.As(err, &de) {
			resp.Kind = string(de.Kind)
			resp.Code = de.Code
			status = statusForKind(de)
		}
	}
	writeJSON(w, status, resp)
}

func statusForKind(de *domain.Error) int {
	switch de.Kind {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindCapability:
		return http.StatusForbidden
	case domain.KindApprovalRequired:
		return http.StatusConflict
	case domain.KindTimeout:
		return http.StatusGatewayTimeout
	case domain.KindConnection:
		return http.StatusBadGateway
	case domain.KindCanceled:
		return http.StatusConflict
	case domain.KindRemote:
		if de.HTTPStatus != 0 {
			return de.HTTPStatus
		}
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
