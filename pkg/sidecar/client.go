// Package sidecar implements the streaming transport: a validated HTTP +
// Server-Sent-Events client for the remote tool/completion service. The
// client owns timeouts, retries and schema validation of every payload
// crossing the boundary. It is an explicit, passed-by-reference instance
// owned by the process lifecycle; there is no package-level singleton.
package sidecar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/aretw0/contextkit/internal/logging"
	"github.com/aretw0/contextkit/pkg/domain"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// DefaultTimeout bounds each request/response call.
const DefaultTimeout = 30 * time.Second

// RetryConfig controls backoff for retryable (connection/timeout) failures.
// Validation errors are never retried.
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Factor       float64
	Jitter       bool
}

// DefaultRetryConfig returns the default backoff curve.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Factor:       2.0,
		Jitter:       true,
	}
}

// Client talks to the sidecar service. Safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
	retry   RetryConfig
	logger  *slog.Logger
}

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient injects a custom http.Client (e.g. for tests or proxies).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithTimeout overrides the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRetry overrides the retry/backoff configuration.
func WithRetry(cfg RetryConfig) Option {
	return func(c *Client) {
		c.retry = cfg
	}
}

// WithLogger configures a logger for transport events.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New creates a sidecar client for the given base URL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{},
		timeout: DefaultTimeout,
		retry:   DefaultRetryConfig(),
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Health reports sidecar liveness. An unreachable sidecar maps to status
// unknown alongside the transport error.
func (c *Client) Health(ctx context.Context) (*domain.HealthResponse, error) {
	s, err := compiledSchemas()
	if err != nil {
		return nil, err
	}
	var out domain.HealthResponse
	if err := c.do(ctx, http.MethodGet, "/health", nil, nil, s.health, &out); err != nil {
		return &domain.HealthResponse{Status: domain.HealthUnknown}, err
	}
	return &out, nil
}

// GenerateEntity performs a synchronous generation call.
func (c *Client) GenerateEntity(ctx context.Context, req domain.GenerateEntityRequest) (*domain.GenerateEntityResponse, error) {
	s, err := compiledSchemas()
	if err != nil {
		return nil, err
	}
	var out domain.GenerateEntityResponse
	if err := c.do(ctx, http.MethodPost, "/ai/generate-entity", req, s.generateEntityIn, s.generateEntity, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ExecuteTool performs one atomic tool invocation.
func (c *Client) ExecuteTool(ctx context.Context, req domain.ToolExecutionRequest) (*domain.ToolExecutionResponse, error) {
	s, err := compiledSchemas()
	if err != nil {
		return nil, err
	}
	var out domain.ToolExecutionResponse
	if err := c.do(ctx, http.MethodPost, "/ai/tools/execute", req, s.toolExecutionIn, s.toolExecution, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RAGQuery performs a retrieval-augmented query.
func (c *Client) RAGQuery(ctx context.Context, req domain.RAGQueryRequest) (*domain.RAGQueryResponse, error) {
	s, err := compiledSchemas()
	if err != nil {
		return nil, err
	}
	var out domain.RAGQueryResponse
	if err := c.do(ctx, http.MethodPost, "/ai/rag/query", req, s.ragQueryIn, s.ragQuery, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// do runs one validated request/response call with retries. The request body
// is validated before any network cost; the response body is validated
// before it reaches the caller.
func (c *Client) do(ctx context.Context, method, path string, body any, reqSchema, respSchema *jsonschema.Schema, out any) error {
	var payload []byte
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return domain.NewValidationError("request body is not serializable", err)
		}
		if reqSchema != nil {
			if err := validateRaw(reqSchema, raw); err != nil {
				return domain.NewValidationError(fmt.Sprintf("request to %s rejected by schema", path), err)
			}
		}
		payload = raw
	}

	delay := c.retry.InitialDelay
	attempts := c.retry.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return classifyCtxErr(ctx.Err())
			case <-time.After(jittered(delay, c.retry.Jitter)):
			}
			delay = nextDelay(delay, c.retry)
			c.logger.Debug("retrying sidecar call", "path", path, "attempt", attempt)
		}

		lastErr = c.once(ctx, method, path, payload, respSchema, out)
		if lastErr == nil {
			return nil
		}
		var te *domain.Error
		if !errors.As(lastErr, &te) || !te.Retryable() {
			return lastErr
		}
	}
	return lastErr
}

// once runs a single attempt under the per-call timeout.
func (c *Client) once(ctx context.Context, method, path string, payload []byte, respSchema *jsonschema.Schema, out any) error {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(callCtx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return domain.NewConnectionError("building request", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return domain.NewTimeoutError(fmt.Sprintf("%s %s exceeded %s", method, path, c.timeout), err)
		}
		if ctx.Err() != nil {
			return classifyCtxErr(ctx.Err())
		}
		return domain.NewConnectionError(fmt.Sprintf("%s %s", method, path), err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return domain.NewTimeoutError(fmt.Sprintf("%s %s exceeded %s", method, path, c.timeout), err)
		}
		return domain.NewConnectionError("reading response body", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return remoteError(resp.StatusCode, raw)
	}

	if respSchema != nil {
		if err := validateRaw(respSchema, raw); err != nil {
			return domain.NewValidationError(fmt.Sprintf("response from %s rejected by schema", path), err)
		}
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return domain.NewValidationError(fmt.Sprintf("decoding response from %s", path), err)
		}
	}
	return nil
}

// remoteError maps a non-2xx response to a typed error. Structured bodies
// keep their message and code; anything else synthesizes a generic error
// carrying the HTTP status. Gateway-style statuses stay retryable.
func remoteError(status int, raw []byte) *domain.Error {
	kind := domain.KindRemote
	if status == http.StatusBadGateway || status == http.StatusServiceUnavailable || status == http.StatusGatewayTimeout {
		kind = domain.KindConnection
	}

	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
		Detail  string `json:"detail"`
		Code    string `json:"code"`
	}
	msg := fmt.Sprintf("sidecar returned HTTP %d", status)
	code := ""
	if err := json.Unmarshal(raw, &body); err == nil {
		switch {
		case body.Message != "":
			msg = body.Message
		case body.Detail != "":
			msg = body.Detail
		case body.Error != "":
			msg = body.Error
		}
		code = body.Code
	}
	return &domain.Error{Kind: kind, Message: msg, HTTPStatus: status, Code: code}
}

func classifyCtxErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.NewTimeoutError("call deadline exceeded", err)
	}
	return domain.NewCanceledError("call canceled")
}

func validateRaw(schema *jsonschema.Schema, raw []byte) error {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	return schema.Validate(doc)
}

func jittered(d time.Duration, jitter bool) time.Duration {
	if !jitter {
		return d
	}
	// Up to +-25% randomization to decorrelate retry storms.
	f := 0.75 + rand.Float64()*0.5
	return time.Duration(float64(d) * f)
}

func nextDelay(d time.Duration, cfg RetryConfig) time.Duration {
	factor := cfg.Factor
	if factor <= 0 {
		factor = 2.0
	}
	next := time.Duration(float64(d) * factor)
	if cfg.MaxDelay > 0 && next > cfg.MaxDelay {
		next = cfg.MaxDelay
	}
	return next
}

func mustReader(s string) io.Reader { return strings.NewReader(s) }
