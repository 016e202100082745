package contextkit

import (
	"context"
	"log/slog"

	"github.com/aretw0/contextkit/internal/logging"
	"github.com/aretw0/contextkit/pkg/adapters/memory"
	"github.com/aretw0/contextkit/pkg/assembler"
	"github.com/aretw0/contextkit/pkg/capability"
	"github.com/aretw0/contextkit/pkg/domain"
	"github.com/aretw0/contextkit/pkg/orchestrator"
	"github.com/aretw0/contextkit/pkg/ports"
	"github.com/aretw0/contextkit/pkg/session"
	"github.com/aretw0/contextkit/pkg/sidecar"
	"github.com/aretw0/contextkit/pkg/telemetry"
)

// Version is the library version. Overridden at build time via -ldflags.
var Version = "dev"

// Client is the high-level entry point for the contextkit library. It wires
// the capability registry, session manager and orchestrator over a sidecar
// transport and provides a simplified API for consumers.
type Client struct {
	registry  *capability.Registry
	sessions  *session.Manager
	core      *orchestrator.Orchestrator
	transport ports.Transport

	manifestPath string
	manifest     *capability.Manifest
	sessionStore ports.SessionStore
	recordStore  ports.RecordStore
	repoPath     string
	apiKey       string
	blocking     bool
	emitter      ports.EventEmitter
	logger       *slog.Logger
	coreOpts     []orchestrator.Option
}

// Option defines a functional option for configuring the Client.
type Option func(*Client)

// WithManifestPath loads the capability manifest from a YAML file instead of
// the built-in default.
func WithManifestPath(path string) Option {
	return func(c *Client) {
		c.manifestPath = path
	}
}

// WithManifest injects a capability manifest directly.
func WithManifest(m capability.Manifest) Option {
	return func(c *Client) {
		c.manifest = &m
	}
}

// WithSessionStore injects a session store, e.g. the Redis adapter. Defaults
// to an in-memory store.
func WithSessionStore(store ports.SessionStore) Option {
	return func(c *Client) {
		c.sessionStore = store
	}
}

// WithRecordStore injects an invocation record store for the audit trail.
func WithRecordStore(store ports.RecordStore) Option {
	return func(c *Client) {
		c.recordStore = store
	}
}

// WithTransport replaces the sidecar HTTP transport, bypassing baseURL.
func WithTransport(t ports.Transport) Option {
	return func(c *Client) {
		c.transport = t
	}
}

// WithRepoPath sets the repository path attached to tool executions.
func WithRepoPath(path string) Option {
	return func(c *Client) {
		c.repoPath = path
	}
}

// WithAPIKey sets the provider credential forwarded to the sidecar.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = key
	}
}

// WithBlockingApprovals makes gated tool calls wait for their approval
// instead of returning immediately.
func WithBlockingApprovals(block bool) Option {
	return func(c *Client) {
		c.blocking = block
	}
}

// WithEmitter subscribes an event emitter to invocation and stream progress,
// e.g. an observability.Aggregator.
func WithEmitter(e ports.EventEmitter) Option {
	return func(c *Client) {
		c.emitter = e
	}
}

// WithLogger configures structured logging for all components.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithOrchestratorOptions forwards extra options to the orchestrator, e.g.
// a shared approval manager or a metrics-backed recorder.
func WithOrchestratorOptions(opts ...orchestrator.Option) Option {
	return func(c *Client) {
		c.coreOpts = append(c.coreOpts, opts...)
	}
}

// New creates a Client talking to the sidecar at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	c := &Client{logger: logging.NewNop()}
	for _, opt := range opts {
		opt(c)
	}

	var registry *capability.Registry
	var err error
	switch {
	case c.manifest != nil:
		registry, err = capability.New(*c.manifest)
	case c.manifestPath != "":
		registry, err = capability.LoadManifest(c.manifestPath)
	default:
		registry, err = capability.New(capability.DefaultManifest())
	}
	if err != nil {
		return nil, err
	}
	c.registry = registry

	if c.transport == nil {
		c.transport = sidecar.New(baseURL, sidecar.WithLogger(c.logger))
	}
	if c.sessionStore == nil {
		c.sessionStore = memory.NewSessionStore()
	}
	if c.recordStore == nil {
		c.recordStore = memory.NewRecordStore()
	}

	c.sessions = session.NewManager(c.sessionStore, registry, session.WithLogger(c.logger))

	recorderOpts := []telemetry.Option{telemetry.WithLogger(c.logger)}
	coreOpts := []orchestrator.Option{}
	if c.emitter != nil {
		recorderOpts = append(recorderOpts, telemetry.WithEmitter(c.emitter))
		coreOpts = append(coreOpts,
			orchestrator.WithAssembler(assembler.New(assembler.WithEmitter(c.emitter))))
	}

	coreOpts = append(coreOpts,
		orchestrator.WithRecorder(telemetry.NewRecorder(c.recordStore, recorderOpts...)),
		orchestrator.WithRepoPath(c.repoPath),
		orchestrator.WithAPIKey(c.apiKey),
		orchestrator.WithBlockingApprovals(c.blocking),
		orchestrator.WithLogger(c.logger),
	)
	coreOpts = append(coreOpts, c.coreOpts...)
	c.core = orchestrator.New(registry, c.sessions, c.transport, coreOpts...)

	return c, nil
}

// Orchestrator exposes the invocation façade.
func (c *Client) Orchestrator() *orchestrator.Orchestrator { return c.core }

// Sessions exposes the session manager.
func (c *Client) Sessions() *session.Manager { return c.sessions }

// Registry exposes the capability registry.
func (c *Client) Registry() *capability.Registry { return c.registry }

// CreateSession starts a session for the given provider.
func (c *Client) CreateSession(ctx context.Context, userID string, provider domain.Provider) (*domain.Session, error) {
	return c.sessions.Create(ctx, session.CreateRequest{UserID: userID, Provider: provider})
}

// ExecuteTool runs one tool invocation inside a session.
func (c *Client) ExecuteTool(ctx context.Context, sessionID, toolID string, params map[string]any, opts ...orchestrator.CallOption) (*orchestrator.Result, error) {
	return c.core.ExecuteTool(ctx, sessionID, toolID, params, opts...)
}

// StreamAssist opens an assistant stream for a session.
func (c *Client) StreamAssist(ctx context.Context, sessionID, question string, handler ports.StreamHandler) (*orchestrator.StreamHandle, error) {
	return c.core.StreamAssist(ctx, sessionID, question, handler)
}

// Health reports sidecar liveness.
func (c *Client) Health(ctx context.Context) (*domain.HealthResponse, error) {
	return c.core.Health(ctx)
}

// Close releases the client's resources.
func (c *Client) Close() {
	c.core.Close()
}
