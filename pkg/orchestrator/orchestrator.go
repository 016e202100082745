// Package orchestrator is the façade that drives tool invocations end to
// end: capability gating, parameter validation, safety approvals, queue
// admission, transport dispatch and the telemetry trail. Callers never talk
// to the sidecar directly; every invocation passes through here.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/aretw0/contextkit/internal/logging"
	"github.com/aretw0/contextkit/pkg/adapters/memory"
	"github.com/aretw0/contextkit/pkg/approval"
	"github.com/aretw0/contextkit/pkg/assembler"
	"github.com/aretw0/contextkit/pkg/capability"
	"github.com/aretw0/contextkit/pkg/domain"
	"github.com/aretw0/contextkit/pkg/ports"
	"github.com/aretw0/contextkit/pkg/queue"
	"github.com/aretw0/contextkit/pkg/session"
	"github.com/aretw0/contextkit/pkg/telemetry"
)

// StreamToolID is the pseudo tool id under which assistant streams appear in
// the audit trail and the queue.
const StreamToolID = "assist.stream"

// defaultApprovalPoll is how often blocking mode re-checks a pending approval.
const defaultApprovalPoll = 50 * time.Millisecond

// Result is the outcome of one tool invocation.
type Result struct {
	InvocationID string
	// ApprovalID is set when the invocation is gated on an approval; retry
	// with WithInvocationID once it resolves.
	ApprovalID string
	OK         bool
	Payload    map[string]any
	Err        error
}

// StreamHandle identifies a running assistant stream.
type StreamHandle struct {
	InvocationID string
	cancel       func()
}

// Cancel aborts the stream. Safe to call more than once.
func (h *StreamHandle) Cancel() { h.cancel() }

// Orchestrator wires the capability registry, approval gate, admission queue,
// transport and telemetry into one call path.
type Orchestrator struct {
	registry  *capability.Registry
	sessions  *session.Manager
	transport ports.Transport

	approvals *approval.Manager
	queue     *queue.Manager
	recorder  *telemetry.Recorder
	streams   *assembler.Assembler

	repoPath     string
	apiKey       string
	blocking     bool
	approvalPoll time.Duration
	logger       *slog.Logger
}

// Option configures the Orchestrator.
type Option func(*Orchestrator)

// WithApprovals injects a shared approval manager.
func WithApprovals(m *approval.Manager) Option {
	return func(o *Orchestrator) {
		if m != nil {
			o.approvals = m
		}
	}
}

// WithQueue injects a shared queue manager.
func WithQueue(m *queue.Manager) Option {
	return func(o *Orchestrator) {
		if m != nil {
			o.queue = m
		}
	}
}

// WithRecorder injects a telemetry recorder.
func WithRecorder(r *telemetry.Recorder) Option {
	return func(o *Orchestrator) {
		if r != nil {
			o.recorder = r
		}
	}
}

// WithAssembler injects a stream assembler.
func WithAssembler(a *assembler.Assembler) Option {
	return func(o *Orchestrator) {
		if a != nil {
			o.streams = a
		}
	}
}

// WithRepoPath sets the repository path attached to tool executions.
func WithRepoPath(path string) Option {
	return func(o *Orchestrator) {
		o.repoPath = path
	}
}

// WithAPIKey sets the provider credential forwarded to the sidecar. The key
// never enters the audit trail.
func WithAPIKey(key string) Option {
	return func(o *Orchestrator) {
		o.apiKey = key
	}
}

// WithBlockingApprovals makes gated invocations wait for their approval to
// resolve instead of returning an approval-required error.
func WithBlockingApprovals(block bool) Option {
	return func(o *Orchestrator) {
		o.blocking = block
	}
}

// WithApprovalPoll overrides the blocking-mode poll interval.
func WithApprovalPoll(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.approvalPoll = d
		}
	}
}

// WithLogger configures a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// CallOption adjusts a single ExecuteTool call.
type CallOption func(*callConfig)

type callConfig struct {
	invocationID string
}

// WithInvocationID pins the invocation id, used to resume an invocation that
// was gated on an approval in a previous call.
func WithInvocationID(id string) CallOption {
	return func(c *callConfig) {
		c.invocationID = id
	}
}

// New creates an orchestrator. The registry, session manager and transport
// are required; approvals, queue, recorder and assembler default to
// process-local instances when not injected.
func New(registry *capability.Registry, sessions *session.Manager, transport ports.Transport, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry:     registry,
		sessions:     sessions,
		transport:    transport,
		approvals:    approval.NewManager(),
		queue:        queue.NewManager(),
		recorder:     telemetry.NewRecorder(memory.NewRecordStore()),
		streams:      assembler.New(),
		approvalPoll: defaultApprovalPoll,
		logger:       logging.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Approvals exposes the approval manager for the service surface.
func (o *Orchestrator) Approvals() *approval.Manager { return o.approvals }

// Recorder exposes the telemetry recorder for the service surface.
func (o *Orchestrator) Recorder() *telemetry.Recorder { return o.recorder }

// Queue exposes the queue manager.
func (o *Orchestrator) Queue() *queue.Manager { return o.queue }

// Registry exposes the capability registry.
func (o *Orchestrator) Registry() *capability.Registry { return o.registry }

// Close shuts down the admission queue.
func (o *Orchestrator) Close() {
	o.queue.Close()
}

// ExecuteTool runs one tool invocation for the session. The call path is:
// capability check, parameter validation, safety gate, queue admission,
// telemetry start, transport dispatch, telemetry finish. A capability
// failure happens before any side effect; nothing downstream ever sees the
// invocation.
func (o *Orchestrator) ExecuteTool(ctx context.Context, sessionID, toolID string, params map[string]any, opts ...CallOption) (*Result, error) {
	var cc callConfig
	for _, opt := range opts {
		opt(&cc)
	}

	sess, err := o.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if !sessionAllows(sess, toolID) || !o.registry.IsAllowed(sess.Provider, toolID) {
		return nil, domain.NewCapabilityError(sess.Provider, toolID)
	}

	if err := o.registry.ValidateParams(toolID, params); err != nil {
		return nil, err
	}

	invID := cc.invocationID
	if invID == "" {
		invID = uuid.NewString()
	}

	class := o.registry.Classify(toolID)
	if class.RequiresApproval() {
		ap, err := o.gate(ctx, invID, toolID, class)
		if err != nil {
			res := &Result{InvocationID: invID, Err: err}
			if ap != nil {
				res.ApprovalID = ap.ID
			}
			return res, err
		}
	}

	rec := &domain.InvocationRecord{
		ID:         invID,
		SessionID:  sessionID,
		ToolID:     toolID,
		Provider:   sess.Provider,
		Parameters: domain.RedactParams(params),
	}
	if err := o.recorder.Admit(ctx, rec); err != nil {
		return nil, err
	}

	slot, err := o.queue.Enqueue(ctx, sessionID, invID)
	if err != nil {
		bg := context.WithoutCancel(ctx)
		if cerr := o.recorder.CancelQueued(bg, invID); cerr != nil {
			o.logger.Warn("failed to record queued cancellation", "invocation_id", invID, "err", cerr)
		}
		return &Result{InvocationID: invID, Err: err}, err
	}
	defer slot.Release()

	if err := o.recorder.Start(ctx, invID); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	slot.BindCancel(cancel)

	resp, err := o.transport.ExecuteTool(runCtx, domain.ToolExecutionRequest{
		ToolID:     toolID,
		Parameters: params,
		RepoPath:   o.repoPath,
		Config:     o.providerConfig(sess),
	})

	bg := context.WithoutCancel(ctx)
	if err != nil {
		status := domain.InvocationFailed
		if domain.KindOf(err) == domain.KindCanceled {
			status = domain.InvocationCanceled
		}
		o.finish(bg, invID, status, "", err.Error())
		return &Result{InvocationID: invID, Err: err}, err
	}

	if resp.Error != "" {
		remoteErr := &domain.Error{Kind: domain.KindRemote, Message: resp.Error}
		o.finish(bg, invID, domain.InvocationFailed, "", resp.Error)
		return &Result{InvocationID: invID, Payload: resp.Result, Err: remoteErr}, remoteErr
	}

	o.finish(bg, invID, domain.InvocationSucceeded,
		fmt.Sprintf("%s completed in %.0fms", toolID, resp.Metadata.DurationMs), "")
	return &Result{InvocationID: invID, OK: true, Payload: resp.Result}, nil
}

// Cancel cancels a queued or running invocation. Queued work never runs;
// running work has its context canceled, aborting the in-flight request.
func (o *Orchestrator) Cancel(invocationID string) bool {
	return o.queue.Cancel(invocationID)
}

// StreamAssist opens an assistant stream under the same admission and
// telemetry discipline as tool execution. Tokens flow through the stream
// assembler; cancellation aborts the transport and records the partial
// content gathered so far.
func (o *Orchestrator) StreamAssist(ctx context.Context, sessionID, question string, handler ports.StreamHandler) (*StreamHandle, error) {
	sess, err := o.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.Profile.SupportsStreaming {
		return nil, domain.NewValidationError(fmt.Sprintf("provider %q does not support streaming", sess.Provider), nil)
	}

	invID := uuid.NewString()
	rec := &domain.InvocationRecord{
		ID:        invID,
		SessionID: sessionID,
		ToolID:    StreamToolID,
		Provider:  sess.Provider,
	}
	if err := o.recorder.Admit(ctx, rec); err != nil {
		return nil, err
	}

	slot, err := o.queue.Enqueue(ctx, sessionID, invID)
	if err != nil {
		bg := context.WithoutCancel(ctx)
		if cerr := o.recorder.CancelQueued(bg, invID); cerr != nil {
			o.logger.Warn("failed to record queued cancellation", "invocation_id", invID, "err", cerr)
		}
		return nil, err
	}

	if err := o.recorder.Start(ctx, invID); err != nil {
		slot.Release()
		return nil, err
	}
	if err := o.streams.Open(invID); err != nil {
		o.finish(context.WithoutCancel(ctx), invID, domain.InvocationFailed, "", err.Error())
		slot.Release()
		return nil, err
	}

	runCtx, cancelCtx := context.WithCancel(ctx)
	bg := context.WithoutCancel(ctx)

	inner := ports.StreamHandler{
		OnToken: func(token string, index int) {
			if err := o.streams.Append(invID, token, index); err != nil {
				o.logger.Warn("stream append rejected", "invocation_id", invID, "err", err)
				return
			}
			if handler.OnToken != nil {
				handler.OnToken(token, index)
			}
		},
		OnComplete: func(fullContent string, totalTokens int, durationMs float64) {
			res, err := o.streams.Complete(invID, fullContent, totalTokens)
			if err != nil {
				o.finish(bg, invID, domain.InvocationFailed, "", err.Error())
				slot.Release()
				if handler.OnError != nil {
					handler.OnError(err)
				}
				return
			}
			o.finish(bg, invID, domain.InvocationSucceeded,
				fmt.Sprintf("streamed %d tokens in %.0fms", res.Tokens, durationMs), "")
			slot.Release()
			if handler.OnComplete != nil {
				handler.OnComplete(res.Content, res.Tokens, durationMs)
			}
		},
		OnError: func(cause error) {
			status := domain.InvocationFailed
			if domain.KindOf(cause) == domain.KindCanceled || runCtx.Err() != nil {
				status = domain.InvocationCanceled
			}
			summary := ""
			if res, err := o.streams.Fail(invID, cause); err == nil {
				summary = snippet(res.Content)
			}
			o.finish(bg, invID, status, summary, cause.Error())
			slot.Release()
			if handler.OnError != nil {
				handler.OnError(cause)
			}
		},
	}

	transportCancel, err := o.transport.StreamAssist(runCtx, domain.AssistStreamRequest{
		Question:            question,
		ConversationHistory: sess.Messages,
		Config:              o.providerConfig(sess),
	}, inner)
	if err != nil {
		cancelCtx()
		if _, ferr := o.streams.Fail(invID, err); ferr != nil {
			o.logger.Debug("stream already closed", "invocation_id", invID)
		}
		o.finish(bg, invID, domain.InvocationFailed, "", err.Error())
		slot.Release()
		return nil, err
	}

	cancel := func() {
		transportCancel()
		cancelCtx()
		// The partial gathered so far is kept as a side artifact of the
		// canceled invocation.
		if res, err := o.streams.Fail(invID, domain.NewCanceledError("stream canceled")); err == nil {
			o.finish(bg, invID, domain.InvocationCanceled, snippet(res.Content), "stream canceled")
		}
		slot.Release()
	}
	slot.BindCancel(cancel)

	return &StreamHandle{InvocationID: invID, cancel: cancel}, nil
}

// Health reports sidecar liveness through the transport.
func (o *Orchestrator) Health(ctx context.Context) (*domain.HealthResponse, error) {
	return o.transport.Health(ctx)
}

// GenerateEntity performs a synchronous generation call for the session.
func (o *Orchestrator) GenerateEntity(ctx context.Context, sessionID string, req domain.GenerateEntityRequest) (*domain.GenerateEntityResponse, error) {
	sess, err := o.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	req.Config = o.providerConfig(sess)
	return o.transport.GenerateEntity(ctx, req)
}

// RAGQuery runs a retrieval-augmented query for the session.
func (o *Orchestrator) RAGQuery(ctx context.Context, sessionID string, req domain.RAGQueryRequest) (*domain.RAGQueryResponse, error) {
	sess, err := o.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	req.Config = o.providerConfig(sess)
	if req.RepoPath == "" {
		req.RepoPath = o.repoPath
	}
	return o.transport.RAGQuery(ctx, req)
}

// gate enforces the safety approval for one invocation. Returns the approval
// record alongside any gating error so callers can surface the approval id.
func (o *Orchestrator) gate(ctx context.Context, invID, toolID string, class domain.SafetyClass) (*domain.PendingApproval, error) {
	ap, err := o.approvals.Require(invID, toolID, class)
	if err != nil {
		return nil, err
	}

	for {
		switch ap.Status {
		case domain.ApprovalApproved:
			return ap, nil
		case domain.ApprovalDenied:
			return ap, domain.NewApprovalRequiredError(toolID, "approval was denied")
		case domain.ApprovalExpired:
			return ap, domain.NewApprovalRequiredError(toolID, "approval expired")
		}

		if !o.blocking {
			reason := fmt.Sprintf("%s tool requires approval", class)
			if class == domain.SafetyDestructive {
				reason = "destructive tool requires reason and double confirmation"
			}
			return ap, domain.NewApprovalRequiredError(toolID, reason)
		}

		select {
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				return ap, domain.NewTimeoutError("waiting for approval", ctx.Err())
			}
			return ap, domain.NewCanceledError("canceled while waiting for approval")
		case <-time.After(o.approvalPoll):
		}

		current, ok := o.approvals.ForInvocation(invID)
		if !ok {
			return ap, domain.NewApprovalRequiredError(toolID, "approval expired")
		}
		ap = current
	}
}

func (o *Orchestrator) finish(ctx context.Context, invID string, status domain.InvocationStatus, summary, errDetail string) {
	if err := o.recorder.Finish(ctx, invID, status, summary, errDetail); err != nil {
		o.logger.Warn("failed to record terminal status",
			"invocation_id", invID,
			"status", status,
			"err", err,
		)
	}
}

func (o *Orchestrator) providerConfig(sess *domain.Session) domain.ProviderConfig {
	return domain.ProviderConfig{
		Provider:   sess.Provider,
		Endpoint:   sess.Profile.Endpoint,
		Model:      sess.Profile.Model,
		APIVersion: sess.Profile.APIVersion,
		APIKey:     o.apiKey,
	}
}

func sessionAllows(sess *domain.Session, toolID string) bool {
	for _, id := range sess.ActiveTools {
		if id == toolID {
			return true
		}
	}
	return false
}

func snippet(s string) string {
	const max = 200
	if len(s) <= max {
		return s
	}
	// Back up to a rune boundary so the cut never produces invalid UTF-8.
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
