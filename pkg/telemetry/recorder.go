// Package telemetry writes the invocation audit trail. Every tool invocation
// leaves a record that moves pending -> running -> terminal (or pending ->
// canceled for work that never ran); the recorder enforces those transitions
// and guarantees at most one terminal write per invocation.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/contextkit/internal/logging"
	"github.com/aretw0/contextkit/pkg/domain"
	"github.com/aretw0/contextkit/pkg/ports"
)

// Recorder persists invocation lifecycle transitions to a RecordStore and
// mirrors them to metrics and the event emitter.
type Recorder struct {
	mu      sync.Mutex
	store   ports.RecordStore
	emitter ports.EventEmitter
	metrics *Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithEmitter mirrors record transitions to the emitter.
func WithEmitter(e ports.EventEmitter) Option {
	return func(r *Recorder) {
		if e != nil {
			r.emitter = e
		}
	}
}

// WithMetrics attaches Prometheus instruments.
func WithMetrics(m *Metrics) Option {
	return func(r *Recorder) {
		r.metrics = m
	}
}

// WithLogger configures a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Recorder) {
		r.logger = logger
	}
}

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) {
		r.now = now
	}
}

// NewRecorder creates a Recorder over the given store.
func NewRecorder(store ports.RecordStore, opts ...Option) *Recorder {
	r := &Recorder{
		store:   store,
		emitter: ports.NopEmitter{},
		logger:  logging.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Admit writes the initial pending record. Parameters must already be
// redaction-safe; callers pass them through domain.RedactParams.
func (r *Recorder) Admit(ctx context.Context, rec *domain.InvocationRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec.Status = domain.InvocationPending
	if err := r.store.Save(ctx, rec); err != nil {
		return fmt.Errorf("saving pending record: %w", err)
	}
	r.emitter.InvocationChanged(rec)
	return nil
}

// Start transitions pending -> running and stamps StartedAt.
func (r *Recorder) Start(ctx context.Context, invocationID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, err := r.store.Get(ctx, invocationID)
	if err != nil {
		return err
	}
	if !rec.Status.CanTransition(domain.InvocationRunning) {
		return domain.NewValidationError(fmt.Sprintf("invocation %s cannot start from %s", invocationID, rec.Status), nil)
	}
	rec.Status = domain.InvocationRunning
	rec.StartedAt = r.now()
	if err := r.store.Save(ctx, rec); err != nil {
		return fmt.Errorf("saving running record: %w", err)
	}
	r.logger.Debug("invocation running", "invocation_id", invocationID, "tool", rec.ToolID)
	r.emitter.InvocationChanged(rec)
	return nil
}

// Finish writes the terminal status exactly once. A second Finish on the
// same invocation is a silent no-op so deferred cleanup paths can race a
// direct error path safely. FinishedAt never precedes StartedAt.
func (r *Recorder) Finish(ctx context.Context, invocationID string, status domain.InvocationStatus, summary, errDetail string) error {
	if !status.Terminal() {
		return domain.NewValidationError(fmt.Sprintf("%s is not a terminal status", status), nil)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, err := r.store.Get(ctx, invocationID)
	if err != nil {
		return err
	}
	if rec.Status.Terminal() {
		r.logger.Debug("duplicate finish ignored", "invocation_id", invocationID, "status", rec.Status)
		return nil
	}
	if !rec.Status.CanTransition(status) {
		return domain.NewValidationError(fmt.Sprintf("invocation %s cannot move %s -> %s", invocationID, rec.Status, status), nil)
	}

	fin := r.now()
	if !rec.StartedAt.IsZero() && fin.Before(rec.StartedAt) {
		fin = rec.StartedAt
	}
	rec.Status = status
	rec.FinishedAt = &fin
	rec.ResultSummary = summary
	rec.ErrorDetail = errDetail
	if err := r.store.Save(ctx, rec); err != nil {
		return fmt.Errorf("saving terminal record: %w", err)
	}

	seconds := -1.0
	if !rec.StartedAt.IsZero() {
		seconds = fin.Sub(rec.StartedAt).Seconds()
	}
	r.metrics.Finished(rec.ToolID, string(status), seconds)
	r.logger.Info("invocation finished",
		"invocation_id", invocationID,
		"tool", rec.ToolID,
		"status", status,
	)
	r.emitter.InvocationChanged(rec)
	return nil
}

// CancelQueued marks a never-admitted invocation canceled. The record keeps
// a zero StartedAt: the work never ran.
func (r *Recorder) CancelQueued(ctx context.Context, invocationID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, err := r.store.Get(ctx, invocationID)
	if err != nil {
		return err
	}
	if rec.Status.Terminal() {
		return nil
	}
	if rec.Status != domain.InvocationPending {
		return domain.NewValidationError(fmt.Sprintf("invocation %s is %s, not pending", invocationID, rec.Status), nil)
	}
	fin := r.now()
	rec.Status = domain.InvocationCanceled
	rec.FinishedAt = &fin
	if err := r.store.Save(ctx, rec); err != nil {
		return fmt.Errorf("saving canceled record: %w", err)
	}
	r.metrics.Finished(rec.ToolID, string(domain.InvocationCanceled), -1)
	r.emitter.InvocationChanged(rec)
	return nil
}

// Get returns one invocation record.
func (r *Recorder) Get(ctx context.Context, invocationID string) (*domain.InvocationRecord, error) {
	return r.store.Get(ctx, invocationID)
}

// Export returns the audit trail of a session in insertion order.
func (r *Recorder) Export(ctx context.Context, sessionID string) ([]*domain.InvocationRecord, error) {
	return r.store.ListBySession(ctx, sessionID)
}

// Purge removes a session's audit trail.
func (r *Recorder) Purge(ctx context.Context, sessionID string) error {
	return r.store.PurgeSession(ctx, sessionID)
}
