// Package approval implements the approval state machine gating mutating and
// destructive tools. Mutating tools need a single approval; destructive tools
// need two confirmations with a written justification in between. Decisions
// are independent per approval record and immutable once resolved.
package approval

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/contextkit/internal/logging"
	"github.com/aretw0/contextkit/pkg/domain"
	"github.com/google/uuid"
)

// DefaultTTL is how long an approval may stay pending before it expires.
const DefaultTTL = 10 * time.Minute

// Manager tracks pending approvals. Each approval is an independent record;
// resolving one never affects another, even for the same tool or session.
type Manager struct {
	mu       sync.Mutex
	records  map[string]*domain.PendingApproval
	byInv    map[string]string
	ttl      time.Duration
	now      func() time.Time
	onExpire func(invocationID string)
	logger   *slog.Logger
}

// Option configures the Manager.
type Option func(*Manager)

// WithTTL overrides the pending-approval expiry window.
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithClock injects a time source for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithExpiryCallback registers a callback fired (outside the manager lock)
// when an approval expires, carrying the linked invocation id so the
// invocation can be marked canceled.
func WithExpiryCallback(fn func(invocationID string)) Option {
	return func(m *Manager) {
		m.onExpire = fn
	}
}

// WithLogger configures a logger for approval transitions.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates an approval manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		records: make(map[string]*domain.PendingApproval),
		byInv:   make(map[string]string),
		ttl:     DefaultTTL,
		now:     time.Now,
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Require creates a pending approval for a gated invocation. Read-only
// classes never create one; calling Require for them is a programming error.
func (m *Manager) Require(invocationID, toolID string, class domain.SafetyClass) (*domain.PendingApproval, error) {
	if !class.RequiresApproval() {
		return nil, fmt.Errorf("safety class %q does not require approval", class)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.byInv[invocationID]; ok {
		// Idempotent: re-requesting returns the existing record, keeping
		// partial confirmation state across retries.
		return m.snapshotLocked(m.records[id]), nil
	}

	rec := &domain.PendingApproval{
		ID:           uuid.NewString(),
		InvocationID: invocationID,
		ToolID:       toolID,
		SafetyClass:  class,
		Status:       domain.ApprovalPending,
		CreatedAt:    m.now(),
	}
	m.records[rec.ID] = rec
	m.byInv[invocationID] = rec.ID
	m.logger.Debug("approval created", "approval_id", rec.ID, "tool", toolID, "class", string(class))
	return m.snapshotLocked(rec), nil
}

// Get returns a snapshot of an approval by id.
func (m *Manager) Get(id string) (*domain.PendingApproval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, domain.ErrApprovalNotFound
	}
	m.expireLocked(rec)
	return m.snapshotLocked(rec), nil
}

// ForInvocation returns the approval linked to an invocation, if any.
func (m *Manager) ForInvocation(invocationID string) (*domain.PendingApproval, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byInv[invocationID]
	if !ok {
		return nil, false
	}
	rec := m.records[id]
	m.expireLocked(rec)
	return m.snapshotLocked(rec), true
}

// Pending lists all unresolved approvals.
func (m *Manager) Pending() []*domain.PendingApproval {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.PendingApproval
	for _, rec := range m.records {
		m.expireLocked(rec)
		if rec.Status == domain.ApprovalPending {
			out = append(out, m.snapshotLocked(rec))
		}
	}
	return out
}

// Approve resolves a mutating approval. Destructive approvals must go
// through ConfirmDestructive instead.
func (m *Manager) Approve(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, err := m.pendingLocked(id)
	if err != nil {
		return err
	}
	if rec.SafetyClass == domain.SafetyDestructive {
		return domain.NewApprovalRequiredError(rec.ToolID, "destructive tools require the two-step confirmation")
	}

	m.resolveLocked(rec, domain.ApprovalApproved)
	return nil
}

// Deny resolves any pending approval as denied.
func (m *Manager) Deny(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, err := m.pendingLocked(id)
	if err != nil {
		return err
	}
	m.resolveLocked(rec, domain.ApprovalDenied)
	return nil
}

// SetReason records the operator justification on a destructive approval.
// The text must contain at least domain.MinReasonLength non-whitespace
// characters. Setting a reason is idempotent while the approval is pending.
func (m *Manager) SetReason(id, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, err := m.pendingLocked(id)
	if err != nil {
		return err
	}
	if rec.SafetyClass != domain.SafetyDestructive {
		return fmt.Errorf("reason text only applies to destructive approvals")
	}
	if !domain.ValidReason(text) {
		return domain.NewValidationError(
			fmt.Sprintf("justification must contain at least %d non-whitespace characters", domain.MinReasonLength), nil)
	}
	rec.ReasonText = text
	return nil
}

// ConfirmDestructive advances the two-step confirmation. The first call
// records Confirm1At. The second call requires a valid reason and records
// Confirm2At strictly after Confirm1At, resolving the approval as approved.
// Partial state survives failed attempts; nothing is ever reset.
func (m *Manager) ConfirmDestructive(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, err := m.pendingLocked(id)
	if err != nil {
		return err
	}
	if rec.SafetyClass != domain.SafetyDestructive {
		return fmt.Errorf("approval %s is not destructive", id)
	}

	now := m.now()
	if rec.Confirm1At == nil {
		rec.Confirm1At = &now
		m.logger.Debug("first destructive confirmation", "approval_id", rec.ID, "tool", rec.ToolID)
		return nil
	}

	if !domain.ValidReason(rec.ReasonText) {
		return domain.NewApprovalRequiredError(rec.ToolID, "justification missing or too short")
	}
	if !now.After(*rec.Confirm1At) {
		now = rec.Confirm1At.Add(time.Nanosecond)
	}
	rec.Confirm2At = &now
	m.resolveLocked(rec, domain.ApprovalApproved)
	return nil
}

// Sweep expires all approvals whose TTL elapsed. Expiry also happens lazily
// on access; Sweep exists for periodic housekeeping.
func (m *Manager) Sweep() {
	m.mu.Lock()
	var expired []string
	for _, rec := range m.records {
		if m.expireLocked(rec) {
			expired = append(expired, rec.InvocationID)
		}
	}
	m.mu.Unlock()

	if m.onExpire != nil {
		for _, inv := range expired {
			m.onExpire(inv)
		}
	}
}

// pendingLocked fetches a record and fails if it is missing or resolved.
func (m *Manager) pendingLocked(id string) (*domain.PendingApproval, error) {
	rec, ok := m.records[id]
	if !ok {
		return nil, domain.ErrApprovalNotFound
	}
	m.expireLocked(rec)
	if rec.Status.Resolved() {
		return nil, fmt.Errorf("approval %s already resolved as %s", id, rec.Status)
	}
	return rec, nil
}

func (m *Manager) resolveLocked(rec *domain.PendingApproval, status domain.ApprovalStatus) {
	now := m.now()
	rec.Status = status
	rec.ResolvedAt = &now
	m.logger.Info("approval resolved", "approval_id", rec.ID, "tool", rec.ToolID, "status", string(status))
}

// expireLocked transitions a pending record past its TTL to expired.
// Reports whether the transition happened on this call.
func (m *Manager) expireLocked(rec *domain.PendingApproval) bool {
	if rec.Status != domain.ApprovalPending {
		return false
	}
	if m.now().Sub(rec.CreatedAt) < m.ttl {
		return false
	}
	now := m.now()
	rec.Status = domain.ApprovalExpired
	rec.ResolvedAt = &now
	m.logger.Info("approval expired", "approval_id", rec.ID, "tool", rec.ToolID)
	return true
}

// snapshotLocked copies a record so callers cannot mutate manager state.
func (m *Manager) snapshotLocked(rec *domain.PendingApproval) *domain.PendingApproval {
	cp := *rec
	return &cp
}
