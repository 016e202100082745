package approval_test

import (
	"testing"
	"time"

	"github.com/aretw0/contextkit/pkg/approval"
	"github.com/aretw0/contextkit/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequire_ReadOnlyRejected(t *testing.T) {
	m := approval.NewManager()
	_, err := m.Require("inv-1", "context.read", domain.SafetyReadOnly)
	assert.Error(t, err)
}

func TestMutating_SingleApproval(t *testing.T) {
	m := approval.NewManager()

	rec, err := m.Require("inv-1", "pipeline.generate", domain.SafetyMutating)
	require.NoError(t, err)
	assert.Equal(t, domain.ApprovalPending, rec.Status)

	require.NoError(t, m.Approve(rec.ID))

	got, err := m.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ApprovalApproved, got.Status)
	require.NotNil(t, got.ResolvedAt)

	// Immutable once resolved.
	assert.Error(t, m.Deny(rec.ID))
	assert.Error(t, m.Approve(rec.ID))
}

func TestDestructive_TwoStepFlow(t *testing.T) {
	m := approval.NewManager()

	rec, err := m.Require("inv-1", "pipeline.run", domain.SafetyDestructive)
	require.NoError(t, err)

	// Single-step approve is not enough for destructive.
	err = m.Approve(rec.ID)
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindApprovalRequired))

	// First confirmation.
	require.NoError(t, m.ConfirmDestructive(rec.ID))
	got, _ := m.Get(rec.ID)
	require.NotNil(t, got.Confirm1At)
	assert.Equal(t, domain.ApprovalPending, got.Status)

	// Second confirmation without a reason is blocked; partial state kept.
	err = m.ConfirmDestructive(rec.ID)
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindApprovalRequired))
	got, _ = m.Get(rec.ID)
	require.NotNil(t, got.Confirm1At, "failed attempt must not reset confirmation state")

	// Too-short reason is rejected.
	err = m.SetReason(rec.ID, "oops")
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindValidation))

	require.NoError(t, m.SetReason(rec.ID, "cleaning stale pipeline artifacts"))
	require.NoError(t, m.ConfirmDestructive(rec.ID))

	got, err = m.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ApprovalApproved, got.Status)
	require.NotNil(t, got.Confirm1At)
	require.NotNil(t, got.Confirm2At)
	assert.True(t, got.Confirm2At.After(*got.Confirm1At), "confirm2 must be strictly after confirm1")
}

func TestApprovals_AreIndependent(t *testing.T) {
	m := approval.NewManager()

	a, err := m.Require("inv-a", "pipeline.generate", domain.SafetyMutating)
	require.NoError(t, err)
	// Same tool id, different invocation: independent record.
	b, err := m.Require("inv-b", "pipeline.generate", domain.SafetyMutating)
	require.NoError(t, err)

	require.NoError(t, m.Deny(a.ID))

	got, err := m.Get(b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ApprovalPending, got.Status, "resolving A must not touch B")
}

func TestRequire_IdempotentPerInvocation(t *testing.T) {
	m := approval.NewManager()

	first, err := m.Require("inv-1", "pipeline.run", domain.SafetyDestructive)
	require.NoError(t, err)
	require.NoError(t, m.ConfirmDestructive(first.ID))

	again, err := m.Require("inv-1", "pipeline.run", domain.SafetyDestructive)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.NotNil(t, again.Confirm1At, "retry must see retained confirmation state")
}

func TestExpiry(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }

	var expiredInv []string
	m := approval.NewManager(
		approval.WithTTL(10*time.Minute),
		approval.WithClock(clock),
		approval.WithExpiryCallback(func(inv string) { expiredInv = append(expiredInv, inv) }),
	)

	rec, err := m.Require("inv-1", "pipeline.generate", domain.SafetyMutating)
	require.NoError(t, err)

	now = now.Add(9 * time.Minute)
	got, _ := m.Get(rec.ID)
	assert.Equal(t, domain.ApprovalPending, got.Status)

	now = now.Add(2 * time.Minute)
	m.Sweep()

	got, _ = m.Get(rec.ID)
	assert.Equal(t, domain.ApprovalExpired, got.Status)
	assert.Equal(t, []string{"inv-1"}, expiredInv)

	// An expired approval cannot be decided.
	assert.Error(t, m.Approve(rec.ID))
}
