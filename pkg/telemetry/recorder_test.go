package telemetry

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/contextkit/pkg/adapters/memory"
	"github.com/aretw0/contextkit/pkg/domain"
	"github.com/aretw0/contextkit/pkg/queue"
)

// changeRecorder captures emitter notifications.
type changeRecorder struct {
	mu       sync.Mutex
	statuses []domain.InvocationStatus
}

func (c *changeRecorder) InvocationChanged(rec *domain.InvocationRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses = append(c.statuses, rec.Status)
}

func (c *changeRecorder) StreamProgress(string, string, int) {}

func pendingRecord(id string) *domain.InvocationRecord {
	return &domain.InvocationRecord{
		ID:        id,
		SessionID: "s-1",
		ToolID:    "pipeline.validate",
		Provider:  domain.ProviderOllama,
		Status:    domain.InvocationPending,
	}
}

func TestLifecycleHappyPath(t *testing.T) {
	ctx := context.Background()
	emitted := &changeRecorder{}
	r := NewRecorder(memory.NewRecordStore(), WithEmitter(emitted))

	require.NoError(t, r.Admit(ctx, pendingRecord("inv-1")))
	require.NoError(t, r.Start(ctx, "inv-1"))
	require.NoError(t, r.Finish(ctx, "inv-1", domain.InvocationSucceeded, "3 nodes validated", ""))

	rec, err := r.Get(ctx, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, domain.InvocationSucceeded, rec.Status)
	assert.Equal(t, "3 nodes validated", rec.ResultSummary)
	require.NotNil(t, rec.FinishedAt)
	assert.False(t, rec.FinishedAt.Before(rec.StartedAt))

	emitted.mu.Lock()
	defer emitted.mu.Unlock()
	assert.Equal(t, []domain.InvocationStatus{
		domain.InvocationPending,
		domain.InvocationRunning,
		domain.InvocationSucceeded,
	}, emitted.statuses)
}

func TestFinishIsExactlyOnce(t *testing.T) {
	ctx := context.Background()
	r := NewRecorder(memory.NewRecordStore())

	require.NoError(t, r.Admit(ctx, pendingRecord("inv-1")))
	require.NoError(t, r.Start(ctx, "inv-1"))
	require.NoError(t, r.Finish(ctx, "inv-1", domain.InvocationFailed, "", "sidecar unavailable"))

	// The deferred cleanup path may race the error path; the second write
	// must leave the first outcome untouched.
	require.NoError(t, r.Finish(ctx, "inv-1", domain.InvocationSucceeded, "late success", ""))

	rec, err := r.Get(ctx, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, domain.InvocationFailed, rec.Status)
	assert.Equal(t, "sidecar unavailable", rec.ErrorDetail)
	assert.Empty(t, rec.ResultSummary)
}

func TestFinishRejectsNonTerminal(t *testing.T) {
	r := NewRecorder(memory.NewRecordStore())
	err := r.Finish(context.Background(), "inv-1", domain.InvocationRunning, "", "")
	require.Error(t, err)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestFinishRequiresRunning(t *testing.T) {
	ctx := context.Background()
	r := NewRecorder(memory.NewRecordStore())
	require.NoError(t, r.Admit(ctx, pendingRecord("inv-1")))

	err := r.Finish(ctx, "inv-1", domain.InvocationSucceeded, "", "")
	require.Error(t, err, "pending records cannot succeed without running")
}

func TestCancelQueuedSkipsRunning(t *testing.T) {
	ctx := context.Background()
	r := NewRecorder(memory.NewRecordStore())
	require.NoError(t, r.Admit(ctx, pendingRecord("inv-1")))
	require.NoError(t, r.CancelQueued(ctx, "inv-1"))

	rec, err := r.Get(ctx, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, domain.InvocationCanceled, rec.Status)
	assert.True(t, rec.StartedAt.IsZero(), "queued work never ran")
	require.NotNil(t, rec.FinishedAt)

	// Idempotent after the terminal write.
	require.NoError(t, r.CancelQueued(ctx, "inv-1"))
}

func TestCancelQueuedRejectsRunning(t *testing.T) {
	ctx := context.Background()
	r := NewRecorder(memory.NewRecordStore())
	require.NoError(t, r.Admit(ctx, pendingRecord("inv-1")))
	require.NoError(t, r.Start(ctx, "inv-1"))

	err := r.CancelQueued(ctx, "inv-1")
	require.Error(t, err)
}

func TestStartUnknownInvocation(t *testing.T) {
	r := NewRecorder(memory.NewRecordStore())
	err := r.Start(context.Background(), "ghost")
	require.ErrorIs(t, err, domain.ErrInvocationNotFound)
}

func TestFinishedAtNeverPrecedesStartedAt(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	ticks := []time.Time{base.Add(time.Second), base}
	i := 0
	clock := func() time.Time {
		t := ticks[i%len(ticks)]
		i++
		return t
	}

	r := NewRecorder(memory.NewRecordStore(), WithClock(clock))
	require.NoError(t, r.Admit(ctx, pendingRecord("inv-1")))
	require.NoError(t, r.Start(ctx, "inv-1"))
	require.NoError(t, r.Finish(ctx, "inv-1", domain.InvocationSucceeded, "", ""))

	rec, err := r.Get(ctx, "inv-1")
	require.NoError(t, err)
	assert.False(t, rec.FinishedAt.Before(rec.StartedAt))
}

func TestExportPreservesOrder(t *testing.T) {
	ctx := context.Background()
	r := NewRecorder(memory.NewRecordStore())

	for _, id := range []string{"inv-1", "inv-2", "inv-3"} {
		require.NoError(t, r.Admit(ctx, pendingRecord(id)))
	}
	recs, err := r.Export(ctx, "s-1")
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "inv-1", recs[0].ID)
	assert.Equal(t, "inv-3", recs[2].ID)

	require.NoError(t, r.Purge(ctx, "s-1"))
	recs, err = r.Export(ctx, "s-1")
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestMetricsCountTerminalOutcomes(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	r := NewRecorder(memory.NewRecordStore(), WithMetrics(m))

	require.NoError(t, r.Admit(ctx, pendingRecord("inv-1")))
	require.NoError(t, r.Start(ctx, "inv-1"))
	require.NoError(t, r.Finish(ctx, "inv-1", domain.InvocationSucceeded, "", ""))

	require.NoError(t, r.Admit(ctx, pendingRecord("inv-2")))
	require.NoError(t, r.CancelQueued(ctx, "inv-2"))

	expected := `
		# HELP contextkit_invocations_total Tool invocations by terminal status.
		# TYPE contextkit_invocations_total counter
		contextkit_invocations_total{status="canceled",tool="pipeline.validate"} 1
		contextkit_invocations_total{status="succeeded",tool="pipeline.validate"} 1
	`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "contextkit_invocations_total"))
}

func TestQueueDepthGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.QueueDepth(3, 5)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.queueActive))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.queueWaited))

	m.QueueDepth(0, 0)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.queueActive))
}

func TestQueueObserverFeedsGauges(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	q := queue.NewManager(queue.WithLimit(1), queue.WithObserver(m.QueueDepth))
	defer q.Close()

	slot, err := q.Enqueue(ctx, "s-1", "inv-1")
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.queueActive))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.queueWaited))

	got := make(chan error, 1)
	go func() {
		s, err := q.Enqueue(ctx, "s-1", "inv-2")
		if s != nil {
			defer s.Release()
		}
		got <- err
	}()
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.queueWaited) == 1.0
	}, time.Second, 5*time.Millisecond)

	slot.Release()
	require.NoError(t, <-got)
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.queueActive) == 0.0 && testutil.ToFloat64(m.queueWaited) == 0.0
	}, time.Second, 5*time.Millisecond)
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.Finished("pipeline.validate", "succeeded", 0.5)
	m.QueueDepth(1, 2)
}
