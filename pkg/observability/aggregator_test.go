package observability_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/contextkit/pkg/domain"
	"github.com/aretw0/contextkit/pkg/observability"
)

type countingEmitter struct {
	invocations int
	streams     int
}

func (c *countingEmitter) InvocationChanged(*domain.InvocationRecord) { c.invocations++ }
func (c *countingEmitter) StreamProgress(string, string, int)         { c.streams++ }

func TestAggregatorFansOutToEmitters(t *testing.T) {
	agg := observability.NewAggregator()
	first := &countingEmitter{}
	second := &countingEmitter{}
	agg.AddEmitter(first)
	agg.AddEmitter(second)

	agg.InvocationChanged(&domain.InvocationRecord{ID: "inv-1"})
	agg.StreamProgress("inv-1", "Hel", 1)

	assert.Equal(t, 1, first.invocations)
	assert.Equal(t, 1, first.streams)
	assert.Equal(t, 1, second.invocations)
	assert.Equal(t, 1, second.streams)
}

func TestAggregatorSubscribers(t *testing.T) {
	agg := observability.NewAggregator()
	events, cancel := agg.Subscribe()
	defer cancel()

	agg.InvocationChanged(&domain.InvocationRecord{ID: "inv-1", Status: domain.InvocationRunning})
	agg.StreamProgress("inv-1", "Hello", 1)

	ev := <-events
	require.Equal(t, observability.EventInvocation, ev.Type)
	assert.Equal(t, "inv-1", ev.Invocation.ID)

	ev = <-events
	require.Equal(t, observability.EventStream, ev.Type)
	assert.Equal(t, "Hello", ev.Partial)
	assert.Equal(t, 1, ev.Tokens)
}

func TestAggregatorDropsWhenSubscriberFull(t *testing.T) {
	agg := observability.NewAggregator()
	events, cancel := agg.Subscribe()
	defer cancel()

	// Overfill the buffer; publish must not block.
	for i := 0; i < 200; i++ {
		agg.StreamProgress("inv-1", "x", i)
	}

	drained := 0
	for {
		select {
		case <-events:
			drained++
			continue
		default:
		}
		break
	}
	assert.LessOrEqual(t, drained, 64)
	assert.Greater(t, drained, 0)
}

func TestAggregatorCancelClosesChannel(t *testing.T) {
	agg := observability.NewAggregator()
	events, cancel := agg.Subscribe()

	cancel()
	cancel() // idempotent

	_, ok := <-events
	assert.False(t, ok)

	// Publishing after cancel reaches nobody and must not panic.
	agg.InvocationChanged(&domain.InvocationRecord{ID: "inv-2"})
}
