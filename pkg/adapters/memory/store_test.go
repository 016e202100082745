package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/contextkit/pkg/domain"
	"github.com/aretw0/contextkit/pkg/ports"
)

func TestRecordStoreContract(t *testing.T) {
	ports.RunRecordStoreContract(t, NewRecordStore())
}

func TestSessionStoreContract(t *testing.T) {
	ports.RunSessionStoreContract(t, NewSessionStore())
}

func TestRecordStoreIsolatesParameters(t *testing.T) {
	ctx := context.Background()
	store := NewRecordStore()

	params := map[string]any{"pipelineId": "p-1"}
	rec := &domain.InvocationRecord{
		ID:         "inv-1",
		SessionID:  "s-1",
		ToolID:     "pipeline.validate",
		Status:     domain.InvocationPending,
		Parameters: params,
	}
	require.NoError(t, store.Save(ctx, rec))

	// Mutating the caller's map after save must not leak into the store.
	params["pipelineId"] = "tampered"
	loaded, err := store.Get(ctx, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, "p-1", loaded.Parameters["pipelineId"])

	// Nor does mutating a loaded copy.
	loaded.Parameters["pipelineId"] = "tampered-again"
	reloaded, err := store.Get(ctx, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, "p-1", reloaded.Parameters["pipelineId"])
}

func TestSessionStoreIsolatesMessages(t *testing.T) {
	ctx := context.Background()
	store := NewSessionStore()

	sess := &domain.Session{
		ID:     "s-1",
		UserID: "u-1",
		Messages: []domain.Message{
			{Role: domain.RoleUser, Content: "hello"},
		},
	}
	require.NoError(t, store.Save(ctx, sess))

	sess.Messages[0].Content = "tampered"
	loaded, err := store.Load(ctx, "s-1")
	require.NoError(t, err)
	require.Len(t, loaded.Messages, 1)
	assert.Equal(t, "hello", loaded.Messages[0].Content)
}
