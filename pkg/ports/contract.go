package ports

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/contextkit/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunRecordStoreContract runs a suite of tests to verify that a RecordStore
// implementation adheres to the defined interface contract.
func RunRecordStoreContract(t *testing.T, store RecordStore) {
	ctx := context.Background()
	sessionID := "contract-session-" + time.Now().Format("20060102150405")

	rec := &domain.InvocationRecord{
		ID:        "inv-1-" + sessionID,
		SessionID: sessionID,
		ToolID:    "pipeline.validate",
		Provider:  domain.ProviderAzureOpenAI,
		Status:    domain.InvocationPending,
		StartedAt: time.Now().UTC(),
	}

	t.Run("Save and Get", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, rec))

		loaded, err := store.Get(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, rec.ToolID, loaded.ToolID)
		assert.Equal(t, domain.InvocationPending, loaded.Status)
	})

	t.Run("Get Non-Existent", func(t *testing.T) {
		_, err := store.Get(ctx, "missing-"+sessionID)
		assert.ErrorIs(t, err, domain.ErrInvocationNotFound)
	})

	t.Run("Status Update Is Isolated", func(t *testing.T) {
		other := *rec
		other.ID = "inv-2-" + sessionID
		require.NoError(t, store.Save(ctx, &other))

		updated := *rec
		updated.Status = domain.InvocationRunning
		require.NoError(t, store.Save(ctx, &updated))

		// Updating one record never touches another.
		loaded, err := store.Get(ctx, other.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.InvocationPending, loaded.Status)
	})

	t.Run("ListBySession and Purge", func(t *testing.T) {
		recs, err := store.ListBySession(ctx, sessionID)
		require.NoError(t, err)
		assert.Len(t, recs, 2)

		require.NoError(t, store.PurgeSession(ctx, sessionID))

		recs, err = store.ListBySession(ctx, sessionID)
		require.NoError(t, err)
		assert.Empty(t, recs)
	})
}

// RunSessionStoreContract verifies a SessionStore implementation.
func RunSessionStoreContract(t *testing.T, store SessionStore) {
	ctx := context.Background()
	sessionID := "contract-sess-" + time.Now().Format("20060102150405")

	sess := &domain.Session{
		ID:        sessionID,
		UserID:    "local-user",
		Provider:  domain.ProviderOllama,
		CreatedAt: time.Now().UTC(),
		Profile: domain.ProviderProfile{
			Provider: domain.ProviderOllama,
			Endpoint: "http://localhost:11434",
			Model:    "llama2",
			Tools:    []string{"context.read"},
		},
	}

	t.Run("Save and Load", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, sess))

		loaded, err := store.Load(ctx, sessionID)
		require.NoError(t, err)
		assert.Equal(t, sess.UserID, loaded.UserID)
		assert.Equal(t, sess.Profile.Model, loaded.Profile.Model)
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.Load(ctx, "missing-"+sessionID)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	})

	t.Run("List", func(t *testing.T) {
		ids, err := store.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, ids, sessionID)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.Delete(ctx, sessionID))

		_, err := store.Load(ctx, sessionID)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	})
}
