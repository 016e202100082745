package session_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/contextkit/pkg/adapters/memory"
	"github.com/aretw0/contextkit/pkg/capability"
	"github.com/aretw0/contextkit/pkg/domain"
	"github.com/aretw0/contextkit/pkg/session"
)

// SlowStore simulates latency to provoke race conditions if locking is missing.
type SlowStore struct {
	data map[string]*domain.Session
	mu   sync.Mutex
}

func (s *SlowStore) Save(ctx context.Context, sess *domain.Session) error {
	time.Sleep(10 * time.Millisecond) // Simulate IO
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.data == nil {
		s.data = make(map[string]*domain.Session)
	}
	s.data[sess.ID] = sess
	return nil
}

func (s *SlowStore) Load(ctx context.Context, sessionID string) (*domain.Session, error) {
	time.Sleep(10 * time.Millisecond) // Simulate IO
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.data[sessionID]; ok {
		copied := *sess
		copied.Messages = append([]domain.Message(nil), sess.Messages...)
		return &copied, nil
	}
	return nil, domain.ErrSessionNotFound
}

func (s *SlowStore) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, sessionID)
	return nil
}

func (s *SlowStore) List(ctx context.Context) ([]string, error) {
	return nil, nil
}

func testRegistry(t *testing.T) *capability.Registry {
	t.Helper()
	reg, err := capability.New(capability.DefaultManifest())
	require.NoError(t, err)
	return reg
}

func TestCreateSnapshotsProfile(t *testing.T) {
	ctx := context.Background()
	mgr := session.NewManager(memory.NewSessionStore(), testRegistry(t))

	sess, err := mgr.Create(ctx, session.CreateRequest{
		UserID:   "u-1",
		Provider: domain.ProviderOllama,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, domain.ProviderOllama, sess.Profile.Provider)
	assert.Equal(t, sess.Profile.Tools, sess.ActiveTools, "empty request activates the whole profile")
	assert.Equal(t, domain.DefaultSystemPrompt, sess.SystemPrompt)
	assert.False(t, sess.CreatedAt.IsZero())

	loaded, err := mgr.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, loaded.ID)
}

func TestCreateRejectsToolsOutsideProfile(t *testing.T) {
	mgr := session.NewManager(memory.NewSessionStore(), testRegistry(t))

	// pipeline.run is azure-only in the default manifest.
	_, err := mgr.Create(context.Background(), session.CreateRequest{
		UserID:      "u-1",
		Provider:    domain.ProviderOllama,
		ActiveTools: []string{"pipeline.run"},
	})
	require.Error(t, err)
	assert.Equal(t, domain.KindCapability, domain.KindOf(err))
	assert.Contains(t, err.Error(), "pipeline.run")
}

func TestCreateUnknownProvider(t *testing.T) {
	mgr := session.NewManager(memory.NewSessionStore(), testRegistry(t))
	_, err := mgr.Create(context.Background(), session.CreateRequest{
		Provider: domain.Provider("bedrock"),
	})
	require.Error(t, err)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestAppendMessageSerialized(t *testing.T) {
	ctx := context.Background()
	store := &SlowStore{}
	mgr := session.NewManager(store, testRegistry(t))

	sess, err := mgr.Create(ctx, session.CreateRequest{Provider: domain.ProviderOllama})
	require.NoError(t, err)

	var wg sync.WaitGroup
	writers := 10
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := mgr.AppendMessage(ctx, sess.ID, domain.Message{
				Role:    domain.RoleUser,
				Content: "hello",
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// Read-modify-write under the session lock loses no messages.
	loaded, err := mgr.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Len(t, loaded.Messages, writers)
	assert.False(t, loaded.Messages[0].Timestamp.IsZero())
}

func TestDeleteThenGet(t *testing.T) {
	ctx := context.Background()
	mgr := session.NewManager(memory.NewSessionStore(), testRegistry(t))

	sess, err := mgr.Create(ctx, session.CreateRequest{Provider: domain.ProviderAzureOpenAI})
	require.NoError(t, err)
	require.NoError(t, mgr.Delete(ctx, sess.ID))

	_, err = mgr.Get(ctx, sess.ID)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestRefreshProfileSwapsAtomically(t *testing.T) {
	ctx := context.Background()
	mgr := session.NewManager(memory.NewSessionStore(), testRegistry(t))

	sess, err := mgr.Create(ctx, session.CreateRequest{Provider: domain.ProviderAzureOpenAI})
	require.NoError(t, err)

	refreshed, err := mgr.RefreshProfile(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.Profile.Provider, refreshed.Profile.Provider)
	assert.ElementsMatch(t, sess.Profile.Tools, refreshed.Profile.Tools)
}
