package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/contextkit/pkg/domain"
	"github.com/aretw0/contextkit/pkg/ports"
)

func TestSessionStoreContract(t *testing.T) {
	ports.RunSessionStoreContract(t, New(t.TempDir()))
}

func TestDefaultBasePath(t *testing.T) {
	store := New("")
	assert.Equal(t, filepath.Join(".contextkit", "sessions"), store.BasePath)
}

func TestSaveIsAtomic(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := New(dir)

	sess := &domain.Session{ID: "s-atomic", UserID: "u-1"}
	require.NoError(t, store.Save(ctx, sess))

	sess.UserID = "u-2"
	require.NoError(t, store.Save(ctx, sess))

	// No temp files left behind after an overwrite.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "s-atomic.json", entries[0].Name())

	loaded, err := store.Load(ctx, "s-atomic")
	require.NoError(t, err)
	assert.Equal(t, "u-2", loaded.UserID)
}

func TestSaveRejectsEmptyID(t *testing.T) {
	store := New(t.TempDir())
	assert.Error(t, store.Save(context.Background(), &domain.Session{}))
	assert.Error(t, store.Save(context.Background(), nil))
}

func TestDeleteMissingIsNoop(t *testing.T) {
	store := New(t.TempDir())
	assert.NoError(t, store.Delete(context.Background(), "never-saved"))
}

func TestListIgnoresNonSessionFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := New(dir)

	require.NoError(t, store.Save(ctx, &domain.Session{ID: "s-1", UserID: "u-1"}))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0755))

	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"s-1"}, ids)
}

func TestListMissingDirIsEmpty(t *testing.T) {
	store := New(filepath.Join(t.TempDir(), "does-not-exist"))
	ids, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestLoadCorruptFile(t *testing.T) {
	dir := t.TempDir()
	store := New(dir)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.json"), []byte("{not json"), 0644))
	_, err := store.Load(context.Background(), "bad")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrSessionNotFound)
}
