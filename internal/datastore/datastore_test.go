package datastore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func testConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig(filepath.Join(t.TempDir(), "nested", "store.json"))
	cfg.AutoSaveInterval = 0
	return cfg
}

func TestPutGetPersist(t *testing.T) {
	cfg := testConfig(t)
	ds, err := NewWithConfig(cfg)
	require.NoError(t, err)

	require.NoError(t, ds.Put("session:a", record{Name: "a", Count: 1}))
	require.NoError(t, ds.Put("session:b", record{Name: "b", Count: 2}))
	require.NoError(t, ds.Put("other", 7))
	assert.Equal(t, []string{"session:a", "session:b"}, ds.Keys("session:"))

	var got record
	require.NoError(t, ds.Get("session:b", &got))
	assert.Equal(t, record{Name: "b", Count: 2}, got)
	assert.ErrorIs(t, ds.Get("missing", &got), ErrNotFound)

	ds.Delete("other")
	require.NoError(t, ds.Close())
	assert.ErrorIs(t, ds.Put("x", 1), ErrClosed)
	assert.NoError(t, ds.Close())

	reopened, err := NewWithConfig(cfg)
	require.NoError(t, err)
	defer reopened.Close()
	require.NoError(t, reopened.Get("session:a", &got))
	assert.Equal(t, "a", got.Name)
	assert.Equal(t, 2, reopened.Stats().Keys)
}

func TestMemoryLimit(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxMemorySize = 16
	ds, err := NewWithConfig(cfg)
	require.NoError(t, err)
	defer ds.Close()

	require.NoError(t, ds.Put("a", "short"))
	assert.ErrorIs(t, ds.Put("b", "this value is far too long"), ErrMemoryLimit)
	// replacing a key only counts the difference
	require.NoError(t, ds.Put("a", "tiny"))
}

func TestBackupsArePruned(t *testing.T) {
	cfg := testConfig(t)
	cfg.BackupCount = 2
	ds, err := NewWithConfig(cfg)
	require.NoError(t, err)

	for i := range 5 {
		require.NoError(t, ds.Put("n", i))
		require.NoError(t, ds.Save())
	}
	require.NoError(t, ds.Close())

	backups, err := filepath.Glob(cfg.FilePath + ".backup.*")
	require.NoError(t, err)
	assert.LessOrEqual(t, len(backups), 2)
}

func TestCorruptFile(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(cfg.FilePath), 0o755))
	require.NoError(t, os.WriteFile(cfg.FilePath, []byte("{not json"), 0o644))
	_, err := NewWithConfig(cfg)
	assert.Error(t, err)
}
