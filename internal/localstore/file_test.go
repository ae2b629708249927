package localstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_RoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state")
	fs := NewFileStore(dir)
	ctx := context.Background()

	_, err := fs.Load(ctx, "sync-queue")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, fs.Save(ctx, "sync-queue", []byte(`{"pending":[]}`)))
	got, err := fs.Load(ctx, "sync-queue")
	require.NoError(t, err)
	assert.Equal(t, `{"pending":[]}`, string(got))

	info, err := os.Stat(filepath.Join(dir, "sync-queue.json"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o640), info.Mode().Perm())
}

func TestFileStore_LeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	fs := NewFileStore(dir)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, fs.Save(ctx, "k", []byte{byte('0' + i)}))
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "k.json", entries[0].Name())
}

func TestFileStore_RejectsPathKeys(t *testing.T) {
	fs := NewFileStore(t.TempDir())
	ctx := context.Background()

	for _, key := range []string{"", "..", "a/b", `a\b`} {
		assert.Error(t, fs.Save(ctx, key, nil), "key %q", key)
	}
}

func TestFileStore_CancelledContext(t *testing.T) {
	fs := NewFileStore(t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, fs.Save(ctx, "k", []byte("x")), context.Canceled)
}

func TestMemory_SaveError(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	boom := errors.New("disk full")

	m.SetSaveError(boom)
	assert.ErrorIs(t, m.Save(ctx, "k", []byte("x")), boom)
	_, err := m.Load(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)

	m.SetSaveError(nil)
	require.NoError(t, m.Save(ctx, "k", []byte("x")))
	assert.Equal(t, 1, m.Saves())
}

func TestMemory_HistoryAndCloseError(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.Save(ctx, "k", []byte("a")))
	require.NoError(t, m.Save(ctx, "k", []byte("b")))
	require.NoError(t, m.Save(ctx, "other", []byte("c")))

	assert.Equal(t, [][]byte{[]byte("a"), []byte("b")}, m.History("k"))
	assert.Empty(t, m.History("missing"))

	assert.NoError(t, m.Close())
	boom := errors.New("locked")
	m.SetCloseError(boom)
	assert.ErrorIs(t, m.Close(), boom)
}

func TestOpen_Drivers(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(DriverSQLite, filepath.Join(dir, "q.db"))
	require.NoError(t, err)
	assert.IsType(t, &SQLite{}, s)
	s.Close()

	s, err = Open(DriverFile, dir)
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s)

	s, err = Open(DriverMemory, "")
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, s)

	_, err = Open("etcd", "")
	assert.Error(t, err)

	_, err = Open(DriverSQLite, "")
	assert.Error(t, err)
}
