package persistence

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openSQLite(t *testing.T, path string) *SQLiteBackend {
	t.Helper()
	b, err := NewSQLiteBackend(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestSQLiteBackend_FreshLoad(t *testing.T) {
	b := openSQLite(t, filepath.Join(t.TempDir(), "nested", "shiori.db"))
	snap, err := b.Load(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, snap.StoreID)
	assert.Zero(t, snap.Len())
	assert.Equal(t, "sqlite", b.Name())
}

func TestSQLiteBackend_AppendAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shiori.db")
	ctx := context.Background()

	b, err := NewSQLiteBackend(path)
	require.NoError(t, err)
	fresh, err := b.Load(ctx)
	require.NoError(t, err)

	require.NoError(t, b.Flush(ctx, testSnapshot(fresh.StoreID, 2, 4)))
	want := testSnapshot(fresh.StoreID, 5, 4)
	require.NoError(t, b.Flush(ctx, want))
	// Flushing the same state again adds nothing.
	require.NoError(t, b.Flush(ctx, want))
	require.NoError(t, b.Close())

	got, err := openSQLite(t, path).Load(ctx)
	require.NoError(t, err)
	assertSnapshotEqual(t, want, got)
}

func TestSQLiteBackend_CountMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shiori.db")
	ctx := context.Background()
	b := openSQLite(t, path)
	require.NoError(t, b.Flush(ctx, testSnapshot("id", 2, 2)))

	_, err := b.DB().Exec(`DELETE FROM vectors WHERE seq = 1`)
	require.NoError(t, err)

	_, err = b.Load(ctx)
	assert.ErrorIs(t, err, ErrCorruptStore)
}

func TestSQLiteBackend_BadVectorLength(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shiori.db")
	ctx := context.Background()
	b := openSQLite(t, path)
	require.NoError(t, b.Flush(ctx, testSnapshot("id", 1, 2)))

	_, err := b.DB().Exec(`UPDATE vectors SET embedding = ? WHERE seq = 0`, []byte{1, 2, 3, 4})
	require.NoError(t, err)

	_, err = b.Load(ctx)
	assert.ErrorIs(t, err, ErrCorruptStore)
}

func TestSQLiteBackend_FlushRejectsShorterSnapshot(t *testing.T) {
	ctx := context.Background()
	b := openSQLite(t, filepath.Join(t.TempDir(), "shiori.db"))
	require.NoError(t, b.Flush(ctx, testSnapshot("id", 3, 2)))

	err := b.Flush(ctx, testSnapshot("id", 1, 2))
	assert.ErrorIs(t, err, ErrPersistenceWrite)

	snap, err := b.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, snap.Len())
}

func TestSQLiteBackend_DiskUsage(t *testing.T) {
	ctx := context.Background()
	b := openSQLite(t, filepath.Join(t.TempDir(), "shiori.db"))
	require.NoError(t, b.Flush(ctx, testSnapshot("id", 1, 2)))
	usage, err := b.DiskUsage()
	require.NoError(t, err)
	assert.Positive(t, usage)
}
