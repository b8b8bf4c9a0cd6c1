package persistence

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/shiori/internal/vector"
)

var errInjected = errors.New("injected fault")

// faultyFS fails file creation or renames whose path contains the configured pattern.
// With syncDir set, the failDirSync-th read-only open of that directory fails.
type faultyFS struct {
	LocalFS
	failCreate  string
	failRename  string
	syncDir     string
	dirSyncs    int
	failDirSync int
}

func (f *faultyFS) OpenFile(name string, flag int, perm os.FileMode) (File, error) {
	if f.syncDir != "" && name == f.syncDir && flag == os.O_RDONLY {
		f.dirSyncs++
		if f.dirSyncs == f.failDirSync {
			return nil, errInjected
		}
	}
	if f.failCreate != "" && flag&os.O_CREATE != 0 && strings.Contains(name, f.failCreate) {
		return nil, errInjected
	}
	return f.LocalFS.OpenFile(name, flag, perm)
}

func (f *faultyFS) Rename(oldpath, newpath string) error {
	if f.failRename != "" && strings.Contains(filepath.Base(newpath), f.failRename) {
		return errInjected
	}
	return f.LocalFS.Rename(oldpath, newpath)
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

func reopen(t *testing.T, dir string, opts ...FileOption) *FileBackend {
	t.Helper()
	b, err := NewFileBackend(dir, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestFileBackend_FreshLoad(t *testing.T) {
	b := reopen(t, t.TempDir())
	snap, err := b.Load(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, snap.StoreID)
	assert.Zero(t, snap.Dimensions)
	assert.Zero(t, snap.Len())
	assert.Equal(t, "file", b.Name())
}

func TestFileBackend_RoundTrip(t *testing.T) {
	for _, codec := range []vector.Codec{vector.CodecNone, vector.CodecZstd, vector.CodecLZ4} {
		t.Run(string(codec), func(t *testing.T) {
			dir := t.TempDir()
			ctx := context.Background()

			b, err := NewFileBackend(dir, WithCodec(codec))
			require.NoError(t, err)
			fresh, err := b.Load(ctx)
			require.NoError(t, err)
			want := testSnapshot(fresh.StoreID, 4, 3)
			require.NoError(t, b.Flush(ctx, want))
			require.NoError(t, b.Close())

			got, err := reopen(t, dir).Load(ctx)
			require.NoError(t, err)
			assertSnapshotEqual(t, want, got)
		})
	}
}

func TestFileBackend_KeepsOnlyCurrentGeneration(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	b := reopen(t, dir)
	_, err := b.Load(ctx)
	require.NoError(t, err)

	require.NoError(t, b.Flush(ctx, testSnapshot("id", 1, 2)))
	require.NoError(t, b.Flush(ctx, testSnapshot("id", 2, 2)))

	assert.Equal(t, []string{"CURRENT", "LOCK", "metadata-000002.json", "vectors-000002.idx"}, listDir(t, dir))
	usage, err := b.DiskUsage()
	require.NoError(t, err)
	assert.Positive(t, usage)
}

func TestFileBackend_CrashBetweenIndexAndMetadataWrite(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	ffs := &faultyFS{}

	b, err := NewFileBackend(dir, WithFileSystem(ffs))
	require.NoError(t, err)
	_, err = b.Load(ctx)
	require.NoError(t, err)
	before := testSnapshot("id", 2, 3)
	require.NoError(t, b.Flush(ctx, before))

	ffs.failCreate = metadataPrefix
	err = b.Flush(ctx, testSnapshot("id", 3, 3))
	require.ErrorIs(t, err, ErrPersistenceWrite)
	require.NoError(t, b.Close())

	got, err := reopen(t, dir).Load(ctx)
	require.NoError(t, err)
	assertSnapshotEqual(t, before, got)
}

func TestFileBackend_CrashBeforeGenerationSwitch(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	ffs := &faultyFS{}

	b, err := NewFileBackend(dir, WithFileSystem(ffs))
	require.NoError(t, err)
	_, err = b.Load(ctx)
	require.NoError(t, err)
	before := testSnapshot("id", 1, 2)
	require.NoError(t, b.Flush(ctx, before))

	ffs.failRename = currentFileName
	require.ErrorIs(t, b.Flush(ctx, testSnapshot("id", 2, 2)), ErrPersistenceWrite)
	require.NoError(t, b.Close())

	got, err := reopen(t, dir).Load(ctx)
	require.NoError(t, err)
	assertSnapshotEqual(t, before, got)
}

func TestFileBackend_DirSyncFailureAfterGenerationSwitch(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	ffs := &faultyFS{}

	b, err := NewFileBackend(dir, WithFileSystem(ffs))
	require.NoError(t, err)
	_, err = b.Load(ctx)
	require.NoError(t, err)
	require.NoError(t, b.Flush(ctx, testSnapshot("id", 1, 2)))

	// index, metadata, then CURRENT: the third sync runs after CURRENT is renamed.
	ffs.syncDir = dir
	ffs.failDirSync = 3
	after := testSnapshot("id", 2, 2)
	require.NoError(t, b.Flush(ctx, after))
	assert.Equal(t, 3, ffs.dirSyncs)
	assert.Equal(t, []string{"CURRENT", "LOCK", "metadata-000002.json", "vectors-000002.idx"}, listDir(t, dir))

	ffs.syncDir = ""
	third := testSnapshot("id", 3, 2)
	require.NoError(t, b.Flush(ctx, third))
	require.NoError(t, b.Close())

	got, err := reopen(t, dir).Load(ctx)
	require.NoError(t, err)
	assertSnapshotEqual(t, third, got)
}

func TestFileBackend_DirSyncFailureBeforeGenerationSwitch(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	ffs := &faultyFS{}

	b, err := NewFileBackend(dir, WithFileSystem(ffs))
	require.NoError(t, err)
	_, err = b.Load(ctx)
	require.NoError(t, err)
	before := testSnapshot("id", 1, 2)
	require.NoError(t, b.Flush(ctx, before))

	ffs.syncDir = dir
	ffs.failDirSync = 2
	require.ErrorIs(t, b.Flush(ctx, testSnapshot("id", 2, 2)), ErrPersistenceWrite)
	assert.Equal(t, []string{"CURRENT", "LOCK", "metadata-000001.json", "vectors-000001.idx"}, listDir(t, dir))
	require.NoError(t, b.Close())

	got, err := reopen(t, dir).Load(ctx)
	require.NoError(t, err)
	assertSnapshotEqual(t, before, got)
}

func TestFileBackend_LoadRemovesLeftovers(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	b, err := NewFileBackend(dir)
	require.NoError(t, err)
	_, err = b.Load(ctx)
	require.NoError(t, err)
	before := testSnapshot("id", 1, 2)
	require.NoError(t, b.Flush(ctx, before))
	require.NoError(t, b.Close())

	// A process killed mid-flush leaves the next generation's index and a temp file.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "vectors-000002.idx"), []byte("partial"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "metadata-000002.json.tmp"), []byte("{"), 0644))

	got, err := reopen(t, dir).Load(ctx)
	require.NoError(t, err)
	assertSnapshotEqual(t, before, got)
	assert.Equal(t, []string{"CURRENT", "LOCK", "metadata-000001.json", "vectors-000001.idx"}, listDir(t, dir))
}

func TestFileBackend_CountMismatch(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	b, err := NewFileBackend(dir)
	require.NoError(t, err)
	_, err = b.Load(ctx)
	require.NoError(t, err)
	snap := testSnapshot("id", 2, 2)
	require.NoError(t, b.Flush(ctx, snap))
	require.NoError(t, b.Close())

	f, err := os.Create(filepath.Join(dir, "vectors-000001.idx"))
	require.NoError(t, err)
	require.NoError(t, vector.Encode(f, 2, snap.Vectors[:1], vector.CodecNone))
	require.NoError(t, f.Close())

	_, err = reopen(t, dir).Load(ctx)
	assert.ErrorIs(t, err, ErrCorruptStore)
}

func TestFileBackend_MissingGenerationFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, currentFileName), []byte("7\n"), 0644))
	_, err := reopen(t, dir).Load(context.Background())
	assert.ErrorIs(t, err, ErrCorruptStore)
}

func TestFileBackend_InvalidCurrent(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, currentFileName), []byte("garbage"), 0644))
	_, err := reopen(t, dir).Load(context.Background())
	assert.ErrorIs(t, err, ErrCorruptStore)
}

func TestFileBackend_FlushCanceled(t *testing.T) {
	b := reopen(t, t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, b.Flush(ctx, testSnapshot("id", 1, 2)), ErrPersistenceWrite)
}

func TestFileBackend_ExclusiveLock(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("flock not available")
	}
	dir := t.TempDir()
	b, err := NewFileBackend(dir)
	require.NoError(t, err)

	_, err = NewFileBackend(dir)
	assert.Error(t, err)

	require.NoError(t, b.Close())
	b2, err := NewFileBackend(dir)
	require.NoError(t, err)
	require.NoError(t, b2.Close())
}
