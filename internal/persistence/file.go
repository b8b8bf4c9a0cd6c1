package persistence

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/shiori/internal/models"
	"github.com/hyperjump/shiori/internal/vector"
)

const (
	currentFileName = "CURRENT"
	lockFileName    = "LOCK"
	vectorsPrefix   = "vectors-"
	vectorsSuffix   = ".idx"
	metadataPrefix  = "metadata-"
	metadataSuffix  = ".json"
	tmpSuffix       = ".tmp"

	metadataVersion = 1
)

// FileBackend stores each committed state as a generation: one vector index file and one
// metadata file, both named by a generation number. CURRENT names the committed generation
// and is replaced atomically only after both files are durable, so a crash at any point
// leaves either the old or the new generation visible.
type FileBackend struct {
	dir        string
	fs         FileSystem
	codec      vector.Codec
	logger     *zap.Logger
	lock       *dirLock
	generation uint64
	storeID    string
}

// FileOption configures a FileBackend.
type FileOption func(*FileBackend)

// WithFileSystem replaces the filesystem used for data files.
func WithFileSystem(fs FileSystem) FileOption {
	return func(b *FileBackend) {
		b.fs = fs
	}
}

// WithCodec sets the index file compression codec.
func WithCodec(c vector.Codec) FileOption {
	return func(b *FileBackend) {
		b.codec = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) FileOption {
	return func(b *FileBackend) {
		b.logger = l
	}
}

// NewFileBackend creates dir if needed and locks it for exclusive use until Close.
func NewFileBackend(dir string, opts ...FileOption) (*FileBackend, error) {
	b := &FileBackend{
		dir:    dir,
		fs:     LocalFS{},
		codec:  vector.CodecNone,
		logger: zap.NewNop(),
	}
	for _, o := range opts {
		o(b)
	}
	if err := b.fs.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	lock, err := lockDir(filepath.Join(dir, lockFileName))
	if err != nil {
		return nil, err
	}
	b.lock = lock
	return b, nil
}

// Name returns "file".
func (b *FileBackend) Name() string {
	return "file"
}

type metadataFile struct {
	Version    int                      `json:"version"`
	StoreID    string                   `json:"store_id"`
	Dimensions int                      `json:"dimensions"`
	Codec      vector.Codec             `json:"codec"`
	Count      int                      `json:"count"`
	Records    []*models.DocumentRecord `json:"records"`
}

// Load reads the generation named by CURRENT. Files of other generations are leftovers of
// interrupted flushes and are removed.
func (b *FileBackend) Load(ctx context.Context) (*Snapshot, error) {
	gen, err := b.readCurrent()
	if errors.Is(err, os.ErrNotExist) {
		b.generation = 0
		b.storeID = uuid.NewString()
		b.removeStale(0)
		return &Snapshot{StoreID: b.storeID}, nil
	}
	if err != nil {
		return nil, err
	}

	var meta metadataFile
	if err := b.readFile(b.metadataPath(gen), func(r io.Reader) error {
		return json.NewDecoder(r).Decode(&meta)
	}); err != nil {
		return nil, fmt.Errorf("%w: metadata generation %d: %v", ErrCorruptStore, gen, err)
	}
	if meta.Version != metadataVersion {
		return nil, fmt.Errorf("%w: unsupported metadata version %d", ErrCorruptStore, meta.Version)
	}
	if meta.Count != len(meta.Records) {
		return nil, fmt.Errorf("%w: metadata declares %d records but holds %d", ErrCorruptStore, meta.Count, len(meta.Records))
	}

	var dims int
	var vectors [][]float32
	if err := b.readFile(b.vectorsPath(gen), func(r io.Reader) error {
		var err error
		dims, vectors, err = vector.Decode(r)
		return err
	}); err != nil {
		return nil, fmt.Errorf("%w: index generation %d: %v", ErrCorruptStore, gen, err)
	}
	if dims != meta.Dimensions {
		return nil, fmt.Errorf("%w: index has %d dimensions, metadata has %d", ErrCorruptStore, dims, meta.Dimensions)
	}
	if len(vectors) != len(meta.Records) {
		return nil, fmt.Errorf("%w: index has %d vectors, metadata has %d records", ErrCorruptStore, len(vectors), len(meta.Records))
	}

	snap := &Snapshot{
		StoreID:    meta.StoreID,
		Dimensions: meta.Dimensions,
		Records:    meta.Records,
		Vectors:    vectors,
	}
	if err := Validate(snap); err != nil {
		return nil, err
	}
	if snap.StoreID == "" {
		return nil, fmt.Errorf("%w: missing store id", ErrCorruptStore)
	}

	b.generation = gen
	b.storeID = snap.StoreID
	b.removeStale(gen)
	b.logger.Info("loaded store",
		zap.String("dir", b.dir),
		zap.Uint64("generation", gen),
		zap.Int("documents", snap.Len()))
	return snap, nil
}

// Flush writes snap as the next generation and switches CURRENT to it.
func (b *FileBackend) Flush(ctx context.Context, snap *Snapshot) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistenceWrite, err)
	}
	if len(snap.Records) != len(snap.Vectors) {
		return fmt.Errorf("%w: %d records but %d vectors", ErrPersistenceWrite, len(snap.Records), len(snap.Vectors))
	}
	if snap.Dimensions <= 0 {
		return fmt.Errorf("%w: invalid dimensions %d", ErrPersistenceWrite, snap.Dimensions)
	}
	gen := b.generation + 1
	storeID := snap.StoreID
	if storeID == "" {
		storeID = b.storeID
	}
	if storeID == "" {
		storeID = uuid.NewString()
	}

	if _, err := b.writeAtomic(b.vectorsPath(gen), func(w io.Writer) error {
		return vector.Encode(w, snap.Dimensions, snap.Vectors, b.codec)
	}); err != nil {
		_ = b.fs.Remove(b.vectorsPath(gen))
		return fmt.Errorf("%w: write index: %v", ErrPersistenceWrite, err)
	}

	meta := metadataFile{
		Version:    metadataVersion,
		StoreID:    storeID,
		Dimensions: snap.Dimensions,
		Codec:      b.codec,
		Count:      len(snap.Records),
		Records:    snap.Records,
	}
	if _, err := b.writeAtomic(b.metadataPath(gen), func(w io.Writer) error {
		return json.NewEncoder(w).Encode(&meta)
	}); err != nil {
		_ = b.fs.Remove(b.vectorsPath(gen))
		_ = b.fs.Remove(b.metadataPath(gen))
		return fmt.Errorf("%w: write metadata: %v", ErrPersistenceWrite, err)
	}

	renamed, err := b.writeAtomic(filepath.Join(b.dir, currentFileName), func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "%d\n", gen)
		return err
	})
	if err != nil && !renamed {
		_ = b.fs.Remove(b.vectorsPath(gen))
		_ = b.fs.Remove(b.metadataPath(gen))
		return fmt.Errorf("%w: switch generation: %v", ErrPersistenceWrite, err)
	}
	// CURRENT already names gen once the rename succeeded, so gen is committed.
	if err != nil {
		b.logger.Warn("generation switched but directory sync failed",
			zap.Uint64("generation", gen), zap.Error(err))
	}

	prev := b.generation
	b.generation = gen
	b.storeID = storeID
	if prev > 0 {
		if err := b.fs.Remove(b.vectorsPath(prev)); err != nil && !os.IsNotExist(err) {
			b.logger.Warn("failed to remove old index", zap.Uint64("generation", prev), zap.Error(err))
		}
		if err := b.fs.Remove(b.metadataPath(prev)); err != nil && !os.IsNotExist(err) {
			b.logger.Warn("failed to remove old metadata", zap.Uint64("generation", prev), zap.Error(err))
		}
	}
	return nil
}

// DiskUsage returns the size of the data directory.
func (b *FileBackend) DiskUsage() (int64, error) {
	return DiskUsageBytes(b.dir)
}

// Close releases the directory lock.
func (b *FileBackend) Close() error {
	return b.lock.release()
}

func (b *FileBackend) vectorsPath(gen uint64) string {
	return filepath.Join(b.dir, fmt.Sprintf("%s%06d%s", vectorsPrefix, gen, vectorsSuffix))
}

func (b *FileBackend) metadataPath(gen uint64) string {
	return filepath.Join(b.dir, fmt.Sprintf("%s%06d%s", metadataPrefix, gen, metadataSuffix))
}

func (b *FileBackend) readCurrent() (uint64, error) {
	var raw []byte
	err := b.readFile(filepath.Join(b.dir, currentFileName), func(r io.Reader) error {
		var err error
		raw, err = io.ReadAll(r)
		return err
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, err
		}
		return 0, fmt.Errorf("%w: read CURRENT: %v", ErrCorruptStore, err)
	}
	gen, err := strconv.ParseUint(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil || gen == 0 {
		return 0, fmt.Errorf("%w: invalid CURRENT contents %q", ErrCorruptStore, raw)
	}
	return gen, nil
}

func (b *FileBackend) readFile(path string, fn func(io.Reader) error) error {
	f, err := b.fs.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	return fn(bufio.NewReader(f))
}

// writeAtomic writes path via a temp file in the same directory: write, fsync, close,
// rename, then fsync the directory. renamed reports whether path was replaced, which stays
// true when only the final directory sync fails.
func (b *FileBackend) writeAtomic(path string, fn func(io.Writer) error) (renamed bool, err error) {
	tmp := path + tmpSuffix
	f, err := b.fs.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return false, err
	}
	closed := false
	defer func() {
		if err != nil && !renamed {
			if !closed {
				_ = f.Close()
			}
			_ = b.fs.Remove(tmp)
		}
	}()

	w := bufio.NewWriter(f)
	if err = fn(w); err != nil {
		return false, err
	}
	if err = w.Flush(); err != nil {
		return false, err
	}
	if err = f.Sync(); err != nil {
		return false, err
	}
	closed = true
	if err = f.Close(); err != nil {
		return false, err
	}
	if err = b.fs.Rename(tmp, path); err != nil {
		return false, err
	}
	renamed = true
	if err = b.syncDir(); err != nil {
		return true, err
	}
	return true, nil
}

func (b *FileBackend) syncDir() error {
	d, err := b.fs.OpenFile(b.dir, os.O_RDONLY, 0)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

func (b *FileBackend) removeStale(keep uint64) {
	entries, err := b.fs.ReadDir(b.dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		name := e.Name()
		gen, ok := parseGeneration(name)
		if !ok && !strings.HasSuffix(name, tmpSuffix) {
			continue
		}
		if ok && gen == keep {
			continue
		}
		if err := b.fs.Remove(filepath.Join(b.dir, name)); err == nil {
			b.logger.Debug("removed stale file", zap.String("file", name))
		}
	}
}

func parseGeneration(name string) (uint64, bool) {
	var rest string
	switch {
	case strings.HasPrefix(name, vectorsPrefix) && strings.HasSuffix(name, vectorsSuffix):
		rest = strings.TrimSuffix(strings.TrimPrefix(name, vectorsPrefix), vectorsSuffix)
	case strings.HasPrefix(name, metadataPrefix) && strings.HasSuffix(name, metadataSuffix):
		rest = strings.TrimSuffix(strings.TrimPrefix(name, metadataPrefix), metadataSuffix)
	default:
		return 0, false
	}
	gen, err := strconv.ParseUint(rest, 10, 64)
	if err != nil {
		return 0, false
	}
	return gen, true
}
