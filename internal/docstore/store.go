// Package docstore is the content-addressed document store: deduplicating ingestion,
// exact top-k similarity retrieval and synchronous persistence.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/shiori/internal/contenthash"
	"github.com/hyperjump/shiori/internal/embedding"
	"github.com/hyperjump/shiori/internal/language"
	"github.com/hyperjump/shiori/internal/metadata"
	"github.com/hyperjump/shiori/internal/models"
	"github.com/hyperjump/shiori/internal/persistence"
	"github.com/hyperjump/shiori/internal/vector"
)

// DefaultMaxK is the largest k a retrieval may ask for.
const DefaultMaxK = 100

// Store holds the vector index and document records. Ingest takes the write lock for the
// whole dedup-insert-flush sequence; Retrieve searches under the read lock.
type Store struct {
	dimensions int
	provider   embedding.Provider
	detector   language.Detector
	backend    persistence.Backend

	mu      sync.RWMutex
	index   *vector.FlatIndex
	meta    *metadata.Store
	storeID string

	defaultK        int
	maxK            int
	snippetLength   int
	defaultLanguage string
	logger          *zap.Logger
	now             func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// WithDefaultK sets the number of results returned when a query leaves k unset.
func WithDefaultK(k int) Option {
	return func(s *Store) {
		if k > 0 {
			s.defaultK = k
		}
	}
}

// WithMaxK sets the largest accepted k.
func WithMaxK(k int) Option {
	return func(s *Store) {
		if k > 0 {
			s.maxK = k
		}
	}
}

// WithSnippetLength sets the maximum snippet length in characters.
func WithSnippetLength(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.snippetLength = n
		}
	}
}

// WithDefaultLanguage sets the tag used when detection fails.
func WithDefaultLanguage(lang string) Option {
	return func(s *Store) {
		if lang != "" {
			s.defaultLanguage = lang
		}
	}
}

// WithClock replaces the time source for ingestion timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New creates an empty store for embeddings of the given dimension. The store takes
// ownership of provider and backend and closes them in Close. Call Load to restore
// persisted state before serving.
func New(dimensions int, provider embedding.Provider, detector language.Detector, backend persistence.Backend, opts ...Option) (*Store, error) {
	if provider == nil || backend == nil {
		return nil, errors.New("docstore requires an embedding provider and a persistence backend")
	}
	if d := provider.Dimensions(); d > 0 && d != dimensions {
		return nil, fmt.Errorf("%w: provider produces %d dimensions, store configured for %d",
			ErrEmbeddingDimensionMismatch, d, dimensions)
	}
	index, err := vector.NewFlatIndex(dimensions)
	if err != nil {
		return nil, err
	}
	if detector == nil {
		detector = language.NewScriptDetector(0, 0)
	}
	s := &Store{
		dimensions:      dimensions,
		provider:        provider,
		detector:        detector,
		backend:         backend,
		index:           index,
		meta:            metadata.New(),
		defaultK:        models.DefaultK,
		maxK:            DefaultMaxK,
		snippetLength:   DefaultSnippetLength,
		defaultLanguage: models.UnknownLanguage,
		logger:          zap.NewNop(),
		now:             time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.defaultK > s.maxK {
		s.defaultK = s.maxK
	}
	return s, nil
}

// Open is New followed by Load.
func Open(ctx context.Context, dimensions int, provider embedding.Provider, detector language.Detector, backend persistence.Backend, opts ...Option) (*Store, error) {
	s, err := New(dimensions, provider, detector, backend, opts...)
	if err != nil {
		return nil, err
	}
	if err := s.Load(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Load replaces the in-memory state with the backend's last committed snapshot.
func (s *Store) Load(ctx context.Context) error {
	snap, err := s.backend.Load(ctx)
	if err != nil {
		return fmt.Errorf("load store: %w", err)
	}
	if snap.Dimensions != 0 && snap.Dimensions != s.dimensions {
		return fmt.Errorf("%w: persisted store has %d dimensions, configured %d",
			ErrEmbeddingDimensionMismatch, snap.Dimensions, s.dimensions)
	}
	index, err := vector.NewFlatIndexFrom(s.dimensions, snap.Vectors)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptStore, err)
	}
	meta, err := metadata.NewFrom(snap.Records)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptStore, err)
	}
	if index.Size() != meta.Len() {
		return fmt.Errorf("%w: %d vectors but %d records", ErrCorruptStore, index.Size(), meta.Len())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.index = index
	s.meta = meta
	s.storeID = snap.StoreID
	s.logger.Info("document store ready",
		zap.String("store_id", s.storeID),
		zap.String("backend", s.backend.Name()),
		zap.Int("documents", meta.Len()),
		zap.Int("dimensions", s.dimensions))
	return nil
}

// Ingest stores in.Content unless identical content is already present. Adding
// a document returns only after it has been flushed; a failed flush is rolled back.
func (s *Store) Ingest(ctx context.Context, in models.IngestInput) (*models.IngestResult, error) {
	text, err := contenthash.Normalize(in.Content)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: content is empty", ErrInvalidInput)
	}
	hash := contenthash.Sum(text)

	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.meta.ByHash(hash); ok {
		s.logger.Debug("duplicate content", zap.String("doc_id", rec.DocID))
		return &models.IngestResult{
			DocID:     rec.DocID,
			Language:  rec.Language,
			Added:     false,
			IndexSize: s.index.Size(),
			Filename:  in.Filename,
		}, nil
	}

	lang := s.detectLanguage(ctx, text, in.LanguageHint)
	vec, err := s.embed(ctx, text)
	if err != nil {
		return nil, err
	}

	seq := s.index.Size()
	rec := &models.DocumentRecord{
		DocID:         models.FormatDocID(seq),
		ContentHash:   hash,
		Text:          text,
		Language:      lang,
		SequenceIndex: seq,
		Filename:      in.Filename,
		IngestedAt:    s.now().UTC(),
	}
	if _, err := s.index.Insert(vec); err != nil {
		return nil, fmt.Errorf("insert vector: %w", err)
	}
	if err := s.meta.Append(rec); err != nil {
		s.rollback(seq)
		return nil, fmt.Errorf("append record: %w", err)
	}

	if err := s.backend.Flush(context.WithoutCancel(ctx), s.snapshot()); err != nil {
		s.rollback(seq)
		s.logger.Error("flush failed, ingestion rolled back", zap.String("doc_id", rec.DocID), zap.Error(err))
		if !errors.Is(err, ErrPersistenceWrite) {
			err = fmt.Errorf("%w: %v", ErrPersistenceWrite, err)
		}
		return nil, err
	}

	s.logger.Info("document ingested",
		zap.String("doc_id", rec.DocID),
		zap.String("language", lang),
		zap.Int("index_size", s.index.Size()))
	return &models.IngestResult{
		DocID:     rec.DocID,
		Language:  lang,
		Added:     true,
		IndexSize: s.index.Size(),
		Filename:  in.Filename,
	}, nil
}

// Retrieve returns the documents nearest to the query text, ascending by squared
// Euclidean distance. Equal distances keep ingestion order.
func (s *Store) Retrieve(ctx context.Context, q models.RetrieveQuery) ([]*models.RetrieveResult, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	k := q.ResolveK(s.defaultK)
	if k <= 0 || k > s.maxK {
		return nil, fmt.Errorf("%w: k must be between 1 and %d, got %d", ErrInvalidK, s.maxK, k)
	}

	vec, err := s.embed(ctx, q.Query)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var allow func(int) bool
	if q.Language != "" {
		allow = s.meta.LanguageFilter(q.Language)
	}
	neighbors, err := s.index.SearchFiltered(vec, k, allow)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	results := make([]*models.RetrieveResult, 0, len(neighbors))
	for _, n := range neighbors {
		rec, ok := s.meta.At(n.Seq)
		if !ok {
			return nil, fmt.Errorf("%w: no record for sequence index %d", ErrCorruptStore, n.Seq)
		}
		results = append(results, &models.RetrieveResult{
			DocID:    rec.DocID,
			Score:    n.Distance,
			Snippet:  Snippet(rec.Text, s.snippetLength),
			Language: rec.Language,
		})
	}
	return results, nil
}

// Get returns the record with the given document ID.
func (s *Store) Get(docID string) (*models.DocumentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.meta.ByID(docID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, docID)
	}
	out := *rec
	return &out, nil
}

// Size returns the number of stored documents.
func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.Size()
}

// Stats describes the store. Disk usage is omitted when it cannot be measured.
func (s *Store) Stats() *models.StoreStats {
	s.mu.RLock()
	stats := &models.StoreStats{
		StoreID:    s.storeID,
		IndexSize:  s.index.Size(),
		Dimensions: s.dimensions,
		Backend:    s.backend.Name(),
		Languages:  s.meta.LanguageCounts(),
	}
	s.mu.RUnlock()

	if usage, err := s.backend.DiskUsage(); err == nil {
		stats.DiskUsageBytes = &usage
	} else {
		s.logger.Warn("failed to measure disk usage", zap.Error(err))
	}
	return stats
}

// Close releases the backend and the embedding provider.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return errors.Join(s.backend.Close(), s.provider.Close())
}

func (s *Store) detectLanguage(ctx context.Context, text, hint string) string {
	if hint = strings.TrimSpace(hint); hint != "" {
		return hint
	}
	lang, err := s.detector.Detect(ctx, text)
	if err != nil || lang == "" {
		s.logger.Debug("language detection failed", zap.Error(err))
		return s.defaultLanguage
	}
	return lang
}

// embed calls the provider and enforces the store dimension. Provider errors other than
// a dimension mismatch are reported as ErrEmbeddingFailure.
func (s *Store) embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := s.provider.Embed(ctx, text)
	if err != nil {
		if errors.Is(err, ErrEmbeddingDimensionMismatch) {
			s.logger.Error("embedding dimension mismatch", zap.Error(err))
			return nil, err
		}
		if errors.Is(err, ErrEmbeddingFailure) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingFailure, err)
	}
	if err := embedding.CheckDimensions(vec, s.dimensions); err != nil {
		s.logger.Error("embedding dimension mismatch", zap.Error(err))
		return nil, err
	}
	return vec, nil
}

func (s *Store) snapshot() *persistence.Snapshot {
	return &persistence.Snapshot{
		StoreID:    s.storeID,
		Dimensions: s.dimensions,
		Records:    s.meta.Records(),
		Vectors:    s.index.Vectors(),
	}
}

func (s *Store) rollback(n int) {
	if err := s.index.Truncate(n); err != nil {
		s.logger.Error("rollback index", zap.Error(err))
	}
	if err := s.meta.Truncate(n); err != nil {
		s.logger.Error("rollback metadata", zap.Error(err))
	}
}
