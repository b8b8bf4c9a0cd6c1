package docstore

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/shiori/internal/contenthash"
	"github.com/hyperjump/shiori/internal/embedding"
	"github.com/hyperjump/shiori/internal/language"
	"github.com/hyperjump/shiori/internal/models"
	"github.com/hyperjump/shiori/internal/persistence"
)

// fixedEmbedder returns preset vectors per text, so distances are exact.
type fixedEmbedder struct {
	dims    int
	vectors map[string][]float32
	err     error
	calls   atomic.Int32
}

func (e *fixedEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.calls.Add(1)
	if e.err != nil {
		return nil, e.err
	}
	v, ok := e.vectors[text]
	if !ok {
		return nil, fmt.Errorf("no vector for %q", text)
	}
	return v, nil
}

func (e *fixedEmbedder) Dimensions() int { return e.dims }
func (e *fixedEmbedder) Close() error    { return nil }

// memoryBackend keeps the last flushed snapshot in memory.
type memoryBackend struct {
	mu      sync.Mutex
	snap    *persistence.Snapshot
	fail    bool
	flushes int
	closed  bool
}

func (b *memoryBackend) Load(context.Context) (*persistence.Snapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.snap == nil {
		return &persistence.Snapshot{StoreID: "test-store"}, nil
	}
	return b.snap, nil
}

func (b *memoryBackend) Flush(_ context.Context, snap *persistence.Snapshot) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail {
		return fmt.Errorf("%w: disk full", persistence.ErrPersistenceWrite)
	}
	b.flushes++
	b.snap = snap
	return nil
}

func (b *memoryBackend) DiskUsage() (int64, error) { return 42, nil }
func (b *memoryBackend) Name() string              { return "memory" }
func (b *memoryBackend) Close() error {
	b.closed = true
	return nil
}

func newTestStore(t *testing.T, p embedding.Provider, b persistence.Backend, opts ...Option) *Store {
	t.Helper()
	s, err := Open(context.Background(), p.Dimensions(), p, language.NewScriptDetector(0, 0), b, opts...)
	require.NoError(t, err)
	return s
}

func ingestText(t *testing.T, s *Store, text string) *models.IngestResult {
	t.Helper()
	res, err := s.Ingest(context.Background(), models.IngestInput{Content: []byte(text)})
	require.NoError(t, err)
	return res
}

func docIDs(results []*models.RetrieveResult) []string {
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.DocID
	}
	return ids
}

func TestIngest_Idempotent(t *testing.T) {
	p := embedding.NewHashEmbedder(32)
	b := &memoryBackend{}
	s := newTestStore(t, p, b)

	first := ingestText(t, s, "hello world")
	assert.True(t, first.Added)
	assert.Equal(t, "doc_0", first.DocID)
	assert.Equal(t, 1, first.IndexSize)

	second := ingestText(t, s, "hello world")
	assert.False(t, second.Added)
	assert.Equal(t, first.DocID, second.DocID)
	assert.Equal(t, first.Language, second.Language)
	assert.Equal(t, 1, second.IndexSize)
	assert.Equal(t, 1, b.flushes)
}

func TestIngest_DuplicateSkipsEmbedding(t *testing.T) {
	p := &fixedEmbedder{dims: 2, vectors: map[string][]float32{"a": {1, 0}}}
	s := newTestStore(t, p, &memoryBackend{})
	ingestText(t, s, "a")
	ingestText(t, s, "a")
	assert.Equal(t, int32(1), p.calls.Load())
}

func TestIngest_Base64AndRawDeduplicate(t *testing.T) {
	s := newTestStore(t, embedding.NewHashEmbedder(32), &memoryBackend{})
	raw := []byte("\ufeffSame bytes, different transport.\n")

	first, err := s.Ingest(context.Background(), models.IngestInput{Content: raw})
	require.NoError(t, err)

	decoded, err := contenthash.DecodeBase64(base64.StdEncoding.EncodeToString(raw))
	require.NoError(t, err)
	second, err := s.Ingest(context.Background(), models.IngestInput{Content: decoded})
	require.NoError(t, err)

	assert.True(t, first.Added)
	assert.False(t, second.Added)
	assert.Equal(t, first.DocID, second.DocID)
	assert.Equal(t, 1, s.Size())
}

func TestIngest_InvalidInput(t *testing.T) {
	s := newTestStore(t, embedding.NewHashEmbedder(8), &memoryBackend{})
	for _, content := range [][]byte{nil, []byte(""), []byte(" \n\t "), {0xff, 0xfe, 0x00}, []byte("\ufeff")} {
		_, err := s.Ingest(context.Background(), models.IngestInput{Content: content})
		assert.ErrorIs(t, err, ErrInvalidInput, "content %q", content)
	}
	assert.Zero(t, s.Size())
}

func TestIngest_LanguageHintAndDetection(t *testing.T) {
	s := newTestStore(t, embedding.NewHashEmbedder(32), &memoryBackend{})
	ctx := context.Background()

	res, err := s.Ingest(ctx, models.IngestInput{Content: []byte("これは日本語の文書です。")})
	require.NoError(t, err)
	assert.Equal(t, language.Japanese, res.Language)

	res, err = s.Ingest(ctx, models.IngestInput{Content: []byte("plain English text")})
	require.NoError(t, err)
	assert.Equal(t, language.English, res.Language)

	res, err = s.Ingest(ctx, models.IngestInput{Content: []byte("bonjour tout le monde"), LanguageHint: "fr"})
	require.NoError(t, err)
	assert.Equal(t, "fr", res.Language)

	res, err = s.Ingest(ctx, models.IngestInput{Content: []byte("12345 67890")})
	require.NoError(t, err)
	assert.Equal(t, models.UnknownLanguage, res.Language)
}

func TestIngest_FlushFailureRollsBack(t *testing.T) {
	b := &memoryBackend{fail: true}
	s := newTestStore(t, embedding.NewHashEmbedder(16), b)

	_, err := s.Ingest(context.Background(), models.IngestInput{Content: []byte("first document")})
	require.ErrorIs(t, err, ErrPersistenceWrite)
	assert.Zero(t, s.Size())
	_, err = s.Get("doc_0")
	assert.ErrorIs(t, err, ErrNotFound)

	b.fail = false
	res := ingestText(t, s, "first document")
	assert.True(t, res.Added)
	assert.Equal(t, "doc_0", res.DocID)
	assert.Equal(t, 1, res.IndexSize)
	assert.Equal(t, 1, b.snap.Len())
}

func TestIngest_DimensionMismatch(t *testing.T) {
	p := &fixedEmbedder{dims: 2, vectors: map[string][]float32{"short": {1}}}
	s := newTestStore(t, p, &memoryBackend{})
	_, err := s.Ingest(context.Background(), models.IngestInput{Content: []byte("short")})
	assert.ErrorIs(t, err, ErrEmbeddingDimensionMismatch)
	assert.Zero(t, s.Size())
}

func TestIngest_EmbeddingFailure(t *testing.T) {
	p := &fixedEmbedder{dims: 2, err: errors.New("connection refused")}
	s := newTestStore(t, p, &memoryBackend{})
	_, err := s.Ingest(context.Background(), models.IngestInput{Content: []byte("anything")})
	assert.ErrorIs(t, err, ErrEmbeddingFailure)
	assert.Zero(t, s.Size())
}

func TestIngest_ConcurrentIdenticalContent(t *testing.T) {
	s := newTestStore(t, embedding.NewHashEmbedder(16), &memoryBackend{})
	const workers = 16
	var added atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.Ingest(context.Background(), models.IngestInput{Content: []byte("race me")})
			if assert.NoError(t, err) && res.Added {
				added.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), added.Load())
	assert.Equal(t, 1, s.Size())
}

func TestRetrieve_TiesKeepIngestionOrder(t *testing.T) {
	p := &fixedEmbedder{dims: 2, vectors: map[string][]float32{
		"far":   {3, 0},
		"north": {0, 1},
		"east":  {1, 0},
		"west":  {-1, 0},
		"query": {0, 0},
	}}
	s := newTestStore(t, p, &memoryBackend{})
	for _, text := range []string{"far", "north", "east", "west"} {
		ingestText(t, s, text)
	}

	q := models.RetrieveQuery{Query: "query"}.WithK(3)
	first, err := s.Retrieve(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, []string{"doc_1", "doc_2", "doc_3"}, docIDs(first))
	for _, r := range first {
		assert.Equal(t, 1.0, r.Score)
	}

	for i := 0; i < 5; i++ {
		again, err := s.Retrieve(context.Background(), q)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestRetrieve_ScoresNonDecreasing(t *testing.T) {
	s := newTestStore(t, embedding.NewHashEmbedder(64), &memoryBackend{})
	for _, text := range []string{
		"the quick brown fox",
		"jumps over the lazy dog",
		"a fox and a dog",
		"completely unrelated sentence",
		"brown dogs are quick",
	} {
		ingestText(t, s, text)
	}
	results, err := s.Retrieve(context.Background(), models.RetrieveQuery{Query: "quick brown dog"}.WithK(5))
	require.NoError(t, err)
	require.Len(t, results, 5)
	for i := 1; i < len(results); i++ {
		assert.LessOrEqual(t, results[i-1].Score, results[i].Score)
	}
}

func TestRetrieve_EmptyCorpus(t *testing.T) {
	s := newTestStore(t, embedding.NewHashEmbedder(8), &memoryBackend{})
	results, err := s.Retrieve(context.Background(), models.RetrieveQuery{Query: "anything"})
	require.NoError(t, err)
	assert.NotNil(t, results)
	assert.Empty(t, results)
}

func TestRetrieve_InvalidK(t *testing.T) {
	s := newTestStore(t, embedding.NewHashEmbedder(8), &memoryBackend{}, WithMaxK(10))
	ingestText(t, s, "doc")
	for _, k := range []int{0, -1, 11} {
		_, err := s.Retrieve(context.Background(), models.RetrieveQuery{Query: "doc"}.WithK(k))
		assert.ErrorIs(t, err, ErrInvalidK, "k=%d", k)
	}
	results, err := s.Retrieve(context.Background(), models.RetrieveQuery{Query: "doc"}.WithK(10))
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestRetrieve_DefaultK(t *testing.T) {
	s := newTestStore(t, embedding.NewHashEmbedder(8), &memoryBackend{})
	for i := 0; i < 5; i++ {
		ingestText(t, s, fmt.Sprintf("document %d", i))
	}
	results, err := s.Retrieve(context.Background(), models.RetrieveQuery{Query: "document"})
	require.NoError(t, err)
	assert.Len(t, results, models.DefaultK)
}

func TestRetrieve_InvalidQuery(t *testing.T) {
	s := newTestStore(t, embedding.NewHashEmbedder(8), &memoryBackend{})
	_, err := s.Retrieve(context.Background(), models.RetrieveQuery{Query: "  "})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestRetrieve_QueryDimensionMismatch(t *testing.T) {
	p := &fixedEmbedder{dims: 2, vectors: map[string][]float32{"doc": {1, 0}, "bad": {1, 2, 3}}}
	s := newTestStore(t, p, &memoryBackend{})
	ingestText(t, s, "doc")
	_, err := s.Retrieve(context.Background(), models.RetrieveQuery{Query: "bad"})
	assert.ErrorIs(t, err, ErrEmbeddingDimensionMismatch)
}

func TestRetrieve_Snippet(t *testing.T) {
	s := newTestStore(t, embedding.NewHashEmbedder(32), &memoryBackend{})
	long := strings.Repeat("lorem ipsum\n", 30)
	ingestText(t, s, long)

	results, err := s.Retrieve(context.Background(), models.RetrieveQuery{Query: "lorem"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	snippet := results[0].Snippet
	assert.LessOrEqual(t, utf8.RuneCountInString(snippet), 160)
	assert.NotContains(t, snippet, "\n")
	assert.True(t, strings.HasSuffix(snippet, "lorem") || strings.HasSuffix(snippet, "ipsum"), snippet)
}

func TestRetrieve_LanguageFilter(t *testing.T) {
	s := newTestStore(t, embedding.NewHashEmbedder(32), &memoryBackend{})
	ingestText(t, s, "software design notes")
	ingestText(t, s, "ソフトウェア設計のメモ")

	results, err := s.Retrieve(context.Background(), models.RetrieveQuery{Query: "software", Language: language.Japanese})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "doc_1", results[0].DocID)

	results, err = s.Retrieve(context.Background(), models.RetrieveQuery{Query: "software", Language: "de"})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestGetAndStats(t *testing.T) {
	clock := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	b := &memoryBackend{}
	s := newTestStore(t, embedding.NewHashEmbedder(16), b, WithClock(func() time.Time { return clock }))
	_, err := s.Ingest(context.Background(), models.IngestInput{Content: []byte("stored text"), Filename: "a.txt"})
	require.NoError(t, err)

	rec, err := s.Get("doc_0")
	require.NoError(t, err)
	assert.Equal(t, "stored text", rec.Text)
	assert.Equal(t, "a.txt", rec.Filename)
	assert.Equal(t, clock, rec.IngestedAt)
	assert.Equal(t, contenthash.Sum("stored text"), rec.ContentHash)

	_, err = s.Get("doc_9")
	assert.ErrorIs(t, err, ErrNotFound)

	stats := s.Stats()
	assert.Equal(t, "test-store", stats.StoreID)
	assert.Equal(t, 1, stats.IndexSize)
	assert.Equal(t, 16, stats.Dimensions)
	assert.Equal(t, "memory", stats.Backend)
	assert.Equal(t, map[string]int{language.English: 1}, stats.Languages)
	require.NotNil(t, stats.DiskUsageBytes)
	assert.Equal(t, int64(42), *stats.DiskUsageBytes)

	require.NoError(t, s.Close())
	assert.True(t, b.closed)
}

func TestNew_ProviderDimensionMismatch(t *testing.T) {
	_, err := New(8, embedding.NewHashEmbedder(16), nil, &memoryBackend{})
	assert.ErrorIs(t, err, ErrEmbeddingDimensionMismatch)
}

func TestLoad_PersistedDimensionMismatch(t *testing.T) {
	b := &memoryBackend{snap: &persistence.Snapshot{StoreID: "x", Dimensions: 4}}
	_, err := Open(context.Background(), 8, embedding.NewHashEmbedder(8), nil, b)
	assert.ErrorIs(t, err, ErrEmbeddingDimensionMismatch)
}

func TestLoad_CorruptSnapshot(t *testing.T) {
	b := &memoryBackend{snap: &persistence.Snapshot{
		StoreID:    "x",
		Dimensions: 2,
		Records: []*models.DocumentRecord{
			{DocID: "doc_0", ContentHash: "h", Text: "t", SequenceIndex: 0},
			{DocID: "doc_1", ContentHash: "h", Text: "t", SequenceIndex: 1},
		},
		Vectors: [][]float32{{1, 0}, {0, 1}},
	}}
	_, err := Open(context.Background(), 2, &fixedEmbedder{dims: 2}, nil, b)
	assert.ErrorIs(t, err, ErrCorruptStore)
}

func TestEndToEnd(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	docA := "Software development guidelines for teams."
	docB := "Programming languages and frameworks overview."

	backend, err := persistence.NewFileBackend(dir)
	require.NoError(t, err)
	s, err := Open(ctx, 384, embedding.NewHashEmbedder(384), nil, backend)
	require.NoError(t, err)

	resA := ingestText(t, s, docA)
	resB := ingestText(t, s, docB)
	assert.Equal(t, "doc_0", resA.DocID)
	assert.Equal(t, "doc_1", resB.DocID)
	assert.Equal(t, 2, resB.IndexSize)

	query := models.RetrieveQuery{Query: "software development"}.WithK(3)
	results, err := s.Retrieve(ctx, query)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, []string{"doc_0", "doc_1"}, docIDs(results))
	assert.Equal(t, docA, results[0].Snippet)
	assert.Equal(t, docB, results[1].Snippet)
	assert.Less(t, results[0].Score, results[1].Score)
	require.NoError(t, s.Close())

	// The same results survive a restart.
	backend, err = persistence.NewFileBackend(dir)
	require.NoError(t, err)
	reopened, err := Open(ctx, 384, embedding.NewHashEmbedder(384), nil, backend)
	require.NoError(t, err)
	defer reopened.Close()
	assert.Equal(t, 2, reopened.Size())
	again, err := reopened.Retrieve(ctx, query)
	require.NoError(t, err)
	assert.Equal(t, results, again)
}
