// Package metadata holds the ordered document records that accompany the vector index.
package metadata

import (
	"errors"
	"fmt"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/hyperjump/shiori/internal/models"
)

// ErrInvalidRecord is returned when a record would break ordering or uniqueness.
var ErrInvalidRecord = errors.New("invalid record")

// Store maps document IDs, content hashes and sequence indexes to records.
// It is not safe for concurrent use; the document store serializes access.
type Store struct {
	records   []*models.DocumentRecord
	byHash    map[string]int
	byID      map[string]int
	languages map[string]*roaring.Bitmap
}

// New returns an empty store.
func New() *Store {
	return &Store{
		records:   make([]*models.DocumentRecord, 0),
		byHash:    make(map[string]int),
		byID:      make(map[string]int),
		languages: make(map[string]*roaring.Bitmap),
	}
}

// NewFrom builds a store from records in sequence order, validating each one as Append does.
func NewFrom(records []*models.DocumentRecord) (*Store, error) {
	s := New()
	for _, rec := range records {
		if err := s.Append(rec); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Append adds rec at the end. Its sequence index must equal Len, and its content hash and
// document ID must be new.
func (s *Store) Append(rec *models.DocumentRecord) error {
	if rec == nil {
		return fmt.Errorf("%w: nil record", ErrInvalidRecord)
	}
	if rec.SequenceIndex != len(s.records) {
		return fmt.Errorf("%w: sequence index %d, expected %d", ErrInvalidRecord, rec.SequenceIndex, len(s.records))
	}
	if rec.ContentHash == "" || rec.DocID == "" {
		return fmt.Errorf("%w: missing doc id or content hash at %d", ErrInvalidRecord, rec.SequenceIndex)
	}
	if _, ok := s.byHash[rec.ContentHash]; ok {
		return fmt.Errorf("%w: duplicate content hash %s", ErrInvalidRecord, rec.ContentHash)
	}
	if _, ok := s.byID[rec.DocID]; ok {
		return fmt.Errorf("%w: duplicate doc id %s", ErrInvalidRecord, rec.DocID)
	}
	seq := len(s.records)
	s.records = append(s.records, rec)
	s.byHash[rec.ContentHash] = seq
	s.byID[rec.DocID] = seq
	bm, ok := s.languages[rec.Language]
	if !ok {
		bm = roaring.New()
		s.languages[rec.Language] = bm
	}
	bm.Add(uint32(seq))
	return nil
}

// ByHash returns the record with the given content hash.
func (s *Store) ByHash(hash string) (*models.DocumentRecord, bool) {
	seq, ok := s.byHash[hash]
	if !ok {
		return nil, false
	}
	return s.records[seq], true
}

// ByID returns the record with the given document ID.
func (s *Store) ByID(docID string) (*models.DocumentRecord, bool) {
	seq, ok := s.byID[docID]
	if !ok {
		return nil, false
	}
	return s.records[seq], true
}

// At returns the record at sequence index seq.
func (s *Store) At(seq int) (*models.DocumentRecord, bool) {
	if seq < 0 || seq >= len(s.records) {
		return nil, false
	}
	return s.records[seq], true
}

// Len returns the number of records.
func (s *Store) Len() int {
	return len(s.records)
}

// Records returns the records in sequence order. The records themselves are shared.
func (s *Store) Records() []*models.DocumentRecord {
	out := make([]*models.DocumentRecord, len(s.records))
	copy(out, s.records)
	return out
}

// Truncate drops every record at or after sequence index n.
func (s *Store) Truncate(n int) error {
	if n < 0 || n > len(s.records) {
		return fmt.Errorf("truncate to %d out of range [0, %d]", n, len(s.records))
	}
	for _, rec := range s.records[n:] {
		delete(s.byHash, rec.ContentHash)
		delete(s.byID, rec.DocID)
	}
	for lang, bm := range s.languages {
		bm.RemoveRange(uint64(n), uint64(len(s.records)))
		if bm.IsEmpty() {
			delete(s.languages, lang)
		}
	}
	for i := n; i < len(s.records); i++ {
		s.records[i] = nil
	}
	s.records = s.records[:n]
	return nil
}

// LanguageFilter returns a predicate admitting sequence indexes of records tagged with
// language. The predicate reads a private copy of the current membership.
func (s *Store) LanguageFilter(language string) func(seq int) bool {
	bm, ok := s.languages[language]
	if !ok {
		return func(int) bool { return false }
	}
	snapshot := bm.Clone()
	return func(seq int) bool { return seq >= 0 && snapshot.Contains(uint32(seq)) }
}

// LanguageCounts returns the number of records per language tag.
func (s *Store) LanguageCounts() map[string]int {
	out := make(map[string]int, len(s.languages))
	for lang, bm := range s.languages {
		out[lang] = int(bm.GetCardinality())
	}
	return out
}

// Languages returns the language tags present, sorted.
func (s *Store) Languages() []string {
	out := make([]string, 0, len(s.languages))
	for lang := range s.languages {
		out = append(out, lang)
	}
	sort.Strings(out)
	return out
}
