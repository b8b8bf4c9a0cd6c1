// Package persistence saves and restores the vector index and document records as one
// committed unit.
package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/hyperjump/shiori/internal/models"
)

var (
	// ErrCorruptStore is returned by Load when persisted artifacts disagree with each other.
	ErrCorruptStore = errors.New("corrupt store")
	// ErrPersistenceWrite is returned by Flush when the new state could not be made durable.
	ErrPersistenceWrite = errors.New("persistence write failed")
)

// Snapshot is the full persisted state. Vectors[i] belongs to Records[i].
type Snapshot struct {
	StoreID    string
	Dimensions int
	Records    []*models.DocumentRecord
	Vectors    [][]float32
}

// Len returns the number of documents.
func (s *Snapshot) Len() int {
	return len(s.Records)
}

// Backend persists snapshots. Flush either commits the whole snapshot or leaves the
// previously committed one in place.
type Backend interface {
	// Load returns the last committed snapshot. A store that was never flushed yields an
	// empty snapshot with a fresh StoreID and zero Dimensions.
	Load(ctx context.Context) (*Snapshot, error)
	Flush(ctx context.Context, snap *Snapshot) error
	// DiskUsage returns the bytes occupied by the store's artifacts.
	DiskUsage() (int64, error)
	Name() string
	Close() error
}

// Validate checks the invariants every loaded snapshot must satisfy: one vector per record,
// contiguous sequence indexes, unique hashes and IDs, and vectors of the stored dimension.
func Validate(snap *Snapshot) error {
	if len(snap.Records) != len(snap.Vectors) {
		return fmt.Errorf("%w: %d records but %d vectors", ErrCorruptStore, len(snap.Records), len(snap.Vectors))
	}
	if len(snap.Records) > 0 && snap.Dimensions <= 0 {
		return fmt.Errorf("%w: missing dimensions", ErrCorruptStore)
	}
	hashes := make(map[string]struct{}, len(snap.Records))
	ids := make(map[string]struct{}, len(snap.Records))
	for i, rec := range snap.Records {
		if rec == nil {
			return fmt.Errorf("%w: nil record at %d", ErrCorruptStore, i)
		}
		if rec.SequenceIndex != i {
			return fmt.Errorf("%w: record %s has sequence index %d at position %d", ErrCorruptStore, rec.DocID, rec.SequenceIndex, i)
		}
		if _, dup := hashes[rec.ContentHash]; dup {
			return fmt.Errorf("%w: duplicate content hash %s", ErrCorruptStore, rec.ContentHash)
		}
		hashes[rec.ContentHash] = struct{}{}
		if _, dup := ids[rec.DocID]; dup {
			return fmt.Errorf("%w: duplicate doc id %s", ErrCorruptStore, rec.DocID)
		}
		ids[rec.DocID] = struct{}{}
		if len(snap.Vectors[i]) != snap.Dimensions {
			return fmt.Errorf("%w: vector %d has %d dimensions, store has %d", ErrCorruptStore, i, len(snap.Vectors[i]), snap.Dimensions)
		}
	}
	return nil
}
