package vector

import (
	"fmt"
	"sort"
	"sync"
)

// FlatIndex is an append-only vector index with brute-force squared-L2 search.
// The position of a vector in the index is its sequence index.
type FlatIndex struct {
	dimensions int
	vectors    [][]float32
	mu         sync.RWMutex
}

// NewFlatIndex creates an empty index for vectors of the given dimension.
func NewFlatIndex(dimensions int) (*FlatIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &FlatIndex{
		dimensions: dimensions,
		vectors:    make([][]float32, 0),
	}, nil
}

// NewFlatIndexFrom creates an index holding vectors in order. Every vector must have the
// given dimension.
func NewFlatIndexFrom(dimensions int, vectors [][]float32) (*FlatIndex, error) {
	idx, err := NewFlatIndex(dimensions)
	if err != nil {
		return nil, err
	}
	for _, v := range vectors {
		if _, err := idx.Insert(v); err != nil {
			return nil, err
		}
	}
	return idx, nil
}

// Dimensions returns the fixed vector dimension.
func (f *FlatIndex) Dimensions() int {
	return f.dimensions
}

// Insert appends a copy of vec and returns its sequence index.
func (f *FlatIndex) Insert(vec []float32) (int, error) {
	if len(vec) != f.dimensions {
		return 0, &DimensionMismatchError{Expected: f.dimensions, Actual: len(vec)}
	}
	v := make([]float32, f.dimensions)
	copy(v, vec)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vectors = append(f.vectors, v)
	return len(f.vectors) - 1, nil
}

// Search returns the k nearest vectors to query, ascending by distance. Equal distances
// are ordered by ascending sequence index, so results are deterministic.
func (f *FlatIndex) Search(query []float32, k int) ([]Neighbor, error) {
	return f.SearchFiltered(query, k, nil)
}

// SearchFiltered is Search restricted to sequence indexes for which allow returns true.
// A nil allow admits every vector.
func (f *FlatIndex) SearchFiltered(query []float32, k int, allow func(seq int) bool) ([]Neighbor, error) {
	if k <= 0 {
		return nil, ErrInvalidK
	}
	if len(query) != f.dimensions {
		return nil, &DimensionMismatchError{Expected: f.dimensions, Actual: len(query)}
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	scored := make([]Neighbor, 0, len(f.vectors))
	for seq, vec := range f.vectors {
		if allow != nil && !allow(seq) {
			continue
		}
		scored = append(scored, Neighbor{Seq: seq, Distance: SquaredL2(query, vec)})
	}
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Distance != scored[j].Distance {
			return scored[i].Distance < scored[j].Distance
		}
		return scored[i].Seq < scored[j].Seq
	})
	if k > len(scored) {
		k = len(scored)
	}
	result := make([]Neighbor, k)
	copy(result, scored[:k])
	return result, nil
}

// Vector returns the stored vector at seq. The returned slice must not be modified.
func (f *FlatIndex) Vector(seq int) ([]float32, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if seq < 0 || seq >= len(f.vectors) {
		return nil, false
	}
	return f.vectors[seq], true
}

// Vectors returns the stored vectors in sequence order. The inner slices are shared and
// must not be modified.
func (f *FlatIndex) Vectors() [][]float32 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([][]float32, len(f.vectors))
	copy(out, f.vectors)
	return out
}

// Truncate drops every vector at or after sequence index n. It is used to roll back an
// insert whose persistence failed.
func (f *FlatIndex) Truncate(n int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n < 0 || n > len(f.vectors) {
		return fmt.Errorf("truncate to %d out of range [0, %d]", n, len(f.vectors))
	}
	for i := n; i < len(f.vectors); i++ {
		f.vectors[i] = nil
	}
	f.vectors = f.vectors[:n]
	return nil
}

// Size returns the number of vectors in the index.
func (f *FlatIndex) Size() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.vectors)
}
