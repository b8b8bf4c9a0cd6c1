// Package embedding maps text to fixed-dimension vectors.
package embedding

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrEmbeddingFailure marks a provider failure the caller may retry.
	ErrEmbeddingFailure = errors.New("embedding failure")
	// ErrDimensionMismatch marks a vector whose length differs from the configured dimension.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Provider produces vector embeddings for text.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
	Close() error
}

// CheckDimensions returns an error wrapping ErrDimensionMismatch when len(vec) != want.
func CheckDimensions(vec []float32, want int) error {
	if len(vec) != want {
		return fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, want, len(vec))
	}
	return nil
}
