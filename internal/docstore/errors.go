package docstore

import (
	"errors"

	"github.com/hyperjump/shiori/internal/embedding"
	"github.com/hyperjump/shiori/internal/persistence"
	"github.com/hyperjump/shiori/internal/vector"
)

var (
	// ErrInvalidInput is returned for empty or undecodable document or query text.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound is returned by Get for an unknown document ID.
	ErrNotFound = errors.New("document not found")

	ErrInvalidK                   = vector.ErrInvalidK
	ErrEmbeddingFailure           = embedding.ErrEmbeddingFailure
	ErrEmbeddingDimensionMismatch = embedding.ErrDimensionMismatch
	ErrCorruptStore               = persistence.ErrCorruptStore
	ErrPersistenceWrite           = persistence.ErrPersistenceWrite
)
