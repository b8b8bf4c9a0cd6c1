// Package models defines core data structures for documents, ingestion, and retrieval.
package models

import (
	"fmt"
	"time"
)

// DocIDPrefix is the prefix of every assigned document ID.
const DocIDPrefix = "doc_"

// UnknownLanguage is the tag used when no language could be determined.
const UnknownLanguage = "unknown"

// DocumentRecord is a stored document. Records are created once and never mutated.
type DocumentRecord struct {
	DocID         string    `json:"doc_id" db:"doc_id"`
	ContentHash   string    `json:"content_hash" db:"content_hash"`
	Text          string    `json:"text" db:"text"`
	Language      string    `json:"language" db:"language"`
	SequenceIndex int       `json:"sequence_index" db:"sequence_index"`
	Filename      string    `json:"filename,omitempty" db:"filename"`
	IngestedAt    time.Time `json:"ingested_at" db:"ingested_at"`
}

// FormatDocID returns the document ID for the given sequence index.
func FormatDocID(seq int) string {
	return fmt.Sprintf("%s%d", DocIDPrefix, seq)
}

// IngestInput is the decoded payload handed to the store by a transport.
type IngestInput struct {
	Content      []byte `json:"-"`
	LanguageHint string `json:"language,omitempty"`
	Filename     string `json:"filename,omitempty"`
}

// IngestResult is the outcome of a single ingestion.
type IngestResult struct {
	DocID     string `json:"doc_id"`
	Language  string `json:"language"`
	Added     bool   `json:"added"`
	IndexSize int    `json:"index_size"`
	Filename  string `json:"filename,omitempty"`
}

// BatchIngestResult summarizes a multi-document upload.
type BatchIngestResult struct {
	FilesProcessed int             `json:"files_processed"`
	Results        []*IngestResult `json:"results"`
	IndexSize      int             `json:"index_size"`
}
