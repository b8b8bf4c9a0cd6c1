package models

import (
	"fmt"
	"strings"
)

// DefaultK is the number of results returned when a query does not set K.
const DefaultK = 3

// RetrieveQuery is a similarity search request.
type RetrieveQuery struct {
	Query string `json:"query"`
	// K is the number of results wanted. Nil means the store's default.
	K *int `json:"k,omitempty"`
	// Language restricts candidates to documents with this language tag. Empty means all.
	Language string `json:"language,omitempty"`
}

// Validate checks the query text. K is validated by the store, which knows its limits.
func (q *RetrieveQuery) Validate() error {
	if strings.TrimSpace(q.Query) == "" {
		return fmt.Errorf("query cannot be empty")
	}
	return nil
}

// ResolveK returns K, or def when K is unset.
func (q RetrieveQuery) ResolveK(def int) int {
	if q.K == nil {
		return def
	}
	return *q.K
}

// WithK returns a copy of q with K set to k.
func (q RetrieveQuery) WithK(k int) RetrieveQuery {
	q.K = &k
	return q
}
