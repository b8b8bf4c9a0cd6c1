package models

// RetrieveResult is a single retrieval hit. Score is the squared Euclidean distance
// between the query and document embeddings: lower is more similar.
type RetrieveResult struct {
	DocID    string  `json:"doc_id"`
	Score    float64 `json:"score"`
	Snippet  string  `json:"snippet"`
	Language string  `json:"language"`
}

// RetrieveResponse wraps retrieval hits in ascending score order.
type RetrieveResponse struct {
	Results   []*RetrieveResult `json:"results"`
	Query     string            `json:"query"`
	QueryTime int64             `json:"query_time_ms"`
}

// StoreStats describes the current state of a document store.
type StoreStats struct {
	StoreID        string         `json:"store_id"`
	IndexSize      int            `json:"index_size"`
	Dimensions     int            `json:"dimensions"`
	Backend        string         `json:"backend"`
	Languages      map[string]int `json:"languages"`
	DiskUsageBytes *int64         `json:"disk_usage_bytes,omitempty"`
}
