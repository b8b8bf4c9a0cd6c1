// Package cli provides output formatting and an API client for the shiori command.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/hyperjump/shiori/internal/models"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat validates a --output flag value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case OutputText, OutputJSON:
		return f, nil
	case "":
		return OutputText, nil
	default:
		return "", fmt.Errorf("unknown output format %q; use text or json", s)
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteRetrieveResults writes retrieval hits to w in the given format.
func WriteRetrieveResults(w io.Writer, response *models.RetrieveResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, response)
	}
	fmt.Fprintf(w, "\nFound %d results in %dms\n\n", len(response.Results), response.QueryTime)
	for i, r := range response.Results {
		fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
		fmt.Fprintf(w, "Rank: %d | Distance: %.4f | Language: %s\n", i+1, r.Score, r.Language)
		fmt.Fprintf(w, "ID: %s\n", r.DocID)
		fmt.Fprintf(w, "\n%s\n\n", r.Snippet)
	}
	return nil
}

// WriteIngestResults writes one line per ingested document, or the batch as JSON.
func WriteIngestResults(w io.Writer, results []*models.IngestResult, format OutputFormat) error {
	if format == OutputJSON {
		size := 0
		if len(results) > 0 {
			size = results[len(results)-1].IndexSize
		}
		return writeJSON(w, &models.BatchIngestResult{
			FilesProcessed: len(results),
			Results:        results,
			IndexSize:      size,
		})
	}
	for _, r := range results {
		status := "added"
		if !r.Added {
			status = "duplicate"
		}
		name := r.Filename
		if name == "" {
			name = "-"
		}
		fmt.Fprintf(w, "%-9s %-10s %-8s %s\n", status, r.DocID, r.Language, name)
	}
	if len(results) > 0 {
		fmt.Fprintf(w, "index_size: %d\n", results[len(results)-1].IndexSize)
	}
	return nil
}

// WriteStatus writes store statistics.
func WriteStatus(w io.Writer, stats *models.StoreStats, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, stats)
	}
	fmt.Fprintf(w, "store_id:           %s\n", stats.StoreID)
	fmt.Fprintf(w, "backend:            %s\n", stats.Backend)
	fmt.Fprintf(w, "index_size:         %d   # count of stored documents\n", stats.IndexSize)
	fmt.Fprintf(w, "dimensions:         %d\n", stats.Dimensions)
	if stats.DiskUsageBytes != nil {
		fmt.Fprintf(w, "disk_usage_bytes:   %d\n", *stats.DiskUsageBytes)
	}
	if len(stats.Languages) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "# languages")
		langs := make([]string, 0, len(stats.Languages))
		for lang := range stats.Languages {
			langs = append(langs, lang)
		}
		sort.Strings(langs)
		for _, lang := range langs {
			fmt.Fprintf(w, "%-18s  %d\n", lang+":", stats.Languages[lang])
		}
	}
	return nil
}

// WriteDocument writes a stored document.
func WriteDocument(w io.Writer, doc *models.DocumentRecord, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, doc)
	}
	fmt.Fprintf(w, "doc_id:       %s\n", doc.DocID)
	fmt.Fprintf(w, "language:     %s\n", doc.Language)
	fmt.Fprintf(w, "content_hash: %s\n", doc.ContentHash)
	if doc.Filename != "" {
		fmt.Fprintf(w, "filename:     %s\n", doc.Filename)
	}
	fmt.Fprintf(w, "ingested_at:  %s\n", doc.IngestedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "\n%s\n", doc.Text)
	return nil
}
