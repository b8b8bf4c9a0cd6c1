package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/shiori/internal/models"
)

func TestParseOutputFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    OutputFormat
		wantErr bool
	}{
		{"text", OutputText, false},
		{"JSON", OutputJSON, false},
		{"", OutputText, false},
		{"compact", "", true},
	}
	for _, tt := range tests {
		got, err := ParseOutputFormat(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseOutputFormat(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseOutputFormat(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestWriteRetrieveResults_JSON(t *testing.T) {
	response := &models.RetrieveResponse{
		Query:     "test query",
		QueryTime: 42,
		Results: []*models.RetrieveResult{
			{DocID: "doc_0", Score: 0.25, Snippet: "Content here", Language: "en"},
		},
	}
	var buf bytes.Buffer
	if err := WriteRetrieveResults(&buf, response, OutputJSON); err != nil {
		t.Fatalf("WriteRetrieveResults(json): %v", err)
	}
	var decoded models.RetrieveResponse
	if err := json.NewDecoder(&buf).Decode(&decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if decoded.Query != response.Query || decoded.QueryTime != response.QueryTime {
		t.Errorf("decoded query=%q query_time=%d", decoded.Query, decoded.QueryTime)
	}
	if len(decoded.Results) != 1 || decoded.Results[0].DocID != "doc_0" {
		t.Errorf("decoded results: %+v", decoded.Results)
	}
}

func TestWriteRetrieveResults_Text(t *testing.T) {
	response := &models.RetrieveResponse{
		Results: []*models.RetrieveResult{
			{DocID: "doc_3", Score: 1.5, Snippet: "first snippet", Language: "ja"},
			{DocID: "doc_1", Score: 2, Snippet: "second snippet", Language: "en"},
		},
	}
	var buf bytes.Buffer
	if err := WriteRetrieveResults(&buf, response, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"Found 2 results", "Rank: 1 | Distance: 1.5000 | Language: ja", "ID: doc_3", "second snippet"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "doc_3") > strings.Index(out, "doc_1") {
		t.Error("results should keep their order")
	}
}

func TestWriteRetrieveResults_TextEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteRetrieveResults(&buf, &models.RetrieveResponse{}, OutputText); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "Found 0 results") {
		t.Errorf("got %q", buf.String())
	}
}

func TestWriteIngestResults(t *testing.T) {
	results := []*models.IngestResult{
		{DocID: "doc_0", Language: "en", Added: true, IndexSize: 1, Filename: "a.txt"},
		{DocID: "doc_0", Language: "en", Added: false, IndexSize: 1, Filename: "b.txt"},
	}

	var text bytes.Buffer
	if err := WriteIngestResults(&text, results, OutputText); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(text.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d:\n%s", len(lines), text.String())
	}
	if !strings.HasPrefix(lines[0], "added") || !strings.HasPrefix(lines[1], "duplicate") {
		t.Errorf("unexpected status columns:\n%s", text.String())
	}
	if lines[2] != "index_size: 1" {
		t.Errorf("last line = %q", lines[2])
	}

	var js bytes.Buffer
	if err := WriteIngestResults(&js, results, OutputJSON); err != nil {
		t.Fatal(err)
	}
	var batch models.BatchIngestResult
	if err := json.Unmarshal(js.Bytes(), &batch); err != nil {
		t.Fatal(err)
	}
	if batch.FilesProcessed != 2 || batch.IndexSize != 1 {
		t.Errorf("batch = %+v", batch)
	}
}

func TestWriteStatus(t *testing.T) {
	usage := int64(2048)
	stats := &models.StoreStats{
		StoreID:        "abc",
		IndexSize:      3,
		Dimensions:     384,
		Backend:        "file",
		Languages:      map[string]int{"ja": 1, "en": 2},
		DiskUsageBytes: &usage,
	}
	var buf bytes.Buffer
	if err := WriteStatus(&buf, stats, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"store_id:           abc", "index_size:         3", "disk_usage_bytes:   2048", "# languages"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "en:") > strings.Index(out, "ja:") {
		t.Error("languages should be sorted")
	}
}

func TestWriteDocument(t *testing.T) {
	doc := &models.DocumentRecord{
		DocID:       "doc_2",
		ContentHash: "deadbeef",
		Text:        "full text",
		Language:    "en",
		Filename:    "notes.txt",
		IngestedAt:  time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	var buf bytes.Buffer
	if err := WriteDocument(&buf, doc, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"doc_id:       doc_2", "filename:     notes.txt", "2024-05-01T12:00:00Z", "full text"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
