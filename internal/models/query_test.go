package models

import (
	"testing"
)

func TestRetrieveQuery_Validate(t *testing.T) {
	tests := []struct {
		name    string
		query   *RetrieveQuery
		wantErr bool
	}{
		{"empty query", &RetrieveQuery{Query: ""}, true},
		{"whitespace query", &RetrieveQuery{Query: " \n\t"}, true},
		{"valid query", &RetrieveQuery{Query: "hello"}, false},
		{"k is not checked here", &RetrieveQuery{Query: "x", K: intPtr(-1)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.query.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestFormatDocID(t *testing.T) {
	if got := FormatDocID(0); got != "doc_0" {
		t.Errorf("FormatDocID(0) = %q", got)
	}
	if got := FormatDocID(42); got != "doc_42" {
		t.Errorf("FormatDocID(42) = %q", got)
	}
}

func intPtr(v int) *int { return &v }

func TestRetrieveQuery_ResolveK(t *testing.T) {
	q := RetrieveQuery{Query: "x"}
	if got := q.ResolveK(DefaultK); got != DefaultK {
		t.Errorf("unset K: got %d", got)
	}
	q = q.WithK(0)
	if got := q.ResolveK(DefaultK); got != 0 {
		t.Errorf("explicit zero K: got %d", got)
	}
	if got := (RetrieveQuery{}).WithK(7).ResolveK(DefaultK); got != 7 {
		t.Errorf("K=7: got %d", got)
	}
}
