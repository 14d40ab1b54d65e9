package models

import (
	"testing"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

func TestSourceTypeClassification(t *testing.T) {
	tests := []struct {
		st        SourceType
		fileBased bool
		fetched   bool
	}{
		{SourceTypePDF, true, false},
		{SourceTypeText, true, false},
		{SourceTypeCSV, true, false},
		{SourceTypeJSON, true, false},
		{SourceTypeDOCX, true, false},
		{SourceTypeWebPage, false, true},
		{SourceTypeConfluence, false, true},
		{SourceTypeKnowledgeSnippet, false, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.st), func(t *testing.T) {
			if got := tt.st.IsFileBased(); got != tt.fileBased {
				t.Errorf("IsFileBased() = %v, want %v", got, tt.fileBased)
			}
			if got := tt.st.IsFetchBased(); got != tt.fetched {
				t.Errorf("IsFetchBased() = %v, want %v", got, tt.fetched)
			}
		})
	}
}

func TestSourceTypeForExtension(t *testing.T) {
	for ext, want := range map[string]SourceType{
		"pdf":  SourceTypePDF,
		"txt":  SourceTypeText,
		"csv":  SourceTypeCSV,
		"json": SourceTypeJSON,
		"docx": SourceTypeDOCX,
	} {
		got, ok := SourceTypeForExtension(ext)
		if !ok || got != want {
			t.Errorf("SourceTypeForExtension(%q) = %q, %v", ext, got, ok)
		}
	}
	if _, ok := SourceTypeForExtension("exe"); ok {
		t.Error("exe should be unsupported")
	}
}

func TestChecksumVariants(t *testing.T) {
	pending := PendingChecksum()
	if pending.Known() {
		t.Error("pending checksum reported as known")
	}
	if pending.Ptr() != nil {
		t.Error("pending checksum should store as NONE")
	}

	known := KnownChecksum("abc")
	if !known.Known() || known.Value() != "abc" || *known.Ptr() != "abc" {
		t.Errorf("unexpected known checksum %+v", known)
	}

	if got := DedupKey(known, "a.pdf", SourceTypePDF); got != "abc" {
		t.Errorf("DedupKey(known) = %q", got)
	}
	if got := DedupKey(pending, "https://x", SourceTypeWebPage); got != "pending:web_page:https://x" {
		t.Errorf("DedupKey(pending) = %q", got)
	}
}

func TestIndexLogHelpers(t *testing.T) {
	sum := "deadbeef"
	log := IndexLog{
		ID:             surrealmodels.NewRecordID("index_log", "0190-abc"),
		Checksum:       &sum,
		ProcessingType: ProcessingHierarchical,
	}

	if got := log.LogID(); got != "0190-abc" {
		t.Errorf("LogID() = %q", got)
	}
	if !log.IsHierarchical() {
		t.Error("expected hierarchical")
	}
	if got := log.GraphDocumentID(); got != "0190-abc_deadbeef" {
		t.Errorf("GraphDocumentID() = %q", got)
	}

	log.Checksum = nil
	if log.Fingerprint().Known() {
		t.Error("nil checksum should be pending")
	}
}

func TestFilterNormalize(t *testing.T) {
	f := IndexLogFilter{}.Normalize()
	if f.Page != 1 || f.PageSize != DefaultPageSize {
		t.Errorf("defaults = %d/%d", f.Page, f.PageSize)
	}

	f = IndexLogFilter{Page: 3, PageSize: 500}.Normalize()
	if f.PageSize != MaxPageSize {
		t.Errorf("page size not clamped: %d", f.PageSize)
	}
	if f.Offset() != 2*MaxPageSize {
		t.Errorf("Offset() = %d", f.Offset())
	}
}

func TestSortByPage(t *testing.T) {
	chunks := []Chunk{
		{Content: "c1-0", Metadata: map[string]any{MetaPageNumber: 1, MetaChildIndex: 0}},
		{Content: "p1", Metadata: map[string]any{MetaPageNumber: 1}},
		{Content: "c0-1", Metadata: map[string]any{MetaPageNumber: float64(0), MetaChildIndex: uint64(1)}},
		{Content: "p0", Metadata: map[string]any{MetaPageNumber: 0}},
		{Content: "c0-0", Metadata: map[string]any{MetaPageNumber: int64(0), MetaChildIndex: 0}},
	}

	SortByPage(chunks)

	want := []string{"p0", "c0-0", "c0-1", "p1", "c1-0"}
	for i, c := range chunks {
		if c.Content != want[i] {
			t.Fatalf("position %d = %q, want %q", i, c.Content, want[i])
		}
	}
}
