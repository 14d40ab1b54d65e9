// Package models defines data structures for the document ingestion engine.
package models

import (
	"fmt"
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// SourceType classifies a document source. It selects the loader and
// decides whether the source is a local file subject to archival.
type SourceType string

const (
	SourceTypePDF              SourceType = "pdf"
	SourceTypeText             SourceType = "text"
	SourceTypeCSV              SourceType = "csv"
	SourceTypeJSON             SourceType = "json"
	SourceTypeDOCX             SourceType = "docx"
	SourceTypeWebPage          SourceType = "web_page"
	SourceTypeConfluence       SourceType = "confluence"
	SourceTypeKnowledgeSnippet SourceType = "knowledge_snippet"
)

// AllSourceTypes lists every known source type.
var AllSourceTypes = []SourceType{
	SourceTypePDF,
	SourceTypeText,
	SourceTypeCSV,
	SourceTypeJSON,
	SourceTypeDOCX,
	SourceTypeWebPage,
	SourceTypeConfluence,
	SourceTypeKnowledgeSnippet,
}

// ParseSourceType validates a source type string.
func ParseSourceType(s string) (SourceType, error) {
	for _, st := range AllSourceTypes {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown source type: %q", s)
}

// IsFileBased reports whether the source is a local file that gets
// moved to the archive directory after successful processing.
func (s SourceType) IsFileBased() bool {
	switch s {
	case SourceTypeWebPage, SourceTypeConfluence, SourceTypeKnowledgeSnippet:
		return false
	default:
		return true
	}
}

// IsFetchBased reports whether content is only known after a remote fetch,
// so the checksum is resolved post-load.
func (s SourceType) IsFetchBased() bool {
	return s == SourceTypeWebPage || s == SourceTypeConfluence
}

// SourceTypeForExtension maps a file extension (without the dot) to a source type.
// Returns false for unsupported extensions.
func SourceTypeForExtension(ext string) (SourceType, bool) {
	switch ext {
	case "pdf":
		return SourceTypePDF, true
	case "txt":
		return SourceTypeText, true
	case "csv":
		return SourceTypeCSV, true
	case "json":
		return SourceTypeJSON, true
	case "docx":
		return SourceTypeDOCX, true
	}
	return "", false
}

// Status is the processing state of an index log row.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusFailed     Status = "failed"
	StatusCompleted  Status = "completed"
)

// ParseStatus validates a status string.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPending, StatusInProgress, StatusFailed, StatusCompleted:
		return Status(s), nil
	}
	return "", fmt.Errorf("unknown status: %q", s)
}

// ProcessingType selects flat or parent/child chunking.
type ProcessingType string

const (
	ProcessingStandard     ProcessingType = "standard"
	ProcessingHierarchical ProcessingType = "hierarchical"
)

// ParseProcessingType validates a processing type string. Empty means standard.
func ParseProcessingType(s string) (ProcessingType, error) {
	switch ProcessingType(s) {
	case "", ProcessingStandard:
		return ProcessingStandard, nil
	case ProcessingHierarchical:
		return ProcessingHierarchical, nil
	}
	return "", fmt.Errorf("unknown processing type: %q", s)
}

// SystemUser is recorded in audit fields for changes made by scheduled jobs.
const SystemUser = "system"

// StalledResetMessage is written to error_message when a stalled row is reset.
const StalledResetMessage = "Reset due to stalled processing"

// Checksum is a content fingerprint that may not be known yet.
// Fetch-based sources start with a pending checksum that is resolved after load.
type Checksum struct {
	value string
}

// KnownChecksum wraps a computed fingerprint.
func KnownChecksum(v string) Checksum {
	return Checksum{value: v}
}

// PendingChecksum returns the unresolved variant.
func PendingChecksum() Checksum {
	return Checksum{}
}

// Known reports whether the fingerprint has been computed.
func (c Checksum) Known() bool {
	return c.value != ""
}

// Value returns the fingerprint, or "" when pending.
func (c Checksum) Value() string {
	return c.value
}

// Ptr returns the fingerprint for storage: nil (NONE) when pending.
func (c Checksum) Ptr() *string {
	if !c.Known() {
		return nil
	}
	v := c.value
	return &v
}

func (c Checksum) String() string {
	if !c.Known() {
		return "<pending>"
	}
	return c.value
}

// DedupKey returns the value of the unique dedup index for a row.
// Known checksums key on the fingerprint. Pending rows key on their identity,
// which is unique on its own.
func DedupKey(c Checksum, source string, sourceType SourceType) string {
	if c.Known() {
		return c.value
	}
	return fmt.Sprintf("pending:%s:%s", sourceType, source)
}

// IndexLog tracks one document source through its processing lifecycle.
type IndexLog struct {
	ID             surrealmodels.RecordID `json:"id"`
	Source         string                 `json:"source"`
	SourceType     SourceType             `json:"source_type"`
	Checksum       *string                `json:"checksum,omitempty"`
	DedupKey       string                 `json:"dedup_key"`
	Status         Status                 `json:"status"`
	ProcessingType ProcessingType         `json:"processing_type"`
	RetryCount     int                    `json:"retry_count"`
	ErrorMessage   *string                `json:"error_message,omitempty"`
	ClaimedBy      *string                `json:"claimed_by,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
	CreatedBy      string                 `json:"created_by"`
	ModifiedAt     time.Time              `json:"modified_at"`
	ModifiedBy     string                 `json:"modified_by"`
}

// LogID returns the string key of the row.
func (l *IndexLog) LogID() string {
	id, err := RecordIDString(l.ID)
	if err != nil {
		return fmt.Sprint(l.ID.ID)
	}
	return id
}

// Fingerprint returns the typed checksum of the row.
func (l *IndexLog) Fingerprint() Checksum {
	if l.Checksum == nil {
		return PendingChecksum()
	}
	return KnownChecksum(*l.Checksum)
}

// IsHierarchical reports whether parent/child chunking was requested.
func (l *IndexLog) IsHierarchical() bool {
	return l.ProcessingType == ProcessingHierarchical
}

// GraphDocumentID derives the versioned graph document key.
// A content change produces a new key, so old and new graph versions never collide.
func (l *IndexLog) GraphDocumentID() string {
	return GraphDocumentID(l.LogID(), l.Fingerprint())
}

// GraphDocumentID derives the graph document key from a row id and its checksum.
func GraphDocumentID(logID string, c Checksum) string {
	if !c.Known() {
		return logID + "_pending"
	}
	return logID + "_" + c.Value()
}

// IndexLogFilter narrows a paginated listing.
type IndexLogFilter struct {
	Source      string
	SourceType  SourceType
	Status      Status
	CreatedBy   string
	CreatedFrom *time.Time
	CreatedTo   *time.Time
	Page        int
	PageSize    int
}

// Pagination defaults for listings.
const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// Normalize clamps page and page size into their valid ranges.
func (f IndexLogFilter) Normalize() IndexLogFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 {
		f.PageSize = DefaultPageSize
	}
	if f.PageSize > MaxPageSize {
		f.PageSize = MaxPageSize
	}
	return f
}

// Offset returns the number of rows to skip for the current page.
func (f IndexLogFilter) Offset() int {
	return (f.Page - 1) * f.PageSize
}
