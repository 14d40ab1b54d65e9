package models

import (
	"fmt"
	"sort"
)

// Chunk metadata keys written by loaders and the processing pipeline.
const (
	MetaSource         = "source"
	MetaSourceType     = "source_type"
	MetaChecksum       = "checksum"
	MetaTrunkID        = "trunk_id"
	MetaIsHierarchical = "is_hierarchical"
	MetaTitle          = "title"

	MetaDocType    = "doc_type"
	MetaDocLevel   = "doc_level"
	MetaIsParent   = "is_parent"
	MetaParentID   = "parent_id"
	MetaChildID    = "child_id"
	MetaPageNumber = "page_number"
	MetaTotalPages = "total_pages"
	MetaChildIndex = "child_index"
)

// Values of MetaDocType and MetaDocLevel.
const (
	DocTypeParent = "parent"
	DocTypeChild  = "child"
)

// Chunk is a piece of document content with provenance metadata.
// Produced by loaders, consumed by the vector and graph stores.
type Chunk struct {
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`
}

// NewChunk creates a chunk with a copy of the given metadata.
func NewChunk(content string, metadata map[string]any) Chunk {
	return Chunk{Content: content, Metadata: CloneMetadata(metadata)}
}

// CloneMetadata returns a shallow copy of a metadata map (never nil).
func CloneMetadata(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// String returns a metadata value as a string, or "" when missing.
func (c Chunk) String(key string) string {
	v, ok := c.Metadata[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Int returns a numeric metadata value. Stores round-trip numbers through
// JSON or CBOR, so several numeric types are accepted.
func (c Chunk) Int(key string) (int, bool) {
	switch v := c.Metadata[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case uint64:
		return int(v), true
	case float64:
		return int(v), true
	case float32:
		return int(v), true
	}
	return 0, false
}

// Bool returns a boolean metadata value.
func (c Chunk) Bool(key string) bool {
	b, _ := c.Metadata[key].(bool)
	return b
}

// IsParent reports whether the chunk is a hierarchical parent.
func (c Chunk) IsParent() bool {
	return c.Bool(MetaIsParent)
}

// SortByPage orders chunks by page_number then child_index, parents first.
func SortByPage(chunks []Chunk) {
	sort.SliceStable(chunks, func(i, j int) bool {
		pi, _ := chunks[i].Int(MetaPageNumber)
		pj, _ := chunks[j].Int(MetaPageNumber)
		if pi != pj {
			return pi < pj
		}
		ci, iChild := chunks[i].Int(MetaChildIndex)
		cj, jChild := chunks[j].Int(MetaChildIndex)
		if iChild != jChild {
			return !iChild
		}
		return ci < cj
	})
}

// ChunkingConfig defines flat and hierarchical split sizes.
type ChunkingConfig struct {
	ChunkSize    int
	ChunkOverlap int

	ParentChunkSize int
	ParentOverlap   int
	ChildChunkSize  int
	ChildOverlap    int
}

// DefaultChunkingConfig returns the default chunking configuration.
func DefaultChunkingConfig() ChunkingConfig {
	return ChunkingConfig{
		ChunkSize:       1024,
		ChunkOverlap:    100,
		ParentChunkSize: 2000,
		ParentOverlap:   200,
		ChildChunkSize:  400,
		ChildOverlap:    50,
	}
}
