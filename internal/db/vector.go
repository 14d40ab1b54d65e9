package db

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/surrealdb/surrealdb.go"
)

// VectorChunk is an embedded chunk as stored in vector_chunk.
type VectorChunk struct {
	TrunkID    string         `json:"-"`
	Content    string         `json:"content"`
	Metadata   map[string]any `json:"metadata"`
	Source     string         `json:"source"`
	SourceType string         `json:"source_type"`
	Checksum   string         `json:"checksum"`
	Embedding  []float32      `json:"embedding,omitempty"`
}

// metadataKey restricts filter keys interpolated into field paths.
var metadataKey = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// QueryInsertVectorChunks stores a batch of embedded chunks keyed by trunk id.
func (c *Client) QueryInsertVectorChunks(ctx context.Context, chunks []VectorChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	rows := make([]map[string]any, len(chunks))
	for i, ch := range chunks {
		rows[i] = map[string]any{
			"id":          ch.TrunkID,
			"content":     ch.Content,
			"metadata":    ch.Metadata,
			"source":      ch.Source,
			"source_type": ch.SourceType,
			"checksum":    ch.Checksum,
			"embedding":   ch.Embedding,
		}
	}
	_, err := surrealdb.Query[any](ctx, c.db, `INSERT INTO vector_chunk $rows`, map[string]any{"rows": rows})
	if err != nil {
		return fmt.Errorf("insert vector chunks: %w", wrapQueryError(err))
	}
	return nil
}

// QueryDeleteVectorChunks deletes every chunk of one document version.
// Returns the number of deleted chunks.
func (c *Client) QueryDeleteVectorChunks(ctx context.Context, source, sourceType, checksum string) (int, error) {
	results, err := surrealdb.Query[[]VectorChunk](ctx, c.db, `
		DELETE vector_chunk
		WHERE source = $source AND source_type = $source_type AND checksum = $checksum
		RETURN BEFORE
	`, map[string]any{
		"source":      source,
		"source_type": sourceType,
		"checksum":    checksum,
	})
	if err != nil {
		return 0, fmt.Errorf("delete vector chunks: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 {
		return 0, nil
	}
	return len((*results)[0].Result), nil
}

// QuerySearchVectorChunks returns chunks whose metadata equals every filter value.
// Embeddings are not returned.
func (c *Client) QuerySearchVectorChunks(ctx context.Context, filter map[string]any) ([]VectorChunk, error) {
	keys := make([]string, 0, len(filter))
	for k := range filter {
		if !metadataKey.MatchString(k) {
			return nil, fmt.Errorf("search vector chunks: invalid metadata key %q", k)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	vars := map[string]any{}
	conds := make([]string, len(keys))
	for i, k := range keys {
		name := fmt.Sprintf("f%d", i)
		conds[i] = fmt.Sprintf("metadata.%s = $%s", k, name)
		vars[name] = filter[k]
	}
	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}

	results, err := surrealdb.Query[[]VectorChunk](ctx, c.db, fmt.Sprintf(`
		SELECT content, metadata, source, source_type, checksum FROM vector_chunk %s
	`, where), vars)
	if err != nil {
		return nil, fmt.Errorf("search vector chunks: %w", err)
	}
	if results == nil || len(*results) == 0 {
		return []VectorChunk{}, nil
	}
	return (*results)[0].Result, nil
}
