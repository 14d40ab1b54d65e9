// Package store persists processed chunks: embeddings go to a vector store,
// documents, chunks and entities go to a knowledge graph.
package store

import (
	"context"
	"fmt"

	"github.com/raphaelgruber/docingest/internal/models"
)

// Embedder turns texts into vectors.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Filter selects chunks by exact metadata values.
type Filter map[string]any

// IdentityFilter selects the chunks of one document version.
func IdentityFilter(source string, sourceType models.SourceType, checksum string) Filter {
	return Filter{
		models.MetaSource:     source,
		models.MetaSourceType: string(sourceType),
		models.MetaChecksum:   checksum,
	}
}

// VectorStore stores embedded chunks. Every backend must be able to delete
// all chunks whose (source, source_type, checksum) metadata matches.
type VectorStore interface {
	AddBatch(ctx context.Context, chunks []models.Chunk) error
	DeleteByIdentity(ctx context.Context, source string, sourceType models.SourceType, checksum string) (int, error)
	SearchByMetadata(ctx context.Context, filter Filter) ([]models.Chunk, error)
	Close() error
}

// EntityExtractor finds the entities mentioned in a text.
type EntityExtractor interface {
	Extract(ctx context.Context, text string) ([]models.ExtractedEntity, error)
}

// GraphStore stores documents, their chunks and the entities they mention.
type GraphStore interface {
	AddDocument(ctx context.Context, docID string, metadata map[string]any, chunks []models.Chunk) error
	RemoveDocument(ctx context.Context, docID string) (bool, error)
	FindRelatedChunks(ctx context.Context, query string, k int) ([]models.Chunk, error)
}

// embedChunks embeds chunk contents and checks the vector count.
func embedChunks(ctx context.Context, e Embedder, chunks []models.Chunk) ([][]float32, error) {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vectors, err := e.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed chunks: %w", err)
	}
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("embed chunks: got %d vectors for %d chunks", len(vectors), len(chunks))
	}
	return vectors, nil
}

// identity reads the (source, source_type, checksum) triple from chunk metadata.
func identity(c models.Chunk) (string, string, string, error) {
	source, sourceType, checksum := c.String(models.MetaSource), c.String(models.MetaSourceType), c.String(models.MetaChecksum)
	if source == "" || sourceType == "" || checksum == "" {
		return "", "", "", fmt.Errorf("chunk is missing source, source_type or checksum metadata")
	}
	return source, sourceType, checksum, nil
}

// trunkID reads the chunk id assigned by the pipeline.
func trunkID(c models.Chunk) (string, error) {
	id := c.String(models.MetaTrunkID)
	if id == "" {
		return "", fmt.Errorf("chunk is missing %s metadata", models.MetaTrunkID)
	}
	return id, nil
}

// matches reports whether metadata holds every filter value. Numbers are
// compared by value, since stores decode them as different numeric types.
func matches(metadata map[string]any, filter Filter) bool {
	for k, want := range filter {
		got, ok := metadata[k]
		if !ok || !sameValue(got, want) {
			return false
		}
	}
	return true
}

func sameValue(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
