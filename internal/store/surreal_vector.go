package store

import (
	"context"
	"fmt"

	"github.com/raphaelgruber/docingest/internal/db"
	"github.com/raphaelgruber/docingest/internal/models"
)

// SurrealVectorStore keeps embedded chunks in the vector_chunk table.
// Deletes are a native filtered DELETE.
type SurrealVectorStore struct {
	db       *db.Client
	embedder Embedder
}

var _ VectorStore = (*SurrealVectorStore)(nil)

// NewSurrealVectorStore creates a SurrealDB-backed vector store.
func NewSurrealVectorStore(client *db.Client, embedder Embedder) *SurrealVectorStore {
	return &SurrealVectorStore{db: client, embedder: embedder}
}

// AddBatch implements VectorStore.
func (s *SurrealVectorStore) AddBatch(ctx context.Context, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	vectors, err := embedChunks(ctx, s.embedder, chunks)
	if err != nil {
		return err
	}

	rows := make([]db.VectorChunk, len(chunks))
	for i, c := range chunks {
		source, sourceType, checksum, err := identity(c)
		if err != nil {
			return err
		}
		id, err := trunkID(c)
		if err != nil {
			return err
		}
		rows[i] = db.VectorChunk{
			TrunkID:    id,
			Content:    c.Content,
			Metadata:   c.Metadata,
			Source:     source,
			SourceType: sourceType,
			Checksum:   checksum,
			Embedding:  vectors[i],
		}
	}
	if err := s.db.QueryInsertVectorChunks(ctx, rows); err != nil {
		return fmt.Errorf("add batch: %w", err)
	}
	return nil
}

// DeleteByIdentity implements VectorStore.
func (s *SurrealVectorStore) DeleteByIdentity(ctx context.Context, source string, sourceType models.SourceType, checksum string) (int, error) {
	return s.db.QueryDeleteVectorChunks(ctx, source, string(sourceType), checksum)
}

// SearchByMetadata implements VectorStore.
func (s *SurrealVectorStore) SearchByMetadata(ctx context.Context, filter Filter) ([]models.Chunk, error) {
	rows, err := s.db.QuerySearchVectorChunks(ctx, filter)
	if err != nil {
		return nil, err
	}
	chunks := make([]models.Chunk, len(rows))
	for i, r := range rows {
		chunks[i] = models.NewChunk(r.Content, r.Metadata)
	}
	return chunks, nil
}

// Close implements VectorStore. The client is owned by the caller.
func (s *SurrealVectorStore) Close() error {
	return nil
}
