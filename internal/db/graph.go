package db

import (
	"context"
	"fmt"

	"github.com/raphaelgruber/docingest/internal/models"
	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// ChunkMention is a chunk together with the normalized name of an entity it mentions.
type ChunkMention struct {
	ChunkID  surrealmodels.RecordID `json:"chunk_id"`
	Content  string                 `json:"content"`
	Position int                    `json:"position"`
	Metadata map[string]any         `json:"metadata,omitempty"`
	NameKey  string                 `json:"name_key"`
}

// QueryUpsertGraphDocument creates or replaces a document node.
func (c *Client) QueryUpsertGraphDocument(ctx context.Context, docID string, metadata map[string]any) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		UPSERT type::record("graph_document", $id) SET
			metadata = $metadata,
			created_at = created_at ?? time::now()
	`, map[string]any{"id": docID, "metadata": metadata})
	if err != nil {
		return fmt.Errorf("upsert graph document: %w", wrapQueryError(err))
	}
	return nil
}

// QueryGetGraphDocument retrieves a document node. Returns nil if not found.
func (c *Client) QueryGetGraphDocument(ctx context.Context, docID string) (*models.GraphDocument, error) {
	results, err := surrealdb.Query[[]models.GraphDocument](ctx, c.db, `
		SELECT * FROM type::record("graph_document", $id)
	`, map[string]any{"id": docID})
	if err != nil {
		return nil, fmt.Errorf("get graph document: %w", err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, nil
	}
	return &(*results)[0].Result[0], nil
}

// QueryAddGraphChunk upserts a chunk node and links it to its document.
func (c *Client) QueryAddGraphChunk(ctx context.Context, docID, chunkID, content string, position int, metadata map[string]any) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		LET $doc = type::record("graph_document", $doc_id);
		LET $chunk = type::record("graph_chunk", $chunk_id);
		UPSERT $chunk SET
			document = $doc,
			content = $content,
			position = $position,
			metadata = $metadata;
		RELATE $doc->has_chunk->$chunk;
	`, map[string]any{
		"doc_id":   docID,
		"chunk_id": chunkID,
		"content":  content,
		"position": position,
		"metadata": metadata,
	})
	if err != nil {
		return fmt.Errorf("add graph chunk: %w", wrapQueryError(err))
	}
	return nil
}

// QueryMentionEntity upserts an entity, bumps its mention count and links
// the chunk to it. Callers mention each entity at most once per chunk.
func (c *Client) QueryMentionEntity(ctx context.Context, chunkID string, entity models.ExtractedEntity) error {
	var description *string
	if entity.Description != "" {
		description = &entity.Description
	}
	entityType := models.NormalizeName(entity.Type)
	if entityType == "" {
		entityType = "concept"
	}

	_, err := surrealdb.Query[any](ctx, c.db, `
		LET $entity = type::record("graph_entity", $key);
		LET $chunk = type::record("graph_chunk", $chunk_id);
		UPSERT $entity SET
			name = name ?? $name,
			name_key = $name_key,
			type = $type,
			description = $description ?? description,
			mention_count = (mention_count ?? 0) + 1,
			created_at = created_at ?? time::now(),
			updated_at = time::now();
		RELATE $chunk->mentions->$entity;
	`, map[string]any{
		"key":         entity.Key(),
		"chunk_id":    chunkID,
		"name":        entity.Name,
		"name_key":    models.NormalizeName(entity.Name),
		"type":        entityType,
		"description": description,
	})
	if err != nil {
		return fmt.Errorf("mention entity %s: %w", entity.Name, wrapQueryError(err))
	}
	return nil
}

// QueryRemoveGraphDocument deletes a document, its chunks and their edges in
// one transaction. Mention counts of the referenced entities are decremented
// and entities no longer mentioned anywhere are deleted.
// Returns false if the document did not exist.
func (c *Client) QueryRemoveGraphDocument(ctx context.Context, docID string) (bool, error) {
	doc, err := c.QueryGetGraphDocument(ctx, docID)
	if err != nil {
		return false, err
	}
	if doc == nil {
		return false, nil
	}

	_, err = surrealdb.Query[any](ctx, c.db, `
		BEGIN TRANSACTION;
		LET $doc = type::record("graph_document", $id);
		LET $chunks = (SELECT VALUE id FROM graph_chunk WHERE document = $doc);
		LET $edges = (SELECT id, out FROM mentions WHERE in IN $chunks);
		FOR $e IN $edges {
			UPDATE $e.out SET mention_count -= 1;
		};
		DELETE mentions WHERE in IN $chunks;
		DELETE has_chunk WHERE in = $doc;
		DELETE graph_chunk WHERE document = $doc;
		DELETE $doc;
		DELETE graph_entity WHERE id IN $edges.out AND mention_count <= 0;
		COMMIT TRANSACTION;
	`, map[string]any{"id": docID})
	if err != nil {
		return false, fmt.Errorf("remove graph document: %w", wrapQueryError(err))
	}
	return true, nil
}

// QueryChunksMentioning returns one row per (chunk, entity) mention for the
// given normalized entity names.
func (c *Client) QueryChunksMentioning(ctx context.Context, nameKeys []string) ([]ChunkMention, error) {
	if len(nameKeys) == 0 {
		return []ChunkMention{}, nil
	}
	results, err := surrealdb.Query[[]ChunkMention](ctx, c.db, `
		SELECT
			in AS chunk_id,
			in.content AS content,
			in.position AS position,
			in.metadata AS metadata,
			out.name_key AS name_key
		FROM mentions WHERE out.name_key IN $keys
	`, map[string]any{"keys": nameKeys})
	if err != nil {
		return nil, fmt.Errorf("chunks mentioning: %w", err)
	}
	if results == nil || len(*results) == 0 {
		return []ChunkMention{}, nil
	}
	return (*results)[0].Result, nil
}

// QueryGetEntity retrieves an entity by its "<type>:<name>" key. Returns nil if not found.
func (c *Client) QueryGetEntity(ctx context.Context, key string) (*models.Entity, error) {
	results, err := surrealdb.Query[[]models.Entity](ctx, c.db, `
		SELECT * FROM type::record("graph_entity", $key)
	`, map[string]any{"key": key})
	if err != nil {
		return nil, fmt.Errorf("get entity: %w", err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, nil
	}
	return &(*results)[0].Result[0], nil
}

// QueryCountGraphChunks returns the number of chunk nodes of a document.
func (c *Client) QueryCountGraphChunks(ctx context.Context, docID string) (int, error) {
	type countRow struct {
		Count int `json:"count"`
	}
	results, err := surrealdb.Query[[]countRow](ctx, c.db, `
		SELECT count() AS count FROM graph_chunk
		WHERE document = type::record("graph_document", $id) GROUP ALL
	`, map[string]any{"id": docID})
	if err != nil {
		return 0, fmt.Errorf("count graph chunks: %w", err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return 0, nil
	}
	return (*results)[0].Result[0].Count, nil
}
