package store

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/raphaelgruber/docingest/internal/db"
	"github.com/raphaelgruber/docingest/internal/models"
)

// GraphDB is the subset of db.Client used by the graph store.
type GraphDB interface {
	QueryUpsertGraphDocument(ctx context.Context, docID string, metadata map[string]any) error
	QueryAddGraphChunk(ctx context.Context, docID, chunkID, content string, position int, metadata map[string]any) error
	QueryMentionEntity(ctx context.Context, chunkID string, entity models.ExtractedEntity) error
	QueryRemoveGraphDocument(ctx context.Context, docID string) (bool, error)
	QueryChunksMentioning(ctx context.Context, nameKeys []string) ([]db.ChunkMention, error)
}

var _ GraphDB = (*db.Client)(nil)

// SurrealGraphStore writes documents, chunks and extracted entities as a
// SurrealDB graph.
type SurrealGraphStore struct {
	db        GraphDB
	extractor EntityExtractor
	logger    *slog.Logger
}

var _ GraphStore = (*SurrealGraphStore)(nil)

// NewSurrealGraphStore creates a graph store.
func NewSurrealGraphStore(graphDB GraphDB, extractor EntityExtractor, logger *slog.Logger) *SurrealGraphStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SurrealGraphStore{db: graphDB, extractor: extractor, logger: logger}
}

// ChunkNodeID derives the key of the i-th chunk of a document.
func ChunkNodeID(docID string, i int) string {
	return fmt.Sprintf("%s_chunk_%d", docID, i)
}

// AddDocument implements GraphStore.
func (g *SurrealGraphStore) AddDocument(ctx context.Context, docID string, metadata map[string]any, chunks []models.Chunk) error {
	if err := g.db.QueryUpsertGraphDocument(ctx, docID, metadata); err != nil {
		return err
	}

	mentions := 0
	for i, c := range chunks {
		chunkID := ChunkNodeID(docID, i)
		if err := g.db.QueryAddGraphChunk(ctx, docID, chunkID, c.Content, i, c.Metadata); err != nil {
			return err
		}
		entities, err := g.extractor.Extract(ctx, c.Content)
		if err != nil {
			return fmt.Errorf("chunk %d: %w", i, err)
		}
		for _, e := range entities {
			if err := g.db.QueryMentionEntity(ctx, chunkID, e); err != nil {
				return err
			}
			mentions++
		}
	}

	g.logger.Debug("graph document added", "doc_id", docID, "chunks", len(chunks), "mentions", mentions)
	return nil
}

// RemoveDocument implements GraphStore.
func (g *SurrealGraphStore) RemoveDocument(ctx context.Context, docID string) (bool, error) {
	return g.db.QueryRemoveGraphDocument(ctx, docID)
}

// FindRelatedChunks implements GraphStore. Chunks are ranked by how many
// distinct query entities they mention, then by position.
func (g *SurrealGraphStore) FindRelatedChunks(ctx context.Context, query string, k int) ([]models.Chunk, error) {
	entities, err := g.extractor.Extract(ctx, query)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(entities))
	seen := map[string]bool{}
	for _, e := range entities {
		key := models.NormalizeName(e.Name)
		if key != "" && !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 || k <= 0 {
		return []models.Chunk{}, nil
	}

	rows, err := g.db.QueryChunksMentioning(ctx, keys)
	if err != nil {
		return nil, err
	}

	type ranked struct {
		id      string
		row     db.ChunkMention
		matched map[string]bool
	}
	byChunk := map[string]*ranked{}
	for _, r := range rows {
		id := fmt.Sprint(r.ChunkID.ID)
		rc, ok := byChunk[id]
		if !ok {
			rc = &ranked{id: id, row: r, matched: map[string]bool{}}
			byChunk[id] = rc
		}
		rc.matched[r.NameKey] = true
	}

	list := make([]*ranked, 0, len(byChunk))
	for _, rc := range byChunk {
		list = append(list, rc)
	}
	sort.Slice(list, func(i, j int) bool {
		if len(list[i].matched) != len(list[j].matched) {
			return len(list[i].matched) > len(list[j].matched)
		}
		if list[i].row.Position != list[j].row.Position {
			return list[i].row.Position < list[j].row.Position
		}
		return list[i].id < list[j].id
	})
	if len(list) > k {
		list = list[:k]
	}

	out := make([]models.Chunk, len(list))
	for i, rc := range list {
		out[i] = models.NewChunk(rc.row.Content, rc.row.Metadata)
	}
	return out, nil
}
