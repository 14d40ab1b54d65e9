package models

import (
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// GraphDocument is a versioned document node in the knowledge graph.
type GraphDocument struct {
	ID        surrealmodels.RecordID `json:"id"`
	Metadata  map[string]any         `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// GraphChunk is a chunk node linked to its document by has_chunk.
type GraphChunk struct {
	ID       surrealmodels.RecordID `json:"id"`
	Content  string                 `json:"content"`
	Position int                    `json:"position"`
	Metadata map[string]any         `json:"metadata,omitempty"`
}

// Entity is a named thing extracted from chunk text. Entities are shared
// across documents and keep a running count of chunk mentions.
type Entity struct {
	ID           surrealmodels.RecordID `json:"id"`
	Name         string                 `json:"name"`
	Type         string                 `json:"type"`
	Description  *string                `json:"description,omitempty"`
	MentionCount int                    `json:"mention_count"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
}

// ExtractedEntity is the output of entity extraction before it is persisted.
type ExtractedEntity struct {
	Name        string
	Type        string
	Description string
}

// Key returns the graph record key for the entity: "<type>:<normalized name>".
func (e ExtractedEntity) Key() string {
	return EntityKey(e.Name, e.Type)
}

// EntityKey builds an entity record key from a name and type.
func EntityKey(name, entityType string) string {
	t := NormalizeName(entityType)
	if t == "" {
		t = "concept"
	}
	return t + ":" + NormalizeName(name)
}
