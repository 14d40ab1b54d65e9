package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/raphaelgruber/docingest/internal/models"
)

const extractionPrompt = `You are a Knowledge Graph Specialist. Extract the named entities from the given text.

Entity types: person, organization, product, technology, location, event, concept

Output format (one per line):
ENTITY|name|type|description

Guidelines:
- Extract meaningful entities only, with a one-sentence description
- Keep names as they appear in the text
- Output nothing else`

// Generator produces a completion from a system and a user prompt.
type Generator interface {
	GenerateWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// EntityExtractor asks an LLM for the entities mentioned in a text.
type EntityExtractor struct {
	gen Generator
}

// NewEntityExtractor creates an extractor backed by gen.
func NewEntityExtractor(gen Generator) *EntityExtractor {
	return &EntityExtractor{gen: gen}
}

// Extract returns the distinct entities mentioned in text.
func (e *EntityExtractor) Extract(ctx context.Context, text string) ([]models.ExtractedEntity, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	out, err := e.gen.GenerateWithSystem(ctx, extractionPrompt, fmt.Sprintf("Text:\n%s\n\nExtracted entities:", text))
	if err != nil {
		return nil, fmt.Errorf("extract entities: %w", err)
	}
	return ParseEntities(out), nil
}

// ParseEntities reads ENTITY|name|type|description lines, ignoring anything
// else. Entities are deduplicated by key; the first occurrence wins.
func ParseEntities(out string) []models.ExtractedEntity {
	var entities []models.ExtractedEntity
	seen := map[string]bool{}
	for _, line := range strings.Split(out, "\n") {
		parts := strings.Split(strings.TrimSpace(line), "|")
		if len(parts) < 2 || !strings.EqualFold(strings.TrimSpace(parts[0]), "ENTITY") {
			continue
		}
		ent := models.ExtractedEntity{Name: strings.TrimSpace(parts[1])}
		if len(parts) > 2 {
			ent.Type = strings.ToLower(strings.TrimSpace(parts[2]))
		}
		if len(parts) > 3 {
			ent.Description = strings.TrimSpace(strings.Join(parts[3:], "|"))
		}
		if models.NormalizeName(ent.Name) == "" || seen[ent.Key()] {
			continue
		}
		seen[ent.Key()] = true
		entities = append(entities, ent)
	}
	return entities
}
