package store

import (
	"context"
	"regexp"

	"github.com/raphaelgruber/docingest/internal/models"
)

var capitalizedPhrase = regexp.MustCompile(`\b[A-Z][\p{L}\d]*(?:[ \t]+[A-Z][\p{L}\d]*)+\b`)

// RuleExtractor treats capitalized multi-word phrases as concept entities.
// It needs no model and is deterministic.
type RuleExtractor struct{}

var _ EntityExtractor = RuleExtractor{}

// Extract implements EntityExtractor.
func (RuleExtractor) Extract(_ context.Context, text string) ([]models.ExtractedEntity, error) {
	var out []models.ExtractedEntity
	seen := map[string]bool{}
	for _, m := range capitalizedPhrase.FindAllString(text, -1) {
		e := models.ExtractedEntity{Name: m, Type: "concept"}
		if seen[e.Key()] {
			continue
		}
		seen[e.Key()] = true
		out = append(out, e)
	}
	return out, nil
}
