// Package checksum computes content fingerprints used for dedup and change detection.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/raphaelgruber/docingest/internal/models"
)

// Bytes returns the hex sha256 of data.
func Bytes(data []byte) models.Checksum {
	sum := sha256.Sum256(data)
	return models.KnownChecksum(hex.EncodeToString(sum[:]))
}

// File hashes the raw bytes of a file without loading it into memory.
func File(path string) (models.Checksum, error) {
	f, err := os.Open(path)
	if err != nil {
		return models.Checksum{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return models.Checksum{}, fmt.Errorf("hash %s: %w", path, err)
	}
	return models.KnownChecksum(hex.EncodeToString(h.Sum(nil))), nil
}

// Snippet hashes a serialized knowledge snippet payload.
func Snippet(payload string) models.Checksum {
	return Bytes([]byte(payload))
}

// ForSource computes the pre-load checksum of a source.
// Fetch-based sources return the pending variant since their content is
// only known after load.
func ForSource(source string, sourceType models.SourceType) (models.Checksum, error) {
	switch {
	case sourceType.IsFetchBased():
		return models.PendingChecksum(), nil
	case sourceType == models.SourceTypeKnowledgeSnippet:
		return Snippet(source), nil
	default:
		return File(source)
	}
}

type pageEntry struct {
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`
}

// Pages hashes a multi-page fetch result. Pages are sorted by title then
// page number and serialized with sorted keys, so the result does not
// depend on the order pages were returned in.
func Pages(chunks []models.Chunk) (models.Checksum, error) {
	entries := make([]pageEntry, len(chunks))
	for i, c := range chunks {
		entries[i] = pageEntry{Content: c.Content, Metadata: c.Metadata}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		ti := fmt.Sprint(entries[i].Metadata[models.MetaTitle])
		tj := fmt.Sprint(entries[j].Metadata[models.MetaTitle])
		if ti != tj {
			return ti < tj
		}
		pi, _ := models.Chunk{Metadata: entries[i].Metadata}.Int(models.MetaPageNumber)
		pj, _ := models.Chunk{Metadata: entries[j].Metadata}.Int(models.MetaPageNumber)
		if pi != pj {
			return pi < pj
		}
		return entries[i].Content < entries[j].Content
	})

	// encoding/json writes map keys in sorted order.
	data, err := json.Marshal(entries)
	if err != nil {
		return models.Checksum{}, fmt.Errorf("serialize pages: %w", err)
	}
	return Bytes(data), nil
}
