package loader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/raphaelgruber/docingest/internal/models"
)

// JSONLoader loads JSON files. Each top-level array element or object
// member becomes one page of indented JSON.
type JSONLoader struct {
	splitter
}

// NewJSONLoader creates a JSON loader.
func NewJSONLoader(cfg models.ChunkingConfig) *JSONLoader {
	return &JSONLoader{splitter: newSplitter(cfg)}
}

func (l *JSONLoader) pages(_ context.Context, path string) ([]page, error) {
	if path == "" {
		return nil, fmt.Errorf("invalid file path: %q", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse json %s: %w", path, err)
	}

	meta := map[string]any{models.MetaTitle: fileTitle(path)}
	var elements []any
	switch v := doc.(type) {
	case nil:
		return nil, ErrEmptyContent
	case []any:
		elements = v
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			elements = append(elements, map[string]any{k: v[k]})
		}
	default:
		elements = []any{v}
	}

	pages := make([]page, 0, len(elements))
	for _, el := range elements {
		text, err := indentJSON(el)
		if err != nil {
			return nil, fmt.Errorf("encode json element: %w", err)
		}
		pages = append(pages, page{Content: text, Metadata: models.CloneMetadata(meta)})
	}
	return pages, nil
}

func indentJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return string(bytes.TrimSpace(buf.Bytes())), nil
}

// Load implements Loader.
func (l *JSONLoader) Load(ctx context.Context, path string) ([]models.Chunk, error) {
	pages, err := l.pages(ctx, path)
	if err != nil {
		return nil, err
	}
	return l.flat(pages)
}

// LoadHierarchical implements Hierarchical.
func (l *JSONLoader) LoadHierarchical(ctx context.Context, path string) ([]models.Chunk, error) {
	pages, err := l.pages(ctx, path)
	if err != nil {
		return nil, err
	}
	return l.hierarchical(pages)
}
