package loader

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/raphaelgruber/docingest/internal/models"
)

const untitledSnippet = "Untitled Snippet"

// Snippet is the JSON payload of a knowledge snippet source.
type Snippet struct {
	Title   string   `json:"title,omitempty"`
	Content string   `json:"content"`
	Tags    []string `json:"tags,omitempty"`
}

// ParseSnippet decodes a snippet payload. Sources that are not a JSON
// object with content are treated as raw Markdown text.
func ParseSnippet(source string) Snippet {
	var s Snippet
	trimmed := strings.TrimSpace(source)
	if strings.HasPrefix(trimmed, "{") && json.Unmarshal([]byte(trimmed), &s) == nil && s.Content != "" {
		return s
	}
	return Snippet{Content: source}
}

// SnippetLoader loads inline knowledge snippets. The source string is the
// payload itself.
type SnippetLoader struct {
	splitter
}

// NewSnippetLoader creates a knowledge snippet loader.
func NewSnippetLoader(cfg models.ChunkingConfig) *SnippetLoader {
	return &SnippetLoader{splitter: newSplitter(cfg)}
}

func (l *SnippetLoader) document(source string) (markdownDoc, map[string]any) {
	s := ParseSnippet(source)
	md := parseMarkdown(s.Content)

	title := s.Title
	if title == "" {
		title = md.Title
	}
	if title == "" {
		title = untitledSnippet
	}
	tags := s.Tags
	if len(tags) == 0 {
		tags = md.frontmatterStrings("tags")
	}

	meta := map[string]any{models.MetaTitle: title, "type": string(models.SourceTypeKnowledgeSnippet)}
	if len(tags) > 0 {
		meta["tags"] = tags
	}
	return md, meta
}

// Load implements Loader. Each Markdown section becomes its own page so
// chunks do not straddle headings.
func (l *SnippetLoader) Load(_ context.Context, source string) ([]models.Chunk, error) {
	md, meta := l.document(source)

	var pages []page
	for _, sec := range md.Sections {
		text := sec.Content
		m := models.CloneMetadata(meta)
		if sec.Heading != "" {
			text = sec.Heading + "\n\n" + text
			m["section"] = sec.Path
		}
		pages = append(pages, page{Content: text, Metadata: m})
	}
	return l.flat(pages)
}

// LoadHierarchical implements Hierarchical. The whole snippet is the parent text.
func (l *SnippetLoader) LoadHierarchical(_ context.Context, source string) ([]models.Chunk, error) {
	md, meta := l.document(source)
	return l.hierarchical([]page{{Content: md.Content, Metadata: meta}})
}
