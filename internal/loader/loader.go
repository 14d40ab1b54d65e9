// Package loader turns document sources into chunks. Every loader supports
// flat chunking; loaders that also implement Hierarchical can emit
// parent/child chunk sets.
package loader

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/raphaelgruber/docingest/internal/models"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/textsplitter"
)

// ErrEmptyContent is returned when a source yields no text.
var ErrEmptyContent = errors.New("loaded document content is empty")

// Loader produces flat chunks from a source.
type Loader interface {
	Load(ctx context.Context, source string) ([]models.Chunk, error)
}

// Hierarchical is implemented by loaders that can emit parent chunks
// followed by their child chunks.
type Hierarchical interface {
	LoadHierarchical(ctx context.Context, source string) ([]models.Chunk, error)
}

// SupportsHierarchy reports whether l can load hierarchically.
func SupportsHierarchy(l Loader) bool {
	_, ok := l.(Hierarchical)
	return ok
}

// page is a unit of extracted text before splitting: a PDF page, a CSV
// row, a JSON element or a whole text file.
type page struct {
	Content  string
	Metadata map[string]any
}

func pagesFromDocuments(docs []schema.Document, extra map[string]any) []page {
	pages := make([]page, 0, len(docs))
	for _, d := range docs {
		meta := models.CloneMetadata(extra)
		for k, v := range d.Metadata {
			meta[k] = v
		}
		pages = append(pages, page{Content: d.PageContent, Metadata: meta})
	}
	return pages
}

// splitter holds the chunk sizes shared by all loaders.
type splitter struct {
	cfg models.ChunkingConfig
}

func newSplitter(cfg models.ChunkingConfig) splitter {
	return splitter{cfg: cfg}
}

func recursive(size, overlap int) textsplitter.RecursiveCharacter {
	return textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(size),
		textsplitter.WithChunkOverlap(overlap),
	)
}

func nonEmpty(pages []page) []page {
	out := pages[:0:0]
	for _, p := range pages {
		if strings.TrimSpace(p.Content) != "" {
			out = append(out, p)
		}
	}
	return out
}

// flat splits every page with the standard chunk size.
func (s splitter) flat(pages []page) ([]models.Chunk, error) {
	pages = nonEmpty(pages)
	if len(pages) == 0 {
		return nil, ErrEmptyContent
	}

	split := recursive(s.cfg.ChunkSize, s.cfg.ChunkOverlap)
	var chunks []models.Chunk
	for _, p := range pages {
		texts, err := split.SplitText(p.Content)
		if err != nil {
			return nil, fmt.Errorf("split text: %w", err)
		}
		for _, text := range texts {
			chunks = append(chunks, models.NewChunk(text, p.Metadata))
		}
	}
	if len(chunks) == 0 {
		return nil, ErrEmptyContent
	}
	return chunks, nil
}

// hierarchical splits pages into parent chunks, then each parent into child
// chunks. Parents are numbered across the whole document; each is followed
// by its children, which carry the parent's metadata plus a parent_id that
// points back to it.
func (s splitter) hierarchical(pages []page) ([]models.Chunk, error) {
	pages = nonEmpty(pages)
	if len(pages) == 0 {
		return nil, ErrEmptyContent
	}

	parentSplit := recursive(s.cfg.ParentChunkSize, s.cfg.ParentOverlap)
	childSplit := recursive(s.cfg.ChildChunkSize, s.cfg.ChildOverlap)

	var parents []models.Chunk
	for _, p := range pages {
		texts, err := parentSplit.SplitText(p.Content)
		if err != nil {
			return nil, fmt.Errorf("split parents: %w", err)
		}
		for _, text := range texts {
			parents = append(parents, models.NewChunk(text, p.Metadata))
		}
	}
	if len(parents) == 0 {
		return nil, ErrEmptyContent
	}

	var chunks []models.Chunk
	for i, parent := range parents {
		parentID := fmt.Sprintf("parent_%d", i)
		parent.Metadata[models.MetaDocType] = models.DocTypeParent
		parent.Metadata[models.MetaDocLevel] = models.DocTypeParent
		parent.Metadata[models.MetaParentID] = parentID
		parent.Metadata[models.MetaIsParent] = true
		parent.Metadata[models.MetaPageNumber] = i
		parent.Metadata[models.MetaTotalPages] = len(parents)
		chunks = append(chunks, parent)

		texts, err := childSplit.SplitText(parent.Content)
		if err != nil {
			return nil, fmt.Errorf("split children: %w", err)
		}
		for j, text := range texts {
			child := models.NewChunk(text, parent.Metadata)
			child.Metadata[models.MetaDocType] = models.DocTypeChild
			child.Metadata[models.MetaDocLevel] = models.DocTypeChild
			child.Metadata[models.MetaChildID] = fmt.Sprintf("child_%d_%d", i, j)
			child.Metadata[models.MetaIsParent] = false
			child.Metadata[models.MetaChildIndex] = j
			chunks = append(chunks, child)
		}
	}
	return chunks, nil
}
