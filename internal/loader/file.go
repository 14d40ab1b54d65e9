package loader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/raphaelgruber/docingest/internal/models"
	"github.com/tmc/langchaingo/documentloaders"
)

// fileTitle derives a title from a file name: extension dropped,
// separators replaced by spaces.
func fileTitle(path string) string {
	name := filepath.Base(path)
	name = strings.TrimSuffix(name, filepath.Ext(name))
	name = strings.ReplaceAll(name, "_", " ")
	return strings.ReplaceAll(name, "-", " ")
}

func openFile(path string) (*os.File, error) {
	if path == "" {
		return nil, fmt.Errorf("invalid file path: %q", path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return f, nil
}

// TextLoader loads plain text files.
type TextLoader struct {
	splitter
}

// NewTextLoader creates a text loader.
func NewTextLoader(cfg models.ChunkingConfig) *TextLoader {
	return &TextLoader{splitter: newSplitter(cfg)}
}

func (l *TextLoader) pages(ctx context.Context, path string) ([]page, error) {
	f, err := openFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	docs, err := documentloaders.NewText(f).Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load text %s: %w", path, err)
	}
	return pagesFromDocuments(docs, map[string]any{models.MetaTitle: fileTitle(path)}), nil
}

// Load implements Loader.
func (l *TextLoader) Load(ctx context.Context, path string) ([]models.Chunk, error) {
	pages, err := l.pages(ctx, path)
	if err != nil {
		return nil, err
	}
	return l.flat(pages)
}

// LoadHierarchical implements Hierarchical.
func (l *TextLoader) LoadHierarchical(ctx context.Context, path string) ([]models.Chunk, error) {
	pages, err := l.pages(ctx, path)
	if err != nil {
		return nil, err
	}
	return l.hierarchical(pages)
}

// PDFLoader loads PDF files, one page of text per PDF page.
type PDFLoader struct {
	splitter
}

// NewPDFLoader creates a PDF loader.
func NewPDFLoader(cfg models.ChunkingConfig) *PDFLoader {
	return &PDFLoader{splitter: newSplitter(cfg)}
}

// Load implements Loader.
func (l *PDFLoader) Load(ctx context.Context, path string) ([]models.Chunk, error) {
	f, err := openFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	docs, err := documentloaders.NewPDF(f, info.Size()).Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load pdf %s: %w", path, err)
	}

	pages := pagesFromDocuments(docs, map[string]any{models.MetaTitle: fileTitle(path)})
	for _, p := range pages {
		if n, ok := p.Metadata["page"]; ok {
			p.Metadata[models.MetaPageNumber] = n
			delete(p.Metadata, "page")
		}
	}
	return l.flat(pages)
}

// CSVLoader loads CSV files, one page per row.
type CSVLoader struct {
	splitter
}

// NewCSVLoader creates a CSV loader.
func NewCSVLoader(cfg models.ChunkingConfig) *CSVLoader {
	return &CSVLoader{splitter: newSplitter(cfg)}
}

// Load implements Loader.
func (l *CSVLoader) Load(ctx context.Context, path string) ([]models.Chunk, error) {
	f, err := openFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	docs, err := documentloaders.NewCSV(f).Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load csv %s: %w", path, err)
	}
	return l.flat(pagesFromDocuments(docs, map[string]any{models.MetaTitle: fileTitle(path)}))
}
