package loader

import (
	"fmt"

	"github.com/raphaelgruber/docingest/internal/models"
)

// Factory selects the loader for a source type.
type Factory struct {
	loaders map[models.SourceType]Loader
}

// FactoryConfig configures the built-in loaders.
type FactoryConfig struct {
	Chunking   models.ChunkingConfig
	Fetcher    *Fetcher
	Confluence ConfluenceAuth
}

// NewFactory registers a loader for every source type.
func NewFactory(cfg FactoryConfig) *Factory {
	fetcher := cfg.Fetcher
	if fetcher == nil {
		fetcher = NewFetcher(0, 0, "")
	}
	f := &Factory{loaders: map[models.SourceType]Loader{}}
	f.Register(models.SourceTypeText, NewTextLoader(cfg.Chunking))
	f.Register(models.SourceTypePDF, NewPDFLoader(cfg.Chunking))
	f.Register(models.SourceTypeCSV, NewCSVLoader(cfg.Chunking))
	f.Register(models.SourceTypeJSON, NewJSONLoader(cfg.Chunking))
	f.Register(models.SourceTypeDOCX, NewDocxLoader(cfg.Chunking))
	f.Register(models.SourceTypeWebPage, NewWebLoader(cfg.Chunking, fetcher))
	f.Register(models.SourceTypeConfluence, NewConfluenceLoader(cfg.Chunking, fetcher, cfg.Confluence))
	f.Register(models.SourceTypeKnowledgeSnippet, NewSnippetLoader(cfg.Chunking))
	return f
}

// NewEmptyFactory returns a factory without loaders.
func NewEmptyFactory() *Factory {
	return &Factory{loaders: map[models.SourceType]Loader{}}
}

// Register sets the loader for a source type, replacing any previous one.
func (f *Factory) Register(st models.SourceType, l Loader) {
	f.loaders[st] = l
}

// Get returns the loader for a source type.
func (f *Factory) Get(st models.SourceType) (Loader, error) {
	l, ok := f.loaders[st]
	if !ok {
		return nil, fmt.Errorf("no loader for source type %q", st)
	}
	return l, nil
}
