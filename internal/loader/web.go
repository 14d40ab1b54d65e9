package loader

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/raphaelgruber/docingest/internal/models"
	"github.com/tmc/langchaingo/documentloaders"
)

var titleTag = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)

// WebLoader fetches a web page and extracts its text.
type WebLoader struct {
	splitter
	fetcher *Fetcher
}

// NewWebLoader creates a web page loader.
func NewWebLoader(cfg models.ChunkingConfig, fetcher *Fetcher) *WebLoader {
	return &WebLoader{splitter: newSplitter(cfg), fetcher: fetcher}
}

func validateURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid url: %q", raw)
	}
	return u, nil
}

func (l *WebLoader) pages(ctx context.Context, source string) ([]page, error) {
	if _, err := validateURL(source); err != nil {
		return nil, err
	}
	body, err := l.fetcher.Get(ctx, source, nil)
	if err != nil {
		return nil, err
	}
	text, err := htmlText(ctx, body)
	if err != nil {
		return nil, err
	}

	title := source
	if m := titleTag.FindSubmatch(body); m != nil {
		if t := strings.TrimSpace(string(m[1])); t != "" {
			title = t
		}
	}
	return []page{{Content: text, Metadata: map[string]any{models.MetaTitle: title}}}, nil
}

// htmlText extracts the visible text of an HTML document.
func htmlText(ctx context.Context, body []byte) (string, error) {
	docs, err := documentloaders.NewHTML(bytes.NewReader(body)).Load(ctx)
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	parts := make([]string, 0, len(docs))
	for _, d := range docs {
		if t := strings.TrimSpace(d.PageContent); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n\n"), nil
}

// Load implements Loader.
func (l *WebLoader) Load(ctx context.Context, source string) ([]models.Chunk, error) {
	pages, err := l.pages(ctx, source)
	if err != nil {
		return nil, err
	}
	return l.flat(pages)
}

// LoadHierarchical implements Hierarchical.
func (l *WebLoader) LoadHierarchical(ctx context.Context, source string) ([]models.Chunk, error) {
	pages, err := l.pages(ctx, source)
	if err != nil {
		return nil, err
	}
	return l.hierarchical(pages)
}
