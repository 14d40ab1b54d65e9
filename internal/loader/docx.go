package loader

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/raphaelgruber/docingest/internal/models"
)

// DocxLoader extracts paragraph text from word/document.xml.
type DocxLoader struct {
	splitter
}

// NewDocxLoader creates a DOCX loader.
func NewDocxLoader(cfg models.ChunkingConfig) *DocxLoader {
	return &DocxLoader{splitter: newSplitter(cfg)}
}

func (l *DocxLoader) pages(_ context.Context, path string) ([]page, error) {
	if path == "" {
		return nil, fmt.Errorf("invalid file path: %q", path)
	}
	reader, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open docx %s: %w", path, err)
	}
	defer reader.Close()

	body, err := readZipEntry(&reader.Reader, "word/document.xml")
	if err != nil {
		return nil, fmt.Errorf("read docx %s: %w", path, err)
	}

	title := fileTitle(path)
	if core, err := readZipEntry(&reader.Reader, "docProps/core.xml"); err == nil {
		var props struct {
			Title string `xml:"title"`
		}
		if xml.Unmarshal(core, &props) == nil && strings.TrimSpace(props.Title) != "" {
			title = strings.TrimSpace(props.Title)
		}
	}

	return []page{{
		Content:  parseDocumentXML(body),
		Metadata: map[string]any{models.MetaTitle: title},
	}}, nil
}

// Load implements Loader.
func (l *DocxLoader) Load(ctx context.Context, path string) ([]models.Chunk, error) {
	pages, err := l.pages(ctx, path)
	if err != nil {
		return nil, err
	}
	return l.flat(pages)
}

// LoadHierarchical implements Hierarchical.
func (l *DocxLoader) LoadHierarchical(ctx context.Context, path string) ([]models.Chunk, error) {
	pages, err := l.pages(ctx, path)
	if err != nil {
		return nil, err
	}
	return l.hierarchical(pages)
}

func readZipEntry(reader *zip.Reader, name string) ([]byte, error) {
	for _, file := range reader.File {
		if file.Name != name {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}
	return nil, fmt.Errorf("%s not found", name)
}

type documentXML struct {
	Body struct {
		Paragraphs []struct {
			Runs []struct {
				Text []struct {
					Content string `xml:",chardata"`
				} `xml:"t"`
			} `xml:"r"`
		} `xml:"p"`
	} `xml:"body"`
}

// parseDocumentXML joins the text runs of each paragraph, one paragraph per line.
func parseDocumentXML(content []byte) string {
	var doc documentXML
	if err := xml.Unmarshal(content, &doc); err != nil {
		return ""
	}

	var b strings.Builder
	for i, para := range doc.Body.Paragraphs {
		if i > 0 {
			b.WriteString("\n")
		}
		for _, run := range para.Runs {
			for _, text := range run.Text {
				b.WriteString(text.Content)
			}
		}
	}
	return strings.TrimSpace(b.String())
}
