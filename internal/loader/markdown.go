package loader

import (
	"bufio"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	headingRegex = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)
	h1Regex      = regexp.MustCompile(`(?m)^#\s+(.+)$`)
)

// markdownDoc is a parsed Markdown snippet.
type markdownDoc struct {
	Frontmatter map[string]any
	Title       string
	Content     string
	Sections    []section
}

// section is a heading and the text under it. The text before the first
// heading is a section with an empty heading.
type section struct {
	Level   int
	Heading string
	Path    string // e.g. "## Setup > ### Install"
	Content string
}

// parseMarkdown splits off YAML frontmatter and breaks the body into sections.
func parseMarkdown(content string) markdownDoc {
	doc := markdownDoc{Frontmatter: map[string]any{}}

	remaining := content
	if strings.HasPrefix(content, "---\n") {
		if endIdx := strings.Index(content[4:], "\n---"); endIdx > 0 {
			if err := yaml.Unmarshal([]byte(content[4:4+endIdx]), &doc.Frontmatter); err != nil {
				doc.Frontmatter = map[string]any{}
			}
			remaining = strings.TrimPrefix(content[4+endIdx+4:], "\n")
		}
	}

	doc.Content = remaining
	doc.Title = extractTitle(doc.Frontmatter, remaining)
	doc.Sections = parseSections(remaining)
	return doc
}

// extractTitle gets title from frontmatter or first h1.
func extractTitle(fm map[string]any, content string) string {
	if title, ok := fm["title"].(string); ok && title != "" {
		return title
	}
	if match := h1Regex.FindStringSubmatch(content); len(match) > 1 {
		return strings.TrimSpace(match[1])
	}
	return ""
}

func parseSections(content string) []section {
	var sections []section
	var path []string
	var levels []int

	current := &section{}
	var body strings.Builder

	flush := func() {
		current.Content = strings.TrimSpace(body.String())
		if current.Heading != "" || current.Content != "" {
			sections = append(sections, *current)
		}
		body.Reset()
	}

	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		match := headingRegex.FindStringSubmatch(line)
		if match == nil {
			body.WriteString(line)
			body.WriteString("\n")
			continue
		}

		flush()
		level := len(match[1])
		heading := strings.TrimSpace(match[2])
		for len(levels) > 0 && levels[len(levels)-1] >= level {
			path = path[:len(path)-1]
			levels = levels[:len(levels)-1]
		}
		path = append(path, match[1]+" "+heading)
		levels = append(levels, level)
		current = &section{Level: level, Heading: heading, Path: strings.Join(path, " > ")}
	}
	flush()

	return sections
}

// frontmatterStrings reads a string list from frontmatter.
func (d markdownDoc) frontmatterStrings(key string) []string {
	switch v := d.Frontmatter[key].(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return []string{v}
	}
	return nil
}
