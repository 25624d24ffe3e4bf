// Package parser provides Markdown parsing and chunking for ingestion.
package parser

import (
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Document is a parsed source file: YAML front matter separated from the
// body, with a best-effort title.
type Document struct {
	// Frontmatter metadata (from YAML)
	Frontmatter map[string]any

	// Title extracted from frontmatter or the first h1
	Title string

	// Main content (after frontmatter)
	Content string
}

var h1Re = regexp.MustCompile(`(?m)^#\s+(.+)$`)

// ParseMarkdown parses a Markdown document, splitting off YAML front matter
// when present. Malformed front matter is ignored rather than rejected; the
// body still gets ingested.
func ParseMarkdown(content string) (*Document, error) {
	doc := &Document{
		Frontmatter: make(map[string]any),
	}

	remaining := content
	if strings.HasPrefix(content, "---\n") {
		endIdx := strings.Index(content[4:], "\n---")
		if endIdx > 0 {
			frontmatterYAML := content[4 : 4+endIdx]
			remaining = strings.TrimPrefix(content[4+endIdx+4:], "\n")

			if err := yaml.Unmarshal([]byte(frontmatterYAML), &doc.Frontmatter); err != nil {
				doc.Frontmatter = make(map[string]any)
			}
		}
	}

	doc.Content = remaining
	doc.Title = extractTitle(doc.Frontmatter, remaining)
	return doc, nil
}

// extractTitle gets the title from frontmatter or the first h1.
func extractTitle(fm map[string]any, content string) string {
	if title, ok := fm["title"].(string); ok && title != "" {
		return title
	}
	if name, ok := fm["name"].(string); ok && name != "" {
		return name
	}

	if match := h1Re.FindStringSubmatch(content); len(match) > 1 {
		return strings.TrimSpace(match[1])
	}
	return ""
}

// GetFrontmatterString extracts a string from frontmatter.
func (d *Document) GetFrontmatterString(key string) string {
	if v, ok := d.Frontmatter[key].(string); ok {
		return v
	}
	return ""
}
