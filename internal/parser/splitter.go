package parser

import (
	"fmt"
	"strings"

	"github.com/raphaelgruber/docindex/internal/models"
	"github.com/tmc/langchaingo/textsplitter"
)

// Splitter turns a parsed document into ordered chunk inputs ready for
// persistence. Markdown bodies split on heading boundaries, everything else
// on recursive character boundaries.
type Splitter struct {
	markdown textsplitter.TextSplitter
	plain    textsplitter.TextSplitter
}

// NewSplitter creates a splitter with the given target chunk size and
// overlap, both in characters.
func NewSplitter(chunkSize, overlap int) *Splitter {
	return &Splitter{
		markdown: textsplitter.NewMarkdownTextSplitter(
			textsplitter.WithChunkSize(chunkSize),
			textsplitter.WithChunkOverlap(overlap),
		),
		plain: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(chunkSize),
			textsplitter.WithChunkOverlap(overlap),
		),
	}
}

// SplitText splits plain text into chunk strings.
func (s *Splitter) SplitText(text string) ([]string, error) {
	parts, err := s.plain.SplitText(text)
	if err != nil {
		return nil, fmt.Errorf("split text: %w", err)
	}
	return dropEmpty(parts), nil
}

// SplitDocument splits a parsed document into chunk inputs. Chunk order
// follows document order; the source name and title land in the chunk
// metadata so search hits can say where they came from.
func (s *Splitter) SplitDocument(doc *Document, source string) ([]models.ChunkInput, error) {
	if strings.TrimSpace(doc.Content) == "" {
		return []models.ChunkInput{}, nil
	}

	splitter := s.plain
	if strings.HasSuffix(strings.ToLower(source), ".md") || looksLikeMarkdown(doc.Content) {
		splitter = s.markdown
	}

	parts, err := splitter.SplitText(doc.Content)
	if err != nil {
		return nil, fmt.Errorf("split document %s: %w", source, err)
	}
	parts = dropEmpty(parts)

	chunks := make([]models.ChunkInput, len(parts))
	for i, part := range parts {
		meta := map[string]any{}
		if source != "" {
			meta["source"] = source
		}
		if doc.Title != "" {
			meta["title"] = doc.Title
		}
		chunks[i] = models.ChunkInput{
			Text:     part,
			Metadata: meta,
			Order:    i,
		}
	}
	return chunks, nil
}

func looksLikeMarkdown(content string) bool {
	return h1Re.MatchString(content)
}

func dropEmpty(parts []string) []string {
	out := parts[:0]
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return out
}
