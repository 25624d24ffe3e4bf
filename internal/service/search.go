// Package service provides the query-side operations over indexed projects.
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/raphaelgruber/docindex/internal/db"
	"github.com/raphaelgruber/docindex/internal/llm"
	"github.com/raphaelgruber/docindex/internal/metrics"
	"github.com/raphaelgruber/docindex/internal/models"
	"github.com/raphaelgruber/docindex/internal/vectordb"
)

// SearchService answers semantic queries against a project's vector
// collection, optionally synthesizing an answer with the LLM.
type SearchService struct {
	db       *db.Client
	store    vectordb.Store
	embedder *llm.Embedder
	model    *llm.Model
	stats    *metrics.Collector
}

// NewSearchService creates a search service. The model may be nil when only
// raw retrieval is needed.
func NewSearchService(dbClient *db.Client, store vectordb.Store, embedder *llm.Embedder, model *llm.Model, stats *metrics.Collector) *SearchService {
	return &SearchService{
		db:       dbClient,
		store:    store,
		embedder: embedder,
		model:    model,
		stats:    stats,
	}
}

// SearchOptions configures a retrieval operation. A positive Threshold drops
// hits scoring below it; zero keeps every hit.
type SearchOptions struct {
	ProjectKey string
	Query      string
	Limit      int
	Threshold  float64
}

// Search retrieves the chunks most similar to the query from the project's
// collection.
func (s *SearchService) Search(ctx context.Context, opts SearchOptions) ([]vectordb.RetrievedDocument, error) {
	if opts.Limit <= 0 {
		opts.Limit = 10
	}

	project, err := s.db.GetProject(ctx, opts.ProjectKey)
	if err != nil {
		return nil, err
	}
	if project == nil {
		return nil, fmt.Errorf("project %q not found", opts.ProjectKey)
	}
	projectID, err := models.RecordIDString(project.ID)
	if err != nil {
		return nil, err
	}

	vector, err := s.embedder.EmbedQuery(ctx, opts.Query)
	if err != nil {
		return nil, err
	}

	collection := vectordb.CollectionName(projectID, s.embedder.Dimension())
	start := time.Now()
	hits, err := s.store.SearchByVector(ctx, collection, vector, opts.Limit, opts.Threshold)
	if err != nil {
		return nil, fmt.Errorf("search project %q: %w", opts.ProjectKey, err)
	}
	if s.stats != nil {
		s.stats.RecordBatch(metrics.OpVectorSearch, time.Since(start), int64(len(hits)))
	}
	return hits, nil
}

// Answer retrieves matching chunks and synthesizes an answer from them.
// Returns the answer together with the hits it was grounded on.
func (s *SearchService) Answer(ctx context.Context, opts SearchOptions) (string, []vectordb.RetrievedDocument, error) {
	if s.model == nil {
		return "", nil, fmt.Errorf("no generation model configured")
	}

	hits, err := s.Search(ctx, opts)
	if err != nil {
		return "", nil, err
	}
	if len(hits) == 0 {
		return "No indexed content matched the question.", nil, nil
	}

	start := time.Now()
	answer, err := s.model.SynthesizeAnswer(ctx, opts.Query, buildAnswerContext(hits))
	if err != nil {
		return "", hits, fmt.Errorf("synthesize answer: %w", err)
	}
	if s.stats != nil {
		s.stats.RecordTiming(metrics.OpLLMGenerate, time.Since(start))
	}
	return answer, hits, nil
}

// buildAnswerContext formats retrieved chunks into a context block for the
// LLM, labeling each with its source when known.
func buildAnswerContext(hits []vectordb.RetrievedDocument) string {
	parts := make([]string, 0, len(hits))
	for i, hit := range hits {
		header := fmt.Sprintf("[%d]", i+1)
		if source, ok := hit.Metadata["source"].(string); ok && source != "" {
			header += " " + source
		}
		if title, ok := hit.Metadata["title"].(string); ok && title != "" {
			header += " - " + title
		}
		parts = append(parts, header+"\n"+hit.Text)
	}
	return strings.Join(parts, "\n\n")
}
