// Package indexer walks a project's durable chunks, embeds them and writes
// the vectors into the project's collection.
package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/raphaelgruber/docindex/internal/metrics"
	"github.com/raphaelgruber/docindex/internal/models"
	"github.com/raphaelgruber/docindex/internal/vectordb"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// ChunkSource reads a project's chunks in stable pages. *db.Client satisfies
// it.
type ChunkSource interface {
	CountChunks(ctx context.Context, projectID surrealmodels.RecordID) (int, error)
	GetProjectChunks(ctx context.Context, projectID surrealmodels.RecordID, pageNo, pageSize int) ([]models.Chunk, error)
}

// Embedder turns text batches into vectors of a fixed dimension.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Result reports what one indexing run did.
type Result struct {
	Collection        string
	CollectionCreated bool
	TotalChunks       int
	Indexed           int
	Pages             int
	Elapsed           time.Duration
}

// Orchestrator drives the chunk-to-vector pipeline for one project at a
// time: ensure the collection, page through chunks in order, embed each page
// and upsert the vectors. A failed upsert aborts the run; already-written
// pages stay, and re-running overwrites them in place.
type Orchestrator struct {
	source   ChunkSource
	embedder Embedder
	store    vectordb.Store
	stats    *metrics.Collector
	log      *slog.Logger

	// batchSize bounds one vector store write; pageSize bounds one chunk
	// read and one embedding call.
	batchSize int
	pageSize  int
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithBatchSize overrides the vector write batch size.
func WithBatchSize(n int) Option {
	return func(o *Orchestrator) { o.batchSize = n }
}

// WithPageSize overrides the chunk page size.
func WithPageSize(n int) Option {
	return func(o *Orchestrator) { o.pageSize = n }
}

// WithMetrics attaches a collector for embedding and upsert timings.
func WithMetrics(stats *metrics.Collector) Option {
	return func(o *Orchestrator) { o.stats = stats }
}

// New creates an Orchestrator with a write batch of 50 and a read page of
// 100.
func New(source ChunkSource, embedder Embedder, store vectordb.Store, log *slog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		source:    source,
		embedder:  embedder,
		store:     store,
		log:       log,
		batchSize: 50,
		pageSize:  100,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// IndexProject embeds and indexes every chunk of the project. With reset the
// collection is dropped and rebuilt from scratch; without it existing
// vectors are overwritten chunk by chunk.
func (o *Orchestrator) IndexProject(ctx context.Context, project *models.Project, reset bool) (*Result, error) {
	start := time.Now()

	projectID, err := models.RecordIDString(project.ID)
	if err != nil {
		return nil, fmt.Errorf("index project: %w", err)
	}

	total, err := o.source.CountChunks(ctx, project.ID)
	if err != nil {
		return nil, fmt.Errorf("count chunks for %s: %w", project.ProjectKey, err)
	}

	collection := vectordb.CollectionName(projectID, o.embedder.Dimension())
	created, err := o.store.CreateCollection(ctx, collection, o.embedder.Dimension(), reset)
	if err != nil {
		return nil, fmt.Errorf("ensure collection %s: %w", collection, err)
	}

	result := &Result{
		Collection:        collection,
		CollectionCreated: created,
		TotalChunks:       total,
	}

	o.log.Info("indexing project",
		"project", project.ProjectKey, "collection", collection,
		"chunks", total, "reset", reset)

	for pageNo := 1; ; pageNo++ {
		chunks, err := o.source.GetProjectChunks(ctx, project.ID, pageNo, o.pageSize)
		if err != nil {
			return result, fmt.Errorf("read chunk page %d: %w", pageNo, err)
		}
		if len(chunks) == 0 {
			break
		}
		result.Pages++

		docs, err := o.indexPage(ctx, collection, chunks)
		if err != nil {
			return result, fmt.Errorf("index chunk page %d: %w", pageNo, err)
		}
		result.Indexed += docs

		o.log.Debug("chunk page indexed",
			"project", project.ProjectKey, "page", pageNo,
			"chunks", len(chunks), "indexed_total", result.Indexed)

		if len(chunks) < o.pageSize {
			break
		}
	}

	result.Elapsed = time.Since(start)
	o.log.Info("project indexed",
		"project", project.ProjectKey, "collection", collection,
		"indexed", result.Indexed, "pages", result.Pages, "elapsed", result.Elapsed)
	return result, nil
}

func (o *Orchestrator) indexPage(ctx context.Context, collection string, chunks []models.Chunk) (int, error) {
	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}

	embedStart := time.Now()
	vectors, err := o.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embed %d chunks: %w", len(chunks), err)
	}
	if o.stats != nil {
		o.stats.RecordBatch(metrics.OpEmbedding, time.Since(embedStart), int64(len(texts)))
	}
	if len(vectors) != len(chunks) {
		return 0, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks))
	}

	docs := make([]vectordb.Document, len(chunks))
	for i, ch := range chunks {
		id, err := models.RecordIDString(ch.ID)
		if err != nil {
			return 0, fmt.Errorf("chunk record ID: %w", err)
		}

		meta := map[string]any{"chunk_order": ch.Order}
		for k, v := range ch.Metadata {
			meta[k] = v
		}

		docs[i] = vectordb.Document{
			ID:       id,
			Text:     ch.Text,
			Vector:   vectors[i],
			Metadata: meta,
		}
	}

	upsertStart := time.Now()
	written, err := o.store.InsertMany(ctx, collection, docs, o.batchSize)
	if err != nil {
		return written, err
	}
	if o.stats != nil {
		o.stats.RecordBatch(metrics.OpVectorUpsert, time.Since(upsertStart), int64(written))
	}
	return written, nil
}
