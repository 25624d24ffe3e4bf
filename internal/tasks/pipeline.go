package tasks

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/raphaelgruber/docindex/internal/indexer"
	"github.com/raphaelgruber/docindex/internal/ledger"
	"github.com/raphaelgruber/docindex/internal/models"
	"github.com/raphaelgruber/docindex/internal/parser"
	"github.com/raphaelgruber/docindex/internal/queue"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// ContentStore is the document persistence surface the pipeline needs.
// *db.Client satisfies it.
type ContentStore interface {
	GetProject(ctx context.Context, projectKey string) (*models.Project, error)
	GetOrCreateProject(ctx context.Context, projectKey string) (*models.Project, error)
	CreateAsset(ctx context.Context, projectID surrealmodels.RecordID, name, assetType string, size int64) (*models.Asset, error)
	InsertChunks(ctx context.Context, projectID surrealmodels.RecordID, assetID *surrealmodels.RecordID, chunks []models.ChunkInput) ([]models.Chunk, error)
	CountChunks(ctx context.Context, projectID surrealmodels.RecordID) (int, error)
	DeleteProjectChunks(ctx context.Context, projectID surrealmodels.RecordID) (int, error)
}

// Pipeline owns the task handlers for the ingestion chain. Every handler is
// wrapped by the execution ledger, so broker redeliveries and duplicate
// submissions collapse into one execution per unique payload.
type Pipeline struct {
	content    ContentStore
	ledger     *ledger.Ledger
	dispatcher *queue.Dispatcher
	splitter   *parser.Splitter
	indexer    *indexer.Orchestrator
	log        *slog.Logger
}

// NewPipeline assembles the pipeline over its stage dependencies.
func NewPipeline(
	content ContentStore,
	ldg *ledger.Ledger,
	dispatcher *queue.Dispatcher,
	splitter *parser.Splitter,
	orch *indexer.Orchestrator,
	log *slog.Logger,
) *Pipeline {
	return &Pipeline{
		content:    content,
		ledger:     ldg,
		dispatcher: dispatcher,
		splitter:   splitter,
		indexer:    orch,
		log:        log,
	}
}

// Register binds all pipeline handlers to the worker.
func (p *Pipeline) Register(w *queue.Worker) {
	w.Register(TaskProcessContent, p.guarded(TaskProcessContent, p.processContent))
	w.Register(TaskPushIndex, p.guarded(TaskPushIndex, p.pushIndex))
	w.Register(TaskIndexContent, p.guarded(TaskIndexContent, p.indexContent))
	w.Register(TaskCleanupLedger, p.cleanupLedger)
}

// guarded wraps a stage handler with the ledger protocol: acquire before
// running, record FAILURE before surfacing the error, record SUCCESS with
// the result. A duplicate delivery returns the stored result of the earlier
// run without executing.
func (p *Pipeline) guarded(taskName string, run func(ctx context.Context, payload map[string]any) (map[string]any, error)) queue.HandlerFunc {
	return func(ctx context.Context, task *models.QueuedTask) (map[string]any, error) {
		queueID, err := models.RecordIDString(task.ID)
		if err != nil {
			return nil, err
		}

		acq, err := p.ledger.Acquire(ctx, taskName, task.Payload, &queueID)
		if err != nil {
			return nil, err
		}
		if !acq.Proceed {
			if acq.CachedResult != nil {
				return acq.CachedResult, nil
			}
			p.log.Info("duplicate delivery while execution in flight",
				"task", taskName, "queue_id", queueID)
			return map[string]any{"skipped": true}, nil
		}

		if err := p.ledger.Start(ctx, acq.Execution); err != nil {
			return nil, err
		}

		result, err := run(ctx, task.Payload)
		if err != nil {
			if ferr := p.ledger.Fail(ctx, acq.Execution, err); ferr != nil {
				p.log.Error("failed to record task failure", "task", taskName, "error", ferr)
			}
			return nil, err
		}

		if err := p.ledger.Complete(ctx, acq.Execution, result); err != nil {
			return nil, err
		}
		return result, nil
	}
}

// ingestPayload is the input of the process-content stage.
type ingestPayload struct {
	ProjectKey string `json:"project_key"`
	AssetName  string `json:"asset_name"`
	AssetType  string `json:"asset_type"`
	Content    string `json:"content"`
	Reset      bool   `json:"reset"`
}

// processContent parses and splits a document, persists its chunks and hands
// off to push-index.
func (p *Pipeline) processContent(ctx context.Context, payload map[string]any) (map[string]any, error) {
	var in ingestPayload
	if err := fromMap(payload, &in); err != nil {
		return nil, err
	}
	if in.ProjectKey == "" {
		return nil, fmt.Errorf("process content: missing project key")
	}
	if in.AssetType == "" {
		in.AssetType = "file"
	}

	doc, err := parser.ParseMarkdown(in.Content)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", in.AssetName, err)
	}
	chunks, err := p.splitter.SplitDocument(doc, in.AssetName)
	if err != nil {
		return nil, err
	}

	project, err := p.content.GetOrCreateProject(ctx, in.ProjectKey)
	if err != nil {
		return nil, err
	}

	if in.Reset {
		deleted, err := p.content.DeleteProjectChunks(ctx, project.ID)
		if err != nil {
			return nil, err
		}
		p.log.Info("existing chunks dropped before re-ingest",
			"project", in.ProjectKey, "deleted", deleted)
	}

	asset, err := p.content.CreateAsset(ctx, project.ID, in.AssetName, in.AssetType, int64(len(in.Content)))
	if err != nil {
		return nil, err
	}
	if _, err := p.content.InsertChunks(ctx, project.ID, &asset.ID, chunks); err != nil {
		return nil, err
	}

	result := ProcessResult{
		ProjectKey: in.ProjectKey,
		AssetName:  in.AssetName,
		Chunks:     len(chunks),
		Reset:      in.Reset,
	}
	if err := result.Validate(); err != nil {
		return nil, err
	}
	resultMap, err := toMap(&result)
	if err != nil {
		return nil, err
	}

	nextID, err := p.dispatcher.Enqueue(ctx, TaskPushIndex, resultMap)
	if err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", TaskPushIndex, err)
	}

	p.log.Info("content processed",
		"project", in.ProjectKey, "asset", in.AssetName,
		"chunks", len(chunks), "next_task", nextID)
	resultMap["next_task"] = nextID
	return resultMap, nil
}

// pushIndex takes stock of a project's durable chunks and hands off to
// index-content. The count comes from the store, not the previous stage, so
// the indexing run always reflects what is actually persisted.
func (p *Pipeline) pushIndex(ctx context.Context, payload map[string]any) (map[string]any, error) {
	var in ProcessResult
	if err := fromMap(payload, &in); err != nil {
		return nil, err
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}

	project, err := p.content.GetProject(ctx, in.ProjectKey)
	if err != nil {
		return nil, err
	}
	if project == nil {
		return nil, fmt.Errorf("push index: project %q not found", in.ProjectKey)
	}

	total, err := p.content.CountChunks(ctx, project.ID)
	if err != nil {
		return nil, err
	}

	result := PushResult{
		ProjectKey:  in.ProjectKey,
		TotalChunks: total,
		Reset:       in.Reset,
	}
	if err := result.Validate(); err != nil {
		return nil, err
	}
	resultMap, err := toMap(&result)
	if err != nil {
		return nil, err
	}

	nextID, err := p.dispatcher.Enqueue(ctx, TaskIndexContent, resultMap)
	if err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", TaskIndexContent, err)
	}

	p.log.Info("indexing handoff",
		"project", in.ProjectKey, "chunks", total, "next_task", nextID)
	resultMap["next_task"] = nextID
	return resultMap, nil
}

// indexContent runs the embedding and vector upsert pass over the project's
// chunks.
func (p *Pipeline) indexContent(ctx context.Context, payload map[string]any) (map[string]any, error) {
	var in PushResult
	if err := fromMap(payload, &in); err != nil {
		return nil, err
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}

	project, err := p.content.GetProject(ctx, in.ProjectKey)
	if err != nil {
		return nil, err
	}
	if project == nil {
		return nil, fmt.Errorf("index content: project %q not found", in.ProjectKey)
	}

	run, err := p.indexer.IndexProject(ctx, project, in.Reset)
	if err != nil {
		return nil, err
	}

	result := IndexResult{
		ProjectKey:  in.ProjectKey,
		Collection:  run.Collection,
		TotalChunks: run.TotalChunks,
		Indexed:     run.Indexed,
	}
	if err := result.Validate(); err != nil {
		return nil, err
	}
	return toMap(&result)
}

// cleanupLedger removes expired terminal ledger and broker records, sharing
// one retention window. Deliberately not ledger-guarded: it must run even
// when an identical cleanup recently succeeded.
func (p *Pipeline) cleanupLedger(ctx context.Context, _ *models.QueuedTask) (map[string]any, error) {
	deleted, err := p.ledger.Cleanup(ctx)
	if err != nil {
		return nil, err
	}
	queueDeleted, err := p.dispatcher.CleanupQueue(ctx, p.ledger.Retention())
	if err != nil {
		return nil, err
	}
	return map[string]any{"deleted": deleted, "queue_deleted": queueDeleted}, nil
}
