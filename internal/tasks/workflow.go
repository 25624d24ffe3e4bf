package tasks

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/raphaelgruber/docindex/internal/queue"
)

// Workflow is the submission side of the pipeline: it turns caller intents
// into the first broker task of the matching chain and returns the task ID
// for status polling.
type Workflow struct {
	dispatcher *queue.Dispatcher
	log        *slog.Logger
}

// NewWorkflow creates a workflow coordinator.
func NewWorkflow(dispatcher *queue.Dispatcher, log *slog.Logger) *Workflow {
	return &Workflow{dispatcher: dispatcher, log: log}
}

// IngestDocument submits a document for the full chain: process-content,
// then push-index, then index-content. With reset the project's existing
// chunks and vectors are rebuilt from scratch.
func (w *Workflow) IngestDocument(ctx context.Context, projectKey, assetName, assetType, content string, reset bool) (string, error) {
	if projectKey == "" {
		return "", fmt.Errorf("ingest: project key required")
	}
	if content == "" {
		return "", fmt.Errorf("ingest: empty content")
	}

	payload, err := toMap(&ingestPayload{
		ProjectKey: projectKey,
		AssetName:  assetName,
		AssetType:  assetType,
		Content:    content,
		Reset:      reset,
	})
	if err != nil {
		return "", err
	}

	taskID, err := w.dispatcher.Enqueue(ctx, TaskProcessContent, payload)
	if err != nil {
		return "", err
	}

	w.log.Info("ingest submitted",
		"project", projectKey, "asset", assetName, "reset", reset, "task", taskID)
	return taskID, nil
}

// ReindexProject submits an indexing run over the chunks already persisted
// for the project, skipping the processing stages.
func (w *Workflow) ReindexProject(ctx context.Context, projectKey string, reset bool) (string, error) {
	if projectKey == "" {
		return "", fmt.Errorf("reindex: project key required")
	}

	payload, err := toMap(&PushResult{ProjectKey: projectKey, Reset: reset})
	if err != nil {
		return "", err
	}

	taskID, err := w.dispatcher.Enqueue(ctx, TaskIndexContent, payload)
	if err != nil {
		return "", err
	}

	w.log.Info("reindex submitted", "project", projectKey, "reset", reset, "task", taskID)
	return taskID, nil
}

// SubmitCleanup schedules a retention sweep over ledger and broker records.
func (w *Workflow) SubmitCleanup(ctx context.Context) (string, error) {
	return w.dispatcher.Enqueue(ctx, TaskCleanupLedger, nil)
}

// Status polls the state of a previously submitted task.
func (w *Workflow) Status(ctx context.Context, taskID string) (*queue.TaskStatus, error) {
	return w.dispatcher.Status(ctx, taskID)
}
