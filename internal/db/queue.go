package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/raphaelgruber/docindex/internal/models"
	"github.com/surrealdb/surrealdb.go"
)

// EnqueueTask creates a queued broker task and returns it with its
// store-assigned ID. The ID is available to callers immediately, before any
// worker picks the task up.
func (c *Client) EnqueueTask(ctx context.Context, taskName string, payload map[string]any, maxAttempts int, delay time.Duration) (*models.QueuedTask, error) {
	results, err := surrealdb.Query[[]models.QueuedTask](ctx, c.db, `
		CREATE queue_task SET
			task_name = $task_name,
			payload = $payload,
			status = 'queued',
			attempts = 0,
			max_attempts = $max_attempts,
			next_run_at = $next_run_at
		RETURN AFTER
	`, map[string]any{
		"task_name":    taskName,
		"payload":      payload,
		"max_attempts": maxAttempts,
		"next_run_at":  time.Now().UTC().Add(delay),
	})
	if err != nil {
		return nil, fmt.Errorf("enqueue task: %w", err)
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, fmt.Errorf("enqueue task: no result returned")
	}
	return &(*results)[0].Result[0], nil
}

// GetQueuedTask retrieves a broker task by ID. Returns nil if not found.
func (c *Client) GetQueuedTask(ctx context.Context, taskID string) (*models.QueuedTask, error) {
	results, err := surrealdb.Query[[]models.QueuedTask](ctx, c.db, `
		SELECT * FROM type::record("queue_task", $id)
	`, map[string]any{"id": taskID})
	if err != nil {
		return nil, fmt.Errorf("get queued task: %w", err)
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, nil
	}
	return &(*results)[0].Result[0], nil
}

// ClaimNextTask atomically claims the oldest runnable task for a worker.
// Returns nil when no task is runnable or another worker won the claim.
//
// The claim is a two-step select-then-conditional-update: the UPDATE only
// succeeds while the record is still 'queued', so two workers can never both
// claim the same task.
func (c *Client) ClaimNextTask(ctx context.Context) (*models.QueuedTask, error) {
	candidates, err := surrealdb.Query[[]models.QueuedTask](ctx, c.db, `
		SELECT * FROM queue_task
		WHERE status = 'queued' AND next_run_at <= time::now()
		ORDER BY created_at ASC
		LIMIT 1
	`, nil)
	if err != nil {
		return nil, fmt.Errorf("claim next task: %w", err)
	}
	if candidates == nil || len(*candidates) == 0 || len((*candidates)[0].Result) == 0 {
		return nil, nil
	}

	candidate := (*candidates)[0].Result[0]
	id, err := models.RecordIDString(candidate.ID)
	if err != nil {
		return nil, fmt.Errorf("claim next task: %w", err)
	}

	results, err := surrealdb.Query[[]models.QueuedTask](ctx, c.db, `
		UPDATE type::record("queue_task", $id) SET
			status = 'running',
			attempts += 1,
			updated_at = time::now()
		WHERE status = 'queued'
		RETURN AFTER
	`, map[string]any{"id": id})
	if err != nil {
		if errors.Is(wrapQueryError(err), ErrTransactionConflict) {
			// Another worker touched the record first; treat as no claim
			return nil, nil
		}
		return nil, fmt.Errorf("claim next task: %w", err)
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		// Lost the claim race
		return nil, nil
	}
	return &(*results)[0].Result[0], nil
}

// CompleteQueuedTask marks a broker task as succeeded with its result.
func (c *Client) CompleteQueuedTask(ctx context.Context, taskID string, result map[string]any) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		UPDATE type::record("queue_task", $id) SET
			status = 'succeeded',
			result = $result,
			updated_at = time::now(),
			done_at = time::now()
	`, map[string]any{"id": taskID, "result": result})
	if err != nil {
		return fmt.Errorf("complete queued task: %w", err)
	}
	return nil
}

// RetryQueuedTask re-queues a failed attempt with a fixed backoff delay.
func (c *Client) RetryQueuedTask(ctx context.Context, taskID string, errMsg string, backoff time.Duration) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		UPDATE type::record("queue_task", $id) SET
			status = 'queued',
			error = $error,
			next_run_at = $next_run_at,
			updated_at = time::now()
	`, map[string]any{
		"id":          taskID,
		"error":       errMsg,
		"next_run_at": time.Now().UTC().Add(backoff),
	})
	if err != nil {
		return fmt.Errorf("retry queued task: %w", err)
	}
	return nil
}

// RequeueStaleTasks returns running tasks whose claim went stale back to the
// queue. A claim is stale when its updated_at predates the cutoff, meaning
// the worker that held it died without reporting an outcome. Attempts are
// kept, so a redelivered task still runs out of max_attempts; whether the
// redelivery re-executes is the ledger's decision.
func (c *Client) RequeueStaleTasks(ctx context.Context, cutoff time.Time) (int, error) {
	results, err := surrealdb.Query[[]models.QueuedTask](ctx, c.db, `
		UPDATE queue_task SET
			status = 'queued',
			next_run_at = time::now(),
			updated_at = time::now()
		WHERE status = 'running' AND updated_at < $cutoff
		RETURN AFTER
	`, map[string]any{"cutoff": cutoff})
	if err != nil {
		return 0, fmt.Errorf("requeue stale tasks: %w", err)
	}

	if results == nil || len(*results) == 0 {
		return 0, nil
	}
	return len((*results)[0].Result), nil
}

// DeleteOldQueueTasks deletes terminal broker records that finished before
// the cutoff. Queued and running records are never deleted regardless of
// age. Returns the number of records deleted.
func (c *Client) DeleteOldQueueTasks(ctx context.Context, cutoff time.Time) (int, error) {
	results, err := surrealdb.Query[[]models.QueuedTask](ctx, c.db, `
		DELETE queue_task
		WHERE status IN ['succeeded', 'failed'] AND done_at < $cutoff
		RETURN BEFORE
	`, map[string]any{"cutoff": cutoff})
	if err != nil {
		return 0, fmt.Errorf("delete old queue tasks: %w", err)
	}

	if results == nil || len(*results) == 0 {
		return 0, nil
	}
	return len((*results)[0].Result), nil
}

// FailQueuedTask marks a broker task as terminally failed.
func (c *Client) FailQueuedTask(ctx context.Context, taskID string, errMsg string) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		UPDATE type::record("queue_task", $id) SET
			status = 'failed',
			error = $error,
			updated_at = time::now(),
			done_at = time::now()
	`, map[string]any{"id": taskID, "error": errMsg})
	if err != nil {
		return fmt.Errorf("fail queued task: %w", err)
	}
	return nil
}
