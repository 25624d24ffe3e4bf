package db

import (
	"context"
	"fmt"
	"time"

	"github.com/raphaelgruber/docindex/internal/models"
	"github.com/surrealdb/surrealdb.go"
)

// CreateTaskExecution inserts a new PENDING ledger record.
// Returns a wrapped ErrAlreadyExists when the unique args_hash index rejects
// the insert; the caller recovers by re-reading the winning record.
func (c *Client) CreateTaskExecution(ctx context.Context, taskName, argsHash string, taskArgs map[string]any, queueTaskID *string) (*models.TaskExecution, error) {
	results, err := surrealdb.Query[[]models.TaskExecution](ctx, c.db, `
		CREATE task_execution SET
			task_name = $task_name,
			args_hash = $args_hash,
			task_args = $task_args,
			queue_task_id = $queue_task_id,
			status = 'PENDING',
			started_at = time::now()
		RETURN AFTER
	`, map[string]any{
		"task_name":     taskName,
		"args_hash":     argsHash,
		"task_args":     taskArgs,
		"queue_task_id": queueTaskID,
	})
	if err != nil {
		return nil, wrapQueryError(err)
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, fmt.Errorf("create task execution: no result returned")
	}
	return &(*results)[0].Result[0], nil
}

// GetTaskExecutionByHash retrieves a ledger record by its dedup key.
// Returns nil if not found.
func (c *Client) GetTaskExecutionByHash(ctx context.Context, argsHash string) (*models.TaskExecution, error) {
	results, err := surrealdb.Query[[]models.TaskExecution](ctx, c.db, `
		SELECT * FROM task_execution WHERE args_hash = $args_hash LIMIT 1
	`, map[string]any{"args_hash": argsHash})
	if err != nil {
		return nil, fmt.Errorf("get task execution by hash: %w", err)
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, nil
	}
	return &(*results)[0].Result[0], nil
}

// GetTaskExecution retrieves a ledger record by execution ID.
// Returns nil if not found.
func (c *Client) GetTaskExecution(ctx context.Context, executionID string) (*models.TaskExecution, error) {
	results, err := surrealdb.Query[[]models.TaskExecution](ctx, c.db, `
		SELECT * FROM type::record("task_execution", $id)
	`, map[string]any{"id": executionID})
	if err != nil {
		return nil, fmt.Errorf("get task execution: %w", err)
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, nil
	}
	return &(*results)[0].Result[0], nil
}

// GetTaskExecutionByQueueTaskID resolves a ledger record from a broker task ID.
// Returns nil if no ledger record references that broker task.
func (c *Client) GetTaskExecutionByQueueTaskID(ctx context.Context, queueTaskID string) (*models.TaskExecution, error) {
	results, err := surrealdb.Query[[]models.TaskExecution](ctx, c.db, `
		SELECT * FROM task_execution WHERE queue_task_id = $queue_task_id LIMIT 1
	`, map[string]any{"queue_task_id": queueTaskID})
	if err != nil {
		return nil, fmt.Errorf("get task execution by queue task: %w", err)
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, nil
	}
	return &(*results)[0].Result[0], nil
}

// UpdateTaskExecutionStatus transitions a ledger record.
// STARTED refreshes started_at (the stuck-task reopen path relies on this);
// terminal states stamp completed_at and store the result when provided.
// Updating a record that no longer exists is a no-op, tolerating retention
// cleanup races.
func (c *Client) UpdateTaskExecutionStatus(ctx context.Context, executionID string, status models.TaskStatus, result map[string]any) error {
	sql := `UPDATE type::record("task_execution", $id) SET status = $status`
	vars := map[string]any{
		"id":     executionID,
		"status": string(status),
	}

	switch {
	case status == models.TaskStarted || status == models.TaskPending:
		sql += `, started_at = time::now()`
	case status.IsTerminal():
		sql += `, completed_at = time::now()`
	}
	if result != nil {
		sql += `, result = $result`
		vars["result"] = result
	}

	if _, err := surrealdb.Query[any](ctx, c.db, sql, vars); err != nil {
		return fmt.Errorf("update task execution status: %w", err)
	}
	return nil
}

// DeleteOldTaskExecutions deletes terminal ledger records created before the
// cutoff. Non-terminal records are never deleted here regardless of age.
// Returns the number of records deleted.
func (c *Client) DeleteOldTaskExecutions(ctx context.Context, cutoff time.Time) (int, error) {
	results, err := surrealdb.Query[[]models.TaskExecution](ctx, c.db, `
		DELETE task_execution
		WHERE created_at < $cutoff AND status IN ['SUCCESS', 'FAILURE']
		RETURN BEFORE
	`, map[string]any{"cutoff": cutoff})
	if err != nil {
		return 0, fmt.Errorf("delete old task executions: %w", err)
	}

	if results == nil || len(*results) == 0 {
		return 0, nil
	}
	return len((*results)[0].Result), nil
}

// ListTaskExecutions returns the most recent ledger records.
func (c *Client) ListTaskExecutions(ctx context.Context, limit int) ([]models.TaskExecution, error) {
	results, err := surrealdb.Query[[]models.TaskExecution](ctx, c.db, `
		SELECT * FROM task_execution ORDER BY created_at DESC LIMIT $limit
	`, map[string]any{"limit": limit})
	if err != nil {
		return nil, fmt.Errorf("list task executions: %w", err)
	}

	if results == nil || len(*results) == 0 {
		return []models.TaskExecution{}, nil
	}
	return (*results)[0].Result, nil
}
