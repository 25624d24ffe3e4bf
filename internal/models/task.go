// Package models defines data structures for the docindex store.
package models

import (
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// TaskStatus is the lifecycle state of a task execution record.
type TaskStatus string

const (
	TaskPending TaskStatus = "PENDING"
	TaskStarted TaskStatus = "STARTED"
	TaskSuccess TaskStatus = "SUCCESS"
	TaskFailure TaskStatus = "FAILURE"
)

// IsTerminal reports whether the status is a final state.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskSuccess || s == TaskFailure
}

// TaskExecution is one ledger row per attempted logical job.
// The args_hash column carries a unique index; it is the dedup key that
// guarantees at most one active execution per logical job.
type TaskExecution struct {
	ID surrealmodels.RecordID `json:"id"`

	TaskName string         `json:"task_name"`
	ArgsHash string         `json:"args_hash"`
	TaskArgs map[string]any `json:"task_args"` // retained for audit/debugging

	// Broker-assigned identifier of the underlying queued task, if known.
	QueueTaskID *string `json:"queue_task_id,omitempty"`

	Status TaskStatus     `json:"status"`
	Result map[string]any `json:"result,omitempty"`

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// QueuedTask is a persisted broker record. The broker may redeliver a task;
// the ledger, not the broker, provides the dedup guarantee.
type QueuedTask struct {
	ID surrealmodels.RecordID `json:"id"`

	TaskName string         `json:"task_name"`
	Payload  map[string]any `json:"payload"`

	Status      string         `json:"status"` // queued | running | succeeded | failed
	Attempts    int            `json:"attempts"`
	MaxAttempts int            `json:"max_attempts"`
	Result      map[string]any `json:"result,omitempty"`
	Error       *string        `json:"error,omitempty"`

	NextRunAt time.Time  `json:"next_run_at"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DoneAt    *time.Time `json:"done_at,omitempty"`
}

// Broker task statuses.
const (
	QueueStatusQueued    = "queued"
	QueueStatusRunning   = "running"
	QueueStatusSucceeded = "succeeded"
	QueueStatusFailed    = "failed"
)
