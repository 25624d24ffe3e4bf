package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/raphaelgruber/docindex/internal/models"
)

// TaskState is the caller-facing lifecycle of a submitted task.
type TaskState string

const (
	StatePending TaskState = "PENDING"
	StateStarted TaskState = "STARTED"
	StateSuccess TaskState = "SUCCESS"
	StateFailure TaskState = "FAILURE"

	// StateUnknown is reported for task IDs the broker has no record of,
	// including records already removed by retention cleanup.
	StateUnknown TaskState = "UNKNOWN"
)

// TaskStatus is a point-in-time view of a submitted task.
type TaskStatus struct {
	TaskID   string
	TaskName string
	State    TaskState
	Attempts int
	Result   map[string]any
	Error    *string
}

// Dispatcher submits tasks and polls their status.
type Dispatcher struct {
	broker      Broker
	log         *slog.Logger
	maxAttempts int
}

// NewDispatcher creates a dispatcher with the given broker-level retry
// budget per task.
func NewDispatcher(broker Broker, log *slog.Logger, maxAttempts int) *Dispatcher {
	return &Dispatcher{broker: broker, log: log, maxAttempts: maxAttempts}
}

// Enqueue submits a task for execution and returns its broker ID.
func (d *Dispatcher) Enqueue(ctx context.Context, taskName string, payload map[string]any) (string, error) {
	return d.EnqueueAfter(ctx, taskName, payload, 0)
}

// EnqueueAfter submits a task that becomes runnable after the delay.
func (d *Dispatcher) EnqueueAfter(ctx context.Context, taskName string, payload map[string]any, delay time.Duration) (string, error) {
	task, err := d.broker.EnqueueTask(ctx, taskName, payload, d.maxAttempts, delay)
	if err != nil {
		return "", err
	}
	taskID, err := models.RecordIDString(task.ID)
	if err != nil {
		return "", err
	}

	d.log.Info("task enqueued", "task", taskName, "id", taskID, "delay", delay)
	return taskID, nil
}

// CleanupQueue deletes terminal broker records older than the retention
// window and returns the number removed.
func (d *Dispatcher) CleanupQueue(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-retention)
	deleted, err := d.broker.DeleteOldQueueTasks(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		d.log.Info("cleaned up old broker records", "deleted", deleted, "cutoff", cutoff)
	}
	return deleted, nil
}

// Status reports the current state of a task. An unknown ID yields
// StateUnknown rather than an error so pollers can treat expired records
// uniformly.
func (d *Dispatcher) Status(ctx context.Context, taskID string) (*TaskStatus, error) {
	task, err := d.broker.GetQueuedTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return &TaskStatus{TaskID: taskID, State: StateUnknown}, nil
	}

	return &TaskStatus{
		TaskID:   taskID,
		TaskName: task.TaskName,
		State:    stateFor(task.Status),
		Attempts: task.Attempts,
		Result:   task.Result,
		Error:    task.Error,
	}, nil
}

func stateFor(brokerStatus string) TaskState {
	switch brokerStatus {
	case models.QueueStatusQueued:
		return StatePending
	case models.QueueStatusRunning:
		return StateStarted
	case models.QueueStatusSucceeded:
		return StateSuccess
	case models.QueueStatusFailed:
		return StateFailure
	default:
		return StateUnknown
	}
}
