// Package ledger implements the task-execution ledger that deduplicates
// logical jobs across broker redeliveries and concurrent submitters.
package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/raphaelgruber/docindex/internal/db"
	"github.com/raphaelgruber/docindex/internal/models"
)

// Store is the persistence surface the ledger needs. *db.Client satisfies it.
type Store interface {
	CreateTaskExecution(ctx context.Context, taskName, argsHash string, taskArgs map[string]any, queueTaskID *string) (*models.TaskExecution, error)
	GetTaskExecutionByHash(ctx context.Context, argsHash string) (*models.TaskExecution, error)
	UpdateTaskExecutionStatus(ctx context.Context, executionID string, status models.TaskStatus, result map[string]any) error
	DeleteOldTaskExecutions(ctx context.Context, cutoff time.Time) (int, error)
}

// Ledger guards task handlers against duplicate execution. The unique hash
// index in the store is the only point of mutual exclusion; everything here
// is a decision layered on top of it.
type Ledger struct {
	store Store
	log   *slog.Logger

	// timeLimit is the budget a single execution gets before it is
	// considered stuck; gracePeriod is added on top to absorb clock skew
	// and slow completion writes.
	timeLimit   time.Duration
	gracePeriod time.Duration
	retention   time.Duration
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithTimeLimit overrides the per-execution time budget.
func WithTimeLimit(d time.Duration) Option {
	return func(l *Ledger) { l.timeLimit = d }
}

// WithGracePeriod overrides the stuck-detection grace period.
func WithGracePeriod(d time.Duration) Option {
	return func(l *Ledger) { l.gracePeriod = d }
}

// WithRetention overrides how long terminal records are kept.
func WithRetention(d time.Duration) Option {
	return func(l *Ledger) { l.retention = d }
}

// New creates a Ledger with the given store and defaults matching a
// ten-minute task budget, one minute of grace and one day of retention.
func New(store Store, log *slog.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		store:       store,
		log:         log,
		timeLimit:   10 * time.Minute,
		gracePeriod: time.Minute,
		retention:   24 * time.Hour,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Retention reports the configured terminal-record retention window.
func (l *Ledger) Retention() time.Duration {
	return l.retention
}

// ArgsHash computes the dedup key for a logical job: the hex-encoded SHA-256
// of the canonical JSON encoding of the task arguments merged with the task
// name. encoding/json writes map keys in sorted order, so two calls with the
// same arguments in different insertion order produce the same hash.
func ArgsHash(taskName string, args map[string]any) (string, error) {
	merged := make(map[string]any, len(args)+1)
	for k, v := range args {
		merged[k] = v
	}
	merged["task_name"] = taskName

	data, err := json.Marshal(merged)
	if err != nil {
		return "", fmt.Errorf("hash task args: %w", err)
	}

	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Acquisition is the outcome of an Acquire call. When Proceed is false the
// caller must not run the handler; for an already-succeeded job CachedResult
// carries the stored result of the earlier run.
type Acquisition struct {
	Proceed      bool
	Execution    *models.TaskExecution
	CachedResult map[string]any
}

// Acquire decides whether the caller may execute the logical job identified
// by taskName and args, creating or reopening the ledger record as needed.
//
// A fresh job gets a new PENDING record and proceeds. An in-flight record
// within its time budget blocks the caller. A record stuck past
// timeLimit+gracePeriod is reopened, as is a FAILURE record (retry). A
// SUCCESS record blocks and hands back the stored result.
func (l *Ledger) Acquire(ctx context.Context, taskName string, args map[string]any, queueTaskID *string) (*Acquisition, error) {
	hash, err := ArgsHash(taskName, args)
	if err != nil {
		return nil, err
	}

	existing, err := l.store.GetTaskExecutionByHash(ctx, hash)
	if err != nil {
		return nil, err
	}

	if existing == nil {
		created, err := l.store.CreateTaskExecution(ctx, taskName, hash, args, queueTaskID)
		if err == nil {
			l.log.Debug("ledger record created",
				"task", taskName, "execution", models.MustRecordIDString(created.ID))
			return &Acquisition{Proceed: true, Execution: created}, nil
		}
		if !errors.Is(err, db.ErrAlreadyExists) {
			return nil, err
		}
		// Lost the create race; the winner's record decides
		existing, err = l.store.GetTaskExecutionByHash(ctx, hash)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, fmt.Errorf("ledger: record for hash %s vanished after create conflict", hash)
		}
	}

	return l.decide(ctx, taskName, existing)
}

func (l *Ledger) decide(ctx context.Context, taskName string, record *models.TaskExecution) (*Acquisition, error) {
	id, err := models.RecordIDString(record.ID)
	if err != nil {
		return nil, err
	}

	switch record.Status {
	case models.TaskSuccess:
		l.log.Info("skipping duplicate task, reusing stored result",
			"task", taskName, "execution", id)
		return &Acquisition{Proceed: false, Execution: record, CachedResult: record.Result}, nil

	case models.TaskFailure:
		l.log.Info("retrying previously failed task",
			"task", taskName, "execution", id)
		if err := l.store.UpdateTaskExecutionStatus(ctx, id, models.TaskStarted, nil); err != nil {
			return nil, err
		}
		return &Acquisition{Proceed: true, Execution: record}, nil

	case models.TaskPending, models.TaskStarted:
		elapsed := time.Since(record.StartedAt)
		if elapsed <= l.timeLimit+l.gracePeriod {
			l.log.Info("task already in flight, skipping duplicate",
				"task", taskName, "execution", id, "elapsed", elapsed)
			return &Acquisition{Proceed: false, Execution: record}, nil
		}
		l.log.Warn("reopening stuck task",
			"task", taskName, "execution", id, "elapsed", elapsed)
		if err := l.store.UpdateTaskExecutionStatus(ctx, id, models.TaskStarted, nil); err != nil {
			return nil, err
		}
		return &Acquisition{Proceed: true, Execution: record}, nil

	default:
		return nil, fmt.Errorf("ledger: unknown task status %q on execution %s", record.Status, id)
	}
}

// Start transitions an acquired record to STARTED. Call it when the handler
// actually begins work, so stuck detection measures handler time rather than
// queue wait.
func (l *Ledger) Start(ctx context.Context, execution *models.TaskExecution) error {
	id, err := models.RecordIDString(execution.ID)
	if err != nil {
		return err
	}
	return l.store.UpdateTaskExecutionStatus(ctx, id, models.TaskStarted, nil)
}

// Complete records a successful execution with its result.
func (l *Ledger) Complete(ctx context.Context, execution *models.TaskExecution, result map[string]any) error {
	id, err := models.RecordIDString(execution.ID)
	if err != nil {
		return err
	}
	return l.store.UpdateTaskExecutionStatus(ctx, id, models.TaskSuccess, result)
}

// Fail records a failed execution. The error message is stored in the result
// so later status queries can surface it.
func (l *Ledger) Fail(ctx context.Context, execution *models.TaskExecution, failure error) error {
	id, err := models.RecordIDString(execution.ID)
	if err != nil {
		return err
	}
	result := map[string]any{"error": failure.Error()}
	return l.store.UpdateTaskExecutionStatus(ctx, id, models.TaskFailure, result)
}

// Cleanup deletes terminal records older than the retention window and
// returns the number removed. Records still in flight are never touched.
func (l *Ledger) Cleanup(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-l.retention)
	deleted, err := l.store.DeleteOldTaskExecutions(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		l.log.Info("cleaned up old ledger records", "deleted", deleted, "cutoff", cutoff)
	}
	return deleted, nil
}
