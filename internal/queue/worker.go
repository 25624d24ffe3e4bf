// Package queue runs persisted broker tasks on a worker pool and exposes
// task submission and status polling.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/raphaelgruber/docindex/internal/models"
	"golang.org/x/sync/errgroup"
)

// HandlerFunc executes one task and returns its result payload.
type HandlerFunc func(ctx context.Context, task *models.QueuedTask) (map[string]any, error)

// Broker is the persistence surface the worker needs. *db.Client satisfies
// it.
type Broker interface {
	EnqueueTask(ctx context.Context, taskName string, payload map[string]any, maxAttempts int, delay time.Duration) (*models.QueuedTask, error)
	GetQueuedTask(ctx context.Context, taskID string) (*models.QueuedTask, error)
	ClaimNextTask(ctx context.Context) (*models.QueuedTask, error)
	CompleteQueuedTask(ctx context.Context, taskID string, result map[string]any) error
	RetryQueuedTask(ctx context.Context, taskID string, errMsg string, backoff time.Duration) error
	FailQueuedTask(ctx context.Context, taskID string, errMsg string) error
	RequeueStaleTasks(ctx context.Context, cutoff time.Time) (int, error)
	DeleteOldQueueTasks(ctx context.Context, cutoff time.Time) (int, error)
}

// Worker claims tasks from the broker and dispatches them to registered
// handlers. Redelivery is expected; handlers are guarded by the execution
// ledger, not the broker.
type Worker struct {
	broker   Broker
	handlers map[string]HandlerFunc
	log      *slog.Logger

	concurrency   int
	pollInterval  time.Duration
	retryBackoff  time.Duration
	taskTimeout   time.Duration
	staleAfter    time.Duration
	sweepInterval time.Duration
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithConcurrency sets the number of claim loops.
func WithConcurrency(n int) WorkerOption {
	return func(w *Worker) { w.concurrency = n }
}

// WithPollInterval sets the idle sleep between empty claims.
func WithPollInterval(d time.Duration) WorkerOption {
	return func(w *Worker) { w.pollInterval = d }
}

// WithRetryBackoff sets the fixed delay before a failed task is redelivered.
func WithRetryBackoff(d time.Duration) WorkerOption {
	return func(w *Worker) { w.retryBackoff = d }
}

// WithTaskTimeout bounds a single handler invocation.
func WithTaskTimeout(d time.Duration) WorkerOption {
	return func(w *Worker) { w.taskTimeout = d }
}

// WithStaleAfter sets how long a running claim may go without an outcome
// before the sweep returns it to the queue. Defaults to the task timeout
// plus a minute of grace.
func WithStaleAfter(d time.Duration) WorkerOption {
	return func(w *Worker) { w.staleAfter = d }
}

// WithSweepInterval sets how often the stale-claim sweep runs.
func WithSweepInterval(d time.Duration) WorkerOption {
	return func(w *Worker) { w.sweepInterval = d }
}

// NewWorker creates a worker pool over the broker.
func NewWorker(broker Broker, log *slog.Logger, opts ...WorkerOption) *Worker {
	w := &Worker{
		broker:        broker,
		handlers:      make(map[string]HandlerFunc),
		log:           log,
		concurrency:   4,
		pollInterval:  time.Second,
		retryBackoff:  time.Minute,
		taskTimeout:   10 * time.Minute,
		sweepInterval: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.staleAfter <= 0 {
		w.staleAfter = w.taskTimeout + time.Minute
	}
	return w
}

// Register binds a handler to a task name. Claimed tasks with no handler are
// failed immediately.
func (w *Worker) Register(taskName string, handler HandlerFunc) {
	w.handlers[taskName] = handler
}

// Run starts the claim loops and blocks until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("worker starting", "concurrency", w.concurrency, "handlers", len(w.handlers))

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.concurrency; i++ {
		g.Go(func() error {
			return w.claimLoop(ctx)
		})
	}
	g.Go(func() error {
		return w.sweepLoop(ctx)
	})

	err := g.Wait()
	w.log.Info("worker stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (w *Worker) claimLoop(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		task, err := w.broker.ClaimNextTask(ctx)
		if err != nil {
			w.log.Error("claim failed", "error", err)
			task = nil
		}
		if task == nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.pollInterval):
			}
			continue
		}

		w.execute(ctx, task)
	}
}

// sweepLoop periodically returns stale claims to the queue. A claim goes
// stale when the worker that held it died mid-task; redelivery hands the
// task back to the ledger, which knows how to reopen a stuck execution.
func (w *Worker) sweepLoop(ctx context.Context) error {
	ticker := time.NewTicker(w.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		requeued, err := w.broker.RequeueStaleTasks(ctx, time.Now().UTC().Add(-w.staleAfter))
		if err != nil {
			w.log.Error("stale claim sweep failed", "error", err)
			continue
		}
		if requeued > 0 {
			w.log.Warn("returned stale claims to the queue", "count", requeued)
		}
	}
}

func (w *Worker) execute(ctx context.Context, task *models.QueuedTask) {
	taskID, err := models.RecordIDString(task.ID)
	if err != nil {
		w.log.Error("claimed task has unusable ID", "error", err)
		return
	}

	log := w.log.With("task", task.TaskName, "id", taskID, "attempt", task.Attempts)

	handler, ok := w.handlers[task.TaskName]
	if !ok {
		log.Error("no handler registered")
		if err := w.broker.FailQueuedTask(ctx, taskID, "no handler registered for "+task.TaskName); err != nil {
			log.Error("failed to mark task failed", "error", err)
		}
		return
	}

	runCtx, cancel := context.WithTimeout(ctx, w.taskTimeout)
	defer cancel()

	start := time.Now()
	result, err := runHandler(runCtx, handler, task)
	elapsed := time.Since(start)

	if err == nil {
		log.Info("task succeeded", "elapsed", elapsed)
		if err := w.broker.CompleteQueuedTask(ctx, taskID, result); err != nil {
			log.Error("failed to mark task succeeded", "error", err)
		}
		return
	}

	if task.Attempts >= task.MaxAttempts {
		log.Error("task failed permanently", "elapsed", elapsed, "error", err)
		if err := w.broker.FailQueuedTask(ctx, taskID, err.Error()); err != nil {
			log.Error("failed to mark task failed", "error", err)
		}
		return
	}

	log.Warn("task failed, will retry", "elapsed", elapsed, "backoff", w.retryBackoff, "error", err)
	if err := w.broker.RetryQueuedTask(ctx, taskID, err.Error(), w.retryBackoff); err != nil {
		log.Error("failed to requeue task", "error", err)
	}
}

// runHandler isolates handler panics so one bad task cannot take down a
// claim loop.
func runHandler(ctx context.Context, handler HandlerFunc, task *models.QueuedTask) (result map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return handler(ctx, task)
}
