package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/aiwaverider/mediasync/internal/core/domain"
	"github.com/aiwaverider/mediasync/internal/infra/storage"
	"github.com/aiwaverider/mediasync/internal/upload/metrics"
)

// Executor runs one task type's payload to completion. The returned result
// is stored on the task for dependents to read.
type Executor interface {
	// Type returns the task type this executor handles
	Type() domain.TaskType

	// Execute runs one task. Errors classified permanent fail the task
	// immediately; everything else consumes a retry.
	Execute(ctx context.Context, task *domain.Task) ([]byte, error)
}

// Worker drains one task type from the queue, one task at a time.
// Concurrency comes from running one worker per type, never from inside a
// worker. Execution failures become task-state transitions; they never crash
// the loop.
type Worker struct {
	exec  Executor
	tasks storage.TaskRepository
	queue *Queue
	log   *slog.Logger

	processed atomic.Int64
	failed    atomic.Int64
}

// NewWorker creates a worker for the executor's task type.
func NewWorker(exec Executor, tasks storage.TaskRepository, q *Queue, log *slog.Logger) *Worker {
	if log == nil {
		log = slog.Default()
	}
	return &Worker{
		exec:  exec,
		tasks: tasks,
		queue: q,
		log:   log.With("worker", string(exec.Type())),
	}
}

// Run claims and processes tasks until ctx is cancelled. Between tasks the
// worker sleeps on the queue's notification channel, with a periodic poll as
// a fallback for work made eligible outside this process's notifications.
func (w *Worker) Run(ctx context.Context) {
	notify := w.queue.Subscribe()
	w.log.Info("worker started")

	for {
		task, err := w.tasks.ClaimNext(ctx, w.exec.Type())
		switch {
		case err == nil:
			w.process(ctx, task)
			continue
		case errors.Is(err, storage.ErrNotFound):
			// Queue empty for this type; wait for a wake-up.
		case ctx.Err() != nil:
			w.log.Info("worker stopped", "processed", w.processed.Load(), "failed", w.failed.Load())
			return
		default:
			w.log.Error("claim failed", "error", err)
		}

		select {
		case <-ctx.Done():
			w.log.Info("worker stopped", "processed", w.processed.Load(), "failed", w.failed.Load())
			return
		case <-notify:
		case <-time.After(w.queue.cfg.sweepInterval()):
		}
	}
}

func (w *Worker) process(ctx context.Context, task *domain.Task) {
	w.log.Info("processing task", "task_id", task.ID, "retry_count", task.RetryCount)

	// State transitions use a detached context: a shutdown that cancels the
	// run context must not strand a finished task in PROCESSING.
	mctx := context.WithoutCancel(ctx)

	result, err := w.safeExecute(ctx, task)
	if err == nil {
		if err := w.tasks.Complete(mctx, task.ID, result); err != nil {
			w.log.Error("failed to mark task completed", "task_id", task.ID, "error", err)
			return
		}
		w.processed.Add(1)
		metrics.TaskTransitions.WithLabelValues(string(task.Type), string(domain.TaskCompleted)).Inc()
		w.log.Info("task completed", "task_id", task.ID)
		// Dependents may have become eligible.
		w.queue.Wake()
		return
	}

	if domain.IsPermanent(err) || task.RetryCount >= task.MaxRetries {
		if markErr := w.tasks.MarkFailed(mctx, task.ID, err.Error()); markErr != nil {
			w.log.Error("failed to mark task failed", "task_id", task.ID, "error", markErr)
			return
		}
		w.failed.Add(1)
		metrics.TaskTransitions.WithLabelValues(string(task.Type), string(domain.TaskFailed)).Inc()
		w.log.Error("task failed",
			"task_id", task.ID, "retry_count", task.RetryCount, "error", err)
		return
	}

	// Retryable (including circuit-open rejections, which cost no retry
	// budget at the HTTP level but do consume a task attempt here).
	retryCount := task.RetryCount + 1
	if markErr := w.tasks.MarkRetrying(mctx, task.ID, retryCount, err.Error()); markErr != nil {
		w.log.Error("failed to mark task retrying", "task_id", task.ID, "error", markErr)
		return
	}
	metrics.TaskTransitions.WithLabelValues(string(task.Type), string(domain.TaskRetrying)).Inc()
	w.log.Warn("task will retry",
		"task_id", task.ID, "attempt", retryCount, "max_retries", task.MaxRetries, "error", err)
}

// safeExecute turns a panicking executor into an ordinary task failure.
func (w *Worker) safeExecute(ctx context.Context, task *domain.Task) (result []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor panic: %v", r)
		}
	}()
	return w.exec.Execute(ctx, task)
}
