package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aiwaverider/mediasync/internal/core/domain"
	"github.com/aiwaverider/mediasync/internal/infra/storage"
	"github.com/aiwaverider/mediasync/internal/upload/metrics"
)

// Config holds the queue scheduler knobs.
type Config struct {
	SweepInterval domain.Duration `yaml:"sweep_interval"`
	StaleAfter    domain.Duration `yaml:"stale_after"`
	MaxRetries    int             `yaml:"max_retries"`
}

func (c Config) sweepInterval() time.Duration {
	if c.SweepInterval <= 0 {
		return 5 * time.Second
	}
	return c.SweepInterval.Std()
}

func (c Config) staleAfter() time.Duration {
	if c.StaleAfter <= 0 {
		return time.Hour
	}
	return c.StaleAfter.Std()
}

// Queue is the durable, priority-ordered task queue with dependency edges.
// Enqueue and completion wake idle workers through subscriber channels; a
// periodic sweep handles retry requeueing, failure propagation, and tasks
// orphaned by a crash, so progress never depends on the notifications alone.
type Queue struct {
	cfg   Config
	tasks storage.TaskRepository
	log   *slog.Logger

	mu   sync.Mutex
	subs []chan struct{}
}

// New creates a queue over the given task repository.
func New(cfg Config, tasks storage.TaskRepository, log *slog.Logger) *Queue {
	if log == nil {
		log = slog.Default()
	}
	return &Queue{cfg: cfg, tasks: tasks, log: log}
}

// Option customizes a task on Add.
type Option func(*domain.Task)

// WithPriority sets the task priority; higher runs first.
func WithPriority(p int) Option {
	return func(t *domain.Task) { t.Priority = p }
}

// DependsOn adds dependency edges; the task won't run until all listed tasks
// are COMPLETED, and fails without running if any of them fails.
func DependsOn(ids ...int64) Option {
	return func(t *domain.Task) { t.DependsOn = append(t.DependsOn, ids...) }
}

// WithMaxRetries overrides the default retry ceiling for this task.
func WithMaxRetries(n int) Option {
	return func(t *domain.Task) { t.MaxRetries = n }
}

// Add persists a new PENDING task and wakes the workers.
func (q *Queue) Add(ctx context.Context, taskType domain.TaskType, payload any, opts ...Option) (int64, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal payload: %w", err)
	}

	task := &domain.Task{
		Type:       taskType,
		Payload:    data,
		Status:     domain.TaskPending,
		MaxRetries: q.cfg.MaxRetries,
	}
	for _, opt := range opts {
		opt(task)
	}

	id, err := q.tasks.Add(ctx, task)
	if err != nil {
		return 0, err
	}

	q.log.Debug("task enqueued", "task_id", id, "type", taskType, "priority", task.Priority)
	metrics.TaskTransitions.WithLabelValues(string(taskType), string(domain.TaskPending)).Inc()
	q.Wake()
	return id, nil
}

// Subscribe returns a channel that receives a signal whenever new work may be
// available. Each worker holds one subscription.
func (q *Queue) Subscribe() <-chan struct{} {
	ch := make(chan struct{}, 1)
	q.mu.Lock()
	q.subs = append(q.subs, ch)
	q.mu.Unlock()
	return ch
}

// Wake signals all subscribers without blocking.
func (q *Queue) Wake() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, ch := range q.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Start runs the periodic sweep until ctx is cancelled.
func (q *Queue) Start(ctx context.Context) {
	ticker := time.NewTicker(q.cfg.sweepInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.sweep(ctx)
		}
	}
}

// sweep propagates dependency failures transitively, moves RETRYING tasks
// back into the selection pool, and rescues tasks stuck PROCESSING since a
// crash. Any progress wakes the workers.
func (q *Queue) sweep(ctx context.Context) {
	var woke bool

	for {
		n, err := q.tasks.FailDependents(ctx)
		if err != nil {
			q.log.Error("failure propagation sweep failed", "error", err)
			break
		}
		if n == 0 {
			break
		}
		q.log.Info("failed dependent tasks", "count", n)
	}

	if n, err := q.tasks.RequeueRetrying(ctx); err != nil {
		q.log.Error("retry requeue sweep failed", "error", err)
	} else if n > 0 {
		q.log.Debug("requeued retrying tasks", "count", n)
		woke = true
	}

	if n, err := q.tasks.ResetStale(ctx, q.cfg.staleAfter()); err != nil {
		q.log.Error("stale task sweep failed", "error", err)
	} else if n > 0 {
		q.log.Warn("reset stale processing tasks", "count", n)
		woke = true
	}

	if counts, err := q.tasks.CountByStatus(ctx); err == nil {
		for status, n := range counts {
			metrics.QueueDepth.WithLabelValues(string(status)).Set(float64(n))
		}
	}

	if woke {
		q.Wake()
	}
}

// CountByStatus exposes queue depth for status reporting.
func (q *Queue) CountByStatus(ctx context.Context) (map[domain.TaskStatus]int, error) {
	return q.tasks.CountByStatus(ctx)
}
