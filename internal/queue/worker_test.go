package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aiwaverider/mediasync/internal/core/domain"
	"github.com/aiwaverider/mediasync/internal/infra/storage/memory"
)

// scriptedExecutor returns its results in order, then succeeds.
type scriptedExecutor struct {
	taskType domain.TaskType
	results  []error
	calls    int
	panics   bool
}

func (e *scriptedExecutor) Type() domain.TaskType { return e.taskType }

func (e *scriptedExecutor) Execute(ctx context.Context, task *domain.Task) ([]byte, error) {
	e.calls++
	if e.panics {
		panic("executor bug")
	}
	if e.calls <= len(e.results) {
		return nil, e.results[e.calls-1]
	}
	return json.Marshal(map[string]string{"ok": "true"})
}

func newWorkerHarness(t *testing.T, exec *scriptedExecutor) (*Worker, *Queue, *memory.TaskRepo) {
	t.Helper()
	tasks := memory.NewTaskRepo(memory.NewMemoryStorage())
	q := New(Config{MaxRetries: 3}, tasks, nil)
	return NewWorker(exec, tasks, q, nil), q, tasks
}

func TestWorkerCompletesTaskAndStoresResult(t *testing.T) {
	exec := &scriptedExecutor{taskType: domain.TaskDownloadVideo}
	w, q, tasks := newWorkerHarness(t, exec)
	ctx := context.Background()

	id, _ := q.Add(ctx, domain.TaskDownloadVideo, nil)

	claimed, err := tasks.ClaimNext(ctx, domain.TaskDownloadVideo)
	if err != nil {
		t.Fatal(err)
	}
	w.process(ctx, claimed)

	task, err := tasks.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if task.Status != domain.TaskCompleted {
		t.Errorf("status = %s, want COMPLETED", task.Status)
	}
	if len(task.Result) == 0 {
		t.Error("result not stored on completed task")
	}
}

func TestWorkerMarksRetryingOnTransientError(t *testing.T) {
	exec := &scriptedExecutor{
		taskType: domain.TaskUploadDrive,
		results:  []error{domain.Transient("be", "upload", errors.New("http 503"))},
	}
	w, q, tasks := newWorkerHarness(t, exec)
	ctx := context.Background()

	id, _ := q.Add(ctx, domain.TaskUploadDrive, nil)
	claimed, _ := tasks.ClaimNext(ctx, domain.TaskUploadDrive)
	w.process(ctx, claimed)

	task, _ := tasks.Get(ctx, id)
	if task.Status != domain.TaskRetrying {
		t.Errorf("status = %s, want RETRYING", task.Status)
	}
	if task.RetryCount != 1 {
		t.Errorf("retry count = %d, want 1", task.RetryCount)
	}
	if task.LastError == "" {
		t.Error("last error not recorded")
	}
}

func TestWorkerFailsTaskOnPermanentError(t *testing.T) {
	exec := &scriptedExecutor{
		taskType: domain.TaskUploadDrive,
		results:  []error{domain.Permanent("be", "upload", errors.New("http 403"))},
	}
	w, q, tasks := newWorkerHarness(t, exec)
	ctx := context.Background()

	id, _ := q.Add(ctx, domain.TaskUploadDrive, nil)
	claimed, _ := tasks.ClaimNext(ctx, domain.TaskUploadDrive)
	w.process(ctx, claimed)

	task, _ := tasks.Get(ctx, id)
	if task.Status != domain.TaskFailed {
		t.Errorf("status = %s, want FAILED: permanent errors skip the retry budget", task.Status)
	}
	if task.RetryCount != 0 {
		t.Errorf("retry count = %d, want 0", task.RetryCount)
	}
}

func TestWorkerFailsTaskWhenRetriesExhausted(t *testing.T) {
	transient := domain.Transient("be", "upload", errors.New("http 500"))
	exec := &scriptedExecutor{
		taskType: domain.TaskUploadDrive,
		results:  []error{transient, transient, transient, transient},
	}
	w, q, tasks := newWorkerHarness(t, exec)
	ctx := context.Background()

	id, _ := q.Add(ctx, domain.TaskUploadDrive, nil)

	// Drive the task through its full retry budget by hand: claim, fail,
	// requeue, as the sweep would.
	for {
		claimed, err := tasks.ClaimNext(ctx, domain.TaskUploadDrive)
		if err != nil {
			break
		}
		w.process(ctx, claimed)
		if _, err := tasks.RequeueRetrying(ctx); err != nil {
			t.Fatal(err)
		}
		task, _ := tasks.Get(ctx, id)
		if task.Terminal() {
			break
		}
	}

	task, _ := tasks.Get(ctx, id)
	if task.Status != domain.TaskFailed {
		t.Fatalf("status = %s, want FAILED", task.Status)
	}
	// Initial attempt plus MaxRetries more.
	if exec.calls != 4 {
		t.Errorf("executor called %d times, want 4", exec.calls)
	}
}

func TestWorkerRecoversFromExecutorPanic(t *testing.T) {
	exec := &scriptedExecutor{taskType: domain.TaskUploadDrive, panics: true}
	w, q, tasks := newWorkerHarness(t, exec)
	ctx := context.Background()

	id, _ := q.Add(ctx, domain.TaskUploadDrive, nil)
	claimed, _ := tasks.ClaimNext(ctx, domain.TaskUploadDrive)
	w.process(ctx, claimed)

	task, _ := tasks.Get(ctx, id)
	if task.Status != domain.TaskRetrying {
		t.Errorf("status = %s, want RETRYING: a panic is treated as a retryable failure", task.Status)
	}
}

func TestWorkerRunDrainsQueueAndStopsOnCancel(t *testing.T) {
	exec := &scriptedExecutor{taskType: domain.TaskDownloadVideo}
	w, q, tasks := newWorkerHarness(t, exec)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ids := make([]int64, 3)
	for i := range ids {
		ids[i], _ = q.Add(ctx, domain.TaskDownloadVideo, nil)
	}

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	deadline := time.After(5 * time.Second)
	for {
		counts, err := tasks.CountByStatus(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if counts[domain.TaskCompleted] == len(ids) {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("tasks not drained, counts: %v", counts)
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop on cancel")
	}
}
