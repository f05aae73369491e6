package storage

import (
	"context"
	"errors"
	"time"

	"github.com/aiwaverider/mediasync/internal/core/domain"
)

var (
	// ErrNotFound is returned when a ledger entry or task doesn't exist
	ErrNotFound = errors.New("not found")
)

// LedgerRepository persists per-file, per-backend upload state. Entries are
// never deleted automatically, only superseded by re-upload.
type LedgerRepository interface {
	// Get retrieves the entry for a key
	Get(ctx context.Context, key domain.LedgerKey) (*domain.LedgerEntry, error)

	// RecordAttempt upserts the entry as PENDING, bumping attempt_count and
	// the last-attempt timestamp
	RecordAttempt(ctx context.Context, key domain.LedgerKey, localPath, contentHash string) error

	// MarkCompleted marks the entry COMPLETED with its remote identity
	MarkCompleted(ctx context.Context, key domain.LedgerKey, remoteID, remoteURL, contentHash string) error

	// MarkFailed marks the entry FAILED
	MarkFailed(ctx context.Context, key domain.LedgerKey) error

	// BackfillRemote upserts a COMPLETED entry discovered on the backend so
	// future gate decisions short-circuit on the ledger
	BackfillRemote(ctx context.Context, key domain.LedgerKey, localPath, contentHash, remoteID, remoteURL string) error

	// ListByStatus retrieves entries for a backend in the given state
	ListByStatus(ctx context.Context, backend string, status domain.UploadStatus) ([]*domain.LedgerEntry, error)

	// CountByStatus returns entry counts per upload status
	CountByStatus(ctx context.Context) (map[domain.UploadStatus]int, error)
}

// TaskRepository persists the durable task queue. ClaimNext is the only way
// a task becomes PROCESSING; the check-dependencies + claim step is atomic so
// no task is ever selected twice concurrently.
type TaskRepository interface {
	// Add persists a new task and returns its id
	Add(ctx context.Context, task *domain.Task) (int64, error)

	// Get retrieves a task by id, including its dependency set
	Get(ctx context.Context, id int64) (*domain.Task, error)

	// ClaimNext atomically claims the highest-priority PENDING task of the
	// given type whose dependencies are all COMPLETED, marking it
	// PROCESSING. Ties break by creation time ascending. Returns
	// ErrNotFound when no task is eligible.
	ClaimNext(ctx context.Context, taskType domain.TaskType) (*domain.Task, error)

	// Complete marks a task COMPLETED and stores its result
	Complete(ctx context.Context, id int64, result []byte) error

	// MarkRetrying marks a task RETRYING with the new retry count
	MarkRetrying(ctx context.Context, id int64, retryCount int, lastError string) error

	// MarkFailed marks a task FAILED
	MarkFailed(ctx context.Context, id int64, lastError string) error

	// RequeueRetrying moves RETRYING tasks back to PENDING so they re-enter
	// the selection pool
	RequeueRetrying(ctx context.Context) (int64, error)

	// FailDependents fails PENDING/RETRYING tasks that depend on a FAILED
	// task, returning how many were failed. Callers loop until it reports
	// zero to propagate transitively.
	FailDependents(ctx context.Context) (int64, error)

	// ResetStale returns tasks stuck PROCESSING longer than the deadline to
	// PENDING (crash recovery)
	ResetStale(ctx context.Context, olderThan time.Duration) (int64, error)

	// CountByStatus returns task counts per status
	CountByStatus(ctx context.Context) (map[domain.TaskStatus]int, error)
}
