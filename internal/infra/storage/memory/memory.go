package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/aiwaverider/mediasync/internal/core/domain"
	"github.com/aiwaverider/mediasync/internal/infra/storage"
)

// MemoryStorage is an in-memory stand-in for the sqlite store, used in tests
// and for dry runs without a database file.
type MemoryStorage struct {
	mu      sync.Mutex
	ledger  map[domain.LedgerKey]*domain.LedgerEntry
	tasks   map[int64]*domain.Task
	nextID  int64
	seq     int64 // insertion order tie-break alongside CreatedAt
	order   map[int64]int64
	updated map[int64]time.Time // PROCESSING claim times for ResetStale
}

// NewMemoryStorage creates an empty store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		ledger:  make(map[domain.LedgerKey]*domain.LedgerEntry),
		tasks:   make(map[int64]*domain.Task),
		order:   make(map[int64]int64),
		updated: make(map[int64]time.Time),
	}
}

// -----------------------------------------------------------------------------
// Ledger Repository
// -----------------------------------------------------------------------------

type LedgerRepo struct {
	store *MemoryStorage
}

func NewLedgerRepo(store *MemoryStorage) *LedgerRepo {
	return &LedgerRepo{store: store}
}

func (r *LedgerRepo) Get(ctx context.Context, key domain.LedgerKey) (*domain.LedgerEntry, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	e, ok := r.store.ledger[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (r *LedgerRepo) upsert(key domain.LedgerKey) *domain.LedgerEntry {
	e, ok := r.store.ledger[key]
	if !ok {
		e = &domain.LedgerEntry{
			LogicalID: key.LogicalID,
			FileType:  key.FileType,
			Backend:   key.Backend,
			Status:    domain.UploadPending,
			CreatedAt: time.Now(),
		}
		r.store.ledger[key] = e
	}
	e.UpdatedAt = time.Now()
	return e
}

func (r *LedgerRepo) RecordAttempt(ctx context.Context, key domain.LedgerKey, localPath, contentHash string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	e := r.upsert(key)
	e.LocalPath = localPath
	e.ContentHash = contentHash
	e.Status = domain.UploadPending
	e.AttemptCount++
	e.LastAttemptAt = time.Now()
	return nil
}

func (r *LedgerRepo) MarkCompleted(ctx context.Context, key domain.LedgerKey, remoteID, remoteURL, contentHash string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	e := r.upsert(key)
	e.Status = domain.UploadCompleted
	e.RemoteID = remoteID
	e.RemoteURL = remoteURL
	e.ContentHash = contentHash
	return nil
}

func (r *LedgerRepo) MarkFailed(ctx context.Context, key domain.LedgerKey) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	e := r.upsert(key)
	e.Status = domain.UploadFailed
	return nil
}

func (r *LedgerRepo) BackfillRemote(ctx context.Context, key domain.LedgerKey, localPath, contentHash, remoteID, remoteURL string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	e := r.upsert(key)
	e.LocalPath = localPath
	e.ContentHash = contentHash
	e.RemoteID = remoteID
	e.RemoteURL = remoteURL
	e.Status = domain.UploadCompleted
	return nil
}

func (r *LedgerRepo) ListByStatus(ctx context.Context, backend string, status domain.UploadStatus) ([]*domain.LedgerEntry, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var out []*domain.LedgerEntry
	for _, e := range r.store.ledger {
		if e.Backend == backend && e.Status == status {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *LedgerRepo) CountByStatus(ctx context.Context) (map[domain.UploadStatus]int, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	counts := make(map[domain.UploadStatus]int)
	for _, e := range r.store.ledger {
		counts[e.Status]++
	}
	return counts, nil
}

// -----------------------------------------------------------------------------
// Task Repository
// -----------------------------------------------------------------------------

type TaskRepo struct {
	store *MemoryStorage
}

func NewTaskRepo(store *MemoryStorage) *TaskRepo {
	return &TaskRepo{store: store}
}

func (r *TaskRepo) Add(ctx context.Context, task *domain.Task) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	r.store.nextID++
	r.store.seq++
	cp := *task
	cp.ID = r.store.nextID
	if cp.Status == "" {
		cp.Status = domain.TaskPending
	}
	if cp.MaxRetries == 0 {
		cp.MaxRetries = 3
	}
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	cp.DependsOn = append([]int64(nil), task.DependsOn...)
	r.store.tasks[cp.ID] = &cp
	r.store.order[cp.ID] = r.store.seq
	return cp.ID, nil
}

func (r *TaskRepo) Get(ctx context.Context, id int64) (*domain.Task, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	t, ok := r.store.tasks[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *t
	cp.DependsOn = append([]int64(nil), t.DependsOn...)
	return &cp, nil
}

// ClaimNext holds the store lock for the whole select-and-mark step, so two
// workers can never claim the same task.
func (r *TaskRepo) ClaimNext(ctx context.Context, taskType domain.TaskType) (*domain.Task, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var eligible []*domain.Task
	for _, t := range r.store.tasks {
		if t.Type != taskType || t.Status != domain.TaskPending {
			continue
		}
		ok := true
		for _, dep := range t.DependsOn {
			p, exists := r.store.tasks[dep]
			if !exists || p.Status != domain.TaskCompleted {
				ok = false
				break
			}
		}
		if ok {
			eligible = append(eligible, t)
		}
	}
	if len(eligible) == 0 {
		return nil, storage.ErrNotFound
	}

	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].Priority != eligible[j].Priority {
			return eligible[i].Priority > eligible[j].Priority
		}
		return r.store.order[eligible[i].ID] < r.store.order[eligible[j].ID]
	})

	t := eligible[0]
	t.Status = domain.TaskProcessing
	t.UpdatedAt = time.Now()
	r.store.updated[t.ID] = t.UpdatedAt
	cp := *t
	cp.DependsOn = append([]int64(nil), t.DependsOn...)
	return &cp, nil
}

func (r *TaskRepo) Complete(ctx context.Context, id int64, result []byte) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	t, ok := r.store.tasks[id]
	if !ok {
		return storage.ErrNotFound
	}
	t.Status = domain.TaskCompleted
	t.Result = append([]byte(nil), result...)
	t.UpdatedAt = time.Now()
	return nil
}

func (r *TaskRepo) MarkRetrying(ctx context.Context, id int64, retryCount int, lastError string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	t, ok := r.store.tasks[id]
	if !ok {
		return storage.ErrNotFound
	}
	t.Status = domain.TaskRetrying
	t.RetryCount = retryCount
	t.LastError = lastError
	t.UpdatedAt = time.Now()
	return nil
}

func (r *TaskRepo) MarkFailed(ctx context.Context, id int64, lastError string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	t, ok := r.store.tasks[id]
	if !ok {
		return storage.ErrNotFound
	}
	t.Status = domain.TaskFailed
	t.LastError = lastError
	t.UpdatedAt = time.Now()
	return nil
}

func (r *TaskRepo) RequeueRetrying(ctx context.Context) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var n int64
	for _, t := range r.store.tasks {
		if t.Status == domain.TaskRetrying {
			t.Status = domain.TaskPending
			t.UpdatedAt = time.Now()
			n++
		}
	}
	return n, nil
}

func (r *TaskRepo) FailDependents(ctx context.Context) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var n int64
	for _, t := range r.store.tasks {
		if t.Status != domain.TaskPending && t.Status != domain.TaskRetrying {
			continue
		}
		for _, dep := range t.DependsOn {
			if p, ok := r.store.tasks[dep]; ok && p.Status == domain.TaskFailed {
				t.Status = domain.TaskFailed
				t.LastError = "dependency failed"
				t.UpdatedAt = time.Now()
				n++
				break
			}
		}
	}
	return n, nil
}

func (r *TaskRepo) ResetStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	var n int64
	for _, t := range r.store.tasks {
		if t.Status == domain.TaskProcessing && r.store.updated[t.ID].Before(cutoff) {
			t.Status = domain.TaskPending
			t.UpdatedAt = time.Now()
			n++
		}
	}
	return n, nil
}

func (r *TaskRepo) CountByStatus(ctx context.Context) (map[domain.TaskStatus]int, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	counts := make(map[domain.TaskStatus]int)
	for _, t := range r.store.tasks {
		counts[t.Status]++
	}
	return counts, nil
}
