package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aiwaverider/mediasync/internal/core/domain"
	"github.com/aiwaverider/mediasync/internal/infra/storage"
)

// TaskRepo persists queue tasks and their dependency edges in SQLite.
type TaskRepo struct {
	db *DB
}

func NewTaskRepo(db *DB) *TaskRepo {
	return &TaskRepo{db: db}
}

type taskRow struct {
	ID         int64          `db:"id"`
	TaskType   string         `db:"task_type"`
	Payload    string         `db:"payload"`
	Result     sql.NullString `db:"result"`
	Status     string         `db:"status"`
	Priority   int            `db:"priority"`
	RetryCount int            `db:"retry_count"`
	MaxRetries int            `db:"max_retries"`
	LastError  string         `db:"last_error"`
	CreatedAt  time.Time      `db:"created_at"`
	UpdatedAt  time.Time      `db:"updated_at"`
}

func (r taskRow) toDomain() *domain.Task {
	t := &domain.Task{
		ID:         r.ID,
		Type:       domain.TaskType(r.TaskType),
		Payload:    []byte(r.Payload),
		Status:     domain.TaskStatus(r.Status),
		Priority:   r.Priority,
		RetryCount: r.RetryCount,
		MaxRetries: r.MaxRetries,
		LastError:  r.LastError,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
	if r.Result.Valid {
		t.Result = []byte(r.Result.String)
	}
	return t
}

func (r *TaskRepo) Add(ctx context.Context, task *domain.Task) (int64, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	payload := string(task.Payload)
	if payload == "" {
		payload = "{}"
	}
	maxRetries := task.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO tasks (task_type, payload, status, priority, retry_count, max_retries)
		VALUES (?, ?, 'PENDING', ?, 0, ?)
	`, string(task.Type), payload, task.Priority, maxRetries)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	for _, dep := range task.DependsOn {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO task_deps (task_id, depends_on) VALUES (?, ?)", id, dep); err != nil {
			return 0, fmt.Errorf("insert dependency %d -> %d: %w", id, dep, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

func (r *TaskRepo) Get(ctx context.Context, id int64) (*domain.Task, error) {
	const query = `
		SELECT id, task_type, payload, result, status, priority,
		       retry_count, max_retries, last_error, created_at, updated_at
		FROM tasks WHERE id = ?
	`
	var row taskRow
	err := r.db.GetContext(ctx, &row, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	task := row.toDomain()
	if err := r.db.SelectContext(ctx, &task.DependsOn,
		"SELECT depends_on FROM task_deps WHERE task_id = ? ORDER BY depends_on", id); err != nil {
		return nil, err
	}
	return task, nil
}

// ClaimNext selects the highest-priority eligible PENDING task of the given
// type and marks it PROCESSING in one transaction. The conditional UPDATE
// guards against another worker having claimed the task between the SELECT
// and the UPDATE.
func (r *TaskRepo) ClaimNext(ctx context.Context, taskType domain.TaskType) (*domain.Task, error) {
	const selectQuery = `
		SELECT t.id, t.task_type, t.payload, t.result, t.status, t.priority,
		       t.retry_count, t.max_retries, t.last_error, t.created_at, t.updated_at
		FROM tasks t
		WHERE t.task_type = ? AND t.status = 'PENDING'
		  AND NOT EXISTS (
			SELECT 1 FROM task_deps d
			JOIN tasks p ON p.id = d.depends_on
			WHERE d.task_id = t.id AND p.status != 'COMPLETED'
		  )
		ORDER BY t.priority DESC, t.created_at ASC, t.id ASC
		LIMIT 1
	`

	for {
		tx, err := r.db.BeginTxx(ctx, nil)
		if err != nil {
			return nil, err
		}

		var row taskRow
		err = tx.GetContext(ctx, &row, selectQuery, string(taskType))
		if errors.Is(err, sql.ErrNoRows) {
			_ = tx.Rollback()
			return nil, storage.ErrNotFound
		}
		if err != nil {
			_ = tx.Rollback()
			return nil, err
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE tasks SET status = 'PROCESSING', updated_at = CURRENT_TIMESTAMP
			WHERE id = ? AND status = 'PENDING'
		`, row.ID)
		if err != nil {
			_ = tx.Rollback()
			return nil, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			_ = tx.Rollback()
			return nil, err
		}
		if affected == 0 {
			// Lost the race; pick again.
			_ = tx.Rollback()
			continue
		}
		if err := tx.Commit(); err != nil {
			return nil, err
		}

		task := row.toDomain()
		task.Status = domain.TaskProcessing
		if err := r.db.SelectContext(ctx, &task.DependsOn,
			"SELECT depends_on FROM task_deps WHERE task_id = ? ORDER BY depends_on", task.ID); err != nil {
			return nil, err
		}
		return task, nil
	}
}

func (r *TaskRepo) Complete(ctx context.Context, id int64, result []byte) error {
	res := sql.NullString{}
	if len(result) > 0 {
		res = sql.NullString{String: string(result), Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE tasks SET status = 'COMPLETED', result = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, res, id)
	return err
}

func (r *TaskRepo) MarkRetrying(ctx context.Context, id int64, retryCount int, lastError string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE tasks SET status = 'RETRYING', retry_count = ?, last_error = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, retryCount, lastError, id)
	return err
}

func (r *TaskRepo) MarkFailed(ctx context.Context, id int64, lastError string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE tasks SET status = 'FAILED', last_error = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, lastError, id)
	return err
}

func (r *TaskRepo) RequeueRetrying(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE tasks SET status = 'PENDING', updated_at = CURRENT_TIMESTAMP
		WHERE status = 'RETRYING'
	`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *TaskRepo) FailDependents(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE tasks SET status = 'FAILED', last_error = 'dependency failed', updated_at = CURRENT_TIMESTAMP
		WHERE status IN ('PENDING', 'RETRYING')
		  AND EXISTS (
			SELECT 1 FROM task_deps d
			JOIN tasks p ON p.id = d.depends_on
			WHERE d.task_id = tasks.id AND p.status = 'FAILED'
		  )
	`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *TaskRepo) ResetStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	// CURRENT_TIMESTAMP stores UTC text; compare in the same format.
	cutoff := time.Now().UTC().Add(-olderThan).Format("2006-01-02 15:04:05")
	res, err := r.db.ExecContext(ctx, `
		UPDATE tasks SET status = 'PENDING', updated_at = CURRENT_TIMESTAMP
		WHERE status = 'PROCESSING' AND updated_at < ?
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *TaskRepo) CountByStatus(ctx context.Context) (map[domain.TaskStatus]int, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM tasks GROUP BY status")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[domain.TaskStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[domain.TaskStatus(status)] = n
	}
	return counts, rows.Err()
}

var _ storage.TaskRepository = (*TaskRepo)(nil)
