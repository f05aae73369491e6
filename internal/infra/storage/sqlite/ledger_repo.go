package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/aiwaverider/mediasync/internal/core/domain"
	"github.com/aiwaverider/mediasync/internal/infra/storage"
)

// LedgerRepo persists upload ledger entries in SQLite.
type LedgerRepo struct {
	db *DB
}

func NewLedgerRepo(db *DB) *LedgerRepo {
	return &LedgerRepo{db: db}
}

type ledgerRow struct {
	LogicalID     string       `db:"logical_id"`
	FileType      string       `db:"file_type"`
	Backend       string       `db:"backend"`
	LocalPath     string       `db:"local_path"`
	ContentHash   string       `db:"content_hash"`
	RemoteID      string       `db:"remote_id"`
	RemoteURL     string       `db:"remote_url"`
	UploadStatus  string       `db:"upload_status"`
	AttemptCount  int          `db:"attempt_count"`
	LastAttemptAt sql.NullTime `db:"last_attempt_at"`
	CreatedAt     time.Time    `db:"created_at"`
	UpdatedAt     time.Time    `db:"updated_at"`
}

func (r ledgerRow) toDomain() *domain.LedgerEntry {
	e := &domain.LedgerEntry{
		LogicalID:    r.LogicalID,
		FileType:     domain.FileType(r.FileType),
		Backend:      r.Backend,
		LocalPath:    r.LocalPath,
		ContentHash:  r.ContentHash,
		RemoteID:     r.RemoteID,
		RemoteURL:    r.RemoteURL,
		Status:       domain.UploadStatus(r.UploadStatus),
		AttemptCount: r.AttemptCount,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
	if r.LastAttemptAt.Valid {
		e.LastAttemptAt = r.LastAttemptAt.Time
	}
	return e
}

func (r *LedgerRepo) Get(ctx context.Context, key domain.LedgerKey) (*domain.LedgerEntry, error) {
	const query = `
		SELECT logical_id, file_type, backend, local_path, content_hash,
		       remote_id, remote_url, upload_status, attempt_count,
		       last_attempt_at, created_at, updated_at
		FROM upload_ledger
		WHERE logical_id = ? AND file_type = ? AND backend = ?
	`
	var row ledgerRow
	err := r.db.GetContext(ctx, &row, query, key.LogicalID, string(key.FileType), key.Backend)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.toDomain(), nil
}

func (r *LedgerRepo) RecordAttempt(ctx context.Context, key domain.LedgerKey, localPath, contentHash string) error {
	const query = `
		INSERT INTO upload_ledger (logical_id, file_type, backend, local_path, content_hash,
		                           upload_status, attempt_count, last_attempt_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 'PENDING', 1, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT (logical_id, file_type, backend) DO UPDATE SET
			local_path      = excluded.local_path,
			content_hash    = excluded.content_hash,
			upload_status   = 'PENDING',
			attempt_count   = upload_ledger.attempt_count + 1,
			last_attempt_at = CURRENT_TIMESTAMP,
			updated_at      = CURRENT_TIMESTAMP
	`
	_, err := r.db.ExecContext(ctx, query, key.LogicalID, string(key.FileType), key.Backend, localPath, contentHash)
	return err
}

func (r *LedgerRepo) MarkCompleted(ctx context.Context, key domain.LedgerKey, remoteID, remoteURL, contentHash string) error {
	const query = `
		INSERT INTO upload_ledger (logical_id, file_type, backend, content_hash,
		                           remote_id, remote_url, upload_status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 'COMPLETED', CURRENT_TIMESTAMP)
		ON CONFLICT (logical_id, file_type, backend) DO UPDATE SET
			content_hash  = excluded.content_hash,
			remote_id     = excluded.remote_id,
			remote_url    = excluded.remote_url,
			upload_status = 'COMPLETED',
			updated_at    = CURRENT_TIMESTAMP
	`
	_, err := r.db.ExecContext(ctx, query, key.LogicalID, string(key.FileType), key.Backend, contentHash, remoteID, remoteURL)
	return err
}

func (r *LedgerRepo) MarkFailed(ctx context.Context, key domain.LedgerKey) error {
	const query = `
		INSERT INTO upload_ledger (logical_id, file_type, backend, upload_status, updated_at)
		VALUES (?, ?, ?, 'FAILED', CURRENT_TIMESTAMP)
		ON CONFLICT (logical_id, file_type, backend) DO UPDATE SET
			upload_status = 'FAILED',
			updated_at    = CURRENT_TIMESTAMP
	`
	_, err := r.db.ExecContext(ctx, query, key.LogicalID, string(key.FileType), key.Backend)
	return err
}

func (r *LedgerRepo) BackfillRemote(ctx context.Context, key domain.LedgerKey, localPath, contentHash, remoteID, remoteURL string) error {
	const query = `
		INSERT INTO upload_ledger (logical_id, file_type, backend, local_path, content_hash,
		                           remote_id, remote_url, upload_status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 'COMPLETED', CURRENT_TIMESTAMP)
		ON CONFLICT (logical_id, file_type, backend) DO UPDATE SET
			local_path    = excluded.local_path,
			content_hash  = excluded.content_hash,
			remote_id     = excluded.remote_id,
			remote_url    = excluded.remote_url,
			upload_status = 'COMPLETED',
			updated_at    = CURRENT_TIMESTAMP
	`
	_, err := r.db.ExecContext(ctx, query, key.LogicalID, string(key.FileType), key.Backend,
		localPath, contentHash, remoteID, remoteURL)
	return err
}

func (r *LedgerRepo) ListByStatus(ctx context.Context, backend string, status domain.UploadStatus) ([]*domain.LedgerEntry, error) {
	const query = `
		SELECT logical_id, file_type, backend, local_path, content_hash,
		       remote_id, remote_url, upload_status, attempt_count,
		       last_attempt_at, created_at, updated_at
		FROM upload_ledger
		WHERE backend = ? AND upload_status = ?
		ORDER BY updated_at ASC
	`
	var rows []ledgerRow
	if err := r.db.SelectContext(ctx, &rows, query, backend, string(status)); err != nil {
		return nil, err
	}
	out := make([]*domain.LedgerEntry, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

func (r *LedgerRepo) CountByStatus(ctx context.Context) (map[domain.UploadStatus]int, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT upload_status, COUNT(*) FROM upload_ledger GROUP BY upload_status")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[domain.UploadStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[domain.UploadStatus(status)] = n
	}
	return counts, rows.Err()
}

var _ storage.LedgerRepository = (*LedgerRepo)(nil)
