package health

import (
	"context"
	"time"

	"github.com/aiwaverider/mediasync/internal/core/domain"
	"github.com/aiwaverider/mediasync/internal/infra/storage"
	"github.com/aiwaverider/mediasync/internal/upload/retry"
)

// Status is the coarse health classification reported to operators.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusCritical Status = "critical"
)

// Pinger is the minimal database health surface.
type Pinger interface {
	Health(ctx context.Context) error
}

// Report is the full health snapshot.
type Report struct {
	Status    Status                      `json:"status"`
	Database  string                      `json:"database"`
	Breakers  []retry.Stats               `json:"breakers"`
	Tasks     map[domain.TaskStatus]int   `json:"tasks"`
	Uploads   map[domain.UploadStatus]int `json:"uploads"`
	CheckedAt time.Time                   `json:"checked_at"`
}

// Monitor aggregates database reachability, breaker state, and queue depth
// into one report.
type Monitor struct {
	db       Pinger
	registry *retry.Registry
	tasks    storage.TaskRepository
	ledger   storage.LedgerRepository
}

// NewMonitor creates a monitor.
func NewMonitor(db Pinger, registry *retry.Registry, tasks storage.TaskRepository, ledger storage.LedgerRepository) *Monitor {
	return &Monitor{db: db, registry: registry, tasks: tasks, ledger: ledger}
}

// CheckHealth builds a point-in-time report. An unreachable database is
// critical; any open breaker degrades the service but keeps it up, since the
// other backend may still be accepting uploads.
func (m *Monitor) CheckHealth(ctx context.Context) Report {
	r := Report{
		Status:    StatusHealthy,
		Database:  "ok",
		Breakers:  m.registry.Stats(),
		CheckedAt: time.Now().UTC(),
	}

	if err := m.db.Health(ctx); err != nil {
		r.Database = err.Error()
		r.Status = StatusCritical
		return r
	}

	for _, b := range r.Breakers {
		if b.State != retry.StateClosed.String() {
			r.Status = StatusDegraded
		}
	}

	if counts, err := m.tasks.CountByStatus(ctx); err == nil {
		r.Tasks = counts
	}
	if counts, err := m.ledger.CountByStatus(ctx); err == nil {
		r.Uploads = counts
	}
	return r
}
