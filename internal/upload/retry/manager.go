package retry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aiwaverider/mediasync/internal/upload/metrics"
)

// Operation is a single retryable unit of work.
type Operation func(ctx context.Context) error

// ExhaustedError is returned after the retry ceiling is hit. It wraps the
// last attempt's error.
type ExhaustedError struct {
	Backend  string
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: failed after %d attempts: %v", e.Backend, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Manager binds a retry profile to named circuit breakers and drives the
// retry loop for one operation at a time. Backoff sleeps are context-aware
// and never block other goroutines.
type Manager struct {
	cfg      Config
	registry *Registry
	log      *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// NewManager creates a manager for the given profile.
func NewManager(cfg Config, registry *Registry, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		cfg:      cfg,
		registry: registry,
		log:      log,
		sleep:    sleepCtx,
	}
}

// Run executes op up to MaxRetries+1 times against the named backend's
// breaker. An OPEN breaker fails fast with a circuit-open error before any
// attempt accounting; non-retryable errors propagate immediately.
func (m *Manager) Run(ctx context.Context, backend string, op Operation) error {
	breaker := m.registry.Get(backend)

	var lastErr error
	for attempt := 0; attempt <= m.cfg.MaxRetries; attempt++ {
		if err := breaker.Allow(); err != nil {
			return err
		}

		err := op(ctx)
		if err == nil {
			breaker.RecordSuccess()
			if attempt > 0 {
				m.log.Info("operation succeeded after retries",
					"backend", backend, "retries", attempt)
			}
			return nil
		}

		if !m.cfg.retryable(err) {
			breaker.RecordNeutral()
			m.log.Warn("non-retryable error", "backend", backend, "error", err)
			return err
		}

		breaker.RecordFailure()
		lastErr = err

		if attempt == m.cfg.MaxRetries {
			break
		}

		delay := m.cfg.Delay(attempt)
		metrics.RetryAttempts.WithLabelValues(backend).Inc()
		m.log.Debug("retrying operation",
			"backend", backend,
			"attempt", attempt+1,
			"max_retries", m.cfg.MaxRetries,
			"delay", delay,
			"error", err)

		if err := m.sleep(ctx, delay); err != nil {
			return err
		}
	}

	m.log.Error("retries exhausted",
		"backend", backend, "attempts", m.cfg.MaxRetries+1, "error", lastErr)
	return &ExhaustedError{Backend: backend, Attempts: m.cfg.MaxRetries + 1, Err: lastErr}
}

// Breaker exposes the named breaker, mainly for status reporting.
func (m *Manager) Breaker(backend string) *Breaker {
	return m.registry.Get(backend)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
