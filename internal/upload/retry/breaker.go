package retry

import (
	"fmt"
	"sync"
	"time"

	"github.com/aiwaverider/mediasync/internal/core/domain"
	"github.com/aiwaverider/mediasync/internal/upload/metrics"
)

// State is the circuit breaker state.
type State int

const (
	StateClosed   State = iota // Normal operation
	StateOpen                  // Requests fail fast
	StateHalfOpen              // Probing whether the backend recovered
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// BreakerConfig holds the per-backend breaker knobs.
type BreakerConfig struct {
	FailureThreshold int
	Timeout          time.Duration
}

// DefaultBreakerConfig mirrors the production defaults.
var DefaultBreakerConfig = BreakerConfig{
	FailureThreshold: 5,
	Timeout:          60 * time.Second,
}

// CircuitOpenError is returned when a breaker rejects a call without
// attempting it. Callers can skip work instead of queueing a doomed retry.
type CircuitOpenError struct {
	Backend    string
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker open for %s (retry in %s)", e.Backend, e.RetryAfter.Round(time.Millisecond))
}

// Breaker is a per-backend failure gate. State transitions are linearized
// under the mutex; the cumulative counters are observability only and never
// affect transitions. State is not persisted across restarts.
type Breaker struct {
	mu sync.Mutex

	name             string
	failureThreshold int
	timeout          time.Duration

	state           State
	failureCount    int
	lastFailureTime time.Time
	probing         bool

	totalRequests  uint64
	totalFailures  uint64
	totalSuccesses uint64

	now func() time.Time
}

// NewBreaker creates a closed breaker for the named backend.
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultBreakerConfig.FailureThreshold
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultBreakerConfig.Timeout
	}
	return &Breaker{
		name:             name,
		failureThreshold: cfg.FailureThreshold,
		timeout:          cfg.Timeout,
		now:              time.Now,
	}
}

// Allow reports whether a call may proceed. An OPEN breaker whose cooldown
// has elapsed transitions to HALF_OPEN and lets exactly one probe through;
// concurrent calls during the probe are rejected. A nil return counts the
// call as a request.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		elapsed := b.now().Sub(b.lastFailureTime)
		if elapsed <= b.timeout {
			metrics.BreakerRejections.WithLabelValues(b.name).Inc()
			return &domain.UploadError{
				Kind:    domain.KindCircuitOpen,
				Backend: b.name,
				Op:      "breaker",
				Err:     &CircuitOpenError{Backend: b.name, RetryAfter: b.timeout - elapsed},
			}
		}
		b.setState(StateHalfOpen)
		b.probing = true
	case StateHalfOpen:
		if b.probing {
			metrics.BreakerRejections.WithLabelValues(b.name).Inc()
			return &domain.UploadError{
				Kind:    domain.KindCircuitOpen,
				Backend: b.name,
				Op:      "breaker",
				Err:     &CircuitOpenError{Backend: b.name, RetryAfter: b.timeout},
			}
		}
		b.probing = true
	}

	b.totalRequests++
	return nil
}

// RecordSuccess resets the breaker to CLOSED.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount = 0
	b.probing = false
	b.totalSuccesses++
	b.setState(StateClosed)
}

// RecordFailure counts a retryable failure. Reaching the threshold, or any
// failure while HALF_OPEN, opens the breaker and restarts the cooldown.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount++
	b.lastFailureTime = b.now()
	b.totalFailures++

	if b.state == StateHalfOpen {
		b.probing = false
		b.setState(StateOpen)
		return
	}
	if b.failureCount >= b.failureThreshold {
		b.setState(StateOpen)
	}
}

// RecordNeutral releases a probe slot without judging backend health. Used
// for non-retryable errors, which say nothing about availability.
func (b *Breaker) RecordNeutral() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false
}

func (b *Breaker) setState(s State) {
	if b.state != s {
		b.state = s
		metrics.BreakerState.WithLabelValues(b.name).Set(float64(s))
	}
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats is a snapshot of the breaker's observability counters.
type Stats struct {
	Backend        string  `json:"backend"`
	State          string  `json:"state"`
	FailureCount   int     `json:"failure_count"`
	TotalRequests  uint64  `json:"total_requests"`
	TotalFailures  uint64  `json:"total_failures"`
	TotalSuccesses uint64  `json:"total_successes"`
	SuccessRate    float64 `json:"success_rate"`
}

// Stats returns a consistent snapshot of the counters.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := Stats{
		Backend:        b.name,
		State:          b.state.String(),
		FailureCount:   b.failureCount,
		TotalRequests:  b.totalRequests,
		TotalFailures:  b.totalFailures,
		TotalSuccesses: b.totalSuccesses,
	}
	if b.totalRequests > 0 {
		s.SuccessRate = float64(b.totalSuccesses) / float64(b.totalRequests) * 100
	}
	return s
}
