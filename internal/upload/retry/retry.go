package retry

import (
	"math"
	"math/rand"
	"time"

	"github.com/aiwaverider/mediasync/internal/core/domain"
)

// Classifier reports whether an error is worth retrying.
type Classifier func(error) bool

// Config defines the retry behavior for one backend profile. Immutable once
// created.
type Config struct {
	MaxRetries      int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	ExponentialBase float64
	Jitter          bool
	Retryable       Classifier
}

// DriveConfig is the conservative profile for generic cloud APIs.
var DriveConfig = Config{
	MaxRetries:      3,
	BaseDelay:       1 * time.Second,
	MaxDelay:        30 * time.Second,
	ExponentialBase: 2.0,
	Jitter:          true,
}

// AIWaveriderConfig is the patient profile for the AIWaverider upload API.
var AIWaveriderConfig = Config{
	MaxRetries:      5,
	BaseDelay:       2 * time.Second,
	MaxDelay:        60 * time.Second,
	ExponentialBase: 2.0,
	Jitter:          true,
}

// FileOpConfig is a short-fuse profile for local filesystem operations.
var FileOpConfig = Config{
	MaxRetries:      3,
	BaseDelay:       500 * time.Millisecond,
	MaxDelay:        10 * time.Second,
	ExponentialBase: 2.0,
	Jitter:          true,
}

// retryable applies the configured classifier, defaulting to "everything but
// permanent and protocol errors is retryable".
func (c Config) retryable(err error) bool {
	if c.Retryable != nil {
		return c.Retryable(err)
	}
	return !domain.IsPermanent(err)
}

// Delay returns the backoff before the attempt following `attempt` (0-based):
// min(base * expBase^attempt, max), plus up to 10% jitter.
func (c Config) Delay(attempt int) time.Duration {
	delay := float64(c.BaseDelay) * math.Pow(c.ExponentialBase, float64(attempt))
	if delay > float64(c.MaxDelay) {
		delay = float64(c.MaxDelay)
	}
	if c.Jitter {
		delay += rand.Float64() * delay * 0.1
	}
	return time.Duration(delay)
}
