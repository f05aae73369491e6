package config

import (
	"github.com/aiwaverider/mediasync/internal/core/domain"
	"github.com/aiwaverider/mediasync/internal/infra/backend/aiwaverider"
	"github.com/aiwaverider/mediasync/internal/infra/backend/drive"
	"github.com/aiwaverider/mediasync/internal/infra/storage/sqlite"
	"github.com/aiwaverider/mediasync/internal/queue"
	"github.com/aiwaverider/mediasync/internal/upload/chunk"
	"github.com/aiwaverider/mediasync/internal/upload/gate"
	"github.com/aiwaverider/mediasync/internal/upload/retry"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server      ServerConfig       `yaml:"server"`
	Logging     LoggingConfig      `yaml:"logging"`
	Database    sqlite.Config      `yaml:"database"`
	Drive       drive.Config       `yaml:"google_drive"`
	AIWaverider aiwaverider.Config `yaml:"aiwaverider"`
	Retry       RetryConfig        `yaml:"retry"`
	Gate        gate.Config        `yaml:"gate"`
	Chunk       chunk.Config       `yaml:"chunked_upload"`
	Queue       queue.Config       `yaml:"queue"`
	Uploads     UploadsConfig      `yaml:"uploads"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// UploadsConfig bounds upload concurrency across all backends.
type UploadsConfig struct {
	MaxInFlight int64 `yaml:"max_in_flight"`
}

// MaxInFlightOrDefault returns the upload concurrency cap, defaulting to 3.
func (c UploadsConfig) MaxInFlightOrDefault() int64 {
	if c.MaxInFlight <= 0 {
		return 3
	}
	return c.MaxInFlight
}

// RetryConfig holds the per-backend retry and breaker overrides. Zero fields
// keep the built-in profile values.
type RetryConfig struct {
	Drive       BackendRetryConfig `yaml:"google_drive"`
	AIWaverider BackendRetryConfig `yaml:"aiwaverider"`
}

// BackendRetryConfig overrides one backend's retry profile.
type BackendRetryConfig struct {
	MaxRetries       int             `yaml:"max_retries"`
	BaseDelay        domain.Duration `yaml:"base_delay"`
	MaxDelay         domain.Duration `yaml:"max_delay"`
	FailureThreshold int             `yaml:"failure_threshold"`
	BreakerTimeout   domain.Duration `yaml:"breaker_timeout"`
}

func (c BackendRetryConfig) apply(base retry.Config) retry.Config {
	if c.MaxRetries > 0 {
		base.MaxRetries = c.MaxRetries
	}
	if c.BaseDelay > 0 {
		base.BaseDelay = c.BaseDelay.Std()
	}
	if c.MaxDelay > 0 {
		base.MaxDelay = c.MaxDelay.Std()
	}
	return base
}

func (c BackendRetryConfig) breaker(base retry.BreakerConfig) retry.BreakerConfig {
	if c.FailureThreshold > 0 {
		base.FailureThreshold = c.FailureThreshold
	}
	if c.BreakerTimeout > 0 {
		base.Timeout = c.BreakerTimeout.Std()
	}
	return base
}

// RetryProfile returns the effective retry profile for a backend.
func (c RetryConfig) RetryProfile(backend string) retry.Config {
	switch backend {
	case domain.BackendAIWaverider:
		return c.AIWaverider.apply(retry.AIWaveriderConfig)
	default:
		return c.Drive.apply(retry.DriveConfig)
	}
}

// BreakerProfile returns the effective breaker settings for a backend.
func (c RetryConfig) BreakerProfile(backend string) retry.BreakerConfig {
	base := retry.DefaultBreakerConfig
	switch backend {
	case domain.BackendAIWaverider:
		base.FailureThreshold = 8
		return c.AIWaverider.breaker(base)
	default:
		return c.Drive.breaker(base)
	}
}
