// Package config loads and validates the pulse engine configuration.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the pulse engine.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Auth          AuthConfig          `yaml:"auth"`
	Realtime      RealtimeConfig      `yaml:"realtime"`
	Moderation    ModerationConfig    `yaml:"moderation"`
	Storage       StorageConfig       `yaml:"storage"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Logging       LoggingConfig       `yaml:"logging"`
	Tracing       TracingConfig       `yaml:"tracing"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	// Addr is the listen address for the websocket endpoint, internal event
	// API, /metrics, and /healthz.
	Addr string `yaml:"addr"`

	// ShutdownTimeoutSec bounds graceful shutdown.
	ShutdownTimeoutSec int `yaml:"shutdown_timeout_sec"`
}

// AuthConfig configures JWT verification for connections and the internal API.
type AuthConfig struct {
	// JWTSecret is the HMAC secret shared with the session-issuing service.
	// Tokens are verified here, never minted.
	JWTSecret string `yaml:"jwt_secret"`
}

// RealtimeConfig configures the connection registry and delivery queues.
type RealtimeConfig struct {
	// QueueCapacity is the per-user bound for offline event buffering.
	// Insertion beyond capacity evicts the oldest entry.
	QueueCapacity int `yaml:"queue_capacity"`

	// IdleSweepIntervalSec is how often abandoned connections are swept.
	IdleSweepIntervalSec int `yaml:"idle_sweep_interval_sec"`

	// IdleTimeoutSec is the inactivity threshold for eviction.
	IdleTimeoutSec int `yaml:"idle_timeout_sec"`

	// MaxConnectionAgeSec is the hard cap on connection lifetime, forcing
	// periodic reattachment regardless of activity.
	MaxConnectionAgeSec int `yaml:"max_connection_age_sec"`

	// Features are the flags advertised in the connection acknowledgement.
	Features []string `yaml:"features"`
}

// IdleSweepInterval returns the sweep cadence as a duration.
func (c RealtimeConfig) IdleSweepInterval() time.Duration {
	return time.Duration(c.IdleSweepIntervalSec) * time.Second
}

// IdleTimeout returns the inactivity threshold as a duration.
func (c RealtimeConfig) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutSec) * time.Second
}

// MaxConnectionAge returns the hard lifetime cap as a duration.
func (c RealtimeConfig) MaxConnectionAge() time.Duration {
	return time.Duration(c.MaxConnectionAgeSec) * time.Second
}

// ModerationConfig configures the content gate.
type ModerationConfig struct {
	// PatternsPath points at the yaml pattern tables (profanity lists, regex
	// sets). Empty uses the built-in defaults.
	PatternsPath string `yaml:"patterns_path"`

	// Watch enables hot reload of the pattern tables via fsnotify.
	Watch bool `yaml:"watch"`

	// FailOpen controls the classifier-failure policy. True (default) admits
	// content when classification errors, trading strictness for
	// availability; false rejects instead.
	FailOpen *bool `yaml:"fail_open"`
}

// FailsOpen reports the effective classifier-failure policy.
func (c ModerationConfig) FailsOpen() bool {
	return c.FailOpen == nil || *c.FailOpen
}

// StorageConfig selects the durable store for conversation state and
// notification history.
type StorageConfig struct {
	// Driver is one of "memory", "sqlite", "postgres".
	Driver string `yaml:"driver"`

	// DSN is the driver-specific connection string. For sqlite this is a file
	// path; ignored for memory.
	DSN string `yaml:"dsn"`
}

// NotificationsConfig configures dispatcher behavior and retention.
type NotificationsConfig struct {
	// RetentionDays is how long durable notification records are kept.
	RetentionDays int `yaml:"retention_days"`

	// PurgeSchedule is a cron expression for the retention purge job.
	PurgeSchedule string `yaml:"purge_schedule"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	Endpoint     string  `yaml:"endpoint"`
	Environment  string  `yaml:"environment"`
	SamplingRate float64 `yaml:"sampling_rate"`
	Insecure     bool    `yaml:"insecure"`
}

// Default returns the configuration used when no file is provided.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:               ":8090",
			ShutdownTimeoutSec: 15,
		},
		Realtime: RealtimeConfig{
			QueueCapacity:        50,
			IdleSweepIntervalSec: 120,
			IdleTimeoutSec:       300,
			MaxConnectionAgeSec:  7200,
			Features:             []string{"notifications", "conversation-lifecycle", "read-receipts"},
		},
		Storage: StorageConfig{
			Driver: "memory",
		},
		Notifications: NotificationsConfig{
			RetentionDays: 30,
			PurgeSchedule: "0 3 * * *",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Realtime.QueueCapacity <= 0 {
		return fmt.Errorf("realtime.queue_capacity must be positive")
	}
	if c.Realtime.IdleSweepIntervalSec <= 0 {
		return fmt.Errorf("realtime.idle_sweep_interval_sec must be positive")
	}
	if c.Realtime.IdleTimeoutSec <= 0 {
		return fmt.Errorf("realtime.idle_timeout_sec must be positive")
	}
	switch c.Storage.Driver {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("storage.driver %q is not one of memory, sqlite, postgres", c.Storage.Driver)
	}
	if c.Storage.Driver != "memory" && c.Storage.DSN == "" {
		return fmt.Errorf("storage.dsn is required for driver %q", c.Storage.Driver)
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		return fmt.Errorf("tracing.sampling_rate must be between 0 and 1")
	}
	return nil
}
