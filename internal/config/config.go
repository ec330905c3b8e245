// Civitas - Civic Engagement Platform
// Copyright 2026 Civitas Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civitashq/civitas

package config

import (
	"net"
	"strconv"
	"time"
)

// Config holds all application configuration loaded from defaults, an optional
// YAML config file, and environment variables (highest priority).
//
// Config is immutable after Load and safe for concurrent read access.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Store       StoreConfig       `koanf:"store"`
	NATS        NATSConfig        `koanf:"nats"`
	Cache       CacheConfig       `koanf:"cache"`
	Realtime    RealtimeConfig    `koanf:"realtime"`
	Mutation    MutationConfig    `koanf:"mutation"`
	Maintenance MaintenanceConfig `koanf:"maintenance"`
	API         APIConfig         `koanf:"api"`
	Security    SecurityConfig    `koanf:"security"`
	Logging     LoggingConfig     `koanf:"logging"`
}

// ServerConfig holds HTTP server settings.
//
// Environment Variables:
//   - HTTP_HOST: Bind address (default: 0.0.0.0)
//   - HTTP_PORT: Listen port (default: 8080)
//   - HTTP_TIMEOUT: Read/write timeout (default: 30s)
//   - ENVIRONMENT: "development" or "production"
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	Timeout         time.Duration `koanf:"timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	Environment     string        `koanf:"environment"`
}

// StoreConfig selects and tunes the data store backend.
//
// Backend "memory" keeps everything in process and is intended for tests and
// demos; "badger" persists to disk.
type StoreConfig struct {
	Backend string `koanf:"backend"` // "memory" or "badger"
	Path    string `koanf:"path"`    // badger data directory

	// Retry policy for transient store failures.
	RetryAttempts        int           `koanf:"retry_attempts"`
	RetryInitialInterval time.Duration `koanf:"retry_initial_interval"`
	RetryMaxInterval     time.Duration `koanf:"retry_max_interval"`

	// Circuit breaker thresholds.
	BreakerFailureThreshold uint32        `koanf:"breaker_failure_threshold"`
	BreakerOpenFor          time.Duration `koanf:"breaker_open_for"`
}

// NATSConfig holds messaging settings for the realtime backbone.
type NATSConfig struct {
	Enabled        bool   `koanf:"enabled"`
	URL            string `koanf:"url"`
	EmbeddedServer bool   `koanf:"embedded_server"`
	StoreDir       string `koanf:"store_dir"`
	MaxMemory      int64  `koanf:"max_memory"`
	MaxStore       int64  `koanf:"max_store"`
}

// CacheConfig tunes the query cache.
type CacheConfig struct {
	StaleAfter      time.Duration `koanf:"stale_after"`
	GCAfter         time.Duration `koanf:"gc_after"`
	CleanupInterval time.Duration `koanf:"cleanup_interval"`
}

// RealtimeConfig tunes the realtime connection manager.
type RealtimeConfig struct {
	// Provider selects the transport: "nats" or "channel" (in-process).
	Provider string `koanf:"provider"`

	ReconnectInitialDelay time.Duration `koanf:"reconnect_initial_delay"`
	ReconnectMaxDelay     time.Duration `koanf:"reconnect_max_delay"`

	// Event bridge settings.
	DedupWindow time.Duration `koanf:"dedup_window"`
}

// MutationConfig tunes the optimistic mutation coordinator.
type MutationConfig struct {
	SendTimeout time.Duration `koanf:"send_timeout"`
}

// MaintenanceConfig tunes background cache maintenance.
type MaintenanceConfig struct {
	SweepInterval    time.Duration `koanf:"sweep_interval"`
	StaleFor         time.Duration `koanf:"stale_for"`
	RefetchPerSecond float64       `koanf:"refetch_per_second"`
	RefetchBurst     int           `koanf:"refetch_burst"`
}

// APIConfig holds pagination and response limits.
type APIConfig struct {
	DefaultPageSize int `koanf:"default_page_size"`
	MaxPageSize     int `koanf:"max_page_size"`
}

// SecurityConfig holds authentication and rate limiting settings.
//
// Environment Variables:
//   - JWT_SECRET: Token signing secret (required in production)
//   - SESSION_TIMEOUT: Token lifetime (default: 24h)
//   - RATE_LIMIT_REQUESTS / RATE_LIMIT_WINDOW: Per-IP request budget
//   - CORS_ORIGINS: Comma-separated allowed origins
type SecurityConfig struct {
	JWTSecret         string        `koanf:"jwt_secret"`
	SessionTimeout    time.Duration `koanf:"session_timeout"`
	RateLimitReqs     int           `koanf:"rate_limit_reqs"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
	CORSOrigins       []string      `koanf:"cors_origins"`

	// AdminUsername/AdminPassword seed the bootstrap admin account at
	// startup. Both empty means no admin is created.
	AdminUsername string `koanf:"admin_username"`
	AdminPassword string `koanf:"admin_password"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`  // trace, debug, info, warn, error
	Format string `koanf:"format"` // json or console
	Caller bool   `koanf:"caller"`
}

// IsProduction reports whether the server runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

// Address returns the host:port the HTTP server binds to.
func (s ServerConfig) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}
