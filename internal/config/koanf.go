// Civitas - Civic Engagement Platform
// Copyright 2026 Civitas Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civitashq/civitas

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in order
// of priority. The first file found is used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/civitas/config.yaml",
	"/etc/civitas/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config with all default values. These are applied
// first, then overridden by the config file and environment variables.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			Timeout:         30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			Environment:     "development",
		},
		Store: StoreConfig{
			Backend:                 "badger",
			Path:                    "/data/civitas",
			RetryAttempts:           3,
			RetryInitialInterval:    200 * time.Millisecond,
			RetryMaxInterval:        30 * time.Second,
			BreakerFailureThreshold: 5,
			BreakerOpenFor:          30 * time.Second,
		},
		NATS: NATSConfig{
			Enabled:        true,
			URL:            "nats://127.0.0.1:4222",
			EmbeddedServer: true,
			StoreDir:       "/data/nats",
			MaxMemory:      1 << 30, // 1GB
			MaxStore:       4 << 30, // 4GB
		},
		Cache: CacheConfig{
			StaleAfter:      30 * time.Second,
			GCAfter:         5 * time.Minute,
			CleanupInterval: time.Minute,
		},
		Realtime: RealtimeConfig{
			Provider:              "nats",
			ReconnectInitialDelay: time.Second,
			ReconnectMaxDelay:     30 * time.Second,
			DedupWindow:           2 * time.Minute,
		},
		Mutation: MutationConfig{
			SendTimeout: 30 * time.Second,
		},
		Maintenance: MaintenanceConfig{
			SweepInterval:    time.Minute,
			StaleFor:         5 * time.Minute,
			RefetchPerSecond: 5,
			RefetchBurst:     10,
		},
		API: APIConfig{
			DefaultPageSize: 20,
			MaxPageSize:     100,
		},
		Security: SecurityConfig{
			JWTSecret:       "",
			SessionTimeout:  24 * time.Hour,
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
			CORSOrigins:     []string{"*"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load loads configuration using Koanf v2 with layered sources:
//  1. Defaults: built-in values
//  2. Config file: optional YAML file (if present)
//  3. Environment variables: override any setting
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	configPath := findConfigFile()
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file in the default paths. Returns the
// first file found, or empty string.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths defines which config paths are parsed as comma-separated
// slices when supplied via environment variables.
var sliceConfigPaths = []string{
	"security.cors_origins",
}

// processSliceFields converts comma-separated string values to slices for
// known slice fields. Env vars come in as strings but the config expects
// slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}
		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}
		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envTransformFunc maps environment variable names to koanf config paths.
// Unmapped variables return empty string and are skipped so random environment
// variables cannot pollute the config.
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		// Server
		"http_host":             "server.host",
		"http_port":             "server.port",
		"http_timeout":          "server.timeout",
		"http_shutdown_timeout": "server.shutdown_timeout",
		"environment":           "server.environment",

		// Store
		"store_backend":                   "store.backend",
		"store_path":                      "store.path",
		"store_retry_attempts":            "store.retry_attempts",
		"store_retry_initial_interval":    "store.retry_initial_interval",
		"store_retry_max_interval":        "store.retry_max_interval",
		"store_breaker_failure_threshold": "store.breaker_failure_threshold",
		"store_breaker_open_for":          "store.breaker_open_for",

		// NATS
		"nats_enabled":    "nats.enabled",
		"nats_url":        "nats.url",
		"nats_embedded":   "nats.embedded_server",
		"nats_store_dir":  "nats.store_dir",
		"nats_max_memory": "nats.max_memory",
		"nats_max_store":  "nats.max_store",

		// Cache
		"cache_stale_after":      "cache.stale_after",
		"cache_gc_after":         "cache.gc_after",
		"cache_cleanup_interval": "cache.cleanup_interval",

		// Realtime
		"realtime_provider":                "realtime.provider",
		"realtime_reconnect_initial_delay": "realtime.reconnect_initial_delay",
		"realtime_reconnect_max_delay":     "realtime.reconnect_max_delay",
		"realtime_dedup_window":            "realtime.dedup_window",

		// Mutation
		"mutation_send_timeout": "mutation.send_timeout",

		// Maintenance
		"maintenance_sweep_interval":     "maintenance.sweep_interval",
		"maintenance_stale_for":          "maintenance.stale_for",
		"maintenance_refetch_per_second": "maintenance.refetch_per_second",
		"maintenance_refetch_burst":      "maintenance.refetch_burst",

		// API
		"api_default_page_size": "api.default_page_size",
		"api_max_page_size":     "api.max_page_size",

		// Security
		"jwt_secret":          "security.jwt_secret",
		"session_timeout":     "security.session_timeout",
		"rate_limit_requests": "security.rate_limit_reqs",
		"rate_limit_window":   "security.rate_limit_window",
		"disable_rate_limit":  "security.rate_limit_disabled",
		"cors_origins":        "security.cors_origins",
		"admin_username":      "security.admin_username",
		"admin_password":      "security.admin_password",

		// Logging
		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}
	return ""
}

// WatchConfigFile sets up a file watcher for hot-reload. The caller is
// responsible for mutex protection when swapping configuration during reloads.
func WatchConfigFile(path string, callback func()) error {
	provider := file.Provider(path)
	return provider.Watch(func(event interface{}, err error) {
		if err != nil {
			return
		}
		callback()
	})
}
