// Civitas - Civic Engagement Platform
// Copyright 2026 Civitas Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civitashq/civitas

/*
Package config provides centralized configuration management for Civitas.

Configuration is loaded with Koanf v2 from three layered sources, later layers
overriding earlier ones:

 1. Built-in defaults
 2. An optional YAML config file (config.yaml, or CONFIG_PATH)
 3. Environment variables

# Configuration Structure

Settings are organized into logical groups:

  - ServerConfig: HTTP server bind address, port, timeouts
  - StoreConfig: data store backend (memory/badger), retry and breaker tuning
  - NATSConfig: realtime messaging backbone, optionally embedded
  - CacheConfig: query cache staleness and GC horizons
  - RealtimeConfig: transport selection and reconnect backoff
  - MutationConfig: optimistic mutation send timeout
  - MaintenanceConfig: background sweep cadence and refetch throttling
  - APIConfig: pagination limits
  - SecurityConfig: JWT, rate limiting, CORS
  - LoggingConfig: level and format

# Environment Variables

Every setting maps to an environment variable, e.g.:

	HTTP_PORT=8080
	STORE_BACKEND=badger
	STORE_PATH=/data/civitas
	NATS_URL=nats://127.0.0.1:4222
	CACHE_STALE_AFTER=30s
	JWT_SECRET=...
	LOG_LEVEL=debug

Duration values use Go duration syntax (30s, 5m, 24h). List values such as
CORS_ORIGINS are comma-separated.

# Validation

Load validates the assembled configuration and fails fast on malformed values.
Production mode (ENVIRONMENT=production) additionally requires a JWT secret of
at least 32 characters.
*/
package config
