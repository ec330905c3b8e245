// Civitas - Civic Engagement Platform
// Copyright 2026 Civitas Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civitashq/civitas

/*
Package metrics provides Prometheus metrics collection and export for observability.

This package instruments the platform with the Prometheus client library,
exposing metrics for monitoring performance, errors, and system health.

# Overview

The package provides metrics for:
  - Query cache efficiency (hits, misses, evictions, invalidations)
  - Optimistic mutation outcomes by kind
  - Realtime event flow: received, deduplicated, buffered, replayed
  - Store gateway latency, error codes, and circuit breaker state
  - API request latency and throughput
  - WebSocket connection counts

# Metrics Endpoint

Metrics are exposed at the /metrics endpoint in Prometheus text format:

	curl http://localhost:8080/metrics

# Usage Example

Basic setup in main.go:

	import (
	    "github.com/civitashq/civitas/internal/metrics"
	    "github.com/prometheus/client_golang/prometheus/promhttp"
	)

	func main() {
	    http.Handle("/metrics", promhttp.Handler())

	    metrics.RecordAPIRequest("GET", "/api/v1/campaigns", "200", 23*time.Millisecond)
	    metrics.RecordMutation("campaign.vote", "committed", 120*time.Millisecond)
	}

Example PromQL queries:

	# Mutation rollback rate
	sum(rate(mutations_total{outcome="rolled_back"}[5m])) / sum(rate(mutations_total[5m]))

	# Cache hit rate
	rate(cache_hits_total[5m]) / (rate(cache_hits_total[5m]) + rate(cache_misses_total[5m]))

	# API p95 latency
	histogram_quantile(0.95, rate(api_request_duration_seconds_bucket[5m]))

# Thread Safety

All metric recording functions are thread-safe and designed for concurrent use
from multiple goroutines. The Prometheus client library handles synchronization
internally.

# Cardinality Management

Labels are kept to bounded sets: mutation kinds and tables are fixed constants,
endpoint labels carry route patterns rather than raw paths, and user-specific
labels are avoided.
*/
package metrics
