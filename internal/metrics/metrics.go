// Civitas - Civic Engagement Platform
// Copyright 2026 Civitas Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civitashq/civitas

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus instrumentation for:
// - Query cache efficiency and lifecycle
// - Optimistic mutation outcomes
// - Realtime event flow and reconciliation
// - Store gateway latency and resilience
// - API endpoint latency and throughput
// - WebSocket connections

var (
	// Cache Metrics
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cache_hits_total",
			Help: "Total number of query cache hits",
		},
	)

	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cache_misses_total",
			Help: "Total number of query cache misses",
		},
	)

	CacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cache_entries",
			Help: "Current number of cached query entries",
		},
	)

	CacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cache_evictions_total",
			Help: "Total number of cache entries garbage collected",
		},
	)

	CacheInvalidations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cache_invalidations_total",
			Help: "Total number of cache entries marked stale by invalidation",
		},
	)

	CacheCancelledFetches = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cache_cancelled_fetches_total",
			Help: "Total number of in-flight fetches cancelled by newer writes",
		},
	)

	// Optimistic Mutation Metrics
	MutationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mutations_total",
			Help: "Total number of optimistic mutations by kind and outcome",
		},
		[]string{"kind", "outcome"}, // outcome: "committed", "rolled_back"
	)

	MutationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mutation_duration_seconds",
			Help:    "Duration from speculation to settle in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	MutationsPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mutations_pending",
			Help: "Current number of unsettled optimistic mutations",
		},
	)

	// Realtime Metrics
	RealtimeEventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_events_received_total",
			Help: "Total number of realtime events received by table and type",
		},
		[]string{"table", "type"},
	)

	RealtimeEventsDeduplicated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_events_deduplicated_total",
			Help: "Total number of duplicate event deliveries dropped",
		},
	)

	RealtimeEventsBuffered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_events_buffered_total",
			Help: "Total number of events buffered behind pending mutations",
		},
	)

	RealtimeEventsReplayed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_events_replayed_total",
			Help: "Total number of buffered events replayed after settle",
		},
	)

	RealtimeConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_connected",
			Help: "Whether the realtime connection is up (1) or down (0)",
		},
	)

	RealtimeReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_reconnects_total",
			Help: "Total number of realtime reconnections",
		},
	)

	RealtimeSubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_subscriptions",
			Help: "Current number of entity subscriptions",
		},
	)

	// Store Gateway Metrics
	StoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "store_operation_duration_seconds",
			Help:    "Duration of store gateway operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	StoreOperationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_operation_errors_total",
			Help: "Total number of store gateway errors by code",
		},
		[]string{"operation", "code"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// API Endpoint Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "api_active_requests",
			Help: "Current number of active API requests",
		},
	)

	APIRateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_rate_limit_hits_total",
			Help: "Total number of rate limit rejections",
		},
		[]string{"endpoint"},
	)

	// WebSocket Metrics
	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_connections",
			Help: "Current number of active WebSocket connections",
		},
	)

	WSMessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_messages_sent_total",
			Help: "Total number of WebSocket messages sent",
		},
	)

	// System Metrics
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_info",
			Help: "Application version and build information",
		},
		[]string{"version", "go_version"},
	)

	AppUptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "app_uptime_seconds",
			Help: "Application uptime in seconds",
		},
	)
)

// RecordMutation records a settled optimistic mutation.
func RecordMutation(kind string, outcome string, duration time.Duration) {
	MutationsTotal.WithLabelValues(kind, outcome).Inc()
	MutationDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordRealtimeEvent records an inbound realtime event.
func RecordRealtimeEvent(table, eventType string) {
	RealtimeEventsReceived.WithLabelValues(table, eventType).Inc()
}

// RecordStoreOperation records a store gateway call.
func RecordStoreOperation(operation string, duration time.Duration, code string) {
	StoreOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if code != "" {
		StoreOperationErrors.WithLabelValues(operation, code).Inc()
	}
}

// RecordAPIRequest records an API request.
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// TrackActiveRequest tracks in-flight API requests.
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}

// SetRealtimeConnected reflects the realtime connection state.
func SetRealtimeConnected(connected bool) {
	if connected {
		RealtimeConnected.Set(1)
		return
	}
	RealtimeConnected.Set(0)
}

// CacheStatsSyncer converts monotonically increasing cache store snapshots
// into prometheus counter increments. One syncer instance must own the
// counters; concurrent syncers would double-count.
type CacheStatsSyncer struct {
	hits, misses, evictions, invalidations, cancelled int64
}

// Sync records the deltas since the previous snapshot and updates the entry
// gauge.
func (s *CacheStatsSyncer) Sync(hits, misses, evictions, invalidations, cancelled, entries int64) {
	CacheHits.Add(float64(max64(0, hits-s.hits)))
	CacheMisses.Add(float64(max64(0, misses-s.misses)))
	CacheEvictions.Add(float64(max64(0, evictions-s.evictions)))
	CacheInvalidations.Add(float64(max64(0, invalidations-s.invalidations)))
	CacheCancelledFetches.Add(float64(max64(0, cancelled-s.cancelled)))
	CacheEntries.Set(float64(entries))
	s.hits, s.misses, s.evictions = hits, misses, evictions
	s.invalidations, s.cancelled = invalidations, cancelled
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
