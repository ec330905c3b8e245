// Civitas - Civic Engagement Platform
// Copyright 2026 Civitas Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civitashq/civitas

package maintenance

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/civitashq/civitas/internal/cache"
	"github.com/civitashq/civitas/internal/logging"
)

// PrefetchFunc warms one query on startup.
type PrefetchFunc func(ctx context.Context) error

// Config tunes the maintenance manager.
type Config struct {
	// SweepInterval is how often the stale sweep runs. Default: 1m.
	SweepInterval time.Duration

	// StaleFor is how long an observed entry may stay stale before the
	// sweep re-invalidates it. Default: 5m.
	StaleFor time.Duration

	// RefetchPerSecond caps sweep-triggered invalidations. Default: 5.
	RefetchPerSecond float64

	// RefetchBurst is the invalidation token bucket size. Default: 10.
	RefetchBurst int
}

// DefaultConfig returns production maintenance settings.
func DefaultConfig() Config {
	return Config{
		SweepInterval:    time.Minute,
		StaleFor:         5 * time.Minute,
		RefetchPerSecond: 5,
		RefetchBurst:     10,
	}
}

// Stats counts maintenance activity.
type Stats struct {
	Prefetches     int64     `json:"prefetches"`
	PrefetchErrors int64     `json:"prefetch_errors"`
	Sweeps         int64     `json:"sweeps"`
	Reinvalidated  int64     `json:"reinvalidated"`
	LastSweep      time.Time `json:"last_sweep"`
}

// Manager is the background cache maintenance service.
type Manager struct {
	cache   *cache.Store
	cfg     Config
	limiter *rate.Limiter

	mu       sync.Mutex
	prefetch []namedPrefetch
	stats    Stats
}

type namedPrefetch struct {
	name string
	fn   PrefetchFunc
}

// New creates a maintenance manager over store.
func New(store *cache.Store, cfg Config) *Manager {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if cfg.StaleFor <= 0 {
		cfg.StaleFor = 5 * time.Minute
	}
	if cfg.RefetchPerSecond <= 0 {
		cfg.RefetchPerSecond = 5
	}
	if cfg.RefetchBurst <= 0 {
		cfg.RefetchBurst = 10
	}
	return &Manager{
		cache:   store,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RefetchPerSecond), cfg.RefetchBurst),
	}
}

// RegisterPrefetch adds a named warmup function run once at startup.
func (m *Manager) RegisterPrefetch(name string, fn PrefetchFunc) {
	m.mu.Lock()
	m.prefetch = append(m.prefetch, namedPrefetch{name: name, fn: fn})
	m.mu.Unlock()
}

// GetStats returns a copy of the maintenance counters.
func (m *Manager) GetStats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// Serve warms the cache and then sweeps it until ctx is canceled. Satisfies
// the suture service contract.
func (m *Manager) Serve(ctx context.Context) error {
	m.runPrefetches(ctx)

	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.sweep(ctx)
		}
	}
}

func (m *Manager) runPrefetches(ctx context.Context) {
	m.mu.Lock()
	fns := make([]namedPrefetch, len(m.prefetch))
	copy(fns, m.prefetch)
	m.mu.Unlock()

	for _, p := range fns {
		if ctx.Err() != nil {
			return
		}
		start := time.Now()
		err := p.fn(ctx)
		m.mu.Lock()
		m.stats.Prefetches++
		if err != nil {
			m.stats.PrefetchErrors++
		}
		m.mu.Unlock()
		if err != nil {
			logging.Warn().Err(err).Str("prefetch", p.name).Msg("cache prefetch failed")
			continue
		}
		logging.Debug().Str("prefetch", p.name).Dur("took", time.Since(start)).Msg("cache prefetched")
	}
}

// sweep re-invalidates observed entries that have been stale past the
// horizon, throttled by the limiter. Unobserved entries are left for GC.
func (m *Manager) sweep(ctx context.Context) {
	now := time.Now()
	reinvalidated := int64(0)
	for _, e := range m.cache.Snapshot() {
		if e.Observers == 0 || e.Fetching {
			continue
		}
		if !e.IsStale(now) || now.Sub(e.FetchedAt) < m.cfg.StaleFor {
			continue
		}
		if err := m.limiter.Wait(ctx); err != nil {
			return
		}
		m.cache.Invalidate(e.Key)
		reinvalidated++
	}

	st := m.cache.GetStats()
	m.mu.Lock()
	m.stats.Sweeps++
	m.stats.Reinvalidated += reinvalidated
	m.stats.LastSweep = now
	m.mu.Unlock()

	logging.Debug().
		Int64("entries", st.Entries).
		Int64("hits", st.Hits).
		Int64("misses", st.Misses).
		Float64("hit_rate", m.cache.HitRate()).
		Int64("reinvalidated", reinvalidated).
		Msg("cache sweep completed")
}
