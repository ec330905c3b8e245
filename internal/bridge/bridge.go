// Civitas - Civic Engagement Platform
// Copyright 2026 Civitas Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civitashq/civitas

package bridge

import (
	"sync"
	"time"

	"github.com/civitashq/civitas/internal/cache"
	"github.com/civitashq/civitas/internal/logging"
	"github.com/civitashq/civitas/internal/models"
	"github.com/civitashq/civitas/internal/optimistic"
	"github.com/civitashq/civitas/internal/realtime"
)

// TableMerger merges one table's row events into the cache. Implementations
// are typed to their table's entity and list shapes; an event whose payload
// does not decode to the expected type is an error, not a silent skip.
type TableMerger interface {
	// Table is the realtime table this merger owns.
	Table() string

	// Apply merges ev into store.
	Apply(store *cache.Store, ev realtime.Event) error
}

// PendingChecker reports whether a cache key has an unsettled optimistic
// mutation. Satisfied by the optimistic coordinator.
type PendingChecker interface {
	IsPending(key string) bool
}

// Stats counts bridge activity.
type Stats struct {
	Handled      int64 `json:"handled"`
	Merged       int64 `json:"merged"`
	Buffered     int64 `json:"buffered"`
	Replayed     int64 `json:"replayed"`
	Deduplicated int64 `json:"deduplicated"`
	MergeErrors  int64 `json:"merge_errors"`
}

// Config tunes the bridge.
type Config struct {
	// DedupWindow is how long an (event id, type) pair suppresses
	// duplicate deliveries. Default: 2m.
	DedupWindow time.Duration
}

// DefaultConfig returns production bridge settings.
func DefaultConfig() Config {
	return Config{DedupWindow: 2 * time.Minute}
}

// Bridge routes realtime events into the cache, deferring around pending
// optimistic mutations.
type Bridge struct {
	cache   *cache.Store
	pending PendingChecker
	cfg     Config

	mu       sync.Mutex
	mergers  map[string]TableMerger
	buffered map[string]realtime.Event // by pending cache key, latest wins
	seen     map[string]time.Time      // dedup key -> first delivery
	stats    Stats

	timeNow func() time.Time
}

// New creates a bridge over store, consulting pending before merging.
// Mergers for the civic tables are pre-registered.
func New(store *cache.Store, pending PendingChecker, cfg Config) *Bridge {
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = 2 * time.Minute
	}
	b := &Bridge{
		cache:    store,
		pending:  pending,
		cfg:      cfg,
		mergers:  make(map[string]TableMerger),
		buffered: make(map[string]realtime.Event),
		seen:     make(map[string]time.Time),
		timeNow:  time.Now,
	}
	b.Register(campaignMerger{})
	b.Register(commentMerger{})
	b.Register(wonderMerger{})
	return b
}

// Register adds or replaces the merger for a table.
func (b *Bridge) Register(m TableMerger) {
	b.mu.Lock()
	b.mergers[m.Table()] = m
	b.mu.Unlock()
}

// AttachTo subscribes the bridge to the coordinator's settle notifications so
// buffered events replay as soon as their mutation settles.
func (b *Bridge) AttachTo(co *optimistic.Coordinator) {
	co.OnSettle(func(_ string, keys []string, _ optimistic.Outcome) {
		b.Replay(keys)
	})
}

// HandleEvent processes one inbound row event. Satisfies the realtime
// EventHandler shape via a method value.
func (b *Bridge) HandleEvent(ev realtime.Event) {
	b.mu.Lock()
	b.stats.Handled++

	now := b.timeNow()
	b.pruneSeenLocked(now)
	dk := ev.DedupKey()
	if first, ok := b.seen[dk]; ok && now.Sub(first) < b.cfg.DedupWindow {
		b.stats.Deduplicated++
		b.mu.Unlock()
		return
	}
	b.seen[dk] = now

	merger := b.mergers[ev.Table]
	b.mu.Unlock()

	if merger == nil {
		logging.Debug().Str("table", ev.Table).Msg("event for unmerged table dropped")
		return
	}

	// An event touching a key mid-mutation waits in that key's slot; the
	// slot holds one event and a newer one replaces it.
	if key, pending := b.pendingKey(ev); pending {
		b.mu.Lock()
		b.buffered[key] = ev
		b.stats.Buffered++
		b.mu.Unlock()
		// The mutation can settle between the pending check and the
		// insert; its replay has already run and missed this slot, so
		// drain it here or the event is stranded until the next
		// mutation on the key.
		if !b.pending.IsPending(key) {
			b.drain(key)
			return
		}
		logging.Debug().
			Str("table", ev.Table).
			Str("key", key).
			Str("type", string(ev.Type)).
			Msg("event buffered behind pending mutation")
		return
	}

	b.apply(merger, ev)
}

// Replay merges the buffered event, if any, for each settled key. A key that
// is pending again belongs to a newer mutation; its slot stays buffered and
// that mutation's settle drains it.
func (b *Bridge) Replay(keys []string) {
	for _, key := range keys {
		if b.pending.IsPending(key) {
			continue
		}
		b.drain(key)
	}
}

// drain applies and clears the buffered event for key, if any.
func (b *Bridge) drain(key string) {
	b.mu.Lock()
	ev, ok := b.buffered[key]
	var merger TableMerger
	if ok {
		delete(b.buffered, key)
		b.stats.Replayed++
		merger = b.mergers[ev.Table]
	}
	b.mu.Unlock()
	if merger == nil {
		return
	}
	b.apply(merger, ev)
}

// GetStats returns a copy of the bridge counters.
func (b *Bridge) GetStats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

func (b *Bridge) apply(m TableMerger, ev realtime.Event) {
	err := m.Apply(b.cache, ev)
	b.mu.Lock()
	if err != nil {
		b.stats.MergeErrors++
	} else {
		b.stats.Merged++
	}
	b.mu.Unlock()
	if err != nil {
		logging.Error().Err(err).
			Str("table", ev.Table).
			Str("type", string(ev.Type)).
			Msg("event merge failed")
	}
}

// pendingKey returns the first cache key affected by ev that has a pending
// mutation. Affected keys are the row's detail key plus every cached list
// entry for the table.
func (b *Bridge) pendingKey(ev realtime.Event) (string, bool) {
	detail := models.DetailKeyForTable(ev.Table, ev.RowID())
	if b.pending.IsPending(detail) {
		return detail, true
	}
	for _, key := range b.cache.MatchingKeys(models.ListPatternForTable(ev.Table)) {
		if b.pending.IsPending(key) {
			return key, true
		}
	}
	return "", false
}

// pruneSeenLocked drops dedup records older than the window.
func (b *Bridge) pruneSeenLocked(now time.Time) {
	if len(b.seen) < 1024 {
		return
	}
	for dk, first := range b.seen {
		if now.Sub(first) >= b.cfg.DedupWindow {
			delete(b.seen, dk)
		}
	}
}
