// Civitas - Civic Engagement Platform
// Copyright 2026 Civitas Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civitashq/civitas

package cache

import (
	"context"
	"fmt"
	"path"
	"sync"
	"time"
)

// Updater computes the next value for a cache entry from the previous one.
// found is false when the entry does not exist yet (prev is nil).
// Returning an error aborts the write and leaves the entry unchanged.
type Updater func(prev interface{}, found bool) (interface{}, error)

// Refetcher is invoked asynchronously for observed entries that were marked
// stale by Invalidate. Implementations re-run the query that produced the key
// and write the fresh result back through the store.
type Refetcher func(key string)

// Observer receives a synchronous notification after an entry's value changed.
type Observer func(key string, value interface{})

// Entry is a read-only snapshot of a cached item.
type Entry struct {
	Key        string
	Value      interface{}
	FetchedAt  time.Time
	StaleAfter time.Duration
	GCAfter    time.Duration
	Fetching   bool
	Stale      bool
	Observers  int
}

// IsStale reports whether the entry should be refreshed before the next read
// is considered current.
func (e Entry) IsStale(now time.Time) bool {
	return e.Stale || now.Sub(e.FetchedAt) > e.StaleAfter
}

// entry is the mutable internal representation.
type entry struct {
	value      interface{}
	fetchedAt  time.Time
	staleAfter time.Duration
	gcAfter    time.Duration
	stale      bool
	observers  int

	// fetchGen increments on every CancelOutstanding and BeginFetch; a
	// completing fetch that carries an older generation is discarded.
	fetchGen    uint64
	fetching    bool
	fetchCancel context.CancelFunc
}

// Stats tracks cache performance counters.
type Stats struct {
	Hits             int64
	Misses           int64
	Evictions        int64
	Invalidations    int64
	CancelledFetches int64
	Entries          int64
	LastCleanup      time.Time
}

// Options configures a Store.
type Options struct {
	// StaleAfter is the default duration after which an entry is considered
	// stale. Default: 30s.
	StaleAfter time.Duration

	// GCAfter is the default duration after which an unobserved entry is
	// garbage collected. Default: 5m.
	GCAfter time.Duration

	// CleanupInterval is how often the GC loop runs. Default: 1m.
	CleanupInterval time.Duration
}

// Store is the thread-safe query cache. The zero value is not usable; create
// with New.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
	opts    Options

	statsMu sync.Mutex
	stats   Stats

	refetch   Refetcher
	observers []Observer

	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a cache store and starts its background GC loop.
func New(opts Options) *Store {
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 30 * time.Second
	}
	if opts.GCAfter <= 0 {
		opts.GCAfter = 5 * time.Minute
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = time.Minute
	}
	s := &Store{
		entries: make(map[string]*entry),
		opts:    opts,
		stop:    make(chan struct{}),
	}
	go s.cleanupLoop()
	return s
}

// Close stops the background GC loop.
func (s *Store) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// SetRefetcher registers the callback used to refresh observed entries after
// invalidation. Must be set before Invalidate is first called to have effect.
func (s *Store) SetRefetcher(r Refetcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refetch = r
}

// OnChange registers an observer notified synchronously after every
// successful Set. Observers must not call back into the store.
func (s *Store) OnChange(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

// Get returns a snapshot of the entry for key.
func (s *Store) Get(key string) (Entry, bool) {
	s.mu.RLock()
	e, ok := s.entries[key]
	var snap Entry
	if ok {
		snap = s.snapshotLocked(key, e)
	}
	s.mu.RUnlock()

	if !ok {
		s.recordMiss()
		return Entry{}, false
	}
	s.recordHit()
	return snap, true
}

// GetData returns just the cached value for key. This is the narrow read
// contract used by the coordinator to snapshot state for rollback.
func (s *Store) GetData(key string) (interface{}, bool) {
	e, ok := s.Get(key)
	if !ok {
		return nil, false
	}
	return e.Value, true
}

// Set applies updater to the entry for key and stores the result. The entry
// is created if absent. On updater error the entry is left exactly as it was
// and the error is returned; cache corruption must never result from a failed
// update. Registered observers are notified synchronously on success.
func (s *Store) Set(key string, updater Updater) error {
	s.mu.Lock()
	e, ok := s.entries[key]
	var prev interface{}
	if ok {
		prev = e.value
	}
	next, err := updater(prev, ok)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("cache update for %s: %w", key, err)
	}
	if !ok {
		e = &entry{staleAfter: s.opts.StaleAfter, gcAfter: s.opts.GCAfter}
		s.entries[key] = e
	}
	e.value = next
	e.fetchedAt = time.Now()
	e.stale = false
	observers := s.observers
	s.mu.Unlock()

	s.updateEntryCount()
	for _, o := range observers {
		o(key, next)
	}
	return nil
}

// SetMatching applies updater to every existing entry whose key matches
// pattern. Entries are not created. Returns the number of entries updated;
// an updater error skips that entry and is returned after the sweep.
func (s *Store) SetMatching(pattern string, updater Updater) (int, error) {
	keys := s.MatchingKeys(pattern)
	updated := 0
	var firstErr error
	for _, key := range keys {
		if err := s.Set(key, updater); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		updated++
	}
	return updated, firstErr
}

// Invalidate marks every entry matching pattern as stale and schedules a
// background refetch for entries that currently have observers. Patterns use
// path.Match syntax, e.g. "campaigns:search:*". Returns the number of
// entries invalidated.
func (s *Store) Invalidate(pattern string) int {
	s.mu.Lock()
	var refetchKeys []string
	count := 0
	for key, e := range s.entries {
		if ok, _ := path.Match(pattern, key); !ok {
			continue
		}
		e.stale = true
		count++
		if e.observers > 0 && s.refetch != nil {
			refetchKeys = append(refetchKeys, key)
		}
	}
	refetch := s.refetch
	s.mu.Unlock()

	if count > 0 {
		s.statsMu.Lock()
		s.stats.Invalidations += int64(count)
		s.statsMu.Unlock()
	}
	for _, key := range refetchKeys {
		go refetch(key)
	}
	return count
}

// CancelOutstanding aborts any in-flight fetch for key. The fetch's context
// is cancelled and its generation is invalidated so a late completion is
// discarded rather than applied. Required before every new speculative write
// to the same key.
func (s *Store) CancelOutstanding(key string) {
	s.mu.Lock()
	e, ok := s.entries[key]
	var cancel context.CancelFunc
	if ok && e.fetching {
		e.fetchGen++
		e.fetching = false
		cancel = e.fetchCancel
		e.fetchCancel = nil
	}
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		s.statsMu.Lock()
		s.stats.CancelledFetches++
		s.statsMu.Unlock()
	}
}

// Observe increments the observer count for key, creating a placeholder entry
// if needed so invalidation-triggered refetches can target it.
func (s *Store) Observe(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		e = &entry{staleAfter: s.opts.StaleAfter, gcAfter: s.opts.GCAfter, stale: true}
		s.entries[key] = e
	}
	e.observers++
}

// Release decrements the observer count for key.
func (s *Store) Release(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok && e.observers > 0 {
		e.observers--
	}
}

// Remove deletes the entry for key.
func (s *Store) Remove(key string) {
	s.mu.Lock()
	_, ok := s.entries[key]
	delete(s.entries, key)
	s.mu.Unlock()

	if ok {
		s.recordEviction(1)
		s.updateEntryCount()
	}
}

// MatchingKeys returns the keys of all entries matching pattern.
func (s *Store) MatchingKeys(pattern string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []string
	for key := range s.entries {
		if ok, _ := path.Match(pattern, key); ok {
			keys = append(keys, key)
		}
	}
	return keys
}

// Snapshot returns read-only snapshots of all entries. Used by the
// maintenance manager to find long-stale entries.
func (s *Store) Snapshot() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, 0, len(s.entries))
	for key, e := range s.entries {
		out = append(out, s.snapshotLocked(key, e))
	}
	return out
}

// GetStats returns a copy of the current cache statistics.
func (s *Store) GetStats() Stats {
	s.mu.RLock()
	entries := int64(len(s.entries))
	s.mu.RUnlock()

	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	st := s.stats
	st.Entries = entries
	return st
}

// HitRate returns the cache hit rate as a percentage.
func (s *Store) HitRate() float64 {
	st := s.GetStats()
	total := st.Hits + st.Misses
	if total == 0 {
		return 0.0
	}
	return float64(st.Hits) / float64(total) * 100.0
}

// cleanupLoop periodically removes unobserved entries past their GC horizon.
func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.opts.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

// cleanup removes entries with no observers whose gcAfter has elapsed.
func (s *Store) cleanup() {
	now := time.Now()
	s.mu.Lock()
	evicted := int64(0)
	for key, e := range s.entries {
		if e.observers == 0 && !e.fetching && now.Sub(e.fetchedAt) > e.gcAfter {
			delete(s.entries, key)
			evicted++
		}
	}
	entries := int64(len(s.entries))
	s.mu.Unlock()

	s.statsMu.Lock()
	s.stats.Evictions += evicted
	s.stats.Entries = entries
	s.stats.LastCleanup = now
	s.statsMu.Unlock()
}

func (s *Store) snapshotLocked(key string, e *entry) Entry {
	return Entry{
		Key:        key,
		Value:      e.value,
		FetchedAt:  e.fetchedAt,
		StaleAfter: e.staleAfter,
		GCAfter:    e.gcAfter,
		Fetching:   e.fetching,
		Stale:      e.stale,
		Observers:  e.observers,
	}
}

func (s *Store) recordHit() {
	s.statsMu.Lock()
	s.stats.Hits++
	s.statsMu.Unlock()
}

func (s *Store) recordMiss() {
	s.statsMu.Lock()
	s.stats.Misses++
	s.statsMu.Unlock()
}

func (s *Store) recordEviction(n int64) {
	s.statsMu.Lock()
	s.stats.Evictions += n
	s.statsMu.Unlock()
}

func (s *Store) updateEntryCount() {
	s.mu.RLock()
	entries := int64(len(s.entries))
	s.mu.RUnlock()
	s.statsMu.Lock()
	s.stats.Entries = entries
	s.statsMu.Unlock()
}
