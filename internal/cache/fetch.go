// Civitas - Civic Engagement Platform
// Copyright 2026 Civitas Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civitashq/civitas

package cache

import (
	"context"
	"errors"
)

// ErrSuperseded is returned by Fetch when the fetch completed but its result
// was discarded because CancelOutstanding (or a newer fetch) invalidated its
// generation while it was in flight. The accompanying value is the current
// cache content, which is newer than the discarded response.
var ErrSuperseded = errors.New("cache: fetch superseded")

// Fetch returns the value for key, running fn against the data store when the
// cached value is missing or stale.
//
// Stale-while-revalidate: when fn fails and a stale value exists, the stale
// value is returned together with the error so the caller can keep showing
// the last confirmed state.
//
// Cancellation: the fetch runs under a per-key generation. If
// CancelOutstanding(key) is called while fn is in flight, the eventual
// response is discarded and Fetch returns the current cache value with
// ErrSuperseded. This is what prevents a slow stale read from clobbering a
// newer speculative write.
func (s *Store) Fetch(ctx context.Context, key string, fn func(context.Context) (interface{}, error)) (interface{}, error) {
	if e, ok := s.Get(key); ok && e.Value != nil && !e.IsStale(timeNow()) {
		return e.Value, nil
	}

	// Stale fallback, captured before the fetch.
	var staleValue interface{}
	var hasStale bool
	if e, ok := s.Get(key); ok && e.Value != nil {
		staleValue, hasStale = e.Value, true
	}

	fctx, cancel := context.WithCancel(ctx)
	gen := s.beginFetch(key, cancel)

	value, err := fn(fctx)
	if err != nil {
		s.failFetch(key, gen)
		cancel()
		if hasStale {
			return staleValue, err
		}
		return nil, err
	}

	if !s.completeFetch(key, gen, value) {
		cancel()
		if cur, ok := s.GetData(key); ok {
			return cur, ErrSuperseded
		}
		return nil, ErrSuperseded
	}
	cancel()
	return value, nil
}

// beginFetch marks key as fetching and returns the generation the fetch must
// present to completeFetch. Any prior in-flight fetch for the key is
// superseded (its generation becomes stale) and its context cancelled.
func (s *Store) beginFetch(key string, cancel context.CancelFunc) uint64 {
	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok {
		e = &entry{staleAfter: s.opts.StaleAfter, gcAfter: s.opts.GCAfter, stale: true}
		s.entries[key] = e
	}
	prior := e.fetchCancel
	e.fetchGen++
	e.fetching = true
	e.fetchCancel = cancel
	gen := e.fetchGen
	s.mu.Unlock()

	if prior != nil {
		prior()
	}
	return gen
}

// completeFetch stores the fetched value if gen is still current. Returns
// false when the fetch was superseded and its result discarded.
func (s *Store) completeFetch(key string, gen uint64, value interface{}) bool {
	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok || e.fetchGen != gen {
		s.mu.Unlock()
		return false
	}
	e.fetching = false
	e.fetchCancel = nil
	e.value = value
	e.fetchedAt = timeNow()
	e.stale = false
	observers := s.observers
	s.mu.Unlock()

	s.updateEntryCount()
	for _, o := range observers {
		o(key, value)
	}
	return true
}

// failFetch clears the fetching flag if gen is still current. The entry's
// value and staleness are untouched so stale-while-revalidate keeps serving
// the last confirmed state.
func (s *Store) failFetch(key string, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok || e.fetchGen != gen {
		return
	}
	e.fetching = false
	e.fetchCancel = nil
}
