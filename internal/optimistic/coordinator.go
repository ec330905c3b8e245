// Civitas - Civic Engagement Platform
// Copyright 2026 Civitas Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civitashq/civitas

package optimistic

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/civitashq/civitas/internal/cache"
	"github.com/civitashq/civitas/internal/logging"
)

// Outcome is how a mutation settled.
type Outcome string

const (
	OutcomeCommitted  Outcome = "committed"
	OutcomeRolledBack Outcome = "rolled_back"
)

// SettleListener is called after a mutation settles with the keys the
// mutation still owned and the outcome. Listeners run synchronously on the
// mutating goroutine and must not block.
type SettleListener func(kind string, keys []string, outcome Outcome)

// MutationRequest describes one optimistic mutation.
type MutationRequest struct {
	// Kind names the mutation type, e.g. "campaign.vote". Invalidation
	// patterns registered for the kind run after a successful settle.
	Kind string

	// Keys are the cache keys this mutation touches. Every speculated or
	// reconciled key must be listed.
	Keys []string

	// Speculate holds the per-key updaters applied before the send. Keys
	// without an updater are snapshotted but left unchanged.
	Speculate map[string]cache.Updater

	// Send performs the store write and returns the authoritative result.
	Send func(ctx context.Context) (interface{}, error)

	// Reconcile maps keys to updater factories applied with the send
	// result after success. Nil entries leave the speculated value in
	// place until invalidation refreshes it.
	Reconcile map[string]func(result interface{}) cache.Updater

	// InvalidatePatterns are invalidated after success, in addition to the
	// patterns registered for Kind.
	InvalidatePatterns []string
}

// Config tunes the coordinator.
type Config struct {
	// SendTimeout bounds the store write; a mutation whose send exceeds it
	// is rolled back. Default: 30s.
	SendTimeout time.Duration
}

// DefaultConfig returns production coordinator settings.
func DefaultConfig() Config {
	return Config{SendTimeout: 30 * time.Second}
}

// Stats counts mutation outcomes.
type Stats struct {
	Executed   int64 `json:"executed"`
	Committed  int64 `json:"committed"`
	RolledBack int64 `json:"rolled_back"`
	Pending    int64 `json:"pending"`
}

// snap is a pre-speculation snapshot of one key.
type snap struct {
	value interface{}
	found bool
}

// mutation is one in-flight request.
type mutation struct {
	id       uint64
	kind     string
	keys     []string
	snapshot map[string]snap
}

// Coordinator executes optimistic mutations against a cache store.
type Coordinator struct {
	cache *cache.Store
	cfg   Config

	mu      sync.Mutex
	seq     uint64
	pending map[string]*mutation // by cache key; newest writer owns the key
	kinds   map[string][]string  // kind -> invalidation patterns

	settleMu  sync.Mutex
	settleFns []SettleListener

	statsMu sync.Mutex
	stats   Stats
}

// New creates a coordinator over store.
func New(store *cache.Store, cfg Config) *Coordinator {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 30 * time.Second
	}
	return &Coordinator{
		cache:   store,
		cfg:     cfg,
		pending: make(map[string]*mutation),
		kinds:   make(map[string][]string),
	}
}

// RegisterKind declares the query patterns invalidated after a successful
// mutation of the given kind. Registration replaces earlier patterns for the
// kind.
func (c *Coordinator) RegisterKind(kind string, patterns ...string) {
	c.mu.Lock()
	c.kinds[kind] = patterns
	c.mu.Unlock()
}

// OnSettle registers a settle listener.
func (c *Coordinator) OnSettle(fn SettleListener) {
	c.settleMu.Lock()
	c.settleFns = append(c.settleFns, fn)
	c.settleMu.Unlock()
}

// IsPending reports whether key has an unsettled mutation. The reconciliation
// bridge consults this to decide whether to buffer an inbound event.
func (c *Coordinator) IsPending(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[key]
	return ok
}

// GetStats returns a copy of the outcome counters.
func (c *Coordinator) GetStats() Stats {
	c.statsMu.Lock()
	st := c.stats
	c.statsMu.Unlock()
	c.mu.Lock()
	st.Pending = int64(len(c.pending))
	c.mu.Unlock()
	return st
}

// Execute runs req through the full optimistic lifecycle and returns the
// authoritative send result. The cache reflects the speculative value for the
// duration of the send; after return it reflects either the reconciled result
// or the pre-mutation snapshot.
func (c *Coordinator) Execute(ctx context.Context, req MutationRequest) (interface{}, error) {
	if req.Kind == "" || len(req.Keys) == 0 || req.Send == nil {
		return nil, errors.New("optimistic: mutation needs a kind, keys, and a send")
	}
	c.statsMu.Lock()
	c.stats.Executed++
	c.statsMu.Unlock()

	// A response for a superseded fetch must never clobber the
	// speculative value about to be written.
	for _, key := range req.Keys {
		c.cache.CancelOutstanding(key)
	}

	m := c.register(req)

	for _, key := range req.Keys {
		up := req.Speculate[key]
		if up == nil {
			continue
		}
		if err := c.cache.Set(key, up); err != nil {
			c.rollback(m)
			c.settle(m, OutcomeRolledBack)
			return nil, err
		}
	}

	sctx, cancel := context.WithTimeout(ctx, c.cfg.SendTimeout)
	result, err := req.Send(sctx)
	cancel()
	if err != nil {
		logging.Warn().Err(err).Str("kind", req.Kind).Msg("mutation failed, rolling back")
		c.rollback(m)
		c.settle(m, OutcomeRolledBack)
		return nil, err
	}

	c.reconcile(m, req, result)
	owned := c.release(m)
	c.settle(m, OutcomeCommitted)

	c.mu.Lock()
	patterns := append([]string(nil), c.kinds[req.Kind]...)
	c.mu.Unlock()
	patterns = append(patterns, req.InvalidatePatterns...)
	for _, p := range patterns {
		c.cache.Invalidate(p)
	}

	logging.Debug().
		Str("kind", req.Kind).
		Int("keys", len(owned)).
		Int("invalidated_patterns", len(patterns)).
		Msg("mutation committed")
	return result, nil
}

// register snapshots the touched keys and takes ownership of them.
func (c *Coordinator) register(req MutationRequest) *mutation {
	m := &mutation{
		kind:     req.Kind,
		keys:     req.Keys,
		snapshot: make(map[string]snap, len(req.Keys)),
	}
	for _, key := range req.Keys {
		value, found := c.cache.GetData(key)
		m.snapshot[key] = snap{value: value, found: found}
	}
	c.mu.Lock()
	c.seq++
	m.id = c.seq
	for _, key := range req.Keys {
		c.pending[key] = m
	}
	c.mu.Unlock()
	return m
}

// ownedKeys returns the keys still owned by m, i.e. not taken over by a newer
// mutation.
func (c *Coordinator) ownedKeys(m *mutation) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var owned []string
	for _, key := range m.keys {
		if c.pending[key] == m {
			owned = append(owned, key)
		}
	}
	return owned
}

// rollback restores the snapshot for every key m still owns and releases
// them. Keys taken over by a newer mutation keep that mutation's value.
func (c *Coordinator) rollback(m *mutation) {
	for _, key := range c.ownedKeys(m) {
		s := m.snapshot[key]
		if !s.found {
			c.cache.Remove(key)
			continue
		}
		restoreErr := c.cache.Set(key, func(interface{}, bool) (interface{}, error) {
			return s.value, nil
		})
		if restoreErr != nil {
			logging.Error().Err(restoreErr).Str("key", key).Msg("rollback restore failed")
		}
	}
	c.release(m)
	c.statsMu.Lock()
	c.stats.RolledBack++
	c.statsMu.Unlock()
}

// reconcile writes the authoritative result into every key m still owns that
// declared a reconciler.
func (c *Coordinator) reconcile(m *mutation, req MutationRequest, result interface{}) {
	if len(req.Reconcile) == 0 {
		return
	}
	for _, key := range c.ownedKeys(m) {
		factory := req.Reconcile[key]
		if factory == nil {
			continue
		}
		if err := c.cache.Set(key, factory(result)); err != nil {
			logging.Error().Err(err).Str("key", key).Msg("reconcile failed")
		}
	}
}

// release removes m's ownership of its keys and returns the keys it owned at
// settle time.
func (c *Coordinator) release(m *mutation) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var owned []string
	for _, key := range m.keys {
		if c.pending[key] == m {
			owned = append(owned, key)
			delete(c.pending, key)
		}
	}
	return owned
}

// settle notifies listeners; it runs after the pending index is updated so a
// listener replaying buffered events sees the key as settled.
func (c *Coordinator) settle(m *mutation, outcome Outcome) {
	if outcome == OutcomeCommitted {
		c.statsMu.Lock()
		c.stats.Committed++
		c.statsMu.Unlock()
	}
	c.settleMu.Lock()
	fns := make([]SettleListener, len(c.settleFns))
	copy(fns, c.settleFns)
	c.settleMu.Unlock()
	for _, fn := range fns {
		fn(m.kind, m.keys, outcome)
	}
}
