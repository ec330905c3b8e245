// Civitas - Civic Engagement Platform
// Copyright 2026 Civitas Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civitashq/civitas

package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/civitashq/civitas/internal/logging"
)

// State is the connection lifecycle state of a Manager.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
)

// EventHandler receives decoded row change events.
type EventHandler func(Event)

// Provider is the transport under a Manager. Implementations report
// connection loss through the OnStateChange callback; the Manager owns the
// reconnect policy and re-establishes subscriptions after each Connect.
type Provider interface {
	// Connect establishes the transport connection. Called again after
	// every reported drop.
	Connect(ctx context.Context) error

	// Subscribe registers handler for a topic and returns an unsubscribe
	// function. Valid only while connected; subscriptions do not survive
	// a reconnect.
	Subscribe(topic string, handler func(Event)) (func(), error)

	// Publish sends an event on its table topic.
	Publish(ev Event) error

	// OnStateChange registers a connectivity callback. Providers call it
	// with false when the connection drops.
	OnStateChange(fn func(connected bool))

	// Close tears down the transport.
	Close() error
}

// ManagerConfig tunes the reconnect backoff.
type ManagerConfig struct {
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration
}

// DefaultManagerConfig returns production reconnect settings.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		ReconnectInitial: 500 * time.Millisecond,
		ReconnectMax:     30 * time.Second,
	}
}

// ConnectionStatus is a point-in-time snapshot of the manager.
type ConnectionStatus struct {
	State             State    `json:"state"`
	IsConnected       bool     `json:"is_connected"`
	SubscriptionCount int      `json:"subscription_count"`
	ActiveTopics      []string `json:"active_topics"`
}

// topicSub tracks one provider subscription shared by all handlers on a
// topic.
type topicSub struct {
	handlers map[int64]EventHandler
	unsub    func()
}

// Manager drives the realtime connection state machine and multiplexes topic
// subscriptions over a single Provider. It also implements the event sink
// side: writes published through PublishEvent reach every session subscribed
// to the affected table.
type Manager struct {
	provider Provider
	cfg      ManagerConfig

	mu       sync.RWMutex
	state    State
	nextID   int64
	subs     map[string]*topicSub
	subTopic map[int64]string
	connFns  map[int64]func(bool)

	// drops is signaled by the provider on connection loss and by
	// Reconnect; Serve waits on it while connected.
	drops chan struct{}
}

// NewManager creates a manager over provider. Call Serve to start the
// connection loop.
func NewManager(provider Provider, cfg ManagerConfig) *Manager {
	if cfg.ReconnectInitial <= 0 {
		cfg.ReconnectInitial = 500 * time.Millisecond
	}
	if cfg.ReconnectMax <= 0 {
		cfg.ReconnectMax = 30 * time.Second
	}
	m := &Manager{
		provider: provider,
		cfg:      cfg,
		state:    StateDisconnected,
		subs:     make(map[string]*topicSub),
		subTopic: make(map[int64]string),
		connFns:  make(map[int64]func(bool)),
		drops:    make(chan struct{}, 1),
	}
	provider.OnStateChange(func(connected bool) {
		if !connected {
			m.signalDrop()
		}
	})
	return m
}

// Serve runs the connection loop until ctx is canceled. It satisfies the
// suture service contract.
func (m *Manager) Serve(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = m.cfg.ReconnectInitial
	bo.MaxInterval = m.cfg.ReconnectMax
	bo.MaxElapsedTime = 0

	first := true
	for {
		if ctx.Err() != nil {
			m.setState(StateDisconnected)
			return ctx.Err()
		}
		if first {
			m.setState(StateConnecting)
		} else {
			m.setState(StateReconnecting)
		}
		if err := m.provider.Connect(ctx); err != nil {
			wait := bo.NextBackOff()
			logging.Warn().Err(err).Dur("retry_in", wait).Msg("realtime connect failed")
			first = false
			select {
			case <-ctx.Done():
				m.setState(StateDisconnected)
				return ctx.Err()
			case <-time.After(wait):
			}
			continue
		}
		bo.Reset()
		m.resubscribe()
		m.setState(StateConnected)
		logging.Info().Msg("realtime connected")

		select {
		case <-ctx.Done():
			m.setState(StateDisconnected)
			return ctx.Err()
		case <-m.drops:
			logging.Warn().Msg("realtime connection dropped")
			m.clearProviderSubs()
			first = false
		}
	}
}

// SubscribeToEntity registers handler for all row changes on a table and
// returns a subscription id for Unsubscribe.
func (m *Manager) SubscribeToEntity(table string, handler EventHandler) (int64, error) {
	topic := TableTopic(table)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	id := m.nextID

	sub := m.subs[topic]
	if sub == nil {
		sub = &topicSub{handlers: make(map[int64]EventHandler)}
		m.subs[topic] = sub
	}
	sub.handlers[id] = handler
	m.subTopic[id] = topic

	// First handler on a topic while connected opens the provider sub;
	// otherwise resubscribe() opens it on the next connect.
	if m.state == StateConnected && sub.unsub == nil {
		unsub, err := m.provider.Subscribe(topic, m.dispatcher(topic))
		if err != nil {
			delete(sub.handlers, id)
			delete(m.subTopic, id)
			if len(sub.handlers) == 0 {
				delete(m.subs, topic)
			}
			return 0, err
		}
		sub.unsub = unsub
	}
	return id, nil
}

// Unsubscribe removes a handler. The provider subscription is closed when the
// last handler on its topic is removed.
func (m *Manager) Unsubscribe(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	topic, ok := m.subTopic[id]
	if !ok {
		return
	}
	delete(m.subTopic, id)
	sub := m.subs[topic]
	if sub == nil {
		return
	}
	delete(sub.handlers, id)
	if len(sub.handlers) == 0 {
		if sub.unsub != nil {
			sub.unsub()
		}
		delete(m.subs, topic)
	}
}

// OnConnectionChange registers fn to be called with the new connected state
// whenever it flips. Returns a function that removes the listener.
func (m *Manager) OnConnectionChange(fn func(connected bool)) func() {
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.connFns[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.connFns, id)
		m.mu.Unlock()
	}
}

// Reconnect forces the connection to be torn down and re-established.
func (m *Manager) Reconnect() {
	m.signalDrop()
}

// PublishEvent publishes ev on its table topic. Implements the store gateway
// event sink.
func (m *Manager) PublishEvent(ev Event) {
	if err := m.provider.Publish(ev); err != nil {
		logging.Error().Err(err).Str("table", ev.Table).Msg("realtime publish failed")
	}
}

// Status returns a snapshot of the connection and subscription state.
func (m *Manager) Status() ConnectionStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	topics := make([]string, 0, len(m.subs))
	count := 0
	for topic, sub := range m.subs {
		topics = append(topics, topic)
		count += len(sub.handlers)
	}
	return ConnectionStatus{
		State:             m.state,
		IsConnected:       m.state == StateConnected,
		SubscriptionCount: count,
		ActiveTopics:      topics,
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Close tears down the provider.
func (m *Manager) Close() error {
	return m.provider.Close()
}

func (m *Manager) signalDrop() {
	select {
	case m.drops <- struct{}{}:
	default:
	}
}

// setState updates the state and notifies connection listeners when the
// connected bit flips.
func (m *Manager) setState(s State) {
	m.mu.Lock()
	prev := m.state
	m.state = s
	var fns []func(bool)
	wasConnected := prev == StateConnected
	isConnected := s == StateConnected
	if wasConnected != isConnected {
		fns = make([]func(bool), 0, len(m.connFns))
		for _, fn := range m.connFns {
			fns = append(fns, fn)
		}
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(isConnected)
	}
}

// resubscribe re-opens provider subscriptions for every topic that still has
// handlers. Called after each successful connect.
func (m *Manager) resubscribe() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for topic, sub := range m.subs {
		if sub.unsub != nil {
			continue
		}
		unsub, err := m.provider.Subscribe(topic, m.dispatcher(topic))
		if err != nil {
			logging.Error().Err(err).Str("topic", topic).Msg("resubscribe failed")
			continue
		}
		sub.unsub = unsub
	}
}

// clearProviderSubs forgets provider-side subscriptions after a drop; the
// handlers stay registered and are reattached by resubscribe.
func (m *Manager) clearProviderSubs() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sub := range m.subs {
		sub.unsub = nil
	}
}

// dispatcher returns the provider-facing handler for a topic, fanning each
// event out to the topic's registered handlers.
func (m *Manager) dispatcher(topic string) func(Event) {
	return func(ev Event) {
		m.mu.RLock()
		sub := m.subs[topic]
		var handlers []EventHandler
		if sub != nil {
			handlers = make([]EventHandler, 0, len(sub.handlers))
			for _, h := range sub.handlers {
				handlers = append(handlers, h)
			}
		}
		m.mu.RUnlock()
		for _, h := range handlers {
			h(ev)
		}
	}
}
