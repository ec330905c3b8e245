// Civitas - Civic Engagement Platform
// Copyright 2026 Civitas Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civitashq/civitas

package realtime

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/civitashq/civitas/internal/logging"
)

// NATSProvider carries realtime events over NATS subjects. Reconnection is
// owned by the Manager, so the client is dialed without its own reconnect
// loop; a closed connection is reported upward and the Manager dials again.
type NATSProvider struct {
	url  string
	name string

	mu       sync.Mutex
	nc       *nats.Conn
	stateFns []func(bool)
}

// NewNATSProvider creates a provider dialing url.
func NewNATSProvider(url string) *NATSProvider {
	return &NATSProvider{url: url, name: "civitas-realtime"}
}

func (p *NATSProvider) Connect(ctx context.Context) error {
	p.mu.Lock()
	if p.nc != nil {
		p.nc.Close()
		p.nc = nil
	}
	p.mu.Unlock()

	nc, err := nats.Connect(p.url,
		nats.Name(p.name),
		nats.NoReconnect(),
		nats.Timeout(5*time.Second),
		nats.ClosedHandler(func(*nats.Conn) {
			p.notify(false)
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			logging.Error().Err(err).Msg("nats async error")
		}),
	)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		nc.Close()
		return err
	}

	p.mu.Lock()
	p.nc = nc
	p.mu.Unlock()
	return nil
}

func (p *NATSProvider) Subscribe(topic string, handler func(Event)) (func(), error) {
	p.mu.Lock()
	nc := p.nc
	p.mu.Unlock()
	if nc == nil {
		return nil, nats.ErrConnectionClosed
	}
	sub, err := nc.Subscribe(subjectFor(topic), func(msg *nats.Msg) {
		ev, err := UnmarshalEvent(msg.Data)
		if err != nil {
			logging.Error().Err(err).Str("subject", msg.Subject).Msg("bad realtime payload")
			return
		}
		handler(ev)
	})
	if err != nil {
		return nil, err
	}
	return func() {
		if err := sub.Unsubscribe(); err != nil {
			logging.Debug().Err(err).Str("topic", topic).Msg("unsubscribe")
		}
	}, nil
}

func (p *NATSProvider) Publish(ev Event) error {
	p.mu.Lock()
	nc := p.nc
	p.mu.Unlock()
	if nc == nil {
		return nats.ErrConnectionClosed
	}
	data, err := ev.Marshal()
	if err != nil {
		return err
	}
	return nc.Publish(subjectFor(ev.Topic()), data)
}

func (p *NATSProvider) OnStateChange(fn func(connected bool)) {
	p.mu.Lock()
	p.stateFns = append(p.stateFns, fn)
	p.mu.Unlock()
}

func (p *NATSProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.nc != nil {
		p.nc.Close()
		p.nc = nil
	}
	return nil
}

func (p *NATSProvider) notify(connected bool) {
	p.mu.Lock()
	fns := make([]func(bool), len(p.stateFns))
	copy(fns, p.stateFns)
	p.mu.Unlock()
	for _, fn := range fns {
		fn(connected)
	}
}

// subjectFor maps a topic to a NATS subject; topic segments use ":" while
// NATS subjects use ".".
func subjectFor(topic string) string {
	return strings.ReplaceAll(topic, ":", ".")
}
