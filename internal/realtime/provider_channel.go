// Civitas - Civic Engagement Platform
// Copyright 2026 Civitas Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civitashq/civitas

package realtime

import (
	"context"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/civitashq/civitas/internal/logging"
)

// ChannelProvider is an in-process transport over a watermill go-channel
// pub/sub. It is the loopback provider for single-node deployments and
// tests: events published by the local gateway reach local subscribers
// without a broker.
type ChannelProvider struct {
	pubsub *gochannel.GoChannel

	mu        sync.Mutex
	root      context.Context
	rootStop  context.CancelFunc
	connected bool
	stateFns  []func(bool)
}

// NewChannelProvider creates an in-process provider.
func NewChannelProvider() *ChannelProvider {
	root, stop := context.WithCancel(context.Background())
	return &ChannelProvider{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: 64,
		}, newWatermillLogger()),
		root:     root,
		rootStop: stop,
	}
}

func (p *ChannelProvider) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	p.connected = true
	p.mu.Unlock()
	return nil
}

func (p *ChannelProvider) Subscribe(topic string, handler func(Event)) (func(), error) {
	ctx, cancel := context.WithCancel(p.root)
	msgs, err := p.pubsub.Subscribe(ctx, topic)
	if err != nil {
		cancel()
		return nil, err
	}
	go func() {
		for msg := range msgs {
			ev, err := UnmarshalEvent(msg.Payload)
			msg.Ack()
			if err != nil {
				logging.Error().Err(err).Str("topic", topic).Msg("bad realtime payload")
				continue
			}
			handler(ev)
		}
	}()
	return cancel, nil
}

func (p *ChannelProvider) Publish(ev Event) error {
	data, err := ev.Marshal()
	if err != nil {
		return err
	}
	return p.pubsub.Publish(ev.Topic(), message.NewMessage(watermill.NewUUID(), data))
}

func (p *ChannelProvider) OnStateChange(fn func(connected bool)) {
	p.mu.Lock()
	p.stateFns = append(p.stateFns, fn)
	p.mu.Unlock()
}

func (p *ChannelProvider) Close() error {
	p.rootStop()
	p.mu.Lock()
	p.connected = false
	p.mu.Unlock()
	return p.pubsub.Close()
}

// Disconnect simulates a transport drop; subscribers are detached and the
// state change is reported upward. Used by tests and the reconnect path.
func (p *ChannelProvider) Disconnect() {
	p.mu.Lock()
	p.connected = false
	fns := make([]func(bool), len(p.stateFns))
	copy(fns, p.stateFns)
	p.mu.Unlock()
	for _, fn := range fns {
		fn(false)
	}
}

// watermillLogger adapts the process zerolog logger to watermill.
type watermillLogger struct {
	fields watermill.LogFields
}

func newWatermillLogger() watermill.LoggerAdapter {
	return watermillLogger{}
}

func (l watermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	logging.Error().Err(err).Fields(map[string]interface{}(l.fields.Add(fields))).Msg(msg)
}

func (l watermillLogger) Info(msg string, fields watermill.LogFields) {
	logging.Debug().Fields(map[string]interface{}(l.fields.Add(fields))).Msg(msg)
}

func (l watermillLogger) Debug(msg string, fields watermill.LogFields) {
	logging.Debug().Fields(map[string]interface{}(l.fields.Add(fields))).Msg(msg)
}

func (l watermillLogger) Trace(msg string, fields watermill.LogFields) {
	logging.Debug().Fields(map[string]interface{}(l.fields.Add(fields))).Msg(msg)
}

func (l watermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return watermillLogger{fields: l.fields.Add(fields)}
}
