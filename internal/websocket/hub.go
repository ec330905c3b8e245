// Civitas - Civic Engagement Platform
// Copyright 2026 Civitas Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civitashq/civitas

package websocket

import (
	"context"
	"sort"
	"sync"

	"github.com/civitashq/civitas/internal/logging"
	"github.com/civitashq/civitas/internal/realtime"
)

// Message types for client communication.
const (
	MessageTypeEvent       = "event"
	MessageTypeSubscribe   = "subscribe"
	MessageTypeUnsubscribe = "unsubscribe"
	MessageTypePing        = "ping"
	MessageTypePong        = "pong"
	MessageTypeStatus      = "status"
)

// Message is the envelope exchanged with browser clients.
type Message struct {
	Type string `json:"type"`
	// Table scopes subscribe/unsubscribe requests and event payloads.
	Table string      `json:"table,omitempty"`
	Data  interface{} `json:"data,omitempty"`
}

// Hub maintains the set of active clients and fans realtime events out to
// the clients subscribed to each table. A client with no table filter
// receives everything.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan realtime.Event
	status     chan interface{}
	Register   chan *Client
	Unregister chan *Client
	mu         sync.RWMutex
}

// NewHub creates a hub. Call Serve to start it.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan realtime.Event, 256),
		status:     make(chan interface{}, 16),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
	}
}

// Serve runs the hub until ctx is canceled, then closes all clients and
// returns ctx.Err(). Designed for suture supervision.
//
// Channel handling is priority ordered: shutdown first, then client
// lifecycle, then broadcasts, so client state is consistent before any
// message is delivered.
func (h *Hub) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()
		default:
		}

		select {
		case client := <-h.Register:
			h.add(client)
			continue
		case client := <-h.Unregister:
			h.remove(client)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()
		case client := <-h.Register:
			h.add(client)
		case client := <-h.Unregister:
			h.remove(client)
		case ev := <-h.broadcast:
			h.deliver(ev)
		case data := <-h.status:
			h.deliverStatus(data)
		}
	}
}

// BroadcastEvent queues a realtime event for fan-out. Satisfies the realtime
// EventHandler shape via a method value; drops when the hub is saturated
// rather than blocking the event pipeline.
func (h *Hub) BroadcastEvent(ev realtime.Event) {
	select {
	case h.broadcast <- ev:
	default:
		logging.Warn().Str("table", ev.Table).Msg("hub broadcast channel full, dropping event")
	}
}

// BroadcastStatus pushes a connection status update to every client.
func (h *Hub) BroadcastStatus(data interface{}) {
	select {
	case h.status <- data:
	default:
		logging.Warn().Msg("hub status channel full, dropping update")
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) add(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	total := len(h.clients)
	h.mu.Unlock()
	logging.Info().Int("total_clients", total).Msg("websocket client connected")
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	total := len(h.clients)
	h.mu.Unlock()
	logging.Info().Int("total_clients", total).Msg("websocket client disconnected")
}

// deliver sends ev to every client whose filter accepts its table. Clients
// are walked in id order so delivery order is reproducible; clients with a
// full send buffer are dropped.
func (h *Hub) deliver(ev realtime.Event) {
	msg := Message{Type: MessageTypeEvent, Table: ev.Table, Data: ev}
	h.mu.Lock()
	defer h.mu.Unlock()

	var toRemove []*Client
	for _, client := range h.sortedClientsLocked() {
		if !client.wantsTable(ev.Table) {
			continue
		}
		select {
		case client.send <- msg:
		default:
			toRemove = append(toRemove, client)
		}
	}
	for _, client := range toRemove {
		close(client.send)
		delete(h.clients, client)
	}
}

func (h *Hub) deliverStatus(data interface{}) {
	msg := Message{Type: MessageTypeStatus, Data: data}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, client := range h.sortedClientsLocked() {
		select {
		case client.send <- msg:
		default:
		}
	}
}

func (h *Hub) sortedClientsLocked() []*Client {
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].id < clients[j].id })
	return clients
}

func (h *Hub) shutdown(ctx context.Context) {
	h.mu.Lock()
	closed := len(h.clients)
	for _, client := range h.sortedClientsLocked() {
		close(client.send)
		delete(h.clients, client)
	}
	h.mu.Unlock()

	reason := "context_canceled"
	if ctx.Err() == context.DeadlineExceeded {
		reason = "context_deadline"
	}
	logging.Info().
		Str("component", "websocket-hub").
		Str("reason", reason).
		Int("clients_closed", closed).
		Msg("websocket hub stopped")
}
