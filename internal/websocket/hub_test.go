// Civitas - Civic Engagement Platform
// Copyright 2026 Civitas Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civitashq/civitas

package websocket

import (
	"context"
	"testing"
	"time"

	"github.com/civitashq/civitas/internal/models"
	"github.com/civitashq/civitas/internal/realtime"
)

func startHub(t *testing.T) (*Hub, context.CancelFunc) {
	t.Helper()
	h := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h, cancel
}

func registerClient(t *testing.T, h *Hub) *Client {
	t.Helper()
	before := h.ClientCount()
	c := NewClient(h, nil)
	h.Register <- c
	waitForCount(t, h, func(n int) bool { return n > before })
	return c
}

func waitForCount(t *testing.T, h *Hub, ok func(int) bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if ok(h.ClientCount()) {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("client count never reached expectation, have %d", h.ClientCount())
}

func receive(t *testing.T, c *Client) Message {
	t.Helper()
	select {
	case msg := <-c.send:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return Message{}
	}
}

func expectSilence(t *testing.T, c *Client) {
	t.Helper()
	select {
	case msg := <-c.send:
		t.Fatalf("unexpected message: %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubDeliversByTableFilter(t *testing.T) {
	h, _ := startHub(t)
	campaigns := registerClient(t, h)
	campaigns.subscribe(models.TableCampaigns)
	wonders := registerClient(t, h)
	wonders.subscribe(models.TableWonders)

	h.BroadcastEvent(realtime.NewRowEvent(realtime.EventInsert, models.TableCampaigns,
		map[string]string{"id": "c1"}, nil))

	msg := receive(t, campaigns)
	if msg.Type != MessageTypeEvent || msg.Table != models.TableCampaigns {
		t.Errorf("message = %+v", msg)
	}
	expectSilence(t, wonders)
}

func TestHubUnfilteredClientReceivesAllTables(t *testing.T) {
	h, _ := startHub(t)
	c := registerClient(t, h)

	h.BroadcastEvent(realtime.NewRowEvent(realtime.EventInsert, models.TableCampaigns,
		map[string]string{"id": "c1"}, nil))
	h.BroadcastEvent(realtime.NewRowEvent(realtime.EventInsert, models.TableWonders,
		map[string]string{"id": "w1"}, nil))

	first := receive(t, c)
	second := receive(t, c)
	if first.Table != models.TableCampaigns || second.Table != models.TableWonders {
		t.Errorf("tables = %q, %q", first.Table, second.Table)
	}
}

func TestHubUnsubscribeNarrowsThenWidens(t *testing.T) {
	h, _ := startHub(t)
	c := registerClient(t, h)
	c.subscribe(models.TableComments)

	h.BroadcastEvent(realtime.NewRowEvent(realtime.EventInsert, models.TableCampaigns,
		map[string]string{"id": "c1"}, nil))
	expectSilence(t, c)

	// Removing the last filter returns the client to receive-everything.
	c.unsubscribe(models.TableComments)
	h.BroadcastEvent(realtime.NewRowEvent(realtime.EventInsert, models.TableCampaigns,
		map[string]string{"id": "c2"}, nil))
	if msg := receive(t, c); msg.Table != models.TableCampaigns {
		t.Errorf("message = %+v", msg)
	}
}

func TestHubStatusReachesEveryClient(t *testing.T) {
	h, _ := startHub(t)
	a := registerClient(t, h)
	a.subscribe(models.TableWonders)
	b := registerClient(t, h)

	h.BroadcastStatus(map[string]bool{"is_connected": true})

	for _, c := range []*Client{a, b} {
		if msg := receive(t, c); msg.Type != MessageTypeStatus {
			t.Errorf("message = %+v, want status", msg)
		}
	}
}

func TestHubShutdownClosesClients(t *testing.T) {
	h, cancel := startHub(t)
	c := registerClient(t, h)

	cancel()
	select {
	case _, open := <-c.send:
		if open {
			// Drain anything in flight; the channel must close eventually.
			for range c.send {
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("client send channel not closed on shutdown")
	}
	if n := h.ClientCount(); n != 0 {
		t.Errorf("client count after shutdown = %d", n)
	}
}
