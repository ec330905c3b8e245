// Civitas - Civic Engagement Platform
// Copyright 2026 Civitas Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civitashq/civitas

package store

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/civitashq/civitas/internal/models"
)

// flakyGateway fails GetCampaign a set number of times before recovering.
type flakyGateway struct {
	Gateway
	failures int32
	calls    int32
	code     Code
}

func (g *flakyGateway) GetCampaign(ctx context.Context, id string) (*models.Campaign, error) {
	n := atomic.AddInt32(&g.calls, 1)
	if n <= atomic.LoadInt32(&g.failures) {
		return nil, NewError(g.code, "injected failure")
	}
	return g.Gateway.GetCampaign(ctx, id)
}

func newResilientFixture(failures int32, code Code) (*Resilient, *flakyGateway, string) {
	mem := NewMemory(nil)
	created, _ := mem.CreateCampaign(context.Background(), CreateCampaignInput{
		Title:     "Fix the crosswalk on 5th",
		CreatorID: "user-1",
	})
	flaky := &flakyGateway{Gateway: mem, failures: failures, code: code}
	policy := Policy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond}
	r := NewResilient(flaky, policy, NewBreaker(DefaultBreakerConfig()))
	return r, flaky, created.ID
}

func TestResilientRetriesTransientFailures(t *testing.T) {
	r, flaky, id := newResilientFixture(2, CodeUnavailable)

	got, err := r.GetCampaign(context.Background(), id)
	if err != nil {
		t.Fatalf("GetCampaign: %v", err)
	}
	if got.ID != id {
		t.Errorf("ID = %q, want %q", got.ID, id)
	}
	if calls := atomic.LoadInt32(&flaky.calls); calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestResilientDoesNotRetryClientFaults(t *testing.T) {
	r, flaky, id := newResilientFixture(5, CodeNotFound)

	_, err := r.GetCampaign(context.Background(), id)
	if !IsNotFound(err) {
		t.Fatalf("err = %v, want not found", err)
	}
	if calls := atomic.LoadInt32(&flaky.calls); calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry)", calls)
	}
}

func TestResilientGivesUpAfterMaxAttempts(t *testing.T) {
	r, flaky, id := newResilientFixture(100, CodeUnavailable)

	_, err := r.GetCampaign(context.Background(), id)
	if CodeOf(err) != CodeUnavailable {
		t.Fatalf("err = %v, want unavailable", err)
	}
	if calls := atomic.LoadInt32(&flaky.calls); calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	cfg := DefaultBreakerConfig()
	cfg.FailureThreshold = 2
	breaker := NewBreaker(cfg)

	flaky := &flakyGateway{Gateway: NewMemory(nil), failures: 100, code: CodeUnavailable}
	// No retries, so every call counts once against the breaker.
	r := NewResilient(flaky, Policy{MaxAttempts: 1, InitialInterval: time.Millisecond}, breaker)

	for i := 0; i < 2; i++ {
		if _, err := r.GetCampaign(context.Background(), "c1"); err == nil {
			t.Fatal("expected failure")
		}
	}

	before := atomic.LoadInt32(&flaky.calls)
	_, err := r.GetCampaign(context.Background(), "c1")
	if CodeOf(err) != CodeUnavailable {
		t.Fatalf("err = %v, want unavailable while breaker open", err)
	}
	if atomic.LoadInt32(&flaky.calls) != before {
		t.Error("breaker open but the backend was still called")
	}
}

func TestResilientRespectsContextCancellation(t *testing.T) {
	r, _, id := newResilientFixture(100, CodeUnavailable)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.GetCampaign(ctx, id)
	if err == nil {
		t.Fatal("expected error with cancelled context")
	}
}
