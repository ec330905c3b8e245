// Civitas - Civic Engagement Platform
// Copyright 2026 Civitas Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civitashq/civitas

package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/civitashq/civitas/internal/models"
)

func fastPolicy() Policy {
	return Policy{
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
	}
}

func TestPolicyRetriesTransientErrors(t *testing.T) {
	attempts := 0
	err := fastPolicy().Execute(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return NewError(CodeUnavailable, "backend down")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestPolicyStopsAtMaxAttempts(t *testing.T) {
	attempts := 0
	err := fastPolicy().Execute(context.Background(), func() error {
		attempts++
		return NewError(CodeInternal, "still broken")
	})
	if err == nil {
		t.Fatal("Execute: want error after exhausting attempts")
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestPolicyDoesNotRetryClientFaults(t *testing.T) {
	for _, code := range []Code{CodeInvalid, CodeNotFound, CodeUnauthorized, CodeForbidden, CodeConflict} {
		attempts := 0
		err := fastPolicy().Execute(context.Background(), func() error {
			attempts++
			return NewError(code, "client fault")
		})
		if err == nil {
			t.Fatalf("%s: want error", code)
		}
		if attempts != 1 {
			t.Errorf("%s: attempts = %d, want 1 (no retry)", code, attempts)
		}
		if CodeOf(err) != code {
			t.Errorf("%s: returned code = %v", code, CodeOf(err))
		}
	}
}

func TestPolicyHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := fastPolicy().Execute(ctx, func() error {
		attempts++
		cancel()
		return NewError(CodeUnavailable, "transient")
	})
	if err == nil {
		t.Fatal("Execute: want error after cancellation")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 after cancel", attempts)
	}
}

func TestResilientMapsOpenBreakerToUnavailable(t *testing.T) {
	cfg := DefaultBreakerConfig()
	cfg.FailureThreshold = 1
	breaker := NewBreaker(cfg)

	policy := fastPolicy()
	policy.MaxAttempts = 1
	r := NewResilient(failingGateway{}, policy, breaker)

	// First call trips the breaker.
	if _, err := r.GetCampaign(context.Background(), "c1"); err == nil {
		t.Fatal("first call: want error")
	}
	// Second call is rejected by the open breaker and surfaces UNAVAILABLE.
	_, err := r.GetCampaign(context.Background(), "c1")
	if CodeOf(err) != CodeUnavailable {
		t.Errorf("open breaker: code = %v, want UNAVAILABLE", CodeOf(err))
	}
}

func TestResilientPassesThroughClientFaults(t *testing.T) {
	r := NewResilient(NewMemory(nil), DefaultPolicy(), NewBreaker(DefaultBreakerConfig()))
	_, err := r.GetCampaign(context.Background(), "missing")
	if !IsNotFound(err) {
		t.Errorf("GetCampaign(missing) = %v, want not found", err)
	}
}

// failingGateway always fails with a retryable error.
type failingGateway struct {
	Gateway
}

func (failingGateway) GetCampaign(context.Context, string) (*models.Campaign, error) {
	return nil, WrapError(CodeUnavailable, errors.New("backend unreachable"))
}
