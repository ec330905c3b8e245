// Civitas - Civic Engagement Platform
// Copyright 2026 Civitas Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civitashq/civitas

package store

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy is the single retry/backoff policy shared by the query and mutation
// paths. It is declared once at composition time rather than re-declared per
// call site.
type Policy struct {
	// MaxAttempts is the total number of tries including the first.
	// Default: 3.
	MaxAttempts int

	// InitialInterval seeds the exponential backoff. Default: 200ms.
	InitialInterval time.Duration

	// MaxInterval caps the backoff between attempts. Default: 30s.
	MaxInterval time.Duration

	// NonRetryable decides whether an error aborts the retry loop
	// immediately. Default: the inverse of Retryable (client-fault codes).
	NonRetryable func(error) bool
}

// DefaultPolicy returns the production retry policy: 3 attempts, exponential
// backoff capped at 30s, client-fault codes never retried.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     3,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     30 * time.Second,
	}
}

// Execute runs op under the policy. Non-retryable errors and context
// cancellation abort immediately; transient errors are retried with
// exponential backoff until MaxAttempts is exhausted.
func (p Policy) Execute(ctx context.Context, op func() error) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	initial := p.InitialInterval
	if initial <= 0 {
		initial = 200 * time.Millisecond
	}
	maxInterval := p.MaxInterval
	if maxInterval <= 0 {
		maxInterval = 30 * time.Second
	}
	nonRetryable := p.NonRetryable
	if nonRetryable == nil {
		nonRetryable = func(err error) bool { return !Retryable(err) }
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initial
	bo.MaxInterval = maxInterval
	bo.MaxElapsedTime = 0 // bounded by attempt count, not wall clock

	wrapped := func() error {
		err := op()
		if err == nil {
			return nil
		}
		if nonRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	// MaxAttempts total tries = initial try + (MaxAttempts-1) retries.
	return backoff.Retry(wrapped, backoff.WithContext(
		backoff.WithMaxRetries(bo, uint64(maxAttempts-1)), ctx))
}
