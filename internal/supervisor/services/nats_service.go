// Civitas - Civic Engagement Platform
// Copyright 2026 Civitas Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civitashq/civitas

package services

import (
	"context"
	"fmt"
	"time"
)

// NATSRunner matches the lifecycle of the embedded NATS components assembled
// in cmd/server. The interface keeps this package free of a dependency on the
// main package.
type NATSRunner interface {
	Start(ctx context.Context) error
	Shutdown(ctx context.Context)
	IsRunning() bool
}

// NATSService wraps the embedded NATS components as a supervised service,
// adapting the Start/Shutdown lifecycle to suture's Serve pattern:
//
//  1. Calls Start(ctx) to bring up the embedded server and connection
//  2. Blocks until the context is canceled
//  3. Calls Shutdown with the configured timeout
//
// If Start fails the error is returned immediately, causing suture to restart
// the service according to its backoff policy.
type NATSService struct {
	runner          NATSRunner
	shutdownTimeout time.Duration
	name            string
}

// NewNATSService creates a NATS service wrapper.
func NewNATSService(runner NATSRunner, shutdownTimeout time.Duration) *NATSService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &NATSService{
		runner:          runner,
		shutdownTimeout: shutdownTimeout,
		name:            "nats",
	}
}

// Serve implements suture.Service.
func (s *NATSService) Serve(ctx context.Context) error {
	if err := s.runner.Start(ctx); err != nil {
		return fmt.Errorf("nats start failed: %w", err)
	}

	<-ctx.Done()

	// The original context is already canceled; shutdown needs its own.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	s.runner.Shutdown(shutdownCtx)

	return ctx.Err()
}

// String implements fmt.Stringer for suture log messages.
func (s *NATSService) String() string {
	return s.name
}
