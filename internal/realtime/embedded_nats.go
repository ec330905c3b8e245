// Civitas - Civic Engagement Platform
// Copyright 2026 Civitas Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civitashq/civitas

package realtime

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"
)

// EmbeddedServerConfig configures the in-process NATS server.
type EmbeddedServerConfig struct {
	Host      string
	Port      int
	StoreDir  string
	MaxMemory int64
	MaxStore  int64
}

// DefaultEmbeddedServerConfig returns single-instance deployment settings.
// Port 0 lets the operating system pick a free port; ClientURL reports the
// actual address.
func DefaultEmbeddedServerConfig() EmbeddedServerConfig {
	return EmbeddedServerConfig{
		Host: "127.0.0.1",
		Port: 4222,
	}
}

// EmbeddedServer wraps an in-process NATS server with lifecycle management.
// It gives single-instance deployments a realtime broker without an external
// dependency; multi-instance deployments point NATS_URL at a shared server
// instead.
type EmbeddedServer struct {
	server    *server.Server
	clientURL string
}

// NewEmbeddedServer creates and starts an embedded NATS server. It returns an
// error if the server is not accepting connections within 30 seconds.
func NewEmbeddedServer(cfg EmbeddedServerConfig) (*EmbeddedServer, error) {
	opts := &server.Options{
		ServerName:         "civitas-realtime",
		Host:               cfg.Host,
		Port:               cfg.Port,
		JetStream:          cfg.StoreDir != "",
		StoreDir:           cfg.StoreDir,
		JetStreamMaxMemory: cfg.MaxMemory,
		JetStreamMaxStore:  cfg.MaxStore,
		NoLog:              true, // the NATS logger bypasses zerolog; keep it quiet
		MaxPayload:         1024 * 1024,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create NATS server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(30 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("NATS server not ready within timeout")
	}

	return &EmbeddedServer{
		server:    ns,
		clientURL: ns.ClientURL(),
	}, nil
}

// ClientURL returns the connection URL for clients.
func (s *EmbeddedServer) ClientURL() string {
	return s.clientURL
}

// Shutdown stops the server and waits for it to wind down or the context to
// expire.
func (s *EmbeddedServer) Shutdown(ctx context.Context) error {
	s.server.Shutdown()

	done := make(chan struct{})
	go func() {
		s.server.WaitForShutdown()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// IsRunning reports whether the server is accepting connections.
func (s *EmbeddedServer) IsRunning() bool {
	return s.server.Running()
}
