// Civitas - Civic Engagement Platform
// Copyright 2026 Civitas Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civitashq/civitas

// Package main is the entry point for the Civitas server.
//
// Civitas keeps every connected client's view of campaigns, comments, and
// wonders converged: reads go through a stale-while-revalidate query cache,
// writes run as optimistic mutations that speculate into the cache before the
// store confirms, and realtime events from other sessions are merged back in
// by the reconciliation bridge.
//
// # Startup order
//
//  1. Configuration: Koanf v2 layered load (defaults, config.yaml, env)
//  2. Logging: global zerolog per LOG_LEVEL / LOG_FORMAT
//  3. Store gateway: memory or badger backend, wrapped in retry + breaker
//  4. Realtime: embedded or external NATS, or the in-process channel provider
//  5. Cache, coordinator, bridge, WebSocket hub, maintenance
//  6. Supervision: suture tree (messaging, services, api layers)
//
// # Configuration
//
// Everything is settable by environment variable; the important ones:
//
//	HTTP_PORT          listen port (default 8080)
//	STORE_BACKEND      "badger" (default) or "memory"
//	STORE_PATH         badger data directory
//	REALTIME_PROVIDER  "nats" (default) or "channel"
//	NATS_EMBEDDED      run an in-process NATS server (default true)
//	NATS_URL           external NATS server when NATS_EMBEDDED=false
//	JWT_SECRET         token signing secret (required in production)
//	ADMIN_USERNAME     bootstrap admin account
//	ADMIN_PASSWORD     bootstrap admin password (8+ characters)
//
// # Signal handling
//
// SIGINT and SIGTERM cancel the root context; the supervisor tree drains the
// HTTP server, the realtime connection, and the store before exit.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/civitashq/civitas/internal/config"
	"github.com/civitashq/civitas/internal/logging"
)

func main() {
	if err := run(); err != nil {
		logging.Error().Err(err).Msg("server exited with error")
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().
		Str("environment", cfg.Server.Environment).
		Str("store", cfg.Store.Backend).
		Str("realtime", cfg.Realtime.Provider).
		Msg("starting civitas")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	return app.Serve(ctx)
}
