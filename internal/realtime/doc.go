// Civitas - Civic Engagement Platform
// Copyright 2026 Civitas Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civitashq/civitas

// Package realtime delivers row change events between sessions.
//
// A Manager owns the connection lifecycle (disconnected, connecting,
// connected, reconnecting), reference-counts topic subscriptions, and fans
// events out to registered handlers. Transport is pluggable via the Provider
// interface: a NATS provider for multi-node deployments and an in-process
// watermill channel provider for single-node and test use.
//
// Delivery is at-least-once while connected. Events emitted while a session
// is disconnected are lost; there is no replay on reconnect, so consumers
// refetch through the cache instead of assuming continuity.
package realtime
