// Civitas - Civic Engagement Platform
// Copyright 2026 Civitas Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civitashq/civitas

/*
Package websocket pushes realtime row events to browser sessions.

The Hub receives events from the realtime manager and fans them out to
connected clients over gorilla/websocket connections. Clients narrow what
they receive with subscribe and unsubscribe messages naming a table; a
client that never subscribes gets every table. Slow clients are
disconnected rather than allowed to stall the fan-out.

Key Components:

  - Hub: central broker managing client connections and event fan-out
  - Client: one WebSocket connection with read/write goroutines and a
    per-connection table filter
  - Message: typed envelope for events, subscriptions, and status updates
*/
package websocket
