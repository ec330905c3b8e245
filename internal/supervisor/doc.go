// Civitas - Civic Engagement Platform
// Copyright 2026 Civitas Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civitashq/civitas

/*
Package supervisor provides Suture-based process supervision for Civitas.

The supervisor tree restarts crashed services with exponential backoff and
isolates failures between layers:

	civitas (root)
	├── messaging-layer    realtime connection manager, embedded NATS
	├── services-layer     WebSocket hub, cache maintenance
	└── api-layer          HTTP server

Services implement the suture.Service contract: a single blocking

	Serve(ctx context.Context) error

method that returns when the context is canceled or the service fails. A
non-nil return restarts the service; suture.ErrDoNotRestart removes it.

The services subpackage holds adapters that wrap components with other
lifecycle shapes (for example net/http's ListenAndServe) into this contract.
*/
package supervisor
