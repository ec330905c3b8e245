// Civitas - Civic Engagement Platform
// Copyright 2026 Civitas Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civitashq/civitas

/*
Package api provides the HTTP surface of Civitas using the Chi router.

Reads go through the query cache (stale-while-revalidate against the store
gateway); writes go through the optimistic mutation coordinator, which
speculates into the cache, sends to the gateway, and rolls back or reconciles.
The /ws endpoint upgrades to a WebSocket fed by the realtime hub.

Route groups:

	/api/v1/health      liveness/readiness, no auth
	/api/v1/auth        login and registration, strict rate limits
	/api/v1/campaigns   campaign search, detail, CRUD, voting, comments
	/api/v1/wonders     wonder feed and CRUD
	/api/v1/realtime    connection status and manual reconnect
	/api/v1/cache       cache and mutation statistics
	/ws                 WebSocket event stream
	/metrics            Prometheus exposition
*/
package api
