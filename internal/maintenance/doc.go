// Civitas - Civic Engagement Platform
// Copyright 2026 Civitas Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civitashq/civitas

// Package maintenance keeps the query cache healthy in the background.
//
// On startup it runs registered prefetch functions to warm the entries the
// first page load needs. While running it periodically sweeps the cache for
// observed entries that have been stale longer than the configured horizon
// and re-invalidates them, which triggers the cache's refetch path. Sweeps
// are throttled with a token bucket so a cold cache cannot stampede the
// store. Cache statistics are logged at each sweep.
package maintenance
