// Civitas - Civic Engagement Platform
// Copyright 2026 Civitas Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civitashq/civitas

// Package bridge reconciles inbound realtime row events with the query cache.
//
// Events for rows without a pending optimistic mutation are merged
// immediately through a typed per-table merger. Events touching a key with a
// pending mutation are buffered, one slot per key with the latest event
// winning, and replayed once the mutation settles so a server-originated
// change can never clobber a speculative value mid-flight. Duplicate
// deliveries of the same (event id, type) pair inside the dedup window are
// dropped and counted.
package bridge
