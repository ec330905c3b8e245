// Civitas - Civic Engagement Platform
// Copyright 2026 Civitas Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civitashq/civitas

// Package cache implements the query result cache shared by the HTTP
// handlers, the optimistic mutation coordinator, the realtime reconciliation
// bridge, and the background maintenance manager.
//
// Entries are keyed by (operation, input fingerprint) and carry staleness and
// garbage-collection metadata. All writes go through Set, which applies a
// caller-supplied updater under the store lock; a failed updater leaves the
// entry untouched. In-flight fetches are tracked per key with a generation
// counter so CancelOutstanding can guarantee that a late response never
// clobbers a newer speculative value.
package cache
