// Civitas - Civic Engagement Platform
// Copyright 2026 Civitas Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civitashq/civitas

// Package optimistic coordinates speculative cache writes around store
// mutations.
//
// A mutation is executed in phases: outstanding fetches for the touched keys
// are cancelled, the current values are snapshotted, the speculative result
// is written to the cache, and the mutation is sent to the store. On failure
// the snapshot is restored; on success the authoritative result is reconciled
// into the cache and the mutation's declared query patterns are invalidated.
//
// Concurrent mutations on the same key settle last-writer-wins: a newer
// mutation takes ownership of the key, and an older one settling afterwards
// neither rolls back nor reconciles keys it no longer owns. Settle listeners
// run after every outcome; the realtime reconciliation bridge uses them to
// replay events it buffered while the mutation was pending.
package optimistic
