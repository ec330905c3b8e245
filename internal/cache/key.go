// Civitas - Civic Engagement Platform
// Copyright 2026 Civitas Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civitashq/civitas

package cache

import (
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// timeNow is swapped out by tests that need deterministic staleness.
var timeNow = time.Now

// Key builds a cache key from an operation name and its input. The input is
// serialized and hashed so structurally equal inputs always map to the same
// entry regardless of field ordering at the call site.
func Key(operation string, input interface{}) string {
	if input == nil {
		return operation
	}
	data, err := json.Marshal(input)
	if err != nil {
		// Fallback to a best-effort string key.
		return fmt.Sprintf("%s:%v", operation, input)
	}
	hash := sha256.Sum256(data)
	return fmt.Sprintf("%s:%x", operation, hash[:16])
}
