// Civitas - Civic Engagement Platform
// Copyright 2026 Civitas Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civitashq/civitas

// Package auth provides JWT session tokens, a bcrypt-backed user registry,
// and HTTP middleware for authenticating API requests.
//
// Tokens are signed with HMAC-SHA256 and carry the user id, username, and
// role. RequireAuth enforces a valid bearer token; OptionalAuth attaches
// claims when present so read endpoints can personalize responses (for
// example the caller's own vote) without requiring login.
package auth
