// Civitas - Civic Engagement Platform
// Copyright 2026 Civitas Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civitashq/civitas

// Package services contains adapters that wrap components with non-suture
// lifecycles (net/http servers, the embedded NATS stack) into the
// suture.Service contract so they can run under the supervisor tree.
package services
