// Civitas - Civic Engagement Platform
// Copyright 2026 Civitas Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civitashq/civitas

package models

import "github.com/civitashq/civitas/internal/cache"

// Cache key layout. Detail entries are addressable by entity id; list entries
// embed a fingerprint of the search input so every distinct query gets its
// own entry while staying reachable through the table's list pattern.

// Invalidation patterns per table.
const (
	CampaignSearchPattern = TableCampaigns + ":search:*"
	WonderSearchPattern   = TableWonders + ":search:*"
)

// CampaignKey returns the detail cache key for a campaign.
func CampaignKey(id string) string {
	return TableCampaigns + ":id:" + id
}

// CampaignSearchKey returns the list cache key for a campaign search input.
func CampaignSearchKey(input interface{}) string {
	return cache.Key(TableCampaigns+":search", input)
}

// CommentKey returns the detail cache key for a comment.
func CommentKey(id string) string {
	return TableComments + ":id:" + id
}

// CommentListKey returns the cache key for a campaign's comment thread.
func CommentListKey(campaignID string) string {
	return TableComments + ":list:" + campaignID
}

// WonderKey returns the detail cache key for a wonder.
func WonderKey(id string) string {
	return TableWonders + ":id:" + id
}

// WonderSearchKey returns the list cache key for a wonder feed input.
func WonderSearchKey(input interface{}) string {
	return cache.Key(TableWonders+":search", input)
}

// DetailKeyForTable maps a realtime event's (table, id) to its detail key.
func DetailKeyForTable(table, id string) string {
	return table + ":id:" + id
}

// ListPatternForTable maps a table to the pattern covering its list entries.
func ListPatternForTable(table string) string {
	switch table {
	case TableComments:
		return TableComments + ":list:*"
	default:
		return table + ":search:*"
	}
}
