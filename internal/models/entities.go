// Civitas - Civic Engagement Platform
// Copyright 2026 Civitas Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civitashq/civitas

// Package models defines the core civic entities shared across the cache,
// store gateway, reconciliation bridge, and API layers.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Table names used in realtime events and cache keys.
const (
	TableCampaigns = "campaigns"
	TableComments  = "comments"
	TableWonders   = "wonders"
)

// Campaign status values.
const (
	CampaignStatusDraft     = "draft"
	CampaignStatusActive    = "active"
	CampaignStatusCompleted = "completed"
	CampaignStatusArchived  = "archived"
)

// Vote types a user can cast on a campaign.
const (
	VoteSupport = "SUPPORT"
	VoteOppose  = "OPPOSE"
)

// Campaign is a civic campaign users can support, oppose, and discuss.
//
// Votes and CommentCount are denormalized aggregates: they are the values the
// optimistic coordinator edits speculatively and the bridge reconciles from
// realtime events, so all layers must treat them as snapshots rather than
// authoritative counters.
type Campaign struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Description  string `json:"description,omitempty"`
	Status       string `json:"status"`
	Location     string `json:"location,omitempty"`
	CreatorID    string `json:"creator_id"`
	Votes        int    `json:"votes"`
	Opposes      int    `json:"opposes"`
	CommentCount int    `json:"comment_count"`
	// UserVote is the requesting user's own vote, resolved per request at
	// the API boundary. It never enters the shared cache: cached campaign
	// values are served to every session. Empty when the user has not
	// voted.
	UserVote  string    `json:"user_vote,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Comment is a discussion entry attached to a campaign.
type Comment struct {
	ID         string    `json:"id"`
	CampaignID string    `json:"campaign_id"`
	AuthorID   string    `json:"author_id"`
	Body       string    `json:"body"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Wonder is a standalone "I wonder..." prompt that can seed a campaign.
type Wonder struct {
	ID         string    `json:"id"`
	AuthorID   string    `json:"author_id"`
	Question   string    `json:"question"`
	CampaignID string    `json:"campaign_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Vote records a single user's vote on a campaign.
type Vote struct {
	CampaignID string    `json:"campaign_id"`
	UserID     string    `json:"user_id"`
	Type       string    `json:"type"` // SUPPORT or OPPOSE
	CastAt     time.Time `json:"cast_at"`
}

// CampaignList is the cached shape of a campaign search result.
type CampaignList struct {
	Items []Campaign `json:"items"`
	Total int        `json:"total"`
}

// CommentList is the cached shape of a campaign's comment thread.
type CommentList struct {
	Items []Comment `json:"items"`
	Total int       `json:"total"`
}

// WonderList is the cached shape of a wonder feed page.
type WonderList struct {
	Items []Wonder `json:"items"`
	Total int      `json:"total"`
}

// NewID returns a fresh entity identifier.
func NewID() string {
	return uuid.New().String()
}

// TempID returns a client-side temporary identifier used for optimistic
// inserts until the store assigns the real one.
func TempID() string {
	return "temp-" + uuid.New().String()
}

// IsTempID reports whether id is a client-side temporary identifier.
func IsTempID(id string) bool {
	return len(id) > 5 && id[:5] == "temp-"
}

// Clone returns a copy of the campaign safe to mutate without aliasing
// cached state.
func (c Campaign) Clone() Campaign {
	return c
}

// Clone returns a deep copy of the list. The backing slice is copied so a
// speculative prepend never mutates a snapshot held for rollback.
func (l CampaignList) Clone() CampaignList {
	items := make([]Campaign, len(l.Items))
	copy(items, l.Items)
	return CampaignList{Items: items, Total: l.Total}
}

// Clone returns a deep copy of the comment list.
func (l CommentList) Clone() CommentList {
	items := make([]Comment, len(l.Items))
	copy(items, l.Items)
	return CommentList{Items: items, Total: l.Total}
}

// Clone returns a deep copy of the wonder list.
func (l WonderList) Clone() WonderList {
	items := make([]Wonder, len(l.Items))
	copy(items, l.Items)
	return WonderList{Items: items, Total: l.Total}
}
