// Civitas - Civic Engagement Platform
// Copyright 2026 Civitas Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civitashq/civitas

// Package store defines the data store gateway: the transactional persistence
// boundary the optimistic mutation coordinator writes through. The gateway is
// treated as an external collaborator; this package supplies its contract,
// typed error codes, an in-memory implementation, a badger-backed
// implementation, and a resilience decorator (retry + circuit breaker) shared
// by the query and mutation paths.
package store

import (
	"context"

	"github.com/civitashq/civitas/internal/models"
	"github.com/civitashq/civitas/internal/realtime"
)

// EventSink receives a realtime event after every successful write. The
// in-process or NATS publisher fans these out to all sessions, which is what
// lets other clients' caches converge on this write.
type EventSink interface {
	PublishEvent(ev realtime.Event)
}

// SearchCampaignsInput filters a campaign search.
type SearchCampaignsInput struct {
	Query    string `json:"query,omitempty"`
	Status   string `json:"status,omitempty"`
	Location string `json:"location,omitempty"`
	Limit    int    `json:"limit,omitempty"`
	Offset   int    `json:"offset,omitempty"`
}

// CreateCampaignInput carries the fields for a new campaign.
type CreateCampaignInput struct {
	Title       string `json:"title" validate:"required,min=3,max=200"`
	Description string `json:"description" validate:"max=5000"`
	Location    string `json:"location" validate:"max=200"`
	CreatorID   string `json:"creator_id" validate:"required"`
}

// UpdateCampaignInput carries a partial campaign update. Empty fields are
// left unchanged.
type UpdateCampaignInput struct {
	ID          string `json:"id" validate:"required"`
	Title       string `json:"title" validate:"omitempty,min=3,max=200"`
	Description string `json:"description" validate:"max=5000"`
	Status      string `json:"status" validate:"omitempty,oneof=draft active completed archived"`
	Location    string `json:"location" validate:"max=200"`
}

// CreateCommentInput carries the fields for a new comment.
type CreateCommentInput struct {
	CampaignID string `json:"campaign_id" validate:"required"`
	AuthorID   string `json:"author_id" validate:"required"`
	Body       string `json:"body" validate:"required,min=1,max=5000"`
}

// SearchWondersInput filters the wonder feed.
type SearchWondersInput struct {
	Query  string `json:"query,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

// CreateWonderInput carries the fields for a new wonder.
type CreateWonderInput struct {
	AuthorID string `json:"author_id" validate:"required"`
	Question string `json:"question" validate:"required,min=3,max=500"`
}

// Gateway is the persistence contract. Implementations must be transactional
// per write and must publish a realtime event for every successful write.
type Gateway interface {
	// Campaigns
	GetCampaign(ctx context.Context, id string) (*models.Campaign, error)
	SearchCampaigns(ctx context.Context, in SearchCampaignsInput) (*models.CampaignList, error)
	CreateCampaign(ctx context.Context, in CreateCampaignInput) (*models.Campaign, error)
	UpdateCampaign(ctx context.Context, in UpdateCampaignInput) (*models.Campaign, error)
	DeleteCampaign(ctx context.Context, id string) error

	// CastVote records userID's vote and returns the updated campaign with
	// UserVote filled for that user. Re-voting the same type is idempotent;
	// voting the other type switches the vote.
	CastVote(ctx context.Context, campaignID, userID, voteType string) (*models.Campaign, error)

	// GetUserVote returns userID's current vote on a campaign, or "" when
	// the user has not voted.
	GetUserVote(ctx context.Context, campaignID, userID string) (string, error)

	// Comments
	GetComment(ctx context.Context, id string) (*models.Comment, error)
	ListComments(ctx context.Context, campaignID string, limit, offset int) (*models.CommentList, error)
	CreateComment(ctx context.Context, in CreateCommentInput) (*models.Comment, error)
	UpdateComment(ctx context.Context, id, body string) (*models.Comment, error)
	DeleteComment(ctx context.Context, id string) error

	// Wonders
	GetWonder(ctx context.Context, id string) (*models.Wonder, error)
	SearchWonders(ctx context.Context, in SearchWondersInput) (*models.WonderList, error)
	CreateWonder(ctx context.Context, in CreateWonderInput) (*models.Wonder, error)
	UpdateWonder(ctx context.Context, id, question string) (*models.Wonder, error)
	DeleteWonder(ctx context.Context, id string) error

	// Close releases gateway resources.
	Close() error
}

// nopSink discards events; used when no publisher is wired (tests).
type nopSink struct{}

func (nopSink) PublishEvent(realtime.Event) {}

// NopSink returns an EventSink that drops all events.
func NopSink() EventSink {
	return nopSink{}
}
