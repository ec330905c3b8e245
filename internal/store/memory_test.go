// Civitas - Civic Engagement Platform
// Copyright 2026 Civitas Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civitashq/civitas

package store

import (
	"context"
	"sync"
	"testing"

	"github.com/civitashq/civitas/internal/models"
	"github.com/civitashq/civitas/internal/realtime"
)

// recordingSink captures published events for assertions.
type recordingSink struct {
	mu     sync.Mutex
	events []realtime.Event
}

func (s *recordingSink) PublishEvent(ev realtime.Event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *recordingSink) all() []realtime.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]realtime.Event, len(s.events))
	copy(out, s.events)
	return out
}

func TestMemoryCampaignCRUD(t *testing.T) {
	ctx := context.Background()
	sink := &recordingSink{}
	m := NewMemory(sink)

	created, err := m.CreateCampaign(ctx, CreateCampaignInput{
		Title:     "Fix the crosswalk on 5th",
		Location:  "Springfield",
		CreatorID: "user-1",
	})
	if err != nil {
		t.Fatalf("CreateCampaign: %v", err)
	}
	if created.ID == "" || created.Status != models.CampaignStatusActive {
		t.Errorf("created campaign = %+v, want active with id", created)
	}

	got, err := m.GetCampaign(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetCampaign: %v", err)
	}
	if got.Title != "Fix the crosswalk on 5th" {
		t.Errorf("Title = %q", got.Title)
	}

	updated, err := m.UpdateCampaign(ctx, UpdateCampaignInput{ID: created.ID, Status: models.CampaignStatusCompleted})
	if err != nil {
		t.Fatalf("UpdateCampaign: %v", err)
	}
	if updated.Status != models.CampaignStatusCompleted {
		t.Errorf("Status = %q, want completed", updated.Status)
	}
	if updated.Title != created.Title {
		t.Errorf("partial update must leave title unchanged, got %q", updated.Title)
	}

	if err := m.DeleteCampaign(ctx, created.ID); err != nil {
		t.Fatalf("DeleteCampaign: %v", err)
	}
	if _, err := m.GetCampaign(ctx, created.ID); !IsNotFound(err) {
		t.Errorf("GetCampaign after delete = %v, want not found", err)
	}

	// insert, update, delete events in order
	events := sink.all()
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	wantTypes := []realtime.EventType{realtime.EventInsert, realtime.EventUpdate, realtime.EventDelete}
	for i, ev := range events {
		if ev.Type != wantTypes[i] {
			t.Errorf("event[%d].Type = %q, want %q", i, ev.Type, wantTypes[i])
		}
		if ev.Table != models.TableCampaigns {
			t.Errorf("event[%d].Table = %q", i, ev.Table)
		}
	}
}

func TestMemoryCastVote(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(nil)

	c, err := m.CreateCampaign(ctx, CreateCampaignInput{Title: "More bike lanes", CreatorID: "user-1"})
	if err != nil {
		t.Fatalf("CreateCampaign: %v", err)
	}

	got, err := m.CastVote(ctx, c.ID, "user-2", models.VoteSupport)
	if err != nil {
		t.Fatalf("CastVote: %v", err)
	}
	if got.Votes != 1 || got.Opposes != 0 {
		t.Errorf("votes = %d/%d, want 1/0", got.Votes, got.Opposes)
	}
	if got.UserVote != models.VoteSupport {
		t.Errorf("UserVote = %q, want SUPPORT", got.UserVote)
	}

	// Re-voting the same type is idempotent.
	got, err = m.CastVote(ctx, c.ID, "user-2", models.VoteSupport)
	if err != nil {
		t.Fatalf("CastVote repeat: %v", err)
	}
	if got.Votes != 1 || got.Opposes != 0 {
		t.Errorf("repeat vote: votes = %d/%d, want 1/0", got.Votes, got.Opposes)
	}

	// Switching vote type moves the tally, not adds to it.
	got, err = m.CastVote(ctx, c.ID, "user-2", models.VoteOppose)
	if err != nil {
		t.Fatalf("CastVote switch: %v", err)
	}
	if got.Votes != 0 || got.Opposes != 1 {
		t.Errorf("switched vote: votes = %d/%d, want 0/1", got.Votes, got.Opposes)
	}

	// Invalid inputs are typed client faults.
	if _, err := m.CastVote(ctx, c.ID, "user-2", "MAYBE"); CodeOf(err) != CodeInvalid {
		t.Errorf("invalid vote type: code = %v, want INVALID", CodeOf(err))
	}
	if _, err := m.CastVote(ctx, c.ID, "", models.VoteSupport); CodeOf(err) != CodeUnauthorized {
		t.Errorf("anonymous vote: code = %v, want UNAUTHORIZED", CodeOf(err))
	}
	if _, err := m.CastVote(ctx, "nope", "user-2", models.VoteSupport); !IsNotFound(err) {
		t.Errorf("vote on missing campaign: %v, want not found", err)
	}
}

func TestMemoryGetUserVote(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(nil)

	c, err := m.CreateCampaign(ctx, CreateCampaignInput{Title: "More bike lanes", CreatorID: "user-1"})
	if err != nil {
		t.Fatalf("CreateCampaign: %v", err)
	}

	if vote, err := m.GetUserVote(ctx, c.ID, "user-2"); err != nil || vote != "" {
		t.Errorf("before voting: vote = %q, err = %v, want empty", vote, err)
	}

	if _, err := m.CastVote(ctx, c.ID, "user-2", models.VoteSupport); err != nil {
		t.Fatalf("CastVote: %v", err)
	}
	if vote, _ := m.GetUserVote(ctx, c.ID, "user-2"); vote != models.VoteSupport {
		t.Errorf("vote = %q, want SUPPORT", vote)
	}
	// Another user's lookup is unaffected.
	if vote, _ := m.GetUserVote(ctx, c.ID, "user-3"); vote != "" {
		t.Errorf("other user's vote = %q, want empty", vote)
	}

	if _, err := m.CastVote(ctx, c.ID, "user-2", models.VoteOppose); err != nil {
		t.Fatalf("CastVote switch: %v", err)
	}
	if vote, _ := m.GetUserVote(ctx, c.ID, "user-2"); vote != models.VoteOppose {
		t.Errorf("after switch: vote = %q, want OPPOSE", vote)
	}
}

func TestMemoryCommentsMaintainCampaignCount(t *testing.T) {
	ctx := context.Background()
	sink := &recordingSink{}
	m := NewMemory(sink)

	c, err := m.CreateCampaign(ctx, CreateCampaignInput{Title: "Community garden", CreatorID: "user-1"})
	if err != nil {
		t.Fatalf("CreateCampaign: %v", err)
	}

	comment, err := m.CreateComment(ctx, CreateCommentInput{
		CampaignID: c.ID,
		AuthorID:   "user-2",
		Body:       "Count me in",
	})
	if err != nil {
		t.Fatalf("CreateComment: %v", err)
	}

	got, _ := m.GetCampaign(ctx, c.ID)
	if got.CommentCount != 1 {
		t.Errorf("CommentCount = %d, want 1", got.CommentCount)
	}

	// The comment insert must be accompanied by a campaign update event so
	// other sessions see the new count.
	var sawCommentInsert, sawCampaignUpdate bool
	for _, ev := range sink.all() {
		if ev.Table == models.TableComments && ev.Type == realtime.EventInsert {
			sawCommentInsert = true
		}
		if ev.Table == models.TableCampaigns && ev.Type == realtime.EventUpdate {
			sawCampaignUpdate = true
		}
	}
	if !sawCommentInsert || !sawCampaignUpdate {
		t.Errorf("events: comment insert=%v campaign update=%v, want both", sawCommentInsert, sawCampaignUpdate)
	}

	if err := m.DeleteComment(ctx, comment.ID); err != nil {
		t.Fatalf("DeleteComment: %v", err)
	}
	got, _ = m.GetCampaign(ctx, c.ID)
	if got.CommentCount != 0 {
		t.Errorf("CommentCount after delete = %d, want 0", got.CommentCount)
	}
}

func TestMemorySearchCampaigns(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(nil)

	for _, in := range []CreateCampaignInput{
		{Title: "Repair the library roof", Location: "Springfield", CreatorID: "u1"},
		{Title: "New skate park", Location: "Shelbyville", CreatorID: "u2"},
		{Title: "Library late hours", Location: "Springfield", CreatorID: "u3"},
	} {
		if _, err := m.CreateCampaign(ctx, in); err != nil {
			t.Fatalf("CreateCampaign: %v", err)
		}
	}

	res, err := m.SearchCampaigns(ctx, SearchCampaignsInput{Query: "library"})
	if err != nil {
		t.Fatalf("SearchCampaigns: %v", err)
	}
	if res.Total != 2 {
		t.Errorf("query=library Total = %d, want 2", res.Total)
	}

	res, err = m.SearchCampaigns(ctx, SearchCampaignsInput{Location: "Shelbyville"})
	if err != nil {
		t.Fatalf("SearchCampaigns: %v", err)
	}
	if res.Total != 1 || res.Items[0].Title != "New skate park" {
		t.Errorf("location filter = %+v", res)
	}

	res, err = m.SearchCampaigns(ctx, SearchCampaignsInput{Limit: 2, Offset: 2})
	if err != nil {
		t.Fatalf("SearchCampaigns: %v", err)
	}
	if res.Total != 3 || len(res.Items) != 1 {
		t.Errorf("paging: total=%d items=%d, want 3/1", res.Total, len(res.Items))
	}
}

func TestPageDefaults(t *testing.T) {
	items := make([]int, 50)
	if got := len(page(items, 0, 0)); got != 20 {
		t.Errorf("default limit: got %d, want 20", got)
	}
	if got := len(page(items, 10, 45)); got != 5 {
		t.Errorf("tail page: got %d, want 5", got)
	}
	if got := len(page(items, 10, 100)); got != 0 {
		t.Errorf("offset past end: got %d, want 0", got)
	}
}
