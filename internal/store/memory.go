// Civitas - Civic Engagement Platform
// Copyright 2026 Civitas Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civitashq/civitas

package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/civitashq/civitas/internal/models"
	"github.com/civitashq/civitas/internal/realtime"
)

// Memory is an in-memory Gateway used by tests and single-node development.
// Writes are transactional under one mutex; every successful write publishes
// a realtime event to the configured sink.
type Memory struct {
	mu        sync.RWMutex
	campaigns map[string]models.Campaign
	comments  map[string]models.Comment
	wonders   map[string]models.Wonder
	// votes[campaignID][userID] = vote type
	votes map[string]map[string]string

	sink EventSink
}

// NewMemory creates an empty in-memory gateway publishing to sink.
func NewMemory(sink EventSink) *Memory {
	if sink == nil {
		sink = NopSink()
	}
	return &Memory{
		campaigns: make(map[string]models.Campaign),
		comments:  make(map[string]models.Comment),
		wonders:   make(map[string]models.Wonder),
		votes:     make(map[string]map[string]string),
		sink:      sink,
	}
}

func (m *Memory) GetCampaign(_ context.Context, id string) (*models.Campaign, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.campaigns[id]
	if !ok {
		return nil, NewError(CodeNotFound, "campaign "+id+" not found")
	}
	out := c.Clone()
	return &out, nil
}

func (m *Memory) SearchCampaigns(_ context.Context, in SearchCampaignsInput) (*models.CampaignList, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []models.Campaign
	for _, c := range m.campaigns {
		if in.Status != "" && c.Status != in.Status {
			continue
		}
		if in.Location != "" && !strings.EqualFold(c.Location, in.Location) {
			continue
		}
		if in.Query != "" && !containsFold(c.Title, in.Query) && !containsFold(c.Description, in.Query) {
			continue
		}
		matched = append(matched, c.Clone())
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	total := len(matched)
	matched = page(matched, in.Limit, in.Offset)
	return &models.CampaignList{Items: matched, Total: total}, nil
}

func (m *Memory) CreateCampaign(_ context.Context, in CreateCampaignInput) (*models.Campaign, error) {
	if in.Title == "" || in.CreatorID == "" {
		return nil, NewError(CodeInvalid, "title and creator_id are required")
	}
	now := time.Now().UTC()
	c := models.Campaign{
		ID:          models.NewID(),
		Title:       in.Title,
		Description: in.Description,
		Status:      models.CampaignStatusActive,
		Location:    in.Location,
		CreatorID:   in.CreatorID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	m.mu.Lock()
	m.campaigns[c.ID] = c
	m.mu.Unlock()

	m.sink.PublishEvent(realtime.NewRowEvent(realtime.EventInsert, models.TableCampaigns, c, nil))
	out := c.Clone()
	return &out, nil
}

func (m *Memory) UpdateCampaign(_ context.Context, in UpdateCampaignInput) (*models.Campaign, error) {
	m.mu.Lock()
	c, ok := m.campaigns[in.ID]
	if !ok {
		m.mu.Unlock()
		return nil, NewError(CodeNotFound, "campaign "+in.ID+" not found")
	}
	old := c.Clone()
	if in.Title != "" {
		c.Title = in.Title
	}
	if in.Description != "" {
		c.Description = in.Description
	}
	if in.Status != "" {
		c.Status = in.Status
	}
	if in.Location != "" {
		c.Location = in.Location
	}
	c.UpdatedAt = time.Now().UTC()
	m.campaigns[c.ID] = c
	m.mu.Unlock()

	m.sink.PublishEvent(realtime.NewRowEvent(realtime.EventUpdate, models.TableCampaigns, c, old))
	out := c.Clone()
	return &out, nil
}

func (m *Memory) DeleteCampaign(_ context.Context, id string) error {
	m.mu.Lock()
	c, ok := m.campaigns[id]
	if !ok {
		m.mu.Unlock()
		return NewError(CodeNotFound, "campaign "+id+" not found")
	}
	delete(m.campaigns, id)
	delete(m.votes, id)
	for cid, comment := range m.comments {
		if comment.CampaignID == id {
			delete(m.comments, cid)
		}
	}
	m.mu.Unlock()

	m.sink.PublishEvent(realtime.NewRowEvent(realtime.EventDelete, models.TableCampaigns, nil, c))
	return nil
}

func (m *Memory) CastVote(_ context.Context, campaignID, userID, voteType string) (*models.Campaign, error) {
	if voteType != models.VoteSupport && voteType != models.VoteOppose {
		return nil, NewError(CodeInvalid, "vote type must be SUPPORT or OPPOSE")
	}
	if userID == "" {
		return nil, NewError(CodeUnauthorized, "vote requires a user")
	}

	m.mu.Lock()
	c, ok := m.campaigns[campaignID]
	if !ok {
		m.mu.Unlock()
		return nil, NewError(CodeNotFound, "campaign "+campaignID+" not found")
	}
	old := c.Clone()
	byUser := m.votes[campaignID]
	if byUser == nil {
		byUser = make(map[string]string)
		m.votes[campaignID] = byUser
	}
	byUser[userID] = voteType
	c.Votes, c.Opposes = tally(byUser)
	c.UpdatedAt = time.Now().UTC()
	m.campaigns[campaignID] = c
	m.mu.Unlock()

	m.sink.PublishEvent(realtime.NewRowEvent(realtime.EventUpdate, models.TableCampaigns, c, old))
	out := c.Clone()
	out.UserVote = voteType
	return &out, nil
}

func (m *Memory) GetUserVote(_ context.Context, campaignID, userID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.votes[campaignID][userID], nil
}

func (m *Memory) GetComment(_ context.Context, id string) (*models.Comment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.comments[id]
	if !ok {
		return nil, NewError(CodeNotFound, "comment "+id+" not found")
	}
	return &c, nil
}

func (m *Memory) ListComments(_ context.Context, campaignID string, limit, offset int) (*models.CommentList, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []models.Comment
	for _, c := range m.comments {
		if c.CampaignID == campaignID {
			matched = append(matched, c)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	total := len(matched)
	matched = page(matched, limit, offset)
	return &models.CommentList{Items: matched, Total: total}, nil
}

func (m *Memory) CreateComment(_ context.Context, in CreateCommentInput) (*models.Comment, error) {
	if in.Body == "" || in.CampaignID == "" || in.AuthorID == "" {
		return nil, NewError(CodeInvalid, "campaign_id, author_id and body are required")
	}
	now := time.Now().UTC()
	comment := models.Comment{
		ID:         models.NewID(),
		CampaignID: in.CampaignID,
		AuthorID:   in.AuthorID,
		Body:       in.Body,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	m.mu.Lock()
	campaign, ok := m.campaigns[in.CampaignID]
	if !ok {
		m.mu.Unlock()
		return nil, NewError(CodeNotFound, "campaign "+in.CampaignID+" not found")
	}
	oldCampaign := campaign.Clone()
	m.comments[comment.ID] = comment
	campaign.CommentCount++
	campaign.UpdatedAt = now
	m.campaigns[campaign.ID] = campaign
	m.mu.Unlock()

	m.sink.PublishEvent(realtime.NewRowEvent(realtime.EventInsert, models.TableComments, comment, nil))
	m.sink.PublishEvent(realtime.NewRowEvent(realtime.EventUpdate, models.TableCampaigns, campaign, oldCampaign))
	return &comment, nil
}

func (m *Memory) UpdateComment(_ context.Context, id, body string) (*models.Comment, error) {
	if body == "" {
		return nil, NewError(CodeInvalid, "body is required")
	}
	m.mu.Lock()
	c, ok := m.comments[id]
	if !ok {
		m.mu.Unlock()
		return nil, NewError(CodeNotFound, "comment "+id+" not found")
	}
	old := c
	c.Body = body
	c.UpdatedAt = time.Now().UTC()
	m.comments[id] = c
	m.mu.Unlock()

	m.sink.PublishEvent(realtime.NewRowEvent(realtime.EventUpdate, models.TableComments, c, old))
	return &c, nil
}

func (m *Memory) DeleteComment(_ context.Context, id string) error {
	m.mu.Lock()
	c, ok := m.comments[id]
	if !ok {
		m.mu.Unlock()
		return NewError(CodeNotFound, "comment "+id+" not found")
	}
	delete(m.comments, id)
	var campaignEvent *realtime.Event
	if campaign, ok := m.campaigns[c.CampaignID]; ok && campaign.CommentCount > 0 {
		oldCampaign := campaign.Clone()
		campaign.CommentCount--
		campaign.UpdatedAt = time.Now().UTC()
		m.campaigns[campaign.ID] = campaign
		ev := realtime.NewRowEvent(realtime.EventUpdate, models.TableCampaigns, campaign, oldCampaign)
		campaignEvent = &ev
	}
	m.mu.Unlock()

	m.sink.PublishEvent(realtime.NewRowEvent(realtime.EventDelete, models.TableComments, nil, c))
	if campaignEvent != nil {
		m.sink.PublishEvent(*campaignEvent)
	}
	return nil
}

func (m *Memory) GetWonder(_ context.Context, id string) (*models.Wonder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.wonders[id]
	if !ok {
		return nil, NewError(CodeNotFound, "wonder "+id+" not found")
	}
	return &w, nil
}

func (m *Memory) SearchWonders(_ context.Context, in SearchWondersInput) (*models.WonderList, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []models.Wonder
	for _, w := range m.wonders {
		if in.Query != "" && !containsFold(w.Question, in.Query) {
			continue
		}
		matched = append(matched, w)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	total := len(matched)
	matched = page(matched, in.Limit, in.Offset)
	return &models.WonderList{Items: matched, Total: total}, nil
}

func (m *Memory) CreateWonder(_ context.Context, in CreateWonderInput) (*models.Wonder, error) {
	if in.Question == "" || in.AuthorID == "" {
		return nil, NewError(CodeInvalid, "author_id and question are required")
	}
	now := time.Now().UTC()
	w := models.Wonder{
		ID:        models.NewID(),
		AuthorID:  in.AuthorID,
		Question:  in.Question,
		CreatedAt: now,
		UpdatedAt: now,
	}

	m.mu.Lock()
	m.wonders[w.ID] = w
	m.mu.Unlock()

	m.sink.PublishEvent(realtime.NewRowEvent(realtime.EventInsert, models.TableWonders, w, nil))
	return &w, nil
}

func (m *Memory) UpdateWonder(_ context.Context, id, question string) (*models.Wonder, error) {
	if question == "" {
		return nil, NewError(CodeInvalid, "question is required")
	}
	m.mu.Lock()
	w, ok := m.wonders[id]
	if !ok {
		m.mu.Unlock()
		return nil, NewError(CodeNotFound, "wonder "+id+" not found")
	}
	old := w
	w.Question = question
	w.UpdatedAt = time.Now().UTC()
	m.wonders[id] = w
	m.mu.Unlock()

	m.sink.PublishEvent(realtime.NewRowEvent(realtime.EventUpdate, models.TableWonders, w, old))
	return &w, nil
}

func (m *Memory) DeleteWonder(_ context.Context, id string) error {
	m.mu.Lock()
	w, ok := m.wonders[id]
	if !ok {
		m.mu.Unlock()
		return NewError(CodeNotFound, "wonder "+id+" not found")
	}
	delete(m.wonders, id)
	m.mu.Unlock()

	m.sink.PublishEvent(realtime.NewRowEvent(realtime.EventDelete, models.TableWonders, nil, w))
	return nil
}

func (m *Memory) Close() error {
	return nil
}

// tally recomputes vote aggregates from the per-user vote map.
func tally(byUser map[string]string) (support, oppose int) {
	for _, t := range byUser {
		switch t {
		case models.VoteSupport:
			support++
		case models.VoteOppose:
			oppose++
		}
	}
	return support, oppose
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

// page applies limit/offset slicing with a default page size of 20.
func page[T any](items []T, limit, offset int) []T {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}
