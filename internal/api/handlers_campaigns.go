// Civitas - Civic Engagement Platform
// Copyright 2026 Civitas Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civitashq/civitas

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/civitashq/civitas/internal/auth"
	"github.com/civitashq/civitas/internal/cache"
	"github.com/civitashq/civitas/internal/logging"
	"github.com/civitashq/civitas/internal/models"
	"github.com/civitashq/civitas/internal/optimistic"
	"github.com/civitashq/civitas/internal/store"
)

// SearchCampaigns handles GET /api/v1/campaigns.
func (h *Handler) SearchCampaigns(w http.ResponseWriter, r *http.Request) {
	limit, offset := h.pagination(r)
	in := store.SearchCampaignsInput{
		Query:    r.URL.Query().Get("q"),
		Status:   r.URL.Query().Get("status"),
		Location: r.URL.Query().Get("location"),
		Limit:    limit,
		Offset:   offset,
	}

	key := models.CampaignSearchKey(in)
	list, err := fetchCached(r.Context(), h.cache, key, func(ctx context.Context) (models.CampaignList, error) {
		result, err := h.gateway.SearchCampaigns(ctx, in)
		if err != nil {
			return models.CampaignList{}, err
		}
		return *result, nil
	})
	if err != nil {
		respondStoreError(w, err)
		return
	}
	if _, ok := auth.ClaimsFromContext(r.Context()); ok {
		list = list.Clone()
		for i := range list.Items {
			h.annotateUserVote(r.Context(), &list.Items[i])
		}
	}
	respondJSON(w, http.StatusOK, list)
}

// GetCampaign handles GET /api/v1/campaigns/{id}.
func (h *Handler) GetCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	c, err := h.fetchCampaign(r.Context(), id)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	h.annotateUserVote(r.Context(), &c)
	respondJSON(w, http.StatusOK, c)
}

// createCampaignRequest is the POST /campaigns body.
type createCampaignRequest struct {
	Title       string `json:"title" validate:"required,min=3,max=200"`
	Description string `json:"description" validate:"max=5000"`
	Location    string `json:"location" validate:"max=200"`
}

// CreateCampaign handles POST /api/v1/campaigns. The new campaign appears in
// cached search results under a temporary id before the store confirms it.
func (h *Handler) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req createCampaignRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	in := store.CreateCampaignInput{
		Title:       req.Title,
		Description: req.Description,
		Location:    req.Location,
		CreatorID:   claims.UserID,
	}

	now := time.Now().UTC()
	temp := models.Campaign{
		ID:          models.TempID(),
		Title:       in.Title,
		Description: in.Description,
		Status:      models.CampaignStatusActive,
		Location:    in.Location,
		CreatorID:   in.CreatorID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	tempKey := models.CampaignKey(temp.ID)

	listKeys := h.cache.MatchingKeys(models.CampaignSearchPattern)
	keys := append([]string{tempKey}, listKeys...)
	speculate := map[string]cache.Updater{
		tempKey: func(interface{}, bool) (interface{}, error) {
			return temp, nil
		},
	}
	reconcile := make(map[string]func(interface{}) cache.Updater, len(listKeys))
	for _, key := range listKeys {
		speculate[key] = prependCampaign(temp)
		reconcile[key] = replaceCampaignInList(temp.ID)
	}

	result, err := h.mutations.Execute(r.Context(), optimistic.MutationRequest{
		Kind:      KindCampaignCreate,
		Keys:      keys,
		Speculate: speculate,
		Send: func(ctx context.Context) (interface{}, error) {
			return h.gateway.CreateCampaign(ctx, in)
		},
		Reconcile: reconcile,
	})
	if err != nil {
		respondStoreError(w, err)
		return
	}

	created := result.(*models.Campaign)
	// Swap the temporary detail entry for the real one so the real id is
	// warm immediately and the temp id stops resolving.
	h.cache.Remove(tempKey)
	setErr := h.cache.Set(models.CampaignKey(created.ID), func(interface{}, bool) (interface{}, error) {
		return created.Clone(), nil
	})
	if setErr != nil {
		logging.Warn().Err(setErr).Str("campaign_id", created.ID).Msg("failed to warm campaign detail after create")
	}
	respondJSON(w, http.StatusCreated, created)
}

// updateCampaignRequest is the PATCH /campaigns/{id} body. Empty fields are
// left unchanged.
type updateCampaignRequest struct {
	Title       string `json:"title" validate:"omitempty,min=3,max=200"`
	Description string `json:"description" validate:"max=5000"`
	Status      string `json:"status" validate:"omitempty,oneof=draft active completed archived"`
	Location    string `json:"location" validate:"max=200"`
}

// UpdateCampaign handles PATCH /api/v1/campaigns/{id}.
func (h *Handler) UpdateCampaign(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireUser(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	var req updateCampaignRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	current, err := h.fetchCampaign(r.Context(), id)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	if current.CreatorID != claims.UserID && claims.Role != auth.RoleAdmin {
		respondError(w, http.StatusForbidden, "FORBIDDEN", "only the creator can edit a campaign")
		return
	}

	in := store.UpdateCampaignInput{
		ID:          id,
		Title:       req.Title,
		Description: req.Description,
		Status:      req.Status,
		Location:    req.Location,
	}

	key := models.CampaignKey(id)
	speculated := applyCampaignPatch(current, req)
	result, err := h.mutations.Execute(r.Context(), optimistic.MutationRequest{
		Kind: KindCampaignUpdate,
		Keys: []string{key},
		Speculate: map[string]cache.Updater{
			key: func(interface{}, bool) (interface{}, error) {
				return speculated, nil
			},
		},
		Send: func(ctx context.Context) (interface{}, error) {
			return h.gateway.UpdateCampaign(ctx, in)
		},
		Reconcile: map[string]func(interface{}) cache.Updater{
			key: replaceCampaignDetail,
		},
	})
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result.(*models.Campaign))
}

// DeleteCampaign handles DELETE /api/v1/campaigns/{id}. The detail entry is
// snapshotted but not speculated; on success it is removed and search lists
// refetch through kind invalidation.
func (h *Handler) DeleteCampaign(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireUser(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	current, err := h.fetchCampaign(r.Context(), id)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	if current.CreatorID != claims.UserID && claims.Role != auth.RoleAdmin {
		respondError(w, http.StatusForbidden, "FORBIDDEN", "only the creator can delete a campaign")
		return
	}

	key := models.CampaignKey(id)
	_, err = h.mutations.Execute(r.Context(), optimistic.MutationRequest{
		Kind: KindCampaignDelete,
		Keys: []string{key},
		Send: func(ctx context.Context) (interface{}, error) {
			return struct{}{}, h.gateway.DeleteCampaign(ctx, id)
		},
	})
	if err != nil {
		respondStoreError(w, err)
		return
	}
	h.cache.Remove(key)
	w.WriteHeader(http.StatusNoContent)
}

// voteRequest is the POST /campaigns/{id}/vote body.
type voteRequest struct {
	Type string `json:"type" validate:"required,oneof=SUPPORT OPPOSE"`
}

// CastVote handles POST /api/v1/campaigns/{id}/vote. The vote tally moves in
// the cached detail entry immediately; the store's tally replaces it on
// settle.
func (h *Handler) CastVote(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireUser(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	var req voteRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	current, err := h.fetchCampaign(r.Context(), id)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	prior, err := h.gateway.GetUserVote(r.Context(), id, claims.UserID)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	key := models.CampaignKey(id)
	speculated := applyVote(current, prior, req.Type)
	result, err := h.mutations.Execute(r.Context(), optimistic.MutationRequest{
		Kind: KindCampaignVote,
		Keys: []string{key},
		Speculate: map[string]cache.Updater{
			key: func(interface{}, bool) (interface{}, error) {
				return speculated, nil
			},
		},
		Send: func(ctx context.Context) (interface{}, error) {
			return h.gateway.CastVote(ctx, id, claims.UserID, req.Type)
		},
		Reconcile: map[string]func(interface{}) cache.Updater{
			key: replaceCampaignDetail,
		},
	})
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result.(*models.Campaign))
}

// annotateUserVote fills the requesting user's own vote on a response copy.
// Cached campaign values are shared by every session and never carry a vote;
// it is resolved per request. Lookup failures leave the field empty.
func (h *Handler) annotateUserVote(ctx context.Context, c *models.Campaign) {
	claims, ok := auth.ClaimsFromContext(ctx)
	if !ok {
		return
	}
	vote, err := h.gateway.GetUserVote(ctx, c.ID, claims.UserID)
	if err != nil {
		logging.Warn().Err(err).Str("campaign_id", c.ID).Msg("user vote lookup failed")
		return
	}
	c.UserVote = vote
}

// fetchCampaign reads a campaign detail through the cache.
func (h *Handler) fetchCampaign(ctx context.Context, id string) (models.Campaign, error) {
	return fetchCached(ctx, h.cache, models.CampaignKey(id), func(fctx context.Context) (models.Campaign, error) {
		c, err := h.gateway.GetCampaign(fctx, id)
		if err != nil {
			return models.Campaign{}, err
		}
		return *c, nil
	})
}

// applyCampaignPatch merges a partial update onto the current campaign for
// the speculative detail value.
func applyCampaignPatch(current models.Campaign, req updateCampaignRequest) models.Campaign {
	next := current.Clone()
	if req.Title != "" {
		next.Title = req.Title
	}
	if req.Description != "" {
		next.Description = req.Description
	}
	if req.Status != "" {
		next.Status = req.Status
	}
	if req.Location != "" {
		next.Location = req.Location
	}
	next.UpdatedAt = time.Now().UTC()
	return next
}

// applyVote moves the tally the way the store will: one vote per user, a
// repeat vote of the same type is a no-op, a switched vote moves a count from
// one bucket to the other. prior is the voter's current vote from the store;
// the cached value never carries one. The speculated value stays vote-free
// for the same reason.
func applyVote(current models.Campaign, prior, voteType string) models.Campaign {
	next := current.Clone()
	next.UserVote = ""
	if prior == voteType {
		return next
	}
	switch prior {
	case models.VoteSupport:
		next.Votes--
	case models.VoteOppose:
		next.Opposes--
	}
	switch voteType {
	case models.VoteSupport:
		next.Votes++
	case models.VoteOppose:
		next.Opposes++
	}
	next.UpdatedAt = time.Now().UTC()
	return next
}

// prependCampaign returns an updater that inserts c at the head of a cached
// campaign list. Entries that do not hold a list are left unchanged.
func prependCampaign(c models.Campaign) cache.Updater {
	return func(prev interface{}, found bool) (interface{}, error) {
		list, ok := prev.(models.CampaignList)
		if !ok {
			return prev, nil
		}
		next := list.Clone()
		next.Items = append([]models.Campaign{c}, next.Items...)
		next.Total++
		return next, nil
	}
}

// replaceCampaignInList returns a reconcile factory swapping the optimistic
// item (matched by oldID) for the store's version in a cached list.
func replaceCampaignInList(oldID string) func(interface{}) cache.Updater {
	return func(result interface{}) cache.Updater {
		created, resultOK := result.(*models.Campaign)
		return func(prev interface{}, found bool) (interface{}, error) {
			list, ok := prev.(models.CampaignList)
			if !ok || !resultOK {
				return prev, nil
			}
			next := list.Clone()
			for i := range next.Items {
				if next.Items[i].ID == oldID {
					item := created.Clone()
					item.UserVote = ""
					next.Items[i] = item
				}
			}
			return next, nil
		}
	}
}

// replaceCampaignDetail reconciles a detail entry with the store's campaign.
// CastVote results carry the caller's own vote; the shared entry must not.
func replaceCampaignDetail(result interface{}) cache.Updater {
	return func(prev interface{}, found bool) (interface{}, error) {
		c, ok := result.(*models.Campaign)
		if !ok {
			return prev, nil
		}
		next := c.Clone()
		next.UserVote = ""
		return next, nil
	}
}
