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
	"github.com/civitashq/civitas/internal/models"
	"github.com/civitashq/civitas/internal/optimistic"
	"github.com/civitashq/civitas/internal/store"
)

// ListComments handles GET /api/v1/campaigns/{id}/comments.
func (h *Handler) ListComments(w http.ResponseWriter, r *http.Request) {
	campaignID := chi.URLParam(r, "id")
	limit, offset := h.pagination(r)

	key := models.CommentListKey(campaignID)
	list, err := fetchCached(r.Context(), h.cache, key, func(ctx context.Context) (models.CommentList, error) {
		result, err := h.gateway.ListComments(ctx, campaignID, limit, offset)
		if err != nil {
			return models.CommentList{}, err
		}
		return *result, nil
	})
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, list)
}

// createCommentRequest is the POST /campaigns/{id}/comments body.
type createCommentRequest struct {
	Body string `json:"body" validate:"required,min=1,max=5000"`
}

// CreateComment handles POST /api/v1/campaigns/{id}/comments. The comment
// appears in the cached thread under a temporary id and the campaign's
// comment count moves immediately.
func (h *Handler) CreateComment(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireUser(w, r)
	if !ok {
		return
	}
	campaignID := chi.URLParam(r, "id")
	var req createCommentRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	// Warm the thread and campaign entries so speculation has state to edit.
	if _, err := h.fetchCampaign(r.Context(), campaignID); err != nil {
		respondStoreError(w, err)
		return
	}

	now := time.Now().UTC()
	temp := models.Comment{
		ID:         models.TempID(),
		CampaignID: campaignID,
		AuthorID:   claims.UserID,
		Body:       req.Body,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	listKey := models.CommentListKey(campaignID)
	campaignKey := models.CampaignKey(campaignID)

	result, err := h.mutations.Execute(r.Context(), optimistic.MutationRequest{
		Kind: KindCommentCreate,
		Keys: []string{listKey, campaignKey},
		Speculate: map[string]cache.Updater{
			listKey:     prependComment(temp),
			campaignKey: adjustCommentCount(1),
		},
		Send: func(ctx context.Context) (interface{}, error) {
			return h.gateway.CreateComment(ctx, store.CreateCommentInput{
				CampaignID: campaignID,
				AuthorID:   claims.UserID,
				Body:       req.Body,
			})
		},
		Reconcile: map[string]func(interface{}) cache.Updater{
			listKey: replaceCommentInList(temp.ID),
		},
	})
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, result.(*models.Comment))
}

// updateCommentRequest is the PATCH /comments/{id} body.
type updateCommentRequest struct {
	Body string `json:"body" validate:"required,min=1,max=5000"`
}

// UpdateComment handles PATCH /api/v1/comments/{id}.
func (h *Handler) UpdateComment(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireUser(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	var req updateCommentRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	current, err := h.gateway.GetComment(r.Context(), id)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	if current.AuthorID != claims.UserID && claims.Role != auth.RoleAdmin {
		respondError(w, http.StatusForbidden, "FORBIDDEN", "only the author can edit a comment")
		return
	}

	listKey := models.CommentListKey(current.CampaignID)
	result, err := h.mutations.Execute(r.Context(), optimistic.MutationRequest{
		Kind: KindCommentUpdate,
		Keys: []string{listKey},
		Speculate: map[string]cache.Updater{
			listKey: editCommentBody(id, req.Body),
		},
		Send: func(ctx context.Context) (interface{}, error) {
			return h.gateway.UpdateComment(ctx, id, req.Body)
		},
		Reconcile: map[string]func(interface{}) cache.Updater{
			listKey: replaceCommentInList(id),
		},
	})
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result.(*models.Comment))
}

// DeleteComment handles DELETE /api/v1/comments/{id}. The comment leaves the
// cached thread and the campaign's comment count drops before the store
// confirms.
func (h *Handler) DeleteComment(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireUser(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	current, err := h.gateway.GetComment(r.Context(), id)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	if current.AuthorID != claims.UserID && claims.Role != auth.RoleAdmin {
		respondError(w, http.StatusForbidden, "FORBIDDEN", "only the author can delete a comment")
		return
	}

	listKey := models.CommentListKey(current.CampaignID)
	campaignKey := models.CampaignKey(current.CampaignID)
	_, err = h.mutations.Execute(r.Context(), optimistic.MutationRequest{
		Kind: KindCommentDelete,
		Keys: []string{listKey, campaignKey},
		Speculate: map[string]cache.Updater{
			listKey:     removeComment(id),
			campaignKey: adjustCommentCount(-1),
		},
		Send: func(ctx context.Context) (interface{}, error) {
			return struct{}{}, h.gateway.DeleteComment(ctx, id)
		},
	})
	if err != nil {
		respondStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// prependComment returns an updater inserting c at the head of a cached
// comment thread.
func prependComment(c models.Comment) cache.Updater {
	return func(prev interface{}, found bool) (interface{}, error) {
		list, ok := prev.(models.CommentList)
		if !ok {
			list = models.CommentList{}
		}
		next := list.Clone()
		next.Items = append([]models.Comment{c}, next.Items...)
		next.Total++
		return next, nil
	}
}

// removeComment returns an updater dropping the comment with the given id
// from a cached thread.
func removeComment(id string) cache.Updater {
	return func(prev interface{}, found bool) (interface{}, error) {
		list, ok := prev.(models.CommentList)
		if !ok {
			return prev, nil
		}
		next := models.CommentList{Items: make([]models.Comment, 0, len(list.Items)), Total: list.Total}
		for _, c := range list.Items {
			if c.ID != id {
				next.Items = append(next.Items, c)
			}
		}
		if len(next.Items) < len(list.Items) {
			next.Total--
		}
		return next, nil
	}
}

// editCommentBody returns an updater rewriting one comment's body in a cached
// thread.
func editCommentBody(id, body string) cache.Updater {
	return func(prev interface{}, found bool) (interface{}, error) {
		list, ok := prev.(models.CommentList)
		if !ok {
			return prev, nil
		}
		next := list.Clone()
		for i := range next.Items {
			if next.Items[i].ID == id {
				next.Items[i].Body = body
				next.Items[i].UpdatedAt = time.Now().UTC()
			}
		}
		return next, nil
	}
}

// replaceCommentInList returns a reconcile factory swapping the optimistic
// comment (matched by oldID) for the store's version.
func replaceCommentInList(oldID string) func(interface{}) cache.Updater {
	return func(result interface{}) cache.Updater {
		created, resultOK := result.(*models.Comment)
		return func(prev interface{}, found bool) (interface{}, error) {
			list, ok := prev.(models.CommentList)
			if !ok || !resultOK {
				return prev, nil
			}
			next := list.Clone()
			for i := range next.Items {
				if next.Items[i].ID == oldID {
					next.Items[i] = *created
				}
			}
			return next, nil
		}
	}
}

// adjustCommentCount returns an updater moving a campaign's denormalized
// comment count by delta, clamped at zero.
func adjustCommentCount(delta int) cache.Updater {
	return func(prev interface{}, found bool) (interface{}, error) {
		c, ok := prev.(models.Campaign)
		if !ok {
			return prev, nil
		}
		next := c.Clone()
		next.CommentCount += delta
		if next.CommentCount < 0 {
			next.CommentCount = 0
		}
		return next, nil
	}
}
