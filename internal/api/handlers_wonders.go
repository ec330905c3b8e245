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

// SearchWonders handles GET /api/v1/wonders.
func (h *Handler) SearchWonders(w http.ResponseWriter, r *http.Request) {
	limit, offset := h.pagination(r)
	in := store.SearchWondersInput{
		Query:  r.URL.Query().Get("q"),
		Limit:  limit,
		Offset: offset,
	}

	key := models.WonderSearchKey(in)
	list, err := fetchCached(r.Context(), h.cache, key, func(ctx context.Context) (models.WonderList, error) {
		result, err := h.gateway.SearchWonders(ctx, in)
		if err != nil {
			return models.WonderList{}, err
		}
		return *result, nil
	})
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, list)
}

// GetWonder handles GET /api/v1/wonders/{id}.
func (h *Handler) GetWonder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	wonder, err := fetchCached(r.Context(), h.cache, models.WonderKey(id), func(ctx context.Context) (models.Wonder, error) {
		result, err := h.gateway.GetWonder(ctx, id)
		if err != nil {
			return models.Wonder{}, err
		}
		return *result, nil
	})
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, wonder)
}

// createWonderRequest is the POST /wonders body.
type createWonderRequest struct {
	Question string `json:"question" validate:"required,min=3,max=500"`
}

// CreateWonder handles POST /api/v1/wonders. The wonder appears at the head
// of cached feed pages under a temporary id before the store confirms it.
func (h *Handler) CreateWonder(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req createWonderRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	now := time.Now().UTC()
	temp := models.Wonder{
		ID:        models.TempID(),
		AuthorID:  claims.UserID,
		Question:  req.Question,
		CreatedAt: now,
		UpdatedAt: now,
	}
	tempKey := models.WonderKey(temp.ID)

	listKeys := h.cache.MatchingKeys(models.WonderSearchPattern)
	keys := append([]string{tempKey}, listKeys...)
	speculate := map[string]cache.Updater{
		tempKey: func(interface{}, bool) (interface{}, error) {
			return temp, nil
		},
	}
	reconcile := make(map[string]func(interface{}) cache.Updater, len(listKeys))
	for _, key := range listKeys {
		speculate[key] = prependWonder(temp)
		reconcile[key] = replaceWonderInList(temp.ID)
	}

	result, err := h.mutations.Execute(r.Context(), optimistic.MutationRequest{
		Kind:      KindWonderCreate,
		Keys:      keys,
		Speculate: speculate,
		Send: func(ctx context.Context) (interface{}, error) {
			return h.gateway.CreateWonder(ctx, store.CreateWonderInput{
				AuthorID: claims.UserID,
				Question: req.Question,
			})
		},
		Reconcile: reconcile,
	})
	if err != nil {
		respondStoreError(w, err)
		return
	}

	created := result.(*models.Wonder)
	h.cache.Remove(tempKey)
	_ = h.cache.Set(models.WonderKey(created.ID), func(interface{}, bool) (interface{}, error) {
		return *created, nil
	})
	respondJSON(w, http.StatusCreated, created)
}

// updateWonderRequest is the PATCH /wonders/{id} body.
type updateWonderRequest struct {
	Question string `json:"question" validate:"required,min=3,max=500"`
}

// UpdateWonder handles PATCH /api/v1/wonders/{id}.
func (h *Handler) UpdateWonder(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireUser(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	var req updateWonderRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	current, err := h.gateway.GetWonder(r.Context(), id)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	if current.AuthorID != claims.UserID && claims.Role != auth.RoleAdmin {
		respondError(w, http.StatusForbidden, "FORBIDDEN", "only the author can edit a wonder")
		return
	}

	key := models.WonderKey(id)
	speculated := *current
	speculated.Question = req.Question
	speculated.UpdatedAt = time.Now().UTC()

	result, err := h.mutations.Execute(r.Context(), optimistic.MutationRequest{
		Kind: KindWonderUpdate,
		Keys: []string{key},
		Speculate: map[string]cache.Updater{
			key: func(interface{}, bool) (interface{}, error) {
				return speculated, nil
			},
		},
		Send: func(ctx context.Context) (interface{}, error) {
			return h.gateway.UpdateWonder(ctx, id, req.Question)
		},
		Reconcile: map[string]func(interface{}) cache.Updater{
			key: replaceWonderDetail,
		},
	})
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result.(*models.Wonder))
}

// DeleteWonder handles DELETE /api/v1/wonders/{id}.
func (h *Handler) DeleteWonder(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireUser(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	current, err := h.gateway.GetWonder(r.Context(), id)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	if current.AuthorID != claims.UserID && claims.Role != auth.RoleAdmin {
		respondError(w, http.StatusForbidden, "FORBIDDEN", "only the author can delete a wonder")
		return
	}

	key := models.WonderKey(id)
	_, err = h.mutations.Execute(r.Context(), optimistic.MutationRequest{
		Kind: KindWonderDelete,
		Keys: []string{key},
		Send: func(ctx context.Context) (interface{}, error) {
			return struct{}{}, h.gateway.DeleteWonder(ctx, id)
		},
	})
	if err != nil {
		respondStoreError(w, err)
		return
	}
	h.cache.Remove(key)
	w.WriteHeader(http.StatusNoContent)
}

// prependWonder returns an updater inserting wn at the head of a cached feed
// page.
func prependWonder(wn models.Wonder) cache.Updater {
	return func(prev interface{}, found bool) (interface{}, error) {
		list, ok := prev.(models.WonderList)
		if !ok {
			return prev, nil
		}
		next := list.Clone()
		next.Items = append([]models.Wonder{wn}, next.Items...)
		next.Total++
		return next, nil
	}
}

// replaceWonderInList returns a reconcile factory swapping the optimistic
// wonder (matched by oldID) for the store's version.
func replaceWonderInList(oldID string) func(interface{}) cache.Updater {
	return func(result interface{}) cache.Updater {
		created, resultOK := result.(*models.Wonder)
		return func(prev interface{}, found bool) (interface{}, error) {
			list, ok := prev.(models.WonderList)
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

// replaceWonderDetail reconciles a wonder detail entry with the store's
// version.
func replaceWonderDetail(result interface{}) cache.Updater {
	return func(prev interface{}, found bool) (interface{}, error) {
		wn, ok := result.(*models.Wonder)
		if !ok {
			return prev, nil
		}
		return *wn, nil
	}
}
