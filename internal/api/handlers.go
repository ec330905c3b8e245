// Civitas - Civic Engagement Platform
// Copyright 2026 Civitas Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civitashq/civitas

package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/civitashq/civitas/internal/auth"
	"github.com/civitashq/civitas/internal/bridge"
	"github.com/civitashq/civitas/internal/cache"
	"github.com/civitashq/civitas/internal/config"
	"github.com/civitashq/civitas/internal/maintenance"
	"github.com/civitashq/civitas/internal/models"
	"github.com/civitashq/civitas/internal/optimistic"
	"github.com/civitashq/civitas/internal/realtime"
	"github.com/civitashq/civitas/internal/store"
	ws "github.com/civitashq/civitas/internal/websocket"
)

// Mutation kinds and the query patterns a successful settle invalidates.
const (
	KindCampaignCreate = "campaign.create"
	KindCampaignUpdate = "campaign.update"
	KindCampaignDelete = "campaign.delete"
	KindCampaignVote   = "campaign.vote"
	KindCommentCreate  = "comment.create"
	KindCommentUpdate  = "comment.update"
	KindCommentDelete  = "comment.delete"
	KindWonderCreate   = "wonder.create"
	KindWonderUpdate   = "wonder.update"
	KindWonderDelete   = "wonder.delete"
)

// Handler holds the dependencies for all API endpoints.
//
// Handler methods are split across files:
//   - handlers.go: Handler struct, constructor, shared helpers (this file)
//   - handlers_campaigns.go: campaign search, detail, CRUD, voting
//   - handlers_comments.go: comment threads
//   - handlers_wonders.go: wonder feed and CRUD
//   - handlers_system.go: health, auth, realtime status, stats, WebSocket
type Handler struct {
	cfg       *config.Config
	cache     *cache.Store
	gateway   store.Gateway
	mutations *optimistic.Coordinator
	realtime  *realtime.Manager
	bridge    *bridge.Bridge
	hub       *ws.Hub
	maint     *maintenance.Manager
	users     *auth.Registry
	jwt       *auth.JWTManager
	validate  *validator.Validate
	upgrader  websocket.Upgrader
	startTime time.Time
}

// NewHandler creates the API handler and registers the invalidation patterns
// for every mutation kind.
func NewHandler(
	cfg *config.Config,
	cacheStore *cache.Store,
	gateway store.Gateway,
	mutations *optimistic.Coordinator,
	realtimeMgr *realtime.Manager,
	recBridge *bridge.Bridge,
	hub *ws.Hub,
	maint *maintenance.Manager,
	users *auth.Registry,
	jwtManager *auth.JWTManager,
) *Handler {
	commentLists := models.ListPatternForTable(models.TableComments)

	mutations.RegisterKind(KindCampaignCreate, models.CampaignSearchPattern)
	mutations.RegisterKind(KindCampaignUpdate, models.CampaignSearchPattern)
	mutations.RegisterKind(KindCampaignDelete, models.CampaignSearchPattern)
	mutations.RegisterKind(KindCampaignVote, models.CampaignSearchPattern)
	mutations.RegisterKind(KindCommentCreate, commentLists, models.CampaignSearchPattern)
	mutations.RegisterKind(KindCommentUpdate, commentLists)
	mutations.RegisterKind(KindCommentDelete, commentLists, models.CampaignSearchPattern)
	mutations.RegisterKind(KindWonderCreate, models.WonderSearchPattern)
	mutations.RegisterKind(KindWonderUpdate, models.WonderSearchPattern)
	mutations.RegisterKind(KindWonderDelete, models.WonderSearchPattern)

	return &Handler{
		cfg:       cfg,
		cache:     cacheStore,
		gateway:   gateway,
		mutations: mutations,
		realtime:  realtimeMgr,
		bridge:    recBridge,
		hub:       hub,
		maint:     maint,
		users:     users,
		jwt:       jwtManager,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		startTime: time.Now(),
	}
}

// decodeAndValidate reads the request body into v and runs struct validation.
// Responds with 400 and returns false on failure.
func (h *Handler) decodeAndValidate(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID", "malformed request body")
		return false
	}
	if err := h.validate.Struct(v); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return false
	}
	return true
}

// pagination clamps limit/offset query parameters to the configured bounds.
func (h *Handler) pagination(r *http.Request) (limit, offset int) {
	limit = h.cfg.API.DefaultPageSize
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > h.cfg.API.MaxPageSize {
		limit = h.cfg.API.MaxPageSize
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

// requireUser extracts the authenticated user's claims, responding 401 when
// absent.
func requireUser(w http.ResponseWriter, r *http.Request) (*auth.Claims, bool) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
		return nil, false
	}
	return claims, true
}

// fetchCached reads key through the cache, falling back to fn on miss or
// staleness. A stale value is served when the store is down; a superseded
// fetch returns the newer cache content.
func fetchCached[T any](ctx context.Context, c *cache.Store, key string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	v, err := c.Fetch(ctx, key, func(fctx context.Context) (interface{}, error) {
		return fn(fctx)
	})
	if err != nil {
		// Stale-while-revalidate and superseded fetches still hand back the
		// best cache content available; serve it rather than failing.
		if typed, ok := v.(T); ok {
			return typed, nil
		}
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		return zero, store.NewError(store.CodeInternal, "cache entry holds unexpected type")
	}
	return typed, nil
}
