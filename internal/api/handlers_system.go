// Civitas - Civic Engagement Platform
// Copyright 2026 Civitas Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civitashq/civitas

package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/civitashq/civitas/internal/auth"
	"github.com/civitashq/civitas/internal/bridge"
	"github.com/civitashq/civitas/internal/cache"
	"github.com/civitashq/civitas/internal/logging"
	"github.com/civitashq/civitas/internal/maintenance"
	"github.com/civitashq/civitas/internal/optimistic"
	"github.com/civitashq/civitas/internal/realtime"
	ws "github.com/civitashq/civitas/internal/websocket"
)

// HealthLive handles GET /api/v1/health/live.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HealthReady handles GET /api/v1/health/ready. Readiness requires the
// realtime provider to be connected; a disconnected provider means client
// caches cannot converge and the instance should not take traffic.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	status := h.realtime.Status()
	if !status.IsConnected {
		respondJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":   "not_ready",
			"realtime": status,
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// healthResponse is the full GET /api/v1/health body.
type healthResponse struct {
	Status        string                   `json:"status"`
	UptimeSeconds float64                  `json:"uptime_seconds"`
	Realtime      realtime.ConnectionStatus `json:"realtime"`
	Clients       int                      `json:"websocket_clients"`
	CacheEntries  int64                    `json:"cache_entries"`
}

// Health handles GET /api/v1/health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	cs := h.cache.GetStats()
	resp := healthResponse{
		Status:        "ok",
		UptimeSeconds: time.Since(h.startTime).Seconds(),
		Realtime:      h.realtime.Status(),
		Clients:       h.hub.ClientCount(),
		CacheEntries:  cs.Entries,
	}
	if !resp.Realtime.IsConnected {
		resp.Status = "degraded"
	}
	respondJSON(w, http.StatusOK, resp)
}

// loginRequest is the POST /auth/login body.
type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// authResponse is returned by login and register.
type authResponse struct {
	Token    string `json:"token"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// Login handles POST /api/v1/auth/login.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	user, err := h.users.Authenticate(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid credentials")
			return
		}
		respondError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
		return
	}

	token, err := h.jwt.GenerateToken(user.ID, user.Username, user.Role)
	if err != nil {
		logging.Error().Err(err).Msg("token generation failed")
		respondError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
		return
	}
	respondJSON(w, http.StatusOK, authResponse{
		Token:    token,
		UserID:   user.ID,
		Username: user.Username,
		Role:     user.Role,
	})
}

// registerRequest is the POST /auth/register body.
type registerRequest struct {
	Username string `json:"username" validate:"required,min=3,max=64"`
	Password string `json:"password" validate:"required,min=8,max=128"`
}

// Register handles POST /api/v1/auth/register. New accounts always get the
// member role.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	user, err := h.users.AddUser(req.Username, req.Password, auth.RoleMember)
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID", err.Error())
		return
	}

	token, err := h.jwt.GenerateToken(user.ID, user.Username, user.Role)
	if err != nil {
		logging.Error().Err(err).Msg("token generation failed")
		respondError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
		return
	}
	respondJSON(w, http.StatusCreated, authResponse{
		Token:    token,
		UserID:   user.ID,
		Username: user.Username,
		Role:     user.Role,
	})
}

// RealtimeStatus handles GET /api/v1/realtime/status.
func (h *Handler) RealtimeStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.realtime.Status())
}

// RealtimeReconnect handles POST /api/v1/realtime/reconnect. It drops the
// provider connection and lets the manager's backoff loop re-establish it.
func (h *Handler) RealtimeReconnect(w http.ResponseWriter, r *http.Request) {
	h.realtime.Reconnect()
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "reconnecting"})
}

// statsResponse aggregates the counters of every convergence layer.
type statsResponse struct {
	Cache        cache.Stats       `json:"cache"`
	CacheHitRate float64           `json:"cache_hit_rate"`
	Mutations    optimistic.Stats  `json:"mutations"`
	Bridge       bridge.Stats      `json:"bridge"`
	Maintenance  maintenance.Stats `json:"maintenance"`
	Clients      int               `json:"websocket_clients"`
}

// CacheStats handles GET /api/v1/cache/stats.
func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, statsResponse{
		Cache:        h.cache.GetStats(),
		CacheHitRate: h.cache.HitRate(),
		Mutations:    h.mutations.GetStats(),
		Bridge:       h.bridge.GetStats(),
		Maintenance:  h.maint.GetStats(),
		Clients:      h.hub.ClientCount(),
	})
}

// ServeWS handles GET /ws: it upgrades the connection and hands it to the
// hub. The client picks its tables with subscribe/unsubscribe frames.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		logging.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	client := ws.NewClient(h.hub, conn)
	client.Start()
}
