// Civitas - Civic Engagement Platform
// Copyright 2026 Civitas Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civitashq/civitas

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/civitashq/civitas/internal/auth"
)

// NewRouter assembles the Chi router for h. CORS runs before routing so
// preflight requests are answered for every path; metrics wrap routed
// requests only, so 404 probes do not widen the endpoint label set.
func NewRouter(h *Handler) chi.Router {
	m := NewMiddleware(MiddlewareConfig{
		CORSAllowedOrigins: h.cfg.Security.CORSOrigins,
		RateLimitRequests:  h.cfg.Security.RateLimitReqs,
		RateLimitWindow:    h.cfg.Security.RateLimitWindow,
		RateLimitDisabled:  h.cfg.Security.RateLimitDisabled,
	})

	r := chi.NewRouter()
	r.Use(RequestID())
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(m.CORS())
	r.Use(PrometheusMetrics())

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws", h.ServeWS)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(m.RateLimit())

		r.Route("/health", func(r chi.Router) {
			r.Get("/", h.Health)
			r.Get("/live", h.HealthLive)
			r.Get("/ready", h.HealthReady)
		})

		r.Route("/auth", func(r chi.Router) {
			r.Use(m.RateLimitAuth())
			r.Post("/login", h.Login)
			r.Post("/register", h.Register)
		})

		r.Route("/campaigns", func(r chi.Router) {
			r.With(auth.OptionalAuth(h.jwt)).Get("/", h.SearchCampaigns)
			r.With(auth.OptionalAuth(h.jwt)).Get("/{id}", h.GetCampaign)
			r.Get("/{id}/comments", h.ListComments)

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireAuth(h.jwt))
				r.Use(m.RateLimitWrite())
				r.Post("/", h.CreateCampaign)
				r.Patch("/{id}", h.UpdateCampaign)
				r.Delete("/{id}", h.DeleteCampaign)
				r.Post("/{id}/vote", h.CastVote)
				r.Post("/{id}/comments", h.CreateComment)
			})
		})

		r.Route("/comments", func(r chi.Router) {
			r.Use(auth.RequireAuth(h.jwt))
			r.Use(m.RateLimitWrite())
			r.Patch("/{id}", h.UpdateComment)
			r.Delete("/{id}", h.DeleteComment)
		})

		r.Route("/wonders", func(r chi.Router) {
			r.Get("/", h.SearchWonders)
			r.Get("/{id}", h.GetWonder)

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireAuth(h.jwt))
				r.Use(m.RateLimitWrite())
				r.Post("/", h.CreateWonder)
				r.Patch("/{id}", h.UpdateWonder)
				r.Delete("/{id}", h.DeleteWonder)
			})
		})

		r.Route("/realtime", func(r chi.Router) {
			r.Get("/status", h.RealtimeStatus)
			r.With(auth.RequireAuth(h.jwt), auth.RequireRole(auth.RoleAdmin)).
				Post("/reconnect", h.RealtimeReconnect)
		})

		r.Get("/cache/stats", h.CacheStats)
	})

	return r
}

// NewServer builds the http.Server for the assembled router.
func NewServer(h *Handler) *http.Server {
	return &http.Server{
		Addr:         h.cfg.Server.Address(),
		Handler:      NewRouter(h),
		ReadTimeout:  h.cfg.Server.Timeout,
		WriteTimeout: 0, // the WebSocket endpoint holds connections open
		IdleTimeout:  2 * h.cfg.Server.Timeout,
	}
}
