// Civitas - Civic Engagement Platform
// Copyright 2026 Civitas Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civitashq/civitas

package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/civitashq/civitas/internal/logging"
)

type contextKey string

// ClaimsContextKey stores the authenticated *Claims on the request context.
const ClaimsContextKey contextKey = "claims"

// ClaimsFromContext returns the claims set by the middleware, if any.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(ClaimsContextKey).(*Claims)
	return claims, ok
}

// RequireAuth returns middleware that rejects requests without a valid bearer
// token. Valid claims are attached to the request context.
func RequireAuth(jwtManager *JWTManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := claimsFromRequest(jwtManager, r)
			if err != nil {
				logging.Debug().Err(err).Str("path", r.URL.Path).Msg("request rejected: invalid token")
				w.Header().Set("WWW-Authenticate", `Bearer realm="civitas"`)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), ClaimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OptionalAuth returns middleware that attaches claims when a valid bearer
// token is present but lets anonymous requests through. Handlers that
// personalize responses (user votes) check ClaimsFromContext themselves.
func OptionalAuth(jwtManager *JWTManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if claims, err := claimsFromRequest(jwtManager, r); err == nil {
				ctx := context.WithValue(r.Context(), ClaimsContextKey, claims)
				r = r.WithContext(ctx)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireRole returns middleware that rejects authenticated requests whose
// role does not match. Must run after RequireAuth.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok || claims.Role != role {
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func claimsFromRequest(jwtManager *JWTManager, r *http.Request) (*Claims, error) {
	header := r.Header.Get("Authorization")
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found || token == "" {
		return nil, ErrInvalidCredentials
	}
	return jwtManager.ValidateToken(token)
}
