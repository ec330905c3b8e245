// Civitas - Civic Engagement Platform
// Copyright 2026 Civitas Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civitashq/civitas

package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func claimsEcho(t *testing.T, got **Claims) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, _ := ClaimsFromContext(r.Context())
		*got = claims
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequireAuth(t *testing.T) {
	m := newTestJWTManager(t, time.Hour)
	token, err := m.GenerateToken("u1", "alice", RoleMember)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	var got *Claims
	handler := RequireAuth(m)(claimsEcho(t, &got))

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantClaims bool
	}{
		{"valid token", "Bearer " + token, http.StatusOK, true},
		{"missing header", "", http.StatusUnauthorized, false},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized, false},
		{"garbage token", "Bearer garbage", http.StatusUnauthorized, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got = nil
			req := httptest.NewRequest(http.MethodGet, "/api/v1/campaigns", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantClaims && (got == nil || got.Username != "alice") {
				t.Errorf("claims = %+v", got)
			}
			if !tt.wantClaims && rec.Code == http.StatusUnauthorized && rec.Header().Get("WWW-Authenticate") == "" {
				t.Error("missing WWW-Authenticate header")
			}
		})
	}
}

func TestOptionalAuthAllowsAnonymous(t *testing.T) {
	m := newTestJWTManager(t, time.Hour)

	var got *Claims
	handler := OptionalAuth(m)(claimsEcho(t, &got))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/campaigns", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || got != nil {
		t.Errorf("anonymous: status = %d, claims = %+v", rec.Code, got)
	}

	token, err := m.GenerateToken("u1", "alice", RoleMember)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	req = httptest.NewRequest(http.MethodGet, "/api/v1/campaigns", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if got == nil || got.UserID != "u1" {
		t.Errorf("authenticated: claims = %+v", got)
	}
}

func TestRequireRole(t *testing.T) {
	m := newTestJWTManager(t, time.Hour)
	adminToken, _ := m.GenerateToken("u1", "alice", RoleAdmin)
	memberToken, _ := m.GenerateToken("u2", "bob", RoleMember)

	var got *Claims
	handler := RequireAuth(m)(RequireRole(RoleAdmin)(claimsEcho(t, &got)))

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/campaigns/c1", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("admin status = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodDelete, "/api/v1/campaigns/c1", nil)
	req.Header.Set("Authorization", "Bearer "+memberToken)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("member status = %d, want 403", rec.Code)
	}
}
