// Civitas - Civic Engagement Platform
// Copyright 2026 Civitas Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civitashq/civitas

package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

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

type testAPI struct {
	handler *Handler
	router  http.Handler
	gateway store.Gateway
	cache   *cache.Store
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	return newTestAPIWithGateway(t, func(sink store.EventSink) store.Gateway {
		return store.NewMemory(sink)
	})
}

func newTestAPIWithGateway(t *testing.T, build func(store.EventSink) store.Gateway) *testAPI {
	t.Helper()

	cfg := &config.Config{
		Server: config.ServerConfig{
			Host:        "127.0.0.1",
			Port:        8080,
			Timeout:     5 * time.Second,
			Environment: "development",
		},
		API: config.APIConfig{DefaultPageSize: 20, MaxPageSize: 100},
		Security: config.SecurityConfig{
			JWTSecret:         "test-secret-test-secret-test-secret!",
			SessionTimeout:    time.Hour,
			RateLimitDisabled: true,
		},
	}

	cacheStore := cache.New(cache.Options{})
	t.Cleanup(cacheStore.Close)

	gateway := build(store.NopSink())
	t.Cleanup(func() { _ = gateway.Close() })

	coord := optimistic.New(cacheStore, optimistic.DefaultConfig())
	rec := bridge.New(cacheStore, coord, bridge.DefaultConfig())
	mgr := realtime.NewManager(realtime.NewChannelProvider(), realtime.DefaultManagerConfig())
	t.Cleanup(func() { _ = mgr.Close() })
	hub := ws.NewHub()
	maint := maintenance.New(cacheStore, maintenance.DefaultConfig())

	users := auth.NewRegistry()
	jwtManager, err := auth.NewJWTManager(&cfg.Security)
	if err != nil {
		t.Fatalf("NewJWTManager: %v", err)
	}

	h := NewHandler(cfg, cacheStore, gateway, coord, mgr, rec, hub, maint, users, jwtManager)
	return &testAPI{
		handler: h,
		router:  NewRouter(h),
		gateway: gateway,
		cache:   cacheStore,
	}
}

func (a *testAPI) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) registerUser(t *testing.T, username string) string {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"username": username,
		"password": "long-enough-password",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register %s: status %d, body %s", username, rec.Code, rec.Body.String())
	}
	var resp authResponse
	decodeBody(t, rec, &resp)
	return resp.Token
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func TestHealthLive(t *testing.T) {
	a := newTestAPI(t)
	rec := a.do(t, http.MethodGet, "/api/v1/health/live", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestHealthReadyReflectsRealtimeState(t *testing.T) {
	a := newTestAPI(t)
	// The realtime manager was never served, so the provider is disconnected.
	rec := a.do(t, http.MethodGet, "/api/v1/health/ready", "", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 while disconnected", rec.Code)
	}
}

func TestRegisterAndLogin(t *testing.T) {
	a := newTestAPI(t)
	token := a.registerUser(t, "alice")
	if token == "" {
		t.Fatal("register returned empty token")
	}

	rec := a.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"username": "alice",
		"password": "long-enough-password",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp authResponse
	decodeBody(t, rec, &resp)
	if resp.Role != auth.RoleMember {
		t.Errorf("role = %q, want %q", resp.Role, auth.RoleMember)
	}

	rec = a.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"username": "alice",
		"password": "wrong-password!",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad login status = %d, want 401", rec.Code)
	}
}

func TestCreateCampaignRequiresAuth(t *testing.T) {
	a := newTestAPI(t)
	rec := a.do(t, http.MethodPost, "/api/v1/campaigns", "", map[string]string{
		"title": "Fix the streetlights",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestCreateCampaignValidation(t *testing.T) {
	a := newTestAPI(t)
	token := a.registerUser(t, "alice")
	rec := a.do(t, http.MethodPost, "/api/v1/campaigns", token, map[string]string{
		"title": "xy",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestCreateAndGetCampaign(t *testing.T) {
	a := newTestAPI(t)
	token := a.registerUser(t, "alice")

	rec := a.do(t, http.MethodPost, "/api/v1/campaigns", token, map[string]string{
		"title":       "Fix the streetlights",
		"description": "Half of Market Street is dark after 9pm.",
		"location":    "Market Street",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body.String())
	}
	var created models.Campaign
	decodeBody(t, rec, &created)
	if created.ID == "" || models.IsTempID(created.ID) {
		t.Fatalf("created id = %q, want a real store id", created.ID)
	}

	rec = a.do(t, http.MethodGet, "/api/v1/campaigns/"+created.ID, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	var got models.Campaign
	decodeBody(t, rec, &got)
	if got.Title != "Fix the streetlights" {
		t.Errorf("title = %q", got.Title)
	}
}

func TestSearchCampaigns(t *testing.T) {
	a := newTestAPI(t)
	token := a.registerUser(t, "alice")

	for _, title := range []string{"Fix the streetlights", "Plant more trees"} {
		rec := a.do(t, http.MethodPost, "/api/v1/campaigns", token, map[string]string{"title": title})
		if rec.Code != http.StatusCreated {
			t.Fatalf("create %q: status %d", title, rec.Code)
		}
	}

	rec := a.do(t, http.MethodGet, "/api/v1/campaigns", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("search status = %d", rec.Code)
	}
	var list models.CampaignList
	decodeBody(t, rec, &list)
	if list.Total != 2 {
		t.Errorf("total = %d, want 2", list.Total)
	}
}

func TestCastVoteMovesTally(t *testing.T) {
	a := newTestAPI(t)
	token := a.registerUser(t, "alice")

	rec := a.do(t, http.MethodPost, "/api/v1/campaigns", token, map[string]string{"title": "Fix the streetlights"})
	var created models.Campaign
	decodeBody(t, rec, &created)

	rec = a.do(t, http.MethodPost, "/api/v1/campaigns/"+created.ID+"/vote", token, map[string]string{"type": "SUPPORT"})
	if rec.Code != http.StatusOK {
		t.Fatalf("vote status = %d, body %s", rec.Code, rec.Body.String())
	}
	var voted models.Campaign
	decodeBody(t, rec, &voted)
	if voted.Votes != 1 || voted.Opposes != 0 {
		t.Errorf("tally = %d/%d, want 1/0", voted.Votes, voted.Opposes)
	}
	if voted.UserVote != models.VoteSupport {
		t.Errorf("user_vote = %q", voted.UserVote)
	}

	// Switching sides moves the count between buckets.
	rec = a.do(t, http.MethodPost, "/api/v1/campaigns/"+created.ID+"/vote", token, map[string]string{"type": "OPPOSE"})
	decodeBody(t, rec, &voted)
	if voted.Votes != 0 || voted.Opposes != 1 {
		t.Errorf("after switch tally = %d/%d, want 0/1", voted.Votes, voted.Opposes)
	}
}

func TestUserVoteStaysWithItsOwner(t *testing.T) {
	a := newTestAPI(t)
	alice := a.registerUser(t, "alice")
	bob := a.registerUser(t, "bob")

	rec := a.do(t, http.MethodPost, "/api/v1/campaigns", alice, map[string]string{"title": "Fix the streetlights"})
	var created models.Campaign
	decodeBody(t, rec, &created)

	rec = a.do(t, http.MethodPost, "/api/v1/campaigns/"+created.ID+"/vote", alice, map[string]string{"type": "SUPPORT"})
	if rec.Code != http.StatusOK {
		t.Fatalf("vote status = %d, body %s", rec.Code, rec.Body.String())
	}

	var got models.Campaign

	// Another user must not inherit the voter's vote from the shared cache.
	rec = a.do(t, http.MethodGet, "/api/v1/campaigns/"+created.ID, bob, nil)
	decodeBody(t, rec, &got)
	if got.UserVote != "" {
		t.Errorf("bob sees user_vote = %q, want empty", got.UserVote)
	}
	if got.Votes != 1 {
		t.Errorf("bob sees votes = %d, want 1", got.Votes)
	}

	// Neither must an anonymous reader.
	rec = a.do(t, http.MethodGet, "/api/v1/campaigns/"+created.ID, "", nil)
	decodeBody(t, rec, &got)
	if got.UserVote != "" {
		t.Errorf("anonymous reader sees user_vote = %q, want empty", got.UserVote)
	}

	// The voter still sees their own vote, on the detail and in search.
	rec = a.do(t, http.MethodGet, "/api/v1/campaigns/"+created.ID, alice, nil)
	decodeBody(t, rec, &got)
	if got.UserVote != models.VoteSupport {
		t.Errorf("alice sees user_vote = %q, want %q", got.UserVote, models.VoteSupport)
	}
	rec = a.do(t, http.MethodGet, "/api/v1/campaigns", alice, nil)
	var list models.CampaignList
	decodeBody(t, rec, &list)
	if len(list.Items) != 1 || list.Items[0].UserVote != models.VoteSupport {
		t.Errorf("search as alice = %+v, want user_vote filled", list.Items)
	}

	// A second voter's tally starts from their own, absent, prior vote.
	rec = a.do(t, http.MethodPost, "/api/v1/campaigns/"+created.ID+"/vote", bob, map[string]string{"type": "SUPPORT"})
	decodeBody(t, rec, &got)
	if got.Votes != 2 {
		t.Errorf("votes after second voter = %d, want 2", got.Votes)
	}
}

func TestVoteInvalidType(t *testing.T) {
	a := newTestAPI(t)
	token := a.registerUser(t, "alice")
	rec := a.do(t, http.MethodPost, "/api/v1/campaigns/whatever/vote", token, map[string]string{"type": "MAYBE"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestVoteOnMissingCampaign(t *testing.T) {
	a := newTestAPI(t)
	token := a.registerUser(t, "alice")
	rec := a.do(t, http.MethodPost, "/api/v1/campaigns/nope/vote", token, map[string]string{"type": "SUPPORT"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestUpdateCampaignForbiddenForNonCreator(t *testing.T) {
	a := newTestAPI(t)
	creator := a.registerUser(t, "alice")
	other := a.registerUser(t, "bob")

	rec := a.do(t, http.MethodPost, "/api/v1/campaigns", creator, map[string]string{"title": "Fix the streetlights"})
	var created models.Campaign
	decodeBody(t, rec, &created)

	rec = a.do(t, http.MethodPatch, "/api/v1/campaigns/"+created.ID, other, map[string]string{"title": "Hijacked title"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestDeleteCampaign(t *testing.T) {
	a := newTestAPI(t)
	token := a.registerUser(t, "alice")

	rec := a.do(t, http.MethodPost, "/api/v1/campaigns", token, map[string]string{"title": "Fix the streetlights"})
	var created models.Campaign
	decodeBody(t, rec, &created)

	rec = a.do(t, http.MethodDelete, "/api/v1/campaigns/"+created.ID, token, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}

	rec = a.do(t, http.MethodGet, "/api/v1/campaigns/"+created.ID, "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get after delete status = %d, want 404", rec.Code)
	}
}

func TestCommentLifecycle(t *testing.T) {
	a := newTestAPI(t)
	token := a.registerUser(t, "alice")

	rec := a.do(t, http.MethodPost, "/api/v1/campaigns", token, map[string]string{"title": "Fix the streetlights"})
	var campaign models.Campaign
	decodeBody(t, rec, &campaign)

	rec = a.do(t, http.MethodPost, "/api/v1/campaigns/"+campaign.ID+"/comments", token, map[string]string{
		"body": "The corner of 5th is the worst spot.",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create comment status = %d, body %s", rec.Code, rec.Body.String())
	}
	var comment models.Comment
	decodeBody(t, rec, &comment)
	if models.IsTempID(comment.ID) {
		t.Fatalf("comment id = %q, want a real store id", comment.ID)
	}

	rec = a.do(t, http.MethodGet, "/api/v1/campaigns/"+campaign.ID+"/comments", "", nil)
	var list models.CommentList
	decodeBody(t, rec, &list)
	if list.Total != 1 {
		t.Fatalf("thread total = %d, want 1", list.Total)
	}

	rec = a.do(t, http.MethodPatch, "/api/v1/comments/"+comment.ID, token, map[string]string{
		"body": "Corrected: the corner of 6th.",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("update comment status = %d", rec.Code)
	}

	rec = a.do(t, http.MethodDelete, "/api/v1/comments/"+comment.ID, token, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete comment status = %d", rec.Code)
	}

	rec = a.do(t, http.MethodGet, "/api/v1/campaigns/"+campaign.ID+"/comments", "", nil)
	decodeBody(t, rec, &list)
	if list.Total != 0 {
		t.Errorf("thread total after delete = %d, want 0", list.Total)
	}
}

func TestWonderLifecycle(t *testing.T) {
	a := newTestAPI(t)
	token := a.registerUser(t, "alice")

	rec := a.do(t, http.MethodPost, "/api/v1/wonders", token, map[string]string{
		"question": "What if the library stayed open late on weekends?",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create wonder status = %d, body %s", rec.Code, rec.Body.String())
	}
	var wonder models.Wonder
	decodeBody(t, rec, &wonder)
	if models.IsTempID(wonder.ID) {
		t.Fatalf("wonder id = %q, want a real store id", wonder.ID)
	}

	rec = a.do(t, http.MethodGet, "/api/v1/wonders", "", nil)
	var list models.WonderList
	decodeBody(t, rec, &list)
	if list.Total != 1 {
		t.Fatalf("feed total = %d, want 1", list.Total)
	}

	rec = a.do(t, http.MethodPatch, "/api/v1/wonders/"+wonder.ID, token, map[string]string{
		"question": "What if the library stayed open all night?",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("update wonder status = %d", rec.Code)
	}

	rec = a.do(t, http.MethodDelete, "/api/v1/wonders/"+wonder.ID, token, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete wonder status = %d", rec.Code)
	}

	rec = a.do(t, http.MethodGet, "/api/v1/wonders/"+wonder.ID, "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get after delete status = %d, want 404", rec.Code)
	}
}

// failingVoteGateway fails every CastVote to exercise rollback.
type failingVoteGateway struct {
	store.Gateway
}

func (g *failingVoteGateway) CastVote(context.Context, string, string, string) (*models.Campaign, error) {
	return nil, store.NewError(store.CodeUnavailable, "database offline")
}

func TestFailedVoteRollsBackCachedTally(t *testing.T) {
	a := newTestAPIWithGateway(t, func(sink store.EventSink) store.Gateway {
		return &failingVoteGateway{Gateway: store.NewMemory(sink)}
	})
	token := a.registerUser(t, "alice")

	rec := a.do(t, http.MethodPost, "/api/v1/campaigns", token, map[string]string{"title": "Fix the streetlights"})
	var created models.Campaign
	decodeBody(t, rec, &created)

	rec = a.do(t, http.MethodPost, "/api/v1/campaigns/"+created.ID+"/vote", token, map[string]string{"type": "SUPPORT"})
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("vote status = %d, want 503", rec.Code)
	}

	// The speculative tally must have been rolled back.
	rec = a.do(t, http.MethodGet, "/api/v1/campaigns/"+created.ID, "", nil)
	var got models.Campaign
	decodeBody(t, rec, &got)
	if got.Votes != 0 {
		t.Errorf("votes after rollback = %d, want 0", got.Votes)
	}
}

func TestCacheStatsEndpoint(t *testing.T) {
	a := newTestAPI(t)
	rec := a.do(t, http.MethodGet, "/api/v1/cache/stats", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp statsResponse
	decodeBody(t, rec, &resp)
	if resp.Clients != 0 {
		t.Errorf("clients = %d, want 0", resp.Clients)
	}
}

func TestRealtimeStatusEndpoint(t *testing.T) {
	a := newTestAPI(t)
	rec := a.do(t, http.MethodGet, "/api/v1/realtime/status", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "is_connected") {
		t.Errorf("body missing connection state: %s", rec.Body.String())
	}
}

func TestRealtimeReconnectRequiresAdmin(t *testing.T) {
	a := newTestAPI(t)
	token := a.registerUser(t, "alice")
	rec := a.do(t, http.MethodPost, "/api/v1/realtime/reconnect", token, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403 for member", rec.Code)
	}
}

func TestRequestIDHeader(t *testing.T) {
	a := newTestAPI(t)
	rec := a.do(t, http.MethodGet, "/api/v1/health/live", "", nil)
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header missing")
	}
}
