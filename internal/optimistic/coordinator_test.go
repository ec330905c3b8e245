// Civitas - Civic Engagement Platform
// Copyright 2026 Civitas Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civitashq/civitas

package optimistic

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/civitashq/civitas/internal/cache"
	"github.com/civitashq/civitas/internal/models"
)

func testStore(t *testing.T) *cache.Store {
	t.Helper()
	s := cache.New(cache.Options{})
	t.Cleanup(s.Close)
	return s
}

func seedCampaign(t *testing.T, s *cache.Store, key string, c models.Campaign) {
	t.Helper()
	err := s.Set(key, func(interface{}, bool) (interface{}, error) { return c, nil })
	if err != nil {
		t.Fatalf("seed %s: %v", key, err)
	}
}

func campaignAt(t *testing.T, s *cache.Store, key string) models.Campaign {
	t.Helper()
	v, ok := s.GetData(key)
	if !ok {
		t.Fatalf("no entry at %s", key)
	}
	c, ok := v.(models.Campaign)
	if !ok {
		t.Fatalf("entry at %s is %T, want Campaign", key, v)
	}
	return c
}

func speculateVotes(delta int) cache.Updater {
	return func(prev interface{}, found bool) (interface{}, error) {
		if !found {
			return nil, errors.New("campaign not cached")
		}
		c := prev.(models.Campaign).Clone()
		c.Votes += delta
		return c, nil
	}
}

func TestExecuteRollsBackOnSendFailure(t *testing.T) {
	s := testStore(t)
	co := New(s, DefaultConfig())
	key := "campaigns:id:c1"
	seedCampaign(t, s, key, models.Campaign{ID: "c1", Votes: 10})

	var speculated models.Campaign
	_, err := co.Execute(context.Background(), MutationRequest{
		Kind:      "campaign.vote",
		Keys:      []string{key},
		Speculate: map[string]cache.Updater{key: speculateVotes(1)},
		Send: func(context.Context) (interface{}, error) {
			speculated = campaignAt(t, s, key)
			return nil, errors.New("store unavailable")
		},
	})
	if err == nil {
		t.Fatal("Execute: want send error")
	}
	if speculated.Votes != 11 {
		t.Errorf("during send: Votes = %d, want speculative 11", speculated.Votes)
	}
	if got := campaignAt(t, s, key); got.Votes != 10 {
		t.Errorf("after rollback: Votes = %d, want 10", got.Votes)
	}
	if co.IsPending(key) {
		t.Error("key still pending after settle")
	}

	st := co.GetStats()
	if st.RolledBack != 1 || st.Committed != 0 {
		t.Errorf("stats = %+v", st)
	}
}

func TestExecuteReconcilesOnSuccess(t *testing.T) {
	s := testStore(t)
	co := New(s, DefaultConfig())
	key := "campaigns:id:c1"
	seedCampaign(t, s, key, models.Campaign{ID: "c1", Votes: 10})

	// The store's answer differs from the speculation (another voter landed
	// first); the cache must converge on the store's value.
	server := models.Campaign{ID: "c1", Votes: 12, UserVote: models.VoteSupport}
	result, err := co.Execute(context.Background(), MutationRequest{
		Kind:      "campaign.vote",
		Keys:      []string{key},
		Speculate: map[string]cache.Updater{key: speculateVotes(1)},
		Send: func(context.Context) (interface{}, error) {
			return server, nil
		},
		Reconcile: map[string]func(interface{}) cache.Updater{
			key: func(result interface{}) cache.Updater {
				return func(interface{}, bool) (interface{}, error) {
					return result.(models.Campaign), nil
				}
			},
		},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.(models.Campaign).Votes != 12 {
		t.Errorf("result votes = %d", result.(models.Campaign).Votes)
	}
	if got := campaignAt(t, s, key); got.Votes != 12 || got.UserVote != models.VoteSupport {
		t.Errorf("reconciled = %+v, want server value", got)
	}
}

func TestExecuteRemovesEntryCreatedBySpeculation(t *testing.T) {
	s := testStore(t)
	co := New(s, DefaultConfig())
	key := "campaigns:id:new"

	_, err := co.Execute(context.Background(), MutationRequest{
		Kind: "campaign.create",
		Keys: []string{key},
		Speculate: map[string]cache.Updater{key: func(interface{}, bool) (interface{}, error) {
			return models.Campaign{ID: "new", Title: "draft"}, nil
		}},
		Send: func(context.Context) (interface{}, error) {
			return nil, errors.New("rejected")
		},
	})
	if err == nil {
		t.Fatal("Execute: want error")
	}
	if _, ok := s.GetData(key); ok {
		t.Error("entry created by speculation must be removed on rollback")
	}
}

func TestLastWriterWinsOnSharedKey(t *testing.T) {
	s := testStore(t)
	co := New(s, DefaultConfig())
	key := "campaigns:id:c1"
	seedCampaign(t, s, key, models.Campaign{ID: "c1", Votes: 10})

	firstSending := make(chan struct{})
	firstRelease := make(chan struct{})
	firstDone := make(chan error, 1)

	// First mutation speculates +1 and stalls in its send.
	go func() {
		_, err := co.Execute(context.Background(), MutationRequest{
			Kind:      "campaign.vote",
			Keys:      []string{key},
			Speculate: map[string]cache.Updater{key: speculateVotes(1)},
			Send: func(context.Context) (interface{}, error) {
				close(firstSending)
				<-firstRelease
				return nil, errors.New("lost the race")
			},
		})
		firstDone <- err
	}()
	<-firstSending

	// Second mutation takes over the key and commits Votes=50.
	_, err := co.Execute(context.Background(), MutationRequest{
		Kind:      "campaign.update",
		Keys:      []string{key},
		Speculate: map[string]cache.Updater{key: func(prev interface{}, found bool) (interface{}, error) {
			c := prev.(models.Campaign).Clone()
			c.Votes = 50
			return c, nil
		}},
		Send: func(context.Context) (interface{}, error) { return nil, nil },
	})
	if err != nil {
		t.Fatalf("second Execute: %v", err)
	}

	// First mutation now fails; its rollback must not clobber the newer
	// mutation's committed value.
	close(firstRelease)
	if err := <-firstDone; err == nil {
		t.Fatal("first Execute: want error")
	}
	if got := campaignAt(t, s, key); got.Votes != 50 {
		t.Errorf("Votes = %d, want 50 (older rollback must not win)", got.Votes)
	}
}

func TestExecuteInvalidatesRegisteredPatterns(t *testing.T) {
	s := testStore(t)
	co := New(s, DefaultConfig())
	co.RegisterKind("campaign.create", "campaigns:search:*")

	detail := "campaigns:id:c1"
	searchKey := "campaigns:search:abc123"
	wonderKey := "wonders:search:zzz"
	seedCampaign(t, s, detail, models.Campaign{ID: "c1"})
	seedCampaign(t, s, searchKey, models.Campaign{})
	seedCampaign(t, s, wonderKey, models.Campaign{})

	_, err := co.Execute(context.Background(), MutationRequest{
		Kind: "campaign.create",
		Keys: []string{detail},
		Send: func(context.Context) (interface{}, error) { return nil, nil },
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	now := time.Now()
	if e, _ := s.Get(searchKey); !e.IsStale(now) {
		t.Error("campaign search entries must be invalidated by campaign.create")
	}
	if e, _ := s.Get(wonderKey); e.Stale {
		t.Error("unrelated wonder search entry must not be invalidated")
	}
	if e, _ := s.Get(detail); e.Stale {
		t.Error("detail key invalidated without being named in a pattern")
	}
}

func TestExecuteSendTimeout(t *testing.T) {
	s := testStore(t)
	co := New(s, Config{SendTimeout: 10 * time.Millisecond})
	key := "campaigns:id:c1"
	seedCampaign(t, s, key, models.Campaign{ID: "c1", Votes: 3})

	_, err := co.Execute(context.Background(), MutationRequest{
		Kind:      "campaign.vote",
		Keys:      []string{key},
		Speculate: map[string]cache.Updater{key: speculateVotes(1)},
		Send: func(ctx context.Context) (interface{}, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Execute: %v, want deadline exceeded", err)
	}
	if got := campaignAt(t, s, key); got.Votes != 3 {
		t.Errorf("Votes = %d, want 3 after timed-out send rolled back", got.Votes)
	}
}

func TestSettleListeners(t *testing.T) {
	s := testStore(t)
	co := New(s, DefaultConfig())
	key := "campaigns:id:c1"
	seedCampaign(t, s, key, models.Campaign{ID: "c1"})

	type settled struct {
		kind    string
		outcome Outcome
	}
	var got []settled
	co.OnSettle(func(kind string, keys []string, outcome Outcome) {
		got = append(got, settled{kind, outcome})
	})

	_, _ = co.Execute(context.Background(), MutationRequest{
		Kind: "campaign.update",
		Keys: []string{key},
		Send: func(context.Context) (interface{}, error) { return nil, nil },
	})
	_, _ = co.Execute(context.Background(), MutationRequest{
		Kind: "campaign.update",
		Keys: []string{key},
		Send: func(context.Context) (interface{}, error) { return nil, errors.New("no") },
	})

	want := []settled{
		{"campaign.update", OutcomeCommitted},
		{"campaign.update", OutcomeRolledBack},
	}
	if len(got) != len(want) {
		t.Fatalf("settled = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("settle[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}
