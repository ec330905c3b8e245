// Civitas - Civic Engagement Platform
// Copyright 2026 Civitas Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civitashq/civitas

package cache

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func newTestStore(t *testing.T, opts Options) *Store {
	t.Helper()
	s := New(opts)
	t.Cleanup(s.Close)
	return s
}

func setValue(t *testing.T, s *Store, key string, value interface{}) {
	t.Helper()
	err := s.Set(key, func(interface{}, bool) (interface{}, error) { return value, nil })
	if err != nil {
		t.Fatalf("set %s: %v", key, err)
	}
}

func TestSetAndGet(t *testing.T) {
	s := newTestStore(t, Options{})

	setValue(t, s, "campaigns:id:c1", "v1")

	e, ok := s.Get("campaigns:id:c1")
	if !ok || e.Value != "v1" {
		t.Fatalf("get = %+v, %v", e, ok)
	}
	if e.Stale {
		t.Error("fresh entry marked stale")
	}
	if _, ok := s.Get("campaigns:id:nope"); ok {
		t.Error("missing key reported present")
	}

	st := s.GetStats()
	if st.Hits != 1 || st.Misses != 1 || st.Entries != 1 {
		t.Errorf("stats = %+v", st)
	}
}

func TestSetUpdaterSeesPreviousValue(t *testing.T) {
	s := newTestStore(t, Options{})

	err := s.Set("counter", func(prev interface{}, found bool) (interface{}, error) {
		if found {
			t.Error("first write reported found")
		}
		return 1, nil
	})
	if err != nil {
		t.Fatalf("set: %v", err)
	}
	err = s.Set("counter", func(prev interface{}, found bool) (interface{}, error) {
		if !found || prev != 1 {
			t.Errorf("prev = %v, found = %v", prev, found)
		}
		return 2, nil
	})
	if err != nil {
		t.Fatalf("set: %v", err)
	}
	if v, _ := s.GetData("counter"); v != 2 {
		t.Errorf("value = %v, want 2", v)
	}
}

func TestSetUpdaterErrorLeavesEntryUntouched(t *testing.T) {
	s := newTestStore(t, Options{})
	setValue(t, s, "campaigns:id:c1", "original")

	boom := errors.New("boom")
	err := s.Set("campaigns:id:c1", func(interface{}, bool) (interface{}, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped boom", err)
	}
	if v, _ := s.GetData("campaigns:id:c1"); v != "original" {
		t.Errorf("value = %v, want original", v)
	}

	// A failing updater must not create an entry either.
	_ = s.Set("new:key", func(interface{}, bool) (interface{}, error) { return nil, boom })
	if _, ok := s.Get("new:key"); ok {
		t.Error("failed update created an entry")
	}
}

func TestSetMatchingUpdatesOnlyExistingEntries(t *testing.T) {
	s := newTestStore(t, Options{})
	setValue(t, s, "campaigns:search:abc", "list-a")
	setValue(t, s, "campaigns:search:def", "list-b")
	setValue(t, s, "wonders:search:abc", "other")

	n, err := s.SetMatching("campaigns:search:*", func(prev interface{}, found bool) (interface{}, error) {
		return prev.(string) + "!", nil
	})
	if err != nil || n != 2 {
		t.Fatalf("updated = %d, err = %v", n, err)
	}
	if v, _ := s.GetData("campaigns:search:abc"); v != "list-a!" {
		t.Errorf("value = %v", v)
	}
	if v, _ := s.GetData("wonders:search:abc"); v != "other" {
		t.Errorf("non-matching entry changed: %v", v)
	}

	// A literal key is also a valid pattern; no entry means no update.
	n, err = s.SetMatching("campaigns:id:missing", func(interface{}, bool) (interface{}, error) {
		t.Error("updater ran for absent entry")
		return nil, nil
	})
	if err != nil || n != 0 {
		t.Fatalf("updated = %d, err = %v", n, err)
	}
}

func TestInvalidateMarksStaleAndRefetchesObserved(t *testing.T) {
	s := newTestStore(t, Options{})

	var mu sync.Mutex
	refetched := map[string]int{}
	s.SetRefetcher(func(key string) {
		mu.Lock()
		refetched[key]++
		mu.Unlock()
	})

	setValue(t, s, "campaigns:search:abc", "a")
	setValue(t, s, "campaigns:search:def", "b")
	setValue(t, s, "campaigns:id:c1", "c")
	s.Observe("campaigns:search:abc")

	if n := s.Invalidate("campaigns:search:*"); n != 2 {
		t.Fatalf("invalidated = %d, want 2", n)
	}

	for _, key := range []string{"campaigns:search:abc", "campaigns:search:def"} {
		if e, _ := s.Get(key); !e.Stale {
			t.Errorf("%s not stale", key)
		}
	}
	if e, _ := s.Get("campaigns:id:c1"); e.Stale {
		t.Error("non-matching entry went stale")
	}

	// Only the observed entry is refetched; the rest wait for the next read.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := refetched["campaigns:search:abc"]
		mu.Unlock()
		if n == 1 {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	mu.Lock()
	defer mu.Unlock()
	if refetched["campaigns:search:abc"] != 1 {
		t.Errorf("observed entry refetched %d times, want 1", refetched["campaigns:search:abc"])
	}
	if refetched["campaigns:search:def"] != 0 {
		t.Errorf("unobserved entry refetched %d times, want 0", refetched["campaigns:search:def"])
	}
}

func TestObserveCreatesPlaceholderAndReleaseDecrements(t *testing.T) {
	s := newTestStore(t, Options{})

	s.Observe("campaigns:id:c1")
	e, ok := s.Get("campaigns:id:c1")
	if !ok || e.Observers != 1 || !e.Stale {
		t.Fatalf("placeholder = %+v, %v", e, ok)
	}

	s.Observe("campaigns:id:c1")
	s.Release("campaigns:id:c1")
	if e, _ := s.Get("campaigns:id:c1"); e.Observers != 1 {
		t.Errorf("observers = %d, want 1", e.Observers)
	}

	// Release below zero is clamped.
	s.Release("campaigns:id:c1")
	s.Release("campaigns:id:c1")
	if e, _ := s.Get("campaigns:id:c1"); e.Observers != 0 {
		t.Errorf("observers = %d, want 0", e.Observers)
	}
}

func TestRemoveDeletesEntry(t *testing.T) {
	s := newTestStore(t, Options{})
	setValue(t, s, "campaigns:id:c1", "v")

	s.Remove("campaigns:id:c1")
	if _, ok := s.Get("campaigns:id:c1"); ok {
		t.Error("entry still present after remove")
	}
	if st := s.GetStats(); st.Evictions != 1 {
		t.Errorf("evictions = %d, want 1", st.Evictions)
	}
	// Removing an absent key is a no-op.
	s.Remove("campaigns:id:c1")
	if st := s.GetStats(); st.Evictions != 1 {
		t.Errorf("evictions = %d after double remove", st.Evictions)
	}
}

func TestOnChangeObserverNotified(t *testing.T) {
	s := newTestStore(t, Options{})

	var mu sync.Mutex
	var seen []string
	s.OnChange(func(key string, value interface{}) {
		mu.Lock()
		seen = append(seen, key+"="+value.(string))
		mu.Unlock()
	})

	setValue(t, s, "campaigns:id:c1", "v1")
	setValue(t, s, "campaigns:id:c1", "v2")

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 || seen[0] != "campaigns:id:c1=v1" || seen[1] != "campaigns:id:c1=v2" {
		t.Errorf("notifications = %v", seen)
	}
}

func TestCleanupEvictsUnobservedOnly(t *testing.T) {
	s := newTestStore(t, Options{GCAfter: time.Nanosecond, CleanupInterval: time.Hour})
	setValue(t, s, "campaigns:id:old", "v")
	setValue(t, s, "campaigns:id:watched", "v")
	s.Observe("campaigns:id:watched")
	time.Sleep(2 * time.Millisecond)

	s.cleanup()

	if _, ok := s.Get("campaigns:id:old"); ok {
		t.Error("unobserved entry survived GC")
	}
	if _, ok := s.Get("campaigns:id:watched"); !ok {
		t.Error("observed entry garbage collected")
	}
	st := s.GetStats()
	if st.Evictions != 1 || st.LastCleanup.IsZero() {
		t.Errorf("stats = %+v", st)
	}
}

func TestHitRate(t *testing.T) {
	s := newTestStore(t, Options{})
	if r := s.HitRate(); r != 0 {
		t.Errorf("empty hit rate = %v", r)
	}
	setValue(t, s, "k", "v")
	s.Get("k")
	s.Get("k")
	s.Get("missing")
	s.Get("missing")
	if r := s.HitRate(); r != 50.0 {
		t.Errorf("hit rate = %v, want 50", r)
	}
}

func TestKeyIsStableAcrossEquivalentInputs(t *testing.T) {
	type params struct {
		Query string `json:"query"`
		Page  int    `json:"page"`
	}

	a := Key("campaigns:search", params{Query: "parks", Page: 1})
	b := Key("campaigns:search", params{Query: "parks", Page: 1})
	c := Key("campaigns:search", params{Query: "parks", Page: 2})

	if a != b {
		t.Errorf("equal inputs produced different keys: %s vs %s", a, b)
	}
	if a == c {
		t.Error("different inputs produced the same key")
	}
	if Key("campaigns:search", nil) != "campaigns:search" {
		t.Error("nil input must key on the operation alone")
	}
}

func TestConcurrentAccess(t *testing.T) {
	s := newTestStore(t, Options{})
	const goroutines = 8
	const iterations = 200

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func(n int) {
			defer wg.Done()
			key := Key("campaigns:id", n%4)
			for j := 0; j < iterations; j++ {
				_ = s.Set(key, func(interface{}, bool) (interface{}, error) { return j, nil })
				s.Get(key)
				s.Observe(key)
				s.Release(key)
				s.Invalidate("campaigns:id:*")
			}
		}(i)
	}
	wg.Wait()

	if st := s.GetStats(); st.Entries != 4 {
		t.Errorf("entries = %d, want 4", st.Entries)
	}
}
