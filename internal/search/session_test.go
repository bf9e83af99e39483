package search

import (
	"testing"
	"time"
)

func TestSessionFreshAt(t *testing.T) {
	now := time.Now()
	results := []SourceItem{{URL: "https://a.example/1", ID: "x"}}
	cases := []struct {
		name    string
		session Session
		ttl     time.Duration
		want    bool
	}{
		{"recent", Session{Results: results, UpdatedAt: now.Add(-time.Minute)}, 15 * time.Minute, true},
		{"expired", Session{Results: results, UpdatedAt: now.Add(-time.Hour)}, 15 * time.Minute, false},
		{"default ttl", Session{Results: results, UpdatedAt: now.Add(-10 * time.Minute)}, 0, true},
		{"no results", Session{UpdatedAt: now}, 15 * time.Minute, false},
		{"zero value", Session{}, 15 * time.Minute, false},
	}
	for _, tc := range cases {
		if got := tc.session.FreshAt(now, tc.ttl); got != tc.want {
			t.Errorf("%s: FreshAt = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestSessionPrimarySource(t *testing.T) {
	a := SourceItem{URL: "https://a.example/1", ID: "a"}
	b := SourceItem{URL: "https://b.example/2", ID: "b"}

	s := Session{Results: []SourceItem{a, b}, PrimaryID: "b"}
	got, ok := s.primarySource()
	if !ok || got.ID != "b" {
		t.Errorf("primarySource = (%+v, %v)", got, ok)
	}

	// Recorded primary missing from results: fall back to the top result.
	s = Session{Results: []SourceItem{a, b}, PrimaryID: "gone"}
	got, ok = s.primarySource()
	if !ok || got.ID != "a" {
		t.Errorf("fallback primarySource = (%+v, %v)", got, ok)
	}

	if _, ok := (Session{}).primarySource(); ok {
		t.Error("empty session produced a primary source")
	}
}
