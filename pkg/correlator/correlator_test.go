package correlator

import "testing"

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"My Project!!":   "my-project",
		"  leading   ":    "leading",
		"already-slug":    "already-slug",
		"Under_Score 123": "under-score-123",
	}
	for in, want := range cases {
		if got := slugify(in); got != want {
			t.Errorf("slugify(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestShortID(t *testing.T) {
	if got := shortID("abcdefghij"); got != "abcdefgh" {
		t.Errorf("shortID long = %q, want abcdefgh", got)
	}
	if got := shortID("abc"); got != "abc" {
		t.Errorf("shortID short = %q, want abc", got)
	}
}

func TestCacheSessionMapping_RoundTrips(t *testing.T) {
	c := New(0)
	c.CacheSessionMapping("sess-1", "agent-1")
	got, ok := c.cachedAgentID("sess-1")
	if !ok || got != "agent-1" {
		t.Fatalf("cachedAgentID = (%q, %v), want (agent-1, true)", got, ok)
	}
}

func TestClearSessionCache(t *testing.T) {
	c := New(0)
	c.CacheSessionMapping("sess-1", "agent-1")
	c.ClearSessionCache()
	if _, ok := c.cachedAgentID("sess-1"); ok {
		t.Fatal("expected cache to be empty after ClearSessionCache")
	}
}
