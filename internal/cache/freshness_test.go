package cache

import "testing"

func TestNewTTL_DecreasesWithAge(t *testing.T) {
	h := entryHeader{Time: 1000, TTL: 300}
	a := newTTL(h, 1000, "a.example.", 1, nil)
	b := newTTL(h, 1200, "a.example.", 1, nil)
	if !(a > b) {
		t.Errorf("newTTL should decrease as now advances: got a=%d b=%d", a, b)
	}
	if b != 100 {
		t.Errorf("newTTL(now=1200) = %d, want 100", b)
	}
}

func TestNewTTL_NegativeWithoutStaleCallback(t *testing.T) {
	h := entryHeader{Time: 1000, TTL: 300}
	got := newTTL(h, 2000, "a.example.", 1, nil)
	if got >= 0 {
		t.Errorf("newTTL past expiry with no stale callback should be negative, got %d", got)
	}
}

func TestNewTTL_StaleCallbackCanRescue(t *testing.T) {
	h := entryHeader{Time: 1000, TTL: 300}
	cb := func(remaining int32, owner string, rrtype uint16) int32 { return 5 }
	got := newTTL(h, 2000, "a.example.", 1, cb)
	if got != 5 {
		t.Errorf("newTTL with a rescuing stale callback = %d, want 5", got)
	}
}

func TestClampSeconds(t *testing.T) {
	if got := clampSeconds(1, 5, 100); got != 5 {
		t.Errorf("clampSeconds(1, min=5) = %d, want 5", got)
	}
	if got := clampSeconds(1000, 5, 100); got != 100 {
		t.Errorf("clampSeconds(1000, max=100) = %d, want 100", got)
	}
	if got := clampSeconds(50, 5, 100); got != 50 {
		t.Errorf("clampSeconds(50) = %d, want 50 unchanged", got)
	}
}

func TestShouldOverwrite(t *testing.T) {
	lower := entryHeader{Time: 100, Rank: RankInsecure | RankAuth}
	higher := entryHeader{Time: 100, Rank: RankSecure | RankAuth}

	if !shouldOverwrite(entryHeader{}, false, lower) {
		t.Error("a candidate must always win over no prior entry")
	}
	if !shouldOverwrite(lower, true, higher) {
		t.Error("a higher-rank candidate must overwrite a lower-rank entry")
	}
	if shouldOverwrite(higher, true, lower) {
		t.Error("a lower-rank candidate must not overwrite a higher-rank entry")
	}
	tied := entryHeader{Time: 200, Rank: RankSecure | RankAuth}
	if !shouldOverwrite(higher, true, tied) {
		t.Error("a same-rank, newer candidate must overwrite")
	}
	if shouldOverwrite(tied, true, higher) {
		t.Error("a same-rank, older candidate must not overwrite")
	}
}
