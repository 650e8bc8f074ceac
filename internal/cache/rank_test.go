package cache

import "testing"

func TestLowestRank(t *testing.T) {
	cases := []struct {
		name string
		p    GateParams
		want Rank
	}{
		{"nonauth query accepts anything", GateParams{Nonauth: true}, RankInitial},
		{"stub/CD requires only auth", GateParams{AllowUnverified: true}, RankInitial | RankAuth},
		{"TA coverage requires insecure+auth", GateParams{TACovers: true}, RankInsecure | RankAuth},
		{"validating, no TA coverage requires only auth", GateParams{}, RankInitial | RankAuth},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := LowestRank(c.p); got != c.want {
				t.Errorf("LowestRank(%+v) = %v, want %v", c.p, got, c.want)
			}
		})
	}
}

func TestRankSatisfies(t *testing.T) {
	lowest := RankInsecure | RankAuth
	if !(RankSecure | RankAuth).Satisfies(lowest) {
		t.Error("SECURE|AUTH should satisfy INSECURE|AUTH")
	}
	if (RankInsecure).Satisfies(lowest) {
		t.Error("INSECURE without AUTH must not satisfy a lowest rank requiring AUTH")
	}
	if (RankSecure).Satisfies(lowest) {
		t.Error("SECURE without AUTH must not satisfy a lowest rank requiring AUTH, regardless of security level")
	}
}

func TestRankSecurityMasksOffAuth(t *testing.T) {
	r := RankSecure | RankAuth
	if r.Security() != RankSecure {
		t.Errorf("Security() = %v, want RankSecure", r.Security())
	}
	if !r.HasAuth() {
		t.Error("HasAuth() should be true")
	}
}
