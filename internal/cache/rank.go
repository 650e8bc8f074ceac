package cache

// Rank is the validation-provenance bitfield carried by every cache
// entry (entry_h.rank on disk). It forms a lattice over a security
// axis (INITIAL < BOGUS < INSECURE < SECURE) and an authority axis
// (NONAUTH < AUTH), arranged so that a single unsigned comparison
// `entry.Rank >= lowestRank` implements the full two-axis gate: the
// AUTH bit is given a higher weight than any security value, so an
// entry missing AUTH can never satisfy a lowest-rank that requires it,
// regardless of its security value.
type Rank uint8

const (
	// RankInitial means no validation has been attempted.
	RankInitial Rank = 0
	// RankBogus means DNSSEC validation failed. Only ever stored
	// paired with is_packet (a cached negative/SERVFAIL-shaped
	// answer kept around for +CD queries); see entry_h_consistent.
	RankBogus Rank = 1
	// RankInsecure means the name is provably outside any trust
	// anchor's coverage.
	RankInsecure Rank = 2
	// RankSecure means DNSSEC validation succeeded.
	RankSecure Rank = 3

	rankSecurityMask Rank = 0x07

	// RankAuth marks data that came from an authoritative or
	// otherwise trusted source, as opposed to e.g. additional-section
	// glue. Weighted above the security axis so it dominates the
	// `>=` comparison.
	RankAuth    Rank = 0x08
	RankNonauth Rank = 0
)

// Satisfies reports whether rank clears the lowest acceptable rank
// computed by LowestRank, i.e. "entry.rank >= lowest_rank" under the
// lattice ordering described above.
func (rank Rank) Satisfies(lowest Rank) bool {
	return rank >= lowest
}

// HasAuth reports whether the AUTH bit is set.
func (rank Rank) HasAuth() bool {
	return rank&RankAuth != 0
}

// Security returns just the security-axis component of rank.
func (rank Rank) Security() Rank {
	return rank & rankSecurityMask
}

// GateParams carries the inputs get_lowest_rank needs: request-level
// and query-level flags, plus whether a trust anchor covers the name
// being looked up. All of this is produced by the resolver/validator,
// which the cache treats as an external collaborator.
type GateParams struct {
	// Nonauth is set when the query was only issued to obtain
	// non-authoritative glue (e.g. an NS address); such records
	// never need a security verdict.
	Nonauth bool
	// Stub mode or a client request with the CD (checking disabled)
	// bit set: the resolver doesn't validate, so accept anything
	// that's at least authoritative.
	AllowUnverified bool
	// TACovers reports whether a trust anchor covers (sname, stype).
	TACovers bool
}

// LowestRank computes the minimum acceptable rank for a query:
// NONAUTH queries accept anything; STUB/CD-bit queries
// and queries for names without trust-anchor coverage require only
// AUTH; queries under a trust anchor require at least INSECURE and
// AUTH.
func LowestRank(p GateParams) Rank {
	if p.Nonauth {
		return RankInitial
	}
	if p.AllowUnverified {
		return RankInitial | RankAuth
	}
	if p.TACovers {
		return RankInsecure | RankAuth
	}
	return RankInitial | RankAuth
}
