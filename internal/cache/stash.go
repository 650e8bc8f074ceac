package cache

import (
	"bytes"
	"fmt"

	"github.com/miekg/dns"
)

// stashPrecondition mirrors stash_rrset_precond: a few cheap rejects
// applied before any work is done to fold an RRSet into the store.
// Metatypes and bare RRSIGs never get their own entry (they ride
// along with the type they cover); NSEC3 is out of scope, matching
// the Non-goal on aggressive NSEC3 caching; only class IN is cached;
// names with an embedded zero byte can't be represented in lookup
// format unambiguously.
func stashPrecondition(rr dns.RR) error {
	if rr.Header().Class != dns.ClassINET {
		return fmt.Errorf("cache: only class IN is stashable")
	}
	rrtype := rr.Header().Rrtype
	if rrtype == dns.TypeRRSIG || rrtype == dns.TypeOPT || rrtype == dns.TypeTSIG {
		return fmt.Errorf("cache: %s is not stashable directly", dns.TypeToString[rrtype])
	}
	if rrtype == dns.TypeNSEC3 {
		return fmt.Errorf("cache: nsec3 caching is not implemented")
	}
	if _, err := nameToLF(rr.Header().Name); err != nil {
		return err
	}
	return nil
}

// rrsigFor returns the RRSIG(s) in sigs covering rrtype at owner, in
// the order they were encountered in the section. Pairing is by
// (owner, type-covered), matching how an answer's ANSWER/AUTHORITY
// sections interleave an RRset with its signatures.
func rrsigFor(sigs []*dns.RRSIG, owner string, rrtype uint16) []*dns.RRSIG {
	var out []*dns.RRSIG
	for _, sig := range sigs {
		if sig.TypeCovered == rrtype && equalFoldFQDN(sig.Header().Name, owner) {
			out = append(out, sig)
		}
	}
	return out
}

func equalFoldFQDN(a, b string) bool {
	return foldCompare(a, b)
}

func foldCompare(a, b string) bool {
	a, b = dns.Fqdn(a), dns.Fqdn(b)
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// StashRRSet is one (possibly signed) RRSet offered to Stash, the
// granularity at which the cache is populated. Grounded on
// stash_rrset's parameters (rr, rr_sigs, rank, timestamp); Stash
// itself loops this over every RRSet an answer carries, the way
// cache_stash loops stash_rrset over an answer's ANSWER/AUTHORITY
// sections.
type StashRRSet struct {
	RRs   []dns.RR
	RRSIG *dns.RRSIG // nil if unsigned
	Rank  Rank
}

// Stash folds a list of (owner,type) RRSets into the store, sharing
// the timestamp and config-derived TTL clamps across the whole call
// the way a single cache_stash invocation shares one `timestamp`
// across every RRset in an answer. Stash is best-effort: a set that
// fails to stash (including on a backend write failure) is skipped,
// the remaining sets are still processed, and no error is returned.
func (c *Cache) Stash(now uint32, sets []StashRRSet) (int, error) {
	written := 0
	for _, set := range sets {
		ok, err := c.stashOne(now, set)
		if err != nil {
			continue
		}
		if ok {
			written++
		}
	}
	return written, nil
}

func (c *Cache) stashOne(now uint32, set StashRRSet) (bool, error) {
	if len(set.RRs) == 0 {
		return false, nil
	}
	owner := set.RRs[0].Header().Name
	rrtype := set.RRs[0].Header().Rrtype
	if err := stashPrecondition(set.RRs[0]); err != nil {
		return false, nil // precondition failures are silent skips, not hard errors
	}
	if set.Rank.Security() == RankBogus {
		// BOGUS is only stored in packet form (see StashPacket).
		return false, nil
	}

	wildLabels := 0
	if set.RRSIG != nil {
		wildLabels = labelCount(owner) - int(set.RRSIG.Labels)
		if wildLabels < 0 {
			return false, nil
		}
	}
	encloser, err := splitOwnerLabels(owner, wildLabels)
	if err != nil {
		return false, nil
	}
	// A wildcard-sourced RRSet (RRSIG covering fewer labels than the
	// owner has) is stored under the wildcard owner itself, so the
	// peek side's source-of-synthesis probe finds it directly.
	storageName := encloser
	if wildLabels > 0 {
		storageName = "*." + encloser
	}
	storageLF, err := nameToLF(storageName)
	if err != nil {
		return false, nil
	}

	var key []byte
	if rrtype == dns.TypeNSEC {
		if set.Rank.Security() != RankSecure {
			// Unvalidated NSECs are worthless as proofs and, per
			// entryConsistent, can't be represented outside
			// packet form anyway.
			return false, nil
		}
		if set.RRSIG == nil {
			return false, fmt.Errorf("cache: nsec rrset without rrsig")
		}
		// The signer names the zone the NSEC chain belongs to; its LF
		// length is the key's zone/own-label split point.
		zlf, err := nameToLF(dns.Fqdn(set.RRSIG.SignerName))
		if err != nil {
			return false, nil
		}
		if len(zlf) > len(storageLF) || !bytes.Equal(storageLF[:len(zlf)], zlf) ||
			(len(zlf) < len(storageLF) && storageLF[len(zlf)] != 0) {
			// Owner outside its signer's zone: bad signature coverage.
			return false, nil
		}
		key = keyNSEC1(storageLF, len(zlf))
	} else {
		key = keyExact(storageLF, TagExact, storageType(rrtype))
	}

	rrTail, err := dematerializeRRSet(set.RRs)
	if err != nil {
		return false, err
	}
	var sigRRs []dns.RR
	if set.RRSIG != nil {
		sigRRs = []dns.RR{set.RRSIG}
	}
	sigTail, err := dematerializeRRSet(sigRRs)
	if err != nil {
		return false, err
	}

	rrTTLs := make([]uint32, len(set.RRs))
	for i, rr := range set.RRs {
		rrTTLs[i] = rr.Header().Ttl
	}
	var sigTTLs []uint32
	if set.RRSIG != nil {
		sigTTLs = []uint32{set.RRSIG.Header().Ttl}
	}
	ttl := minTTL(rrTTLs, sigTTLs)
	clamped := clampSeconds(ttl, c.ttlMin, c.ttlMax)

	flags := entryFlags(0)
	switch rrtype {
	case dns.TypeNS:
		flags |= flagHasNS
	case dns.TypeCNAME:
		flags |= flagHasCNAME
	case dns.TypeDNAME:
		flags |= flagHasDNAME
	case dns.TypeNSEC:
		flags |= flagHasNSEC
	}

	candidate := entryHeader{Time: now, TTL: clamped, Rank: set.Rank, Flags: flags}
	if !c.winsOverExisting(key, candidate) {
		return false, nil
	}

	buf := make([]byte, entryHeaderLen+len(rrTail)+len(sigTail))
	packHeader(buf, candidate)
	copy(buf[entryHeaderLen:], rrTail)
	copy(buf[entryHeaderLen+len(rrTail):], sigTail)

	if err := c.backend.Write(key, buf); err != nil {
		c.m.BackendError("write")
		return false, err
	}
	c.stats.Insert++
	c.m.Insert()
	return true, nil
}

func clampSeconds(ttl uint32, min, max uint32) uint32 {
	if max > 0 && ttl > max {
		return max
	}
	if ttl < min {
		return min
	}
	return ttl
}

// InsertRR stashes a single validated RRset plus its optional RRSIG,
// the programmatic single-entry counterpart of kr_cache_insert_rr.
func (c *Cache) InsertRR(rrs []dns.RR, sig *dns.RRSIG, rank Rank, now uint32) error {
	_, err := c.stashOne(now, StashRRSet{RRs: rrs, RRSIG: sig, Rank: rank})
	return err
}

// BuildStashSets groups a flat list of RRs (as they come out of an
// answer's ANSWER+AUTHORITY sections) into per-(owner,type) RRSets
// and pairs each with its covering RRSIG, the same grouping
// cache_stash's caller performs before invoking stash_rrset per set.
// Every RR in `section` is assumed to share `rank`; a resolver
// validates per section, not per individual RR.
func BuildStashSets(section []dns.RR, rank Rank) []StashRRSet {
	var sigs []*dns.RRSIG
	order := make([]string, 0, len(section))
	groups := make(map[string][]dns.RR)
	for _, rr := range section {
		if sig, ok := rr.(*dns.RRSIG); ok {
			sigs = append(sigs, sig)
			continue
		}
		k := groupKey(rr.Header().Name, rr.Header().Rrtype)
		if _, seen := groups[k]; !seen {
			order = append(order, k)
		}
		groups[k] = append(groups[k], rr)
	}

	sets := make([]StashRRSet, 0, len(order))
	for _, k := range order {
		rrs := groups[k]
		owner, rrtype := rrs[0].Header().Name, rrs[0].Header().Rrtype
		matching := rrsigFor(sigs, owner, rrtype)
		set := StashRRSet{RRs: rrs, Rank: rank}
		if len(matching) > 0 {
			// stash_rrarray_entry scans backward so a later RRSIG in
			// the section wins; sigs is in forward section order, so
			// the most recent one seen is the last match.
			set.RRSIG = matching[len(matching)-1]
		}
		sets = append(sets, set)
	}
	return sets
}

func groupKey(owner string, rrtype uint16) string {
	return fmt.Sprintf("%s/%d", dns.Fqdn(owner), rrtype)
}
