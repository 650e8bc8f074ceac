package cache

import (
	"errors"

	"github.com/knotresolver/cachecore/internal/backend"
	"github.com/miekg/dns"
)

// cutHit is what closestNS returns: the zone cut it found (by NS) or
// an exact CNAME/DNAME short-circuit, per closest_NS's tie-break
// order (NS, then CNAME if exact, then DNAME if not exact).
type cutHit struct {
	zone     string // zone apex name the NS/cut was found at
	zlfLen   int    // length, in LF bytes, of the zone's own prefix
	rrtype   uint16 // dns.TypeNS, dns.TypeCNAME, or dns.TypeDNAME
	header   entryHeader
	tail     []byte
	owner    string // owner the hit's RRs should be rematerialized under
}

// rankMinNonNS is the minimum rank any non-NS hit during the walk
// needs (INSECURE|AUTH); NS itself is accepted at any rank since
// delegation information has to be followed regardless of its
// validation status (see the Open Question on this in the design
// notes).
const rankMinNonNS = RankInsecure | RankAuth

// closestNS walks from sname up to the root, one label at a time,
// looking for the longest-prefix NS entry (or an exact CNAME / a
// non-exact DNAME riding the same key, since xNAME is colocated with
// NS under the storage-type rewrite).
func (c *Cache) closestNS(sname string, stype uint16, now uint32, stale staleCallback) (*cutHit, error) {
	zone := dns.Fqdn(sname)
	exact := true
	for {
		zlf, err := nameToLF(zone)
		if err != nil {
			return nil, nil
		}
		key := keyExact(zlf, TagExact, dns.TypeNS)
		val, err := c.backend.Read(key)
		switch {
		case err == nil:
			hit, ok := c.evalCut(val, zone, exact, stype, now, stale)
			if ok {
				hit.zlfLen = len(zlf)
				return hit, nil
			}
		case errors.Is(err, backend.ErrNotFound):
			// try a shorter zone
		default:
			c.m.BackendError("read")
			return nil, err
		}

		if zone == "." {
			return nil, nil
		}
		zone = parentZone(zone)
		exact = false
	}
}

// evalCut inspects one NS-keyed entry for a usable NS, CNAME, or
// DNAME, in that tie-break order.
func (c *Cache) evalCut(val []byte, zone string, exact bool, stype uint16, now uint32, stale staleCallback) (*cutHit, bool) {
	h, tail, ok := entryConsistent(val)
	if !ok {
		return nil, false
	}

	// NS: any rank accepted, but skipped when we exactly hit the
	// query name and the query wants DS (DS lives in the parent).
	//
	// This entry's tail holds exactly one RRset (whichever of
	// NS/CNAME/DNAME was stashed most recently for this owner), so
	// has_ns/has_cname/has_dname are mutually exclusive here rather
	// than independent bits on a shared multi-RRset tail.
	if h.Flags.hasNS() && !(exact && stype == dns.TypeDS) {
		if ttl := newTTL(h, now, zone, dns.TypeNS, stale); ttl >= 0 && !h.Flags.isPacket() {
			return &cutHit{zone: zone, rrtype: dns.TypeNS, header: h, tail: tail, owner: zone}, true
		}
	}

	if exact && h.Flags.hasCNAME() {
		if ttl := newTTL(h, now, zone, dns.TypeCNAME, stale); ttl >= 0 && !h.Flags.isPacket() && h.Rank.Satisfies(rankMinNonNS) {
			return &cutHit{zone: zone, rrtype: dns.TypeCNAME, header: h, tail: tail, owner: zone}, true
		}
	}

	if !exact && h.Flags.hasDNAME() {
		if ttl := newTTL(h, now, zone, dns.TypeDNAME, stale); ttl >= 0 && !h.Flags.isPacket() && h.Rank.Satisfies(rankMinNonNS) {
			return &cutHit{zone: zone, rrtype: dns.TypeDNAME, header: h, tail: tail, owner: zone}, true
		}
	}

	return nil, false
}

// parentZone strips the leftmost label from an FQDN, e.g.
// "www.example.com." -> "example.com.".
func parentZone(name string) string {
	labels := dns.SplitDomainName(name)
	if len(labels) == 0 {
		return "."
	}
	parent, err := splitOwnerLabels(dns.Fqdn(joinLabels(labels)), 1)
	if err != nil {
		return "."
	}
	return parent
}
