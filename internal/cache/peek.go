package cache

import (
	"errors"

	"github.com/knotresolver/cachecore/internal/backend"
	"github.com/miekg/dns"
)

// QueryFlags carries the request-level facts the rank gate and the
// peek entry gate need, mirroring the subset of kr_query.flags this
// package actually branches on (NO_CACHE, CACHE_TRIED, NONAUTH,
// STUB) plus the client request's CD bit.
type QueryFlags struct {
	NoCache    bool
	CacheTried bool
	Nonauth    bool
	Stub       bool
	CD         bool
}

// PeekRequest is one (sname, stype) lookup against the cache.
type PeekRequest struct {
	SName    string
	SType    uint16
	Flags    QueryFlags
	TACovers bool
	Now      uint32
	StaleCB  staleCallback
}

// PeekResult is the assembled answer a successful Peek returns:
// enough to build a DNS response packet, plus the query-flag-like
// facts the caller needs to propagate (EXPIRING, DNSSEC_INSECURE).
type PeekResult struct {
	Rcode       int
	Answer      []dns.RR
	Authority   []dns.RR
	Rank        Rank
	Expiring    bool
	Insecure    bool
	FromPacket  bool
	Packet      []byte
	NoMinimize  bool
	CacheTried  bool
}

const expiringThreshold = 5 // seconds; matches common "about to expire" margins

// Peek runs the full answer-synthesis state machine: exact-hit probe,
// closest NS/xNAME walk, NSEC encloser search, source-of-synthesis
// check, wildcard expansion, SOA attachment, and packet assembly.
// It never returns a hard error: a plain miss and a backend error
// below the top level both come back as ErrMiss.
func (c *Cache) Peek(req PeekRequest) (*PeekResult, error) {
	if req.Flags.NoCache || (req.Flags.CacheTried && req.StaleCB == nil) ||
		!cacheableType(req.SType) {
		return nil, ErrMiss
	}

	if orig := req.StaleCB; orig != nil {
		req.StaleCB = func(remaining int32, owner string, rrtype uint16) int32 {
			ttl := orig(remaining, owner, rrtype)
			if ttl >= 0 {
				c.m.StaleHit()
			}
			return ttl
		}
	}

	lowest := LowestRank(GateParams{
		Nonauth:         req.Flags.Nonauth,
		AllowUnverified: req.Flags.Stub || req.Flags.CD,
		TACovers:        req.TACovers,
	})

	// Exact-hit probe.
	if res, err := c.peekExactHit(req, lowest); err != nil {
		return nil, ErrMiss
	} else if res != nil {
		c.stats.Hit++
		c.m.Hit()
		res.CacheTried = true
		return res, nil
	}

	// Closest NS / xNAME walk.
	cut, err := c.closestNS(req.SName, req.SType, req.Now, req.StaleCB)
	if err != nil {
		return nil, ErrMiss
	}
	if cut != nil && cut.rrtype == dns.TypeCNAME {
		res, err := c.answerSimpleHit(req, dns.TypeCNAME, cut.header, cut.tail, cut.owner)
		if err != nil || res == nil {
			c.stats.Miss++
			c.m.Miss()
			return nil, ErrMiss
		}
		c.stats.Hit++
		c.m.Hit()
		res.CacheTried = true
		return res, nil
	}
	if cut != nil && cut.rrtype == dns.TypeDNAME {
		// DNAME synthesis is reserved; such a hit currently counts as a miss.
		c.stats.Miss++
		c.m.Miss()
		return nil, ErrMiss
	}

	zone := "."
	zlfLen := 0
	if cut != nil {
		zone = cut.zone
		zlfLen = cut.zlfLen
	}

	// NSEC encloser search.
	state, hit, nsecHeader, clenclLabels, err := c.nsec1Encloser(req.SName, zlfLen, lowest)
	if err != nil {
		return nil, ErrMiss
	}
	nsecTTL := int32(-1)
	if state != nsecNone {
		nsecTTL = newTTL(nsecHeader, req.Now, hitOwner(hit), dns.TypeNSEC, req.StaleCB)
	}
	if state == nsecNone || nsecTTL < 0 {
		c.stats.Miss++
		c.m.Miss()
		return nil, ErrMiss
	}
	expiring := isExpiring(nsecHeader.TTL, nsecTTL)

	var authority []dns.RR
	authority = append(authority, hit.rr)
	if hit.rrsig != nil {
		authority = append(authority, hit.rrsig)
	}
	applyTTL(authority, uint32(nsecTTL))

	rcode := dns.RcodeSuccess
	answer := []dns.RR(nil)
	snameLabels := labelCount(req.SName)

	if state == nsecNodata {
		if bitmapHasType(hit.rr, req.SType) {
			// The owner exists and actually has this type: our NSEC
			// lookup raced a more specific entry the exact-hit probe
			// should have found. Treat as miss rather than
			// fabricate a contradictory NODATA.
			c.stats.Miss++
			c.m.Miss()
			return nil, ErrMiss
		}
		rcode = dns.RcodeSuccess // NODATA is NOERROR with an empty answer
	} else {
		// The name is covered: check the source of synthesis, then
		// attempt wildcard expansion.
		clenclName, err := splitOwnerLabels(req.SName, snameLabels-clenclLabels)
		if err != nil {
			c.stats.Miss++
			c.m.Miss()
			return nil, ErrMiss
		}

		ssState, ssHit, ssHeader, err := c.nsec1SourceOfSynthesis(clenclName, zlfLen, hit, lowest)
		if err != nil {
			return nil, ErrMiss
		}
		if ssState == nsecNone {
			c.stats.Miss++
			c.m.Miss()
			return nil, ErrMiss
		}
		// One NSEC can both cover sname and prove the wildcard; only a
		// genuinely distinct record earns a second authority slot.
		if !equalFoldFQDN(ssHit.owner, hit.owner) {
			ssTTL := newTTL(ssHeader, req.Now, ssHit.owner, dns.TypeNSEC, req.StaleCB)
			if ssTTL < 0 {
				c.stats.Miss++
				c.m.Miss()
				return nil, ErrMiss
			}
			expiring = expiring || isExpiring(ssHeader.TTL, ssTTL)
			ssRRs := []dns.RR{ssHit.rr}
			if ssHit.rrsig != nil {
				ssRRs = append(ssRRs, ssHit.rrsig)
			}
			applyTTL(ssRRs, uint32(ssTTL))
			authority = append(authority, ssRRs...)
		}

		switch {
		case ssState == nsecNXDomain:
			// SS covered as well: the name provably has no answer.
			rcode = dns.RcodeNameError
		case !bitmapHasType(ssHit.rr, req.SType) && !bitmapHasType(ssHit.rr, dns.TypeCNAME):
			// SS exists but can neither hold the type nor synthesize
			// one via CNAME: NODATA.
			rcode = dns.RcodeSuccess
		default:
			// SS exists with a usable type: the answer must come from
			// a cached wildcard RRSet.
			a, wildRank, ok, err := c.tryWild(req, clenclName, lowest)
			if err != nil {
				return nil, ErrMiss
			}
			if !ok {
				c.stats.Miss++
				c.m.Miss()
				return nil, ErrMiss
			}
			answer = a
			rcode = dns.RcodeSuccess
			_ = wildRank
		}
	}

	// Attach the zone SOA whenever the result isn't a straightforward
	// positive answer.
	if rcode != dns.RcodeSuccess || len(answer) == 0 {
		soaRRs, soaHeader, ok, err := c.peekSOA(zone, zlfLen, req.Now, req.StaleCB, lowest)
		if err != nil {
			return nil, ErrMiss
		}
		if !ok {
			c.stats.Miss++
			c.m.Miss()
			return nil, ErrMiss
		}
		if len(soaRRs) > 0 {
			expiring = expiring || isExpiring(soaHeader.TTL, int32(soaRRs[0].Header().Ttl))
		}
		authority = append(authority, soaRRs...)
	}

	c.stats.Hit++
	c.m.Hit()
	return &PeekResult{
		Rcode:      rcode,
		Answer:     answer,
		Authority:  authority,
		Rank:       nsecHeader.Rank,
		Insecure:   nsecHeader.Rank.Security() == RankInsecure,
		Expiring:   expiring,
		NoMinimize: true,
		CacheTried: true,
	}, nil
}

func hitOwner(hit *nsecHit) string {
	if hit == nil {
		return "."
	}
	return hit.owner
}

// cacheableType rejects meta-types and bare RRSIG, matching
// check_rrtype, and NSEC itself (never a direct query target via the
// exact-hit path).
func cacheableType(t uint16) bool {
	switch t {
	case dns.TypeRRSIG, dns.TypeOPT, dns.TypeTSIG, dns.TypeANY, dns.TypeAXFR, dns.TypeIXFR, dns.TypeNSEC:
		return false
	default:
		return true
	}
}

// peekExactHit probes for an entry stored under the query name and
// type themselves.
func (c *Cache) peekExactHit(req PeekRequest, lowest Rank) (*PeekResult, error) {
	lf, err := nameToLF(req.SName)
	if err != nil {
		return nil, nil
	}
	key := keyExact(lf, TagExact, storageType(req.SType))
	val, err := c.backend.Read(key)
	if err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			return nil, nil
		}
		c.m.BackendError("read")
		return nil, err
	}

	h, tail, ok := entryConsistent(val)
	if !ok {
		return nil, nil
	}
	ttl := newTTL(h, req.Now, req.SName, req.SType, req.StaleCB)
	if ttl < 0 || !h.Rank.Satisfies(lowest) {
		return nil, nil
	}

	if h.Flags.isPacket() {
		pkt, ok := unpackPacketTail(tail)
		if !ok {
			return nil, nil
		}
		return &PeekResult{
			Rcode:      dns.RcodeSuccess,
			FromPacket: true,
			Packet:     pkt,
			Rank:       h.Rank,
			Insecure:   h.Rank.Security() == RankInsecure,
			Expiring:   isExpiring(h.TTL, ttl),
			NoMinimize: true,
		}, nil
	}

	res, err := c.answerSimpleHit(req, req.SType, h, tail, req.SName)
	return res, err
}

// answerSimpleHit rematerializes a single RRSet entry, the Go
// counterpart of answer_simple_hit.
func (c *Cache) answerSimpleHit(req PeekRequest, rrtype uint16, h entryHeader, tail []byte, owner string) (*PeekResult, error) {
	ttl := newTTL(h, req.Now, owner, rrtype, req.StaleCB)
	if ttl < 0 {
		return nil, nil
	}
	rrs, sigTail, err := rematerializeRRSet(tail, req.SName, rrtype)
	if err != nil {
		return nil, nil
	}
	if sigRRs, _, err := rematerializeRRSet(sigTail, req.SName, dns.TypeRRSIG); err == nil {
		rrs = append(rrs, sigRRs...)
	}
	applyTTL(rrs, uint32(ttl))
	return &PeekResult{
		Rcode:      dns.RcodeSuccess,
		Answer:     rrs,
		Rank:       h.Rank,
		Insecure:   h.Rank.Security() == RankInsecure,
		Expiring:   isExpiring(h.TTL, ttl),
		NoMinimize: true,
	}, nil
}

// tryWild probes the wildcard owner for stype, falling back to
// CNAME, and rematerializes under the original sname.
func (c *Cache) tryWild(req PeekRequest, clenclName string, lowest Rank) ([]dns.RR, Rank, bool, error) {
	types := []uint16{req.SType}
	if req.SType != dns.TypeCNAME {
		types = append(types, dns.TypeCNAME)
	}
	wildOwner := "*." + clenclName
	wildLF, err := nameToLF(wildOwner)
	if err != nil {
		return nil, 0, false, nil
	}

	for _, t := range types {
		key := keyExact(wildLF, TagExact, storageType(t))
		val, err := c.backend.Read(key)
		if err != nil {
			if errors.Is(err, backend.ErrNotFound) {
				continue
			}
			c.m.BackendError("read")
			return nil, 0, false, err
		}
		h, tail, ok := entryConsistent(val)
		if !ok || h.Flags.isPacket() {
			continue
		}
		ttl := newTTL(h, req.Now, req.SName, t, req.StaleCB)
		if ttl < 0 || !h.Rank.Satisfies(lowest) {
			continue
		}
		rrs, sigTail, err := rematerializeRRSet(tail, req.SName, t)
		if err != nil {
			continue
		}
		if sigRRs, _, err := rematerializeRRSet(sigTail, req.SName, dns.TypeRRSIG); err == nil {
			rrs = append(rrs, sigRRs...)
		}
		applyTTL(rrs, uint32(ttl))
		return rrs, h.Rank, true, nil
	}
	return nil, 0, false, nil
}

// peekSOA fetches the zone's SOA for a negative answer's authority
// section.
func (c *Cache) peekSOA(zone string, zlfLen int, now uint32, stale staleCallback, lowest Rank) ([]dns.RR, entryHeader, bool, error) {
	zoneLF, err := nameToLF(zone)
	if err != nil {
		return nil, entryHeader{}, false, nil
	}
	key := keyExact(zonePrefix(zoneLF, zlfLen), TagExact, dns.TypeSOA)
	val, err := c.backend.Read(key)
	if err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			return nil, entryHeader{}, false, nil
		}
		c.m.BackendError("read")
		return nil, entryHeader{}, false, err
	}
	h, tail, ok := entryConsistent(val)
	if !ok || h.Flags.isPacket() {
		return nil, entryHeader{}, false, nil
	}
	ttl := newTTL(h, now, zone, dns.TypeSOA, stale)
	if ttl < 0 || !h.Rank.Satisfies(lowest) {
		return nil, entryHeader{}, false, nil
	}
	rrs, sigTail, err := rematerializeRRSet(tail, zone, dns.TypeSOA)
	if err != nil {
		return nil, entryHeader{}, false, nil
	}
	if sigRRs, _, err := rematerializeRRSet(sigTail, zone, dns.TypeRRSIG); err == nil {
		rrs = append(rrs, sigRRs...)
	}
	applyTTL(rrs, uint32(ttl))
	return rrs, h, true, nil
}

func applyTTL(rrs []dns.RR, ttl uint32) {
	for _, rr := range rrs {
		rr.Header().Ttl = ttl
	}
}

func isExpiring(original uint32, current int32) bool {
	return current >= 0 && current < expiringThreshold && original >= expiringThreshold
}

func unpackPacketTail(tail []byte) ([]byte, bool) {
	if len(tail) < 2 {
		return nil, false
	}
	n := int(tail[0])<<8 | int(tail[1])
	if len(tail) < 2+n {
		return nil, false
	}
	return tail[2 : 2+n], true
}
