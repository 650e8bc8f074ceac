package cache

import (
	"bytes"
	"errors"

	"github.com/knotresolver/cachecore/internal/backend"
	"github.com/miekg/dns"
)

// nsecState is the three-way outcome nsec1_encloser produces in the
// original: a positive NODATA match, a proven NXDOMAIN cover, or
// "nothing usable" which drops the whole peek to a miss.
type nsecState int

const (
	nsecNone nsecState = iota
	nsecNodata
	nsecNXDomain
)

// nsecHit is everything the peek state machine needs out of one
// NSEC1 lookup: the record itself (for placement in the answer's
// AUTHORITY section), its covering RRSIG, and the within-zone key
// suffixes bracketing the range it covers (cover_low_kwz /
// cover_hi_kwz in the source).
type nsecHit struct {
	owner    string
	rr       *dns.NSEC
	rrsig    dns.RR
	lowSuf   []byte
	highSuf  []byte
}

// lookupNSEC1 performs the encloser search's ReadLEQ probe: find the
// NSEC1 key whose owner is the greatest one <= the probe name within
// the zone, then the caller checks canonical coverage against its
// NextDomain.
func (c *Cache) lookupNSEC1(probeName string, zlfLen int, lowest Rank) (*nsecHit, entryHeader, bool, error) {
	probeLF, err := nameToLF(probeName)
	if err != nil || zlfLen > len(probeLF) {
		return nil, entryHeader{}, false, nil
	}
	zoneLF := probeLF[:zlfLen]
	probeKey := keyNSEC1(probeLF, zlfLen)

	actualKey, val, err := c.backend.ReadLEQ(probeKey)
	if err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			return nil, entryHeader{}, false, nil
		}
		c.m.BackendError("read_leq")
		return nil, entryHeader{}, false, err
	}
	// Only accept hits that are still NSEC1 keys within the same zone
	// (tag byte must be '1' and the zone-prefix bytes must match).
	if !isNSEC1Key(actualKey, zoneLF) {
		return nil, entryHeader{}, false, nil
	}

	h, tail, ok := entryConsistent(val)
	if !ok || h.Flags.isPacket() || !h.Rank.Satisfies(lowest) {
		return nil, entryHeader{}, false, nil
	}

	ownSuf := actualKey[zlfLen+2:]
	ownerLF := make([]byte, 0, zlfLen+len(ownSuf))
	ownerLF = append(ownerLF, zoneLF...)
	ownerLF = append(ownerLF, ownSuf...)
	owner := lfToName(ownerLF)

	rrs, sigTail, err := rematerializeRRSet(tail, owner, dns.TypeNSEC)
	if err != nil || len(rrs) == 0 {
		return nil, entryHeader{}, false, nil
	}
	nsecRR, ok := rrs[0].(*dns.NSEC)
	if !ok {
		return nil, entryHeader{}, false, nil
	}
	var sigRR dns.RR
	if sigRRs, _, err := rematerializeRRSet(sigTail, owner, dns.TypeRRSIG); err == nil && len(sigRRs) > 0 {
		sigRR = sigRRs[0]
	}

	nextLF, err := nameToLF(nsecRR.NextDomain)
	if err != nil || len(nextLF) < zlfLen || !bytes.Equal(nextLF[:zlfLen], zoneLF) {
		// A next-name outside the zone can't delimit a range in it.
		return nil, entryHeader{}, false, nil
	}

	hit := &nsecHit{
		owner:   owner,
		rr:      nsecRR,
		rrsig:   sigRR,
		lowSuf:  zoneSuffix(ownerLF, zlfLen),
		highSuf: zoneSuffix(nextLF, zlfLen),
	}
	return hit, h, true, nil
}

// nsec1Encloser locates the closest provable encloser of sname
// within the zone rooted at zlfLen bytes of lookup format.
// It returns the state (NODATA/NXDOMAIN/none), the winning NSEC hit,
// and how many labels of sname the encloser keeps.
func (c *Cache) nsec1Encloser(sname string, zlfLen int, lowest Rank) (nsecState, *nsecHit, entryHeader, int, error) {
	hit, h, ok, err := c.lookupNSEC1(sname, zlfLen, lowest)
	if err != nil {
		return nsecNone, nil, entryHeader{}, 0, err
	}
	if !ok {
		return nsecNone, nil, entryHeader{}, 0, nil
	}

	snameLF, _ := nameToLF(sname)
	snameSuf := zoneSuffix(snameLF, zlfLen)

	if bytes.Equal(hit.lowSuf, snameSuf) {
		// Exact owner match: NODATA iff stype absent from the bitmap.
		return nsecNodata, hit, h, labelCount(sname), nil
	}
	if nsecCovers(hit.lowSuf, hit.highSuf, snameSuf) {
		// sname falls strictly inside (owner, next): the closest
		// provable encloser is the longest ancestor sname shares
		// with the NSEC's owner, since every ancestor of an existing
		// name exists too.
		return nsecNXDomain, hit, h, commonAncestorLabels(hit.owner, sname), nil
	}
	return nsecNone, nil, entryHeader{}, 0, nil
}

// nsec1SourceOfSynthesis proves the wildcard source of synthesis
// `*.clencl_name` is covered (confirming NXDOMAIN) or matched
// (turning the result into NODATA). If the already-found
// NSEC already covers the source of synthesis, no second lookup is
// necessary.
func (c *Cache) nsec1SourceOfSynthesis(clenclName string, zlfLen int, existing *nsecHit, lowest Rank) (nsecState, *nsecHit, entryHeader, error) {
	ssName := "*." + clenclName
	ssLF, err := nameToLF(ssName)
	if err != nil {
		return nsecNone, nil, entryHeader{}, nil
	}
	ssSuf := zoneSuffix(ssLF, zlfLen)

	if existing != nil && nsecCovers(existing.lowSuf, existing.highSuf, ssSuf) {
		return nsecNXDomain, existing, entryHeader{}, nil
	}

	hit, h, ok, err := c.lookupNSEC1(ssName, zlfLen, lowest)
	if err != nil || !ok {
		return nsecNone, nil, entryHeader{}, err
	}
	if bytes.Equal(hit.lowSuf, ssSuf) {
		return nsecNodata, hit, h, nil
	}
	if nsecCovers(hit.lowSuf, hit.highSuf, ssSuf) {
		return nsecNXDomain, hit, h, nil
	}
	return nsecNone, nil, entryHeader{}, nil
}

// nsecCovers is the canonical NSEC coverage test: does `probe` fall
// strictly between `low` and `high` in canonical (lookup-format)
// order, accounting for zone-apex wraparound where high < low
// (the NSEC for the last name in the zone points back to the apex)?
func nsecCovers(low, high, probe []byte) bool {
	if bytes.Compare(low, high) < 0 {
		return bytes.Compare(low, probe) < 0 && bytes.Compare(probe, high) < 0
	}
	// Wraps around the zone apex.
	return bytes.Compare(probe, low) > 0 || bytes.Compare(probe, high) < 0
}

// bitmapHasType reports whether an NSEC's type bitmap covers rrtype.
func bitmapHasType(rr *dns.NSEC, rrtype uint16) bool {
	for _, t := range rr.TypeBitMap {
		if t == rrtype {
			return true
		}
	}
	return false
}

func zoneSuffix(lf []byte, zlfLen int) []byte {
	if zlfLen >= len(lf) {
		return nil
	}
	return lf[zlfLen:]
}

func isNSEC1Key(key, zonePrefix []byte) bool {
	// key layout: zoneLF || 0x00 || '1' || within-zone LF suffix.
	z := len(zonePrefix)
	if len(key) < z+2 || !bytes.Equal(key[:z], zonePrefix) {
		return false
	}
	return key[z] == 0 && Tag(key[z+1]) == TagNSEC1
}

// lfToName inverts nameToLF: splits on 0x00, reverses label order,
// and rejoins (via joinLabels, which re-escapes) as a
// presentation-format FQDN.
func lfToName(lf []byte) string {
	if len(lf) == 0 {
		return "."
	}
	parts := bytes.Split(lf, []byte{0})
	labels := make([]string, len(parts))
	for i, p := range parts {
		labels[len(parts)-1-i] = string(p)
	}
	return joinLabels(labels)
}
