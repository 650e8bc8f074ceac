package cache

import (
	"encoding/binary"
	"fmt"

	"github.com/miekg/dns"
)

// entryFlags packs the boolean facets entry_h_consistent and
// closest_NS check alongside rank.
type entryFlags uint8

const (
	flagIsPacket entryFlags = 1 << iota
	flagHasOptout
	flagHasNS
	flagHasCNAME
	flagHasDNAME
	flagHasNSEC
)

// entryHeaderLen is the on-disk size of the fixed portion of an entry,
// before its RRSet/RRSIG payload or packet bytes.
const entryHeaderLen = 4 + 4 + 1 + 1 // time, ttl, rank, flags

// entryHeader is the in-memory form of an entry's fixed fields. It is
// the direct counterpart of entry_h in the original cache, trimmed to
// what this package actually branches on; the variable-length tail
// (RRSet+RRSIGs or a raw packet) is handled separately by
// dematerialize/rematerialize and by packet entries.
type entryHeader struct {
	// Time is the Unix timestamp (seconds) the entry was stashed at.
	Time uint32
	// TTL is the clamped, already-MIN'd-over-rrset TTL in seconds at
	// Time.
	TTL uint32
	Rank Rank
	Flags entryFlags
}

func (f entryFlags) isPacket() bool  { return f&flagIsPacket != 0 }
func (f entryFlags) hasOptout() bool { return f&flagHasOptout != 0 }
func (f entryFlags) hasNS() bool     { return f&flagHasNS != 0 }
func (f entryFlags) hasCNAME() bool  { return f&flagHasCNAME != 0 }
func (f entryFlags) hasDNAME() bool  { return f&flagHasDNAME != 0 }
func (f entryFlags) hasNSEC() bool   { return f&flagHasNSEC != 0 }

// packHeader serializes h into buf[0:entryHeaderLen]; buf must be at
// least that long.
func packHeader(buf []byte, h entryHeader) {
	binary.BigEndian.PutUint32(buf[0:4], h.Time)
	binary.BigEndian.PutUint32(buf[4:8], h.TTL)
	buf[8] = byte(h.Rank)
	buf[9] = byte(h.Flags)
}

func unpackHeader(buf []byte) entryHeader {
	return entryHeader{
		Time:  binary.BigEndian.Uint32(buf[0:4]),
		TTL:   binary.BigEndian.Uint32(buf[4:8]),
		Rank:  Rank(buf[8]),
		Flags: entryFlags(buf[9]),
	}
}

// entryConsistent is the Go counterpart of entry_h_consistent: a
// length and sanity gate applied to every value read back out of the
// backend before it's trusted. It never mutates data and returns the
// parsed header plus the tail slice (still opaque) on success.
func entryConsistent(data []byte) (entryHeader, []byte, bool) {
	if len(data) < entryHeaderLen {
		return entryHeader{}, nil, false
	}
	h := unpackHeader(data)
	tail := data[entryHeaderLen:]

	if h.Flags.isPacket() {
		if len(tail) < 2 {
			return entryHeader{}, nil, false
		}
		pktLen := binary.BigEndian.Uint16(tail[:2])
		if len(tail) < 2+int(pktLen) {
			return entryHeader{}, nil, false
		}
	}

	// BOGUS is only ever legitimate paired with a cached packet (kept
	// around so a +CD query can still get an answer); a BOGUS RRSet
	// entry is corruption.
	if h.Rank.Security() == RankBogus && !h.Flags.isPacket() {
		return entryHeader{}, nil, false
	}
	// has_optout is only legitimate on a packet entry; an RRSet-form
	// entry carrying it is corruption.
	if h.Flags.hasOptout() && !h.Flags.isPacket() {
		return entryHeader{}, nil, false
	}

	return h, tail, true
}

// shouldOverwrite implements entry_h_splice's recommended collision
// policy: keep the entry with the higher rank, and on a tied rank keep
// whichever is newer. existingOK is false when there was nothing to
// compare against (a plain miss), in which case the candidate always
// wins.
func shouldOverwrite(existing entryHeader, existingOK bool, candidate entryHeader) bool {
	if !existingOK {
		return true
	}
	if candidate.Rank != existing.Rank {
		return candidate.Rank > existing.Rank
	}
	return candidate.Time >= existing.Time
}

// staleCallback lets a caller decide whether an entry whose clamped
// TTL has already run out may still be served. It mirrors
// kr_query's stale_cb hook: given how far negative the remaining TTL
// is, it may return a non-negative TTL to serve the entry anyway, or
// a negative number to confirm the miss.
type staleCallback func(remaining int32, owner string, rrtype uint16) int32

// newTTL is the Go counterpart of get_new_ttl: how many seconds of
// freshness remain for an entry at `now`, clamped so a request that
// raced the insert doesn't see a negative age.
func newTTL(h entryHeader, now uint32, owner string, rrtype uint16, stale staleCallback) int32 {
	diff := int64(now) - int64(h.Time)
	if diff < 0 {
		diff = 0
	}
	res := int64(h.TTL) - diff
	if res < 0 && stale != nil {
		if staleTTL := stale(int32(res), owner, rrtype); staleTTL >= 0 {
			return staleTTL
		}
	}
	return int32(res)
}

// dematerializeRRSet packs an RRSet (or an RRSIG set) into the form
// entries store: a 2-byte record count, then per RR a 2-byte rdlength,
// the raw rdata bytes, and the RR's TTL. Only the rdata survives;
// owner, class, and type are already encoded by the key and the entry
// header. An empty set contributes no bytes at all, so an unsigned
// entry's tail ends right after its data set.
func dematerializeRRSet(rrs []dns.RR) ([]byte, error) {
	if len(rrs) == 0 {
		return nil, nil
	}
	out := make([]byte, 2, 64)
	binary.BigEndian.PutUint16(out, uint16(len(rrs)))
	for _, rr := range rrs {
		buf := make([]byte, dns.Len(rr)+1)
		off, err := dns.PackRR(rr, buf, 0, nil, false)
		if err != nil {
			return nil, fmt.Errorf("cache: pack rr %s: %w", rr.Header().String(), err)
		}
		// Strip the owner name and the fixed 10-byte header PackRR
		// wrote, leaving the bare rdata.
		rdataOff := wireNameLen(buf[:off]) + 10
		if rdataOff > off {
			return nil, fmt.Errorf("cache: short wire encoding for %s", rr.Header().Name)
		}
		rdata := buf[rdataOff:off]
		var fixed [2]byte
		binary.BigEndian.PutUint16(fixed[:], uint16(len(rdata)))
		out = append(out, fixed[:]...)
		out = append(out, rdata...)
		var ttlBuf [4]byte
		binary.BigEndian.PutUint32(ttlBuf[:], rr.Header().Ttl)
		out = append(out, ttlBuf[:]...)
	}
	return out, nil
}

// wireNameLen returns the length of the uncompressed wire-format name
// at the start of buf, including the terminating root byte.
func wireNameLen(buf []byte) int {
	off := 0
	for off < len(buf) && buf[off] != 0 {
		off += int(buf[off]) + 1
	}
	return off + 1
}

// rematerializeRRSet is dematerializeRRSet's inverse: it needs the
// owner name and rrtype that were stripped out of each record (the key
// already encodes them), exactly like rdataset_materialize needing its
// caller to supply the RRSet's header fields. It consumes one
// count-prefixed set and returns the remaining tail, which lets
// callers peel an RRSet and then its trailing RRSIG set off the same
// buffer. The per-RR TTL read back here is the stashed one; the read
// path overwrites it with the freshness policy's new TTL.
func rematerializeRRSet(tail []byte, owner string, rrtype uint16) ([]dns.RR, []byte, error) {
	if len(tail) == 0 {
		return nil, nil, nil
	}
	if len(tail) < 2 {
		return nil, nil, fmt.Errorf("cache: truncated rr count")
	}
	count := int(binary.BigEndian.Uint16(tail[:2]))
	tail = tail[2:]
	rrs := make([]dns.RR, 0, count)
	for i := 0; i < count; i++ {
		if len(tail) < 2 {
			return nil, nil, fmt.Errorf("cache: truncated rr length prefix")
		}
		rdlen := int(binary.BigEndian.Uint16(tail[:2]))
		tail = tail[2:]
		if len(tail) < rdlen+4 {
			return nil, nil, fmt.Errorf("cache: truncated rr data")
		}
		hdr := dns.RR_Header{
			Name:     dns.Fqdn(owner),
			Rrtype:   rrtype,
			Class:    dns.ClassINET,
			Ttl:      binary.BigEndian.Uint32(tail[rdlen : rdlen+4]),
			Rdlength: uint16(rdlen),
		}
		rr, _, err := dns.UnpackRRWithHeader(hdr, tail[:rdlen], 0)
		if err != nil {
			return nil, nil, fmt.Errorf("cache: unpack rr: %w", err)
		}
		rrs = append(rrs, rr)
		tail = tail[rdlen+4:]
	}
	return rrs, tail, nil
}
