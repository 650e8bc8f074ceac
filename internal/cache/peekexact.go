package cache

import (
	"errors"

	"github.com/knotresolver/cachecore/internal/backend"
	"github.com/miekg/dns"
)

// PeekExactResult is the raw entry header view kr_cache_peek_exact
// returns: no rematerialization, no gate applied beyond rejecting
// packet-form entries, which this diagnostic entry point can't
// represent.
type PeekExactResult struct {
	Time uint32
	TTL  uint32
	Rank Rank
	RRs  []dns.RR
}

// PeekExact looks up (name, rrtype) without applying the freshness
// or rank gate, refusing packet-form entries and disallowed types;
// it is the direct counterpart of kr_cache_peek_exact.
// It is unsuitable for replaying cached negative answers, exactly as
// documented for its source: packet-form entries always return
// ErrNotSupported here.
func (c *Cache) PeekExact(name string, rrtype uint16) (*PeekExactResult, error) {
	if !cacheableType(rrtype) {
		return nil, ErrNotSupported
	}
	lf, err := nameToLF(name)
	if err != nil {
		return nil, ErrNotSupported
	}
	key := keyExact(lf, TagExact, storageType(rrtype))
	val, err := c.backend.Read(key)
	if err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			return nil, ErrMiss
		}
		c.m.BackendError("read")
		return nil, err
	}
	h, tail, ok := entryConsistent(val)
	if !ok {
		return nil, ErrMiss
	}
	if h.Flags.isPacket() {
		return nil, ErrNotSupported
	}
	rrs, _, err := rematerializeRRSet(tail, name, rrtype)
	if err != nil {
		return nil, ErrMiss
	}
	return &PeekExactResult{Time: h.Time, TTL: h.TTL, Rank: h.Rank, RRs: rrs}, nil
}
