package cache

import "encoding/binary"

// StashPacket stores a raw wire-format DNS packet as a negative or
// SERVFAIL-shaped answer, the is_packet=1 branch of the entry format.
// Unlike Stash, this bypasses RRSet dematerialization entirely: the
// tail is just a u16 length prefix followed by the packet bytes.
//
// Per entry_h_consistent, a BOGUS rank is only ever legitimate paired
// with a packet entry (kept so a client request with the CD bit set
// can still get an answer); likewise has_optout is only ever
// legitimate on a packet entry.
func (c *Cache) StashPacket(name string, rrtype uint16, rank Rank, now uint32, ttl uint32, packet []byte) error {
	if rank.Security() == RankSecure {
		// A packet-form entry can't carry a positive SECURE proof;
		// store it as an RRSet instead.
		return errInvalid
	}
	lf, err := nameToLF(name)
	if err != nil {
		return err
	}
	key := keyExact(lf, TagExact, storageType(rrtype))

	clamped := clampSeconds(ttl, c.ttlMin, c.ttlMax)
	candidate := entryHeader{Time: now, TTL: clamped, Rank: rank, Flags: flagIsPacket}
	if !c.winsOverExisting(key, candidate) {
		return nil
	}

	buf := make([]byte, entryHeaderLen+2+len(packet))
	packHeader(buf, candidate)
	binary.BigEndian.PutUint16(buf[entryHeaderLen:], uint16(len(packet)))
	copy(buf[entryHeaderLen+2:], packet)

	if err := c.backend.Write(key, buf); err != nil {
		c.m.BackendError("write")
		return err
	}
	c.stats.Insert++
	c.m.Insert()
	return nil
}
