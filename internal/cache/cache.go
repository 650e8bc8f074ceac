// Package cache implements a persistent, content-addressed cache core
// for a recursive DNS resolver: it memoizes validated resource
// records, NSEC-based negative proofs, and packet-level answers in an
// embedded ordered key-value store, and knows how to assemble a
// fully formed answer back out of them on the query path.
//
// The package is deliberately single-threaded: it runs on a
// resolver's own event loop and holds no internal lock. A Cache
// shared across goroutines must be serialized by the caller.
package cache

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/knotresolver/cachecore/internal/backend"
	"github.com/knotresolver/cachecore/internal/config"
	"github.com/knotresolver/cachecore/internal/metrics"
	pkgerrors "github.com/pkg/errors"
)

// ErrMiss is returned by Peek/PeekExact when nothing satisfies the
// query: no entry, a stale one, or one that fails the rank gate.
// Mirrors -ENOENT/-ESTALE both collapsing to "miss" at the
// programmatic boundary, per the error handling design.
var ErrMiss = errors.New("cache: miss")

// ErrNotSupported is returned by PeekExact for a type that is never
// individually cacheable (RRSIG, meta-types) or when the stored
// entry is packet-form, which PeekExact cannot represent.
var ErrNotSupported = errors.New("cache: not supported for diagnostic peek")

const sentinelKeyStr = "\x00\x00V"

// CacheVersion is the on-disk format version. A mismatch at Open
// triggers a full purge; the persistence format is not guaranteed
// stable across major versions.
const CacheVersion uint16 = 3

// Stats holds the handle-wide counters: hit, miss, insert, delete.
// Incremented without atomics; the cache has no internal concurrency.
type Stats struct {
	Hit    uint64
	Miss   uint64
	Insert uint64
	Delete uint64
}

// Cache is a resolver's cache handle: one per resolver instance,
// holding the backend, TTL clamps, and stats. There is no
// process-global state; every method is a plain call on *Cache.
type Cache struct {
	backend backend.Backend
	ttlMin  uint32
	ttlMax  uint32

	stats Stats
	m     *metrics.Collector
}

// Open constructs and opens a Cache per cfg, defaulting to an LMDB
// backend rooted at cfg.LMDBPath. Open always succeeds if the
// backend itself opens, regardless of a version mismatch; that case
// is handled internally by purging.
func Open(cfg *config.Config, m *metrics.Collector) (*Cache, error) {
	return OpenWithBackend(cfg, backend.NewLMDB(cfg.LMDBPath, cfg.LMDBMapSizeBytes), m)
}

// OpenWithBackend is Open with an explicit backend, primarily so
// tests (and embedders that don't want LMDB) can supply
// backend.NewMemory() instead.
func OpenWithBackend(cfg *config.Config, be backend.Backend, m *metrics.Collector) (*Cache, error) {
	if cfg == nil {
		return nil, fmt.Errorf("cache: %w: nil config", errInvalid)
	}
	if err := be.Open(); err != nil {
		return nil, pkgerrors.Wrap(err, "cache: open backend")
	}
	c := &Cache{
		backend: be,
		ttlMin:  uint32(cfg.CacheMinTTL.Seconds()),
		ttlMax:  uint32(cfg.CacheMaxTTL.Seconds()),
		m:       m,
	}
	if err := c.checkVersion(); err != nil {
		be.Close()
		return nil, err
	}
	return c, nil
}

var errInvalid = errors.New("invalid argument")

// Close releases the backend.
func (c *Cache) Close() error {
	return c.backend.Close()
}

// Sync flushes buffered backend writes. Called by the resolver after
// every peek and stash, matching kr_cache_sync's call sites.
func (c *Cache) Sync() error {
	return c.backend.Sync()
}

// Clear purges every key and rewrites the version sentinel. Clear;
// Clear is observationally equal to a single Clear.
func (c *Cache) Clear() error {
	n, _ := c.backend.Count()
	if err := c.backend.Clear(); err != nil {
		c.m.BackendError("clear")
		return pkgerrors.Wrap(err, "cache: clear")
	}
	c.stats = Stats{Delete: c.stats.Delete + uint64(n)}
	c.m.DeleteN(n)
	c.m.SetEntries(0)
	return c.writeSentinel()
}

// Stats returns a copy of the handle's current counters.
func (c *Cache) Stats() Stats {
	return c.stats
}

func (c *Cache) checkVersion() error {
	val, err := c.backend.Read([]byte(sentinelKeyStr))
	if err == nil && len(val) == 2 && binary.BigEndian.Uint16(val) == CacheVersion {
		return nil
	}
	if err != nil && !errors.Is(err, backend.ErrNotFound) {
		return pkgerrors.Wrap(err, "cache: read version sentinel")
	}
	n, err := c.backend.Count()
	if err != nil {
		return pkgerrors.Wrap(err, "cache: count entries")
	}
	if n > 0 {
		if err := c.backend.Clear(); err != nil {
			return pkgerrors.Wrap(err, "cache: purge on version mismatch")
		}
		c.m.DeleteN(n)
	}
	return c.writeSentinel()
}

// winsOverExisting reads whatever is currently stored at key (if
// anything) and reports whether candidate is allowed to replace it,
// per shouldOverwrite. A corrupt existing entry (entryConsistent
// failing) is treated the same as no prior entry and never blocks the
// write; a consistent one, RRSet- or packet-form, is compared by rank
// and then by time.
func (c *Cache) winsOverExisting(key []byte, candidate entryHeader) bool {
	val, err := c.backend.Read(key)
	if err != nil {
		return true
	}
	existing, _, ok := entryConsistent(val)
	return shouldOverwrite(existing, ok, candidate)
}

func (c *Cache) writeSentinel() error {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], CacheVersion)
	return c.backend.Write([]byte(sentinelKeyStr), buf[:])
}
