// Package config holds the options accepted by cache.Open. Parsing these
// out of a resolver's own configuration file is the resolver's job; this
// package only defines the shape and defaults the cache core understands.
package config

import "time"

// Config holds the options passed to cache.Open. It mirrors the "opts"
// argument of kr_cache_open: backend location/size plus the TTL clamps.
type Config struct {
	// LMDBPath is the directory the embedded ordered key-value store
	// opens its map file(s) in.
	LMDBPath string
	// LMDBMapSizeBytes bounds the memory-mapped region backing the
	// store; LMDB pre-allocates address space up to this size.
	LMDBMapSizeBytes int64

	// CacheMinTTL and CacheMaxTTL clamp every stashed entry's TTL
	// (the ttl_min / ttl_max clamps).
	CacheMinTTL time.Duration
	CacheMaxTTL time.Duration

	// MetricsAddr is the listen address cmd/cachecored serves
	// /metrics on. Empty disables the metrics server.
	MetricsAddr string
}

// NewConfig returns a Config with the cache core's documented defaults:
// a 5 second floor and a 6 day ceiling on TTL, matching common resolver
// practice.
func NewConfig() *Config {
	return &Config{
		LMDBPath:         "/var/cache/cachecore",
		LMDBMapSizeBytes: 1 << 30, // 1GiB
		CacheMinTTL:      5 * time.Second,
		CacheMaxTTL:      6 * 24 * time.Hour,
		MetricsAddr:      ":9121",
	}
}
