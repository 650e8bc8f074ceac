// Package backend defines the contract the cache core uses to talk to an
// embedded ordered key-value store, and ships two implementations of it:
// an LMDB-backed one (the default, matching kresd's cdb_lmdb) and an
// in-memory one used by tests and by callers that don't want a file on
// disk. The cache core never assumes anything about the store beyond
// this interface; in particular it never reaches into LMDB directly.
package backend

import "errors"

// ErrNotFound is returned by Read and ReadLEQ when no matching key
// exists. Backends must return exactly this sentinel (optionally
// wrapped) so callers can use errors.Is.
var ErrNotFound = errors.New("backend: key not found")

// Iterator walks a key range in ascending lexicographic order. Values
// returned by Key/Value are only valid until the next call to Next or
// Close; callers that need to keep them must copy.
type Iterator interface {
	// Next advances the iterator and reports whether an item is
	// available. It must be called once before the first Key/Value.
	Next() bool
	Key() []byte
	Value() []byte
	// Close releases resources held by the iterator (e.g. a cursor
	// and its enclosing read transaction). Safe to call multiple
	// times.
	Close() error
	// Err returns the first error encountered during iteration, if
	// any; it should be checked after Next returns false.
	Err() error
}

// Backend is the capability set the cache requires of an embedded
// ordered key-value store. All methods may fail with I/O,
// full-disk, or corrupted-page conditions; the cache core's Peek and
// Stash treat any such error as a non-fatal cache miss or a skipped
// record, while Open, Clear, Sync, and the single-entry calls
// (InsertRR, StashPacket, PeekExact) return it to their caller.
type Backend interface {
	// Open prepares the backend for use (e.g. mmaps the data file).
	Open() error
	// Close releases the backend's resources. Safe to call once.
	Close() error
	// Sync flushes any buffered writes to stable storage. Backends
	// that are always durable (pure in-memory ones) may no-op.
	Sync() error
	// Count returns the number of keys currently stored.
	Count() (int, error)
	// Clear removes every key. Used by the version gate and by
	// cache.Clear.
	Clear() error

	// Read returns the value stored under key, or ErrNotFound.
	Read(key []byte) ([]byte, error)
	// ReadLEQ returns the (key, value) pair with the greatest key
	// that is lexicographically <= probe, or ErrNotFound if no such
	// key exists. This is the operation closest-encloser search is
	// built on.
	ReadLEQ(probe []byte) (actualKey []byte, value []byte, err error)
	// Write stores value under key, overwriting any existing value.
	Write(key, value []byte) error
	// Remove deletes key. Removing an absent key is not an error.
	Remove(key []byte) error
	// Match returns an iterator over every key with the given
	// prefix, in ascending order.
	Match(prefix []byte) (Iterator, error)
}
