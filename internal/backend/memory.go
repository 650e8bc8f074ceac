package backend

import (
	"bytes"
	"sort"
	"sync"
)

// Memory is a pure Go-backed Backend keeping keys in a sorted slice. It
// implements the same ordered contract as LMDB without touching disk,
// which makes it useful for unit tests and for embedding the cache in
// processes that would rather not mmap a file.
type Memory struct {
	mu      sync.RWMutex
	keys    [][]byte
	values  map[string][]byte
}

// NewMemory returns an empty, ready-to-use in-memory backend. Open/Close
// are no-ops; Sync is a no-op since every write is already durable for
// the lifetime of the process.
func NewMemory() *Memory {
	return &Memory{values: make(map[string][]byte)}
}

func (b *Memory) Open() error  { return nil }
func (b *Memory) Close() error { return nil }
func (b *Memory) Sync() error  { return nil }

func (b *Memory) Count() (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.keys), nil
}

func (b *Memory) Clear() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.keys = nil
	b.values = make(map[string][]byte)
	return nil
}

func (b *Memory) search(key []byte) int {
	return sort.Search(len(b.keys), func(i int) bool {
		return bytes.Compare(b.keys[i], key) >= 0
	})
}

func (b *Memory) Read(key []byte) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.values[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (b *Memory) ReadLEQ(probe []byte) ([]byte, []byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	i := b.search(probe)
	if i < len(b.keys) && bytes.Equal(b.keys[i], probe) {
		return append([]byte(nil), b.keys[i]...), append([]byte(nil), b.values[string(probe)]...), nil
	}
	// i is the index of the smallest key > probe (or len(keys)); the
	// greatest key <= probe is the one just before it, if any.
	if i == 0 {
		return nil, nil, ErrNotFound
	}
	k := b.keys[i-1]
	return append([]byte(nil), k...), append([]byte(nil), b.values[string(k)]...), nil
}

func (b *Memory) Write(key, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := b.search(key)
	stored := append([]byte(nil), value...)
	if i < len(b.keys) && bytes.Equal(b.keys[i], key) {
		b.values[string(key)] = stored
		return nil
	}
	k := append([]byte(nil), key...)
	b.keys = append(b.keys, nil)
	copy(b.keys[i+1:], b.keys[i:])
	b.keys[i] = k
	b.values[string(key)] = stored
	return nil
}

func (b *Memory) Remove(key []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := b.search(key)
	if i < len(b.keys) && bytes.Equal(b.keys[i], key) {
		b.keys = append(b.keys[:i], b.keys[i+1:]...)
		delete(b.values, string(key))
	}
	return nil
}

func (b *Memory) Match(prefix []byte) (Iterator, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	start := b.search(prefix)
	var keys, values [][]byte
	for i := start; i < len(b.keys); i++ {
		if !hasPrefix(b.keys[i], prefix) {
			break
		}
		keys = append(keys, append([]byte(nil), b.keys[i]...))
		values = append(values, append([]byte(nil), b.values[string(b.keys[i])]...))
	}
	return &memoryIterator{keys: keys, values: values, idx: -1}, nil
}

type memoryIterator struct {
	keys, values [][]byte
	idx          int
}

func (it *memoryIterator) Next() bool {
	it.idx++
	return it.idx < len(it.keys)
}
func (it *memoryIterator) Key() []byte   { return it.keys[it.idx] }
func (it *memoryIterator) Value() []byte { return it.values[it.idx] }
func (it *memoryIterator) Err() error    { return nil }
func (it *memoryIterator) Close() error  { return nil }
