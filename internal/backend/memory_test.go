package backend

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_WriteReadRoundTrip(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Open())
	defer m.Close()

	require.NoError(t, m.Write([]byte("key-a"), []byte("value-a")))
	got, err := m.Read([]byte("key-a"))
	require.NoError(t, err)
	assert.Equal(t, []byte("value-a"), got)
}

func TestMemory_ReadMissing(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Open())
	defer m.Close()

	_, err := m.Read([]byte("missing"))
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestMemory_KeysStaySorted(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Open())
	defer m.Close()

	keys := [][]byte{[]byte("ccc"), []byte("aaa"), []byte("bbb")}
	for _, k := range keys {
		require.NoError(t, m.Write(k, k))
	}

	var prev []byte
	it, err := m.Match(nil)
	require.NoError(t, err)
	defer it.Close()
	n := 0
	for it.Next() {
		k := it.Key()
		if prev != nil {
			assert.True(t, bytes.Compare(prev, k) < 0, "keys must be strictly ascending")
		}
		prev = append([]byte(nil), k...)
		n++
	}
	require.NoError(t, it.Err())
	assert.Equal(t, 3, n)
}

func TestMemory_ReadLEQ(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Open())
	defer m.Close()

	require.NoError(t, m.Write([]byte("b"), []byte("vb")))
	require.NoError(t, m.Write([]byte("d"), []byte("vd")))

	// Exact match.
	k, v, err := m.ReadLEQ([]byte("b"))
	require.NoError(t, err)
	assert.Equal(t, []byte("b"), k)
	assert.Equal(t, []byte("vb"), v)

	// Probe strictly between two keys resolves to the lesser one.
	k, v, err = m.ReadLEQ([]byte("c"))
	require.NoError(t, err)
	assert.Equal(t, []byte("b"), k)
	assert.Equal(t, []byte("vb"), v)

	// Probe below every key is a miss.
	_, _, err = m.ReadLEQ([]byte("a"))
	assert.True(t, errors.Is(err, ErrNotFound))

	// Probe above every key resolves to the greatest one.
	k, _, err = m.ReadLEQ([]byte("z"))
	require.NoError(t, err)
	assert.Equal(t, []byte("d"), k)
}

func TestMemory_RemoveAndClear(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Open())
	defer m.Close()

	require.NoError(t, m.Write([]byte("x"), []byte("1")))
	require.NoError(t, m.Remove([]byte("x")))
	_, err := m.Read([]byte("x"))
	assert.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, m.Write([]byte("y"), []byte("2")))
	n, err := m.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, m.Clear())
	n, err = m.Count()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
