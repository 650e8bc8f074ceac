package backend

import (
	"os"

	"github.com/bmatsuo/lmdb-go/lmdb"
	"github.com/pkg/errors"
)

const dbiName = "cachecore"

// LMDB is the default Backend: an embedded memory-mapped B-tree store.
// Keys are kept in lexicographic order by LMDB itself, which is exactly
// what the key codec's canonical ordering relies on for ReadLEQ.
// One environment, one named DBI; writes go through short-lived
// update transactions.
type LMDB struct {
	path    string
	mapSize int64

	env *lmdb.Env
	dbi lmdb.DBI
}

// NewLMDB returns a Backend that will open an LMDB environment rooted
// at path with the given map size once Open is called.
func NewLMDB(path string, mapSizeBytes int64) *LMDB {
	if mapSizeBytes <= 0 {
		mapSizeBytes = 1 << 30
	}
	return &LMDB{path: path, mapSize: mapSizeBytes}
}

func (b *LMDB) Open() error {
	env, err := lmdb.NewEnv()
	if err != nil {
		return errors.Wrap(err, "create lmdb environment")
	}
	if err := os.MkdirAll(b.path, 0755); err != nil {
		return errors.Wrapf(err, "create lmdb directory %s", b.path)
	}
	if err := env.SetMaxDBs(1); err != nil {
		return errors.Wrap(err, "set lmdb max dbs")
	}
	if err := env.SetMapSize(b.mapSize); err != nil {
		return errors.Wrap(err, "set lmdb map size")
	}
	if err := env.Open(b.path, 0, 0644); err != nil {
		return errors.Wrapf(err, "open lmdb environment at %s", b.path)
	}

	var dbi lmdb.DBI
	err = env.Update(func(txn *lmdb.Txn) (err error) {
		dbi, err = txn.OpenDBI(dbiName, lmdb.Create)
		return err
	})
	if err != nil {
		env.Close()
		return errors.Wrap(err, "open lmdb database")
	}

	b.env = env
	b.dbi = dbi
	return nil
}

func (b *LMDB) Close() error {
	if b.env == nil {
		return nil
	}
	err := b.env.Close()
	b.env = nil
	return err
}

func (b *LMDB) Sync() error {
	if b.env == nil {
		return errors.New("lmdb backend not open")
	}
	return b.env.Sync(true)
}

func (b *LMDB) Count() (int, error) {
	var n int
	err := b.env.View(func(txn *lmdb.Txn) error {
		stat, err := txn.Stat(b.dbi)
		if err != nil {
			return err
		}
		n = int(stat.Entries)
		return nil
	})
	return n, errors.Wrap(err, "lmdb count")
}

func (b *LMDB) Clear() error {
	err := b.env.Update(func(txn *lmdb.Txn) error {
		return txn.Drop(b.dbi, false)
	})
	return errors.Wrap(err, "lmdb clear")
}

func (b *LMDB) Read(key []byte) ([]byte, error) {
	var out []byte
	err := b.env.View(func(txn *lmdb.Txn) error {
		v, err := txn.Get(b.dbi, key)
		if err != nil {
			return err
		}
		out = append([]byte(nil), v...)
		return nil
	})
	if lmdb.IsNotFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "lmdb read")
	}
	return out, nil
}

// ReadLEQ finds the greatest key <= probe via a cursor positioned with
// SetRange (first key >= probe) and, unless that's an exact match,
// stepped back one with Prev.
func (b *LMDB) ReadLEQ(probe []byte) ([]byte, []byte, error) {
	var actualKey, value []byte
	err := b.env.View(func(txn *lmdb.Txn) error {
		cur, err := txn.OpenCursor(b.dbi)
		if err != nil {
			return err
		}
		defer cur.Close()

		k, v, err := cur.Get(probe, nil, lmdb.SetRange)
		switch {
		case err == nil && string(k) == string(probe):
			// Exact match is already the answer.
		case err == nil:
			// k is the smallest key > probe; step back once.
			k, v, err = cur.Get(nil, nil, lmdb.Prev)
			if err != nil {
				return err
			}
		case lmdb.IsNotFound(err):
			// probe is greater than every key in the store;
			// the greatest key overall is the answer.
			k, v, err = cur.Get(nil, nil, lmdb.Last)
			if err != nil {
				return err
			}
		default:
			return err
		}
		actualKey = append([]byte(nil), k...)
		value = append([]byte(nil), v...)
		return nil
	})
	if lmdb.IsNotFound(err) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, errors.Wrap(err, "lmdb read_leq")
	}
	return actualKey, value, nil
}

func (b *LMDB) Write(key, value []byte) error {
	err := b.env.Update(func(txn *lmdb.Txn) error {
		return txn.Put(b.dbi, key, value, 0)
	})
	return errors.Wrap(err, "lmdb write")
}

func (b *LMDB) Remove(key []byte) error {
	err := b.env.Update(func(txn *lmdb.Txn) error {
		err := txn.Del(b.dbi, key, nil)
		if lmdb.IsNotFound(err) {
			return nil
		}
		return err
	})
	return errors.Wrap(err, "lmdb remove")
}

func (b *LMDB) Match(prefix []byte) (Iterator, error) {
	txn, err := b.env.BeginTxn(nil, lmdb.Readonly)
	if err != nil {
		return nil, errors.Wrap(err, "lmdb match: begin txn")
	}
	cur, err := txn.OpenCursor(b.dbi)
	if err != nil {
		txn.Abort()
		return nil, errors.Wrap(err, "lmdb match: open cursor")
	}
	return &lmdbIterator{txn: txn, cur: cur, prefix: prefix, first: true}, nil
}

type lmdbIterator struct {
	txn    *lmdb.Txn
	cur    *lmdb.Cursor
	prefix []byte
	first  bool
	key    []byte
	value  []byte
	err    error
	done   bool
}

func (it *lmdbIterator) Next() bool {
	if it.done {
		return false
	}
	var k, v []byte
	var err error
	if it.first {
		it.first = false
		k, v, err = it.cur.Get(it.prefix, nil, lmdb.SetRange)
	} else {
		k, v, err = it.cur.Get(nil, nil, lmdb.Next)
	}
	if lmdb.IsNotFound(err) {
		it.done = true
		return false
	}
	if err != nil {
		it.err = err
		it.done = true
		return false
	}
	if !hasPrefix(k, it.prefix) {
		it.done = true
		return false
	}
	it.key = append([]byte(nil), k...)
	it.value = append([]byte(nil), v...)
	return true
}

func (it *lmdbIterator) Key() []byte   { return it.key }
func (it *lmdbIterator) Value() []byte { return it.value }
func (it *lmdbIterator) Err() error    { return it.err }

func (it *lmdbIterator) Close() error {
	if it.cur != nil {
		it.cur.Close()
		it.cur = nil
	}
	if it.txn != nil {
		it.txn.Abort()
		it.txn = nil
	}
	return nil
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}
