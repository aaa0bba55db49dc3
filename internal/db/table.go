package db

import (
	tmdb "github.com/cosmos/cosmos-db"
)

// Reader is the read side of the store; tmdb.DB satisfies it.
type Reader interface {
	Get(key []byte) ([]byte, error)
	Iterator(start, end []byte) (tmdb.Iterator, error)
	ReverseIterator(start, end []byte) (tmdb.Iterator, error)
}

// Writer is the write side of an atomic batch; tmdb.Batch satisfies it.
type Writer interface {
	Set(key, value []byte) error
	Delete(key []byte) error
}

// Codec converts a typed key or value to and from bytes.
type Codec[T any] struct {
	Encode func(T) []byte
	Decode func([]byte) (T, error)
}

// Table is one logical table inside the flat keyspace. Every row key is
// prefix + key.Encode(k), so each table scans independently of the rest.
type Table[K, V any] struct {
	prefix []byte
	key    Codec[K]
	value  Codec[V]
}

func NewTable[K, V any](prefix string, key Codec[K], value Codec[V]) *Table[K, V] {
	return &Table[K, V]{
		prefix: []byte(prefix),
		key:    key,
		value:  value,
	}
}

func (t *Table[K, V]) rawKey(encoded []byte) []byte {
	k := make([]byte, 0, len(t.prefix)+len(encoded))
	k = append(k, t.prefix...)
	return append(k, encoded...)
}

// Get returns the value stored at k and whether it exists.
func (t *Table[K, V]) Get(r Reader, k K) (V, bool, error) {
	var zero V
	raw, err := r.Get(t.rawKey(t.key.Encode(k)))
	if err != nil {
		return zero, false, err
	}
	if raw == nil {
		return zero, false, nil
	}
	v, err := t.value.Decode(raw)
	if err != nil {
		return zero, false, err
	}
	return v, true, nil
}

func (t *Table[K, V]) Put(w Writer, k K, v V) error {
	return w.Set(t.rawKey(t.key.Encode(k)), t.value.Encode(v))
}

func (t *Table[K, V]) Delete(w Writer, k K) error {
	return w.Delete(t.rawKey(t.key.Encode(k)))
}

// Scan visits, in key order, every row whose encoded key starts with
// keyPrefix. A nil keyPrefix visits the whole table. fn returns false to
// stop early.
func (t *Table[K, V]) Scan(r Reader, keyPrefix []byte, reverse bool, fn func(K, V) (bool, error)) error {
	start := t.rawKey(keyPrefix)
	end := prefixEnd(start)

	var (
		it  tmdb.Iterator
		err error
	)
	if reverse {
		it, err = r.ReverseIterator(start, end)
	} else {
		it, err = r.Iterator(start, end)
	}
	if err != nil {
		return err
	}
	defer it.Close()

	for ; it.Valid(); it.Next() {
		k, err := t.key.Decode(it.Key()[len(t.prefix):])
		if err != nil {
			return err
		}
		v, err := t.value.Decode(it.Value())
		if err != nil {
			return err
		}
		next, err := fn(k, v)
		if err != nil {
			return err
		}
		if !next {
			break
		}
	}
	return it.Error()
}

// prefixEnd returns the smallest key greater than every key that starts
// with prefix, or nil when no such key exists.
func prefixEnd(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}
