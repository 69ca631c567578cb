package store

import "github.com/cockroachdb/pebble"

// ReadTx is a read-only view over the store, backed by a point-in-time
// pebble snapshot. Overlapping read-only views never block each other.
type ReadTx interface {
	Has(key []byte) (bool, error)
	Get(key []byte) ([]byte, error)
}

// ReadWriteTx is a read-write view backed by a pebble batch: reads observe
// the batch's own pending writes layered over the database, writes are
// buffered until the enclosing Update call commits them atomically.
type ReadWriteTx interface {
	ReadTx
	Put(key, value []byte) error
	Delete(key []byte) error
}

type readTx struct {
	snap *pebble.Snapshot
}

func (tx *readTx) Has(key []byte) (bool, error) {
	_, closer, err := tx.snap.Get(key)
	if err == pebble.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	closer.Close()
	return true, nil
}

func (tx *readTx) Get(key []byte) ([]byte, error) {
	v, closer, err := tx.snap.Get(key)
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	out := append([]byte(nil), v...)
	closer.Close()
	return out, nil
}

type readWriteTx struct {
	db    *pebble.DB
	batch *pebble.Batch
}

func (tx *readWriteTx) Has(key []byte) (bool, error) {
	_, closer, err := tx.batch.Get(key)
	if err == pebble.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	closer.Close()
	return true, nil
}

func (tx *readWriteTx) Get(key []byte) ([]byte, error) {
	v, closer, err := tx.batch.Get(key)
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	out := append([]byte(nil), v...)
	closer.Close()
	return out, nil
}

func (tx *readWriteTx) Put(key, value []byte) error {
	return tx.batch.Set(key, value, nil)
}

func (tx *readWriteTx) Delete(key []byte) error {
	return tx.batch.Delete(key, nil)
}
