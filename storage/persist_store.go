package storage

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	leveldbstorage "github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// PersistenceStore wraps LevelDB for raw key-value persistence.
// LevelDB handles its own synchronization; sequence counters are guarded
// by seqMu.
type PersistenceStore struct {
	db    *leveldb.DB
	seqMu sync.Mutex
}

// NewPersistenceStore opens or creates a LevelDB database at the given path.
// If path is empty, uses in-memory storage.
func NewPersistenceStore(path string) (*PersistenceStore, error) {
	var db *leveldb.DB
	var err error

	if path == "" {
		db, err = leveldb.Open(leveldbstorage.NewMemStorage(), nil)
	} else {
		db, err = leveldb.OpenFile(path, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database at %s: %w", path, err)
	}
	return &PersistenceStore{db: db}, nil
}

// NewMemoryPersistenceStore creates an in-memory PersistenceStore for testing.
func NewMemoryPersistenceStore() (*PersistenceStore, error) {
	return NewPersistenceStore("")
}

// Get retrieves a value by key. Returns (nil, false, nil) if not found.
func (ps *PersistenceStore) Get(key []byte) ([]byte, bool, error) {
	data, err := ps.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("Get %q: %w", key, err)
	}
	return data, true, nil
}

func (ps *PersistenceStore) Put(key []byte, value []byte) error {
	return ps.db.Put(key, value, nil)
}

func (ps *PersistenceStore) Delete(key []byte) error {
	return ps.db.Delete(key, nil)
}

// Write applies a batch atomically.
func (ps *PersistenceStore) Write(b *leveldb.Batch) error {
	return ps.db.Write(b, nil)
}

// Scan calls fn for every key with the given prefix in key order, stopping
// at the first error. key and value are only valid during the call.
func (ps *PersistenceStore) Scan(prefix []byte, fn func(key, value []byte) error) error {
	iter := ps.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()
	for iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	if err := iter.Error(); err != nil {
		return fmt.Errorf("scan %q: %w", prefix, err)
	}
	return nil
}

// CountPrefix counts keys with the given prefix.
func (ps *PersistenceStore) CountPrefix(prefix []byte) (int, error) {
	iter := ps.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()

	n := 0
	for iter.Next() {
		n++
	}
	return n, iter.Error()
}

// NextSeq increments and returns the named counter, starting at 1.
func (ps *PersistenceStore) NextSeq(name string) (uint64, error) {
	ps.seqMu.Lock()
	defer ps.seqMu.Unlock()

	key := []byte("meta/seq/" + name)
	var cur uint64
	raw, found, err := ps.Get(key)
	if err != nil {
		return 0, err
	}
	if found {
		cur = binary.BigEndian.Uint64(raw)
	}
	cur++
	if err := ps.Put(key, binary.BigEndian.AppendUint64(nil, cur)); err != nil {
		return 0, err
	}
	return cur, nil
}

func (ps *PersistenceStore) Close() error {
	return ps.db.Close()
}
