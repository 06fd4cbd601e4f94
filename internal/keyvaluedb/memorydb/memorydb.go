package memorydb

import (
	"errors"
	"fmt"
	"sync"

	"github.com/alphabill-org/ledgercore/internal/keyvaluedb"
)

var ErrDiskFull = errors.New("write failed, disk is full")

// MemoryDB is an in-memory key value store, used by tests and by nodes
// started without a data directory.
type MemoryDB struct {
	db      map[string][]byte
	encoder keyvaluedb.EncodeFn
	decoder keyvaluedb.DecodeFn
	limit   int
	lock    sync.RWMutex
}

func New() *MemoryDB {
	return &MemoryDB{
		db:      make(map[string][]byte),
		encoder: keyvaluedb.Encode,
		decoder: keyvaluedb.Decode,
	}
}

// NewWithLimiter can be used to test disk full scenarios
func NewWithLimiter(limit int) *MemoryDB {
	db := New()
	db.limit = limit
	return db
}

// Empty returns true if no values are stored in db
func (db *MemoryDB) Empty() bool {
	db.lock.RLock()
	defer db.lock.RUnlock()
	return len(db.db) == 0
}

// Read retrieves the given key if it's present in the key-value store.
func (db *MemoryDB) Read(key []byte, value any) (bool, error) {
	if err := keyvaluedb.CheckKeyAndValue(key, value); err != nil {
		return false, err
	}
	db.lock.RLock()
	defer db.lock.RUnlock()
	if data, ok := db.db[string(key)]; ok {
		return true, db.decoder(data, value)
	}
	return false, nil
}

// Write inserts the given value into the key-value store.
func (db *MemoryDB) Write(key []byte, value any) error {
	if err := keyvaluedb.CheckKeyAndValue(key, value); err != nil {
		return err
	}
	b, err := db.encoder(value)
	if err != nil {
		return err
	}
	db.lock.Lock()
	defer db.lock.Unlock()
	if _, exists := db.db[string(key)]; !exists && db.limit > 0 && len(db.db) >= db.limit {
		return ErrDiskFull
	}
	db.db[string(key)] = b
	return nil
}

// Delete removes the key from the key-value store.
func (db *MemoryDB) Delete(key []byte) error {
	if err := keyvaluedb.CheckKey(key); err != nil {
		return err
	}
	db.lock.Lock()
	defer db.lock.Unlock()
	delete(db.db, string(key))
	return nil
}

// First returns forward iterator to the first element in DB
func (db *MemoryDB) First() keyvaluedb.Iterator {
	db.lock.RLock()
	defer db.lock.RUnlock()
	it := newIterator(db.db, db.decoder)
	it.first()
	return it
}

// Find returns the closest binary search match
func (db *MemoryDB) Find(key []byte) keyvaluedb.Iterator {
	db.lock.RLock()
	defer db.lock.RUnlock()
	it := newIterator(db.db, db.decoder)
	it.seek(key)
	return it
}

func (db *MemoryDB) StartTx() (keyvaluedb.DBTransaction, error) {
	db.lock.RLock()
	defer db.lock.RUnlock()
	tx, err := newMapTx(db)
	if err != nil {
		return nil, fmt.Errorf("failed to start memory db tx: %w", err)
	}
	return tx, nil
}

func (db *MemoryDB) SetLimit(limit int) {
	db.lock.Lock()
	defer db.lock.Unlock()
	db.limit = limit
}

func (db *MemoryDB) Close() error {
	return nil
}
