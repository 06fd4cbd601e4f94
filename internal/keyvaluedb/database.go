package keyvaluedb

import (
	"bytes"
	"fmt"
)

// Reader interface for DB
type Reader interface {
	// Read reads the value for key stored in the DB, returns false if the key does not exist.
	Read(key []byte, value any) (bool, error)
}

// Writer interface for DB
type Writer interface {
	// Write inserts the given value into the DB. Value is durable when Write returns.
	Write(key []byte, value any) error
	// Delete removes the key from the key-value data store.
	Delete(key []byte) error
}

// DBTx interface for database transactions
// NB! all transactions MUST be completed by either calling Commit() or Rollback() which releases
// the transaction.  Only one read-write transaction is allowed at a time.
type DBTx interface {
	StartTx() (DBTransaction, error)
}

// KeyValueDB contains all the methods required to access the key-value data store.
type KeyValueDB interface {
	Reader
	Writer
	Iterable
	DBTx
	Close() error
}

type Iterator interface {
	// Next moves the iterator to the next key value pair
	Next()
	// Valid returns state of the iterator, if at the end false it returned
	Valid() bool
	// Key returns the key of the current key/value pair, or nil if not valid.
	Key() []byte
	// Value returns the value of the current key/value pair, or error if not valid.
	Value(value any) error
	// Close releases associated resources. Release should always succeed and can
	// be called multiple times without causing error.
	Close() error
}

// Iterable wraps the NewIterator methods of a backing data store.
type Iterable interface {
	// First creates a binary-alphabetical forward iterator starting with first item.
	// If the DB is empty the returned iterator returned is not valid (it.Valid() == false)
	// NB! when done iterator MUST be released with Close() or next DB operation will result in deadlock
	First() Iterator
	// Find returns forward iterator to the closest binary-alphabetical match.
	// If no match or DB is empty the returned iterator returned is not valid (it.Valid() == false)
	// NB! when done iterator MUST be released with Close() or next DB operation will result in deadlock
	Find(key []byte) Iterator
}

// DBTransaction key value database transaction
type DBTransaction interface {
	Writer
	Reader
	// Commit commits all pending changes
	Commit() error
	// Rollback reverts everything and nothing is changed
	Rollback() error
}

// IsEmpty is returns true if the key value DB is empty
func IsEmpty(db Iterable) (empty bool, err error) {
	if db == nil {
		return true, fmt.Errorf("db is nil")
	}
	it := db.First()
	defer func() { err = it.Close() }()
	return !it.Valid(), err
}

// IteratePrefix calls fn for every key starting with prefix, in key order.
// Values are decoded lazily with it.Value. Iteration stops at the first error.
func IteratePrefix(db Iterable, prefix []byte, fn func(key []byte, it Iterator) error) (err error) {
	it := db.Find(prefix)
	defer func() {
		if cerr := it.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	for ; it.Valid() && bytes.HasPrefix(it.Key(), prefix); it.Next() {
		if err := fn(it.Key(), it); err != nil {
			return err
		}
	}
	return nil
}
