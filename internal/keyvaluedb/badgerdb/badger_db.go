package badgerdb

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/alphabill-org/ledgercore/internal/keyvaluedb"
)

// gcDiscardRatio is the fraction of stale data in a value log file that triggers a rewrite.
const gcDiscardRatio = 0.5

type BadgerDB struct {
	db      *badger.DB
	encoder keyvaluedb.EncodeFn
	decoder keyvaluedb.DecodeFn
}

// New opens a Badger DB in directory dir. Writes are synced to disk before they return.
func New(dir string) (*BadgerDB, error) {
	return open(badger.DefaultOptions(dir).WithLogger(nil).WithSyncWrites(true))
}

// NewInMemory creates a Badger DB which is never persisted.
func NewInMemory() (*BadgerDB, error) {
	return open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
}

func open(opts badger.Options) (*BadgerDB, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger db %q: %w", opts.Dir, err)
	}
	return &BadgerDB{db: db, encoder: keyvaluedb.Encode, decoder: keyvaluedb.Decode}, nil
}

func (db *BadgerDB) Read(key []byte, v any) (bool, error) {
	if err := keyvaluedb.CheckKeyAndValue(key, v); err != nil {
		return false, err
	}
	err := db.db.View(func(txn *badger.Txn) error {
		return readTxn(txn, key, v, db.decoder)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return true, fmt.Errorf("badger db read failed: %w", err)
	}
	return true, nil
}

func readTxn(txn *badger.Txn, key []byte, v any, decode keyvaluedb.DecodeFn) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return decode(val, v)
	})
}

func (db *BadgerDB) Write(key []byte, v any) error {
	if err := keyvaluedb.CheckKeyAndValue(key, v); err != nil {
		return err
	}
	b, err := db.encoder(v)
	if err != nil {
		return err
	}
	if err := db.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, b)
	}); err != nil {
		return fmt.Errorf("badger db write failed: %w", err)
	}
	return nil
}

func (db *BadgerDB) Delete(key []byte) error {
	if err := keyvaluedb.CheckKey(key); err != nil {
		return err
	}
	if err := db.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	}); err != nil {
		return fmt.Errorf("badger db delete failed: %w", err)
	}
	return nil
}

func (db *BadgerDB) First() keyvaluedb.Iterator {
	it := newIterator(db.db, db.decoder)
	it.it.Rewind()
	return it
}

func (db *BadgerDB) Find(key []byte) keyvaluedb.Iterator {
	it := newIterator(db.db, db.decoder)
	it.it.Seek(key)
	return it
}

func (db *BadgerDB) StartTx() (keyvaluedb.DBTransaction, error) {
	return &Tx{txn: db.db.NewTransaction(true), encoder: db.encoder, decoder: db.decoder}, nil
}

// RunGC rewrites value log files until there is nothing left to reclaim.
func (db *BadgerDB) RunGC() error {
	for {
		err := db.db.RunValueLogGC(gcDiscardRatio)
		switch {
		case err == nil:
			continue
		case errors.Is(err, badger.ErrNoRewrite), errors.Is(err, badger.ErrRejected):
			return nil
		default:
			return err
		}
	}
}

func (db *BadgerDB) Close() error {
	if db.db == nil {
		return nil
	}
	return db.db.Close()
}
