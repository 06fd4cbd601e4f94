package badgerdb

import (
	"errors"

	"github.com/dgraph-io/badger/v4"

	"github.com/alphabill-org/ledgercore/internal/keyvaluedb"
)

// Itr holds a read-only badger transaction until Close is called.
type Itr struct {
	txn     *badger.Txn
	it      *badger.Iterator
	decoder keyvaluedb.DecodeFn
}

func newIterator(db *badger.DB, d keyvaluedb.DecodeFn) *Itr {
	txn := db.NewTransaction(false)
	return &Itr{txn: txn, it: txn.NewIterator(badger.DefaultIteratorOptions), decoder: d}
}

func (it *Itr) Next() {
	if it.Valid() {
		it.it.Next()
	}
}

func (it *Itr) Valid() bool {
	return it.it != nil && it.it.Valid()
}

func (it *Itr) Key() []byte {
	if !it.Valid() {
		return nil
	}
	return it.it.Item().KeyCopy(nil)
}

func (it *Itr) Value(v any) error {
	if !it.Valid() {
		return errors.New("iterator invalid")
	}
	return it.it.Item().Value(func(val []byte) error {
		return it.decoder(val, v)
	})
}

func (it *Itr) Close() error {
	if it.it != nil {
		it.it.Close()
		it.it = nil
	}
	if it.txn != nil {
		it.txn.Discard()
		it.txn = nil
	}
	return nil
}
