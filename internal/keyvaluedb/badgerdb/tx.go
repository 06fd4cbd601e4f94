package badgerdb

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/alphabill-org/ledgercore/internal/keyvaluedb"
)

var errTxClosed = errors.New("tx closed")

type Tx struct {
	txn     *badger.Txn
	encoder keyvaluedb.EncodeFn
	decoder keyvaluedb.DecodeFn
}

func (t *Tx) Read(key []byte, v any) (bool, error) {
	if err := keyvaluedb.CheckKeyAndValue(key, v); err != nil {
		return false, err
	}
	if t.txn == nil {
		return false, fmt.Errorf("badger tx read failed: %w", errTxClosed)
	}
	err := readTxn(t.txn, key, v, t.decoder)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (t *Tx) Write(key []byte, v any) error {
	if err := keyvaluedb.CheckKeyAndValue(key, v); err != nil {
		return err
	}
	if t.txn == nil {
		return fmt.Errorf("badger tx write failed: %w", errTxClosed)
	}
	b, err := t.encoder(v)
	if err != nil {
		return err
	}
	return t.txn.Set(key, b)
}

func (t *Tx) Delete(key []byte) error {
	if err := keyvaluedb.CheckKey(key); err != nil {
		return err
	}
	if t.txn == nil {
		return fmt.Errorf("badger tx delete failed: %w", errTxClosed)
	}
	return t.txn.Delete(key)
}

func (t *Tx) Rollback() error {
	if t.txn != nil {
		t.txn.Discard()
		t.txn = nil
	}
	return nil
}

func (t *Tx) Commit() error {
	if t.txn == nil {
		return fmt.Errorf("badger tx commit failed: %w", errTxClosed)
	}
	txn := t.txn
	t.txn = nil
	return txn.Commit()
}
