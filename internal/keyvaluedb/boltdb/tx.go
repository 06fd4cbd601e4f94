package boltdb

import (
	"errors"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/alphabill-org/ledgercore/internal/keyvaluedb"
)

var errTxClosed = errors.New("tx closed")

type Tx struct {
	db      *bolt.DB
	tx      *bolt.Tx
	bucket  []byte
	encoder keyvaluedb.EncodeFn
	decoder keyvaluedb.DecodeFn
}

func newBoltTx(db *bolt.DB, bucket []byte, e keyvaluedb.EncodeFn, d keyvaluedb.DecodeFn) (*Tx, error) {
	if db == nil {
		return nil, fmt.Errorf("bolt db is nil")
	}
	tx, err := db.Begin(true)
	if err != nil {
		return nil, err
	}
	return &Tx{db: db, tx: tx, bucket: bucket, encoder: e, decoder: d}, nil
}

func (t *Tx) Read(key []byte, v any) (bool, error) {
	if err := keyvaluedb.CheckKeyAndValue(key, v); err != nil {
		return false, err
	}
	if t.tx == nil {
		return false, fmt.Errorf("bolt tx read failed: %w", errTxClosed)
	}
	data := t.tx.Bucket(t.bucket).Get(key)
	if data == nil {
		return false, nil
	}
	return true, t.decoder(data, v)
}

func (t *Tx) Write(key []byte, v any) error {
	if err := keyvaluedb.CheckKeyAndValue(key, v); err != nil {
		return err
	}
	if t.tx == nil {
		return fmt.Errorf("bolt tx write failed: %w", errTxClosed)
	}
	b, err := t.encoder(v)
	if err != nil {
		return err
	}
	return t.tx.Bucket(t.bucket).Put(key, b)
}

func (t *Tx) Delete(key []byte) error {
	if err := keyvaluedb.CheckKey(key); err != nil {
		return err
	}
	if t.tx == nil {
		return fmt.Errorf("bolt tx delete failed: %w", errTxClosed)
	}
	return t.tx.Bucket(t.bucket).Delete(key)
}

func (t *Tx) Rollback() error {
	if t.tx == nil {
		return nil
	}
	tx := t.tx
	t.tx = nil
	return tx.Rollback()
}

func (t *Tx) Commit() error {
	if t.tx == nil {
		return fmt.Errorf("bolt tx commit failed: %w", errTxClosed)
	}
	tx := t.tx
	t.tx = nil
	return tx.Commit()
}
