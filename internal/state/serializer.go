package state

import (
	gocrypto "crypto"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/alphabill-org/ledgercore/internal/tree/avl"
	"github.com/alphabill-org/ledgercore/internal/types"
)

// CBORChecksumLength is the length of CBOR encoded [4]byte checksum.
const CBORChecksumLength = 5

const checkpointVersion = 1

var ErrChecksumMismatch = errors.New("checkpoint checksum mismatch")

type (
	checkpointHeader struct {
		_            struct{} `cbor:",toarray"`
		Version      uint32
		AccountCount uint64
	}

	accountRecord struct {
		_       struct{} `cbor:",toarray"`
		Address types.Address
		Balance uint64
		Nonce   uint64
	}
)

// Write serializes the account set of s: a header, account records in
// address order and a CRC32 checksum of the preceding data. Applied
// transaction history is not written.
func (s *Snapshot) Write(writer io.Writer) error {
	crc32Writer := NewCRC32Writer(writer)
	encoder := types.NewEncoder(crc32Writer)

	if err := encoder.Encode(&checkpointHeader{Version: checkpointVersion, AccountCount: uint64(s.Len())}); err != nil {
		return fmt.Errorf("unable to write header: %w", err)
	}
	var err error
	s.Accounts(func(addr types.Address, acc Account) bool {
		err = encoder.Encode(&accountRecord{Address: addr, Balance: acc.Balance, Nonce: acc.Nonce})
		return err == nil
	})
	if err != nil {
		return fmt.Errorf("unable to write account record: %w", err)
	}

	// Write checksum (as a fixed length byte array for easier decoding)
	var checksum [4]byte
	binary.BigEndian.PutUint32(checksum[:], crc32Writer.Sum())
	if err := encoder.Encode(checksum); err != nil {
		return fmt.Errorf("unable to write checksum: %w", err)
	}
	return nil
}

// ReadSnapshot restores a snapshot written by Snapshot.Write.
func ReadSnapshot(reader io.Reader, hashAlgorithm gocrypto.Hash) (*Snapshot, error) {
	if reader == nil {
		return nil, fmt.Errorf("reader is nil")
	}
	crc32Reader := NewCRC32Reader(reader, CBORChecksumLength)
	decoder := types.NewDecoder(crc32Reader)

	var header checkpointHeader
	if err := decoder.Decode(&header); err != nil {
		return nil, fmt.Errorf("unable to decode header: %w", err)
	}
	if header.Version != checkpointVersion {
		return nil, fmt.Errorf("unsupported checkpoint version %d", header.Version)
	}

	accounts := avl.New[addrKey, Account]()
	var prev *types.Address
	for i := uint64(0); i < header.AccountCount; i++ {
		var rec accountRecord
		if err := decoder.Decode(&rec); err != nil {
			return nil, fmt.Errorf("unable to decode account record: %w", err)
		}
		if prev != nil && addrKey(rec.Address).Compare(addrKey(*prev)) <= 0 {
			return nil, fmt.Errorf("account records are not in strictly ascending order")
		}
		acc := Account{Balance: rec.Balance, Nonce: rec.Nonce}
		if acc.isEmpty() {
			return nil, fmt.Errorf("empty account record %s", rec.Address)
		}
		accounts = accounts.Put(addrKey(rec.Address), acc)
		prev = &rec.Address
	}

	var checksum [4]byte
	if err := decoder.Decode(&checksum); err != nil {
		return nil, fmt.Errorf("unable to decode checksum: %w", err)
	}
	if binary.BigEndian.Uint32(checksum[:]) != crc32Reader.Sum() {
		return nil, ErrChecksumMismatch
	}
	return newSnapshot(hashAlgorithm, accounts, nil), nil
}
