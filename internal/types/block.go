package types

import (
	gocrypto "crypto"
	"errors"
	"strconv"

	"github.com/alphabill-org/ledgercore/internal/crypto"
	"github.com/alphabill-org/ledgercore/internal/mt"
)

const HeaderVersion = 1

var (
	errBlockIsNil  = errors.New("block is nil")
	errHeaderIsNil = errors.New("block header is nil")
)

type (
	Block struct {
		_            struct{} `cbor:",toarray"`
		Header       *Header
		Transactions []*Transaction
	}

	// Header commits to the parent block and to the ordered transaction list.
	// Difficulty and Nonce carry the proof-of-work, Signatures the
	// stake or quorum proof. Unused proof fields are left empty.
	Header struct {
		_          struct{} `cbor:",toarray"`
		Version    uint32
		ParentHash crypto.Hash
		Height     uint64
		Timestamp  uint64 // unix milliseconds
		TxRoot     crypto.Hash
		Proposer   []byte
		Difficulty uint32
		Nonce      uint64
		Signatures [][]byte
	}
)

// Bytes returns the canonical encoding of the header.
func (h *Header) Bytes() ([]byte, error) {
	if h == nil {
		return nil, errHeaderIsNil
	}
	return Marshal(h)
}

// SigBytes is the canonical encoding without signatures. Proposer and
// validator signatures, as well as the proof-of-work, are computed over it.
func (h *Header) SigBytes() ([]byte, error) {
	if h == nil {
		return nil, errHeaderIsNil
	}
	c := *h
	c.Signatures = nil
	return Marshal(&c)
}

// Hash is the block id. Signatures are not part of it: any set of them
// proving the same header yields the same block.
func (h *Header) Hash(hashAlgorithm gocrypto.Hash) crypto.Hash {
	b, err := h.SigBytes()
	if err != nil {
		return crypto.ZeroHash
	}
	return crypto.Sum(hashAlgorithm, b)
}

// IsValid checks structure of a non-genesis header.
func (h *Header) IsValid() error {
	if h == nil {
		return structuralErr(InvalidHeader, "%v", errHeaderIsNil)
	}
	if h.Version != HeaderVersion {
		return structuralErr(InvalidHeader, "unsupported version %d", h.Version)
	}
	if h.Height == 0 {
		return structuralErr(InvalidHeader, "height 0 is reserved for genesis")
	}
	if h.ParentHash.IsZero() {
		return structuralErr(InvalidHeader, "parent hash is missing")
	}
	if h.Timestamp == 0 {
		return structuralErr(InvalidHeader, "timestamp is missing")
	}
	if len(h.Proposer) == 0 {
		return structuralErr(InvalidHeader, "proposer is missing")
	}
	return nil
}

func (b *Block) Hash(hashAlgorithm gocrypto.Hash) crypto.Hash {
	if b == nil {
		return crypto.ZeroHash
	}
	return b.Header.Hash(hashAlgorithm)
}

func (b *Block) Bytes() ([]byte, error) {
	if b == nil {
		return nil, errBlockIsNil
	}
	return Marshal(b)
}

func (b *Block) Size() int {
	data, err := b.Bytes()
	if err != nil {
		return 0
	}
	return len(data)
}

// Height returns header height, 0 for a block without header.
func (b *Block) Height() uint64 {
	if b == nil || b.Header == nil {
		return 0
	}
	return b.Header.Height
}

// TxRoot computes the Merkle root over the transaction ids.
func (b *Block) TxRoot(hashAlgorithm gocrypto.Hash) crypto.Hash {
	return mt.Root(hashAlgorithm, TxHashes(hashAlgorithm, b.Transactions))
}

// InclusionProof returns the Merkle path of the i-th transaction.
func (b *Block) InclusionProof(hashAlgorithm gocrypto.Hash, i int) ([]*mt.PathItem, error) {
	return mt.New(hashAlgorithm, TxHashes(hashAlgorithm, b.Transactions)).GetMerklePath(i)
}

// IsValid checks block structure. Commitment and ledger rules are checked by consensus.
func (b *Block) IsValid(hashAlgorithm gocrypto.Hash) error {
	if b == nil {
		return structuralErr(Malformed, "%v", errBlockIsNil)
	}
	if err := b.Header.IsValid(); err != nil {
		return err
	}
	for i, tx := range b.Transactions {
		if err := tx.IsValid(hashAlgorithm); err != nil {
			var se *StructuralError
			if errors.As(err, &se) {
				return &StructuralError{Code: se.Code, Msg: "transaction " + strconv.Itoa(i) + ": " + se.Msg}
			}
			return err
		}
	}
	return nil
}

// DecodeBlock parses the canonical encoding.
func DecodeBlock(data []byte) (*Block, error) {
	b := &Block{}
	if err := decodeCanonical(data, b); err != nil {
		return nil, structuralErr(Malformed, "decoding block: %v", err)
	}
	if b.Header == nil {
		return nil, structuralErr(InvalidHeader, "%v", errHeaderIsNil)
	}
	return b, nil
}
