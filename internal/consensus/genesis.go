package consensus

import (
	gocrypto "crypto"
	"fmt"

	"github.com/alphabill-org/ledgercore/internal/state"
	"github.com/alphabill-org/ledgercore/internal/types"
)

// NewGenesisBlock creates the first block of a chain. It has no parent and
// no transactions, its tx root commits to the initial ledger state.
func NewGenesisBlock(s *state.Snapshot, timestamp uint64) *types.Block {
	return &types.Block{
		Header: &types.Header{
			Version:   types.HeaderVersion,
			Timestamp: timestamp,
			TxRoot:    s.Root(),
		},
	}
}

// VerifyGenesis checks that b is a genesis block for the initial state s.
func VerifyGenesis(hashAlgorithm gocrypto.Hash, b *types.Block, s *state.Snapshot) error {
	if b == nil || b.Header == nil {
		return fmt.Errorf("genesis block header is missing")
	}
	h := b.Header
	switch {
	case h.Version != types.HeaderVersion:
		return fmt.Errorf("genesis block version %d", h.Version)
	case h.Height != 0:
		return fmt.Errorf("genesis block height is %d", h.Height)
	case !h.ParentHash.IsZero():
		return fmt.Errorf("genesis block has parent %s", h.ParentHash)
	case len(b.Transactions) != 0:
		return fmt.Errorf("genesis block has %d transactions", len(b.Transactions))
	case s.HashAlgorithm() != hashAlgorithm:
		return fmt.Errorf("genesis state uses hash algorithm %v, chain %v", s.HashAlgorithm(), hashAlgorithm)
	case h.TxRoot != s.Root():
		return fmt.Errorf("genesis block commits to state %s, genesis state root is %s", h.TxRoot, s.Root())
	}
	return nil
}
