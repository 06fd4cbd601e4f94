package chain

import (
	"github.com/holiman/uint256"

	"github.com/alphabill-org/ledgercore/internal/crypto"
	"github.com/alphabill-org/ledgercore/internal/types"
	"github.com/alphabill-org/ledgercore/internal/util"
)

type Status uint8

const (
	// Pending blocks passed the header checks but their transactions have
	// not been replayed yet.
	Pending Status = iota
	Valid
	// Invalid blocks and all their descendants are excluded from fork choice.
	Invalid
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Valid:
		return "valid"
	case Invalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Node is a read-only view of a block in the tree.
type Node struct {
	Block  *types.Block
	Hash   crypto.Hash
	Parent crypto.Hash
	Height uint64
	// Weight is the cumulative weight of the chain ending with this block.
	Weight *uint256.Int
	Status Status
}

// node links to its relatives by hash, the Store resolves them through its
// arena map.
type node struct {
	block    *types.Block
	hash     crypto.Hash
	parent   crypto.Hash
	weight   *uint256.Int
	status   Status
	children []crypto.Hash
}

func (n *node) height() uint64 {
	return n.block.Header.Height
}

func (n *node) view() *Node {
	return &Node{
		Block:  n.block,
		Hash:   n.hash,
		Parent: n.parent,
		Height: n.height(),
		Weight: new(uint256.Int).Set(n.weight),
		Status: n.status,
	}
}

// heavier is the fork choice order: greater weight wins, equal weights are
// decided by the smaller hash.
func (n *node) heavier(o *node) bool {
	if o == nil {
		return true
	}
	switch n.weight.Cmp(o.weight) {
	case 1:
		return true
	case -1:
		return false
	}
	return n.hash.Less(o.hash)
}

// blockRecord is the persisted form of a tree node.
type blockRecord struct {
	_      struct{} `cbor:",toarray"`
	Block  *types.Block
	Status Status
	Weight []byte
}

func (n *node) record() *blockRecord {
	return &blockRecord{Block: n.block, Status: n.status, Weight: util.Uint256ToBytes(n.weight)}
}
