package consensus

import (
	"context"

	"github.com/holiman/uint256"

	"github.com/alphabill-org/ledgercore/internal/chain"
	"github.com/alphabill-org/ledgercore/internal/types"
)

// Rule decides who may extend the chain and how much a block adds to the
// weight of its branch. Implementations must be deterministic: every node
// has to reach the same verdict and weight for the same header.
type Rule interface {
	Name() string
	// VerifyProof checks the proposer and the proof fields of h. Parent is
	// the known parent of the block, nil while the parent is unknown; a rule
	// needing the parent has to accept such a header and check it again
	// once the parent arrives.
	VerifyProof(h *types.Header, parent *chain.Node) error
	// Weight is the weight the block adds to its branch, at least one.
	Weight(h *types.Header) (*uint256.Int, error)
	// Seal fills in the proof fields of a locally proposed header.
	Seal(ctx context.Context, h *types.Header) error
}
