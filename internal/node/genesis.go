package node

import (
	gocrypto "crypto"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/alphabill-org/ledgercore/internal/consensus"
	"github.com/alphabill-org/ledgercore/internal/crypto"
	"github.com/alphabill-org/ledgercore/internal/state"
	"github.com/alphabill-org/ledgercore/internal/types"
	"github.com/alphabill-org/ledgercore/internal/util"
)

const (
	RulePoW             = "pow"
	RulePoWLeadingZeros = "pow-leading-zeros"
	RulePoS             = "pos"
	RuleQuorum          = "quorum"
)

var errGenesisIsNil = errors.New("genesis is nil")

type (
	// Genesis describes a chain: the hash algorithm, the initial balances and
	// the consensus rule every node of the chain runs.
	Genesis struct {
		HashAlgorithm string               `json:"hashAlgorithm"`
		Timestamp     uint64               `json:"timestamp"`
		Allocations   []*GenesisAllocation `json:"allocations"`
		Consensus     *ConsensusParams     `json:"consensus"`
	}

	GenesisAllocation struct {
		Address string `json:"address"`
		Amount  uint64 `json:"amount"`
	}

	ConsensusParams struct {
		Rule string `json:"rule"`
		// Difficulty is the compact target for "pow", the number of leading
		// zero hex digits for "pow-leading-zeros".
		Difficulty uint32            `json:"difficulty,omitempty"`
		Validators []*ValidatorEntry `json:"validators,omitempty"`
	}

	ValidatorEntry struct {
		PubKey hexutil.Bytes `json:"pubKey"`
		Stake  uint64        `json:"stake,omitempty"`
	}
)

func LoadGenesis(path string) (*Genesis, error) {
	g, err := util.ReadJsonFile(path, &Genesis{})
	if err != nil {
		return nil, fmt.Errorf("loading genesis file %s: %w", path, err)
	}
	return g, nil
}

func (g *Genesis) Save(path string) error {
	return util.WriteJsonFile(path, g)
}

func (g *Genesis) HashAlg() (gocrypto.Hash, error) {
	if g.HashAlgorithm == "" {
		return crypto.DefaultHashAlgorithm, nil
	}
	return crypto.HashAlgorithmFromString(g.HashAlgorithm)
}

// Build creates the genesis state and block.
func (g *Genesis) Build(ledger *state.Ledger) (*types.Block, *state.Snapshot, error) {
	allocs := make([]state.Allocation, 0, len(g.Allocations))
	for i, a := range g.Allocations {
		if a == nil {
			return nil, nil, fmt.Errorf("allocation %d is nil", i)
		}
		addr, err := types.AddressFromString(a.Address)
		if err != nil {
			return nil, nil, fmt.Errorf("allocation %d: %w", i, err)
		}
		allocs = append(allocs, state.Allocation{Address: addr, Amount: a.Amount})
	}
	s, err := ledger.Genesis(allocs)
	if err != nil {
		return nil, nil, err
	}
	return consensus.NewGenesisBlock(s, g.Timestamp), s, nil
}

// NewRule creates the consensus rule of the chain. Signers are the local
// keys used to seal blocks, they are ignored by proof of work.
func (g *Genesis) NewRule(signers ...crypto.Signer) (consensus.Rule, error) {
	p := g.Consensus
	if p == nil {
		return nil, errors.New("genesis has no consensus parameters")
	}
	var (
		rule consensus.Rule
		err  error
	)
	switch p.Rule {
	case RulePoW:
		rule, err = consensus.NewProofOfWork(p.Difficulty)
	case RulePoWLeadingZeros:
		rule, err = consensus.NewLeadingZerosProofOfWork(p.Difficulty)
	case RulePoS:
		validators := make([]consensus.Validator, len(p.Validators))
		for i, v := range p.Validators {
			validators[i] = consensus.Validator{PubKey: v.PubKey, Stake: v.Stake}
		}
		var signer crypto.Signer
		if len(signers) > 0 {
			signer = signers[0]
		}
		rule, err = consensus.NewProofOfStake(validators, signer)
	case RuleQuorum:
		keys := make([][]byte, len(p.Validators))
		for i, v := range p.Validators {
			keys[i] = v.PubKey
		}
		rule, err = consensus.NewSignatureQuorum(keys, signers...)
	default:
		return nil, fmt.Errorf("unknown consensus rule %q", p.Rule)
	}
	if err != nil {
		return nil, fmt.Errorf("%s rule: %w", p.Rule, err)
	}
	return rule, nil
}
