package consensus

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/alphabill-org/ledgercore/internal/chain"
	"github.com/alphabill-org/ledgercore/internal/crypto"
	"github.com/alphabill-org/ledgercore/internal/types"
)

var errNoSigner = errors.New("rule has no signing key")

type Validator struct {
	PubKey []byte
	Stake  uint64
}

// ProofOfStake accepts blocks signed by their proposer when the proposer
// has stake. A block weighs as much as its proposer's stake.
type ProofOfStake struct {
	stakes    map[string]uint64
	verifiers map[string]crypto.Verifier
	signer    crypto.Signer
	pubKey    []byte
}

// NewProofOfStake creates the rule from the stake table. Signer is optional
// and only needed for sealing locally proposed blocks.
func NewProofOfStake(validators []Validator, signer crypto.Signer) (*ProofOfStake, error) {
	if len(validators) == 0 {
		return nil, errors.New("stake table is empty")
	}
	p := &ProofOfStake{
		stakes:    make(map[string]uint64, len(validators)),
		verifiers: make(map[string]crypto.Verifier, len(validators)),
		signer:    signer,
	}
	for i, v := range validators {
		if v.Stake == 0 {
			return nil, fmt.Errorf("validator %d has no stake", i)
		}
		key := string(v.PubKey)
		if _, found := p.stakes[key]; found {
			return nil, fmt.Errorf("validator %d: duplicate public key %X", i, v.PubKey)
		}
		ver, err := crypto.NewVerifier(v.PubKey)
		if err != nil {
			return nil, fmt.Errorf("validator %d: %w", i, err)
		}
		p.stakes[key] = v.Stake
		p.verifiers[key] = ver
	}
	if signer != nil {
		ver, err := signer.Verifier()
		if err != nil {
			return nil, err
		}
		if p.pubKey, err = ver.MarshalPublicKey(); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *ProofOfStake) Name() string {
	return "pos"
}

func (p *ProofOfStake) VerifyProof(h *types.Header, _ *chain.Node) error {
	ver, found := p.verifiers[string(h.Proposer)]
	if !found {
		return ruleErr(UnknownProposer, "proposer %X has no stake", h.Proposer)
	}
	if len(h.Signatures) != 1 {
		return ruleErr(BadProof, "expected exactly one proposer signature, got %d", len(h.Signatures))
	}
	if h.Difficulty != 0 || h.Nonce != 0 {
		return ruleErr(BadProof, "proof-of-work fields must be empty")
	}
	data, err := h.SigBytes()
	if err != nil {
		return ruleErr(BadProof, "%v", err)
	}
	if err := ver.VerifyBytes(h.Signatures[0], data); err != nil {
		return ruleErr(BadProof, "proposer signature: %v", err)
	}
	return nil
}

func (p *ProofOfStake) Weight(h *types.Header) (*uint256.Int, error) {
	stake, found := p.stakes[string(h.Proposer)]
	if !found {
		return nil, ruleErr(UnknownProposer, "proposer %X has no stake", h.Proposer)
	}
	return uint256.NewInt(stake), nil
}

func (p *ProofOfStake) Seal(_ context.Context, h *types.Header) error {
	if p.signer == nil {
		return errNoSigner
	}
	if !bytes.Equal(h.Proposer, p.pubKey) {
		return fmt.Errorf("proposer %X is not the signing key %X", h.Proposer, p.pubKey)
	}
	h.Difficulty, h.Nonce = 0, 0
	data, err := h.SigBytes()
	if err != nil {
		return err
	}
	sig, err := p.signer.SignBytes(data)
	if err != nil {
		return fmt.Errorf("signing header: %w", err)
	}
	h.Signatures = [][]byte{sig}
	return nil
}
