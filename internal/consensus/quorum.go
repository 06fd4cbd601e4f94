package consensus

import (
	"context"
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/alphabill-org/ledgercore/internal/chain"
	"github.com/alphabill-org/ledgercore/internal/crypto"
	"github.com/alphabill-org/ledgercore/internal/types"
)

// SignatureQuorum accepts a block proposed by a validator when at least
// two thirds (rounded up) of the validators signed it. Signatures[i] is the
// signature of the i-th validator or empty. Any subset reaching the
// threshold proves the same block, the block id does not cover signatures.
// Every block weighs one, so fork choice follows the longest chain.
type SignatureQuorum struct {
	pubKeys   [][]byte
	verifiers []crypto.Verifier
	index     map[string]int
	signers   []crypto.Signer
}

// NewSignatureQuorum creates the rule for the ordered validator set.
// Signers are the local validator keys used by Seal.
func NewSignatureQuorum(validators [][]byte, signers ...crypto.Signer) (*SignatureQuorum, error) {
	if len(validators) == 0 {
		return nil, errors.New("validator set is empty")
	}
	q := &SignatureQuorum{
		pubKeys:   validators,
		verifiers: make([]crypto.Verifier, len(validators)),
		index:     make(map[string]int, len(validators)),
		signers:   signers,
	}
	for i, pub := range validators {
		if _, found := q.index[string(pub)]; found {
			return nil, fmt.Errorf("validator %d: duplicate public key %X", i, pub)
		}
		ver, err := crypto.NewVerifier(pub)
		if err != nil {
			return nil, fmt.Errorf("validator %d: %w", i, err)
		}
		q.verifiers[i] = ver
		q.index[string(pub)] = i
	}
	return q, nil
}

func (q *SignatureQuorum) Name() string {
	return "quorum"
}

// Threshold is the number of signatures needed, ceil(2n/3).
func (q *SignatureQuorum) Threshold() int {
	return (2*len(q.pubKeys) + 2) / 3
}

func (q *SignatureQuorum) VerifyProof(h *types.Header, _ *chain.Node) error {
	if _, found := q.index[string(h.Proposer)]; !found {
		return ruleErr(UnknownProposer, "proposer %X is not a validator", h.Proposer)
	}
	if h.Difficulty != 0 || h.Nonce != 0 {
		return ruleErr(BadProof, "proof-of-work fields must be empty")
	}
	if len(h.Signatures) > len(q.pubKeys) {
		return ruleErr(BadProof, "%d signatures for %d validators", len(h.Signatures), len(q.pubKeys))
	}
	data, err := h.SigBytes()
	if err != nil {
		return ruleErr(BadProof, "%v", err)
	}
	valid := 0
	for i, sig := range h.Signatures {
		if len(sig) == 0 {
			continue
		}
		if err := q.verifiers[i].VerifyBytes(sig, data); err != nil {
			return ruleErr(BadProof, "signature of validator %d: %v", i, err)
		}
		valid++
	}
	if valid < q.Threshold() {
		return ruleErr(BadProof, "quorum not reached: %d of %d signatures, need %d", valid, len(q.pubKeys), q.Threshold())
	}
	return nil
}

func (q *SignatureQuorum) Weight(*types.Header) (*uint256.Int, error) {
	return uint256.NewInt(1), nil
}

// Seal adds the signatures of all local signers. It fails when they do not
// make a quorum; the header then has to collect the rest with AddSignature.
func (q *SignatureQuorum) Seal(_ context.Context, h *types.Header) error {
	if len(q.signers) == 0 {
		return errNoSigner
	}
	for _, s := range q.signers {
		if err := q.AddSignature(h, s); err != nil {
			return err
		}
	}
	if n := countSignatures(h); n < q.Threshold() {
		return fmt.Errorf("quorum not reached: %d of %d signatures, need %d", n, len(q.pubKeys), q.Threshold())
	}
	return nil
}

// AddSignature signs h with the key of a validator and stores the signature
// in the validator's slot.
func (q *SignatureQuorum) AddSignature(h *types.Header, signer crypto.Signer) error {
	ver, err := signer.Verifier()
	if err != nil {
		return err
	}
	pub, err := ver.MarshalPublicKey()
	if err != nil {
		return err
	}
	idx, found := q.index[string(pub)]
	if !found {
		return fmt.Errorf("key %X is not a validator", pub)
	}
	h.Difficulty, h.Nonce = 0, 0
	data, err := h.SigBytes()
	if err != nil {
		return err
	}
	sig, err := signer.SignBytes(data)
	if err != nil {
		return fmt.Errorf("signing header: %w", err)
	}
	if len(h.Signatures) < len(q.pubKeys) {
		sigs := make([][]byte, len(q.pubKeys))
		copy(sigs, h.Signatures)
		h.Signatures = sigs
	}
	h.Signatures[idx] = sig
	return nil
}

func countSignatures(h *types.Header) int {
	n := 0
	for _, s := range h.Signatures {
		if len(s) > 0 {
			n++
		}
	}
	return n
}
