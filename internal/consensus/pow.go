package consensus

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/holiman/uint256"
	"lukechampine.com/blake3"

	"github.com/alphabill-org/ledgercore/internal/chain"
	"github.com/alphabill-org/ledgercore/internal/types"
)

const (
	// MaxLeadingZeros keeps the work of a block within 256 bits.
	MaxLeadingZeros = 63
	// sealCheckInterval is the number of nonces tried between context checks.
	sealCheckInterval = 1 << 12
)

type PowMode uint8

const (
	// CompactTarget interprets the difficulty as a compact encoded target
	// the proof-of-work hash must not exceed.
	CompactTarget PowMode = iota
	// LeadingZeros requires the hex encoded proof-of-work hash to start
	// with the given number of zeros.
	LeadingZeros
)

var ErrNonceSpaceExhausted = errors.New("nonce space exhausted")

// ProofOfWork is a fixed difficulty proof-of-work rule. The proof-of-work
// hash is the BLAKE3 hash of the header signing bytes (which include the
// nonce).
type ProofOfWork struct {
	mode       PowMode
	difficulty uint32
	target     *big.Int
	work       *uint256.Int
}

// NewProofOfWork creates a rule with a compact encoded target (same
// encoding as the "bits" field of a bitcoin header).
func NewProofOfWork(bits uint32) (*ProofOfWork, error) {
	target := blockchain.CompactToBig(bits)
	if target.Sign() <= 0 {
		return nil, fmt.Errorf("compact target %#x is not positive", bits)
	}
	work, overflow := uint256.FromBig(blockchain.CalcWork(bits))
	if overflow || work.IsZero() {
		return nil, fmt.Errorf("compact target %#x has no representable work", bits)
	}
	return &ProofOfWork{mode: CompactTarget, difficulty: bits, target: target, work: work}, nil
}

// NewLeadingZerosProofOfWork creates a rule requiring zeros leading hex zeros.
// Every zero multiplies the expected work by 16.
func NewLeadingZerosProofOfWork(zeros uint32) (*ProofOfWork, error) {
	if zeros == 0 || zeros > MaxLeadingZeros {
		return nil, fmt.Errorf("leading zeros must be in range 1..%d, got %d", MaxLeadingZeros, zeros)
	}
	work := new(uint256.Int).Lsh(uint256.NewInt(1), uint(4*zeros))
	return &ProofOfWork{mode: LeadingZeros, difficulty: zeros, work: work}, nil
}

func (p *ProofOfWork) Name() string {
	if p.mode == LeadingZeros {
		return "pow-leading-zeros"
	}
	return "pow"
}

func (p *ProofOfWork) Difficulty() uint32 {
	return p.difficulty
}

func (p *ProofOfWork) VerifyProof(h *types.Header, _ *chain.Node) error {
	if h.Difficulty != p.difficulty {
		return ruleErr(BadProof, "difficulty %#x, expected %#x", h.Difficulty, p.difficulty)
	}
	if len(h.Signatures) != 0 {
		return ruleErr(BadProof, "proof-of-work header must not carry signatures")
	}
	hash, err := powHash(h)
	if err != nil {
		return ruleErr(BadProof, "%v", err)
	}
	if !p.meets(hash) {
		return ruleErr(BadProof, "proof-of-work hash %X does not meet difficulty %#x", hash, p.difficulty)
	}
	return nil
}

func (p *ProofOfWork) Weight(*types.Header) (*uint256.Int, error) {
	return new(uint256.Int).Set(p.work), nil
}

// Seal searches for a nonce starting from the current one. It is cancelled
// with ctx.
func (p *ProofOfWork) Seal(ctx context.Context, h *types.Header) error {
	h.Difficulty = p.difficulty
	h.Signatures = nil
	for i := 0; ; i++ {
		if i%sealCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		hash, err := powHash(h)
		if err != nil {
			return err
		}
		if p.meets(hash) {
			return nil
		}
		if h.Nonce == math.MaxUint64 {
			return ErrNonceSpaceExhausted
		}
		h.Nonce++
	}
}

func (p *ProofOfWork) meets(hash [32]byte) bool {
	if p.mode == LeadingZeros {
		return strings.HasPrefix(hex.EncodeToString(hash[:]), strings.Repeat("0", int(p.difficulty)))
	}
	return new(big.Int).SetBytes(hash[:]).Cmp(p.target) <= 0
}

func powHash(h *types.Header) ([32]byte, error) {
	data, err := h.SigBytes()
	if err != nil {
		return [32]byte{}, err
	}
	return blake3.Sum256(data), nil
}
