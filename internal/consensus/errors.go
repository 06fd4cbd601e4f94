package consensus

import (
	"errors"
	"fmt"

	"github.com/alphabill-org/ledgercore/internal/chain"
	"github.com/alphabill-org/ledgercore/internal/crypto"
	"github.com/alphabill-org/ledgercore/internal/state"
	"github.com/alphabill-org/ledgercore/internal/types"
)

// Kind is the class of a rejection. It tells the caller whether the input
// may be retried and whether the peer that sent it misbehaved.
type Kind uint8

const (
	KindNone Kind = iota
	// Structural errors are malformed data. Never retried, sender is penalized.
	Structural
	// Apply errors are ledger rule violations.
	Apply
	// ConsensusRule errors are proof, signature or timestamp failures.
	ConsensusRule
	// Transient errors (unknown parent, storage hiccup) may succeed later.
	Transient
	// Fatal errors mean an internal invariant was violated.
	Fatal
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "None"
	case Structural:
		return "Structural"
	case Apply:
		return "Apply"
	case ConsensusRule:
		return "ConsensusRule"
	case Transient:
		return "Transient"
	case Fatal:
		return "Fatal"
	default:
		return fmt.Sprintf("Kind(%d)", k)
	}
}

type RuleReason string

const (
	InvalidParent     RuleReason = "InvalidParent"
	BadHeight         RuleReason = "BadHeight"
	BadProof          RuleReason = "BadProof"
	UnknownProposer   RuleReason = "UnknownProposer"
	TimestampTooOld   RuleReason = "TimestampTooOld"
	TimestampInFuture RuleReason = "TimestampInFuture"
	TxRootMismatch    RuleReason = "TxRootMismatch"
	TooManyTxs        RuleReason = "TooManyTxs"
	BlockTooLarge     RuleReason = "BlockTooLarge"
)

var (
	ErrNoPool            = errors.New("engine has no transaction pool")
	errStoreIsNil        = errors.New("chain store is nil")
	errLedgerIsNil       = errors.New("ledger is nil")
	errRuleIsNil         = errors.New("consensus rule is nil")
	errGenesisStateIsNil = errors.New("genesis state is nil")
)

// RuleError is a block which violates a consensus rule.
type RuleError struct {
	Reason RuleReason
	Msg    string
}

func (e *RuleError) Error() string {
	return fmt.Sprintf("%s: %s", e.Reason, e.Msg)
}

// Is matches RuleError with the same reason.
func (e *RuleError) Is(target error) bool {
	t, ok := target.(*RuleError)
	return ok && t.Reason == e.Reason
}

func ruleErr(reason RuleReason, format string, args ...any) *RuleError {
	return &RuleError{Reason: reason, Msg: fmt.Sprintf(format, args...)}
}

// TransientError wraps a failure which is not the fault of the block, eg
// the parent is not validated yet or the storage failed.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return "transient: " + e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// FatalError means the engine could not derive or replay a state it had
// accepted before. The branch containing Block is dropped from fork choice.
type FatalError struct {
	Block crypto.Hash
	Err   error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal error on branch of block %s: %v", e.Block.Short(), e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// Classify maps err onto the error taxonomy. Errors of unknown origin
// (storage, I/O) are Transient.
func Classify(err error) Kind {
	if err == nil {
		return KindNone
	}
	var (
		fe  *FatalError
		sfe *state.FatalError
		se  *types.StructuralError
		ae  *state.ApplyError
		re  *RuleError
		rhe *chain.RejectedHeaderError
		te  *TransientError
	)
	switch {
	case errors.As(err, &fe), errors.As(err, &sfe):
		return Fatal
	case errors.As(err, &te):
		return Transient
	case errors.As(err, &se):
		return Structural
	case errors.As(err, &ae):
		return Apply
	case errors.As(err, &re):
		return ConsensusRule
	case errors.As(err, &rhe):
		if rhe.Code == chain.UnknownParent {
			return Transient
		}
		return ConsensusRule
	}
	return Transient
}

// Reason returns the stable reason code of err, suitable for logs and for
// reporting to clients.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	var (
		se  *types.StructuralError
		ae  *state.ApplyError
		re  *RuleError
		rhe *chain.RejectedHeaderError
	)
	switch {
	case errors.As(err, &se):
		return string(se.Code)
	case errors.As(err, &ae):
		return string(ae.Code)
	case errors.As(err, &re):
		return string(re.Reason)
	case errors.As(err, &rhe):
		return string(rhe.Code)
	}
	return Classify(err).String()
}
