package state

import (
	"fmt"

	"github.com/alphabill-org/ledgercore/internal/crypto"
)

type ApplyCode string

const (
	InsufficientFunds ApplyCode = "InsufficientFunds"
	BadNonce          ApplyCode = "BadNonce"
	DoubleSpend       ApplyCode = "DoubleSpend"
	UnknownInput      ApplyCode = "UnknownInput"
	BadSignature      ApplyCode = "BadSignature"
	BalanceOverflow   ApplyCode = "BalanceOverflow"
)

// ApplyError is a ledger rule violation: the transaction is valid in form
// but cannot be applied to the given snapshot.
type ApplyError struct {
	Code ApplyCode
	TxID crypto.Hash
	Msg  string
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("apply tx %s: %s: %s", e.TxID.Short(), e.Code, e.Msg)
}

// Is matches ApplyError with the same code.
func (e *ApplyError) Is(target error) bool {
	t, ok := target.(*ApplyError)
	return ok && t.Code == e.Code
}

// FatalError means ledger internal invariant was violated (eg revert of a
// transaction which is not the last applied one). The snapshot it was
// returned for must not be used further.
type FatalError struct {
	Msg string
}

func (e *FatalError) Error() string {
	return "ledger invariant violated: " + e.Msg
}

func applyErr(code ApplyCode, txID crypto.Hash, format string, args ...any) *ApplyError {
	return &ApplyError{Code: code, TxID: txID, Msg: fmt.Sprintf(format, args...)}
}

func fatalErr(format string, args ...any) *FatalError {
	return &FatalError{Msg: fmt.Sprintf(format, args...)}
}

// NewApplyError is used by components validating transactions against a
// snapshot outside of Ledger, ie the transaction pool.
func NewApplyError(code ApplyCode, txID crypto.Hash, format string, args ...any) *ApplyError {
	return applyErr(code, txID, format, args...)
}
