package types

import "fmt"

type StructuralCode string

const (
	EmptyInputs      StructuralCode = "EmptyInputs"
	EmptyOutputs     StructuralCode = "EmptyOutputs"
	AmountOverflow   StructuralCode = "AmountOverflow"
	ZeroAmount       StructuralCode = "ZeroAmount"
	ForeignInput     StructuralCode = "ForeignInput"
	InputsBelowSpend StructuralCode = "InputsBelowSpend"
	MissingSender    StructuralCode = "MissingSender"
	MissingSignature StructuralCode = "MissingSignature"
	Malformed        StructuralCode = "Malformed"
	InvalidHeader    StructuralCode = "InvalidHeader"
	TooLarge         StructuralCode = "TooLarge"
)

// StructuralError reports malformed data. It never depends on ledger state,
// so data rejected with it must not be retried.
type StructuralError struct {
	Code StructuralCode
	Msg  string
}

func (e *StructuralError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("structural error: %s", e.Code)
	}
	return fmt.Sprintf("structural error: %s: %s", e.Code, e.Msg)
}

// Is matches any StructuralError with the same code, so errors.Is(err, &StructuralError{Code: X}) works.
func (e *StructuralError) Is(target error) bool {
	t, ok := target.(*StructuralError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func structuralErr(code StructuralCode, format string, args ...any) *StructuralError {
	return &StructuralError{Code: code, Msg: fmt.Sprintf(format, args...)}
}
