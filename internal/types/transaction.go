package types

import (
	gocrypto "crypto"
	"errors"
	"fmt"
	"math"

	"github.com/alphabill-org/ledgercore/internal/crypto"
)

var errTxIsNil = errors.New("transaction is nil")

type (
	// Transaction moves funds from the sender account to one or more recipients.
	// Every input debits the sender; the difference between inputs and outputs
	// is the fee.
	Transaction struct {
		_         struct{} `cbor:",toarray"`
		Sender    []byte // public key of the sender
		Nonce     uint64
		Inputs    []*Input
		Outputs   []*Output
		Fee       uint64
		Timestamp uint64 // creation time in unix milliseconds, informational
		Signature []byte
	}

	Input struct {
		_       struct{} `cbor:",toarray"`
		Account Address
		Amount  uint64
	}

	Output struct {
		_         struct{} `cbor:",toarray"`
		Recipient Address
		Amount    uint64
	}
)

// Bytes returns the canonical encoding of the transaction.
func (t *Transaction) Bytes() ([]byte, error) {
	if t == nil {
		return nil, errTxIsNil
	}
	return Marshal(t)
}

// SigBytes is the canonical encoding with the signature left out.
func (t *Transaction) SigBytes() ([]byte, error) {
	if t == nil {
		return nil, errTxIsNil
	}
	c := *t
	c.Signature = nil
	return Marshal(&c)
}

// Hash is the transaction id.
func (t *Transaction) Hash(hashAlgorithm gocrypto.Hash) crypto.Hash {
	b, err := t.Bytes()
	if err != nil {
		// only nil transaction fails to encode
		return crypto.ZeroHash
	}
	return crypto.Sum(hashAlgorithm, b)
}

func (t *Transaction) SenderAddress(hashAlgorithm gocrypto.Hash) Address {
	return NewAddress(hashAlgorithm, t.Sender)
}

// SumInputs returns the amount debited from the sender.
func (t *Transaction) SumInputs() (uint64, error) {
	var sum uint64
	for _, in := range t.Inputs {
		if in.Amount > math.MaxUint64-sum {
			return 0, structuralErr(AmountOverflow, "sum of inputs overflows")
		}
		sum += in.Amount
	}
	return sum, nil
}

// SumOutputs returns the amount credited to recipients plus the fee.
func (t *Transaction) SumOutputs() (uint64, error) {
	sum := t.Fee
	for _, out := range t.Outputs {
		if out.Amount > math.MaxUint64-sum {
			return 0, structuralErr(AmountOverflow, "sum of outputs and fee overflows")
		}
		sum += out.Amount
	}
	return sum, nil
}

// Size is the length of the canonical encoding.
func (t *Transaction) Size() int {
	b, err := t.Bytes()
	if err != nil {
		return 0
	}
	return len(b)
}

// IsValid performs context free structural validation.
func (t *Transaction) IsValid(hashAlgorithm gocrypto.Hash) error {
	if t == nil {
		return structuralErr(Malformed, "%v", errTxIsNil)
	}
	if len(t.Inputs) == 0 {
		return &StructuralError{Code: EmptyInputs}
	}
	if len(t.Outputs) == 0 {
		return &StructuralError{Code: EmptyOutputs}
	}
	for i, in := range t.Inputs {
		if in == nil {
			return structuralErr(Malformed, "input %d is nil", i)
		}
		if in.Amount == 0 {
			return structuralErr(ZeroAmount, "input %d", i)
		}
	}
	for i, out := range t.Outputs {
		if out == nil {
			return structuralErr(Malformed, "output %d is nil", i)
		}
		if out.Amount == 0 {
			return structuralErr(ZeroAmount, "output %d", i)
		}
	}
	in, err := t.SumInputs()
	if err != nil {
		return err
	}
	out, err := t.SumOutputs()
	if err != nil {
		return err
	}
	if len(t.Sender) == 0 {
		return &StructuralError{Code: MissingSender}
	}
	if len(t.Signature) == 0 {
		return &StructuralError{Code: MissingSignature}
	}
	sender := t.SenderAddress(hashAlgorithm)
	for i, input := range t.Inputs {
		if input.Account != sender {
			return structuralErr(ForeignInput, "input %d account %s is not the sender %s", i, input.Account, sender)
		}
	}
	if in < out {
		return structuralErr(InputsBelowSpend, "inputs %d, outputs and fee %d", in, out)
	}
	return nil
}

// VerifySignature checks the signature against the sender public key.
func (t *Transaction) VerifySignature() error {
	sigBytes, err := t.SigBytes()
	if err != nil {
		return err
	}
	return crypto.Verify(t.Sender, t.Signature, sigBytes)
}

// Sign sets the sender from the signer public key and signs the transaction.
func (t *Transaction) Sign(signer crypto.Signer) error {
	if t == nil {
		return errTxIsNil
	}
	v, err := signer.Verifier()
	if err != nil {
		return fmt.Errorf("signer verifier: %w", err)
	}
	if t.Sender, err = v.MarshalPublicKey(); err != nil {
		return fmt.Errorf("marshal public key: %w", err)
	}
	sigBytes, err := t.SigBytes()
	if err != nil {
		return err
	}
	if t.Signature, err = signer.SignBytes(sigBytes); err != nil {
		return fmt.Errorf("signing transaction: %w", err)
	}
	return nil
}

// DecodeTransaction parses the canonical encoding.
func DecodeTransaction(data []byte) (*Transaction, error) {
	tx := &Transaction{}
	if err := decodeCanonical(data, tx); err != nil {
		return nil, structuralErr(Malformed, "decoding transaction: %v", err)
	}
	return tx, nil
}

// TxHashes returns ids of txs in order.
func TxHashes(hashAlgorithm gocrypto.Hash, txs []*Transaction) []crypto.Hash {
	res := make([]crypto.Hash, len(txs))
	for i, tx := range txs {
		res[i] = tx.Hash(hashAlgorithm)
	}
	return res
}
