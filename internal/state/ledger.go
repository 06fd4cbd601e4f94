package state

import (
	gocrypto "crypto"
	"errors"
	"fmt"
	"math"

	"github.com/alphabill-org/ledgercore/internal/crypto"
	"github.com/alphabill-org/ledgercore/internal/types"
)

// ErrHistoryUnavailable is returned by Revert for a snapshot that does not
// carry applied transaction history (loaded from a checkpoint, detached or
// reverted past the journal depth).
var ErrHistoryUnavailable = errors.New("snapshot has no applied transaction history")

// DefaultJournalDepth is the number of most recent transactions a snapshot
// is guaranteed to be able to revert.
const DefaultJournalDepth = 100_000

type (
	// Ledger applies and reverts transactions on snapshots. Ledger itself is
	// stateless and safe for concurrent use.
	Ledger struct {
		hashAlgorithm gocrypto.Hash
		journalDepth  int
	}

	LedgerOption func(*Ledger)

	// Allocation is a genesis balance.
	Allocation struct {
		_       struct{} `cbor:",toarray"`
		Address types.Address
		Amount  uint64
	}
)

// WithJournalDepth sets how many of the most recent transactions stay
// revertible. Older ones have to be rebuilt by replaying blocks.
func WithJournalDepth(n int) LedgerOption {
	return func(l *Ledger) {
		l.journalDepth = n
	}
}

func NewLedger(hashAlgorithm gocrypto.Hash, opts ...LedgerOption) (*Ledger, error) {
	if err := crypto.ValidateHashAlgorithm(hashAlgorithm); err != nil {
		return nil, err
	}
	l := &Ledger{hashAlgorithm: hashAlgorithm, journalDepth: DefaultJournalDepth}
	for _, opt := range opts {
		opt(l)
	}
	if l.journalDepth < 1 {
		return nil, fmt.Errorf("journal depth must be positive, got %d", l.journalDepth)
	}
	return l, nil
}

func (l *Ledger) HashAlgorithm() gocrypto.Hash {
	return l.hashAlgorithm
}

// Genesis builds the initial snapshot. Allocations to the same address are summed.
func (l *Ledger) Genesis(allocations []Allocation) (*Snapshot, error) {
	s := EmptySnapshot(l.hashAlgorithm)
	accounts := s.accounts
	var total uint64
	for _, a := range allocations {
		if a.Amount > math.MaxUint64-total {
			return nil, fmt.Errorf("genesis allocations overflow total supply")
		}
		total += a.Amount
		acc, _ := accounts.Get(addrKey(a.Address))
		acc.Balance += a.Amount
		accounts = putAccount(accounts, a.Address, acc)
	}
	return s.with(accounts, nil), nil
}

// Apply verifies the transaction signature and applies it to at.
func (l *Ledger) Apply(tx *types.Transaction, at *Snapshot) (*Snapshot, error) {
	if err := tx.IsValid(l.hashAlgorithm); err != nil {
		return nil, err
	}
	if err := tx.VerifySignature(); err != nil {
		return nil, applyErr(BadSignature, tx.Hash(l.hashAlgorithm), "%v", err)
	}
	return l.apply(tx, at)
}

// ApplyVerified applies a transaction which has already passed structural
// and signature checks (see VerifyTx).
func (l *Ledger) ApplyVerified(tx *types.Transaction, at *Snapshot) (*Snapshot, error) {
	return l.apply(tx, at)
}

// VerifyTx runs the state independent checks of Apply.
func (l *Ledger) VerifyTx(tx *types.Transaction) error {
	if err := tx.IsValid(l.hashAlgorithm); err != nil {
		return err
	}
	if err := tx.VerifySignature(); err != nil {
		return applyErr(BadSignature, tx.Hash(l.hashAlgorithm), "%v", err)
	}
	return nil
}

// apply either returns a new snapshot with every effect of tx or an error and no changes at all.
func (l *Ledger) apply(tx *types.Transaction, at *Snapshot) (*Snapshot, error) {
	txID := tx.Hash(l.hashAlgorithm)
	sender := tx.SenderAddress(l.hashAlgorithm)
	acc, ok := at.Account(sender)
	if !ok {
		return nil, applyErr(UnknownInput, txID, "sender account %s does not exist", sender)
	}
	expected := acc.Nonce + 1
	switch {
	case tx.Nonce < expected:
		return nil, applyErr(DoubleSpend, txID, "nonce %d already used, next is %d", tx.Nonce, expected)
	case tx.Nonce > expected:
		return nil, applyErr(BadNonce, txID, "nonce %d, expected %d", tx.Nonce, expected)
	}
	debit, err := tx.SumInputs()
	if err != nil {
		return nil, err
	}
	if acc.Balance < debit {
		return nil, applyErr(InsufficientFunds, txID, "balance %d, spending %d", acc.Balance, debit)
	}

	accounts := putAccount(at.accounts, sender, Account{Balance: acc.Balance - debit, Nonce: acc.Nonce + 1})
	for _, out := range tx.Outputs {
		r, _ := accounts.Get(addrKey(out.Recipient))
		if r.Balance > math.MaxUint64-out.Amount {
			return nil, applyErr(BalanceOverflow, txID, "recipient %s balance overflows", out.Recipient)
		}
		r.Balance += out.Amount
		accounts = putAccount(accounts, out.Recipient, r)
	}
	return at.with(accounts, at.journal.push(txID, l.journalDepth)), nil
}

// Revert undoes tx, which must be the most recently applied transaction of at.
// The returned snapshot has exactly the same accounts as the snapshot tx was
// applied to.
func (l *Ledger) Revert(tx *types.Transaction, at *Snapshot) (*Snapshot, error) {
	txID := tx.Hash(l.hashAlgorithm)
	if at.journal == nil {
		return nil, ErrHistoryUnavailable
	}
	if at.journal.txID != txID {
		return nil, fatalErr("revert of tx %s but the last applied tx is %s", txID, at.journal.txID)
	}

	accounts := at.accounts
	for i := len(tx.Outputs) - 1; i >= 0; i-- {
		out := tx.Outputs[i]
		r, _ := accounts.Get(addrKey(out.Recipient))
		if r.Balance < out.Amount {
			return nil, fatalErr("revert of tx %s: recipient %s balance %d below credited %d", txID, out.Recipient, r.Balance, out.Amount)
		}
		r.Balance -= out.Amount
		accounts = putAccount(accounts, out.Recipient, r)
	}
	sender := tx.SenderAddress(l.hashAlgorithm)
	acc, ok := accounts.Get(addrKey(sender))
	if !ok || acc.Nonce != tx.Nonce {
		return nil, fatalErr("revert of tx %s: sender %s nonce %d does not match tx nonce %d", txID, sender, acc.Nonce, tx.Nonce)
	}
	debit, err := tx.SumInputs()
	if err != nil {
		return nil, fatalErr("revert of tx %s: %v", txID, err)
	}
	if acc.Balance > math.MaxUint64-debit {
		return nil, fatalErr("revert of tx %s: sender balance overflows", txID)
	}
	accounts = putAccount(accounts, sender, Account{Balance: acc.Balance + debit, Nonce: acc.Nonce - 1})
	return at.with(accounts, at.journal.prev), nil
}

// ApplyBlock applies txs in order. It is atomic: on error no snapshot is
// produced and the index of the failing transaction is returned.
func (l *Ledger) ApplyBlock(txs []*types.Transaction, at *Snapshot, verified bool) (*Snapshot, int, error) {
	s := at
	for i, tx := range txs {
		var err error
		if verified {
			s, err = l.ApplyVerified(tx, s)
		} else {
			s, err = l.Apply(tx, s)
		}
		if err != nil {
			return nil, i, err
		}
	}
	return s, -1, nil
}

// RevertBlock reverts txs in reverse order.
func (l *Ledger) RevertBlock(txs []*types.Transaction, at *Snapshot) (*Snapshot, error) {
	s := at
	for i := len(txs) - 1; i >= 0; i-- {
		var err error
		if s, err = l.Revert(txs[i], s); err != nil {
			return nil, err
		}
	}
	return s, nil
}
