package state

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alphabill-org/ledgercore/internal/crypto"
	testtransaction "github.com/alphabill-org/ledgercore/internal/testutils/transaction"
	"github.com/alphabill-org/ledgercore/internal/types"
)

const alg = testtransaction.HashAlgorithm

func newLedger(t *testing.T) *Ledger {
	l, err := NewLedger(alg)
	require.NoError(t, err)
	return l
}

func genesis(t *testing.T, l *Ledger, allocs ...Allocation) *Snapshot {
	s, err := l.Genesis(allocs)
	require.NoError(t, err)
	return s
}

func TestGenesis(t *testing.T) {
	l := newLedger(t)
	a, b := types.Address{1}, types.Address{2}
	s := genesis(t, l, Allocation{Address: a, Amount: 100}, Allocation{Address: b, Amount: 0}, Allocation{Address: a, Amount: 5})
	require.Equal(t, uint64(105), s.BalanceOf(a))
	require.Equal(t, 1, s.Len(), "zero allocation must not create an account")
	require.Equal(t, uint64(1), s.NextNonce(a))

	reordered := genesis(t, l, Allocation{Address: a, Amount: 5}, Allocation{Address: a, Amount: 100})
	require.True(t, s.Equal(reordered))

	_, err := l.Genesis([]Allocation{{Address: a, Amount: ^uint64(0)}, {Address: b, Amount: 1}})
	require.Error(t, err)
}

func TestApply_Transfer(t *testing.T) {
	l := newLedger(t)
	alice, bob := testtransaction.NewWallet(t), testtransaction.NewWallet(t)
	s0 := genesis(t, l, Allocation{Address: alice.Address, Amount: 100})

	tx := testtransaction.NewTransfer(t, alice, 1, bob.Address, 30, 1)
	s1, err := l.Apply(tx, s0)
	require.NoError(t, err)
	require.Equal(t, uint64(69), s1.BalanceOf(alice.Address))
	require.Equal(t, uint64(30), s1.BalanceOf(bob.Address))
	require.Equal(t, uint64(2), s1.NextNonce(alice.Address))
	last, ok := s1.LastApplied()
	require.True(t, ok)
	require.Equal(t, tx.Hash(alg), last)

	// the input snapshot is untouched
	require.Equal(t, uint64(100), s0.BalanceOf(alice.Address))
	require.Equal(t, uint64(0), s0.BalanceOf(bob.Address))
}

func TestApply_SignatureSchemes(t *testing.T) {
	tests := []struct {
		name   string
		wallet func(t *testing.T) *testtransaction.Wallet
	}{
		{name: "secp256k1", wallet: testtransaction.NewWallet},
		{name: "ml-dsa-44", wallet: testtransaction.NewMLDSA44Wallet},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newLedger(t)
			sender, bob := tt.wallet(t), testtransaction.NewWallet(t)
			s0 := genesis(t, l, Allocation{Address: sender.Address, Amount: 10})

			tx := testtransaction.NewTransfer(t, sender, 1, bob.Address, 5, 1)
			s1, err := l.Apply(tx, s0)
			require.NoError(t, err)
			require.Equal(t, uint64(4), s1.BalanceOf(sender.Address))

			forged := testtransaction.NewTransfer(t, sender, 1, bob.Address, 5, 1)
			forged.Outputs[0].Amount = 6
			forged.Inputs[0].Amount = 7
			_, err = l.Apply(forged, s0)
			require.ErrorIs(t, err, &ApplyError{Code: BadSignature})
		})
	}
}

func TestApply_Errors(t *testing.T) {
	l := newLedger(t)
	alice, bob, carol := testtransaction.NewWallet(t), testtransaction.NewWallet(t), testtransaction.NewWallet(t)
	s0 := genesis(t, l, Allocation{Address: alice.Address, Amount: 100})
	s1, err := l.Apply(testtransaction.NewTransfer(t, alice, 1, bob.Address, 10, 1), s0)
	require.NoError(t, err)

	badSig := testtransaction.NewTransfer(t, alice, 2, bob.Address, 10, 1)
	badSig.Signature[5] ^= 0xff

	tests := []struct {
		name string
		tx   *types.Transaction
		code ApplyCode
	}{
		{name: "unknown sender", tx: testtransaction.NewTransfer(t, carol, 1, bob.Address, 1, 1), code: UnknownInput},
		{name: "replayed nonce", tx: testtransaction.NewTransfer(t, alice, 1, bob.Address, 10, 1), code: DoubleSpend},
		{name: "nonce gap", tx: testtransaction.NewTransfer(t, alice, 3, bob.Address, 10, 1), code: BadNonce},
		{name: "insufficient funds", tx: testtransaction.NewTransfer(t, alice, 2, bob.Address, 89, 1), code: InsufficientFunds},
		{name: "bad signature", tx: badSig, code: BadSignature},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := l.Apply(tt.tx, s1)
			require.Nil(t, s)
			require.ErrorIs(t, err, &ApplyError{Code: tt.code})
		})
	}

	// exactly the whole balance can be spent
	s2, err := l.Apply(testtransaction.NewTransfer(t, alice, 2, bob.Address, 88, 1), s1)
	require.NoError(t, err)
	require.Equal(t, uint64(0), s2.BalanceOf(alice.Address))

	// structural errors are reported as such
	tx := testtransaction.NewTransfer(t, alice, 2, bob.Address, 1, 1)
	tx.Outputs = nil
	_, err = l.Apply(tx, s1)
	require.ErrorIs(t, err, &types.StructuralError{Code: types.EmptyOutputs})
}

func TestApply_Deterministic(t *testing.T) {
	l := newLedger(t)
	w := testtransaction.NewWallets(t, 4)
	start := genesis(t, l, Allocation{Address: w[0].Address, Amount: 1000}, Allocation{Address: w[1].Address, Amount: 500})
	txs := []*types.Transaction{
		testtransaction.NewTransfer(t, w[0], 1, w[2].Address, 100, 2),
		testtransaction.NewTransfer(t, w[1], 1, w[3].Address, 50, 1, testtransaction.WithOutput(w[0].Address, 7)),
		testtransaction.NewTransfer(t, w[0], 2, w[1].Address, 10, 0),
		testtransaction.NewTransfer(t, w[2], 1, w[0].Address, 99, 1),
	}
	a, idx, err := l.ApplyBlock(txs, start, false)
	require.NoError(t, err)
	require.Equal(t, -1, idx)
	b, _, err := l.ApplyBlock(txs, start.Detach(), false)
	require.NoError(t, err)
	require.Equal(t, a.Root(), b.Root())
	require.True(t, a.Equal(b))

	var bufA, bufB bytesBuffer
	require.NoError(t, a.Write(&bufA))
	require.NoError(t, b.Write(&bufB))
	require.Equal(t, bufA.Bytes(), bufB.Bytes())
}

func TestRevert_InverseLaw(t *testing.T) {
	l := newLedger(t)
	w := testtransaction.NewWallets(t, 3)
	s0 := genesis(t, l, Allocation{Address: w[0].Address, Amount: 1000})
	txs := []*types.Transaction{
		testtransaction.NewTransfer(t, w[0], 1, w[1].Address, 100, 2),
		testtransaction.NewTransfer(t, w[1], 1, w[2].Address, 50, 1),
		testtransaction.NewTransfer(t, w[0], 2, w[0].Address, 10, 1), // self transfer
		testtransaction.NewTransfer(t, w[2], 1, w[1].Address, 50, 0), // empties w[2]
	}
	snaps := []*Snapshot{s0}
	for _, tx := range txs {
		s, err := l.Apply(tx, snaps[len(snaps)-1])
		require.NoError(t, err)
		snaps = append(snaps, s)
	}
	for i := len(txs) - 1; i >= 0; i-- {
		s, err := l.Revert(txs[i], snaps[i+1])
		require.NoError(t, err)
		require.True(t, s.Equal(snaps[i]), "revert of tx %d", i)
		require.Equal(t, snaps[i].Len(), s.Len())
	}

	all, err := l.RevertBlock(txs, snaps[len(snaps)-1])
	require.NoError(t, err)
	require.True(t, all.Equal(s0))
	_, ok := all.LastApplied()
	require.False(t, ok)
}

func TestRevert_WrongSnapshot(t *testing.T) {
	l := newLedger(t)
	alice, bob := testtransaction.NewWallet(t), testtransaction.NewWallet(t)
	s0 := genesis(t, l, Allocation{Address: alice.Address, Amount: 100})
	tx1 := testtransaction.NewTransfer(t, alice, 1, bob.Address, 10, 1)
	tx2 := testtransaction.NewTransfer(t, alice, 2, bob.Address, 10, 1)
	s1, err := l.Apply(tx1, s0)
	require.NoError(t, err)
	s2, err := l.Apply(tx2, s1)
	require.NoError(t, err)

	_, err = l.Revert(tx1, s2)
	var fatal *FatalError
	require.ErrorAs(t, err, &fatal)

	_, err = l.Revert(tx1, s0)
	require.ErrorIs(t, err, ErrHistoryUnavailable)
	_, err = l.Revert(tx2, s2.Detach())
	require.ErrorIs(t, err, ErrHistoryUnavailable)
}

func TestRevert_JournalDepth(t *testing.T) {
	l, err := NewLedger(alg, WithJournalDepth(2))
	require.NoError(t, err)
	alice, bob := testtransaction.NewWallet(t), testtransaction.NewWallet(t)
	s0 := genesis(t, l, Allocation{Address: alice.Address, Amount: 100})

	var txs []*types.Transaction
	snaps := []*Snapshot{s0}
	revertible := []int{0}
	for nonce := uint64(1); nonce <= 9; nonce++ {
		tx := testtransaction.NewTransfer(t, alice, nonce, bob.Address, 1, 1)
		s, err := l.Apply(tx, snaps[len(snaps)-1])
		require.NoError(t, err)
		txs = append(txs, tx)
		snaps = append(snaps, s)
		revertible = append(revertible, s.Revertible())
	}
	// the journal never exceeds twice the depth and never drops below it
	require.Equal(t, []int{0, 1, 2, 3, 4, 2, 3, 4, 2, 3}, revertible)

	tests := []struct {
		name string
		from int // index into snaps
		ok   int // reverts expected to succeed
	}{
		{name: "short history kept whole", from: 4, ok: 4},
		{name: "cut right after truncation", from: 5, ok: 2},
		{name: "cut before next truncation", from: 7, ok: 4},
		{name: "latest", from: 9, ok: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := snaps[tt.from]
			for i := 0; i < tt.ok; i++ {
				s, err = l.Revert(txs[tt.from-1-i], s)
				require.NoError(t, err)
				require.True(t, s.Equal(snaps[tt.from-1-i]))
			}
			if tt.from-tt.ok > 0 {
				_, err = l.Revert(txs[tt.from-1-tt.ok], s)
				require.ErrorIs(t, err, ErrHistoryUnavailable)
			}
		})
	}

	_, err = NewLedger(alg, WithJournalDepth(0))
	require.ErrorContains(t, err, "journal depth must be positive")
}

func TestApplyBlock_Atomic(t *testing.T) {
	l := newLedger(t)
	alice, bob := testtransaction.NewWallet(t), testtransaction.NewWallet(t)
	s0 := genesis(t, l, Allocation{Address: alice.Address, Amount: 100})
	txs := []*types.Transaction{
		testtransaction.NewTransfer(t, alice, 1, bob.Address, 10, 1),
		testtransaction.NewTransfer(t, alice, 1, bob.Address, 20, 1), // same nonce
	}
	s, idx, err := l.ApplyBlock(txs, s0, false)
	require.Nil(t, s)
	require.Equal(t, 1, idx)
	require.ErrorIs(t, err, &ApplyError{Code: DoubleSpend})
	require.Equal(t, uint64(100), s0.BalanceOf(alice.Address))
}

func TestNewLedger_InvalidHash(t *testing.T) {
	_, err := NewLedger(0)
	require.ErrorIs(t, err, crypto.ErrUnsupportedHashAlgorithm)
}
