package consensus

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/alphabill-org/ledgercore/internal/chain"
	"github.com/alphabill-org/ledgercore/internal/crypto"
	"github.com/alphabill-org/ledgercore/internal/keyvaluedb"
	"github.com/alphabill-org/ledgercore/internal/keyvaluedb/boltdb"
	"github.com/alphabill-org/ledgercore/internal/keyvaluedb/memorydb"
	"github.com/alphabill-org/ledgercore/internal/state"
	test "github.com/alphabill-org/ledgercore/internal/testutils"
	testtransaction "github.com/alphabill-org/ledgercore/internal/testutils/transaction"
	"github.com/alphabill-org/ledgercore/internal/txpool"
	"github.com/alphabill-org/ledgercore/internal/types"
	"github.com/alphabill-org/ledgercore/internal/util"
)

const (
	alg       = testtransaction.HashAlgorithm
	genesisTs = uint64(1_700_000_000_000)
)

var proposer = []byte{1}

type fixture struct {
	ledger       *state.Ledger
	genesisState *state.Snapshot
	genesis      *types.Block
	db           keyvaluedb.KeyValueDB
	store        *chain.Store
	pool         *txpool.TxPool
	rule         Rule
	proposer     []byte
	engine       *Engine
	now          time.Time
	alice        *testtransaction.Wallet
	bob          *testtransaction.Wallet
	carol        *testtransaction.Wallet
}

func leadingZeros(t *testing.T) Rule {
	t.Helper()
	rule, err := NewLeadingZerosProofOfWork(1)
	require.NoError(t, err)
	return rule
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		db:       memorydb.New(),
		rule:     leadingZeros(t),
		proposer: proposer,
		now:      time.UnixMilli(int64(genesisTs)).Add(time.Hour),
		alice:    testtransaction.NewWallet(t),
		bob:      testtransaction.NewWallet(t),
		carol:    testtransaction.NewWallet(t),
	}
	var err error
	f.ledger, err = state.NewLedger(alg)
	require.NoError(t, err)
	f.genesisState, err = f.ledger.Genesis([]state.Allocation{{Address: f.alice.Address, Amount: 100}})
	require.NoError(t, err)
	f.genesis = NewGenesisBlock(f.genesisState, genesisTs)
	f.pool, err = txpool.New(f.ledger)
	require.NoError(t, err)
	f.start(t, opts...)
	return f
}

// start (re)creates store and engine over the fixture db.
func (f *fixture) start(t *testing.T, opts ...Option) {
	t.Helper()
	var err error
	f.store, err = chain.New(alg, f.genesis, f.db)
	require.NoError(t, err)
	opts = append([]Option{WithPool(f.pool), WithClock(func() time.Time { return f.now })}, opts...)
	f.engine, err = New(f.store, f.ledger, f.rule, f.genesisState, opts...)
	require.NoError(t, err)
}

// block creates a sealed block under parent. Offset shifts the timestamp to
// tell apart siblings with the same transactions.
func (f *fixture) block(t *testing.T, parent *types.Block, offset uint64, txs ...*types.Transaction) *types.Block {
	t.Helper()
	h := &types.Header{
		Version:    types.HeaderVersion,
		ParentHash: parent.Hash(alg),
		Height:     parent.Header.Height + 1,
		Timestamp:  parent.Header.Timestamp + 1000 + offset,
		Proposer:   f.proposer,
	}
	b := &types.Block{Header: h, Transactions: txs}
	h.TxRoot = b.TxRoot(alg)
	require.NoError(t, f.rule.Seal(context.Background(), h))
	return b
}

func (f *fixture) receive(t *testing.T, b *types.Block, outcome Outcome) *Result {
	t.Helper()
	res := f.engine.OnBlockReceived(b)
	require.Equal(t, outcome, res.Outcome, "unexpected outcome, error: %v", res.Err)
	return res
}

func (f *fixture) replayFromGenesis(t *testing.T, blocks ...*types.Block) *state.Snapshot {
	t.Helper()
	s := f.genesisState
	for _, b := range blocks {
		var err error
		s, _, err = f.ledger.ApplyBlock(b.Transactions, s, false)
		require.NoError(t, err)
	}
	return s
}

func TestNew_InvalidArguments(t *testing.T) {
	f := newFixture(t)
	_, err := New(nil, f.ledger, f.rule, f.genesisState)
	require.ErrorIs(t, err, errStoreIsNil)
	_, err = New(f.store, nil, f.rule, f.genesisState)
	require.ErrorIs(t, err, errLedgerIsNil)
	_, err = New(f.store, f.ledger, nil, f.genesisState)
	require.ErrorIs(t, err, errRuleIsNil)
	_, err = New(f.store, f.ledger, f.rule, nil)
	require.ErrorIs(t, err, errGenesisStateIsNil)
	_, err = New(f.store, f.ledger, f.rule, f.genesisState, WithOrphanCapacity(0))
	require.ErrorContains(t, err, "orphan capacity")

	other, err := f.ledger.Genesis([]state.Allocation{{Address: f.bob.Address, Amount: 1}})
	require.NoError(t, err)
	_, err = New(f.store, f.ledger, f.rule, other)
	require.ErrorContains(t, err, "genesis block commits to state")

	_, err = New(f.store, f.ledger, f.rule, f.genesisState, WithCheckpoint(crypto.Hash{1}, other))
	require.ErrorContains(t, err, "is not a valid stored block")
}

func TestOnBlockReceived_ExtendsTip(t *testing.T) {
	f := newFixture(t)
	tx := testtransaction.NewTransfer(t, f.alice, 1, f.bob.Address, 30, 1)
	_, err := f.engine.SubmitTransaction(tx)
	require.NoError(t, err)

	b1 := f.block(t, f.genesis, 0, tx)
	res := f.receive(t, b1, AcceptedReorg)
	require.NoError(t, res.Err)
	require.Equal(t, 0, res.TipChange.RollbackDepth)
	require.Equal(t, 1, res.TipChange.Replayed)
	require.Equal(t, b1.Hash(alg), f.engine.Tip().Hash)
	require.EqualValues(t, 69, f.engine.BalanceOf(f.alice.Address))
	require.EqualValues(t, 30, f.engine.BalanceOf(f.bob.Address))
	require.False(t, f.pool.Contains(tx.Hash(alg)))

	f.receive(t, b1, Duplicate)
	require.NoError(t, f.engine.VerifyChain(context.Background()))
}

// Genesis {Alice: 100}; Block1 pays Bob, a competing branch pays Carol and
// outgrows it.
func TestOnBlockReceived_Reorg(t *testing.T) {
	f := newFixture(t)
	tx1 := testtransaction.NewTransfer(t, f.alice, 1, f.bob.Address, 30, 1)
	tx2 := testtransaction.NewTransfer(t, f.alice, 1, f.carol.Address, 50, 1)

	_, err := f.engine.SubmitTransaction(tx1)
	require.NoError(t, err)
	b1 := f.block(t, f.genesis, 0, tx1)
	f.receive(t, b1, AcceptedReorg)
	require.EqualValues(t, 69, f.engine.BalanceOf(f.alice.Address))
	require.EqualValues(t, 30, f.engine.BalanceOf(f.bob.Address))

	// the competing block must lose the equal weight tie-break
	var b1p *types.Block
	for offset := uint64(1); b1p == nil || b1p.Hash(alg).Less(b1.Hash(alg)); offset++ {
		b1p = f.block(t, f.genesis, offset, tx2)
	}
	res := f.receive(t, b1p, AcceptedCanonicalUnchanged)
	require.Nil(t, res.TipChange)
	require.Equal(t, b1.Hash(alg), f.engine.Tip().Hash)
	status, _ := f.store.Status(b1p.Hash(alg))
	require.Equal(t, chain.Valid, status)

	b2p := f.block(t, b1p, 0)
	res = f.receive(t, b2p, AcceptedReorg)
	tc := res.TipChange
	require.Equal(t, b1.Hash(alg), tc.OldTip.Hash)
	require.Equal(t, b2p.Hash(alg), tc.NewTip.Hash)
	require.Equal(t, f.genesis.Hash(alg), tc.Ancestor.Hash)
	require.Equal(t, 1, tc.RollbackDepth)
	require.Equal(t, 2, tc.Replayed)
	require.Equal(t, []*types.Transaction{tx1}, tc.Orphaned)

	require.EqualValues(t, 49, f.engine.BalanceOf(f.alice.Address))
	require.EqualValues(t, 50, f.engine.BalanceOf(f.carol.Address))
	require.EqualValues(t, 0, f.engine.BalanceOf(f.bob.Address))
	require.True(t, f.engine.State().Equal(f.replayFromGenesis(t, b1p, b2p)))
	require.True(t, f.engine.IsCanonical(b1p.Hash(alg)))
	require.False(t, f.engine.IsCanonical(b1.Hash(alg)))
	v := f.engine.View()
	for height, want := range []*types.Block{f.genesis, b1p, b2p} {
		h, found := v.CanonicalAt(uint64(height))
		require.True(t, found)
		require.Equal(t, want.Hash(alg), h)
	}
	_, found := v.CanonicalAt(3)
	require.False(t, found)

	// orphaned tx1 uses the nonce already taken by tx2
	require.False(t, f.pool.Contains(tx1.Hash(alg)))
	_, err = f.engine.SubmitTransaction(tx1)
	require.ErrorIs(t, err, &state.ApplyError{Code: state.DoubleSpend})
	require.NoError(t, f.engine.VerifyChain(context.Background()))
}

func TestOnBlockReceived_ReorgReinstatesValidTransactions(t *testing.T) {
	f := newFixture(t)
	tx1 := testtransaction.NewTransfer(t, f.alice, 1, f.bob.Address, 30, 1)
	b1 := f.block(t, f.genesis, 0, tx1)
	f.receive(t, b1, AcceptedReorg)

	// empty competing branch gets longer, tx1 returns to the pool
	var b1p *types.Block
	for offset := uint64(1); b1p == nil || b1p.Hash(alg).Less(b1.Hash(alg)); offset++ {
		b1p = f.block(t, f.genesis, offset)
	}
	f.receive(t, b1p, AcceptedCanonicalUnchanged)
	res := f.receive(t, f.block(t, b1p, 0), AcceptedReorg)
	require.Equal(t, 1, res.TipChange.RollbackDepth)
	require.True(t, f.pool.Contains(tx1.Hash(alg)))
	require.EqualValues(t, 100, f.engine.BalanceOf(f.alice.Address))

	// and leaves it once included again
	b3 := f.block(t, res.TipChange.NewTip.Block, 0, tx1)
	f.receive(t, b3, AcceptedReorg)
	require.False(t, f.pool.Contains(tx1.Hash(alg)))
	require.Zero(t, f.pool.Len())
}

func TestOnBlockReceived_EqualWeightTieBreak(t *testing.T) {
	f := newFixture(t)
	a := f.block(t, f.genesis, 0)
	b := f.block(t, f.genesis, 1)
	smaller, larger := a, b
	if larger.Hash(alg).Less(smaller.Hash(alg)) {
		smaller, larger = larger, smaller
	}
	f.receive(t, larger, AcceptedReorg)
	res := f.receive(t, smaller, AcceptedReorg)
	require.Equal(t, 1, res.TipChange.RollbackDepth)
	require.Equal(t, smaller.Hash(alg), f.engine.Tip().Hash)
}

func TestOnBlockReceived_ForkChoiceIndependentOfArrivalOrder(t *testing.T) {
	src := newFixture(t)
	tx := testtransaction.NewTransfer(t, src.alice, 1, src.bob.Address, 10, 1)
	a1 := src.block(t, src.genesis, 0, tx)
	a2 := src.block(t, a1, 0)
	b1 := src.block(t, src.genesis, 5)
	b2 := src.block(t, b1, 0)
	c1 := src.block(t, src.genesis, 9, tx)
	blocks := []*types.Block{a1, a2, b1, b2, c1}

	orders := [][]int{{0, 1, 2, 3, 4}, {4, 3, 2, 1, 0}, {2, 0, 4, 3, 1}, {3, 1, 4, 0, 2}}
	var tips []*View
	for _, order := range orders {
		f := newFixture(t)
		f.alice, f.genesisState, f.genesis = src.alice, src.genesisState, src.genesis
		f.db = memorydb.New()
		f.start(t)
		for _, i := range order {
			res := f.engine.OnBlockReceived(blocks[i])
			require.NotEqual(t, Rejected, res.Outcome, "%v", res.Err)
		}
		require.Zero(t, f.engine.OrphanCount())
		tips = append(tips, f.engine.View())
	}
	for _, v := range tips[1:] {
		require.Equal(t, tips[0].Tip.Hash, v.Tip.Hash)
		require.True(t, tips[0].State.Equal(v.State))
	}
}

func TestOnBlockReceived_OrphanResolvedWhenParentArrives(t *testing.T) {
	f := newFixture(t)
	b1 := f.block(t, f.genesis, 0)
	b2 := f.block(t, b1, 0)
	b3 := f.block(t, b2, 0)

	res := f.receive(t, b3, Pending)
	require.Equal(t, Transient, Classify(res.Err))
	f.receive(t, b2, Pending)
	f.receive(t, b3, Duplicate)
	require.Equal(t, 2, f.engine.OrphanCount())

	res = f.receive(t, b1, AcceptedReorg)
	require.Len(t, res.Resolved, 1)
	require.Equal(t, AcceptedReorg, res.Resolved[0].Outcome)
	require.Len(t, res.Resolved[0].Resolved, 1)
	require.Equal(t, AcceptedReorg, res.Resolved[0].Resolved[0].Outcome)
	require.Equal(t, b3.Hash(alg), f.engine.Tip().Hash)
	require.Zero(t, f.engine.OrphanCount())
}

func TestOnBlockReceived_OrphanExpires(t *testing.T) {
	f := newFixture(t, WithOrphanTTL(50*time.Millisecond))
	b1 := f.block(t, f.genesis, 0)
	f.receive(t, f.block(t, b1, 0), Pending)
	require.Equal(t, 1, f.engine.OrphanCount())
	require.Eventually(t, func() bool { return f.engine.OrphanCount() == 0 }, test.WaitDuration, test.WaitTick)
}

func TestOnBlockReceived_OrphanCapacity(t *testing.T) {
	f := newFixture(t, WithOrphanCapacity(2))
	parent := f.block(t, f.genesis, 0)
	for i := uint64(0); i < 3; i++ {
		f.receive(t, f.block(t, parent, i), Pending)
	}
	require.Equal(t, 2, f.engine.OrphanCount())
	f.engine.Close()
	require.Zero(t, f.engine.OrphanCount())
}

func TestOnBlockReceived_Rejections(t *testing.T) {
	f := newFixture(t, WithMaxBlockTxs(2))
	tx := testtransaction.NewTransfer(t, f.alice, 1, f.bob.Address, 10, 1)

	reseal := func(b *types.Block) *types.Block {
		b.Header.Nonce = 0
		require.NoError(t, f.rule.Seal(context.Background(), b.Header))
		return b
	}
	tests := []struct {
		name   string
		block  func() *types.Block
		kind   Kind
		reason string
	}{
		{
			name: "nil header",
			block: func() *types.Block {
				return &types.Block{}
			},
			kind:   Structural,
			reason: string(types.InvalidHeader),
		},
		{
			name: "bad height",
			block: func() *types.Block {
				b := f.block(t, f.genesis, 0)
				b.Header.Height = 5
				return reseal(b)
			},
			kind:   ConsensusRule,
			reason: string(BadHeight),
		},
		{
			name: "bad proof",
			block: func() *types.Block {
				b := f.block(t, f.genesis, 0)
				b.Header.Difficulty = 2
				return b
			},
			kind:   ConsensusRule,
			reason: string(BadProof),
		},
		{
			name: "timestamp not after parent",
			block: func() *types.Block {
				b := f.block(t, f.genesis, 0)
				b.Header.Timestamp = genesisTs
				return reseal(b)
			},
			kind:   ConsensusRule,
			reason: string(TimestampTooOld),
		},
		{
			name: "timestamp in future",
			block: func() *types.Block {
				b := f.block(t, f.genesis, 0)
				b.Header.Timestamp = uint64(f.now.Add(time.Minute).UnixMilli())
				return reseal(b)
			},
			kind:   ConsensusRule,
			reason: string(TimestampInFuture),
		},
		{
			name: "tx root mismatch",
			block: func() *types.Block {
				b := f.block(t, f.genesis, 0)
				b.Transactions = []*types.Transaction{tx}
				return b
			},
			kind:   ConsensusRule,
			reason: string(TxRootMismatch),
		},
		{
			name: "too many transactions",
			block: func() *types.Block {
				return f.block(t, f.genesis, 0, tx,
					testtransaction.NewTransfer(t, f.alice, 2, f.bob.Address, 10, 1),
					testtransaction.NewTransfer(t, f.alice, 3, f.bob.Address, 10, 1))
			},
			kind:   ConsensusRule,
			reason: string(TooManyTxs),
		},
		{
			name: "bad transaction signature",
			block: func() *types.Block {
				bad := testtransaction.NewTransfer(t, f.alice, 1, f.bob.Address, 10, 1)
				bad.Outputs[0].Amount = 9
				return f.block(t, f.genesis, 0, bad)
			},
			kind:   Apply,
			reason: string(state.BadSignature),
		},
		{
			name: "transaction signature with other recovery id",
			block: func() *types.Block {
				bad := testtransaction.NewTransfer(t, f.alice, 1, f.bob.Address, 10, 1)
				bad.Signature[len(bad.Signature)-1] ^= 1
				return f.block(t, f.genesis, 0, bad)
			},
			kind:   Apply,
			reason: string(state.BadSignature),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := tt.block()
			res := f.receive(t, b, Rejected)
			require.Equal(t, tt.kind, Classify(res.Err), "%v", res.Err)
			require.Equal(t, tt.reason, Reason(res.Err))
			require.False(t, f.store.Contains(b.Hash(alg)))
		})
	}
	require.Equal(t, f.genesis.Hash(alg), f.engine.Tip().Hash)
}

func TestOnBlockReceived_LedgerFailureInvalidatesSubtree(t *testing.T) {
	f := newFixture(t)
	// nonce gap, only detectable against the ledger
	bad := f.block(t, f.genesis, 0, testtransaction.NewTransfer(t, f.alice, 2, f.bob.Address, 10, 1))
	child := f.block(t, bad, 0)

	f.receive(t, child, Pending)
	res := f.receive(t, bad, Rejected)
	require.Equal(t, Apply, Classify(res.Err))
	require.Equal(t, string(state.BadNonce), Reason(res.Err))
	status, found := f.store.Status(bad.Hash(alg))
	require.True(t, found)
	require.Equal(t, chain.Invalid, status)

	require.Len(t, res.Resolved, 1)
	require.Equal(t, Rejected, res.Resolved[0].Outcome)
	require.Equal(t, string(InvalidParent), Reason(res.Resolved[0].Err))
	require.Equal(t, f.genesis.Hash(alg), f.engine.Tip().Hash)

	// same-sender transactions need consecutive nonces in block order
	tx1 := testtransaction.NewTransfer(t, f.alice, 1, f.bob.Address, 10, 1)
	tx2 := testtransaction.NewTransfer(t, f.alice, 2, f.bob.Address, 10, 1)
	res = f.receive(t, f.block(t, f.genesis, 1, tx2, tx1), Rejected)
	require.Equal(t, string(state.BadNonce), Reason(res.Err))
	res = f.receive(t, f.block(t, f.genesis, 2, tx1, tx1), Rejected)
	require.Equal(t, string(state.DoubleSpend), Reason(res.Err))
	f.receive(t, f.block(t, f.genesis, 3, tx1, tx2), AcceptedReorg)
	require.EqualValues(t, 78, f.engine.BalanceOf(f.alice.Address))
}

func TestValidateBlock(t *testing.T) {
	f := newFixture(t)
	tx := testtransaction.NewTransfer(t, f.alice, 1, f.bob.Address, 30, 1)
	b1 := f.block(t, f.genesis, 0, tx)

	s, err := f.engine.ValidateBlock(b1)
	require.NoError(t, err)
	require.EqualValues(t, 30, s.BalanceOf(f.bob.Address))
	require.False(t, f.store.Contains(b1.Hash(alg)), "validation must not store the block")
	require.EqualValues(t, 100, f.engine.BalanceOf(f.alice.Address))

	_, err = f.engine.ValidateBlock(f.block(t, b1, 0))
	require.ErrorIs(t, err, &chain.RejectedHeaderError{Code: chain.UnknownParent})

	over := f.block(t, f.genesis, 1, testtransaction.NewTransfer(t, f.alice, 1, f.bob.Address, 100, 1))
	_, err = f.engine.ValidateBlock(over)
	require.ErrorIs(t, err, &state.ApplyError{Code: state.InsufficientFunds})
}

func TestProposeBlock(t *testing.T) {
	f := newFixture(t)
	for nonce := uint64(1); nonce <= 3; nonce++ {
		_, err := f.engine.SubmitTransaction(testtransaction.NewTransfer(t, f.alice, nonce, f.bob.Address, 10, 1))
		require.NoError(t, err)
	}
	b, err := f.engine.ProposeBlock(context.Background(), proposer)
	require.NoError(t, err)
	require.Len(t, b.Transactions, 3)
	require.EqualValues(t, 1, b.Header.Height)
	require.Greater(t, b.Header.Timestamp, genesisTs)

	f.receive(t, b, AcceptedReorg)
	require.Zero(t, f.pool.Len())
	require.EqualValues(t, 67, f.engine.BalanceOf(f.alice.Address))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.engine.ProposeBlock(ctx, proposer)
	require.ErrorIs(t, err, context.Canceled)
}

func TestRestartFromStorage(t *testing.T) {
	f := newFixture(t)
	db, err := boltdb.New(filepath.Join(t.TempDir(), "blocks.db"))
	require.NoError(t, err)
	f.db = db
	f.start(t)

	tx1 := testtransaction.NewTransfer(t, f.alice, 1, f.bob.Address, 30, 1)
	tx2 := testtransaction.NewTransfer(t, f.alice, 2, f.carol.Address, 20, 1)
	b1 := f.block(t, f.genesis, 0, tx1)
	b2 := f.block(t, b1, 0, tx2)
	f.receive(t, b1, AcceptedReorg)
	f.receive(t, b2, AcceptedReorg)
	want := f.engine.View()

	// replay from genesis
	f.start(t)
	require.Equal(t, want.Tip.Hash, f.engine.Tip().Hash)
	require.True(t, want.State.Equal(f.engine.State()))

	// from checkpoint
	f.start(t, WithCheckpoint(want.Tip.Hash, want.State.Detach()))
	require.Equal(t, want.Tip.Hash, f.engine.Tip().Hash)
	require.True(t, want.State.Equal(f.engine.State()))

	// a fork below the checkpoint is validated from the genesis state
	b1p := f.block(t, f.genesis, 1)
	var b2p *types.Block
	for offset := uint64(0); b2p == nil || b2p.Hash(alg).Less(b2.Hash(alg)); offset++ {
		b2p = f.block(t, b1p, offset)
	}
	b3p := f.block(t, b2p, 0)
	f.receive(t, b1p, AcceptedCanonicalUnchanged)
	f.receive(t, b2p, AcceptedCanonicalUnchanged)
	res := f.receive(t, b3p, AcceptedReorg)
	require.Equal(t, 2, res.TipChange.RollbackDepth)
	require.True(t, f.engine.State().Equal(f.genesisState))
	require.NoError(t, f.engine.VerifyChain(context.Background()))
	require.NoError(t, db.Close())
}

func TestDeterministicReplay(t *testing.T) {
	f := newFixture(t)
	var blocks []*types.Block
	parent := f.genesis
	for nonce := uint64(1); nonce <= 5; nonce++ {
		b := f.block(t, parent, 0, testtransaction.NewTransfer(t, f.alice, nonce, f.bob.Address, nonce, 1))
		f.receive(t, b, AcceptedReorg)
		blocks = append(blocks, b)
		parent = b
	}
	a := f.replayFromGenesis(t, blocks...)
	b := f.replayFromGenesis(t, blocks...)
	require.Equal(t, a.Root(), b.Root())
	require.Equal(t, a.Root(), f.engine.State().Root())
}

func TestOnBlockReceived_OrphanBodyMustMatchHeader(t *testing.T) {
	f := newFixture(t)
	tx := testtransaction.NewTransfer(t, f.alice, 1, f.bob.Address, 30, 1)
	b1 := f.block(t, f.genesis, 0)
	b2 := f.block(t, b1, 0, tx)

	reseal := func(b *types.Block) *types.Block {
		b.Header.Nonce = 0
		require.NoError(t, f.rule.Seal(context.Background(), b.Header))
		return b
	}
	tests := []struct {
		name   string
		block  func() *types.Block
		reason string
	}{
		{
			name: "header with other transactions",
			block: func() *types.Block {
				other := testtransaction.NewTransfer(t, f.alice, 1, f.carol.Address, 30, 1)
				return &types.Block{Header: b2.Header, Transactions: []*types.Transaction{other}}
			},
			reason: string(TxRootMismatch),
		},
		{
			name: "header without transactions",
			block: func() *types.Block {
				return &types.Block{Header: b2.Header}
			},
			reason: string(TxRootMismatch),
		},
		{
			name: "bad proof",
			block: func() *types.Block {
				b := f.block(t, b1, 1, tx)
				b.Header.Difficulty = 2
				return b
			},
			reason: string(BadProof),
		},
		{
			name: "timestamp in future",
			block: func() *types.Block {
				b := f.block(t, b1, 2, tx)
				b.Header.Timestamp = uint64(f.now.Add(time.Minute).UnixMilli())
				return reseal(b)
			},
			reason: string(TimestampInFuture),
		},
		{
			name: "bad transaction signature",
			block: func() *types.Block {
				bad := testtransaction.NewTransfer(t, f.alice, 1, f.bob.Address, 10, 1)
				bad.Outputs[0].Amount = 9
				return f.block(t, b1, 3, bad)
			},
			reason: string(state.BadSignature),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := f.receive(t, tt.block(), Rejected)
			require.Equal(t, tt.reason, Reason(res.Err))
			require.Zero(t, f.engine.OrphanCount())
		})
	}

	// the block with the committed transactions is still taken
	f.receive(t, b2, Pending)
	require.Equal(t, 1, f.engine.OrphanCount())
	res := f.receive(t, b1, AcceptedReorg)
	require.Len(t, res.Resolved, 1)
	require.Equal(t, AcceptedReorg, res.Resolved[0].Outcome)
	require.Equal(t, b2.Hash(alg), f.engine.Tip().Hash)
	require.EqualValues(t, 30, f.engine.BalanceOf(f.bob.Address))
}

func TestView_CanonicalIndex(t *testing.T) {
	f := newFixture(t)
	a1 := f.block(t, f.genesis, 0)
	a2 := f.block(t, a1, 0)
	f.receive(t, a1, AcceptedReorg)
	f.receive(t, a2, AcceptedReorg)
	first := f.engine.View()

	var b2 *types.Block
	for offset := uint64(1); b2 == nil || b2.Hash(alg).Less(a2.Hash(alg)); offset++ {
		b2 = f.block(t, a1, offset)
	}
	b3 := f.block(t, b2, 0)
	f.receive(t, b2, AcceptedCanonicalUnchanged)
	f.receive(t, b3, AcceptedReorg)
	second := f.engine.View()

	// extending and switching back must not touch the earlier views
	a3 := f.block(t, a2, 0)
	a4 := f.block(t, a3, 0)
	require.NotEqual(t, Rejected, f.engine.OnBlockReceived(a3).Outcome)
	f.receive(t, a4, AcceptedReorg)
	third := f.engine.View()

	tests := []struct {
		name  string
		view  *View
		chain []*types.Block
	}{
		{name: "before reorg", view: first, chain: []*types.Block{f.genesis, a1, a2}},
		{name: "after reorg", view: second, chain: []*types.Block{f.genesis, a1, b2, b3}},
		{name: "after switching back", view: third, chain: []*types.Block{f.genesis, a1, a2, a3, a4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.chain[len(tt.chain)-1].Hash(alg), tt.view.Tip.Hash)
			for height, b := range tt.chain {
				h, found := tt.view.CanonicalAt(uint64(height))
				require.True(t, found)
				require.Equal(t, b.Hash(alg), h, "height %d", height)
			}
			_, found := tt.view.CanonicalAt(uint64(len(tt.chain)))
			require.False(t, found)
		})
	}
	require.True(t, f.engine.IsCanonical(a2.Hash(alg)))
	require.False(t, f.engine.IsCanonical(b2.Hash(alg)))
	require.False(t, f.engine.IsCanonical(crypto.Hash{1}))
}

// storedBlock has the layout of the chain store records.
type storedBlock struct {
	_      struct{} `cbor:",toarray"`
	Block  *types.Block
	Status chain.Status
	Weight []byte
}

func TestRestart_StoredBlockFailsReplay(t *testing.T) {
	f := newFixture(t)
	tx1 := testtransaction.NewTransfer(t, f.alice, 1, f.bob.Address, 30, 1)
	b1 := f.block(t, f.genesis, 0, tx1)
	b2 := f.block(t, b1, 0)
	f.receive(t, b1, AcceptedReorg)
	f.receive(t, b2, AcceptedReorg)

	// the stored body of b1 is replaced by a transfer alice can not afford
	hash := b1.Hash(alg)
	weight, err := f.store.WeightOf(hash)
	require.NoError(t, err)
	overspend := testtransaction.NewTransfer(t, f.alice, 1, f.bob.Address, 500, 1)
	rec := &storedBlock{
		Block:  &types.Block{Header: b1.Header, Transactions: []*types.Transaction{overspend}},
		Status: chain.Valid,
		Weight: util.Uint256ToBytes(weight),
	}
	require.NoError(t, f.db.Write(append([]byte("block_"), hash[:]...), rec))

	f.start(t)
	require.Equal(t, f.genesis.Hash(alg), f.engine.Tip().Hash)
	for _, b := range []*types.Block{b1, b2} {
		status, found := f.store.Status(b.Hash(alg))
		require.True(t, found)
		require.Equal(t, chain.Invalid, status)
	}
	require.EqualValues(t, 100, f.engine.BalanceOf(f.alice.Address))

	// the node goes on from the last state it could rebuild
	f.receive(t, f.block(t, f.genesis, 1, tx1), AcceptedReorg)
	require.EqualValues(t, 30, f.engine.BalanceOf(f.bob.Address))
	require.NoError(t, f.engine.VerifyChain(context.Background()))
}

func TestStateAt_ReplaysBeyondJournalDepth(t *testing.T) {
	f := newFixture(t)
	var err error
	f.ledger, err = state.NewLedger(alg, state.WithJournalDepth(1))
	require.NoError(t, err)
	f.start(t, WithSnapshotCacheSize(1))

	var chainA []*types.Block
	parent := f.genesis
	for nonce := uint64(1); nonce <= 3; nonce++ {
		b := f.block(t, parent, 0, testtransaction.NewTransfer(t, f.alice, nonce, f.bob.Address, 10, 1))
		f.receive(t, b, AcceptedReorg)
		chainA = append(chainA, b)
		parent = b
	}
	require.Equal(t, 1, f.engine.State().Revertible())

	// the state of a1 is two blocks behind the tip, older than the journal
	b2 := f.block(t, chainA[0], 1)
	var b3 *types.Block
	for offset := uint64(0); b3 == nil || b3.Hash(alg).Less(chainA[2].Hash(alg)); offset++ {
		b3 = f.block(t, b2, offset)
	}
	b4 := f.block(t, b3, 0)
	f.receive(t, b2, AcceptedCanonicalUnchanged)
	f.receive(t, b3, AcceptedCanonicalUnchanged)
	res := f.receive(t, b4, AcceptedReorg)
	require.Equal(t, 2, res.TipChange.RollbackDepth)
	require.True(t, f.engine.State().Equal(f.replayFromGenesis(t, chainA[0], b2, b3, b4)))
	require.EqualValues(t, 10, f.engine.BalanceOf(f.bob.Address))
	require.NoError(t, f.engine.VerifyChain(context.Background()))
}

// Meant to be run with the race detector.
func TestEngine_ConcurrentAccess(t *testing.T) {
	const txCount = 20
	f := newFixture(t)
	txs := make([]*types.Transaction, txCount)
	for i := range txs {
		txs[i] = testtransaction.NewTransfer(t, f.alice, uint64(i+1), f.bob.Address, 1, 1)
	}

	// checkView verifies that the state of a view is the result of the
	// chain the view names
	checkView := func(v *View) error {
		acc, _ := v.State.Account(f.alice.Address)
		k := acc.Nonce
		if a, b := v.State.BalanceOf(f.alice.Address), v.State.BalanceOf(f.bob.Address); a != 100-2*k || b != k {
			return fmt.Errorf("tip %s: balances %d and %d after %d transfers", v.Tip.Hash.Short(), a, b, k)
		}
		var included uint64
		prev := crypto.ZeroHash
		for height := uint64(0); height <= v.Tip.Height; height++ {
			hash, found := v.CanonicalAt(height)
			if !found {
				return fmt.Errorf("tip %s: no block at height %d", v.Tip.Hash.Short(), height)
			}
			b, found := f.engine.Block(hash)
			if !found || b.Header.ParentHash != prev {
				return fmt.Errorf("tip %s: block %s at height %d does not link to %s", v.Tip.Hash.Short(), hash.Short(), height, prev.Short())
			}
			included += uint64(len(b.Transactions))
			prev = hash
		}
		if prev != v.Tip.Hash || included != k {
			return fmt.Errorf("tip %s: chain ends with %s and holds %d transfers, state has %d", v.Tip.Hash.Short(), prev.Short(), included, k)
		}
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var writers, readers errgroup.Group
	writers.Go(func() error {
		for _, tx := range txs {
			if _, err := f.engine.SubmitTransaction(tx); err != nil {
				return fmt.Errorf("submit nonce %d: %w", tx.Nonce, err)
			}
		}
		return nil
	})
	writers.Go(func() error {
		deadline := time.Now().Add(5 * test.WaitDuration)
		for f.engine.State().NextNonce(f.alice.Address) <= txCount {
			if time.Now().After(deadline) {
				return errors.New("transactions were not included in time")
			}
			if f.pool.Len() == 0 {
				time.Sleep(time.Millisecond)
				continue
			}
			b, err := f.engine.ProposeBlock(ctx, proposer)
			if err != nil {
				return err
			}
			if res := f.engine.OnBlockReceived(b); res.Outcome != AcceptedReorg {
				return fmt.Errorf("proposed block %s: %s: %v", res.Hash.Short(), res.Outcome, res.Err)
			}
		}
		return nil
	})
	for range 3 {
		readers.Go(func() error {
			for ctx.Err() == nil {
				if err := checkView(f.engine.View()); err != nil {
					return err
				}
				f.engine.BalanceOf(f.bob.Address)
			}
			return nil
		})
	}
	readers.Go(func() error {
		for ctx.Err() == nil {
			if sel := f.pool.SelectForBlock(f.engine.State(), 5, 1<<16); len(sel) > 5 {
				return fmt.Errorf("selected %d transactions, limit 5", len(sel))
			}
		}
		return nil
	})

	require.NoError(t, writers.Wait())
	cancel()
	require.NoError(t, readers.Wait())
	require.NoError(t, checkView(f.engine.View()))
	require.EqualValues(t, txCount, f.engine.BalanceOf(f.bob.Address))
	require.Zero(t, f.pool.Len())
	require.NoError(t, f.engine.VerifyChain(context.Background()))
}
