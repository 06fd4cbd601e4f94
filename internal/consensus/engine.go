package consensus

import (
	"context"
	gocrypto "crypto"
	"errors"
	"fmt"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/errgroup"

	"github.com/alphabill-org/ledgercore/internal/chain"
	"github.com/alphabill-org/ledgercore/internal/crypto"
	"github.com/alphabill-org/ledgercore/internal/logger"
	"github.com/alphabill-org/ledgercore/internal/metrics"
	"github.com/alphabill-org/ledgercore/internal/state"
	"github.com/alphabill-org/ledgercore/internal/types"
)

// blockOverhead is the part of the block size limit reserved for the header
// when selecting transactions for a proposal.
const blockOverhead = 4096

var log = logger.CreateForPackage()

var (
	mAccepted   = metrics.GetOrRegisterCounter("consensus/blocks/accepted")
	mRejected   = metrics.GetOrRegisterCounter("consensus/blocks/rejected")
	mReorgs     = metrics.GetOrRegisterCounter("consensus/reorgs")
	mOrphans    = metrics.GetOrRegisterGauge("consensus/orphans")
	mTipHeight  = metrics.GetOrRegisterGauge("consensus/tip/height")
	mValidation = metrics.GetOrRegisterTimer("consensus/validation")
)

var errNoRollback = errors.New("state cannot be rolled back")

type Outcome uint8

const (
	Rejected Outcome = iota
	// Pending blocks wait for their parent.
	Pending
	Duplicate
	AcceptedCanonicalUnchanged
	AcceptedReorg
)

func (o Outcome) String() string {
	switch o {
	case Rejected:
		return "rejected"
	case Pending:
		return "pending"
	case Duplicate:
		return "duplicate"
	case AcceptedCanonicalUnchanged:
		return "accepted"
	case AcceptedReorg:
		return "accepted-tip-changed"
	default:
		return fmt.Sprintf("Outcome(%d)", o)
	}
}

type (
	// Engine validates blocks, runs fork choice and keeps the ledger state of
	// the canonical tip. All mutations go through a single lock; readers use
	// the published View which is replaced atomically after a tip change.
	Engine struct {
		mu            sync.Mutex
		conf          *configuration
		hashAlgorithm gocrypto.Hash
		store         *chain.Store
		ledger        *state.Ledger
		rule          Rule
		orphans       *expirable.LRU[crypto.Hash, *types.Block]
		snapshots     *lru.Cache[crypto.Hash, *state.Snapshot]
		// states which are never evicted: genesis and the checkpoint
		base map[crypto.Hash]*state.Snapshot
		view atomic.Pointer[View]
	}

	// View is a consistent set of the canonical tip, the ledger state after
	// it and the chain leading to it.
	View struct {
		Tip   *chain.Node
		State *state.Snapshot
		// block hash by height, the last one is Tip; views extending each
		// other share the backing array
		canonical []crypto.Hash
	}

	// Result of OnBlockReceived. Resolved holds the results of the orphan
	// blocks which were waiting for this block.
	Result struct {
		Outcome   Outcome
		Hash      crypto.Hash
		Err       error
		TipChange *TipChange
		Resolved  []*Result
	}

	// TipChange describes a switch of the canonical tip. RollbackDepth is the
	// number of blocks which left the canonical chain, zero when the new tip
	// extends the old one.
	TipChange struct {
		OldTip        *chain.Node
		NewTip        *chain.Node
		Ancestor      *chain.Node
		RollbackDepth int
		Replayed      int
		// Orphaned are the transactions of the blocks which left the canonical chain.
		Orphaned []*types.Transaction
	}
)

// New creates the engine over a chain store. GenesisState is the ledger
// state the genesis block of the store commits to. Pending blocks found in
// the store are validated before New returns.
func New(store *chain.Store, ledger *state.Ledger, rule Rule, genesisState *state.Snapshot, opts ...Option) (*Engine, error) {
	switch {
	case store == nil:
		return nil, errStoreIsNil
	case ledger == nil:
		return nil, errLedgerIsNil
	case rule == nil:
		return nil, errRuleIsNil
	case genesisState == nil:
		return nil, errGenesisStateIsNil
	}
	conf, err := loadConfiguration(opts)
	if err != nil {
		return nil, fmt.Errorf("invalid consensus configuration: %w", err)
	}
	snapshots, err := lru.New[crypto.Hash, *state.Snapshot](conf.snapshotCacheSize)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		conf:          conf,
		hashAlgorithm: ledger.HashAlgorithm(),
		store:         store,
		ledger:        ledger,
		rule:          rule,
		orphans:       expirable.NewLRU[crypto.Hash, *types.Block](conf.orphanCapacity, nil, conf.orphanTTL),
		snapshots:     snapshots,
		base:          make(map[crypto.Hash]*state.Snapshot),
	}

	genesis := store.Genesis()
	if err := VerifyGenesis(e.hashAlgorithm, genesis.Block, genesisState); err != nil {
		return nil, err
	}
	e.base[genesis.Hash] = genesisState
	if cp := conf.checkpoint; cp != nil {
		if n, found := store.Get(cp.block); !found || n.Status != chain.Valid {
			return nil, fmt.Errorf("checkpoint block %s is not a valid stored block", cp.block)
		}
		e.base[cp.block] = cp.state
	}

	// stored chain is switched to like any other branch, a block which no
	// longer replays is invalidated on the way
	e.view.Store(&View{Tip: genesis, State: genesisState, canonical: []crypto.Hash{genesis.Hash}})
	mTipHeight.Update(0)

	if _, err := e.settle(map[crypto.Hash]error{}); err != nil {
		return nil, fmt.Errorf("validating stored blocks: %w", err)
	}
	log.Info("consensus engine (%s) started, tip %s at height %d", rule.Name(), e.Tip().Hash, e.Tip().Height)
	return e, nil
}

func (e *Engine) HashAlgorithm() gocrypto.Hash {
	return e.hashAlgorithm
}

func (e *Engine) Rule() Rule {
	return e.rule
}

func (e *Engine) Store() *chain.Store {
	return e.store
}

// View returns the canonical tip together with its ledger state.
func (e *Engine) View() *View {
	return e.view.Load()
}

func (e *Engine) Tip() *chain.Node {
	return e.view.Load().Tip
}

func (e *Engine) State() *state.Snapshot {
	return e.view.Load().State
}

func (e *Engine) BalanceOf(addr types.Address) uint64 {
	return e.view.Load().State.BalanceOf(addr)
}

func (e *Engine) Block(hash crypto.Hash) (*types.Block, bool) {
	return e.store.Block(hash)
}

// IsCanonical reports whether the block is on the chain of the published tip.
func (e *Engine) IsCanonical(hash crypto.Hash) bool {
	n, found := e.store.Get(hash)
	return found && e.view.Load().contains(n)
}

// CanonicalAt returns the hash of the canonical block at height.
func (v *View) CanonicalAt(height uint64) (crypto.Hash, bool) {
	if height >= uint64(len(v.canonical)) {
		return crypto.ZeroHash, false
	}
	return v.canonical[height], true
}

func (v *View) contains(n *chain.Node) bool {
	h, found := v.CanonicalAt(n.Height)
	return found && h == n.Hash
}

// extend returns the canonical index of a tip reached from v via ancestor
// and path.
func (v *View) extend(ancestor *chain.Node, path []*chain.Node) []crypto.Hash {
	c := v.canonical[:ancestor.Height+1]
	if len(c) < len(v.canonical) {
		c = slices.Clip(c)
	}
	for _, n := range path {
		c = append(c, n.Hash)
	}
	return c
}

// OrphanCount is the number of blocks waiting for their parent.
func (e *Engine) OrphanCount() int {
	return e.orphans.Len()
}

// Close drops the blocks waiting for their parent.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.orphans.Purge()
	mOrphans.Update(0)
}

// SubmitTransaction adds tx to the pool, validated against the canonical state.
func (e *Engine) SubmitTransaction(tx *types.Transaction) (crypto.Hash, error) {
	if e.conf.pool == nil {
		return crypto.ZeroHash, ErrNoPool
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conf.pool.Submit(tx, e.view.Load().State, e.conf.clock())
}

// EvictExpired drops pool transactions older than the pool time to live.
func (e *Engine) EvictExpired() int {
	if e.conf.pool == nil {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conf.pool.EvictExpired(e.conf.clock())
}

// ValidateBlock runs every check on a block whose parent is valid, without
// storing it. Returns the ledger state after the block.
func (e *Engine) ValidateBlock(b *types.Block) (*state.Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := b.IsValid(e.hashAlgorithm); err != nil {
		return nil, err
	}
	parent, found := e.store.Get(b.Header.ParentHash)
	if !found {
		return nil, &chain.RejectedHeaderError{Code: chain.UnknownParent, Hash: b.Hash(e.hashAlgorithm)}
	}
	if parent.Status == chain.Pending {
		return nil, &TransientError{Err: fmt.Errorf("parent %s is not validated yet", parent.Hash)}
	}
	if err := e.checkBlock(b, parent); err != nil {
		return nil, err
	}
	s, err := e.stateAt(parent)
	if err != nil {
		return nil, err
	}
	next, idx, err := e.ledger.ApplyBlock(b.Transactions, s, true)
	if err != nil {
		return nil, fmt.Errorf("transaction %d: %w", idx, err)
	}
	return next, nil
}

// OnBlockReceived validates the block, stores it and runs fork choice. When
// the canonical tip changes the ledger state is switched to the new tip and
// the pool is reconciled before it returns.
func (e *Engine) OnBlockReceived(b *types.Block) *Result {
	start := time.Now()
	e.mu.Lock()
	res := e.receive(b)
	e.mu.Unlock()
	mValidation.Since(start)
	mOrphans.Update(int64(e.orphans.Len()))
	logResult(res)
	return res
}

func (e *Engine) receive(b *types.Block) *Result {
	if err := b.IsValid(e.hashAlgorithm); err != nil {
		return &Result{Outcome: Rejected, Hash: b.Hash(e.hashAlgorithm), Err: err}
	}
	hash := b.Hash(e.hashAlgorithm)
	res := &Result{Hash: hash}
	if e.store.Contains(hash) || e.orphans.Contains(hash) {
		res.Outcome = Duplicate
		res.Err = &chain.RejectedHeaderError{Code: chain.DuplicateHeader, Hash: hash}
		return res
	}
	parent, found := e.store.Get(b.Header.ParentHash)
	if !found {
		// only blocks which could still be valid are kept, a body not
		// matching its header must not take the slot of the real one
		if err := e.checkOrphan(b); err != nil {
			res.Outcome = Rejected
			res.Err = err
			return res
		}
		e.orphans.Add(hash, b)
		res.Outcome = Pending
		res.Err = &chain.RejectedHeaderError{Code: chain.UnknownParent, Hash: hash}
		return res
	}
	if err := e.checkBlock(b, parent); err != nil {
		res.Outcome = Rejected
		res.Err = err
		return res
	}
	weight, err := e.rule.Weight(b.Header)
	if err != nil {
		res.Outcome = Rejected
		res.Err = err
		return res
	}
	n, err := e.store.Insert(b, weight)
	if err != nil {
		res.Outcome = Rejected
		res.Err = err
		return res
	}

	failed := map[crypto.Hash]error{}
	err = e.connect(n, failed)
	if err == nil {
		res.TipChange, err = e.settle(failed)
	}
	switch {
	case failed[hash] != nil:
		res.Outcome = Rejected
		res.Err = failed[hash]
	case err != nil:
		// stored, validation is retried on the next settle
		res.Outcome = Pending
		res.Err = &TransientError{Err: err}
	case res.TipChange != nil:
		res.Outcome = AcceptedReorg
	default:
		res.Outcome = AcceptedCanonicalUnchanged
	}
	res.Resolved = e.resolveOrphans(hash)
	return res
}

// checkBlock runs the checks which do not need the ledger state, in order:
// parent status, height, proof, timestamp, commitment, limits, signatures.
func (e *Engine) checkBlock(b *types.Block, parent *chain.Node) error {
	h := b.Header
	if parent.Status == chain.Invalid {
		return ruleErr(InvalidParent, "parent %s is invalid", parent.Hash)
	}
	if h.Height != parent.Height+1 {
		return ruleErr(BadHeight, "height %d, parent height %d", h.Height, parent.Height)
	}
	if err := e.rule.VerifyProof(h, parent); err != nil {
		return err
	}
	if h.Timestamp <= parent.Block.Header.Timestamp {
		return ruleErr(TimestampTooOld, "timestamp %d is not after parent timestamp %d", h.Timestamp, parent.Block.Header.Timestamp)
	}
	return e.checkBody(b)
}

// checkOrphan is checkBlock without the checks against the parent.
func (e *Engine) checkOrphan(b *types.Block) error {
	if err := e.rule.VerifyProof(b.Header, nil); err != nil {
		return err
	}
	return e.checkBody(b)
}

// checkBody checks the block against local time, its own header and the
// limits. The header hash does not cover the transactions, so this is what
// ties them to the header.
func (e *Engine) checkBody(b *types.Block) error {
	h := b.Header
	if limit := e.conf.clock().Add(e.conf.maxClockDrift).UnixMilli(); h.Timestamp > uint64(limit) {
		return ruleErr(TimestampInFuture, "timestamp %d is more than %s ahead of local time", h.Timestamp, e.conf.maxClockDrift)
	}
	if root := b.TxRoot(e.hashAlgorithm); root != h.TxRoot {
		return ruleErr(TxRootMismatch, "header commits to %s, transactions hash to %s", h.TxRoot, root)
	}
	if len(b.Transactions) > e.conf.maxBlockTxs {
		return ruleErr(TooManyTxs, "%d transactions, limit %d", len(b.Transactions), e.conf.maxBlockTxs)
	}
	if size := b.Size(); size > e.conf.maxBlockSize {
		return ruleErr(BlockTooLarge, "block size %d, limit %d", size, e.conf.maxBlockSize)
	}
	return e.verifyTransactions(b.Transactions)
}

// verifyTransactions checks structure and signature of every transaction.
// The checks are independent of each other and run in parallel.
func (e *Engine) verifyTransactions(txs []*types.Transaction) error {
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, tx := range txs {
		g.Go(func() error {
			if err := e.ledger.VerifyTx(tx); err != nil {
				return fmt.Errorf("transaction %d: %w", i, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// connect applies the transactions of the pending blocks on the branch
// ending with n. A block which fails is marked invalid together with its
// subtree, the cause is recorded in failed.
func (e *Engine) connect(n *chain.Node, failed map[crypto.Hash]error) error {
	var path []*chain.Node
	cur := n
	for cur.Status == chain.Pending {
		path = append(path, cur)
		parent, found := e.store.Get(cur.Parent)
		if !found {
			return fmt.Errorf("parent %s of block %s: %w", cur.Parent, cur.Hash, chain.ErrNotFound)
		}
		cur = parent
	}
	if len(path) == 0 {
		return nil
	}
	if cur.Status == chain.Invalid {
		return e.invalidate(path[len(path)-1].Hash, ruleErr(InvalidParent, "parent %s is invalid", cur.Hash), failed)
	}

	s, err := e.stateAt(cur)
	if err != nil {
		if dropped, ierr := e.dropFatal(err, failed); dropped || ierr != nil {
			return ierr
		}
		return err
	}
	for i := len(path) - 1; i >= 0; i-- {
		next, idx, err := e.ledger.ApplyBlock(path[i].Block.Transactions, s, true)
		if err != nil {
			return e.invalidate(path[i].Hash, fmt.Errorf("transaction %d: %w", idx, err), failed)
		}
		e.snapshots.Add(path[i].Hash, next)
		if err := e.store.MarkValid(path[i].Hash); err != nil {
			return err
		}
		s = next
	}
	return nil
}

func (e *Engine) invalidate(hash crypto.Hash, cause error, failed map[crypto.Hash]error) error {
	marked, err := e.store.MarkInvalid(hash)
	if err != nil {
		return err
	}
	for _, h := range marked {
		e.snapshots.Remove(h)
		if h == hash {
			failed[h] = cause
		} else {
			failed[h] = ruleErr(InvalidParent, "ancestor %s is invalid: %s", hash.Short(), Reason(cause))
		}
	}
	if Classify(cause) == Fatal {
		log.Error("branch of block %s dropped: %v", hash, cause)
	} else {
		log.Warning("block %s is invalid (%s), %d blocks pruned: %v", hash.Short(), Reason(cause), len(marked), cause)
	}
	return nil
}

// dropFatal invalidates the branch of the block a FatalError names. Dropped
// is false when err is not fatal or the block cannot be invalidated.
func (e *Engine) dropFatal(err error, failed map[crypto.Hash]error) (dropped bool, _ error) {
	var fe *FatalError
	if !errors.As(err, &fe) || fe.Block == e.store.Genesis().Hash {
		return false, nil
	}
	if status, found := e.store.Status(fe.Block); !found || status == chain.Invalid {
		return false, nil
	}
	return true, e.invalidate(fe.Block, err, failed)
}

// settle connects pending blocks until the best candidate of fork choice is
// a valid block and publishes it as the new tip. A stored block whose state
// can not be rebuilt is invalidated and fork choice runs again.
func (e *Engine) settle(failed map[crypto.Hash]error) (*TipChange, error) {
	for {
		var connectErr error
		for connectErr == nil {
			cand := e.store.BestCandidate()
			if cand.Status != chain.Pending {
				break
			}
			connectErr = e.connect(cand, failed)
		}
		tc, err := e.publish()
		dropped, ierr := e.dropFatal(err, failed)
		if ierr != nil {
			return nil, errors.Join(connectErr, err, ierr)
		}
		if !dropped {
			return tc, errors.Join(connectErr, err)
		}
	}
}

// publish switches the view to the best valid tip and reconciles the pool.
func (e *Engine) publish() (*TipChange, error) {
	old := e.view.Load()
	tip := e.store.BestTip()
	if tip.Hash == old.Tip.Hash {
		return nil, nil
	}
	s, err := e.stateAt(tip)
	if err != nil {
		return nil, fmt.Errorf("state of new tip %s: %w", tip.Hash, err)
	}
	ancestor, err := e.store.CommonAncestor(old.Tip.Hash, tip.Hash)
	if err != nil {
		return nil, err
	}
	oldPath, err := e.store.PathFromTo(ancestor.Hash, old.Tip.Hash)
	if err != nil {
		return nil, err
	}
	newPath, err := e.store.PathFromTo(ancestor.Hash, tip.Hash)
	if err != nil {
		return nil, err
	}

	e.view.Store(&View{Tip: tip, State: s, canonical: old.extend(ancestor, newPath)})
	tc := &TipChange{OldTip: old.Tip, NewTip: tip, Ancestor: ancestor, RollbackDepth: len(oldPath), Replayed: len(newPath)}
	for _, n := range oldPath {
		tc.Orphaned = append(tc.Orphaned, n.Block.Transactions...)
	}
	e.reconcilePool(newPath, tc.Orphaned, s)

	mTipHeight.Update(int64(tip.Height))
	if tc.RollbackDepth > 0 {
		mReorgs.Inc(1)
		log.Info("reorg: old tip %s (height %d), new tip %s (height %d), common ancestor %s, rollback depth %d, replayed %d",
			old.Tip.Hash.Short(), old.Tip.Height, tip.Hash.Short(), tip.Height, ancestor.Hash.Short(), tc.RollbackDepth, tc.Replayed)
	} else {
		log.Debug("new tip %s at height %d", tip.Hash.Short(), tip.Height)
	}
	return tc, nil
}

func (e *Engine) reconcilePool(included []*chain.Node, orphaned []*types.Transaction, s *state.Snapshot) {
	pool := e.conf.pool
	if pool == nil {
		return
	}
	for _, n := range included {
		pool.Remove(types.TxHashes(e.hashAlgorithm, n.Block.Transactions)...)
	}
	dropped := pool.Reconcile(s)
	reinstated := 0
	if len(orphaned) > 0 {
		reinstated = pool.Reinstate(orphaned, s, e.conf.clock())
	}
	log.Debug("pool reconciled: %d stale dropped, %d of %d orphaned reinstated", dropped, reinstated, len(orphaned))
}

// stateAt returns the ledger state after the valid block n: from the cache,
// by rolling back the canonical tip state or by replaying blocks forward
// from the nearest known state.
func (e *Engine) stateAt(n *chain.Node) (*state.Snapshot, error) {
	if s, found := e.cachedState(n.Hash); found {
		return s, nil
	}
	if v := e.view.Load(); v != nil {
		s, err := e.rollback(v, n)
		if err == nil {
			e.snapshots.Add(n.Hash, s)
			return s, nil
		}
		if !errors.Is(err, errNoRollback) {
			log.Warning("rolling back to block %s failed, replaying: %v", n.Hash.Short(), err)
		}
	}
	s, err := e.replay(n)
	if err != nil {
		return nil, err
	}
	e.snapshots.Add(n.Hash, s)
	return s, nil
}

func (e *Engine) cachedState(hash crypto.Hash) (*state.Snapshot, bool) {
	if s, found := e.base[hash]; found {
		return s, true
	}
	if v := e.view.Load(); v != nil && v.Tip.Hash == hash {
		return v.State, true
	}
	return e.snapshots.Get(hash)
}

// rollback reverts the blocks after n from the state of the view tip.
func (e *Engine) rollback(v *View, n *chain.Node) (*state.Snapshot, error) {
	path, err := e.store.PathFromTo(n.Hash, v.Tip.Hash)
	if errors.Is(err, chain.ErrNotDescendant) {
		return nil, errNoRollback
	}
	if err != nil {
		return nil, err
	}
	s := v.State
	for i := len(path) - 1; i >= 0; i-- {
		s, err = e.ledger.RevertBlock(path[i].Block.Transactions, s)
		if errors.Is(err, state.ErrHistoryUnavailable) {
			return nil, errNoRollback
		}
		if err != nil {
			return nil, &FatalError{Block: path[i].Hash, Err: fmt.Errorf("rollback: %w", err)}
		}
	}
	return s, nil
}

// replay applies the blocks from the nearest ancestor with a known state up
// to n. Genesis state is always known.
func (e *Engine) replay(n *chain.Node) (*state.Snapshot, error) {
	var path []*chain.Node
	cur := n
	s, found := e.cachedState(cur.Hash)
	for !found {
		path = append(path, cur)
		parent, ok := e.store.Get(cur.Parent)
		if !ok {
			return nil, &FatalError{Block: n.Hash, Err: fmt.Errorf("ancestor %s: %w", cur.Parent, chain.ErrNotFound)}
		}
		cur = parent
		s, found = e.cachedState(cur.Hash)
	}
	for i := len(path) - 1; i >= 0; i-- {
		next, idx, err := e.ledger.ApplyBlock(path[i].Block.Transactions, s, true)
		if err != nil {
			return nil, &FatalError{Block: path[i].Hash, Err: fmt.Errorf("replay of transaction %d: %w", idx, err)}
		}
		s = next
	}
	return s, nil
}

// resolveOrphans feeds the blocks waiting for parent back to the engine.
// Blocks whose parent was rejected before being stored keep waiting, the
// same header may still arrive with the right transactions.
func (e *Engine) resolveOrphans(parent crypto.Hash) []*Result {
	if !e.store.Contains(parent) {
		return nil
	}
	var children []*types.Block
	for _, hash := range e.orphans.Keys() {
		if b, found := e.orphans.Peek(hash); found && b.Header.ParentHash == parent {
			children = append(children, b)
			e.orphans.Remove(hash)
		}
	}
	var res []*Result
	for _, b := range children {
		res = append(res, e.receive(b))
	}
	return res
}

func logResult(r *Result) {
	switch r.Outcome {
	case Rejected:
		mRejected.Inc(1)
		log.Warning("block %s rejected (%s): %v", r.Hash.Short(), Reason(r.Err), r.Err)
	case Pending:
		log.Debug("block %s pending: %v", r.Hash.Short(), r.Err)
	case Duplicate:
		log.Trace("block %s already known", r.Hash.Short())
	default:
		mAccepted.Inc(1)
		log.Debug("block %s %s", r.Hash.Short(), r.Outcome)
	}
	for _, c := range r.Resolved {
		logResult(c)
	}
}

// ProposeBlock assembles a block on top of the canonical tip from the pool
// and seals it with the rule. The block is not stored, it has to be passed
// to OnBlockReceived like any other block.
func (e *Engine) ProposeBlock(ctx context.Context, proposer []byte) (*types.Block, error) {
	v := e.view.Load()
	var txs []*types.Transaction
	if pool := e.conf.pool; pool != nil {
		txs = pool.SelectForBlock(v.State, e.conf.maxBlockTxs, max(e.conf.maxBlockSize-blockOverhead, 1))
	}
	h := &types.Header{
		Version:    types.HeaderVersion,
		ParentHash: v.Tip.Hash,
		Height:     v.Tip.Height + 1,
		Timestamp:  max(uint64(e.conf.clock().UnixMilli()), v.Tip.Block.Header.Timestamp+1),
		Proposer:   proposer,
	}
	b := &types.Block{Header: h, Transactions: txs}
	h.TxRoot = b.TxRoot(e.hashAlgorithm)
	if err := e.rule.Seal(ctx, h); err != nil {
		return nil, fmt.Errorf("sealing block: %w", err)
	}
	return b, nil
}

// VerifyChain replays the canonical chain from genesis, checking every
// link, proof, commitment and transaction signature, and compares the
// result with the current state.
func (e *Engine) VerifyChain(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	v := e.view.Load()
	genesis := e.store.Genesis()
	path, err := e.store.PathFromTo(genesis.Hash, v.Tip.Hash)
	if err != nil {
		return err
	}
	s := e.base[genesis.Hash]
	prev := genesis
	for _, n := range path {
		if err := ctx.Err(); err != nil {
			return err
		}
		b := n.Block
		if hash := b.Hash(e.hashAlgorithm); hash != n.Hash {
			return fmt.Errorf("block at height %d hashes to %s, stored as %s", n.Height, hash, n.Hash)
		}
		if b.Header.ParentHash != prev.Hash {
			return fmt.Errorf("block %s does not link to %s", n.Hash, prev.Hash)
		}
		if err := b.IsValid(e.hashAlgorithm); err != nil {
			return fmt.Errorf("block %s: %w", n.Hash, err)
		}
		if err := e.rule.VerifyProof(b.Header, prev); err != nil {
			return fmt.Errorf("block %s: %w", n.Hash, err)
		}
		if b.Header.Timestamp <= prev.Block.Header.Timestamp {
			return fmt.Errorf("block %s: %w", n.Hash, ruleErr(TimestampTooOld, "timestamp %d", b.Header.Timestamp))
		}
		if root := b.TxRoot(e.hashAlgorithm); root != b.Header.TxRoot {
			return fmt.Errorf("block %s: %w", n.Hash, ruleErr(TxRootMismatch, "transactions hash to %s", root))
		}
		next, idx, err := e.ledger.ApplyBlock(b.Transactions, s, false)
		if err != nil {
			return fmt.Errorf("block %s transaction %d: %w", n.Hash, idx, err)
		}
		s, prev = next, n
	}
	if !s.Equal(v.State) {
		return &FatalError{Block: v.Tip.Hash, Err: fmt.Errorf("replayed state root %s, live state root %s", s.Root(), v.State.Root())}
	}
	return nil
}
