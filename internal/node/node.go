package node

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alphabill-org/ledgercore/internal/chain"
	"github.com/alphabill-org/ledgercore/internal/consensus"
	"github.com/alphabill-org/ledgercore/internal/crypto"
	"github.com/alphabill-org/ledgercore/internal/keyvaluedb"
	"github.com/alphabill-org/ledgercore/internal/keyvaluedb/badgerdb"
	"github.com/alphabill-org/ledgercore/internal/keyvaluedb/boltdb"
	"github.com/alphabill-org/ledgercore/internal/keyvaluedb/memorydb"
	"github.com/alphabill-org/ledgercore/internal/logger"
	"github.com/alphabill-org/ledgercore/internal/metrics"
	"github.com/alphabill-org/ledgercore/internal/network"
	"github.com/alphabill-org/ledgercore/internal/state"
	"github.com/alphabill-org/ledgercore/internal/txpool"
	"github.com/alphabill-org/ledgercore/internal/types"
)

const (
	boltFileName  = "blocks.db"
	badgerDirName = "blocks"
)

var checkpointKey = []byte("checkpoint")

var (
	ErrBlockNotFound = errors.New("block not found")
	errNoProposer    = errors.New("node has no proposer identity")
)

var log = logger.CreateForPackage()

var (
	mBlocksReceived = metrics.GetOrRegisterCounter("node/blocks/received")
	mMalformed      = metrics.GetOrRegisterCounter("node/blocks/malformed")
	mTxReceived     = metrics.GetOrRegisterCounter("node/transactions/received")
	mTxRejected     = metrics.GetOrRegisterCounter("node/transactions/rejected")
	mBroadcastErr   = metrics.GetOrRegisterCounter("node/broadcast/errors")
	mProposed       = metrics.GetOrRegisterCounter("node/blocks/proposed")
)

type (
	// Broadcaster sends validated blocks and transactions, in canonical
	// encoding, to the peers.
	Broadcaster interface {
		BroadcastBlock(ctx context.Context, data []byte) error
		BroadcastTransaction(ctx context.Context, data []byte) error
	}

	// Network delivers blocks and transactions received from peers.
	Network interface {
		Broadcaster
		ReceivedChannel() <-chan network.Message
	}

	// Node owns the storage, chain store, ledger, pool and consensus engine of
	// one chain. It is created by New and released by Close.
	Node struct {
		conf    *configuration
		genesis *Genesis
		db      keyvaluedb.KeyValueDB
		ownsDB  bool
		ledger  *state.Ledger
		store   *chain.Store
		pool    *txpool.TxPool
		engine  *consensus.Engine
	}

	checkpointRecord struct {
		_     struct{} `cbor:",toarray"`
		Block crypto.Hash
		State []byte
	}
)

// New initializes the node: opens the storage, loads the block tree and
// the ledger state checkpoint, or starts a new chain from genesis when the
// storage is empty.
func New(genesis *Genesis, rule consensus.Rule, opts ...Option) (*Node, error) {
	if genesis == nil {
		return nil, errGenesisIsNil
	}
	conf, err := loadConfiguration(opts)
	if err != nil {
		return nil, fmt.Errorf("invalid node configuration: %w", err)
	}
	alg, err := genesis.HashAlg()
	if err != nil {
		return nil, err
	}
	ledger, err := state.NewLedger(alg)
	if err != nil {
		return nil, err
	}
	genesisBlock, genesisState, err := genesis.Build(ledger)
	if err != nil {
		return nil, fmt.Errorf("building genesis: %w", err)
	}

	db, ownsDB, err := openStorage(conf)
	if err != nil {
		return nil, err
	}
	n := &Node{conf: conf, genesis: genesis, db: db, ownsDB: ownsDB, ledger: ledger}
	if err := n.initState(genesisBlock, genesisState, rule); err != nil {
		return nil, errors.Join(err, n.closeDB())
	}
	return n, nil
}

func openStorage(c *configuration) (keyvaluedb.KeyValueDB, bool, error) {
	if c.db != nil {
		return c.db, false, nil
	}
	switch c.storage {
	case StorageMemory:
		return memorydb.New(), true, nil
	case StorageBolt:
		if err := os.MkdirAll(c.dataDir, 0700); err != nil {
			return nil, false, fmt.Errorf("creating data directory: %w", err)
		}
		db, err := boltdb.New(filepath.Join(c.dataDir, boltFileName))
		return db, true, err
	case StorageBadger:
		db, err := badgerdb.New(filepath.Join(c.dataDir, badgerDirName))
		return db, true, err
	default:
		return nil, false, fmt.Errorf("unknown storage engine %q", c.storage)
	}
}

func (n *Node) initState(genesisBlock *types.Block, genesisState *state.Snapshot, rule consensus.Rule) error {
	empty, err := keyvaluedb.IsEmpty(n.db)
	if err != nil {
		return err
	}
	if empty {
		log.Info("initializing new chain from genesis %s", genesisBlock.Hash(n.ledger.HashAlgorithm()))
	}
	n.store, err = chain.New(n.ledger.HashAlgorithm(), genesisBlock, n.db)
	if err != nil {
		return fmt.Errorf("loading block tree: %w", err)
	}
	n.pool, err = txpool.New(n.ledger, n.conf.poolOptions...)
	if err != nil {
		return fmt.Errorf("creating tx pool: %w", err)
	}
	opts := []consensus.Option{consensus.WithPool(n.pool), consensus.WithClock(n.conf.clock)}
	if !empty {
		cp, err := n.loadCheckpoint()
		if err != nil {
			return err
		}
		if cp != nil {
			opts = append(opts, cp)
		}
	}
	n.engine, err = consensus.New(n.store, n.ledger, rule, genesisState, append(opts, n.conf.consensusOptions...)...)
	if err != nil {
		return fmt.Errorf("starting consensus engine: %w", err)
	}
	return nil
}

// loadCheckpoint reads the last persisted ledger state. A checkpoint which
// does not belong to a valid stored block is ignored and the state is
// replayed from genesis.
func (n *Node) loadCheckpoint() (consensus.Option, error) {
	rec := &checkpointRecord{}
	found, err := n.db.Read(checkpointKey, rec)
	if err != nil {
		return nil, fmt.Errorf("reading checkpoint: %w", err)
	}
	if !found {
		return nil, nil
	}
	if status, ok := n.store.Status(rec.Block); !ok || status != chain.Valid {
		log.Warning("ignoring checkpoint of block %s, block is not a valid stored block", rec.Block)
		return nil, nil
	}
	s, err := state.ReadSnapshot(bytes.NewReader(rec.State), n.ledger.HashAlgorithm())
	if err != nil {
		log.Warning("ignoring checkpoint of block %s: %v", rec.Block, err)
		return nil, nil
	}
	log.Debug("loaded checkpoint of block %s, %d accounts", rec.Block, s.Len())
	return consensus.WithCheckpoint(rec.Block, s), nil
}

// WriteCheckpoint persists the ledger state of the canonical tip.
func (n *Node) WriteCheckpoint() error {
	v := n.engine.View()
	if v.Tip.Hash == n.store.Genesis().Hash {
		return nil
	}
	buf := &bytes.Buffer{}
	if err := v.State.Write(buf); err != nil {
		return fmt.Errorf("serializing checkpoint: %w", err)
	}
	if err := n.db.Write(checkpointKey, &checkpointRecord{Block: v.Tip.Hash, State: buf.Bytes()}); err != nil {
		return fmt.Errorf("writing checkpoint: %w", err)
	}
	log.Debug("checkpoint written at block %s height %d", v.Tip.Hash.Short(), v.Tip.Height)
	return nil
}

// Close flushes the ledger state checkpoint and releases the storage.
func (n *Node) Close() error {
	err := n.WriteCheckpoint()
	n.engine.Close()
	return errors.Join(err, n.closeDB())
}

func (n *Node) closeDB() error {
	if !n.ownsDB {
		return nil
	}
	return n.db.Close()
}

func (n *Node) Engine() *consensus.Engine {
	return n.engine
}

func (n *Node) Pool() *txpool.TxPool {
	return n.pool
}

func (n *Node) Genesis() *Genesis {
	return n.genesis
}

// Run processes messages from the network, evicts expired transactions,
// writes checkpoints and, when configured, proposes blocks until ctx is
// cancelled.
func (n *Node) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	if n.conf.network != nil {
		g.Go(func() error { return n.receiveLoop(ctx) })
	}
	g.Go(func() error { return n.maintenanceLoop(ctx) })
	if n.conf.blockInterval > 0 {
		g.Go(func() error { return n.proposerLoop(ctx) })
	}
	return g.Wait()
}

func (n *Node) receiveLoop(ctx context.Context) error {
	ch := n.conf.network.ReceivedChannel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch:
			if !ok {
				log.Warning("network closed the receive channel")
				return nil
			}
			switch m.Kind {
			case network.KindBlock:
				_, _ = n.ReceiveBlock(ctx, m.Data)
			case network.KindTransaction:
				if _, err := n.ReceiveTransaction(ctx, m.Data); err != nil {
					log.Debug("transaction from %s rejected: %v", m.From, err)
				}
			default:
				log.Warning("unknown message kind %d from %s", m.Kind, m.From)
			}
		}
	}
}

func (n *Node) maintenanceLoop(ctx context.Context) error {
	evict := time.NewTicker(n.conf.evictInterval)
	defer evict.Stop()
	checkpoint := time.NewTicker(n.conf.checkpointInterval)
	defer checkpoint.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-evict.C:
			if cnt := n.engine.EvictExpired(); cnt > 0 {
				log.Debug("evicted %d expired transactions", cnt)
			}
		case <-checkpoint.C:
			if err := n.WriteCheckpoint(); err != nil {
				log.Warning("checkpoint failed: %v", err)
			}
			if gc, ok := n.db.(interface{ RunGC() error }); ok {
				if err := gc.RunGC(); err != nil {
					log.Warning("storage gc failed: %v", err)
				}
			}
		}
	}
}

func (n *Node) proposerLoop(ctx context.Context) error {
	ticker := time.NewTicker(n.conf.blockInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := n.ProposeBlock(ctx); err != nil && ctx.Err() == nil {
				log.Warning("block proposal failed: %v", err)
			}
		}
	}
}

// ProposeBlock assembles a block on the canonical tip, processes it as a
// received block and broadcasts it when accepted. Sealing is bounded by the
// block interval.
func (n *Node) ProposeBlock(ctx context.Context) (*consensus.Result, error) {
	if len(n.conf.proposer) == 0 {
		return nil, errNoProposer
	}
	if n.conf.blockInterval > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.conf.blockInterval)
		defer cancel()
	}
	b, err := n.engine.ProposeBlock(ctx, n.conf.proposer)
	if err != nil {
		return nil, err
	}
	mProposed.Inc(1)
	data, err := b.Bytes()
	if err != nil {
		return nil, err
	}
	return n.ReceiveBlock(ctx, data)
}

// ReceiveBlock decodes a block in canonical encoding and passes it to the
// consensus engine. Accepted blocks, including orphans the block resolved,
// are broadcast. The error is set only when the block was rejected.
func (n *Node) ReceiveBlock(ctx context.Context, data []byte) (*consensus.Result, error) {
	mBlocksReceived.Inc(1)
	b, err := types.DecodeBlock(data)
	if err != nil {
		mMalformed.Inc(1)
		log.Debug("malformed block: %v", err)
		return nil, err
	}
	res := n.engine.OnBlockReceived(b)
	if accepted(res) {
		n.broadcastBlock(ctx, data)
	}
	n.broadcastResolved(ctx, res.Resolved)
	if res.Outcome == consensus.Rejected {
		return res, res.Err
	}
	return res, nil
}

func (n *Node) broadcastResolved(ctx context.Context, resolved []*consensus.Result) {
	for _, r := range resolved {
		if accepted(r) {
			if b, found := n.engine.Block(r.Hash); found {
				if data, err := b.Bytes(); err == nil {
					n.broadcastBlock(ctx, data)
				}
			}
		}
		n.broadcastResolved(ctx, r.Resolved)
	}
}

func accepted(r *consensus.Result) bool {
	return r.Outcome == consensus.AcceptedReorg || r.Outcome == consensus.AcceptedCanonicalUnchanged
}

// ReceiveTransaction decodes a transaction in canonical encoding and
// submits it to the pool.
func (n *Node) ReceiveTransaction(ctx context.Context, data []byte) (crypto.Hash, error) {
	mTxReceived.Inc(1)
	tx, err := types.DecodeTransaction(data)
	if err != nil {
		mTxRejected.Inc(1)
		return crypto.ZeroHash, err
	}
	return n.submit(ctx, tx, data)
}

// SubmitTransaction validates tx against the canonical state, adds it to
// the pool and broadcasts it.
func (n *Node) SubmitTransaction(ctx context.Context, tx *types.Transaction) (crypto.Hash, error) {
	data, err := tx.Bytes()
	if err != nil {
		return crypto.ZeroHash, err
	}
	return n.submit(ctx, tx, data)
}

func (n *Node) submit(ctx context.Context, tx *types.Transaction, data []byte) (crypto.Hash, error) {
	id, err := n.engine.SubmitTransaction(tx)
	if err != nil {
		mTxRejected.Inc(1)
		return id, err
	}
	if net := n.conf.network; net != nil {
		if err := net.BroadcastTransaction(ctx, data); err != nil {
			mBroadcastErr.Inc(1)
			log.Warning("broadcasting transaction %s: %v", id.Short(), err)
		}
	}
	return id, nil
}

func (n *Node) broadcastBlock(ctx context.Context, data []byte) {
	if net := n.conf.network; net != nil {
		if err := net.BroadcastBlock(ctx, data); err != nil {
			mBroadcastErr.Inc(1)
			log.Warning("broadcasting block: %v", err)
		}
	}
}

// GetBalance returns the balance of the account in the canonical tip state.
func (n *Node) GetBalance(addr types.Address) uint64 {
	return n.engine.BalanceOf(addr)
}

// GetAccount returns the balance and next expected nonce of the account.
func (n *Node) GetAccount(addr types.Address) (balance, nextNonce uint64) {
	s := n.engine.State()
	return s.BalanceOf(addr), s.NextNonce(addr)
}

func (n *Node) GetBlock(hash crypto.Hash) (*types.Block, error) {
	b, found := n.engine.Block(hash)
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrBlockNotFound, hash)
	}
	return b, nil
}

// GetBlockByHeight returns the canonical block at height.
func (n *Node) GetBlockByHeight(height uint64) (*types.Block, error) {
	hash, found := n.engine.View().CanonicalAt(height)
	if !found {
		return nil, fmt.Errorf("%w: no canonical block at height %d", ErrBlockNotFound, height)
	}
	return n.GetBlock(hash)
}

func (n *Node) GetTip() *chain.Node {
	return n.engine.Tip()
}
