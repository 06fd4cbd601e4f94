package consensus

import (
	"errors"
	"time"

	"github.com/alphabill-org/ledgercore/internal/crypto"
	"github.com/alphabill-org/ledgercore/internal/state"
	"github.com/alphabill-org/ledgercore/internal/txpool"
)

const (
	DefaultMaxClockDrift     = 15 * time.Second
	DefaultOrphanTTL         = 10 * time.Minute
	DefaultOrphanCapacity    = 256
	DefaultSnapshotCacheSize = 64
	DefaultMaxBlockTxs       = 1000
	DefaultMaxBlockSize      = 1 << 20
)

type (
	configuration struct {
		maxClockDrift     time.Duration
		orphanTTL         time.Duration
		orphanCapacity    int
		snapshotCacheSize int
		maxBlockTxs       int
		maxBlockSize      int
		clock             func() time.Time
		pool              *txpool.TxPool
		checkpoint        *checkpoint
	}

	checkpoint struct {
		block crypto.Hash
		state *state.Snapshot
	}

	Option func(c *configuration)
)

// WithMaxClockDrift sets how far in the future block timestamps may be.
func WithMaxClockDrift(d time.Duration) Option {
	return func(c *configuration) {
		c.maxClockDrift = d
	}
}

// WithOrphanTTL sets how long a block with unknown parent waits for it.
func WithOrphanTTL(ttl time.Duration) Option {
	return func(c *configuration) {
		c.orphanTTL = ttl
	}
}

func WithOrphanCapacity(n int) Option {
	return func(c *configuration) {
		c.orphanCapacity = n
	}
}

// WithSnapshotCacheSize sets the number of ledger snapshots kept for blocks
// off the canonical tip.
func WithSnapshotCacheSize(n int) Option {
	return func(c *configuration) {
		c.snapshotCacheSize = n
	}
}

func WithMaxBlockTxs(n int) Option {
	return func(c *configuration) {
		c.maxBlockTxs = n
	}
}

func WithMaxBlockSize(n int) Option {
	return func(c *configuration) {
		c.maxBlockSize = n
	}
}

func WithClock(clock func() time.Time) Option {
	return func(c *configuration) {
		c.clock = clock
	}
}

// WithPool connects the transaction pool the engine reconciles on tip change
// and proposes blocks from.
func WithPool(pool *txpool.TxPool) Option {
	return func(c *configuration) {
		c.pool = pool
	}
}

// WithCheckpoint provides the ledger state of a stored block, so the state
// does not have to be replayed from genesis.
func WithCheckpoint(block crypto.Hash, s *state.Snapshot) Option {
	return func(c *configuration) {
		c.checkpoint = &checkpoint{block: block, state: s}
	}
}

func loadConfiguration(opts []Option) (*configuration, error) {
	c := &configuration{
		maxClockDrift:     DefaultMaxClockDrift,
		orphanTTL:         DefaultOrphanTTL,
		orphanCapacity:    DefaultOrphanCapacity,
		snapshotCacheSize: DefaultSnapshotCacheSize,
		maxBlockTxs:       DefaultMaxBlockTxs,
		maxBlockSize:      DefaultMaxBlockSize,
		clock:             time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	switch {
	case c.maxClockDrift < 0:
		return nil, errors.New("max clock drift must not be negative")
	case c.orphanTTL <= 0:
		return nil, errors.New("orphan ttl must be positive")
	case c.orphanCapacity < 1:
		return nil, errors.New("orphan capacity must be at least 1")
	case c.snapshotCacheSize < 1:
		return nil, errors.New("snapshot cache size must be at least 1")
	case c.maxBlockTxs < 1:
		return nil, errors.New("max block transactions must be at least 1")
	case c.maxBlockSize < 1:
		return nil, errors.New("max block size must be at least 1")
	case c.clock == nil:
		return nil, errors.New("clock is nil")
	case c.checkpoint != nil && c.checkpoint.state == nil:
		return nil, errors.New("checkpoint state is nil")
	}
	return c, nil
}
