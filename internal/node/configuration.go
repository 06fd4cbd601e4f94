package node

import (
	"errors"
	"fmt"
	"time"

	"github.com/alphabill-org/ledgercore/internal/consensus"
	"github.com/alphabill-org/ledgercore/internal/keyvaluedb"
	"github.com/alphabill-org/ledgercore/internal/txpool"
)

const (
	StorageBolt   = "bolt"
	StorageBadger = "badger"
	StorageMemory = "memory"

	DefaultEvictInterval      = 10 * time.Second
	DefaultCheckpointInterval = time.Minute
)

type (
	configuration struct {
		storage            string
		dataDir            string
		db                 keyvaluedb.KeyValueDB
		network            Network
		proposer           []byte
		blockInterval      time.Duration
		evictInterval      time.Duration
		checkpointInterval time.Duration
		clock              func() time.Time
		poolOptions        []txpool.Option
		consensusOptions   []consensus.Option
	}

	Option func(c *configuration)
)

// WithStorage selects the storage engine and the directory of its files.
func WithStorage(engine, dataDir string) Option {
	return func(c *configuration) {
		c.storage = engine
		c.dataDir = dataDir
	}
}

// WithDB makes the node use an already opened database. The node does not
// close it.
func WithDB(db keyvaluedb.KeyValueDB) Option {
	return func(c *configuration) {
		c.db = db
	}
}

func WithNetwork(net Network) Option {
	return func(c *configuration) {
		c.network = net
	}
}

// WithBlockProduction makes the node propose a block every interval, the
// proposer identity is written into the block header. With zero interval
// blocks are proposed only by calling ProposeBlock.
func WithBlockProduction(proposer []byte, interval time.Duration) Option {
	return func(c *configuration) {
		c.proposer = proposer
		c.blockInterval = interval
	}
}

func WithEvictInterval(d time.Duration) Option {
	return func(c *configuration) {
		c.evictInterval = d
	}
}

func WithCheckpointInterval(d time.Duration) Option {
	return func(c *configuration) {
		c.checkpointInterval = d
	}
}

func WithClock(clock func() time.Time) Option {
	return func(c *configuration) {
		c.clock = clock
	}
}

func WithPoolOptions(opts ...txpool.Option) Option {
	return func(c *configuration) {
		c.poolOptions = append(c.poolOptions, opts...)
	}
}

func WithConsensusOptions(opts ...consensus.Option) Option {
	return func(c *configuration) {
		c.consensusOptions = append(c.consensusOptions, opts...)
	}
}

func loadConfiguration(opts []Option) (*configuration, error) {
	c := &configuration{
		storage:            StorageMemory,
		evictInterval:      DefaultEvictInterval,
		checkpointInterval: DefaultCheckpointInterval,
		clock:              time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	switch {
	case c.db == nil && c.storage != StorageMemory && c.dataDir == "":
		return nil, fmt.Errorf("%s storage requires a data directory", c.storage)
	case c.blockInterval < 0:
		return nil, errors.New("block interval must not be negative")
	case c.blockInterval > 0 && len(c.proposer) == 0:
		return nil, errors.New("block production requires proposer identity")
	case c.evictInterval <= 0:
		return nil, errors.New("evict interval must be positive")
	case c.checkpointInterval <= 0:
		return nil, errors.New("checkpoint interval must be positive")
	case c.clock == nil:
		return nil, errors.New("clock is nil")
	}
	return c, nil
}
