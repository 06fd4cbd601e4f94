package txpool

import (
	"fmt"
	"time"
)

const (
	DefaultMaxSize   = 10000
	DefaultTTL       = 30 * time.Minute
	DefaultMaxTxSize = 64 * 1024
)

type (
	configuration struct {
		maxSize   int           // maximum number of transactions in the pool
		ttl       time.Duration // time after which a pooled transaction is evicted
		maxTxSize int           // maximum encoded size of a single transaction
	}

	Option func(c *configuration)
)

func WithMaxSize(maxSize int) Option {
	return func(c *configuration) {
		c.maxSize = maxSize
	}
}

func WithTTL(ttl time.Duration) Option {
	return func(c *configuration) {
		c.ttl = ttl
	}
}

func WithMaxTxSize(size int) Option {
	return func(c *configuration) {
		c.maxTxSize = size
	}
}

func loadConfiguration(opts []Option) (*configuration, error) {
	c := &configuration{maxSize: DefaultMaxSize, ttl: DefaultTTL, maxTxSize: DefaultMaxTxSize}
	for _, o := range opts {
		o(c)
	}
	if c.maxSize < 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidMaxSize, c.maxSize)
	}
	if c.ttl <= 0 {
		return nil, fmt.Errorf("tx time to live must be positive, got %s", c.ttl)
	}
	if c.maxTxSize < 1 {
		return nil, fmt.Errorf("max tx size must be positive, got %d", c.maxTxSize)
	}
	return c, nil
}
