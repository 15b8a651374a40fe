package db

import (
	"time"

	"go.uber.org/zap"

	"garnet/internal/compaction"
	"garnet/internal/memtable"
)

type Options struct {
	// FlushThresholdBytes freezes the active memtable once its
	// approximate size crosses this value.
	FlushThresholdBytes uint64

	// MaxLevels is the number of segment levels, L0 included.
	MaxLevels int

	// MaxBatchSize caps how many writes commit under one WAL sync.
	MaxBatchSize int

	// BatchTimeout is how long the commit loop waits for stragglers
	// after the first write of a batch arrives.
	BatchTimeout time.Duration

	// Logger receives structural events (flushes, compactions,
	// recovery). Defaults to a nop logger.
	Logger *zap.Logger

	// Policy drives background compaction.
	Policy compaction.Policy

	// NewMemtable constructs the mutable buffer implementation.
	NewMemtable func() memtable.Memtable
}

func DefaultOptions() Options {
	return Options{
		FlushThresholdBytes: 4 << 20,
		MaxLevels:           4,
		MaxBatchSize:        64,
		BatchTimeout:        2 * time.Millisecond,
		Logger:              zap.NewNop(),
		Policy:              compaction.DefaultLeveledPolicy(),
		NewMemtable:         func() memtable.Memtable { return memtable.NewSkipListMemtable() },
	}
}

type Option func(*Options)

func WithFlushThresholdBytes(n uint64) Option {
	return func(o *Options) {
		o.FlushThresholdBytes = n
	}
}

func WithMaxLevels(n int) Option {
	return func(o *Options) {
		o.MaxLevels = n
	}
}

func WithMaxBatchSize(n int) Option {
	return func(o *Options) {
		o.MaxBatchSize = n
	}
}

func WithBatchTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.BatchTimeout = d
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

func WithCompactionPolicy(policy compaction.Policy) Option {
	return func(o *Options) {
		o.Policy = policy
	}
}

func WithMemtable(constructor func() memtable.Memtable) Option {
	return func(o *Options) {
		o.NewMemtable = constructor
	}
}
