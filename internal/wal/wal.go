package wal

import (
	"context"

	"garnet/internal/common"
)

// WAL is the durable append-only record of mutations. An Append that
// returns an error means the batch must be treated as not applied; an
// Append that returns nil means the batch survives a crash.
type WAL interface {
	Append(ctx context.Context, batch []*common.Entry) error
	Iterator(ctx context.Context) (Iterator, error)
	Path() string
	Close() error
}

// Iterator walks entries recovered from the log in write order.
//
// A torn final record (the write that was in flight during an unclean
// shutdown) terminates the stream cleanly. Corruption anywhere earlier
// surfaces as common.ErrCorrupt.
type Iterator interface {
	Next() (*common.Entry, error)
	Close() error
}
