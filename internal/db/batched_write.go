package db

import (
	"context"
	"time"

	"go.uber.org/zap"

	"garnet/internal/common"
)

// writeRequest is one mutation waiting for group commit.
type writeRequest struct {
	entry  *common.Entry
	result chan error
}

// submit hands a mutation to the commit loop and waits for durability.
func (d *DB) submit(entry *common.Entry) error {
	if d.closed.Load() {
		return ErrClosed
	}
	req := &writeRequest{entry: entry, result: make(chan error, 1)}
	select {
	case d.writeCh <- req:
	case <-d.runCtx.Done():
		return ErrClosed
	}
	return <-req.result
}

// collectBatch blocks for the first pending write, then keeps the batch
// open for BatchTimeout to pick up concurrent writers. Returns nil on
// shutdown.
func (d *DB) collectBatch(ctx context.Context) []*writeRequest {
	batch := make([]*writeRequest, 0, d.opts.MaxBatchSize)

	select {
	case req := <-d.writeCh:
		batch = append(batch, req)
	case <-ctx.Done():
		return nil
	}

	timer := time.NewTimer(d.opts.BatchTimeout)
	defer timer.Stop()
	for len(batch) < d.opts.MaxBatchSize {
		select {
		case req := <-d.writeCh:
			batch = append(batch, req)
		case <-timer.C:
			return batch
		case <-ctx.Done():
			return batch
		}
	}
	return batch
}

// processBatch commits a batch: freeze if the active memtable is full,
// assign sequence numbers, append everything to the log under a single
// sync, then apply to the memtable. An error means none of the batch was
// applied.
func (d *DB) processBatch(ctx context.Context, batch []*writeRequest) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	// A freeze is skipped while a flush is still pending; the active
	// memtable simply keeps growing until the flush catches up.
	if d.active.ApproxSize() >= d.opts.FlushThresholdBytes && d.sealed == nil {
		if err := d.freezeLocked(); err != nil {
			return err
		}
	}

	entries := make([]*common.Entry, len(batch))
	for i, req := range batch {
		d.nextSeq++
		req.entry.Seq = d.nextSeq
		entries[i] = req.entry
	}

	if err := d.wal.Append(ctx, entries); err != nil {
		return err
	}

	for _, entry := range entries {
		switch entry.Type {
		case common.EntryTypePut:
			d.active.Put(entry.Seq, entry.Key, entry.Value)
		case common.EntryTypeDelete:
			d.active.Delete(entry.Seq, entry.Key)
		}
	}
	return nil
}

// groupCommitLoop is the single writer. It batches pending mutations,
// commits each batch with one log sync, and flushes sealed memtables
// between batches.
func (d *DB) groupCommitLoop(ctx context.Context) {
	for {
		batch := d.collectBatch(ctx)
		if batch == nil {
			d.drainWrites()
			return
		}

		err := d.processBatch(ctx, batch)
		for _, req := range batch {
			req.result <- err
		}

		d.mu.RLock()
		pending := d.sealed != nil
		d.mu.RUnlock()
		if pending {
			if err := d.flushSealed(ctx); err != nil && ctx.Err() == nil {
				d.logger.Error("flush failed", zap.Error(err))
			}
		}
	}
}

// drainWrites fails every queued request after shutdown.
func (d *DB) drainWrites() {
	for {
		select {
		case req := <-d.writeCh:
			req.result <- ErrClosed
		default:
			return
		}
	}
}
