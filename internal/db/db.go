// Package db assembles the log-structured tree: a write-ahead log and
// mutable memtable in front of immutable sorted segments catalogued by a
// versioned manifest, with background flushing and compaction.
package db

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"garnet/internal/common"
	"garnet/internal/compaction"
	"garnet/internal/manifest"
	"garnet/internal/memtable"
	"garnet/internal/sstable"
	"garnet/internal/wal"
)

var (
	ErrNotFound = errors.New("key not found")
	ErrClosed   = errors.New("db is closed")
)

type DB struct {
	mu     sync.RWMutex
	opts   Options
	paths  *common.PathManager
	logger *zap.Logger

	manifest  *manifest.Manifest
	compactor *compaction.Compactor

	// Write-side state, guarded by mu. All mutations flow through the
	// group commit loop, so there is exactly one writer.
	nextSeq      uint64
	active       memtable.Memtable
	sealed       memtable.Memtable
	sealedSeq    uint64
	sealedWALNo  common.FileNo
	currentWALNo common.FileNo
	wal          wal.WAL

	// tables is the read-side snapshot of the memtable pair, republished
	// on freeze, flush, and clear. Readers load it instead of taking mu,
	// so a point read never waits out the commit loop's log sync.
	tables atomic.Pointer[memtableView]

	// flushMu serializes flushSealed; compactMu serializes compaction
	// cycles against Clear.
	flushMu   sync.Mutex
	compactMu sync.Mutex

	writeCh   chan *writeRequest
	compactCh chan struct{}
	group     *errgroup.Group
	runCtx    context.Context
	cancel    context.CancelFunc
	closed    atomic.Bool
}

// memtableView is an immutable active/sealed pair; sealed is nil when no
// flush is pending. Records migrate between the two tables only by the
// whole table changing role, so a loaded view stays internally consistent.
type memtableView struct {
	active memtable.Memtable
	sealed memtable.Memtable
}

// publishTablesLocked republishes the memtable pair for readers. Callers
// hold mu.
func (d *DB) publishTablesLocked() {
	d.tables.Store(&memtableView{active: d.active, sealed: d.sealed})
}

// Open loads or creates a database rooted at path. Recovery replays any
// log entries newer than the last committed segment and immediately
// flushes them, so an opened database always starts with an empty
// memtable and a single fresh log.
func Open(path string, optFns ...Option) (*DB, error) {
	opts := DefaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	paths := common.NewPathManager(path)
	if err := os.MkdirAll(paths.WALDir(), 0o755); err != nil {
		return nil, err
	}
	for level := 0; level < opts.MaxLevels; level++ {
		if err := os.MkdirAll(paths.LevelDir(level), 0o755); err != nil {
			return nil, err
		}
	}

	m := manifest.New(paths, opts.MaxLevels)
	exists, err := m.Load()
	if err != nil {
		return nil, err
	}

	d := &DB{
		opts:      opts,
		paths:     paths,
		logger:    opts.Logger,
		manifest:  m,
		active:    opts.NewMemtable(),
		writeCh:   make(chan *writeRequest, 128),
		compactCh: make(chan struct{}, 1),
	}
	d.compactor = compaction.New(opts.Policy, m, paths, opts.Logger)
	d.publishTablesLocked()

	if exists {
		if err := d.recover(); err != nil {
			return nil, err
		}
	} else {
		walNo := m.AllocateWALNo()
		log, err := wal.Create(paths.WALPath(walNo))
		if err != nil {
			return nil, err
		}
		if err := m.Commit(&manifest.Edit{CurrentWAL: &walNo}); err != nil {
			log.Close()
			return nil, err
		}
		d.wal = log
		d.currentWALNo = walNo
	}

	ctx, cancel := context.WithCancel(context.Background())
	group, ctx := errgroup.WithContext(ctx)
	d.group = group
	d.runCtx = ctx
	d.cancel = cancel
	group.Go(func() error {
		d.groupCommitLoop(ctx)
		return nil
	})
	group.Go(func() error {
		d.compactionLoop(ctx)
		return nil
	})
	return d, nil
}

// recover replays log entries newer than the manifest's durable floor and
// flushes the result straight to L0, leaving one fresh log behind.
func (d *DB) recover() error {
	v := d.manifest.Current()

	mt := d.opts.NewMemtable()
	maxSeq, err := d.replayLogs(v, mt)
	if err != nil {
		return err
	}

	walNo := d.manifest.AllocateWALNo()
	log, err := wal.Create(d.paths.WALPath(walNo))
	if err != nil {
		return err
	}

	edit := &manifest.Edit{CurrentWAL: &walNo}
	if maxSeq > v.LastSeq {
		edit.LastSeq = &maxSeq
	}
	if mt.Len() > 0 {
		fileNo := d.manifest.AllocateFileNo()
		segPath := d.paths.SSTablePath(0, fileNo)
		result, err := sstable.Build(segPath, mt.Iterator())
		if err != nil {
			log.Close()
			return err
		}
		edit.Add = map[int][]manifest.FileMetadata{0: {{
			FileNo:      fileNo,
			SmallestKey: result.SmallestKey,
			LargestKey:  result.LargestKey,
			EntryCount:  result.EntryCount,
			Size:        result.BytesWritten,
		}}}
	}
	if err := d.manifest.Commit(edit); err != nil {
		log.Close()
		return err
	}

	d.removeLogsExcept(walNo)
	d.wal = log
	d.currentWALNo = walNo
	d.nextSeq = d.manifest.Current().LastSeq

	d.logger.Info("recovery complete",
		zap.Uint64("last_seq", d.nextSeq),
		zap.Int("replayed", mt.Len()),
	)
	return nil
}

// replayLogs applies entries with sequence numbers above the durable
// floor from every log at or after the manifest's current one. Multiple
// logs exist only after a crash between a freeze and its flush commit.
func (d *DB) replayLogs(v *manifest.Version, mt memtable.Memtable) (uint64, error) {
	logNos, err := d.listLogs()
	if err != nil {
		return 0, err
	}

	maxSeq := v.LastSeq
	for _, logNo := range logNos {
		if logNo < v.CurrentWAL {
			continue
		}
		seq, err := d.replayLog(logNo, v.LastSeq, mt)
		if err != nil {
			return 0, fmt.Errorf("db: replay %s: %w", d.paths.WALPath(logNo), err)
		}
		if seq > maxSeq {
			maxSeq = seq
		}
	}
	return maxSeq, nil
}

func (d *DB) replayLog(logNo common.FileNo, floor uint64, mt memtable.Memtable) (uint64, error) {
	log, err := wal.Open(d.paths.WALPath(logNo))
	if err != nil {
		return 0, err
	}
	defer log.Close()

	iter, err := log.Iterator(context.Background())
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	var maxSeq uint64
	for {
		entry, err := iter.Next()
		if err != nil {
			return 0, err
		}
		if entry == nil {
			return maxSeq, nil
		}
		if entry.Seq > maxSeq {
			maxSeq = entry.Seq
		}
		if entry.Seq <= floor {
			continue
		}
		switch entry.Type {
		case common.EntryTypePut:
			mt.Put(entry.Seq, entry.Key, entry.Value)
		case common.EntryTypeDelete:
			mt.Delete(entry.Seq, entry.Key)
		}
	}
}

// listLogs returns the numbers of every log file on disk, ascending.
func (d *DB) listLogs() ([]common.FileNo, error) {
	dirEntries, err := os.ReadDir(d.paths.WALDir())
	if err != nil {
		return nil, err
	}
	var logNos []common.FileNo
	for _, de := range dirEntries {
		name, ok := strings.CutSuffix(de.Name(), ".log")
		if !ok {
			continue
		}
		n, err := strconv.ParseUint(name, 10, 64)
		if err != nil {
			continue
		}
		logNos = append(logNos, common.FileNo(n))
	}
	sort.Slice(logNos, func(i, j int) bool { return logNos[i] < logNos[j] })
	return logNos, nil
}

func (d *DB) removeLogsExcept(keep common.FileNo) {
	logNos, err := d.listLogs()
	if err != nil {
		return
	}
	for _, logNo := range logNos {
		if logNo != keep {
			os.Remove(d.paths.WALPath(logNo))
		}
	}
}

// Put stores a key-value pair. It returns once the write is durable in
// the log.
func (d *DB) Put(key, value []byte) error {
	if len(key) == 0 {
		return errors.New("db: key must be non-empty")
	}
	return d.submit(&common.Entry{
		Type:  common.EntryTypePut,
		Key:   bytes.Clone(key),
		Value: bytes.Clone(value),
	})
}

// Delete removes a key. Deleting an absent key is not an error.
func (d *DB) Delete(key []byte) error {
	if len(key) == 0 {
		return errors.New("db: key must be non-empty")
	}
	return d.submit(&common.Entry{
		Type: common.EntryTypeDelete,
		Key:  bytes.Clone(key),
	})
}

// Get returns the value for key, or ErrNotFound. The memtables hold the
// newest records, so a hit there is definitive. On disk, neither level
// depth nor slice order encodes recency once compaction has run: tiered
// merges leave overlapping ranges within a level and can push a newer
// record below an older one, so every covering segment competes and the
// highest sequence number wins.
func (d *DB) Get(key []byte) ([]byte, error) {
	if d.closed.Load() {
		return nil, ErrClosed
	}

	view := d.tables.Load()
	if entry, ok := view.active.Get(key); ok {
		return liveValue(entry)
	}
	if view.sealed != nil {
		if entry, ok := view.sealed.Get(key); ok {
			return liveValue(entry)
		}
	}

	snap := d.manifest.Acquire()
	defer snap.Release()

	var best *common.Entry
	for level := 0; level < len(snap.Version.Levels); level++ {
		for _, fm := range snap.Version.Level(level) {
			if !covers(fm, key) {
				continue
			}
			entry, err := d.tableGet(snap, fm, key)
			if errors.Is(err, sstable.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			if best == nil || entry.Seq > best.Seq {
				best = entry
			}
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	return liveValue(best)
}

// covers reports whether the segment's key range contains key.
func covers(fm manifest.FileMetadata, key []byte) bool {
	if fm.SmallestKey == nil {
		return false
	}
	return bytes.Compare(fm.SmallestKey, key) <= 0 &&
		bytes.Compare(key, fm.LargestKey) <= 0
}

func (d *DB) tableGet(snap *manifest.Snapshot, fm manifest.FileMetadata, key []byte) (*common.Entry, error) {
	table, err := snap.Table(fm)
	if err != nil {
		return nil, err
	}
	return table.Get(key)
}

// liveValue maps a found record to its public result: a tombstone reads
// as absence.
func liveValue(entry *common.Entry) ([]byte, error) {
	if entry.Type == common.EntryTypeDelete {
		return nil, ErrNotFound
	}
	return bytes.Clone(entry.Value), nil
}

// Flush freezes the active memtable and writes it out as an L0 segment,
// returning once the segment is committed and the old log retired.
func (d *DB) Flush() error {
	if d.closed.Load() {
		return ErrClosed
	}

	for {
		d.mu.Lock()
		if d.sealed == nil {
			if d.active.Len() == 0 {
				d.mu.Unlock()
				return nil
			}
			if err := d.freezeLocked(); err != nil {
				d.mu.Unlock()
				return err
			}
		}
		d.mu.Unlock()

		if err := d.flushSealed(context.Background()); err != nil {
			return err
		}
	}
}

// freezeLocked seals the active memtable and rotates the log. Callers
// hold mu and must have checked that no sealed memtable is pending.
func (d *DB) freezeLocked() error {
	walNo := d.manifest.AllocateWALNo()
	log, err := wal.Create(d.paths.WALPath(walNo))
	if err != nil {
		return err
	}
	d.wal.Close()

	d.sealed = d.active
	d.sealedSeq = d.nextSeq
	d.sealedWALNo = d.currentWALNo
	d.active = d.opts.NewMemtable()
	d.wal = log
	d.currentWALNo = walNo
	d.publishTablesLocked()

	d.logger.Debug("memtable frozen",
		zap.Uint64("seq", d.sealedSeq),
		zap.Int("entries", d.sealed.Len()),
	)
	return nil
}

// flushSealed writes the sealed memtable to an L0 segment and commits it
// together with the log rotation, then deletes the retired log. A no-op
// when nothing is sealed.
func (d *DB) flushSealed(ctx context.Context) error {
	d.flushMu.Lock()
	defer d.flushMu.Unlock()

	d.mu.RLock()
	sealed := d.sealed
	seq := d.sealedSeq
	oldWALNo := d.sealedWALNo
	currentWALNo := d.currentWALNo
	d.mu.RUnlock()
	if sealed == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	edit := &manifest.Edit{CurrentWAL: &currentWALNo, LastSeq: &seq}
	var builtPath string
	if sealed.Len() > 0 {
		fileNo := d.manifest.AllocateFileNo()
		builtPath = d.paths.SSTablePath(0, fileNo)
		result, err := sstable.Build(builtPath, sealed.Iterator())
		if err != nil {
			return err
		}
		edit.Add = map[int][]manifest.FileMetadata{0: {{
			FileNo:      fileNo,
			SmallestKey: result.SmallestKey,
			LargestKey:  result.LargestKey,
			EntryCount:  result.EntryCount,
			Size:        result.BytesWritten,
		}}}
	}

	if err := d.manifest.Commit(edit); err != nil {
		if builtPath != "" {
			os.Remove(builtPath)
		}
		return err
	}

	d.mu.Lock()
	d.sealed = nil
	d.publishTablesLocked()
	d.mu.Unlock()
	os.Remove(d.paths.WALPath(oldWALNo))

	d.logger.Info("memtable flushed",
		zap.Uint64("last_seq", seq),
		zap.Int("entries", sealed.Len()),
	)
	d.triggerCompaction()
	return nil
}

// Compact runs at most one compaction cycle synchronously. It returns
// false when the policy found nothing to do.
func (d *DB) Compact() (bool, error) {
	if d.closed.Load() {
		return false, ErrClosed
	}
	d.compactMu.Lock()
	defer d.compactMu.Unlock()
	return d.compactor.RunOnce(context.Background())
}

func (d *DB) triggerCompaction() {
	select {
	case d.compactCh <- struct{}{}:
	default:
	}
}

// compactionLoop drains compaction triggers, running cycles until the
// policy reports a balanced tree.
func (d *DB) compactionLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.compactCh:
		}
		for {
			d.compactMu.Lock()
			ran, err := d.compactor.RunOnce(ctx)
			d.compactMu.Unlock()
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					d.logger.Error("compaction cycle failed", zap.Error(err))
				}
				break
			}
			if !ran {
				break
			}
		}
	}
}

// Clear removes every record, leaving an empty database behind. Pinned
// snapshots keep reading their pre-clear state.
func (d *DB) Clear() error {
	if d.closed.Load() {
		return ErrClosed
	}

	// Exclude in-flight compactions and flushes: either would re-add
	// segments derived from the data being dropped.
	d.compactMu.Lock()
	defer d.compactMu.Unlock()
	d.flushMu.Lock()
	defer d.flushMu.Unlock()
	d.mu.Lock()
	defer d.mu.Unlock()

	walNo := d.manifest.AllocateWALNo()
	log, err := wal.Create(d.paths.WALPath(walNo))
	if err != nil {
		return err
	}

	edit := &manifest.Edit{
		CurrentWAL: &walNo,
		LastSeq:    &d.nextSeq,
		Delete:     make(map[int][]common.FileNo),
	}
	v := d.manifest.Current()
	for level, files := range v.Levels {
		for _, fm := range files {
			edit.Delete[level] = append(edit.Delete[level], fm.FileNo)
		}
	}
	if err := d.manifest.Commit(edit); err != nil {
		log.Close()
		os.Remove(d.paths.WALPath(walNo))
		return err
	}

	d.wal.Close()
	d.wal = log
	oldWALNo := d.currentWALNo
	d.currentWALNo = walNo
	d.active = d.opts.NewMemtable()
	d.sealed = nil
	d.publishTablesLocked()
	os.Remove(d.paths.WALPath(oldWALNo))
	if d.sealedWALNo != oldWALNo {
		os.Remove(d.paths.WALPath(d.sealedWALNo))
	}

	d.logger.Info("database cleared", zap.Uint64("last_seq", d.nextSeq))
	return nil
}

// Manifest exposes the segment catalog for inspection tooling.
func (d *DB) Manifest() *manifest.Manifest {
	return d.manifest
}

// Close stops the background workers, flushes outstanding writes, and
// releases every file handle. Further operations return ErrClosed.
func (d *DB) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	d.cancel()
	d.group.Wait()
	d.drainWrites()

	var firstErr error
	for {
		d.mu.Lock()
		if d.sealed == nil {
			if d.active.Len() == 0 {
				d.mu.Unlock()
				break
			}
			if err := d.freezeLocked(); err != nil {
				d.mu.Unlock()
				firstErr = err
				break
			}
		}
		d.mu.Unlock()
		if err := d.flushSealed(context.Background()); err != nil {
			firstErr = err
			break
		}
	}

	if err := d.wal.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := d.manifest.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
