package db

import (
	"bytes"
	"io"

	"garnet/internal/common"
	"garnet/internal/compaction"
	"garnet/internal/manifest"
)

// Iterator yields live key-value pairs in ascending key order. Tombstones
// and shadowed versions are filtered out. The underlying segments stay
// pinned until the iterator is exhausted or closed.
type Iterator struct {
	inner   common.EntryIterator
	sources []common.EntryIterator
	snap    *manifest.Snapshot
	done    bool
	err     error
}

// Next returns the next pair, or (nil, nil, nil) at the end of the range.
func (it *Iterator) Next() (key, value []byte, err error) {
	if it.err != nil {
		return nil, nil, it.err
	}
	if it.done {
		return nil, nil, nil
	}
	entry, err := it.inner.Next()
	if err != nil {
		it.err = err
		it.release()
		return nil, nil, err
	}
	if entry == nil {
		it.release()
		return nil, nil, nil
	}
	return entry.Key, entry.Value, nil
}

// Close releases the iterator's pins early. Safe to call repeatedly.
func (it *Iterator) Close() error {
	it.release()
	return nil
}

func (it *Iterator) release() {
	if it.done {
		return
	}
	it.done = true
	for _, src := range it.sources {
		if closer, ok := src.(io.Closer); ok {
			closer.Close()
		}
	}
	it.snap.Release()
}

// Range returns an iterator over live keys in [lo, hi]. Nil bounds are
// unbounded on that side. The result is a point-in-time view: writes
// after the call do not appear.
func (d *DB) Range(lo, hi []byte) (*Iterator, error) {
	if d.closed.Load() {
		return nil, ErrClosed
	}

	// Memtables are captured before the manifest snapshot: a flush
	// racing between the two duplicates records, which the merge
	// deduplicates, while the opposite order could lose them.
	view := d.tables.Load()
	sources := []common.EntryIterator{view.active.Iterator()}
	if view.sealed != nil {
		sources = append(sources, view.sealed.Iterator())
	}

	snap := d.manifest.Acquire()
	for level := 0; level < len(snap.Version.Levels); level++ {
		for _, fm := range snap.Version.Level(level) {
			if !overlaps(fm, lo, hi) {
				continue
			}
			table, err := snap.Table(fm)
			if err != nil {
				snap.Release()
				return nil, err
			}
			sources = append(sources, table.RangeIterator(lo, hi))
		}
	}

	merged := compaction.NewMergeIterator(sources, true)
	return &Iterator{
		inner:   common.Bounded(merged, lo, hi),
		sources: sources,
		snap:    snap,
	}, nil
}

func overlaps(fm manifest.FileMetadata, lo, hi []byte) bool {
	if fm.SmallestKey == nil {
		return false
	}
	if hi != nil && bytes.Compare(fm.SmallestKey, hi) > 0 {
		return false
	}
	if lo != nil && bytes.Compare(fm.LargestKey, lo) < 0 {
		return false
	}
	return true
}

// Min returns the smallest live key, or nil when the database is empty.
func (d *DB) Min() ([]byte, error) {
	it, err := d.Range(nil, nil)
	if err != nil {
		return nil, err
	}
	defer it.Close()
	key, _, err := it.Next()
	return key, err
}

// Max returns the largest live key, or nil when the database is empty.
func (d *DB) Max() ([]byte, error) {
	it, err := d.Range(nil, nil)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var max []byte
	for {
		key, _, err := it.Next()
		if err != nil {
			return nil, err
		}
		if key == nil {
			return max, nil
		}
		max = key
	}
}

// Len returns the exact number of live keys. It walks the whole tree;
// use LenHint when an estimate is enough.
func (d *DB) Len() (int, error) {
	it, err := d.Range(nil, nil)
	if err != nil {
		return 0, err
	}
	defer it.Close()

	n := 0
	for {
		key, _, err := it.Next()
		if err != nil {
			return 0, err
		}
		if key == nil {
			return n, nil
		}
		n++
	}
}

// LenHint cheaply over-estimates the number of live keys: shadowed
// versions and tombstones are counted until compaction removes them.
func (d *DB) LenHint() int {
	view := d.tables.Load()
	n := view.active.Len()
	if view.sealed != nil {
		n += view.sealed.Len()
	}

	for _, files := range d.manifest.Current().Levels {
		for _, fm := range files {
			n += int(fm.EntryCount)
		}
	}
	return n
}
