package common

import "bytes"

// SliceIterator yields a fixed slice of entries in order.
type SliceIterator struct {
	entries []*Entry
	index   int
}

func NewSliceIterator(entries []*Entry) *SliceIterator {
	return &SliceIterator{entries: entries}
}

func (it *SliceIterator) Next() (*Entry, error) {
	if it.index >= len(it.entries) {
		return nil, nil
	}
	entry := it.entries[it.index]
	it.index++
	return entry, nil
}

// boundedIterator trims an ascending iterator to [lo, hi]. A nil bound is
// unbounded on that side.
type boundedIterator struct {
	inner  EntryIterator
	lo, hi []byte
	done   bool
}

// Bounded restricts an ascending iterator to keys within [lo, hi] inclusive.
func Bounded(inner EntryIterator, lo, hi []byte) EntryIterator {
	return &boundedIterator{inner: inner, lo: lo, hi: hi}
}

func (it *boundedIterator) Next() (*Entry, error) {
	if it.done {
		return nil, nil
	}
	for {
		entry, err := it.inner.Next()
		if err != nil {
			return nil, err
		}
		if entry == nil {
			it.done = true
			return nil, nil
		}
		if it.lo != nil && bytes.Compare(entry.Key, it.lo) < 0 {
			continue
		}
		if it.hi != nil && bytes.Compare(entry.Key, it.hi) > 0 {
			// Input is ascending, nothing past hi can qualify.
			it.done = true
			return nil, nil
		}
		return entry, nil
	}
}
