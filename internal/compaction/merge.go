package compaction

import (
	"bytes"
	"container/heap"

	"garnet/internal/common"
)

// mergeItem is one head-of-stream entry inside the merge heap.
type mergeItem struct {
	entry *common.Entry
	src   common.EntryIterator
	order int
}

type mergeHeap []*mergeItem

func (h mergeHeap) Len() int { return len(h) }

func (h mergeHeap) Less(i, j int) bool {
	if cmp := bytes.Compare(h[i].entry.Key, h[j].entry.Key); cmp != 0 {
		return cmp < 0
	}
	// Equal keys: highest sequence number first, so the survivor for a
	// key is always the first one popped.
	if h[i].entry.Seq != h[j].entry.Seq {
		return h[i].entry.Seq > h[j].entry.Seq
	}
	return h[i].order < h[j].order
}

func (h mergeHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *mergeHeap) Push(x interface{}) { *h = append(*h, x.(*mergeItem)) }

func (h *mergeHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// mergeIterator performs a k-way merge over ascending entry streams,
// deduplicating by key with the highest sequence number winning.
type mergeIterator struct {
	h              mergeHeap
	lastKey        []byte
	haveLast       bool
	dropTombstones bool
	initialized    bool
	sources        []common.EntryIterator
	err            error
}

// NewMergeIterator merges ascending iterators into a single ascending,
// duplicate-free stream. With dropTombstones set, delete markers are
// filtered out of the result; otherwise they propagate forward.
func NewMergeIterator(sources []common.EntryIterator, dropTombstones bool) common.EntryIterator {
	return &mergeIterator{
		sources:        sources,
		dropTombstones: dropTombstones,
	}
}

func (it *mergeIterator) init() error {
	it.initialized = true
	for i, src := range it.sources {
		entry, err := src.Next()
		if err != nil {
			return err
		}
		if entry != nil {
			heap.Push(&it.h, &mergeItem{entry: entry, src: src, order: i})
		}
	}
	return nil
}

func (it *mergeIterator) Next() (*common.Entry, error) {
	if it.err != nil {
		return nil, it.err
	}
	if !it.initialized {
		if err := it.init(); err != nil {
			it.err = err
			return nil, err
		}
	}

	for it.h.Len() > 0 {
		item := heap.Pop(&it.h).(*mergeItem)

		next, err := item.src.Next()
		if err != nil {
			it.err = err
			return nil, err
		}
		if next != nil {
			heap.Push(&it.h, &mergeItem{entry: next, src: item.src, order: item.order})
		}

		// Older record for a key already emitted (or skipped).
		if it.haveLast && bytes.Equal(item.entry.Key, it.lastKey) {
			continue
		}
		it.lastKey = bytes.Clone(item.entry.Key)
		it.haveLast = true

		if it.dropTombstones && item.entry.Type == common.EntryTypeDelete {
			continue
		}
		return item.entry, nil
	}
	return nil, nil
}
