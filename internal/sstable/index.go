package sstable

import (
	"bytes"
	"io"
	"sort"

	"garnet/internal/common"
)

// IndexEntry maps the first key of a data block to its file offset.
type IndexEntry struct {
	BlockOffset uint64
	Key         []byte
}

// Index is the sparse index block: one entry per data block, plus the
// largest key in the segment so Bounds is available without a scan.
type Index struct {
	Entries    []IndexEntry
	LargestKey []byte
}

// FindBlock returns the position of the last block whose first key is
// <= key, which is the only block that can contain key. Returns false if
// key sorts before the first block.
func (ix *Index) FindBlock(key []byte) (int, bool) {
	n := sort.Search(len(ix.Entries), func(i int) bool {
		return bytes.Compare(ix.Entries[i].Key, key) > 0
	})
	if n == 0 {
		return 0, false
	}
	return n - 1, true
}

// WriteIndex serializes the index block. Returns bytes written.
//
// Layout: count(4) + per entry {blockOffset(8), keyLen(4), key} +
// largestKeyLen(4) + largestKey.
func WriteIndex(w io.Writer, ix *Index) (int, error) {
	total, err := common.WriteUint32(w, uint32(len(ix.Entries)))
	if err != nil {
		return total, err
	}

	for i := range ix.Entries {
		e := &ix.Entries[i]
		n, err := common.WriteUint64(w, e.BlockOffset)
		total += n
		if err != nil {
			return total, err
		}
		n, err = common.WriteUint32(w, uint32(len(e.Key)))
		total += n
		if err != nil {
			return total, err
		}
		n, err = common.WriteBytes(w, e.Key)
		total += n
		if err != nil {
			return total, err
		}
	}

	n, err := common.WriteUint32(w, uint32(len(ix.LargestKey)))
	total += n
	if err != nil {
		return total, err
	}
	n, err = common.WriteBytes(w, ix.LargestKey)
	total += n
	return total, err
}

// ReadIndex deserializes an index block written by WriteIndex.
func ReadIndex(r io.Reader) (*Index, error) {
	count, err := common.ReadUint32(r)
	if err != nil {
		return nil, err
	}

	ix := &Index{Entries: make([]IndexEntry, 0, count)}
	for i := uint32(0); i < count; i++ {
		offset, err := common.ReadUint64(r)
		if err != nil {
			return nil, err
		}
		keyLen, err := common.ReadUint32(r)
		if err != nil {
			return nil, err
		}
		key, err := common.ReadBytes(r, uint64(keyLen))
		if err != nil {
			return nil, err
		}
		ix.Entries = append(ix.Entries, IndexEntry{BlockOffset: offset, Key: key})
	}

	largestLen, err := common.ReadUint32(r)
	if err != nil {
		return nil, err
	}
	ix.LargestKey, err = common.ReadBytes(r, uint64(largestLen))
	if err != nil {
		return nil, err
	}
	return ix, nil
}
