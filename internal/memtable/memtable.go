package memtable

import "garnet/internal/common"

// Memtable is the in-memory sorted buffer of the most recent writes. Any
// ordered-map implementation can back it; the DB layer only needs this
// capability set.
//
// Sequence numbers are assigned by the single writer in increasing order,
// so Put and Delete overwrite unconditionally: the incoming entry is always
// newer than whatever is stored for the key.
type Memtable interface {
	Put(seq uint64, key, value []byte)
	Delete(seq uint64, key []byte)

	// Get returns the most recent entry for key. The entry may be a
	// tombstone; callers inspect Type to tell deletion from presence.
	Get(key []byte) (*common.Entry, bool)

	// Iterator returns an ascending snapshot of the contents at call time.
	Iterator() common.EntryIterator

	// ApproxSize is the rough byte footprint of stored keys and values,
	// used for flush-threshold decisions.
	ApproxSize() uint64

	// Len is the number of distinct keys, counting tombstones.
	Len() int
}
