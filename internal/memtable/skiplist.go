package memtable

import (
	"bytes"
	"encoding/binary"
	"sync"

	"github.com/huandu/skiplist"

	"garnet/internal/common"
)

// SkipListMemtable is the default memtable, backed by a probabilistic
// skip list so Iterator never needs to sort.
type SkipListMemtable struct {
	mu    sync.RWMutex
	list  *skiplist.SkipList
	bytes uint64
}

var _ Memtable = (*SkipListMemtable)(nil)

// keyComparator orders raw byte keys. CalcScore maps the first eight bytes
// to a monotone score so most comparisons are resolved without Compare.
type keyComparator struct{}

func (keyComparator) Compare(lhs, rhs interface{}) int {
	return bytes.Compare(lhs.([]byte), rhs.([]byte))
}

func (keyComparator) CalcScore(key interface{}) float64 {
	k := key.([]byte)
	var buf [8]byte
	copy(buf[:], k)
	return float64(binary.BigEndian.Uint64(buf[:]))
}

// NewSkipListMemtable returns the default skip-list-backed memtable.
func NewSkipListMemtable() *SkipListMemtable {
	return &SkipListMemtable{
		list: skiplist.New(keyComparator{}),
	}
}

func (m *SkipListMemtable) Put(seq uint64, key, value []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.set(&common.Entry{
		Type:  common.EntryTypePut,
		Seq:   seq,
		Key:   bytes.Clone(key),
		Value: bytes.Clone(value),
	})
}

func (m *SkipListMemtable) Delete(seq uint64, key []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.set(&common.Entry{
		Type: common.EntryTypeDelete,
		Seq:  seq,
		Key:  bytes.Clone(key),
	})
}

func (m *SkipListMemtable) set(entry *common.Entry) {
	if el := m.list.Get(entry.Key); el != nil {
		old := el.Value.(*common.Entry)
		m.bytes -= uint64(len(old.Key) + len(old.Value))
	}
	m.list.Set(entry.Key, entry)
	m.bytes += uint64(len(entry.Key) + len(entry.Value))
}

func (m *SkipListMemtable) Get(key []byte) (*common.Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	el := m.list.Get(key)
	if el == nil {
		return nil, false
	}
	return el.Value.(*common.Entry).Clone(), true
}

// Iterator returns a stable snapshot over the entries at call time.
func (m *SkipListMemtable) Iterator() common.EntryIterator {
	m.mu.RLock()
	entries := make([]*common.Entry, 0, m.list.Len())
	for el := m.list.Front(); el != nil; el = el.Next() {
		entries = append(entries, el.Value.(*common.Entry).Clone())
	}
	m.mu.RUnlock()

	return common.NewSliceIterator(entries)
}

func (m *SkipListMemtable) ApproxSize() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.bytes
}

func (m *SkipListMemtable) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.list.Len()
}
