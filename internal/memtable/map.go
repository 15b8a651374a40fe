package memtable

import (
	"bytes"
	"sort"
	"sync"

	"garnet/internal/common"
)

// MapMemtable is the baseline Go map-backed implementation. It sorts at
// snapshot time, trading Iterator cost for cheaper writes.
type MapMemtable struct {
	mu    sync.RWMutex
	items map[string]*common.Entry
	bytes uint64
}

var _ Memtable = (*MapMemtable)(nil)

// NewMapMemtable returns the map-backed memtable implementation.
func NewMapMemtable() *MapMemtable {
	return &MapMemtable{
		items: make(map[string]*common.Entry),
	}
}

func (m *MapMemtable) Put(seq uint64, key, value []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.set(string(key), &common.Entry{
		Type:  common.EntryTypePut,
		Seq:   seq,
		Key:   bytes.Clone(key),
		Value: bytes.Clone(value),
	})
}

func (m *MapMemtable) Delete(seq uint64, key []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.set(string(key), &common.Entry{
		Type: common.EntryTypeDelete,
		Seq:  seq,
		Key:  bytes.Clone(key),
	})
}

func (m *MapMemtable) set(key string, entry *common.Entry) {
	if old, ok := m.items[key]; ok {
		m.bytes -= uint64(len(old.Key) + len(old.Value))
	}
	m.items[key] = entry
	m.bytes += uint64(len(entry.Key) + len(entry.Value))
}

func (m *MapMemtable) Get(key []byte) (*common.Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.items[string(key)]
	if !ok {
		return nil, false
	}
	return entry.Clone(), true
}

// Iterator returns a stable snapshot iterator over the current entries.
func (m *MapMemtable) Iterator() common.EntryIterator {
	m.mu.RLock()
	keys := make([]string, 0, len(m.items))
	for k := range m.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	entries := make([]*common.Entry, 0, len(keys))
	for _, k := range keys {
		entries = append(entries, m.items[k].Clone())
	}
	m.mu.RUnlock()

	return common.NewSliceIterator(entries)
}

func (m *MapMemtable) ApproxSize() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.bytes
}

func (m *MapMemtable) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}
