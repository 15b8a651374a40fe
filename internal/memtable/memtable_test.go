package memtable_test

import (
	"fmt"
	"testing"

	"garnet/internal/common"
	"garnet/internal/memtable"

	"github.com/stretchr/testify/require"
)

// Both implementations must satisfy the same contract, so every test runs
// against each of them.
func implementations() map[string]func() memtable.Memtable {
	return map[string]func() memtable.Memtable{
		"skiplist": func() memtable.Memtable { return memtable.NewSkipListMemtable() },
		"map":      func() memtable.Memtable { return memtable.NewMapMemtable() },
	}
}

func TestPutAndGet(t *testing.T) {
	for name, newMemtable := range implementations() {
		t.Run(name, func(t *testing.T) {
			mt := newMemtable()

			key := []byte("alpha")
			value := []byte("value")
			mt.Put(1, key, value)

			// Mutate original slices to ensure the memtable stored clones.
			key[0] = 'A'
			value[0] = 'V'

			entry, ok := mt.Get([]byte("alpha"))
			require.True(t, ok)
			require.Equal(t, common.EntryTypePut, entry.Type)
			require.Equal(t, uint64(1), entry.Seq)
			require.Equal(t, []byte("value"), entry.Value)

			_, ok = mt.Get([]byte("Alpha"))
			require.False(t, ok)
		})
	}
}

func TestGetMissing(t *testing.T) {
	for name, newMemtable := range implementations() {
		t.Run(name, func(t *testing.T) {
			mt := newMemtable()
			entry, ok := mt.Get([]byte("missing"))
			require.False(t, ok)
			require.Nil(t, entry)
		})
	}
}

func TestOverwriteAndDeleteSameKey(t *testing.T) {
	for name, newMemtable := range implementations() {
		t.Run(name, func(t *testing.T) {
			mt := newMemtable()
			key := []byte("duplicate")

			mt.Put(1, key, []byte("v1"))
			mt.Put(2, key, []byte("v2"))

			entry, ok := mt.Get(key)
			require.True(t, ok)
			require.Equal(t, uint64(2), entry.Seq)
			require.Equal(t, []byte("v2"), entry.Value)

			mt.Delete(3, key)
			entry, ok = mt.Get(key)
			require.True(t, ok)
			require.Equal(t, common.EntryTypeDelete, entry.Type)
			require.Equal(t, uint64(3), entry.Seq)

			require.Equal(t, 1, mt.Len())
		})
	}
}

func TestIteratorAscendingSnapshot(t *testing.T) {
	for name, newMemtable := range implementations() {
		t.Run(name, func(t *testing.T) {
			mt := newMemtable()

			// Insert out of order.
			order := []int{7, 2, 9, 0, 4, 8, 1, 6, 3, 5}
			seq := uint64(0)
			for _, i := range order {
				seq++
				mt.Put(seq, []byte(fmt.Sprintf("k%03d", i)), []byte(fmt.Sprintf("v%03d", i)))
			}
			seq++
			mt.Delete(seq, []byte("k004"))

			it := mt.Iterator()

			// A write after the snapshot must not be visible through it.
			mt.Put(seq+1, []byte("k999"), []byte("late"))

			var got []string
			for {
				entry, err := it.Next()
				require.NoError(t, err)
				if entry == nil {
					break
				}
				got = append(got, string(entry.Key))
				if string(entry.Key) == "k004" {
					require.Equal(t, common.EntryTypeDelete, entry.Type)
				}
			}

			want := make([]string, 0, 10)
			for i := 0; i < 10; i++ {
				want = append(want, fmt.Sprintf("k%03d", i))
			}
			require.Equal(t, want, got)
		})
	}
}

func TestApproxSizeTracksOverwrites(t *testing.T) {
	for name, newMemtable := range implementations() {
		t.Run(name, func(t *testing.T) {
			mt := newMemtable()
			require.Zero(t, mt.ApproxSize())

			mt.Put(1, []byte("key"), []byte("0123456789"))
			require.Equal(t, uint64(13), mt.ApproxSize())

			// Overwrite replaces the old footprint instead of adding to it.
			mt.Put(2, []byte("key"), []byte("01"))
			require.Equal(t, uint64(5), mt.ApproxSize())

			mt.Delete(3, []byte("key"))
			require.Equal(t, uint64(3), mt.ApproxSize())
		})
	}
}

func TestBulkInsert(t *testing.T) {
	for name, newMemtable := range implementations() {
		t.Run(name, func(t *testing.T) {
			mt := newMemtable()

			const total = 512
			for i := 0; i < total; i++ {
				mt.Put(uint64(i+1), []byte(fmt.Sprintf("k%04d", i)), []byte(fmt.Sprintf("v%04d", i)))
			}
			require.Equal(t, total, mt.Len())

			for i := 0; i < total; i++ {
				entry, ok := mt.Get([]byte(fmt.Sprintf("k%04d", i)))
				require.True(t, ok)
				require.Equal(t, uint64(i+1), entry.Seq)
				require.Equal(t, []byte(fmt.Sprintf("v%04d", i)), entry.Value)
			}
		})
	}
}
