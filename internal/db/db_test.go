package db_test

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"garnet/internal/common"
	"garnet/internal/compaction"
	"garnet/internal/db"
)

func openTestDB(t *testing.T, path string, opts ...db.Option) *db.DB {
	t.Helper()
	d, err := db.Open(path, opts...)
	require.NoError(t, err)
	return d
}

func TestPutGetDelete(t *testing.T) {
	d := openTestDB(t, t.TempDir())
	defer d.Close()

	require.NoError(t, d.Put([]byte("alpha"), []byte("1")))
	require.NoError(t, d.Put([]byte("beta"), []byte("2")))

	v, err := d.Get([]byte("alpha"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), v)

	_, err = d.Get([]byte("gamma"))
	require.ErrorIs(t, err, db.ErrNotFound)

	// Overwrite.
	require.NoError(t, d.Put([]byte("alpha"), []byte("1b")))
	v, err = d.Get([]byte("alpha"))
	require.NoError(t, err)
	require.Equal(t, []byte("1b"), v)

	// Delete, then delete again: absence is not an error.
	require.NoError(t, d.Delete([]byte("alpha")))
	_, err = d.Get([]byte("alpha"))
	require.ErrorIs(t, err, db.ErrNotFound)
	require.NoError(t, d.Delete([]byte("alpha")))

	require.Error(t, d.Put(nil, []byte("x")), "empty keys are rejected")
}

func TestPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	d := openTestDB(t, dir)
	for i := 0; i < 500; i++ {
		key := []byte(fmt.Sprintf("key-%04d", i))
		require.NoError(t, d.Put(key, []byte(fmt.Sprintf("val-%d", i))))
	}
	require.NoError(t, d.Delete([]byte("key-0042")))
	require.NoError(t, d.Close())

	d = openTestDB(t, dir)
	defer d.Close()
	for i := 0; i < 500; i++ {
		key := []byte(fmt.Sprintf("key-%04d", i))
		if i == 42 {
			_, err := d.Get(key)
			require.ErrorIs(t, err, db.ErrNotFound)
			continue
		}
		v, err := d.Get(key)
		require.NoError(t, err)
		require.Equal(t, []byte(fmt.Sprintf("val-%d", i)), v)
	}
}

func TestRewriteShadowsAcrossFlushes(t *testing.T) {
	d := openTestDB(t, t.TempDir())
	defer d.Close()

	require.NoError(t, d.Put([]byte("x"), []byte("old")))
	require.NoError(t, d.Flush())
	require.NoError(t, d.Put([]byte("x"), []byte("new")))
	require.NoError(t, d.Flush())

	v, err := d.Get([]byte("x"))
	require.NoError(t, err)
	require.Equal(t, []byte("new"), v)

	// Still true after the segments are merged.
	for {
		ran, err := d.Compact()
		require.NoError(t, err)
		if !ran {
			break
		}
	}
	v, err = d.Get([]byte("x"))
	require.NoError(t, err)
	require.Equal(t, []byte("new"), v)
}

func TestTombstoneShadowsFlushedValue(t *testing.T) {
	d := openTestDB(t, t.TempDir())
	defer d.Close()

	require.NoError(t, d.Put([]byte("y"), []byte("v")))
	require.NoError(t, d.Flush())
	require.NoError(t, d.Delete([]byte("y")))

	_, err := d.Get([]byte("y"))
	require.ErrorIs(t, err, db.ErrNotFound)

	require.NoError(t, d.Flush())
	_, err = d.Get([]byte("y"))
	require.ErrorIs(t, err, db.ErrNotFound)
}

func TestRecoveryReplaysLog(t *testing.T) {
	dir := t.TempDir()

	// Crash simulation: write without closing, so nothing is flushed
	// and all state lives in the log.
	crashed := openTestDB(t, dir)
	for i := 0; i < 50; i++ {
		key := []byte(fmt.Sprintf("key-%02d", i))
		require.NoError(t, crashed.Put(key, []byte("v")))
	}

	d := openTestDB(t, dir)
	defer d.Close()
	for i := 0; i < 50; i++ {
		key := []byte(fmt.Sprintf("key-%02d", i))
		v, err := d.Get(key)
		require.NoError(t, err)
		require.Equal(t, []byte("v"), v)
	}
}

func TestRecoveryToleratesTornTail(t *testing.T) {
	dir := t.TempDir()

	crashed := openTestDB(t, dir)
	for i := 0; i < 20; i++ {
		key := []byte(fmt.Sprintf("key-%02d", i))
		require.NoError(t, crashed.Put(key, []byte("v")))
	}

	// Tear the final log record.
	paths := common.NewPathManager(dir)
	dirEntries, err := os.ReadDir(paths.WALDir())
	require.NoError(t, err)
	require.NotEmpty(t, dirEntries)
	logPath := paths.WALDir() + "/" + dirEntries[len(dirEntries)-1].Name()
	info, err := os.Stat(logPath)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(logPath, info.Size()-3))

	d := openTestDB(t, dir)
	defer d.Close()

	// Every record before the torn one survives.
	for i := 0; i < 19; i++ {
		key := []byte(fmt.Sprintf("key-%02d", i))
		v, err := d.Get(key)
		require.NoError(t, err)
		require.Equal(t, []byte("v"), v)
	}
	_, err = d.Get([]byte("key-19"))
	require.ErrorIs(t, err, db.ErrNotFound)
}

func TestFlushRetiresLog(t *testing.T) {
	dir := t.TempDir()
	d := openTestDB(t, dir)
	defer d.Close()

	require.NoError(t, d.Put([]byte("a"), []byte("1")))
	require.NoError(t, d.Flush())

	require.Len(t, d.Manifest().Current().Level(0), 1)

	paths := common.NewPathManager(dir)
	dirEntries, err := os.ReadDir(paths.WALDir())
	require.NoError(t, err)
	require.Len(t, dirEntries, 1, "only the fresh log remains after a flush")

	// Flushing an empty memtable is a no-op.
	before := len(d.Manifest().Current().Level(0))
	require.NoError(t, d.Flush())
	require.Len(t, d.Manifest().Current().Level(0), before)
}

func TestRangeMatchesModel(t *testing.T) {
	d := openTestDB(t, t.TempDir())
	defer d.Close()

	model := make(map[string]string)
	for i := 0; i < 300; i++ {
		key := fmt.Sprintf("key-%03d", i)
		val := fmt.Sprintf("val-%d", i)
		require.NoError(t, d.Put([]byte(key), []byte(val)))
		model[key] = val
		if i%7 == 0 {
			require.NoError(t, d.Delete([]byte(key)))
			delete(model, key)
		}
		if i%50 == 0 {
			require.NoError(t, d.Flush())
		}
	}

	var want []string
	for k := range model {
		want = append(want, k)
	}
	sort.Strings(want)

	it, err := d.Range(nil, nil)
	require.NoError(t, err)
	var got []string
	for {
		key, value, err := it.Next()
		require.NoError(t, err)
		if key == nil {
			break
		}
		got = append(got, string(key))
		require.Equal(t, model[string(key)], string(value))
	}
	require.Equal(t, want, got)

	// A bounded range is a contiguous slice of the full result.
	it, err = d.Range([]byte("key-100"), []byte("key-200"))
	require.NoError(t, err)
	defer it.Close()
	var bounded []string
	for {
		key, _, err := it.Next()
		require.NoError(t, err)
		if key == nil {
			break
		}
		bounded = append(bounded, string(key))
	}
	var wantBounded []string
	for _, k := range want {
		if k >= "key-100" && k <= "key-200" {
			wantBounded = append(wantBounded, k)
		}
	}
	require.Equal(t, wantBounded, bounded)
}

func TestRangeIsPointInTime(t *testing.T) {
	d := openTestDB(t, t.TempDir())
	defer d.Close()

	require.NoError(t, d.Put([]byte("a"), []byte("1")))
	it, err := d.Range(nil, nil)
	require.NoError(t, err)
	defer it.Close()

	require.NoError(t, d.Put([]byte("b"), []byte("2")))

	var got []string
	for {
		key, _, err := it.Next()
		require.NoError(t, err)
		if key == nil {
			break
		}
		got = append(got, string(key))
	}
	require.Equal(t, []string{"a"}, got)
}

func TestMinMaxLen(t *testing.T) {
	d := openTestDB(t, t.TempDir())
	defer d.Close()

	min, err := d.Min()
	require.NoError(t, err)
	require.Nil(t, min, "empty database has no minimum")

	require.NoError(t, d.Put([]byte("m"), []byte("1")))
	require.NoError(t, d.Put([]byte("a"), []byte("2")))
	require.NoError(t, d.Put([]byte("z"), []byte("3")))
	require.NoError(t, d.Flush())
	require.NoError(t, d.Put([]byte("q"), []byte("4")))
	require.NoError(t, d.Delete([]byte("z")))

	min, err = d.Min()
	require.NoError(t, err)
	require.Equal(t, []byte("a"), min)

	max, err := d.Max()
	require.NoError(t, err)
	require.Equal(t, []byte("q"), max, "deleted key is not the maximum")

	n, err := d.Len()
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.GreaterOrEqual(t, d.LenHint(), n)
}

func TestClear(t *testing.T) {
	dir := t.TempDir()
	d := openTestDB(t, dir)

	for i := 0; i < 100; i++ {
		require.NoError(t, d.Put([]byte(fmt.Sprintf("key-%03d", i)), []byte("v")))
		if i%25 == 0 {
			require.NoError(t, d.Flush())
		}
	}
	require.NoError(t, d.Clear())

	n, err := d.Len()
	require.NoError(t, err)
	require.Zero(t, n)
	_, err = d.Get([]byte("key-001"))
	require.ErrorIs(t, err, db.ErrNotFound)

	// Writes after a clear behave normally and the emptiness persists.
	require.NoError(t, d.Put([]byte("fresh"), []byte("v")))
	require.NoError(t, d.Close())

	d = openTestDB(t, dir)
	defer d.Close()
	n, err = d.Len()
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestCompactDrainsToBalance(t *testing.T) {
	d := openTestDB(t, t.TempDir())
	defer d.Close()

	for i := 0; i < 8; i++ {
		for j := 0; j < 32; j++ {
			key := []byte(fmt.Sprintf("key-%02d-%02d", i, j))
			require.NoError(t, d.Put(key, []byte("v")))
		}
		require.NoError(t, d.Flush())
	}

	for {
		ran, err := d.Compact()
		require.NoError(t, err)
		if !ran {
			break
		}
	}

	// Once balanced, further cycles change nothing.
	ran, err := d.Compact()
	require.NoError(t, err)
	require.False(t, ran)

	for i := 0; i < 8; i++ {
		for j := 0; j < 32; j++ {
			key := []byte(fmt.Sprintf("key-%02d-%02d", i, j))
			v, err := d.Get(key)
			require.NoError(t, err)
			require.Equal(t, []byte("v"), v)
		}
	}
}

func TestSizeTieredPolicy(t *testing.T) {
	d := openTestDB(t, t.TempDir(),
		db.WithCompactionPolicy(compaction.DefaultSizeTieredPolicy()))
	defer d.Close()

	for i := 0; i < 6; i++ {
		for j := 0; j < 16; j++ {
			key := []byte(fmt.Sprintf("key-%02d-%02d", i, j))
			require.NoError(t, d.Put(key, []byte("v")))
		}
		require.NoError(t, d.Flush())
	}
	for {
		ran, err := d.Compact()
		require.NoError(t, err)
		if !ran {
			break
		}
	}

	n, err := d.Len()
	require.NoError(t, err)
	require.Equal(t, 96, n)
}

func TestSizeTieredGetFindsNewestAcrossOverlap(t *testing.T) {
	d := openTestDB(t, t.TempDir(),
		db.WithCompactionPolicy(compaction.DefaultSizeTieredPolicy()))
	defer d.Close()

	// Each tier writes x once, pads out to five tiny segments so the
	// bucket trigger fires, then compacts the bucket down one level.
	writeTier := func(value string) {
		require.NoError(t, d.Put([]byte("x"), []byte(value)))
		require.NoError(t, d.Flush())
		for i := 0; i < 4; i++ {
			key := []byte(fmt.Sprintf("pad-%s-%d", value, i))
			require.NoError(t, d.Put(key, []byte("p")))
			require.NoError(t, d.Flush())
		}
		for {
			ran, err := d.Compact()
			require.NoError(t, err)
			if !ran {
				break
			}
		}
	}

	writeTier("old")
	writeTier("new")

	// Both tier merges landed on the same level with overlapping key
	// ranges, each holding a record for x.
	require.Len(t, d.Manifest().Current().Level(1), 2)

	value, err := d.Get([]byte("x"))
	require.NoError(t, err)
	require.Equal(t, []byte("new"), value)
}

func TestConcurrentWriters(t *testing.T) {
	d := openTestDB(t, t.TempDir())
	defer d.Close()

	const writers = 8
	const perWriter = 50

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				key := []byte(fmt.Sprintf("w%d-key-%03d", w, i))
				if err := d.Put(key, []byte("v")); err != nil {
					t.Error(err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	n, err := d.Len()
	require.NoError(t, err)
	require.Equal(t, writers*perWriter, n)
}

func TestReadsProgressDuringFlushHeavyWrites(t *testing.T) {
	d := openTestDB(t, t.TempDir(), db.WithFlushThresholdBytes(1<<10))
	defer d.Close()

	require.NoError(t, d.Put([]byte("hot"), []byte("0")))

	// A reader hammers one key while the writer churns through freezes
	// and flushes. Acked writes are applied in order, so the observed
	// value never moves backwards.
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		last := -1
		for {
			select {
			case <-done:
				return
			default:
			}
			value, err := d.Get([]byte("hot"))
			if err != nil {
				t.Error(err)
				return
			}
			n, err := strconv.Atoi(string(value))
			if err != nil {
				t.Error(err)
				return
			}
			if n < last {
				t.Errorf("hot key went backwards: %d after %d", n, last)
				return
			}
			last = n
		}
	}()

	for i := 0; i < 500; i++ {
		key := []byte(fmt.Sprintf("key-%03d", i))
		require.NoError(t, d.Put(key, []byte("filler-value-to-grow-the-memtable")))
		if i%10 == 0 {
			require.NoError(t, d.Put([]byte("hot"), []byte(strconv.Itoa(i))))
		}
	}
	close(done)
	wg.Wait()

	value, err := d.Get([]byte("hot"))
	require.NoError(t, err)
	require.Equal(t, []byte("490"), value)
}

func TestAutomaticFlushOnThreshold(t *testing.T) {
	d := openTestDB(t, t.TempDir(), db.WithFlushThresholdBytes(1<<10))
	defer d.Close()

	for i := 0; i < 200; i++ {
		key := []byte(fmt.Sprintf("key-%03d", i))
		require.NoError(t, d.Put(key, make([]byte, 64)))
	}
	require.NoError(t, d.Flush())
	segments := 0
	for _, files := range d.Manifest().Current().Levels {
		segments += len(files)
	}
	require.NotZero(t, segments, "threshold crossings produced segments")

	for i := 0; i < 200; i++ {
		key := []byte(fmt.Sprintf("key-%03d", i))
		_, err := d.Get(key)
		require.NoError(t, err)
	}
}

func TestClosedOperationsFail(t *testing.T) {
	d := openTestDB(t, t.TempDir())
	require.NoError(t, d.Put([]byte("a"), []byte("1")))
	require.NoError(t, d.Close())

	require.ErrorIs(t, d.Put([]byte("b"), []byte("2")), db.ErrClosed)
	_, err := d.Get([]byte("a"))
	require.ErrorIs(t, err, db.ErrClosed)
	require.ErrorIs(t, d.Flush(), db.ErrClosed)
	_, err = d.Range(nil, nil)
	require.ErrorIs(t, err, db.ErrClosed)
	require.ErrorIs(t, d.Clear(), db.ErrClosed)
	require.ErrorIs(t, d.Close(), db.ErrClosed)
}

func TestCloseFlushesPendingWrites(t *testing.T) {
	dir := t.TempDir()

	d := openTestDB(t, dir)
	require.NoError(t, d.Put([]byte("k"), []byte("v")))
	require.NoError(t, d.Close())

	// After a clean close everything lives in segments; the log is
	// empty and replay has nothing to do.
	d = openTestDB(t, dir)
	defer d.Close()
	v, err := d.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v"), v)
	require.NotEmpty(t, d.Manifest().Current().Level(0))
}
