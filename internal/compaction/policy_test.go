package compaction_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"garnet/internal/common"
	"garnet/internal/compaction"
	"garnet/internal/manifest"
)

func meta(fileNo common.FileNo, lo, hi string, size uint64) manifest.FileMetadata {
	return manifest.FileMetadata{
		FileNo:      fileNo,
		SmallestKey: []byte(lo),
		LargestKey:  []byte(hi),
		EntryCount:  1,
		Size:        size,
	}
}

func version(levels ...[]manifest.FileMetadata) *manifest.Version {
	v := &manifest.Version{Levels: make([][]manifest.FileMetadata, 4)}
	copy(v.Levels, levels)
	return v
}

func TestLeveledBelowTriggerPicksNothing(t *testing.T) {
	p := compaction.DefaultLeveledPolicy()
	v := version([]manifest.FileMetadata{
		meta(1, "a", "m", 100),
		meta(2, "b", "z", 100),
		meta(3, "a", "z", 100),
	})
	require.Nil(t, p.Pick(v))
}

func TestLeveledL0TriggerTakesOverlappingL1(t *testing.T) {
	p := compaction.DefaultLeveledPolicy()
	v := version(
		[]manifest.FileMetadata{
			meta(1, "d", "m", 100),
			meta(2, "a", "f", 100),
			meta(3, "k", "t", 100),
			meta(4, "c", "p", 100),
		},
		[]manifest.FileMetadata{
			meta(5, "a", "c", 100), // overlaps L0 span [a, t]
			meta(6, "u", "z", 100), // disjoint, stays put
		},
	)

	task := p.Pick(v)
	require.NotNil(t, task)
	require.Equal(t, 1, task.OutputLevel)
	require.Len(t, task.Inputs[0], 4)
	require.Len(t, task.Inputs[1], 1)
	require.Equal(t, common.FileNo(5), task.Inputs[1][0].FileNo)
}

func TestLeveledTombstoneDropOnlyAtBottom(t *testing.T) {
	p := compaction.DefaultLeveledPolicy()
	l0 := []manifest.FileMetadata{
		meta(1, "a", "b", 100),
		meta(2, "a", "b", 100),
		meta(3, "a", "b", 100),
		meta(4, "a", "b", 100),
	}

	task := p.Pick(version(l0))
	require.NotNil(t, task)
	require.True(t, task.DropTombstones, "nothing deeper can hold an older record")

	deeper := version(l0, nil, []manifest.FileMetadata{meta(9, "a", "b", 100)})
	task = p.Pick(deeper)
	require.NotNil(t, task)
	require.False(t, task.DropTombstones, "an L2 segment may hold an older record")
}

func TestLeveledOversizedLevelCompactsDown(t *testing.T) {
	p := &compaction.LeveledPolicy{L0TriggerCount: 4, BaseLevelBytes: 1 << 10, LevelMultiplier: 10}
	v := version(
		nil,
		[]manifest.FileMetadata{
			meta(1, "a", "m", 600),
			meta(2, "n", "z", 600), // level total 1200 > 1024
		},
		[]manifest.FileMetadata{
			meta(3, "c", "h", 100),
		},
	)

	task := p.Pick(v)
	require.NotNil(t, task)
	require.Equal(t, 2, task.OutputLevel)
	require.Len(t, task.Inputs[1], 2)
	require.Len(t, task.Inputs[2], 1)
}

func TestSizeTieredBucketTrigger(t *testing.T) {
	p := compaction.DefaultSizeTieredPolicy()

	// Four segments of similar size: at the threshold, not over it.
	small := version([]manifest.FileMetadata{
		meta(1, "a", "b", 100<<10),
		meta(2, "c", "d", 110<<10),
		meta(3, "e", "f", 90<<10),
		meta(4, "g", "h", 105<<10),
	})
	require.Nil(t, p.Pick(small))

	// A fifth similar segment pushes the bucket over.
	over := version([]manifest.FileMetadata{
		meta(1, "a", "b", 100<<10),
		meta(2, "c", "d", 110<<10),
		meta(3, "e", "f", 90<<10),
		meta(4, "g", "h", 105<<10),
		meta(5, "i", "j", 95<<10),
	})
	task := p.Pick(over)
	require.NotNil(t, task)
	require.Equal(t, 1, task.OutputLevel)
	require.Len(t, task.Inputs[0], 5)
	require.True(t, task.DropTombstones, "whole level merged with nothing deeper")
}

func TestSizeTieredIgnoresDissimilarSizes(t *testing.T) {
	p := compaction.DefaultSizeTieredPolicy()

	// Sizes spread over orders of magnitude never bucket together.
	v := version([]manifest.FileMetadata{
		meta(1, "a", "b", 10<<10),
		meta(2, "c", "d", 100<<10),
		meta(3, "e", "f", 1000<<10),
		meta(4, "g", "h", 10000<<10),
		meta(5, "i", "j", 100000<<10),
	})
	require.Nil(t, p.Pick(v))
}

func TestSizeTieredMinBucketLumpsTinySegments(t *testing.T) {
	p := compaction.DefaultSizeTieredPolicy()

	// All below MinSegmentSize: relative size no longer matters.
	v := version([]manifest.FileMetadata{
		meta(1, "a", "b", 100),
		meta(2, "c", "d", 400),
		meta(3, "e", "f", 1600),
		meta(4, "g", "h", 3200),
		meta(5, "i", "j", 200),
	})
	task := p.Pick(v)
	require.NotNil(t, task)
	require.Len(t, task.Inputs[0], 5)
}

func TestSizeTieredPartialBucketKeepsTombstones(t *testing.T) {
	p := &compaction.SizeTieredPolicy{MinSegmentSize: 4 << 10, BucketLow: 0.5, BucketHigh: 1.5, MaxSegmentCount: 2}

	// A bucket of small segments triggers while larger segments stay
	// behind at the level, so tombstones cannot be retired.
	v := version([]manifest.FileMetadata{
		meta(1, "a", "b", 100),
		meta(2, "c", "d", 110),
		meta(3, "e", "f", 95),
		meta(4, "g", "h", 500<<10),
		meta(5, "i", "j", 900<<10),
	})
	task := p.Pick(v)
	require.NotNil(t, task)
	require.Less(t, len(task.Inputs[0]), len(v.Level(0)))
	require.False(t, task.DropTombstones)
}
