package compaction

import (
	"sort"

	"garnet/internal/manifest"
)

// SizeTieredPolicy groups segments of similar size into buckets and merges
// a bucket into the next level once it grows past MaxSegmentCount. Key
// ranges within a level may overlap, so reads fan out across every
// segment; in exchange, writes are cheaper than under the leveled policy.
type SizeTieredPolicy struct {
	// MinSegmentSize lumps all small segments into one bucket regardless
	// of relative size.
	MinSegmentSize uint64

	// BucketLow and BucketHigh bound a bucket: a segment joins when the
	// running average stays within [avg*BucketLow, avg*BucketHigh].
	BucketLow  float64
	BucketHigh float64

	// MaxSegmentCount triggers a merge once a bucket exceeds it.
	MaxSegmentCount int
}

var _ Policy = (*SizeTieredPolicy)(nil)

// DefaultSizeTieredPolicy uses the conventional bucket bounds.
func DefaultSizeTieredPolicy() *SizeTieredPolicy {
	return &SizeTieredPolicy{
		MinSegmentSize:  4 << 10,
		BucketLow:       0.5,
		BucketHigh:      1.5,
		MaxSegmentCount: 4,
	}
}

func (p *SizeTieredPolicy) Name() string { return "size-tiered" }

func (p *SizeTieredPolicy) Pick(v *manifest.Version) *Task {
	for level := 0; level < len(v.Levels)-1; level++ {
		bucket := p.pickBucket(v.Level(level))
		if bucket == nil {
			continue
		}
		return &Task{
			Inputs:      map[int][]manifest.FileMetadata{level: bucket},
			OutputLevel: level + 1,
			// Ranges overlap within a tier, so an older record for a
			// merged key may live in any segment left behind at this
			// level or below. Only a full-level merge with nothing
			// deeper can retire tombstones.
			DropTombstones: len(bucket) == len(v.Level(level)) && levelsEmptyBelow(v, level),
		}
	}
	return nil
}

// pickBucket scans segments ascending by size and returns the first bucket
// of similarly sized segments that exceeds the merge threshold.
func (p *SizeTieredPolicy) pickBucket(files []manifest.FileMetadata) []manifest.FileMetadata {
	if len(files) <= p.MaxSegmentCount {
		return nil
	}

	sorted := make([]manifest.FileMetadata, len(files))
	copy(sorted, files)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Size < sorted[j].Size })

	start, curr := 0, 0
	var rangeSize uint64
	for curr < len(sorted) {
		startSize := sorted[start].Size
		currSize := sorted[curr].Size
		currAvg := float64(rangeSize+currSize) / float64(curr-start+1)

		inMinBucket := currSize <= p.MinSegmentSize
		inBucket := currAvg*p.BucketLow <= float64(startSize) &&
			float64(currSize) <= currAvg*p.BucketHigh

		curr++
		switch {
		case inMinBucket || inBucket:
			rangeSize += currSize
		case curr-start > p.MaxSegmentCount:
			return sorted[start:curr]
		default:
			rangeSize = 0
			start = curr
		}
	}

	if curr-start > p.MaxSegmentCount {
		return sorted[start:curr]
	}
	return nil
}
