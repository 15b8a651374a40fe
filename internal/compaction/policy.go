package compaction

import (
	"bytes"

	"garnet/internal/manifest"
)

// Task is one unit of compaction work: the input segments per level and
// where the merged output lands.
type Task struct {
	// Inputs maps level number to the segments consumed at that level.
	Inputs map[int][]manifest.FileMetadata

	// OutputLevel receives the merged segment.
	OutputLevel int

	// DropTombstones is set when no segment outside the inputs can hold
	// an older record for any merged key, so delete markers need not
	// propagate further.
	DropTombstones bool
}

// InputCount returns the total number of input segments.
func (t *Task) InputCount() int {
	n := 0
	for _, files := range t.Inputs {
		n += len(files)
	}
	return n
}

// Policy selects compaction work from a manifest version. Returning nil
// means the tree is in shape and there is nothing to do; policies must be
// stable, so a version with no work keeps yielding nil (compaction is
// idempotent at the trigger level).
type Policy interface {
	Name() string
	Pick(v *manifest.Version) *Task
}

// overlapping returns the segments whose key range intersects [lo, hi].
func overlapping(files []manifest.FileMetadata, lo, hi []byte) []manifest.FileMetadata {
	var out []manifest.FileMetadata
	for _, fm := range files {
		if fm.SmallestKey == nil {
			continue
		}
		if bytes.Compare(fm.LargestKey, lo) < 0 || bytes.Compare(fm.SmallestKey, hi) > 0 {
			continue
		}
		out = append(out, fm)
	}
	return out
}

// keySpan returns the merged [lo, hi] range covered by files.
func keySpan(files []manifest.FileMetadata) (lo, hi []byte) {
	for _, fm := range files {
		if fm.SmallestKey == nil {
			continue
		}
		if lo == nil || bytes.Compare(fm.SmallestKey, lo) < 0 {
			lo = fm.SmallestKey
		}
		if hi == nil || bytes.Compare(fm.LargestKey, hi) > 0 {
			hi = fm.LargestKey
		}
	}
	return lo, hi
}

// levelsEmptyBelow reports whether every level deeper than level is empty.
func levelsEmptyBelow(v *manifest.Version, level int) bool {
	for l := level + 1; l < len(v.Levels); l++ {
		if len(v.Levels[l]) > 0 {
			return false
		}
	}
	return true
}

func totalSize(files []manifest.FileMetadata) uint64 {
	var sum uint64
	for _, fm := range files {
		sum += fm.Size
	}
	return sum
}
