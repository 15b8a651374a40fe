package compaction

import "garnet/internal/manifest"

// LeveledPolicy keeps L0 as overlapping flush output and every deeper
// level as a run of disjoint key ranges. Compacting a level merges it with
// the overlapping part of the next level, so a read touches at most
// len(L0)+depth segments.
type LeveledPolicy struct {
	// L0TriggerCount compacts L0 into L1 once this many segments pile up.
	L0TriggerCount int

	// BaseLevelBytes bounds L1; each deeper level may hold
	// LevelMultiplier times its predecessor.
	BaseLevelBytes  uint64
	LevelMultiplier uint64
}

var _ Policy = (*LeveledPolicy)(nil)

// DefaultLeveledPolicy mirrors the classic 10x level fan-out.
func DefaultLeveledPolicy() *LeveledPolicy {
	return &LeveledPolicy{
		L0TriggerCount:  4,
		BaseLevelBytes:  8 << 20,
		LevelMultiplier: 10,
	}
}

func (p *LeveledPolicy) Name() string { return "leveled" }

func (p *LeveledPolicy) Pick(v *manifest.Version) *Task {
	if task := p.pickL0(v); task != nil {
		return task
	}

	maxBytes := p.BaseLevelBytes
	for level := 1; level < len(v.Levels)-1; level++ {
		if totalSize(v.Levels[level]) > maxBytes {
			return p.pickLevel(v, level)
		}
		maxBytes *= p.LevelMultiplier
	}
	return nil
}

func (p *LeveledPolicy) pickL0(v *manifest.Version) *Task {
	l0 := v.Level(0)
	if len(l0) < p.L0TriggerCount || len(v.Levels) < 2 {
		return nil
	}

	inputs := map[int][]manifest.FileMetadata{0: l0}
	lo, hi := keySpan(l0)
	if next := overlapping(v.Level(1), lo, hi); len(next) > 0 {
		inputs[1] = next
	}
	return &Task{
		Inputs:         inputs,
		OutputLevel:    1,
		DropTombstones: levelsEmptyBelow(v, 1),
	}
}

func (p *LeveledPolicy) pickLevel(v *manifest.Version, level int) *Task {
	files := v.Level(level)
	inputs := map[int][]manifest.FileMetadata{level: files}
	lo, hi := keySpan(files)
	if next := overlapping(v.Level(level+1), lo, hi); len(next) > 0 {
		inputs[level+1] = next
	}
	return &Task{
		Inputs:         inputs,
		OutputLevel:    level + 1,
		DropTombstones: levelsEmptyBelow(v, level+1),
	}
}
