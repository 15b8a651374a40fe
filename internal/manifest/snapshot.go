package manifest

import (
	"fmt"

	"garnet/internal/common"
	"garnet/internal/sstable"
)

// Snapshot pins one Version's segment files: none of them is deleted from
// disk while the snapshot is live, even if compaction retires them. Release
// must be called exactly once.
type Snapshot struct {
	Version  *Version
	m        *Manifest
	pinned   []pinnedFile
	released bool
}

type pinnedFile struct {
	fileNo common.FileNo
	level  int
}

// Acquire returns a consistent snapshot of the current version with every
// referenced segment pinned against deletion.
func (m *Manifest) Acquire() *Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := &Snapshot{Version: m.current, m: m}
	for level, files := range m.current.Levels {
		for _, fm := range files {
			h := m.handles[fm.FileNo]
			if h == nil {
				h = &tableHandle{level: level}
				m.handles[fm.FileNo] = h
			}
			h.refs++
			s.pinned = append(s.pinned, pinnedFile{fileNo: fm.FileNo, level: level})
		}
	}
	return s
}

// Table returns an open handle for a segment in the snapshot, opening and
// caching it on first use. Handles are shared across snapshots.
func (s *Snapshot) Table(fm FileMetadata) (*sstable.Table, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	h := s.m.handles[fm.FileNo]
	if h == nil {
		return nil, fmt.Errorf("manifest: segment %d is not pinned by this snapshot", fm.FileNo)
	}
	if h.table == nil {
		table, err := sstable.Open(s.m.paths.SSTablePath(h.level, fm.FileNo), fm.FileNo)
		if err != nil {
			return nil, err
		}
		h.table = table
	}
	return h.table, nil
}

// Release unpins the snapshot's segments. Files retired while the snapshot
// was live are deleted here once their last pin drops.
func (s *Snapshot) Release() {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	if s.released {
		return
	}
	s.released = true

	for _, p := range s.pinned {
		h := s.m.handles[p.fileNo]
		if h == nil {
			continue
		}
		h.refs--
		if h.retired && h.refs == 0 {
			s.m.dropHandle(p.fileNo, h)
		}
	}
	s.pinned = nil
}
