package manifest

import (
	"encoding/json"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"garnet/internal/common"
	"garnet/internal/sstable"
)

// FileMetadata tracks metadata for a single segment file.
type FileMetadata struct {
	FileNo      common.FileNo
	SmallestKey []byte
	LargestKey  []byte
	EntryCount  uint64
	Size        uint64
}

// Version is an immutable snapshot of the tree structure. A new Version is
// produced by every commit; old Versions stay valid for readers that hold
// them.
type Version struct {
	// CurrentWAL is the log receiving new writes.
	CurrentWAL common.FileNo

	// LastSeq is the highest sequence number durably captured in
	// segments. WAL replay skips entries at or below it.
	LastSeq uint64

	// Levels[0] holds overlapping flush output, newest last. Levels[1:]
	// hold compaction output with disjoint key ranges per level.
	Levels [][]FileMetadata

	NextWALNumber     common.FileNo
	NextSSTableNumber common.FileNo
}

// Level returns the metadata slice for a level, nil when out of range.
func (v *Version) Level(level int) []FileMetadata {
	if level < 0 || level >= len(v.Levels) {
		return nil
	}
	return v.Levels[level]
}

// Edit describes one atomic change to the manifest.
type Edit struct {
	// CurrentWAL, when set, records a log rotation.
	CurrentWAL *common.FileNo

	// LastSeq, when set, advances the durable sequence floor.
	LastSeq *uint64

	// Add and Delete list segments per level. A commit applies both
	// sides together: inputs retire exactly when outputs activate.
	Add    map[int][]FileMetadata
	Delete map[int][]common.FileNo
}

// tableHandle pairs an open segment with its reader pin count. The file is
// removed from disk only once it is retired from the current Version and
// no snapshot pins it.
type tableHandle struct {
	table   *sstable.Table
	level   int
	refs    int
	retired bool
}

// Manifest is the durable catalog of live segments. All structural changes
// go through Commit, which persists the new Version with an atomic rename
// before exposing it.
type Manifest struct {
	mu      sync.Mutex
	paths   *common.PathManager
	current *Version
	handles map[common.FileNo]*tableHandle
}

// New creates an empty manifest for a database rooted at paths.
func New(paths *common.PathManager, numLevels int) *Manifest {
	return &Manifest{
		paths: paths,
		current: &Version{
			Levels: make([][]FileMetadata, numLevels),
		},
		handles: make(map[common.FileNo]*tableHandle),
	}
}

// Load reads the manifest file from disk, replacing the current version.
// Returns false when no manifest exists yet (fresh database).
func (m *Manifest) Load() (bool, error) {
	f, err := os.Open(m.paths.ManifestPath())
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer f.Close()

	v, err := ReadVersion(f)
	if err != nil {
		return false, fmt.Errorf("manifest: parse %s: %w", m.paths.ManifestPath(), err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = v
	return true, nil
}

// Current returns the latest committed version.
func (m *Manifest) Current() *Version {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// AllocateFileNo hands out the next segment file number. The allocation is
// persisted by the following commit; an allocation that never commits
// leaves at most an orphan file that the next commit's numbering skips.
func (m *Manifest) AllocateFileNo() common.FileNo {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.current.NextSSTableNumber
	m.current.NextSSTableNumber = n + 1
	return n
}

// AllocateWALNo hands out the next WAL file number.
func (m *Manifest) AllocateWALNo() common.FileNo {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.current.NextWALNumber
	m.current.NextWALNumber = n + 1
	return n
}

// Commit applies edit to a copy of the current version, persists it with
// fsync plus atomic rename, and only then installs it and retires the
// deleted segments. On error nothing changes and the commit is retriable.
func (m *Manifest) Commit(edit *Edit) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	newVersion := m.applyLocked(edit)
	if err := m.writeLocked(newVersion); err != nil {
		return err
	}
	m.current = newVersion

	// Retired files vanish once the last pinned snapshot releases them.
	for level, fileNos := range edit.Delete {
		for _, fileNo := range fileNos {
			h := m.handles[fileNo]
			if h == nil {
				m.removeFile(fileNo, level)
				continue
			}
			h.retired = true
			if h.refs == 0 {
				m.dropHandle(fileNo, h)
			}
		}
	}
	return nil
}

// applyLocked builds the successor version without mutating the current one.
func (m *Manifest) applyLocked(edit *Edit) *Version {
	v := m.current
	newVersion := &Version{
		CurrentWAL:        v.CurrentWAL,
		LastSeq:           v.LastSeq,
		Levels:            make([][]FileMetadata, len(v.Levels)),
		NextWALNumber:     v.NextWALNumber,
		NextSSTableNumber: v.NextSSTableNumber,
	}
	for i := range v.Levels {
		newVersion.Levels[i] = make([]FileMetadata, len(v.Levels[i]))
		copy(newVersion.Levels[i], v.Levels[i])
	}

	if edit.CurrentWAL != nil {
		newVersion.CurrentWAL = *edit.CurrentWAL
		if *edit.CurrentWAL >= newVersion.NextWALNumber {
			newVersion.NextWALNumber = *edit.CurrentWAL + 1
		}
	}
	if edit.LastSeq != nil && *edit.LastSeq > newVersion.LastSeq {
		newVersion.LastSeq = *edit.LastSeq
	}

	for level, deleted := range edit.Delete {
		if level >= len(newVersion.Levels) {
			continue
		}
		deleteSet := make(map[common.FileNo]struct{}, len(deleted))
		for _, fileNo := range deleted {
			deleteSet[fileNo] = struct{}{}
		}
		filtered := newVersion.Levels[level][:0]
		for _, fm := range newVersion.Levels[level] {
			if _, gone := deleteSet[fm.FileNo]; !gone {
				filtered = append(filtered, fm)
			}
		}
		newVersion.Levels[level] = filtered
	}

	for level, added := range edit.Add {
		for _, fm := range added {
			newVersion.Levels[level] = append(newVersion.Levels[level], fm)
			if fm.FileNo >= newVersion.NextSSTableNumber {
				newVersion.NextSSTableNumber = fm.FileNo + 1
			}
		}
	}

	return newVersion
}

// writeLocked persists v at the manifest path via tmp + fsync + rename.
func (m *Manifest) writeLocked(v *Version) error {
	tmpPath := fmt.Sprintf("%s.%s.tmp", m.paths.ManifestPath(), uuid.NewString())
	f, err := os.Create(tmpPath)
	if err != nil {
		return err
	}

	if err := WriteVersion(f, v); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, m.paths.ManifestPath()); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

// WriteVersion serializes a Version as JSON followed by a crc32 line
// covering the encoded body.
func WriteVersion(w io.Writer, v *Version) error {
	body, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	body = append(body, '\n')
	if _, err := w.Write(body); err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%08x\n", crc32.ChecksumIEEE(body))
	return err
}

// ReadVersion verifies the checksum line, then deserializes the Version.
// Damage anywhere in the file surfaces as common.ErrCorrupt.
func ReadVersion(r io.Reader) (*Version, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	body, sum, ok := splitChecksum(data)
	if !ok {
		return nil, fmt.Errorf("missing checksum line: %w", common.ErrCorrupt)
	}
	if crc32.ChecksumIEEE(body) != sum {
		return nil, fmt.Errorf("checksum mismatch: %w", common.ErrCorrupt)
	}
	var v Version
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, fmt.Errorf("%s: %w", err, common.ErrCorrupt)
	}
	return &v, nil
}

// splitChecksum strips the trailing "%08x\n" line from data.
func splitChecksum(data []byte) (body []byte, sum uint32, ok bool) {
	const trailer = 9
	if len(data) < trailer || data[len(data)-1] != '\n' {
		return nil, 0, false
	}
	parsed, err := strconv.ParseUint(string(data[len(data)-trailer:len(data)-1]), 16, 32)
	if err != nil {
		return nil, 0, false
	}
	return data[:len(data)-trailer], uint32(parsed), true
}

func (m *Manifest) removeFile(fileNo common.FileNo, level int) {
	os.Remove(m.paths.SSTablePath(level, fileNo))
}

func (m *Manifest) dropHandle(fileNo common.FileNo, h *tableHandle) {
	if h.table != nil {
		h.table.Close()
	}
	m.removeFile(fileNo, h.level)
	delete(m.handles, fileNo)
}

// Close releases every open segment handle. Retired-but-pinned files are
// left on disk; the next startup's manifest does not reference them.
func (m *Manifest) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for fileNo, h := range m.handles {
		if h.table != nil {
			if err := h.table.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
			h.table = nil
		}
		delete(m.handles, fileNo)
	}
	return firstErr
}
