package sstable

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"

	"garnet/internal/common"
	"garnet/internal/filter"
)

// Table provides random and sequential read access to one segment file.
type Table struct {
	file   *os.File
	path   string
	fileNo common.FileNo
	footer *Footer
	index  *Index
	filter filter.Filter
}

// Open opens a segment file, verifies its checksum, and loads the footer,
// index, and filter into memory.
func Open(path string, fileNo common.FileNo) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("sstable: open %s: %w", path, err)
	}

	t, err := load(f, path, fileNo)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("sstable: load %s: %w", path, err)
	}
	return t, nil
}

func load(f *os.File, path string, fileNo common.FileNo) (*Table, error) {
	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := stat.Size()
	if size < headerSize+footerSize {
		return nil, fmt.Errorf("file too small (%d bytes): %w", size, common.ErrCorrupt)
	}

	var hdr [headerSize]byte
	if _, err := f.ReadAt(hdr[:], 0); err != nil {
		return nil, err
	}
	if binary.LittleEndian.Uint32(hdr[0:4]) != magic {
		return nil, fmt.Errorf("bad magic: %w", common.ErrCorrupt)
	}
	if v := binary.LittleEndian.Uint32(hdr[4:8]); v != version {
		return nil, fmt.Errorf("unsupported format version %d", v)
	}

	footerData := make([]byte, footerSize)
	if _, err := f.ReadAt(footerData, size-footerSize); err != nil {
		return nil, err
	}
	footer, err := ReadFooter(footerData)
	if err != nil {
		return nil, err
	}

	// The checksum covers the file up to (not including) the checksum
	// field itself, which sits 8 bytes before the end.
	crc := crc32.NewIEEE()
	if _, err := io.Copy(crc, io.NewSectionReader(f, 0, size-8)); err != nil {
		return nil, err
	}
	if crc.Sum32() != footer.Checksum {
		return nil, fmt.Errorf("checksum mismatch: %w", common.ErrCorrupt)
	}

	if footer.FilterOffset < headerSize || footer.IndexOffset < footer.FilterOffset ||
		int64(footer.IndexOffset) > size-footerSize {
		return nil, fmt.Errorf("inconsistent footer offsets: %w", common.ErrCorrupt)
	}

	filterData := make([]byte, footer.IndexOffset-footer.FilterOffset)
	if _, err := f.ReadAt(filterData, int64(footer.FilterOffset)); err != nil {
		return nil, err
	}
	bloom, err := filter.Read(bytes.NewReader(filterData))
	if err != nil {
		return nil, fmt.Errorf("filter block: %w", common.ErrCorrupt)
	}

	indexData := make([]byte, size-footerSize-int64(footer.IndexOffset))
	if _, err := f.ReadAt(indexData, int64(footer.IndexOffset)); err != nil {
		return nil, err
	}
	index, err := ReadIndex(bytes.NewReader(indexData))
	if err != nil {
		return nil, fmt.Errorf("index block: %w", common.ErrCorrupt)
	}

	return &Table{
		file:   f,
		path:   path,
		fileNo: fileNo,
		footer: footer,
		index:  index,
		filter: bloom,
	}, nil
}

func (t *Table) Path() string {
	return t.path
}

func (t *Table) FileNo() common.FileNo {
	return t.fileNo
}

// Len returns the total number of entries in the segment.
func (t *Table) Len() int {
	return int(t.footer.EntryCount)
}

// Bounds returns the smallest and largest keys stored in the segment.
// Both are nil for an empty segment.
func (t *Table) Bounds() (smallest, largest []byte) {
	if len(t.index.Entries) == 0 {
		return nil, nil
	}
	return t.index.Entries[0].Key, t.index.LargestKey
}

// Contains reports whether key falls inside the segment's key range.
func (t *Table) Contains(key []byte) bool {
	smallest, largest := t.Bounds()
	if smallest == nil {
		return false
	}
	return bytes.Compare(key, smallest) >= 0 && bytes.Compare(key, largest) <= 0
}

// Get looks up the entry for key. The returned entry may be a tombstone;
// callers distinguish "found value", "found tombstone", and ErrNotFound.
func (t *Table) Get(key []byte) (*common.Entry, error) {
	if !t.Contains(key) {
		return nil, ErrNotFound
	}
	if !t.filter.MayContain(key) {
		return nil, ErrNotFound
	}

	blockIdx, ok := t.index.FindBlock(key)
	if !ok {
		return nil, ErrNotFound
	}

	data, err := t.readBlock(blockIdx)
	if err != nil {
		return nil, err
	}
	entry, err := searchBlock(data, key)
	if err != nil {
		return nil, fmt.Errorf("sstable: block %d of %s: %w", blockIdx, t.path, err)
	}
	if entry == nil {
		return nil, ErrNotFound
	}
	return entry, nil
}

// readBlock reads the raw bytes of one data block.
func (t *Table) readBlock(blockIdx int) ([]byte, error) {
	start := t.index.Entries[blockIdx].BlockOffset
	end := t.footer.FilterOffset
	if blockIdx+1 < len(t.index.Entries) {
		end = t.index.Entries[blockIdx+1].BlockOffset
	}

	data := make([]byte, end-start)
	if _, err := t.file.ReadAt(data, int64(start)); err != nil {
		return nil, fmt.Errorf("sstable: read block %d of %s: %w", blockIdx, t.path, err)
	}
	return data, nil
}

// searchBlock parses a data block and binary-searches it for key.
func searchBlock(data []byte, key []byte) (*common.Entry, error) {
	var entries []*common.Entry
	r := bytes.NewReader(data)
	for {
		entry, err := common.ReadEntry(r)
		if err != nil {
			return nil, err
		}
		if entry == nil {
			break
		}
		entries = append(entries, entry)
	}

	left, right := 0, len(entries)
	for left < right {
		mid := (left + right) / 2
		switch cmp := bytes.Compare(key, entries[mid].Key); {
		case cmp == 0:
			return entries[mid], nil
		case cmp < 0:
			right = mid
		default:
			left = mid + 1
		}
	}
	return nil, nil
}

// Iterator returns a sequential scan over all entries, ascending by key.
// The iterator owns a separate file handle and closes it on exhaustion.
func (t *Table) Iterator() common.EntryIterator {
	return t.scanFrom(headerSize)
}

// RangeIterator returns an ascending scan over entries with keys in
// [lo, hi]. Nil bounds are unbounded on that side.
func (t *Table) RangeIterator(lo, hi []byte) common.EntryIterator {
	offset := uint64(headerSize)
	if lo != nil {
		if blockIdx, ok := t.index.FindBlock(lo); ok {
			offset = t.index.Entries[blockIdx].BlockOffset
		}
	}
	return common.Bounded(t.scanFrom(offset), lo, hi)
}

func (t *Table) scanFrom(offset uint64) common.EntryIterator {
	f, err := os.Open(t.path)
	if err != nil {
		return &tableIterator{err: err}
	}
	if _, err := f.Seek(int64(offset), io.SeekStart); err != nil {
		f.Close()
		return &tableIterator{err: err}
	}
	remaining := int64(t.footer.FilterOffset) - int64(offset)
	if remaining < 0 {
		remaining = 0
	}
	return &tableIterator{
		file:   f,
		reader: bufio.NewReader(io.LimitReader(f, remaining)),
	}
}

// tableIterator sequentially decodes entries from the data block region.
type tableIterator struct {
	file   *os.File
	reader *bufio.Reader
	err    error
}

var _ common.EntryIterator = (*tableIterator)(nil)

func (it *tableIterator) Next() (*common.Entry, error) {
	if it.err != nil {
		return nil, it.err
	}
	if it.file == nil {
		return nil, nil
	}

	entry, err := common.ReadEntry(it.reader)
	if err != nil {
		it.Close()
		it.err = err
		return nil, err
	}
	if entry == nil {
		it.Close()
		return nil, nil
	}
	return entry, nil
}

func (it *tableIterator) Close() error {
	if it.file == nil {
		return nil
	}
	err := it.file.Close()
	it.file = nil
	it.reader = nil
	return err
}

// Close releases the table's file handle.
func (t *Table) Close() error {
	if t.file == nil {
		return nil
	}
	err := t.file.Close()
	t.file = nil
	return err
}
