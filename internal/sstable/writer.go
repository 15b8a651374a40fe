package sstable

import (
	"bufio"
	"bytes"
	"fmt"
	"hash/crc32"
	"io"
	"os"

	"github.com/google/uuid"

	"garnet/internal/common"
	"garnet/internal/filter"
)

// BuildResult describes a freshly built segment.
type BuildResult struct {
	BytesWritten uint64
	SmallestKey  []byte
	LargestKey   []byte
	EntryCount   uint64
}

// countingWriter tracks the current file offset across helpers.
type countingWriter struct {
	w io.Writer
	n uint64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += uint64(n)
	return n, err
}

// Build streams sorted entries into an immutable segment file at path.
//
// Input must be ascending by key; duplicate keys are deduplicated here,
// keeping the entry with the highest sequence number. Output goes to a
// temporary file first and becomes visible only through the final atomic
// rename, so a failed build leaves nothing behind.
func Build(path string, entries common.EntryIterator) (*BuildResult, error) {
	tmpPath := fmt.Sprintf("%s.%s.tmp", path, uuid.NewString())
	f, err := os.Create(tmpPath)
	if err != nil {
		return nil, err
	}

	result, err := writeSegment(f, entries)
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, err
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return nil, err
	}
	return result, nil
}

func writeSegment(f *os.File, entries common.EntryIterator) (*BuildResult, error) {
	bw := bufio.NewWriter(f)
	crc := crc32.NewIEEE()
	cw := &countingWriter{w: io.MultiWriter(bw, crc)}

	if _, err := common.WriteUint32(cw, magic); err != nil {
		return nil, err
	}
	if _, err := common.WriteUint32(cw, version); err != nil {
		return nil, err
	}

	var (
		indexEntries    []IndexEntry
		keys            [][]byte
		blockEntryCount int
		totalCount      uint64
		smallestKey     []byte
		largestKey      []byte
	)

	emit := func(e *common.Entry) error {
		if blockEntryCount == 0 {
			indexEntries = append(indexEntries, IndexEntry{
				BlockOffset: cw.n,
				Key:         bytes.Clone(e.Key),
			})
		}
		if totalCount == 0 {
			smallestKey = bytes.Clone(e.Key)
		}
		largestKey = bytes.Clone(e.Key)
		keys = append(keys, e.Key)

		if _, err := common.WriteEntry(cw, e); err != nil {
			return err
		}
		totalCount++
		blockEntryCount++
		if blockEntryCount >= blockSize {
			blockEntryCount = 0
		}
		return nil
	}

	// Dedicate a one-entry lookahead to deduplication: among entries with
	// equal keys only the highest sequence number survives.
	var pending *common.Entry
	for {
		entry, err := entries.Next()
		if err != nil {
			return nil, err
		}
		if entry == nil {
			break
		}
		if pending == nil {
			pending = entry
			continue
		}
		switch cmp := bytes.Compare(entry.Key, pending.Key); {
		case cmp < 0:
			return nil, fmt.Errorf("sstable: entries out of order: %q after %q", entry.Key, pending.Key)
		case cmp == 0:
			if entry.Seq > pending.Seq {
				pending = entry
			}
		default:
			if err := emit(pending); err != nil {
				return nil, err
			}
			pending = entry
		}
	}
	if pending != nil {
		if err := emit(pending); err != nil {
			return nil, err
		}
	}

	// Filter block.
	filterOffset := cw.n
	bloom := filter.NewBloomFilterForSet(totalCount, bloomFalsePositiveRate)
	for _, k := range keys {
		bloom.Add(k)
	}
	if _, err := filter.Write(cw, bloom); err != nil {
		return nil, err
	}

	// Index block.
	indexOffset := cw.n
	index := &Index{Entries: indexEntries, LargestKey: largestKey}
	if _, err := WriteIndex(cw, index); err != nil {
		return nil, err
	}

	// Footer. The checksum covers everything written so far, including
	// the footer's own offset fields.
	footer := &Footer{
		FilterOffset: filterOffset,
		IndexOffset:  indexOffset,
		EntryCount:   totalCount,
	}
	if _, err := writeFooterBody(cw, footer); err != nil {
		return nil, err
	}
	footer.Checksum = crc.Sum32()
	tailN, err := writeFooterTail(bw, footer)
	if err != nil {
		return nil, err
	}
	if err := bw.Flush(); err != nil {
		return nil, err
	}

	return &BuildResult{
		BytesWritten: cw.n + uint64(tailN),
		SmallestKey:  smallestKey,
		LargestKey:   largestKey,
		EntryCount:   totalCount,
	}, nil
}
