package sstable

import "errors"

// Segment file layout:
//
//	              ┌────────────────┐
//	              │     Header     │  magic + format version
//	              ├────────────────┤
//	              │  Data Block 0  │  blockSize entries, sorted by key (no duplicates)
//	              ├────────────────┤
//	              │       ...      │
//	              ├────────────────┤
//	              │  Data Block N  │  up to blockSize entries
//	filterOffset ├────────────────┤
//	              │  Filter Block  │  bloom filter over every key
//	 indexOffset ├────────────────┤
//	              │  Index Block   │  {firstKey, blockOffset} per block + largest key
//	footerOffset ├────────────────┤
//	              │     Footer     │  offsets, entry count, checksum, magic
//	              └────────────────┘
//
// A segment is immutable once built. Build writes to a temporary file and
// publishes it with an atomic rename, so a partially written segment is
// never visible.

const (
	magic   = uint32(0x47524E54) // "GRNT"
	version = uint32(1)

	// headerSize is magic(4) + version(4).
	headerSize = 8

	// blockSize is the maximum number of entries per data block. One
	// sparse index entry is kept per block.
	blockSize = 64

	// bloomFalsePositiveRate sizes the per-segment filter.
	bloomFalsePositiveRate = 0.01
)

// ErrNotFound reports that a segment holds no record at all for the key.
// A tombstone is not ErrNotFound: it is a found entry of type delete.
var ErrNotFound = errors.New("sstable: key not found")
