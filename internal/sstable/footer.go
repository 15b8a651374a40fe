package sstable

import (
	"encoding/binary"
	"fmt"
	"io"

	"garnet/internal/common"
)

// footerSize is the fixed trailer length:
// filterOffset(8) + indexOffset(8) + entryCount(8) + checksum(4) + magic(4).
const footerSize = 32

// Footer locates the filter and index blocks and carries the whole-file
// checksum. The checksum covers every byte before the checksum field
// itself.
type Footer struct {
	FilterOffset uint64
	IndexOffset  uint64
	EntryCount   uint64
	Checksum     uint32
}

// writeFooterBody writes the checksummed portion of the footer.
func writeFooterBody(w io.Writer, f *Footer) (int, error) {
	total, err := common.WriteUint64(w, f.FilterOffset)
	if err != nil {
		return total, err
	}
	n, err := common.WriteUint64(w, f.IndexOffset)
	total += n
	if err != nil {
		return total, err
	}
	n, err = common.WriteUint64(w, f.EntryCount)
	total += n
	return total, err
}

// writeFooterTail writes the checksum and trailing magic.
func writeFooterTail(w io.Writer, f *Footer) (int, error) {
	total, err := common.WriteUint32(w, f.Checksum)
	if err != nil {
		return total, err
	}
	n, err := common.WriteUint32(w, magic)
	total += n
	return total, err
}

// ReadFooter parses the fixed-size trailer.
func ReadFooter(data []byte) (*Footer, error) {
	if len(data) != footerSize {
		return nil, fmt.Errorf("sstable: footer is %d bytes, want %d: %w", len(data), footerSize, common.ErrCorrupt)
	}
	if binary.LittleEndian.Uint32(data[28:32]) != magic {
		return nil, fmt.Errorf("sstable: bad trailing magic: %w", common.ErrCorrupt)
	}
	return &Footer{
		FilterOffset: binary.LittleEndian.Uint64(data[0:8]),
		IndexOffset:  binary.LittleEndian.Uint64(data[8:16]),
		EntryCount:   binary.LittleEndian.Uint64(data[16:24]),
		Checksum:     binary.LittleEndian.Uint32(data[24:28]),
	}, nil
}
