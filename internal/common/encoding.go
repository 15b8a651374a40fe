package common

import (
	"encoding/binary"
	"errors"
	"io"
)

// Entry wire format, shared by WAL payloads and segment data blocks:
//
//	type(1) + seq(8) + keyLen(varint) + valueLen(varint) + key + value
//
// The format is self-describing so recovery can scan records forward
// without an external length table.

// WriteEntry encodes e to w. Returns the number of bytes written.
func WriteEntry(w io.Writer, e *Entry) (int, error) {
	var hdr [1 + 8]byte
	var varintBuf [binary.MaxVarintLen64]byte
	total := 0

	hdr[0] = byte(e.Type)
	binary.LittleEndian.PutUint64(hdr[1:], e.Seq)
	n, err := w.Write(hdr[:])
	total += n
	if err != nil {
		return total, err
	}

	n = binary.PutUvarint(varintBuf[:], uint64(len(e.Key)))
	n, err = w.Write(varintBuf[:n])
	total += n
	if err != nil {
		return total, err
	}

	n = binary.PutUvarint(varintBuf[:], uint64(len(e.Value)))
	n, err = w.Write(varintBuf[:n])
	total += n
	if err != nil {
		return total, err
	}

	if len(e.Key) > 0 {
		n, err = w.Write(e.Key)
		total += n
		if err != nil {
			return total, err
		}
	}

	if len(e.Value) > 0 {
		n, err = w.Write(e.Value)
		total += n
		if err != nil {
			return total, err
		}
	}

	return total, nil
}

// ReadEntry decodes a single entry from r. Returns a nil entry on clean EOF.
// A record cut off partway through decodes as io.ErrUnexpectedEOF.
func ReadEntry(r io.Reader) (*Entry, error) {
	var typeBuf [1]byte
	if _, err := io.ReadFull(r, typeBuf[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, err
	}

	var seqBuf [8]byte
	if _, err := io.ReadFull(r, seqBuf[:]); err != nil {
		return nil, eofToUnexpected(err)
	}

	br := byteReader{r}
	keyLen, err := binary.ReadUvarint(br)
	if err != nil {
		return nil, eofToUnexpected(err)
	}
	valueLen, err := binary.ReadUvarint(br)
	if err != nil {
		return nil, eofToUnexpected(err)
	}

	entry := &Entry{
		Type: EntryType(typeBuf[0]),
		Seq:  binary.LittleEndian.Uint64(seqBuf[:]),
	}
	if entry.Type != EntryTypePut && entry.Type != EntryTypeDelete {
		return nil, ErrCorrupt
	}

	if keyLen > 0 {
		entry.Key = make([]byte, keyLen)
		if _, err := io.ReadFull(r, entry.Key); err != nil {
			return nil, eofToUnexpected(err)
		}
	}
	if valueLen > 0 {
		entry.Value = make([]byte, valueLen)
		if _, err := io.ReadFull(r, entry.Value); err != nil {
			return nil, eofToUnexpected(err)
		}
	}

	return entry, nil
}

// eofToUnexpected maps a bare EOF in the middle of a record to
// io.ErrUnexpectedEOF so callers can tell a torn record from a clean end.
func eofToUnexpected(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

// byteReader adapts io.Reader to io.ByteReader for binary.ReadUvarint.
type byteReader struct {
	io.Reader
}

func (br byteReader) ReadByte() (byte, error) {
	var b [1]byte
	if _, err := io.ReadFull(br.Reader, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

func WriteUint32(w io.Writer, v uint32) (int, error) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	return w.Write(buf[:])
}

func ReadUint32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func WriteUint64(w io.Writer, v uint64) (int, error) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return w.Write(buf[:])
}

func ReadUint64(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

func WriteBytes(w io.Writer, data []byte) (int, error) {
	if len(data) == 0 {
		return 0, nil
	}
	return w.Write(data)
}

func ReadBytes(r io.Reader, length uint64) ([]byte, error) {
	if length == 0 {
		return nil, nil
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return data, nil
}
