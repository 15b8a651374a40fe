package common

import (
	"bytes"
	"errors"
)

// FileNo identifies a file (segment or WAL).
type FileNo uint64

// EntryType enumerates logical operations flowing through WAL, memtable,
// and segment components.
type EntryType uint8

const (
	EntryTypePut EntryType = iota
	EntryTypeDelete
)

// ErrCorrupt reports a checksum mismatch or malformed record. It is
// distinct from absence: a corrupt read must never look like "not found".
var ErrCorrupt = errors.New("corrupt record")

// Entry captures a single mutation in sequence order. Sequence numbers are
// process-global and strictly increasing; they are the sole tie-breaker for
// "most recent" when the same key appears in multiple places.
type Entry struct {
	Type  EntryType
	Seq   uint64
	Key   []byte
	Value []byte
}

// Equal compares two entries using slice content rather than pointer identity.
func (e *Entry) Equal(other *Entry) bool {
	switch {
	case e == nil && other == nil:
		return true
	case e == nil || other == nil:
		return false
	default:
		return e.Type == other.Type && e.Seq == other.Seq &&
			bytes.Equal(e.Key, other.Key) && bytes.Equal(e.Value, other.Value)
	}
}

// Clone returns a deep copy of the entry.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	return &Entry{
		Type:  e.Type,
		Seq:   e.Seq,
		Key:   bytes.Clone(e.Key),
		Value: bytes.Clone(e.Value),
	}
}

// EntryIterator produces an ascending stream of entries. Next returns a nil
// entry on clean end of stream. Iterators are forward-only; obtain a fresh
// one to restart.
type EntryIterator interface {
	Next() (*Entry, error)
}
