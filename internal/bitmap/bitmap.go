package bitmap

import (
	"fmt"
	"io"

	"garnet/internal/common"
)

// Bitmap is a fixed-size set of bit positions backing the bloom filter.
type Bitmap interface {
	Set(i uint64)
	Contains(i uint64) bool
	NumBits() uint64
	Bytes() []byte
}

type bitmapImpl struct {
	data    []byte
	numBits uint64
}

// New creates a bitmap with the given number of bits, all zero.
func New(numBits uint64) Bitmap {
	return &bitmapImpl{
		data:    make([]byte, (numBits+7)/8),
		numBits: numBits,
	}
}

// FromBytes wraps previously serialized bitmap data.
func FromBytes(numBits uint64, data []byte) Bitmap {
	return &bitmapImpl{data: data, numBits: numBits}
}

func (b *bitmapImpl) Set(i uint64) {
	if i >= b.numBits {
		panic(fmt.Sprintf("bitmap: index %d out of range [0, %d)", i, b.numBits))
	}
	b.data[i/8] |= 1 << (i % 8)
}

func (b *bitmapImpl) Contains(i uint64) bool {
	if i >= b.numBits {
		panic(fmt.Sprintf("bitmap: index %d out of range [0, %d)", i, b.numBits))
	}
	return b.data[i/8]&(1<<(i%8)) != 0
}

func (b *bitmapImpl) NumBits() uint64 {
	return b.numBits
}

func (b *bitmapImpl) Bytes() []byte {
	return b.data
}

// Write serializes a bitmap as numBits(8) + data. Returns bytes written.
func Write(w io.Writer, b Bitmap) (int, error) {
	total, err := common.WriteUint64(w, b.NumBits())
	if err != nil {
		return total, err
	}
	n, err := common.WriteBytes(w, b.Bytes())
	total += n
	return total, err
}

// Read deserializes a bitmap written by Write.
func Read(r io.Reader) (Bitmap, error) {
	numBits, err := common.ReadUint64(r)
	if err != nil {
		return nil, err
	}
	data, err := common.ReadBytes(r, (numBits+7)/8)
	if err != nil {
		return nil, err
	}
	if data == nil {
		data = []byte{}
	}
	return FromBytes(numBits, data), nil
}
