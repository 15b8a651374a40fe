package filter

import (
	"hash/fnv"
	"io"
	"math"

	"garnet/internal/bitmap"
	"garnet/internal/common"
)

// bloomFilter is a classic bloom filter using double hashing over FNV-1a.
type bloomFilter struct {
	bits bitmap.Bitmap
	k    uint32 // number of hash functions
	m    uint64 // number of bits
}

var _ Filter = (*bloomFilter)(nil)

// OptimalParams computes bloom filter parameters for n expected keys at
// false-positive rate p.
func OptimalParams(n uint64, p float64) (k uint32, m uint64) {
	if n == 0 {
		n = 1
	}
	// m = -n * ln(p) / (ln(2)^2)
	m = uint64(math.Ceil(-float64(n) * math.Log(p) / (math.Ln2 * math.Ln2)))
	if m < 8 {
		m = 8
	}

	// k = (m/n) * ln(2)
	k = uint32(math.Ceil(float64(m) / float64(n) * math.Ln2))
	if k < 1 {
		k = 1
	}
	return k, m
}

// NewBloomFilter creates an empty bloom filter with k hash functions over
// m bits.
func NewBloomFilter(k uint32, m uint64) Filter {
	return &bloomFilter{
		bits: bitmap.New(m),
		k:    k,
		m:    m,
	}
}

// NewBloomFilterForSet sizes a filter for n keys at false-positive rate p.
func NewBloomFilterForSet(n uint64, p float64) Filter {
	k, m := OptimalParams(n, p)
	return NewBloomFilter(k, m)
}

func (bf *bloomFilter) Add(key []byte) {
	h1, h2 := hashPair(key)
	for i := uint32(0); i < bf.k; i++ {
		bf.bits.Set((h1 + uint64(i)*h2) % bf.m)
	}
}

func (bf *bloomFilter) MayContain(key []byte) bool {
	h1, h2 := hashPair(key)
	for i := uint32(0); i < bf.k; i++ {
		if !bf.bits.Contains((h1 + uint64(i)*h2) % bf.m) {
			return false
		}
	}
	return true
}

// hashPair derives two hash values for double hashing.
func hashPair(key []byte) (uint64, uint64) {
	h1 := fnv.New64a()
	h1.Write(key)
	hash1 := h1.Sum64()

	h2 := fnv.New64a()
	h2.Write(key)
	h2.Write([]byte{0x01})
	hash2 := h2.Sum64()
	if hash2 == 0 {
		hash2 = 1
	}
	return hash1, hash2
}

// Write serializes a bloom filter as k(4) + bitmap. Returns bytes written.
func Write(w io.Writer, f Filter) (int, error) {
	bf := f.(*bloomFilter)
	total, err := common.WriteUint32(w, bf.k)
	if err != nil {
		return total, err
	}
	n, err := bitmap.Write(w, bf.bits)
	total += n
	return total, err
}

// Read deserializes a bloom filter written by Write.
func Read(r io.Reader) (Filter, error) {
	k, err := common.ReadUint32(r)
	if err != nil {
		return nil, err
	}
	bits, err := bitmap.Read(r)
	if err != nil {
		return nil, err
	}
	return &bloomFilter{bits: bits, k: k, m: bits.NumBits()}, nil
}
