// Package bloom implements the existence filter persisted in the index
// descriptor.
//
// A filter never reports a present key as absent. It may report an absent key
// as present with a rate that grows with the fill ratio; the page store
// rebuilds the filter from the live key set to bring that rate back down.
//
// Filters are not synchronized. The page store guards them with its own lock.
package bloom

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/bits-and-blooms/bitset"
)

// ErrCorrupted indicates an encoded filter failed validation.
var ErrCorrupted = errors.New("bloom: corrupted filter data")

const (
	maxHashes = 16
	headerLen = 16
)

// Filter is a word-aligned bloom filter using double hashing.
type Filter struct {
	bits    *bitset.BitSet
	numBits uint64
	k       uint32
	count   uint32
}

// OptimalSize computes the bit count and hash count for n expected keys at
// false positive rate p. Out-of-range inputs fall back to n=1, p=0.01.
func OptimalSize(n int, p float64) (numBits uint64, k uint32) {
	if n <= 0 {
		n = 1
	}
	if p <= 0 || p >= 1 {
		p = 0.01
	}

	m := -float64(n) * math.Log(p) / (math.Ln2 * math.Ln2)
	numBits = max(((uint64(m)+63)/64)*64, 64)

	k = uint32(math.Ceil(m / float64(n) * math.Ln2))
	return numBits, min(max(k, 1), maxHashes)
}

// New creates a filter with numBits rounded up to a multiple of 64.
func New(numBits uint64, k uint32) *Filter {
	numBits = max(((numBits+63)/64)*64, 64)
	k = min(max(k, 1), maxHashes)
	return &Filter{
		bits:    bitset.New(uint(numBits)),
		numBits: numBits,
		k:       k,
	}
}

// NewForCapacity sizes a filter for n keys at false positive rate p.
func NewForCapacity(n int, p float64) *Filter {
	return New(OptimalSize(n, p))
}

// Add inserts key. MayContain(key) is true from then on.
func (f *Filter) Add(key []byte) {
	h1, h2 := hash(key)
	for i := range uint64(f.k) {
		f.bits.Set(uint((h1 + i*h2) % f.numBits))
	}
	f.count++
}

// MayContain returns false only if key was never added.
func (f *Filter) MayContain(key []byte) bool {
	h1, h2 := hash(key)
	for i := range uint64(f.k) {
		if !f.bits.Test(uint((h1 + i*h2) % f.numBits)) {
			return false
		}
	}
	return true
}

// Count returns the number of Add calls since creation or Clear.
func (f *Filter) Count() uint32 { return f.count }

// Hashes returns the number of hash functions.
func (f *Filter) Hashes() uint32 { return f.k }

// Bits returns the filter width in bits.
func (f *Filter) Bits() uint64 { return f.numBits }

// EstimatedFalsePositiveRate is (1 - e^(-kn/m))^k for the current count.
func (f *Filter) EstimatedFalsePositiveRate() float64 {
	if f.count == 0 {
		return 0
	}
	kn := float64(f.k) * float64(f.count)
	return math.Pow(1-math.Exp(-kn/float64(f.numBits)), float64(f.k))
}

// SizeBytes returns the in-memory size of the bit array.
func (f *Filter) SizeBytes() int {
	return int(f.numBits / 8)
}

// Clear resets the filter to empty.
func (f *Filter) Clear() {
	f.bits.ClearAll()
	f.count = 0
}

// WriteTo encodes the filter: numBits, k and count little-endian, then the
// bit array.
func (f *Filter) WriteTo(w io.Writer) (int64, error) {
	var hdr [headerLen]byte
	binary.LittleEndian.PutUint64(hdr[0:8], f.numBits)
	binary.LittleEndian.PutUint32(hdr[8:12], f.k)
	binary.LittleEndian.PutUint32(hdr[12:16], f.count)

	n, err := w.Write(hdr[:])
	if err != nil {
		return int64(n), err
	}
	m, err := f.bits.WriteTo(w)
	return int64(n) + m, err
}

// MarshalBinary returns the WriteTo encoding.
func (f *Filter) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Read decodes a filter written by WriteTo.
func Read(r io.Reader) (*Filter, error) {
	var hdr [headerLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("%w: header: %w", ErrCorrupted, err)
	}

	numBits := binary.LittleEndian.Uint64(hdr[0:8])
	k := binary.LittleEndian.Uint32(hdr[8:12])
	if numBits < 64 || numBits%64 != 0 || k < 1 || k > maxHashes {
		return nil, ErrCorrupted
	}

	bits := &bitset.BitSet{}
	if _, err := bits.ReadFrom(r); err != nil {
		return nil, fmt.Errorf("%w: bits: %w", ErrCorrupted, err)
	}
	if uint64(bits.Len()) != numBits {
		return nil, ErrCorrupted
	}

	return &Filter{
		bits:    bits,
		numBits: numBits,
		k:       k,
		count:   binary.LittleEndian.Uint32(hdr[12:16]),
	}, nil
}

// Unmarshal decodes a MarshalBinary blob.
func Unmarshal(data []byte) (*Filter, error) {
	return Read(bytes.NewReader(data))
}

// hash derives two FNV-1a values for double hashing; h2 is forced odd.
func hash(key []byte) (h1, h2 uint64) {
	const (
		offset = 14695981039346656037
		prime  = 1099511628211
	)

	h1 = offset
	for _, b := range key {
		h1 ^= uint64(b)
		h1 *= prime
	}

	h2 = offset ^ 0x5555555555555555
	for i := len(key) - 1; i >= 0; i-- {
		h2 ^= uint64(key[i])
		h2 *= prime
	}
	return h1, h2 | 1
}
