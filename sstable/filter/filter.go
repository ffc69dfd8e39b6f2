// Package filter implements the fixed-size bloom filter stored in every
// sorted run.
package filter

import (
	"encoding/binary"
	"fmt"

	"github.com/bits-and-blooms/bitset"
	"github.com/spaolacci/murmur3"

	"github.com/AmrMurad1/gostore/shared"
)

const (
	hashSeed  = 1
	numHashes = 4
)

type Filter struct {
	bits *bitset.BitSet
}

func New() *Filter {
	return &Filter{bits: bitset.New(shared.FilterBits)}
}

// locations splits the 128-bit murmur3 hash of the little-endian key into
// four 32-bit lanes, each reduced modulo the filter width.
func locations(key shared.Key) [numHashes]uint {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(key))
	h1, h2 := murmur3.Sum128WithSeed(buf[:], hashSeed)

	lanes := [numHashes]uint32{uint32(h1), uint32(h1 >> 32), uint32(h2), uint32(h2 >> 32)}
	var locs [numHashes]uint
	for i, lane := range lanes {
		locs[i] = uint(lane % shared.FilterBits)
	}
	return locs
}

// Add adds a key to the bloom filter
func (f *Filter) Add(key shared.Key) {
	for _, loc := range locations(key) {
		f.bits.Set(loc)
	}
}

// MayContain reports false only when key was never added.
func (f *Filter) MayContain(key shared.Key) bool {
	for _, loc := range locations(key) {
		if !f.bits.Test(loc) {
			return false
		}
	}
	return true
}

// Encode serializes the bit-array to exactly shared.FilterBytes bytes,
// least significant bit first.
func (f *Filter) Encode() []byte {
	buf := make([]byte, shared.FilterBytes)
	for i, ok := f.bits.NextSet(0); ok; i, ok = f.bits.NextSet(i + 1) {
		buf[i/8] |= 1 << (i % 8)
	}
	return buf
}

// Decode deserializes a byte slice produced by Encode.
func Decode(data []byte) (*Filter, error) {
	if len(data) != shared.FilterBytes {
		return nil, fmt.Errorf("%w: bloom filter is %d bytes, want %d", shared.ErrCorruptRun, len(data), shared.FilterBytes)
	}
	words := make([]uint64, shared.FilterBytes/8)
	for i := range words {
		words[i] = binary.LittleEndian.Uint64(data[i*8:])
	}
	return &Filter{bits: bitset.From(words)}, nil
}
