// Package bitfield implements the fixed-size bit array used to track piece
// and block completion state throughout the peer manager: what we have,
// what we have requested, and what a remote peer claims to have.
package bitfield

import (
	"fmt"

	"github.com/willf/bitset"
)

// Bitfield is a fixed-size bit array. Its size is set at construction and
// never changes. The wire representation is MSB-first: bit n lives in byte
// n/8, and within that byte it is the (7 - n%8)'th bit from the low end,
// matching the BitTorrent BITFIELD message layout.
type Bitfield struct {
	n uint
	b *bitset.BitSet
}

// New creates a Bitfield of n bits, all clear.
func New(n uint) *Bitfield {
	return &Bitfield{n: n, b: bitset.New(n)}
}

// Len returns the number of bits in the bitfield.
func (f *Bitfield) Len() uint {
	return f.n
}

// Add sets bit i.
func (f *Bitfield) Add(i uint) {
	f.mustBeInRange(i)
	f.b.Set(i)
}

// Remove clears bit i.
func (f *Bitfield) Remove(i uint) {
	f.mustBeInRange(i)
	f.b.Clear(i)
}

// Test reports whether bit i is set.
func (f *Bitfield) Test(i uint) bool {
	f.mustBeInRange(i)
	return f.b.Test(i)
}

// AddRange sets every bit in [a, b).
func (f *Bitfield) AddRange(a, b uint) {
	for i := a; i < b; i++ {
		f.Add(i)
	}
}

// RemoveRange clears every bit in [a, b).
func (f *Bitfield) RemoveRange(a, b uint) {
	for i := a; i < b; i++ {
		f.Remove(i)
	}
}

// Popcount returns the number of set bits.
func (f *Bitfield) Popcount() uint {
	return f.b.Count()
}

// Complete reports whether every bit is set.
func (f *Bitfield) Complete() bool {
	return f.b.All()
}

// UnionInto sets, in f, every bit that is set in other. f and other must
// have the same length.
func (f *Bitfield) UnionInto(other *Bitfield) {
	f.mustMatch(other)
	f.b.InPlaceUnion(other.b)
}

// DifferenceInto clears, in f, every bit that is set in other. f and other
// must have the same length.
func (f *Bitfield) DifferenceInto(other *Bitfield) {
	f.mustMatch(other)
	f.b.InPlaceDifference(other.b)
}

// Intersects reports whether f and other have any bit in common.
func (f *Bitfield) Intersects(other *Bitfield) bool {
	f.mustMatch(other)
	return f.b.IntersectionCardinality(other.b) > 0
}

// Dup returns a deep copy of f.
func (f *Bitfield) Dup() *Bitfield {
	return &Bitfield{n: f.n, b: f.b.Clone()}
}

// Clear resets every bit to 0.
func (f *Bitfield) Clear() {
	f.b.ClearAll()
}

// SetAll sets every bit to 1.
func (f *Bitfield) SetAll() {
	for i := uint(0); i < f.n; i++ {
		f.b.Set(i)
	}
}

// Indices returns the indices of every set bit, in ascending order.
func (f *Bitfield) Indices() []uint {
	indices := make([]uint, 0, f.b.Count())
	for i, ok := f.b.NextSet(0); ok; i, ok = f.b.NextSet(i + 1) {
		indices = append(indices, i)
	}
	return indices
}

// MarshalBinary encodes f as ⌈n/8⌉ bytes, MSB first: bit i lives in byte
// i/8, at bit position (7 - i%8) within that byte.
func (f *Bitfield) MarshalBinary() ([]byte, error) {
	numBytes := (f.n + 7) / 8
	buf := make([]byte, numBytes)
	for i := uint(0); i < f.n; i++ {
		if f.b.Test(i) {
			buf[i/8] |= 1 << (7 - i%8)
		}
	}
	return buf, nil
}

// UnmarshalBinary decodes data into f, per the MSB-first layout documented
// on MarshalBinary. data must be exactly ⌈n/8⌉ bytes, where n is the
// bitfield's fixed length.
func (f *Bitfield) UnmarshalBinary(data []byte) error {
	numBytes := (f.n + 7) / 8
	if uint(len(data)) != numBytes {
		return fmt.Errorf("bitfield: expected %d bytes, got %d", numBytes, len(data))
	}
	f.b = bitset.New(f.n)
	for i := uint(0); i < f.n; i++ {
		if data[i/8]&(1<<(7-i%8)) != 0 {
			f.b.Set(i)
		}
	}
	return nil
}

func (f *Bitfield) mustBeInRange(i uint) {
	if i >= f.n {
		panic(fmt.Sprintf("bitfield: index %d out of range [0, %d)", i, f.n))
	}
}

func (f *Bitfield) mustMatch(other *Bitfield) {
	if f.n != other.n {
		panic(fmt.Sprintf("bitfield: length mismatch: %d != %d", f.n, other.n))
	}
}
