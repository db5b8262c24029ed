// Package bloom provides a probabilistic set-membership sketch: a bit
// array probed by multiple hash functions. Queries may return false
// positives at a configurable rate but never false negatives.
//
// Filters created with the same seed, hash count and capacity can be
// combined with union and intersection, or inverted in place.
// A Filter is not safe for concurrent use.
package bloom

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/bits-and-blooms/bitset"
	"github.com/cespare/xxhash/v2"
)

var (
	// ErrInvalidArgument is returned when a construction parameter is
	// outside its documented domain.
	ErrInvalidArgument = errors.New("bloom: invalid argument")

	// ErrIncompatible is returned when two filters cannot be combined
	// because their seed, hash count or capacity differ.
	ErrIncompatible = errors.New("bloom: incompatible filters")

	// ErrMalformed is returned when serialized input is truncated,
	// carries unrecognized markers or is internally inconsistent.
	ErrMalformed = errors.New("bloom: malformed serialized filter")
)

// Filter is a Bloom filter over arbitrary byte, string and numeric items.
type Filter struct {
	seed      uint64
	numHashes uint16
	numBits   uint64
	bits      *bitset.BitSet
	empty     bool
}

// hashPair derives the two base hashes for double hashing: probe i uses
// (h0 + i*h1) mod capacity. The second hash is seeded with the first so
// the pair stays decorrelated.
func (f *Filter) hashPair(data []byte) (uint64, uint64) {
	d := xxhash.NewWithSeed(f.seed)
	_, _ = d.Write(data)
	h0 := d.Sum64()
	d = xxhash.NewWithSeed(h0)
	_, _ = d.Write(data)
	return h0, d.Sum64()
}

func (f *Filter) update(h0, h1 uint64) {
	for i := uint64(0); i < uint64(f.numHashes); i++ {
		f.bits.Set(uint((h0 + i*h1) % f.numBits))
	}
	f.empty = false
}

func (f *Filter) query(h0, h1 uint64) bool {
	for i := uint64(0); i < uint64(f.numHashes); i++ {
		if !f.bits.Test(uint((h0 + i*h1) % f.numBits)) {
			return false
		}
	}
	return true
}

func (f *Filter) queryAndUpdate(h0, h1 uint64) bool {
	seen := true
	for i := uint64(0); i < uint64(f.numHashes); i++ {
		idx := uint((h0 + i*h1) % f.numBits)
		if !f.bits.Test(idx) {
			seen = false
			f.bits.Set(idx)
		}
	}
	f.empty = false
	return seen
}

// Update adds the given bytes to the filter. Empty input is ignored.
func (f *Filter) Update(data []byte) {
	if len(data) == 0 {
		return
	}
	f.update(f.hashPair(data))
}

// UpdateString adds the given string to the filter. The empty string is
// ignored.
func (f *Filter) UpdateString(item string) {
	f.Update([]byte(item))
}

// UpdateUint64 adds the given integer to the filter.
func (f *Filter) UpdateUint64(item uint64) {
	f.Update(leBytes(item))
}

// UpdateInt64 adds the given integer to the filter.
func (f *Filter) UpdateInt64(item int64) {
	f.Update(leBytes(uint64(item)))
}

// UpdateFloat64 adds the given value to the filter. Negative zero updates
// as positive zero so the two query identically.
func (f *Filter) UpdateFloat64(item float64) {
	f.Update(leBytes(floatBits(item)))
}

// Query reports whether the given bytes might have been seen. Empty input
// always reports false.
func (f *Filter) Query(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	return f.query(f.hashPair(data))
}

// QueryString reports whether the given string might have been seen.
func (f *Filter) QueryString(item string) bool {
	return f.Query([]byte(item))
}

// QueryUint64 reports whether the given integer might have been seen.
func (f *Filter) QueryUint64(item uint64) bool {
	return f.Query(leBytes(item))
}

// QueryInt64 reports whether the given integer might have been seen.
func (f *Filter) QueryInt64(item int64) bool {
	return f.Query(leBytes(uint64(item)))
}

// QueryFloat64 reports whether the given value might have been seen.
func (f *Filter) QueryFloat64(item float64) bool {
	return f.Query(leBytes(floatBits(item)))
}

// QueryAndUpdate adds the given bytes and returns the membership answer
// from before the update. Empty input is ignored and reports false.
func (f *Filter) QueryAndUpdate(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	return f.queryAndUpdate(f.hashPair(data))
}

// QueryAndUpdateString is QueryAndUpdate for a string item.
func (f *Filter) QueryAndUpdateString(item string) bool {
	return f.QueryAndUpdate([]byte(item))
}

// QueryAndUpdateUint64 is QueryAndUpdate for an integer item.
func (f *Filter) QueryAndUpdateUint64(item uint64) bool {
	return f.QueryAndUpdate(leBytes(item))
}

// IsCompatible reports whether the two filters can be unioned or
// intersected.
func (f *Filter) IsCompatible(other *Filter) bool {
	return other != nil &&
		f.seed == other.seed &&
		f.numHashes == other.numHashes &&
		f.numBits == other.numBits
}

// UnionWith ORs other into f. The result recognizes items seen by either
// filter.
func (f *Filter) UnionWith(other *Filter) error {
	if !f.IsCompatible(other) {
		return fmt.Errorf("%w: union requires matching seed, hashes and capacity", ErrIncompatible)
	}
	f.bits.InPlaceUnion(other.bits)
	f.empty = f.empty && other.empty
	return nil
}

// IntersectWith ANDs other into f. The result recognizes only items seen
// by both filters.
func (f *Filter) IntersectWith(other *Filter) error {
	if !f.IsCompatible(other) {
		return fmt.Errorf("%w: intersection requires matching seed, hashes and capacity", ErrIncompatible)
	}
	f.bits.InPlaceIntersection(other.bits)
	f.empty = f.empty && other.empty
	return nil
}

// Invert flips every bit, approximately inverting the notion of
// membership.
func (f *Filter) Invert() {
	f.bits = f.bits.Complement()
	f.empty = false
}

// IsEmpty reports whether the filter has processed no items.
func (f *Filter) IsEmpty() bool {
	return f.empty
}

// BitsUsed returns the number of bits currently set.
func (f *Filter) BitsUsed() uint64 {
	return uint64(f.bits.Count())
}

// Capacity returns the total number of bits.
func (f *Filter) Capacity() uint64 {
	return f.numBits
}

// NumHashes returns the configured number of hash probes per item.
func (f *Filter) NumHashes() uint16 {
	return f.numHashes
}

// Seed returns the hash seed.
func (f *Filter) Seed() uint64 {
	return f.seed
}

// Reset restores the filter to its freshly-built state.
func (f *Filter) Reset() {
	f.bits.ClearAll()
	f.empty = true
}

func (f *Filter) String() string {
	return fmt.Sprintf("BloomFilter(bits=%d, hashes=%d, used=%d, empty=%t)",
		f.numBits, f.numHashes, f.BitsUsed(), f.empty)
}

// Dump returns a multi-line diagnostic summary, optionally including the
// raw bit array. The format is for debugging only.
func (f *Filter) Dump(withBits bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "### Bloom filter summary\n")
	fmt.Fprintf(&b, "   capacity (bits) : %d\n", f.numBits)
	fmt.Fprintf(&b, "   hashes          : %d\n", f.numHashes)
	fmt.Fprintf(&b, "   seed            : %d\n", f.seed)
	fmt.Fprintf(&b, "   bits used       : %d\n", f.BitsUsed())
	fmt.Fprintf(&b, "   empty           : %t\n", f.empty)
	if withBits {
		fmt.Fprintf(&b, "### bit array\n")
		for i, word := range f.bits.Bytes() {
			fmt.Fprintf(&b, "   %6d: %064b\n", i*64, word)
		}
	}
	return b.String()
}

func leBytes(v uint64) []byte {
	return binary.LittleEndian.AppendUint64(nil, v)
}

func floatBits(v float64) uint64 {
	if v == 0 {
		v = 0 // collapses -0.0 into +0.0
	}
	return math.Float64bits(v)
}
