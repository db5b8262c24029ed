package bloom

import (
	"fmt"
	"io"

	"github.com/bits-and-blooms/bitset"

	"github.com/approxlab/sketches-go/internal/serde"
)

// Binary format, little-endian:
//
//	[preamble:1][version:1][type:1][flags:1][hashes:2][unused:2]
//	[seed:8][capacity bits:8]
//	non-empty only: bit array as 64-bit words
const (
	preambleLongsEmpty    uint8 = 1
	preambleLongsNonEmpty uint8 = 2
	serialVersion         uint8 = 1
	sketchType            uint8 = 21

	flagEmpty uint8 = 1 << 0

	headerSizeBytes = 24
)

// AsBytes serializes the filter.
func (f *Filter) AsBytes() []byte {
	w := serde.NewWriter(nil)
	if f.empty {
		w.Uint8(preambleLongsEmpty)
	} else {
		w.Uint8(preambleLongsNonEmpty)
	}
	w.Uint8(serialVersion)
	w.Uint8(sketchType)
	var flags uint8
	if f.empty {
		flags |= flagEmpty
	}
	w.Uint8(flags)
	w.Uint16(f.numHashes)
	w.Uint16(0)
	w.Uint64(f.seed)
	w.Uint64(f.numBits)
	if !f.empty {
		for _, word := range f.bits.Bytes() {
			w.Uint64(word)
		}
	}
	return w.Bytes()
}

// WriteTo serializes the filter into w, implementing io.WriterTo.
func (f *Filter) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(f.AsBytes())
	return int64(n), err
}

// FromBytes deserializes a filter. Truncated or inconsistent input yields
// ErrMalformed and no filter.
func FromBytes(data []byte) (*Filter, error) {
	r := serde.NewReader(data)
	preamble, err := r.Uint8()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	version, err := r.Uint8()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	typ, err := r.Uint8()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if version != serialVersion || typ != sketchType {
		return nil, fmt.Errorf("%w: unrecognized type/version markers", ErrMalformed)
	}
	if preamble != preambleLongsEmpty && preamble != preambleLongsNonEmpty {
		return nil, fmt.Errorf("%w: invalid preamble %d", ErrMalformed, preamble)
	}
	flags, err := r.Uint8()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	numHashes, err := r.Uint16()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if _, err := r.Uint16(); err != nil { // unused
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	seed, err := r.Uint64()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	numBits, err := r.Uint64()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if numHashes == 0 || numBits == 0 || numBits > MaxFilterBits {
		return nil, fmt.Errorf("%w: invalid filter dimensions", ErrMalformed)
	}

	empty := flags&flagEmpty != 0
	if empty {
		if preamble != preambleLongsEmpty || r.Remaining() != 0 {
			return nil, fmt.Errorf("%w: inconsistent empty preamble", ErrMalformed)
		}
		return NewWithSize(numBits, numHashes, WithSeed(seed))
	}
	if preamble != preambleLongsNonEmpty {
		return nil, fmt.Errorf("%w: inconsistent non-empty preamble", ErrMalformed)
	}

	numWords := int((numBits + 63) / 64)
	if r.Remaining() != numWords*8 {
		return nil, fmt.Errorf("%w: byte count inconsistent with capacity", ErrMalformed)
	}
	words := make([]uint64, numWords)
	for i := range words {
		words[i], _ = r.Uint64()
	}
	return &Filter{
		seed:      seed,
		numHashes: numHashes,
		numBits:   numBits,
		bits:      bitset.FromWithLength(uint(numBits), words),
		empty:     false,
	}, nil
}

// FromReader deserializes a filter from a stream, reading to EOF.
func FromReader(r io.Reader) (*Filter, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return FromBytes(data)
}
