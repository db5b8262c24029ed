package tdigest

import (
	"fmt"
	"io"
	"math"

	"github.com/approxlab/sketches-go/internal/serde"
)

// Compact binary format, little-endian:
//
//	[preamble:1][version:1][type:1][k:2][flags:1][unused:2]
//	non-empty only: [total weight:8][min][max][(mean, weight:8)...]
//
// min, max and the centroid means take 4 or 8 bytes depending on the
// digest's value type. The centroid count is implied by the remaining
// length. A digest serialized from a float32 instance must be deserialized
// as float32, and likewise for float64.
const (
	preambleLongsEmpty    uint8 = 1
	preambleLongsNonEmpty uint8 = 2
	serialVersion         uint8 = 1
	sketchType            uint8 = 20

	flagEmpty        uint8 = 1 << 0
	flagReverseMerge uint8 = 1 << 1

	headerSizeBytes = 8
)

// Markers of the reference implementation's wire format. Its encoder
// writes through a big-endian byte buffer, with doubles for the verbose
// encoding and float deltas plus varint weights for the small one.
const (
	compatDouble uint32 = 1
	compatFloat  uint32 = 2
)

// AsBytes serializes the digest into the compact binary format. Any
// buffered observations are folded in first, so AsBytes requires the same
// exclusive access as Update.
func (t *TDigest[T]) AsBytes() []byte {
	return t.append(nil)
}

// AsBytesWithHeader serializes like AsBytes but reserves headerSize
// zeroed bytes in front of the payload, for callers embedding the sketch
// in a larger container. Deserialize from data[headerSize:].
func (t *TDigest[T]) AsBytesWithHeader(headerSize int) ([]byte, error) {
	if headerSize < 0 {
		return nil, fmt.Errorf("%w: header size must not be negative", ErrInvalidArgument)
	}
	return t.append(make([]byte, headerSize)), nil
}

// WriteTo serializes the digest into w in the compact binary format,
// implementing io.WriterTo.
func (t *TDigest[T]) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(t.AsBytes())
	return int64(n), err
}

// SerializedSize returns the exact size in bytes AsBytes will produce,
// after folding in any buffered observations.
func (t *TDigest[T]) SerializedSize() int {
	t.Compress()
	if t.IsEmpty() {
		return headerSizeBytes
	}
	return headerSizeBytes + 8 + (2+len(t.merged))*valueSize[T]() + len(t.merged)*8
}

func (t *TDigest[T]) append(buf []byte) []byte {
	t.Compress()
	w := serde.NewWriter(buf)
	empty := t.IsEmpty()
	if empty {
		w.Uint8(preambleLongsEmpty)
	} else {
		w.Uint8(preambleLongsNonEmpty)
	}
	w.Uint8(serialVersion)
	w.Uint8(sketchType)
	w.Uint16(t.k)
	var flags uint8
	if empty {
		flags |= flagEmpty
	}
	if t.reverseMerge {
		flags |= flagReverseMerge
	}
	w.Uint8(flags)
	w.Uint16(0)
	if empty {
		return w.Bytes()
	}
	w.Uint64(t.mergedWeight)
	writeValue(w, t.min)
	writeValue(w, t.max)
	for _, c := range t.merged {
		writeValue(w, c.Mean)
		w.Uint64(c.Weight)
	}
	return w.Bytes()
}

// FromBytes deserializes a digest from the compact binary format. When the
// input does not carry the compact format's type and version markers, the
// compatibility decoder for the reference implementation's format is
// attempted instead. Truncated or inconsistent input yields ErrMalformed
// and no digest.
func FromBytes[T Value](data []byte, options ...Option[T]) (*TDigest[T], error) {
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
	if (preamble != preambleLongsEmpty && preamble != preambleLongsNonEmpty) ||
		version != serialVersion || typ != sketchType {
		return fromCompatBytes[T](data, options...)
	}

	k, err := r.Uint16()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	flags, err := r.Uint8()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if _, err := r.Uint16(); err != nil { // unused
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if k < MinCompression {
		return nil, fmt.Errorf("%w: compression %d below minimum", ErrMalformed, k)
	}
	reverse := flags&flagReverseMerge != 0

	if flags&flagEmpty != 0 {
		if preamble != preambleLongsEmpty || r.Remaining() != 0 {
			return nil, fmt.Errorf("%w: inconsistent empty preamble", ErrMalformed)
		}
		return newFromParts[T](reverse, k, T(math.Inf(1)), T(math.Inf(-1)), nil, 0, options...)
	}
	if preamble != preambleLongsNonEmpty {
		return nil, fmt.Errorf("%w: inconsistent non-empty preamble", ErrMalformed)
	}

	totalWeight, err := r.Uint64()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	minV, err := readValue[T](r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	maxV, err := readValue[T](r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if !isFinite(minV) || !isFinite(maxV) || minV > maxV {
		return nil, fmt.Errorf("%w: invalid extrema", ErrMalformed)
	}

	pairSize := valueSize[T]() + 8
	remaining := r.Remaining()
	if remaining == 0 || remaining%pairSize != 0 {
		return nil, fmt.Errorf("%w: byte count inconsistent with centroid list", ErrMalformed)
	}
	count := remaining / pairSize

	merged := make([]Centroid[T], 0, count)
	var sum uint64
	prev := T(math.Inf(-1))
	for i := 0; i < count; i++ {
		mean, err := readValue[T](r)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		weight, err := r.Uint64()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if !isFinite(mean) || weight == 0 || mean < prev || mean < minV || mean > maxV {
			return nil, fmt.Errorf("%w: invalid centroid %d", ErrMalformed, i)
		}
		prev = mean
		merged = append(merged, Centroid[T]{Mean: mean, Weight: weight})
		sum += weight
	}
	if sum != totalWeight {
		return nil, fmt.Errorf("%w: centroid weights do not sum to the total weight", ErrMalformed)
	}
	return newFromParts(reverse, k, minV, maxV, merged, totalWeight, options...)
}

// FromReader deserializes a digest from a stream. The compact format's
// centroid count is implied by the payload length, so the stream is read
// to EOF.
func FromReader[T Value](r io.Reader, options ...Option[T]) (*TDigest[T], error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return FromBytes[T](data, options...)
}

// fromCompatBytes decodes the wire format of the independently maintained
// reference implementation. Only reading is supported; the reconstructed
// digest has an empty buffer, a fully populated merged list and the
// default merge direction.
func fromCompatBytes[T Value](data []byte, options ...Option[T]) (*TDigest[T], error) {
	r := serde.NewReader(data)
	marker, err := r.Uint32BE()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if marker != compatDouble && marker != compatFloat {
		return nil, fmt.Errorf("%w: unrecognized type/version markers", ErrMalformed)
	}

	minV, err := r.Float64BE()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	maxV, err := r.Float64BE()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	var compression float64
	if marker == compatDouble {
		compression, err = r.Float64BE()
	} else {
		var c float32
		c, err = r.Float32BE()
		compression = float64(c)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if math.IsNaN(compression) || compression < 1 || compression > math.MaxUint16 {
		return nil, fmt.Errorf("%w: invalid compression %v", ErrMalformed, compression)
	}
	// the reference implementation accepts smaller compressions than we do
	k := uint16(math.Max(compression, float64(MinCompression)))

	rawCount, err := r.Uint32BE()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if rawCount > uint32(math.MaxInt32) {
		return nil, fmt.Errorf("%w: invalid centroid count %d", ErrMalformed, rawCount)
	}
	count := int(rawCount)

	if count == 0 {
		return newFromParts[T](false, k, T(math.Inf(1)), T(math.Inf(-1)), nil, 0, options...)
	}
	if math.IsNaN(minV) || math.IsNaN(maxV) || minV > maxV {
		return nil, fmt.Errorf("%w: invalid extrema", ErrMalformed)
	}

	merged := make([]Centroid[T], 0, count)
	var sum uint64
	if marker == compatDouble {
		prev := math.Inf(-1)
		for i := 0; i < count; i++ {
			weight, err := r.Float64BE()
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
			}
			mean, err := r.Float64BE()
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
			}
			if math.IsNaN(mean) || math.IsInf(mean, 0) || mean < prev ||
				math.IsNaN(weight) || weight < 1 || weight > math.MaxInt64 {
				return nil, fmt.Errorf("%w: invalid centroid %d", ErrMalformed, i)
			}
			prev = mean
			w := uint64(weight)
			merged = append(merged, Centroid[T]{Mean: T(mean), Weight: w})
			sum += w
		}
	} else {
		// means are stored as successive float deltas, weights follow as
		// 7-bit varints
		means := make([]float64, count)
		mean := 0.0
		for i := 0; i < count; i++ {
			delta, err := r.Float32BE()
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
			}
			if math.IsNaN(float64(delta)) || math.IsInf(float64(delta), 0) || (i > 0 && delta < 0) {
				return nil, fmt.Errorf("%w: invalid mean delta %d", ErrMalformed, i)
			}
			mean += float64(delta)
			means[i] = mean
		}
		for i := 0; i < count; i++ {
			w, err := r.Uvarint7()
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
			}
			if w == 0 {
				return nil, fmt.Errorf("%w: zero centroid weight %d", ErrMalformed, i)
			}
			merged = append(merged, Centroid[T]{Mean: T(means[i]), Weight: w})
			sum += w
		}
	}
	if r.Remaining() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformed, r.Remaining())
	}
	return newFromParts(false, k, T(minV), T(maxV), merged, sum, options...)
}

func valueSize[T Value]() int {
	var zero T
	if _, ok := any(zero).(float32); ok {
		return 4
	}
	return 8
}

func writeValue[T Value](w *serde.Writer, v T) {
	switch v := any(v).(type) {
	case float32:
		w.Float32(v)
	case float64:
		w.Float64(v)
	}
}

func readValue[T Value](r *serde.Reader) (T, error) {
	var zero T
	if _, ok := any(zero).(float32); ok {
		v, err := r.Float32()
		return T(v), err
	}
	v, err := r.Float64()
	return T(v), err
}
