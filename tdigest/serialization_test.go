package tdigest

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"

	rng "github.com/leesper/go_rng"
	"github.com/stretchr/testify/require"

	"github.com/approxlab/sketches-go/internal/serde"
)

func centroidsOf[T Value](td *TDigest[T]) []Centroid[T] {
	var out []Centroid[T]
	td.ForEachCentroid(func(c Centroid[T]) bool {
		out = append(out, c)
		return true
	})
	return out
}

func requireEquivalent[T Value](t *testing.T, want, got *TDigest[T]) {
	t.Helper()
	require.Equal(t, want.K(), got.K())
	require.Equal(t, want.TotalWeight(), got.TotalWeight())
	require.Equal(t, want.IsEmpty(), got.IsEmpty())
	if want.IsEmpty() {
		return
	}
	wantMin, err := want.MinValue()
	require.NoError(t, err)
	gotMin, err := got.MinValue()
	require.NoError(t, err)
	require.Equal(t, wantMin, gotMin)

	wantMax, err := want.MaxValue()
	require.NoError(t, err)
	gotMax, err := got.MaxValue()
	require.NoError(t, err)
	require.Equal(t, wantMax, gotMax)

	require.Equal(t, centroidsOf(want), centroidsOf(got))

	for _, rank := range []float64{0, 0.001, 0.1, 0.5, 0.9, 0.999, 1} {
		wq, err := want.Quantile(rank)
		require.NoError(t, err)
		gq, err := got.Quantile(rank)
		require.NoError(t, err)
		require.Equal(t, wq, gq, "Quantile(%v) diverged after a round-trip", rank)
	}
}

func TestRoundTripEmpty(t *testing.T) {
	t.Parallel()

	td := mustNew(t, Compression[float64](300))
	data := td.AsBytes()
	require.Len(t, data, td.SerializedSize())

	back, err := FromBytes[float64](data)
	require.NoError(t, err)
	requireEquivalent(t, td, back)

	// the deserialized instance must be fully usable
	require.NoError(t, back.Update(1))
	require.Equal(t, uint64(1), back.TotalWeight())
}

func TestRoundTripFloat64(t *testing.T) {
	t.Parallel()

	td := mustNew[float64](t)
	gaussian := rng.NewGaussianGenerator(99)
	for i := 0; i < 50000; i++ {
		require.NoError(t, td.Update(gaussian.Gaussian(0, 10)))
	}

	data := td.AsBytes()
	require.Len(t, data, td.SerializedSize())

	back, err := FromBytes[float64](data)
	require.NoError(t, err)
	requireEquivalent(t, td, back)
}

func TestRoundTripFloat32(t *testing.T) {
	t.Parallel()

	td := mustNew[float32](t)
	uniform := rng.NewUniformGenerator(5)
	for i := 0; i < 10000; i++ {
		require.NoError(t, td.Update(float32(uniform.Float64Range(-5, 5))))
	}

	back, err := FromBytes[float32](td.AsBytes())
	require.NoError(t, err)
	requireEquivalent(t, td, back)
}

func TestRoundTripAfterMerge(t *testing.T) {
	t.Parallel()

	td := mustNew[float64](t)
	other := mustNew[float64](t)
	for i := 0; i < 5000; i++ {
		require.NoError(t, td.Update(float64(i)))
		require.NoError(t, other.Update(float64(-i)))
	}
	require.NoError(t, td.Merge(other))

	back, err := FromBytes[float64](td.AsBytes())
	require.NoError(t, err)
	requireEquivalent(t, td, back)
}

func TestHeaderReservation(t *testing.T) {
	t.Parallel()

	td := mustNew[float64](t)
	for i := 0; i < 1000; i++ {
		require.NoError(t, td.Update(float64(i)))
	}

	const header = 16
	data, err := td.AsBytesWithHeader(header)
	require.NoError(t, err)
	require.Equal(t, make([]byte, header), data[:header], "the reservation must precede the payload")
	require.Equal(t, td.AsBytes(), data[header:])

	back, err := FromBytes[float64](data[header:])
	require.NoError(t, err)
	requireEquivalent(t, td, back)

	_, err = td.AsBytesWithHeader(-1)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestStreamRoundTrip(t *testing.T) {
	t.Parallel()

	td := mustNew[float64](t)
	for i := 0; i < 1000; i++ {
		require.NoError(t, td.Update(float64(i%13)))
	}

	var buf bytes.Buffer
	n, err := td.WriteTo(&buf)
	require.NoError(t, err)
	require.Equal(t, int64(buf.Len()), n)

	back, err := FromReader[float64](&buf)
	require.NoError(t, err)
	requireEquivalent(t, td, back)
}

func TestDeserializeTruncated(t *testing.T) {
	t.Parallel()

	td := mustNew[float64](t)
	for i := 0; i < 1000; i++ {
		require.NoError(t, td.Update(float64(i)))
	}
	data := td.AsBytes()

	for cut := 0; cut < len(data); cut++ {
		_, err := FromBytes[float64](data[:cut])
		require.ErrorIs(t, err, ErrMalformed, "prefix of %d bytes must not decode", cut)
	}
}

func TestDeserializeRejectsUnknownMarkers(t *testing.T) {
	t.Parallel()

	td := mustNew[float64](t)
	require.NoError(t, td.Update(1))

	corrupt := td.AsBytes()
	corrupt[1] = 99 // serial version
	_, err := FromBytes[float64](corrupt)
	require.ErrorIs(t, err, ErrMalformed)

	corrupt = td.AsBytes()
	corrupt[2] = 77 // sketch type
	_, err = FromBytes[float64](corrupt)
	require.ErrorIs(t, err, ErrMalformed)
}

func TestDeserializeRejectsInconsistentPayload(t *testing.T) {
	t.Parallel()

	write := func(totalWeight uint64, centroids ...Centroid[float64]) []byte {
		w := serde.NewWriter(nil)
		w.Uint8(preambleLongsNonEmpty)
		w.Uint8(serialVersion)
		w.Uint8(sketchType)
		w.Uint16(100)
		w.Uint8(0)
		w.Uint16(0)
		w.Uint64(totalWeight)
		w.Float64(0)  // min
		w.Float64(10) // max
		for _, c := range centroids {
			w.Float64(c.Mean)
			w.Uint64(c.Weight)
		}
		return w.Bytes()
	}

	cases := map[string][]byte{
		"no centroids":      write(0),
		"weight sum off":    write(5, Centroid[float64]{Mean: 1, Weight: 2}, Centroid[float64]{Mean: 2, Weight: 2}),
		"unsorted means":    write(4, Centroid[float64]{Mean: 2, Weight: 2}, Centroid[float64]{Mean: 1, Weight: 2}),
		"zero weight":       write(2, Centroid[float64]{Mean: 1, Weight: 0}, Centroid[float64]{Mean: 2, Weight: 2}),
		"mean outside span": write(2, Centroid[float64]{Mean: 99, Weight: 2}),
		"nan mean":          write(2, Centroid[float64]{Mean: math.NaN(), Weight: 2}),
	}
	for name, data := range cases {
		_, err := FromBytes[float64](data)
		require.ErrorIs(t, err, ErrMalformed, name)
	}
}

func TestCompatDoubleEncoding(t *testing.T) {
	t.Parallel()

	// the reference implementation's verbose encoding: big-endian, with
	// (weight, mean) pairs as doubles
	var buf bytes.Buffer
	be := binary.BigEndian
	require.NoError(t, binary.Write(&buf, be, int32(1)))
	require.NoError(t, binary.Write(&buf, be, float64(1))) // min
	require.NoError(t, binary.Write(&buf, be, float64(5))) // max
	require.NoError(t, binary.Write(&buf, be, float64(100)))
	require.NoError(t, binary.Write(&buf, be, int32(5)))
	for i := 1; i <= 5; i++ {
		require.NoError(t, binary.Write(&buf, be, float64(1))) // weight
		require.NoError(t, binary.Write(&buf, be, float64(i))) // mean
	}

	td, err := FromBytes[float64](buf.Bytes())
	require.NoError(t, err)
	require.Equal(t, uint16(100), td.K())
	require.Equal(t, uint64(5), td.TotalWeight())

	minV, err := td.MinValue()
	require.NoError(t, err)
	require.Equal(t, float64(1), minV)
	maxV, err := td.MaxValue()
	require.NoError(t, err)
	require.Equal(t, float64(5), maxV)

	r, err := td.Rank(3)
	require.NoError(t, err)
	require.Equal(t, 0.5, r, "the middle of five singletons ranks exactly 0.5")
}

func TestCompatDoubleClampsSmallCompression(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	be := binary.BigEndian
	require.NoError(t, binary.Write(&buf, be, int32(1)))
	require.NoError(t, binary.Write(&buf, be, float64(7)))
	require.NoError(t, binary.Write(&buf, be, float64(7)))
	require.NoError(t, binary.Write(&buf, be, float64(5))) // below our minimum
	require.NoError(t, binary.Write(&buf, be, int32(1)))
	require.NoError(t, binary.Write(&buf, be, float64(3)))
	require.NoError(t, binary.Write(&buf, be, float64(7)))

	td, err := FromBytes[float64](buf.Bytes())
	require.NoError(t, err)
	require.Equal(t, MinCompression, td.K())
	require.Equal(t, uint64(3), td.TotalWeight())
}

func TestCompatFloatEncoding(t *testing.T) {
	t.Parallel()

	// the reference implementation's small encoding: float mean deltas
	// followed by 7-bit varint weights
	var buf bytes.Buffer
	be := binary.BigEndian
	require.NoError(t, binary.Write(&buf, be, int32(2)))
	require.NoError(t, binary.Write(&buf, be, float64(1))) // min
	require.NoError(t, binary.Write(&buf, be, float64(3))) // max
	require.NoError(t, binary.Write(&buf, be, float32(200)))
	require.NoError(t, binary.Write(&buf, be, int32(3)))
	for _, delta := range []float32{1, 1, 1} { // means 1, 2, 3
		require.NoError(t, binary.Write(&buf, be, delta))
	}
	buf.Write([]byte{0x02, 0x03, 0x02}) // weights 2, 3, 2

	td, err := FromBytes[float64](buf.Bytes())
	require.NoError(t, err)
	require.Equal(t, uint16(200), td.K())
	require.Equal(t, uint64(7), td.TotalWeight())

	r, err := td.Rank(2)
	require.NoError(t, err)
	require.Equal(t, 0.5, r)

	q, err := td.Quantile(0)
	require.NoError(t, err)
	require.Equal(t, float64(1), q)
}

func TestCompatMalformed(t *testing.T) {
	t.Parallel()

	be := binary.BigEndian

	valid := func() *bytes.Buffer {
		var buf bytes.Buffer
		_ = binary.Write(&buf, be, int32(1))
		_ = binary.Write(&buf, be, float64(1))
		_ = binary.Write(&buf, be, float64(2))
		_ = binary.Write(&buf, be, float64(100))
		_ = binary.Write(&buf, be, int32(2))
		_ = binary.Write(&buf, be, float64(1))
		_ = binary.Write(&buf, be, float64(1))
		_ = binary.Write(&buf, be, float64(1))
		_ = binary.Write(&buf, be, float64(2))
		return &buf
	}

	full := valid().Bytes()
	if _, err := FromBytes[float64](full); err != nil {
		t.Fatalf("the baseline compat payload must decode: %v", err)
	}

	// truncations
	for cut := 0; cut < len(full); cut++ {
		_, err := FromBytes[float64](full[:cut])
		require.ErrorIs(t, err, ErrMalformed, "compat prefix of %d bytes must not decode", cut)
	}

	// trailing garbage
	withTrailing := valid()
	withTrailing.WriteByte(0xFF)
	_, err := FromBytes[float64](withTrailing.Bytes())
	require.ErrorIs(t, err, ErrMalformed)

	// unknown marker
	var unknown bytes.Buffer
	_ = binary.Write(&unknown, be, int32(9))
	_, err = FromBytes[float64](unknown.Bytes())
	require.ErrorIs(t, err, ErrMalformed)
}
