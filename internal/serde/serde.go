// Package serde provides bounds-checked binary encoding primitives shared
// by the sketch codecs. A Reader never advances past the end of its input;
// every accessor reports truncation instead of panicking, so codec code can
// validate before it allocates.
package serde

import (
	"encoding/binary"
	"errors"
	"math"
)

// ErrTruncated is returned when the input ends before a requested field.
var ErrTruncated = errors.New("serde: truncated input")

// ErrVarintOverflow is returned when a 7-bit varint does not fit in 64 bits.
var ErrVarintOverflow = errors.New("serde: varint overflow")

// Reader consumes fixed-width fields from a byte slice.
type Reader struct {
	buf []byte
	off int
}

func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Remaining reports how many unread bytes are left.
func (r *Reader) Remaining() int {
	return len(r.buf) - r.off
}

// Offset reports how many bytes have been consumed.
func (r *Reader) Offset() int {
	return r.off
}

func (r *Reader) take(n int) ([]byte, error) {
	if r.Remaining() < n {
		return nil, ErrTruncated
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *Reader) Uint8() (uint8, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *Reader) Uint16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *Reader) Uint32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *Reader) Uint64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *Reader) Float32() (float32, error) {
	v, err := r.Uint32()
	return math.Float32frombits(v), err
}

func (r *Reader) Float64() (float64, error) {
	v, err := r.Uint64()
	return math.Float64frombits(v), err
}

// Big-endian variants, used by the compatibility decoder. The reference
// implementation writes through a big-endian byte buffer.

func (r *Reader) Uint32BE() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *Reader) Uint64BE() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func (r *Reader) Float32BE() (float32, error) {
	v, err := r.Uint32BE()
	return math.Float32frombits(v), err
}

func (r *Reader) Float64BE() (float64, error) {
	v, err := r.Uint64BE()
	return math.Float64frombits(v), err
}

// Uvarint7 decodes the 7-bit little-endian group varint used by the
// reference implementation for centroid weights: low 7 bits carry data,
// the high bit marks continuation.
func (r *Reader) Uvarint7() (uint64, error) {
	var v uint64
	var shift uint
	for {
		b, err := r.Uint8()
		if err != nil {
			return 0, err
		}
		if shift >= 63 && b > 1 {
			return 0, ErrVarintOverflow
		}
		v |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return v, nil
		}
		shift += 7
		if shift > 63 {
			return 0, ErrVarintOverflow
		}
	}
}

// Writer appends fixed-width little-endian fields to a byte slice.
type Writer struct {
	buf []byte
}

// NewWriter returns a Writer appending to buf. buf may be nil.
func NewWriter(buf []byte) *Writer {
	return &Writer{buf: buf}
}

// Bytes returns the accumulated output.
func (w *Writer) Bytes() []byte {
	return w.buf
}

func (w *Writer) Uint8(v uint8) {
	w.buf = append(w.buf, v)
}

func (w *Writer) Uint16(v uint16) {
	w.buf = binary.LittleEndian.AppendUint16(w.buf, v)
}

func (w *Writer) Uint32(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

func (w *Writer) Uint64(v uint64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
}

func (w *Writer) Float32(v float32) {
	w.Uint32(math.Float32bits(v))
}

func (w *Writer) Float64(v float64) {
	w.Uint64(math.Float64bits(v))
}
