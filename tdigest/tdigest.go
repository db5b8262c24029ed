// Package tdigest provides a mergeable quantile and rank sketch for large
// or streaming numeric datasets under strict memory bounds.
//
// A TDigest summarizes a value distribution as a short sorted list of
// weighted centroids. Updates are staged in an unordered buffer and folded
// into the merged list in batches, so the amortized cost per update is low.
// Two digests can be merged into one of equivalent accuracy, which makes
// the sketch suitable for parallel and distributed aggregation.
//
// The implementation follows the merging-digest design: cluster sizes are
// bounded by a scale function that keeps tail clusters small, the merge scan
// alternates direction between compressions to avoid biasing one tail, and
// a second, stricter pass keeps the merged list itself bounded.
//
// A TDigest is not safe for concurrent use. Queries may trigger a pending
// compression, so they require the same exclusive access as updates.
package tdigest

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"strings"
)

// Value constrains the numeric type a digest summarizes. The serialized
// width of means and extrema follows the type parameter.
type Value interface {
	float32 | float64
}

// DefaultCompression is the compression used when no option overrides it.
const DefaultCompression uint16 = 100

// MinCompression is the smallest accepted compression parameter.
const MinCompression uint16 = 10

// Centroid is a weighted point approximating one or more observations by
// their mean. Weight is always at least 1.
type Centroid[T Value] struct {
	Mean   T
	Weight uint64
}

// absorb folds other into c using an incremental weighted mean. The update
// is order-dependent in floating point, so callers must keep merge order
// deterministic.
func (c *Centroid[T]) absorb(other Centroid[T]) {
	c.Weight += other.Weight
	c.Mean += (other.Mean - c.Mean) * T(other.Weight) / T(c.Weight)
}

// Allocator controls how a digest obtains centroid storage. The default
// uses make; callers with pooling or arena schemes can inject their own.
type Allocator[T Value] interface {
	Centroids(length, capacity int) []Centroid[T]
}

type makeAllocator[T Value] struct{}

func (makeAllocator[T]) Centroids(length, capacity int) []Centroid[T] {
	return make([]Centroid[T], length, capacity)
}

// TDigest is a mergeable rank/quantile sketch over values of type T.
// The zero value is not usable; construct instances with New.
type TDigest[T Value] struct {
	k         uint16
	internalK uint16

	min T
	max T

	merged       []Centroid[T]
	mergedWeight uint64
	mergedCap    int

	buffer         []Centroid[T]
	bufferedWeight uint64
	bufferCap      int

	reverseMerge bool

	alloc Allocator[T]
}

// New creates an empty digest. Accuracy and memory are tuned with the
// Compression option; the default of 100 is good for most workloads.
func New[T Value](options ...Option[T]) (*TDigest[T], error) {
	t := &TDigest[T]{
		k:     DefaultCompression,
		min:   T(math.Inf(1)),
		max:   T(math.Inf(-1)),
		alloc: makeAllocator[T]{},
	}
	for _, option := range options {
		if err := option(t); err != nil {
			return nil, err
		}
	}
	t.configure()
	return t, nil
}

// newFromParts is the deserialization constructor: the merged list arrives
// fully populated and the buffer starts empty.
func newFromParts[T Value](reverse bool, k uint16, minV, maxV T, merged []Centroid[T], totalWeight uint64, options ...Option[T]) (*TDigest[T], error) {
	t := &TDigest[T]{
		k:     k,
		min:   minV,
		max:   maxV,
		alloc: makeAllocator[T]{},
	}
	for _, option := range options {
		if err := option(t); err != nil {
			return nil, err
		}
	}
	t.k = k // options must not override the serialized compression
	t.reverseMerge = reverse
	t.merged = merged
	t.mergedWeight = totalWeight
	t.configure()
	return t, nil
}

// configure derives the internal compression constant and the capacities of
// the merged list and the buffer from k. The buffer is a fixed multiple of
// the merged capacity; internalK absorbs the volatility of batched merges
// so that repeated compressions do not degrade accuracy.
func (t *TDigest[T]) configure() {
	fudge := 10
	if t.k < 30 {
		fudge += 20
	}
	t.mergedCap = 2*int(t.k) + fudge
	t.bufferCap = 5 * t.mergedCap

	scale := math.Max(1, float64(t.bufferCap)/float64(t.mergedCap)-1)
	internalK := math.Ceil(math.Sqrt(scale) * float64(t.k))
	if internalK > math.MaxUint16 {
		internalK = math.MaxUint16
	}
	t.internalK = uint16(internalK)

	if t.mergedCap < int(t.internalK)+fudge {
		t.mergedCap = int(t.internalK) + fudge
	}
	if t.bufferCap < 2*t.mergedCap {
		t.bufferCap = 2 * t.mergedCap
	}

	if t.merged == nil {
		t.merged = t.alloc.Centroids(0, t.mergedCap)
	}
	t.buffer = t.alloc.Centroids(0, t.bufferCap)
}

// Update adds a single observation to the digest.
//
// Non-finite values are rejected with ErrInvalidArgument: NaN or an
// infinity would silently corrupt the tracked extrema.
func (t *TDigest[T]) Update(value T) error {
	if !isFinite(value) {
		return fmt.Errorf("%w: update value must be finite, got %v", ErrInvalidArgument, value)
	}
	if len(t.buffer) >= t.bufferCap {
		t.Compress()
	}
	t.buffer = append(t.buffer, Centroid[T]{Mean: value, Weight: 1})
	t.bufferedWeight++
	if value < t.min {
		t.min = value
	}
	if value > t.max {
		t.max = value
	}
	return nil
}

// Merge folds other into t. Compression parameters do not need to match.
// Merge reads other (forcing its pending compression first) and mutates
// only the receiver; the caller must hold exclusive access to both digests
// for the duration. The result is order-independent within the sketch's
// accuracy bound, but not bit-for-bit.
func (t *TDigest[T]) Merge(other *TDigest[T]) error {
	if other == nil || other == t {
		return fmt.Errorf("%w: merge requires a distinct non-nil digest", ErrInvalidArgument)
	}
	if other.IsEmpty() {
		return nil
	}
	other.Compress()
	t.buffer = append(t.buffer, other.merged...)
	t.bufferedWeight += other.mergedWeight
	if other.min < t.min {
		t.min = other.min
	}
	if other.max > t.max {
		t.max = other.max
	}
	t.Compress()
	return nil
}

// Compress folds all buffered observations into the merged list. It is a
// no-op when the buffer is empty. Queries and serialization call it
// implicitly; calling it explicitly is only needed to reach a quiescent
// state before sharing a read-only view.
func (t *TDigest[T]) Compress() {
	if len(t.buffer) == 0 {
		return
	}
	total := t.mergedWeight + t.bufferedWeight

	incoming := append(t.buffer, t.merged...)
	slices.SortStableFunc(incoming, func(a, b Centroid[T]) int {
		return cmp.Compare(a.Mean, b.Mean)
	})
	// Alternate the scan direction between compressions so the greedy
	// merge does not systematically favor one tail.
	if t.reverseMerge {
		slices.Reverse(incoming)
	}

	merged := t.mergeCentroids(incoming, total, float64(t.internalK))
	if len(merged) > t.mergedCap {
		// Two-level compression: the buffered pass ran at internalK and
		// overflowed its headroom, so re-merge at the public k, which
		// strictly enforces the merged-list bound.
		merged = t.mergeCentroids(merged, total, float64(t.k))
	}
	if t.reverseMerge {
		slices.Reverse(merged)
	}

	t.merged = merged
	t.mergedWeight = total
	t.buffer = incoming[:0]
	t.bufferedWeight = 0
	t.reverseMerge = !t.reverseMerge
}

// mergeCentroids performs one greedy merge pass over src, which must be
// sorted in scan order. A centroid is absorbed into its predecessor only
// while the predecessor's weight stays within the scale function's limit
// at its position; this is what bounds the sketch's error.
func (t *TDigest[T]) mergeCentroids(src []Centroid[T], total uint64, compression float64) []Centroid[T] {
	out := t.alloc.Centroids(0, t.mergedCap+1)
	out = append(out, src[0])

	normalizer := scaleNormalizer(compression, float64(total))
	n := float64(total)
	wSoFar := 0.0
	for _, c := range src[1:] {
		last := &out[len(out)-1]
		proposed := float64(last.Weight) + float64(c.Weight)
		q0 := wSoFar / n
		q2 := (wSoFar + proposed) / n
		limit := n * math.Min(scaleMax(q0, normalizer), scaleMax(q2, normalizer))
		if proposed <= limit {
			last.absorb(c)
		} else {
			wSoFar += float64(last.Weight)
			out = append(out, c)
		}
	}
	return out
}

// IsEmpty reports whether the digest has seen no data.
func (t *TDigest[T]) IsEmpty() bool {
	return t.mergedWeight+t.bufferedWeight == 0
}

// TotalWeight returns the total number of observations represented,
// including buffered ones.
func (t *TDigest[T]) TotalWeight() uint64 {
	return t.mergedWeight + t.bufferedWeight
}

// K returns the configured compression parameter.
func (t *TDigest[T]) K() uint16 {
	return t.k
}

// MinValue returns the smallest value ever observed.
func (t *TDigest[T]) MinValue() (T, error) {
	if t.IsEmpty() {
		return 0, fmt.Errorf("%w: no minimum", ErrEmpty)
	}
	return t.min, nil
}

// MaxValue returns the largest value ever observed.
func (t *TDigest[T]) MaxValue() (T, error) {
	if t.IsEmpty() {
		return 0, fmt.Errorf("%w: no maximum", ErrEmpty)
	}
	return t.max, nil
}

// NumCentroids returns the size of the merged list after folding in any
// buffered observations.
func (t *TDigest[T]) NumCentroids() int {
	t.Compress()
	return len(t.merged)
}

// ForEachCentroid calls f for every centroid of the merged list in
// ascending mean order, after folding in any buffered observations.
// Iteration stops early when f returns false.
func (t *TDigest[T]) ForEachCentroid(f func(c Centroid[T]) bool) {
	t.Compress()
	for _, c := range t.merged {
		if !f(c) {
			return
		}
	}
}

func (t *TDigest[T]) String() string {
	return fmt.Sprintf("TDigest(k=%d, weight=%d, centroids=%d, buffered=%d)",
		t.k, t.TotalWeight(), len(t.merged), len(t.buffer))
}

// Dump returns a multi-line diagnostic summary, optionally including the
// full centroid list. The format is for debugging only and is not a
// stable contract.
func (t *TDigest[T]) Dump(withCentroids bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "### t-Digest summary\n")
	fmt.Fprintf(&b, "   k            : %d\n", t.k)
	fmt.Fprintf(&b, "   internal k   : %d\n", t.internalK)
	fmt.Fprintf(&b, "   empty        : %t\n", t.IsEmpty())
	fmt.Fprintf(&b, "   total weight : %d\n", t.TotalWeight())
	fmt.Fprintf(&b, "   centroids    : %d (buffered %d)\n", len(t.merged), len(t.buffer))
	if !t.IsEmpty() {
		fmt.Fprintf(&b, "   min          : %v\n", t.min)
		fmt.Fprintf(&b, "   max          : %v\n", t.max)
	}
	if withCentroids {
		fmt.Fprintf(&b, "### centroids\n")
		for i, c := range t.merged {
			fmt.Fprintf(&b, "   %4d: mean=%v weight=%d\n", i, c.Mean, c.Weight)
		}
	}
	return b.String()
}

func isFinite[T Value](v T) bool {
	f := float64(v)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
