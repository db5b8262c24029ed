package tdigest

import (
	"fmt"
	"math"
)

// Rank returns the approximate normalized rank of value: the fraction of
// observed weight at or below it, in [0, 1].
//
// Rank folds in any buffered observations first, so it requires the same
// exclusive access as Update. Querying an empty digest returns ErrEmpty.
func (t *TDigest[T]) Rank(value T) (float64, error) {
	if !isFinite(value) {
		return 0, fmt.Errorf("%w: rank of a non-finite value is undefined", ErrInvalidArgument)
	}
	if t.IsEmpty() {
		return 0, fmt.Errorf("%w: no rank", ErrEmpty)
	}
	t.Compress()

	if value <= t.min {
		return 0, nil
	}
	if value >= t.max {
		return 1, nil
	}

	// min < value < max from here on
	n := len(t.merged)
	total := float64(t.mergedWeight)
	if n == 1 {
		return float64(value-t.min) / float64(t.max-t.min), nil
	}

	first := t.merged[0]
	if value < first.Mean {
		// left tail: half of the first centroid's weight spans (min, mean)
		return float64(value-t.min) / float64(first.Mean-t.min) * float64(first.Weight) / 2 / total, nil
	}
	last := t.merged[n-1]
	if value > last.Mean {
		return 1 - float64(t.max-value)/float64(t.max-last.Mean)*float64(last.Weight)/2/total, nil
	}

	wSoFar := 0.0
	for i := 0; i < n-1; i++ {
		cur, next := t.merged[i], t.merged[i+1]
		if value == cur.Mean {
			// count half of every centroid sharing this mean
			dw := 0.0
			for j := i; j < n && t.merged[j].Mean == value; j++ {
				dw += float64(t.merged[j].Weight)
			}
			return (wSoFar + dw/2) / total, nil
		}
		if cur.Mean < value && value < next.Mean {
			// Singleton centroids are point masses: they contribute no
			// interpolated spread on their side of the bracket.
			leftExcl, rightExcl := 0.0, 0.0
			if cur.Weight == 1 {
				if next.Weight == 1 {
					// between two adjacent singletons exactly one
					// observation lies at or below value
					return (wSoFar + 1) / total, nil
				}
				leftExcl = 0.5
			} else if next.Weight == 1 {
				rightExcl = 0.5
			}
			dw := (float64(cur.Weight) + float64(next.Weight)) / 2
			base := wSoFar + float64(cur.Weight)/2 + leftExcl
			frac := float64(value-cur.Mean) / float64(next.Mean-cur.Mean)
			return (base + (dw-leftExcl-rightExcl)*frac) / total, nil
		}
		wSoFar += float64(cur.Weight)
	}

	// value coincides with the last centroid's mean
	return (total - float64(t.merged[n-1].Weight)/2) / total, nil
}

// Quantile returns the approximate value at the given normalized rank.
// rank must be in [0, 1]; 0 yields the observed minimum and 1 the maximum.
//
// Quantile folds in any buffered observations first, so it requires the
// same exclusive access as Update. Querying an empty digest returns
// ErrEmpty.
func (t *TDigest[T]) Quantile(rank float64) (T, error) {
	if math.IsNaN(rank) || rank < 0 || rank > 1 {
		return 0, fmt.Errorf("%w: rank must be in [0,1], got %v", ErrInvalidArgument, rank)
	}
	if t.IsEmpty() {
		return 0, fmt.Errorf("%w: no quantiles", ErrEmpty)
	}
	t.Compress()

	if rank == 0 {
		return t.min, nil
	}
	if rank == 1 {
		return t.max, nil
	}
	n := len(t.merged)
	if n == 1 {
		return t.merged[0].Mean, nil
	}

	total := float64(t.mergedWeight)
	weight := rank * total
	if weight < 1 {
		return t.min, nil
	}
	if weight > total-1 {
		return t.max, nil
	}

	first, last := t.merged[0], t.merged[n-1]
	firstW := float64(first.Weight)
	if firstW > 1 && weight < firstW/2 {
		// the first unit of weight is pinned at the minimum
		return t.min + T((weight-1)/(firstW/2-1))*(first.Mean-t.min), nil
	}
	lastW := float64(last.Weight)
	if lastW > 1 && total-weight <= lastW/2 {
		if lastW == 2 {
			// the centroid holds exactly the pinned unit and one more at
			// the mean, so there is no span to interpolate over
			return last.Mean, nil
		}
		return t.max - T((total-weight-1)/(lastW/2-1))*(t.max-last.Mean), nil
	}

	wSoFar := firstW / 2
	for i := 0; i < n-1; i++ {
		cur, next := t.merged[i], t.merged[i+1]
		dw := (float64(cur.Weight) + float64(next.Weight)) / 2
		if wSoFar+dw > weight {
			// target lies between these two centroids
			var leftUnit float64
			if cur.Weight == 1 {
				if weight-wSoFar < 0.5 {
					return cur.Mean, nil
				}
				leftUnit = 0.5
			}
			var rightUnit float64
			if next.Weight == 1 {
				if wSoFar+dw-weight <= 0.5 {
					return next.Mean, nil
				}
				rightUnit = 0.5
			}
			z1 := weight - wSoFar - leftUnit
			z2 := wSoFar + dw - weight - rightUnit
			return T(weightedAverage(float64(cur.Mean), z2, float64(next.Mean), z1)), nil
		}
		wSoFar += dw
	}

	// target lies in the outer half of the last centroid
	z1 := weight - (total - lastW/2)
	z2 := lastW/2 - z1
	return T(weightedAverage(float64(last.Mean), z2, float64(t.max), z1)), nil
}

// weightedAverage interpolates between x1 and x2 with the given weights,
// clamped to the [min(x1,x2), max(x1,x2)] interval to stay monotonic in
// the face of floating-point rounding.
func weightedAverage(x1, w1, x2, w2 float64) float64 {
	if x1 > x2 {
		x1, w1, x2, w2 = x2, w2, x1, w1
	}
	x := (x1*w1 + x2*w2) / (w1 + w2)
	return math.Max(x1, math.Min(x, x2))
}
