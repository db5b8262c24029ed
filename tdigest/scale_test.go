package tdigest

import (
	"math"
	"testing"
)

func TestScaleKQInverse(t *testing.T) {
	t.Parallel()

	for _, normalizer := range []float64{0.5, 1, 3.7, 42} {
		for _, q := range []float64{0.001, 0.1, 0.25, 0.5, 0.75, 0.9, 0.999} {
			k := scaleK(q, normalizer)
			back := scaleQ(k, normalizer)
			if math.Abs(back-q) > 1e-9 {
				t.Errorf("q(k(%v)) = %v with normalizer %v, want %v", q, back, normalizer, q)
			}
		}
	}
}

func TestScaleKClampsExtremes(t *testing.T) {
	t.Parallel()

	if v := scaleK(0, 1); math.IsInf(v, 0) || math.IsNaN(v) {
		t.Errorf("k(0) must be clamped to a finite value, got %v", v)
	}
	if v := scaleK(1, 1); math.IsInf(v, 0) || math.IsNaN(v) {
		t.Errorf("k(1) must be clamped to a finite value, got %v", v)
	}
	if scaleK(0, 1) >= 0 {
		t.Errorf("k(0) should sit far on the negative side, got %v", scaleK(0, 1))
	}
}

func TestScaleMaxShape(t *testing.T) {
	t.Parallel()

	const normalizer = 2.5

	// symmetric around the median
	for _, q := range []float64{0.01, 0.1, 0.3} {
		lo, hi := scaleMax(q, normalizer), scaleMax(1-q, normalizer)
		if math.Abs(lo-hi) > 1e-12 {
			t.Errorf("max(%v) = %v and max(%v) = %v should match", q, lo, 1-q, hi)
		}
	}

	// peaks at the median, vanishes at the tails
	mid := scaleMax(0.5, normalizer)
	for _, q := range []float64{0, 0.01, 0.2, 0.45} {
		if scaleMax(q, normalizer) >= mid {
			t.Errorf("max(%v) should be below max(0.5)", q)
		}
	}
	if scaleMax(0, normalizer) != 0 || scaleMax(1, normalizer) != 0 {
		t.Error("weight share at the extremes must be zero")
	}
}

func TestScaleNormalizerGrowsWithStreamLength(t *testing.T) {
	t.Parallel()

	// z (and therefore the cluster count bound) grows only logarithmically
	// with n, keeping sketch size stable for long streams
	prev := 0.0
	for _, n := range []float64{1e3, 1e6, 1e9} {
		z := scaleZ(100, n)
		if z <= prev {
			t.Errorf("z(100, %g) = %v should grow with n", n, z)
		}
		prev = z

		if norm := scaleNormalizer(100, n); norm <= 0 {
			t.Errorf("normalizer(100, %g) = %v must be positive", n, norm)
		}
	}
}
