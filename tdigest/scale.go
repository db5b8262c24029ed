package tdigest

import "math"

// The scale function (K_2 in the t-digest literature) maps a normalized
// rank q to a scale coordinate k and bounds the weight share a cluster
// centered at q may hold. Cluster sizes are proportional to q*(1-q), so
// clusters near the median may grow large while clusters at the tails stay
// small, which is what bounds relative error at extreme quantiles. The
// normalizer folds the compression parameter and the current total weight
// together so that the total cluster count stays bounded no matter how long
// the stream gets.

const scaleClampEps = 1e-15

// scaleK and scaleQ complete the K_2 family; the merge path itself only
// consumes scaleMax and scaleNormalizer.
func scaleK(q, normalizer float64) float64 {
	if q < scaleClampEps {
		q = scaleClampEps
	} else if q > 1-scaleClampEps {
		q = 1 - scaleClampEps
	}
	return math.Log(q/(1-q)) * normalizer
}

func scaleQ(k, normalizer float64) float64 {
	w := math.Exp(k / normalizer)
	return w / (1 + w)
}

// scaleMax is the maximum weight share for a cluster centered at rank q.
func scaleMax(q, normalizer float64) float64 {
	return q * (1 - q) / normalizer
}

func scaleNormalizer(compression, n float64) float64 {
	return compression / scaleZ(compression, n)
}

func scaleZ(compression, n float64) float64 {
	return 4*math.Log(n/compression) + 24
}
