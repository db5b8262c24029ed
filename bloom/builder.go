package bloom

import (
	"fmt"
	"math"

	"github.com/bits-and-blooms/bitset"
)

// DefaultSeed is the hash seed used when no option overrides it. Filters
// must share a seed to be unioned or intersected, so a stable default
// matters more than an unpredictable one.
const DefaultSeed uint64 = 9001

// MaxFilterBits caps the bit-array size at what the serialized form can
// address, further limited by uint indexing on 32-bit platforms.
const MaxFilterBits uint64 = min((math.MaxInt32-32)*8, math.MaxUint)

// Option customizes a filter at construction time.
type Option func(*Filter) error

// WithSeed sets the hash seed. All filters that will be combined must use
// the same seed.
func WithSeed(seed uint64) Option {
	return func(f *Filter) error {
		f.seed = seed
		return nil
	}
}

// NewWithSize creates an empty filter with an explicit bit-array size and
// hash count.
func NewWithSize(numBits uint64, numHashes uint16, options ...Option) (*Filter, error) {
	if numBits == 0 || numBits > MaxFilterBits {
		return nil, fmt.Errorf("%w: number of bits must be in [1, %d], got %d", ErrInvalidArgument, MaxFilterBits, numBits)
	}
	if numHashes == 0 {
		return nil, fmt.Errorf("%w: number of hashes must be at least 1", ErrInvalidArgument)
	}
	f := &Filter{
		seed:      DefaultSeed,
		numHashes: numHashes,
		numBits:   numBits,
		empty:     true,
	}
	for _, option := range options {
		if err := option(f); err != nil {
			return nil, err
		}
	}
	f.bits = bitset.New(uint(numBits))
	return f, nil
}

// NewWithAccuracy creates an empty filter sized for the expected number of
// distinct items and a target false-positive probability.
func NewWithAccuracy(numDistinct uint64, targetFPP float64, options ...Option) (*Filter, error) {
	numBits, err := SuggestNumFilterBits(numDistinct, targetFPP)
	if err != nil {
		return nil, err
	}
	return NewWithSize(numBits, SuggestNumHashes(numDistinct, numBits), options...)
}

// SuggestNumHashes returns the optimal number of hash probes for a filter
// of numBits bits expected to hold numDistinct items.
func SuggestNumHashes(numDistinct, numBits uint64) uint16 {
	if numDistinct == 0 {
		return 1
	}
	k := math.Ceil(float64(numBits) / float64(numDistinct) * math.Ln2)
	if k < 1 {
		return 1
	}
	if k > math.MaxUint16 {
		return math.MaxUint16
	}
	return uint16(k)
}

// SuggestNumHashesForFPP returns the number of hash probes needed to reach
// the target false-positive probability in an optimally sized filter.
func SuggestNumHashesForFPP(targetFPP float64) (uint16, error) {
	if !(targetFPP > 0 && targetFPP < 1) {
		return 0, fmt.Errorf("%w: false-positive probability must be in (0, 1), got %v", ErrInvalidArgument, targetFPP)
	}
	return uint16(math.Ceil(-math.Log2(targetFPP))), nil
}

// SuggestNumFilterBits returns the bit-array size needed to hold
// numDistinct items at the target false-positive probability.
func SuggestNumFilterBits(numDistinct uint64, targetFPP float64) (uint64, error) {
	if numDistinct == 0 {
		return 0, fmt.Errorf("%w: number of distinct items must be at least 1", ErrInvalidArgument)
	}
	if !(targetFPP > 0 && targetFPP < 1) {
		return 0, fmt.Errorf("%w: false-positive probability must be in (0, 1), got %v", ErrInvalidArgument, targetFPP)
	}
	bits := math.Ceil(-float64(numDistinct) * math.Log(targetFPP) / (math.Ln2 * math.Ln2))
	if bits > float64(MaxFilterBits) {
		return 0, fmt.Errorf("%w: required filter size %.0f bits exceeds the maximum %d", ErrInvalidArgument, bits, MaxFilterBits)
	}
	return uint64(bits), nil
}
