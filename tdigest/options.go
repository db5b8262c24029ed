package tdigest

import "fmt"

// Option customizes a digest at construction time.
type Option[T Value] func(*TDigest[T]) error

// Compression sets the digest compression parameter.
//
// The compression parameter rules how eagerly centroids are merged
// together - the more often distinct samples are merged the more precision
// is lost. A higher value means more centroids in memory and a bigger
// serialization payload in exchange for better accuracy, most noticeably
// at the extreme quantiles. The default of 100 is often good enough.
//
// Values below MinCompression are rejected.
func Compression[T Value](k uint16) Option[T] {
	return func(t *TDigest[T]) error {
		if k < MinCompression {
			return fmt.Errorf("%w: compression must be at least %d, got %d", ErrInvalidArgument, MinCompression, k)
		}
		t.k = k
		return nil
	}
}

// WithAllocator injects a custom memory allocation policy for centroid
// storage.
func WithAllocator[T Value](a Allocator[T]) Option[T] {
	return func(t *TDigest[T]) error {
		if a == nil {
			return fmt.Errorf("%w: allocator must not be nil", ErrInvalidArgument)
		}
		t.alloc = a
		return nil
	}
}
