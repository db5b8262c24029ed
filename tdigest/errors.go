package tdigest

import "errors"

var (
	// ErrInvalidArgument is returned when a parameter is outside its
	// documented domain: a non-finite update value, a rank outside [0,1]
	// or a merge operand that cannot be combined with the receiver.
	ErrInvalidArgument = errors.New("tdigest: invalid argument")

	// ErrEmpty is returned by queries that are undefined on a digest
	// that has seen no data. Callers can check IsEmpty first.
	ErrEmpty = errors.New("tdigest: digest is empty")

	// ErrMalformed is returned when serialized input is truncated,
	// carries unrecognized markers or is internally inconsistent.
	// No partial digest is ever produced alongside it.
	ErrMalformed = errors.New("tdigest: malformed serialized digest")
)
