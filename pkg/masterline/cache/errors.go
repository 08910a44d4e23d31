package cache

import "errors"

var (
	// ErrMiss signals that a tier has no answer and the chain should
	// delegate to the next one. It is not an error condition for the
	// caller; the chain's terminal tier never returns it.
	ErrMiss = errors.New("fingerprint cache miss")

	// ErrNoSource is returned when a tier needs the source media but
	// the request carries neither a path nor a decoded buffer.
	ErrNoSource = errors.New("no source available for fingerprint generation")
)
