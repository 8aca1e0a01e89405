package repository

import "errors"

var (
	// ErrNotFound is returned when a lookup matches no row
	ErrNotFound = errors.New("record not found")
	// ErrInvalidInput rejects arguments before any query runs
	ErrInvalidInput = errors.New("invalid input")
	// ErrTokenAlreadyConsumed is returned by conditional writes when the token
	// no longer resolves to a live granted request at the moment of the write.
	ErrTokenAlreadyConsumed = errors.New("reset token already consumed")
)

// AnyAttempts (or any negative count) disables the observed failed-attempt
// check of Consume and IncrementFailure
const AnyAttempts = -1
