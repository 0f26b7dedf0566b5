package errors

import "errors"

var (
	ErrNotFound = errors.New("booking not found")

	ErrInvalidID = errors.New("invalid booking ID format")

	// ErrStatusChanged is returned by a conditional status update when the
	// stored status no longer matches the expected one.
	ErrStatusChanged = errors.New("booking status changed concurrently")
)
