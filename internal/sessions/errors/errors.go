package errors

import "errors"

var (
	ErrNotFound = errors.New("session not found")

	ErrInvalidID = errors.New("invalid session ID format")

	// ErrDuplicate is returned when another live session already holds the
	// same title at the same start time.
	ErrDuplicate = errors.New("session with the same title already starts at this time")

	// ErrStatusChanged is returned by a conditional status update when the
	// stored status no longer matches the expected one.
	ErrStatusChanged = errors.New("session status changed concurrently")
)
