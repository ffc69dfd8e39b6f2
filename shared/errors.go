package shared

import "errors"

var (
	// ErrCorruptRun is returned when a sorted run's header, filter, index or
	// value range cannot be read back consistently.
	ErrCorruptRun = errors.New("corrupt sorted run")

	ErrCorruptWAL = errors.New("corrupt WAL record")

	// ErrInvalidValue is returned for empty values and the tombstone literal.
	ErrInvalidValue = errors.New("invalid value")

	// ErrValueTooLarge is returned when one entry cannot fit in an empty run.
	ErrValueTooLarge = errors.New("value exceeds run byte budget")

	ErrClosed = errors.New("store is closed")
)
