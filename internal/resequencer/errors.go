package resequencer

import "errors"

var (
	// ErrCapacity is returned when the ring capacity is not a positive power of two.
	ErrCapacity = errors.New("resequencer capacity must be a positive power of two")

	// ErrNilSource is returned when no event source is supplied.
	ErrNilSource = errors.New("resequencer requires an event source")
)
