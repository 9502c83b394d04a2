package fanout

import "errors"

var (
	// ErrEmptyBuffer is returned by Broadcast for a zero-length buffer.
	ErrEmptyBuffer = errors.New("broadcast buffer is empty")

	// ErrLockTimeout is returned after the registry lock could not be
	// acquired within the configured timeout. The fatal handler has
	// already run by the time a caller sees it.
	ErrLockTimeout = errors.New("registry lock timeout")

	// ErrServerClosed is returned by Broadcast after Shutdown.
	ErrServerClosed = errors.New("fanout server closed")
)
