package stream

import "errors"

var (
	// ErrConnection is returned when the upstream camera stream cannot be
	// opened or ends unexpectedly.
	ErrConnection = errors.New("upstream connection error")

	// ErrSinkWrite wraps a failed write to a single consumer sink.
	ErrSinkWrite = errors.New("sink write error")

	// ErrSinkClosed is returned by sink reads and writes after either end closed.
	ErrSinkClosed = errors.New("sink closed")

	// ErrSinkOverflow is returned when a consumer falls so far behind that
	// its sink buffer would exceed the configured limit.
	ErrSinkOverflow = errors.New("sink buffer full")

	// ErrBroadcasterClosed is returned when attaching to a stopped broadcaster.
	ErrBroadcasterClosed = errors.New("broadcaster closed")
)
