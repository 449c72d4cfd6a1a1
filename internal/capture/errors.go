package capture

import "errors"

var (
	// ErrDecode is returned when a frame cannot be parsed, decoded or
	// re-encoded. It ends the decoder run that hit it.
	ErrDecode = errors.New("frame decode error")

	// ErrInvalidFrameCount is returned for capture requests asking for
	// zero or fewer frames.
	ErrInvalidFrameCount = errors.New("frame count must be positive")

	// ErrClosed is returned by a coordinator after Close.
	ErrClosed = errors.New("capture coordinator closed")
)
