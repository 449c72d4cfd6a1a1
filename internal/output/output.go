package output

import (
	"github.com/bryanchriswhite/motioncomm/internal/capture"
)

// Output defines a destination for captured frames. Outputs are capture
// listeners with a lifecycle, so several can be combined with Multi:
// - MJPEG HTTP re-stream per destination
// - websocket event hub
type Output interface {
	capture.Listener

	// Start initializes the output mechanism
	Start() error

	// Stop cleanly shuts down the output
	Stop() error

	// Name returns a human-readable name for this output type
	Name() string

	// IsRunning returns true if the output is currently active
	IsRunning() bool
}

// Multi forwards every listener call to each of its members in order.
type Multi []capture.Listener

// OnNewFrame implements capture.Listener.
func (m Multi) OnNewFrame(cameraID string, frame []byte, destination string) {
	for _, l := range m {
		l.OnNewFrame(cameraID, frame, destination)
	}
}

// OnStatusChanged implements capture.Listener.
func (m Multi) OnStatusChanged(cameraID string) {
	for _, l := range m {
		l.OnStatusChanged(cameraID)
	}
}

// OnCaptureResult implements capture.ResultListener for members that want it.
func (m Multi) OnCaptureResult(result capture.Result) {
	for _, l := range m {
		if rl, ok := l.(capture.ResultListener); ok {
			rl.OnCaptureResult(result)
		}
	}
}
