package capture

import "time"

// Listener receives captured frames. OnStatusChanged is driven by camera
// control operations, never by the capture engine itself.
type Listener interface {
	OnNewFrame(cameraID string, frame []byte, destination string)
	OnStatusChanged(cameraID string)
}

// ResultListener is implemented by listeners that want to know how each
// capture run ended.
type ResultListener interface {
	OnCaptureResult(result Result)
}

// Result summarizes a finished capture run.
type Result struct {
	RunID       string    `json:"run_id"`
	CameraID    string    `json:"camera_id"`
	Destination string    `json:"destination"`
	Requested   int       `json:"requested"`
	Delivered   int       `json:"delivered"`
	Started     time.Time `json:"started"`
	Ended       time.Time `json:"ended"`
	Err         error     `json:"-"`
	Error       string    `json:"error,omitempty"`
}

// Complete reports whether the run delivered its whole quota.
func (r Result) Complete() bool {
	return r.Err == nil && r.Delivered >= r.Requested
}
