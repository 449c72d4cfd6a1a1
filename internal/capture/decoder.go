package capture

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/bryanchriswhite/motioncomm/internal/logger"
	"github.com/bryanchriswhite/motioncomm/internal/stream"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ConsumerID is the broadcaster consumer key for a camera and destination.
func ConsumerID(cameraID, destination string) string {
	return cameraID + "_" + destination
}

// Decoder reads one consumer sink as a sequence of MJPEG frames and hands
// each re-encoded frame to the listener until its quota is met.
type Decoder struct {
	runID       string
	cameraID    string
	destination string

	enc      *Encoder
	listener Listener
	maxFrame int
	onDone   func(*Decoder)
	log      *zerolog.Logger

	bc   *stream.Broadcaster
	sink *stream.Sink

	mu       sync.Mutex
	quota    int
	captured int
	finished bool
	err      error

	started time.Time
	done    chan struct{}
}

func newDecoder(cameraID, destination string, quota int, enc *Encoder, listener Listener, maxFrame int, onDone func(*Decoder)) *Decoder {
	runID := uuid.NewString()
	l := logger.WithCamera("decoder", cameraID).With().
		Str("destination", destination).
		Str("run", runID).
		Logger()

	return &Decoder{
		runID:       runID,
		cameraID:    cameraID,
		destination: destination,
		enc:         enc,
		listener:    listener,
		maxFrame:    maxFrame,
		onDone:      onDone,
		log:         &l,
		quota:       quota,
		started:     time.Now(),
		done:        make(chan struct{}),
	}
}

// attach registers the decoder as a consumer of bc.
func (d *Decoder) attach(bc *stream.Broadcaster) error {
	sink, err := bc.AddConsumer(ConsumerID(d.cameraID, d.destination))
	if err != nil {
		return err
	}
	d.bc = bc
	d.sink = sink
	return nil
}

// RunID identifies this capture run.
func (d *Decoder) RunID() string {
	return d.runID
}

// AddFrames extends the quota by n. It returns false if the run already
// ended, in which case the caller must start a new one.
func (d *Decoder) AddFrames(n int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.finished {
		return false
	}
	d.quota += n
	d.log.Debug().Int("added", n).Int("quota", d.quota).Msg("Quota extended")
	return true
}

// Quota returns the number of frames the run is currently allowed to capture.
func (d *Decoder) Quota() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.quota
}

// Captured returns the number of frames captured so far.
func (d *Decoder) Captured() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.captured
}

// Done is closed once the run has detached and reported its result.
func (d *Decoder) Done() <-chan struct{} {
	return d.done
}

// wantMore reports whether another frame should be read. Once it returns
// false the decoder is finished and AddFrames can no longer extend it.
func (d *Decoder) wantMore() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.finished {
		return false
	}
	if d.captured >= d.quota {
		d.finished = true
		return false
	}
	return true
}

func (d *Decoder) fail(err error) {
	d.mu.Lock()
	d.finished = true
	if d.err == nil {
		d.err = err
	}
	d.mu.Unlock()
}

func (d *Decoder) run() {
	defer d.terminate()

	d.log.Debug().Int("quota", d.Quota()).Msg("Frame capture started")

	fr := NewFrameReader(d.sink, d.maxFrame)
	for d.wantMore() {
		data, err := fr.ReadFrame()
		if err != nil {
			d.fail(d.readError(err))
			return
		}

		if d.listener != nil {
			out, err := d.enc.Encode(d.cameraID, data, time.Now())
			if err != nil {
				d.fail(err)
				return
			}
			d.listener.OnNewFrame(d.cameraID, out, d.destination)
		}

		d.mu.Lock()
		d.captured++
		captured, quota := d.captured, d.quota
		d.mu.Unlock()

		d.log.Debug().
			Int("captured", captured).
			Int("quota", quota).
			Msg("Frame captured")
	}
}

// readError classifies a failed frame read. A sink that ran dry means the
// broadcaster went away, so its connection error is the better explanation.
// An overflowed sink means this consumer fell behind and lost bytes.
func (d *Decoder) readError(err error) error {
	if errors.Is(err, stream.ErrSinkOverflow) {
		return fmt.Errorf("%w: consumer fell behind after %d frames: %w", stream.ErrSinkWrite, d.Captured(), err)
	}
	if errors.Is(err, io.EOF) || errors.Is(err, stream.ErrSinkClosed) {
		if bcErr := d.bc.Err(); bcErr != nil {
			return bcErr
		}
		return fmt.Errorf("%w: stream ended after %d frames", ErrDecode, d.Captured())
	}
	if errors.Is(err, ErrDecode) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrDecode, err)
}

func (d *Decoder) terminate() {
	d.bc.RemoveConsumer(d.sink)

	d.mu.Lock()
	d.finished = true
	res := Result{
		RunID:       d.runID,
		CameraID:    d.cameraID,
		Destination: d.destination,
		Requested:   d.quota,
		Delivered:   d.captured,
		Started:     d.started,
		Ended:       time.Now(),
		Err:         d.err,
	}
	d.mu.Unlock()

	if res.Err != nil {
		res.Error = res.Err.Error()
		d.log.Warn().
			Err(res.Err).
			Int("delivered", res.Delivered).
			Int("requested", res.Requested).
			Msg("Frame capture ended early")
	} else {
		d.log.Info().
			Int("delivered", res.Delivered).
			Dur("elapsed", res.Ended.Sub(res.Started)).
			Msg("Frame capture complete")
	}

	if d.onDone != nil {
		d.onDone(d)
	}
	if rl, ok := d.listener.(ResultListener); ok {
		rl.OnCaptureResult(res)
	}
	close(d.done)
}

// DecoderStats is a point-in-time view of a capture run.
type DecoderStats struct {
	RunID       string    `json:"run_id"`
	CameraID    string    `json:"camera_id"`
	Destination string    `json:"destination"`
	Quota       int       `json:"quota"`
	Captured    int       `json:"captured"`
	Started     time.Time `json:"started"`
}

// Stats returns the run counters.
func (d *Decoder) Stats() DecoderStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return DecoderStats{
		RunID:       d.runID,
		CameraID:    d.cameraID,
		Destination: d.destination,
		Quota:       d.quota,
		Captured:    d.captured,
		Started:     d.started,
	}
}
