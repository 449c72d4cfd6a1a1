package capture

import (
	"fmt"
	"sort"
	"sync"

	"github.com/bryanchriswhite/motioncomm/internal/logger"
	"github.com/bryanchriswhite/motioncomm/internal/stream"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
)

// Config holds the settings shared by every broadcaster and decoder a
// coordinator creates.
type Config struct {
	Stream       stream.Options
	Encoder      EncoderConfig
	MaxFrameSize int
}

type decoderKey struct {
	cameraID    string
	destination string
}

// Ticket describes how a capture request was served.
type Ticket struct {
	RunID       string `json:"run_id"`
	CameraID    string `json:"camera_id"`
	Destination string `json:"destination"`
	// Extended is true when the request added frames to a running capture
	// instead of starting a new one.
	Extended bool `json:"extended"`
	Quota    int  `json:"quota"`
}

// Coordinator is the entry point for frame capture. It owns the
// camera→broadcaster and (camera, destination)→decoder registries and is the
// only place entries are created.
type Coordinator struct {
	source stream.Source
	cfg    Config
	enc    *Encoder
	log    *zerolog.Logger

	mu           sync.Mutex
	listener     Listener
	broadcasters map[string]*stream.Broadcaster
	decoders     map[decoderKey]*Decoder
	closed       bool

	wg conc.WaitGroup
}

// NewCoordinator creates a coordinator reading camera streams from source.
func NewCoordinator(source stream.Source, listener Listener, cfg Config) (*Coordinator, error) {
	enc, err := NewEncoder(cfg.Encoder)
	if err != nil {
		return nil, fmt.Errorf("invalid encoder config: %w", err)
	}
	cfg.Encoder = enc.Config()
	if cfg.MaxFrameSize <= 0 {
		cfg.MaxFrameSize = DefaultMaxFrameSize
	}

	return &Coordinator{
		source:       source,
		cfg:          cfg,
		enc:          enc,
		log:          logger.WithComponent("coordinator"),
		listener:     listener,
		broadcasters: make(map[string]*stream.Broadcaster),
		decoders:     make(map[decoderKey]*Decoder),
	}, nil
}

// SetListener replaces the listener used by capture runs started afterwards.
func (c *Coordinator) SetListener(l Listener) {
	c.mu.Lock()
	c.listener = l
	c.mu.Unlock()
}

// CaptureFrames requests frameCount frames from cameraID for destination.
// If a run for the same camera and destination is in progress its quota is
// extended; otherwise a new run is started, sharing the camera's broadcaster
// when one is live.
func (c *Coordinator) CaptureFrames(cameraID string, frameCount int, destination string) (Ticket, error) {
	if frameCount <= 0 {
		return Ticket{}, fmt.Errorf("%w: got %d", ErrInvalidFrameCount, frameCount)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return Ticket{}, ErrClosed
	}

	key := decoderKey{cameraID: cameraID, destination: destination}
	if d, ok := c.decoders[key]; ok && d.AddFrames(frameCount) {
		c.log.Debug().
			Str("camera", cameraID).
			Str("destination", destination).
			Int("added", frameCount).
			Msg("Extended running capture")
		return Ticket{
			RunID:       d.RunID(),
			CameraID:    cameraID,
			Destination: destination,
			Extended:    true,
			Quota:       d.Quota(),
		}, nil
	}

	d := newDecoder(cameraID, destination, frameCount, c.enc, c.listener, c.cfg.MaxFrameSize, c.decoderDone(key))

	b, ok := c.broadcasters[cameraID]
	if !ok || b.Stopped() {
		b = c.newBroadcasterLocked(cameraID)
	}
	if err := d.attach(b); err != nil {
		// The broadcaster lost its last consumer or its upstream after the
		// lookup; a fresh one has not started yet so attaching cannot fail.
		c.log.Debug().Err(err).Str("camera", cameraID).Msg("Replacing stopped broadcaster")
		b = c.newBroadcasterLocked(cameraID)
		if err := d.attach(b); err != nil {
			return Ticket{}, err
		}
	}
	b.Start()

	c.decoders[key] = d
	c.wg.Go(d.run)

	c.log.Info().
		Str("camera", cameraID).
		Str("destination", destination).
		Str("run", d.RunID()).
		Int("frames", frameCount).
		Msg("Started frame capture")

	return Ticket{
		RunID:       d.RunID(),
		CameraID:    cameraID,
		Destination: destination,
		Quota:       frameCount,
	}, nil
}

// newBroadcasterLocked registers an unstarted broadcaster for cameraID.
// The caller must hold c.mu.
func (c *Coordinator) newBroadcasterLocked(cameraID string) *stream.Broadcaster {
	b := stream.NewBroadcaster(cameraID, c.source, c.cfg.Stream, c.retireBroadcaster)
	c.broadcasters[cameraID] = b
	c.log.Debug().Str("camera", cameraID).Msg("Created broadcaster")
	return b
}

// retireBroadcaster drops b from the registry unless it was already replaced.
func (c *Coordinator) retireBroadcaster(b *stream.Broadcaster) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.broadcasters[b.CameraID()] == b {
		delete(c.broadcasters, b.CameraID())
		c.log.Debug().Str("camera", b.CameraID()).Msg("Retired broadcaster")
	}
}

func (c *Coordinator) decoderDone(key decoderKey) func(*Decoder) {
	return func(d *Decoder) {
		c.mu.Lock()
		defer c.mu.Unlock()

		if c.decoders[key] == d {
			delete(c.decoders, key)
		}
	}
}

// Close stops every broadcaster, which ends every capture run, and waits
// for all goroutines to return.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	bcs := make([]*stream.Broadcaster, 0, len(c.broadcasters))
	for _, b := range c.broadcasters {
		bcs = append(bcs, b)
	}
	c.mu.Unlock()

	// Stop calls back into retireBroadcaster, so c.mu must not be held here.
	for _, b := range bcs {
		b.Stop()
	}
	if r := c.wg.WaitAndRecover(); r != nil {
		c.log.Error().Str("panic", fmt.Sprint(r.Value)).Msg("Capture run panicked")
	}
	for _, b := range bcs {
		b.Wait()
	}

	c.log.Info().Int("broadcasters", len(bcs)).Msg("Capture coordinator closed")
	return nil
}

// Broadcaster returns the live broadcaster for cameraID, if any.
func (c *Coordinator) Broadcaster(cameraID string) (*stream.Broadcaster, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.broadcasters[cameraID]
	return b, ok
}

// Decoder returns the running decoder for cameraID and destination, if any.
func (c *Coordinator) Decoder(cameraID, destination string) (*Decoder, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.decoders[decoderKey{cameraID: cameraID, destination: destination}]
	return d, ok
}

// Stats is a snapshot of every live broadcaster and capture run.
type Stats struct {
	Broadcasters []stream.Stats  `json:"broadcasters"`
	Captures     []DecoderStats  `json:"captures"`
	Encoder      EncoderSettings `json:"encoder"`
}

// EncoderSettings is the JSON view of EncoderConfig.
type EncoderSettings struct {
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Format  Format `json:"format"`
	Caption bool   `json:"caption"`
}

// Stats returns a snapshot sorted by camera and destination.
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	bcs := make([]*stream.Broadcaster, 0, len(c.broadcasters))
	for _, b := range c.broadcasters {
		bcs = append(bcs, b)
	}
	decs := make([]*Decoder, 0, len(c.decoders))
	for _, d := range c.decoders {
		decs = append(decs, d)
	}
	c.mu.Unlock()

	stats := Stats{
		Broadcasters: make([]stream.Stats, 0, len(bcs)),
		Captures:     make([]DecoderStats, 0, len(decs)),
		Encoder: EncoderSettings{
			Width:   c.cfg.Encoder.Width,
			Height:  c.cfg.Encoder.Height,
			Format:  c.cfg.Encoder.Format,
			Caption: c.cfg.Encoder.Caption,
		},
	}
	for _, b := range bcs {
		stats.Broadcasters = append(stats.Broadcasters, b.Stats())
	}
	for _, d := range decs {
		stats.Captures = append(stats.Captures, d.Stats())
	}

	sort.Slice(stats.Broadcasters, func(i, j int) bool {
		return stats.Broadcasters[i].CameraID < stats.Broadcasters[j].CameraID
	})
	sort.Slice(stats.Captures, func(i, j int) bool {
		if stats.Captures[i].CameraID != stats.Captures[j].CameraID {
			return stats.Captures[i].CameraID < stats.Captures[j].CameraID
		}
		return stats.Captures[i].Destination < stats.Captures[j].Destination
	})
	return stats
}
