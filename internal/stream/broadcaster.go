package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/bryanchriswhite/motioncomm/internal/logger"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
)

const (
	// DefaultChunkThreshold is the minimum number of upstream bytes gathered
	// before a chunk is fanned out.
	DefaultChunkThreshold = 2048

	// DefaultReadBuffer is the largest chunk read from upstream at once.
	DefaultReadBuffer = 64 << 10
)

// Options tunes a Broadcaster. Zero values select the defaults.
type Options struct {
	ChunkThreshold int
	ReadBuffer     int
	SinkBuffer     int
}

func (o Options) withDefaults() Options {
	if o.ChunkThreshold <= 0 {
		o.ChunkThreshold = DefaultChunkThreshold
	}
	if o.ReadBuffer <= 0 {
		o.ReadBuffer = DefaultReadBuffer
	}
	if o.ReadBuffer < o.ChunkThreshold {
		o.ReadBuffer = o.ChunkThreshold
	}
	if o.SinkBuffer == 0 {
		o.SinkBuffer = DefaultSinkBuffer
	}
	return o
}

type state int

const (
	stateIdle state = iota
	stateRunning
	stateStopped
)

func (s state) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateRunning:
		return "running"
	default:
		return "stopped"
	}
}

// Broadcaster owns one upstream camera stream and replicates every chunk it
// reads to all attached consumer sinks.
//
// A broadcaster is single-use: once stopped, by Stop, by its last consumer
// detaching, or by the upstream failing, it never restarts and AddConsumer
// returns ErrBroadcasterClosed. The owner is told through the idle callback
// so it can drop its reference and create a fresh one on the next request.
type Broadcaster struct {
	cameraID string
	source   Source
	opts     Options
	onIdle   func(*Broadcaster)
	log      *zerolog.Logger

	mu       sync.Mutex
	state    state
	cancel   context.CancelFunc
	upstream io.ReadCloser
	err      error

	reg *registry
	wg  conc.WaitGroup

	done       chan struct{}
	finishOnce sync.Once
	retireOnce sync.Once

	bytesRead   atomic.Uint64
	chunks      atomic.Uint64
	writeErrors atomic.Uint64
}

// NewBroadcaster creates a broadcaster for cameraID. onIdle may be nil; when
// set it is called exactly once, without any broadcaster lock held, after
// the broadcaster has stopped for good.
func NewBroadcaster(cameraID string, source Source, opts Options, onIdle func(*Broadcaster)) *Broadcaster {
	return &Broadcaster{
		cameraID: cameraID,
		source:   source,
		opts:     opts.withDefaults(),
		onIdle:   onIdle,
		log:      logger.WithCamera("broadcaster", cameraID),
		reg:      newRegistry(),
		done:     make(chan struct{}),
	}
}

// CameraID returns the camera this broadcaster streams.
func (b *Broadcaster) CameraID() string {
	return b.cameraID
}

// Start opens the upstream stream and starts the fan-out loop in the
// background. Calling Start more than once has no effect.
func (b *Broadcaster) Start() {
	b.mu.Lock()
	if b.state != stateIdle {
		b.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	b.state = stateRunning
	b.cancel = cancel
	b.mu.Unlock()

	b.log.Debug().Msg("Starting broadcaster")
	b.wg.Go(func() {
		b.run(ctx)
	})
}

// Stop ends the fan-out loop and closes the upstream connection, which
// unblocks a read in progress. Attached consumers read the remaining
// buffered bytes and then io.EOF.
func (b *Broadcaster) Stop() {
	b.mu.Lock()
	teardown := b.stopLocked()
	b.mu.Unlock()

	teardown()
	b.retire()
}

// stopLocked flips the broadcaster to stopped and returns the work that must
// happen after b.mu is released. The caller must hold b.mu.
func (b *Broadcaster) stopLocked() func() {
	prev := b.state
	if prev == stateStopped {
		return func() {}
	}
	b.state = stateStopped
	cancel := b.cancel
	upstream := b.upstream

	return func() {
		b.log.Debug().Str("previous_state", prev.String()).Msg("Stopping broadcaster")
		if cancel != nil {
			cancel()
		}
		if upstream != nil {
			upstream.Close()
		}
		if prev == stateIdle {
			// No loop was ever started, so nothing else will finish us.
			b.finish()
		}
	}
}

// AddConsumer attaches a new sink under id. A sink already registered under
// the same id is replaced and its producer end closed.
func (b *Broadcaster) AddConsumer(id string) (*Sink, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == stateStopped {
		return nil, fmt.Errorf("camera %s: %w", b.cameraID, ErrBroadcasterClosed)
	}

	s := newSink(id, b.opts.SinkBuffer)
	if old := b.reg.add(s); old != nil {
		old.CloseWrite()
		b.log.Debug().Str("consumer", id).Msg("Replaced existing consumer sink")
	}

	b.log.Debug().
		Str("consumer", id).
		Int("consumers", b.reg.len()).
		Msg("Consumer added")
	return s, nil
}

// RemoveConsumer detaches and closes s. Removing a sink that is no longer
// registered is a no-op. When the last consumer leaves, the broadcaster stops.
func (b *Broadcaster) RemoveConsumer(s *Sink) {
	if s == nil {
		return
	}

	b.mu.Lock()
	removed, remaining := b.reg.remove(s)
	teardown := func() {}
	if removed && remaining == 0 {
		teardown = b.stopLocked()
	}
	b.mu.Unlock()

	s.Close()
	if !removed {
		return
	}

	b.log.Debug().
		Str("consumer", s.ID()).
		Int("consumers", remaining).
		Msg("Consumer removed")

	if remaining == 0 {
		b.log.Info().Msg("Last consumer detached, stopping broadcaster")
		teardown()
		b.retire()
	}
}

func (b *Broadcaster) run(ctx context.Context) {
	defer b.retire()
	defer b.finish()

	rc, err := b.source.Open(ctx, b.cameraID)
	if err != nil {
		if ctx.Err() == nil {
			b.setErr(fmt.Errorf("%w: camera %s: %v", ErrConnection, b.cameraID, err))
			b.log.Error().Err(err).Msg("Failed to open upstream stream")
		}
		return
	}

	b.mu.Lock()
	if b.state == stateStopped {
		b.mu.Unlock()
		rc.Close()
		return
	}
	b.upstream = rc
	b.mu.Unlock()
	defer rc.Close()

	b.log.Info().Int("threshold", b.opts.ChunkThreshold).Msg("Upstream stream opened")

	buf := make([]byte, b.opts.ReadBuffer)
	for ctx.Err() == nil {
		// Blocks until the threshold is reached or the stream ends.
		n, err := io.ReadAtLeast(rc, buf, b.opts.ChunkThreshold)
		if n > 0 && ctx.Err() == nil {
			b.fanOut(buf[:n])
		}
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			b.setErr(fmt.Errorf("%w: camera %s: upstream closed the stream", ErrConnection, b.cameraID))
			b.log.Warn().Msg("Upstream stream ended")
		} else {
			b.setErr(fmt.Errorf("%w: camera %s: %v", ErrConnection, b.cameraID, err))
			b.log.Error().Err(err).Msg("Upstream read failed")
		}
		return
	}
}

// fanOut writes chunk to every attached sink. A failing sink is logged once
// and skipped; it never affects the loop or the other sinks.
func (b *Broadcaster) fanOut(chunk []byte) {
	b.bytesRead.Add(uint64(len(chunk)))
	b.chunks.Add(1)

	b.reg.each(func(s *Sink) {
		failed := s.Overflowed()
		if _, err := s.Write(chunk); err != nil {
			b.writeErrors.Add(1)
			if failed {
				return
			}
			b.log.Warn().
				Err(fmt.Errorf("%w: %v", ErrSinkWrite, err)).
				Str("consumer", s.ID()).
				Int("bytes", len(chunk)).
				Msg("Failed to write chunk to consumer")
		}
	})

	b.log.Trace().Int("bytes", len(chunk)).Msg("Chunk fanned out")
}

// finish marks the broadcaster stopped and closes every sink's producer end
// so consumers blocked in Read wake up.
func (b *Broadcaster) finish() {
	b.finishOnce.Do(func() {
		b.mu.Lock()
		b.state = stateStopped
		if b.cancel != nil {
			b.cancel()
		}
		b.mu.Unlock()

		b.reg.each(func(s *Sink) {
			s.CloseWrite()
		})
		close(b.done)
		b.log.Debug().Msg("Broadcaster finished")
	})
}

func (b *Broadcaster) retire() {
	b.retireOnce.Do(func() {
		if b.onIdle != nil {
			b.onIdle(b)
		}
	})
}

func (b *Broadcaster) setErr(err error) {
	b.mu.Lock()
	if b.err == nil {
		b.err = err
	}
	b.mu.Unlock()
}

// Done is closed once the fan-out loop has exited.
func (b *Broadcaster) Done() <-chan struct{} {
	return b.done
}

// Stopped reports whether the broadcaster can no longer accept consumers.
func (b *Broadcaster) Stopped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == stateStopped
}

// Err returns the connection error that ended the loop, if any.
func (b *Broadcaster) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// Consumers returns the number of attached sinks.
func (b *Broadcaster) Consumers() int {
	return b.reg.len()
}

// ConsumerIDs returns the attached consumer IDs in sorted order.
func (b *Broadcaster) ConsumerIDs() []string {
	return b.reg.ids()
}

// Wait blocks until the fan-out goroutine has returned. A panic in the loop
// is logged instead of propagated.
func (b *Broadcaster) Wait() {
	if r := b.wg.WaitAndRecover(); r != nil {
		b.log.Error().Str("panic", fmt.Sprint(r.Value)).Msg("Broadcaster loop panicked")
	}
}

// Stats is a point-in-time view of a broadcaster.
type Stats struct {
	CameraID    string      `json:"camera_id"`
	State       string      `json:"state"`
	Consumers   []SinkStats `json:"consumers"`
	BytesRead   uint64      `json:"bytes_read"`
	Chunks      uint64      `json:"chunks"`
	WriteErrors uint64      `json:"write_errors"`
	Error       string      `json:"error,omitempty"`
}

// Stats returns the broadcaster counters.
func (b *Broadcaster) Stats() Stats {
	b.mu.Lock()
	st := b.state
	err := b.err
	b.mu.Unlock()

	consumers := make([]SinkStats, 0, b.reg.len())
	b.reg.each(func(s *Sink) {
		consumers = append(consumers, s.Stats())
	})

	stats := Stats{
		CameraID:    b.cameraID,
		State:       st.String(),
		Consumers:   consumers,
		BytesRead:   b.bytesRead.Load(),
		Chunks:      b.chunks.Load(),
		WriteErrors: b.writeErrors.Load(),
	}
	if err != nil {
		stats.Error = err.Error()
	}
	return stats
}
