package motion

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bryanchriswhite/motioncomm/internal/logger"
	"github.com/rs/zerolog"
)

// ParameterSetter is the part of Client the emulator needs.
type ParameterSetter interface {
	SetParameter(ctx context.Context, cameraID, key, value string) (bool, error)
}

type pendingReset struct {
	timer *time.Timer
	due   time.Time
	// done is closed once the reset has run or will never run.
	done chan struct{}
}

// drop stops the timer and releases waiters if the reset had not started.
func (p *pendingReset) drop() {
	if p.timer.Stop() {
		close(p.done)
	}
}

// Emulator turns Motion's emulate_motion flag on for a while and switches it
// back off with a one-shot timer.
type Emulator struct {
	setter       ParameterSetter
	resetTimeout time.Duration
	log          *zerolog.Logger

	mu      sync.Mutex
	pending map[string]*pendingReset
	// cameras serializes daemon writes per camera so a late "off" can
	// never land after a newer "on".
	cameras map[string]*sync.Mutex
}

// NewEmulator creates an emulator writing through setter.
func NewEmulator(setter ParameterSetter) *Emulator {
	return &Emulator{
		setter:       setter,
		resetTimeout: 10 * time.Second,
		log:          logger.WithComponent("emulator"),
		pending:      make(map[string]*pendingReset),
		cameras:      make(map[string]*sync.Mutex),
	}
}

func (e *Emulator) cameraLock(cameraID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()

	l := e.cameras[cameraID]
	if l == nil {
		l = &sync.Mutex{}
		e.cameras[cameraID] = l
	}
	return l
}

// Trigger starts emulated motion on cameraID and schedules it to stop after
// duration. Triggering a camera that already has a pending reset pushes the
// reset back.
func (e *Emulator) Trigger(ctx context.Context, cameraID string, duration time.Duration) error {
	cl := e.cameraLock(cameraID)
	cl.Lock()
	defer cl.Unlock()

	ok, err := e.setter.SetParameter(ctx, cameraID, ParamEmulateMotion, "on")
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: emulate_motion was not switched on for camera %s", ErrUnexpectedReply, cameraID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if p := e.pending[cameraID]; p != nil {
		p.drop()
	}
	p := &pendingReset{due: time.Now().Add(duration), done: make(chan struct{})}
	p.timer = time.AfterFunc(duration, func() {
		e.fire(cameraID, p)
	})
	e.pending[cameraID] = p

	e.log.Info().
		Str("camera", cameraID).
		Dur("duration", duration).
		Msg("Motion emulation started")
	return nil
}

func (e *Emulator) fire(cameraID string, p *pendingReset) {
	defer close(p.done)

	cl := e.cameraLock(cameraID)
	cl.Lock()
	defer cl.Unlock()

	e.mu.Lock()
	current := e.pending[cameraID] == p
	e.mu.Unlock()
	if !current {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.resetTimeout)
	defer cancel()

	ok, err := e.setter.SetParameter(ctx, cameraID, ParamEmulateMotion, "off")

	e.mu.Lock()
	if e.pending[cameraID] == p {
		delete(e.pending, cameraID)
	}
	e.mu.Unlock()

	if err != nil || !ok {
		e.log.Warn().Err(err).Str("camera", cameraID).Msg("Failed to stop motion emulation")
		return
	}
	e.log.Info().Str("camera", cameraID).Msg("Motion emulation stopped")
}

// Wait blocks until cameraID has no pending reset, including resets pushed
// back by later triggers.
func (e *Emulator) Wait(ctx context.Context, cameraID string) error {
	for {
		e.mu.Lock()
		p := e.pending[cameraID]
		e.mu.Unlock()
		if p == nil {
			return nil
		}

		select {
		case <-p.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Cancel drops the pending reset for cameraID without touching the daemon.
// It reports whether a reset was pending.
func (e *Emulator) Cancel(cameraID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	p := e.pending[cameraID]
	if p == nil {
		return false
	}
	p.drop()
	delete(e.pending, cameraID)
	return true
}

// Pending returns when the reset for cameraID is due.
func (e *Emulator) Pending(cameraID string) (time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p := e.pending[cameraID]
	if p == nil {
		return time.Time{}, false
	}
	return p.due, true
}

// Stop cancels every pending reset.
func (e *Emulator) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for id, p := range e.pending {
		p.drop()
		delete(e.pending, id)
	}
}
