package motion

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type setCall struct {
	camera string
	key    string
	value  string
}

type fakeSetter struct {
	mu    sync.Mutex
	calls []setCall
	ok    bool
	err   error
}

func (f *fakeSetter) SetParameter(ctx context.Context, cameraID, key, value string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, setCall{cameraID, key, value})
	return f.ok, f.err
}

func (f *fakeSetter) snapshot() []setCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]setCall(nil), f.calls...)
}

func waitFor(t *testing.T, e *Emulator, cameraID string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.Wait(ctx, cameraID); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func TestEmulatorTriggerAndReset(t *testing.T) {
	setter := &fakeSetter{ok: true}
	e := NewEmulator(setter)

	if err := e.Trigger(context.Background(), "1", 20*time.Millisecond); err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if _, ok := e.Pending("1"); !ok {
		t.Error("expected a pending reset")
	}

	waitFor(t, e, "1")

	calls := setter.snapshot()
	want := []setCall{{"1", ParamEmulateMotion, "on"}, {"1", ParamEmulateMotion, "off"}}
	if len(calls) != 2 || calls[0] != want[0] || calls[1] != want[1] {
		t.Errorf("expected %v, got %v", want, calls)
	}
	if _, ok := e.Pending("1"); ok {
		t.Error("expected no pending reset after it ran")
	}
}

func TestEmulatorRetriggerPushesResetBack(t *testing.T) {
	setter := &fakeSetter{ok: true}
	e := NewEmulator(setter)
	ctx := context.Background()

	e.Trigger(ctx, "1", 30*time.Millisecond)
	first, _ := e.Pending("1")
	e.Trigger(ctx, "1", 200*time.Millisecond)
	second, _ := e.Pending("1")
	if !second.After(first) {
		t.Errorf("expected reset to move later: %v then %v", first, second)
	}

	time.Sleep(80 * time.Millisecond)
	for _, c := range setter.snapshot() {
		if c.value == "off" {
			t.Fatal("first reset fired although it was replaced")
		}
	}

	waitFor(t, e, "1")
	offs := 0
	for _, c := range setter.snapshot() {
		if c.value == "off" {
			offs++
		}
	}
	if offs != 1 {
		t.Errorf("expected exactly one reset, got %d", offs)
	}
}

func TestEmulatorCancel(t *testing.T) {
	setter := &fakeSetter{ok: true}
	e := NewEmulator(setter)

	e.Trigger(context.Background(), "1", 20*time.Millisecond)
	if !e.Cancel("1") {
		t.Fatal("expected Cancel to report a pending reset")
	}
	if e.Cancel("1") {
		t.Error("second Cancel should find nothing")
	}

	waitFor(t, e, "1")
	time.Sleep(40 * time.Millisecond)
	if calls := setter.snapshot(); len(calls) != 1 {
		t.Errorf("expected only the 'on' call, got %v", calls)
	}
}

func TestEmulatorTriggerFailure(t *testing.T) {
	e := NewEmulator(&fakeSetter{ok: false})
	if err := e.Trigger(context.Background(), "1", time.Second); !errors.Is(err, ErrUnexpectedReply) {
		t.Errorf("expected ErrUnexpectedReply, got %v", err)
	}
	if _, ok := e.Pending("1"); ok {
		t.Error("failed trigger must not schedule a reset")
	}

	boom := errors.New("boom")
	e = NewEmulator(&fakeSetter{err: boom})
	if err := e.Trigger(context.Background(), "1", time.Second); !errors.Is(err, boom) {
		t.Errorf("expected boom, got %v", err)
	}
}

func TestEmulatorStop(t *testing.T) {
	setter := &fakeSetter{ok: true}
	e := NewEmulator(setter)
	ctx := context.Background()

	e.Trigger(ctx, "1", 20*time.Millisecond)
	e.Trigger(ctx, "2", 20*time.Millisecond)
	e.Stop()

	waitFor(t, e, "1")
	waitFor(t, e, "2")
	time.Sleep(40 * time.Millisecond)
	if calls := setter.snapshot(); len(calls) != 2 {
		t.Errorf("expected only the two 'on' calls, got %v", calls)
	}
}

func TestEmulatorWaitHonoursContext(t *testing.T) {
	e := NewEmulator(&fakeSetter{ok: true})
	e.Trigger(context.Background(), "1", time.Hour)
	defer e.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := e.Wait(ctx, "1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded, got %v", err)
	}
}

// slowResetSetter holds every "off" write until released, recording calls in
// the order the daemon would apply them.
type slowResetSetter struct {
	fakeSetter
	offStarted chan struct{}
	release    chan struct{}
	once       sync.Once
}

func (s *slowResetSetter) SetParameter(ctx context.Context, cameraID, key, value string) (bool, error) {
	if value == "off" {
		s.once.Do(func() { close(s.offStarted) })
		<-s.release
	}
	return s.fakeSetter.SetParameter(ctx, cameraID, key, value)
}

func TestEmulatorRetriggerDuringResetKeepsMotionOn(t *testing.T) {
	setter := &slowResetSetter{
		fakeSetter: fakeSetter{ok: true},
		offStarted: make(chan struct{}),
		release:    make(chan struct{}),
	}
	e := NewEmulator(setter)
	defer e.Stop()

	if err := e.Trigger(context.Background(), "1", 10*time.Millisecond); err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	select {
	case <-setter.offStarted:
	case <-time.After(2 * time.Second):
		t.Fatal("reset never started")
	}

	retriggered := make(chan error, 1)
	go func() {
		retriggered <- e.Trigger(context.Background(), "1", time.Hour)
	}()
	time.Sleep(20 * time.Millisecond)
	close(setter.release)

	select {
	case err := <-retriggered:
		if err != nil {
			t.Fatalf("Trigger: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("second trigger did not return")
	}

	calls := setter.snapshot()
	if len(calls) != 3 || calls[1].value != "off" || calls[2].value != "on" {
		t.Fatalf("expected on, off, on; got %v", calls)
	}
	if _, ok := e.Pending("1"); !ok {
		t.Error("expected the second trigger's reset to be pending")
	}
}
