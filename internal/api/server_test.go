package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bryanchriswhite/motioncomm/internal/capture"
	"github.com/bryanchriswhite/motioncomm/internal/motion"
)

type fakeMotion struct {
	mu       sync.Mutex
	params   map[string]string
	detected map[string]string
	failWith error
}

func newFakeMotion() *fakeMotion {
	return &fakeMotion{
		params:   map[string]string{"1/camera_name": "porch"},
		detected: map[string]string{"1": "ACTIVE"},
	}
}

func (f *fakeMotion) Threads(ctx context.Context) ([]string, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	return []string{"1", "2"}, nil
}

func (f *fakeMotion) CameraInfo(ctx context.Context, cameraID string) (*motion.CameraInfo, error) {
	return &motion.CameraInfo{ThreadID: cameraID, CameraName: "porch", MoDetStatus: "ACTIVE", StreamFPS: 5}, nil
}

func (f *fakeMotion) Snapshot(ctx context.Context, cameraID string) (bool, error) {
	return true, nil
}

func (f *fakeMotion) StartDetection(ctx context.Context, cameraID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detected[cameraID] = "ACTIVE"
	return true, nil
}

func (f *fakeMotion) PauseDetection(ctx context.Context, cameraID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detected[cameraID] = "PAUSE"
	return true, nil
}

func (f *fakeMotion) DetectionStatus(ctx context.Context, cameraID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.detected[cameraID], nil
}

func (f *fakeMotion) GetParameter(ctx context.Context, cameraID, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.params[cameraID+"/"+key]
	if !ok {
		return "", fmt.Errorf("%w: unknown key %s", motion.ErrUnexpectedReply, key)
	}
	return v, nil
}

func (f *fakeMotion) SetParameter(ctx context.Context, cameraID, key, value string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.params[cameraID+"/"+key] = value
	return true, nil
}

type fakeCapturer struct {
	calls []captureRequest
}

func (f *fakeCapturer) CaptureFrames(cameraID string, frameCount int, destination string) (capture.Ticket, error) {
	if frameCount <= 0 {
		return capture.Ticket{}, capture.ErrInvalidFrameCount
	}
	f.calls = append(f.calls, captureRequest{Frames: frameCount, Destination: destination})
	return capture.Ticket{RunID: "run-1", CameraID: cameraID, Destination: destination, Quota: frameCount}, nil
}

func (f *fakeCapturer) Stats() capture.Stats {
	return capture.Stats{Captures: []capture.DecoderStats{{CameraID: "1", Destination: "web"}}}
}

type fakeTrigger struct {
	camera   string
	duration time.Duration
}

func (f *fakeTrigger) Trigger(ctx context.Context, cameraID string, duration time.Duration) error {
	f.camera = cameraID
	f.duration = duration
	return nil
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
}

func TestHealth(t *testing.T) {
	h := NewServer(Deps{}).Router()
	rec := do(t, h, "GET", "/api/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]string
	decode(t, rec, &body)
	if body["status"] != "healthy" {
		t.Errorf("expected healthy, got %v", body)
	}
}

func TestCameraRoutes(t *testing.T) {
	fm := newFakeMotion()
	h := NewServer(Deps{Motion: fm}).Router()

	rec := do(t, h, "GET", "/api/cameras", "")
	var list struct {
		Cameras []string `json:"cameras"`
	}
	decode(t, rec, &list)
	if len(list.Cameras) != 2 || list.Cameras[0] != "1" {
		t.Errorf("unexpected cameras: %v", list.Cameras)
	}

	rec = do(t, h, "GET", "/api/cameras/1", "")
	var info motion.CameraInfo
	decode(t, rec, &info)
	if info.CameraName != "porch" || info.ThreadID != "1" {
		t.Errorf("unexpected info: %+v", info)
	}

	rec = do(t, h, "POST", "/api/cameras/1/detection/pause", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("pause: expected 200, got %d", rec.Code)
	}
	rec = do(t, h, "GET", "/api/cameras/1/detection", "")
	var status map[string]string
	decode(t, rec, &status)
	if status["status"] != "PAUSE" {
		t.Errorf("expected PAUSE, got %v", status)
	}

	rec = do(t, h, "POST", "/api/cameras/1/detection/reboot", "")
	if rec.Code == http.StatusOK {
		t.Error("unknown detection action should not succeed")
	}
}

func TestParameterRoutes(t *testing.T) {
	fm := newFakeMotion()
	h := NewServer(Deps{Motion: fm}).Router()

	rec := do(t, h, "PUT", "/api/cameras/1/config/stream_maxrate", `{"value":"10"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = do(t, h, "GET", "/api/cameras/1/config/stream_maxrate", "")
	var got map[string]string
	decode(t, rec, &got)
	if got["value"] != "10" {
		t.Errorf("expected 10, got %v", got)
	}

	rec = do(t, h, "GET", "/api/cameras/1/config/missing", "")
	if rec.Code != http.StatusBadGateway {
		t.Errorf("expected 502 for daemon error, got %d", rec.Code)
	}
}

func TestDaemonUnavailable(t *testing.T) {
	fm := newFakeMotion()
	fm.failWith = errors.New("connection refused")
	h := NewServer(Deps{Motion: fm}).Router()

	if rec := do(t, h, "GET", "/api/cameras", ""); rec.Code != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", rec.Code)
	}

	h = NewServer(Deps{}).Router()
	if rec := do(t, h, "GET", "/api/cameras", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 without a motion client, got %d", rec.Code)
	}
}

func TestCaptureRoute(t *testing.T) {
	fc := &fakeCapturer{}
	h := NewServer(Deps{Capture: fc}).Router()

	tests := []struct {
		name string
		body string
		code int
	}{
		{"valid", `{"frames":5,"destination":"web"}`, http.StatusAccepted},
		{"zero frames", `{"frames":0,"destination":"web"}`, http.StatusBadRequest},
		{"missing destination", `{"frames":5}`, http.StatusBadRequest},
		{"bad json", `{frames`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, "POST", "/api/cameras/1/capture", tt.body)
			if rec.Code != tt.code {
				t.Errorf("expected %d, got %d: %s", tt.code, rec.Code, rec.Body.String())
			}
		})
	}

	if len(fc.calls) != 1 || fc.calls[0].Frames != 5 || fc.calls[0].Destination != "web" {
		t.Errorf("unexpected capture calls: %+v", fc.calls)
	}

	rec := do(t, h, "GET", "/api/capture/stats", "")
	var stats capture.Stats
	decode(t, rec, &stats)
	if len(stats.Captures) != 1 {
		t.Errorf("expected one capture in stats, got %+v", stats)
	}
}

func TestMotionEventRoute(t *testing.T) {
	ft := &fakeTrigger{}
	h := NewServer(Deps{Emulator: ft}).Router()

	rec := do(t, h, "POST", "/api/cameras/2/motion", `{"duration_seconds":1.5}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	if ft.camera != "2" || ft.duration != 1500*time.Millisecond {
		t.Errorf("unexpected trigger: camera=%s duration=%v", ft.camera, ft.duration)
	}

	for _, body := range []string{
		`{"duration_seconds":0}`,
		`{"duration_seconds":-3}`,
		`{"duration_seconds":86401}`,
		`{"duration_seconds":1e12}`,
	} {
		ft.camera = ""
		rec = do(t, h, "POST", "/api/cameras/3/motion", body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", body, rec.Code)
		}
		if ft.camera != "" {
			t.Errorf("%s: emulator must not be triggered", body)
		}
	}

	rec = do(t, h, "POST", "/api/cameras/3/motion", `{"duration_seconds":86400}`)
	if rec.Code != http.StatusAccepted || ft.duration != MaxMotionEventDuration {
		t.Errorf("expected the maximum duration to be accepted, got %d %v", rec.Code, ft.duration)
	}
}

func TestCORSPreflight(t *testing.T) {
	h := NewServer(Deps{}).Router()
	rec := do(t, h, "OPTIONS", "/api/cameras/1/capture", "")
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS header")
	}
}
