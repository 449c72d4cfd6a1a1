package motion

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// fakeDaemon answers webcontrol requests the way Motion's text interface does.
type fakeDaemon struct {
	mu        sync.Mutex
	params    map[string]map[string]string
	detection map[string]string
	html      bool
	requests  []string
}

func newFakeDaemon() *fakeDaemon {
	return &fakeDaemon{
		params: map[string]map[string]string{
			"1": {"camera_name": "porch", "stream_port": "8081", "stream_maxrate": "5"},
			"2": {"camera_name": "garage", "stream_port": "8082", "stream_maxrate": "2"},
		},
		detection: map[string]string{"1": "ACTIVE", "2": "PAUSE"},
	}
}

func (f *fakeDaemon) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, r.URL.RequestURI())

	if r.URL.Path == "/" {
		if f.html {
			fmt.Fprint(w, "<html><body>Motion</body></html>")
			return
		}
		fmt.Fprint(w, "Motion 4.0 Running [2] Cameras\n0\n1\n2\n")
		return
	}

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	cam := parts[0]
	params, ok := f.params[cam]
	if !ok || len(parts) < 3 {
		http.NotFound(w, r)
		return
	}

	switch parts[1] + "/" + parts[2] {
	case "config/get":
		key := r.URL.Query().Get("query")
		v, ok := params[key]
		if !ok {
			fmt.Fprintf(w, "Unknown option %s\n", key)
			return
		}
		fmt.Fprintf(w, "%s = %s\nDone\n", key, v)
	case "config/set":
		for key, vals := range r.URL.Query() {
			params[key] = vals[0]
			fmt.Fprintf(w, "%s = %s\nDone\n", key, vals[0])
		}
	case "detection/status":
		fmt.Fprintf(w, "Camera %s Detection status %s\n", cam, f.detection[cam])
	case "detection/start":
		f.detection[cam] = "ACTIVE"
		fmt.Fprint(w, "Detection resumed\nDone\n")
	case "detection/pause":
		f.detection[cam] = "PAUSE"
		fmt.Fprint(w, "Detection paused\nDone\n")
	case "action/snapshot":
		fmt.Fprintf(w, "Snapshot for camera %s\nDone\n", cam)
	case "action/makemovie":
		fmt.Fprintf(w, "makemovie for camera %s\nDone\n", cam)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeDaemon) lastRequest() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		return ""
	}
	return f.requests[len(f.requests)-1]
}

func newTestClient(t *testing.T, d *fakeDaemon) *Client {
	t.Helper()
	srv := httptest.NewServer(d)
	t.Cleanup(srv.Close)

	host, port, err := net.SplitHostPort(strings.TrimPrefix(srv.URL, "http://"))
	if err != nil {
		t.Fatalf("bad server url %s: %v", srv.URL, err)
	}
	p, _ := strconv.Atoi(port)
	return NewClient(Config{Host: host, ControlPort: p, Owner: "test"})
}

type statusRecorder struct {
	mu      sync.Mutex
	cameras []string
}

func (s *statusRecorder) OnStatusChanged(cameraID string) {
	s.mu.Lock()
	s.cameras = append(s.cameras, cameraID)
	s.mu.Unlock()
}

func TestThreads(t *testing.T) {
	c := newTestClient(t, newFakeDaemon())
	ctx := context.Background()

	ids, err := c.Threads(ctx)
	if err != nil {
		t.Fatalf("Threads: %v", err)
	}
	if len(ids) != 2 || ids[0] != "1" || ids[1] != "2" {
		t.Errorf("expected [1 2], got %v", ids)
	}

	n, _ := c.ThreadCount(ctx)
	if n != 2 {
		t.Errorf("expected 2 threads, got %d", n)
	}

	list, _ := c.CameraList(ctx, ",")
	if list != "1,2" {
		t.Errorf("expected 1,2, got %s", list)
	}

	names, err := c.CameraNames(ctx, ", ")
	if err != nil {
		t.Fatalf("CameraNames: %v", err)
	}
	if names != "porch, garage" {
		t.Errorf("expected 'porch, garage', got %q", names)
	}
}

func TestIsHTMLOutputEnabled(t *testing.T) {
	d := newFakeDaemon()
	c := newTestClient(t, d)

	html, err := c.IsHTMLOutputEnabled(context.Background())
	if err != nil || html {
		t.Errorf("expected text output, got html=%v err=%v", html, err)
	}

	d.mu.Lock()
	d.html = true
	d.mu.Unlock()
	html, _ = c.IsHTMLOutputEnabled(context.Background())
	if !html {
		t.Error("expected html output to be detected")
	}
}

func TestParameters(t *testing.T) {
	d := newFakeDaemon()
	c := newTestClient(t, d)
	ctx := context.Background()

	name, err := c.CameraName(ctx, "1")
	if err != nil || name != "porch" {
		t.Errorf("CameraName = %q, %v", name, err)
	}

	port, err := c.StreamPort(ctx, "2")
	if err != nil || port != 8082 {
		t.Errorf("StreamPort = %d, %v", port, err)
	}

	url, err := c.StreamURL(ctx, "1")
	if err != nil {
		t.Fatalf("StreamURL: %v", err)
	}
	if url != fmt.Sprintf("http://%s:8081", c.Host()) {
		t.Errorf("unexpected stream url %s", url)
	}

	ok, err := c.SetParameter(ctx, "1", "stream_maxrate", "12")
	if err != nil || !ok {
		t.Fatalf("SetParameter = %v, %v", ok, err)
	}
	fps, _ := c.StreamFPS(ctx, "1")
	if fps != 12 {
		t.Errorf("expected fps 12 after set, got %d", fps)
	}

	if _, err := c.GetParameter(ctx, "1", "nonexistent"); !errors.Is(err, ErrUnexpectedReply) {
		t.Errorf("expected ErrUnexpectedReply, got %v", err)
	}
}

func TestDetection(t *testing.T) {
	d := newFakeDaemon()
	c := newTestClient(t, d)
	ctx := context.Background()

	rec := &statusRecorder{}
	c.SetListener(rec)

	status, err := c.DetectionStatus(ctx, "2")
	if err != nil || status != "PAUSE" {
		t.Errorf("DetectionStatus = %q, %v", status, err)
	}

	ok, err := c.StartDetection(ctx, "2")
	if err != nil || !ok {
		t.Fatalf("StartDetection = %v, %v", ok, err)
	}
	if d.lastRequest() != "/2/detection/start" {
		t.Errorf("unexpected request %s", d.lastRequest())
	}
	status, _ = c.DetectionStatus(ctx, "2")
	if status != "ACTIVE" {
		t.Errorf("expected ACTIVE, got %s", status)
	}

	ok, _ = c.PauseDetection(ctx, "1")
	if !ok {
		t.Error("expected pause to be confirmed")
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.cameras) != 2 || rec.cameras[0] != "2" || rec.cameras[1] != "1" {
		t.Errorf("expected status notifications for 2 then 1, got %v", rec.cameras)
	}
}

func TestActions(t *testing.T) {
	d := newFakeDaemon()
	c := newTestClient(t, d)
	ctx := context.Background()

	ok, err := c.Snapshot(ctx, "1")
	if err != nil || !ok {
		t.Fatalf("Snapshot = %v, %v", ok, err)
	}
	if d.lastRequest() != "/1/action/snapshot" {
		t.Errorf("unexpected request %s", d.lastRequest())
	}

	if ok, err := c.MakeMovie(ctx, "1"); err != nil || !ok {
		t.Fatalf("MakeMovie = %v, %v", ok, err)
	}
	if d.lastRequest() != "/1/action/makemovie" {
		t.Errorf("unexpected request %s", d.lastRequest())
	}

	if _, err := c.Snapshot(ctx, "9"); err == nil {
		t.Error("expected error for unknown camera")
	}
}

func TestCameraInfo(t *testing.T) {
	c := newTestClient(t, newFakeDaemon())

	info, err := c.CameraInfo(context.Background(), "1")
	if err != nil {
		t.Fatalf("CameraInfo: %v", err)
	}
	want := CameraInfo{ThreadID: "1", CameraName: "porch", OwnerDevice: "test", MoDetStatus: "ACTIVE", StreamFPS: 5}
	if *info != want {
		t.Errorf("expected %+v, got %+v", want, *info)
	}
}

func TestRequestCancelled(t *testing.T) {
	c := newTestClient(t, newFakeDaemon())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Threads(ctx); err == nil {
		t.Error("expected error for cancelled context")
	}
}
