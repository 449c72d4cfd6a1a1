// Package motion talks to the Motion daemon's text webcontrol interface.
package motion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bryanchriswhite/motioncomm/internal/logger"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ErrUnexpectedReply is returned when webcontrol answers in a format the
// client does not understand.
var ErrUnexpectedReply = errors.New("unexpected webcontrol reply")

const replyDone = "Done"

// Parameter names used by the client.
const (
	ParamCameraName    = "camera_name"
	ParamStreamPort    = "stream_port"
	ParamStreamMaxRate = "stream_maxrate"
	ParamEmulateMotion = "emulate_motion"
)

// StatusListener is notified after detection is started or paused.
type StatusListener interface {
	OnStatusChanged(cameraID string)
}

// Config locates the daemon.
type Config struct {
	Host              string
	ControlPort       int
	Owner             string
	Timeout           time.Duration
	RequestsPerSecond float64
}

// Client issues webcontrol requests. It is safe for concurrent use.
type Client struct {
	host    string
	owner   string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	log     *zerolog.Logger

	mu       sync.RWMutex
	listener StatusListener
}

// NewClient creates a client for the daemon at cfg.Host:cfg.ControlPort.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	return &Client{
		host:    cfg.Host,
		owner:   cfg.Owner,
		baseURL: fmt.Sprintf("http://%s:%d", cfg.Host, cfg.ControlPort),
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, 1),
		log:     logger.WithComponent("motion"),
	}
}

// BaseURL returns the webcontrol root URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Host returns the daemon host name.
func (c *Client) Host() string {
	return c.host
}

// SetListener sets the listener told about detection status changes.
func (c *Client) SetListener(l StatusListener) {
	c.mu.Lock()
	c.listener = l
	c.mu.Unlock()
}

func (c *Client) notifyStatus(cameraID string) {
	c.mu.RLock()
	l := c.listener
	c.mu.RUnlock()
	if l != nil {
		l.OnStatusChanged(cameraID)
	}
}

// get performs one webcontrol request and returns the body.
func (c *Client) get(ctx context.Context, path string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("webcontrol request %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read webcontrol reply: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("webcontrol request %s returned %s", path, resp.Status)
	}

	c.log.Debug().Str("path", path).Int("bytes", len(body)).Msg("Webcontrol reply")
	return string(body), nil
}

// lines splits a reply into trimmed, non-empty lines.
func lines(body string) []string {
	var out []string
	for _, l := range strings.Split(body, "\n") {
		l = strings.TrimSpace(l)
		if l != "" {
			out = append(out, l)
		}
	}
	return out
}

// doneReply reports whether a reply is a single status line followed by Done.
func doneReply(body string) bool {
	ls := lines(body)
	return len(ls) == 2 && ls[1] == replyDone
}

// Threads returns the camera thread IDs, excluding the main thread 0.
//
//	Motion 4.0 Running [3] Cameras
//	0
//	1
//	2
//
// yields ["1", "2"].
func (c *Client) Threads(ctx context.Context) ([]string, error) {
	body, err := c.get(ctx, "/")
	if err != nil {
		return nil, err
	}
	ls := lines(body)
	if len(ls) < 2 {
		return []string{}, nil
	}
	return ls[2:], nil
}

// ThreadCount returns the number of camera threads.
func (c *Client) ThreadCount(ctx context.Context) (int, error) {
	ids, err := c.Threads(ctx)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// CameraList returns the camera IDs joined with sep.
func (c *Client) CameraList(ctx context.Context, sep string) (string, error) {
	ids, err := c.Threads(ctx)
	if err != nil {
		return "", err
	}
	return strings.Join(ids, sep), nil
}

// CameraNames returns every camera's configured name joined with sep.
func (c *Client) CameraNames(ctx context.Context, sep string) (string, error) {
	ids, err := c.Threads(ctx)
	if err != nil {
		return "", err
	}
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		name, err := c.CameraName(ctx, id)
		if err != nil {
			return "", err
		}
		names = append(names, name)
	}
	return strings.Join(names, sep), nil
}

// IsHTMLOutputEnabled reports whether webcontrol answers in HTML rather than
// plain text. The client only understands plain text replies.
func (c *Client) IsHTMLOutputEnabled(ctx context.Context) (bool, error) {
	body, err := c.get(ctx, "/")
	if err != nil {
		return false, err
	}
	return strings.HasPrefix(strings.TrimSpace(body), "<"), nil
}

// GetParameter reads a configuration parameter of a camera.
func (c *Client) GetParameter(ctx context.Context, cameraID, key string) (string, error) {
	path := fmt.Sprintf("/%s/config/get?query=%s", url.PathEscape(cameraID), url.QueryEscape(key))
	body, err := c.get(ctx, path)
	if err != nil {
		return "", err
	}

	ls := lines(body)
	if len(ls) != 2 {
		return "", fmt.Errorf("%w: get %s: %q", ErrUnexpectedReply, key, body)
	}
	name, value, ok := strings.Cut(ls[0], "=")
	if !ok || strings.TrimSpace(name) != key {
		return "", fmt.Errorf("%w: get %s: %q", ErrUnexpectedReply, key, ls[0])
	}
	return strings.TrimSpace(value), nil
}

// SetParameter writes a configuration parameter of a camera. It reports
// whether the daemon echoed the new value back.
func (c *Client) SetParameter(ctx context.Context, cameraID, key, value string) (bool, error) {
	path := fmt.Sprintf("/%s/config/set?%s=%s", url.PathEscape(cameraID), url.QueryEscape(key), url.QueryEscape(value))
	body, err := c.get(ctx, path)
	if err != nil {
		return false, err
	}

	ls := lines(body)
	if len(ls) != 2 {
		return false, nil
	}
	ok := ls[0] == fmt.Sprintf("%s = %s", key, value) && ls[1] == replyDone
	c.log.Debug().
		Str("camera", cameraID).
		Str("key", key).
		Str("value", value).
		Bool("ok", ok).
		Msg("Set parameter")
	return ok, nil
}

// StreamPort returns the port a camera serves its MJPEG stream on.
func (c *Client) StreamPort(ctx context.Context, cameraID string) (int, error) {
	v, err := c.GetParameter(ctx, cameraID, ParamStreamPort)
	if err != nil {
		return 0, err
	}
	port, err := strconv.Atoi(v)
	if err != nil || port <= 0 {
		return 0, fmt.Errorf("%w: stream_port %q", ErrUnexpectedReply, v)
	}
	return port, nil
}

// StreamURL returns the full MJPEG stream URL of a camera.
func (c *Client) StreamURL(ctx context.Context, cameraID string) (string, error) {
	port, err := c.StreamPort(ctx, cameraID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("http://%s:%d", c.host, port), nil
}

// CameraName returns the configured camera name.
func (c *Client) CameraName(ctx context.Context, cameraID string) (string, error) {
	return c.GetParameter(ctx, cameraID, ParamCameraName)
}

// StreamFPS returns the camera's stream_maxrate.
func (c *Client) StreamFPS(ctx context.Context, cameraID string) (int, error) {
	v, err := c.GetParameter(ctx, cameraID, ParamStreamMaxRate)
	if err != nil {
		return 0, err
	}
	fps, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: stream_maxrate %q", ErrUnexpectedReply, v)
	}
	return fps, nil
}

func (c *Client) action(ctx context.Context, cameraID, path string) (bool, error) {
	body, err := c.get(ctx, fmt.Sprintf("/%s/%s", url.PathEscape(cameraID), path))
	if err != nil {
		return false, err
	}
	return doneReply(body), nil
}

// Snapshot asks the daemon to save a snapshot of the camera.
func (c *Client) Snapshot(ctx context.Context, cameraID string) (bool, error) {
	return c.action(ctx, cameraID, "action/snapshot")
}

// MakeMovie asks the daemon to close the current movie file.
func (c *Client) MakeMovie(ctx context.Context, cameraID string) (bool, error) {
	return c.action(ctx, cameraID, "action/makemovie")
}

// StartDetection resumes motion detection on the camera.
func (c *Client) StartDetection(ctx context.Context, cameraID string) (bool, error) {
	ok, err := c.action(ctx, cameraID, "detection/start")
	if ok {
		c.notifyStatus(cameraID)
	}
	return ok, err
}

// PauseDetection pauses motion detection on the camera.
func (c *Client) PauseDetection(ctx context.Context, cameraID string) (bool, error) {
	ok, err := c.action(ctx, cameraID, "detection/pause")
	if ok {
		c.notifyStatus(cameraID)
	}
	return ok, err
}

// DetectionStatus returns the detection state word, such as ACTIVE or PAUSE.
// The reply looks like "Camera 1 Detection status ACTIVE".
func (c *Client) DetectionStatus(ctx context.Context, cameraID string) (string, error) {
	body, err := c.get(ctx, fmt.Sprintf("/%s/detection/status", url.PathEscape(cameraID)))
	if err != nil {
		return "", err
	}
	ls := lines(body)
	if len(ls) == 0 {
		return "", fmt.Errorf("%w: empty detection status", ErrUnexpectedReply)
	}
	fields := strings.Fields(ls[0])
	if len(fields) != 5 {
		return "", fmt.Errorf("%w: detection status %q", ErrUnexpectedReply, ls[0])
	}
	return fields[4], nil
}

// CameraInfo aggregates what the daemon knows about one camera.
type CameraInfo struct {
	ThreadID    string `json:"thread_id"`
	CameraName  string `json:"camera_name"`
	OwnerDevice string `json:"owner_device"`
	MoDetStatus string `json:"modet_status"`
	StreamFPS   int    `json:"stream_fps"`
}

// CameraInfo collects the status, name and stream rate of a camera.
func (c *Client) CameraInfo(ctx context.Context, cameraID string) (*CameraInfo, error) {
	status, err := c.DetectionStatus(ctx, cameraID)
	if err != nil {
		return nil, err
	}
	name, err := c.CameraName(ctx, cameraID)
	if err != nil {
		return nil, err
	}
	fps, err := c.StreamFPS(ctx, cameraID)
	if err != nil {
		return nil, err
	}
	return &CameraInfo{
		ThreadID:    cameraID,
		CameraName:  name,
		OwnerDevice: c.owner,
		MoDetStatus: status,
		StreamFPS:   fps,
	}, nil
}
