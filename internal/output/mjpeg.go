package output

import (
	"fmt"
	"html"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/bryanchriswhite/motioncomm/internal/logger"
	"github.com/gorilla/mux"
)

// MJPEGOutput re-serves captured frames as a multipart/x-mixed-replace
// stream, one stream per capture destination. A browser pointed at
// /stream/{destination} shows frames as they are captured for it.
type MJPEGOutput struct {
	contentType string
	running     bool
	mu          sync.RWMutex

	// Latest frame per destination
	frameMu      sync.RWMutex
	lastFrame    map[string][]byte
	lastUpdate   map[string]time.Time
	framesPerDst map[string]uint64

	// Connected clients per destination
	clientsMu sync.RWMutex
	clients   map[string]map[chan []byte]struct{}

	frameCount uint64
	startTime  time.Time
}

// NewMJPEGOutput creates a stream output serving parts of contentType.
func NewMJPEGOutput(contentType string) *MJPEGOutput {
	return &MJPEGOutput{
		contentType:  contentType,
		lastFrame:    make(map[string][]byte),
		lastUpdate:   make(map[string]time.Time),
		framesPerDst: make(map[string]uint64),
		clients:      make(map[string]map[chan []byte]struct{}),
	}
}

// Start initializes the MJPEG output
// Note: The HTTP handler is registered separately via GetHTTPHandler()
func (m *MJPEGOutput) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("MJPEG output already running")
	}

	m.running = true
	m.startTime = time.Now()
	m.frameCount = 0

	logger.WithComponent("mjpeg").Info().Str("content_type", m.contentType).Msg("MJPEG output started")
	return nil
}

// Stop cleanly shuts down the output
func (m *MJPEGOutput) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}

	m.running = false

	// Close all client connections
	m.clientsMu.Lock()
	for _, set := range m.clients {
		for ch := range set {
			close(ch)
		}
	}
	m.clients = make(map[string]map[chan []byte]struct{})
	m.clientsMu.Unlock()

	logger.WithComponent("mjpeg").Info().Uint64("frames", m.frameCount).Msg("MJPEG output stopped")
	return nil
}

// OnNewFrame publishes a captured frame to the clients of its destination.
func (m *MJPEGOutput) OnNewFrame(cameraID string, frame []byte, destination string) {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.frameCount++
	m.mu.Unlock()

	m.frameMu.Lock()
	m.lastFrame[destination] = frame
	m.lastUpdate[destination] = time.Now()
	m.framesPerDst[destination]++
	m.frameMu.Unlock()

	m.clientsMu.RLock()
	for ch := range m.clients[destination] {
		select {
		case ch <- frame:
		default:
			// Client is slow, skip this frame
		}
	}
	m.clientsMu.RUnlock()
}

// OnStatusChanged implements capture.Listener; streams carry no status.
func (m *MJPEGOutput) OnStatusChanged(cameraID string) {}

// Name returns the output type name
func (m *MJPEGOutput) Name() string {
	return "MJPEG HTTP Stream"
}

// IsRunning returns true if the output is active
func (m *MJPEGOutput) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// ClientCount returns the number of viewers connected to destination.
func (m *MJPEGOutput) ClientCount(destination string) int {
	m.clientsMu.RLock()
	defer m.clientsMu.RUnlock()
	return len(m.clients[destination])
}

// GetHTTPHandler returns an http.Handler for the stream of the destination
// named by the {destination} route variable.
func (m *MJPEGOutput) GetHTTPHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		destination := mux.Vars(r)["destination"]
		if !m.IsRunning() {
			http.Error(w, "stream output not running", http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("Expires", "0")
		w.Header().Set("Connection", "close")

		frameChan := make(chan []byte, 2) // Buffer 2 frames

		m.clientsMu.Lock()
		if m.clients[destination] == nil {
			m.clients[destination] = make(map[chan []byte]struct{})
		}
		m.clients[destination][frameChan] = struct{}{}
		clientCount := len(m.clients[destination])
		m.clientsMu.Unlock()

		log := logger.WithComponent("mjpeg")
		log.Info().Str("destination", destination).Int("clients", clientCount).Msg("Stream client connected")

		defer func() {
			m.clientsMu.Lock()
			if set, ok := m.clients[destination]; ok {
				delete(set, frameChan)
				clientCount = len(set)
				if clientCount == 0 {
					delete(m.clients, destination)
				}
			}
			m.clientsMu.Unlock()
			log.Info().Str("destination", destination).Int("clients", clientCount).Msg("Stream client disconnected")
		}()

		// Show the most recent frame straight away
		m.frameMu.RLock()
		last := m.lastFrame[destination]
		m.frameMu.RUnlock()
		if last != nil {
			if err := m.writePart(w, last); err != nil {
				return
			}
		}

		for {
			select {
			case <-r.Context().Done():
				return
			case frame, ok := <-frameChan:
				if !ok {
					return
				}
				if err := m.writePart(w, frame); err != nil {
					return
				}
			}
		}
	}
}

func (m *MJPEGOutput) writePart(w http.ResponseWriter, frame []byte) error {
	if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: %s\r\nContent-Length: %d\r\n\r\n", m.contentType, len(frame)); err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "\r\n"); err != nil {
		return err
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

// GetStatsHandler returns an HTTP handler that shows stream statistics
func (m *MJPEGOutput) GetStatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m.mu.RLock()
		running := m.running
		frameCount := m.frameCount
		startTime := m.startTime
		m.mu.RUnlock()

		type row struct {
			destination string
			frames      uint64
			clients     int
			lastUpdate  time.Time
		}

		m.frameMu.RLock()
		rows := make([]row, 0, len(m.framesPerDst))
		for dst, n := range m.framesPerDst {
			rows = append(rows, row{destination: dst, frames: n, lastUpdate: m.lastUpdate[dst]})
		}
		m.frameMu.RUnlock()

		for i := range rows {
			rows[i].clients = m.ClientCount(rows[i].destination)
		}
		sort.Slice(rows, func(i, j int) bool { return rows[i].destination < rows[j].destination })

		status := "Stopped"
		if running {
			status = "Running"
		}
		uptime := "N/A"
		if !startTime.IsZero() {
			uptime = time.Since(startTime).Round(time.Second).String()
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
    <title>MotionComm - Stream Stats</title>
    <style>
        body { font-family: monospace; padding: 20px; background: #1e1e1e; color: #d4d4d4; }
        td, th { padding: 4px 12px; text-align: left; }
        .label { color: #569cd6; }
        .value { color: #4ec9b0; }
        a { color: #569cd6; }
    </style>
</head>
<body>
    <h1>MotionComm Capture Streams</h1>
    <p><span class="label">Status:</span> <span class="value">%s</span></p>
    <p><span class="label">Total Frames:</span> <span class="value">%d</span></p>
    <p><span class="label">Uptime:</span> <span class="value">%s</span></p>
    <table>
        <tr><th>Destination</th><th>Frames</th><th>Clients</th><th>Last Frame</th></tr>
`, status, frameCount, uptime)

		for _, rw := range rows {
			dst := html.EscapeString(rw.destination)
			fmt.Fprintf(w, "        <tr><td><a href=\"/stream/%s\">%s</a></td><td>%d</td><td>%d</td><td>%s ago</td></tr>\n",
				dst, dst, rw.frames, rw.clients, time.Since(rw.lastUpdate).Round(time.Millisecond))
		}

		fmt.Fprint(w, `    </table>
</body>
</html>`)
	}
}
