package output

import (
	"net/http"
	"sync"
	"time"

	"github.com/bryanchriswhite/motioncomm/internal/capture"
	"github.com/bryanchriswhite/motioncomm/internal/logger"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	clientBuffer = 32
)

// Event types pushed to websocket clients.
const (
	EventFrame  = "frame"
	EventStatus = "status"
	EventResult = "result"
)

// Event is the JSON message sent to websocket clients. Frame bytes are
// base64 encoded by encoding/json.
type Event struct {
	Type        string          `json:"type"`
	CameraID    string          `json:"camera_id"`
	Destination string          `json:"destination,omitempty"`
	Frame       []byte          `json:"frame,omitempty"`
	Size        int             `json:"size,omitempty"`
	Result      *capture.Result `json:"result,omitempty"`
	Time        time.Time       `json:"time"`
}

type hubClient struct {
	id          string
	conn        *websocket.Conn
	send        chan Event
	camera      string
	destination string
	withFrames  bool
}

func (c *hubClient) wants(ev Event) bool {
	if c.camera != "" && c.camera != ev.CameraID {
		return false
	}
	if c.destination != "" && ev.Destination != "" && c.destination != ev.Destination {
		return false
	}
	return true
}

// Hub pushes capture events to websocket subscribers. Clients may filter by
// ?camera= and ?destination=, and ask for frame bytes with ?frames=1;
// otherwise frame events only carry the size.
type Hub struct {
	upgrader websocket.Upgrader
	log      *zerolog.Logger

	mu      sync.RWMutex
	running bool
	clients map[*hubClient]struct{}
}

// NewHub creates a websocket event hub.
func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		log:     logger.WithComponent("hub"),
		clients: make(map[*hubClient]struct{}),
	}
}

// Start enables event delivery.
func (h *Hub) Start() error {
	h.mu.Lock()
	h.running = true
	h.mu.Unlock()
	return nil
}

// Stop disconnects every client.
func (h *Hub) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.running = false
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
	return nil
}

// Name returns the output type name
func (h *Hub) Name() string {
	return "WebSocket Event Hub"
}

// IsRunning returns true if the hub is delivering events
func (h *Hub) IsRunning() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

// ClientCount returns the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// OnNewFrame implements capture.Listener.
func (h *Hub) OnNewFrame(cameraID string, frame []byte, destination string) {
	h.publish(Event{
		Type:        EventFrame,
		CameraID:    cameraID,
		Destination: destination,
		Frame:       frame,
		Size:        len(frame),
		Time:        time.Now(),
	})
}

// OnStatusChanged implements capture.Listener.
func (h *Hub) OnStatusChanged(cameraID string) {
	h.publish(Event{
		Type:     EventStatus,
		CameraID: cameraID,
		Time:     time.Now(),
	})
}

// OnCaptureResult implements capture.ResultListener.
func (h *Hub) OnCaptureResult(result capture.Result) {
	h.publish(Event{
		Type:        EventResult,
		CameraID:    result.CameraID,
		Destination: result.Destination,
		Result:      &result,
		Time:        time.Now(),
	})
}

func (h *Hub) publish(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if !h.running {
		return
	}
	for c := range h.clients {
		if !c.wants(ev) {
			continue
		}
		out := ev
		if ev.Type == EventFrame && !c.withFrames {
			out.Frame = nil
		}
		select {
		case c.send <- out:
		default:
			h.log.Debug().Str("client", c.id).Str("type", ev.Type).Msg("Client is slow, dropping event")
		}
	}
}

// ServeHTTP upgrades the request and streams events until the client leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.IsRunning() {
		http.Error(w, "event hub not running", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	q := r.URL.Query()
	c := &hubClient{
		id:          uuid.NewString(),
		conn:        conn,
		send:        make(chan Event, clientBuffer),
		camera:      q.Get("camera"),
		destination: q.Get("destination"),
		withFrames:  q.Get("frames") == "1" || q.Get("frames") == "true",
	}

	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()

	h.log.Info().Str("client", c.id).Int("clients", count).Msg("Event client connected")

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) unregister(c *hubClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	count := len(h.clients)
	h.mu.Unlock()

	h.log.Info().Str("client", c.id).Int("clients", count).Msg("Event client disconnected")
}

// readPump only exists to notice disconnects and answer pings.
func (h *Hub) readPump(c *hubClient) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4 << 10)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump is the only goroutine writing to c.conn.
func (h *Hub) writePump(c *hubClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
