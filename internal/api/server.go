package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bryanchriswhite/motioncomm/internal/capture"
	"github.com/bryanchriswhite/motioncomm/internal/config"
	"github.com/bryanchriswhite/motioncomm/internal/logger"
	"github.com/bryanchriswhite/motioncomm/internal/motion"
	"github.com/bryanchriswhite/motioncomm/internal/output"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

// MaxMotionEventDuration bounds an emulated motion event.
const MaxMotionEventDuration = 24 * time.Hour

// MotionControl is the part of motion.Client the API drives.
type MotionControl interface {
	Threads(ctx context.Context) ([]string, error)
	CameraInfo(ctx context.Context, cameraID string) (*motion.CameraInfo, error)
	Snapshot(ctx context.Context, cameraID string) (bool, error)
	StartDetection(ctx context.Context, cameraID string) (bool, error)
	PauseDetection(ctx context.Context, cameraID string) (bool, error)
	DetectionStatus(ctx context.Context, cameraID string) (string, error)
	GetParameter(ctx context.Context, cameraID, key string) (string, error)
	SetParameter(ctx context.Context, cameraID, key, value string) (bool, error)
}

// Capturer starts capture runs.
type Capturer interface {
	CaptureFrames(cameraID string, frameCount int, destination string) (capture.Ticket, error)
	Stats() capture.Stats
}

// MotionTrigger emulates motion events.
type MotionTrigger interface {
	Trigger(ctx context.Context, cameraID string, duration time.Duration) error
}

// Deps are the components the server exposes. Nil members disable their
// routes' functionality with 503.
type Deps struct {
	Motion    MotionControl
	Capture   Capturer
	Emulator  MotionTrigger
	Events    http.Handler
	Stream    *output.MJPEGOutput
	ConfigMgr *config.Manager
}

// Server represents the HTTP API server
type Server struct {
	router *mux.Router
	deps   Deps
	log    *zerolog.Logger
	http   *http.Server
}

// NewServer creates a new API server
func NewServer(deps Deps) *Server {
	s := &Server{
		router: mux.NewRouter(),
		deps:   deps,
		log:    logger.WithComponent("api"),
	}

	s.setupRoutes()
	return s
}

// Router returns the root handler, CORS included.
func (s *Server) Router() http.Handler {
	return s.enableCORS(s.router)
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	// Cameras
	api.HandleFunc("/cameras", s.handleListCameras).Methods("GET")
	api.HandleFunc("/cameras/{id}", s.handleCameraInfo).Methods("GET")
	api.HandleFunc("/cameras/{id}/capture", s.handleCapture).Methods("POST")
	api.HandleFunc("/cameras/{id}/snapshot", s.handleSnapshot).Methods("POST")
	api.HandleFunc("/cameras/{id}/detection", s.handleDetectionStatus).Methods("GET")
	api.HandleFunc("/cameras/{id}/detection/{action:start|pause}", s.handleDetection).Methods("POST")
	api.HandleFunc("/cameras/{id}/motion", s.handleMotionEvent).Methods("POST")
	api.HandleFunc("/cameras/{id}/config/{key}", s.handleGetParameter).Methods("GET")
	api.HandleFunc("/cameras/{id}/config/{key}", s.handleSetParameter).Methods("PUT")

	// Capture engine
	api.HandleFunc("/capture/stats", s.handleCaptureStats).Methods("GET")
	if s.deps.Events != nil {
		api.Handle("/events", s.deps.Events)
	}

	// Configuration
	api.HandleFunc("/config", s.handleGetConfig).Methods("GET")

	// Health check
	api.HandleFunc("/health", s.handleHealth).Methods("GET")

	// Re-streamed captures
	if s.deps.Stream != nil {
		s.router.HandleFunc("/stream/{destination}", s.deps.Stream.GetHTTPHandler()).Methods("GET")
		s.router.HandleFunc("/stats", s.deps.Stream.GetStatsHandler()).Methods("GET")
	}

	s.router.PathPrefix("/").HandlerFunc(s.handleIndex)
}

// Start serves HTTP on port until Shutdown is called.
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Info().Str("addr", "http://localhost"+addr).Msg("Starting server")

	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for handlers to return.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// enableCORS adds CORS headers
func (s *Server) enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// daemonError reports a failed or unconfirmed webcontrol request.
func (s *Server) daemonError(w http.ResponseWriter, cameraID string, err error) {
	s.log.Warn().Err(err).Str("camera", cameraID).Msg("Webcontrol request failed")
	writeError(w, http.StatusBadGateway, err)
}

func (s *Server) requireMotion(w http.ResponseWriter) bool {
	if s.deps.Motion == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("motion daemon not configured"))
		return false
	}
	return true
}

// HTTP Handlers

func (s *Server) handleListCameras(w http.ResponseWriter, r *http.Request) {
	if !s.requireMotion(w) {
		return
	}
	ids, err := s.deps.Motion.Threads(r.Context())
	if err != nil {
		s.daemonError(w, "", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"cameras": ids})
}

func (s *Server) handleCameraInfo(w http.ResponseWriter, r *http.Request) {
	if !s.requireMotion(w) {
		return
	}
	id := mux.Vars(r)["id"]
	info, err := s.deps.Motion.CameraInfo(r.Context(), id)
	if err != nil {
		s.daemonError(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

type captureRequest struct {
	Frames      int    `json:"frames"`
	Destination string `json:"destination"`
}

func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	if s.deps.Capture == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("capture engine not running"))
		return
	}

	id := mux.Vars(r)["id"]
	var req captureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.Destination) == "" {
		writeError(w, http.StatusBadRequest, errors.New("destination is required"))
		return
	}

	ticket, err := s.deps.Capture.CaptureFrames(id, req.Frames, req.Destination)
	switch {
	case errors.Is(err, capture.ErrInvalidFrameCount):
		writeError(w, http.StatusBadRequest, err)
		return
	case errors.Is(err, capture.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, err)
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusAccepted, ticket)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if !s.requireMotion(w) {
		return
	}
	id := mux.Vars(r)["id"]
	ok, err := s.deps.Motion.Snapshot(r.Context(), id)
	if err != nil {
		s.daemonError(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"camera_id": id, "ok": ok})
}

func (s *Server) handleDetection(w http.ResponseWriter, r *http.Request) {
	if !s.requireMotion(w) {
		return
	}
	vars := mux.Vars(r)
	id := vars["id"]

	var (
		ok  bool
		err error
	)
	if vars["action"] == "start" {
		ok, err = s.deps.Motion.StartDetection(r.Context(), id)
	} else {
		ok, err = s.deps.Motion.PauseDetection(r.Context(), id)
	}
	if err != nil {
		s.daemonError(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"camera_id": id, "action": vars["action"], "ok": ok})
}

func (s *Server) handleDetectionStatus(w http.ResponseWriter, r *http.Request) {
	if !s.requireMotion(w) {
		return
	}
	id := mux.Vars(r)["id"]
	status, err := s.deps.Motion.DetectionStatus(r.Context(), id)
	if err != nil {
		s.daemonError(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"camera_id": id, "status": status})
}

func (s *Server) handleMotionEvent(w http.ResponseWriter, r *http.Request) {
	if s.deps.Emulator == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("motion emulation not available"))
		return
	}

	id := mux.Vars(r)["id"]
	var req struct {
		DurationSeconds float64 `json:"duration_seconds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.DurationSeconds <= 0 {
		writeError(w, http.StatusBadRequest, errors.New("duration_seconds must be positive"))
		return
	}
	if req.DurationSeconds > MaxMotionEventDuration.Seconds() {
		writeError(w, http.StatusBadRequest, fmt.Errorf("duration_seconds must not exceed %.0f", MaxMotionEventDuration.Seconds()))
		return
	}

	d := time.Duration(req.DurationSeconds * float64(time.Second))
	if err := s.deps.Emulator.Trigger(r.Context(), id, d); err != nil {
		s.daemonError(w, id, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"camera_id":        id,
		"duration_seconds": req.DurationSeconds,
	})
}

func (s *Server) handleGetParameter(w http.ResponseWriter, r *http.Request) {
	if !s.requireMotion(w) {
		return
	}
	vars := mux.Vars(r)
	value, err := s.deps.Motion.GetParameter(r.Context(), vars["id"], vars["key"])
	if err != nil {
		s.daemonError(w, vars["id"], err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"camera_id": vars["id"], "key": vars["key"], "value": value})
}

func (s *Server) handleSetParameter(w http.ResponseWriter, r *http.Request) {
	if !s.requireMotion(w) {
		return
	}
	vars := mux.Vars(r)

	var req struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	ok, err := s.deps.Motion.SetParameter(r.Context(), vars["id"], vars["key"], req.Value)
	if err != nil {
		s.daemonError(w, vars["id"], err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"camera_id": vars["id"],
		"key":       vars["key"],
		"value":     req.Value,
		"ok":        ok,
	})
}

func (s *Server) handleCaptureStats(w http.ResponseWriter, r *http.Request) {
	if s.deps.Capture == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("capture engine not running"))
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Capture.Stats())
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	if s.deps.ConfigMgr == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("no configuration loaded"))
		return
	}
	writeJSON(w, http.StatusOK, s.deps.ConfigMgr.Get())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": Version,
	})
}

const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>MotionComm</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; max-width: 800px; margin: 50px auto; padding: 20px; background: #f5f5f5; }
        .container { background: white; padding: 30px; border-radius: 8px; box-shadow: 0 2px 4px rgba(0,0,0,0.1); }
        .status { padding: 10px; background: #e8f5e9; border-left: 4px solid #4caf50; margin: 20px 0; }
        code { background: #f5f5f5; padding: 2px 6px; border-radius: 3px; }
    </style>
</head>
<body>
    <div class="container">
        <h1>MotionComm</h1>
        <div class="status">Server is running</div>
        <h3>API Endpoints:</h3>
        <ul>
            <li><a href="/api/health">/api/health</a> - Server health check</li>
            <li><a href="/api/cameras">/api/cameras</a> - Cameras known to the Motion daemon</li>
            <li><a href="/api/capture/stats">/api/capture/stats</a> - Live broadcasters and capture runs</li>
            <li><a href="/stats">/stats</a> - Re-streamed capture destinations</li>
        </ul>
        <p>Start a capture with <code>POST /api/cameras/{id}/capture {"frames": 10, "destination": "web"}</code>
        and watch it at <code>/stream/web</code>.</p>
    </div>
</body>
</html>`

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/" {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(indexHTML))
		return
	}
	http.NotFound(w, r)
}
