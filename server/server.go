// Package server implements the HTTP/WebSocket surface of §6: a bidirectional
// operator session protocol over /ws/session, and two video sinks (a
// WebSocket frame stream and an MJPEG multipart stream) over /ws/video and
// /video.mjpeg respectively.
package server

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"

	channerics "github.com/niceyeti/channerics/channels"

	"tankctl/autonav"
	"tankctl/camera"
	"tankctl/command"
	"tankctl/grid"
	"tankctl/planner"
	"tankctl/pose"
	"tankctl/telemetry"
	"tankctl/virtualrobot"
)

// frameInterval is the WebSocket video sink's publish rate (§6 video stream).
const frameInterval = time.Second / 20

// multipartBoundary is the MJPEG stream's part boundary.
const multipartBoundary = "frame"

// Deps are the fully-constructed subsystems a Server wires together; every
// field is owned and started elsewhere (cmd/tankctl/main.go), the Server
// only routes requests to them.
type Deps struct {
	Arbiter      *command.Arbiter
	Planner      *planner.Planner
	Grid         *grid.Grid
	Estimator    *pose.Estimator
	VirtualRobot *virtualrobot.Robot
	Calib        *pose.CalibrationParams
	Telemetry    *telemetry.Hub
	Capture      *camera.Capture
	AutoNav      *autonav.Policy
	StartPose    pose.Pose

	CameraQuality int
	CameraWidth   int

	Logger Logger
}

// Server routes HTTP and WebSocket requests to the subsystems in Deps. It
// holds no state of its own beyond the router.
type Server struct {
	router *mux.Router

	arbiter      *command.Arbiter
	planner      *planner.Planner
	grid         *grid.Grid
	estimator    *pose.Estimator
	virtualRobot *virtualrobot.Robot
	calib        *pose.CalibrationParams
	telemetry    *telemetry.Hub
	capture      *camera.Capture
	autonav      *autonav.Policy
	startPose    pose.Pose

	cameraQuality int
	cameraWidth   int

	logger Logger
}

// NewServer returns a Server with routes registered.
func NewServer(d Deps) *Server {
	s := &Server{
		router:        mux.NewRouter(),
		arbiter:       d.Arbiter,
		planner:       d.Planner,
		grid:          d.Grid,
		estimator:     d.Estimator,
		virtualRobot:  d.VirtualRobot,
		calib:         d.Calib,
		telemetry:     d.Telemetry,
		capture:       d.Capture,
		autonav:       d.AutoNav,
		startPose:     d.StartPose,
		cameraQuality: d.CameraQuality,
		cameraWidth:   d.CameraWidth,
		logger:        d.Logger,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	s.router.HandleFunc("/ws/session", s.handleSession)
	s.router.HandleFunc("/ws/video", s.handleVideoWS)
	s.router.HandleFunc("/video.mjpeg", s.handleVideoMultipart).Methods(http.MethodGet)
}

// Handler returns the Server wrapped in CORS middleware, restricted to the
// given operator origins (§6 "operator sessions"); an empty list allows every
// origin.
func (s *Server) Handler(origins []string) http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleSession upgrades to the bidirectional operator protocol (§6) and
// runs it until disconnect.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	sess, err := newSession(s, w, r)
	if err != nil {
		if s.logger != nil {
			s.logger.Warnw("session upgrade failed", "error", err)
		}
		return
	}
	if err := sess.serve(r.Context()); err != nil && s.logger != nil {
		s.logger.Infow("session ended", "error", err)
	}
}

type videoFrameEvent struct {
	Type  string `json:"type"`
	Frame string `json:"frame"`
}

// handleVideoWS streams JPEG frames (base64-encoded, as §6 "video_frame"
// events) over a dedicated WebSocket, separate from the operator control
// session so a slow video consumer never backs up command traffic.
func (s *Server) handleVideoWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		if s.logger != nil {
			s.logger.Warnw("video socket upgrade failed", "error", err)
		}
		return
	}
	ws := newDuplexSocket(conn)
	defer ws.Close()

	ctx := r.Context()
	ticks := channerics.NewTicker(ctx.Done(), frameInterval)
	for range ticks {
		data, ok := s.capture.EncodeLatest(s.capture.LatestBoxes(), s.cameraQuality, s.cameraWidth)
		if !ok {
			continue
		}
		event := videoFrameEvent{Type: "video_frame", Frame: base64.StdEncoding.EncodeToString(data)}
		writeErr := ws.Write(ctx, func(c *websocket.Conn) error {
			if err := c.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
				return err
			}
			return c.WriteJSON(event)
		})
		if writeErr != nil {
			return
		}
	}
}

// handleVideoMultipart serves the classic MJPEG multipart/x-mixed-replace
// stream (§6 video stream, HTTP sink), for clients that prefer an <img> tag
// over a WebSocket.
func (s *Server) handleVideoMultipart(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+multipartBoundary)
	w.Header().Set("Cache-Control", "no-cache")

	flusher, _ := w.(http.Flusher)

	ctx := r.Context()
	ticks := channerics.NewTicker(ctx.Done(), frameInterval)
	for range ticks {
		data, ok := s.capture.EncodeLatest(s.capture.LatestBoxes(), s.cameraQuality, s.cameraWidth)
		if !ok {
			continue
		}
		if _, err := fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", multipartBoundary, len(data)); err != nil {
			return
		}
		if _, err := w.Write(data); err != nil {
			return
		}
		if _, err := w.Write([]byte("\r\n")); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}
