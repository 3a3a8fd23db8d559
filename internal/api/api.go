// Package api provides the replay engine's optional local HTTP control
// surface: status, seek/pause/speed/flag control, the recorded timeline,
// and a websocket cursor stream, for a UI that talks to the engine over
// HTTP instead of embedding it as a library.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"

	"github.com/driveroute/routereplay/internal/control"
)

// Controller is the subset of *control.Engine the HTTP surface drives.
// Defined as an interface so handlers can be tested against a fake.
type Controller interface {
	Status() control.Status
	Timeline() []control.Interval
	Pause()
	Resume()
	TogglePause()
	Seek(seconds float64)
	RelativeSeek(deltaSeconds float64)
	SetSpeed(speed float64)
	SeekToFlag(flag control.SeekFlag) bool
}

// Server is the chi-routed HTTP surface.
type Server struct {
	ctl Controller
	log *slog.Logger
	mux *chi.Mux

	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]bool
}

// New builds a Server routing requests to ctl.
func New(ctl Controller, log *slog.Logger) *Server {
	s := &Server{
		ctl:      ctl,
		log:      log,
		clients:  make(map[*websocket.Conn]bool),
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
	}))

	r.Get("/status", s.handleStatus)
	r.Get("/timeline", s.handleTimeline)
	r.Post("/control/seek", s.handleSeek)
	r.Post("/control/pause", s.handlePause)
	r.Post("/control/resume", s.handleResume)
	r.Post("/control/toggle-pause", s.handleTogglePause)
	r.Post("/control/speed", s.handleSpeed)
	r.Post("/control/flag/next-engagement", s.handleFlag(control.NextEngagement))
	r.Post("/control/flag/next-disengagement", s.handleFlag(control.NextDisengagement))
	r.Post("/control/flag/next-alert", s.handleFlag(control.NextAlert))
	r.Post("/control/flag/next-alert-clear", s.handleFlag(control.NextAlertClear))
	r.Get("/ws", s.handleWebsocket)

	s.mux = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.ctl.Status())
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.ctl.Timeline())
}

type seekRequest struct {
	Seconds      *float64 `json:"seconds"`
	DeltaSeconds *float64 `json:"delta_seconds"`
}

func (s *Server) handleSeek(w http.ResponseWriter, r *http.Request) {
	var req seekRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	switch {
	case req.Seconds != nil:
		s.ctl.Seek(*req.Seconds)
	case req.DeltaSeconds != nil:
		s.ctl.RelativeSeek(*req.DeltaSeconds)
	default:
		respondError(w, http.StatusBadRequest, errMissingSeekField)
		return
	}
	respondJSON(w, http.StatusOK, s.ctl.Status())
}

var errMissingSeekField = jsonError("one of seconds or delta_seconds is required")

type jsonError string

func (e jsonError) Error() string { return string(e) }

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.ctl.Pause()
	respondJSON(w, http.StatusOK, s.ctl.Status())
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.ctl.Resume()
	respondJSON(w, http.StatusOK, s.ctl.Status())
}

func (s *Server) handleTogglePause(w http.ResponseWriter, r *http.Request) {
	s.ctl.TogglePause()
	respondJSON(w, http.StatusOK, s.ctl.Status())
}

type speedRequest struct {
	Speed *float64 `json:"speed"`
	Full  bool     `json:"full"`
}

func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	var req speedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	switch {
	case req.Full:
		s.ctl.SetSpeed(control.SpeedFull)
	case req.Speed != nil:
		s.ctl.SetSpeed(*req.Speed)
	default:
		respondError(w, http.StatusBadRequest, errMissingSpeedField)
		return
	}
	respondJSON(w, http.StatusOK, s.ctl.Status())
}

var errMissingSpeedField = jsonError("one of speed or full is required")

func (s *Server) handleFlag(flag control.SeekFlag) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		found := s.ctl.SeekToFlag(flag)
		respondJSON(w, http.StatusOK, map[string]any{"found": found, "status": s.ctl.Status()})
	}
}

// handleWebsocket upgrades the connection and streams a coalesced cursor
// position once per tick, at most 10/s.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		if s.log != nil {
			s.log.Warn("api: websocket upgrade failed", "err", err)
		}
		return
	}
	s.mu.Lock()
	s.clients[conn] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.clients, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for range ticker.C {
		if err := conn.WriteJSON(s.ctl.Status()); err != nil {
			return
		}
	}
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, err error) {
	respondJSON(w, status, map[string]string{"error": err.Error()})
}
