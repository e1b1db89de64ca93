// Package diag serves read-only diagnostics of a running memory server over a
// unix socket.
package diag

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/grovetools/memory/pkg/effects"
	"github.com/grovetools/memory/pkg/memory"
	"github.com/grovetools/memory/pkg/models"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

const defaultLimit = 10

// Info describes the serving process. It is exposed via /api/info.
type Info struct {
	PID       int       `json:"pid"`
	Hostname  string    `json:"hostname"`
	Project   string    `json:"project"`
	Root      string    `json:"root"`
	Version   string    `json:"version"`
	StartedAt time.Time `json:"started_at"`
}

// EffectsResponse is the body of /api/effects.
type EffectsResponse struct {
	Report effects.Report   `json:"report"`
	Recent []effects.Record `json:"recent"`
}

// SessionsResponse is the body of /api/sessions.
type SessionsResponse struct {
	Sessions []models.RegistryEntry `json:"sessions"`
	Current  *memory.SessionContext `json:"current,omitempty"`
}

// Server exposes a memory.Service over HTTP on a unix socket.
type Server struct {
	logger *logrus.Entry
	svc    *memory.Service
	info   Info
	server *http.Server
}

// New creates a Server for svc.
func New(svc *memory.Service, version string, logger *logrus.Entry) *Server {
	self := svc.Self()
	return &Server{
		logger: logger,
		svc:    svc,
		info: Info{
			PID:       self.PID,
			Hostname:  self.Hostname,
			Project:   svc.Project(),
			Root:      svc.Layout().Root,
			Version:   version,
			StartedAt: time.Now().UTC(),
		},
	}
}

// Listen opens the socket, replacing a stale one.
func (s *Server) Listen(socketPath string) (net.Listener, error) {
	if _, err := os.Stat(socketPath); err == nil {
		if err := os.Remove(socketPath); err != nil {
			return nil, fmt.Errorf("failed to remove stale socket: %w", err)
		}
	}
	if err := os.MkdirAll(filepath.Dir(socketPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create socket directory: %w", err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on socket: %w", err)
	}
	if err := os.Chmod(socketPath, 0600); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("failed to set socket permissions: %w", err)
	}
	return listener, nil
}

// Serve answers requests on listener until Shutdown. It returns nil after a
// clean shutdown.
func (s *Server) Serve(listener net.Listener) error {
	s.server = &http.Server{
		Handler:           h2c.NewHandler(s.Handler(), &http2.Server{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.logger.WithField("socket", listener.Addr().String()).Info("Diagnostics listening")
	if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// ListenAndServe combines Listen and Serve and blocks.
func (s *Server) ListenAndServe(socketPath string) error {
	listener, err := s.Listen(socketPath)
	if err != nil {
		return err
	}
	return s.Serve(listener)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.logger.Debug("Shutting down diagnostics server")
	return s.server.Shutdown(ctx)
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/info", s.handleInfo)
	mux.HandleFunc("GET /api/effects", s.handleEffects)
	mux.HandleFunc("GET /api/cache", s.handleCache)
	mux.HandleFunc("GET /api/sessions", s.handleSessions)
	return mux
}

func limitParam(r *http.Request) int {
	if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 {
		return n
	}
	return defaultLimit
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Debug("Failed to write diagnostics response")
	}
}

// handleHealth answers 503 when the report is unhealthy so scripts can probe it.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.svc.Health(r.Context(), limitParam(r))
	status := http.StatusOK
	if !report.Healthy {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, report)
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.info)
}

func (s *Server) handleEffects(w http.ResponseWriter, r *http.Request) {
	tracker := s.svc.Effects()
	s.writeJSON(w, http.StatusOK, EffectsResponse{
		Report: tracker.HealthReport(limitParam(r)),
		Recent: tracker.Recent(),
	})
}

func (s *Server) handleCache(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.svc.Cache().CheckHealth(r.Context(), s.svc.Project()))
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	resp := SessionsResponse{Sessions: s.svc.Registry().List()}
	if resp.Sessions == nil {
		resp.Sessions = []models.RegistryEntry{}
	}
	if sc, err := s.svc.Current(r.Context()); err == nil {
		resp.Current = &sc
	}
	s.writeJSON(w, http.StatusOK, resp)
}
