/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package api serves the terminal registry over HTTP: JSON queries and a
// websocket stream of change batches.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/carverauto/terminal-discovery/pkg/logger"
	"github.com/carverauto/terminal-discovery/pkg/terminal"
	"github.com/carverauto/terminal-discovery/pkg/version"
)

const (
	defaultReadTimeout  = 10 * time.Second
	defaultWriteTimeout = 10 * time.Second
	defaultIdleTimeout  = 60 * time.Second
)

// Registry is the read side of the terminal registry.
type Registry interface {
	GetAllTerminalInfo() ([]terminal.TerminalInfo, error)
	Stats() terminal.Stats
	Config() terminal.Config
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Message string `json:"message"`
	Status  int    `json:"status"`
}

// HealthResponse is the body of /healthz.
type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Terminals int    `json:"terminals"`
}

// Server is the HTTP API. It implements lifecycle.Service.
type Server struct {
	addr     string
	apiKey   string
	registry Registry
	hub      *Hub
	logger   logger.Logger
	handler  http.Handler

	mu       sync.Mutex
	srv      *http.Server
	listener net.Listener
	stopped  bool
}

// Option customizes a Server.
type Option func(*Server)

// WithAPIKey protects the /api routes with an X-API-Key check.
func WithAPIKey(key string) Option {
	return func(s *Server) { s.apiKey = key }
}

// WithHub replaces the websocket hub.
func WithHub(h *Hub) Option {
	return func(s *Server) { s.hub = h }
}

// NewServer returns a Server for reg listening on addr.
func NewServer(addr string, reg Registry, log logger.Logger, opts ...Option) *Server {
	s := &Server{
		addr:     addr,
		registry: reg,
		logger:   log,
	}

	for _, o := range opts {
		o(s)
	}

	if s.hub == nil {
		s.hub = NewHub(log, defaultQueueSize)
	}

	s.handler = s.routes()

	return s
}

// Hub returns the websocket hub; register Hub().Broadcast as a sink.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	protected := router.PathPrefix("/api").Subrouter()
	protected.Use(APIKeyMiddleware(s.apiKey, s.logger))

	protected.HandleFunc("/terminals", s.handleTerminals).Methods(http.MethodGet)
	protected.Handle("/terminals/stream", s.hub).Methods(http.MethodGet)
	protected.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	protected.HandleFunc("/config", s.handleConfig).Methods(http.MethodGet)

	// CORS preflight must answer before route matching rejects OPTIONS
	return CommonMiddleware(s.logger)(router)
}

// Start listens and serves until Stop or until ctx is cancelled. It
// implements lifecycle.Service.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:      s.handler,
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
		IdleTimeout:  defaultIdleTimeout,
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		_ = ln.Close()

		return nil
	}

	s.srv = srv
	s.listener = ln
	s.mu.Unlock()

	served := make(chan struct{})
	defer close(served)

	go func() {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultWriteTimeout)
			defer cancel()

			_ = srv.Shutdown(shutdownCtx)
		case <-served:
		}
	}()

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("Starting HTTP API")

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

// Addr returns the bound address once Start is listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return s.addr
	}

	return s.listener.Addr().String()
}

// Stop disconnects websocket subscribers and shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.hub.Close()

	s.mu.Lock()
	s.stopped = true
	srv := s.srv
	s.mu.Unlock()

	if srv == nil {
		return nil
	}

	return srv.Shutdown(ctx)
}

func (s *Server) handleTerminals(w http.ResponseWriter, _ *http.Request) {
	infos, err := s.registry.GetAllTerminalInfo()
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	// a full query reports every terminal as an addition
	out := make([]terminal.ChangeEvent, 0, len(infos))
	for _, info := range infos {
		out = append(out, terminal.ChangeEvent{Tag: terminal.TagAdd, TerminalInfo: info})
	}

	s.writeJSON(w, out)
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, s.registry.Stats())
}

func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, configResponse(s.registry.Config()))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, HealthResponse{
		Status:    "ok",
		Version:   version.GetVersion(),
		Terminals: s.registry.Stats().CurrentTerminals,
	})
}

// ConfigResponse renders terminal.Config with human-readable durations.
type ConfigResponse struct {
	ScanInterval        string   `json:"scan_interval"`
	KeepaliveInterval   string   `json:"keepalive_interval"`
	MissThreshold       uint32   `json:"keepalive_miss_threshold"`
	IfaceInvalidHoldoff string   `json:"iface_invalid_holdoff"`
	MaxTerminals        int      `json:"max_terminals"`
	IgnoredVLANs        []uint16 `json:"ignored_vlans"`
}

func configResponse(c terminal.Config) ConfigResponse {
	vlans := c.IgnoredVLANs
	if vlans == nil {
		vlans = []uint16{}
	}

	return ConfigResponse{
		ScanInterval:        c.ScanInterval.String(),
		KeepaliveInterval:   c.KeepaliveInterval.String(),
		MissThreshold:       c.MissThreshold,
		IfaceInvalidHoldoff: c.IfaceInvalidHoldoff.String(),
		MaxTerminals:        c.MaxTerminals,
		IgnoredVLANs:        vlans,
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error().Err(err).Msg("Error encoding response")
	}
}

func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(ErrorResponse{Message: message, Status: statusCode}); err != nil {
		http.Error(w, "Failed to encode error response", http.StatusInternalServerError)
	}
}
