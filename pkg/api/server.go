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

// Package api exposes device snapshots and orchestrator controls over HTTP.
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

	arhttp "github.com/carverauto/arnet/pkg/http"
	"github.com/carverauto/arnet/pkg/identity"
	"github.com/carverauto/arnet/pkg/logger"
	"github.com/carverauto/arnet/pkg/models"
	"github.com/carverauto/arnet/pkg/orchestrator"
	"github.com/carverauto/arnet/pkg/registry"
)

const (
	defaultReadTimeout  = 10 * time.Second
	defaultWriteTimeout = 10 * time.Second
	defaultIdleTimeout  = 60 * time.Second
	maxPayloadBytes     = 64 << 10
)

// Orchestrator is the part of the orchestrator the API drives.
type Orchestrator interface {
	Get(deviceID string) (*models.DeviceStatus, error)
	List() []*models.DeviceStatus
	Upsert(id models.DeviceIdentity) (registry.Outcome, error)
	Clear(deviceID string) bool
	ClearAll() []string
	Stats() orchestrator.Stats
}

// Feed delivers health transitions for the live stream.
type Feed interface {
	Subscribe(buffer int) (<-chan models.HealthEvent, func())
}

// History serves and forgets per-device poll history.
type History interface {
	History(deviceID string) []models.PollPoint
	Remove(deviceID string)
}

// Server serves the HTTP API.
type Server struct {
	cfg      models.APIConfig
	orch     Orchestrator
	feed     Feed
	history  History
	enricher identity.Enricher
	config   interface{}
	logger   logger.Logger
	router   *mux.Router

	mu     sync.Mutex
	srv    *http.Server
	ctx    context.Context
	cancel context.CancelFunc
}

// Option customizes a Server.
type Option func(*Server)

// WithFeed enables the websocket status stream.
func WithFeed(f Feed) Option {
	return func(s *Server) {
		s.feed = f
	}
}

// WithHistory enables the per-device history endpoint.
func WithHistory(h History) Option {
	return func(s *Server) {
		s.history = h
	}
}

// WithEnricher completes identities posted to /api/identify.
func WithEnricher(e identity.Enricher) Option {
	return func(s *Server) {
		s.enricher = e
	}
}

// WithConfig exposes the running configuration, redacted, at /api/config.
func WithConfig(cfg interface{}) Option {
	return func(s *Server) {
		s.config = cfg
	}
}

// WithLogger sets the server logger.
func WithLogger(log logger.Logger) Option {
	return func(s *Server) {
		s.logger = log
	}
}

// NewServer creates an API server over orch.
func NewServer(cfg models.APIConfig, orch Orchestrator, opts ...Option) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		cfg:    cfg,
		orch:   orch,
		router: mux.NewRouter(),
		ctx:    ctx,
		cancel: cancel,
	}

	for _, o := range opts {
		o(s)
	}

	if s.logger == nil {
		s.logger = logger.NewTestLogger()
	}

	s.setupRoutes()

	return s
}

// Handler returns the routed handler including middleware.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.Use(func(next http.Handler) http.Handler {
		return arhttp.CommonMiddleware(next, s.cfg.CORS, s.logger)
	})

	s.router.Use(arhttp.APIKeyMiddlewareWithOptions(arhttp.APIKeyOptions{
		APIKey:          s.cfg.APIKey,
		ExcludePaths:    []string{"/healthz"},
		LogUnauthorized: true,
		Logger:          s.logger,
	}))

	s.router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/devices", s.listDevices).Methods(http.MethodGet)
	api.HandleFunc("/devices/{id}", s.getDevice).Methods(http.MethodGet)
	api.HandleFunc("/devices/{id}", s.clearDevice).Methods(http.MethodDelete)
	api.HandleFunc("/devices/{id}/history", s.getHistory).Methods(http.MethodGet)
	api.HandleFunc("/identify", s.identify).Methods(http.MethodPost)
	api.HandleFunc("/rescan", s.rescan).Methods(http.MethodPost)
	api.HandleFunc("/config", s.getConfig).Methods(http.MethodGet)
	api.HandleFunc("/status/ws", s.handleStatusStream).Methods(http.MethodGet)
}

// Start listens on the configured address until Stop is called.
func (s *Server) Start(_ context.Context) error {
	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		return nil
	}

	s.srv = &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
		IdleTimeout:  defaultIdleTimeout,
		BaseContext: func(net.Listener) context.Context {
			return s.ctx
		},
	}
	srv := s.srv
	s.mu.Unlock()

	s.logger.Info().Str("addr", s.cfg.ListenAddr).Msg("Starting HTTP API")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

// Stop closes live streams and drains in-flight requests.
func (s *Server) Stop(ctx context.Context) error {
	s.cancel()

	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()

	if srv == nil {
		return nil
	}

	return srv.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(data)
}

// ErrorResponse is the body of every non-2xx JSON reply.
type ErrorResponse struct {
	Message string `json:"message"`
	Status  int    `json:"status"`
}

func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, ErrorResponse{Message: message, Status: status})
}
