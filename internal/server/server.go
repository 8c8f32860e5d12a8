// Copyright 2025 Arion Yau
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
	"sonyctl/internal/device"
	"sonyctl/internal/dispatch"
	"sonyctl/internal/history"
	"sonyctl/internal/logger"
)

const (
	nonceHeader         = "X-Request-Nonce"
	defaultHistoryLimit = 20
	pruneInterval       = 10 * time.Minute
)

// HistoryReader is the read side of the action history
type HistoryReader interface {
	Recent(ctx context.Context, n int) ([]history.Entry, error)
}

// Option configures a Server
type Option func(*Server)

// WithLogger sets the logger handle
func WithLogger(log zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = log
	}
}

// WithHistory enables GET /api/v1/history
func WithHistory(h HistoryReader) Option {
	return func(s *Server) {
		s.history = h
	}
}

// WithNonceCache replaces the default replay cache
func WithNonceCache(nc *NonceCache) Option {
	return func(s *Server) {
		s.nonces = nc
	}
}

// WithTimeout sets read and write timeouts of the HTTP server
func WithTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// Server exposes the dispatcher over HTTP
type Server struct {
	dispatcher *dispatch.Dispatcher
	history    HistoryReader
	hub        *Hub
	nonces     *NonceCache
	inflight   singleflight.Group
	logger     zerolog.Logger
	timeout    time.Duration
	started    time.Time
	httpServer *http.Server
}

// New creates a server and subscribes its websocket hub to d
func New(d *dispatch.Dispatcher, opts ...Option) *Server {
	s := &Server{
		dispatcher: d,
		logger:     logger.Nop(),
		timeout:    15 * time.Second,
		started:    time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logger.Component(s.logger, "server")
	if s.nonces == nil {
		s.nonces = NewNonceCache(0, 0)
	}
	s.hub = NewHub(s.logger)
	d.Subscribe(s.hub.Broadcast)
	return s
}

// Hub returns the websocket hub
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler builds the router
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()

	router.Use(s.requestIDMiddleware)
	router.Use(s.loggingMiddleware)
	router.Use(s.corsMiddleware)

	router.HandleFunc("/api/bravia/{function}", s.handleAction(device.KindDisplay)).Methods("GET", "OPTIONS")
	router.HandleFunc("/api/bluray/{function}", s.handleAction(device.KindDiscPlayer)).Methods("GET", "OPTIONS")

	apiRouter := router.PathPrefix("/api/v1").Subrouter()
	apiRouter.HandleFunc("/actions", s.handleActions).Methods("GET")
	apiRouter.HandleFunc("/devices", s.handleDevices).Methods("GET")
	apiRouter.HandleFunc("/history", s.handleHistory).Methods("GET")
	apiRouter.HandleFunc("/health", s.handleHealth).Methods("GET")

	router.Handle("/ws", s.hub)

	return router
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully
func (s *Server) ListenAndServe(ctx context.Context, address string) error {
	s.httpServer = &http.Server{
		Addr:         address,
		Handler:      s.Handler(),
		ReadTimeout:  s.timeout,
		WriteTimeout: 0, // dispatches and websocket streams outlive a fixed write timeout
		IdleTimeout:  60 * time.Second,
	}

	go s.pruneNonces(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().
			Str("address", address).
			Msg("Starting API server")
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.logger.Info().Msg("Shutting down API server")
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) pruneNonces(ctx context.Context) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.nonces.Prune(); n > 0 {
				s.logger.Debug().Int("expired_count", n).Msg("Cleaned up expired nonces")
			}
		}
	}
}

// Response helpers
func (s *Server) encode(status int, data interface{}) (int, []byte) {
	body, err := json.Marshal(data)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode response")
		return http.StatusInternalServerError, []byte(`{"Error":"internal error"}`)
	}
	return status, body
}

func writeBody(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}

func (s *Server) sendJSON(w http.ResponseWriter, status int, data interface{}) {
	status, body := s.encode(status, data)
	writeBody(w, status, body)
}

func (s *Server) sendError(w http.ResponseWriter, status int, message string) {
	s.sendJSON(w, status, map[string]string{"Error": message})
}

// actionResponse is the rendered answer to one action request
type actionResponse struct {
	status    int
	body      []byte
	cacheable bool
}

func (s *Server) handleAction(kind device.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		function := mux.Vars(r)["function"]
		nonce := r.Header.Get(nonceHeader)
		scope := string(kind)

		if nonce == "" {
			resp := s.runAction(r.Context(), kind, function)
			writeBody(w, resp.status, resp.body)
			return
		}

		if cached, ok := s.nonces.Lookup(scope, nonce); ok {
			s.logger.Debug().Str("nonce", nonce).Str("action", function).Msg("Replaying cached response")
			writeBody(w, cached.Status, cached.Body)
			return
		}

		// Retries that arrive while the first request is still running wait
		// for its response. The dispatch is detached from the first caller,
		// which may give up and disconnect before the devices answer.
		ctx := context.WithoutCancel(r.Context())
		v, _, shared := s.inflight.Do(scope+"\x00"+nonce, func() (interface{}, error) {
			if cached, ok := s.nonces.Lookup(scope, nonce); ok {
				return actionResponse{status: cached.Status, body: cached.Body}, nil
			}
			resp := s.runAction(ctx, kind, function)
			if resp.cacheable {
				s.nonces.Store(scope, nonce, resp.status, resp.body)
			}
			return resp, nil
		})
		if shared {
			s.logger.Debug().Str("nonce", nonce).Str("action", function).Msg("Joined in-flight request")
		}

		resp := v.(actionResponse)
		writeBody(w, resp.status, resp.body)
	}
}

// runAction dispatches function and renders the result the way the action
// routes answer. Unknown names are rejected before dispatch and never cached.
func (s *Server) runAction(ctx context.Context, kind device.Kind, function string) actionResponse {
	results, err := s.dispatcher.Execute(ctx, kind, function)

	switch {
	case err == nil:
		status, body := s.encode(http.StatusOK, results)
		return actionResponse{status: status, body: body, cacheable: true}
	case errors.Is(err, dispatch.ErrUnknownAction):
		status, body := s.encode(http.StatusUnprocessableEntity, map[string]string{"Error": err.Error()})
		return actionResponse{status: status, body: body}
	}

	status, message := http.StatusInternalServerError, err.Error()
	if msg, ok := dispatch.ClientMessage(err); ok {
		status, message = http.StatusOK, msg
	}
	status, body := s.encode(status, map[string]string{"Error": message})
	return actionResponse{status: status, body: body, cacheable: true}
}

func (s *Server) handleActions(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, dispatch.Actions())
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, s.dispatcher.Devices())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.sendError(w, http.StatusNotFound, "history is disabled")
		return
	}

	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.sendError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	entries, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to read history")
		s.sendError(w, http.StatusInternalServerError, "failed to read history")
		return
	}
	s.sendJSON(w, http.StatusOK, entries)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	guard := s.dispatcher.Guard()
	s.sendJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"uptime":         time.Since(s.started).Round(time.Second).String(),
		"ws_clients":     s.hub.Clients(),
		"flood_cooldown": guard.Cooldown().String(),
		"flood_window":   guard.Window().String(),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	})
}
