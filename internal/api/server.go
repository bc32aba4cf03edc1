// Package api is the HTTP surface of the TableHub sync server. It translates
// requests into sync engine and store calls and serializes the responses.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/marcus/tablehub/internal/config"
	"github.com/marcus/tablehub/internal/store"
	tbsync "github.com/marcus/tablehub/internal/sync"
)

// Server is the HTTP API server for TableHub.
type Server struct {
	config      config.Config
	http        *http.Server
	store       store.Store
	engine      *tbsync.Engine
	metrics     *Metrics
	rateLimiter *RateLimiter
}

// NewServer creates a new Server with the given config and store.
func NewServer(cfg config.Config, st store.Store) *Server {
	s := &Server{
		config:      cfg,
		store:       st,
		engine:      tbsync.New(st),
		metrics:     NewMetrics(),
		rateLimiter: NewRateLimiter(),
	}

	s.http = &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      s.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s
}

// Handler returns the fully assembled HTTP handler (exported for tests).
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Start begins listening for HTTP requests (non-blocking).
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.ListenAddr())
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	go func() {
		if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("http server", "err", err)
		}
	}()

	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// routes builds the HTTP handler with all routes and middleware.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /metricz", s.handleMetrics)

	// Tables
	mux.HandleFunc("GET /api/tables", s.handleListTables)
	mux.HandleFunc("POST /api/tables", s.handleCreateTable)
	mux.HandleFunc("GET /api/tables/{id}", s.handleGetTable)
	mux.HandleFunc("PUT /api/tables/{id}", s.handleUpdateTable)
	mux.HandleFunc("PATCH /api/tables/{id}", s.handlePatchTable)
	mux.HandleFunc("DELETE /api/tables/{id}", s.handleDeleteTable)

	// Sync
	mux.HandleFunc("POST /api/sync", s.withSyncRateLimit(s.handleSyncPush))
	mux.HandleFunc("GET /api/sync", s.withSyncRateLimit(s.handleSyncPull))

	// Export
	mux.HandleFunc("GET /api/export.json", s.handleExportJSON)
	mux.HandleFunc("GET /api/export.csv", s.handleExportCSV)
	mux.HandleFunc("GET /api/export.xlsx", s.handleExportXLSX)

	if s.config.Debug {
		mux.HandleFunc("GET /api/debug/events", s.handleDebugEvents)
		mux.HandleFunc("DELETE /api/debug/reset", s.handleDebugReset)
	}

	return chain(mux,
		recoveryMiddleware,
		requestIDMiddleware,
		loggerMiddleware,
		metricsMiddleware(s.metrics),
		loggingMiddleware,
		maxBytesMiddleware(10<<20),
		s.corsMiddleware,
	)
}

// handleRoot returns a service banner.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "TableHub backend is running"})
}

// handleHealth returns a health check response, pinging the store.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "error", "detail": "store unreachable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleMetrics returns a snapshot of server metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}
