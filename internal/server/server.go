// Package server exposes the engine over HTTP: assignment for
// storefront edge code, an event beacon, and read-only results for
// operators. There is no UI here; the CLI and the JSON API are the
// surfaces.
package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/shipsplit/shipsplit/internal/engine"
	"github.com/shipsplit/shipsplit/internal/store"
)

type Server struct {
	engine    *engine.Engine
	store     store.Store
	port      int
	router    *http.ServeMux
	logger    *slog.Logger
	startTime time.Time
}

func New(e *engine.Engine, st store.Store, port int, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	srv := &Server{
		engine:    e,
		store:     st,
		port:      port,
		router:    http.NewServeMux(),
		logger:    logger,
		startTime: time.Now(),
	}

	srv.setupRoutes()
	return srv
}

func (s *Server) setupRoutes() {
	// Edge-facing endpoints
	s.router.HandleFunc("/health", s.handleHealth)
	s.router.HandleFunc("/assign", s.handleAssign)
	s.router.HandleFunc("/e", s.handleBeacon)
	s.router.HandleFunc("/shipping/rates", s.handleShippingRates)

	// Operator endpoints
	s.router.HandleFunc("/api/tests", s.handleListTests)
	s.router.HandleFunc("/api/results", s.handleResults)
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.logger.Info("server listening", "addr", addr)
	return http.ListenAndServe(addr, s.router)
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) StartTime() time.Time {
	return s.startTime
}
