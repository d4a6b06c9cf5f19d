package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/vitos/lp_lending_risk/internal/domain"
	"go.uber.org/zap"
)

type Server struct {
	router    *http.ServeMux
	server    *http.Server
	runs      domain.RunRepository
	hub       *Hub
	metrics   http.Handler
	logger    *zap.Logger
	startedAt time.Time
}

// NewServer wires the read-only run API. hub and metrics may be nil, in which
// case their routes are not registered.
func NewServer(
	port int,
	runs domain.RunRepository,
	hub *Hub,
	metrics http.Handler,
	logger *zap.Logger,
) *Server {
	s := &Server{
		router:    http.NewServeMux(),
		runs:      runs,
		hub:       hub,
		metrics:   metrics,
		logger:    logger,
		startedAt: time.Now(),
	}
	s.routes()
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	// Runs
	s.router.HandleFunc("GET /api/runs", s.handleListRuns)
	s.router.HandleFunc("GET /api/runs/{id}", s.handleGetRun)
	s.router.HandleFunc("GET /api/runs/{id}/days", s.handleListDays)
	s.router.HandleFunc("GET /api/runs/{id}/days/{date}/positions", s.handleListPositionLines)

	// Status
	s.router.HandleFunc("GET /status", s.handleStatus)

	if s.metrics != nil {
		s.router.Handle("GET /metrics", s.metrics)
	}
	if s.hub != nil {
		s.router.HandleFunc("GET /ws/runs", s.hub.HandleWS)
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.logger.Info("Starting web server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
