package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/wonny/aegis-narrator/pkg/config"
	"github.com/wonny/aegis-narrator/pkg/logger"
)

const (
	// writeGrace covers rendering and writing the result after the budget ends
	writeGrace          = 15 * time.Second
	defaultWriteTimeout = 60 * time.Second
)

// Server represents the HTTP API server.
// Every request context derives from a server-owned base context; Shutdown
// drains in-flight report runs and then cancels that context so stragglers
// end as aborted instead of being cut off mid-write.
// ⭐ SSOT: API 서버 설정은 이 파일에서만
type Server struct {
	httpServer *http.Server
	logger     *logger.Logger
	config     *config.Config
	cancelRuns context.CancelFunc
}

// New creates a new API server
func New(cfg *config.Config, log *logger.Logger, router http.Handler) *Server {
	base, cancel := context.WithCancel(context.Background())
	return &Server{
		httpServer: &http.Server{
			Addr:              ":" + cfg.Port,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      WriteTimeout(cfg.Report.RequestBudget),
			IdleTimeout:       60 * time.Second,
			BaseContext:       func(net.Listener) context.Context { return base },
		},
		logger:     log,
		config:     cfg,
		cancelRuns: cancel,
	}
}

// WriteTimeout outlasts one report budget so a slow generation still gets its result written
func WriteTimeout(budget time.Duration) time.Duration {
	if budget <= 0 {
		return defaultWriteTimeout
	}
	return budget + writeGrace
}

// Start listens on the configured port
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown
func (s *Server) Serve(ln net.Listener) error {
	s.logger.WithFields(map[string]interface{}{
		"addr":          ln.Addr().String(),
		"env":           s.config.Env,
		"write_timeout": s.httpServer.WriteTimeout.String(),
	}).Info("Starting API server")

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown stops accepting and waits for in-flight reports until ctx ends.
// Runs still going at that point are cancelled and report as aborted.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server")
	defer s.cancelRuns()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.WithError(err).Warn("Drain deadline reached, aborting in-flight reports")
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}
