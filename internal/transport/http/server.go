package http

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"asrsexport/internal/infrastructure"
	"asrsexport/internal/middleware"
)

// ServerConfig configures the status server
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// RequestsPerSecond caps the request rate; zero disables the limit
	RequestsPerSecond float64
}

// Server is the optional status/metrics listener
type Server struct {
	server   *http.Server
	listener net.Listener
	logger   *slog.Logger
}

// NewRouter builds the chi router with every route mounted
func NewRouter(cfg ServerConfig, progress ProgressSource, prom http.Handler, logger *slog.Logger) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer(logger))
	r.Use(middleware.StructuredLogger(logger))
	if cfg.RequestsPerSecond > 0 {
		r.Use(middleware.NewRateLimiter(cfg.RequestsPerSecond, int(cfg.RequestsPerSecond)+1, logger).Handler)
	}

	r.Get("/healthz", NewHealthHandler(logger).HealthCheck)
	r.Get("/status", NewStatusHandler(progress).GetStatus)
	r.Get("/metrics", NewMetricsHandler(prom).GetMetrics)
	return r
}

// NewServer creates a status server; call Start to listen
func NewServer(cfg ServerConfig, progress ProgressSource, prom http.Handler, logger *slog.Logger) *Server {
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 5 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	logger = infrastructure.WithComponent(logger, "status_server")

	return &Server{
		server: &http.Server{
			Addr:              cfg.Addr,
			Handler:           NewRouter(cfg, progress, prom, logger),
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: cfg.ReadTimeout,
			WriteTimeout:      cfg.WriteTimeout,
		},
		logger: logger,
	}
}

// Start binds the listener and serves in the background. Bind errors are
// returned; later serve errors are logged.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	s.listener = ln

	s.logger.InfoContext(ctx, "status server listening", slog.String("addr", ln.Addr().String()))

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.ErrorContext(ctx, "status server error", slog.String("error", err.Error()))
		}
	}()
	return nil
}

// Addr is the bound address, valid after Start
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.server.Addr
	}
	return s.listener.Addr().String()
}

// Shutdown stops the server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
