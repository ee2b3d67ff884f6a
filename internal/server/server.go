// Package server implements the HTTP server that exposes the study crew via
// a JSON API: asking questions, uploading, listing and deleting documents,
// plus health, readiness and Prometheus metrics endpoints.
// The server is started by the `studycrew serve` CLI command.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/54b3r/studycrew-go/internal/logging"
	"github.com/54b3r/studycrew-go/internal/service"
)

// New constructs a Server from the provided service and config.
func New(svc documents, cfg *Config) (*Server, error) {
	if svc == nil {
		return nil, fmt.Errorf("server: service must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8005
	}
	if cfg.ReadTimeout == 0 {
		// Uploads of large PDFs need more than the usual few seconds.
		cfg.ReadTimeout = 2 * time.Minute
	}
	if cfg.WriteTimeout == 0 {
		// Three expert calls plus synthesis on a local model can take minutes.
		cfg.WriteTimeout = 10 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.MaxUploadSize == 0 {
		cfg.MaxUploadSize = service.DefaultMaxFileSize
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics(prometheus.DefaultRegisterer)
	}
	if cfg.MetricsGatherer == nil {
		cfg.MetricsGatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		svc:     svc,
		cfg:     cfg,
		log:     cfg.Logger,
		pingers: cfg.Pingers,
		metrics: cfg.Metrics,
	}
	s.metrics.trackDocuments(func() int { return len(svc.Status().Documents) })

	if cfg.APIKey == "" {
		s.log.Warn("server: STUDYCREW_API_KEY not set, API authentication disabled")
	}

	rl, stop := newRateLimiter(cfg.RateLimit, cfg.RateBurst, s.log)
	rl.onReject = s.metrics.observeRateLimited
	s.stopRL = stop

	protect := func(h http.HandlerFunc) http.Handler { return authMiddleware(cfg.APIKey, h) }
	limited := func(h http.HandlerFunc) http.Handler { return authMiddleware(cfg.APIKey, rl.middleware(h)) }

	mux := http.NewServeMux()
	mux.Handle("POST /api/ask", limited(s.handleAsk))
	mux.Handle("POST /api/documents", limited(s.handleUpload))
	mux.Handle("GET /api/documents", protect(s.handleListDocuments))
	mux.Handle("DELETE /api/documents/{name}", protect(s.handleDeleteDocument))
	mux.Handle("DELETE /api/documents", protect(s.handleDeleteAll))
	mux.Handle("GET /api/status", protect(s.handleStatus))
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/ready", s.handleReady)
	mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.MetricsGatherer, promhttp.HandlerOpts{}))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      requestLogger(s.log, s.instrument(mux)),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// Handler returns the fully wrapped root handler.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Addr returns the listen address.
func (s *Server) Addr() string { return s.httpServer.Addr }

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	defer s.stopRL()
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("server: listening", slog.String("addr", "http://"+s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		s.log.Info("server: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}
