// Package server exposes the translation service over a REST/SSE API.
// The server is started by the `novelt serve` CLI command.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/54b3r/novelt-go/internal/logging"
	"github.com/54b3r/novelt-go/internal/novel"
	"github.com/54b3r/novelt-go/internal/translate"
	"github.com/54b3r/novelt-go/internal/version"
)

// New constructs a Server from the translation service, the novel
// repository and config.
func New(svc *translate.Service, repo novel.Repository, cfg *Config) (*Server, error) {
	if svc == nil {
		return nil, errors.New("server: translation service must not be nil")
	}
	if repo == nil {
		return nil, errors.New("server: repository must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		// A retried translation can take many upstream round trips.
		cfg.WriteTimeout = 30 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New()
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.MetricsRegistry == nil {
		cfg.MetricsRegistry = prometheus.DefaultRegisterer
	}
	if cfg.MetricsGatherer == nil {
		cfg.MetricsGatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		translator: svc,
		repo:       repo,
		cfg:        cfg,
		log:        cfg.Logger,
		pingers:    cfg.Pingers,
		metrics:    newServerMetrics(cfg.MetricsRegistry),
	}

	rl, stop := newRateLimiter(cfg.RateLimit, cfg.RateBurst, s.log, s.metrics)
	s.stopRL = stop

	if cfg.APIKey == "" {
		s.log.Warn("server: API key not set, authentication disabled")
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      requestLogger(s.log, s.routes(rl)),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// routes builds the mux. Health, readiness and metrics stay open; every
// other /api route sits behind bearer auth, and the model-calling routes are
// rate limited per IP.
func (s *Server) routes(rl *rateLimiter) http.Handler {
	protect := func(h http.Handler) http.Handler { return authMiddleware(s.cfg.APIKey, h) }
	limited := func(h http.Handler) http.Handler { return protect(rl.middleware(h)) }

	mux := http.NewServeMux()
	mux.Handle("POST /api/translate", limited(s.instrument("translate", s.handleTranslate)))
	mux.Handle("POST /api/quality-check", limited(s.instrument("quality_check", s.handleQualityCheck)))
	mux.Handle("GET /api/novels/{id}", protect(s.instrument("novel", s.handleNovel)))
	mux.Handle("POST /api/novels/{id}/references/ops", protect(s.instrument("reference_ops", s.handleReferenceOps)))
	mux.Handle("GET /api/health", s.instrument("health", s.handleHealth))
	mux.Handle("GET /api/ready", s.instrument("ready", s.handleReady))
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.cfg.MetricsGatherer, promhttp.HandlerOpts{}))
	return mux
}

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("server listening", slog.String("addr", "http://"+s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	defer s.stopRL()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// healthResponse is the JSON body returned by GET /api/health.
type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// handleHealth handles GET /api/health for liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, http.StatusOK, healthResponse{Status: "ok", Version: version.Version})
}

// writeJSON encodes v as the response body with the given status.
func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(ctx).Error("encode response", slog.Any("error", err))
	}
}

// errorResponse is the JSON body of every non-2xx API response.
type errorResponse struct {
	Error string `json:"error"`
}

// writeJSONError writes {"error": msg} with the given status.
func writeJSONError(ctx context.Context, w http.ResponseWriter, msg string, status int) {
	writeJSON(ctx, w, status, errorResponse{Error: msg})
}
