// Package api exposes the load applier's operational HTTP surface —
// liveness/readiness and Prometheus scraping — the way the teacher's
// pkg/api.Server does, trimmed down from its stream/config management
// endpoints since this module has no multi-stream runtime to administer
// over HTTP: every channel is fixed at startup by Config.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ledgerapply/loadapplier/pkg/config"
	"github.com/ledgerapply/loadapplier/pkg/metrics"
	"github.com/ledgerapply/loadapplier/pkg/service"
)

// Server is the load applier's health/metrics HTTP server.
type Server struct {
	cfg        *config.Config
	httpServer *http.Server
	health     *HealthService
	telemetry  *metrics.TelemetryManager
}

// NewServer builds a Server bound to cfg.Server.{Host,Port}. svc backs
// the /health check; telemetry backs /metrics (nil disables /metrics,
// matching MetricsConfig.Enabled == false).
func NewServer(cfg *config.Config, svc *service.Service, telemetry *metrics.TelemetryManager) *Server {
	s := &Server{
		cfg:       cfg,
		health:    NewHealthService(svc),
		telemetry: telemetry,
	}

	mux := http.NewServeMux()
	mux.Handle("/health", NewHealthHandler(s.health))
	mux.Handle("/healthz", NewHealthHandler(s.health))
	if telemetry != nil {
		mux.Handle(metricsPath(cfg), telemetry.Handler())
	}
	mux.HandleFunc("/", s.handleRoot)

	var handler http.Handler = mux
	handler = s.loggingMiddleware(handler)
	handler = s.recoveryMiddleware(handler)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func metricsPath(cfg *config.Config) string {
	if cfg.Metrics.Path == "" {
		return "/metrics"
	}
	return cfg.Metrics.Path
}

// Checkers exposes the underlying HealthService so callers can register
// dependency pings (store, audit sink) before Start.
func (s *Server) Checkers() *HealthService {
	return s.health
}

// Start runs the HTTP server, blocking until it stops or errors.
func (s *Server) Start() error {
	log.Info().Str("address", s.httpServer.Addr).Msg("api: server starting")
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop gracefully shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	log.Info().Msg("api: server stopping")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	resp := map[string]any{
		"service": "ledger-load-applier",
		"ledger":  s.cfg.Ledger.Name,
		"endpoints": map[string]string{
			"health":  "/health",
			"metrics": metricsPath(s.cfg),
		},
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Error().Err(err).Msg("api: encode root response failed")
	}
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(start)).
			Msg("api: request")
	})
}

func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				log.Error().Interface("panic", err).Str("path", r.URL.Path).Msg("api: recovered panic in handler")
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
