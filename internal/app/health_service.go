package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/ambilightd/internal/config"
	"github.com/dokzlo13/ambilightd/internal/engine"
)

// Snapshotter exposes the engine state for the status endpoint.
type Snapshotter interface {
	Snapshot() engine.Snapshot
}

// HealthService provides HTTP health check endpoints.
type HealthService struct {
	cfg    *config.Config
	server *http.Server
	snap   Snapshotter
}

// NewHealthService creates a new HealthService.
func NewHealthService(cfg *config.Config) *HealthService {
	return &HealthService{
		cfg: cfg,
	}
}

// SetSnapshotter wires the engine state into /ready and /status. Must be
// called before Start.
func (s *HealthService) SetSnapshotter(snap Snapshotter) {
	s.snap = snap
}

// Start begins the health check server if enabled.
func (s *HealthService) Start(ctx context.Context) {
	if !s.cfg.Healthcheck.Enabled {
		return
	}

	go s.run(ctx)
}

func (s *HealthService) run(ctx context.Context) {
	addr := fmt.Sprintf("%s:%d", s.cfg.Healthcheck.Host, s.cfg.Healthcheck.Port)

	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	// Ready check endpoint: ready once the engine is past the startup wait
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if s.snap == nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"starting"}`))
			return
		}
		snap := s.snap.Snapshot()
		if snap.State == engine.StateWaitingForDevice.String() || snap.State == engine.StateTerminated.String() {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(fmt.Sprintf(`{"status":"not ready","state":%q}`, snap.State)))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	})

	// Engine status endpoint
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if s.snap == nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		if err := json.NewEncoder(w).Encode(s.snap.Snapshot()); err != nil {
			log.Error().Err(err).Msg("Failed to encode status")
		}
	})

	s.server = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	log.Info().Str("addr", addr).Msg("Starting health check server")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout.Duration())
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Health check server shutdown error")
		}
	}()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Msg("Health check server error")
	}
}
