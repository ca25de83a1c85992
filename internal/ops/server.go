// Catalogus - Media Catalog Ingestion and Refresh Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/catalogus

// Package ops exposes the operational HTTP surface of a pipeline driver:
// liveness and readiness probes, Prometheus metrics, and a small
// read-only catalog status endpoint. The server is optional; drivers
// start it only when a port is configured.
package ops

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/catalogus/internal/config"
	"github.com/tomtom215/catalogus/internal/logging"
	"github.com/tomtom215/catalogus/internal/models"
)

// StatusStore is the store surface the ops endpoints read from.
// Satisfied by *store.Store.
type StatusStore interface {
	Ping(ctx context.Context) error
	CountItems(ctx context.Context) (int64, error)
	Statistics(ctx context.Context) (*models.CatalogStatistics, error)
}

// Server wraps the operational HTTP listener.
type Server struct {
	cfg    *config.OpsConfig
	store  StatusStore
	server *http.Server
}

// NewServer builds the ops server. It does not start listening.
func NewServer(cfg *config.OpsConfig, st StatusStore) *Server {
	s := &Server{cfg: cfg, store: st}
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", s.handleLive)
	r.Get("/readyz", s.handleReady)
	r.Get("/statusz", s.handleStatus)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

// Enabled reports whether the driver should start the listener.
func (s *Server) Enabled() bool {
	return s.cfg.Port > 0
}

// Start begins serving in a background goroutine. Errors other than
// graceful shutdown are fatal: a driver that asked for an ops port but
// cannot bind it should not run blind.
func (s *Server) Start() {
	logging.Info().Str("addr", s.server.Addr).Msg("Ops server listening")
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Fatal().Err(err).Msg("Ops server failed")
		}
	}()
}

// Shutdown drains the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// statusResponse is the /statusz payload.
type statusResponse struct {
	TotalItems int64            `json:"total_items"`
	ByGenre    map[string]int64 `json:"by_genre"`
	ByDecade   map[string]int64 `json:"by_decade"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	stats, err := s.store.Statistics(ctx)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to compute catalog statistics")
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to compute catalog statistics",
		})
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		TotalItems: stats.Total,
		ByGenre:    stats.ByGenre,
		ByDecade:   stats.ByDecade,
	})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.Error().Err(err).Msg("Failed to encode response")
	}
}
