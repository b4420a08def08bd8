// Agromet - Agricultural Telemetry and Decision Pipeline for Quillota
// Copyright 2026 J. Cortes (jcortesq)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcortesq/agromet

// Package api exposes the monitoring surface of the pipeline over HTTP:
// health, Prometheus metrics, and read-only JSON views of the store,
// forecaster registry, irrigation state machine, scheduler, and WAL.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jcortesq/agromet/internal/config"
	"github.com/jcortesq/agromet/internal/forecast"
	"github.com/jcortesq/agromet/internal/irrigation"
	"github.com/jcortesq/agromet/internal/logging"
	"github.com/jcortesq/agromet/internal/scheduler"
	"github.com/jcortesq/agromet/internal/store"
	"github.com/jcortesq/agromet/internal/wal"
)

const shutdownTimeout = 10 * time.Second

// ForecasterSource reports per-forecaster evaluation metrics.
type ForecasterSource interface {
	Metrics() []forecast.ForecasterMetrics
}

// IrrigationSource reports the current state of every actuator.
type IrrigationSource interface {
	States() map[string]irrigation.State
}

// SchedulerSource reports work queue counters.
type SchedulerSource interface {
	Stats() scheduler.Stats
}

// WALSource reports write-ahead log counters.
type WALSource interface {
	Stats() wal.Stats
}

// Sources bundles the read-only views the server renders. Any nil
// field disables its endpoint with a 503 instead of panicking.
type Sources struct {
	Store       *store.Store
	Forecasters ForecasterSource
	Irrigation  IrrigationSource
	Scheduler   SchedulerSource
	WAL         WALSource
	// BrokerOK reports whether the message broker is reachable.
	BrokerOK func() bool
}

// Server is the monitoring HTTP server. It implements suture.Service.
type Server struct {
	cfg     config.ServerConfig
	src     Sources
	srv     *http.Server
	started time.Time
}

func NewServer(cfg config.ServerConfig, src Sources) *Server {
	s := &Server{cfg: cfg, src: src, started: time.Now()}
	s.srv = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Router builds the chi mux. Exposed separately so tests can drive
// handlers through httptest without binding a port.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.cfg.Timeout))

	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/stages", s.handleStages)
		r.Get("/alerts/active", s.handleActiveAlerts)
		r.Get("/store", s.handleStore)
		r.Get("/forecasters", s.handleForecasters)
		r.Get("/irrigation", s.handleIrrigation)
		r.Get("/scheduler", s.handleScheduler)
		r.Get("/wal", s.handleWAL)
	})
	return r
}

func (s *Server) String() string { return "api-server" }

// Serve runs the HTTP server until ctx is cancelled, then drains
// in-flight requests within shutdownTimeout.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", s.srv.Addr).Msg("api server listening")
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			logging.Warn().Err(err).Msg("api server shutdown")
		}
		err := <-errCh
		if errors.Is(err, http.ErrServerClosed) {
			return ctx.Err()
		}
		return err
	}
}
