// Agromet - Agricultural Telemetry and Decision Pipeline for Quillota
// Copyright 2026 J. Cortes (jcortesq)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcortesq/agromet

package api

import (
	"net/http"
	"time"

	"github.com/jcortesq/agromet/internal/logging"
	"github.com/jcortesq/agromet/internal/store"
)

const defaultStageWindow = time.Hour

type healthStatus struct {
	Status        string  `json:"status"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	Store         string  `json:"store"`
	Broker        string  `json:"broker"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	hs := healthStatus{
		Status:        "ok",
		UptimeSeconds: time.Since(s.started).Seconds(),
		Store:         "ok",
		Broker:        "ok",
	}
	if s.src.Store != nil {
		if err := s.src.Store.Ping(r.Context()); err != nil {
			hs.Status = "degraded"
			hs.Store = "unreachable"
		}
	}
	if s.src.BrokerOK != nil && !s.src.BrokerOK() {
		hs.Status = "degraded"
		hs.Broker = "unreachable"
	}
	status := http.StatusOK
	if hs.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeResponse(w, status, APIResponse{Success: hs.Status == "ok", Data: hs})
}

// handleStages returns per-stage throughput records. The window is
// controlled by ?since=RFC3339 and defaults to the last hour.
func (s *Server) handleStages(w http.ResponseWriter, r *http.Request) {
	if s.src.Store == nil {
		writeError(w, r, http.StatusServiceUnavailable, "store_unavailable", "store not configured")
		return
	}
	cutoff := time.Now().Add(-defaultStageWindow)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_since", "since must be RFC 3339")
			return
		}
		cutoff = parsed
	}
	metrics, err := s.src.Store.StageMetricsSince(r.Context(), cutoff)
	if err != nil {
		logging.Error().Err(err).Msg("read stage metrics")
		writeError(w, r, http.StatusInternalServerError, "store_error", "failed to read stage metrics")
		return
	}
	writeSuccess(w, r, metrics)
}

func (s *Server) handleActiveAlerts(w http.ResponseWriter, r *http.Request) {
	if s.src.Store == nil {
		writeError(w, r, http.StatusServiceUnavailable, "store_unavailable", "store not configured")
		return
	}
	alerts, err := s.src.Store.ActiveAlerts(r.Context())
	if err != nil {
		logging.Error().Err(err).Msg("read active alerts")
		writeError(w, r, http.StatusInternalServerError, "store_error", "failed to read alerts")
		return
	}
	writeSuccess(w, r, alerts)
}

func (s *Server) handleStore(w http.ResponseWriter, r *http.Request) {
	if s.src.Store == nil {
		writeError(w, r, http.StatusServiceUnavailable, "store_unavailable", "store not configured")
		return
	}
	totals := make(map[string]int64, 6)
	for _, entity := range []string{
		store.EntitySamples, store.EntityReadings, store.EntityEnriched,
		store.EntityPredictions, store.EntityAlerts, store.EntityIrrigation,
	} {
		totals[entity] = s.src.Store.TotalRows(entity)
	}
	writeSuccess(w, r, totals)
}

func (s *Server) handleForecasters(w http.ResponseWriter, r *http.Request) {
	if s.src.Forecasters == nil {
		writeError(w, r, http.StatusServiceUnavailable, "registry_unavailable", "forecaster registry not configured")
		return
	}
	writeSuccess(w, r, s.src.Forecasters.Metrics())
}

func (s *Server) handleIrrigation(w http.ResponseWriter, r *http.Request) {
	if s.src.Irrigation == nil {
		writeError(w, r, http.StatusServiceUnavailable, "controller_unavailable", "irrigation controller not configured")
		return
	}
	writeSuccess(w, r, s.src.Irrigation.States())
}

func (s *Server) handleScheduler(w http.ResponseWriter, r *http.Request) {
	if s.src.Scheduler == nil {
		writeError(w, r, http.StatusServiceUnavailable, "scheduler_unavailable", "scheduler not configured")
		return
	}
	writeSuccess(w, r, s.src.Scheduler.Stats())
}

func (s *Server) handleWAL(w http.ResponseWriter, r *http.Request) {
	if s.src.WAL == nil {
		writeError(w, r, http.StatusServiceUnavailable, "wal_unavailable", "write-ahead log not configured")
		return
	}
	writeSuccess(w, r, s.src.WAL.Stats())
}
