// Agromet - Agricultural Telemetry and Decision Pipeline for Quillota
// Copyright 2026 J. Cortes (jcortesq)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcortesq/agromet

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	json "github.com/goccy/go-json"

	"github.com/jcortesq/agromet/internal/logging"
)

// APIResponse is the envelope every JSON endpoint returns.
type APIResponse struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *APIError `json:"error,omitempty"`
	Meta    *APIMeta  `json:"meta,omitempty"`
}

// APIError carries a machine-readable code alongside the human message.
type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// APIMeta holds per-request bookkeeping.
type APIMeta struct {
	RequestID string    `json:"request_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func writeSuccess(w http.ResponseWriter, r *http.Request, data any) {
	writeResponse(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
		Meta: &APIMeta{
			RequestID: middleware.GetReqID(r.Context()),
			Timestamp: time.Now().UTC(),
		},
	})
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	writeResponse(w, status, APIResponse{
		Success: false,
		Error: &APIError{
			Code:      code,
			Message:   msg,
			RequestID: middleware.GetReqID(r.Context()),
		},
	})
}

func writeResponse(w http.ResponseWriter, status int, resp APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logging.Error().Err(err).Msg("encode api response")
	}
}
