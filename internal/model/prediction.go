// Agromet - Agricultural Telemetry and Decision Pipeline for Quillota
// Copyright 2026 J. Cortes (jcortesq)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcortesq/agromet

package model

import (
	"fmt"
	"time"
)

// Prediction variables produced by the forecaster registry.
const (
	VarTemperature   = "temperature"
	VarHumidity      = "humidity"
	VarPrecipitation = "precipitation"
	VarWindSpeed     = "wind_speed"
)

// Prediction is a short-horizon forecast for one variable at one station.
// The tuple (model_id, variable, issued_at, horizon) is unique.
type Prediction struct {
	ModelID    string    `json:"model_id"`
	StationID  string    `json:"station_id"`
	Variable   string    `json:"variable"`
	IssuedAt   time.Time `json:"issued_at"`
	Horizon    int       `json:"horizon"` // discrete steps ahead
	Value      float64   `json:"value"`
	Confidence float64   `json:"confidence"` // 0.0-1.0
}

// Key returns the unique identity of the prediction.
func (p *Prediction) Key() string {
	return fmt.Sprintf("%s/%s/%d/%d", p.ModelID, p.Variable, p.IssuedAt.UnixNano(), p.Horizon)
}

// Validate checks the prediction invariants consumed by the rule engine.
func (p *Prediction) Validate() error {
	if p.ModelID == "" || p.Variable == "" {
		return fmt.Errorf("prediction missing model_id or variable")
	}
	if p.Horizon < 1 {
		return fmt.Errorf("prediction horizon must be >= 1, got %d", p.Horizon)
	}
	if p.Confidence < 0 || p.Confidence > 1 {
		return fmt.Errorf("prediction confidence %v outside [0,1]", p.Confidence)
	}
	return nil
}
