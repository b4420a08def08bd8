// Agromet - Agricultural Telemetry and Decision Pipeline for Quillota
// Copyright 2026 J. Cortes (jcortesq)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcortesq/agromet

// Package forecast maintains the registry of short-horizon estimators
// feeding the rule engine. Three base forecasters (recency-weighted
// mean, linear trend, seasonal-naive) are combined into an ensemble
// weighted by inverse mean squared error over recent evaluations. A
// forecaster that fails repeatedly is excluded for a cool-down window
// and re-admitted afterwards; the registry never blocks on one.
package forecast

import (
	"errors"
	"fmt"

	"github.com/jcortesq/agromet/internal/model"
)

// ErrPredictionUnavailable marks a forecaster that cannot produce a
// value right now (insufficient history, degraded, or internal fault).
var ErrPredictionUnavailable = errors.New("prediction unavailable")

func unavailable(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrPredictionUnavailable)...)
}

// Variables every forecaster is trained on.
var Variables = []string{
	model.VarTemperature,
	model.VarHumidity,
	model.VarPrecipitation,
	model.VarWindSpeed,
}

// Description is static forecaster metadata.
type Description struct {
	ID         string `json:"id"`
	Kind       string `json:"kind"`
	MinHistory int    `json:"min_history"`
}

// Forecaster is one estimator variant. Fit replaces the per-station
// model state; Predict extrapolates a variable a number of discrete
// steps ahead of the fitted history.
type Forecaster interface {
	Describe() Description
	Fit(stationID string, history []*model.Sample)
	Predict(stationID, variable string, horizon int) (float64, error)
}

// sampleValue extracts a forecast variable from a sample, reporting
// absence.
func sampleValue(s *model.Sample, variable string) (float64, bool) {
	var p *float64
	switch variable {
	case model.VarTemperature:
		p = s.Temperature
	case model.VarHumidity:
		p = s.Humidity
	case model.VarPrecipitation:
		p = s.Precipitation
	case model.VarWindSpeed:
		p = s.WindSpeed
	}
	if !model.Has(p) {
		return 0, false
	}
	return *p, true
}

// series extracts the ordered finite values of one variable.
func series(history []*model.Sample, variable string) []float64 {
	out := make([]float64, 0, len(history))
	for _, s := range history {
		if v, ok := sampleValue(s, variable); ok {
			out = append(out, v)
		}
	}
	return out
}
