// Agromet - Agricultural Telemetry and Decision Pipeline for Quillota
// Copyright 2026 J. Cortes (jcortesq)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcortesq/agromet

package forecast

import (
	"sync"

	"github.com/jcortesq/agromet/internal/model"
)

// Built-in forecaster IDs.
const (
	ModelRecency  = "recency"
	ModelTrend    = "trend"
	ModelSeasonal = "seasonal"
	ModelEnsemble = "ensemble"
)

// recencyDecay is the exponential weight applied per step into the past.
const recencyDecay = 0.9

// fittedSeries is the per-station state shared by the base forecasters.
type fittedSeries struct {
	mu        sync.RWMutex
	byStation map[string][]*model.Sample
}

func newFittedSeries() *fittedSeries {
	return &fittedSeries{byStation: make(map[string][]*model.Sample)}
}

func (f *fittedSeries) fit(stationID string, history []*model.Sample) {
	f.mu.Lock()
	f.byStation[stationID] = history
	f.mu.Unlock()
}

func (f *fittedSeries) values(stationID, variable string) []float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return series(f.byStation[stationID], variable)
}

// RecencyMean forecasts the exponentially recency-weighted mean of the
// fitted series; the horizon does not change the point estimate.
type RecencyMean struct{ *fittedSeries }

// NewRecencyMean creates the recency-weighted mean forecaster.
func NewRecencyMean() *RecencyMean {
	return &RecencyMean{newFittedSeries()}
}

func (m *RecencyMean) Describe() Description {
	return Description{ID: ModelRecency, Kind: "recency_weighted_mean", MinHistory: 1}
}

func (m *RecencyMean) Fit(stationID string, history []*model.Sample) {
	m.fit(stationID, history)
}

func (m *RecencyMean) Predict(stationID, variable string, horizon int) (float64, error) {
	vals := m.values(stationID, variable)
	if len(vals) == 0 {
		return 0, unavailable("%s: no history for %s/%s", ModelRecency, stationID, variable)
	}
	var sum, wsum float64
	w := 1.0
	for i := len(vals) - 1; i >= 0; i-- {
		sum += vals[i] * w
		wsum += w
		w *= recencyDecay
	}
	return sum / wsum, nil
}

// LinearTrend fits an ordinary least-squares line over the series index
// and extrapolates it by the horizon.
type LinearTrend struct{ *fittedSeries }

// NewLinearTrend creates the linear trend forecaster.
func NewLinearTrend() *LinearTrend {
	return &LinearTrend{newFittedSeries()}
}

func (m *LinearTrend) Describe() Description {
	return Description{ID: ModelTrend, Kind: "linear_trend", MinHistory: 2}
}

func (m *LinearTrend) Fit(stationID string, history []*model.Sample) {
	m.fit(stationID, history)
}

func (m *LinearTrend) Predict(stationID, variable string, horizon int) (float64, error) {
	vals := m.values(stationID, variable)
	n := len(vals)
	if n < 2 {
		return 0, unavailable("%s: need 2 points for %s/%s", ModelTrend, stationID, variable)
	}

	// OLS over x = 0..n-1.
	var sumX, sumY, sumXY, sumXX float64
	for i, y := range vals {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	fn := float64(n)
	denom := fn*sumXX - sumX*sumX
	if denom == 0 {
		return vals[n-1], nil
	}
	slope := (fn*sumXY - sumX*sumY) / denom
	intercept := (sumY - slope*sumX) / fn
	return intercept + slope*float64(n-1+horizon), nil
}

// SeasonalNaive repeats the value observed one period earlier, where
// the period is the number of samples spanning 24 h at the series'
// observed cadence.
type SeasonalNaive struct{ *fittedSeries }

// NewSeasonalNaive creates the seasonal-naive forecaster.
func NewSeasonalNaive() *SeasonalNaive {
	return &SeasonalNaive{newFittedSeries()}
}

func (m *SeasonalNaive) Describe() Description {
	return Description{ID: ModelSeasonal, Kind: "seasonal_naive", MinHistory: 2}
}

func (m *SeasonalNaive) Fit(stationID string, history []*model.Sample) {
	m.fit(stationID, history)
}

func (m *SeasonalNaive) Predict(stationID, variable string, horizon int) (float64, error) {
	m.mu.RLock()
	history := m.byStation[stationID]
	m.mu.RUnlock()
	if len(history) < 2 {
		return 0, unavailable("%s: need 2 points for %s/%s", ModelSeasonal, stationID, variable)
	}

	cadence := history[1].Timestamp.Sub(history[0].Timestamp)
	if cadence <= 0 {
		return 0, unavailable("%s: non-advancing history for %s", ModelSeasonal, stationID)
	}
	period := int((24 * 60 * 60) / cadence.Seconds())
	if period < 1 {
		period = 1
	}

	vals := series(history, variable)
	if len(vals) == 0 {
		return 0, unavailable("%s: no values for %s/%s", ModelSeasonal, stationID, variable)
	}
	// The step `horizon` ahead of the series end corresponds to index
	// len+horizon-1; reach back one period from there.
	idx := len(vals) + horizon - 1 - period
	for idx >= len(vals) {
		idx -= period
	}
	if idx < 0 {
		return vals[len(vals)-1], nil
	}
	return vals[idx], nil
}
