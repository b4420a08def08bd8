// Agromet - Agricultural Telemetry and Decision Pipeline for Quillota
// Copyright 2026 J. Cortes (jcortesq)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcortesq/agromet

// Package rules evaluates the fixed alert catalog against enriched
// samples and sensor readings. Evaluation is synchronous and performs
// no writes: the caller applies the returned outcome to the store and
// the publisher.
//
// Rule order is fixed and first-match-wins per station and tick:
// frost_critical, frost_warning, heat_extreme, wind_strong,
// excess_humidity, drought, then sensor_fault from readings.
package rules

import (
	"fmt"
	"sync"
	"time"

	"github.com/jcortesq/agromet/internal/catalog"
	"github.com/jcortesq/agromet/internal/config"
	"github.com/jcortesq/agromet/internal/logging"
	"github.com/jcortesq/agromet/internal/metrics"
	"github.com/jcortesq/agromet/internal/model"
)

// Fixed rule thresholds that are not crop-specific.
const (
	heatExtremeC      = 35.0
	windStrongMS      = 20.0
	excessHumidityPct = 90.0
	humidityRunLength = 3
	droughtWindowDays = 7
	droughtLimitMM    = 2.0
	batteryFaultPct   = 10.0
)

// Outcome is one evaluation's effect: alerts to append and older
// active alerts to close (superseded by a newer emission of the same
// station/kind pair).
type Outcome struct {
	Alerts    []*model.Alert
	Supersede map[string]time.Time // alert id -> resolved_at
}

func (o *Outcome) empty() bool {
	return len(o.Alerts) == 0 && len(o.Supersede) == 0
}

// Merge folds another outcome into this one.
func (o *Outcome) Merge(other *Outcome) {
	o.Alerts = append(o.Alerts, other.Alerts...)
	for id, at := range other.Supersede {
		if o.Supersede == nil {
			o.Supersede = make(map[string]time.Time)
		}
		o.Supersede[id] = at
	}
}

type stationKind struct {
	station string
	kind    model.AlertKind
}

type precipPoint struct {
	ts time.Time
	mm float64
}

// Engine holds the sliding rule state: cooling windows, currently
// active alert per station/kind, humidity runs and precipitation
// windows.
type Engine struct {
	catalog    *catalog.Catalog
	cooling    time.Duration
	actions    map[model.AlertKind]string
	messagesES map[model.AlertKind]string
	actionsES  map[model.AlertKind]string

	mu          sync.Mutex
	lastEmit    map[stationKind]time.Time
	activeAlert map[stationKind]string
	humidityRun map[string]int
	precip      map[string][]precipPoint
	firstSeen   map[string]time.Time
}

// NewEngine builds the rule engine against the catalog.
func NewEngine(cfg config.AlertsConfig, cat *catalog.Catalog) *Engine {
	return &Engine{
		catalog:     cat,
		cooling:     time.Duration(cfg.CoolingWindowSec) * time.Second,
		actions:     buildTable(defaultActions, cfg.Actions),
		messagesES:  buildTable(defaultMessagesES, cfg.MessagesES),
		actionsES:   buildTable(defaultActionsES, cfg.ActionsES),
		lastEmit:    make(map[stationKind]time.Time),
		activeAlert: make(map[stationKind]string),
		humidityRun: make(map[string]int),
		precip:      make(map[string][]precipPoint),
		firstSeen:   make(map[string]time.Time),
	}
}

// Prime seeds the engine's bookkeeping from alerts that were still
// active when the process last stopped, so supersession and the cooling
// window survive a restart. Newest-first input wins ties per
// station/kind, which matches the store's active-alert ordering.
func (e *Engine) Prime(alerts []*model.Alert) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, a := range alerts {
		key := stationKind{a.StationID, a.Kind}
		if _, ok := e.activeAlert[key]; ok {
			continue
		}
		e.activeAlert[key] = a.AlertID
		e.lastEmit[key] = a.Timestamp
	}
}

// Evaluate runs the ordered weather rules against one enriched sample.
// At most one weather alert is produced per station per call.
func (e *Engine) Evaluate(s *model.EnrichedSample, now time.Time) *Outcome {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.trackState(s)

	out := &Outcome{}
	kind, severity, trigger, threshold, detail := e.matchWeatherRule(s)
	if kind == "" {
		return out
	}
	e.emit(out, kind, severity, s.StationID, s.CropID, trigger, threshold, detail, now)
	if !out.empty() {
		logging.Info().
			Str("station_id", s.StationID).
			Str("kind", string(kind)).
			Str("severity", string(severity)).
			Float64("trigger", trigger).
			Msg("Alert raised")
	}
	return out
}

// EvaluateReadings runs the sensor_fault rule over a tick's readings.
func (e *Engine) EvaluateReadings(readings []*model.Reading, now time.Time) *Outcome {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := &Outcome{}
	for _, r := range readings {
		sensor, err := e.catalog.Sensor(r.SensorID)
		if err != nil {
			continue
		}
		var detail string
		switch {
		case r.Battery < batteryFaultPct:
			detail = fmt.Sprintf("sensor %s battery at %.0f%%", r.SensorID, r.Battery)
		case r.Value < sensor.NominalMin || r.Value > sensor.NominalMax:
			detail = fmt.Sprintf("sensor %s reading %.1f outside nominal [%.1f, %.1f]",
				r.SensorID, r.Value, sensor.NominalMin, sensor.NominalMax)
		default:
			continue
		}
		e.emit(out, model.AlertSensorFault, model.SeverityWarning,
			r.StationID, "", r.Value, sensor.NominalMax, detail, now)
	}
	return out
}

// ValidPredictions filters the predictions the engine (and the
// irrigation controller downstream) may consume: issued at or before
// the tick, confidence within [0,1].
func (e *Engine) ValidPredictions(preds []*model.Prediction, tick time.Time) []*model.Prediction {
	out := preds[:0:0]
	for _, p := range preds {
		if p.IssuedAt.After(tick) || p.Confidence < 0 || p.Confidence > 1 {
			logging.Warn().
				Str("model_id", p.ModelID).
				Time("issued_at", p.IssuedAt).
				Float64("confidence", p.Confidence).
				Msg("Prediction rejected by rule engine")
			continue
		}
		out = append(out, p)
	}
	return out
}

// trackState updates humidity runs and precipitation windows. Caller
// holds e.mu.
func (e *Engine) trackState(s *model.EnrichedSample) {
	if model.Has(s.Humidity) && *s.Humidity >= excessHumidityPct {
		e.humidityRun[s.StationID]++
	} else {
		e.humidityRun[s.StationID] = 0
	}

	if _, ok := e.firstSeen[s.StationID]; !ok {
		e.firstSeen[s.StationID] = s.Timestamp
	}
	cutoff := s.Timestamp.Add(-droughtWindowDays * 24 * time.Hour)
	kept := e.precip[s.StationID][:0]
	for _, p := range e.precip[s.StationID] {
		if !p.ts.Before(cutoff) {
			kept = append(kept, p)
		}
	}
	if model.Has(s.Precipitation) && *s.Precipitation > 0 {
		kept = append(kept, precipPoint{ts: s.Timestamp, mm: *s.Precipitation})
	}
	e.precip[s.StationID] = kept
}

// matchWeatherRule returns the first matching rule's emission, or an
// empty kind. Caller holds e.mu.
func (e *Engine) matchWeatherRule(s *model.EnrichedSample) (model.AlertKind, model.Severity, float64, float64, string) {
	var crop *catalog.Crop
	if s.CropID != "" {
		crop, _ = e.catalog.Crop(s.CropID)
	}

	if model.Has(s.Temperature) && crop != nil && crop.SensitiveIn(s.Timestamp.Month()) {
		t := *s.Temperature
		if t <= crop.FrostCritical {
			return model.AlertFrost, model.SeverityCritical, t, crop.FrostCritical,
				fmt.Sprintf("frost conditions for %s at %s", crop.ID, s.StationID)
		}
		if t <= crop.FrostWarning {
			return model.AlertFrost, model.SeverityHigh, t, crop.FrostWarning,
				fmt.Sprintf("approaching frost for %s at %s", crop.ID, s.StationID)
		}
	}

	if model.Has(s.Temperature) && *s.Temperature >= heatExtremeC {
		return model.AlertHeatExtreme, model.SeverityHigh, *s.Temperature, heatExtremeC,
			"extreme heat at " + s.StationID
	}

	if model.Has(s.WindSpeed) && *s.WindSpeed >= windStrongMS {
		return model.AlertWindStrong, model.SeverityHigh, *s.WindSpeed, windStrongMS,
			"strong wind at " + s.StationID
	}

	if e.humidityRun[s.StationID] >= humidityRunLength {
		return model.AlertExcessHumidity, model.SeverityWarning, *s.Humidity, excessHumidityPct,
			"sustained excess humidity at " + s.StationID
	}

	if e.droughtCondition(s) {
		return model.AlertDrought, model.SeverityWarning, e.precipSum(s.StationID), droughtLimitMM,
			"rolling precipitation below drought limit at " + s.StationID
	}

	return "", "", 0, 0, ""
}

func (e *Engine) droughtCondition(s *model.EnrichedSample) bool {
	st, err := e.catalog.Station(s.StationID)
	if err != nil {
		return false
	}
	region, err := e.catalog.Region(st.RegionID)
	if err != nil || region.Climate != catalog.ClimateMediterranean {
		return false
	}
	// Require a full window of observation before calling drought.
	if s.Timestamp.Sub(e.firstSeen[s.StationID]) < droughtWindowDays*24*time.Hour {
		return false
	}
	return e.precipSum(s.StationID) < droughtLimitMM
}

func (e *Engine) precipSum(stationID string) float64 {
	var sum float64
	for _, p := range e.precip[stationID] {
		sum += p.mm
	}
	return sum
}

// emit appends one alert to the outcome, honoring the cooling window
// and superseding an older active alert of the same station/kind.
// Caller holds e.mu.
func (e *Engine) emit(out *Outcome, kind model.AlertKind, severity model.Severity,
	stationID, cropID string, trigger, threshold float64, message string, now time.Time) {

	key := stationKind{stationID, kind}
	if last, ok := e.lastEmit[key]; ok && now.Sub(last) < e.cooling {
		metrics.AlertsSuppressed.WithLabelValues(string(kind)).Inc()
		return
	}

	a := model.NewAlert(kind, severity, stationID, now)
	a.CropID = cropID
	a.TriggerValue = trigger
	a.Threshold = threshold
	a.Message = message
	a.RecommendedAction = e.actions[kind]
	a.MessageES = e.messagesES[kind]
	a.RecommendedActionES = e.actionsES[kind]

	if prev, ok := e.activeAlert[key]; ok {
		if out.Supersede == nil {
			out.Supersede = make(map[string]time.Time)
		}
		out.Supersede[prev] = now
	}
	e.activeAlert[key] = a.AlertID
	e.lastEmit[key] = now

	out.Alerts = append(out.Alerts, a)
	metrics.AlertsEmitted.WithLabelValues(string(kind), string(severity)).Inc()
}

// Resolve clears the engine's active-alert bookkeeping for an alert
// closed outside supersession.
func (e *Engine) Resolve(stationID string, kind model.AlertKind) {
	e.mu.Lock()
	delete(e.activeAlert, stationKind{stationID, kind})
	e.mu.Unlock()
}
