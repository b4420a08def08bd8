// Agromet - Agricultural Telemetry and Decision Pipeline for Quillota
// Copyright 2026 J. Cortes (jcortesq)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcortesq/agromet

// Package validate gates raw samples before they enter the store.
//
// Three check families run in order: per-field range checks, cross-field
// consistency checks, and per-station temperature continuity. Range
// violations drop the offending field and cost 0.1 quality; cross-field
// and continuity violations cost 0.2. A sample starts
// at quality 1.0 and is accepted while quality stays at or above the
// configured threshold (inclusive).
package validate

import (
	"math"
	"sync"

	"github.com/jcortesq/agromet/internal/config"
	"github.com/jcortesq/agromet/internal/enrich"
	"github.com/jcortesq/agromet/internal/logging"
	"github.com/jcortesq/agromet/internal/model"
)

// Quality penalties per check family.
const (
	fieldPenalty = 0.1
	crossPenalty = 0.2

	// maxTempJumpC bounds |Δtemperature| between consecutive samples
	// of one station.
	maxTempJumpC = 10.0
)

// Field bounds. Violating values are dropped, not clamped.
type fieldBound struct {
	name     string
	min, max float64
	field    func(*model.Sample) **float64
}

var fieldBounds = []fieldBound{
	{"temperature", -20, 55, func(s *model.Sample) **float64 { return &s.Temperature }},
	{"humidity", 0, 100, func(s *model.Sample) **float64 { return &s.Humidity }},
	{"pressure", 900, 1100, func(s *model.Sample) **float64 { return &s.Pressure }},
	{"wind_speed", 0, math.MaxFloat64, func(s *model.Sample) **float64 { return &s.WindSpeed }},
	{"wind_direction", 0, 360, func(s *model.Sample) **float64 { return &s.WindDirection }},
	{"solar_radiation", 0, math.MaxFloat64, func(s *model.Sample) **float64 { return &s.SolarRadiation }},
}

// Result partitions one validated batch.
type Result struct {
	Accepted []*model.Sample
	Rejected []*model.Sample
}

// Validator applies the quality policy. It carries per-station state
// for the continuity check, so one Validator instance must see each
// station's samples in order.
type Validator struct {
	threshold float64

	mu       sync.Mutex
	lastTemp map[string]float64
}

// New creates a Validator with the configured acceptance threshold.
func New(cfg config.ValidatorConfig) *Validator {
	return &Validator{
		threshold: cfg.QualityThreshold,
		lastTemp:  make(map[string]float64),
	}
}

// ValidateBatch checks samples in order and partitions them into
// accepted and rejected. Accepted samples carry their degraded quality
// score and the names of the checks they failed.
func (v *Validator) ValidateBatch(samples []*model.Sample) Result {
	var res Result
	for _, s := range samples {
		if v.ValidateSample(s) {
			res.Accepted = append(res.Accepted, s)
		} else {
			res.Rejected = append(res.Rejected, s)
			logging.Debug().
				Str("station_id", s.StationID).
				Time("ts", s.Timestamp).
				Float64("quality", s.Quality).
				Strs("flags", s.QualityFlags).
				Msg("Sample rejected by quality gate")
		}
	}
	return res
}

// ValidateSample mutates the sample in place (dropping bad fields,
// degrading quality, attaching flags) and reports acceptance.
func (v *Validator) ValidateSample(s *model.Sample) bool {
	s.Quality = 1.0

	// Cross-field checks see the values as reported; range checks may
	// drop the fields afterwards.
	origTemp, origHum := s.Temperature, s.Humidity

	for _, b := range fieldBounds {
		ptr := b.field(s)
		if *ptr == nil {
			continue
		}
		val := **ptr
		if math.IsNaN(val) || math.IsInf(val, 0) || val < b.min || val > b.max {
			*ptr = nil
			s.Quality -= fieldPenalty
			s.Flag("range_" + b.name)
		}
	}

	// Negative precipitation is physically inconsistent rather than
	// merely out of range.
	if model.Has(s.Precipitation) && *s.Precipitation < 0 {
		s.Precipitation = nil
		s.Quality -= crossPenalty
		s.Flag("cross_precipitation")
	}

	// The dew point implied by (temperature, humidity) as reported
	// cannot exceed the air temperature; when it does, the pair is
	// inconsistent and humidity is the usual culprit.
	if model.Has(origTemp) && model.Has(origHum) {
		if enrich.DewPoint(*origTemp, *origHum) > *origTemp+1e-9 {
			s.Humidity = nil
			s.Quality -= crossPenalty
			s.Flag("cross_dew_point")
		}
	}

	if model.Has(s.Temperature) {
		v.mu.Lock()
		if last, ok := v.lastTemp[s.StationID]; ok && math.Abs(*s.Temperature-last) > maxTempJumpC {
			s.Quality -= crossPenalty
			s.Flag("continuity_temperature")
		}
		v.lastTemp[s.StationID] = *s.Temperature
		v.mu.Unlock()
	}

	if s.Quality < 0 {
		s.Quality = 0
	}
	return s.Quality >= v.threshold
}

// ValidateReadings drops structurally invalid sensor readings and
// returns the rest in order.
func (v *Validator) ValidateReadings(readings []*model.Reading) []*model.Reading {
	out := readings[:0:0]
	for _, r := range readings {
		if err := r.Validate(); err != nil {
			logging.Debug().Err(err).Str("sensor_id", r.SensorID).Msg("Reading dropped")
			continue
		}
		out = append(out, r)
	}
	return out
}
