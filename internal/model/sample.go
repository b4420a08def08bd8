// Agromet - Agricultural Telemetry and Decision Pipeline for Quillota
// Copyright 2026 J. Cortes (jcortesq)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcortesq/agromet

// Package model defines the canonical entities flowing through the
// telemetry pipeline: meteorological samples, sensor readings, enriched
// samples, predictions, alerts, irrigation events and stage metrics.
//
// All timestamps are UTC. Numeric fields that may be dropped by the
// validator are pointers; a nil pointer means "explicitly absent".
// Wire encoding is JSON (goccy/go-json) with RFC 3339 timestamps.
package model

import (
	"fmt"
	"math"
	"time"
)

// SampleSource identifies where a sample came from.
const (
	SourceSynthetic = "synthetic"
	SourceFeed      = "feed"
)

// Sample is one atomic meteorological observation at a station.
// Timestamps are strictly increasing per station; the store enforces this.
type Sample struct {
	StationID      string    `json:"station_id"`
	Timestamp      time.Time `json:"timestamp"`
	Temperature    *float64  `json:"temperature,omitempty"`     // degrees C
	Humidity       *float64  `json:"humidity,omitempty"`        // percent, 0-100
	Pressure       *float64  `json:"pressure,omitempty"`        // hPa
	WindSpeed      *float64  `json:"wind_speed,omitempty"`      // m/s
	WindDirection  *float64  `json:"wind_direction,omitempty"`  // degrees, 0-360
	Precipitation  *float64  `json:"precipitation,omitempty"`   // mm
	SolarRadiation *float64  `json:"solar_radiation,omitempty"` // W/m2
	Quality        float64   `json:"quality"`                   // 0.0-1.0
	QualityFlags   []string  `json:"quality_flags,omitempty"`   // failed check names
	Source         string    `json:"source"`
}

// Float returns a pointer to v. Convenience for building samples.
func Float(v float64) *float64 { return &v }

// Value returns the pointed-to value, or NaN when the field is absent.
func Value(p *float64) float64 {
	if p == nil {
		return math.NaN()
	}
	return *p
}

// Has reports whether the field is present and finite.
func Has(p *float64) bool {
	return p != nil && !math.IsNaN(*p) && !math.IsInf(*p, 0)
}

// Key returns the (station, timestamp) identity of the sample.
func (s *Sample) Key() string {
	return fmt.Sprintf("%s/%d", s.StationID, s.Timestamp.UnixNano())
}

// Validate checks structural requirements common to both ingest modes.
// Field-level range checks are the validator's job, not Validate's.
func (s *Sample) Validate() error {
	if s.StationID == "" {
		return fmt.Errorf("sample missing station_id")
	}
	if s.Timestamp.IsZero() {
		return fmt.Errorf("sample missing timestamp")
	}
	for name, p := range map[string]*float64{
		"temperature":     s.Temperature,
		"humidity":        s.Humidity,
		"pressure":        s.Pressure,
		"wind_speed":      s.WindSpeed,
		"wind_direction":  s.WindDirection,
		"precipitation":   s.Precipitation,
		"solar_radiation": s.SolarRadiation,
	} {
		if p != nil && (math.IsNaN(*p) || math.IsInf(*p, 0)) {
			return fmt.Errorf("sample field %s is not finite", name)
		}
	}
	return nil
}

// Flag records a failed check name on the sample, without duplicates.
func (s *Sample) Flag(check string) {
	for _, f := range s.QualityFlags {
		if f == check {
			return
		}
	}
	s.QualityFlags = append(s.QualityFlags, check)
}

// ReadingKind enumerates supported sensor kinds.
type ReadingKind string

const (
	ReadingSoilMoisture    ReadingKind = "soil_moisture"
	ReadingSoilTemperature ReadingKind = "soil_temperature"
	ReadingWaterPressure   ReadingKind = "water_pressure"
	ReadingLeafWetness     ReadingKind = "leaf_wetness"
)

// ValidReadingKind reports whether k is a recognized sensor kind.
func ValidReadingKind(k ReadingKind) bool {
	switch k {
	case ReadingSoilMoisture, ReadingSoilTemperature, ReadingWaterPressure, ReadingLeafWetness:
		return true
	}
	return false
}

// Reading is one atomic sensor observation. A sensor belongs to exactly
// one station; the station is resolved through the catalog.
type Reading struct {
	SensorID  string      `json:"sensor_id"`
	StationID string      `json:"station_id"`
	Kind      ReadingKind `json:"kind"`
	Timestamp time.Time   `json:"timestamp"`
	Value     float64     `json:"value"`
	Unit      string      `json:"unit"`
	Battery   float64     `json:"battery"` // percent, 0-100
	Signal    float64     `json:"signal"`  // percent, 0-100
}

// Validate checks structural requirements of a reading.
func (r *Reading) Validate() error {
	if r.SensorID == "" {
		return fmt.Errorf("reading missing sensor_id")
	}
	if !ValidReadingKind(r.Kind) {
		return fmt.Errorf("reading has unknown kind %q", r.Kind)
	}
	if r.Timestamp.IsZero() {
		return fmt.Errorf("reading missing timestamp")
	}
	return nil
}
