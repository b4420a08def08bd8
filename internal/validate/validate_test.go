// Agromet - Agricultural Telemetry and Decision Pipeline for Quillota
// Copyright 2026 J. Cortes (jcortesq)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcortesq/agromet

package validate

import (
	"math"
	"slices"
	"testing"
	"time"

	"github.com/jcortesq/agromet/internal/config"
	"github.com/jcortesq/agromet/internal/model"
)

func newTestValidator() *Validator {
	return New(config.ValidatorConfig{QualityThreshold: 0.5})
}

func cleanSample(station string, ts time.Time) *model.Sample {
	return &model.Sample{
		StationID:      station,
		Timestamp:      ts,
		Temperature:    model.Float(20),
		Humidity:       model.Float(60),
		Pressure:       model.Float(1013),
		WindSpeed:      model.Float(3),
		WindDirection:  model.Float(180),
		Precipitation:  model.Float(0),
		SolarRadiation: model.Float(450),
		Source:         "synthetic",
	}
}

func TestCleanSamplePasses(t *testing.T) {
	t.Parallel()
	v := newTestValidator()
	s := cleanSample("quillota_centro", time.Now().UTC())
	if !v.ValidateSample(s) {
		t.Fatalf("clean sample rejected: quality=%v flags=%v", s.Quality, s.QualityFlags)
	}
	if s.Quality != 1.0 || len(s.QualityFlags) != 0 {
		t.Fatalf("clean sample degraded: quality=%v flags=%v", s.Quality, s.QualityFlags)
	}
}

func TestRangeChecksDropField(t *testing.T) {
	t.Parallel()
	ts := time.Now().UTC()
	tests := []struct {
		name    string
		mutate  func(*model.Sample)
		flag    string
		dropped func(*model.Sample) *float64
	}{
		{
			"temperature too cold",
			func(s *model.Sample) { s.Temperature = model.Float(-25) },
			"range_temperature",
			func(s *model.Sample) *float64 { return s.Temperature },
		},
		{
			"temperature too hot",
			func(s *model.Sample) { s.Temperature = model.Float(60) },
			"range_temperature",
			func(s *model.Sample) *float64 { return s.Temperature },
		},
		{
			"pressure below band",
			func(s *model.Sample) { s.Pressure = model.Float(850) },
			"range_pressure",
			func(s *model.Sample) *float64 { return s.Pressure },
		},
		{
			"negative wind speed",
			func(s *model.Sample) { s.WindSpeed = model.Float(-2) },
			"range_wind_speed",
			func(s *model.Sample) *float64 { return s.WindSpeed },
		},
		{
			"wind direction over 360",
			func(s *model.Sample) { s.WindDirection = model.Float(400) },
			"range_wind_direction",
			func(s *model.Sample) *float64 { return s.WindDirection },
		},
		{
			"NaN temperature",
			func(s *model.Sample) { s.Temperature = model.Float(math.NaN()) },
			"range_temperature",
			func(s *model.Sample) *float64 { return s.Temperature },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			v := newTestValidator()
			s := cleanSample("quillota_centro", ts)
			tt.mutate(s)
			if !v.ValidateSample(s) {
				t.Fatalf("single range failure should still pass: quality=%v", s.Quality)
			}
			if math.Abs(s.Quality-0.9) > 1e-9 {
				t.Fatalf("quality = %v, want 0.9", s.Quality)
			}
			if !slices.Contains(s.QualityFlags, tt.flag) {
				t.Fatalf("flags = %v, want %s", s.QualityFlags, tt.flag)
			}
			if tt.dropped(s) != nil {
				t.Fatalf("violating field not dropped")
			}
		})
	}
}

func TestCrossFieldChecks(t *testing.T) {
	t.Parallel()
	ts := time.Now().UTC()

	t.Run("negative precipitation", func(t *testing.T) {
		t.Parallel()
		v := newTestValidator()
		s := cleanSample("quillota_centro", ts)
		s.Precipitation = model.Float(-3)
		if !v.ValidateSample(s) {
			t.Fatal("sample rejected")
		}
		if math.Abs(s.Quality-0.8) > 1e-9 {
			t.Fatalf("quality = %v, want 0.8", s.Quality)
		}
		if s.Precipitation != nil {
			t.Fatal("negative precipitation not dropped")
		}
		if !slices.Contains(s.QualityFlags, "cross_precipitation") {
			t.Fatalf("flags = %v", s.QualityFlags)
		}
	})

	t.Run("implied dew point above temperature", func(t *testing.T) {
		t.Parallel()
		v := newTestValidator()
		s := cleanSample("quillota_centro", ts)
		// Supersaturated humidity fails both the range check and the
		// consistency check against the reported values.
		s.Humidity = model.Float(150)
		if !v.ValidateSample(s) {
			t.Fatal("sample rejected")
		}
		if math.Abs(s.Quality-0.7) > 1e-9 {
			t.Fatalf("quality = %v, want 0.7", s.Quality)
		}
		if s.Humidity != nil {
			t.Fatal("humidity not dropped")
		}
		if !slices.Contains(s.QualityFlags, "cross_dew_point") ||
			!slices.Contains(s.QualityFlags, "range_humidity") {
			t.Fatalf("flags = %v", s.QualityFlags)
		}
	})
}

func TestContinuityPenalty(t *testing.T) {
	t.Parallel()
	v := newTestValidator()
	ts := time.Now().UTC()

	a := cleanSample("la_cruz", ts)
	a.Temperature = model.Float(10)
	if !v.ValidateSample(a) {
		t.Fatal("first sample rejected")
	}

	b := cleanSample("la_cruz", ts.Add(time.Minute))
	b.Temperature = model.Float(25) // 15 degree jump
	if !v.ValidateSample(b) {
		t.Fatal("jumpy sample rejected")
	}
	if math.Abs(b.Quality-0.8) > 1e-9 {
		t.Fatalf("quality = %v, want 0.8", b.Quality)
	}
	if !slices.Contains(b.QualityFlags, "continuity_temperature") {
		t.Fatalf("flags = %v", b.QualityFlags)
	}
	if b.Temperature == nil {
		t.Fatal("continuity penalty must not drop the field")
	}

	// Other stations are unaffected.
	c := cleanSample("nogales", ts.Add(time.Minute))
	c.Temperature = model.Float(25)
	if !v.ValidateSample(c) || c.Quality != 1.0 {
		t.Fatalf("independent station penalized: quality=%v flags=%v", c.Quality, c.QualityFlags)
	}
}

func TestQualityBoundaryInclusive(t *testing.T) {
	t.Parallel()
	v := newTestValidator()
	s := cleanSample("quillota_centro", time.Now().UTC())
	// 0.3 from supersaturated humidity (range + cross), 0.1 pressure,
	// 0.1 wind direction: quality lands exactly on the threshold.
	s.Humidity = model.Float(150)
	s.Pressure = model.Float(800)
	s.WindDirection = model.Float(400)

	if !v.ValidateSample(s) {
		t.Fatalf("boundary sample rejected: quality=%v flags=%v", s.Quality, s.QualityFlags)
	}
	if math.Abs(s.Quality-0.5) > 1e-9 {
		t.Fatalf("quality = %v, want 0.5", s.Quality)
	}
}

func TestRejectionBelowThreshold(t *testing.T) {
	t.Parallel()
	v := newTestValidator()
	s := cleanSample("quillota_centro", time.Now().UTC())
	s.Humidity = model.Float(150)
	s.Pressure = model.Float(800)
	s.WindDirection = model.Float(400)
	s.WindSpeed = model.Float(-5)

	if v.ValidateSample(s) {
		t.Fatalf("degraded sample accepted: quality=%v", s.Quality)
	}
	if math.Abs(s.Quality-0.4) > 1e-9 {
		t.Fatalf("quality = %v, want 0.4", s.Quality)
	}
}

func TestValidateBatchPreservesOrder(t *testing.T) {
	t.Parallel()
	v := newTestValidator()
	ts := time.Now().UTC()

	good1 := cleanSample("quillota_centro", ts)
	bad := cleanSample("la_calera", ts)
	bad.Humidity = model.Float(150)
	bad.Pressure = model.Float(800)
	bad.WindDirection = model.Float(400)
	bad.WindSpeed = model.Float(-5)
	good2 := cleanSample("quillota_centro", ts.Add(time.Minute))

	res := v.ValidateBatch([]*model.Sample{good1, bad, good2})
	if len(res.Accepted) != 2 || len(res.Rejected) != 1 {
		t.Fatalf("partition = %d/%d, want 2/1", len(res.Accepted), len(res.Rejected))
	}
	if res.Accepted[0] != good1 || res.Accepted[1] != good2 {
		t.Fatal("accepted order not preserved")
	}
	if res.Rejected[0] != bad {
		t.Fatal("rejected sample mismatch")
	}
}

func TestValidateReadings(t *testing.T) {
	t.Parallel()
	v := newTestValidator()
	ts := time.Now().UTC()

	ok := &model.Reading{
		SensorID: "qc_sm_01", StationID: "quillota_centro",
		Kind: model.ReadingSoilMoisture, Timestamp: ts,
		Value: 22, Unit: "%", Battery: 80, Signal: 70,
	}
	missing := &model.Reading{
		StationID: "quillota_centro",
		Kind:      model.ReadingSoilMoisture, Timestamp: ts,
		Value: 22, Unit: "%",
	}

	out := v.ValidateReadings([]*model.Reading{ok, missing})
	if len(out) != 1 || out[0] != ok {
		t.Fatalf("ValidateReadings = %v", out)
	}
}
