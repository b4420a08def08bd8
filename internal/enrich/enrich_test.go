// Agromet - Agricultural Telemetry and Decision Pipeline for Quillota
// Copyright 2026 J. Cortes (jcortesq)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcortesq/agromet

package enrich

import (
	"math"
	"testing"
	"time"

	"github.com/jcortesq/agromet/internal/catalog"
	"github.com/jcortesq/agromet/internal/model"
)

func TestDewPoint(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		temp float64
		rh   float64
		want float64 // within 0.1
	}{
		{"saturated", 10, 100, 10},
		{"mild", 20, 60, 12.0},
		{"dry", 30, 20, 4.6},
		{"cold humid", 2, 90, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := DewPoint(tt.temp, tt.rh)
			if math.Abs(got-tt.want) > 0.1 {
				t.Fatalf("DewPoint(%v, %v) = %v, want ~%v", tt.temp, tt.rh, got, tt.want)
			}
			if got > tt.temp+1e-9 {
				t.Fatalf("DewPoint(%v, %v) = %v exceeds temperature", tt.temp, tt.rh, got)
			}
		})
	}
}

func TestLinearIndices(t *testing.T) {
	t.Parallel()
	if got := HeatIndex(30, 70); got != 32 {
		t.Fatalf("HeatIndex(30, 70) = %v, want 32", got)
	}
	if got := HeatIndex(30, 50); got != 30 {
		t.Fatalf("HeatIndex(30, 50) = %v, want 30", got)
	}
	if got := ColdIndex(5, 4); got != 4 {
		t.Fatalf("ColdIndex(5, 4) = %v, want 4", got)
	}
	if got := ColdIndex(5, 0); got != 5 {
		t.Fatalf("ColdIndex(5, 0) = %v, want 5", got)
	}
}

func TestGrowingDegreeUnits(t *testing.T) {
	t.Parallel()
	if got := GrowingDegreeUnits(18, 10); got != 8 {
		t.Fatalf("GDU(18, 10) = %v, want 8", got)
	}
	if got := GrowingDegreeUnits(5, 10); got != 0 {
		t.Fatalf("GDU(5, 10) = %v, want 0", got)
	}
}

func TestWaterDemand(t *testing.T) {
	t.Parallel()
	dry := WaterDemand(28, 30, 0)
	humid := WaterDemand(28, 85, 0)
	if dry <= humid {
		t.Fatalf("demand should fall with humidity: dry=%v humid=%v", dry, humid)
	}
	rained := WaterDemand(28, 30, 50)
	if rained != 0 {
		t.Fatalf("heavy recent rain should zero demand, got %v", rained)
	}
	if cold := WaterDemand(-10, 50, 0); cold < 0 {
		t.Fatalf("demand must never be negative, got %v", cold)
	}
}

func newTestEnricher(t *testing.T) *Enricher {
	t.Helper()
	cat, err := catalog.New(catalog.DefaultData())
	if err != nil {
		t.Fatalf("catalog.New: %v", err)
	}
	return New(cat)
}

func TestEnrichSample(t *testing.T) {
	t.Parallel()
	e := newTestEnricher(t)
	ts := time.Date(2026, 6, 15, 3, 0, 0, 0, time.UTC)

	s := &model.Sample{
		StationID:   "quillota_centro",
		Timestamp:   ts,
		Temperature: model.Float(20),
		Humidity:    model.Float(60),
		WindSpeed:   model.Float(4),
		Quality:     1.0,
		Source:      "synthetic",
	}
	out := e.Enrich(s)

	if out.DewPoint == nil || out.HeatIndex == nil || out.ColdIndex == nil {
		t.Fatalf("missing derived indices: %+v", out)
	}
	if *out.HeatIndex != 21 {
		t.Fatalf("heat index = %v, want 21", *out.HeatIndex)
	}
	if *out.ColdIndex != 19 {
		t.Fatalf("cold index = %v, want 19", *out.ColdIndex)
	}
	if out.CropID == "" || out.GrowingDegreeUnits == nil {
		t.Fatalf("missing crop context: %+v", out)
	}
	if out.StationID != s.StationID || !out.Timestamp.Equal(ts) {
		t.Fatalf("sample identity not preserved: %+v", out)
	}
}

func TestEnrichDeterministic(t *testing.T) {
	t.Parallel()
	ts := time.Date(2026, 6, 15, 3, 0, 0, 0, time.UTC)
	s := &model.Sample{
		StationID:   "la_cruz",
		Timestamp:   ts,
		Temperature: model.Float(15),
		Humidity:    model.Float(70),
		Quality:     1.0,
		Source:      "synthetic",
	}

	a := newTestEnricher(t).Enrich(s)
	b := newTestEnricher(t).Enrich(s)
	if *a.DewPoint != *b.DewPoint || *a.WaterDemand != *b.WaterDemand {
		t.Fatalf("enrichment not deterministic: %+v vs %+v", a, b)
	}
}

func TestEnrichAbsentFields(t *testing.T) {
	t.Parallel()
	e := newTestEnricher(t)
	s := &model.Sample{
		StationID: "nogales",
		Timestamp: time.Date(2026, 6, 15, 3, 0, 0, 0, time.UTC),
		Humidity:  model.Float(60),
		Quality:   0.9,
		Source:    "synthetic",
	}
	out := e.Enrich(s)
	if out.DewPoint != nil || out.HeatIndex != nil || out.GrowingDegreeUnits != nil {
		t.Fatalf("indices computed without temperature: %+v", out)
	}
}

func TestPrecipWindowReducesDemand(t *testing.T) {
	t.Parallel()
	e := newTestEnricher(t)
	base := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

	mk := func(ts time.Time, precip float64) *model.Sample {
		return &model.Sample{
			StationID:     "hijuelas",
			Timestamp:     ts,
			Temperature:   model.Float(28),
			Humidity:      model.Float(40),
			Precipitation: model.Float(precip),
			Quality:       1.0,
			Source:        "synthetic",
		}
	}

	first := e.Enrich(mk(base, 20)) // rain recorded after demand is computed
	second := e.Enrich(mk(base.Add(time.Hour), 0))
	if *second.WaterDemand >= *first.WaterDemand {
		t.Fatalf("recent rain did not reduce demand: %v -> %v",
			*first.WaterDemand, *second.WaterDemand)
	}

	// Beyond the 24 h window the rain ages out.
	third := e.Enrich(mk(base.Add(26*time.Hour), 0))
	if *third.WaterDemand != *first.WaterDemand {
		t.Fatalf("aged-out rain still affects demand: %v vs %v",
			*third.WaterDemand, *first.WaterDemand)
	}
}
