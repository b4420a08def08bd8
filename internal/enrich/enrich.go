// Agromet - Agricultural Telemetry and Decision Pipeline for Quillota
// Copyright 2026 J. Cortes (jcortesq)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcortesq/agromet

// Package enrich derives agronomic indices from validated samples: dew
// point, heat and cold indices, growing-degree-units and a water-demand
// proxy. Enrichment is deterministic: the same sample, catalog state
// and precipitation history always yield the same output.
package enrich

import (
	"math"
	"sync"
	"time"

	"github.com/jcortesq/agromet/internal/catalog"
	"github.com/jcortesq/agromet/internal/model"
)

// Magnus coefficients for dew point over water.
const (
	magnusA = 17.625
	magnusB = 243.04 // degrees C
)

// DewPoint computes the dew point in degrees C from air temperature and
// relative humidity using the Magnus formula.
func DewPoint(tempC, rhPct float64) float64 {
	if rhPct <= 0 {
		rhPct = 0.1 // log(0) guard; vanishing humidity, not absent
	}
	gamma := math.Log(rhPct/100) + magnusA*tempC/(magnusB+tempC)
	return magnusB * gamma / (magnusA - gamma)
}

// HeatIndex is a linear discomfort proxy around 50% humidity.
func HeatIndex(tempC, rhPct float64) float64 {
	return tempC + (rhPct-50)*0.1
}

// ColdIndex approximates wind chill with a square-root wind term.
func ColdIndex(tempC, windMS float64) float64 {
	if windMS < 0 {
		windMS = 0
	}
	return tempC - math.Sqrt(windMS)*0.5
}

// GrowingDegreeUnits accumulates thermal time above the crop base.
func GrowingDegreeUnits(tempC, baseC float64) float64 {
	return math.Max(0, tempC-baseC)
}

// WaterDemand estimates crop water demand in mm/day: a Blaney-Criddle
// style evapotranspiration term scaled by air dryness, offset by recent
// precipitation. Never negative.
func WaterDemand(tempC, rhPct, recentPrecipMM float64) float64 {
	et := 0.27 * (0.457*tempC + 8.128)
	dryness := 1 + (50-rhPct)/100
	if dryness < 0.5 {
		dryness = 0.5
	}
	return math.Max(0, et*dryness-recentPrecipMM)
}

type precipPoint struct {
	ts time.Time
	mm float64
}

// Enricher computes an EnrichedSample per accepted sample, exactly
// once. It tracks a rolling per-station precipitation window to feed
// the water-demand proxy.
type Enricher struct {
	catalog *catalog.Catalog
	window  time.Duration

	mu     sync.Mutex
	precip map[string][]precipPoint
}

// New creates an Enricher with a 24 h precipitation window.
func New(cat *catalog.Catalog) *Enricher {
	return &Enricher{
		catalog: cat,
		window:  24 * time.Hour,
		precip:  make(map[string][]precipPoint),
	}
}

// Enrich derives the index set for one sample. A crop context is taken
// from the first crop registered for the station's region, when any.
func (e *Enricher) Enrich(s *model.Sample) *model.EnrichedSample {
	out := &model.EnrichedSample{Sample: *s}

	recent := e.recordPrecip(s)

	if model.Has(s.Temperature) {
		t := *s.Temperature
		if model.Has(s.Humidity) {
			out.DewPoint = model.Float(DewPoint(t, *s.Humidity))
			out.HeatIndex = model.Float(HeatIndex(t, *s.Humidity))
			out.WaterDemand = model.Float(WaterDemand(t, *s.Humidity, recent))
		}
		if model.Has(s.WindSpeed) {
			out.ColdIndex = model.Float(ColdIndex(t, *s.WindSpeed))
		}
		if crop := e.cropFor(s.StationID); crop != nil {
			out.CropID = crop.ID
			out.GrowingDegreeUnits = model.Float(GrowingDegreeUnits(t, crop.BaseTemperature))
		}
	}

	return out
}

// EnrichBatch enriches samples in input order.
func (e *Enricher) EnrichBatch(samples []*model.Sample) []*model.EnrichedSample {
	out := make([]*model.EnrichedSample, 0, len(samples))
	for _, s := range samples {
		out = append(out, e.Enrich(s))
	}
	return out
}

func (e *Enricher) cropFor(stationID string) *catalog.Crop {
	crops, err := e.catalog.CropsFor(stationID)
	if err != nil || len(crops) == 0 {
		return nil
	}
	return crops[0]
}

// recordPrecip folds the sample's precipitation into the station's
// rolling window and returns the window total excluding the sample
// itself, so demand reflects conditions before this observation.
func (e *Enricher) recordPrecip(s *model.Sample) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := s.Timestamp.Add(-e.window)
	points := e.precip[s.StationID]
	kept := points[:0]
	var total float64
	for _, p := range points {
		if p.ts.Before(cutoff) {
			continue
		}
		kept = append(kept, p)
		total += p.mm
	}
	if model.Has(s.Precipitation) && *s.Precipitation > 0 {
		kept = append(kept, precipPoint{ts: s.Timestamp, mm: *s.Precipitation})
	}
	e.precip[s.StationID] = kept
	return total
}
