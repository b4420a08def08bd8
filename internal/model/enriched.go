// Agromet - Agricultural Telemetry and Decision Pipeline for Quillota
// Copyright 2026 J. Cortes (jcortesq)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcortesq/agromet

package model

// EnrichedSample extends a Sample with deterministic derived indices.
// It is produced exactly once per accepted raw sample and never updated.
type EnrichedSample struct {
	Sample

	DewPoint           *float64 `json:"dew_point,omitempty"`            // degrees C
	HeatIndex          *float64 `json:"heat_index,omitempty"`           // degrees C
	ColdIndex          *float64 `json:"cold_index,omitempty"`           // degrees C
	GrowingDegreeUnits *float64 `json:"growing_degree_units,omitempty"` // degree-days
	WaterDemand        *float64 `json:"water_demand,omitempty"`         // mm/day proxy
	CropID             string   `json:"crop_id,omitempty"`              // crop context, if any
}
