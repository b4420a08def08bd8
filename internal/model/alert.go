// Agromet - Agricultural Telemetry and Decision Pipeline for Quillota
// Copyright 2026 J. Cortes (jcortesq)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcortesq/agromet

package model

import (
	"time"

	"github.com/google/uuid"
)

// AlertKind enumerates the rule catalog's alert types.
type AlertKind string

const (
	AlertFrost          AlertKind = "frost"
	AlertHeatExtreme    AlertKind = "heat_extreme"
	AlertWindStrong     AlertKind = "wind_strong"
	AlertExcessHumidity AlertKind = "excess_humidity"
	AlertDrought        AlertKind = "drought"
	AlertSensorFault    AlertKind = "sensor_fault"
)

// Severity orders alert severities from least to most urgent.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Alert is a typed domain alert emitted by the rule engine. The rule
// engine is the only component allowed to mutate Active/ResolvedAt,
// and only through the store's UpdateAlertActive capability.
type Alert struct {
	AlertID           string     `json:"alert_id"`
	Kind              AlertKind  `json:"kind"`
	Severity          Severity   `json:"severity"`
	StationID         string     `json:"station_id"`
	CropID            string     `json:"crop_id,omitempty"`
	Timestamp         time.Time  `json:"timestamp"`
	TriggerValue      float64    `json:"trigger_value"`
	Threshold         float64    `json:"threshold"`
	Message           string     `json:"message"`
	RecommendedAction string     `json:"recommended_action"`

	// Spanish presentation strings for the Quillota operators.
	MessageES           string `json:"message_es,omitempty"`
	RecommendedActionES string `json:"recommended_action_es,omitempty"`
	Active            bool       `json:"active"`
	ResolvedAt        *time.Time `json:"resolved_at,omitempty"`
}

// NewAlert creates an active alert with a fresh unique ID.
func NewAlert(kind AlertKind, severity Severity, stationID string, at time.Time) *Alert {
	return &Alert{
		AlertID:   uuid.New().String(),
		Kind:      kind,
		Severity:  severity,
		StationID: stationID,
		Timestamp: at.UTC(),
		Active:    true,
	}
}
