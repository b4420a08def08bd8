// Agromet - Agricultural Telemetry and Decision Pipeline for Quillota
// Copyright 2026 J. Cortes (jcortesq)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcortesq/agromet

package model

import (
	"time"

	"github.com/google/uuid"
)

// IrrigationState enumerates the lifecycle of an irrigation event.
type IrrigationState string

const (
	IrrigationScheduled IrrigationState = "scheduled"
	IrrigationRunning   IrrigationState = "running"
	IrrigationCompleted IrrigationState = "completed"
	IrrigationCancelled IrrigationState = "cancelled"
	IrrigationFailed    IrrigationState = "failed"
)

// Terminal reports whether the state admits no further transitions.
func (s IrrigationState) Terminal() bool {
	switch s {
	case IrrigationCompleted, IrrigationCancelled, IrrigationFailed:
		return true
	}
	return false
}

// IrrigationEvent records one actuator run, from scheduling through its
// terminal state. Only the irrigation controller mutates State, and only
// through the store's UpdateIrrigationState capability. Actual duration
// and volume are finalized on transition into completed or cancelled.
type IrrigationEvent struct {
	EventID            string          `json:"event_id"`
	ActuatorID         string          `json:"actuator_id"`
	StationID          string          `json:"station_id"`
	State              IrrigationState `json:"state"`
	StartedAt          *time.Time      `json:"started_at,omitempty"`
	EndedAt            *time.Time      `json:"ended_at,omitempty"`
	PlannedDurationMin float64         `json:"planned_duration_min"`
	ActualDurationMin  *float64        `json:"actual_duration_min,omitempty"`
	PlannedVolumeL     *float64        `json:"planned_volume_l,omitempty"`
	ActualVolumeL      *float64        `json:"actual_volume_l,omitempty"`
	Reason             string          `json:"reason"`
}

// NewIrrigationEvent creates a scheduled event with a fresh unique ID.
func NewIrrigationEvent(actuatorID, stationID, reason string) *IrrigationEvent {
	return &IrrigationEvent{
		EventID:    uuid.New().String(),
		ActuatorID: actuatorID,
		StationID:  stationID,
		State:      IrrigationScheduled,
		Reason:     reason,
	}
}

// StageMetric records one stage execution within a pipeline tick.
type StageMetric struct {
	Stage       string    `json:"stage"`
	StartedAt   time.Time `json:"started_at"`
	EndedAt     time.Time `json:"ended_at"`
	InputCount  int       `json:"input_count"`
	OutputCount int       `json:"output_count"`
	ErrorCount  int       `json:"error_count"`
}
