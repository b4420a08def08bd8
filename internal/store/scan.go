// Agromet - Agricultural Telemetry and Decision Pipeline for Quillota
// Copyright 2026 J. Cortes (jcortesq)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcortesq/agromet

package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/goccy/go-json"

	"github.com/jcortesq/agromet/internal/metrics"
	"github.com/jcortesq/agromet/internal/model"
)

// Cursor iterates lazily over a query result. Memory usage is bounded
// by the driver's row buffer, not the result size. Close must be called
// when iteration ends early.
type Cursor[T any] struct {
	rows *sql.Rows
	scan func(*sql.Rows) (T, error)

	cur T
	err error
}

// Next advances to the next row, returning false at the end of the
// result or on error.
func (c *Cursor[T]) Next() bool {
	if c.err != nil || !c.rows.Next() {
		return false
	}
	c.cur, c.err = c.scan(c.rows)
	return c.err == nil
}

// Value returns the current row. Valid only after a true Next.
func (c *Cursor[T]) Value() T { return c.cur }

// Err returns the first error encountered during iteration.
func (c *Cursor[T]) Err() error {
	if c.err != nil {
		return c.err
	}
	return c.rows.Err()
}

// Close releases the underlying result set.
func (c *Cursor[T]) Close() error { return c.rows.Close() }

// Collect drains the cursor into a slice and closes it.
func Collect[T any](c *Cursor[T]) ([]T, error) {
	defer c.Close()
	var out []T
	for c.Next() {
		out = append(out, c.Value())
	}
	return out, c.Err()
}

func newCursor[T any](rows *sql.Rows, scan func(*sql.Rows) (T, error)) *Cursor[T] {
	return &Cursor[T]{rows: rows, scan: scan}
}

// ScanSamples streams samples for a station in ascending timestamp
// order, restricted to the half-open window [from, to).
func (s *Store) ScanSamples(ctx context.Context, stationID string, from, to time.Time) (*Cursor[*model.Sample], error) {
	started := time.Now()
	defer func() {
		metrics.StoreScanDuration.WithLabelValues(EntitySamples).Observe(time.Since(started).Seconds())
	}()

	rows, err := s.conn.QueryContext(ctx, `SELECT
		station_id, ts, temperature, humidity, pressure, wind_speed,
		wind_direction, precipitation, solar_radiation, quality,
		quality_flags, source
		FROM samples
		WHERE station_id = ? AND ts >= ? AND ts < ?
		ORDER BY ts ASC`,
		stationID, from.UTC(), to.UTC())
	if err != nil {
		return nil, storageErr("scan samples", err)
	}
	return newCursor(rows, scanSampleRow), nil
}

// LatestSamples returns the newest n samples for a station in ascending
// timestamp order, which is how the forecaster consumes history.
func (s *Store) LatestSamples(ctx context.Context, stationID string, n int) ([]*model.Sample, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT * FROM (
		SELECT station_id, ts, temperature, humidity, pressure, wind_speed,
		       wind_direction, precipitation, solar_radiation, quality,
		       quality_flags, source
		FROM samples
		WHERE station_id = ?
		ORDER BY ts DESC
		LIMIT ?
	) ORDER BY ts ASC`, stationID, n)
	if err != nil {
		return nil, storageErr("latest samples", err)
	}
	out, err := Collect(newCursor(rows, scanSampleRow))
	if err != nil {
		return nil, storageErr("latest samples", err)
	}
	return out, nil
}

// ScanEnriched streams enriched samples for a station in ascending
// timestamp order over [from, to).
func (s *Store) ScanEnriched(ctx context.Context, stationID string, from, to time.Time) (*Cursor[*model.EnrichedSample], error) {
	started := time.Now()
	defer func() {
		metrics.StoreScanDuration.WithLabelValues(EntityEnriched).Observe(time.Since(started).Seconds())
	}()

	rows, err := s.conn.QueryContext(ctx, `SELECT
		station_id, ts, temperature, humidity, pressure, wind_speed,
		wind_direction, precipitation, solar_radiation, quality,
		quality_flags, source, dew_point, heat_index, cold_index,
		growing_degree_units, water_demand, crop_id
		FROM enriched
		WHERE station_id = ? AND ts >= ? AND ts < ?
		ORDER BY ts ASC`,
		stationID, from.UTC(), to.UTC())
	if err != nil {
		return nil, storageErr("scan enriched", err)
	}
	return newCursor(rows, scanEnrichedRow), nil
}

// LatestEnriched returns the newest enriched sample for a station, or
// ErrNotFound when the station has no enriched history yet.
func (s *Store) LatestEnriched(ctx context.Context, stationID string) (*model.EnrichedSample, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT
		station_id, ts, temperature, humidity, pressure, wind_speed,
		wind_direction, precipitation, solar_radiation, quality,
		quality_flags, source, dew_point, heat_index, cold_index,
		growing_degree_units, water_demand, crop_id
		FROM enriched
		WHERE station_id = ?
		ORDER BY ts DESC
		LIMIT 1`, stationID)
	if err != nil {
		return nil, storageErr("latest enriched", err)
	}
	out, err := Collect(newCursor(rows, scanEnrichedRow))
	if err != nil {
		return nil, storageErr("latest enriched", err)
	}
	if len(out) == 0 {
		return nil, storageErr("latest enriched", ErrNotFound)
	}
	return out[0], nil
}

// ScanReadings streams sensor readings for a station over [from, to) in
// ascending timestamp order.
func (s *Store) ScanReadings(ctx context.Context, stationID string, from, to time.Time) (*Cursor[*model.Reading], error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT
		sensor_id, station_id, kind, ts, value, unit, battery, signal
		FROM readings
		WHERE station_id = ? AND ts >= ? AND ts < ?
		ORDER BY ts ASC`,
		stationID, from.UTC(), to.UTC())
	if err != nil {
		return nil, storageErr("scan readings", err)
	}
	return newCursor(rows, scanReadingRow), nil
}

// LatestReading returns the newest reading of a kind at a station, or
// ErrNotFound when none exists.
func (s *Store) LatestReading(ctx context.Context, stationID string, kind model.ReadingKind) (*model.Reading, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT
		sensor_id, station_id, kind, ts, value, unit, battery, signal
		FROM readings
		WHERE station_id = ? AND kind = ?
		ORDER BY ts DESC
		LIMIT 1`, stationID, string(kind))
	if err != nil {
		return nil, storageErr("latest reading", err)
	}
	out, err := Collect(newCursor(rows, scanReadingRow))
	if err != nil {
		return nil, storageErr("latest reading", err)
	}
	if len(out) == 0 {
		return nil, storageErr("latest reading", ErrNotFound)
	}
	return out[0], nil
}

// LatestPredictions returns the most recently issued prediction set for
// a station and variable, one row per horizon, ascending by horizon.
func (s *Store) LatestPredictions(ctx context.Context, stationID, variable string) ([]*model.Prediction, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT
		model_id, station_id, variable, issued_at, horizon, value, confidence
		FROM predictions
		WHERE station_id = ? AND variable = ?
		  AND issued_at = (SELECT max(issued_at) FROM predictions
		                   WHERE station_id = ? AND variable = ?)
		ORDER BY horizon ASC`,
		stationID, variable, stationID, variable)
	if err != nil {
		return nil, storageErr("latest predictions", err)
	}
	out, err := Collect(newCursor(rows, scanPredictionRow))
	if err != nil {
		return nil, storageErr("latest predictions", err)
	}
	return out, nil
}

// ActiveAlerts returns all currently active alerts, newest first.
func (s *Store) ActiveAlerts(ctx context.Context) ([]*model.Alert, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT
		alert_id, kind, severity, station_id, crop_id, ts, trigger_value,
		threshold, message, recommended_action, message_es,
		recommended_action_es, active, resolved_at
		FROM alerts
		WHERE active
		ORDER BY ts DESC`)
	if err != nil {
		return nil, storageErr("active alerts", err)
	}
	out, err := Collect(newCursor(rows, scanAlertRow))
	if err != nil {
		return nil, storageErr("active alerts", err)
	}
	return out, nil
}

// AlertsSince returns alerts of a kind at a station emitted at or after
// the cutoff. The rule engine uses this for its cooling window.
func (s *Store) AlertsSince(ctx context.Context, stationID string, kind model.AlertKind, cutoff time.Time) ([]*model.Alert, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT
		alert_id, kind, severity, station_id, crop_id, ts, trigger_value,
		threshold, message, recommended_action, message_es,
		recommended_action_es, active, resolved_at
		FROM alerts
		WHERE station_id = ? AND kind = ? AND ts >= ?
		ORDER BY ts DESC`,
		stationID, string(kind), cutoff.UTC())
	if err != nil {
		return nil, storageErr("alerts since", err)
	}
	out, err := Collect(newCursor(rows, scanAlertRow))
	if err != nil {
		return nil, storageErr("alerts since", err)
	}
	return out, nil
}

// IrrigationEventsSince returns irrigation events for an actuator at or
// after the cutoff, ascending. Events are keyed on started_at, falling
// back to ended_at for runs that never started (failed actuations);
// events with neither timestamp are still pending and always included.
func (s *Store) IrrigationEventsSince(ctx context.Context, actuatorID string, cutoff time.Time) ([]*model.IrrigationEvent, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT
		event_id, actuator_id, station_id, state, started_at, ended_at,
		planned_duration_min, actual_duration_min, planned_volume_l,
		actual_volume_l, reason
		FROM irrigation_events
		WHERE actuator_id = ?
		AND (coalesce(started_at, ended_at) IS NULL OR coalesce(started_at, ended_at) >= ?)
		ORDER BY coalesce(started_at, ended_at) ASC`,
		actuatorID, cutoff.UTC())
	if err != nil {
		return nil, storageErr("irrigation events since", err)
	}
	out, err := Collect(newCursor(rows, scanIrrigationRow))
	if err != nil {
		return nil, storageErr("irrigation events since", err)
	}
	return out, nil
}

// IrrigationEvent returns one event by ID, or ErrNotFound.
func (s *Store) IrrigationEvent(ctx context.Context, eventID string) (*model.IrrigationEvent, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT
		event_id, actuator_id, station_id, state, started_at, ended_at,
		planned_duration_min, actual_duration_min, planned_volume_l,
		actual_volume_l, reason
		FROM irrigation_events
		WHERE event_id = ?`, eventID)
	if err != nil {
		return nil, storageErr("irrigation event", err)
	}
	out, err := Collect(newCursor(rows, scanIrrigationRow))
	if err != nil {
		return nil, storageErr("irrigation event", err)
	}
	if len(out) == 0 {
		return nil, storageErr("irrigation event", ErrNotFound)
	}
	return out[0], nil
}

// StageMetricsSince returns stage executions started at or after the
// cutoff, ascending, for the monitoring API.
func (s *Store) StageMetricsSince(ctx context.Context, cutoff time.Time) ([]*model.StageMetric, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT
		stage, started_at, ended_at, input_count, output_count, error_count
		FROM stage_metrics
		WHERE started_at >= ?
		ORDER BY started_at ASC`, cutoff.UTC())
	if err != nil {
		return nil, storageErr("stage metrics since", err)
	}
	out, err := Collect(newCursor(rows, scanStageMetricRow))
	if err != nil {
		return nil, storageErr("stage metrics since", err)
	}
	return out, nil
}

func scanSampleRow(rows *sql.Rows) (*model.Sample, error) {
	var sm model.Sample
	var flags *string
	if err := rows.Scan(&sm.StationID, &sm.Timestamp, &sm.Temperature,
		&sm.Humidity, &sm.Pressure, &sm.WindSpeed, &sm.WindDirection,
		&sm.Precipitation, &sm.SolarRadiation, &sm.Quality, &flags,
		&sm.Source); err != nil {
		return nil, storageErr("scan sample row", err)
	}
	sm.Timestamp = sm.Timestamp.UTC()
	if err := unmarshalFlags(flags, &sm.QualityFlags); err != nil {
		return nil, err
	}
	return &sm, nil
}

func scanEnrichedRow(rows *sql.Rows) (*model.EnrichedSample, error) {
	var e model.EnrichedSample
	var flags, cropID *string
	if err := rows.Scan(&e.StationID, &e.Timestamp, &e.Temperature,
		&e.Humidity, &e.Pressure, &e.WindSpeed, &e.WindDirection,
		&e.Precipitation, &e.SolarRadiation, &e.Quality, &flags,
		&e.Source, &e.DewPoint, &e.HeatIndex, &e.ColdIndex,
		&e.GrowingDegreeUnits, &e.WaterDemand, &cropID); err != nil {
		return nil, storageErr("scan enriched row", err)
	}
	e.Timestamp = e.Timestamp.UTC()
	if err := unmarshalFlags(flags, &e.QualityFlags); err != nil {
		return nil, err
	}
	if cropID != nil {
		e.CropID = *cropID
	}
	return &e, nil
}

func scanReadingRow(rows *sql.Rows) (*model.Reading, error) {
	var r model.Reading
	var kind string
	if err := rows.Scan(&r.SensorID, &r.StationID, &kind, &r.Timestamp,
		&r.Value, &r.Unit, &r.Battery, &r.Signal); err != nil {
		return nil, storageErr("scan reading row", err)
	}
	r.Kind = model.ReadingKind(kind)
	r.Timestamp = r.Timestamp.UTC()
	return &r, nil
}

func scanPredictionRow(rows *sql.Rows) (*model.Prediction, error) {
	var p model.Prediction
	if err := rows.Scan(&p.ModelID, &p.StationID, &p.Variable, &p.IssuedAt,
		&p.Horizon, &p.Value, &p.Confidence); err != nil {
		return nil, storageErr("scan prediction row", err)
	}
	p.IssuedAt = p.IssuedAt.UTC()
	return &p, nil
}

func scanAlertRow(rows *sql.Rows) (*model.Alert, error) {
	var a model.Alert
	var kind, severity string
	var cropID *string
	var resolvedAt *time.Time
	if err := rows.Scan(&a.AlertID, &kind, &severity, &a.StationID,
		&cropID, &a.Timestamp, &a.TriggerValue, &a.Threshold, &a.Message,
		&a.RecommendedAction, &a.MessageES, &a.RecommendedActionES,
		&a.Active, &resolvedAt); err != nil {
		return nil, storageErr("scan alert row", err)
	}
	a.Kind = model.AlertKind(kind)
	a.Severity = model.Severity(severity)
	a.Timestamp = a.Timestamp.UTC()
	if cropID != nil {
		a.CropID = *cropID
	}
	if resolvedAt != nil {
		u := resolvedAt.UTC()
		a.ResolvedAt = &u
	}
	return &a, nil
}

func scanIrrigationRow(rows *sql.Rows) (*model.IrrigationEvent, error) {
	var e model.IrrigationEvent
	var state string
	var startedAt, endedAt *time.Time
	if err := rows.Scan(&e.EventID, &e.ActuatorID, &e.StationID, &state,
		&startedAt, &endedAt, &e.PlannedDurationMin, &e.ActualDurationMin,
		&e.PlannedVolumeL, &e.ActualVolumeL, &e.Reason); err != nil {
		return nil, storageErr("scan irrigation row", err)
	}
	e.State = model.IrrigationState(state)
	if startedAt != nil {
		u := startedAt.UTC()
		e.StartedAt = &u
	}
	if endedAt != nil {
		u := endedAt.UTC()
		e.EndedAt = &u
	}
	return &e, nil
}

func scanStageMetricRow(rows *sql.Rows) (*model.StageMetric, error) {
	var m model.StageMetric
	if err := rows.Scan(&m.Stage, &m.StartedAt, &m.EndedAt, &m.InputCount,
		&m.OutputCount, &m.ErrorCount); err != nil {
		return nil, storageErr("scan stage metric row", err)
	}
	m.StartedAt = m.StartedAt.UTC()
	m.EndedAt = m.EndedAt.UTC()
	return &m, nil
}

func unmarshalFlags(raw *string, dst *[]string) error {
	if raw == nil || *raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(*raw), dst); err != nil {
		return storageErr("decode quality flags", err)
	}
	return nil
}
