// Agromet - Agricultural Telemetry and Decision Pipeline for Quillota
// Copyright 2026 J. Cortes (jcortesq)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcortesq/agromet

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/jcortesq/agromet/internal/metrics"
	"github.com/jcortesq/agromet/internal/model"
)

// AppendResult reports the outcome of a batch append.
type AppendResult struct {
	Accepted int
	Rejected int
}

// AppendSamples appends a batch of raw samples atomically. Samples that
// do not strictly advance their station's timestamp high-water mark
// (including duplicates within the batch) are rejected and counted; the
// remaining samples commit in one transaction. When every sample in a
// non-empty batch is rejected the returned error wraps ErrOutOfOrder.
func (s *Store) AppendSamples(ctx context.Context, samples []*model.Sample) (AppendResult, error) {
	var res AppendResult
	if len(samples) == 0 {
		return res, nil
	}

	started := time.Now()
	defer metrics.ObserveStoreAppend(EntitySamples, started)

	// Partition against the high-water marks under lock, advancing a
	// local view so intra-batch regressions are caught too.
	s.hwMu.Lock()
	local := make(map[string]time.Time, 4)
	for st, ts := range s.highWater {
		local[st] = ts
	}
	accepted := make([]*model.Sample, 0, len(samples))
	for _, sm := range samples {
		ts := sm.Timestamp.UTC()
		if last, ok := local[sm.StationID]; ok && !ts.After(last) {
			res.Rejected++
			metrics.RecordAppendReject(EntitySamples, "out_of_order")
			continue
		}
		local[sm.StationID] = ts
		accepted = append(accepted, sm)
	}
	s.hwMu.Unlock()

	if len(accepted) == 0 {
		return res, fmt.Errorf("append of %d samples: %w", len(samples), ErrOutOfOrder)
	}

	if err := s.capacityCheck(EntitySamples, len(accepted)); err != nil {
		metrics.RecordAppendReject(EntitySamples, "store_full")
		return AppendResult{Rejected: len(samples)}, err
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		s.capacityRelease(EntitySamples, len(accepted))
		return res, storageErr("begin samples tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO samples
		(station_id, ts, temperature, humidity, pressure, wind_speed,
		 wind_direction, precipitation, solar_radiation, quality, quality_flags, source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		s.capacityRelease(EntitySamples, len(accepted))
		return res, storageErr("prepare samples insert", err)
	}
	defer stmt.Close()

	for _, sm := range accepted {
		flags, err := marshalFlags(sm.QualityFlags)
		if err != nil {
			s.capacityRelease(EntitySamples, len(accepted))
			return res, storageErr("encode quality flags", err)
		}
		if _, err := stmt.ExecContext(ctx,
			sm.StationID, sm.Timestamp.UTC(), sm.Temperature, sm.Humidity,
			sm.Pressure, sm.WindSpeed, sm.WindDirection, sm.Precipitation,
			sm.SolarRadiation, sm.Quality, flags, sm.Source,
		); err != nil {
			s.capacityRelease(EntitySamples, len(accepted))
			return res, storageErr("insert sample", err)
		}
	}

	if err := tx.Commit(); err != nil {
		s.capacityRelease(EntitySamples, len(accepted))
		return res, storageErr("commit samples", err)
	}

	// Publish the new high-water marks only after a successful commit.
	s.hwMu.Lock()
	for _, sm := range accepted {
		ts := sm.Timestamp.UTC()
		if last, ok := s.highWater[sm.StationID]; !ok || ts.After(last) {
			s.highWater[sm.StationID] = ts
		}
	}
	s.hwMu.Unlock()

	res.Accepted = len(accepted)
	return res, nil
}

// AppendReadings appends sensor readings in one transaction. Duplicate
// (sensor_id, ts) pairs are ignored, keeping redelivery idempotent.
func (s *Store) AppendReadings(ctx context.Context, readings []*model.Reading) (AppendResult, error) {
	if len(readings) == 0 {
		return AppendResult{}, nil
	}

	started := time.Now()
	defer metrics.ObserveStoreAppend(EntityReadings, started)

	if err := s.capacityCheck(EntityReadings, len(readings)); err != nil {
		metrics.RecordAppendReject(EntityReadings, "store_full")
		return AppendResult{Rejected: len(readings)}, err
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		s.capacityRelease(EntityReadings, len(readings))
		return AppendResult{}, storageErr("begin readings tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO readings
		(sensor_id, station_id, kind, ts, value, unit, battery, signal)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`)
	if err != nil {
		s.capacityRelease(EntityReadings, len(readings))
		return AppendResult{}, storageErr("prepare readings insert", err)
	}
	defer stmt.Close()

	for _, r := range readings {
		if _, err := stmt.ExecContext(ctx,
			r.SensorID, r.StationID, string(r.Kind), r.Timestamp.UTC(),
			r.Value, r.Unit, r.Battery, r.Signal,
		); err != nil {
			s.capacityRelease(EntityReadings, len(readings))
			return AppendResult{}, storageErr("insert reading", err)
		}
	}

	if err := tx.Commit(); err != nil {
		s.capacityRelease(EntityReadings, len(readings))
		return AppendResult{}, storageErr("commit readings", err)
	}

	return AppendResult{Accepted: len(readings)}, nil
}

// AppendEnriched appends enriched samples. Each raw sample is enriched
// exactly once; duplicate (station_id, ts) pairs are ignored.
func (s *Store) AppendEnriched(ctx context.Context, enriched []*model.EnrichedSample) (AppendResult, error) {
	if len(enriched) == 0 {
		return AppendResult{}, nil
	}

	started := time.Now()
	defer metrics.ObserveStoreAppend(EntityEnriched, started)

	if err := s.capacityCheck(EntityEnriched, len(enriched)); err != nil {
		metrics.RecordAppendReject(EntityEnriched, "store_full")
		return AppendResult{Rejected: len(enriched)}, err
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		s.capacityRelease(EntityEnriched, len(enriched))
		return AppendResult{}, storageErr("begin enriched tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO enriched
		(station_id, ts, temperature, humidity, pressure, wind_speed,
		 wind_direction, precipitation, solar_radiation, quality, quality_flags,
		 source, dew_point, heat_index, cold_index, growing_degree_units,
		 water_demand, crop_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`)
	if err != nil {
		s.capacityRelease(EntityEnriched, len(enriched))
		return AppendResult{}, storageErr("prepare enriched insert", err)
	}
	defer stmt.Close()

	for _, e := range enriched {
		flags, err := marshalFlags(e.QualityFlags)
		if err != nil {
			s.capacityRelease(EntityEnriched, len(enriched))
			return AppendResult{}, storageErr("encode quality flags", err)
		}
		if _, err := stmt.ExecContext(ctx,
			e.StationID, e.Timestamp.UTC(), e.Temperature, e.Humidity,
			e.Pressure, e.WindSpeed, e.WindDirection, e.Precipitation,
			e.SolarRadiation, e.Quality, flags, e.Source,
			e.DewPoint, e.HeatIndex, e.ColdIndex, e.GrowingDegreeUnits,
			e.WaterDemand, nullableString(e.CropID),
		); err != nil {
			s.capacityRelease(EntityEnriched, len(enriched))
			return AppendResult{}, storageErr("insert enriched", err)
		}
	}

	if err := tx.Commit(); err != nil {
		s.capacityRelease(EntityEnriched, len(enriched))
		return AppendResult{}, storageErr("commit enriched", err)
	}

	return AppendResult{Accepted: len(enriched)}, nil
}

// AppendPredictions appends predictions. The (model_id, variable,
// issued_at, horizon) tuple is unique; duplicates are ignored.
func (s *Store) AppendPredictions(ctx context.Context, preds []*model.Prediction) (AppendResult, error) {
	if len(preds) == 0 {
		return AppendResult{}, nil
	}

	started := time.Now()
	defer metrics.ObserveStoreAppend(EntityPredictions, started)

	if err := s.capacityCheck(EntityPredictions, len(preds)); err != nil {
		metrics.RecordAppendReject(EntityPredictions, "store_full")
		return AppendResult{Rejected: len(preds)}, err
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		s.capacityRelease(EntityPredictions, len(preds))
		return AppendResult{}, storageErr("begin predictions tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO predictions
		(model_id, station_id, variable, issued_at, horizon, value, confidence)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`)
	if err != nil {
		s.capacityRelease(EntityPredictions, len(preds))
		return AppendResult{}, storageErr("prepare predictions insert", err)
	}
	defer stmt.Close()

	for _, p := range preds {
		if _, err := stmt.ExecContext(ctx,
			p.ModelID, p.StationID, p.Variable, p.IssuedAt.UTC(),
			p.Horizon, p.Value, p.Confidence,
		); err != nil {
			s.capacityRelease(EntityPredictions, len(preds))
			return AppendResult{}, storageErr("insert prediction", err)
		}
	}

	if err := tx.Commit(); err != nil {
		s.capacityRelease(EntityPredictions, len(preds))
		return AppendResult{}, storageErr("commit predictions", err)
	}

	return AppendResult{Accepted: len(preds)}, nil
}

// AppendAlerts appends alerts in one transaction.
func (s *Store) AppendAlerts(ctx context.Context, alerts []*model.Alert) (AppendResult, error) {
	if len(alerts) == 0 {
		return AppendResult{}, nil
	}

	started := time.Now()
	defer metrics.ObserveStoreAppend(EntityAlerts, started)

	if err := s.capacityCheck(EntityAlerts, len(alerts)); err != nil {
		metrics.RecordAppendReject(EntityAlerts, "store_full")
		return AppendResult{Rejected: len(alerts)}, err
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		s.capacityRelease(EntityAlerts, len(alerts))
		return AppendResult{}, storageErr("begin alerts tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO alerts
		(alert_id, kind, severity, station_id, crop_id, ts, trigger_value,
		 threshold, message, recommended_action, message_es,
		 recommended_action_es, active, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		s.capacityRelease(EntityAlerts, len(alerts))
		return AppendResult{}, storageErr("prepare alerts insert", err)
	}
	defer stmt.Close()

	for _, a := range alerts {
		if _, err := stmt.ExecContext(ctx,
			a.AlertID, string(a.Kind), string(a.Severity), a.StationID,
			nullableString(a.CropID), a.Timestamp.UTC(), a.TriggerValue,
			a.Threshold, a.Message, a.RecommendedAction, a.MessageES,
			a.RecommendedActionES, a.Active, nullableTime(a.ResolvedAt),
		); err != nil {
			s.capacityRelease(EntityAlerts, len(alerts))
			return AppendResult{}, storageErr("insert alert", err)
		}
	}

	if err := tx.Commit(); err != nil {
		s.capacityRelease(EntityAlerts, len(alerts))
		return AppendResult{}, storageErr("commit alerts", err)
	}

	return AppendResult{Accepted: len(alerts)}, nil
}

// AppendIrrigation appends irrigation events in one transaction.
func (s *Store) AppendIrrigation(ctx context.Context, events []*model.IrrigationEvent) (AppendResult, error) {
	if len(events) == 0 {
		return AppendResult{}, nil
	}

	started := time.Now()
	defer metrics.ObserveStoreAppend(EntityIrrigation, started)

	if err := s.capacityCheck(EntityIrrigation, len(events)); err != nil {
		metrics.RecordAppendReject(EntityIrrigation, "store_full")
		return AppendResult{Rejected: len(events)}, err
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		s.capacityRelease(EntityIrrigation, len(events))
		return AppendResult{}, storageErr("begin irrigation tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO irrigation_events
		(event_id, actuator_id, station_id, state, started_at, ended_at,
		 planned_duration_min, actual_duration_min, planned_volume_l,
		 actual_volume_l, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		s.capacityRelease(EntityIrrigation, len(events))
		return AppendResult{}, storageErr("prepare irrigation insert", err)
	}
	defer stmt.Close()

	for _, e := range events {
		if _, err := stmt.ExecContext(ctx,
			e.EventID, e.ActuatorID, e.StationID, string(e.State),
			nullableTime(e.StartedAt), nullableTime(e.EndedAt),
			e.PlannedDurationMin, e.ActualDurationMin, e.PlannedVolumeL,
			e.ActualVolumeL, e.Reason,
		); err != nil {
			s.capacityRelease(EntityIrrigation, len(events))
			return AppendResult{}, storageErr("insert irrigation event", err)
		}
	}

	if err := tx.Commit(); err != nil {
		s.capacityRelease(EntityIrrigation, len(events))
		return AppendResult{}, storageErr("commit irrigation", err)
	}

	return AppendResult{Accepted: len(events)}, nil
}

// AppendStageMetric records one stage execution. Stage metrics are not
// subject to the soft capacity cap; losing visibility during a capacity
// incident would hide the incident itself.
func (s *Store) AppendStageMetric(ctx context.Context, m *model.StageMetric) error {
	_, err := s.conn.ExecContext(ctx, `INSERT INTO stage_metrics
		(stage, started_at, ended_at, input_count, output_count, error_count)
		VALUES (?, ?, ?, ?, ?, ?)`,
		m.Stage, m.StartedAt.UTC(), m.EndedAt.UTC(),
		m.InputCount, m.OutputCount, m.ErrorCount)
	return storageErr("insert stage metric", err)
}

func marshalFlags(flags []string) (*string, error) {
	if len(flags) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(flags)
	if err != nil {
		return nil, err
	}
	s := string(b)
	return &s, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullableTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
