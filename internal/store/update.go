// Agromet - Agricultural Telemetry and Decision Pipeline for Quillota
// Copyright 2026 J. Cortes (jcortesq)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcortesq/agromet

package store

import (
	"context"
	"time"

	"github.com/jcortesq/agromet/internal/model"
)

// UpdateAlertActive flips an alert's active flag. Reserved for the rule
// engine; resolvedAt is recorded when the alert is deactivated.
func (s *Store) UpdateAlertActive(ctx context.Context, alertID string, active bool, resolvedAt time.Time) error {
	var res interface{ RowsAffected() (int64, error) }
	var err error
	if active {
		res, err = s.conn.ExecContext(ctx,
			`UPDATE alerts SET active = true, resolved_at = NULL WHERE alert_id = ?`,
			alertID)
	} else {
		res, err = s.conn.ExecContext(ctx,
			`UPDATE alerts SET active = false, resolved_at = ? WHERE alert_id = ?`,
			resolvedAt.UTC(), alertID)
	}
	if err != nil {
		return storageErr("update alert active", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("update alert active", err)
	}
	if n == 0 {
		return storageErr("update alert active", ErrNotFound)
	}
	return nil
}

// UpdateIrrigationState advances an irrigation event. Reserved for the
// irrigation controller. The final pointers overwrite only the columns
// the transition produces: started_at when the run begins, ended_at and
// the actuals when it reaches a terminal state.
func (s *Store) UpdateIrrigationState(ctx context.Context, eventID string, state model.IrrigationState,
	startedAt, endedAt *time.Time, actualDurationMin, actualVolumeL *float64) error {
	res, err := s.conn.ExecContext(ctx, `UPDATE irrigation_events SET
		state = ?,
		started_at = coalesce(?, started_at),
		ended_at = coalesce(?, ended_at),
		actual_duration_min = coalesce(?, actual_duration_min),
		actual_volume_l = coalesce(?, actual_volume_l)
		WHERE event_id = ?`,
		string(state), nullableTime(startedAt), nullableTime(endedAt),
		actualDurationMin, actualVolumeL, eventID)
	if err != nil {
		return storageErr("update irrigation state", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("update irrigation state", err)
	}
	if n == 0 {
		return storageErr("update irrigation state", ErrNotFound)
	}
	return nil
}

// UpdateIrrigationReason overwrites an event's reason. Aborted runs
// replace the scheduling trigger with the abort cause.
func (s *Store) UpdateIrrigationReason(ctx context.Context, eventID, reason string) error {
	res, err := s.conn.ExecContext(ctx,
		`UPDATE irrigation_events SET reason = ? WHERE event_id = ?`,
		reason, eventID)
	if err != nil {
		return storageErr("update irrigation reason", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("update irrigation reason", err)
	}
	if n == 0 {
		return storageErr("update irrigation reason", ErrNotFound)
	}
	return nil
}
