// Agromet - Agricultural Telemetry and Decision Pipeline for Quillota
// Copyright 2026 J. Cortes (jcortesq)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcortesq/agromet

package store

import (
	"context"
	"fmt"
	"time"
)

// timestampColumn maps an entity to the column its time window filters on.
var timestampColumn = map[string]string{
	EntitySamples:     "ts",
	EntityReadings:    "ts",
	EntityEnriched:    "ts",
	EntityPredictions: "issued_at",
	EntityAlerts:      "ts",
	EntityIrrigation:  "started_at",
}

// Counts returns the number of rows for an entity within the half-open
// window [from, to). A zero `to` means unbounded.
func (s *Store) Counts(ctx context.Context, entity string, from, to time.Time) (int64, error) {
	col, ok := timestampColumn[entity]
	if !ok {
		return 0, storageErr("counts", fmt.Errorf("unknown entity %q", entity))
	}

	query := fmt.Sprintf(`SELECT count(*) FROM %s WHERE %s >= ?`, entity, col)
	args := []any{from.UTC()}
	if !to.IsZero() {
		query += fmt.Sprintf(` AND %s < ?`, col)
		args = append(args, to.UTC())
	}

	var n int64
	if err := s.conn.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, storageErr("counts "+entity, err)
	}
	return n, nil
}

// TotalRows returns the tracked row count for an entity, as measured
// against the soft capacity cap.
func (s *Store) TotalRows(entity string) int64 {
	s.rowsMu.Lock()
	defer s.rowsMu.Unlock()
	return s.approxRows[entity]
}
