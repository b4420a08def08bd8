// Agromet - Agricultural Telemetry and Decision Pipeline for Quillota
// Copyright 2026 J. Cortes (jcortesq)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcortesq/agromet

// Package store implements the sample store: append-mostly persistence
// of raw and enriched samples, sensor readings, predictions, alerts,
// irrigation events and per-stage metrics, backed by a local DuckDB
// file.
//
// The store exclusively owns all persisted entities. Samples, readings,
// enriched samples and predictions are immutable once written. The only
// permitted mutations are the alert active flag (rule engine) and the
// irrigation event state (irrigation controller).
//
// Per-station timestamp monotonicity is enforced on append: a sample
// whose timestamp does not strictly advance its station's high-water
// mark is rejected with ErrOutOfOrder and never written.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/jcortesq/agromet/internal/config"
	"github.com/jcortesq/agromet/internal/logging"
)

// Entity names accepted by Counts and used in metrics labels.
const (
	EntitySamples     = "samples"
	EntityReadings    = "readings"
	EntityEnriched    = "enriched"
	EntityPredictions = "predictions"
	EntityAlerts      = "alerts"
	EntityIrrigation  = "irrigation_events"
)

// Store wraps the DuckDB connection and provides the persistence
// contract shared by every pipeline stage.
type Store struct {
	conn *sql.DB
	cfg  config.StoreConfig

	// highWater caches the newest persisted sample timestamp per
	// station so monotonicity checks do not hit the database.
	hwMu      sync.Mutex
	highWater map[string]time.Time

	// approxRows tracks per-table row counts for the soft capacity cap.
	rowsMu     sync.Mutex
	approxRows map[string]int64
}

// New opens (or creates) the DuckDB database and initializes the schema.
func New(cfg config.StoreConfig) (*Store, error) {
	threads := cfg.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}

	if dir := filepath.Dir(cfg.Path); cfg.Path != ":memory:" && dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create store directory %s: %w", dir, err)
		}
	}

	connStr := fmt.Sprintf("%s?access_mode=read_write&threads=%d&max_memory=%s",
		cfg.Path, threads, cfg.MaxMemory)
	if cfg.Path == ":memory:" {
		connStr = ""
	}

	conn, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, storageErr("open", err)
	}

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		_ = conn.Close()
		return nil, storageErr("ping", err)
	}

	s := &Store{
		conn:       conn,
		cfg:        cfg,
		highWater:  make(map[string]time.Time),
		approxRows: make(map[string]int64),
	}

	if err := s.initialize(); err != nil {
		_ = conn.Close()
		return nil, err
	}

	logging.Info().
		Str("path", cfg.Path).
		Int64("soft_cap_rows", cfg.SoftCapRows).
		Msg("Sample store opened")

	return s, nil
}

// schema is executed statement by statement at startup. CREATE TABLE IF
// NOT EXISTS keeps restarts idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS samples (
		station_id      VARCHAR NOT NULL,
		ts              TIMESTAMP NOT NULL,
		temperature     DOUBLE,
		humidity        DOUBLE,
		pressure        DOUBLE,
		wind_speed      DOUBLE,
		wind_direction  DOUBLE,
		precipitation   DOUBLE,
		solar_radiation DOUBLE,
		quality         DOUBLE NOT NULL,
		quality_flags   VARCHAR,
		source          VARCHAR NOT NULL,
		PRIMARY KEY (station_id, ts)
	)`,
	`CREATE TABLE IF NOT EXISTS readings (
		sensor_id  VARCHAR NOT NULL,
		station_id VARCHAR NOT NULL,
		kind       VARCHAR NOT NULL,
		ts         TIMESTAMP NOT NULL,
		value      DOUBLE NOT NULL,
		unit       VARCHAR NOT NULL,
		battery    DOUBLE NOT NULL,
		signal     DOUBLE NOT NULL,
		PRIMARY KEY (sensor_id, ts)
	)`,
	`CREATE TABLE IF NOT EXISTS enriched (
		station_id           VARCHAR NOT NULL,
		ts                   TIMESTAMP NOT NULL,
		temperature          DOUBLE,
		humidity             DOUBLE,
		pressure             DOUBLE,
		wind_speed           DOUBLE,
		wind_direction       DOUBLE,
		precipitation        DOUBLE,
		solar_radiation      DOUBLE,
		quality              DOUBLE NOT NULL,
		quality_flags        VARCHAR,
		source               VARCHAR NOT NULL,
		dew_point            DOUBLE,
		heat_index           DOUBLE,
		cold_index           DOUBLE,
		growing_degree_units DOUBLE,
		water_demand         DOUBLE,
		crop_id              VARCHAR,
		PRIMARY KEY (station_id, ts)
	)`,
	`CREATE TABLE IF NOT EXISTS predictions (
		model_id   VARCHAR NOT NULL,
		station_id VARCHAR NOT NULL,
		variable   VARCHAR NOT NULL,
		issued_at  TIMESTAMP NOT NULL,
		horizon    INTEGER NOT NULL,
		value      DOUBLE NOT NULL,
		confidence DOUBLE NOT NULL,
		PRIMARY KEY (model_id, variable, issued_at, horizon, station_id)
	)`,
	`CREATE TABLE IF NOT EXISTS alerts (
		alert_id              VARCHAR PRIMARY KEY,
		kind                  VARCHAR NOT NULL,
		severity              VARCHAR NOT NULL,
		station_id            VARCHAR NOT NULL,
		crop_id               VARCHAR,
		ts                    TIMESTAMP NOT NULL,
		trigger_value         DOUBLE NOT NULL,
		threshold             DOUBLE NOT NULL,
		message               VARCHAR NOT NULL,
		recommended_action    VARCHAR NOT NULL,
		message_es            VARCHAR NOT NULL,
		recommended_action_es VARCHAR NOT NULL,
		active                BOOLEAN NOT NULL,
		resolved_at           TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS irrigation_events (
		event_id             VARCHAR PRIMARY KEY,
		actuator_id          VARCHAR NOT NULL,
		station_id           VARCHAR NOT NULL,
		state                VARCHAR NOT NULL,
		started_at           TIMESTAMP,
		ended_at             TIMESTAMP,
		planned_duration_min DOUBLE NOT NULL,
		actual_duration_min  DOUBLE,
		planned_volume_l     DOUBLE,
		actual_volume_l      DOUBLE,
		reason               VARCHAR NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS stage_metrics (
		stage        VARCHAR NOT NULL,
		started_at   TIMESTAMP NOT NULL,
		ended_at     TIMESTAMP NOT NULL,
		input_count  INTEGER NOT NULL,
		output_count INTEGER NOT NULL,
		error_count  INTEGER NOT NULL
	)`,
}

// initialize creates tables and primes the in-memory caches.
func (s *Store) initialize() error {
	for _, stmt := range schema {
		if _, err := s.conn.Exec(stmt); err != nil {
			return storageErr("initialize schema", err)
		}
	}

	// Prime per-station high-water marks.
	rows, err := s.conn.Query(`SELECT station_id, max(ts) FROM samples GROUP BY station_id`)
	if err != nil {
		return storageErr("load high-water marks", err)
	}
	defer rows.Close()
	for rows.Next() {
		var station string
		var ts time.Time
		if err := rows.Scan(&station, &ts); err != nil {
			return storageErr("scan high-water mark", err)
		}
		s.highWater[station] = ts.UTC()
	}
	if err := rows.Err(); err != nil {
		return storageErr("load high-water marks", err)
	}

	// Prime approximate row counts for the soft capacity cap.
	for _, table := range []string{
		EntitySamples, EntityReadings, EntityEnriched,
		EntityPredictions, EntityAlerts, EntityIrrigation,
	} {
		var n int64
		if err := s.conn.QueryRow(`SELECT count(*) FROM ` + table).Scan(&n); err != nil {
			return storageErr("count "+table, err)
		}
		s.approxRows[table] = n
	}

	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return storageErr("close", s.conn.Close())
}

// Ping verifies the connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return storageErr("ping", s.conn.PingContext(ctx))
}

// capacityCheck reserves n rows in table, failing with ErrStoreFull if
// the soft cap would be exceeded. Must be undone with capacityRelease
// when the append fails.
func (s *Store) capacityCheck(table string, n int) error {
	s.rowsMu.Lock()
	defer s.rowsMu.Unlock()
	if s.approxRows[table]+int64(n) > s.cfg.SoftCapRows {
		return fmt.Errorf("%s at %d rows: %w", table, s.approxRows[table], ErrStoreFull)
	}
	s.approxRows[table] += int64(n)
	return nil
}

func (s *Store) capacityRelease(table string, n int) {
	s.rowsMu.Lock()
	s.approxRows[table] -= int64(n)
	s.rowsMu.Unlock()
}
