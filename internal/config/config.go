// Agromet - Agricultural Telemetry and Decision Pipeline for Quillota
// Copyright 2026 J. Cortes (jcortesq)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcortesq/agromet

// Package config loads Agromet configuration with Koanf v2 from layered
// sources: built-in defaults, an optional YAML file, then environment
// variables (highest priority).
package config

import (
	"time"
)

// Config is the root configuration for the Agromet process.
type Config struct {
	Logging    LoggingConfig    `koanf:"logging"`
	Store      StoreConfig      `koanf:"store"`
	Catalog    CatalogConfig    `koanf:"catalog"`
	Ingest     IngestConfig     `koanf:"ingest"`
	Validator  ValidatorConfig  `koanf:"validator"`
	Predictor  PredictorConfig  `koanf:"predictor"`
	Alerts     AlertsConfig     `koanf:"alerts"`
	Irrigation IrrigationConfig `koanf:"irrigation"`
	Scheduler  SchedulerConfig  `koanf:"scheduler"`
	Publisher  PublisherConfig  `koanf:"publisher"`
	NATS       NATSConfig       `koanf:"nats"`
	WAL        WALConfig        `koanf:"wal"`
	Server     ServerConfig     `koanf:"server"`
}

// LoggingConfig controls the global zerolog logger.
type LoggingConfig struct {
	Level  string `koanf:"level"`  // trace, debug, info, warn, error
	Format string `koanf:"format"` // json or console
	Caller bool   `koanf:"caller"`
}

// StoreConfig controls the DuckDB sample store.
type StoreConfig struct {
	// Path is the DuckDB database file. Use ":memory:" for tests.
	Path string `koanf:"path"`

	// MaxMemory caps DuckDB memory usage (e.g. "1GB").
	MaxMemory string `koanf:"max_memory"`

	// Threads is the DuckDB thread count. 0 = runtime.NumCPU().
	Threads int `koanf:"threads"`

	// SoftCapRows is the soft capacity threshold per entity table.
	// Appends beyond it fail with ErrStoreFull.
	SoftCapRows int64 `koanf:"soft_cap_rows"`
}

// CatalogConfig points at optional reference-data overrides.
type CatalogConfig struct {
	// Path is an optional YAML file overriding the compiled-in
	// Quillota reference data. Empty means built-in defaults only.
	Path string `koanf:"path"`
}

// IngestConfig controls the sample ingestor.
type IngestConfig struct {
	Mode       string  `koanf:"mode"`        // synthetic or real
	CadenceSec int     `koanf:"cadence_sec"` // >= 1
	BatchSize  int     `koanf:"batch_size"`  // >= 1
	Jitter     float64 `koanf:"jitter"`      // 0.0-0.3

	// Seed makes synthetic generation deterministic. 0 = time-based.
	Seed int64 `koanf:"seed"`

	// FeedPath is the NDJSON feed source for real mode.
	FeedPath string `koanf:"feed_path"`

	// FeedRatePerSec rate-limits real-mode record consumption. 0 = unlimited.
	FeedRatePerSec float64 `koanf:"feed_rate_per_sec"`
}

// ValidatorConfig controls sample quality gating.
type ValidatorConfig struct {
	// QualityThreshold is the inclusive lower bound for acceptance.
	QualityThreshold float64 `koanf:"quality_threshold"`
}

// PredictorConfig controls the forecaster registry.
type PredictorConfig struct {
	RetrainWindowDays   int `koanf:"retrain_window_days"`
	DegradedCooldownSec int `koanf:"degraded_cooldown_sec"`

	// Horizons is the number of discrete steps forecast per variable.
	Horizons int `koanf:"horizons"`

	// EvalWindow is the number of recent evaluations used for
	// inverse-MSE ensemble weighting.
	EvalWindow int `koanf:"eval_window"`
}

// AlertsConfig controls the rule engine's alert lifecycle.
type AlertsConfig struct {
	CoolingWindowSec int `koanf:"cooling_window_sec"`

	// Actions overrides the per-kind recommended action table; the
	// ES variants override the Spanish presentation strings.
	Actions    map[string]string `koanf:"actions"`
	MessagesES map[string]string `koanf:"messages_es"`
	ActionsES  map[string]string `koanf:"actions_es"`
}

// IrrigationConfig controls the irrigation controller.
type IrrigationConfig struct {
	WindowStart    string  `koanf:"window_start"` // local time HH:MM
	WindowEnd      string  `koanf:"window_end"`   // local time HH:MM
	MinDurationMin float64 `koanf:"min_duration_min"`
	MaxDurationMin float64 `koanf:"max_duration_min"`
	Efficiency     float64 `koanf:"efficiency"`      // volume efficiency factor
	DailyQuotaMin  float64 `koanf:"daily_quota_min"` // per-actuator minutes/day, 0 = unlimited
	Timezone       string  `koanf:"timezone"`
}

// SchedulerConfig controls the tick loop, queue and worker pool.
type SchedulerConfig struct {
	Workers        int `koanf:"workers"`          // >= 1
	QueueDepth     int `koanf:"queue_depth"`      // >= 16
	ItemTimeoutSec int `koanf:"item_timeout_sec"` // >= 1
	MaxRetries     int `koanf:"max_retries"`      // >= 0
	GracePeriodSec int `koanf:"grace_period_sec"` // shutdown drain budget
}

// PublisherConfig controls topic fan-out and subscriber lag policing.
type PublisherConfig struct {
	LagDropThreshold int `koanf:"lag_drop_threshold"` // >= 1
	LagPollSec       int `koanf:"lag_poll_sec"`
}

// NATSConfig controls the embedded JetStream broker.
type NATSConfig struct {
	Embedded  bool   `koanf:"embedded"`
	URL       string `koanf:"url"` // used when Embedded is false
	Host      string `koanf:"host"`
	Port      int    `koanf:"port"`
	StoreDir  string `koanf:"store_dir"`
	MaxMemory int64  `koanf:"max_memory"`
	MaxStore  int64  `koanf:"max_store"`

	StreamRetentionDays int `koanf:"stream_retention_days"`
}

// WALConfig controls the badger write-ahead log in front of publishing.
type WALConfig struct {
	Path          string        `koanf:"path"`
	RetryInterval time.Duration `koanf:"retry_interval"`
	MaxAttempts   int           `koanf:"max_attempts"`
}

// ServerConfig controls the monitoring HTTP server.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port"`
	Timeout time.Duration `koanf:"timeout"`
}

// defaultConfig returns a Config with all defaults applied. These match
// the defaults in the configuration surface documentation.
func defaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
		Store: StoreConfig{
			Path:        "data/agromet.duckdb",
			MaxMemory:   "1GB",
			Threads:     0,
			SoftCapRows: 10_000_000,
		},
		Catalog: CatalogConfig{
			Path: "",
		},
		Ingest: IngestConfig{
			Mode:           "synthetic",
			CadenceSec:     60,
			BatchSize:      50,
			Jitter:         0.1,
			Seed:           0,
			FeedPath:       "",
			FeedRatePerSec: 0,
		},
		Validator: ValidatorConfig{
			QualityThreshold: 0.5,
		},
		Predictor: PredictorConfig{
			RetrainWindowDays:   30,
			DegradedCooldownSec: 900,
			Horizons:            6,
			EvalWindow:          20,
		},
		Alerts: AlertsConfig{
			CoolingWindowSec: 1800,
			Actions:          nil, // built-in table
		},
		Irrigation: IrrigationConfig{
			WindowStart:    "06:00",
			WindowEnd:      "18:00",
			MinDurationMin: 10,
			MaxDurationMin: 90,
			Efficiency:     0.85,
			DailyQuotaMin:  180,
			Timezone:       "America/Santiago",
		},
		Scheduler: SchedulerConfig{
			Workers:        4,
			QueueDepth:     1000,
			ItemTimeoutSec: 30,
			MaxRetries:     3,
			GracePeriodSec: 10,
		},
		Publisher: PublisherConfig{
			LagDropThreshold: 1000,
			LagPollSec:       15,
		},
		NATS: NATSConfig{
			Embedded:            true,
			URL:                 "nats://127.0.0.1:4222",
			Host:                "127.0.0.1",
			Port:                4222,
			StoreDir:            "data/nats/jetstream",
			MaxMemory:           1 << 30,
			MaxStore:            4 << 30,
			StreamRetentionDays: 7,
		},
		WAL: WALConfig{
			Path:          "data/wal",
			RetryInterval: 30 * time.Second,
			MaxAttempts:   10,
		},
		Server: ServerConfig{
			Host:    "0.0.0.0",
			Port:    8590,
			Timeout: 30 * time.Second,
		},
	}
}
