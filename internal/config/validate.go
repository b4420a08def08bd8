// Agromet - Agricultural Telemetry and Decision Pipeline for Quillota
// Copyright 2026 J. Cortes (jcortesq)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcortesq/agromet

package config

import (
	"fmt"
	"time"
)

// Validate checks that the configuration is complete and in range.
func (c *Config) Validate() error {
	if err := c.validateIngest(); err != nil {
		return err
	}
	if err := c.validateValidator(); err != nil {
		return err
	}
	if err := c.validatePredictor(); err != nil {
		return err
	}
	if err := c.validateIrrigation(); err != nil {
		return err
	}
	if err := c.validateScheduler(); err != nil {
		return err
	}
	if err := c.validatePublisher(); err != nil {
		return err
	}
	return c.validateStore()
}

func (c *Config) validateIngest() error {
	switch c.Ingest.Mode {
	case "synthetic", "real":
	default:
		return fmt.Errorf("ingest.mode must be 'synthetic' or 'real', got %q", c.Ingest.Mode)
	}
	if c.Ingest.CadenceSec < 1 {
		return fmt.Errorf("ingest.cadence_sec must be >= 1, got %d", c.Ingest.CadenceSec)
	}
	if c.Ingest.BatchSize < 1 {
		return fmt.Errorf("ingest.batch_size must be >= 1, got %d", c.Ingest.BatchSize)
	}
	if c.Ingest.Jitter < 0 || c.Ingest.Jitter > 0.3 {
		return fmt.Errorf("ingest.jitter must be in [0.0, 0.3], got %v", c.Ingest.Jitter)
	}
	if c.Ingest.Mode == "real" && c.Ingest.FeedPath == "" {
		return fmt.Errorf("ingest.feed_path is required in real mode")
	}
	return nil
}

func (c *Config) validateValidator() error {
	if t := c.Validator.QualityThreshold; t < 0 || t > 1 {
		return fmt.Errorf("validator.quality_threshold must be in [0.0, 1.0], got %v", t)
	}
	return nil
}

func (c *Config) validatePredictor() error {
	if c.Predictor.RetrainWindowDays < 1 {
		return fmt.Errorf("predictor.retrain_window_days must be >= 1, got %d", c.Predictor.RetrainWindowDays)
	}
	if c.Predictor.DegradedCooldownSec < 0 {
		return fmt.Errorf("predictor.degraded_cooldown_sec must be >= 0, got %d", c.Predictor.DegradedCooldownSec)
	}
	if c.Predictor.Horizons < 1 {
		return fmt.Errorf("predictor.horizons must be >= 1, got %d", c.Predictor.Horizons)
	}
	return nil
}

func (c *Config) validateIrrigation() error {
	start, err := ParseClock(c.Irrigation.WindowStart)
	if err != nil {
		return fmt.Errorf("irrigation.window_start: %w", err)
	}
	end, err := ParseClock(c.Irrigation.WindowEnd)
	if err != nil {
		return fmt.Errorf("irrigation.window_end: %w", err)
	}
	if !start.Before(end) {
		return fmt.Errorf("irrigation window start %s must precede end %s",
			c.Irrigation.WindowStart, c.Irrigation.WindowEnd)
	}
	if c.Irrigation.MinDurationMin <= 0 || c.Irrigation.MaxDurationMin < c.Irrigation.MinDurationMin {
		return fmt.Errorf("irrigation duration bounds invalid: min %v, max %v",
			c.Irrigation.MinDurationMin, c.Irrigation.MaxDurationMin)
	}
	if c.Irrigation.Efficiency <= 0 || c.Irrigation.Efficiency > 1 {
		return fmt.Errorf("irrigation.efficiency must be in (0, 1], got %v", c.Irrigation.Efficiency)
	}
	if _, err := time.LoadLocation(c.Irrigation.Timezone); err != nil {
		return fmt.Errorf("irrigation.timezone: %w", err)
	}
	return nil
}

func (c *Config) validateScheduler() error {
	if c.Scheduler.Workers < 1 {
		return fmt.Errorf("scheduler.workers must be >= 1, got %d", c.Scheduler.Workers)
	}
	if c.Scheduler.QueueDepth < 16 {
		return fmt.Errorf("scheduler.queue_depth must be >= 16, got %d", c.Scheduler.QueueDepth)
	}
	if c.Scheduler.ItemTimeoutSec < 1 {
		return fmt.Errorf("scheduler.item_timeout_sec must be >= 1, got %d", c.Scheduler.ItemTimeoutSec)
	}
	if c.Scheduler.MaxRetries < 0 {
		return fmt.Errorf("scheduler.max_retries must be >= 0, got %d", c.Scheduler.MaxRetries)
	}
	return nil
}

func (c *Config) validatePublisher() error {
	if c.Publisher.LagDropThreshold < 1 {
		return fmt.Errorf("publisher.lag_drop_threshold must be >= 1, got %d", c.Publisher.LagDropThreshold)
	}
	return nil
}

func (c *Config) validateStore() error {
	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	if c.Store.SoftCapRows < 1 {
		return fmt.Errorf("store.soft_cap_rows must be >= 1, got %d", c.Store.SoftCapRows)
	}
	return nil
}

// Clock is a time-of-day without a date, used for irrigation windows.
type Clock struct {
	Hour   int
	Minute int
}

// Before reports whether c is strictly earlier in the day than other.
func (c Clock) Before(other Clock) bool {
	return c.Hour*60+c.Minute < other.Hour*60+other.Minute
}

// Minutes returns minutes since midnight.
func (c Clock) Minutes() int { return c.Hour*60 + c.Minute }

// ParseClock parses "HH:MM" into a Clock.
func ParseClock(s string) (Clock, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return Clock{}, fmt.Errorf("invalid HH:MM value %q", s)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return Clock{}, fmt.Errorf("clock %q out of range", s)
	}
	return Clock{Hour: h, Minute: m}, nil
}
