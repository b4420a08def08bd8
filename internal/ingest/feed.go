// Agromet - Agricultural Telemetry and Decision Pipeline for Quillota
// Copyright 2026 J. Cortes (jcortesq)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcortesq/agromet

package ingest

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/jcortesq/agromet/internal/catalog"
	"github.com/jcortesq/agromet/internal/config"
	"github.com/jcortesq/agromet/internal/logging"
	"github.com/jcortesq/agromet/internal/model"
)

// feedRecord is one NDJSON line from the external collector.
type feedRecord struct {
	StationID      string    `json:"station_id" validate:"required"`
	Timestamp      time.Time `json:"timestamp" validate:"required"`
	Temperature    *float64  `json:"temperature"`
	Humidity       *float64  `json:"humidity"`
	Pressure       *float64  `json:"pressure"`
	WindSpeed      *float64  `json:"wind_speed"`
	WindDirection  *float64  `json:"wind_direction"`
	Precipitation  *float64  `json:"precipitation"`
	SolarRadiation *float64  `json:"solar_radiation"`

	SensorID string   `json:"sensor_id"`
	Kind     string   `json:"kind"`
	Value    *float64 `json:"value"`
	Unit     string   `json:"unit"`
	Battery  float64  `json:"battery"`
	Signal   float64  `json:"signal"`
}

// Feed consumes samples and readings from an NDJSON file produced by
// the external collector. Lines carrying a sensor_id become readings;
// the rest become samples. Unknown stations are dropped with a log.
type Feed struct {
	*batchControl

	catalog  *catalog.Catalog
	path     string
	limiter  *rate.Limiter
	validate *validator.Validate

	mu      sync.Mutex
	file    *os.File
	scanner *bufio.Scanner
}

// NewFeed opens the configured feed source lazily; availability is
// checked on the first Pull so a collector that starts late does not
// fail startup.
func NewFeed(cfg config.IngestConfig, cat *catalog.Catalog) (*Feed, error) {
	if cfg.FeedPath == "" {
		return nil, fmt.Errorf("real ingest mode requires feed_path")
	}
	var limiter *rate.Limiter
	if cfg.FeedRatePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.FeedRatePerSec), cfg.BatchSize)
	}
	return &Feed{
		batchControl: newBatchControl(cfg.BatchSize),
		catalog:      cat,
		path:         cfg.FeedPath,
		limiter:      limiter,
		validate:     validator.New(),
	}, nil
}

// Pull reads up to the current batch size of records from the feed.
// An unavailable or exhausted feed is an *IngestError; records read so
// far are returned alongside nil error when at least one line parsed.
func (f *Feed) Pull(ctx context.Context) (*Batch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.scanner == nil {
		file, err := os.Open(f.path)
		if err != nil {
			return nil, ingestErr("open feed", err)
		}
		f.file = file
		f.scanner = bufio.NewScanner(file)
		f.scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	}

	batch := &Batch{}
	n := f.BatchSize()
	for len(batch.Samples)+len(batch.Readings) < n {
		if f.limiter != nil {
			if err := f.limiter.Wait(ctx); err != nil {
				return nil, ingestErr("rate wait", err)
			}
		}
		if !f.scanner.Scan() {
			if err := f.scanner.Err(); err != nil {
				return nil, ingestErr("read feed", err)
			}
			break // EOF; return what we have
		}
		line := f.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		f.consume(line, batch)
	}

	if len(batch.Samples) == 0 && len(batch.Readings) == 0 {
		return nil, ingestErr("read feed", io.EOF)
	}
	return batch, nil
}

func (f *Feed) consume(line []byte, batch *Batch) {
	var rec feedRecord
	if err := json.Unmarshal(line, &rec); err != nil {
		logging.Warn().Err(err).Msg("Malformed feed line dropped")
		return
	}
	if err := f.validate.Struct(&rec); err != nil {
		logging.Warn().Err(err).Msg("Incomplete feed record dropped")
		return
	}
	if _, err := f.catalog.Station(rec.StationID); err != nil {
		logging.Warn().Str("station_id", rec.StationID).Msg("Feed record for unknown station dropped")
		return
	}

	if rec.SensorID != "" {
		if rec.Value == nil || !model.ValidReadingKind(model.ReadingKind(rec.Kind)) {
			logging.Warn().Str("sensor_id", rec.SensorID).Msg("Invalid feed reading dropped")
			return
		}
		batch.Readings = append(batch.Readings, &model.Reading{
			SensorID:  rec.SensorID,
			StationID: rec.StationID,
			Kind:      model.ReadingKind(rec.Kind),
			Timestamp: rec.Timestamp.UTC(),
			Value:     *rec.Value,
			Unit:      rec.Unit,
			Battery:   rec.Battery,
			Signal:    rec.Signal,
		})
		return
	}

	batch.Samples = append(batch.Samples, &model.Sample{
		StationID:      rec.StationID,
		Timestamp:      rec.Timestamp.UTC(),
		Temperature:    rec.Temperature,
		Humidity:       rec.Humidity,
		Pressure:       rec.Pressure,
		WindSpeed:      rec.WindSpeed,
		WindDirection:  rec.WindDirection,
		Precipitation:  rec.Precipitation,
		SolarRadiation: rec.SolarRadiation,
		Quality:        1.0,
		Source:         "feed",
	})
}

// Close releases the feed file.
func (f *Feed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file == nil {
		return nil
	}
	err := f.file.Close()
	f.file, f.scanner = nil, nil
	return err
}
