// Agromet - Agricultural Telemetry and Decision Pipeline for Quillota
// Copyright 2026 J. Cortes (jcortesq)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcortesq/agromet

package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jcortesq/agromet/internal/catalog"
	"github.com/jcortesq/agromet/internal/config"
	"github.com/jcortesq/agromet/internal/model"
)

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.New(catalog.DefaultData())
	if err != nil {
		t.Fatalf("catalog.New: %v", err)
	}
	return cat
}

func syntheticConfig() config.IngestConfig {
	return config.IngestConfig{
		Mode:       "synthetic",
		CadenceSec: 60,
		BatchSize:  24,
		Seed:       42,
	}
}

// pinStart aligns every station clock so runs are comparable.
func pinStart(s *Synthetic, at time.Time) {
	for _, st := range s.stations {
		st.next = at
	}
}

func TestSyntheticDeterministic(t *testing.T) {
	t.Parallel()
	cat := testCatalog(t)
	ctx := context.Background()
	start := time.Date(2026, 6, 15, 3, 0, 0, 0, time.UTC)

	s1 := NewSynthetic(syntheticConfig(), cat)
	pinStart(s1, start)
	a, err := s1.Pull(ctx)
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	s2 := NewSynthetic(syntheticConfig(), cat)
	pinStart(s2, start)
	b, err := s2.Pull(ctx)
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}

	if len(a.Samples) != 24 || len(b.Samples) != len(a.Samples) {
		t.Fatalf("batch sizes = %d/%d, want 24", len(a.Samples), len(b.Samples))
	}
	for i := range a.Samples {
		if model.Value(a.Samples[i].Temperature) != model.Value(b.Samples[i].Temperature) {
			t.Fatalf("sample %d differs across equal seeds", i)
		}
	}
}

func TestSyntheticRanges(t *testing.T) {
	t.Parallel()
	s := NewSynthetic(syntheticConfig(), testCatalog(t))

	for tick := 0; tick < 20; tick++ {
		batch, err := s.Pull(context.Background())
		if err != nil {
			t.Fatalf("Pull: %v", err)
		}
		for _, sm := range batch.Samples {
			h := model.Value(sm.Humidity)
			if h < 0 || h > 100 {
				t.Fatalf("humidity out of range: %v", h)
			}
			if model.Value(sm.Precipitation) < 0 {
				t.Fatalf("negative precipitation: %v", model.Value(sm.Precipitation))
			}
			if model.Value(sm.WindSpeed) < 0 {
				t.Fatalf("negative wind: %v", model.Value(sm.WindSpeed))
			}
			if sm.Quality != 1.0 || sm.Source != "synthetic" {
				t.Fatalf("bad provenance: %+v", sm)
			}
		}
		for _, r := range batch.Readings {
			if !model.ValidReadingKind(r.Kind) {
				t.Fatalf("unknown reading kind %q", r.Kind)
			}
			if r.Kind == model.ReadingSoilMoisture && (r.Value < 0 || r.Value > 100) {
				t.Fatalf("soil moisture out of range: %v", r.Value)
			}
		}
	}
}

func TestSyntheticMonotonicPerStation(t *testing.T) {
	t.Parallel()
	s := NewSynthetic(syntheticConfig(), testCatalog(t))

	last := make(map[string]time.Time)
	for tick := 0; tick < 5; tick++ {
		batch, err := s.Pull(context.Background())
		if err != nil {
			t.Fatalf("Pull: %v", err)
		}
		for _, sm := range batch.Samples {
			if prev, ok := last[sm.StationID]; ok {
				step := sm.Timestamp.Sub(prev)
				if step != 60*time.Second {
					t.Fatalf("station %s advanced by %v, want exactly 60s", sm.StationID, step)
				}
			}
			last[sm.StationID] = sm.Timestamp
		}
	}
}

func TestSyntheticNoActiveStations(t *testing.T) {
	t.Parallel()
	data := catalog.DefaultData()
	for i := range data.Stations {
		data.Stations[i].Active = false
	}
	cat, err := catalog.New(data)
	if err != nil {
		t.Fatalf("catalog.New: %v", err)
	}

	s := NewSynthetic(syntheticConfig(), cat)
	batch, err := s.Pull(context.Background())
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if len(batch.Samples) != 0 || len(batch.Readings) != 0 {
		t.Fatalf("batch = %d samples, %d readings, want empty",
			len(batch.Samples), len(batch.Readings))
	}
}

func TestBatchControl(t *testing.T) {
	t.Parallel()
	bc := newBatchControl(50)

	bc.Reduce()
	if got := bc.BatchSize(); got != 25 {
		t.Fatalf("after reduce = %d, want 25", got)
	}
	bc.Grow()
	if got := bc.BatchSize(); got != 26 {
		t.Fatalf("after grow = %d, want 26", got)
	}

	for i := 0; i < 10; i++ {
		bc.Reduce()
	}
	if got := bc.BatchSize(); got != 1 {
		t.Fatalf("reduce floor = %d, want 1", got)
	}
	for i := 0; i < 200; i++ {
		bc.Grow()
	}
	if got := bc.BatchSize(); got != 50 {
		t.Fatalf("grow cap = %d, want 50", got)
	}
}

func TestNewUnknownMode(t *testing.T) {
	t.Parallel()
	if _, err := New(config.IngestConfig{Mode: "psychic"}, testCatalog(t)); err == nil {
		t.Fatal("unknown mode accepted")
	}
}

func TestFeedPull(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "feed.ndjson")
	lines := `{"station_id":"quillota_centro","timestamp":"2026-06-15T03:00:00Z","temperature":4.2,"humidity":88}
{"station_id":"quillota_centro","timestamp":"2026-06-15T03:01:00Z","sensor_id":"qc_sm_01","kind":"soil_moisture","value":24.5,"unit":"%","battery":90,"signal":80}
{"station_id":"atlantis","timestamp":"2026-06-15T03:00:00Z","temperature":20}
not json at all
{"station_id":"la_cruz","timestamp":"2026-06-15T03:00:00Z","temperature":6.1}
`
	if err := os.WriteFile(path, []byte(lines), 0o600); err != nil {
		t.Fatalf("write feed: %v", err)
	}

	f, err := NewFeed(config.IngestConfig{
		Mode: "real", CadenceSec: 60, BatchSize: 10, FeedPath: path,
	}, testCatalog(t))
	if err != nil {
		t.Fatalf("NewFeed: %v", err)
	}
	defer f.Close()

	batch, err := f.Pull(context.Background())
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if len(batch.Samples) != 2 {
		t.Fatalf("samples = %d, want 2 (unknown station and junk dropped)", len(batch.Samples))
	}
	if len(batch.Readings) != 1 || batch.Readings[0].SensorID != "qc_sm_01" {
		t.Fatalf("readings = %+v", batch.Readings)
	}
	if batch.Samples[0].Source != "feed" {
		t.Fatalf("source = %q, want feed", batch.Samples[0].Source)
	}

	// Exhausted feed surfaces as IngestError.
	_, err = f.Pull(context.Background())
	var ierr *IngestError
	if !errors.As(err, &ierr) {
		t.Fatalf("exhausted feed err = %v, want *IngestError", err)
	}
}

func TestFeedMissingFile(t *testing.T) {
	t.Parallel()
	f, err := NewFeed(config.IngestConfig{
		Mode: "real", CadenceSec: 60, BatchSize: 10,
		FeedPath: filepath.Join(t.TempDir(), "missing.ndjson"),
	}, testCatalog(t))
	if err != nil {
		t.Fatalf("NewFeed: %v", err)
	}
	var ierr *IngestError
	if _, err := f.Pull(context.Background()); !errors.As(err, &ierr) {
		t.Fatalf("missing feed err = %v, want *IngestError", err)
	}
}
