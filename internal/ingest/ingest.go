// Agromet - Agricultural Telemetry and Decision Pipeline for Quillota
// Copyright 2026 J. Cortes (jcortesq)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcortesq/agromet

// Package ingest produces one batch of samples and sensor readings per
// pipeline tick, either synthesized from station climate anchors or
// consumed from an NDJSON feed.
package ingest

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/jcortesq/agromet/internal/catalog"
	"github.com/jcortesq/agromet/internal/config"
	"github.com/jcortesq/agromet/internal/model"
)

// Batch is one tick's worth of raw input.
type Batch struct {
	Samples  []*model.Sample
	Readings []*model.Reading
}

// Ingestor produces batches. Implementations adjust batch size under
// backpressure through Reduce/Grow.
type Ingestor interface {
	// Pull produces the next batch. Transient source failures surface
	// as *IngestError; callers retry per scheduler policy.
	Pull(ctx context.Context) (*Batch, error)

	// BatchSize reports the current per-tick sample budget.
	BatchSize() int

	// Reduce halves the batch size (floor 1) under backpressure.
	Reduce()

	// Grow raises the batch size by one, up to the configured value.
	Grow()
}

// New selects the ingestor for the configured mode.
func New(cfg config.IngestConfig, cat *catalog.Catalog) (Ingestor, error) {
	switch cfg.Mode {
	case "synthetic":
		return NewSynthetic(cfg, cat), nil
	case "real":
		return NewFeed(cfg, cat)
	default:
		return nil, fmt.Errorf("unknown ingest mode %q", cfg.Mode)
	}
}

// batchControl implements the shared batch-size adjustment protocol.
type batchControl struct {
	configured int64
	size       atomic.Int64
}

func newBatchControl(configured int) *batchControl {
	bc := &batchControl{configured: int64(configured)}
	bc.size.Store(int64(configured))
	return bc
}

func (b *batchControl) BatchSize() int { return int(b.size.Load()) }

func (b *batchControl) Reduce() {
	for {
		cur := b.size.Load()
		next := cur / 2
		if next < 1 {
			next = 1
		}
		if b.size.CompareAndSwap(cur, next) {
			return
		}
	}
}

func (b *batchControl) Grow() {
	for {
		cur := b.size.Load()
		if cur >= b.configured {
			return
		}
		if b.size.CompareAndSwap(cur, cur+1) {
			return
		}
	}
}
