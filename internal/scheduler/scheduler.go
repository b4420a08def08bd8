// Agromet - Agricultural Telemetry and Decision Pipeline for Quillota
// Copyright 2026 J. Cortes (jcortesq)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcortesq/agromet

// Package scheduler drives the pipeline: a coordinator ticks at the
// configured cadence, fans work items into a bounded queue, and a fixed
// worker pool drains them with per-item timeouts and exponential-backoff
// retries. The coordinator never blocks on item work.
package scheduler

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/jcortesq/agromet/internal/config"
	"github.com/jcortesq/agromet/internal/ingest"
	"github.com/jcortesq/agromet/internal/logging"
	"github.com/jcortesq/agromet/internal/metrics"
	"github.com/jcortesq/agromet/internal/model"
	"github.com/jcortesq/agromet/internal/store"
)

const (
	retryBaseInterval = time.Second
	retryMaxInterval  = 60 * time.Second
	retryFactor       = 2.0
)

// Result reports an item's throughput for the per-stage metric.
type Result struct {
	Input  int
	Output int
}

// Item is one (stage, payload) unit of work. The payload is captured by
// the Run closure so the queue stays homogeneous.
type Item struct {
	Stage string
	Run   func(ctx context.Context) (Result, error)
}

// PlanFunc produces one tick's items in pipeline dependency order.
type PlanFunc func(now time.Time) []Item

// Stats is a point-in-time counter snapshot. Every enqueued item is
// eventually counted completed or cancelled, including items dropped on
// a full queue or force-cancelled at shutdown.
type Stats struct {
	Enqueued  uint64 `json:"enqueued"`
	Completed uint64 `json:"completed"`
	Cancelled uint64 `json:"cancelled"`
	Depth     int    `json:"depth"`
	BatchSize int    `json:"batch_size"`
}

type queued struct {
	item Item
	tick time.Time
}

// Scheduler owns the tick loop, the work queue and the worker pool.
type Scheduler struct {
	cfg     config.SchedulerConfig
	cadence time.Duration
	jitter  float64
	plan    PlanFunc
	ing     ingest.Ingestor
	st      *store.Store
	rng     *rand.Rand

	queue chan queued

	enqueued  atomic.Uint64
	completed atomic.Uint64
	cancelled atomic.Uint64

	// reducing is coordinator-only state for the backpressure latch.
	reducing bool
}

// New builds a scheduler. The ingestor and store are optional: without
// an ingestor backpressure is a no-op, without a store stage metrics are
// exported to Prometheus only.
func New(cfg config.SchedulerConfig, cadence time.Duration, jitter float64,
	plan PlanFunc, ing ingest.Ingestor, st *store.Store) *Scheduler {

	if cadence <= 0 {
		cadence = time.Minute
	}
	return &Scheduler{
		cfg:     cfg,
		cadence: cadence,
		jitter:  jitter,
		plan:    plan,
		ing:     ing,
		st:      st,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		queue:   make(chan queued, cfg.QueueDepth),
	}
}

func (s *Scheduler) String() string { return "scheduler" }

// Serve runs the coordinator until ctx is cancelled, then refuses new
// ticks, drains the queue up to the grace period, and force-cancels
// whatever remains.
func (s *Scheduler) Serve(ctx context.Context) error {
	workCtx, cancelWork := context.WithCancel(context.Background())
	defer cancelWork()

	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.worker(workCtx)
		}()
	}

	timer := time.NewTimer(s.nextDelay())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			close(s.queue)
			drained := make(chan struct{})
			go func() {
				wg.Wait()
				close(drained)
			}()
			grace := time.Duration(s.cfg.GracePeriodSec) * time.Second
			select {
			case <-drained:
			case <-time.After(grace):
				logging.Warn().
					Dur("grace", grace).
					Msg("Scheduler drain exceeded grace period, force-cancelling")
				cancelWork()
				<-drained
			}
			logging.Info().
				Uint64("enqueued", s.enqueued.Load()).
				Uint64("completed", s.completed.Load()).
				Uint64("cancelled", s.cancelled.Load()).
				Msg("Scheduler stopped")
			return ctx.Err()

		case <-timer.C:
			s.tick()
			timer.Reset(s.nextDelay())
		}
	}
}

// tick applies backpressure, plans the work and enqueues it without
// ever blocking the coordinator. Items that do not fit are counted
// cancelled immediately.
func (s *Scheduler) tick() {
	s.adjustBackpressure()

	now := time.Now()
	for _, item := range s.plan(now) {
		s.enqueued.Add(1)
		metrics.ItemsEnqueued.Inc()
		select {
		case s.queue <- queued{item: item, tick: now}:
		default:
			s.cancelled.Add(1)
			metrics.ItemsCancelled.Inc()
			logging.Warn().
				Str("stage", item.Stage).
				Msg("Work queue full, item cancelled")
		}
	}
	metrics.QueueDepth.Set(float64(len(s.queue)))
}

// adjustBackpressure signals the ingestor per tick: halve the batch at
// or above 90% depth, restore by one below 50%, hold in between.
func (s *Scheduler) adjustBackpressure() {
	if s.ing == nil {
		return
	}
	depth := len(s.queue)
	capacity := s.cfg.QueueDepth
	switch {
	case depth*10 >= capacity*9:
		if !s.reducing {
			metrics.BackpressureActivations.Inc()
			logging.Warn().
				Int("depth", depth).
				Int("capacity", capacity).
				Msg("Queue backpressure engaged")
		}
		s.reducing = true
		s.ing.Reduce()
	case depth*2 < capacity:
		s.reducing = false
		s.ing.Grow()
	}
}

func (s *Scheduler) worker(ctx context.Context) {
	for q := range s.queue {
		metrics.QueueDepth.Set(float64(len(s.queue)))
		if ctx.Err() != nil {
			// Force-cancel phase: drain without running.
			s.cancelled.Add(1)
			metrics.ItemsCancelled.Inc()
			continue
		}
		s.runItem(ctx, q)
	}
}

// runItem executes one item with the per-attempt timeout, retrying up
// to MaxRetries with exponential backoff. Exhausted or cancelled items
// are counted cancelled.
func (s *Scheduler) runItem(ctx context.Context, q queued) {
	started := time.Now()
	var res Result
	errCount := 0

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = retryBaseInterval
	bo.Multiplier = retryFactor
	bo.MaxInterval = retryMaxInterval
	bo.MaxElapsedTime = 0

	timeout := time.Duration(s.cfg.ItemTimeoutSec) * time.Second
	attempts := s.cfg.MaxRetries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			metrics.ItemRetries.Inc()
			select {
			case <-time.After(bo.NextBackOff()):
			case <-ctx.Done():
				s.finishCancelled(q, started, res, errCount)
				return
			}
		}

		itemCtx, cancel := context.WithTimeout(ctx, timeout)
		r, err := q.item.Run(itemCtx)
		cancel()
		if err == nil {
			s.completed.Add(1)
			metrics.ItemsCompleted.Inc()
			s.recordStage(q, started, r, errCount)
			return
		}
		errCount++
		logging.Warn().
			Err(err).
			Str("stage", q.item.Stage).
			Int("attempt", attempt+1).
			Msg("Work item failed")
		if ctx.Err() != nil {
			break
		}
	}
	s.finishCancelled(q, started, res, errCount)
}

func (s *Scheduler) finishCancelled(q queued, started time.Time, res Result, errCount int) {
	s.cancelled.Add(1)
	metrics.ItemsCancelled.Inc()
	s.recordStage(q, started, res, errCount)
}

// recordStage persists the per-stage metric. A background context is
// used so shutdown force-cancels cannot lose the tick's bookkeeping.
func (s *Scheduler) recordStage(q queued, started time.Time, res Result, errCount int) {
	metrics.ObserveStage(q.item.Stage, started, res.Input, res.Output, errCount)
	if s.st == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	m := &model.StageMetric{
		Stage:       q.item.Stage,
		StartedAt:   started.UTC(),
		EndedAt:     time.Now().UTC(),
		InputCount:  res.Input,
		OutputCount: res.Output,
		ErrorCount:  errCount,
	}
	if err := s.st.AppendStageMetric(ctx, m); err != nil {
		logging.Error().Err(err).Str("stage", q.item.Stage).Msg("Failed to persist stage metric")
	}
}

// nextDelay is the cadence with uniform jitter applied.
func (s *Scheduler) nextDelay() time.Duration {
	if s.jitter <= 0 {
		return s.cadence
	}
	spread := (s.rng.Float64()*2 - 1) * s.jitter
	return time.Duration(float64(s.cadence) * (1 + spread))
}

// Stats returns a counter snapshot for the monitoring API.
func (s *Scheduler) Stats() Stats {
	st := Stats{
		Enqueued:  s.enqueued.Load(),
		Completed: s.completed.Load(),
		Cancelled: s.cancelled.Load(),
		Depth:     len(s.queue),
	}
	if s.ing != nil {
		st.BatchSize = s.ing.BatchSize()
	}
	return st
}
