// Agromet - Agricultural Telemetry and Decision Pipeline for Quillota
// Copyright 2026 J. Cortes (jcortesq)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcortesq/agromet

package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jcortesq/agromet/internal/catalog"
	"github.com/jcortesq/agromet/internal/config"
	"github.com/jcortesq/agromet/internal/ingest"
	"github.com/jcortesq/agromet/internal/store"
)

func testSchedConfig() config.SchedulerConfig {
	return config.SchedulerConfig{
		Workers:        2,
		QueueDepth:     16,
		ItemTimeoutSec: 1,
		MaxRetries:     0,
		GracePeriodSec: 2,
	}
}

func noPlan(time.Time) []Item { return nil }

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached before deadline")
}

func checkInvariant(t *testing.T, s *Scheduler) {
	t.Helper()
	st := s.Stats()
	if st.Enqueued != st.Completed+st.Cancelled {
		t.Errorf("enqueued %d != completed %d + cancelled %d",
			st.Enqueued, st.Completed, st.Cancelled)
	}
}

func TestWorkerPoolCompletesItems(t *testing.T) {
	t.Parallel()

	var planned atomic.Bool
	var ran atomic.Int64
	plan := func(time.Time) []Item {
		if !planned.CompareAndSwap(false, true) {
			return nil
		}
		items := make([]Item, 3)
		for i := range items {
			items[i] = Item{Stage: "ingest", Run: func(context.Context) (Result, error) {
				ran.Add(1)
				return Result{Input: 1, Output: 1}, nil
			}}
		}
		return items
	}

	s := New(testSchedConfig(), 10*time.Millisecond, 0, plan, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	waitFor(t, 5*time.Second, func() bool { return ran.Load() == 3 })
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Serve returned %v, want context.Canceled", err)
	}

	st := s.Stats()
	if st.Completed != 3 {
		t.Errorf("completed = %d, want 3", st.Completed)
	}
	checkInvariant(t, s)
}

func TestRetryRecoversTransientFailure(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int64
	var planned atomic.Bool
	plan := func(time.Time) []Item {
		if !planned.CompareAndSwap(false, true) {
			return nil
		}
		return []Item{{Stage: "publish", Run: func(context.Context) (Result, error) {
			if attempts.Add(1) == 1 {
				return Result{}, errors.New("transient broker error")
			}
			return Result{Input: 1, Output: 1}, nil
		}}}
	}

	cfg := testSchedConfig()
	cfg.MaxRetries = 2
	s := New(cfg, 10*time.Millisecond, 0, plan, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	waitFor(t, 10*time.Second, func() bool { return s.Stats().Completed == 1 })
	cancel()
	<-done

	if got := attempts.Load(); got != 2 {
		t.Errorf("attempts = %d, want 2", got)
	}
	checkInvariant(t, s)
}

func TestRetriesExhaustedCancelsItem(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int64
	var planned atomic.Bool
	plan := func(time.Time) []Item {
		if !planned.CompareAndSwap(false, true) {
			return nil
		}
		return []Item{{Stage: "store", Run: func(context.Context) (Result, error) {
			attempts.Add(1)
			return Result{}, errors.New("persistent failure")
		}}}
	}

	cfg := testSchedConfig()
	cfg.MaxRetries = 1
	s := New(cfg, 10*time.Millisecond, 0, plan, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	waitFor(t, 10*time.Second, func() bool { return s.Stats().Cancelled == 1 })
	cancel()
	<-done

	if got := attempts.Load(); got != 2 {
		t.Errorf("attempts = %d, want 2 (original + 1 retry)", got)
	}
	if st := s.Stats(); st.Completed != 0 {
		t.Errorf("completed = %d, want 0", st.Completed)
	}
	checkInvariant(t, s)
}

func TestItemTimeoutCancelsRun(t *testing.T) {
	t.Parallel()

	var planned atomic.Bool
	plan := func(time.Time) []Item {
		if !planned.CompareAndSwap(false, true) {
			return nil
		}
		return []Item{{Stage: "predict", Run: func(ctx context.Context) (Result, error) {
			<-ctx.Done()
			return Result{}, ctx.Err()
		}}}
	}

	s := New(testSchedConfig(), 10*time.Millisecond, 0, plan, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	waitFor(t, 10*time.Second, func() bool { return s.Stats().Cancelled == 1 })
	cancel()
	<-done
	checkInvariant(t, s)
}

func TestShutdownForceCancelsRemainingItems(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	var planned atomic.Bool
	plan := func(time.Time) []Item {
		if !planned.CompareAndSwap(false, true) {
			return nil
		}
		items := []Item{{Stage: "slow", Run: func(ctx context.Context) (Result, error) {
			close(started)
			<-ctx.Done()
			return Result{}, ctx.Err()
		}}}
		for i := 0; i < 5; i++ {
			items = append(items, Item{Stage: "queued", Run: func(context.Context) (Result, error) {
				return Result{}, nil
			}})
		}
		return items
	}

	cfg := testSchedConfig()
	cfg.Workers = 1
	cfg.GracePeriodSec = 0 // force-cancel immediately on shutdown
	s := New(cfg, 10*time.Millisecond, 0, plan, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	<-started
	cancel()
	<-done

	st := s.Stats()
	if st.Enqueued != 6 {
		t.Fatalf("enqueued = %d, want 6", st.Enqueued)
	}
	if st.Cancelled != 6 {
		t.Errorf("cancelled = %d, want 6 (in-flight + queued)", st.Cancelled)
	}
	checkInvariant(t, s)
}

func TestQueueFullCountsDroppedItems(t *testing.T) {
	t.Parallel()

	plan := func(time.Time) []Item {
		items := make([]Item, 5)
		for i := range items {
			items[i] = Item{Stage: "ingest", Run: func(context.Context) (Result, error) {
				return Result{}, nil
			}}
		}
		return items
	}

	cfg := testSchedConfig()
	cfg.QueueDepth = 2
	// No workers are started: tick is driven directly.
	s := New(cfg, time.Minute, 0, plan, nil, nil)
	s.tick()

	st := s.Stats()
	if st.Enqueued != 5 {
		t.Errorf("enqueued = %d, want 5", st.Enqueued)
	}
	if st.Cancelled != 3 {
		t.Errorf("cancelled = %d, want 3 dropped", st.Cancelled)
	}
	if st.Depth != 2 {
		t.Errorf("depth = %d, want 2", st.Depth)
	}
}

func TestBackpressureHalvesThenRestores(t *testing.T) {
	t.Parallel()

	cat, err := catalog.New(catalog.DefaultData())
	if err != nil {
		t.Fatalf("building catalog: %v", err)
	}
	ing := ingest.NewSynthetic(config.IngestConfig{
		Mode: "synthetic", CadenceSec: 60, BatchSize: 50, Seed: 1,
	}, cat)

	cfg := testSchedConfig()
	cfg.QueueDepth = 20
	s := New(cfg, time.Minute, 0, noPlan, ing, nil)

	// Fill the queue to 95% depth: the next tick halves the batch.
	for i := 0; i < 19; i++ {
		s.queue <- queued{item: Item{Stage: "fill"}}
	}
	s.tick()
	if got := ing.BatchSize(); got != 25 {
		t.Fatalf("batch size after backpressure = %d, want 25", got)
	}

	// Still above 50%: the batch size holds.
	for i := 0; i < 7; i++ {
		<-s.queue
	}
	s.tick()
	if got := ing.BatchSize(); got != 25 {
		t.Fatalf("batch size in the dead band = %d, want 25", got)
	}

	// Down to 40%: one additive step per tick.
	for i := 0; i < 4; i++ {
		<-s.queue
	}
	s.tick()
	if got := ing.BatchSize(); got != 26 {
		t.Fatalf("batch size after recovery tick = %d, want 26", got)
	}
	s.tick()
	if got := ing.BatchSize(); got != 27 {
		t.Errorf("batch size after second recovery tick = %d, want 27", got)
	}
}

func TestStageMetricsPersisted(t *testing.T) {
	t.Parallel()

	st, err := store.New(config.StoreConfig{Path: ":memory:", SoftCapRows: 10000})
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	s := New(testSchedConfig(), time.Minute, 0, noPlan, nil, st)
	s.runItem(context.Background(), queued{
		tick: time.Now(),
		item: Item{Stage: "enrich", Run: func(context.Context) (Result, error) {
			return Result{Input: 10, Output: 9}, nil
		}},
	})

	metrics, err := st.StageMetricsSince(context.Background(), time.Time{})
	if err != nil {
		t.Fatalf("StageMetricsSince: %v", err)
	}
	if len(metrics) != 1 {
		t.Fatalf("expected 1 stage metric, got %d", len(metrics))
	}
	m := metrics[0]
	if m.Stage != "enrich" || m.InputCount != 10 || m.OutputCount != 9 || m.ErrorCount != 0 {
		t.Errorf("unexpected stage metric: %+v", m)
	}
}

func TestJitterBounds(t *testing.T) {
	t.Parallel()

	s := New(testSchedConfig(), 100*time.Millisecond, 0.1, noPlan, nil, nil)
	for i := 0; i < 100; i++ {
		d := s.nextDelay()
		if d < 90*time.Millisecond || d > 110*time.Millisecond {
			t.Fatalf("delay %v outside the 10%% jitter band", d)
		}
	}
}
