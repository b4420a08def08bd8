// Agromet - Agricultural Telemetry and Decision Pipeline for Quillota
// Copyright 2026 J. Cortes (jcortesq)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcortesq/agromet

package supervisor

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDefaultsAppliedForZeroConfig(t *testing.T) {
	t.Parallel()

	tree := NewTree(TreeConfig{})
	if tree.Root() == nil {
		t.Fatal("root supervisor should not be nil")
	}
	if tree.config.FailureThreshold != 5.0 {
		t.Errorf("FailureThreshold = %f, want 5.0", tree.config.FailureThreshold)
	}
	if tree.config.FailureDecay != 30.0 {
		t.Errorf("FailureDecay = %f, want 30.0", tree.config.FailureDecay)
	}
	if tree.config.FailureBackoff != 15*time.Second {
		t.Errorf("FailureBackoff = %v, want 15s", tree.config.FailureBackoff)
	}
	if tree.config.ShutdownTimeout != 10*time.Second {
		t.Errorf("ShutdownTimeout = %v, want 10s", tree.config.ShutdownTimeout)
	}
}

func TestTreeStartsAndStopsGracefully(t *testing.T) {
	t.Parallel()

	tree := NewTree(TreeConfig{
		FailureBackoff:  100 * time.Millisecond,
		ShutdownTimeout: time.Second,
	})

	messaging := NewMockService("mock-publisher")
	pipeline := NewMockService("mock-scheduler")
	api := NewMockService("mock-api")
	tree.AddMessagingService(messaging)
	tree.AddPipelineService(pipeline)
	tree.AddAPIService(api)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for messaging.StartCount() == 0 || pipeline.StartCount() == 0 || api.StartCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("services did not start")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("tree did not shut down in time")
	}

	if messaging.StopCount() == 0 || pipeline.StopCount() == 0 || api.StopCount() == 0 {
		t.Error("all services should have stopped")
	}
}

func TestCrashedServiceIsRestarted(t *testing.T) {
	t.Parallel()

	tree := NewTree(TreeConfig{
		FailureThreshold: 10,
		FailureBackoff:   50 * time.Millisecond,
		ShutdownTimeout:  time.Second,
	})

	svc := NewMockService("flaky")
	svc.SetFailCount(2)
	tree.AddPipelineService(svc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := tree.ServeBackground(ctx)

	deadline := time.Now().Add(3 * time.Second)
	for svc.StartCount() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("service restarted %d times, want >= 3", svc.StartCount())
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case <-errCh:
	case <-time.After(2 * time.Second):
		t.Fatal("tree did not shut down")
	}
}

func TestCrashIsolatedToItsLayer(t *testing.T) {
	t.Parallel()

	tree := NewTree(TreeConfig{
		FailureThreshold: 100,
		FailureBackoff:   50 * time.Millisecond,
		ShutdownTimeout:  time.Second,
	})

	flaky := NewMockService("flaky-publisher")
	flaky.SetFailCount(3)
	steady := NewMockService("steady-api")
	tree.AddMessagingService(flaky)
	tree.AddAPIService(steady)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := tree.ServeBackground(ctx)

	deadline := time.Now().Add(3 * time.Second)
	for flaky.StartCount() < 4 {
		if time.Now().After(deadline) {
			t.Fatalf("flaky service restarted %d times, want >= 4", flaky.StartCount())
		}
		time.Sleep(5 * time.Millisecond)
	}

	if got := steady.StartCount(); got != 1 {
		t.Errorf("api service started %d times, want 1; crashes should stay in their layer", got)
	}

	cancel()
	select {
	case <-errCh:
	case <-time.After(2 * time.Second):
		t.Fatal("tree did not shut down")
	}
}

func TestRemoveStopsService(t *testing.T) {
	t.Parallel()

	tree := NewTree(TreeConfig{ShutdownTimeout: time.Second})
	svc := NewMockService("removable")
	token := tree.AddPipelineService(svc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := tree.ServeBackground(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for svc.StartCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("service did not start")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := tree.RemovePipelineService(token); err != nil {
		t.Fatalf("remove: %v", err)
	}

	deadline = time.Now().Add(2 * time.Second)
	for svc.StopCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("removed service did not stop")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case <-errCh:
	case <-time.After(2 * time.Second):
		t.Fatal("tree did not shut down")
	}
}
