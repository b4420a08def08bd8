// Agromet - Agricultural Telemetry and Decision Pipeline for Quillota
// Copyright 2026 J. Cortes (jcortesq)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcortesq/agromet

package wal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jcortesq/agromet/internal/config"
)

func newTestLog(t *testing.T) *Log {
	t.Helper()
	l, err := Open(config.WALConfig{
		Path:          t.TempDir(),
		RetryInterval: time.Second,
		MaxAttempts:   10,
	})
	if err != nil {
		t.Fatalf("opening wal: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

type testPayload struct {
	StationID string  `json:"station_id"`
	Value     float64 `json:"value"`
}

func TestWriteConfirmLifecycle(t *testing.T) {
	t.Parallel()
	l := newTestLog(t)
	ctx := context.Background()

	id, err := l.Write(ctx, "alerts", &testPayload{StationID: "quillota_centro", Value: 1.5})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	pending, err := l.Pending(ctx)
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want 1", len(pending))
	}
	e := pending[0]
	if e.ID != id || e.Topic != "alerts" {
		t.Errorf("entry = %+v", e)
	}
	var p testPayload
	if err := e.UnmarshalPayload(&p); err != nil {
		t.Fatalf("UnmarshalPayload: %v", err)
	}
	if p.StationID != "quillota_centro" || p.Value != 1.5 {
		t.Errorf("payload = %+v", p)
	}

	if err := l.Confirm(ctx, id); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	pending, err = l.Pending(ctx)
	if err != nil {
		t.Fatalf("Pending after confirm: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("pending after confirm = %d, want 0", len(pending))
	}

	st := l.Stats()
	if st.Pending != 0 || st.Confirmed != 1 || st.TotalWrites != 1 || st.TotalConfirms != 1 {
		t.Errorf("stats = %+v", st)
	}
}

func TestConfirmUnknownEntry(t *testing.T) {
	t.Parallel()
	l := newTestLog(t)

	if err := l.Confirm(context.Background(), "no-such-id"); !errors.Is(err, ErrEntryNotFound) {
		t.Errorf("Confirm = %v, want ErrEntryNotFound", err)
	}
}

func TestPendingOrderedByCreation(t *testing.T) {
	t.Parallel()
	l := newTestLog(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		id, err := l.Write(ctx, "predictions", &testPayload{Value: float64(i)})
		if err != nil {
			t.Fatalf("Write %d: %v", i, err)
		}
		ids = append(ids, id)
		time.Sleep(2 * time.Millisecond)
	}

	pending, err := l.Pending(ctx)
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if len(pending) != 5 {
		t.Fatalf("pending = %d, want 5", len(pending))
	}
	for i, e := range pending {
		if e.ID != ids[i] {
			t.Errorf("position %d: got %s, want %s", i, e.ID, ids[i])
		}
	}
}

func TestMarkAttemptTracksFailures(t *testing.T) {
	t.Parallel()
	l := newTestLog(t)
	ctx := context.Background()

	id, err := l.Write(ctx, "irrigation", &testPayload{})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := l.MarkAttempt(ctx, id, errors.New("broker unavailable")); err != nil {
		t.Fatalf("MarkAttempt: %v", err)
	}
	if err := l.MarkAttempt(ctx, id, errors.New("broker unavailable")); err != nil {
		t.Fatalf("MarkAttempt: %v", err)
	}

	pending, err := l.Pending(ctx)
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want 1", len(pending))
	}
	e := pending[0]
	if e.Attempts != 2 {
		t.Errorf("attempts = %d, want 2", e.Attempts)
	}
	if e.LastError != "broker unavailable" {
		t.Errorf("last error = %q", e.LastError)
	}
	if e.LastAttemptAt.IsZero() {
		t.Error("last attempt time not recorded")
	}

	if err := l.MarkAttempt(ctx, "ghost", nil); !errors.Is(err, ErrEntryNotFound) {
		t.Errorf("MarkAttempt ghost = %v, want ErrEntryNotFound", err)
	}
}

func TestPendingSurvivesReopen(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfg := config.WALConfig{Path: dir, RetryInterval: time.Second, MaxAttempts: 10}
	ctx := context.Background()

	l, err := Open(cfg)
	if err != nil {
		t.Fatalf("opening wal: %v", err)
	}
	confirmed, err := l.Write(ctx, "alerts", &testPayload{Value: 1})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	unconfirmed, err := l.Write(ctx, "alerts", &testPayload{Value: 2})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := l.Confirm(ctx, confirmed); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	l2, err := Open(cfg)
	if err != nil {
		t.Fatalf("reopening wal: %v", err)
	}
	t.Cleanup(func() { _ = l2.Close() })

	pending, err := l2.Pending(ctx)
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != unconfirmed {
		t.Fatalf("expected only the unconfirmed entry, got %+v", pending)
	}
	if st := l2.Stats(); st.Pending != 1 {
		t.Errorf("primed pending = %d, want 1", st.Pending)
	}
}

func TestCompactSweepsConfirmed(t *testing.T) {
	t.Parallel()
	l := newTestLog(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		id, err := l.Write(ctx, "alerts", &testPayload{Value: float64(i)})
		if err != nil {
			t.Fatalf("Write: %v", err)
		}
		if err := l.Confirm(ctx, id); err != nil {
			t.Fatalf("Confirm: %v", err)
		}
	}
	if st := l.Stats(); st.Confirmed != 3 {
		t.Fatalf("confirmed before compact = %d, want 3", st.Confirmed)
	}

	if err := l.Compact(ctx); err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if st := l.Stats(); st.Confirmed != 0 {
		t.Errorf("confirmed after compact = %d, want 0", st.Confirmed)
	}
}

func TestClosedLogRejectsOperations(t *testing.T) {
	t.Parallel()
	l := newTestLog(t)
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := l.Write(context.Background(), "alerts", &testPayload{}); !errors.Is(err, ErrClosed) {
		t.Errorf("Write after close = %v, want ErrClosed", err)
	}
	if _, err := l.Pending(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Pending after close = %v, want ErrClosed", err)
	}
	// Close is idempotent.
	if err := l.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
}
