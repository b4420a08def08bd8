// Agromet - Agricultural Telemetry and Decision Pipeline for Quillota
// Copyright 2026 J. Cortes (jcortesq)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcortesq/agromet

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveStage(t *testing.T) {
	before := testutil.ToFloat64(StageItems.WithLabelValues("validate", "in"))

	ObserveStage("validate", time.Now(), 10, 8, 2)

	if got := testutil.ToFloat64(StageItems.WithLabelValues("validate", "in")); got != before+10 {
		t.Errorf("expected in counter to grow by 10, got delta %v", got-before)
	}
	if got := testutil.ToFloat64(StageErrors.WithLabelValues("validate")); got < 2 {
		t.Errorf("expected error counter >= 2, got %v", got)
	}
}

func TestRecordAppendReject(t *testing.T) {
	before := testutil.ToFloat64(StoreAppendRejects.WithLabelValues("samples", "out_of_order"))

	RecordAppendReject("samples", "out_of_order")

	after := testutil.ToFloat64(StoreAppendRejects.WithLabelValues("samples", "out_of_order"))
	if after != before+1 {
		t.Errorf("expected reject counter +1, got delta %v", after-before)
	}
}

func TestSubscriberLagGauge(t *testing.T) {
	SubscriberLag.WithLabelValues("reports").Set(42)

	if got := testutil.ToFloat64(SubscriberLag.WithLabelValues("reports")); got != 42 {
		t.Errorf("expected gauge 42, got %v", got)
	}
}
