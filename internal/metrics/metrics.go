// Agromet - Agricultural Telemetry and Decision Pipeline for Quillota
// Copyright 2026 J. Cortes (jcortesq)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcortesq/agromet

// Package metrics provides Prometheus instrumentation for the pipeline:
// per-stage throughput and errors, scheduler queue depth, store
// operations, forecaster health, alerting and publish/subscribe lag.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Pipeline stage metrics
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipeline_stage_duration_seconds",
			Help:    "Duration of pipeline stage executions in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	StageItems = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_stage_items_total",
			Help: "Items processed per pipeline stage, by direction (in/out)",
		},
		[]string{"stage", "direction"},
	)

	StageErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_stage_errors_total",
			Help: "Errors raised per pipeline stage",
		},
		[]string{"stage"},
	)

	// Scheduler metrics
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scheduler_queue_depth",
			Help: "Current number of work items in the scheduler queue",
		},
	)

	ItemsEnqueued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scheduler_items_enqueued_total",
			Help: "Total work items accepted by the scheduler queue",
		},
	)

	ItemsCompleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scheduler_items_completed_total",
			Help: "Total work items completed successfully",
		},
	)

	ItemsCancelled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scheduler_items_cancelled_total",
			Help: "Total work items cancelled after retries or shutdown",
		},
	)

	ItemRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scheduler_item_retries_total",
			Help: "Total work item retry attempts",
		},
	)

	BackpressureActivations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scheduler_backpressure_activations_total",
			Help: "Times the queue crossed the backpressure high-water mark",
		},
	)

	// Store metrics
	StoreAppendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "store_append_duration_seconds",
			Help:    "Duration of store append batches in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"entity"},
	)

	StoreAppendRejects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_append_rejects_total",
			Help: "Appends rejected by the store, by reason (out_of_order/store_full)",
		},
		[]string{"entity", "reason"},
	)

	StoreScanDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "store_scan_duration_seconds",
			Help:    "Duration of store scans in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"entity"},
	)

	// Forecaster metrics
	ForecasterPredictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forecaster_predictions_total",
			Help: "Predictions issued per forecaster model",
		},
		[]string{"model"},
	)

	ForecasterErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forecaster_errors_total",
			Help: "Prediction failures per forecaster model",
		},
		[]string{"model"},
	)

	ForecasterDegraded = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "forecaster_degraded",
			Help: "1 while the forecaster is excluded from ensembles, else 0",
		},
		[]string{"model"},
	)

	// Alerting metrics
	AlertsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alerts_emitted_total",
			Help: "Alerts emitted by the rule engine, by kind and severity",
		},
		[]string{"kind", "severity"},
	)

	AlertsSuppressed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alerts_suppressed_total",
			Help: "Alerts suppressed by the per-(station,kind) cooling window",
		},
		[]string{"kind"},
	)

	// Irrigation metrics
	IrrigationTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "irrigation_transitions_total",
			Help: "Irrigation state machine transitions per actuator",
		},
		[]string{"actuator", "from", "to"},
	)

	IrrigationVolume = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "irrigation_volume_liters_total",
			Help: "Total water volume dispensed per actuator",
		},
		[]string{"actuator"},
	)

	// Publisher metrics
	PublishedMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "publisher_messages_total",
			Help: "Messages published per topic",
		},
		[]string{"topic"},
	)

	PublishErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "publisher_errors_total",
			Help: "Publish failures per topic",
		},
		[]string{"topic"},
	)

	SubscriberLag = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "subscriber_lag",
			Help: "Pending (unacknowledged) messages per durable subscriber",
		},
		[]string{"subscriber"},
	)

	SubscribersDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "subscribers_dropped_total",
			Help: "Subscribers dropped for exceeding the lag threshold",
		},
	)

	// WAL metrics
	WALPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wal_pending_entries",
			Help: "Unconfirmed entries in the publish write-ahead log",
		},
	)

	WALWrites = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wal_writes_total",
			Help: "Total write-ahead log writes",
		},
	)
)

// ObserveStage records one stage execution.
func ObserveStage(stage string, started time.Time, in, out, errs int) {
	StageDuration.WithLabelValues(stage).Observe(time.Since(started).Seconds())
	StageItems.WithLabelValues(stage, "in").Add(float64(in))
	StageItems.WithLabelValues(stage, "out").Add(float64(out))
	if errs > 0 {
		StageErrors.WithLabelValues(stage).Add(float64(errs))
	}
}

// ObserveStoreAppend records one append batch.
func ObserveStoreAppend(entity string, started time.Time) {
	StoreAppendDuration.WithLabelValues(entity).Observe(time.Since(started).Seconds())
}

// RecordAppendReject counts a rejected append.
func RecordAppendReject(entity, reason string) {
	StoreAppendRejects.WithLabelValues(entity, reason).Inc()
}
