// Agromet - Agricultural Telemetry and Decision Pipeline for Quillota
// Copyright 2026 J. Cortes (jcortesq)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcortesq/agromet

package publish

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/jcortesq/agromet/internal/config"
	"github.com/jcortesq/agromet/internal/logging"
	"github.com/jcortesq/agromet/internal/metrics"
)

// LagMonitor polls JetStream consumer info on the AGROMET stream and
// drops durable consumers whose unacknowledged backlog exceeds the
// configured threshold. A well-behaved subscriber is never touched; a
// stalled one is removed so the stream's retention is not held hostage.
type LagMonitor struct {
	nc        *nats.Conn
	js        jetstream.JetStream
	threshold int
	interval  time.Duration
}

// NewLagMonitor connects the monitor to the broker at url.
func NewLagMonitor(url string, cfg config.PublisherConfig) (*LagMonitor, error) {
	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connect lag monitor: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}
	interval := time.Duration(cfg.LagPollSec) * time.Second
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &LagMonitor{
		nc:        nc,
		js:        js,
		threshold: cfg.LagDropThreshold,
		interval:  interval,
	}, nil
}

func (m *LagMonitor) String() string { return "lag-monitor" }

// Serve polls until ctx is cancelled.
func (m *LagMonitor) Serve(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.nc.Close()
			return ctx.Err()
		case <-ticker.C:
			if err := m.Sweep(ctx); err != nil {
				logging.Error().Err(err).Msg("Subscriber lag sweep failed")
			}
		}
	}
}

// Sweep checks every consumer once, exporting lag and dropping any
// consumer past the threshold.
func (m *LagMonitor) Sweep(ctx context.Context) error {
	stream, err := m.js.Stream(ctx, StreamName)
	if err != nil {
		return fmt.Errorf("lookup stream %s: %w", StreamName, err)
	}

	lister := stream.ListConsumers(ctx)
	var drop []string
	for info := range lister.Info() {
		pending := int(info.NumPending) + info.NumAckPending
		metrics.SubscriberLag.WithLabelValues(info.Name).Set(float64(pending))
		if m.threshold > 0 && pending > m.threshold {
			drop = append(drop, info.Name)
		}
	}
	if err := lister.Err(); err != nil {
		return fmt.Errorf("list consumers: %w", err)
	}

	for _, name := range drop {
		if err := stream.DeleteConsumer(ctx, name); err != nil {
			logging.Error().Err(err).Str("subscriber", name).Msg("Failed to drop lagging subscriber")
			continue
		}
		metrics.SubscribersDropped.Inc()
		metrics.SubscriberLag.DeleteLabelValues(name)
		logging.Warn().
			Str("subscriber", name).
			Int("threshold", m.threshold).
			Msg("Dropped subscriber for exceeding lag threshold")
	}
	return nil
}
