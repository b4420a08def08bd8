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
)

// StreamName is the single JetStream stream carrying all pipeline output.
const StreamName = "AGROMET"

// Topic names. Subjects are "<topic>.<station or actuator id>".
const (
	TopicAlerts      = "alerts"
	TopicPredictions = "predictions"
	TopicIrrigation  = "irrigation"
)

// dedupWindow is the JetStream duplicate-tracking window for
// Nats-Msg-Id based deduplication of WAL republishes.
const dedupWindow = 2 * time.Minute

// SubjectAlert addresses a station's alert feed.
func SubjectAlert(stationID string) string { return TopicAlerts + "." + stationID }

// SubjectPredictions addresses a station's prediction feed.
func SubjectPredictions(stationID string) string { return TopicPredictions + "." + stationID }

// SubjectIrrigation addresses an actuator's irrigation event feed.
func SubjectIrrigation(actuatorID string) string { return TopicIrrigation + "." + actuatorID }

// EnsureStream creates or updates the AGROMET stream on the broker at
// url. Subjects cover every topic wildcard; retention is age-bounded
// file storage.
func EnsureStream(ctx context.Context, url string, cfg config.NATSConfig) error {
	nc, err := nats.Connect(url)
	if err != nil {
		return fmt.Errorf("connect for stream provisioning: %w", err)
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("create jetstream context: %w", err)
	}

	streamCfg := jetstream.StreamConfig{
		Name: StreamName,
		Subjects: []string{
			TopicAlerts + ".>",
			TopicPredictions + ".>",
			TopicIrrigation + ".>",
		},
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     time.Duration(cfg.StreamRetentionDays) * 24 * time.Hour,
		Duplicates: dedupWindow,
		Storage:    jetstream.FileStorage,
		Discard:    jetstream.DiscardOld,
	}

	if _, err := js.Stream(ctx, StreamName); err == nil {
		if _, err := js.UpdateStream(ctx, streamCfg); err != nil {
			return fmt.Errorf("update stream %s: %w", StreamName, err)
		}
		return nil
	}
	if _, err := js.CreateStream(ctx, streamCfg); err != nil {
		return fmt.Errorf("create stream %s: %w", StreamName, err)
	}
	return nil
}
