// Agromet - Agricultural Telemetry and Decision Pipeline for Quillota
// Copyright 2026 J. Cortes (jcortesq)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcortesq/agromet

package publish

import (
	"context"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/jcortesq/agromet/internal/config"
	"github.com/jcortesq/agromet/internal/model"
	"github.com/jcortesq/agromet/internal/wal"
)

func testNATSConfig(t *testing.T) config.NATSConfig {
	t.Helper()
	return config.NATSConfig{
		Host:                "127.0.0.1",
		Port:                -1, // ephemeral port
		StoreDir:            t.TempDir(),
		MaxMemory:           64 << 20,
		MaxStore:            256 << 20,
		StreamRetentionDays: 1,
	}
}

// newBroker starts an embedded server with the AGROMET stream provisioned.
func newBroker(t *testing.T) (*EmbeddedServer, string) {
	t.Helper()
	cfg := testNATSConfig(t)
	srv, err := NewEmbeddedServer(cfg)
	if err != nil {
		t.Fatalf("starting embedded server: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	if err := EnsureStream(context.Background(), srv.ClientURL(), cfg); err != nil {
		t.Fatalf("provisioning stream: %v", err)
	}
	return srv, srv.ClientURL()
}

func newTestWAL(t *testing.T) *wal.Log {
	t.Helper()
	l, err := wal.Open(config.WALConfig{
		Path:          t.TempDir(),
		RetryInterval: time.Second,
		MaxAttempts:   5,
	})
	if err != nil {
		t.Fatalf("opening wal: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func newTestPublisher(t *testing.T, url string, l *wal.Log) *Publisher {
	t.Helper()
	p, err := NewPublisher(url, l, config.WALConfig{
		RetryInterval: time.Second,
		MaxAttempts:   5,
	}, nil)
	if err != nil {
		t.Fatalf("creating publisher: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestSubjects(t *testing.T) {
	t.Parallel()
	if got := SubjectAlert("quillota_centro"); got != "alerts.quillota_centro" {
		t.Errorf("SubjectAlert = %q", got)
	}
	if got := SubjectPredictions("la_cruz"); got != "predictions.la_cruz" {
		t.Errorf("SubjectPredictions = %q", got)
	}
	if got := SubjectIrrigation("qc_asp_01"); got != "irrigation.qc_asp_01" {
		t.Errorf("SubjectIrrigation = %q", got)
	}
	if got := topicOf("alerts.quillota_centro"); got != "alerts" {
		t.Errorf("topicOf = %q", got)
	}
}

func TestPublishSubscribeRoundTrip(t *testing.T) {
	_, url := newBroker(t)
	l := newTestWAL(t)
	p := newTestPublisher(t, url, l)

	sub, err := NewSubscriber(url, "test-consumer", nil)
	if err != nil {
		t.Fatalf("creating subscriber: %v", err)
	}
	t.Cleanup(func() { _ = sub.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	msgs, err := sub.Subscribe(ctx, TopicAlerts+".>")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	// Let the durable consumer attach before publishing (DeliverNew).
	time.Sleep(200 * time.Millisecond)

	alert := model.NewAlert(model.AlertFrost, model.SeverityCritical, "quillota_centro",
		time.Date(2025, 7, 15, 5, 0, 0, 0, time.UTC))
	alert.Message = "temperatura bajo umbral critico"
	if err := p.PublishAlert(ctx, alert); err != nil {
		t.Fatalf("PublishAlert: %v", err)
	}

	select {
	case msg := <-msgs:
		var got model.Alert
		if err := json.Unmarshal(msg.Payload, &got); err != nil {
			t.Fatalf("unmarshal payload: %v", err)
		}
		msg.Ack()
		if got.AlertID != alert.AlertID || got.StationID != "quillota_centro" {
			t.Errorf("received alert = %+v", got)
		}
	case <-ctx.Done():
		t.Fatal("no message received before deadline")
	}

	st := l.Stats()
	if st.Pending != 0 {
		t.Errorf("wal pending = %d, want 0 after confirmed publish", st.Pending)
	}
	if st.TotalConfirms != 1 {
		t.Errorf("wal confirms = %d, want 1", st.TotalConfirms)
	}
}

func TestRepublishDrainsPendingEntries(t *testing.T) {
	_, url := newBroker(t)
	l := newTestWAL(t)
	ctx := context.Background()

	// Entries logged while the broker was unreachable.
	for i := 0; i < 3; i++ {
		ev := model.NewIrrigationEvent("qc_asp_01", "quillota_centro", "soil moisture below threshold")
		raw, err := json.Marshal(ev)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		if _, err := l.Write(ctx, SubjectIrrigation(ev.ActuatorID), json.RawMessage(raw)); err != nil {
			t.Fatalf("wal write: %v", err)
		}
	}
	if st := l.Stats(); st.Pending != 3 {
		t.Fatalf("pending = %d, want 3", st.Pending)
	}

	p := newTestPublisher(t, url, l)
	n, err := p.Republish(ctx)
	if err != nil {
		t.Fatalf("Republish: %v", err)
	}
	if n != 3 {
		t.Errorf("republished = %d, want 3", n)
	}
	if st := l.Stats(); st.Pending != 0 {
		t.Errorf("pending after republish = %d, want 0", st.Pending)
	}
}

func TestRepublishDropsExhaustedEntries(t *testing.T) {
	_, url := newBroker(t)
	l := newTestWAL(t)
	ctx := context.Background()

	id, err := l.Write(ctx, "alerts.test", json.RawMessage(`{"k":"v"}`))
	if err != nil {
		t.Fatalf("wal write: %v", err)
	}
	for i := 0; i < 5; i++ {
		if err := l.MarkAttempt(ctx, id, context.DeadlineExceeded); err != nil {
			t.Fatalf("MarkAttempt: %v", err)
		}
	}

	p := newTestPublisher(t, url, l)
	n, err := p.Republish(ctx)
	if err != nil {
		t.Fatalf("Republish: %v", err)
	}
	if n != 0 {
		t.Errorf("republished = %d, want 0 for a dropped entry", n)
	}
	if st := l.Stats(); st.Pending != 0 {
		t.Errorf("pending = %d, want 0 after drop", st.Pending)
	}
}

func TestLagMonitorDropsStalledConsumer(t *testing.T) {
	_, url := newBroker(t)
	l := newTestWAL(t)
	p := newTestPublisher(t, url, l)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	nc, err := nats.Connect(url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer nc.Close()
	js, err := jetstream.New(nc)
	if err != nil {
		t.Fatalf("jetstream: %v", err)
	}
	stream, err := js.Stream(ctx, StreamName)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}

	// A durable consumer that never acknowledges anything.
	_, err = stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       "stalled",
		FilterSubject: TopicAlerts + ".>",
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		t.Fatalf("create consumer: %v", err)
	}

	for i := 0; i < 10; i++ {
		a := model.NewAlert(model.AlertHeatExtreme, model.SeverityHigh, "quillota_centro", time.Now().UTC())
		if err := p.PublishAlert(ctx, a); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}

	mon, err := NewLagMonitor(url, config.PublisherConfig{LagDropThreshold: 5, LagPollSec: 1})
	if err != nil {
		t.Fatalf("creating lag monitor: %v", err)
	}
	t.Cleanup(func() { mon.nc.Close() })

	if err := mon.Sweep(ctx); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if _, err := stream.Consumer(ctx, "stalled"); err == nil {
		t.Error("stalled consumer should have been dropped")
	}
}
