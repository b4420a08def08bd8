// Agromet - Agricultural Telemetry and Decision Pipeline for Quillota
// Copyright 2026 J. Cortes (jcortesq)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcortesq/agromet

package publish

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	natsgo "github.com/nats-io/nats.go"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/jcortesq/agromet/internal/config"
	"github.com/jcortesq/agromet/internal/logging"
	"github.com/jcortesq/agromet/internal/metrics"
	"github.com/jcortesq/agromet/internal/model"
	"github.com/jcortesq/agromet/internal/wal"
)

// ErrPublisherClosed is returned after Close.
var ErrPublisherClosed = errors.New("publish: closed")

const (
	breakerFailures = 5
	breakerCooldown = 30 * time.Second
)

// Publisher is the WAL-fronted broker client. Every message is logged
// before the publish attempt; the WAL entry ID doubles as the message
// UUID and Nats-Msg-Id, so republishes after a crash deduplicate on the
// broker side. Broker failures never surface to pipeline stages: the
// entry stays pending and the republish loop retries it.
type Publisher struct {
	pub         message.Publisher
	log         *wal.Log
	breaker     *gobreaker.CircuitBreaker[any]
	retryEvery  time.Duration
	maxAttempts int

	mu     sync.Mutex
	closed bool
}

// NewPublisher connects to the broker at url and wires the WAL in
// front of it.
func NewPublisher(url string, walLog *wal.Log, cfg config.WALConfig, logger watermill.LoggerAdapter) (*Publisher, error) {
	if logger == nil {
		logger = NewLoggerAdapter()
	}

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(2 * time.Second),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("NATS disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("NATS reconnected", watermill.LogFields{"url": nc.ConnectedUrl()})
		}),
	}

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         url,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			AutoProvision: false, // the stream is provisioned by EnsureStream
			TrackMsgId:    true,
			PublishOptions: []natsgo.PubOpt{
				natsgo.RetryAttempts(3),
				natsgo.RetryWait(100 * time.Millisecond),
			},
		},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create publisher: %w", err)
	}

	breaker := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "nats-publish",
		MaxRequests: 1,
		Timeout:     breakerCooldown,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= breakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Publish circuit breaker state change")
		},
	})

	return &Publisher{
		pub:         pub,
		log:         walLog,
		breaker:     breaker,
		retryEvery:  cfg.RetryInterval,
		maxAttempts: cfg.MaxAttempts,
	}, nil
}

// PublishAlert emits an alert on its station subject.
func (p *Publisher) PublishAlert(ctx context.Context, a *model.Alert) error {
	return p.publish(ctx, SubjectAlert(a.StationID), a)
}

// PublishPredictions emits one station's prediction set as a single
// message, preserving the per-(station, variable) issued_at ordering.
func (p *Publisher) PublishPredictions(ctx context.Context, stationID string, preds []*model.Prediction) error {
	if len(preds) == 0 {
		return nil
	}
	return p.publish(ctx, SubjectPredictions(stationID), preds)
}

// PublishIrrigation emits an irrigation event on its actuator subject.
func (p *Publisher) PublishIrrigation(ctx context.Context, ev *model.IrrigationEvent) error {
	return p.publish(ctx, SubjectIrrigation(ev.ActuatorID), ev)
}

// publish logs the payload, then attempts the broker publish. A broker
// failure is absorbed: the WAL entry stays pending for the republish
// loop. A WAL failure falls through to a direct publish so the message
// still has one delivery chance.
func (p *Publisher) publish(ctx context.Context, subject string, payload any) error {
	if p.isClosed() {
		return ErrPublisherClosed
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("publish: marshal payload: %w", err)
	}

	entryID, walErr := p.log.Write(ctx, subject, json.RawMessage(raw))
	if walErr != nil {
		logging.Error().Err(walErr).Str("subject", subject).Msg("WAL write failed, publishing direct")
		if err := p.send(subject, watermill.NewUUID(), raw); err != nil {
			metrics.PublishErrors.WithLabelValues(topicOf(subject)).Inc()
			return err
		}
		metrics.PublishedMessages.WithLabelValues(topicOf(subject)).Inc()
		return nil
	}

	if err := p.send(subject, entryID, raw); err != nil {
		metrics.PublishErrors.WithLabelValues(topicOf(subject)).Inc()
		if markErr := p.log.MarkAttempt(ctx, entryID, err); markErr != nil {
			logging.Error().Err(markErr).Str("entry_id", entryID).Msg("WAL attempt bookkeeping failed")
		}
		logging.Warn().
			Err(err).
			Str("subject", subject).
			Str("entry_id", entryID).
			Msg("Publish failed, entry queued for republish")
		return nil
	}

	if err := p.log.Confirm(ctx, entryID); err != nil && !errors.Is(err, wal.ErrEntryNotFound) {
		logging.Warn().Err(err).Str("entry_id", entryID).Msg("WAL confirm failed")
	}
	metrics.PublishedMessages.WithLabelValues(topicOf(subject)).Inc()
	return nil
}

// send performs one broker publish through the circuit breaker.
func (p *Publisher) send(subject, msgID string, raw []byte) error {
	msg := message.NewMessage(msgID, raw)
	msg.Metadata.Set(natsgo.MsgIdHdr, msgID)
	_, err := p.breaker.Execute(func() (any, error) {
		return nil, p.pub.Publish(subject, msg)
	})
	return err
}

// Republish retries every pending WAL entry once. Entries that have
// exhausted the attempt budget are dropped with an error log so a dead
// subject cannot wedge the log. Returns the number of confirmed entries.
func (p *Publisher) Republish(ctx context.Context) (int, error) {
	entries, err := p.log.Pending(ctx)
	if err != nil {
		return 0, err
	}
	confirmed := 0
	for _, e := range entries {
		if ctx.Err() != nil {
			return confirmed, ctx.Err()
		}
		if p.maxAttempts > 0 && e.Attempts >= p.maxAttempts {
			logging.Error().
				Str("entry_id", e.ID).
				Str("topic", e.Topic).
				Int("attempts", e.Attempts).
				Msg("Dropping WAL entry after exhausted attempts")
			if err := p.log.Confirm(ctx, e.ID); err != nil {
				logging.Error().Err(err).Str("entry_id", e.ID).Msg("Failed to drop WAL entry")
			}
			continue
		}
		if err := p.send(e.Topic, e.ID, e.Payload); err != nil {
			if markErr := p.log.MarkAttempt(ctx, e.ID, err); markErr != nil {
				logging.Error().Err(markErr).Str("entry_id", e.ID).Msg("WAL attempt bookkeeping failed")
			}
			continue
		}
		if err := p.log.Confirm(ctx, e.ID); err != nil && !errors.Is(err, wal.ErrEntryNotFound) {
			logging.Warn().Err(err).Str("entry_id", e.ID).Msg("WAL confirm failed on republish")
			continue
		}
		confirmed++
	}
	return confirmed, nil
}

func (p *Publisher) String() string { return "publisher" }

// Serve runs startup recovery and then the periodic republish loop
// until ctx is cancelled.
func (p *Publisher) Serve(ctx context.Context) error {
	if n, err := p.Republish(ctx); err != nil {
		logging.Error().Err(err).Msg("WAL recovery republish failed")
	} else if n > 0 {
		logging.Info().Int("republished", n).Msg("WAL recovery complete")
	}

	ticker := time.NewTicker(p.retryEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := p.Republish(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logging.Error().Err(err).Msg("WAL republish pass failed")
			}
		}
	}
}

// Close shuts the broker connection. The WAL is owned by the caller.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()
	return p.pub.Close()
}

func (p *Publisher) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// topicOf extracts the metric topic label from a subject.
func topicOf(subject string) string {
	if i := strings.IndexByte(subject, '.'); i > 0 {
		return subject[:i]
	}
	return subject
}
