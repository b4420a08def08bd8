// Agromet - Agricultural Telemetry and Decision Pipeline for Quillota
// Copyright 2026 J. Cortes (jcortesq)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcortesq/agromet

package publish

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"
)

// Subscriber is a durable JetStream consumer bound to the AGROMET
// stream. The durable name is derived from the subscriber name, so each
// named subscriber keeps its own offset and delivery is at-least-once.
type Subscriber struct {
	name string
	sub  message.Subscriber
}

// NewSubscriber connects a named durable subscriber to the broker.
func NewSubscriber(url, name string, logger watermill.LoggerAdapter) (*Subscriber, error) {
	if logger == nil {
		logger = NewLoggerAdapter()
	}

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(2 * time.Second),
	}
	subOpts := []natsgo.SubOpt{
		natsgo.BindStream(StreamName),
		natsgo.MaxDeliver(5),
		natsgo.MaxAckPending(256),
		natsgo.AckWait(30 * time.Second),
		natsgo.DeliverNew(),
	}

	sub, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
		URL:            url,
		NatsOptions:    natsOpts,
		Unmarshaler:    &wmNats.NATSMarshaler{},
		AckWaitTimeout: 30 * time.Second,
		CloseTimeout:   10 * time.Second,
		JetStream: wmNats.JetStreamConfig{
			AutoProvision:    false,
			AckAsync:         false,
			SubscribeOptions: subOpts,
			DurablePrefix:    name,
		},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create subscriber %s: %w", name, err)
	}
	return &Subscriber{name: name, sub: sub}, nil
}

// Name is the subscriber's durable identity.
func (s *Subscriber) Name() string { return s.name }

// Subscribe returns the message channel for a topic wildcard, e.g.
// "alerts.>" for all stations or "alerts.quillota_centro" for one.
func (s *Subscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return s.sub.Subscribe(ctx, topic)
}

// Close drains and disconnects the consumer.
func (s *Subscriber) Close() error {
	return s.sub.Close()
}
