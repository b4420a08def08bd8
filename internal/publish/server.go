// Agromet - Agricultural Telemetry and Decision Pipeline for Quillota
// Copyright 2026 J. Cortes (jcortesq)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcortesq/agromet

// Package publish is the outbound edge of the pipeline: an embedded NATS
// JetStream broker, a WAL-fronted publisher with circuit breaking and
// dedup, durable subscribers, and a consumer lag monitor.
package publish

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"

	"github.com/jcortesq/agromet/internal/config"
	"github.com/jcortesq/agromet/internal/logging"
)

const serverReadyTimeout = 30 * time.Second

// EmbeddedServer runs an in-process NATS server with JetStream file
// storage, for single-host deployments without an external broker.
type EmbeddedServer struct {
	srv *server.Server
	url string
}

// NewEmbeddedServer starts the broker and waits for it to accept
// connections. Port -1 selects an ephemeral port (tests).
func NewEmbeddedServer(cfg config.NATSConfig) (*EmbeddedServer, error) {
	opts := &server.Options{
		ServerName:         "agromet",
		Host:               cfg.Host,
		Port:               cfg.Port,
		JetStream:          true,
		StoreDir:           cfg.StoreDir,
		JetStreamMaxMemory: cfg.MaxMemory,
		JetStreamMaxStore:  cfg.MaxStore,
		NoLog:              true,
		MaxPayload:         1 << 20,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create nats server: %w", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(serverReadyTimeout) {
		ns.Shutdown()
		return nil, fmt.Errorf("nats server not ready within %s", serverReadyTimeout)
	}

	logging.Info().
		Str("url", ns.ClientURL()).
		Str("store_dir", cfg.StoreDir).
		Msg("Embedded NATS server started")
	return &EmbeddedServer{srv: ns, url: ns.ClientURL()}, nil
}

// ClientURL is the connection URL for in-process clients.
func (s *EmbeddedServer) ClientURL() string { return s.url }

// Running reports broker health for the readiness probe.
func (s *EmbeddedServer) Running() bool { return s.srv.Running() }

// Shutdown stops the broker, honoring ctx for the drain wait.
func (s *EmbeddedServer) Shutdown(ctx context.Context) error {
	s.srv.Shutdown()
	done := make(chan struct{})
	go func() {
		s.srv.WaitForShutdown()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}
