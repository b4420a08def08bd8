// Agromet - Agricultural Telemetry and Decision Pipeline for Quillota
// Copyright 2026 J. Cortes (jcortesq)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcortesq/agromet

// Package main is the entry point for the agromet daemon.
//
// Agromet ingests weather telemetry for the Quillota valley, validates
// and enriches it, issues short-term forecasts, evaluates agronomic
// alert rules, and drives drip and sprinkler actuators through an
// irrigation state machine. Every output leaves the process through a
// JetStream broker fronted by a write-ahead log.
//
// Components start in this order:
//
//  1. Configuration: koanf v2 over built-in defaults, an optional YAML
//     file, and AGROMET_* environment variables
//  2. Store: DuckDB tables for samples, readings, enriched rows,
//     predictions, alerts, irrigation events and stage metrics
//  3. Catalog: compiled-in Quillota reference data, optionally
//     replaced by a YAML file
//  4. WAL: BadgerDB log fronting every publication
//  5. Broker: embedded or external NATS JetStream plus the AGROMET
//     stream
//  6. Pipeline: ingest, validate, enrich, forecast, rules, irrigation
//  7. Supervisor tree: scheduler, publisher retry loop, lag monitor,
//     and the monitoring HTTP server
//
// Shutdown on SIGINT or SIGTERM drains the work queue within the
// configured grace period, stops the supervised services, and closes
// the WAL and store.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jcortesq/agromet/internal/api"
	"github.com/jcortesq/agromet/internal/catalog"
	"github.com/jcortesq/agromet/internal/config"
	"github.com/jcortesq/agromet/internal/enrich"
	"github.com/jcortesq/agromet/internal/forecast"
	"github.com/jcortesq/agromet/internal/ingest"
	"github.com/jcortesq/agromet/internal/irrigation"
	"github.com/jcortesq/agromet/internal/logging"
	"github.com/jcortesq/agromet/internal/pipeline"
	"github.com/jcortesq/agromet/internal/publish"
	"github.com/jcortesq/agromet/internal/rules"
	"github.com/jcortesq/agromet/internal/scheduler"
	"github.com/jcortesq/agromet/internal/store"
	"github.com/jcortesq/agromet/internal/supervisor"
	"github.com/jcortesq/agromet/internal/validate"
	"github.com/jcortesq/agromet/internal/wal"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().
		Str("store_path", cfg.Store.Path).
		Str("ingest_mode", cfg.Ingest.Mode).
		Bool("nats_embedded", cfg.NATS.Embedded).
		Msg("Configuration loaded")

	st, err := store.New(cfg.Store)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open store")
	}
	defer func() {
		if err := st.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing store")
		}
	}()

	cat, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load catalog")
	}

	walLog, err := wal.Open(cfg.WAL)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open write-ahead log")
	}
	defer func() {
		if err := walLog.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing write-ahead log")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Broker: embedded server when configured, external URL otherwise.
	brokerURL := cfg.NATS.URL
	var embedded *publish.EmbeddedServer
	if cfg.NATS.Embedded {
		embedded, err = publish.NewEmbeddedServer(cfg.NATS)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to start embedded NATS server")
		}
		brokerURL = embedded.ClientURL()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			if err := embedded.Shutdown(shutdownCtx); err != nil {
				logging.Error().Err(err).Msg("Error stopping embedded NATS server")
			}
		}()
	}
	if err := publish.EnsureStream(ctx, brokerURL, cfg.NATS); err != nil {
		logging.Fatal().Err(err).Str("url", brokerURL).Msg("Failed to provision stream")
	}

	wmLogger := publish.NewLoggerAdapter()
	pub, err := publish.NewPublisher(brokerURL, walLog, cfg.WAL, wmLogger)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create publisher")
	}
	defer func() {
		if err := pub.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing publisher")
		}
	}()

	lagMon, err := publish.NewLagMonitor(brokerURL, cfg.Publisher)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create lag monitor")
	}

	// Pipeline stages.
	ing, err := ingest.New(cfg.Ingest, cat)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create ingestor")
	}
	val := validate.New(cfg.Validator)
	enr := enrich.New(cat)
	reg := forecast.NewRegistry(cfg.Predictor)
	eng := rules.NewEngine(cfg.Alerts, cat)
	irr, err := irrigation.NewController(cfg.Irrigation, cat, st)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create irrigation controller")
	}

	pipe := pipeline.New(cat, st, ing, val, enr, reg, eng, irr, pub, cfg.Predictor.RetrainWindowDays)
	sched := scheduler.New(cfg.Scheduler,
		time.Duration(cfg.Ingest.CadenceSec)*time.Second, cfg.Ingest.Jitter,
		pipe.Plan, ing, st)

	apiServer := api.NewServer(cfg.Server, api.Sources{
		Store:       st,
		Forecasters: reg,
		Irrigation:  irr,
		Scheduler:   sched,
		WAL:         walLog,
		BrokerOK: func() bool {
			if embedded != nil {
				return embedded.Running()
			}
			return true
		},
	})

	tree := supervisor.NewTree(supervisor.DefaultTreeConfig())
	tree.AddMessagingService(pub)
	tree.AddMessagingService(lagMon)
	tree.AddPipelineService(sched)
	tree.AddAPIService(apiServer)

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		s := <-sig
		logging.Info().Str("signal", s.String()).Msg("Shutting down")
		cancel()
	}()

	logging.Info().
		Str("broker_url", brokerURL).
		Int("port", cfg.Server.Port).
		Msg("Agromet started")

	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("Supervisor tree terminated")
	}

	if report, err := tree.UnstoppedServiceReport(); err == nil && len(report) > 0 {
		for _, svc := range report {
			logging.Warn().Str("service", svc.Name).Msg("Service did not stop in time")
		}
	}
	logging.Info().Msg("Agromet stopped")
}
