// Agromet - Agricultural Telemetry and Decision Pipeline for Quillota
// Copyright 2026 J. Cortes (jcortesq)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcortesq/agromet

// Package pipeline composes the per-tick stages: pull a batch from the
// ingestor, validate, enrich, persist, score and issue forecasts,
// evaluate alert rules, step the irrigation controller, and hand the
// resulting events to the publisher. The scheduler drives it through
// Plan.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jcortesq/agromet/internal/catalog"
	"github.com/jcortesq/agromet/internal/enrich"
	"github.com/jcortesq/agromet/internal/forecast"
	"github.com/jcortesq/agromet/internal/ingest"
	"github.com/jcortesq/agromet/internal/irrigation"
	"github.com/jcortesq/agromet/internal/logging"
	"github.com/jcortesq/agromet/internal/metrics"
	"github.com/jcortesq/agromet/internal/model"
	"github.com/jcortesq/agromet/internal/rules"
	"github.com/jcortesq/agromet/internal/scheduler"
	"github.com/jcortesq/agromet/internal/store"
	"github.com/jcortesq/agromet/internal/validate"
)

const (
	// retrainInterval spaces out full model rebuilds; between rebuilds
	// the registry learns online through Observe.
	retrainInterval = 15 * time.Minute

	// irrigationLookback bounds the event scan used to detect state
	// changes worth publishing.
	irrigationLookback = 24 * time.Hour
)

// Broker publishes pipeline outputs. *publish.Publisher satisfies it;
// a nil Broker disables publication.
type Broker interface {
	PublishAlert(ctx context.Context, a *model.Alert) error
	PublishPredictions(ctx context.Context, stationID string, preds []*model.Prediction) error
	PublishIrrigation(ctx context.Context, ev *model.IrrigationEvent) error
}

// Pipeline owns the stage chain and the cross-tick state the stages
// share: the latest enriched sample and sensor readings per station,
// and the predicted short-term precipitation fed to irrigation.
type Pipeline struct {
	cat    *catalog.Catalog
	st     *store.Store
	ing    ingest.Ingestor
	val    *validate.Validator
	enr    *enrich.Enricher
	reg    *forecast.Registry
	eng    *rules.Engine
	irr    *irrigation.Controller
	broker Broker

	retrainWindow time.Duration

	mu            sync.Mutex
	latestWeather map[string]*model.EnrichedSample
	soilMoisture  map[string]float64
	waterPressure map[string]float64
	predPrecip6h  map[string]float64
	lastRetrain   time.Time
	enginePrimed  bool
	published     map[string]model.IrrigationState // event id -> last published state
}

func New(cat *catalog.Catalog, st *store.Store, ing ingest.Ingestor, val *validate.Validator,
	enr *enrich.Enricher, reg *forecast.Registry, eng *rules.Engine,
	irr *irrigation.Controller, broker Broker, retrainWindowDays int,
) *Pipeline {
	if retrainWindowDays <= 0 {
		retrainWindowDays = 30
	}
	return &Pipeline{
		cat:           cat,
		st:            st,
		ing:           ing,
		val:           val,
		enr:           enr,
		reg:           reg,
		eng:           eng,
		irr:           irr,
		broker:        broker,
		retrainWindow: time.Duration(retrainWindowDays) * 24 * time.Hour,
		latestWeather: make(map[string]*model.EnrichedSample),
		soilMoisture:  make(map[string]float64),
		waterPressure: make(map[string]float64),
		predPrecip6h:  make(map[string]float64),
		published:     make(map[string]model.IrrigationState),
	}
}

// Plan returns this tick's work items. The telemetry chain and the
// irrigation step are separate items so a slow broker cannot starve
// sensor intake; irrigation reads the shared state the telemetry item
// maintains, falling back to the previous tick's view when the items
// land on different workers.
func (p *Pipeline) Plan(now time.Time) []scheduler.Item {
	items := []scheduler.Item{
		{Stage: "telemetry", Run: func(ctx context.Context) (scheduler.Result, error) {
			return p.runTelemetry(ctx, now)
		}},
		{Stage: "irrigation", Run: func(ctx context.Context) (scheduler.Result, error) {
			return p.runIrrigation(ctx, now)
		}},
	}
	if p.retrainDue(now) {
		items = append(items, scheduler.Item{
			Stage: "retrain",
			Run: func(ctx context.Context) (scheduler.Result, error) {
				return p.runRetrain(ctx, now)
			},
		})
	}
	return items
}

// runTelemetry executes ingest through alerts for one tick.
func (p *Pipeline) runTelemetry(ctx context.Context, now time.Time) (scheduler.Result, error) {
	started := time.Now()
	batch, err := p.ing.Pull(ctx)
	if err != nil {
		metrics.ObserveStage("ingest", started, 0, 0, 1)
		return scheduler.Result{}, fmt.Errorf("ingest: %w", err)
	}
	pulled := len(batch.Samples)
	metrics.ObserveStage("ingest", started, pulled, pulled, 0)

	started = time.Now()
	res := p.val.ValidateBatch(batch.Samples)
	readings := p.val.ValidateReadings(batch.Readings)
	metrics.ObserveStage("validate", started, pulled, len(res.Accepted), len(res.Rejected))

	if len(res.Accepted) > 0 {
		if _, err := p.st.AppendSamples(ctx, res.Accepted); err != nil {
			return scheduler.Result{Input: pulled}, fmt.Errorf("append samples: %w", err)
		}
	}
	if len(readings) > 0 {
		if _, err := p.st.AppendReadings(ctx, readings); err != nil {
			return scheduler.Result{Input: pulled}, fmt.Errorf("append readings: %w", err)
		}
	}

	started = time.Now()
	enriched := p.enr.EnrichBatch(res.Accepted)
	metrics.ObserveStage("enrich", started, len(res.Accepted), len(enriched), 0)
	if len(enriched) > 0 {
		if _, err := p.st.AppendEnriched(ctx, enriched); err != nil {
			return scheduler.Result{Input: pulled}, fmt.Errorf("append enriched: %w", err)
		}
	}
	p.recordLatest(enriched, readings)

	if err := p.forecastStage(ctx, res.Accepted, now); err != nil {
		return scheduler.Result{Input: pulled}, err
	}
	if err := p.alertStage(ctx, enriched, readings, now); err != nil {
		return scheduler.Result{Input: pulled}, err
	}
	return scheduler.Result{Input: pulled, Output: len(res.Accepted)}, nil
}

// forecastStage feeds observations to the registry, issues fresh
// predictions per station, persists and publishes the plausible ones,
// and caches the 6-step ensemble precipitation sum for irrigation.
func (p *Pipeline) forecastStage(ctx context.Context, accepted []*model.Sample, now time.Time) error {
	started := time.Now()

	stations := make(map[string]bool, 4)
	for _, s := range accepted {
		p.reg.Observe(s)
		stations[s.StationID] = true
	}

	issued, kept := 0, 0
	for stationID := range stations {
		preds := p.reg.PredictAll(stationID, now)
		issued += len(preds)
		valid := p.eng.ValidPredictions(preds, now)
		kept += len(valid)
		p.cachePredPrecip(stationID, valid)
		if len(valid) == 0 {
			continue
		}
		if _, err := p.st.AppendPredictions(ctx, valid); err != nil {
			return fmt.Errorf("append predictions: %w", err)
		}
		if p.broker != nil {
			if err := p.broker.PublishPredictions(ctx, stationID, valid); err != nil {
				logging.Warn().Err(err).Str("station_id", stationID).Msg("publish predictions")
			}
		}
	}
	metrics.ObserveStage("predict", started, issued, kept, issued-kept)
	return nil
}

// alertStage evaluates the rule engine over enriched samples and
// sensor readings, persists the outcome, and publishes new alerts.
func (p *Pipeline) alertStage(ctx context.Context, enriched []*model.EnrichedSample,
	readings []*model.Reading, now time.Time,
) error {
	started := time.Now()
	p.primeEngine(ctx)

	out := &rules.Outcome{}
	for _, es := range enriched {
		out.Merge(p.eng.Evaluate(es, now))
	}
	out.Merge(p.eng.EvaluateReadings(readings, now))

	for id, at := range out.Supersede {
		if err := p.st.UpdateAlertActive(ctx, id, false, at); err != nil {
			logging.Warn().Err(err).Str("alert_id", id).Msg("supersede alert")
		}
	}
	if len(out.Alerts) > 0 {
		if _, err := p.st.AppendAlerts(ctx, out.Alerts); err != nil {
			return fmt.Errorf("append alerts: %w", err)
		}
		if p.broker != nil {
			for _, a := range out.Alerts {
				if err := p.broker.PublishAlert(ctx, a); err != nil {
					logging.Warn().Err(err).Str("alert_id", a.AlertID).Msg("publish alert")
				}
			}
		}
	}
	metrics.ObserveStage("alerts", started, len(enriched)+len(readings), len(out.Alerts), 0)
	return nil
}

// runIrrigation steps every actuator and publishes event transitions.
func (p *Pipeline) runIrrigation(ctx context.Context, now time.Time) (scheduler.Result, error) {
	in, actuators, err := p.irrigationInput(ctx, now)
	if err != nil {
		return scheduler.Result{}, err
	}
	if err := p.irr.Step(ctx, in); err != nil {
		return scheduler.Result{Input: actuators}, fmt.Errorf("irrigation step: %w", err)
	}
	published, err := p.publishIrrigationEvents(ctx, now)
	if err != nil {
		return scheduler.Result{Input: actuators}, err
	}
	return scheduler.Result{Input: actuators, Output: published}, nil
}

// irrigationInput assembles the controller's view of the world from
// the pipeline's latest-state maps and the active sensor fault alerts.
func (p *Pipeline) irrigationInput(ctx context.Context, now time.Time) (*irrigation.Input, int, error) {
	p.primeFromStore(ctx)

	alerts, err := p.st.ActiveAlerts(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("active alerts: %w", err)
	}
	faults := make(map[string]bool, 2)
	for _, a := range alerts {
		if a.Kind == model.AlertSensorFault {
			faults[a.StationID] = true
		}
	}

	p.mu.Lock()
	in := &irrigation.Input{
		Now:           now,
		Weather:       make(map[string]*model.EnrichedSample, len(p.latestWeather)),
		SoilMoisture:  make(map[string]float64, len(p.soilMoisture)),
		WaterPressure: make(map[string]float64, len(p.waterPressure)),
		PredPrecip6h:  make(map[string]float64, len(p.predPrecip6h)),
		SensorFault:   faults,
	}
	for k, v := range p.latestWeather {
		in.Weather[k] = v
	}
	for k, v := range p.soilMoisture {
		in.SoilMoisture[k] = v
	}
	for k, v := range p.waterPressure {
		in.WaterPressure[k] = v
	}
	for k, v := range p.predPrecip6h {
		in.PredPrecip6h[k] = v
	}
	p.mu.Unlock()

	actuators := 0
	stations, err := p.cat.ListStations("")
	if err != nil {
		return nil, 0, fmt.Errorf("list stations: %w", err)
	}
	for _, stn := range stations {
		acts, err := p.cat.ActuatorsFor(stn.ID)
		if err != nil {
			continue
		}
		actuators += len(acts)
	}
	return in, actuators, nil
}

// publishIrrigationEvents publishes every event whose state changed
// since the last publication. The controller writes events to the
// store; this is the only place they leave the process.
func (p *Pipeline) publishIrrigationEvents(ctx context.Context, now time.Time) (int, error) {
	if p.broker == nil {
		return 0, nil
	}
	cutoff := now.Add(-irrigationLookback)

	stations, err := p.cat.ListStations("")
	if err != nil {
		return 0, fmt.Errorf("list stations: %w", err)
	}
	published := 0
	for _, stn := range stations {
		acts, err := p.cat.ActuatorsFor(stn.ID)
		if err != nil {
			continue
		}
		for _, act := range acts {
			events, err := p.st.IrrigationEventsSince(ctx, act.ID, cutoff)
			if err != nil {
				return published, fmt.Errorf("irrigation events for %s: %w", act.ID, err)
			}
			for _, ev := range events {
				p.mu.Lock()
				last, seen := p.published[ev.EventID]
				changed := !seen || last != ev.State
				if changed {
					p.published[ev.EventID] = ev.State
				}
				p.mu.Unlock()
				if !changed {
					continue
				}
				if err := p.broker.PublishIrrigation(ctx, ev); err != nil {
					logging.Warn().Err(err).Str("event_id", ev.EventID).Msg("publish irrigation event")
					continue
				}
				published++
				if ev.State.Terminal() {
					p.mu.Lock()
					delete(p.published, ev.EventID)
					p.mu.Unlock()
				}
			}
		}
	}
	return published, nil
}

// runRetrain rebuilds every station's forecasters from stored history.
func (p *Pipeline) runRetrain(ctx context.Context, now time.Time) (scheduler.Result, error) {
	stations, err := p.cat.ListStations("")
	if err != nil {
		return scheduler.Result{}, fmt.Errorf("list stations: %w", err)
	}
	from := now.Add(-p.retrainWindow)
	trained := 0
	for _, stn := range stations {
		cur, err := p.st.ScanSamples(ctx, stn.ID, from, now)
		if err != nil {
			return scheduler.Result{Input: len(stations)}, fmt.Errorf("scan %s: %w", stn.ID, err)
		}
		history, err := store.Collect(cur)
		if err != nil {
			return scheduler.Result{Input: len(stations)}, fmt.Errorf("collect %s: %w", stn.ID, err)
		}
		if len(history) == 0 {
			continue
		}
		p.reg.Retrain(stn.ID, history)
		trained++
	}
	logging.Debug().Int("stations", trained).Msg("forecasters retrained")
	return scheduler.Result{Input: len(stations), Output: trained}, nil
}

func (p *Pipeline) retrainDue(now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if now.Sub(p.lastRetrain) < retrainInterval {
		return false
	}
	p.lastRetrain = now
	return true
}

// primeEngine seeds the rule engine with the alerts that were active
// when the process last stopped, so a post-restart emission supersedes
// the persisted alert instead of coexisting with it. Retried until the
// store answers once.
func (p *Pipeline) primeEngine(ctx context.Context) {
	p.mu.Lock()
	primed := p.enginePrimed
	p.mu.Unlock()
	if primed {
		return
	}
	alerts, err := p.st.ActiveAlerts(ctx)
	if err != nil {
		logging.Warn().Err(err).Msg("prime rule engine")
		return
	}
	p.eng.Prime(alerts)
	p.mu.Lock()
	p.enginePrimed = true
	p.mu.Unlock()
}

// primeFromStore backfills the latest-state maps from persisted rows
// after a restart, so irrigation does not wait for a full telemetry
// tick to see the world again. No-op once any weather is cached.
func (p *Pipeline) primeFromStore(ctx context.Context) {
	p.mu.Lock()
	empty := len(p.latestWeather) == 0
	p.mu.Unlock()
	if !empty {
		return
	}

	stations, err := p.cat.ListStations("")
	if err != nil {
		return
	}
	for _, stn := range stations {
		es, err := p.st.LatestEnriched(ctx, stn.ID)
		if err != nil {
			continue
		}
		p.mu.Lock()
		p.latestWeather[stn.ID] = es
		p.mu.Unlock()
		if r, err := p.st.LatestReading(ctx, stn.ID, model.ReadingSoilMoisture); err == nil {
			p.mu.Lock()
			p.soilMoisture[stn.ID] = r.Value
			p.mu.Unlock()
		}
		if r, err := p.st.LatestReading(ctx, stn.ID, model.ReadingWaterPressure); err == nil {
			p.mu.Lock()
			p.waterPressure[stn.ID] = r.Value
			p.mu.Unlock()
		}
	}
}

// recordLatest refreshes the shared station state the irrigation input
// is built from.
func (p *Pipeline) recordLatest(enriched []*model.EnrichedSample, readings []*model.Reading) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, es := range enriched {
		cur, ok := p.latestWeather[es.StationID]
		if !ok || es.Timestamp.After(cur.Timestamp) {
			p.latestWeather[es.StationID] = es
		}
	}
	for _, r := range readings {
		switch r.Kind {
		case model.ReadingSoilMoisture:
			p.soilMoisture[r.StationID] = r.Value
		case model.ReadingWaterPressure:
			p.waterPressure[r.StationID] = r.Value
		}
	}
}

// cachePredPrecip sums the ensemble precipitation forecast over the
// next six steps for one station.
func (p *Pipeline) cachePredPrecip(stationID string, preds []*model.Prediction) {
	sum := 0.0
	found := false
	for _, pr := range preds {
		if pr.ModelID != forecast.ModelEnsemble || pr.Variable != model.VarPrecipitation {
			continue
		}
		if pr.Horizon >= 1 && pr.Horizon <= 6 {
			sum += pr.Value
			found = true
		}
	}
	if !found {
		return
	}
	p.mu.Lock()
	p.predPrecip6h[stationID] = sum
	p.mu.Unlock()
}
