// Agromet - Agricultural Telemetry and Decision Pipeline for Quillota
// Copyright 2026 J. Cortes (jcortesq)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcortesq/agromet

// Package irrigation drives one state machine per actuator through
// Idle, Scheduled, Running, CoolingDown and Fault, appending an
// irrigation event per run and finalizing duration and volume on the
// terminal transition.
package irrigation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jcortesq/agromet/internal/catalog"
	"github.com/jcortesq/agromet/internal/config"
	"github.com/jcortesq/agromet/internal/logging"
	"github.com/jcortesq/agromet/internal/metrics"
	"github.com/jcortesq/agromet/internal/model"
	"github.com/jcortesq/agromet/internal/store"
)

// State is the actuator-level machine state.
type State string

const (
	StateIdle        State = "idle"
	StateScheduled   State = "scheduled"
	StateRunning     State = "running"
	StateCoolingDown State = "cooling_down"
	StateFault       State = "fault"
)

const (
	baseDurationMin    = 30.0
	veryDryExtraMin    = 15.0
	dryExtraMin        = 5.0
	warmExtraMin       = 10.0
	warmThresholdC     = 25.0
	startWindLimitMS   = 15.0
	abortWindLimitMS   = 20.0
	predictedRainLimit = 5.0 // mm over the next 6 h
	failStreakToFault  = 2
	cooldownPeriod     = 30 * time.Minute
)

// Input is the per-tick snapshot the controller decides on. Maps are
// keyed by station id unless noted.
type Input struct {
	Now time.Time

	Weather       map[string]*model.EnrichedSample
	SoilMoisture  map[string]float64
	WaterPressure map[string]float64 // bar
	PredPrecip6h  map[string]float64 // summed ensemble precipitation, mm
	SensorFault   map[string]bool    // station has an active sensor_fault alert
}

type actuatorRun struct {
	state        State
	eventID      string
	startedAt    time.Time
	plannedMin   float64
	cooldownEnd  time.Time
	failedStarts int
	usedTodayMin float64
	quotaDay     int // year*1000+yday in local time
}

// Controller owns the irrigation mutation capability on the store.
type Controller struct {
	cfg      config.IrrigationConfig
	catalog  *catalog.Catalog
	store    *store.Store
	loc      *time.Location
	winStart config.Clock
	winEnd   config.Clock

	mu   sync.Mutex
	runs map[string]*actuatorRun // keyed by actuator id
}

// NewController builds the controller for every cataloged actuator.
func NewController(cfg config.IrrigationConfig, cat *catalog.Catalog, st *store.Store) (*Controller, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("irrigation timezone %q: %w", cfg.Timezone, err)
	}
	winStart, err := config.ParseClock(cfg.WindowStart)
	if err != nil {
		return nil, err
	}
	winEnd, err := config.ParseClock(cfg.WindowEnd)
	if err != nil {
		return nil, err
	}

	c := &Controller{
		cfg:      cfg,
		catalog:  cat,
		store:    st,
		loc:      loc,
		winStart: winStart,
		winEnd:   winEnd,
		runs:     make(map[string]*actuatorRun),
	}

	stations, err := cat.ListStations("")
	if err != nil {
		return nil, err
	}
	for _, station := range stations {
		acts, err := cat.ActuatorsFor(station.ID)
		if err != nil {
			return nil, err
		}
		for _, a := range acts {
			c.runs[a.ID] = &actuatorRun{state: StateIdle}
		}
	}
	return c, nil
}

// Step advances every actuator once against the tick snapshot. Emitted
// events are persisted through the store before Step returns.
func (c *Controller) Step(ctx context.Context, in *Input) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]string, 0, len(c.runs))
	for id := range c.runs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if err := c.stepActuator(ctx, id, in); err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) stepActuator(ctx context.Context, actuatorID string, in *Input) error {
	run := c.runs[actuatorID]
	act, err := c.catalog.Actuator(actuatorID)
	if err != nil {
		return err
	}

	c.rollQuotaDay(run, in.Now)

	switch run.state {
	case StateFault:
		if !c.catalog.ActuatorFaulted(actuatorID) {
			// Manual clear through the catalog capability.
			c.transition(run, actuatorID, StateIdle)
			run.failedStarts = 0
		}
		return nil

	case StateCoolingDown:
		if !in.Now.Before(run.cooldownEnd) {
			c.transition(run, actuatorID, StateIdle)
		}
		return nil

	case StateRunning:
		return c.stepRunning(ctx, run, act, in)

	case StateScheduled:
		// A prior tick persisted the event but failed to record the
		// start outcome. Retry the commit against the same event.
		return c.commitStart(ctx, run, act, in)

	case StateIdle:
		return c.stepIdle(ctx, run, act, in)
	}
	return nil
}

// stepRunning completes or aborts an active run.
func (c *Controller) stepRunning(ctx context.Context, run *actuatorRun, act *catalog.Actuator, in *Input) error {
	if reason := c.abortReason(act, in); reason != "" {
		elapsed := in.Now.Sub(run.startedAt).Minutes()
		if err := c.finalize(ctx, run, act, in.Now, model.IrrigationCancelled, elapsed, reason); err != nil {
			return err
		}
		c.transition(run, act.ID, StateCoolingDown)
		run.cooldownEnd = in.Now.Add(cooldownPeriod)
		return nil
	}

	if in.Now.Sub(run.startedAt).Minutes() >= run.plannedMin {
		if err := c.finalize(ctx, run, act, in.Now, model.IrrigationCompleted, run.plannedMin, ""); err != nil {
			return err
		}
		c.transition(run, act.ID, StateCoolingDown)
		run.cooldownEnd = in.Now.Add(cooldownPeriod)
	}
	return nil
}

// stepIdle evaluates the start condition and attempts an actuation.
func (c *Controller) stepIdle(ctx context.Context, run *actuatorRun, act *catalog.Actuator, in *Input) error {
	if !c.withinWindow(in.Now) {
		return nil
	}

	profile, err := c.catalog.ThresholdsFor(act.CropID)
	if err != nil {
		return err
	}
	moisture, ok := in.SoilMoisture[act.StationID]
	if !ok || moisture >= profile.ThresholdDry {
		return nil
	}
	if in.PredPrecip6h[act.StationID] >= predictedRainLimit {
		return nil
	}
	weather := in.Weather[act.StationID]
	if weather != nil && model.Has(weather.WindSpeed) && *weather.WindSpeed >= startWindLimitMS {
		return nil
	}

	duration := c.plannedDuration(act, profile, moisture, weather)
	if c.cfg.DailyQuotaMin > 0 && run.usedTodayMin+duration > c.cfg.DailyQuotaMin {
		logging.Debug().
			Str("actuator_id", act.ID).
			Float64("used_min", run.usedTodayMin).
			Msg("Irrigation skipped: daily quota")
		return nil
	}

	reason := fmt.Sprintf("soil moisture %.1f below dry threshold %.1f", moisture, profile.ThresholdDry)
	ev := model.NewIrrigationEvent(act.ID, act.StationID, reason)
	ev.PlannedDurationMin = duration
	ev.PlannedVolumeL = model.Float(duration * act.NominalFlowLPM * c.cfg.Efficiency)
	if _, err := c.store.AppendIrrigation(ctx, []*model.IrrigationEvent{ev}); err != nil {
		return err
	}
	c.transition(run, act.ID, StateScheduled)
	run.eventID = ev.EventID
	run.plannedMin = duration

	return c.commitStart(ctx, run, act, in)
}

// commitStart resolves a scheduled event into Running or Failed. The
// machine stays in Scheduled until one of the transitions persists, so
// a storage error here is retried on the next tick.
func (c *Controller) commitStart(ctx context.Context, run *actuatorRun, act *catalog.Actuator, in *Input) error {
	profile, err := c.catalog.ThresholdsFor(act.CropID)
	if err != nil {
		return err
	}

	if failReason := c.startFailure(act, profile, in); failReason != "" {
		if err := c.store.UpdateIrrigationState(ctx, run.eventID, model.IrrigationFailed,
			nil, &in.Now, nil, nil); err != nil {
			return err
		}
		run.failedStarts++
		logging.Warn().
			Str("actuator_id", act.ID).
			Str("reason", failReason).
			Int("streak", run.failedStarts).
			Msg("Irrigation start failed")
		if run.failedStarts >= failStreakToFault {
			c.transition(run, act.ID, StateFault)
			_ = c.catalog.MarkActuatorFault(act.ID)
		} else {
			c.transition(run, act.ID, StateIdle)
		}
		return nil
	}

	if err := c.store.UpdateIrrigationState(ctx, run.eventID, model.IrrigationRunning,
		&in.Now, nil, nil, nil); err != nil {
		return err
	}
	c.transition(run, act.ID, StateRunning)
	run.startedAt = in.Now
	run.failedStarts = 0
	logging.Info().
		Str("actuator_id", act.ID).
		Str("station_id", act.StationID).
		Float64("planned_min", run.plannedMin).
		Msg("Irrigation started")
	return nil
}

// plannedDuration applies the duration policy: base 30, one dryness
// increment, a warm-day increment, clamped to the configured and
// actuator bounds.
func (c *Controller) plannedDuration(act *catalog.Actuator, profile *catalog.ThresholdProfile,
	moisture float64, weather *model.EnrichedSample) float64 {

	d := baseDurationMin
	if moisture < profile.ThresholdVeryDry {
		d += veryDryExtraMin
	} else {
		d += dryExtraMin
	}
	if weather != nil && model.Has(weather.Temperature) && *weather.Temperature > warmThresholdC {
		d += warmExtraMin
	}

	max := c.cfg.MaxDurationMin
	if act.MaxDurationMin < max {
		max = act.MaxDurationMin
	}
	if d > max {
		d = max
	}
	if d < c.cfg.MinDurationMin {
		d = c.cfg.MinDurationMin
	}
	return d
}

// abortReason checks the running-state abort conditions in order.
func (c *Controller) abortReason(act *catalog.Actuator, in *Input) string {
	weather := in.Weather[act.StationID]
	if weather != nil && model.Has(weather.WindSpeed) && *weather.WindSpeed >= abortWindLimitMS {
		return "wind_strong"
	}
	if in.SensorFault[act.StationID] {
		return "sensor_fault"
	}
	if bar, ok := in.WaterPressure[act.StationID]; ok {
		profile, err := c.catalog.ThresholdsFor(act.CropID)
		if err == nil && (bar < profile.PressureMinBar || bar > profile.PressureMaxBar) {
			return "pressure_out_of_band"
		}
	}
	return ""
}

// startFailure reports why an actuation attempt cannot begin.
func (c *Controller) startFailure(act *catalog.Actuator, profile *catalog.ThresholdProfile, in *Input) string {
	if c.catalog.ActuatorFaulted(act.ID) {
		return "actuator_marked_faulted"
	}
	if bar, ok := in.WaterPressure[act.StationID]; ok {
		if bar < profile.PressureMinBar || bar > profile.PressureMaxBar {
			return fmt.Sprintf("water pressure %.2f bar outside [%.2f, %.2f]",
				bar, profile.PressureMinBar, profile.PressureMaxBar)
		}
	}
	return ""
}

// finalize closes the active event with its actuals.
func (c *Controller) finalize(ctx context.Context, run *actuatorRun, act *catalog.Actuator,
	now time.Time, state model.IrrigationState, actualMin float64, reason string) error {

	if actualMin < 0 {
		actualMin = 0
	}
	volume := actualMin * act.NominalFlowLPM * c.cfg.Efficiency
	if err := c.store.UpdateIrrigationState(ctx, run.eventID, state,
		nil, &now, model.Float(actualMin), model.Float(volume)); err != nil {
		return err
	}
	run.usedTodayMin += actualMin
	metrics.IrrigationVolume.WithLabelValues(act.ID).Add(volume)

	evt := logging.Info().
		Str("actuator_id", act.ID).
		Str("state", string(state)).
		Float64("actual_min", actualMin).
		Float64("volume_l", volume)
	if reason != "" {
		evt = evt.Str("reason", reason)
	}
	evt.Msg("Irrigation run closed")

	if reason != "" {
		return c.annotateReason(ctx, run.eventID, reason)
	}
	return nil
}

// annotateReason replaces the event reason on abort. The column is set
// to the trigger cause at scheduling time; aborts overwrite it.
func (c *Controller) annotateReason(ctx context.Context, eventID, reason string) error {
	return c.store.UpdateIrrigationReason(ctx, eventID, reason)
}

func (c *Controller) transition(run *actuatorRun, actuatorID string, to State) {
	from := run.state
	run.state = to
	metrics.IrrigationTransitions.WithLabelValues(actuatorID, string(from), string(to)).Inc()
}

func (c *Controller) withinWindow(now time.Time) bool {
	local := now.In(c.loc)
	minutes := local.Hour()*60 + local.Minute()
	return minutes >= c.winStart.Minutes() && minutes < c.winEnd.Minutes()
}

func (c *Controller) rollQuotaDay(run *actuatorRun, now time.Time) {
	local := now.In(c.loc)
	day := local.Year()*1000 + local.YearDay()
	if run.quotaDay != day {
		run.quotaDay = day
		run.usedTodayMin = 0
	}
}

// States returns a snapshot of actuator states for the monitoring API.
func (c *Controller) States() map[string]State {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]State, len(c.runs))
	for id, run := range c.runs {
		out[id] = run.state
	}
	return out
}
