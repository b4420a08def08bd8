// Agromet - Agricultural Telemetry and Decision Pipeline for Quillota
// Copyright 2026 J. Cortes (jcortesq)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcortesq/agromet

package rules

import (
	"testing"
	"time"

	"github.com/jcortesq/agromet/internal/catalog"
	"github.com/jcortesq/agromet/internal/config"
	"github.com/jcortesq/agromet/internal/model"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	cat, err := catalog.New(catalog.DefaultData())
	if err != nil {
		t.Fatalf("catalog.New: %v", err)
	}
	return NewEngine(config.AlertsConfig{CoolingWindowSec: 1800}, cat)
}

func enriched(station, crop string, ts time.Time, temp, hum, wind, precip float64) *model.EnrichedSample {
	return &model.EnrichedSample{
		Sample: model.Sample{
			StationID:     station,
			Timestamp:     ts,
			Temperature:   model.Float(temp),
			Humidity:      model.Float(hum),
			WindSpeed:     model.Float(wind),
			Precipitation: model.Float(precip),
			Pressure:      model.Float(1015),
			Quality:       1.0,
			Source:        "synthetic",
		},
		CropID: crop,
	}
}

func TestFrostCritical(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	ts := time.Date(2025, 7, 15, 5, 0, 0, 0, time.UTC)

	out := e.Evaluate(enriched("quillota_centro", "palto", ts, 1.5, 78, 2, 0), ts)
	if len(out.Alerts) != 1 {
		t.Fatalf("alerts = %d, want 1", len(out.Alerts))
	}
	a := out.Alerts[0]
	if a.Kind != model.AlertFrost || a.Severity != model.SeverityCritical {
		t.Fatalf("alert = %s/%s, want frost/critical", a.Kind, a.Severity)
	}
	if a.Threshold != 2.0 || a.TriggerValue != 1.5 {
		t.Fatalf("threshold/trigger = %v/%v, want 2.0/1.5", a.Threshold, a.TriggerValue)
	}
	if !a.Active {
		t.Fatal("new alert not active")
	}
	if a.RecommendedAction != "activate sprinklers and frost protection" {
		t.Fatalf("action = %q", a.RecommendedAction)
	}
	if a.CropID != "palto" || a.StationID != "quillota_centro" {
		t.Fatalf("alert context = %s/%s", a.StationID, a.CropID)
	}
}

func TestFrostWarningAndSensitiveMonths(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)

	// 3.5 C is inside the warning band in July.
	july := time.Date(2025, 7, 15, 5, 0, 0, 0, time.UTC)
	out := e.Evaluate(enriched("quillota_centro", "palto", july, 3.5, 78, 2, 0), july)
	if len(out.Alerts) != 1 || out.Alerts[0].Severity != model.SeverityHigh {
		t.Fatalf("july outcome = %+v, want frost/high", out.Alerts)
	}

	// Same temperature in January (outside sensitive months): no frost.
	jan := time.Date(2026, 1, 15, 5, 0, 0, 0, time.UTC)
	out = e.Evaluate(enriched("la_cruz", "palto", jan, 3.5, 78, 2, 0), jan)
	if len(out.Alerts) != 0 {
		t.Fatalf("january outcome = %+v, want none", out.Alerts)
	}
}

func TestSpanishPresentationStrings(t *testing.T) {
	t.Parallel()
	ts := time.Date(2025, 7, 15, 5, 0, 0, 0, time.UTC)

	e := newTestEngine(t)
	out := e.Evaluate(enriched("quillota_centro", "palto", ts, 1.5, 78, 2, 0), ts)
	if len(out.Alerts) != 1 {
		t.Fatalf("alerts = %d, want 1", len(out.Alerts))
	}
	a := out.Alerts[0]
	if a.MessageES != "Alerta de helada en cultivos sensibles" {
		t.Errorf("message_es = %q", a.MessageES)
	}
	if a.RecommendedActionES != "Activar sistemas de riego por aspersión y protección antiheladas" {
		t.Errorf("recommended_action_es = %q", a.RecommendedActionES)
	}

	// Overrides replace single entries and leave the rest in place.
	cat, err := catalog.New(catalog.DefaultData())
	if err != nil {
		t.Fatalf("catalog.New: %v", err)
	}
	e2 := NewEngine(config.AlertsConfig{
		CoolingWindowSec: 1800,
		ActionsES:        map[string]string{"frost": "Encender calefactores en invernaderos"},
	}, cat)
	out = e2.Evaluate(enriched("quillota_centro", "palto", ts, 1.5, 78, 2, 0), ts)
	if len(out.Alerts) != 1 {
		t.Fatalf("alerts = %d, want 1", len(out.Alerts))
	}
	a = out.Alerts[0]
	if a.RecommendedActionES != "Encender calefactores en invernaderos" {
		t.Errorf("overridden action_es = %q", a.RecommendedActionES)
	}
	if a.MessageES != "Alerta de helada en cultivos sensibles" {
		t.Errorf("default message_es lost: %q", a.MessageES)
	}
}

func TestPrimeRestoresCoolingAndSupersession(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	issued := time.Date(2025, 7, 15, 3, 0, 0, 0, time.UTC)

	persisted := model.NewAlert(model.AlertFrost, model.SeverityCritical, "quillota_centro", issued)
	persisted.CropID = "palto"
	e.Prime([]*model.Alert{persisted})

	// Inside the restored cooling window the rule stays quiet.
	soon := issued.Add(10 * time.Minute)
	out := e.Evaluate(enriched("quillota_centro", "palto", soon, 1.0, 78, 2, 0), soon)
	if len(out.Alerts) != 0 {
		t.Fatalf("outcome inside cooling window = %+v, want none", out.Alerts)
	}

	// Past the window a fresh emission supersedes the persisted alert.
	later := issued.Add(time.Hour)
	out = e.Evaluate(enriched("quillota_centro", "palto", later, 1.0, 78, 2, 0), later)
	if len(out.Alerts) != 1 {
		t.Fatalf("outcome past cooling window = %+v, want one alert", out.Alerts)
	}
	resolvedAt, ok := out.Supersede[persisted.AlertID]
	if !ok {
		t.Fatal("persisted alert not superseded")
	}
	if !resolvedAt.Equal(later) {
		t.Fatalf("resolved_at = %v, want %v", resolvedAt, later)
	}
}

func TestFirstMatchWins(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	ts := time.Date(2025, 7, 15, 5, 0, 0, 0, time.UTC)

	// Frost and strong wind both hold; only the frost rule fires.
	out := e.Evaluate(enriched("quillota_centro", "palto", ts, 1.0, 78, 25, 0), ts)
	if len(out.Alerts) != 1 || out.Alerts[0].Kind != model.AlertFrost {
		t.Fatalf("outcome = %+v, want single frost alert", out.Alerts)
	}
}

func TestHeatAndWindRules(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	ts := time.Date(2026, 1, 20, 16, 0, 0, 0, time.UTC)

	out := e.Evaluate(enriched("quillota_centro", "palto", ts, 36, 30, 3, 0), ts)
	if len(out.Alerts) != 1 || out.Alerts[0].Kind != model.AlertHeatExtreme {
		t.Fatalf("heat outcome = %+v", out.Alerts)
	}

	out = e.Evaluate(enriched("la_cruz", "chirimoya", ts, 25, 50, 22, 0), ts)
	if len(out.Alerts) != 1 || out.Alerts[0].Kind != model.AlertWindStrong ||
		out.Alerts[0].Severity != model.SeverityHigh {
		t.Fatalf("wind outcome = %+v", out.Alerts)
	}
}

func TestExcessHumiditySustained(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	base := time.Date(2026, 1, 20, 6, 0, 0, 0, time.UTC)

	for i := 0; i < 2; i++ {
		ts := base.Add(time.Duration(i) * time.Minute)
		out := e.Evaluate(enriched("limache", "lucuma", ts, 18, 95, 2, 0), ts)
		if len(out.Alerts) != 0 {
			t.Fatalf("humidity alert fired after %d samples", i+1)
		}
	}
	ts := base.Add(2 * time.Minute)
	out := e.Evaluate(enriched("limache", "lucuma", ts, 18, 95, 2, 0), ts)
	if len(out.Alerts) != 1 || out.Alerts[0].Kind != model.AlertExcessHumidity {
		t.Fatalf("third sample outcome = %+v", out.Alerts)
	}

	// A dip resets the run.
	e2 := newTestEngine(t)
	for i, h := range []float64{95, 80, 95, 95} {
		ts := base.Add(time.Duration(i) * time.Minute)
		if out := e2.Evaluate(enriched("limache", "lucuma", ts, 18, h, 2, 0), ts); len(out.Alerts) != 0 {
			t.Fatalf("alert after reset at sample %d", i)
		}
	}
}

func TestDroughtRule(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	// Eight dry days at a mediterranean station.
	var out *Outcome
	for day := 0; day <= 8; day++ {
		ts := base.Add(time.Duration(day) * 24 * time.Hour)
		out = e.Evaluate(enriched("quillota_centro", "", ts, 22, 50, 3, 0), ts)
	}
	if len(out.Alerts) != 1 || out.Alerts[0].Kind != model.AlertDrought {
		t.Fatalf("dry-week outcome = %+v, want drought", out.Alerts)
	}

	// Rain inside the window prevents the alert.
	e2 := newTestEngine(t)
	for day := 0; day <= 8; day++ {
		ts := base.Add(time.Duration(day) * 24 * time.Hour)
		precip := 0.0
		if day == 6 {
			precip = 5
		}
		out = e2.Evaluate(enriched("quillota_centro", "", ts, 22, 50, 3, precip), ts)
	}
	if len(out.Alerts) != 0 {
		t.Fatalf("rainy-week outcome = %+v, want none", out.Alerts)
	}
}

func TestCoolingWindowAndSupersede(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	ts := time.Date(2025, 7, 15, 5, 0, 0, 0, time.UTC)

	first := e.Evaluate(enriched("quillota_centro", "palto", ts, 1.5, 78, 2, 0), ts)
	if len(first.Alerts) != 1 {
		t.Fatalf("first outcome = %+v", first.Alerts)
	}

	// Ten minutes later the same condition is suppressed.
	later := ts.Add(10 * time.Minute)
	out := e.Evaluate(enriched("quillota_centro", "palto", later, 1.2, 78, 2, 0), later)
	if len(out.Alerts) != 0 {
		t.Fatalf("inside cooling window = %+v, want none", out.Alerts)
	}

	// After the window, a new frost alert supersedes the old one.
	after := ts.Add(31 * time.Minute)
	out = e.Evaluate(enriched("quillota_centro", "palto", after, 0.8, 78, 2, 0), after)
	if len(out.Alerts) != 1 {
		t.Fatalf("post-window outcome = %+v", out.Alerts)
	}
	resolvedAt, ok := out.Supersede[first.Alerts[0].AlertID]
	if !ok {
		t.Fatalf("older alert not superseded: %+v", out.Supersede)
	}
	if !resolvedAt.Equal(after) {
		t.Fatalf("resolved_at = %v, want %v", resolvedAt, after)
	}
}

func TestSensorFault(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	ts := time.Date(2026, 1, 20, 6, 0, 0, 0, time.UTC)

	readings := []*model.Reading{
		{SensorID: "qc_sm_01", StationID: "quillota_centro", Kind: model.ReadingSoilMoisture,
			Timestamp: ts, Value: 30, Unit: "%", Battery: 5, Signal: 70}, // battery fault
		{SensorID: "lc_sm_01", StationID: "la_cruz", Kind: model.ReadingSoilMoisture,
			Timestamp: ts, Value: 75, Unit: "%", Battery: 80, Signal: 70}, // out of nominal
		{SensorID: "ng_sm_01", StationID: "nogales", Kind: model.ReadingSoilMoisture,
			Timestamp: ts, Value: 30, Unit: "%", Battery: 80, Signal: 70}, // healthy
	}
	out := e.EvaluateReadings(readings, ts)
	if len(out.Alerts) != 2 {
		t.Fatalf("sensor fault alerts = %d, want 2", len(out.Alerts))
	}
	for _, a := range out.Alerts {
		if a.Kind != model.AlertSensorFault || a.Severity != model.SeverityWarning {
			t.Fatalf("alert = %s/%s", a.Kind, a.Severity)
		}
	}
}

func TestValidPredictions(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	tick := time.Date(2026, 1, 20, 6, 0, 0, 0, time.UTC)

	good := &model.Prediction{ModelID: "ensemble", StationID: "qc", Variable: model.VarTemperature,
		IssuedAt: tick.Add(-time.Minute), Horizon: 1, Value: 20, Confidence: 0.8}
	future := &model.Prediction{ModelID: "ensemble", StationID: "qc", Variable: model.VarTemperature,
		IssuedAt: tick.Add(time.Minute), Horizon: 1, Value: 20, Confidence: 0.8}
	badConf := &model.Prediction{ModelID: "ensemble", StationID: "qc", Variable: model.VarTemperature,
		IssuedAt: tick.Add(-time.Minute), Horizon: 1, Value: 20, Confidence: 1.2}

	got := e.ValidPredictions([]*model.Prediction{good, future, badConf}, tick)
	if len(got) != 1 || got[0] != good {
		t.Fatalf("ValidPredictions = %+v", got)
	}
}
