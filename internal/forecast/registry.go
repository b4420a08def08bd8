// Agromet - Agricultural Telemetry and Decision Pipeline for Quillota
// Copyright 2026 J. Cortes (jcortesq)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcortesq/agromet

package forecast

import (
	"math"
	"sync"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/jcortesq/agromet/internal/config"
	"github.com/jcortesq/agromet/internal/logging"
	"github.com/jcortesq/agromet/internal/metrics"
	"github.com/jcortesq/agromet/internal/model"
)

// degradeAfter is the consecutive-failure count that opens a
// forecaster's breaker.
const degradeAfter = 3

// ForecasterMetrics is the rolling error state of one forecaster, as
// consumed by the rule engine and the monitoring API.
type ForecasterMetrics struct {
	ID           string  `json:"id"`
	Evaluations  int     `json:"evaluations"`
	MSE          float64 `json:"mse"`
	Degraded     bool    `json:"degraded"`
	BreakerState string  `json:"breaker_state"`
}

type errWindow struct {
	errs []float64
	next int
}

func (w *errWindow) push(e float64, cap int) {
	if len(w.errs) < cap {
		w.errs = append(w.errs, e)
		return
	}
	w.errs[w.next] = e
	w.next = (w.next + 1) % cap
}

func (w *errWindow) mse() (float64, int) {
	if len(w.errs) == 0 {
		return 0, 0
	}
	var sum float64
	for _, e := range w.errs {
		sum += e
	}
	return sum / float64(len(w.errs)), len(w.errs)
}

type evalKey struct {
	forecaster string
	variable   string
}

type lastKey struct {
	station  string
	variable string
}

// Registry coordinates the forecaster variants: retraining on sliding
// history, per-forecaster circuit breaking, inverse-MSE ensemble
// weighting, and rolling evaluation against incoming actuals.
type Registry struct {
	cfg         config.PredictorConfig
	forecasters []Forecaster
	breakers    map[string]*gobreaker.CircuitBreaker[float64]

	mu    sync.Mutex
	evals map[evalKey]*errWindow
	// last horizon-1 point estimates per (station, variable), compared
	// against the next observed actual.
	last map[lastKey]map[string]float64
}

// NewRegistry builds the registry with the built-in forecaster set.
func NewRegistry(cfg config.PredictorConfig) *Registry {
	r := &Registry{
		cfg: cfg,
		forecasters: []Forecaster{
			NewRecencyMean(),
			NewLinearTrend(),
			NewSeasonalNaive(),
		},
		breakers: make(map[string]*gobreaker.CircuitBreaker[float64]),
		evals:    make(map[evalKey]*errWindow),
		last:     make(map[lastKey]map[string]float64),
	}
	cooldown := time.Duration(cfg.DegradedCooldownSec) * time.Second
	for _, f := range r.forecasters {
		id := f.Describe().ID
		r.breakers[id] = gobreaker.NewCircuitBreaker[float64](gobreaker.Settings{
			Name:        id,
			MaxRequests: 1,
			Timeout:     cooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= degradeAfter
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logging.Info().
					Str("forecaster", name).
					Str("from", from.String()).
					Str("to", to.String()).
					Msg("Forecaster breaker state change")
				if to == gobreaker.StateOpen {
					metrics.ForecasterDegraded.WithLabelValues(name).Inc()
				}
			},
		})
	}
	return r
}

// Retrain refits every forecaster on the station's sliding history.
func (r *Registry) Retrain(stationID string, history []*model.Sample) {
	for _, f := range r.forecasters {
		f.Fit(stationID, history)
	}
}

// PredictAll produces the prediction set for one station: every
// variable, horizons 1..cfg.Horizons, one row per healthy forecaster
// plus the ensemble. Degraded or failing forecasters are skipped; the
// set is empty only when every forecaster is unavailable.
func (r *Registry) PredictAll(stationID string, issuedAt time.Time) []*model.Prediction {
	var out []*model.Prediction
	for _, variable := range Variables {
		out = append(out, r.predictVariable(stationID, variable, issuedAt)...)
	}
	return out
}

func (r *Registry) predictVariable(stationID, variable string, issuedAt time.Time) []*model.Prediction {
	var out []*model.Prediction
	horizon1 := make(map[string]float64)

	type member struct {
		id     string
		weight float64
		values []float64 // per horizon
	}
	var members []member

	for _, f := range r.forecasters {
		id := f.Describe().ID
		cb := r.breakers[id]

		values := make([]float64, 0, r.cfg.Horizons)
		failed := false
		for h := 1; h <= r.cfg.Horizons; h++ {
			v, err := cb.Execute(func() (float64, error) {
				return f.Predict(stationID, variable, h)
			})
			if err != nil {
				metrics.ForecasterErrors.WithLabelValues(id).Inc()
				failed = true
				break
			}
			values = append(values, v)
		}
		if failed {
			continue
		}
		metrics.ForecasterPredictions.WithLabelValues(id).Inc()

		mse, n := r.mseFor(id, variable)
		conf := confidence(mse, n)
		for i, v := range values {
			out = append(out, &model.Prediction{
				ModelID:    id,
				StationID:  stationID,
				Variable:   variable,
				IssuedAt:   issuedAt,
				Horizon:    i + 1,
				Value:      v,
				Confidence: conf,
			})
		}
		horizon1[id] = values[0]
		members = append(members, member{id: id, weight: inverseMSEWeight(mse, n), values: values})
	}

	if len(members) > 0 {
		var wsum float64
		for _, m := range members {
			wsum += m.weight
		}
		ensemble := make([]float64, r.cfg.Horizons)
		for _, m := range members {
			for i, v := range m.values {
				ensemble[i] += v * m.weight / wsum
			}
		}
		mse, n := r.mseFor(ModelEnsemble, variable)
		conf := confidence(mse, n)
		for i, v := range ensemble {
			out = append(out, &model.Prediction{
				ModelID:    ModelEnsemble,
				StationID:  stationID,
				Variable:   variable,
				IssuedAt:   issuedAt,
				Horizon:    i + 1,
				Value:      v,
				Confidence: conf,
			})
		}
		horizon1[ModelEnsemble] = ensemble[0]
		metrics.ForecasterPredictions.WithLabelValues(ModelEnsemble).Inc()
	}

	r.mu.Lock()
	r.last[lastKey{stationID, variable}] = horizon1
	r.mu.Unlock()

	return out
}

// Observe scores the previous horizon-1 predictions against a freshly
// accepted sample, updating each forecaster's rolling error window.
func (r *Registry) Observe(s *model.Sample) {
	for _, variable := range Variables {
		actual, ok := sampleValue(s, variable)
		if !ok {
			continue
		}
		r.mu.Lock()
		k := lastKey{s.StationID, variable}
		preds := r.last[k]
		delete(r.last, k)
		for id, predicted := range preds {
			e := predicted - actual
			r.pushErr(id, variable, e*e)
		}
		r.mu.Unlock()
	}
}

// Metrics reports the rolling error state per forecaster, aggregated
// across variables.
func (r *Registry) Metrics() []ForecasterMetrics {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.forecasters)+1)
	for _, f := range r.forecasters {
		ids = append(ids, f.Describe().ID)
	}
	ids = append(ids, ModelEnsemble)

	out := make([]ForecasterMetrics, 0, len(ids))
	for _, id := range ids {
		var sum float64
		var n int
		for _, variable := range Variables {
			if w, ok := r.evals[evalKey{id, variable}]; ok {
				m, c := w.mse()
				sum += m * float64(c)
				n += c
			}
		}
		fm := ForecasterMetrics{ID: id, Evaluations: n}
		if n > 0 {
			fm.MSE = sum / float64(n)
		}
		if cb, ok := r.breakers[id]; ok {
			fm.BreakerState = cb.State().String()
			fm.Degraded = cb.State() == gobreaker.StateOpen
		}
		out = append(out, fm)
	}
	return out
}

// Degraded reports whether a forecaster is currently excluded.
func (r *Registry) Degraded(id string) bool {
	cb, ok := r.breakers[id]
	return ok && cb.State() == gobreaker.StateOpen
}

// pushErr appends one squared error. Caller holds r.mu.
func (r *Registry) pushErr(id, variable string, e float64) {
	k := evalKey{id, variable}
	w, ok := r.evals[k]
	if !ok {
		w = &errWindow{}
		r.evals[k] = w
	}
	w.push(e, r.cfg.EvalWindow)
}

func (r *Registry) mseFor(id, variable string) (float64, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.evals[evalKey{id, variable}]; ok {
		return w.mse()
	}
	return 0, 0
}

// confidence maps rolling RMSE to [0,1]; unevaluated models sit at 0.5.
func confidence(mse float64, n int) float64 {
	if n == 0 {
		return 0.5
	}
	return math.Max(0, math.Min(1, 1/(1+math.Sqrt(mse))))
}

// inverseMSEWeight favors forecasters with small recent error.
// Unevaluated members carry unit weight.
func inverseMSEWeight(mse float64, n int) float64 {
	if n == 0 {
		return 1
	}
	return 1 / (mse + 1e-6)
}
