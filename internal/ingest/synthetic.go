// Agromet - Agricultural Telemetry and Decision Pipeline for Quillota
// Copyright 2026 J. Cortes (jcortesq)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcortesq/agromet

package ingest

import (
	"context"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/jcortesq/agromet/internal/catalog"
	"github.com/jcortesq/agromet/internal/config"
	"github.com/jcortesq/agromet/internal/model"
)

// Monthly precipitation probability for the Quillota valley, Jan-Dec.
// Mediterranean regime: concentrated May through August.
var precipProbByMonth = [13]float64{0,
	0.02, 0.02, 0.05, 0.10, 0.18, 0.25,
	0.25, 0.20, 0.12, 0.06, 0.03, 0.02,
}

const (
	dailyTempAmplitude  = 7.0 // degrees C, peak at 15:00
	seasonalAmplitude   = 6.0 // degrees C, southern-hemisphere phase
	tempNoiseSigma      = 3.0
	pressureMean        = 1013.0
	pressureSigma       = 8.0
	precipMeanMM        = 2.0
	windGammaShape      = 2
	windGammaScale      = 2.0
	humidityCoupling    = 1.8 // percent lost per degree of warm anomaly
	soilEvapPerDegree   = 0.04
	soilGainPerMM       = 0.8
	batteryDrainPerTick = 0.002
)

type stationState struct {
	station *catalog.Station
	next    time.Time
	rng     *rand.Rand
}

type sensorState struct {
	sensor   *catalog.Sensor
	moisture float64
	battery  float64
}

// Synthetic generates weather and soil telemetry from station climate
// anchors. Given the same seed, catalog and start time, the stream is
// fully reproducible.
type Synthetic struct {
	*batchControl

	cadence time.Duration

	mu       sync.Mutex
	stations []*stationState
	sensors  map[string][]*sensorState // keyed by station id
}

// NewSynthetic builds the generator. Station timestamps start at the
// current minute and advance by exactly the cadence each sample.
func NewSynthetic(cfg config.IngestConfig, cat *catalog.Catalog) *Synthetic {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	stations, _ := cat.ListStations("")
	sort.Slice(stations, func(i, j int) bool { return stations[i].ID < stations[j].ID })

	start := time.Now().UTC().Truncate(time.Minute)
	s := &Synthetic{
		batchControl: newBatchControl(cfg.BatchSize),
		cadence:      time.Duration(cfg.CadenceSec) * time.Second,
		sensors:      make(map[string][]*sensorState),
	}
	for i, st := range stations {
		if !st.Active {
			continue
		}
		s.stations = append(s.stations, &stationState{
			station: st,
			next:    start,
			rng:     rand.New(rand.NewSource(seed + int64(i))),
		})
		sensors, _ := cat.SensorsFor(st.ID)
		for _, sn := range sensors {
			s.sensors[st.ID] = append(s.sensors[st.ID], &sensorState{
				sensor:   sn,
				moisture: 35,
				battery:  100,
			})
		}
	}
	return s
}

// Pull generates the next batch, round-robin across active stations.
func (s *Synthetic) Pull(_ context.Context) (*Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := &Batch{}
	if len(s.stations) == 0 {
		return batch, nil
	}
	n := s.BatchSize()
	for i := 0; i < n; i++ {
		st := s.stations[i%len(s.stations)]
		sample := s.generate(st)
		batch.Samples = append(batch.Samples, sample)
		batch.Readings = append(batch.Readings, s.readings(st, sample)...)
	}
	return batch, nil
}

func (s *Synthetic) generate(st *stationState) *model.Sample {
	ts := st.next
	st.next = ts.Add(s.cadence)
	rng := st.rng

	hour := float64(ts.Hour()) + float64(ts.Minute())/60
	doy := float64(ts.YearDay())

	seasonal := seasonalAmplitude * math.Cos(2*math.Pi*(doy-15)/365)
	daily := dailyTempAmplitude * math.Sin(2*math.Pi*(hour-9)/24)
	temp := st.station.BaseTemperature + seasonal + daily + rng.NormFloat64()*tempNoiseSigma

	anomaly := temp - (st.station.BaseTemperature + seasonal)
	humidity := clamp(st.station.BaseHumidity-humidityCoupling*anomaly+rng.NormFloat64()*4, 0, 100)

	var precip float64
	if rng.Float64() < precipProbByMonth[ts.Month()] {
		precip = rng.ExpFloat64() * precipMeanMM
	}

	wind := gammaSample(rng, windGammaShape, windGammaScale)
	direction := rng.Float64() * 360
	pressure := pressureMean + rng.NormFloat64()*pressureSigma

	var solar float64
	if hour > 7 && hour < 19 {
		solar = math.Max(0, 900*math.Sin(math.Pi*(hour-7)/12)) * (0.7 + 0.3*rng.Float64())
	}

	return &model.Sample{
		StationID:      st.station.ID,
		Timestamp:      ts,
		Temperature:    model.Float(round1(temp)),
		Humidity:       model.Float(round1(humidity)),
		Pressure:       model.Float(round1(pressure)),
		WindSpeed:      model.Float(round1(wind)),
		WindDirection:  model.Float(round1(direction)),
		Precipitation:  model.Float(round1(precip)),
		SolarRadiation: model.Float(round1(solar)),
		Quality:        1.0,
		Source:         "synthetic",
	}
}

// readings steps each soil sensor's state with the freshly generated
// weather: moisture gains from rain and loses to warm-air evaporation.
func (s *Synthetic) readings(st *stationState, sample *model.Sample) []*model.Reading {
	var out []*model.Reading
	for _, sn := range s.sensors[st.station.ID] {
		sn.battery = math.Max(0, sn.battery-batteryDrainPerTick)

		var value float64
		var unit string
		switch sn.sensor.Kind {
		case string(model.ReadingSoilMoisture):
			sn.moisture += model.Value(sample.Precipitation) * soilGainPerMM
			sn.moisture -= math.Max(0, model.Value(sample.Temperature)-10) * soilEvapPerDegree
			sn.moisture = clamp(sn.moisture+st.rng.NormFloat64()*0.3, 0, 100)
			value, unit = round1(sn.moisture), "%"
		case string(model.ReadingSoilTemperature):
			value, unit = round1(model.Value(sample.Temperature)*0.8+3), "C"
		case string(model.ReadingWaterPressure):
			value, unit = round1(3+st.rng.NormFloat64()*0.3), "bar"
		case string(model.ReadingLeafWetness):
			value, unit = round1(clamp((model.Value(sample.Humidity)-60)*2.5, 0, 100)), "%"
		default:
			continue
		}

		out = append(out, &model.Reading{
			SensorID:  sn.sensor.ID,
			StationID: st.station.ID,
			Kind:      model.ReadingKind(sn.sensor.Kind),
			Timestamp: sample.Timestamp,
			Value:     value,
			Unit:      unit,
			Battery:   round1(sn.battery),
			Signal:    round1(clamp(75+st.rng.NormFloat64()*10, 0, 100)),
		})
	}
	return out
}

// gammaSample draws from Gamma(shape, scale) for small integer shapes
// as a sum of exponentials.
func gammaSample(rng *rand.Rand, shape int, scale float64) float64 {
	var sum float64
	for i := 0; i < shape; i++ {
		sum += rng.ExpFloat64()
	}
	return sum * scale
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
