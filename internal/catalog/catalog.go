// Agromet - Agricultural Telemetry and Decision Pipeline for Quillota
// Copyright 2026 J. Cortes (jcortesq)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcortesq/agromet

// Package catalog holds the immutable reference data loaded at boot:
// regions, stations, crops, sensors, actuators and threshold profiles
// for the Quillota valley. All lookups are in-memory and read-only
// after Load; the single exception is the actuator fault-clear
// capability, which flips a dedicated atomic flag.
package catalog

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrUnknownID is returned for lookups of ids not present in the catalog.
var ErrUnknownID = errors.New("unknown catalog id")

// ClimateClass tags a region's climate regime.
type ClimateClass string

const (
	ClimateMediterranean ClimateClass = "mediterranean"
	ClimateCoastal       ClimateClass = "coastal"
	ClimateInterior      ClimateClass = "interior"
)

// Region is an administrative/climatic grouping of stations.
type Region struct {
	ID             string       `koanf:"id" json:"id"`
	Name           string       `koanf:"name" json:"name"`
	Latitude       float64      `koanf:"latitude" json:"latitude"`
	Longitude      float64      `koanf:"longitude" json:"longitude"`
	Climate        ClimateClass `koanf:"climate" json:"climate"`
	PrincipalCrops []string     `koanf:"principal_crops" json:"principal_crops"`
}

// Station is a meteorological station with attached sensors.
type Station struct {
	ID          string   `koanf:"id" json:"id"`
	RegionID    string   `koanf:"region_id" json:"region_id"`
	Name        string   `koanf:"name" json:"name"`
	Latitude    float64  `koanf:"latitude" json:"latitude"`
	Longitude   float64  `koanf:"longitude" json:"longitude"`
	AltitudeM   float64  `koanf:"altitude_m" json:"altitude_m"`
	SensorKinds []string `koanf:"sensor_kinds" json:"sensor_kinds"`
	Active      bool     `koanf:"active" json:"active"`

	// Climate anchors for synthetic generation.
	BaseTemperature float64 `koanf:"base_temperature" json:"base_temperature"` // annual mean, degrees C
	BaseHumidity    float64 `koanf:"base_humidity" json:"base_humidity"`       // annual mean, percent
}

// Crop describes a cultivated species and its climatic tolerances.
type Crop struct {
	ID              string  `koanf:"id" json:"id"`
	RegionID        string  `koanf:"region_id" json:"region_id"`
	Name            string  `koanf:"name" json:"name"`
	SpanishName     string  `koanf:"spanish_name" json:"spanish_name"` // display only
	OptimalTempMin  float64 `koanf:"optimal_temp_min" json:"optimal_temp_min"`
	OptimalTempMax  float64 `koanf:"optimal_temp_max" json:"optimal_temp_max"`
	HumidityMin     float64 `koanf:"humidity_min" json:"humidity_min"`
	HumidityMax     float64 `koanf:"humidity_max" json:"humidity_max"`
	FrostCritical   float64 `koanf:"frost_critical" json:"frost_critical"` // degrees C
	FrostWarning    float64 `koanf:"frost_warning" json:"frost_warning"`   // degrees C
	BaseTemperature float64 `koanf:"base_temperature" json:"base_temperature"` // GDU base
	SensitiveMonths []int   `koanf:"sensitive_months" json:"sensitive_months"` // 1-12
}

// SensitiveIn reports whether month (1-12) is frost-sensitive for the crop.
func (c *Crop) SensitiveIn(month time.Month) bool {
	for _, m := range c.SensitiveMonths {
		if time.Month(m) == month {
			return true
		}
	}
	return false
}

// ActuatorKind enumerates irrigation hardware types.
type ActuatorKind string

const (
	ActuatorSprinkler ActuatorKind = "sprinkler"
	ActuatorDrip      ActuatorKind = "drip"
)

// Actuator is an irrigation endpoint attached to a station.
type Actuator struct {
	ID             string       `koanf:"id" json:"id"`
	StationID      string       `koanf:"station_id" json:"station_id"`
	CropID         string       `koanf:"crop_id" json:"crop_id"`
	Kind           ActuatorKind `koanf:"kind" json:"kind"`
	NominalFlowLPM float64      `koanf:"nominal_flow_lpm" json:"nominal_flow_lpm"`
	MaxDurationMin float64      `koanf:"max_duration_min" json:"max_duration_min"`
	MaxPressureBar float64      `koanf:"max_pressure_bar" json:"max_pressure_bar"`
}

// ThresholdProfile centralizes per-crop rule thresholds so rules stay
// pure functions of (sample, profile).
type ThresholdProfile struct {
	CropID           string  `koanf:"crop_id" json:"crop_id"`
	ThresholdDry     float64 `koanf:"threshold_dry" json:"threshold_dry"`           // soil moisture %
	ThresholdVeryDry float64 `koanf:"threshold_very_dry" json:"threshold_very_dry"` // soil moisture %
	PressureMinBar   float64 `koanf:"pressure_min_bar" json:"pressure_min_bar"`
	PressureMaxBar   float64 `koanf:"pressure_max_bar" json:"pressure_max_bar"`
}

// Sensor ties a physical sensor to its station and nominal range.
type Sensor struct {
	ID         string  `koanf:"id" json:"id"`
	StationID  string  `koanf:"station_id" json:"station_id"`
	Kind       string  `koanf:"kind" json:"kind"`
	NominalMin float64 `koanf:"nominal_min" json:"nominal_min"`
	NominalMax float64 `koanf:"nominal_max" json:"nominal_max"`
}

// Data is the raw reference set a Catalog is built from.
type Data struct {
	Regions    []Region           `koanf:"regions"`
	Stations   []Station          `koanf:"stations"`
	Crops      []Crop             `koanf:"crops"`
	Sensors    []Sensor           `koanf:"sensors"`
	Actuators  []Actuator         `koanf:"actuators"`
	Thresholds []ThresholdProfile `koanf:"thresholds"`
}

// Catalog indexes the reference data for O(1) lookups.
type Catalog struct {
	regions    map[string]*Region
	stations   map[string]*Station
	crops      map[string]*Crop
	sensors    map[string]*Sensor
	actuators  map[string]*Actuator
	thresholds map[string]*ThresholdProfile // keyed by crop id

	stationsByRegion   map[string][]*Station
	cropsByRegion      map[string][]*Crop
	actuatorsByStation map[string][]*Actuator
	sensorsByStation   map[string][]*Sensor

	// faulted actuators, mutated only through MarkActuatorFault /
	// ClearActuatorFault (the manual-clear capability).
	faultMu sync.RWMutex
	faulted map[string]bool
}

// New builds an indexed catalog from reference data.
// Referential integrity is checked: every station must name an existing
// region, every actuator an existing station, and so on.
func New(data *Data) (*Catalog, error) {
	c := &Catalog{
		regions:            make(map[string]*Region, len(data.Regions)),
		stations:           make(map[string]*Station, len(data.Stations)),
		crops:              make(map[string]*Crop, len(data.Crops)),
		sensors:            make(map[string]*Sensor, len(data.Sensors)),
		actuators:          make(map[string]*Actuator, len(data.Actuators)),
		thresholds:         make(map[string]*ThresholdProfile, len(data.Thresholds)),
		stationsByRegion:   make(map[string][]*Station),
		cropsByRegion:      make(map[string][]*Crop),
		actuatorsByStation: make(map[string][]*Actuator),
		sensorsByStation:   make(map[string][]*Sensor),
		faulted:            make(map[string]bool),
	}

	for i := range data.Regions {
		r := &data.Regions[i]
		c.regions[r.ID] = r
	}
	for i := range data.Stations {
		s := &data.Stations[i]
		if _, ok := c.regions[s.RegionID]; !ok {
			return nil, fmt.Errorf("station %s references unknown region %s", s.ID, s.RegionID)
		}
		c.stations[s.ID] = s
		c.stationsByRegion[s.RegionID] = append(c.stationsByRegion[s.RegionID], s)
	}
	for i := range data.Crops {
		cr := &data.Crops[i]
		if _, ok := c.regions[cr.RegionID]; !ok {
			return nil, fmt.Errorf("crop %s references unknown region %s", cr.ID, cr.RegionID)
		}
		c.crops[cr.ID] = cr
		c.cropsByRegion[cr.RegionID] = append(c.cropsByRegion[cr.RegionID], cr)
	}
	for i := range data.Sensors {
		s := &data.Sensors[i]
		if _, ok := c.stations[s.StationID]; !ok {
			return nil, fmt.Errorf("sensor %s references unknown station %s", s.ID, s.StationID)
		}
		c.sensors[s.ID] = s
		c.sensorsByStation[s.StationID] = append(c.sensorsByStation[s.StationID], s)
	}
	for i := range data.Actuators {
		a := &data.Actuators[i]
		if _, ok := c.stations[a.StationID]; !ok {
			return nil, fmt.Errorf("actuator %s references unknown station %s", a.ID, a.StationID)
		}
		if _, ok := c.crops[a.CropID]; a.CropID != "" && !ok {
			return nil, fmt.Errorf("actuator %s references unknown crop %s", a.ID, a.CropID)
		}
		c.actuators[a.ID] = a
		c.actuatorsByStation[a.StationID] = append(c.actuatorsByStation[a.StationID], a)
	}
	for i := range data.Thresholds {
		t := &data.Thresholds[i]
		if _, ok := c.crops[t.CropID]; !ok {
			return nil, fmt.Errorf("threshold profile references unknown crop %s", t.CropID)
		}
		c.thresholds[t.CropID] = t
	}

	return c, nil
}

// Region returns the region with the given id.
func (c *Catalog) Region(id string) (*Region, error) {
	r, ok := c.regions[id]
	if !ok {
		return nil, fmt.Errorf("region %q: %w", id, ErrUnknownID)
	}
	return r, nil
}

// Station returns the station with the given id.
func (c *Catalog) Station(id string) (*Station, error) {
	s, ok := c.stations[id]
	if !ok {
		return nil, fmt.Errorf("station %q: %w", id, ErrUnknownID)
	}
	return s, nil
}

// ListStations lists stations, optionally filtered by region.
// An empty region lists every station.
func (c *Catalog) ListStations(regionID string) ([]*Station, error) {
	if regionID == "" {
		out := make([]*Station, 0, len(c.stations))
		for _, s := range c.stations {
			out = append(out, s)
		}
		return out, nil
	}
	if _, ok := c.regions[regionID]; !ok {
		return nil, fmt.Errorf("region %q: %w", regionID, ErrUnknownID)
	}
	return c.stationsByRegion[regionID], nil
}

// Crop returns the crop with the given id.
func (c *Catalog) Crop(id string) (*Crop, error) {
	cr, ok := c.crops[id]
	if !ok {
		return nil, fmt.Errorf("crop %q: %w", id, ErrUnknownID)
	}
	return cr, nil
}

// CropsFor lists crops for a region id or a station id.
func (c *Catalog) CropsFor(regionOrStation string) ([]*Crop, error) {
	if s, ok := c.stations[regionOrStation]; ok {
		return c.cropsByRegion[s.RegionID], nil
	}
	if _, ok := c.regions[regionOrStation]; ok {
		return c.cropsByRegion[regionOrStation], nil
	}
	return nil, fmt.Errorf("region or station %q: %w", regionOrStation, ErrUnknownID)
}

// ThresholdsFor returns the threshold profile for a crop.
func (c *Catalog) ThresholdsFor(cropID string) (*ThresholdProfile, error) {
	t, ok := c.thresholds[cropID]
	if !ok {
		return nil, fmt.Errorf("thresholds for crop %q: %w", cropID, ErrUnknownID)
	}
	return t, nil
}

// ActuatorsFor lists actuators attached to a station.
func (c *Catalog) ActuatorsFor(stationID string) ([]*Actuator, error) {
	if _, ok := c.stations[stationID]; !ok {
		return nil, fmt.Errorf("station %q: %w", stationID, ErrUnknownID)
	}
	return c.actuatorsByStation[stationID], nil
}

// Actuator returns the actuator with the given id.
func (c *Catalog) Actuator(id string) (*Actuator, error) {
	a, ok := c.actuators[id]
	if !ok {
		return nil, fmt.Errorf("actuator %q: %w", id, ErrUnknownID)
	}
	return a, nil
}

// SensorsFor lists sensors attached to a station.
func (c *Catalog) SensorsFor(stationID string) ([]*Sensor, error) {
	if _, ok := c.stations[stationID]; !ok {
		return nil, fmt.Errorf("station %q: %w", stationID, ErrUnknownID)
	}
	return c.sensorsByStation[stationID], nil
}

// Sensor returns the sensor with the given id.
func (c *Catalog) Sensor(id string) (*Sensor, error) {
	s, ok := c.sensors[id]
	if !ok {
		return nil, fmt.Errorf("sensor %q: %w", id, ErrUnknownID)
	}
	return s, nil
}

// MarkActuatorFault flags an actuator as faulted. Used by the irrigation
// controller after repeated failed starts.
func (c *Catalog) MarkActuatorFault(id string) error {
	if _, ok := c.actuators[id]; !ok {
		return fmt.Errorf("actuator %q: %w", id, ErrUnknownID)
	}
	c.faultMu.Lock()
	c.faulted[id] = true
	c.faultMu.Unlock()
	return nil
}

// ClearActuatorFault clears a fault flag. This is the manual-clear
// capability exposed to operators.
func (c *Catalog) ClearActuatorFault(id string) error {
	if _, ok := c.actuators[id]; !ok {
		return fmt.Errorf("actuator %q: %w", id, ErrUnknownID)
	}
	c.faultMu.Lock()
	delete(c.faulted, id)
	c.faultMu.Unlock()
	return nil
}

// ActuatorFaulted reports whether the actuator is currently faulted.
func (c *Catalog) ActuatorFaulted(id string) bool {
	c.faultMu.RLock()
	defer c.faultMu.RUnlock()
	return c.faulted[id]
}
