// Agromet - Agricultural Telemetry and Decision Pipeline for Quillota
// Copyright 2026 J. Cortes (jcortesq)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcortesq/agromet

package catalog

// DefaultData returns the compiled-in reference set for the Quillota
// valley. Station coordinates and crop tolerances come from the regional
// agro-meteorological network; sensitive months are the southern
// hemisphere frost season (May through August).
func DefaultData() *Data {
	return &Data{
		Regions: []Region{
			{
				ID:             "quillota",
				Name:           "Valle de Quillota",
				Latitude:       -32.8834,
				Longitude:      -71.2489,
				Climate:        ClimateMediterranean,
				PrincipalCrops: []string{"palto", "chirimoya", "citricos"},
			},
			{
				ID:             "marga_marga",
				Name:           "Marga Marga",
				Latitude:       -33.0167,
				Longitude:      -71.2667,
				Climate:        ClimateInterior,
				PrincipalCrops: []string{"vid", "lucuma"},
			},
		},
		Stations: []Station{
			{
				ID: "quillota_centro", RegionID: "quillota", Name: "Quillota Centro",
				Latitude: -32.8834, Longitude: -71.2489, AltitudeM: 127,
				SensorKinds: []string{"soil_moisture", "soil_temperature", "water_pressure"},
				Active:      true, BaseTemperature: 15.5, BaseHumidity: 72,
			},
			{
				ID: "la_cruz", RegionID: "quillota", Name: "La Cruz",
				Latitude: -32.8258, Longitude: -71.2361, AltitudeM: 112,
				SensorKinds: []string{"soil_moisture", "leaf_wetness"},
				Active:      true, BaseTemperature: 15.2, BaseHumidity: 74,
			},
			{
				ID: "nogales", RegionID: "quillota", Name: "Nogales",
				Latitude: -32.7347, Longitude: -71.2022, AltitudeM: 140,
				SensorKinds: []string{"soil_moisture", "soil_temperature"},
				Active:      true, BaseTemperature: 15.8, BaseHumidity: 69,
			},
			{
				ID: "hijuelas", RegionID: "quillota", Name: "Hijuelas",
				Latitude: -32.7992, Longitude: -71.1436, AltitudeM: 160,
				SensorKinds: []string{"soil_moisture", "water_pressure"},
				Active:      true, BaseTemperature: 15.0, BaseHumidity: 71,
			},
			{
				ID: "la_calera", RegionID: "quillota", Name: "La Calera",
				Latitude: -32.7869, Longitude: -71.2097, AltitudeM: 195,
				SensorKinds: []string{"soil_moisture"},
				Active:      true, BaseTemperature: 14.9, BaseHumidity: 70,
			},
			{
				ID: "limache", RegionID: "marga_marga", Name: "Limache",
				Latitude: -33.0103, Longitude: -71.2689, AltitudeM: 95,
				SensorKinds: []string{"soil_moisture", "leaf_wetness"},
				Active:      true, BaseTemperature: 15.3, BaseHumidity: 73,
			},
		},
		Crops: []Crop{
			{
				ID: "palto", RegionID: "quillota", Name: "avocado", SpanishName: "palto",
				OptimalTempMin: 15, OptimalTempMax: 28, HumidityMin: 50, HumidityMax: 80,
				FrostCritical: 2.0, FrostWarning: 4.0, BaseTemperature: 10,
				SensitiveMonths: []int{5, 6, 7, 8},
			},
			{
				ID: "chirimoya", RegionID: "quillota", Name: "cherimoya", SpanishName: "chirimoyo",
				OptimalTempMin: 14, OptimalTempMax: 27, HumidityMin: 55, HumidityMax: 85,
				FrostCritical: 1.0, FrostWarning: 3.0, BaseTemperature: 12,
				SensitiveMonths: []int{5, 6, 7, 8},
			},
			{
				ID: "citricos", RegionID: "quillota", Name: "citrus", SpanishName: "citricos",
				OptimalTempMin: 13, OptimalTempMax: 30, HumidityMin: 45, HumidityMax: 75,
				FrostCritical: -1.0, FrostWarning: 1.5, BaseTemperature: 12.5,
				SensitiveMonths: []int{6, 7, 8},
			},
			{
				ID: "vid", RegionID: "marga_marga", Name: "grapevine", SpanishName: "vid",
				OptimalTempMin: 16, OptimalTempMax: 32, HumidityMin: 40, HumidityMax: 70,
				FrostCritical: -2.0, FrostWarning: 0.5, BaseTemperature: 10,
				SensitiveMonths: []int{9, 10}, // budbreak frost risk in spring
			},
			{
				ID: "lucuma", RegionID: "marga_marga", Name: "lucuma", SpanishName: "lucumo",
				OptimalTempMin: 14, OptimalTempMax: 26, HumidityMin: 55, HumidityMax: 85,
				FrostCritical: 0.0, FrostWarning: 2.5, BaseTemperature: 11,
				SensitiveMonths: []int{5, 6, 7, 8},
			},
		},
		Sensors: []Sensor{
			{ID: "qc_sm_01", StationID: "quillota_centro", Kind: "soil_moisture", NominalMin: 5, NominalMax: 60},
			{ID: "qc_st_01", StationID: "quillota_centro", Kind: "soil_temperature", NominalMin: -5, NominalMax: 45},
			{ID: "qc_wp_01", StationID: "quillota_centro", Kind: "water_pressure", NominalMin: 1.5, NominalMax: 4.5},
			{ID: "lc_sm_01", StationID: "la_cruz", Kind: "soil_moisture", NominalMin: 5, NominalMax: 60},
			{ID: "lc_lw_01", StationID: "la_cruz", Kind: "leaf_wetness", NominalMin: 0, NominalMax: 100},
			{ID: "ng_sm_01", StationID: "nogales", Kind: "soil_moisture", NominalMin: 5, NominalMax: 60},
			{ID: "ng_st_01", StationID: "nogales", Kind: "soil_temperature", NominalMin: -5, NominalMax: 45},
			{ID: "hj_sm_01", StationID: "hijuelas", Kind: "soil_moisture", NominalMin: 5, NominalMax: 60},
			{ID: "hj_wp_01", StationID: "hijuelas", Kind: "water_pressure", NominalMin: 1.5, NominalMax: 4.5},
			{ID: "ca_sm_01", StationID: "la_calera", Kind: "soil_moisture", NominalMin: 5, NominalMax: 60},
			{ID: "li_sm_01", StationID: "limache", Kind: "soil_moisture", NominalMin: 5, NominalMax: 60},
			{ID: "li_lw_01", StationID: "limache", Kind: "leaf_wetness", NominalMin: 0, NominalMax: 100},
		},
		Actuators: []Actuator{
			{ID: "qc_asp_01", StationID: "quillota_centro", CropID: "palto", Kind: ActuatorSprinkler, NominalFlowLPM: 40, MaxDurationMin: 90, MaxPressureBar: 4.0},
			{ID: "qc_gota_01", StationID: "quillota_centro", CropID: "palto", Kind: ActuatorDrip, NominalFlowLPM: 12, MaxDurationMin: 120, MaxPressureBar: 2.5},
			{ID: "lc_asp_01", StationID: "la_cruz", CropID: "chirimoya", Kind: ActuatorSprinkler, NominalFlowLPM: 35, MaxDurationMin: 90, MaxPressureBar: 4.0},
			{ID: "ng_gota_01", StationID: "nogales", CropID: "citricos", Kind: ActuatorDrip, NominalFlowLPM: 10, MaxDurationMin: 120, MaxPressureBar: 2.5},
			{ID: "hj_asp_01", StationID: "hijuelas", CropID: "palto", Kind: ActuatorSprinkler, NominalFlowLPM: 38, MaxDurationMin: 90, MaxPressureBar: 4.0},
			{ID: "li_gota_01", StationID: "limache", CropID: "lucuma", Kind: ActuatorDrip, NominalFlowLPM: 11, MaxDurationMin: 100, MaxPressureBar: 2.5},
		},
		Thresholds: []ThresholdProfile{
			{CropID: "palto", ThresholdDry: 30, ThresholdVeryDry: 20, PressureMinBar: 2.0, PressureMaxBar: 4.0},
			{CropID: "chirimoya", ThresholdDry: 32, ThresholdVeryDry: 22, PressureMinBar: 2.0, PressureMaxBar: 4.0},
			{CropID: "citricos", ThresholdDry: 28, ThresholdVeryDry: 18, PressureMinBar: 1.8, PressureMaxBar: 3.8},
			{CropID: "vid", ThresholdDry: 25, ThresholdVeryDry: 15, PressureMinBar: 1.8, PressureMaxBar: 3.5},
			{CropID: "lucuma", ThresholdDry: 30, ThresholdVeryDry: 20, PressureMinBar: 1.8, PressureMaxBar: 3.5},
		},
	}
}
