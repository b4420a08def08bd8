// Agromet - Agricultural Telemetry and Decision Pipeline for Quillota
// Copyright 2026 J. Cortes (jcortesq)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcortesq/agromet

package rules

import "github.com/jcortesq/agromet/internal/model"

// defaultActions is the per-kind recommended action table. Deployments
// override entries through alerts.actions in the configuration.
var defaultActions = map[model.AlertKind]string{
	model.AlertFrost:          "activate sprinklers and frost protection",
	model.AlertHeatExtreme:    "increase irrigation and provide shade",
	model.AlertWindStrong:     "secure structures and suspend irrigation",
	model.AlertExcessHumidity: "ventilate and monitor for fungal disease",
	model.AlertDrought:        "review irrigation scheduling and water reserves",
	model.AlertSensorFault:    "inspect sensor and replace battery",
}

// Spanish presentation strings for the valley's operators. Overridable
// through alerts.messages_es and alerts.actions_es.
var defaultMessagesES = map[model.AlertKind]string{
	model.AlertFrost:          "Alerta de helada en cultivos sensibles",
	model.AlertHeatExtreme:    "Alerta de calor extremo",
	model.AlertWindStrong:     "Alerta de viento fuerte",
	model.AlertExcessHumidity: "Alerta de humedad excesiva sostenida",
	model.AlertDrought:        "Alerta de sequía en la zona",
	model.AlertSensorFault:    "Falla de sensor en la estación",
}

var defaultActionsES = map[model.AlertKind]string{
	model.AlertFrost:          "Activar sistemas de riego por aspersión y protección antiheladas",
	model.AlertHeatExtreme:    "Aumentar el riego y proporcionar sombra",
	model.AlertWindStrong:     "Asegurar estructuras y suspender el riego",
	model.AlertExcessHumidity: "Ventilar y monitorear enfermedades fúngicas",
	model.AlertDrought:        "Revisar programación de riego y reservas de agua",
	model.AlertSensorFault:    "Inspeccionar el sensor y reemplazar la batería",
}

func buildTable(defaults map[model.AlertKind]string, overrides map[string]string) map[model.AlertKind]string {
	out := make(map[model.AlertKind]string, len(defaults))
	for k, v := range defaults {
		out[k] = v
	}
	for k, v := range overrides {
		out[model.AlertKind(k)] = v
	}
	return out
}
