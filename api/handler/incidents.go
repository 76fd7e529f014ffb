package handler

import (
	"net/http"

	"github.com/illenko/relicwatch/api/helpers"
	"github.com/illenko/relicwatch/models"
)

// IncidentSource is implemented by incidents.Service.
type IncidentSource interface {
	Incidents() []models.CorrelatedIncident
	Alerts() []models.Alert
	Summary() models.IncidentSummary
}

type IncidentsHandler struct {
	source IncidentSource
}

func NewIncidentsHandler(source IncidentSource) *IncidentsHandler {
	return &IncidentsHandler{source: source}
}

type IncidentsResponse struct {
	Incidents []models.CorrelatedIncident `json:"incidentes"`
	Alerts    []models.Alert              `json:"alertas"`
	Summary   models.IncidentSummary      `json:"resumo"`
}

func (h *IncidentsHandler) List(w http.ResponseWriter, r *http.Request) {
	helpers.WriteJSON(w, http.StatusOK, IncidentsResponse{
		Incidents: h.source.Incidents(),
		Alerts:    h.source.Alerts(),
		Summary:   h.source.Summary(),
	})
}
