package handler

import (
	"net/http"

	"github.com/illenko/relicwatch/api/helpers"
	"github.com/illenko/relicwatch/models"
)

type EntitiesHandler struct {
	cache Cache
}

func NewEntitiesHandler(cache Cache) *EntitiesHandler {
	return &EntitiesHandler{cache: cache}
}

type EntitiesResponse struct {
	Total    int                   `json:"total"`
	ByDomain map[models.Domain]int `json:"by_domain"`
	Entities []models.Entity       `json:"entities"`
}

func (h *EntitiesHandler) List(w http.ResponseWriter, r *http.Request) {
	var domain models.Domain
	if raw := r.URL.Query().Get("domain"); raw != "" {
		d, ok := models.ParseDomain(raw)
		if !ok {
			helpers.WriteError(w, http.StatusBadRequest, "unknown domain: "+raw)
			return
		}
		domain = d
	}

	entities := h.cache.Entities(r.Context(), domain)
	byDomain := make(map[models.Domain]int)
	for _, e := range entities {
		byDomain[e.Domain]++
	}

	helpers.WriteJSON(w, http.StatusOK, EntitiesResponse{
		Total:    len(entities),
		ByDomain: byDomain,
		Entities: entities,
	})
}

func (h *EntitiesHandler) Get(w http.ResponseWriter, r *http.Request) {
	guid := r.PathValue("guid")

	entity, ok := h.cache.FindEntity(r.Context(), guid)
	if !ok {
		helpers.WriteError(w, http.StatusNotFound, "entity not found")
		return
	}

	helpers.WriteJSON(w, http.StatusOK, entity)
}
