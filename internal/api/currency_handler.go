package api

import (
	"encoding/json"
	"net/http"
)

// HandleGetRate returns the current exchange rate and its source
// (manual, live, cached or fallback).
func (h *Handlers) HandleGetRate(w http.ResponseWriter, r *http.Request) {
	respondData(w, http.StatusOK, h.rates.Rate(r.Context()))
}

// HandleSetManualRate stores an operator override rate. Last write
// wins; the override persists until explicitly cleared.
func (h *Handlers) HandleSetManualRate(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Rate float64 `json:"rate"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, CodeValidation, "invalid request body: "+err.Error())
		return
	}

	if err := h.rates.SetManual(r.Context(), payload.Rate); err != nil {
		respondError(w, http.StatusBadRequest, CodeValidation, err.Error())
		return
	}
	respondData(w, http.StatusOK, h.rates.Rate(r.Context()))
}

// HandleClearManualRate removes the operator override.
func (h *Handlers) HandleClearManualRate(w http.ResponseWriter, r *http.Request) {
	if err := h.rates.ClearManual(r.Context()); err != nil {
		respondError(w, http.StatusInternalServerError, CodeInternal, err.Error())
		return
	}
	respondData(w, http.StatusOK, h.rates.Rate(r.Context()))
}
