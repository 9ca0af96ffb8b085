package api

import (
	"encoding/json"
	"net/http"

	"github.com/bloomstock/backoffice/internal/pricing"
)

// HandleApplyPrices writes operator-confirmed sale prices. This is the
// only call that changes what customers are charged; imports never do.
func (h *Handlers) HandleApplyPrices(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Entries []pricing.PriceUpdate `json:"entries"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, CodeValidation, "invalid request body: "+err.Error())
		return
	}
	if len(payload.Entries) == 0 {
		respondError(w, http.StatusBadRequest, CodeValidation, "entries is required")
		return
	}

	results := h.pricing.ApplyPrices(r.Context(), payload.Entries)
	respondData(w, http.StatusOK, map[string]interface{}{"results": results})
}
