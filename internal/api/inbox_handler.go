package api

import (
	"net/http"
	"strconv"
)

// HandleListInbox returns the S3 drop-bucket registry.
func (h *Handlers) HandleListInbox(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	files, err := h.store.ListInbox(r.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, CodeInternal, err.Error())
		return
	}

	data := map[string]interface{}{
		"enabled": h.watcher != nil,
		"files":   files,
	}
	if h.watcher != nil {
		data["healthy"] = h.watcher.IsHealthy()
		data["running"] = h.watcher.IsRunning()
		if last := h.watcher.LastRunAt(); !last.IsZero() {
			data["lastRunAt"] = last
		}
	}
	respondData(w, http.StatusOK, data)
}

// HandleTriggerInbox runs one watcher cycle immediately.
func (h *Handlers) HandleTriggerInbox(w http.ResponseWriter, r *http.Request) {
	if h.watcher == nil {
		respondError(w, http.StatusServiceUnavailable, CodeValidation, "inbox watcher is not enabled")
		return
	}
	if h.watcher.IsRunning() {
		respondData(w, http.StatusOK, map[string]string{"status": "already_running"})
		return
	}
	h.watcher.ManualTrigger()
	respondData(w, http.StatusOK, map[string]string{"status": "triggered"})
}
