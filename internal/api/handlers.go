package api

import (
	"net/http"
	"time"

	"github.com/bloomstock/backoffice/internal/config"
	"github.com/bloomstock/backoffice/internal/currency"
	"github.com/bloomstock/backoffice/internal/importlog"
	"github.com/bloomstock/backoffice/internal/inbox"
	"github.com/bloomstock/backoffice/internal/invoice"
	"github.com/bloomstock/backoffice/internal/pricing"
)

// Handlers bundles the back-office API endpoints and their
// collaborators.
type Handlers struct {
	importer  *invoice.Service
	store     *importlog.Store
	rates     *currency.Provider
	pricing   *pricing.Service
	watcher   *inbox.Watcher // nil when the S3 inbox is disabled
	importCfg config.ImportConfig
	startTime time.Time
}

// NewHandlers creates the handler set.
func NewHandlers(importer *invoice.Service, store *importlog.Store, rates *currency.Provider,
	pricingSvc *pricing.Service, watcher *inbox.Watcher, importCfg config.ImportConfig) *Handlers {
	return &Handlers{
		importer:  importer,
		store:     store,
		rates:     rates,
		pricing:   pricingSvc,
		watcher:   watcher,
		importCfg: importCfg,
		startTime: time.Now(),
	}
}

// HealthCheck reports service liveness.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondData(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"uptime_seconds": int(time.Since(h.startTime).Seconds()),
	})
}
