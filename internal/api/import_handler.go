package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/bloomstock/backoffice/internal/invoice"
	"github.com/bloomstock/backoffice/internal/pricing"
)

// fullCostParamsWire is the JSON shape of the operator-tunable full
// costing constants.
type fullCostParamsWire struct {
	TruckCostPerBox    float64 `json:"truckCostPerBox"`
	TransferFeePercent float64 `json:"transferFeePercent"`
	TaxPerStem         float64 `json:"taxPerStem"`
}

// importResponse is the import endpoint payload: the pipeline result
// plus, for apply runs, the price reconciliation worksheet.
type importResponse struct {
	*invoice.Result
	PriceEntries []pricing.PriceEntry `json:"priceEntries,omitempty"`
}

// HandleImport accepts a supplier spreadsheet upload and runs either a
// preview (dryRun=true) or an apply.
func (h *Handlers) HandleImport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	maxBytes := int64(h.importCfg.MaxUploadMB) << 20
	if maxBytes <= 0 {
		maxBytes = 16 << 20
	}
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		respondError(w, http.StatusBadRequest, CodeValidation, "invalid multipart form: "+err.Error())
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, CodeValidation, "file is required")
		return
	}
	defer file.Close()

	opts, verr := h.parseImportOptions(r)
	if verr != "" {
		respondError(w, http.StatusBadRequest, CodeValidation, verr)
		return
	}

	var res *invoice.Result
	if opts.DryRun {
		res, err = h.importer.Preview(ctx, header.Filename, file, opts)
	} else {
		res, err = h.importer.Apply(ctx, header.Filename, file, opts)
	}
	if err != nil {
		h.respondImportError(w, err)
		return
	}

	resp := importResponse{Result: res}
	if !opts.DryRun {
		rate := h.rates.Rate(ctx)
		resp.PriceEntries = pricing.BuildEntries(res, rate.Value)
	}
	respondData(w, http.StatusOK, resp)
}

func (h *Handlers) parseImportOptions(r *http.Request) (invoice.Options, string) {
	opts := invoice.Options{
		DryRun:      r.FormValue("dryRun") != "false", // previews by default
		ForceImport: r.FormValue("forceImport") == "true",
		StockMode:   invoice.StockModeAdd,
		CostMode:    invoice.CostModeSimple,
	}

	switch mode := r.FormValue("stockMode"); mode {
	case "", "add":
	case "replace":
		opts.StockMode = invoice.StockModeReplace
	default:
		return opts, "invalid stockMode " + strconv.Quote(mode)
	}

	switch mode := r.FormValue("costMode"); mode {
	case "", "simple":
	case "full":
		opts.CostMode = invoice.CostModeFull
	default:
		return opts, "invalid costMode " + strconv.Quote(mode)
	}

	// Operator constants default from config; an explicit payload wins.
	params := fullCostParamsWire{
		TruckCostPerBox:    h.importCfg.TruckCostPerBox,
		TransferFeePercent: h.importCfg.TransferFeePercent,
		TaxPerStem:         h.importCfg.TaxPerStem,
	}
	if v := r.FormValue("fullCostParams"); v != "" {
		if err := json.Unmarshal([]byte(v), &params); err != nil {
			return opts, "invalid fullCostParams: " + err.Error()
		}
	}
	opts.FullCost = invoice.FullCostParams{
		TruckCostPerBox:    decimal.NewFromFloat(params.TruckCostPerBox),
		TransferFeePercent: decimal.NewFromFloat(params.TransferFeePercent),
		TaxPerStem:         decimal.NewFromFloat(params.TaxPerStem),
	}

	if v := r.FormValue("rowOverrides"); v != "" {
		overrides := make(map[string]invoice.RowOverride)
		if err := json.Unmarshal([]byte(v), &overrides); err != nil {
			return opts, "invalid rowOverrides: " + err.Error()
		}
		opts.Overrides = overrides
	}

	return opts, ""
}

func (h *Handlers) respondImportError(w http.ResponseWriter, err error) {
	var catalogErr *invoice.CatalogError
	switch {
	case errors.Is(err, invoice.ErrDuplicateChecksum):
		respondError(w, http.StatusConflict, CodeDuplicateChecksum,
			"this file was already imported; set forceImport to apply it again")
	case errors.Is(err, invoice.ErrImportBusy):
		respondError(w, http.StatusConflict, CodeValidation,
			"another import is currently being applied; retry shortly")
	case errors.As(err, &catalogErr):
		respondError(w, http.StatusBadGateway, CodeNetwork, err.Error())
	case strings.Contains(err.Error(), "parse"):
		respondError(w, http.StatusBadRequest, CodeValidation, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, CodeInternal, err.Error())
	}
}

// HandleListImports returns the paginated import history.
func (h *Handlers) HandleListImports(w http.ResponseWriter, r *http.Request) {
	limit, offset := 50, 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	status := ""
	switch v := r.URL.Query().Get("status"); v {
	case "applying", "completed":
		status = v
	}

	records, err := h.store.ListImports(r.Context(), limit, offset, status)
	if err != nil {
		respondError(w, http.StatusInternalServerError, CodeInternal, err.Error())
		return
	}
	respondData(w, http.StatusOK, map[string]interface{}{"imports": records})
}

// HandleImportOperations returns the audit operations of one import.
func (h *Handlers) HandleImportOperations(w http.ResponseWriter, r *http.Request) {
	checksum := chi.URLParam(r, "checksum")
	if checksum == "" {
		respondError(w, http.StatusBadRequest, CodeValidation, "checksum is required")
		return
	}

	ops, err := h.store.Operations(r.Context(), checksum)
	if err != nil {
		respondError(w, http.StatusInternalServerError, CodeInternal, err.Error())
		return
	}
	respondData(w, http.StatusOK, map[string]interface{}{"operations": ops})
}
