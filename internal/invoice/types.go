// Package invoice implements the supplier-invoice import pipeline:
// spreadsheet rows are parsed, normalized to catalog identity,
// aggregated, costed, guarded against duplicate submission and finally
// upserted into the catalog as flower/variant documents.
package invoice

import (
	"github.com/shopspring/decimal"
)

// StockMode controls how an import combines quantities with existing
// variant stock.
type StockMode string

const (
	// StockModeAdd is the standard supply-intake behavior: new stock is
	// added on top of what the variant already holds.
	StockModeAdd StockMode = "add"
	// StockModeReplace overwrites the variant stock with the imported
	// quantity. Used for correction imports and must be requested
	// explicitly.
	StockModeReplace StockMode = "replace"
)

// CostMode selects the landed-cost model for an import.
type CostMode string

const (
	// CostModeSimple takes the spreadsheet unit price as-is.
	CostModeSimple CostMode = "simple"
	// CostModeFull adds air freight, trucking, transfer fee and
	// per-stem tax on top of the base price.
	CostModeFull CostMode = "full"
)

// RawRow is one line item exactly as parsed from the supplier
// spreadsheet. Produced once per import attempt and never mutated.
type RawRow struct {
	Index         int             // 1-based spreadsheet row number
	Name          string          // free-text variety name
	Grade         string          // free-text type/grade ("premium", "XL", ...)
	Supplier      string
	Quantity      int             // stems
	UnitPrice     decimal.Decimal // per stem, invoice currency
	StemLength    int             // cm; 0 when only a grade is given
	TransportCost decimal.Decimal // air freight for the whole batch, optional
	Boxes         int             // optional, used with TransportCost
	StemsPerBox   int             // optional
}

// RowError reports a malformed or incomplete row. Row errors never
// abort the batch; the offending row is just excluded from the result.
type RowError struct {
	Row     int    `json:"row"`
	Message string `json:"message"`
}

// CostBreakdown retains the intermediate terms of the full costing
// model so operators can verify the arithmetic in the preview.
type CostBreakdown struct {
	BasePrice    decimal.Decimal `json:"basePrice"`
	AirPerStem   decimal.Decimal `json:"airPerStem"`
	TruckPerStem decimal.Decimal `json:"truckPerStem"`
	FullCost     decimal.Decimal `json:"fullCost"`
}

// RowMeta is the provenance retained on a normalized row: the raw data
// it came from, aggregation membership and the cost-calculation terms.
type RowMeta struct {
	Name                 string          `json:"name"`
	Grade                string          `json:"grade,omitempty"`
	Quantity             int             `json:"quantity"`
	UnitPrice            decimal.Decimal `json:"unitPrice"`
	TransportCost        decimal.Decimal `json:"transportCost,omitempty"`
	Boxes                int             `json:"boxes,omitempty"`
	StemsPerBox          int             `json:"stemsPerBox,omitempty"`
	Cost                 *CostBreakdown  `json:"cost,omitempty"`
	AggregatedFromHashes []string        `json:"_aggregatedFromHashes,omitempty"`
	AggregatedStocks     []int           `json:"_aggregatedStocks,omitempty"`
}

// NormalizedRow is the canonical form of one or more raw rows sharing
// the same (slug, length) identity. Recomputed on every pipeline run.
type NormalizedRow struct {
	Slug       string          `json:"slug"`
	FlowerName string          `json:"flowerName"`
	Length     int             `json:"length"`
	Stock      int             `json:"stock"`
	Price      decimal.Decimal `json:"price"`
	Hash       string          `json:"hash"`
	Supplier   string          `json:"supplier,omitempty"`
	Original   RowMeta         `json:"original"`
}

// RowOverride is an operator correction keyed by a row's content hash,
// carried from a preview response back into the apply request.
type RowOverride struct {
	FlowerName string `json:"flowerName"`
}

// FullCostParams are the operator-supplied constants of the full
// costing model, fixed for the whole import.
type FullCostParams struct {
	TruckCostPerBox    decimal.Decimal `json:"truckCostPerBox"`
	TransferFeePercent decimal.Decimal `json:"transferFeePercent"`
	TaxPerStem         decimal.Decimal `json:"taxPerStem"`
}

// Options parameterize one pipeline run.
type Options struct {
	DryRun      bool
	StockMode   StockMode
	ForceImport bool
	CostMode    CostMode
	FullCost    FullCostParams
	Overrides   map[string]RowOverride // keyed by row content hash
}

// UpsertOperation is the audit record of one catalog write. Before is
// nil for creates; both snapshots are honest reads around the write.
type UpsertOperation struct {
	Entity     string      `json:"entity"` // "flower" | "variant"
	Type       string      `json:"type"`   // "create" | "update"
	DocumentID string      `json:"documentId"`
	Before     interface{} `json:"before,omitempty"`
	After      interface{} `json:"after"`
}

// Stats summarizes one pipeline run.
type Stats struct {
	TotalRows       int `json:"totalRows"`
	ValidRows       int `json:"validRows"`
	FlowersCreated  int `json:"flowersCreated"`
	FlowersUpdated  int `json:"flowersUpdated"`
	VariantsCreated int `json:"variantsCreated"`
	VariantsUpdated int `json:"variantsUpdated"`
}

// Result is the full contract returned to the caller for both preview
// and apply runs.
type Result struct {
	Status     string            `json:"status"` // "dry-run" | "success"
	Stats      Stats             `json:"stats"`
	Errors     []RowError        `json:"errors"`
	Rows       []NormalizedRow   `json:"rows"`
	Operations []UpsertOperation `json:"operations,omitempty"`
	Checksum   string            `json:"checksum"`
	Forced     bool              `json:"forced,omitempty"`
}
