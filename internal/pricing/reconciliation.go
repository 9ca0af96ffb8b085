// Package pricing implements the sale-price reconciliation step that
// follows a committed import. The upsert engine only ever writes landed
// cost and stock; customer-facing prices change exclusively through
// this package, so a supply intake can never silently move what
// customers are charged.
package pricing

import (
	"context"
	"fmt"
	"log"
	"math"

	"github.com/bloomstock/backoffice/internal/inventory"
	"github.com/bloomstock/backoffice/internal/invoice"
)

// VariantWriter is the slice of the catalog surface reconciliation
// needs.
type VariantWriter interface {
	UpdateVariant(ctx context.Context, documentID string, patch inventory.VariantPatch) (*inventory.Variant, error)
}

// PriceEntry is the operator-facing record produced from a completed
// apply: the landed cost converted to local currency next to the
// editable sale price. Entries are suggestions; nothing is written
// until the operator confirms.
type PriceEntry struct {
	DocumentID  string  `json:"documentId"`
	FlowerName  string  `json:"flowerName,omitempty"`
	Length      int     `json:"length,omitempty"`
	Cost        float64 `json:"cost"`  // landed cost, local currency
	Price       float64 `json:"price"` // current sale price, editable
	StockBefore int     `json:"stockBefore"`
	StockAfter  int     `json:"stockAfter"`
}

// PriceUpdate is one confirmed sale-price write.
type PriceUpdate struct {
	DocumentID string  `json:"documentId"`
	Price      float64 `json:"price"`
}

// UpdateResult reports the outcome of one entry. Invalid input is
// fatal for that entry only; the rest of the batch proceeds.
type UpdateResult struct {
	DocumentID string `json:"documentId"`
	OK         bool   `json:"ok"`
	Error      string `json:"error,omitempty"`
}

// Service applies confirmed sale prices.
type Service struct {
	catalog VariantWriter
}

// NewService creates the reconciliation service.
func NewService(catalog VariantWriter) *Service {
	return &Service{catalog: catalog}
}

// BuildEntries derives the reconciliation list from an apply result,
// converting each variant's landed cost at the given exchange rate.
func BuildEntries(res *invoice.Result, rate float64) []PriceEntry {
	nameByFlowerID := make(map[string]string)
	for _, op := range res.Operations {
		if op.Entity != "flower" {
			continue
		}
		if f, ok := op.After.(inventory.Flower); ok {
			nameByFlowerID[f.DocumentID] = f.Name
		}
	}

	var entries []PriceEntry
	for _, op := range res.Operations {
		if op.Entity != "variant" {
			continue
		}
		after, ok := op.After.(inventory.Variant)
		if !ok {
			continue
		}
		entry := PriceEntry{
			DocumentID: after.DocumentID,
			FlowerName: nameByFlowerID[after.FlowerID],
			Length:     after.Length,
			Cost:       after.Cost * rate,
			Price:      after.Price,
			StockAfter: after.Stock,
		}
		if before, ok := op.Before.(inventory.Variant); ok {
			entry.StockBefore = before.Stock
		}
		entries = append(entries, entry)
	}
	return entries
}

// ApplyPrices writes confirmed sale prices. Each entry is validated and
// applied independently; one bad entry never blocks the others.
func (s *Service) ApplyPrices(ctx context.Context, updates []PriceUpdate) []UpdateResult {
	results := make([]UpdateResult, 0, len(updates))
	for _, upd := range updates {
		results = append(results, s.applyOne(ctx, upd))
	}
	return results
}

func (s *Service) applyOne(ctx context.Context, upd PriceUpdate) UpdateResult {
	res := UpdateResult{DocumentID: upd.DocumentID}

	if upd.DocumentID == "" {
		res.Error = "missing documentId"
		return res
	}
	if math.IsNaN(upd.Price) || math.IsInf(upd.Price, 0) || upd.Price < 0 {
		res.Error = fmt.Sprintf("invalid price %v", upd.Price)
		return res
	}

	price := upd.Price
	if _, err := s.catalog.UpdateVariant(ctx, upd.DocumentID, inventory.VariantPatch{Price: &price}); err != nil {
		log.Printf("[pricing] update %s: %v", upd.DocumentID, err)
		res.Error = fmt.Sprintf("update variant: %v", err)
		return res
	}

	res.OK = true
	return res
}
