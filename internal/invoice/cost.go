package invoice

import (
	"github.com/shopspring/decimal"
)

var oneHundred = decimal.NewFromInt(100)

// Calculator converts a row's base unit price into a landed unit cost
// under the selected costing mode. It is currency-agnostic: conversion
// to local currency happens elsewhere.
type Calculator struct {
	mode   CostMode
	params FullCostParams
}

// NewCalculator creates a cost calculator for one import run.
func NewCalculator(mode CostMode, params FullCostParams) *Calculator {
	if mode == "" {
		mode = CostModeSimple
	}
	return &Calculator{mode: mode, params: params}
}

// CostRows applies the costing model to every aggregated row, replacing
// the row price with the landed cost. The intermediate terms are
// retained on the row so operators can verify the arithmetic.
func (c *Calculator) CostRows(rows []NormalizedRow) []NormalizedRow {
	out := make([]NormalizedRow, len(rows))
	for i, row := range rows {
		out[i] = c.costRow(row)
	}
	return out
}

func (c *Calculator) costRow(row NormalizedRow) NormalizedRow {
	base := row.Price

	if c.mode == CostModeSimple {
		row.Original.Cost = &CostBreakdown{
			BasePrice: base,
			FullCost:  base,
		}
		return row
	}

	// Full model:
	//   (base + airPerStem + truckPerStem) × (1 + fee/100) + taxPerStem
	// Air freight is the row's batch transport cost spread over its
	// stems; trucking is an operator constant per box.
	air := decimal.Zero
	if row.Original.TransportCost.IsPositive() && row.Original.Boxes > 0 && row.Original.StemsPerBox > 0 {
		stems := decimal.NewFromInt(int64(row.Original.Boxes * row.Original.StemsPerBox))
		air = row.Original.TransportCost.Div(stems)
	}

	truck := decimal.Zero
	if c.params.TruckCostPerBox.IsPositive() && row.Original.StemsPerBox > 0 {
		truck = c.params.TruckCostPerBox.Div(decimal.NewFromInt(int64(row.Original.StemsPerBox)))
	}

	feeFactor := decimal.NewFromInt(1).Add(c.params.TransferFeePercent.Div(oneHundred))
	full := base.Add(air).Add(truck).Mul(feeFactor).Add(c.params.TaxPerStem)

	row.Original.Cost = &CostBreakdown{
		BasePrice:    base,
		AirPerStem:   air,
		TruckPerStem: truck,
		FullCost:     full,
	}
	row.Price = full
	return row
}
