package invoice

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// AggregateRows merges normalized rows that resolve to the same
// (slug, length) key. Stock is the exact sum of quantities; price is
// the quantity-weighted average unit cost. Group order and, within a
// group, metadata follow first-seen file order, so re-running over the
// same input yields identical output.
func AggregateRows(rows []NormalizedRow) []NormalizedRow {
	type group struct {
		row      NormalizedRow
		weighted decimal.Decimal // running sum of qty × price
	}

	index := make(map[string]int)
	var groups []group

	for _, row := range rows {
		key := fmt.Sprintf("%s|%d", row.Slug, row.Length)
		contribution := row.Price.Mul(decimal.NewFromInt(int64(row.Stock)))

		if i, ok := index[key]; ok {
			g := &groups[i]
			g.row.Stock += row.Stock
			g.weighted = g.weighted.Add(contribution)
			g.row.Original.AggregatedFromHashes = append(g.row.Original.AggregatedFromHashes, row.Hash)
			g.row.Original.AggregatedStocks = append(g.row.Original.AggregatedStocks, row.Stock)
			continue
		}

		// First-seen row supplies the group's metadata and supplier.
		g := group{row: row, weighted: contribution}
		g.row.Original.AggregatedFromHashes = []string{row.Hash}
		g.row.Original.AggregatedStocks = []int{row.Stock}
		index[key] = len(groups)
		groups = append(groups, g)
	}

	out := make([]NormalizedRow, 0, len(groups))
	for _, g := range groups {
		if g.row.Stock > 0 {
			g.row.Price = g.weighted.Div(decimal.NewFromInt(int64(g.row.Stock)))
		} else {
			// Degenerate zero-quantity group: never divide by zero.
			g.row.Price = decimal.Zero
		}
		out = append(out, g.row)
	}
	return out
}
