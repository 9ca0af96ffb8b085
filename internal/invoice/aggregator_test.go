package invoice

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func normRow(slug string, length, stock int, price string) NormalizedRow {
	return NormalizedRow{
		Slug:       slug,
		FlowerName: slug,
		Length:     length,
		Stock:      stock,
		Price:      decimal.RequireFromString(price),
		Hash:       slug + "-h",
	}
}

func TestAggregateRowsMergesSameIdentity(t *testing.T) {
	a := normRow("freedom-rose", 80, 100, "0.40")
	a.Hash = "h1"
	a.Supplier = "Agrinag"
	b := normRow("freedom-rose", 80, 300, "0.60")
	b.Hash = "h2"
	b.Supplier = "Rosaprima"

	out := AggregateRows([]NormalizedRow{a, b})
	require.Len(t, out, 1)

	got := out[0]
	assert.Equal(t, 400, got.Stock)
	// (100×0.40 + 300×0.60) / 400 = 0.55
	assert.True(t, got.Price.Equal(decimal.RequireFromString("0.55")), "got %s", got.Price)

	// First-seen row supplies metadata and supplier.
	assert.Equal(t, "Agrinag", got.Supplier)
	assert.Equal(t, "h1", got.Hash)
	assert.Equal(t, []string{"h1", "h2"}, got.Original.AggregatedFromHashes)
	assert.Equal(t, []int{100, 300}, got.Original.AggregatedStocks)
}

func TestAggregateRowsKeepsDistinctIdentities(t *testing.T) {
	rows := []NormalizedRow{
		normRow("freedom-rose", 80, 100, "0.40"),
		normRow("freedom-rose", 60, 100, "0.35"), // same slug, other length
		normRow("mondial", 80, 50, "0.50"),
	}

	out := AggregateRows(rows)
	require.Len(t, out, 3)
	assert.Equal(t, 80, out[0].Length)
	assert.Equal(t, 60, out[1].Length)
	assert.Equal(t, "mondial", out[2].Slug)
}

func TestAggregateRowsSingleRowKeepsPrice(t *testing.T) {
	row := normRow("freedom-rose", 80, 250, "0.45")

	out := AggregateRows([]NormalizedRow{row})
	require.Len(t, out, 1)
	assert.Equal(t, 250, out[0].Stock)
	assert.True(t, out[0].Price.Equal(decimal.RequireFromString("0.45")))
	assert.Equal(t, []string{"freedom-rose-h"}, out[0].Original.AggregatedFromHashes)
}

func TestAggregateRowsPreservesFirstSeenOrder(t *testing.T) {
	rows := []NormalizedRow{
		normRow("vendela", 60, 10, "0.30"),
		normRow("freedom-rose", 80, 10, "0.40"),
		normRow("vendela", 60, 10, "0.30"),
		normRow("mondial", 70, 10, "0.50"),
	}

	out := AggregateRows(rows)
	require.Len(t, out, 3)
	assert.Equal(t, "vendela", out[0].Slug)
	assert.Equal(t, "freedom-rose", out[1].Slug)
	assert.Equal(t, "mondial", out[2].Slug)
}

func TestAggregateRowsZeroQuantityGroup(t *testing.T) {
	out := AggregateRows([]NormalizedRow{normRow("freedom-rose", 80, 0, "0.45")})
	require.Len(t, out, 1)
	assert.Equal(t, 0, out[0].Stock)
	assert.True(t, out[0].Price.IsZero())
}
