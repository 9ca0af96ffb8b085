package invoice

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// column is a canonical spreadsheet column of a supplier invoice.
type column string

const (
	colName      column = "name"
	colGrade     column = "grade"
	colQuantity  column = "quantity"
	colPrice     column = "price"
	colLength    column = "length"
	colSupplier  column = "supplier"
	colTransport column = "transport"
	colBoxes     column = "boxes"
	colStemsBox  column = "stems_per_box"
)

// columnAliases maps lowercase header names to canonical columns.
// Supplier sheets come from several farms and none of them agree on
// naming.
var columnAliases = map[string]column{
	// Variety name
	"name":    colName,
	"variety": colName,
	"flower":  colName,
	"product": colName,
	"item":    colName,

	// Grade / type
	"grade":   colGrade,
	"type":    colGrade,
	"quality": colGrade,

	// Quantity
	"qty":      colQuantity,
	"quantity": colQuantity,
	"units":    colQuantity,
	"stems":    colQuantity,
	"amount":   colQuantity,

	// Unit price
	"price":      colPrice,
	"unit price": colPrice,
	"unit_price": colPrice,
	"cost":       colPrice,
	"usd":        colPrice,

	// Stem length
	"length":      colLength,
	"stem length": colLength,
	"cm":          colLength,

	// Supplier
	"supplier": colSupplier,
	"farm":     colSupplier,
	"grower":   colSupplier,

	// Air freight for the batch
	"transport":      colTransport,
	"transport cost": colTransport,
	"freight":        colTransport,
	"air":            colTransport,

	// Box figures (used to spread freight per stem)
	"boxes": colBoxes,
	"box":   colBoxes,

	"stems/box":     colStemsBox,
	"stems per box": colStemsBox,
	"per box":       colStemsBox,
	"pack":          colStemsBox,
}

// mapHeader resolves a header row to column positions. Returns nil when
// no name column can be found, which makes the file unreadable.
func mapHeader(header []string) map[column]int {
	mapping := make(map[column]int)
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(h))
		if key == "" {
			continue
		}
		if col, ok := columnAliases[key]; ok {
			if _, taken := mapping[col]; !taken {
				mapping[col] = i
			}
		}
	}
	if _, ok := mapping[colName]; !ok {
		return nil
	}
	return mapping
}

// ParseFile reads a supplier spreadsheet into raw rows. XLSX and CSV
// are detected by content. Malformed rows become RowErrors and never
// abort the rest of the file; an unreadable file is a fatal error.
func ParseFile(filename string, r io.Reader) ([]RawRow, []RowError, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, fmt.Errorf("read upload: %w", err)
	}
	if len(data) == 0 {
		return nil, nil, fmt.Errorf("empty file")
	}

	var rows [][]string
	if isXLSX(filename, data) {
		rows, err = readXLSX(bytes.NewReader(data))
	} else {
		rows, err = readCSV(bytes.NewReader(data))
	}
	if err != nil {
		return nil, nil, err
	}
	if len(rows) == 0 {
		return nil, nil, fmt.Errorf("no rows in file")
	}

	mapping := mapHeader(rows[0])
	if mapping == nil {
		return nil, nil, fmt.Errorf("no variety name column detected in header: %v", rows[0])
	}

	var (
		raws    []RawRow
		rowErrs []RowError
	)
	for i, cells := range rows[1:] {
		rowNum := i + 2 // 1-based, after the header
		if emptyRow(cells) {
			continue
		}
		raw, err := parseRow(rowNum, cells, mapping)
		if err != nil {
			rowErrs = append(rowErrs, RowError{Row: rowNum, Message: err.Error()})
			continue
		}
		raws = append(raws, raw)
	}

	return raws, rowErrs, nil
}

func parseRow(rowNum int, cells []string, mapping map[column]int) (RawRow, error) {
	cell := func(c column) string {
		idx, ok := mapping[c]
		if !ok || idx >= len(cells) {
			return ""
		}
		return strings.TrimSpace(cells[idx])
	}

	raw := RawRow{Index: rowNum}

	raw.Name = cell(colName)
	if raw.Name == "" {
		return raw, fmt.Errorf("missing variety name")
	}
	raw.Grade = cell(colGrade)
	raw.Supplier = cell(colSupplier)

	qtyStr := cell(colQuantity)
	if qtyStr == "" {
		return raw, fmt.Errorf("missing quantity")
	}
	qty, err := parseInt(qtyStr)
	if err != nil || qty <= 0 {
		return raw, fmt.Errorf("invalid quantity %q", qtyStr)
	}
	raw.Quantity = qty

	priceStr := cell(colPrice)
	if priceStr == "" {
		return raw, fmt.Errorf("missing unit price")
	}
	price, err := parseDecimal(priceStr)
	if err != nil || price.IsNegative() {
		return raw, fmt.Errorf("invalid unit price %q", priceStr)
	}
	raw.UnitPrice = price

	// Optional fields: a bad value degrades to absent rather than
	// rejecting the row.
	if v := cell(colLength); v != "" {
		if n, err := parseInt(v); err == nil && n > 0 {
			raw.StemLength = n
		}
	}
	if v := cell(colTransport); v != "" {
		if d, err := parseDecimal(v); err == nil && !d.IsNegative() {
			raw.TransportCost = d
		}
	}
	if v := cell(colBoxes); v != "" {
		if n, err := parseInt(v); err == nil && n > 0 {
			raw.Boxes = n
		}
	}
	if v := cell(colStemsBox); v != "" {
		if n, err := parseInt(v); err == nil && n > 0 {
			raw.StemsPerBox = n
		}
	}

	return raw, nil
}

func readXLSX(r io.Reader) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("xlsx has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read xlsx rows: %w", err)
	}
	return rows, nil
}

func readCSV(r io.Reader) ([][]string, error) {
	reader := csv.NewReader(stripBOM(r))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	var rows [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		rows = append(rows, record)
	}
	return rows, nil
}

// isXLSX sniffs the file type: xlsx files are zip archives (PK header).
func isXLSX(filename string, data []byte) bool {
	if strings.HasSuffix(strings.ToLower(filename), ".xlsx") {
		return true
	}
	return len(data) >= 2 && data[0] == 'P' && data[1] == 'K'
}

func emptyRow(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func parseInt(s string) (int, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), " ", "")
	s = strings.ReplaceAll(s, ",", "")
	// Sheets frequently store counts as "250.0"
	if f, err := strconv.ParseFloat(s, 64); err == nil && f == float64(int(f)) {
		return int(f), nil
	}
	return strconv.Atoi(s)
}

func parseDecimal(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, " ", "")
	// European sheets use comma as the decimal separator
	if strings.Count(s, ",") == 1 && !strings.Contains(s, ".") {
		s = strings.Replace(s, ",", ".", 1)
	} else {
		s = strings.ReplaceAll(s, ",", "")
	}
	return decimal.NewFromString(s)
}

// stripBOM wraps a reader to strip a UTF-8 BOM if present.
func stripBOM(r io.Reader) io.Reader {
	buf := make([]byte, 3)
	n, err := r.Read(buf)
	if err != nil || n < 3 {
		return io.MultiReader(bytes.NewReader(buf[:n]), r)
	}
	if buf[0] == 0xEF && buf[1] == 0xBB && buf[2] == 0xBF {
		return r
	}
	return io.MultiReader(bytes.NewReader(buf[:n]), r)
}
