package invoice

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/gosimple/slug"
)

const maxSlugLen = 96

// gradeLengths maps a textual grade to a stem length in cm. Unknown
// grades resolve to 0, which marks the row incomplete.
var gradeLengths = map[string]int{
	"mini":     10,
	"standard": 40,
	"select":   60,
	"premium":  80,
	"jumbo":    100,
	"xl":       110,
	"xxl":      120,
}

// lengthFromGrade resolves a free-text grade to a stem length.
func lengthFromGrade(grade string) int {
	return gradeLengths[strings.ToLower(strings.TrimSpace(grade))]
}

// slugify derives the stable catalog matching key from a variety name.
// Transliterates to ASCII, lowercases, collapses non-alphanumeric runs
// and caps the length.
func slugify(name string) string {
	s := slug.Make(name)
	if len(s) > maxSlugLen {
		s = strings.Trim(s[:maxSlugLen], "-")
	}
	return s
}

// rowHash fingerprints a raw row's pre-override identity. Overrides are
// addressed by this hash, so it must stay stable across repeated
// preview/apply cycles of the same file regardless of row order changes
// introduced by aggregation.
func rowHash(raw RawRow) string {
	identity := fmt.Sprintf("%s|%s|%d|%d|%s",
		strings.ToLower(strings.TrimSpace(raw.Name)),
		strings.ToLower(strings.TrimSpace(raw.Grade)),
		raw.StemLength,
		raw.Quantity,
		raw.UnitPrice.String(),
	)
	sum := sha256.Sum256([]byte(identity))
	return hex.EncodeToString(sum[:8])
}

// NormalizeRows derives canonical identity for each raw row: slug from
// the (possibly overridden) variety name, stem length from the explicit
// column or the grade table, and the content hash used to address
// operator overrides. Rows whose length cannot be resolved are reported
// as row errors and excluded.
func NormalizeRows(raws []RawRow, overrides map[string]RowOverride) ([]NormalizedRow, []RowError) {
	var (
		rows    []NormalizedRow
		rowErrs []RowError
	)

	for _, raw := range raws {
		hash := rowHash(raw)

		name := strings.TrimSpace(raw.Name)
		if ov, ok := overrides[hash]; ok && strings.TrimSpace(ov.FlowerName) != "" {
			name = strings.TrimSpace(ov.FlowerName)
		}

		length := raw.StemLength
		if length == 0 {
			length = lengthFromGrade(raw.Grade)
		}
		if length == 0 {
			rowErrs = append(rowErrs, RowError{
				Row:     raw.Index,
				Message: fmt.Sprintf("cannot resolve stem length: unrecognized grade %q", raw.Grade),
			})
			continue
		}

		rows = append(rows, NormalizedRow{
			Slug:       slugify(name),
			FlowerName: name,
			Length:     length,
			Stock:      raw.Quantity,
			Price:      raw.UnitPrice,
			Hash:       hash,
			Supplier:   strings.TrimSpace(raw.Supplier),
			Original: RowMeta{
				Name:          raw.Name,
				Grade:         raw.Grade,
				Quantity:      raw.Quantity,
				UnitPrice:     raw.UnitPrice,
				TransportCost: raw.TransportCost,
				Boxes:         raw.Boxes,
				StemsPerBox:   raw.StemsPerBox,
			},
		})
	}

	return rows, rowErrs
}
