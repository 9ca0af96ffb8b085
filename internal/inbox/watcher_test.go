package inbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEligibleKey(t *testing.T) {
	tests := []struct {
		name string
		key  string
		size int64
		want bool
	}{
		{"xlsx upload", "drop/invoice.xlsx", 2048, true},
		{"csv upload", "invoice.csv", 100, true},
		{"uppercase extension", "INVOICE.XLSX", 100, true},
		{"already archived", "processed/invoice.xlsx", 2048, false},
		{"zero-byte placeholder", "drop/invoice.xlsx", 0, false},
		{"pdf attachment", "drop/invoice.pdf", 2048, false},
		{"folder marker", "drop/", 1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, eligibleKey(tt.key, tt.size))
		})
	}
}
