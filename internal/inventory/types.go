package inventory

import "time"

// Flower is one catalog entry. DocumentID is the stable identifier
// assigned by the catalog service; Slug is the matching key derived
// from the variety name.
type Flower struct {
	DocumentID  string     `json:"documentId"`
	Slug        string     `json:"slug"`
	Name        string     `json:"name"`
	PublishedAt *time.Time `json:"publishedAt,omitempty"`
}

// Variant is one stem length of a flower. Cost is the landed purchase
// cost written by imports; Price is the customer-facing sale price and
// is only ever written by the price reconciliation call.
type Variant struct {
	DocumentID string  `json:"documentId"`
	FlowerID   string  `json:"flowerId"`
	Length     int     `json:"length"`
	Cost       float64 `json:"cost"`
	Price      float64 `json:"price"`
	Stock      int     `json:"stock"`
}

// VariantPatch is a partial update. Nil fields are left untouched by
// the catalog service.
type VariantPatch struct {
	Cost  *float64 `json:"cost,omitempty"`
	Price *float64 `json:"price,omitempty"`
	Stock *int     `json:"stock,omitempty"`
}

// FlowerPatch is a partial update to a flower document.
type FlowerPatch struct {
	Name *string `json:"name,omitempty"`
}

// Config holds catalog API connection settings.
type Config struct {
	BaseURL        string
	APIToken       string
	TimeoutSeconds int
}
