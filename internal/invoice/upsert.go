package invoice

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/bloomstock/backoffice/internal/inventory"
	"github.com/google/uuid"
)

// Catalog is the surface of the inventory collaborator consumed by the
// upsert engine. Lookups return (nil, nil) when the document is absent.
type Catalog interface {
	FindFlowerBySlug(ctx context.Context, slug string) (*inventory.Flower, error)
	FindVariant(ctx context.Context, flowerID string, length int) (*inventory.Variant, error)
	CreateFlower(ctx context.Context, f inventory.Flower) (*inventory.Flower, error)
	CreateVariant(ctx context.Context, v inventory.Variant) (*inventory.Variant, error)
	UpdateFlower(ctx context.Context, documentID string, patch inventory.FlowerPatch) (*inventory.Flower, error)
	UpdateVariant(ctx context.Context, documentID string, patch inventory.VariantPatch) (*inventory.Variant, error)
}

// upserter translates aggregated, costed rows into catalog writes,
// recording one UpsertOperation per entity touched.
type upserter struct {
	catalog Catalog
	now     func() time.Time
}

// upsertRows commits every row and returns the operations list and
// updated stats. Any catalog failure aborts the apply with a
// CatalogError; operations performed before the failure are returned so
// the caller can log what was already written.
func (u *upserter) upsertRows(ctx context.Context, rows []NormalizedRow, mode StockMode, stats *Stats) ([]UpsertOperation, error) {
	if mode == "" {
		mode = StockModeAdd
	}

	var ops []UpsertOperation
	for _, row := range rows {
		rowOps, err := u.upsertRow(ctx, row, mode, stats)
		ops = append(ops, rowOps...)
		if err != nil {
			return ops, &CatalogError{Err: err}
		}
	}
	return ops, nil
}

func (u *upserter) upsertRow(ctx context.Context, row NormalizedRow, mode StockMode, stats *Stats) ([]UpsertOperation, error) {
	var ops []UpsertOperation

	flower, err := u.catalog.FindFlowerBySlug(ctx, row.Slug)
	if err != nil {
		return ops, fmt.Errorf("find flower %q: %w", row.Slug, err)
	}

	if flower == nil {
		flower, err = u.createFlower(ctx, row)
		if err != nil {
			return ops, err
		}
		ops = append(ops, UpsertOperation{
			Entity:     "flower",
			Type:       "create",
			DocumentID: flower.DocumentID,
			After:      *flower,
		})
		stats.FlowersCreated++
	}

	variant, err := u.catalog.FindVariant(ctx, flower.DocumentID, row.Length)
	if err != nil {
		return ops, fmt.Errorf("find variant %s/%dcm: %w", row.Slug, row.Length, err)
	}

	cost := row.Price.InexactFloat64()

	if variant == nil {
		created, err := u.catalog.CreateVariant(ctx, inventory.Variant{
			DocumentID: uuid.New().String(),
			FlowerID:   flower.DocumentID,
			Length:     row.Length,
			Cost:       cost,
			Stock:      row.Stock,
		})
		if err != nil {
			return ops, fmt.Errorf("create variant %s/%dcm: %w", row.Slug, row.Length, err)
		}
		ops = append(ops, UpsertOperation{
			Entity:     "variant",
			Type:       "create",
			DocumentID: created.DocumentID,
			After:      *created,
		})
		stats.VariantsCreated++
		return ops, nil
	}

	before := *variant

	newStock := row.Stock
	if mode == StockModeAdd {
		newStock = variant.Stock + row.Stock
	}

	// Only landed cost and stock are written here. Sale price changes
	// go through the dedicated reconciliation call.
	patch := inventory.VariantPatch{
		Cost:  &cost,
		Stock: &newStock,
	}
	updated, err := u.catalog.UpdateVariant(ctx, variant.DocumentID, patch)
	if err != nil {
		return ops, fmt.Errorf("update variant %s/%dcm: %w", row.Slug, row.Length, err)
	}
	ops = append(ops, UpsertOperation{
		Entity:     "variant",
		Type:       "update",
		DocumentID: updated.DocumentID,
		Before:     before,
		After:      *updated,
	})
	stats.VariantsUpdated++
	return ops, nil
}

// createFlower creates a flower visible immediately. When the slug is
// already taken by a differently-named flower the catalog rejects the
// create; retry once with an epoch token appended, since variety names
// are not guaranteed unique.
func (u *upserter) createFlower(ctx context.Context, row NormalizedRow) (*inventory.Flower, error) {
	now := u.now()
	f := inventory.Flower{
		DocumentID:  uuid.New().String(),
		Slug:        row.Slug,
		Name:        row.FlowerName,
		PublishedAt: &now,
	}

	created, err := u.catalog.CreateFlower(ctx, f)
	if err == nil {
		return created, nil
	}
	if !strings.Contains(strings.ToLower(err.Error()), "conflict") &&
		!strings.Contains(err.Error(), "409") {
		return nil, fmt.Errorf("create flower %q: %w", row.Slug, err)
	}

	f.DocumentID = uuid.New().String()
	f.Slug = fmt.Sprintf("%s-%d", row.Slug, now.Unix())
	log.Printf("[invoice] slug %q taken, retrying create as %q", row.Slug, f.Slug)
	created, err = u.catalog.CreateFlower(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("create flower %q: %w", f.Slug, err)
	}
	return created, nil
}
