// Package catalog describes the product catalog as seen by the discount
// engine: a product resolves to its price, category and brand.
package catalog

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Product is a catalog item available for purchase.
type Product struct {
	ID         string
	Name       string
	Price      decimal.Decimal
	CategoryID string
	BrandID    string
}

// Repository defines read operations for the catalog. The Missing* methods
// return the subset of ids that do not exist, preserving input order.
type Repository interface {
	List(ctx context.Context) ([]Product, error)
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
	MissingProducts(ctx context.Context, ids []string) ([]string, error)
	MissingCategories(ctx context.Context, ids []string) ([]string, error)
	MissingBrands(ctx context.Context, ids []string) ([]string, error)
}
