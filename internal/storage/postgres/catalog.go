package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/xenking/promo-engine/internal/domain/catalog"
)

var _ catalog.Repository = (*CatalogRepository)(nil)

// CatalogRepository implements catalog.Repository backed by PostgreSQL.
type CatalogRepository struct {
	pool DB
}

// NewCatalogRepository returns a CatalogRepository that uses the given pool.
func NewCatalogRepository(pool DB) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

// List returns all products ordered by id.
func (r *CatalogRepository) List(ctx context.Context) ([]catalog.Product, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, price, category_id, brand_id FROM products ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	products, err := pgx.CollectRows(rows, scanProduct)
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	return products, nil
}

// GetByIDs returns the products matching ids. Unknown ids are skipped.
func (r *CatalogRepository) GetByIDs(ctx context.Context, ids []string) ([]catalog.Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, price, category_id, brand_id FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("getting products by ids: %w", err)
	}
	products, err := pgx.CollectRows(rows, scanProduct)
	if err != nil {
		return nil, fmt.Errorf("getting products by ids: %w", err)
	}
	return products, nil
}

func (r *CatalogRepository) MissingProducts(ctx context.Context, ids []string) ([]string, error) {
	return missing(ctx, r.pool, "products", ids)
}

func (r *CatalogRepository) MissingCategories(ctx context.Context, ids []string) ([]string, error) {
	return missing(ctx, r.pool, "categories", ids)
}

func (r *CatalogRepository) MissingBrands(ctx context.Context, ids []string) ([]string, error) {
	return missing(ctx, r.pool, "brands", ids)
}

func scanProduct(row pgx.CollectableRow) (catalog.Product, error) {
	var p catalog.Product
	err := row.Scan(&p.ID, &p.Name, &p.Price, &p.CategoryID, &p.BrandID)
	return p, err
}
