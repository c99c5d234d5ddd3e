package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/promo-engine/internal/domain/customer"
)

var _ customer.Repository = (*CustomerRepository)(nil)

// CustomerRepository derives customer profiles from the customers and
// orders tables.
type CustomerRepository struct {
	pool      DB
	newWindow time.Duration
	now       func() time.Time
}

// NewCustomerRepository returns a CustomerRepository. Customers registered
// within newWindow count as new users.
func NewCustomerRepository(pool DB, newWindow time.Duration) *CustomerRepository {
	return &CustomerRepository{pool: pool, newWindow: newWindow, now: time.Now}
}

const profileSQL = `SELECT c.id, c.created_at >= $2,
	EXISTS (SELECT 1 FROM orders o WHERE o.user_id = c.id AND o.status = 'confirmed')
FROM customers c WHERE c.id = $1`

// Profile returns the eligibility flags of customer id.
func (r *CustomerRepository) Profile(ctx context.Context, id string) (*customer.Profile, error) {
	var p customer.Profile
	since := r.now().Add(-r.newWindow)
	err := r.pool.QueryRow(ctx, profileSQL, id, since).Scan(&p.ID, &p.IsNewUser, &p.HasPriorPurchase)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, customer.ErrNotFound
		}
		return nil, fmt.Errorf("getting customer %q: %w", id, err)
	}
	return &p, nil
}

// Missing returns the ids that do not name a customer.
func (r *CustomerRepository) Missing(ctx context.Context, ids []string) ([]string, error) {
	return missing(ctx, r.pool, "customers", ids)
}
