package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/promo-engine/internal/domain/order"
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool DB
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool DB) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// orderItemRow is the JSONB representation of an order line.
type orderItemRow struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

const (
	insertOrderSQL = `INSERT INTO orders (id, user_id, items, subtotal, discount, total, free_shipping, promo_code, status, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	insertOrderDiscountSQL = `INSERT INTO order_discounts (order_id, promo_id, code, amount, free_shipping)
	VALUES ($1, $2, $3, $4, $5)`

	getOrderSQL = `SELECT id, user_id, items, subtotal, discount, total, free_shipping, promo_code, status, created_at, confirmed_at
	FROM orders WHERE id = $1`

	getOrderDiscountsSQL = `SELECT promo_id, code, amount, free_shipping
	FROM order_discounts WHERE order_id = $1 ORDER BY code`

	confirmOrderSQL = `UPDATE orders SET discount = $2, total = $3, free_shipping = $4, status = 'confirmed', confirmed_at = $5
	WHERE id = $1 AND status = 'pending'`

	deleteOrderDiscountsSQL = `DELETE FROM order_discounts WHERE order_id = $1`
)

// Create persists a new order and its quoted discounts. The order items are
// serialized to JSON for storage in the JSONB column.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	itemsJSON, err := marshalItems(o.Items)
	if err != nil {
		return err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, insertOrderSQL,
		o.ID, o.UserID, itemsJSON, o.Subtotal, o.Discount, o.Total,
		o.FreeShipping, o.PromoCode, string(o.Status), o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}
	if err := insertDiscounts(ctx, tx, o); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Get returns the order with its discounts.
func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	var (
		o         order.Order
		itemsJSON []byte
		status    string
	)
	err := r.pool.QueryRow(ctx, getOrderSQL, id).Scan(
		&o.ID, &o.UserID, &itemsJSON, &o.Subtotal, &o.Discount, &o.Total,
		&o.FreeShipping, &o.PromoCode, &status, &o.CreatedAt, &o.ConfirmedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	o.Status = order.Status(status)

	var items []orderItemRow
	if err := json.Unmarshal(itemsJSON, &items); err != nil {
		return nil, fmt.Errorf("unmarshaling order items: %w", err)
	}
	o.Items = make([]order.OrderItem, len(items))
	for i, it := range items {
		o.Items[i] = order.OrderItem{ProductID: it.ProductID, Quantity: it.Quantity}
	}

	rows, err := r.pool.Query(ctx, getOrderDiscountsSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting order discounts: %w", err)
	}
	o.Discounts, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (order.Discount, error) {
		var d order.Discount
		err := row.Scan(&d.PolicyID, &d.Code, &d.Amount, &d.FreeShipping)
		return d, err
	})
	if err != nil {
		return nil, fmt.Errorf("getting order discounts: %w", err)
	}
	return &o, nil
}

// Confirm stores the final totals and the discounts that survived
// redemption. It returns false when the order is no longer pending.
func (r *OrderRepository) Confirm(ctx context.Context, o *order.Order) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	confirmedAt := time.Now().UTC()
	if o.ConfirmedAt != nil {
		confirmedAt = *o.ConfirmedAt
	}
	tag, err := tx.Exec(ctx, confirmOrderSQL, o.ID, o.Discount, o.Total, o.FreeShipping, confirmedAt)
	if err != nil {
		return false, fmt.Errorf("confirming order %q: %w", o.ID, err)
	}
	if tag.RowsAffected() != 1 {
		return false, nil
	}

	if _, err := tx.Exec(ctx, deleteOrderDiscountsSQL, o.ID); err != nil {
		return false, fmt.Errorf("clearing order discounts: %w", err)
	}
	if err := insertDiscounts(ctx, tx, o); err != nil {
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit transaction: %w", err)
	}
	return true, nil
}

func insertDiscounts(ctx context.Context, tx pgx.Tx, o *order.Order) error {
	for _, d := range o.Discounts {
		if _, err := tx.Exec(ctx, insertOrderDiscountSQL, o.ID, d.PolicyID, d.Code, d.Amount, d.FreeShipping); err != nil {
			return fmt.Errorf("inserting order discount %q: %w", d.Code, err)
		}
	}
	return nil
}

func marshalItems(items []order.OrderItem) ([]byte, error) {
	rows := make([]orderItemRow, len(items))
	for i, it := range items {
		rows[i] = orderItemRow{ProductID: it.ProductID, Quantity: it.Quantity}
	}
	b, err := json.Marshal(rows)
	if err != nil {
		return nil, fmt.Errorf("marshaling order items: %w", err)
	}
	return b, nil
}
