package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when an order does not exist.
var ErrNotFound = errors.New("order not found")

// Status is the finalization state of an order.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
)

// Order is a priced cart with the discounts quoted at placement. Discounts
// are only redeemed on confirmation.
type Order struct {
	ID           string
	UserID       string
	Items        []OrderItem
	Subtotal     decimal.Decimal
	Discount     decimal.Decimal
	Total        decimal.Decimal
	FreeShipping bool
	PromoCode    string
	Discounts    []Discount
	Status       Status
	CreatedAt    time.Time
	ConfirmedAt  *time.Time
}

// OrderItem represents a single line item in an order.
type OrderItem struct {
	ProductID string
	Quantity  int
}

// Discount is one policy applied to the order.
type Discount struct {
	PolicyID     string
	Code         string
	Amount       decimal.Decimal
	FreeShipping bool
}

// Repository defines persistence operations for orders.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	// Confirm stores the final discounts and totals of a pending order. It
	// returns false when the order is no longer pending.
	Confirm(ctx context.Context, o *Order) (bool, error)
}

// recalculate derives Discount, Total and FreeShipping from Discounts.
func (o *Order) recalculate() {
	discount := decimal.Zero
	o.FreeShipping = false
	for _, d := range o.Discounts {
		discount = discount.Add(d.Amount)
		o.FreeShipping = o.FreeShipping || d.FreeShipping
	}
	if discount.GreaterThan(o.Subtotal) {
		discount = o.Subtotal
	}
	total := o.Subtotal.Sub(discount)
	if total.IsNegative() {
		total = decimal.Zero
	}
	o.Discount = discount.Round(2)
	o.Total = total.Round(2)
}
