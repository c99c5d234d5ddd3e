package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xenking/promo-engine/internal/domain/promo"
)

// Quoter prices a cart and selects its discounts.
type Quoter interface {
	Quote(ctx context.Context, cart promo.Cart) (*promo.Quote, error)
}

// Redeemer consumes one use of a policy for a finalized order.
type Redeemer interface {
	Redeem(ctx context.Context, r promo.Redemption) (*promo.Policy, error)
}

// PlaceOrderRequest holds the input for placing an order.
type PlaceOrderRequest struct {
	UserID    string
	Items     []OrderItem
	PromoCode string
}

// PlaceOrderResult holds the output of a successfully placed order.
type PlaceOrderResult struct {
	Order *Order
	Quote *promo.Quote
}

// ConfirmResult reports the discounts dropped during confirmation.
type ConfirmResult struct {
	Order   *Order
	Dropped []Dropped
}

// Dropped is a quoted discount that could not be redeemed.
type Dropped struct {
	Discount Discount
	Reason   string
}

// Service encapsulates order placement and finalization.
type Service struct {
	quoter   Quoter
	redeemer Redeemer
	orders   Repository
	now      func() time.Time
}

// NewService creates an order Service with the required domain dependencies.
func NewService(quoter Quoter, redeemer Redeemer, orders Repository) *Service {
	return &Service{
		quoter:   quoter,
		redeemer: redeemer,
		orders:   orders,
		now:      time.Now,
	}
}

// PlaceOrder quotes the cart and persists a pending order carrying the
// selected discounts. No use is consumed until ConfirmOrder.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*PlaceOrderResult, error) {
	cart := promo.Cart{
		UserID: req.UserID,
		Code:   req.PromoCode,
		Items:  make([]promo.CartItem, len(req.Items)),
	}
	for i, item := range req.Items {
		cart.Items[i] = promo.CartItem{ProductID: item.ProductID, Quantity: item.Quantity}
	}

	q, err := s.quoter.Quote(ctx, cart)
	if err != nil {
		return nil, errors.Wrap(err, "quote")
	}

	o := &Order{
		ID:        uuid.New().String(),
		UserID:    req.UserID,
		Items:     req.Items,
		Subtotal:  q.Subtotal,
		PromoCode: promo.NormalizeCode(req.PromoCode),
		Status:    StatusPending,
		CreatedAt: s.now().UTC(),
	}
	for _, r := range q.Applied {
		o.Discounts = append(o.Discounts, Discount{
			PolicyID:     r.PolicyID,
			Code:         r.Code,
			Amount:       r.Amount,
			FreeShipping: r.FreeShipping,
		})
	}
	o.recalculate()

	if err := s.orders.Create(ctx, o); err != nil {
		return nil, errors.Wrap(err, "create order")
	}
	return &PlaceOrderResult{Order: o, Quote: q}, nil
}

// ConfirmOrder finalizes a pending order after payment and redeems each of
// its discounts exactly once. A discount whose use was taken in the meantime
// is removed and the totals recomputed; the order itself still succeeds.
// Confirming an already confirmed order returns it unchanged.
func (s *Service) ConfirmOrder(ctx context.Context, id string) (*ConfirmResult, error) {
	o, err := s.orders.Get(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}
	if o.Status == StatusConfirmed {
		return &ConfirmResult{Order: o}, nil
	}

	res := &ConfirmResult{Order: o}
	kept := o.Discounts[:0:0]
	for _, d := range o.Discounts {
		_, err := s.redeemer.Redeem(ctx, promo.Redemption{
			PolicyID: d.PolicyID,
			UserID:   o.UserID,
			OrderID:  o.ID,
			Amount:   d.Amount,
		})
		switch {
		case err == nil, errors.Is(err, promo.ErrAlreadyRedeemed):
			kept = append(kept, d)
		case promo.IsRetryable(err), errors.Is(err, promo.ErrUserLimitReached),
			errors.Is(err, promo.ErrNotUsable), errors.Is(err, promo.ErrNotFound):
			zctx.From(ctx).Info("Drop discount at confirmation",
				zap.String("order_id", o.ID),
				zap.String("code", d.Code),
				zap.Error(err),
			)
			res.Dropped = append(res.Dropped, Dropped{Discount: d, Reason: dropReason(err)})
		default:
			return nil, errors.Wrapf(err, "redeem %q", d.Code)
		}
	}

	o.Discounts = kept
	o.recalculate()
	now := s.now().UTC()
	o.Status = StatusConfirmed
	o.ConfirmedAt = &now

	ok, err := s.orders.Confirm(ctx, o)
	if err != nil {
		return nil, errors.Wrap(err, "confirm order")
	}
	if !ok {
		// Confirmed concurrently; the redemptions above were idempotent.
		cur, err := s.orders.Get(ctx, id)
		if err != nil {
			return nil, errors.Wrap(err, "get order")
		}
		return &ConfirmResult{Order: cur}, nil
	}
	return res, nil
}

// Get returns order id.
func (s *Service) Get(ctx context.Context, id string) (*Order, error) {
	o, err := s.orders.Get(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}
	return o, nil
}

func dropReason(err error) string {
	switch {
	case promo.IsRetryable(err):
		return promo.ReasonLimitReached
	case errors.Is(err, promo.ErrUserLimitReached):
		return promo.ReasonUserLimit
	case errors.Is(err, promo.ErrNotUsable):
		return promo.ReasonNotUsable
	default:
		return promo.ReasonNotFound
	}
}
