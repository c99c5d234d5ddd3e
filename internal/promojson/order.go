package promojson

import (
	"github.com/go-faster/jx"

	"github.com/xenking/promo-engine/internal/domain/order"
	"github.com/xenking/promo-engine/internal/domain/promo"
)

// DecodePlaceOrder reads an order request. It has the shape of a quote
// request with "promo_code" in place of "code".
func DecodePlaceOrder(d *jx.Decoder) (order.PlaceOrderRequest, error) {
	var req order.PlaceOrderRequest
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "user_id":
			req.UserID, err = d.Str()
		case "promo_code":
			req.PromoCode, err = d.Str()
		case "items":
			var items []promo.CartItem
			items, err = decodeItems(d)
			for _, it := range items {
				req.Items = append(req.Items, order.OrderItem{ProductID: it.ProductID, Quantity: it.Quantity})
			}
		default:
			return d.Skip()
		}
		if err != nil {
			return fieldError(key, err)
		}
		return nil
	})
	if err != nil {
		if promo.IsValidation(err) {
			return order.PlaceOrderRequest{}, err
		}
		return order.PlaceOrderRequest{}, &promo.ValidationError{Field: "body", Reason: err.Error()}
	}
	return req, nil
}

// EncodeOrder writes an order with its discounts.
func EncodeOrder(e *jx.Encoder, o *order.Order) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(o.ID)
	e.FieldStart("user_id")
	e.Str(o.UserID)
	e.FieldStart("status")
	e.Str(string(o.Status))
	e.FieldStart("items")
	e.ArrStart()
	for _, it := range o.Items {
		e.ObjStart()
		e.FieldStart("product_id")
		e.Str(it.ProductID)
		e.FieldStart("quantity")
		e.Int(it.Quantity)
		e.ObjEnd()
	}
	e.ArrEnd()
	e.FieldStart("subtotal")
	encodeDecimal(e, o.Subtotal)
	e.FieldStart("discount")
	encodeDecimal(e, o.Discount)
	e.FieldStart("total")
	encodeDecimal(e, o.Total)
	e.FieldStart("free_shipping")
	e.Bool(o.FreeShipping)
	if o.PromoCode != "" {
		e.FieldStart("promo_code")
		e.Str(o.PromoCode)
	}
	e.FieldStart("discounts")
	e.ArrStart()
	for _, d := range o.Discounts {
		encodeOrderDiscount(e, d)
	}
	e.ArrEnd()
	e.FieldStart("created_at")
	encodeTime(e, o.CreatedAt)
	if o.ConfirmedAt != nil {
		e.FieldStart("confirmed_at")
		encodeTime(e, *o.ConfirmedAt)
	}
	e.ObjEnd()
}

// EncodeConfirmation writes a confirmed order and the discounts it lost.
func EncodeConfirmation(e *jx.Encoder, res *order.ConfirmResult) {
	e.ObjStart()
	e.FieldStart("order")
	EncodeOrder(e, res.Order)
	e.FieldStart("dropped")
	e.ArrStart()
	for _, d := range res.Dropped {
		e.ObjStart()
		e.FieldStart("code")
		e.Str(d.Discount.Code)
		e.FieldStart("amount")
		encodeDecimal(e, d.Discount.Amount)
		e.FieldStart("reason")
		e.Str(d.Reason)
		e.ObjEnd()
	}
	e.ArrEnd()
	e.ObjEnd()
}

func encodeOrderDiscount(e *jx.Encoder, d order.Discount) {
	e.ObjStart()
	e.FieldStart("promo_id")
	e.Str(d.PolicyID)
	e.FieldStart("code")
	e.Str(d.Code)
	e.FieldStart("amount")
	encodeDecimal(e, d.Amount)
	if d.FreeShipping {
		e.FieldStart("free_shipping")
		e.Bool(true)
	}
	e.ObjEnd()
}
