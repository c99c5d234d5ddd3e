package promojson

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/promo-engine/internal/domain/promo"
)

// DecodeCart reads a quote request:
//
//	{"user_id": "...", "code": "...", "items": [{"product_id": "...", "quantity": 1}]}
func DecodeCart(d *jx.Decoder) (promo.Cart, error) {
	var c promo.Cart
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "user_id":
			c.UserID, err = d.Str()
		case "code":
			c.Code, err = d.Str()
		case "items":
			c.Items, err = decodeItems(d)
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
			return promo.Cart{}, err
		}
		return promo.Cart{}, &promo.ValidationError{Field: "body", Reason: err.Error()}
	}
	return c, nil
}

func decodeItems(d *jx.Decoder) ([]promo.CartItem, error) {
	var items []promo.CartItem
	err := d.Arr(func(d *jx.Decoder) error {
		var item promo.CartItem
		if err := d.Obj(func(d *jx.Decoder, key string) error {
			var err error
			switch key {
			case "product_id":
				item.ProductID, err = d.Str()
			case "quantity":
				item.Quantity, err = d.Int()
			default:
				return d.Skip()
			}
			if err != nil {
				return errors.Wrap(err, key)
			}
			return nil
		}); err != nil {
			return err
		}
		items = append(items, item)
		return nil
	})
	return items, err
}

// EncodeItems writes cart items as the array DecodeCart reads.
func EncodeItems(e *jx.Encoder, items []promo.CartItem) {
	e.ArrStart()
	for _, item := range items {
		e.ObjStart()
		e.FieldStart("product_id")
		e.Str(item.ProductID)
		e.FieldStart("quantity")
		e.Int(item.Quantity)
		e.ObjEnd()
	}
	e.ArrEnd()
}

// EncodeResult writes one evaluated policy.
func EncodeResult(e *jx.Encoder, r promo.Result) {
	e.ObjStart()
	if r.PolicyID != "" {
		e.FieldStart("promo_id")
		e.Str(r.PolicyID)
	}
	e.FieldStart("code")
	e.Str(r.Code)
	e.FieldStart("valid")
	e.Bool(r.Valid)
	e.FieldStart("amount")
	encodeDecimal(e, r.Amount)
	e.FieldStart("reason")
	e.Str(r.Reason)
	if r.Status != "" {
		e.FieldStart("status")
		e.Str(string(r.Status))
	}
	if r.FreeShipping {
		e.FieldStart("free_shipping")
		e.Bool(true)
	}
	e.ObjEnd()
}

// EncodeResults writes rs as an array, never null.
func EncodeResults(e *jx.Encoder, rs []promo.Result) {
	e.ArrStart()
	for _, r := range rs {
		EncodeResult(e, r)
	}
	e.ArrEnd()
}

// EncodeQuote writes a priced cart.
func EncodeQuote(e *jx.Encoder, q *promo.Quote) {
	e.ObjStart()
	e.FieldStart("lines")
	e.ArrStart()
	for _, l := range q.Lines {
		e.ObjStart()
		e.FieldStart("product_id")
		e.Str(l.ProductID)
		e.FieldStart("category_id")
		e.Str(l.CategoryID)
		e.FieldStart("brand_id")
		e.Str(l.BrandID)
		e.FieldStart("price")
		encodeDecimal(e, l.Price)
		e.FieldStart("quantity")
		e.Int(l.Quantity)
		e.ObjEnd()
	}
	e.ArrEnd()
	e.FieldStart("subtotal")
	encodeDecimal(e, q.Subtotal)
	e.FieldStart("discount")
	encodeDecimal(e, q.Discount)
	e.FieldStart("total")
	encodeDecimal(e, q.Total)
	e.FieldStart("free_shipping")
	e.Bool(q.FreeShipping)
	e.FieldStart("applied")
	EncodeResults(e, q.Applied)
	e.FieldStart("rejected")
	EncodeResults(e, q.Rejected)
	e.ObjEnd()
}
