package promojson

import (
	"github.com/go-faster/jx"

	"github.com/xenking/promo-engine/internal/domain/promo"
)

// MarshalEvent returns the message payload of ev.
func MarshalEvent(ev promo.Event) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("type")
	e.Str(string(ev.Type))
	e.FieldStart("at")
	encodeTime(&e, ev.At)
	if ev.Policy != nil {
		e.FieldStart("promo")
		EncodePolicy(&e, ev.Policy)
	}
	if r := ev.Redemption; r != nil {
		e.FieldStart("redemption")
		e.ObjStart()
		e.FieldStart("id")
		e.Str(r.ID)
		e.FieldStart("promo_id")
		e.Str(r.PolicyID)
		e.FieldStart("user_id")
		e.Str(r.UserID)
		e.FieldStart("order_id")
		e.Str(r.OrderID)
		e.FieldStart("amount")
		encodeDecimal(&e, r.Amount)
		e.FieldStart("created_at")
		encodeTime(&e, r.CreatedAt)
		e.ObjEnd()
	}
	e.ObjEnd()
	return e.Bytes()
}
