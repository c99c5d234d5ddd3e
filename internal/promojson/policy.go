package promojson

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/promo-engine/internal/domain/promo"
)

// EncodePolicy writes the full record, counters and audit fields included.
func EncodePolicy(e *jx.Encoder, p *promo.Policy) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(p.ID)
	e.FieldStart("code")
	e.Str(p.Code)
	e.FieldStart("description")
	e.Str(p.Description)
	e.FieldStart("discount_kind")
	e.Str(string(p.Kind))
	e.FieldStart("discount_value")
	encodeDecimal(e, p.Value)
	e.FieldStart("minimum_order_amount")
	encodeDecimal(e, p.MinimumOrderAmount)
	e.FieldStart("maximum_discount_amount")
	encodeDecimalPtr(e, p.MaximumDiscountAmount)
	e.FieldStart("usage_limit")
	if p.UsageLimit != nil {
		e.Int(*p.UsageLimit)
	} else {
		e.Null()
	}
	e.FieldStart("used_count")
	e.Int(p.UsedCount)
	e.FieldStart("usage_limit_per_user")
	e.Int(p.UsageLimitPerUser)
	e.FieldStart("valid_from")
	encodeTime(e, p.ValidFrom)
	e.FieldStart("valid_until")
	encodeTime(e, p.ValidUntil)
	e.FieldStart("status")
	e.Str(string(p.Status))
	e.FieldStart("targeting")
	encodeTargeting(e, p.Targeting)
	e.FieldStart("new_users_only")
	e.Bool(p.NewUsersOnly)
	e.FieldStart("first_time_purchase_only")
	e.Bool(p.FirstTimePurchaseOnly)
	e.FieldStart("stackable")
	e.Bool(p.Stackable)
	e.FieldStart("priority")
	e.Int(p.Priority)
	e.FieldStart("auto_apply")
	e.Bool(p.AutoApply)
	e.FieldStart("auto_apply_conditions")
	encodeConditions(e, p.AutoApplyConditions)
	e.FieldStart("created_by")
	e.Str(p.CreatedBy)
	e.FieldStart("updated_by")
	e.Str(p.UpdatedBy)
	e.FieldStart("created_at")
	encodeTime(e, p.CreatedAt)
	e.FieldStart("updated_at")
	encodeTime(e, p.UpdatedAt)
	e.ObjEnd()
}

// MarshalPolicy returns the JSON form of p.
func MarshalPolicy(p *promo.Policy) []byte {
	var e jx.Encoder
	EncodePolicy(&e, p)
	return e.Bytes()
}

// UnmarshalPolicy parses a record written by MarshalPolicy.
func UnmarshalPolicy(data []byte) (*promo.Policy, error) {
	return DecodePolicy(jx.DecodeBytes(data))
}

// DecodePolicy reads a full record. Unknown fields are skipped.
func DecodePolicy(d *jx.Decoder) (*promo.Policy, error) {
	p := &promo.Policy{}
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			p.ID, err = d.Str()
		case "code":
			p.Code, err = d.Str()
		case "description":
			p.Description, err = d.Str()
		case "discount_kind":
			var s string
			s, err = d.Str()
			p.Kind = promo.Kind(s)
		case "discount_value":
			p.Value, err = decodeDecimal(d)
		case "minimum_order_amount":
			p.MinimumOrderAmount, err = decodeDecimal(d)
		case "maximum_discount_amount":
			p.MaximumDiscountAmount, err = decodeDecimalPtr(d)
		case "usage_limit":
			p.UsageLimit, err = decodeIntPtr(d)
		case "used_count":
			p.UsedCount, err = d.Int()
		case "usage_limit_per_user":
			p.UsageLimitPerUser, err = d.Int()
		case "valid_from":
			p.ValidFrom, err = decodeTime(d)
		case "valid_until":
			p.ValidUntil, err = decodeTime(d)
		case "status":
			var s string
			s, err = d.Str()
			p.Status = promo.Status(s)
		case "targeting":
			p.Targeting, err = decodeTargeting(d)
		case "new_users_only":
			p.NewUsersOnly, err = d.Bool()
		case "first_time_purchase_only":
			p.FirstTimePurchaseOnly, err = d.Bool()
		case "stackable":
			p.Stackable, err = d.Bool()
		case "priority":
			p.Priority, err = d.Int()
		case "auto_apply":
			p.AutoApply, err = d.Bool()
		case "auto_apply_conditions":
			p.AutoApplyConditions, err = decodeConditions(d)
		case "created_by":
			p.CreatedBy, err = d.Str()
		case "updated_by":
			p.UpdatedBy, err = d.Str()
		case "created_at":
			p.CreatedAt, err = decodeTime(d)
		case "updated_at":
			p.UpdatedAt, err = decodeTime(d)
		default:
			return d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, key)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode promo")
	}
	return p, nil
}

// DecodeInput reads an administrator request body. Malformed values are
// reported as *promo.ValidationError naming the field.
func DecodeInput(d *jx.Decoder) (promo.Input, error) {
	var in promo.Input
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "code":
			in.Code, err = d.Str()
		case "description":
			in.Description, err = d.Str()
		case "discount_kind":
			var s string
			s, err = d.Str()
			in.DiscountKind = promo.Kind(s)
		case "discount_value":
			in.DiscountValue, err = decodeDecimal(d)
		case "minimum_order_amount":
			in.MinimumOrderAmount, err = decodeDecimal(d)
		case "maximum_discount_amount":
			in.MaximumDiscountAmount, err = decodeDecimalPtr(d)
		case "usage_limit":
			in.UsageLimit, err = decodeIntPtr(d)
		case "usage_limit_per_user":
			in.UsageLimitPerUser, err = decodeIntPtr(d)
		case "valid_from":
			in.ValidFrom, err = decodeTime(d)
		case "valid_until":
			in.ValidUntil, err = decodeTime(d)
		case "status":
			var s string
			s, err = d.Str()
			in.Status = promo.Status(s)
		case "targeting":
			in.Targeting, err = decodeTargeting(d)
		case "new_users_only":
			in.NewUsersOnly, err = d.Bool()
		case "first_time_purchase_only":
			in.FirstTimePurchaseOnly, err = d.Bool()
		case "stackable":
			in.Stackable, err = d.Bool()
		case "priority":
			in.Priority, err = d.Int()
		case "auto_apply":
			in.AutoApply, err = d.Bool()
		case "auto_apply_conditions":
			in.AutoApplyConditions, err = decodeConditions(d)
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
			return promo.Input{}, err
		}
		return promo.Input{}, &promo.ValidationError{Field: "body", Reason: err.Error()}
	}
	return in, nil
}

var targetingFields = []struct {
	key string
	get func(t *promo.Targeting) *promo.IDSet
}{
	{"products", func(t *promo.Targeting) *promo.IDSet { return &t.Products }},
	{"categories", func(t *promo.Targeting) *promo.IDSet { return &t.Categories }},
	{"brands", func(t *promo.Targeting) *promo.IDSet { return &t.Brands }},
	{"users", func(t *promo.Targeting) *promo.IDSet { return &t.Users }},
	{"excluded_products", func(t *promo.Targeting) *promo.IDSet { return &t.ExcludedProducts }},
	{"excluded_categories", func(t *promo.Targeting) *promo.IDSet { return &t.ExcludedCategories }},
	{"excluded_brands", func(t *promo.Targeting) *promo.IDSet { return &t.ExcludedBrands }},
	{"excluded_users", func(t *promo.Targeting) *promo.IDSet { return &t.ExcludedUsers }},
}

func encodeTargeting(e *jx.Encoder, t promo.Targeting) {
	e.ObjStart()
	for _, f := range targetingFields {
		e.FieldStart(f.key)
		encodeStrings(e, *f.get(&t))
	}
	e.ObjEnd()
}

func decodeTargeting(d *jx.Decoder) (promo.Targeting, error) {
	var t promo.Targeting
	err := d.Obj(func(d *jx.Decoder, key string) error {
		for _, f := range targetingFields {
			if f.key != key {
				continue
			}
			ids, err := decodeStrings(d)
			if err != nil {
				return errors.Wrap(err, key)
			}
			*f.get(&t) = promo.NewIDSet(ids...)
			return nil
		}
		return d.Skip()
	})
	return t, err
}

func encodeConditions(e *jx.Encoder, c promo.AutoApplyConditions) {
	e.ObjStart()
	e.FieldStart("min_items")
	e.Int(c.MinItems)
	e.FieldStart("min_subtotal")
	encodeDecimalPtr(e, c.MinSubtotal)
	e.ObjEnd()
}

func decodeConditions(d *jx.Decoder) (promo.AutoApplyConditions, error) {
	var c promo.AutoApplyConditions
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "min_items":
			c.MinItems, err = d.Int()
		case "min_subtotal":
			c.MinSubtotal, err = decodeDecimalPtr(d)
		default:
			return d.Skip()
		}
		return err
	})
	return c, err
}
