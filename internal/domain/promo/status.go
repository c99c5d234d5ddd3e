package promo

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	minCodeLen = 3
	maxCodeLen = 20
)

var (
	hundred = decimal.NewFromInt(100)
	// maxAmount bounds money fields to what NUMERIC(12, 2) stores.
	maxAmount = decimal.New(1, 10)
)

// Prepare runs the write path: it normalizes the code, rejects records that
// break an invariant, then recomputes the cached status. It must run before
// every create and update. An administrator-set status is kept unless a date
// or counter overrides it.
func (p *Policy) Prepare(now time.Time) error {
	p.Code = NormalizeCode(p.Code)
	if p.Status == "" {
		p.Status = StatusActive
	}
	if err := p.validate(); err != nil {
		return err
	}
	p.Status = EffectiveStatus(p, now)
	return nil
}

func (p *Policy) validate() error {
	if n := len(p.Code); n < minCodeLen || n > maxCodeLen {
		return &ValidationError{Field: "code", Reason: fmt.Sprintf("must be %d-%d characters", minCodeLen, maxCodeLen)}
	}
	for _, r := range p.Code {
		if !(r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_') {
			return &ValidationError{Field: "code", Reason: "must contain only letters, digits, '-' or '_'"}
		}
	}
	if !p.Kind.Valid() {
		return &ValidationError{Field: "discount_kind", Reason: fmt.Sprintf("unknown kind %q", p.Kind)}
	}
	if !p.Status.Valid() {
		return &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", p.Status)}
	}
	if err := checkAmount("discount_value", p.Value); err != nil {
		return err
	}
	if p.Kind == KindPercentage && p.Value.GreaterThan(hundred) {
		return &ValidationError{Field: "discount_value", Reason: "percentage must not exceed 100"}
	}
	if err := checkAmount("minimum_order_amount", p.MinimumOrderAmount); err != nil {
		return err
	}
	if p.MaximumDiscountAmount != nil {
		if err := checkAmount("maximum_discount_amount", *p.MaximumDiscountAmount); err != nil {
			return err
		}
	}
	if p.UsageLimit != nil {
		if *p.UsageLimit < 0 {
			return &ValidationError{Field: "usage_limit", Reason: "must not be negative"}
		}
		if p.UsedCount > *p.UsageLimit {
			return &ValidationError{Field: "usage_limit", Reason: fmt.Sprintf("must be at least the used count %d", p.UsedCount)}
		}
	}
	if p.UsageLimitPerUser < 0 {
		return &ValidationError{Field: "usage_limit_per_user", Reason: "must not be negative"}
	}
	if !p.ValidFrom.Before(p.ValidUntil) {
		return &ValidationError{Field: "valid_until", Reason: "must be after valid_from"}
	}
	if p.AutoApplyConditions.MinItems < 0 {
		return &ValidationError{Field: "auto_apply_conditions.min_items", Reason: "must not be negative"}
	}
	if m := p.AutoApplyConditions.MinSubtotal; m != nil {
		if err := checkAmount("auto_apply_conditions.min_subtotal", *m); err != nil {
			return err
		}
	}
	return nil
}

func checkAmount(field string, d decimal.Decimal) error {
	switch {
	case d.IsNegative():
		return &ValidationError{Field: field, Reason: "must not be negative"}
	case !d.Equal(d.Round(2)):
		return &ValidationError{Field: field, Reason: "must have at most 2 decimal places"}
	case !d.LessThan(maxAmount):
		return &ValidationError{Field: field, Reason: "must be less than " + maxAmount.String()}
	}
	return nil
}
