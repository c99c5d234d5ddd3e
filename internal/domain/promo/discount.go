package promo

import (
	"time"

	"github.com/shopspring/decimal"
)

// Reasons reported with a Result.
const (
	ReasonApplied        = "applied"
	ReasonNotUsable      = "not usable"
	ReasonBelowMinimum   = "below minimum"
	ReasonNotFound       = "not found"
	ReasonNotApplicable  = "not applicable"
	ReasonNotEligible    = "not eligible"
	ReasonUserLimit      = "per-user limit reached"
	ReasonConditions     = "auto-apply conditions not met"
	ReasonOutranked      = "outranked"
	ReasonLimitReached   = "usage limit reached"
	ReasonAlreadyApplied = "already applied"
)

// Result is the outcome of evaluating one policy. Ineligibility is reported
// through Valid and Reason, never as an error.
type Result struct {
	PolicyID     string
	Code         string
	Valid        bool
	Amount       decimal.Decimal
	Reason       string
	Status       Status
	FreeShipping bool
}

func rejected(p *Policy, reason string, now time.Time) Result {
	return Result{
		PolicyID: p.ID,
		Code:     p.Code,
		Amount:   decimal.Zero,
		Reason:   reason,
		Status:   EffectiveStatus(p, now),
	}
}

// Calculate computes the discount p grants on orderAmount at now. The amount
// is capped, clamped to orderAmount and only then rounded to cents.
func Calculate(p *Policy, orderAmount decimal.Decimal, now time.Time) Result {
	if !IsUsable(p, now) {
		return rejected(p, ReasonNotUsable, now)
	}
	if orderAmount.LessThan(p.MinimumOrderAmount) {
		return rejected(p, ReasonBelowMinimum, now)
	}
	return Result{
		PolicyID:     p.ID,
		Code:         p.Code,
		Valid:        true,
		Amount:       p.amountFor(orderAmount).Round(2),
		Reason:       ReasonApplied,
		Status:       StatusActive,
		FreeShipping: p.Kind == KindFreeShipping,
	}
}

// amountFor returns the unrounded discount on amount after the cap and the
// clamp to amount.
func (p *Policy) amountFor(amount decimal.Decimal) decimal.Decimal {
	var raw decimal.Decimal
	switch p.Kind {
	case KindPercentage:
		raw = amount.Mul(p.Value).Div(hundred)
	case KindFixedAmount:
		raw = p.Value
	default:
		raw = decimal.Zero
	}
	if p.MaximumDiscountAmount != nil && raw.GreaterThan(*p.MaximumDiscountAmount) {
		raw = *p.MaximumDiscountAmount
	}
	if raw.GreaterThan(amount) {
		raw = amount
	}
	if raw.IsNegative() {
		raw = decimal.Zero
	}
	return raw
}
