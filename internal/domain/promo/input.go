package promo

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/go-faster/errors"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Input is the administrator-supplied shape of a policy. Counters, audit
// fields and derived status are owned by the service.
type Input struct {
	Code        string `validate:"required,min=3,max=20"`
	Description string `validate:"max=500"`

	DiscountKind          Kind `validate:"required,oneof=percentage fixed_amount free_shipping"`
	DiscountValue         decimal.Decimal
	MinimumOrderAmount    decimal.Decimal
	MaximumDiscountAmount *decimal.Decimal

	UsageLimit        *int `validate:"omitempty,gte=0"`
	UsageLimitPerUser *int `validate:"omitempty,gte=0"`

	ValidFrom  time.Time `validate:"required"`
	ValidUntil time.Time `validate:"required,gtfield=ValidFrom"`
	// Status is the administrator-set state; blank means active.
	Status Status `validate:"omitempty,oneof=active inactive"`

	Targeting             Targeting
	NewUsersOnly          bool
	FirstTimePurchaseOnly bool

	Stackable           bool
	Priority            int
	AutoApply           bool
	AutoApplyConditions AutoApplyConditions
}

// check runs the tag validation and maps the first failure to a
// *ValidationError.
func (in *Input) check() error {
	err := validate.Struct(in)
	if err == nil {
		return nil
	}
	var fields validator.ValidationErrors
	if !errors.As(err, &fields) || len(fields) == 0 {
		return errors.Wrap(err, "validate input")
	}
	fe := fields[0]
	return &ValidationError{Field: snakeCase(fe.Field()), Reason: reasonForTag(fe)}
}

// policy builds the record described by in.
func (in *Input) policy() *Policy {
	perUser := DefaultUsageLimitPerUser
	if in.UsageLimitPerUser != nil {
		perUser = *in.UsageLimitPerUser
	}
	t := in.Targeting
	return &Policy{
		Code:                  NormalizeCode(in.Code),
		Description:           in.Description,
		Kind:                  in.DiscountKind,
		Value:                 in.DiscountValue,
		MinimumOrderAmount:    in.MinimumOrderAmount,
		MaximumDiscountAmount: in.MaximumDiscountAmount,
		UsageLimit:            in.UsageLimit,
		UsageLimitPerUser:     perUser,
		ValidFrom:             in.ValidFrom.UTC(),
		ValidUntil:            in.ValidUntil.UTC(),
		Status:                in.Status,
		Targeting: Targeting{
			Products:           NewIDSet(t.Products...),
			Categories:         NewIDSet(t.Categories...),
			Brands:             NewIDSet(t.Brands...),
			Users:              NewIDSet(t.Users...),
			ExcludedProducts:   NewIDSet(t.ExcludedProducts...),
			ExcludedCategories: NewIDSet(t.ExcludedCategories...),
			ExcludedBrands:     NewIDSet(t.ExcludedBrands...),
			ExcludedUsers:      NewIDSet(t.ExcludedUsers...),
		},
		NewUsersOnly:          in.NewUsersOnly,
		FirstTimePurchaseOnly: in.FirstTimePurchaseOnly,
		Stackable:             in.Stackable,
		Priority:              in.Priority,
		AutoApply:             in.AutoApply,
		AutoApplyConditions:   in.AutoApplyConditions,
	}
}

func reasonForTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "gtfield":
		return fmt.Sprintf("must be after %s", snakeCase(fe.Param()))
	default:
		return fmt.Sprintf("failed on '%s' validation", fe.Tag())
	}
}

// snakeCase turns a Go field name into its wire name.
func snakeCase(s string) string {
	var b strings.Builder
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}
