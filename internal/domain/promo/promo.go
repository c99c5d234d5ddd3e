// Package promo implements the promotional discount engine: policy records,
// validity and applicability rules, discount calculation, candidate selection
// and the usage ledger that guards redemption caps.
package promo

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Kind enumerates the supported discount strategies.
type Kind string

const (
	// KindPercentage discounts a percentage of the eligible amount.
	KindPercentage Kind = "percentage"
	// KindFixedAmount discounts a fixed monetary value.
	KindFixedAmount Kind = "fixed_amount"
	// KindFreeShipping waives shipping. The waiver itself is priced by the
	// order side; the monetary discount is always zero.
	KindFreeShipping Kind = "free_shipping"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindPercentage, KindFixedAmount, KindFreeShipping:
		return true
	}
	return false
}

// Status is the cached lifecycle state of a policy.
type Status string

const (
	StatusActive    Status = "active"
	StatusInactive  Status = "inactive"
	StatusExpired   Status = "expired"
	StatusExhausted Status = "exhausted"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusExpired, StatusExhausted:
		return true
	}
	return false
}

// Derived reports whether s is computed from dates or counters rather than
// set by an administrator.
func (s Status) Derived() bool {
	return s == StatusExpired || s == StatusExhausted
}

var (
	// ErrNotFound is returned when no policy matches the lookup.
	ErrNotFound = errors.New("promo code not found")
	// ErrCodeTaken is returned when a code is already used by another policy.
	ErrCodeTaken = errors.New("promo code already exists")
	// ErrPolicyInUse is returned when deleting a policy that has redemptions.
	ErrPolicyInUse = errors.New("promo code has been redeemed and cannot be deleted")
	// ErrUsageLimitReached is returned when a redemption loses the race for
	// the last remaining use. Callers should re-run the discount calculation.
	ErrUsageLimitReached = errors.New("promo code usage limit reached")
	// ErrUserLimitReached is returned when the customer already used the
	// policy as many times as allowed.
	ErrUserLimitReached = errors.New("promo code per-user limit reached")
	// ErrNotUsable is returned when a policy was deactivated or left its
	// window before the order redeemed it.
	ErrNotUsable = errors.New("promo code is not usable")
	// ErrAlreadyRedeemed is returned when the order already consumed a use
	// of the policy.
	ErrAlreadyRedeemed = errors.New("promo code already redeemed for order")
	// ErrConcurrentUpdate is returned when a write keeps losing to
	// concurrent redemptions.
	ErrConcurrentUpdate = errors.New("promo code modified concurrently")
)

// IsRetryable reports whether err is an ineligibility caused by concurrent
// redemption, after which checkout should recompute discounts.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUsageLimitReached)
}

// ValidationError rejects a write. It is never partially applied.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err carries a *ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IDSet is a set of foreign identifiers. The zero value is empty.
type IDSet []string

// NewIDSet returns a sorted set without duplicates or blank entries.
func NewIDSet(ids ...string) IDSet {
	out := make(IDSet, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id != "" {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// Has reports whether id is in the set.
func (s IDSet) Has(id string) bool {
	return slices.Contains(s, id)
}

// Targeting holds the inclusion and exclusion sets of a policy. An empty
// inclusion set means every value except the excluded ones.
type Targeting struct {
	Products   IDSet
	Categories IDSet
	Brands     IDSet
	Users      IDSet

	ExcludedProducts   IDSet
	ExcludedCategories IDSet
	ExcludedBrands     IDSet
	ExcludedUsers      IDSet
}

// AutoApplyConditions gate auto-apply suggestions on the cart shape.
type AutoApplyConditions struct {
	MinItems    int
	MinSubtotal *decimal.Decimal
}

// Policy is a persisted promo code definition.
type Policy struct {
	ID          string
	Code        string
	Description string

	Kind                  Kind
	Value                 decimal.Decimal
	MinimumOrderAmount    decimal.Decimal
	MaximumDiscountAmount *decimal.Decimal

	// UsageLimit is nil for unlimited codes.
	UsageLimit *int
	UsedCount  int
	// UsageLimitPerUser of zero means unlimited.
	UsageLimitPerUser int

	ValidFrom  time.Time
	ValidUntil time.Time
	Status     Status

	Targeting             Targeting
	NewUsersOnly          bool
	FirstTimePurchaseOnly bool

	Stackable           bool
	Priority            int
	AutoApply           bool
	AutoApplyConditions AutoApplyConditions

	CreatedBy string
	UpdatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DefaultUsageLimitPerUser applies when a policy does not set its own cap.
const DefaultUsageLimitPerUser = 1

// NormalizeCode upper-cases and trims a code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Redemption is one consumed use of a policy against a finalized order.
type Redemption struct {
	ID        string
	PolicyID  string
	UserID    string
	OrderID   string
	Amount    decimal.Decimal
	CreatedAt time.Time
}

// ListFilter narrows administrative listings. Zero values do not filter.
type ListFilter struct {
	Status    Status
	AutoApply *bool
	Limit     int
	Offset    int
}

// Store persists policies and redemptions.
type Store interface {
	Create(ctx context.Context, p *Policy) error
	// Update writes p if its used count still equals expectedUsed.
	// It returns false when the guard did not match.
	Update(ctx context.Context, p *Policy, expectedUsed int) (bool, error)
	// Delete removes a policy that has never been redeemed. It returns
	// false when the policy has redemptions or does not exist.
	Delete(ctx context.Context, id string) (bool, error)
	Get(ctx context.Context, id string) (*Policy, error)
	GetByCode(ctx context.Context, code string) (*Policy, error)
	List(ctx context.Context, f ListFilter) ([]Policy, int, error)
	ListAutoApply(ctx context.Context, now time.Time) ([]Policy, error)
	Codes(ctx context.Context) ([]string, error)
	// Redeem atomically consumes one use and records r. It returns
	// ErrUsageLimitReached when no use is left and ErrAlreadyRedeemed
	// when the order already redeemed the policy.
	Redeem(ctx context.Context, r Redemption) (*Policy, error)
	// ExpireStale persists the expired status of policies past their window.
	ExpireStale(ctx context.Context, now time.Time) (int64, error)
}

// History reports prior redemptions.
type History interface {
	// CountRedemptions counts redemptions of policyID by userID.
	CountRedemptions(ctx context.Context, policyID, userID string) (int, error)
	// Redeemed reports whether orderID already redeemed policyID.
	Redeemed(ctx context.Context, policyID, orderID string) (bool, error)
}

// EventType names a published policy event.
type EventType string

const (
	EventCreated  EventType = "promo.created"
	EventUpdated  EventType = "promo.updated"
	EventDeleted  EventType = "promo.deleted"
	EventRedeemed EventType = "promo.redeemed"
)

// Event is a change notification. Redemption is set for EventRedeemed.
type Event struct {
	Type       EventType
	Policy     *Policy
	Redemption *Redemption
	At         time.Time
}

// Publisher delivers events to downstream consumers. Publishing is best
// effort: a failure never rolls back the change it describes.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// NopPublisher drops every event.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(context.Context, Event) error { return nil }
