package customer

import (
	"context"

	"github.com/go-faster/errors"
)

// ErrNotFound is returned when a customer does not exist.
var ErrNotFound = errors.New("customer not found")

// Profile carries the eligibility flags consumed by promo gates.
type Profile struct {
	ID               string
	IsNewUser        bool
	HasPriorPurchase bool
}

// Repository resolves customer profiles.
type Repository interface {
	Profile(ctx context.Context, id string) (*Profile, error)
	// Missing returns ids that do not name a known customer.
	Missing(ctx context.Context, ids []string) ([]string, error)
}
