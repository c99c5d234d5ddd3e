package promo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/promo-engine/internal/domain/catalog"
	"github.com/xenking/promo-engine/internal/domain/customer"
)

var (
	runner = catalog.Product{ID: "runner", Name: "Trail Runner", Price: dec("80"), CategoryID: "shoes", BrandID: "sprint"}
	socks  = catalog.Product{ID: "socks", Name: "Wool Socks", Price: dec("5"), CategoryID: "apparel", BrandID: "sprint"}
	jacket = catalog.Product{ID: "jacket", Name: "Rain Jacket", Price: dec("120"), CategoryID: "apparel", BrandID: "nimbus"}
)

func newTestEngine(t *testing.T, store *memStore) *Engine {
	t.Helper()
	e, err := NewEngine(store, store,
		newMockCatalog(runner, socks, jacket),
		newMockCustomers(
			customer.Profile{ID: "alice", HasPriorPurchase: true},
			customer.Profile{ID: "bob", IsNewUser: true},
		),
		Options{},
	)
	require.NoError(t, err)
	e.now = func() time.Time { return fixedNow }
	return e
}

func TestEngine_Quote_Explicit(t *testing.T) {
	save := activePolicy("p1", "SAVE10")
	auto := autoPolicy("p2", "AUTO50", 9, false, "50")
	store := newMemStore(save, auto)
	e := newTestEngine(t, store)

	q, err := e.Quote(context.Background(), Cart{
		UserID: "alice",
		Code:   "save10",
		Items:  []CartItem{{ProductID: "runner", Quantity: 2}, {ProductID: "socks", Quantity: 4}},
	})
	require.NoError(t, err)

	assert.True(t, dec("180").Equal(q.Subtotal))
	assert.True(t, dec("18").Equal(q.Discount))
	assert.True(t, dec("162").Equal(q.Total))
	require.Len(t, q.Applied, 1)
	assert.Equal(t, "SAVE10", q.Applied[0].Code)
	assert.Empty(t, q.Rejected, "auto-apply policies are ignored when a code is given")
	assert.Zero(t, store.used("p1"), "quoting never consumes a use")
}

func TestEngine_Quote_ExplicitRejections(t *testing.T) {
	tests := []struct {
		name       string
		policy     func() *Policy
		cart       Cart
		wantReason string
	}{
		{
			name:       "unknown code",
			policy:     func() *Policy { return activePolicy("p1", "SAVE10") },
			cart:       Cart{Code: "NOPE", Items: []CartItem{{ProductID: "runner", Quantity: 1}}},
			wantReason: ReasonNotFound,
		},
		{
			name: "inactive",
			policy: func() *Policy {
				p := activePolicy("p1", "SAVE10")
				p.Status = StatusInactive
				return p
			},
			cart:       Cart{Code: "SAVE10", Items: []CartItem{{ProductID: "runner", Quantity: 1}}},
			wantReason: ReasonNotUsable,
		},
		{
			name: "new users only",
			policy: func() *Policy {
				p := activePolicy("p1", "SAVE10")
				p.NewUsersOnly = true
				return p
			},
			cart:       Cart{UserID: "alice", Code: "SAVE10", Items: []CartItem{{ProductID: "runner", Quantity: 1}}},
			wantReason: ReasonNotEligible,
		},
		{
			name: "targeting matches no line",
			policy: func() *Policy {
				p := activePolicy("p1", "SAVE10")
				p.FirstTimePurchaseOnly = true
				p.Targeting.Categories = NewIDSet("electronics")
				return p
			},
			cart:       Cart{Code: "SAVE10", Items: []CartItem{{ProductID: "runner", Quantity: 1}}},
			wantReason: ReasonNotApplicable,
		},
		{
			name: "below minimum on eligible lines",
			policy: func() *Policy {
				p := activePolicy("p1", "SAVE10")
				p.Targeting.Categories = NewIDSet("apparel")
				p.MinimumOrderAmount = dec("100")
				return p
			},
			cart: Cart{Code: "SAVE10", Items: []CartItem{
				{ProductID: "runner", Quantity: 2},
				{ProductID: "socks", Quantity: 2},
			}},
			wantReason: ReasonBelowMinimum,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(t, newMemStore(tt.policy()))

			q, err := e.Quote(context.Background(), tt.cart)
			require.NoError(t, err)

			assert.Empty(t, q.Applied)
			require.Len(t, q.Rejected, 1)
			assert.Equal(t, tt.wantReason, q.Rejected[0].Reason)
			assert.True(t, q.Discount.IsZero())
			assert.True(t, q.Subtotal.Equal(q.Total))
		})
	}
}

func TestEngine_Quote_PerUserLimit(t *testing.T) {
	store := newMemStore(activePolicy("p1", "ONCE"))
	store.redemptions = append(store.redemptions, Redemption{PolicyID: "p1", UserID: "alice", OrderID: "o1"})
	e := newTestEngine(t, store)

	q, err := e.Quote(context.Background(), Cart{UserID: "alice", Code: "ONCE", Items: []CartItem{{ProductID: "runner", Quantity: 1}}})
	require.NoError(t, err)
	require.Len(t, q.Rejected, 1)
	assert.Equal(t, ReasonUserLimit, q.Rejected[0].Reason)

	q, err = e.Quote(context.Background(), Cart{UserID: "bob", Code: "ONCE", Items: []CartItem{{ProductID: "runner", Quantity: 1}}})
	require.NoError(t, err)
	require.Len(t, q.Applied, 1)
	assert.True(t, dec("8").Equal(q.Discount))
}

func TestEngine_Quote_Auto(t *testing.T) {
	shoes := autoPolicy("p1", "SHOES15", 5, false, "15")
	shoes.Targeting.Categories = NewIDSet("shoes")

	bulk := autoPolicy("p2", "BULK", 9, false, "50")
	bulk.AutoApplyConditions.MinItems = 10

	welcome := autoPolicy("p3", "WELCOME", 9, false, "20")
	welcome.NewUsersOnly = true

	manual := activePolicy("p4", "MANUAL")

	e := newTestEngine(t, newMemStore(shoes, bulk, welcome, manual))

	q, err := e.Quote(context.Background(), Cart{
		UserID: "alice",
		Items:  []CartItem{{ProductID: "runner", Quantity: 1}, {ProductID: "jacket", Quantity: 1}},
	})
	require.NoError(t, err)

	require.Len(t, q.Applied, 1)
	assert.Equal(t, "SHOES15", q.Applied[0].Code)
	assert.True(t, dec("12").Equal(q.Discount), "discount is taken on eligible lines only")
	assert.True(t, dec("188").Equal(q.Total))

	reasons := map[string]string{}
	for _, r := range q.Rejected {
		reasons[r.Code] = r.Reason
	}
	assert.Equal(t, map[string]string{
		"BULK":    ReasonConditions,
		"WELCOME": ReasonNotEligible,
	}, reasons)
}

func TestEngine_Quote_AutoStacking(t *testing.T) {
	store := newMemStore(
		autoPolicy("p1", "TEN", 2, true, "10"),
		autoPolicy("p2", "TWENTY", 1, true, "20"),
	)
	e := newTestEngine(t, store)

	q, err := e.Quote(context.Background(), Cart{Items: []CartItem{{ProductID: "jacket", Quantity: 1}}})
	require.NoError(t, err)
	assert.Len(t, q.Applied, 2)
	assert.True(t, dec("36").Equal(q.Discount))

	e.selector.Mode = StackSequential
	q, err = e.Quote(context.Background(), Cart{Items: []CartItem{{ProductID: "jacket", Quantity: 1}}})
	require.NoError(t, err)
	assert.True(t, dec("33.6").Equal(q.Discount))
	assert.True(t, dec("86.4").Equal(q.Total))
}

func TestEngine_Quote_ValidationErrors(t *testing.T) {
	tests := []struct {
		name      string
		cart      Cart
		wantField string
	}{
		{name: "empty cart", cart: Cart{}, wantField: "items"},
		{name: "zero quantity", cart: Cart{Items: []CartItem{{ProductID: "runner"}}}, wantField: "items"},
		{name: "unknown product", cart: Cart{Items: []CartItem{{ProductID: "ghost", Quantity: 1}}}, wantField: "items"},
		{name: "unknown customer", cart: Cart{UserID: "carol", Items: []CartItem{{ProductID: "runner", Quantity: 1}}}, wantField: "user_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(t, newMemStore())

			_, err := e.Quote(context.Background(), tt.cart)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.wantField, verr.Field)
		})
	}
}

func TestEngine_Quote_CatalogError(t *testing.T) {
	products := newMockCatalog(runner)
	products.err = errDB
	e, err := NewEngine(newMemStore(), nil, products, newMockCustomers(), Options{})
	require.NoError(t, err)

	_, err = e.Quote(context.Background(), Cart{Items: []CartItem{{ProductID: "runner", Quantity: 1}}})
	require.ErrorIs(t, err, errDB)
	assert.False(t, IsValidation(err))
}
