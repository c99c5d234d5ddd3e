package promo

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/promo-engine/internal/domain/customer"
)

func newTestService(store *memStore, events Publisher) *Service {
	s := NewService(store,
		newMockCatalog(runner, socks, jacket),
		newMockCustomers(customer.Profile{ID: "alice"}),
		events,
	)
	s.now = func() time.Time { return fixedNow }
	return s
}

func validInput() Input {
	return Input{
		Code:          "summer25",
		DiscountKind:  KindPercentage,
		DiscountValue: dec("25"),
		ValidFrom:     fixedNow.Add(-time.Hour),
		ValidUntil:    fixedNow.Add(30 * 24 * time.Hour),
	}
}

func TestService_Create(t *testing.T) {
	store := newMemStore()
	events := &recordingPublisher{}
	s := newTestService(store, events)

	p, err := s.Create(context.Background(), validInput(), "admin")
	require.NoError(t, err)

	assert.NotEmpty(t, p.ID)
	assert.Equal(t, "SUMMER25", p.Code)
	assert.Equal(t, StatusActive, p.Status)
	assert.Equal(t, DefaultUsageLimitPerUser, p.UsageLimitPerUser)
	assert.Equal(t, "admin", p.CreatedBy)
	assert.Equal(t, "admin", p.UpdatedBy)
	assert.Equal(t, fixedNow, p.CreatedAt)
	assert.Equal(t, []EventType{EventCreated}, events.types())

	got, err := store.GetByCode(context.Background(), "SUMMER25")
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
}

func TestService_Create_Rejects(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(in *Input)
		wantField string
	}{
		{name: "missing code", mutate: func(in *Input) { in.Code = "" }, wantField: "code"},
		{name: "short code", mutate: func(in *Input) { in.Code = "AB" }, wantField: "code"},
		{name: "unknown kind", mutate: func(in *Input) { in.DiscountKind = "bogo" }, wantField: "discount_kind"},
		{name: "missing start", mutate: func(in *Input) { in.ValidFrom = time.Time{} }, wantField: "valid_from"},
		{name: "window reversed", mutate: func(in *Input) { in.ValidUntil = in.ValidFrom.Add(-time.Minute) }, wantField: "valid_until"},
		{name: "negative usage limit", mutate: func(in *Input) { in.UsageLimit = intPtr(-1) }, wantField: "usage_limit"},
		{name: "derived status", mutate: func(in *Input) { in.Status = StatusExhausted }, wantField: "status"},
		{name: "percentage over 100", mutate: func(in *Input) { in.DiscountValue = dec("120") }, wantField: "discount_value"},
		{name: "negative minimum", mutate: func(in *Input) { in.MinimumOrderAmount = dec("-1") }, wantField: "minimum_order_amount"},
		{
			name:      "unknown product",
			mutate:    func(in *Input) { in.Targeting.Products = []string{"runner", "ghost"} },
			wantField: "products",
		},
		{
			name:      "unknown excluded category",
			mutate:    func(in *Input) { in.Targeting.ExcludedCategories = []string{"garden"} },
			wantField: "categories",
		},
		{
			name:      "unknown brand",
			mutate:    func(in *Input) { in.Targeting.Brands = []string{"acme"} },
			wantField: "brands",
		},
		{
			name:      "unknown user",
			mutate:    func(in *Input) { in.Targeting.Users = []string{"alice", "mallory"} },
			wantField: "users",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			events := &recordingPublisher{}
			s := newTestService(store, events)

			in := validInput()
			tt.mutate(&in)
			_, err := s.Create(context.Background(), in, "admin")

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.wantField, verr.Field)
			assert.Empty(t, store.byID, "rejected writes are not persisted")
			assert.Empty(t, events.types())
		})
	}
}

func TestService_Create_KnownReferences(t *testing.T) {
	s := newTestService(newMemStore(), nil)

	in := validInput()
	in.Targeting = Targeting{
		Products:       []string{"runner"},
		Categories:     []string{"apparel"},
		ExcludedBrands: []string{"nimbus"},
		Users:          []string{"alice"},
	}
	p, err := s.Create(context.Background(), in, "admin")
	require.NoError(t, err)
	assert.Equal(t, IDSet{"runner"}, p.Targeting.Products)
	assert.Equal(t, IDSet{"nimbus"}, p.Targeting.ExcludedBrands)
}

func TestService_Create_CodeTaken(t *testing.T) {
	s := newTestService(newMemStore(activePolicy("p1", "SUMMER25")), nil)

	_, err := s.Create(context.Background(), validInput(), "admin")
	require.ErrorIs(t, err, ErrCodeTaken)
}

func TestService_Create_PastWindowIsExpired(t *testing.T) {
	s := newTestService(newMemStore(), nil)

	in := validInput()
	in.ValidFrom = fixedNow.Add(-72 * time.Hour)
	in.ValidUntil = fixedNow.Add(-time.Hour)
	p, err := s.Create(context.Background(), in, "admin")
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, p.Status)
}

func TestService_Update(t *testing.T) {
	cur := activePolicy("p1", "SUMMER25")
	cur.UsedCount = 4
	cur.CreatedBy = "creator"
	store := newMemStore(cur)
	events := &recordingPublisher{}
	s := newTestService(store, events)

	in := validInput()
	in.DiscountValue = dec("30")
	in.UsageLimit = intPtr(4)
	p, err := s.Update(context.Background(), "p1", in, "editor")
	require.NoError(t, err)

	assert.Equal(t, 4, p.UsedCount, "used count is not administrator-owned")
	assert.Equal(t, StatusExhausted, p.Status)
	assert.Equal(t, "creator", p.CreatedBy)
	assert.Equal(t, "editor", p.UpdatedBy)
	assert.True(t, dec("30").Equal(p.Value))
	assert.Equal(t, []EventType{EventUpdated}, events.types())
}

func TestService_Update_LimitBelowUsed(t *testing.T) {
	cur := activePolicy("p1", "SUMMER25")
	cur.UsedCount = 5
	s := newTestService(newMemStore(cur), nil)

	in := validInput()
	in.UsageLimit = intPtr(3)
	_, err := s.Update(context.Background(), "p1", in, "editor")

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "usage_limit", verr.Field)
}

func TestService_Update_RetriesOnConcurrentRedemption(t *testing.T) {
	store := newMemStore(activePolicy("p1", "SUMMER25"))
	store.updateConflicts = 2
	s := newTestService(store, nil)

	p, err := s.Update(context.Background(), "p1", validInput(), "editor")
	require.NoError(t, err)
	assert.Equal(t, 2, p.UsedCount, "redemptions that raced the update are kept")
	assert.Equal(t, 2, store.used("p1"))
}

func TestService_Update_GivesUp(t *testing.T) {
	store := newMemStore(activePolicy("p1", "SUMMER25"))
	store.updateConflicts = updateAttempts
	s := newTestService(store, nil)

	_, err := s.Update(context.Background(), "p1", validInput(), "editor")
	require.ErrorIs(t, err, ErrConcurrentUpdate)
}

func TestService_Update_NotFound(t *testing.T) {
	s := newTestService(newMemStore(), nil)

	_, err := s.Update(context.Background(), "missing", validInput(), "editor")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestService_Delete(t *testing.T) {
	used := activePolicy("p2", "USED")
	used.UsedCount = 1
	store := newMemStore(activePolicy("p1", "FRESH"), used)
	events := &recordingPublisher{}
	s := newTestService(store, events)

	require.NoError(t, s.Delete(context.Background(), "p1"))
	assert.NotContains(t, store.byID, "p1")
	assert.Equal(t, []EventType{EventDeleted}, events.types())

	require.ErrorIs(t, s.Delete(context.Background(), "p2"), ErrPolicyInUse)
	assert.Contains(t, store.byID, "p2")

	require.ErrorIs(t, s.Delete(context.Background(), "p1"), ErrNotFound)
}

func TestService_Get_RefreshesStatus(t *testing.T) {
	p := activePolicy("p1", "STALE")
	p.ValidUntil = fixedNow.Add(-time.Minute)
	s := newTestService(newMemStore(p), nil)

	got, err := s.Get(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, got.Status)

	got, err = s.GetByCode(context.Background(), "stale")
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, got.Status)

	items, total, err := s.List(context.Background(), ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, StatusExpired, items[0].Status)
}

func TestService_Get_StoreError(t *testing.T) {
	store := newMemStore()
	store.getErr = errDB
	s := newTestService(store, nil)

	_, err := s.Get(context.Background(), "p1")
	require.ErrorIs(t, err, errDB)
}

func TestService_ExpireStale(t *testing.T) {
	stale := activePolicy("p1", "STALE")
	stale.ValidUntil = fixedNow.Add(-time.Minute)
	store := newMemStore(stale, activePolicy("p2", "FRESH"))
	s := newTestService(store, nil)

	n, err := s.ExpireStale(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.Equal(t, StatusExpired, store.byID["p1"].Status)
	assert.Equal(t, StatusActive, store.byID["p2"].Status)
}

func TestService_PublishFailureIsNotFatal(t *testing.T) {
	s := newTestService(newMemStore(), &recordingPublisher{err: errors.New("broker down")})

	_, err := s.Create(context.Background(), validInput(), "admin")
	require.NoError(t, err)
}
