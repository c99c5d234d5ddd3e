package promo

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/promo-engine/internal/domain/catalog"
	"github.com/xenking/promo-engine/internal/domain/customer"
)

// --- Mock implementations ---

// memStore is an in-memory Store whose Redeem is a guarded increment under
// a mutex, mirroring the conditional UPDATE of the postgres store.
type memStore struct {
	mu          sync.Mutex
	byID        map[string]*Policy
	redemptions []Redemption

	// updateConflicts makes the next N Update calls miss their guard.
	updateConflicts int
	getErr          error
}

func newMemStore(policies ...*Policy) *memStore {
	s := &memStore{byID: make(map[string]*Policy)}
	for _, p := range policies {
		cp := *p
		s.byID[p.ID] = &cp
	}
	return s
}

func (s *memStore) Create(_ context.Context, p *Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cur := range s.byID {
		if cur.Code == p.Code {
			return ErrCodeTaken
		}
	}
	cp := *p
	s.byID[p.ID] = &cp
	return nil
}

func (s *memStore) Update(_ context.Context, p *Policy, expectedUsed int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.byID[p.ID]
	if !ok {
		return false, nil
	}
	if s.updateConflicts > 0 {
		s.updateConflicts--
		cur.UsedCount++
		return false, nil
	}
	if cur.UsedCount != expectedUsed {
		return false, nil
	}
	cp := *p
	s.byID[p.ID] = &cp
	return true, nil
}

func (s *memStore) Delete(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.byID[id]
	if !ok || cur.UsedCount > 0 {
		return false, nil
	}
	delete(s.byID, id)
	return true, nil
}

func (s *memStore) Get(_ context.Context, id string) (*Policy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	p, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *memStore) GetByCode(_ context.Context, code string) (*Policy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.byID {
		if p.Code == code {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memStore) List(_ context.Context, f ListFilter) ([]Policy, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Policy
	for _, p := range s.byID {
		if f.Status != "" && p.Status != f.Status {
			continue
		}
		if f.AutoApply != nil && p.AutoApply != *f.AutoApply {
			continue
		}
		out = append(out, *p)
	}
	slices.SortFunc(out, func(a, b Policy) int { return rank(&a, &b) })
	return out, len(out), nil
}

func (s *memStore) ListAutoApply(_ context.Context, now time.Time) ([]Policy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Policy
	for _, p := range s.byID {
		if p.AutoApply && p.Status == StatusActive && p.InWindow(now) {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *memStore) Codes(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, p := range s.byID {
		out = append(out, p.Code)
	}
	return out, nil
}

func (s *memStore) Redeem(_ context.Context, r Redemption) (*Policy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[r.PolicyID]
	if !ok {
		return nil, ErrNotFound
	}
	for _, prev := range s.redemptions {
		if prev.PolicyID == r.PolicyID && prev.OrderID == r.OrderID {
			return nil, ErrAlreadyRedeemed
		}
	}
	if p.Exhausted() {
		return nil, ErrUsageLimitReached
	}
	p.UsedCount++
	if p.Exhausted() {
		p.Status = StatusExhausted
	}
	s.redemptions = append(s.redemptions, r)
	cp := *p
	return &cp, nil
}

func (s *memStore) ExpireStale(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, p := range s.byID {
		if p.Status != StatusExpired && p.Expired(now) {
			p.Status = StatusExpired
			n++
		}
	}
	return n, nil
}

func (s *memStore) CountRedemptions(_ context.Context, policyID, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.redemptions {
		if r.PolicyID == policyID && r.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (s *memStore) Redeemed(_ context.Context, policyID, orderID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.redemptions {
		if r.PolicyID == policyID && r.OrderID == orderID {
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) used(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byID[id].UsedCount
}

type mockCatalog struct {
	products map[string]catalog.Product
	known    map[string]bool
	err      error
}

func newMockCatalog(products ...catalog.Product) *mockCatalog {
	m := &mockCatalog{products: make(map[string]catalog.Product), known: make(map[string]bool)}
	for _, p := range products {
		m.products[p.ID] = p
		m.known[p.ID] = true
		m.known[p.CategoryID] = true
		m.known[p.BrandID] = true
	}
	return m
}

func (m *mockCatalog) List(context.Context) ([]catalog.Product, error) { return nil, nil }

func (m *mockCatalog) GetByIDs(_ context.Context, ids []string) ([]catalog.Product, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []catalog.Product
	for _, id := range ids {
		if p, ok := m.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *mockCatalog) missing(ids []string) ([]string, error) {
	var out []string
	for _, id := range ids {
		if !m.known[id] {
			out = append(out, id)
		}
	}
	return out, nil
}

func (m *mockCatalog) MissingProducts(_ context.Context, ids []string) ([]string, error) {
	return m.missing(ids)
}

func (m *mockCatalog) MissingCategories(_ context.Context, ids []string) ([]string, error) {
	return m.missing(ids)
}

func (m *mockCatalog) MissingBrands(_ context.Context, ids []string) ([]string, error) {
	return m.missing(ids)
}

type mockCustomers struct {
	profiles map[string]customer.Profile
}

func newMockCustomers(profiles ...customer.Profile) *mockCustomers {
	m := &mockCustomers{profiles: make(map[string]customer.Profile)}
	for _, p := range profiles {
		m.profiles[p.ID] = p
	}
	return m
}

func (m *mockCustomers) Profile(_ context.Context, id string) (*customer.Profile, error) {
	p, ok := m.profiles[id]
	if !ok {
		return nil, customer.ErrNotFound
	}
	return &p, nil
}

func (m *mockCustomers) Missing(_ context.Context, ids []string) ([]string, error) {
	var out []string
	for _, id := range ids {
		if _, ok := m.profiles[id]; !ok {
			out = append(out, id)
		}
	}
	return out, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (r *recordingPublisher) Publish(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.err
}

func (r *recordingPublisher) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

// --- Helpers ---

var (
	fixedNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	errDB    = errors.New("db error")
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func intPtr(v int) *int { return &v }

// activePolicy returns a usable percentage policy valid around fixedNow.
func activePolicy(id, code string) *Policy {
	return &Policy{
		ID:                 id,
		Code:               code,
		Kind:               KindPercentage,
		Value:              dec("10"),
		MinimumOrderAmount: decimal.Zero,
		UsageLimitPerUser:  1,
		ValidFrom:          fixedNow.Add(-24 * time.Hour),
		ValidUntil:         fixedNow.Add(24 * time.Hour),
		Status:             StatusActive,
		CreatedAt:          fixedNow.Add(-48 * time.Hour),
	}
}
