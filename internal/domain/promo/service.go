package promo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xenking/promo-engine/internal/domain/catalog"
	"github.com/xenking/promo-engine/internal/domain/customer"
)

// updateAttempts bounds retries of an update racing with redemptions.
const updateAttempts = 3

// Service is the administration API over policies. Every write goes through
// Policy.Prepare and the referential checks.
type Service struct {
	store     Store
	catalog   catalog.Repository
	customers customer.Repository
	events    Publisher
	now       func() time.Time
}

// NewService wires a Service. A nil publisher drops events.
func NewService(store Store, products catalog.Repository, customers customer.Repository, events Publisher) *Service {
	if events == nil {
		events = NopPublisher{}
	}
	return &Service{
		store:     store,
		catalog:   products,
		customers: customers,
		events:    events,
		now:       time.Now,
	}
}

// Create validates and stores a new policy on behalf of actor.
func (s *Service) Create(ctx context.Context, in Input, actor string) (*Policy, error) {
	if err := in.check(); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	p := in.policy()
	p.ID = uuid.New().String()
	p.CreatedBy, p.UpdatedBy = actor, actor
	p.CreatedAt, p.UpdatedAt = now, now
	if err := p.Prepare(now); err != nil {
		return nil, err
	}
	if err := s.checkReferences(ctx, p.Targeting); err != nil {
		return nil, err
	}
	if err := s.store.Create(ctx, p); err != nil {
		return nil, errors.Wrap(err, "create promo")
	}
	s.publish(ctx, EventCreated, p)
	return p, nil
}

// Update replaces the administrator-owned fields of policy id. The used
// count is preserved; a concurrent redemption restarts the write.
func (s *Service) Update(ctx context.Context, id string, in Input, actor string) (*Policy, error) {
	if err := in.check(); err != nil {
		return nil, err
	}
	checked := false
	for range updateAttempts {
		cur, err := s.store.Get(ctx, id)
		if err != nil {
			return nil, errors.Wrap(err, "get promo")
		}
		now := s.now().UTC()
		p := in.policy()
		p.ID = cur.ID
		p.UsedCount = cur.UsedCount
		p.CreatedBy, p.CreatedAt = cur.CreatedBy, cur.CreatedAt
		p.UpdatedBy, p.UpdatedAt = actor, now
		if err := p.Prepare(now); err != nil {
			return nil, err
		}
		if !checked {
			if err := s.checkReferences(ctx, p.Targeting); err != nil {
				return nil, err
			}
			checked = true
		}
		ok, err := s.store.Update(ctx, p, cur.UsedCount)
		if err != nil {
			return nil, errors.Wrap(err, "update promo")
		}
		if ok {
			s.publish(ctx, EventUpdated, p)
			return p, nil
		}
	}
	return nil, ErrConcurrentUpdate
}

// Delete removes a policy that was never redeemed.
func (s *Service) Delete(ctx context.Context, id string) error {
	cur, err := s.store.Get(ctx, id)
	if err != nil {
		return errors.Wrap(err, "get promo")
	}
	if cur.UsedCount > 0 {
		return ErrPolicyInUse
	}
	ok, err := s.store.Delete(ctx, id)
	if err != nil {
		return errors.Wrap(err, "delete promo")
	}
	if !ok {
		// Redeemed or removed since the read.
		if _, err := s.store.Get(ctx, id); err != nil {
			return errors.Wrap(err, "get promo")
		}
		return ErrPolicyInUse
	}
	s.publish(ctx, EventDeleted, cur)
	return nil
}

// Get returns policy id with its status refreshed for the current time.
func (s *Service) Get(ctx context.Context, id string) (*Policy, error) {
	p, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "get promo")
	}
	p.Status = EffectiveStatus(p, s.now())
	return p, nil
}

// GetByCode is Get by case-insensitive code.
func (s *Service) GetByCode(ctx context.Context, code string) (*Policy, error) {
	p, err := s.store.GetByCode(ctx, NormalizeCode(code))
	if err != nil {
		return nil, errors.Wrap(err, "get promo by code")
	}
	p.Status = EffectiveStatus(p, s.now())
	return p, nil
}

// List returns a page of policies and the total count matching f.
func (s *Service) List(ctx context.Context, f ListFilter) ([]Policy, int, error) {
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 20
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	items, total, err := s.store.List(ctx, f)
	if err != nil {
		return nil, 0, errors.Wrap(err, "list promos")
	}
	now := s.now()
	for i := range items {
		items[i].Status = EffectiveStatus(&items[i], now)
	}
	return items, total, nil
}

// ExpireStale persists the expired status of policies whose window closed
// since their last write, keeping status filters accurate.
func (s *Service) ExpireStale(ctx context.Context) (int64, error) {
	n, err := s.store.ExpireStale(ctx, s.now())
	if err != nil {
		return 0, errors.Wrap(err, "expire stale promos")
	}
	return n, nil
}

// checkReferences rejects targeting that names unknown catalog or customer
// ids.
func (s *Service) checkReferences(ctx context.Context, t Targeting) error {
	checks := []struct {
		field   string
		ids     []string
		missing func(context.Context, []string) ([]string, error)
	}{
		{"products", union(t.Products, t.ExcludedProducts), s.catalog.MissingProducts},
		{"categories", union(t.Categories, t.ExcludedCategories), s.catalog.MissingCategories},
		{"brands", union(t.Brands, t.ExcludedBrands), s.catalog.MissingBrands},
		{"users", union(t.Users, t.ExcludedUsers), s.customers.Missing},
	}
	for _, c := range checks {
		if len(c.ids) == 0 {
			continue
		}
		missing, err := c.missing(ctx, c.ids)
		if err != nil {
			return errors.Wrapf(err, "check %s", c.field)
		}
		if len(missing) > 0 {
			return &ValidationError{
				Field:  c.field,
				Reason: fmt.Sprintf("unknown ids: %s", strings.Join(missing, ", ")),
			}
		}
	}
	return nil
}

func union(a, b IDSet) []string {
	return NewIDSet(append(append([]string{}, a...), b...)...)
}

func (s *Service) publish(ctx context.Context, t EventType, p *Policy) {
	if err := s.events.Publish(ctx, Event{Type: t, Policy: p, At: s.now()}); err != nil {
		zctx.From(ctx).Warn("Publish promo event",
			zap.String("type", string(t)),
			zap.String("code", p.Code),
			zap.Error(err),
		)
	}
}
