package promo

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xenking/promo-engine/internal/domain/catalog"
	"github.com/xenking/promo-engine/internal/domain/customer"
)

const instrumentationName = "github.com/xenking/promo-engine/internal/domain/promo"

// CartItem is a requested product and quantity.
type CartItem struct {
	ProductID string
	Quantity  int
}

// Cart is the checkout input. Code is optional; when set, it is evaluated
// alone and auto-apply policies are ignored.
type Cart struct {
	UserID string
	Code   string
	Items  []CartItem
}

// Quote is the priced cart with the applied discounts.
type Quote struct {
	Lines        []Line
	Subtotal     decimal.Decimal
	Discount     decimal.Decimal
	Total        decimal.Decimal
	FreeShipping bool
	Applied      []Result
	Rejected     []Result
}

// Options configure an Engine. Nil providers fall back to the otel globals.
type Options struct {
	Stacking       StackingMode
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
}

func (o Options) withDefaults() Options {
	if o.Stacking == "" {
		o.Stacking = StackIndependent
	}
	if o.TracerProvider == nil {
		o.TracerProvider = otel.GetTracerProvider()
	}
	if o.MeterProvider == nil {
		o.MeterProvider = otel.GetMeterProvider()
	}
	return o
}

// Engine evaluates carts against the stored policies.
type Engine struct {
	store     Store
	history   History
	catalog   catalog.Repository
	customers customer.Repository
	selector  Selector
	now       func() time.Time

	tracer      trace.Tracer
	evaluations metric.Int64Counter
}

// NewEngine wires an Engine.
func NewEngine(
	store Store,
	history History,
	products catalog.Repository,
	customers customer.Repository,
	opts Options,
) (*Engine, error) {
	opts = opts.withDefaults()
	evaluations, err := opts.MeterProvider.Meter(instrumentationName).Int64Counter("promo.evaluations",
		metric.WithDescription("Policies evaluated at checkout, by outcome"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create evaluations counter")
	}
	return &Engine{
		store:       store,
		history:     history,
		catalog:     products,
		customers:   customers,
		selector:    Selector{Mode: opts.Stacking},
		now:         time.Now,
		tracer:      opts.TracerProvider.Tracer(instrumentationName),
		evaluations: evaluations,
	}, nil
}

// Quote prices the cart and selects its discounts. It never consumes a use:
// redemption happens through the Ledger once the order is finalized.
func (e *Engine) Quote(ctx context.Context, cart Cart) (_ *Quote, rerr error) {
	ctx, span := e.tracer.Start(ctx, "promo.Quote",
		trace.WithAttributes(attribute.Bool("promo.explicit", cart.Code != "")),
	)
	defer func() {
		if rerr != nil {
			span.RecordError(rerr)
		}
		span.End()
	}()

	lines, err := e.resolveLines(ctx, cart.Items)
	if err != nil {
		return nil, err
	}
	profile, err := e.profile(ctx, cart.UserID)
	if err != nil {
		return nil, err
	}

	now := e.now()
	subtotal := Subtotal(lines)

	var sel Selection
	if code := NormalizeCode(cart.Code); code != "" {
		sel, err = e.explicit(ctx, code, profile, lines, subtotal, now)
	} else {
		sel, err = e.auto(ctx, profile, lines, subtotal, now)
	}
	if err != nil {
		return nil, err
	}

	for _, r := range sel.Applied {
		e.evaluations.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", r.Reason)))
	}
	for _, r := range sel.Rejected {
		e.evaluations.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", r.Reason)))
	}

	total := subtotal.Sub(sel.Discount)
	if total.IsNegative() {
		total = decimal.Zero
	}
	return &Quote{
		Lines:        lines,
		Subtotal:     subtotal.Round(2),
		Discount:     sel.Discount.Round(2),
		Total:        total.Round(2),
		FreeShipping: sel.FreeShipping,
		Applied:      sel.Applied,
		Rejected:     sel.Rejected,
	}, nil
}

func (e *Engine) explicit(
	ctx context.Context,
	code string,
	profile customer.Profile,
	lines []Line,
	subtotal decimal.Decimal,
	now time.Time,
) (Selection, error) {
	sel := Selection{Discount: decimal.Zero}
	p, err := e.store.GetByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			sel.Rejected = []Result{{Code: code, Amount: decimal.Zero, Reason: ReasonNotFound}}
			return sel, nil
		}
		return sel, errors.Wrapf(err, "get promo %q", code)
	}
	c, reason, err := e.screen(ctx, p, profile, lines, false, now)
	if err != nil {
		return sel, err
	}
	if reason != "" {
		sel.Rejected = []Result{rejected(p, reason, now)}
		return sel, nil
	}
	return e.selector.SelectExplicit(subtotal, c, now), nil
}

func (e *Engine) auto(
	ctx context.Context,
	profile customer.Profile,
	lines []Line,
	subtotal decimal.Decimal,
	now time.Time,
) (Selection, error) {
	policies, err := e.store.ListAutoApply(ctx, now)
	if err != nil {
		return Selection{}, errors.Wrap(err, "list auto-apply promos")
	}
	var (
		cands    []Candidate
		screened []Result
	)
	for i := range policies {
		p := &policies[i]
		c, reason, err := e.screen(ctx, p, profile, lines, true, now)
		if err != nil {
			return Selection{}, err
		}
		if reason != "" {
			screened = append(screened, rejected(p, reason, now))
			continue
		}
		cands = append(cands, c)
	}
	sel := e.selector.SelectAuto(subtotal, cands, now)
	sel.Rejected = append(screened, sel.Rejected...)
	return sel, nil
}

// screen applies the targeting and eligibility gates. A non-empty reason
// rejects the policy.
func (e *Engine) screen(
	ctx context.Context,
	p *Policy,
	profile customer.Profile,
	lines []Line,
	auto bool,
	now time.Time,
) (Candidate, string, error) {
	if !IsUsable(p, now) {
		return Candidate{}, ReasonNotUsable, nil
	}
	if !p.Admits(profile) {
		return Candidate{}, ReasonNotEligible, nil
	}
	eligible := p.EligibleLines(profile.ID, lines)
	if len(eligible) == 0 {
		return Candidate{}, ReasonNotApplicable, nil
	}
	if auto && !p.autoApplyMet(lines) {
		return Candidate{}, ReasonConditions, nil
	}
	if p.UsageLimitPerUser > 0 && profile.ID != "" {
		n, err := e.history.CountRedemptions(ctx, p.ID, profile.ID)
		if err != nil {
			return Candidate{}, "", errors.Wrapf(err, "count redemptions of %q", p.Code)
		}
		if n >= p.UsageLimitPerUser {
			return Candidate{}, ReasonUserLimit, nil
		}
	}
	return Candidate{Policy: p, Base: Subtotal(eligible)}, "", nil
}

func (e *Engine) resolveLines(ctx context.Context, items []CartItem) ([]Line, error) {
	if len(items) == 0 {
		return nil, &ValidationError{Field: "items", Reason: "at least one item is required"}
	}
	ids := make([]string, len(items))
	for i, item := range items {
		if item.Quantity <= 0 {
			return nil, &ValidationError{Field: "items", Reason: fmt.Sprintf("quantity must be greater than 0 for product %s", item.ProductID)}
		}
		ids[i] = item.ProductID
	}

	products, err := e.catalog.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}
	byID := make(map[string]catalog.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	lines := make([]Line, len(items))
	for i, item := range items {
		p, ok := byID[item.ProductID]
		if !ok {
			return nil, &ValidationError{Field: "items", Reason: fmt.Sprintf("product %s not found", item.ProductID)}
		}
		lines[i] = Line{
			ProductID:  p.ID,
			CategoryID: p.CategoryID,
			BrandID:    p.BrandID,
			Price:      p.Price,
			Quantity:   item.Quantity,
		}
	}
	return lines, nil
}

// profile resolves the cart owner. Anonymous carts get an empty profile: not
// a new user, no purchase history.
func (e *Engine) profile(ctx context.Context, userID string) (customer.Profile, error) {
	if userID == "" {
		return customer.Profile{}, nil
	}
	p, err := e.customers.Profile(ctx, userID)
	if err != nil {
		if errors.Is(err, customer.ErrNotFound) {
			return customer.Profile{}, &ValidationError{Field: "user_id", Reason: fmt.Sprintf("customer %s not found", userID)}
		}
		return customer.Profile{}, errors.Wrap(err, "get customer profile")
	}
	return *p, nil
}
