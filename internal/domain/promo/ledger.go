package promo

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Ledger consumes uses of a policy. The global cap is enforced by
// Store.Redeem in a single guarded write. Replays of the same order, the
// policy window and the per-user cap are checked first.
type Ledger struct {
	store   Store
	history History
	events  Publisher
	now     func() time.Time

	tracer      trace.Tracer
	redemptions metric.Int64Counter
}

// NewLedger wires a Ledger. A nil publisher drops events.
func NewLedger(store Store, history History, events Publisher, opts Options) (*Ledger, error) {
	if events == nil {
		events = NopPublisher{}
	}
	opts = opts.withDefaults()
	redemptions, err := opts.MeterProvider.Meter(instrumentationName).Int64Counter("promo.redemptions",
		metric.WithDescription("Redemption attempts, by outcome"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create redemptions counter")
	}
	return &Ledger{
		store:       store,
		history:     history,
		events:      events,
		now:         time.Now,
		tracer:      opts.TracerProvider.Tracer(instrumentationName),
		redemptions: redemptions,
	}, nil
}

// Redeem consumes one use of r.PolicyID for r.OrderID. It must be called
// once per finalized order, never speculatively.
//
// Losing the race for the last use returns ErrUsageLimitReached, which
// IsRetryable recognizes.
func (l *Ledger) Redeem(ctx context.Context, r Redemption) (_ *Policy, rerr error) {
	ctx, span := l.tracer.Start(ctx, "promo.Redeem", trace.WithAttributes(
		attribute.String("promo.id", r.PolicyID),
		attribute.String("order.id", r.OrderID),
	))
	defer func() {
		outcome := "redeemed"
		if rerr != nil {
			outcome = redeemOutcome(rerr)
			span.RecordError(rerr)
			span.SetStatus(codes.Error, outcome)
		}
		l.redemptions.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
		span.End()
	}()

	p, err := l.store.Get(ctx, r.PolicyID)
	if err != nil {
		return nil, errors.Wrap(err, "get promo")
	}
	// A replayed confirmation keeps the use it already consumed.
	done, err := l.history.Redeemed(ctx, p.ID, r.OrderID)
	if err != nil {
		return nil, errors.Wrap(err, "check redemption")
	}
	if done {
		return nil, ErrAlreadyRedeemed
	}
	now := l.now()
	if p.Status == StatusInactive || !p.InWindow(now) {
		return nil, ErrNotUsable
	}
	if p.UsageLimitPerUser > 0 && r.UserID != "" {
		n, err := l.history.CountRedemptions(ctx, p.ID, r.UserID)
		if err != nil {
			return nil, errors.Wrap(err, "count redemptions")
		}
		if n >= p.UsageLimitPerUser {
			return nil, ErrUserLimitReached
		}
	}

	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	r.CreatedAt = now
	r.Amount = r.Amount.Round(2)

	updated, err := l.store.Redeem(ctx, r)
	if err != nil {
		return nil, err
	}

	if err := l.events.Publish(ctx, Event{
		Type:       EventRedeemed,
		Policy:     updated,
		Redemption: &r,
		At:         r.CreatedAt,
	}); err != nil {
		zctx.From(ctx).Warn("Publish redemption event",
			zap.String("code", updated.Code),
			zap.String("order_id", r.OrderID),
			zap.Error(err),
		)
	}
	return updated, nil
}

func redeemOutcome(err error) string {
	switch {
	case errors.Is(err, ErrUsageLimitReached):
		return "limit_reached"
	case errors.Is(err, ErrUserLimitReached):
		return "user_limit_reached"
	case errors.Is(err, ErrAlreadyRedeemed):
		return "duplicate"
	case errors.Is(err, ErrNotUsable):
		return "not_usable"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
