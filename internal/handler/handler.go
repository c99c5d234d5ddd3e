// Package handler exposes the promotion engine over HTTP.
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/promo-engine/internal/domain/auth"
	"github.com/xenking/promo-engine/internal/domain/order"
	"github.com/xenking/promo-engine/internal/domain/promo"
	"github.com/xenking/promo-engine/pkg/httpmiddleware"
)

// PromoService is the administration surface of promo.Service.
type PromoService interface {
	Create(ctx context.Context, in promo.Input, actor string) (*promo.Policy, error)
	Update(ctx context.Context, id string, in promo.Input, actor string) (*promo.Policy, error)
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*promo.Policy, error)
	GetByCode(ctx context.Context, code string) (*promo.Policy, error)
	List(ctx context.Context, f promo.ListFilter) ([]promo.Policy, int, error)
	ExpireStale(ctx context.Context) (int64, error)
}

// Quoter prices carts.
type Quoter interface {
	Quote(ctx context.Context, cart promo.Cart) (*promo.Quote, error)
}

// OrderService places and confirms orders.
type OrderService interface {
	PlaceOrder(ctx context.Context, req order.PlaceOrderRequest) (*order.PlaceOrderResult, error)
	ConfirmOrder(ctx context.Context, id string) (*order.ConfirmResult, error)
	Get(ctx context.Context, id string) (*order.Order, error)
}

// Config holds non-dependency configuration for the Handler.
type Config struct {
	// APIKeyPepper is the HMAC key used to hash presented API keys.
	APIKeyPepper []byte
	// QuoteLimit throttles the quote endpoint. A zero Max disables it.
	QuoteLimit httpmiddleware.RateLimitConfig
}

// Handler serves the admin, quote and order endpoints.
type Handler struct {
	promos PromoService
	quoter Quoter
	orders OrderService
	keys   auth.Repository
	cfg    Config
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(cfg Config, promos PromoService, quoter Quoter, orders OrderService, keys auth.Repository) *Handler {
	return &Handler{
		promos: promos,
		quoter: quoter,
		orders: orders,
		keys:   keys,
		cfg:    cfg,
	}
}

// Routes registers the API under r. Admin routes require a key with the
// admin scope; checkout routes accept any active key.
func (h *Handler) Routes(ctx context.Context, r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Route("/admin/promos", func(r chi.Router) {
			r.Use(h.requireKey(auth.ScopeAdmin))
			r.Post("/", h.createPromo)
			r.Get("/", h.listPromos)
			r.Post("/expire", h.expirePromos)
			r.Get("/code/{code}", h.getPromoByCode)
			r.Get("/{id}", h.getPromo)
			r.Put("/{id}", h.updatePromo)
			r.Delete("/{id}", h.deletePromo)
		})

		r.Group(func(r chi.Router) {
			r.Use(h.requireKey(""))
			r.With(h.quoteLimit(ctx)).Post("/promos/quote", h.quote)
			r.Post("/orders", h.placeOrder)
			r.Get("/orders/{id}", h.getOrder)
			r.Post("/orders/{id}/confirm", h.confirmOrder)
		})
	})
}

// quoteLimit budgets quotes per API key. It must run after requireKey.
func (h *Handler) quoteLimit(ctx context.Context) func(http.Handler) http.Handler {
	cfg := h.cfg.QuoteLimit
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = func(r *http.Request) string {
			if info, ok := KeyFromContext(r.Context()); ok {
				return "key:" + info.ID
			}
			return httpmiddleware.ClientIP(r)
		}
	}
	return httpmiddleware.RateLimit(ctx, cfg)
}
