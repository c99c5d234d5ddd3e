package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/promo-engine/internal/domain/order"
	"github.com/xenking/promo-engine/internal/domain/promo"
	"github.com/xenking/promo-engine/internal/event"
	"github.com/xenking/promo-engine/internal/handler"
	"github.com/xenking/promo-engine/internal/storage/postgres"
	"github.com/xenking/promo-engine/internal/storage/rediscache"
	"github.com/xenking/promo-engine/pkg/health"
	"github.com/xenking/promo-engine/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	svc, err := newService(ctx, lg, cfg, m.TracerProvider(), m.MeterProvider())
	if err != nil {
		return err
	}
	defer svc.Close()

	svc.health.Start(ctx, 10*time.Second)
	svc.health.SetReady(true)

	if cfg.Expiry.Interval > 0 {
		go runExpiry(ctx, svc.promos, cfg.Expiry.Interval)
	}

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           svc.handler,
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		svc.health.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		svc.health.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

// service is a fully wired instance without its listener.
type service struct {
	handler http.Handler
	health  *health.Health
	promos  *promo.Service
	closers []func()
}

// Close releases the connections opened by newService in reverse order.
func (s *service) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func newService(
	ctx context.Context,
	lg *zap.Logger,
	cfg *Config,
	tp trace.TracerProvider,
	mp metric.MeterProvider,
) (_ *service, rerr error) {
	svc := &service{health: health.New()}
	defer func() {
		if rerr != nil {
			svc.Close()
		}
	}()

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "create db pool")
	}
	svc.closers = append(svc.closers, pool.Close)

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return nil, errors.Wrap(err, "run migrations")
	}

	healthSvc := svc.health
	healthSvc.Register(health.Check{
		Name:    "postgres",
		Probe:   health.Readiness,
		Timeout: 5 * time.Second,
		Func:    health.PingCheck("postgres", pool),
	})
	healthSvc.Register(health.Check{Name: "goroutines", Func: health.GoroutineCountCheck(10000)})
	healthSvc.Register(health.Check{Name: "gc_pause", Func: health.GCMaxPauseCheck(500 * time.Millisecond)})

	// Repositories.
	promoRepo := postgres.NewPromoRepository(pool)
	catalogRepo := postgres.NewCatalogRepository(pool)
	customerRepo := postgres.NewCustomerRepository(pool, cfg.NewUserWindow)
	orderRepo := postgres.NewOrderRepository(pool)
	apikeyRepo := postgres.NewAPIKeyRepository(pool)

	var store promo.Store = promoRepo
	if cfg.Cache.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.Addr,
			Password: cfg.Cache.Password,
			DB:       cfg.Cache.DB,
		})
		svc.closers = append(svc.closers, func() { _ = rdb.Close() })

		cached := rediscache.New(promoRepo, rdb, cfg.Cache.TTL)
		// Lookups fall back to postgres while redis is down.
		healthSvc.Register(health.Check{
			Name:     "redis",
			Probe:    health.Readiness,
			Timeout:  2 * time.Second,
			Func:     health.PingCheck("redis", cached),
			Optional: true,
		})
		store = cached
		lg.Info("Promo cache enabled", zap.String("redis", cfg.Cache.Addr), zap.Duration("ttl", cfg.Cache.TTL))
	}

	var events promo.Publisher = promo.NopPublisher{}
	if len(cfg.Events.Brokers) > 0 {
		pub := event.NewPublisher(cfg.Events)
		svc.closers = append(svc.closers, func() {
			if err := pub.Close(); err != nil {
				lg.Warn("Close event publisher", zap.Error(err))
			}
		})
		// Redemptions never wait on the broker; events are dropped instead.
		healthSvc.Register(health.Check{
			Name:     "kafka",
			Probe:    health.Readiness,
			Timeout:  5 * time.Second,
			Func:     health.PingCheck("kafka", pub),
			Optional: true,
		})
		events = pub
	}

	// Domain services.
	opts := promo.Options{
		Stacking:       promo.StackingMode(cfg.Engine.Stacking),
		TracerProvider: tp,
		MeterProvider:  mp,
	}
	engine, err := promo.NewEngine(store, promoRepo, catalogRepo, customerRepo, opts)
	if err != nil {
		return nil, errors.Wrap(err, "create engine")
	}
	ledger, err := promo.NewLedger(store, promoRepo, events, opts)
	if err != nil {
		return nil, errors.Wrap(err, "create ledger")
	}
	svc.promos = promo.NewService(store, catalogRepo, customerRepo, events)
	orderService := order.NewService(engine, ledger, orderRepo)

	h := handler.NewHandler(
		handler.Config{
			APIKeyPepper: []byte(cfg.APIKeyPepper),
			QuoteLimit: httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.QuoteMax,
				Window: cfg.RateLimit.Window,
			},
		},
		svc.promos,
		engine,
		orderService,
		apikeyRepo,
	)

	// Route-aware middleware runs inside the router so that the matched
	// pattern is known once the handler returns.
	r := chi.NewRouter()
	r.Use(
		httpmiddleware.Instrument("promo-api", httpmiddleware.ChiRoute, tp, mp),
		httpmiddleware.LogRequests(httpmiddleware.ChiRoute),
	)
	r.Get("/livez", healthSvc.LiveEndpoint)
	r.Get("/readyz", healthSvc.ReadyEndpoint)
	h.Routes(ctx, r)

	svc.handler = httpmiddleware.Wrap(r,
		httpmiddleware.Recovery(),
		httpmiddleware.RateLimit(ctx, httpmiddleware.RateLimitConfig{
			Max:    cfg.RateLimit.Max,
			Window: cfg.RateLimit.Window,
			Skip:   isProbe,
		}),
		httpmiddleware.InjectLogger(lg),
		httpmiddleware.RequestID(),
	)
	return svc, nil
}

func isProbe(r *http.Request) bool {
	return r.URL.Path == "/livez" || r.URL.Path == "/readyz"
}

type expirer interface {
	ExpireStale(ctx context.Context) (int64, error)
}

// runExpiry moves lapsed policies to expired until ctx is done. Lookups
// already derive the effective status, so the sweep only keeps stored
// statuses and listings accurate.
func runExpiry(ctx context.Context, svc expirer, interval time.Duration) {
	lg := zctx.From(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := svc.ExpireStale(ctx)
			if err != nil {
				lg.Warn("Expire stale promo codes", zap.Error(err))
				continue
			}
			if n > 0 {
				lg.Info("Expired promo codes", zap.Int64("count", n))
			}
		}
	}
}
