package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/promo-engine/internal/domain/auth"
	"github.com/xenking/promo-engine/internal/domain/promo"
	"github.com/xenking/promo-engine/internal/handler"
	"github.com/xenking/promo-engine/internal/storage/postgres"
)

type catalogJSON struct {
	Categories []namedJSON `json:"categories"`
	Brands     []namedJSON `json:"brands"`
	Products   []struct {
		ID         string          `json:"id"`
		Name       string          `json:"name"`
		Price      decimal.Decimal `json:"price"`
		CategoryID string          `json:"category_id"`
		BrandID    string          `json:"brand_id"`
	} `json:"products"`
	Customers []struct {
		ID        string     `json:"id"`
		Email     string     `json:"email"`
		Name      string     `json:"name"`
		CreatedAt *time.Time `json:"created_at"`
	} `json:"customers"`
}

type namedJSON struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func main() {
	var (
		databaseURL  string
		catalogFile  string
		adminKey     string
		checkoutKey  string
		apiKeyPepper string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&catalogFile, "catalog-file", "db/seed/catalog.json", "path to catalog JSON file")
	flag.StringVar(&adminKey, "admin-key", "", "admin API key to seed (or PROMO_SEED_ADMIN_KEY env)")
	flag.StringVar(&checkoutKey, "checkout-key", "", "checkout API key to seed (or PROMO_SEED_CHECKOUT_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or PROMO_API_KEY_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if adminKey == "" {
		adminKey = os.Getenv("PROMO_SEED_ADMIN_KEY")
	}
	if checkoutKey == "" {
		checkoutKey = os.Getenv("PROMO_SEED_CHECKOUT_KEY")
	}
	if adminKey == "" || checkoutKey == "" {
		slog.Error("API keys are required: set --admin-key and --checkout-key")
		os.Exit(1)
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("PROMO_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	keys := []apiKey{
		{id: "admin", name: "Promo admin", secret: adminKey, scopes: []string{auth.ScopeAdmin}},
		{id: "checkout", name: "Checkout", secret: checkoutKey, scopes: []string{}},
	}
	if err := run(ctx, databaseURL, catalogFile, keys, apiKeyPepper); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

type apiKey struct {
	id     string
	name   string
	secret string
	scopes []string
}

func run(ctx context.Context, databaseURL, catalogFile string, keys []apiKey, pepper string) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedCatalog(ctx, pool, catalogFile); err != nil {
		return errors.Wrap(err, "seed catalog")
	}

	svc := promo.NewService(
		postgres.NewPromoRepository(pool),
		postgres.NewCatalogRepository(pool),
		postgres.NewCustomerRepository(pool, 30*24*time.Hour),
		nil,
	)
	if err := seedPromos(ctx, svc); err != nil {
		return errors.Wrap(err, "seed promos")
	}

	for _, k := range keys {
		if err := seedAPIKey(ctx, pool, k, pepper); err != nil {
			return errors.Wrapf(err, "seed api key %s", k.id)
		}
	}

	return nil
}

func seedCatalog(ctx context.Context, db postgres.DB, catalogFile string) error {
	slog.Info("reading catalog file", slog.String("path", catalogFile))

	data, err := os.ReadFile(catalogFile)
	if err != nil {
		return errors.Wrap(err, "read catalog file")
	}

	var c catalogJSON
	if err := json.Unmarshal(data, &c); err != nil {
		return errors.Wrap(err, "parse catalog JSON")
	}

	for _, t := range []struct {
		table string
		rows  []namedJSON
	}{
		{"categories", c.Categories},
		{"brands", c.Brands},
	} {
		for _, row := range t.rows {
			if _, err := db.Exec(ctx,
				`INSERT INTO `+t.table+` (id, name) VALUES ($1, $2)
				ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name`,
				row.ID, row.Name,
			); err != nil {
				return errors.Wrapf(err, "upsert %s %s", t.table, row.ID)
			}
		}
		slog.Info("upserted "+t.table, slog.Int("count", len(t.rows)))
	}

	for _, p := range c.Products {
		if _, err := db.Exec(ctx,
			`INSERT INTO products (id, name, price, category_id, brand_id) VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, price = EXCLUDED.price,
				category_id = EXCLUDED.category_id, brand_id = EXCLUDED.brand_id`,
			p.ID, p.Name, p.Price, p.CategoryID, p.BrandID,
		); err != nil {
			return errors.Wrapf(err, "upsert product %s", p.ID)
		}
		slog.Info("upserted product", slog.String("id", p.ID), slog.String("name", p.Name))
	}

	for _, u := range c.Customers {
		createdAt := time.Now().UTC()
		if u.CreatedAt != nil {
			createdAt = *u.CreatedAt
		}
		if _, err := db.Exec(ctx,
			`INSERT INTO customers (id, email, name, created_at) VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO UPDATE SET email = EXCLUDED.email, name = EXCLUDED.name`,
			u.ID, u.Email, u.Name, createdAt,
		); err != nil {
			return errors.Wrapf(err, "upsert customer %s", u.ID)
		}
	}
	slog.Info("upserted customers", slog.Int("count", len(c.Customers)))

	return nil
}

func seedPromos(ctx context.Context, svc *promo.Service) error {
	now := time.Now().UTC()
	limit := 100
	maxOff := decimal.NewFromInt(50)
	minSubtotal := decimal.NewFromInt(100)

	inputs := []promo.Input{
		{
			Code:                  "SUMMER25",
			Description:           "25% off shoes, up to 50",
			DiscountKind:          promo.KindPercentage,
			DiscountValue:         decimal.NewFromInt(25),
			MaximumDiscountAmount: &maxOff,
			UsageLimit:            &limit,
			ValidFrom:             now,
			ValidUntil:            now.AddDate(0, 3, 0),
			Targeting:             promo.Targeting{Categories: promo.NewIDSet("shoes")},
		},
		{
			Code:                  "WELCOME10",
			Description:           "10 off the first order",
			DiscountKind:          promo.KindFixedAmount,
			DiscountValue:         decimal.NewFromInt(10),
			MinimumOrderAmount:    decimal.NewFromInt(30),
			ValidFrom:             now,
			ValidUntil:            now.AddDate(1, 0, 0),
			FirstTimePurchaseOnly: true,
			Stackable:             true,
		},
		{
			Code:                "FREESHIP",
			Description:         "Free shipping over 100",
			DiscountKind:        promo.KindFreeShipping,
			ValidFrom:           now,
			ValidUntil:          now.AddDate(1, 0, 0),
			Stackable:           true,
			AutoApply:           true,
			AutoApplyConditions: promo.AutoApplyConditions{MinSubtotal: &minSubtotal},
		},
	}

	for _, in := range inputs {
		p, err := svc.Create(ctx, in, "seed")
		switch {
		case errors.Is(err, promo.ErrCodeTaken):
			slog.Info("promo code exists", slog.String("code", in.Code))
			continue
		case err != nil:
			return errors.Wrapf(err, "create promo %s", in.Code)
		}
		slog.Info("created promo code", slog.String("code", p.Code), slog.String("id", p.ID))
	}

	return nil
}

func seedAPIKey(ctx context.Context, db postgres.DB, k apiKey, pepper string) error {
	if _, err := db.Exec(ctx,
		`INSERT INTO api_keys (id, key_hash, name, scopes, active) VALUES ($1, $2, $3, $4, TRUE)
		ON CONFLICT (id) DO UPDATE SET key_hash = EXCLUDED.key_hash, name = EXCLUDED.name,
			scopes = EXCLUDED.scopes, active = TRUE`,
		k.id, handler.HashKey([]byte(pepper), k.secret), k.name, k.scopes,
	); err != nil {
		return errors.Wrap(err, "upsert API key")
	}

	slog.Info("upserted API key", slog.String("id", k.id), slog.String("name", k.name))
	return nil
}
