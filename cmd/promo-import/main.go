// Command promo-import bulk loads promo codes from gzip-compressed JSON
// lines files, one policy per line in the admin API's create format.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/promo-engine/internal/domain/promo"
	"github.com/xenking/promo-engine/internal/storage/postgres"
)

func main() {
	var (
		pattern     string
		databaseURL string
		workers     int
		update      bool
		actor       string
	)

	flag.StringVar(&pattern, "files", "data/promos*.jsonl.gz", "glob of gzip-compressed JSON lines files")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.IntVar(&workers, "workers", 8, "concurrent writers")
	flag.BoolVar(&update, "update", false, "update codes that already exist instead of skipping them")
	flag.StringVar(&actor, "actor", "promo-import", "name recorded as creator of imported codes")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, pattern, databaseURL, importOptions{Workers: workers, Update: update, Actor: actor}); err != nil {
		slog.Error("promo import failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("promo import completed successfully")
}

func run(ctx context.Context, pattern, databaseURL string, opts importOptions) error {
	files, err := filepath.Glob(pattern)
	if err != nil {
		return errors.Wrap(err, "match files")
	}
	if len(files) == 0 {
		return errors.Errorf("no files match %q", pattern)
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	repo := postgres.NewPromoRepository(pool)
	svc := promo.NewService(
		repo,
		postgres.NewCatalogRepository(pool),
		postgres.NewCustomerRepository(pool, 30*24*time.Hour),
		nil,
	)

	existing, err := repo.Codes(ctx)
	if err != nil {
		return errors.Wrap(err, "load existing codes")
	}
	slog.Info("loaded existing codes", slog.Int("count", len(existing)))

	imp := newImporter(svc, existing, opts)
	stats, err := imp.Run(ctx, files)
	if err != nil {
		return err
	}

	slog.Info("import summary",
		slog.Int64("created", stats.Created.Load()),
		slog.Int64("updated", stats.Updated.Load()),
		slog.Int64("existing", stats.Existing.Load()),
		slog.Int64("duplicates", stats.Duplicates.Load()),
		slog.Int64("invalid", stats.Invalid.Load()),
	)
	return nil
}
