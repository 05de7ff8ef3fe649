// Command coupon-import bulk-loads coupon definitions from gzip-compressed
// JSON lines files. A code listed in several files is imported from the
// first one only.
package main

import (
	"context"
	"os"

	"github.com/cristalhq/aconfig"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/marketplace/internal/domain/coupon"
	"github.com/xenking/marketplace/internal/importer"
	"github.com/xenking/marketplace/internal/storage/postgres"
)

type config struct {
	DatabaseURL string   `usage:"PostgreSQL connection URL (MARKET_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	Files       []string `usage:"comma-separated list of .gz files, imported in order" flag:"files"`
	Pool        postgres.PoolConfig
	Tx          postgres.TxConfig
	Import      importer.Config
}

func main() {
	app.Run(func(ctx context.Context, lg *zap.Logger, m *app.Telemetry) error {
		var cfg config
		if err := aconfig.LoaderFor(&cfg, aconfig.Config{EnvPrefix: "MARKET"}).Load(); err != nil {
			return errors.Wrap(err, "load config")
		}
		if cfg.DatabaseURL == "" {
			cfg.DatabaseURL = os.Getenv("DATABASE_URL")
		}
		if cfg.DatabaseURL == "" {
			return errors.New("database URL is required: set --database-url or MARKET_DATABASE_URL")
		}
		if len(cfg.Files) == 0 {
			return errors.New("no input files: set --files")
		}
		return run(zctx.Base(ctx, lg), m, cfg)
	})
}

func run(ctx context.Context, m *app.Telemetry, cfg config) error {
	lg := zctx.From(ctx)

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, cfg.Pool)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	svc := coupon.NewService(coupon.Deps{
		Coupons:  postgres.NewCouponRepository(pool),
		Usage:    postgres.NewUsageRepository(pool),
		Products: postgres.NewProductRepository(pool),
		Carts:    postgres.NewCartRepository(pool),
		Users:    postgres.NewUserRepository(pool),
		Tx:       postgres.NewTransactor(pool, cfg.Tx),
	},
		coupon.WithTracerProvider(m.TracerProvider()),
		coupon.WithMeterProvider(m.MeterProvider()),
	)

	rep, err := importer.New(svc, cfg.Import).Run(ctx, cfg.Files)
	if err != nil {
		return errors.Wrap(err, "import coupons")
	}

	lg.Info("Coupon import completed",
		zap.Int64("lines", rep.Lines),
		zap.Int64("created", rep.Created),
		zap.Int64("duplicates", rep.Duplicates),
		zap.Int64("existing", rep.Existing),
		zap.Int64("invalid", rep.Invalid),
	)
	return nil
}
