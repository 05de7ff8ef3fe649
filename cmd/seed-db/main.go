// Command seed-db applies the schema and loads the demo marketplace: sellers,
// buyers, products, carts and a few coupons. It can be run repeatedly.
package main

import (
	"context"
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/marketplace/db"
	"github.com/xenking/marketplace/internal/domain/coupon"
	"github.com/xenking/marketplace/internal/seed"
	"github.com/xenking/marketplace/internal/storage/postgres"
)

type config struct {
	DatabaseURL string `usage:"PostgreSQL connection URL (MARKET_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	File        string `usage:"seed JSON file; the embedded demo data set when empty" flag:"file"`
	Pool        postgres.PoolConfig
}

func main() {
	app.Run(func(ctx context.Context, lg *zap.Logger, _ *app.Telemetry) error {
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
		return run(zctx.Base(ctx, lg), cfg)
	})
}

func run(ctx context.Context, cfg config) error {
	lg := zctx.From(ctx)

	data := db.Seed
	if cfg.File != "" {
		lg.Info("Reading seed file", zap.String("path", cfg.File))
		raw, err := os.ReadFile(cfg.File)
		if err != nil {
			return errors.Wrap(err, "read seed file")
		}
		data = raw
	}
	ds, err := seed.Parse(data)
	if err != nil {
		return err
	}

	lg.Info("Connecting to database")
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, cfg.Pool)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	lg.Info("Running migrations")
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	tx := postgres.NewTransactor(pool, postgres.TxConfig{MaxAttempts: 3, RetryDelay: 50 * time.Millisecond})
	svc := coupon.NewService(coupon.Deps{
		Coupons:  postgres.NewCouponRepository(pool),
		Usage:    postgres.NewUsageRepository(pool),
		Products: postgres.NewProductRepository(pool),
		Carts:    postgres.NewCartRepository(pool),
		Users:    postgres.NewUserRepository(pool),
		Tx:       tx,
	})

	// Everything lands in one transaction; coupon creation joins it.
	var st seed.Stats
	err = tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		st, err = seed.Load(ctx, postgres.NewSeeder(pool), svc, ds, time.Now())
		return err
	})
	if err != nil {
		return err
	}

	lg.Info("Seed completed",
		zap.Int("users", st.Users),
		zap.Int("products", st.Products),
		zap.Int("carts", st.Carts),
		zap.Int("coupons_created", st.CouponsCreated),
		zap.Int("coupons_skipped", st.CouponsSkipped),
	)
	return nil
}
