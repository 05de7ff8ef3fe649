// Package app wires the marketplace API server.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/marketplace/internal/domain/coupon"
	"github.com/xenking/marketplace/internal/handler"
	"github.com/xenking/marketplace/internal/storage/postgres"
	"github.com/xenking/marketplace/internal/storage/redis"
	"github.com/xenking/marketplace/pkg/health"
	"github.com/xenking/marketplace/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	deps, err := newDeps(ctx, lg, cfg, m.TracerProvider(), m.MeterProvider())
	if err != nil {
		return err
	}
	defer deps.Close()

	deps.health.Start(ctx, 10*time.Second)
	deps.health.SetReady(true)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           deps.Handler(lg, cfg),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		deps.health.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		deps.health.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

// Deps holds the long-lived resources of the server.
type Deps struct {
	Pool    *pgxpool.Pool
	Redis   *goredis.Client
	Coupons *coupon.Service

	health *health.Health
	tp     trace.TracerProvider
	mp     metric.MeterProvider
}

// newDeps connects to PostgreSQL, applies the schema, optionally connects to
// Redis and builds the coupon service.
func newDeps(ctx context.Context, lg *zap.Logger, cfg *Config, tp trace.TracerProvider, mp metric.MeterProvider) (_ *Deps, rerr error) {
	d := &Deps{health: health.New(lg), tp: tp, mp: mp}
	defer func() {
		if rerr != nil {
			d.Close()
		}
	}()

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, cfg.Pool)
	if err != nil {
		return nil, errors.Wrap(err, "create db pool")
	}
	d.Pool = pool

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return nil, errors.Wrap(err, "run migrations")
	}

	d.health.Register(health.Readiness, "postgres", health.PingCheck("postgres", pool), health.ProbeOptions{Timeout: 5 * time.Second})
	d.health.Register(health.Liveness, "goroutines", health.GoroutineCountCheck(10000), health.ProbeOptions{})

	var cache coupon.SnapshotCache
	if cfg.Redis.Addr != "" {
		client, err := redis.NewClient(ctx, cfg.Redis)
		if err != nil {
			return nil, errors.Wrap(err, "connect to redis")
		}
		d.Redis = client
		cache = redis.NewCouponCache(client, cfg.Redis.TTL)

		d.health.Register(health.Readiness, "redis", func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}, health.ProbeOptions{})
		lg.Info("Coupon cache enabled", zap.String("redis", cfg.Redis.Addr), zap.Duration("ttl", cfg.Redis.TTL))
	}

	d.Coupons = coupon.NewService(coupon.Deps{
		Coupons:  postgres.NewCouponRepository(pool),
		Usage:    postgres.NewUsageRepository(pool),
		Products: postgres.NewProductRepository(pool),
		Carts:    postgres.NewCartRepository(pool),
		Users:    postgres.NewUserRepository(pool),
		Tx:       postgres.NewTransactor(pool, cfg.Tx),
		Cache:    cache,
	},
		coupon.WithTracerProvider(tp),
		coupon.WithMeterProvider(mp),
	)
	return d, nil
}

// Handler returns the full middleware chain around the API router and the
// health endpoints.
func (d *Deps) Handler(lg *zap.Logger, cfg *Config) http.Handler {
	var limit httpmiddleware.Middleware
	if cfg.RateLimit.Max > 0 {
		rl := httpmiddleware.RateLimitConfig{
			Max:    cfg.RateLimit.Max,
			Window: cfg.RateLimit.Window,
		}
		if d.Redis != nil {
			rl.Counter = redis.NewRateCounter(d.Redis)
		}
		limit = httpmiddleware.RateLimit(rl)
	}

	h := handler.New(handler.Config{
		MaxBodyBytes: cfg.HTTP.MaxBodyBytes,
		RedeemLimit:  limit,
	}, d.Coupons)

	router := h.Router()
	router.Get("/livez", d.health.LiveEndpoint)
	router.Get("/readyz", d.health.ReadyEndpoint)

	return httpmiddleware.Wrap(router,
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(lg),
		httpmiddleware.Recovery(),
		func(next http.Handler) http.Handler {
			return otelhttp.NewHandler(next, "marketplace-api",
				otelhttp.WithTracerProvider(d.tp),
				otelhttp.WithMeterProvider(d.mp),
			)
		},
	)
}

// Close releases the connections held by d.
func (d *Deps) Close() {
	if d.Redis != nil {
		_ = d.Redis.Close()
	}
	if d.Pool != nil {
		d.Pool.Close()
	}
}
