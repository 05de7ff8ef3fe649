package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/avast/retry-go"
	"github.com/go-faster/sdk/zctx"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xenking/marketplace/internal/domain/coupon"
)

type txKey struct{}

// TxConfig controls how serialization conflicts are retried.
type TxConfig struct {
	MaxAttempts uint          `default:"5" usage:"attempts per transaction on serialization failure or deadlock"`
	RetryDelay  time.Duration `default:"20ms" usage:"base backoff between transaction attempts"`
}

var _ coupon.Transactor = (*Transactor)(nil)

// Transactor runs units of work in REPEATABLE READ transactions and replays
// them when PostgreSQL reports a serialization failure or a deadlock.
type Transactor struct {
	pool *pgxpool.Pool
	cfg  TxConfig
}

// NewTransactor returns a Transactor over pool.
func NewTransactor(pool *pgxpool.Pool, cfg TxConfig) *Transactor {
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 1
	}
	return &Transactor{pool: pool, cfg: cfg}
}

// WithinTx runs fn in a transaction. A call nested in another WithinTx joins
// the outer transaction.
func (t *Transactor) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return fn(ctx)
	}

	return retry.Do(
		func() error { return t.run(ctx, fn) },
		retry.Context(ctx),
		retry.RetryIf(isRetryable),
		retry.Attempts(t.cfg.MaxAttempts),
		retry.Delay(t.cfg.RetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			zctx.From(ctx).Debug("Retrying transaction", zap.Uint("attempt", n+1), zap.Error(err))
		}),
	)
}

func (t *Transactor) run(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := t.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	// Rollback after a successful Commit is a no-op.
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func isRetryable(err error) bool {
	code, _, ok := pgCode(err)
	return ok && (code == codeSerializationFailure || code == codeDeadlockDetected)
}
