package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/marketplace/internal/domain/coupon"
)

const (
	countCouponUsagesSQL = `SELECT count(*) FROM coupon_usages WHERE coupon_id = $1 AND used`

	couponUsageExistsSQL = `SELECT EXISTS (SELECT 1 FROM coupon_usages
		WHERE coupon_id = $1 AND buyer_id = $2 AND product_id = $3 AND used)`

	insertCouponUsageSQL = `INSERT INTO coupon_usages (id, coupon_id, buyer_id, product_id, used, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
)

var _ coupon.UsageLedger = (*UsageRepository)(nil)

// UsageRepository is the append-only coupon usage ledger.
type UsageRepository struct {
	pool *pgxpool.Pool
}

// NewUsageRepository returns a UsageRepository that uses the given pool.
func NewUsageRepository(pool *pgxpool.Pool) *UsageRepository {
	return &UsageRepository{pool: pool}
}

func (r *UsageRepository) CountByCoupon(ctx context.Context, couponID string) (int, error) {
	var n int64
	if err := conn(ctx, r.pool).QueryRow(ctx, countCouponUsagesSQL, couponID).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting usages of coupon %q: %w", couponID, err)
	}
	return int(n), nil
}

func (r *UsageRepository) Exists(ctx context.Context, couponID, buyerID, productID string) (bool, error) {
	var exists bool
	err := conn(ctx, r.pool).QueryRow(ctx, couponUsageExistsSQL, couponID, buyerID, productID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking usage of coupon %q: %w", couponID, err)
	}
	return exists, nil
}

// Append records a redemption. A second event for the same coupon, buyer and
// product yields coupon.ErrAlreadyUsed.
func (r *UsageRepository) Append(ctx context.Context, e *coupon.UsageEvent) error {
	_, err := conn(ctx, r.pool).Exec(ctx, insertCouponUsageSQL,
		e.ID, e.CouponID, e.BuyerID, e.ProductID, e.Used, e.CreatedAt,
	)
	if err != nil {
		if code, _, ok := pgCode(err); ok && code == codeUniqueViolation {
			return coupon.ErrAlreadyUsed
		}
		return fmt.Errorf("recording usage of coupon %q: %w", e.CouponID, err)
	}
	return nil
}
