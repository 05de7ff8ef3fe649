package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/marketplace/internal/domain/coupon"
)

const couponColumns = `c.id, c.code, c.discount_percentage, c.start_date, c.end_date,
	c.max_redemptions, c.redeem_count, c.seller_id, c.created_at, c.updated_at, c.version,
	COALESCE(array_agg(cp.product_id ORDER BY cp.product_id)
		FILTER (WHERE cp.product_id IS NOT NULL), '{}')`

const (
	getCouponByIDSQL = `SELECT ` + couponColumns + `
		FROM coupons c LEFT JOIN coupon_products cp ON cp.coupon_id = c.id
		WHERE c.id = $1 GROUP BY c.id`

	getCouponByCodeSQL = `SELECT ` + couponColumns + `
		FROM coupons c LEFT JOIN coupon_products cp ON cp.coupon_id = c.id
		WHERE c.code = $1 GROUP BY c.id`

	listCouponsBySellerSQL = `SELECT ` + couponColumns + `
		FROM coupons c LEFT JOIN coupon_products cp ON cp.coupon_id = c.id
		WHERE c.seller_id = $1 GROUP BY c.id ORDER BY c.code`

	couponCodeExistsSQL = `SELECT EXISTS (SELECT 1 FROM coupons WHERE code = $1)`

	insertCouponSQL = `INSERT INTO coupons (id, code, discount_percentage, start_date, end_date,
		max_redemptions, redeem_count, seller_id, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	updateCouponSQL = `UPDATE coupons SET code = $2, discount_percentage = $3, start_date = $4,
		end_date = $5, max_redemptions = $6, updated_at = $7, version = version + 1
		WHERE id = $1 RETURNING version`

	deleteCouponSQL = `DELETE FROM coupons WHERE id = $1`

	clearCouponProductsSQL = `DELETE FROM coupon_products WHERE coupon_id = $1`

	insertCouponProductsSQL = `INSERT INTO coupon_products (coupon_id, product_id)
		SELECT $1, unnest($2::text[])`

	addRedeemCountSQL = `UPDATE coupons SET redeem_count = GREATEST(redeem_count + $2, 0),
		version = version + 1
		WHERE id = $1 RETURNING redeem_count, version`
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL. The
// eligible product set lives in coupon_products.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// FindByID returns coupon.ErrNotFound when no coupon has the given ID.
func (r *CouponRepository) FindByID(ctx context.Context, id string) (*coupon.Coupon, error) {
	return r.findOne(ctx, getCouponByIDSQL, id)
}

// FindByCode matches the code exactly; codes are case sensitive.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	return r.findOne(ctx, getCouponByCodeSQL, code)
}

func (r *CouponRepository) findOne(ctx context.Context, sql, arg string) (*coupon.Coupon, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, sql, arg)
	if err != nil {
		return nil, fmt.Errorf("finding coupon %q: %w", arg, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, fmt.Errorf("finding coupon %q: %w", arg, err)
	}
	return &c, nil
}

func (r *CouponRepository) ExistsByCode(ctx context.Context, code string) (bool, error) {
	var exists bool
	if err := conn(ctx, r.pool).QueryRow(ctx, couponCodeExistsSQL, code).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking coupon code %q: %w", code, err)
	}
	return exists, nil
}

// ListBySeller returns the seller's coupons ordered by code.
func (r *CouponRepository) ListBySeller(ctx context.Context, sellerID string) ([]coupon.Coupon, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, listCouponsBySellerSQL, sellerID)
	if err != nil {
		return nil, fmt.Errorf("listing coupons of seller %q: %w", sellerID, err)
	}

	coupons, err := pgx.CollectRows(rows, scanCoupon)
	if err != nil {
		return nil, fmt.Errorf("listing coupons of seller %q: %w", sellerID, err)
	}
	return coupons, nil
}

// Create inserts the coupon and its product set. A duplicate code yields
// coupon.ErrCodeConflict.
func (r *CouponRepository) Create(ctx context.Context, c *coupon.Coupon) error {
	q := conn(ctx, r.pool)
	_, err := q.Exec(ctx, insertCouponSQL,
		c.ID, c.Code, c.DiscountPercentage, c.StartDate, c.EndDate,
		maxRedemptionsArg(c.MaxRedemptions), c.RedeemCount, c.SellerID, c.CreatedAt, c.UpdatedAt,
		max(c.Version, 1),
	)
	if err != nil {
		if isCodeConflict(err) {
			return coupon.ErrCodeConflict
		}
		return fmt.Errorf("creating coupon %q: %w", c.Code, err)
	}
	return r.replaceProducts(ctx, q, c.ID, c.ProductIDs)
}

// Update overwrites the editable fields and the product set. The redeem
// counter and the owner are left untouched; the version is bumped.
func (r *CouponRepository) Update(ctx context.Context, c *coupon.Coupon) error {
	q := conn(ctx, r.pool)
	err := q.QueryRow(ctx, updateCouponSQL,
		c.ID, c.Code, c.DiscountPercentage, c.StartDate, c.EndDate,
		maxRedemptionsArg(c.MaxRedemptions), c.UpdatedAt,
	).Scan(&c.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return coupon.ErrNotFound
		}
		if isCodeConflict(err) {
			return coupon.ErrCodeConflict
		}
		return fmt.Errorf("updating coupon %q: %w", c.ID, err)
	}

	if _, err := q.Exec(ctx, clearCouponProductsSQL, c.ID); err != nil {
		return fmt.Errorf("clearing products of coupon %q: %w", c.ID, err)
	}
	return r.replaceProducts(ctx, q, c.ID, c.ProductIDs)
}

func (r *CouponRepository) replaceProducts(ctx context.Context, q querier, couponID string, productIDs []string) error {
	if len(productIDs) == 0 {
		return nil
	}
	if _, err := q.Exec(ctx, insertCouponProductsSQL, couponID, productIDs); err != nil {
		return fmt.Errorf("storing products of coupon %q: %w", couponID, err)
	}
	return nil
}

// Delete removes the coupon. Its product set and usage events go with it.
func (r *CouponRepository) Delete(ctx context.Context, id string) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, deleteCouponSQL, id)
	if err != nil {
		return fmt.Errorf("deleting coupon %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return coupon.ErrNotFound
	}
	return nil
}

// AddRedeemCount applies delta in a single statement so concurrent callers
// never lose an update. The counter is clamped at zero.
func (r *CouponRepository) AddRedeemCount(ctx context.Context, id string, delta int) (int, int64, error) {
	var (
		count   int32
		version int64
	)
	err := conn(ctx, r.pool).QueryRow(ctx, addRedeemCountSQL, id, delta).Scan(&count, &version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, 0, coupon.ErrNotFound
		}
		return 0, 0, fmt.Errorf("adjusting redeem count of coupon %q: %w", id, err)
	}
	return int(count), version, nil
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var (
		c              coupon.Coupon
		pct            decimal.Decimal
		start, end     time.Time
		maxRedemptions *int32
		redeemCount    int32
	)
	err := row.Scan(
		&c.ID, &c.Code, &pct, &start, &end,
		&maxRedemptions, &redeemCount, &c.SellerID, &c.CreatedAt, &c.UpdatedAt, &c.Version,
		&c.ProductIDs,
	)
	c.DiscountPercentage = pct
	c.StartDate = coupon.Day(start)
	c.EndDate = coupon.Day(end)
	if maxRedemptions != nil {
		limit := int(*maxRedemptions)
		c.MaxRedemptions = &limit
	}
	c.RedeemCount = int(redeemCount)
	return c, err
}

func maxRedemptionsArg(v *int) *int32 {
	if v == nil {
		return nil
	}
	n := int32(*v)
	return &n
}

func isCodeConflict(err error) bool {
	code, constraint, ok := pgCode(err)
	return ok && code == codeUniqueViolation && constraint == "coupons_code_key"
}
