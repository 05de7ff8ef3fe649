package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/marketplace/internal/domain/cart"
)

const (
	cartItemColumns = `id, cart_id, product_id, quantity, base_price,
		applied_coupon_id, discounted_price, total_price`

	getActiveCartSQL = `SELECT id, buyer_id, active FROM carts WHERE buyer_id = $1 AND active`

	listCartItemsSQL = `SELECT ` + cartItemColumns + ` FROM cart_items WHERE cart_id = $1 ORDER BY id`

	getCartItemSQL = `SELECT ` + cartItemColumns + ` FROM cart_items WHERE id = $1`

	saveCartItemSQL = `UPDATE cart_items SET applied_coupon_id = $2, discounted_price = $3, total_price = $4
		WHERE id = $1`

	// Totals are recomputed from the live product price, matching
	// cart.Item.ClearDiscount.
	releaseCouponSQL = `UPDATE cart_items ci
		SET applied_coupon_id = NULL, discounted_price = NULL, total_price = ROUND(p.price * ci.quantity, 2)
		FROM products p
		WHERE p.id = ci.product_id AND ci.applied_coupon_id = $1`
)

var _ cart.Repository = (*CartRepository)(nil)

// CartRepository implements cart.Repository backed by PostgreSQL.
type CartRepository struct {
	pool *pgxpool.Pool
}

// NewCartRepository returns a CartRepository that uses the given pool.
func NewCartRepository(pool *pgxpool.Pool) *CartRepository {
	return &CartRepository{pool: pool}
}

// FindActiveByBuyer loads the buyer's active cart with its items.
func (r *CartRepository) FindActiveByBuyer(ctx context.Context, buyerID string) (*cart.Cart, error) {
	q := conn(ctx, r.pool)

	var c cart.Cart
	err := q.QueryRow(ctx, getActiveCartSQL, buyerID).Scan(&c.ID, &c.BuyerID, &c.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, cart.ErrNotFound
		}
		return nil, fmt.Errorf("finding active cart of buyer %q: %w", buyerID, err)
	}

	rows, err := q.Query(ctx, listCartItemsSQL, c.ID)
	if err != nil {
		return nil, fmt.Errorf("listing items of cart %q: %w", c.ID, err)
	}
	c.Items, err = pgx.CollectRows(rows, scanCartItem)
	if err != nil {
		return nil, fmt.Errorf("listing items of cart %q: %w", c.ID, err)
	}
	return &c, nil
}

func (r *CartRepository) FindItem(ctx context.Context, id string) (*cart.Item, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, getCartItemSQL, id)
	if err != nil {
		return nil, fmt.Errorf("finding cart item %q: %w", id, err)
	}

	it, err := pgx.CollectExactlyOneRow(rows, scanCartItem)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, cart.ErrItemNotFound
		}
		return nil, fmt.Errorf("finding cart item %q: %w", id, err)
	}
	return &it, nil
}

// SaveItem persists the coupon-related fields and the total of item.
func (r *CartRepository) SaveItem(ctx context.Context, item *cart.Item) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, saveCartItemSQL,
		item.ID, item.AppliedCouponID, item.DiscountedPrice, item.TotalPrice,
	)
	if err != nil {
		return fmt.Errorf("saving cart item %q: %w", item.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return cart.ErrItemNotFound
	}
	return nil
}

func (r *CartRepository) ReleaseCoupon(ctx context.Context, couponID string) (int64, error) {
	tag, err := conn(ctx, r.pool).Exec(ctx, releaseCouponSQL, couponID)
	if err != nil {
		return 0, fmt.Errorf("releasing coupon %q from cart items: %w", couponID, err)
	}
	return tag.RowsAffected(), nil
}

func scanCartItem(row pgx.CollectableRow) (cart.Item, error) {
	var (
		it  cart.Item
		qty int32
	)
	err := row.Scan(
		&it.ID, &it.CartID, &it.ProductID, &qty, &it.BasePrice,
		&it.AppliedCouponID, &it.DiscountedPrice, &it.TotalPrice,
	)
	it.Quantity = int(qty)
	return it, err
}
