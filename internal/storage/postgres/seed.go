package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/marketplace/internal/domain/cart"
	"github.com/xenking/marketplace/internal/domain/product"
	"github.com/xenking/marketplace/internal/domain/user"
)

const (
	upsertUserSQL = `INSERT INTO users (id, username, email, role) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET username = EXCLUDED.username, email = EXCLUDED.email, role = EXCLUDED.role`

	upsertProductSQL = `INSERT INTO products (id, seller_id, name, price) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET seller_id = EXCLUDED.seller_id, name = EXCLUDED.name, price = EXCLUDED.price`

	upsertCartSQL = `INSERT INTO carts (id, buyer_id, active) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET buyer_id = EXCLUDED.buyer_id, active = EXCLUDED.active`

	upsertCartItemSQL = `INSERT INTO cart_items (id, cart_id, product_id, quantity, base_price, total_price)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET quantity = EXCLUDED.quantity, base_price = EXCLUDED.base_price,
			total_price = EXCLUDED.total_price, applied_coupon_id = NULL, discounted_price = NULL`
)

// Seeder writes catalog fixtures: accounts, products and carts. Every write
// is an upsert so seeding can be repeated.
type Seeder struct {
	pool *pgxpool.Pool
}

// NewSeeder returns a Seeder that uses the given pool.
func NewSeeder(pool *pgxpool.Pool) *Seeder {
	return &Seeder{pool: pool}
}

func (s *Seeder) UpsertUser(ctx context.Context, u user.User) error {
	if _, err := conn(ctx, s.pool).Exec(ctx, upsertUserSQL, u.ID, u.Username, u.Email, string(u.Role)); err != nil {
		return fmt.Errorf("upserting user %q: %w", u.ID, err)
	}
	return nil
}

func (s *Seeder) UpsertProduct(ctx context.Context, p product.Product) error {
	if _, err := conn(ctx, s.pool).Exec(ctx, upsertProductSQL, p.ID, p.SellerID, p.Name, p.Price); err != nil {
		return fmt.Errorf("upserting product %q: %w", p.ID, err)
	}
	return nil
}

// UpsertCart stores the cart and its items. Item prices are taken from
// prices, keyed by product ID, and any applied coupon is dropped.
func (s *Seeder) UpsertCart(ctx context.Context, c cart.Cart, prices map[string]decimal.Decimal) error {
	q := conn(ctx, s.pool)
	if _, err := q.Exec(ctx, upsertCartSQL, c.ID, c.BuyerID, c.Active); err != nil {
		return fmt.Errorf("upserting cart %q: %w", c.ID, err)
	}

	for _, it := range c.Items {
		price, ok := prices[it.ProductID]
		if !ok {
			return fmt.Errorf("cart item %q: unknown product %q", it.ID, it.ProductID)
		}
		it.ClearDiscount(price)
		if _, err := q.Exec(ctx, upsertCartItemSQL,
			it.ID, c.ID, it.ProductID, it.Quantity, price, it.TotalPrice,
		); err != nil {
			return fmt.Errorf("upserting cart item %q: %w", it.ID, err)
		}
	}
	return nil
}
