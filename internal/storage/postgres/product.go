package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/marketplace/internal/domain/product"
)

const (
	getProductByIDSQL = `SELECT id, seller_id, name, price, coupon_id FROM products WHERE id = $1`

	getProductsByIDsSQL = `SELECT id, seller_id, name, price, coupon_id FROM products
		WHERE id = ANY($1) ORDER BY id`

	setProductCouponSQL = `UPDATE products SET coupon_id = $2 WHERE id = $1`

	detachCouponSQL = `UPDATE products SET coupon_id = NULL WHERE coupon_id = $1 RETURNING id`
)

var _ product.Repository = (*ProductRepository)(nil)

// ProductRepository implements product.Repository backed by PostgreSQL.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// GetByID returns product.ErrNotFound when no product has the given ID.
func (r *ProductRepository) GetByID(ctx context.Context, id string) (*product.Product, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, getProductByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, product.ErrNotFound
		}
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}
	return &p, nil
}

// GetByIDs returns the products matching ids. Unknown IDs are skipped.
func (r *ProductRepository) GetByIDs(ctx context.Context, ids []string) ([]product.Product, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, getProductsByIDsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("getting products by IDs: %w", err)
	}

	products, err := pgx.CollectRows(rows, scanProduct)
	if err != nil {
		return nil, fmt.Errorf("getting products by IDs: %w", err)
	}
	return products, nil
}

func (r *ProductRepository) SetCoupon(ctx context.Context, productID string, couponID *string) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, setProductCouponSQL, productID, couponID)
	if err != nil {
		return fmt.Errorf("setting coupon of product %q: %w", productID, err)
	}
	if tag.RowsAffected() == 0 {
		return product.ErrNotFound
	}
	return nil
}

func (r *ProductRepository) DetachCoupon(ctx context.Context, couponID string) ([]string, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, detachCouponSQL, couponID)
	if err != nil {
		return nil, fmt.Errorf("detaching coupon %q from products: %w", couponID, err)
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("detaching coupon %q from products: %w", couponID, err)
	}
	return ids, nil
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var p product.Product
	err := row.Scan(&p.ID, &p.SellerID, &p.Name, &p.Price, &p.CouponID)
	return p, err
}
