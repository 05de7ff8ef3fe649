package product

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Product represents a catalog item listed by a seller.
type Product struct {
	ID       string
	SellerID string
	Name     string
	Price    decimal.Decimal
	// CouponID references the coupon currently applied to the product.
	// A product carries at most one coupon at a time.
	CouponID *string
}

// HasCoupon reports whether the given coupon is the one applied to p.
func (p Product) HasCoupon(couponID string) bool {
	return p.CouponID != nil && *p.CouponID == couponID
}

// Repository defines catalog reads and the coupon reference mutations.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Product, error)
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
	// SetCoupon points the product at couponID, or clears the reference when
	// couponID is nil.
	SetCoupon(ctx context.Context, productID string, couponID *string) error
	// DetachCoupon clears the coupon reference on every product pointing at
	// couponID and returns the affected product IDs.
	DetachCoupon(ctx context.Context, couponID string) ([]string, error)
}
