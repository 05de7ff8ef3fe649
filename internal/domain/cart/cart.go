package cart

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when a buyer has no active cart.
	ErrNotFound = errors.New("active cart not found")
	// ErrItemNotFound is returned when a cart item does not exist.
	ErrItemNotFound = errors.New("cart item not found")
)

// Cart is a buyer's shopping cart. A buyer has at most one active cart.
type Cart struct {
	ID      string
	BuyerID string
	Active  bool
	Items   []Item
}

// ItemFor returns the line item referencing productID, if any.
func (c *Cart) ItemFor(productID string) (*Item, bool) {
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			return &c.Items[i], true
		}
	}
	return nil, false
}

// Item is a cart line. TotalPrice is a cached value derived from the unit
// price (discounted when a coupon is applied) and the quantity.
type Item struct {
	ID              string
	CartID          string
	ProductID       string
	Quantity        int
	BasePrice       decimal.Decimal
	AppliedCouponID *string
	DiscountedPrice decimal.NullDecimal
	TotalPrice      decimal.Decimal
}

// HasCoupon reports whether a coupon is currently applied to the line.
func (it *Item) HasCoupon() bool {
	return it.AppliedCouponID != nil
}

// ApplyDiscount records couponID on the line and recomputes the total from
// the discounted unit price.
func (it *Item) ApplyDiscount(couponID string, unitPrice decimal.Decimal) {
	id := couponID
	it.AppliedCouponID = &id
	it.DiscountedPrice = decimal.NewNullDecimal(unitPrice)
	it.TotalPrice = lineTotal(unitPrice, it.Quantity)
}

// ClearDiscount drops the applied coupon and resets the total to
// unitPrice * quantity.
func (it *Item) ClearDiscount(unitPrice decimal.Decimal) {
	it.AppliedCouponID = nil
	it.DiscountedPrice = decimal.NullDecimal{}
	it.TotalPrice = lineTotal(unitPrice, it.Quantity)
}

func lineTotal(unit decimal.Decimal, qty int) decimal.Decimal {
	return unit.Mul(decimal.NewFromInt(int64(qty))).Round(2)
}

// Repository provides access to carts and their line items.
type Repository interface {
	FindActiveByBuyer(ctx context.Context, buyerID string) (*Cart, error)
	FindItem(ctx context.Context, id string) (*Item, error)
	SaveItem(ctx context.Context, item *Item) error
	// ReleaseCoupon clears couponID from every cart line carrying it and
	// resets those totals to product price * quantity. It returns the number
	// of lines updated.
	ReleaseCoupon(ctx context.Context, couponID string) (int64, error)
}
