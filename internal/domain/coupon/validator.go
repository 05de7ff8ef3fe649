package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/marketplace/internal/domain/product"
)

// Validator decides whether a coupon may be applied. It reads the usage
// ledger but never mutates anything.
type Validator struct {
	coupons Repository
	usage   UsageLedger
	now     func() time.Time
}

// NewValidator creates a Validator backed by the given coupon store and
// usage ledger.
func NewValidator(coupons Repository, usage UsageLedger) *Validator {
	return &Validator{coupons: coupons, usage: usage, now: time.Now}
}

// Validate runs the application checks in order and returns the first
// failure: ErrExpired, ErrLimitReached, ErrAlreadyUsed or ErrAlreadyApplied.
func (v *Validator) Validate(ctx context.Context, c *Coupon, p *product.Product, buyerID string) error {
	if !c.ActiveOn(v.now()) {
		return ErrExpired
	}

	if err := v.checkCapacity(ctx, c); err != nil {
		return err
	}

	used, err := v.usage.Exists(ctx, c.ID, buyerID, p.ID)
	if err != nil {
		return errors.Wrap(err, "check coupon usage")
	}
	if used {
		return ErrAlreadyUsed
	}

	if p.HasCoupon(c.ID) {
		return ErrAlreadyApplied
	}

	return nil
}

// IsValid reports whether the coupon is currently active, below its
// redemption cap and eligible for productID. Lookup failures of any kind
// yield false.
func (v *Validator) IsValid(ctx context.Context, couponID, productID string) bool {
	c, err := v.coupons.FindByID(ctx, couponID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			zctx.From(ctx).Warn("Coupon validity lookup failed",
				zap.String("coupon_id", couponID),
				zap.Error(err),
			)
		}
		return false
	}

	if !c.ActiveOn(v.now()) {
		return false
	}
	if err := v.checkCapacity(ctx, c); err != nil {
		return false
	}
	return c.Eligible(productID)
}

func (v *Validator) checkCapacity(ctx context.Context, c *Coupon) error {
	if c.MaxRedemptions == nil {
		return nil
	}
	count, err := v.usage.CountByCoupon(ctx, c.ID)
	if err != nil {
		return errors.Wrap(err, "count coupon usage")
	}
	if count >= *c.MaxRedemptions {
		return ErrLimitReached
	}
	return nil
}
