// Package seed loads the demo data set of accounts, products, carts and
// coupons.
package seed

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/marketplace/internal/domain/cart"
	"github.com/xenking/marketplace/internal/domain/coupon"
	"github.com/xenking/marketplace/internal/domain/product"
	"github.com/xenking/marketplace/internal/domain/user"
)

// Dataset is a parsed seed file.
type Dataset struct {
	Users    []user.User
	Products []product.Product
	Carts    []cart.Cart
	Coupons  []Coupon
}

// Coupon is a coupon definition whose window starts on the day it is seeded
// and lasts ValidDays days.
type Coupon struct {
	SellerID           string
	Code               string
	DiscountPercentage decimal.Decimal
	ValidDays          int
	MaxRedemptions     *int
	ProductIDs         []string
}

// Input returns the coupon definition anchored at today.
func (c Coupon) Input(today time.Time) coupon.Input {
	start := coupon.Day(today)
	return coupon.Input{
		Code:               c.Code,
		DiscountPercentage: c.DiscountPercentage,
		StartDate:          start,
		EndDate:            start.AddDate(0, 0, c.ValidDays),
		MaxRedemptions:     c.MaxRedemptions,
		ProductIDs:         c.ProductIDs,
	}
}

// Writer persists catalog fixtures. Implemented by postgres.Seeder.
type Writer interface {
	UpsertUser(ctx context.Context, u user.User) error
	UpsertProduct(ctx context.Context, p product.Product) error
	UpsertCart(ctx context.Context, c cart.Cart, prices map[string]decimal.Decimal) error
}

// Coupons is the part of coupon.Service used to register seed coupons.
type Coupons interface {
	IsCodeTaken(ctx context.Context, code string) (bool, error)
	Create(ctx context.Context, in coupon.Input, sellerID string) (*coupon.Snapshot, error)
}

// Stats counts what Load wrote.
type Stats struct {
	Users, Products, Carts int
	CouponsCreated         int
	CouponsSkipped         int
}

// Load writes ds. Catalog rows are upserted; coupons whose code already
// exists are left untouched so seeding can be repeated.
func Load(ctx context.Context, w Writer, coupons Coupons, ds *Dataset, today time.Time) (Stats, error) {
	lg := zctx.From(ctx)
	var st Stats

	for _, u := range ds.Users {
		if err := w.UpsertUser(ctx, u); err != nil {
			return st, errors.Wrap(err, "seed users")
		}
		st.Users++
	}

	prices := make(map[string]decimal.Decimal, len(ds.Products))
	for _, p := range ds.Products {
		if err := w.UpsertProduct(ctx, p); err != nil {
			return st, errors.Wrap(err, "seed products")
		}
		prices[p.ID] = p.Price
		st.Products++
	}

	for _, c := range ds.Carts {
		if err := w.UpsertCart(ctx, c, prices); err != nil {
			return st, errors.Wrap(err, "seed carts")
		}
		st.Carts++
	}

	for _, c := range ds.Coupons {
		taken, err := coupons.IsCodeTaken(ctx, c.Code)
		if err != nil {
			return st, errors.Wrap(err, "seed coupons")
		}
		if taken {
			lg.Info("Coupon already exists, skipping", zap.String("code", c.Code))
			st.CouponsSkipped++
			continue
		}
		snap, err := coupons.Create(ctx, c.Input(today), c.SellerID)
		if err != nil {
			return st, errors.Wrapf(err, "seed coupon %q", c.Code)
		}
		lg.Info("Coupon created", zap.String("code", snap.Code), zap.String("coupon_id", snap.ID))
		st.CouponsCreated++
	}
	return st, nil
}
