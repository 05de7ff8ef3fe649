package seed

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/marketplace/db"
	"github.com/xenking/marketplace/internal/domain/cart"
	"github.com/xenking/marketplace/internal/domain/coupon"
	"github.com/xenking/marketplace/internal/domain/product"
	"github.com/xenking/marketplace/internal/domain/user"
)

func TestParse_Embedded(t *testing.T) {
	ds, err := Parse(db.Seed)
	require.NoError(t, err)

	assert.Len(t, ds.Users, 4)
	assert.Len(t, ds.Products, 5)
	require.Len(t, ds.Carts, 2)
	assert.Len(t, ds.Coupons, 3)

	c := ds.Carts[0]
	assert.Equal(t, "cart-1", c.ID)
	assert.Equal(t, "buyer-1", c.BuyerID)
	assert.True(t, c.Active)
	require.Len(t, c.Items, 3)
	assert.Equal(t, "cart-1", c.Items[1].CartID)
	assert.Equal(t, 3, c.Items[1].Quantity)

	assert.True(t, decimal.RequireFromString("39.90").Equal(ds.Products[1].Price))

	assert.Nil(t, ds.Coupons[0].MaxRedemptions)
	require.NotNil(t, ds.Coupons[1].MaxRedemptions)
	assert.Equal(t, 100, *ds.Coupons[1].MaxRedemptions)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "not json", data: `users:`},
		{name: "unknown role", data: `{"users":[{"id":"u1","role":"admin"}]}`},
		{name: "bad price", data: `{"products":[{"id":"p1","price":"abc"}]}`},
		{name: "zero quantity", data: `{"carts":[{"id":"c1","items":[{"id":"i1","productId":"p1","quantity":0}]}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			require.Error(t, err)
		})
	}
}

func TestCoupon_Input(t *testing.T) {
	c := Coupon{Code: "X", DiscountPercentage: decimal.NewFromInt(5), ValidDays: 7, ProductIDs: []string{"p1"}}

	in := c.Input(time.Date(2025, 6, 15, 18, 30, 0, 0, time.UTC))

	assert.Equal(t, time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC), in.StartDate)
	assert.Equal(t, time.Date(2025, 6, 22, 0, 0, 0, 0, time.UTC), in.EndDate)
	assert.NoError(t, in.Validate())
}

type fakeWriter struct {
	users    []string
	products []string
	carts    []string
	prices   map[string]decimal.Decimal
	err      error
}

func (f *fakeWriter) UpsertUser(_ context.Context, u user.User) error {
	f.users = append(f.users, u.ID)
	return f.err
}

func (f *fakeWriter) UpsertProduct(_ context.Context, p product.Product) error {
	f.products = append(f.products, p.ID)
	return nil
}

func (f *fakeWriter) UpsertCart(_ context.Context, c cart.Cart, prices map[string]decimal.Decimal) error {
	f.carts = append(f.carts, c.ID)
	f.prices = prices
	return nil
}

type fakeCoupons struct {
	taken   map[string]bool
	created []string
}

func (f *fakeCoupons) IsCodeTaken(_ context.Context, code string) (bool, error) {
	return f.taken[code], nil
}

func (f *fakeCoupons) Create(_ context.Context, in coupon.Input, sellerID string) (*coupon.Snapshot, error) {
	f.created = append(f.created, sellerID+"/"+in.Code)
	return &coupon.Snapshot{ID: "id-" + in.Code, Code: in.Code}, nil
}

func TestLoad(t *testing.T) {
	ds, err := Parse(db.Seed)
	require.NoError(t, err)

	w := &fakeWriter{}
	coupons := &fakeCoupons{taken: map[string]bool{"BEANS25": true}}

	st, err := Load(context.Background(), w, coupons, ds, time.Now())
	require.NoError(t, err)

	assert.Equal(t, Stats{Users: 4, Products: 5, Carts: 2, CouponsCreated: 2, CouponsSkipped: 1}, st)
	assert.Equal(t, []string{"cart-1", "cart-2"}, w.carts)
	assert.Len(t, w.prices, 5)
	assert.Equal(t, []string{"seller-1/WELCOME10", "seller-2/LAMP15"}, coupons.created)
}

func TestLoad_WriterError(t *testing.T) {
	w := &fakeWriter{err: errors.New("db down")}
	ds := &Dataset{Users: []user.User{{ID: "u1", Role: user.RoleBuyer}}}

	_, err := Load(context.Background(), w, &fakeCoupons{}, ds, time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "seed users")
}
