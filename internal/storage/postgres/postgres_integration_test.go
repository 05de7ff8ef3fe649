//go:build integration

package postgres_test

import (
	"context"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/marketplace/internal/domain/cart"
	"github.com/xenking/marketplace/internal/domain/coupon"
	"github.com/xenking/marketplace/internal/domain/product"
	"github.com/xenking/marketplace/internal/domain/user"
	"github.com/xenking/marketplace/internal/storage/postgres"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	os.Exit(testMain(m))
}

func testMain(m *testing.M) int {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	pg, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:17-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "market",
				"POSTGRES_PASSWORD": "market",
				"POSTGRES_DB":       "market",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("start postgres: %v", err)
	}
	defer func() {
		if err := pg.Terminate(context.Background()); err != nil {
			log.Printf("terminate postgres: %v", err)
		}
	}()

	host, err := pg.Host(ctx)
	if err != nil {
		log.Fatalf("host: %v", err)
	}
	port, err := pg.MappedPort(ctx, "5432/tcp")
	if err != nil {
		log.Fatalf("mapped port: %v", err)
	}

	url := fmt.Sprintf("postgres://market:market@%s:%s/market?sslmode=disable", host, port.Port())
	testPool, err = postgres.NewPool(ctx, url, postgres.PoolConfig{MaxConns: 20})
	if err != nil {
		log.Fatalf("pool: %v", err)
	}
	defer testPool.Close()

	if err := postgres.RunMigrations(ctx, testPool); err != nil {
		log.Fatalf("migrations: %v", err)
	}
	// Running the schema twice must be harmless.
	if err := postgres.RunMigrations(ctx, testPool); err != nil {
		log.Fatalf("migrations rerun: %v", err)
	}

	return m.Run()
}

type fixture struct {
	svc    *coupon.Service
	seeder *postgres.Seeder
	prices map[string]decimal.Decimal
	prefix string
}

// newFixture seeds a seller and returns a Service over the shared database.
// IDs are prefixed with the test name so tests do not collide.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	f := &fixture{
		seeder: postgres.NewSeeder(testPool),
		prices: map[string]decimal.Decimal{},
		prefix: fmt.Sprintf("%s-%d-", t.Name(), time.Now().UnixNano()),
	}
	require.NoError(t, f.seeder.UpsertUser(ctx, user.User{
		ID: f.id("seller"), Username: f.id("seller"), Role: user.RoleSeller,
	}))

	f.svc = coupon.NewService(coupon.Deps{
		Coupons:  postgres.NewCouponRepository(testPool),
		Usage:    postgres.NewUsageRepository(testPool),
		Products: postgres.NewProductRepository(testPool),
		Carts:    postgres.NewCartRepository(testPool),
		Users:    postgres.NewUserRepository(testPool),
		Tx:       postgres.NewTransactor(testPool, postgres.TxConfig{MaxAttempts: 30, RetryDelay: 5 * time.Millisecond}),
	})
	return f
}

func (f *fixture) id(name string) string { return f.prefix + name }

func (f *fixture) product(t *testing.T, name, price string) string {
	t.Helper()
	p := product.Product{
		ID:       f.id(name),
		SellerID: f.id("seller"),
		Name:     name,
		Price:    decimal.RequireFromString(price),
	}
	require.NoError(t, f.seeder.UpsertProduct(context.Background(), p))
	f.prices[p.ID] = p.Price
	return p.ID
}

// buyerWithCart seeds a buyer whose active cart holds one line per product.
func (f *fixture) buyerWithCart(t *testing.T, name string, qty int, productIDs ...string) string {
	t.Helper()
	ctx := context.Background()

	buyerID := f.id(name)
	require.NoError(t, f.seeder.UpsertUser(ctx, user.User{ID: buyerID, Username: buyerID, Role: user.RoleBuyer}))

	c := cart.Cart{ID: buyerID + "-cart", BuyerID: buyerID, Active: true}
	for i, pid := range productIDs {
		c.Items = append(c.Items, cart.Item{
			ID:        fmt.Sprintf("%s-item-%d", buyerID, i),
			ProductID: pid,
			Quantity:  qty,
		})
	}
	require.NoError(t, f.seeder.UpsertCart(ctx, c, f.prices))
	return buyerID
}

func (f *fixture) create(t *testing.T, code string, maxRedemptions *int, productIDs ...string) *coupon.Snapshot {
	t.Helper()
	now := time.Now()
	snap, err := f.svc.Create(context.Background(), coupon.Input{
		Code:               f.id(code),
		DiscountPercentage: decimal.NewFromInt(10),
		StartDate:          now.AddDate(0, 0, -1),
		EndDate:            now.AddDate(0, 0, 7),
		MaxRedemptions:     maxRedemptions,
		ProductIDs:         productIDs,
	}, f.id("seller"))
	require.NoError(t, err)
	return snap
}

func itemTotal(t *testing.T, id string) (decimal.Decimal, *string) {
	t.Helper()
	it, err := postgres.NewCartRepository(testPool).FindItem(context.Background(), id)
	require.NoError(t, err)
	return it.TotalPrice, it.AppliedCouponID
}

func TestCouponRepository_RoundTrip(t *testing.T) {
	f := newFixture(t)
	p1 := f.product(t, "p1", "10.00")
	p2 := f.product(t, "p2", "20.00")
	limit := 5

	created := f.create(t, "ROUND", &limit, p2, p1)

	repo := postgres.NewCouponRepository(testPool)
	got, err := repo.FindByCode(context.Background(), created.Code)
	require.NoError(t, err)

	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, []string{p1, p2}, got.ProductIDs)
	require.NotNil(t, got.MaxRedemptions)
	assert.Equal(t, 5, *got.MaxRedemptions)
	assert.Equal(t, coupon.Day(time.Now().AddDate(0, 0, -1)), got.StartDate)

	_, err = repo.FindByCode(context.Background(), "missing")
	require.ErrorIs(t, err, coupon.ErrNotFound)

	err = repo.Create(context.Background(), &coupon.Coupon{
		ID:                 f.id("dup"),
		Code:               created.Code,
		DiscountPercentage: decimal.NewFromInt(5),
		StartDate:          got.StartDate,
		EndDate:            got.EndDate,
		SellerID:           f.id("seller"),
		CreatedAt:          time.Now(),
		UpdatedAt:          time.Now(),
	})
	require.ErrorIs(t, err, coupon.ErrCodeConflict)
}

func TestApplyAndRemove(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "lamp", "50.00")
	buyer := f.buyerWithCart(t, "buyer", 2, p)
	c := f.create(t, "SAVE10", nil, p)
	ctx := context.Background()

	snap, err := f.svc.ApplyToProduct(ctx, c.ID, p, buyer)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.RedeemCount)

	itemID := buyer + "-item-0"
	total, applied := itemTotal(t, itemID)
	assert.True(t, decimal.RequireFromString("90.00").Equal(total), "got %s", total)
	require.NotNil(t, applied)
	assert.Equal(t, c.ID, *applied)

	_, err = f.svc.ApplyToProduct(ctx, c.ID, p, buyer)
	require.ErrorIs(t, err, coupon.ErrAlreadyUsed)

	require.NoError(t, f.svc.RemoveFromCartItem(ctx, itemID))
	total, applied = itemTotal(t, itemID)
	assert.True(t, decimal.RequireFromString("100.00").Equal(total), "got %s", total)
	assert.Nil(t, applied)

	got, err := f.svc.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.RedeemCount)
}

func TestApply_ConcurrentCap(t *testing.T) {
	f := newFixture(t)
	const buyers = 8
	limit := 3

	var (
		productIDs []string
		buyerIDs   []string
	)
	for i := range buyers {
		pid := f.product(t, fmt.Sprintf("p%d", i), "10.00")
		productIDs = append(productIDs, pid)
		buyerIDs = append(buyerIDs, f.buyerWithCart(t, fmt.Sprintf("b%d", i), 1, pid))
	}
	c := f.create(t, "RUSH", &limit, productIDs...)

	results := make([]error, buyers)
	var g errgroup.Group
	for i := range buyers {
		g.Go(func() error {
			_, results[i] = f.svc.ApplyToProduct(context.Background(), c.ID, productIDs[i], buyerIDs[i])
			return nil
		})
	}
	require.NoError(t, g.Wait())

	var ok int
	for _, err := range results {
		if err == nil {
			ok++
			continue
		}
		assert.True(t, errors.Is(err, coupon.ErrLimitReached), "unexpected error: %v", err)
	}
	assert.Equal(t, limit, ok)

	got, err := f.svc.Get(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, limit, got.RedeemCount)
}

func TestDelete_ReleasesReferences(t *testing.T) {
	f := newFixture(t)
	p1 := f.product(t, "p1", "19.99")
	p2 := f.product(t, "p2", "5.00")
	buyer := f.buyerWithCart(t, "buyer", 3, p1, p2)
	c := f.create(t, "GONE", nil, p1, p2)
	ctx := context.Background()

	_, err := f.svc.ApplyToProduct(ctx, c.ID, p1, buyer)
	require.NoError(t, err)
	_, err = f.svc.ApplyToProduct(ctx, c.ID, p2, buyer)
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteByCode(ctx, c.Code))

	products, err := postgres.NewProductRepository(testPool).GetByIDs(ctx, []string{p1, p2})
	require.NoError(t, err)
	for _, p := range products {
		assert.Nil(t, p.CouponID, "product %s still references the coupon", p.ID)
	}

	total, applied := itemTotal(t, buyer+"-item-0")
	assert.Nil(t, applied)
	assert.True(t, decimal.RequireFromString("59.97").Equal(total), "got %s", total)

	var nf *coupon.NotFoundError
	_, err = f.svc.Get(ctx, c.ID)
	require.ErrorAs(t, err, &nf)

	n, err := postgres.NewUsageRepository(testPool).CountByCoupon(ctx, c.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestAddRedeemCount_ClampsAtZero(t *testing.T) {
	f := newFixture(t)
	c := f.create(t, "ZERO", nil)
	repo := postgres.NewCouponRepository(testPool)

	n, version, err := repo.AddRedeemCount(context.Background(), c.ID, -1)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.EqualValues(t, 2, version, "a clamped decrement still bumps the version")

	_, _, err = repo.AddRedeemCount(context.Background(), "missing", 1)
	require.ErrorIs(t, err, coupon.ErrNotFound)
}

func TestCouponRepository_UpdateBumpsVersion(t *testing.T) {
	f := newFixture(t)
	c := f.create(t, "VERSIONED", nil)
	repo := postgres.NewCouponRepository(testPool)
	ctx := context.Background()

	stored, err := repo.FindByID(ctx, c.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stored.Version)

	stored.Code = f.id("VERSIONED2")
	require.NoError(t, repo.Update(ctx, stored))
	assert.EqualValues(t, 2, stored.Version)

	reloaded, err := repo.FindByID(ctx, c.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, reloaded.Version)

	stored.ID = "missing"
	require.ErrorIs(t, repo.Update(ctx, stored), coupon.ErrNotFound)
}

func TestUserRepository_RoleMismatch(t *testing.T) {
	f := newFixture(t)
	repo := postgres.NewUserRepository(testPool)

	_, err := repo.FindBuyer(context.Background(), f.id("seller"))
	require.ErrorIs(t, err, user.ErrNotFound)

	u, err := repo.FindSeller(context.Background(), f.id("seller"))
	require.NoError(t, err)
	assert.True(t, u.IsSeller())
}
