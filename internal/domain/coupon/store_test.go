package coupon

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/xenking/marketplace/internal/domain/cart"
	"github.com/xenking/marketplace/internal/domain/product"
	"github.com/xenking/marketplace/internal/domain/user"
)

// memStore is an in-memory implementation of every repository the Service
// depends on. WithinTx snapshots the whole store and restores it when fn
// fails, so tests can observe all-or-nothing behaviour.
type memStore struct {
	mu       sync.Mutex
	coupons  map[string]Coupon
	usage    []UsageEvent
	products map[string]product.Product
	carts    map[string]cart.Cart
	users    map[string]user.User

	// failOn makes the named method return the given error.
	failOn map[string]error
}

func newMemStore() *memStore {
	return &memStore{
		coupons:  make(map[string]Coupon),
		products: make(map[string]product.Product),
		carts:    make(map[string]cart.Cart),
		users:    make(map[string]user.User),
		failOn:   make(map[string]error),
	}
}

type memState struct {
	coupons  map[string]Coupon
	usage    []UsageEvent
	products map[string]product.Product
	carts    map[string]cart.Cart
}

func (m *memStore) snapshot() memState {
	m.mu.Lock()
	defer m.mu.Unlock()

	carts := make(map[string]cart.Cart, len(m.carts))
	for id, c := range m.carts {
		c.Items = slices.Clone(c.Items)
		carts[id] = c
	}
	return memState{
		coupons:  maps.Clone(m.coupons),
		usage:    slices.Clone(m.usage),
		products: maps.Clone(m.products),
		carts:    carts,
	}
}

func (m *memStore) restore(s memState) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.coupons = s.coupons
	m.usage = s.usage
	m.products = s.products
	m.carts = s.carts
}

func (m *memStore) fail(method string) error {
	return m.failOn[method]
}

func (m *memStore) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	saved := m.snapshot()
	if err := fn(ctx); err != nil {
		m.restore(saved)
		return err
	}
	return nil
}

// coupon.Repository

func (m *memStore) FindByID(_ context.Context, id string) (*Coupon, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fail("FindByID"); err != nil {
		return nil, err
	}
	c, ok := m.coupons[id]
	if !ok {
		return nil, ErrNotFound
	}
	c.ProductIDs = slices.Clone(c.ProductIDs)
	return &c, nil
}

func (m *memStore) FindByCode(_ context.Context, code string) (*Coupon, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range m.coupons {
		if c.Code == code {
			c.ProductIDs = slices.Clone(c.ProductIDs)
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memStore) ExistsByCode(_ context.Context, code string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range m.coupons {
		if c.Code == code {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) ListBySeller(_ context.Context, sellerID string) ([]Coupon, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Coupon
	for _, c := range m.coupons {
		if c.SellerID == sellerID {
			out = append(out, c)
		}
	}
	slices.SortFunc(out, func(a, b Coupon) int {
		switch {
		case a.Code < b.Code:
			return -1
		case a.Code > b.Code:
			return 1
		}
		return 0
	})
	return out, nil
}

func (m *memStore) Create(_ context.Context, c *Coupon) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fail("Create"); err != nil {
		return err
	}
	for _, existing := range m.coupons {
		if existing.Code == c.Code {
			return ErrCodeConflict
		}
	}
	m.coupons[c.ID] = *c
	return nil
}

func (m *memStore) Update(_ context.Context, c *Coupon) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fail("Update"); err != nil {
		return err
	}
	existing, ok := m.coupons[c.ID]
	if !ok {
		return ErrNotFound
	}
	updated := *c
	updated.RedeemCount = existing.RedeemCount
	updated.Version = existing.Version + 1
	m.coupons[c.ID] = updated
	c.Version = updated.Version
	return nil
}

func (m *memStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fail("Delete"); err != nil {
		return err
	}
	delete(m.coupons, id)
	m.usage = slices.DeleteFunc(m.usage, func(e UsageEvent) bool { return e.CouponID == id })
	return nil
}

func (m *memStore) AddRedeemCount(_ context.Context, id string, delta int) (int, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fail("AddRedeemCount"); err != nil {
		return 0, 0, err
	}
	c, ok := m.coupons[id]
	if !ok {
		return 0, 0, ErrNotFound
	}
	c.RedeemCount = max(c.RedeemCount+delta, 0)
	c.Version++
	m.coupons[id] = c
	return c.RedeemCount, c.Version, nil
}

// UsageLedger

func (m *memStore) CountByCoupon(_ context.Context, couponID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, e := range m.usage {
		if e.CouponID == couponID {
			n++
		}
	}
	return n, nil
}

func (m *memStore) Exists(_ context.Context, couponID, buyerID, productID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return slices.ContainsFunc(m.usage, func(e UsageEvent) bool {
		return e.CouponID == couponID && e.BuyerID == buyerID && e.ProductID == productID
	}), nil
}

func (m *memStore) Append(_ context.Context, e *UsageEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fail("Append"); err != nil {
		return err
	}
	m.usage = append(m.usage, *e)
	return nil
}

// product.Repository

func (m *memStore) GetByID(_ context.Context, id string) (*product.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.products[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return &p, nil
}

func (m *memStore) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []product.Product
	for _, id := range ids {
		if p, ok := m.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memStore) SetCoupon(_ context.Context, productID string, couponID *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.products[productID]
	if !ok {
		return product.ErrNotFound
	}
	p.CouponID = couponID
	m.products[productID] = p
	return nil
}

func (m *memStore) DetachCoupon(_ context.Context, couponID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ids []string
	for id, p := range m.products {
		if p.HasCoupon(couponID) {
			p.CouponID = nil
			m.products[id] = p
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// cart.Repository

func (m *memStore) FindActiveByBuyer(_ context.Context, buyerID string) (*cart.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range m.carts {
		if c.BuyerID == buyerID && c.Active {
			c.Items = slices.Clone(c.Items)
			return &c, nil
		}
	}
	return nil, cart.ErrNotFound
}

func (m *memStore) FindItem(_ context.Context, id string) (*cart.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range m.carts {
		for _, it := range c.Items {
			if it.ID == id {
				return &it, nil
			}
		}
	}
	return nil, cart.ErrItemNotFound
}

func (m *memStore) SaveItem(_ context.Context, item *cart.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fail("SaveItem"); err != nil {
		return err
	}
	c, ok := m.carts[item.CartID]
	if !ok {
		return cart.ErrNotFound
	}
	for i := range c.Items {
		if c.Items[i].ID == item.ID {
			c.Items[i] = *item
			return nil
		}
	}
	return cart.ErrItemNotFound
}

func (m *memStore) ReleaseCoupon(_ context.Context, couponID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, c := range m.carts {
		for i := range c.Items {
			it := &c.Items[i]
			if it.AppliedCouponID != nil && *it.AppliedCouponID == couponID {
				it.ClearDiscount(m.products[it.ProductID].Price)
				n++
			}
		}
	}
	return n, nil
}

// user.Repository

func (m *memStore) FindBuyer(_ context.Context, id string) (*user.User, error) {
	return m.findUser(id, user.RoleBuyer)
}

func (m *memStore) FindSeller(_ context.Context, id string) (*user.User, error) {
	return m.findUser(id, user.RoleSeller)
}

func (m *memStore) findUser(id string, role user.Role) (*user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok || u.Role != role {
		return nil, user.ErrNotFound
	}
	return &u, nil
}

// Fixture helpers.

func (m *memStore) addUser(id string, role user.Role) {
	m.users[id] = user.User{ID: id, Username: id, Role: role}
}

func (m *memStore) addProduct(id, sellerID, price string) {
	m.products[id] = product.Product{
		ID:       id,
		SellerID: sellerID,
		Name:     "Product " + id,
		Price:    decimal.RequireFromString(price),
	}
}

// addCartItem puts productID into the buyer's active cart, creating the cart
// on first use.
func (m *memStore) addCartItem(buyerID, itemID, productID string, qty int) {
	cartID := "cart-" + buyerID
	c, ok := m.carts[cartID]
	if !ok {
		c = cart.Cart{ID: cartID, BuyerID: buyerID, Active: true}
	}
	price := m.products[productID].Price
	c.Items = append(c.Items, cart.Item{
		ID:         itemID,
		CartID:     cartID,
		ProductID:  productID,
		Quantity:   qty,
		BasePrice:  price,
		TotalPrice: price.Mul(decimal.NewFromInt(int64(qty))),
	})
	m.carts[cartID] = c
}

func (m *memStore) item(id string) cart.Item {
	for _, c := range m.carts {
		for _, it := range c.Items {
			if it.ID == id {
				return it
			}
		}
	}
	return cart.Item{}
}
