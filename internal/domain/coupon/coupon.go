package coupon

import (
	"context"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned by repositories when a coupon does not exist.
	ErrNotFound = errors.New("coupon not found")
	// ErrCodeConflict is returned when a coupon code is already taken.
	// Codes are unique across all sellers.
	ErrCodeConflict = errors.New("coupon code already in use")
	// ErrExpired is returned when today is outside the coupon's validity window.
	ErrExpired = errors.New("coupon has expired or is not yet active")
	// ErrLimitReached is returned when the coupon has hit its redemption cap.
	ErrLimitReached = errors.New("coupon redemption limit has been reached")
	// ErrAlreadyUsed is returned when the buyer already redeemed the coupon
	// for the product.
	ErrAlreadyUsed = errors.New("coupon already used for this product")
	// ErrAlreadyApplied is returned when the coupon is already on the product.
	ErrAlreadyApplied = errors.New("coupon is already applied to the product")
	// ErrNotApplied is returned when removing a coupon from a product or cart
	// item that carries none.
	ErrNotApplied = errors.New("no coupon applied")
)

// Coupon is a seller-issued percentage discount with a validity window and an
// optional redemption cap.
type Coupon struct {
	ID                 string
	Code               string
	DiscountPercentage decimal.Decimal
	// StartDate and EndDate are calendar days; both ends are inclusive.
	StartDate time.Time
	EndDate   time.Time
	// MaxRedemptions is nil when the coupon can be redeemed without limit.
	MaxRedemptions *int
	RedeemCount    int
	SellerID       string
	// ProductIDs lists the products the coupon may be used with.
	ProductIDs []string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	// Version starts at 1 and grows with every stored change, including
	// redeem count adjustments.
	Version int64
}

// ActiveOn reports whether t falls on a day within [StartDate, EndDate].
func (c *Coupon) ActiveOn(t time.Time) bool {
	day := Day(t)
	return !day.Before(Day(c.StartDate)) && !day.After(Day(c.EndDate))
}

// Eligible reports whether productID is in the coupon's product set.
func (c *Coupon) Eligible(productID string) bool {
	return slices.Contains(c.ProductIDs, productID)
}

// Snapshot returns the external representation of the coupon.
func (c *Coupon) Snapshot() *Snapshot {
	s := &Snapshot{
		ID:                 c.ID,
		Code:               c.Code,
		DiscountPercentage: c.DiscountPercentage,
		StartDate:          Day(c.StartDate),
		EndDate:            Day(c.EndDate),
		RedeemCount:        c.RedeemCount,
		SellerID:           c.SellerID,
		ProductIDs:         slices.Clone(c.ProductIDs),
	}
	if c.MaxRedemptions != nil {
		limit := *c.MaxRedemptions
		s.MaxRedemptions = &limit
	}
	return s
}

// Snapshot is the value returned to callers of the coupon service.
type Snapshot struct {
	ID                 string
	Code               string
	DiscountPercentage decimal.Decimal
	StartDate          time.Time
	EndDate            time.Time
	MaxRedemptions     *int
	RedeemCount        int
	SellerID           string
	ProductIDs         []string
}

// UsageEvent records one successful redemption of a coupon by a buyer for a
// product. Events are never updated; they are removed only together with
// their coupon.
type UsageEvent struct {
	ID        string
	CouponID  string
	BuyerID   string
	ProductID string
	Used      bool
	CreatedAt time.Time
}

// Input carries the seller-editable fields of a coupon.
type Input struct {
	Code               string
	DiscountPercentage decimal.Decimal
	StartDate          time.Time
	EndDate            time.Time
	MaxRedemptions     *int
	ProductIDs         []string
}

// InvalidInputError describes a rejected coupon definition.
type InvalidInputError struct {
	Field  string
	Reason string
}

func (e *InvalidInputError) Error() string {
	return "invalid " + e.Field + ": " + e.Reason
}

// Validate checks the definition without touching storage.
func (in Input) Validate() error {
	if strings.TrimSpace(in.Code) == "" {
		return &InvalidInputError{Field: "code", Reason: "must not be empty"}
	}
	if in.DiscountPercentage.IsNegative() || in.DiscountPercentage.GreaterThan(hundred) {
		return &InvalidInputError{Field: "discountPercentage", Reason: "must be between 0 and 100"}
	}
	if !in.DiscountPercentage.Equal(in.DiscountPercentage.Truncate(2)) {
		return &InvalidInputError{Field: "discountPercentage", Reason: "must have at most two decimal places"}
	}
	if in.StartDate.IsZero() || in.EndDate.IsZero() {
		return &InvalidInputError{Field: "startDate", Reason: "validity window is required"}
	}
	if Day(in.EndDate).Before(Day(in.StartDate)) {
		return &InvalidInputError{Field: "endDate", Reason: "must not be before startDate"}
	}
	if in.MaxRedemptions != nil && (*in.MaxRedemptions <= 0 || *in.MaxRedemptions > math.MaxInt32) {
		return &InvalidInputError{Field: "maxRedemptions", Reason: "must be between 1 and 2147483647 when set"}
	}
	return nil
}

// Day truncates t to midnight UTC of its calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Repository is the coupon store.
type Repository interface {
	FindByID(ctx context.Context, id string) (*Coupon, error)
	FindByCode(ctx context.Context, code string) (*Coupon, error)
	ExistsByCode(ctx context.Context, code string) (bool, error)
	ListBySeller(ctx context.Context, sellerID string) ([]Coupon, error)
	// Create inserts c together with its product set. It returns
	// ErrCodeConflict when the code is already taken.
	Create(ctx context.Context, c *Coupon) error
	// Update overwrites the editable fields and the product set of c and
	// stores the bumped version in c.Version.
	Update(ctx context.Context, c *Coupon) error
	Delete(ctx context.Context, id string) error
	// AddRedeemCount atomically adds delta to the redeem counter, never going
	// below zero, and returns the new value and version.
	AddRedeemCount(ctx context.Context, id string, delta int) (count int, version int64, err error)
}

// UsageLedger is the append-only record of redemptions.
type UsageLedger interface {
	CountByCoupon(ctx context.Context, couponID string) (int, error)
	Exists(ctx context.Context, couponID, buyerID, productID string) (bool, error)
	Append(ctx context.Context, e *UsageEvent) error
}

// Transactor runs fn inside a single storage transaction. Repositories
// invoked with the ctx passed to fn take part in that transaction.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// ErrCacheMiss is returned by a SnapshotCache when the entry is absent.
var ErrCacheMiss = errors.New("coupon cache miss")

// SnapshotCache is an optional read-through cache for coupon snapshots.
// Entries carry the coupon version they were read at.
type SnapshotCache interface {
	GetByID(ctx context.Context, id string) (*Snapshot, error)
	GetByCode(ctx context.Context, code string) (*Snapshot, error)
	// Put stores s unless one of its keys already holds a higher version.
	Put(ctx context.Context, s *Snapshot, version int64) error
	// Evict replaces the entries of id and codes with markers at version, so
	// a reader that loaded an older version cannot put it back.
	Evict(ctx context.Context, id string, version int64, codes ...string) error
}
