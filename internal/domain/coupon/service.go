package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/marketplace/internal/domain/cart"
	"github.com/xenking/marketplace/internal/domain/product"
	"github.com/xenking/marketplace/internal/domain/user"
)

const instrumentationName = "github.com/xenking/marketplace/internal/domain/coupon"

// Deps bundles the collaborators of a Service.
type Deps struct {
	Coupons  Repository
	Usage    UsageLedger
	Products product.Repository
	Carts    cart.Repository
	Users    user.Repository
	Tx       Transactor
	// Cache is optional.
	Cache SnapshotCache
	// Clock defaults to time.Now.
	Clock func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithTracerProvider sets the tracer provider used for operation spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) { s.tracer = tp.Tracer(instrumentationName) }
}

// WithMeterProvider sets the meter provider used for redemption counters.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Service) { s.meter = mp.Meter(instrumentationName) }
}

// Service applies coupons to cart items and manages the coupon lifecycle,
// keeping coupons, products, cart items and the usage ledger consistent.
type Service struct {
	coupons   Repository
	usage     UsageLedger
	products  product.Repository
	carts     cart.Repository
	users     user.Repository
	tx        Transactor
	cache     SnapshotCache
	validator *Validator
	now       func() time.Time

	tracer      trace.Tracer
	meter       metric.Meter
	redemptions metric.Int64Counter
	rejections  metric.Int64Counter
}

// NewService creates a coupon Service.
func NewService(deps Deps, opts ...Option) *Service {
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	s := &Service{
		coupons:   deps.Coupons,
		usage:     deps.Usage,
		products:  deps.Products,
		carts:     deps.Carts,
		users:     deps.Users,
		tx:        deps.Tx,
		cache:     deps.Cache,
		validator: &Validator{coupons: deps.Coupons, usage: deps.Usage, now: clock},
		now:       clock,
		tracer:    otel.GetTracerProvider().Tracer(instrumentationName),
		meter:     otel.GetMeterProvider().Meter(instrumentationName),
	}
	for _, o := range opts {
		o(s)
	}

	var err error
	if s.redemptions, err = s.meter.Int64Counter("coupon.redemptions",
		metric.WithDescription("Coupon redemptions applied to (op=apply) or removed from (op=remove) cart items"),
	); err != nil {
		s.redemptions = metricnoop.Int64Counter{}
	}
	if s.rejections, err = s.meter.Int64Counter("coupon.rejections",
		metric.WithDescription("Coupon applications rejected by validation"),
	); err != nil {
		s.rejections = metricnoop.Int64Counter{}
	}
	return s
}

// ApplyToProduct validates the coupon for the buyer and product, then within
// one transaction points the product at the coupon, reprices the matching
// line of the buyer's active cart, records the usage and bumps the redeem
// counter.
func (s *Service) ApplyToProduct(ctx context.Context, couponID, productID, buyerID string) (_ *Snapshot, rerr error) {
	ctx, span := s.tracer.Start(ctx, "coupon.ApplyToProduct", trace.WithAttributes(
		attribute.String("coupon.id", couponID),
		attribute.String("product.id", productID),
	))
	defer func() { endSpan(span, rerr) }()

	var applied *Coupon
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		c, err := s.loadCoupon(ctx, couponID)
		if err != nil {
			return err
		}
		p, err := s.loadProduct(ctx, productID)
		if err != nil {
			return err
		}
		buyer, err := s.loadBuyer(ctx, buyerID)
		if err != nil {
			return err
		}

		if err := s.validator.Validate(ctx, c, p, buyer.ID); err != nil {
			return err
		}

		active, err := s.carts.FindActiveByBuyer(ctx, buyer.ID)
		if err != nil {
			if errors.Is(err, cart.ErrNotFound) {
				return &NotFoundError{Resource: "active cart for buyer", ID: buyer.ID, Err: err}
			}
			return errors.Wrap(err, "find active cart")
		}
		item, ok := active.ItemFor(p.ID)
		if !ok {
			return &NotFoundError{Resource: "cart item for product", ID: p.ID, Err: cart.ErrItemNotFound}
		}
		// The line's current coupon must be removed first, or its redemption
		// could never be reversed.
		if item.HasCoupon() {
			return errors.Wrapf(ErrAlreadyApplied, "cart item %s carries coupon %s", item.ID, *item.AppliedCouponID)
		}

		if err := s.products.SetCoupon(ctx, p.ID, &c.ID); err != nil {
			return errors.Wrap(err, "set product coupon")
		}

		item.ApplyDiscount(c.ID, DiscountedUnitPrice(p.Price, c.DiscountPercentage))
		if err := s.carts.SaveItem(ctx, item); err != nil {
			return errors.Wrap(err, "save cart item")
		}

		if err := s.usage.Append(ctx, &UsageEvent{
			ID:        uuid.NewString(),
			CouponID:  c.ID,
			BuyerID:   buyer.ID,
			ProductID: p.ID,
			Used:      true,
			CreatedAt: s.now(),
		}); err != nil {
			return errors.Wrap(err, "append coupon usage")
		}

		count, version, err := s.coupons.AddRedeemCount(ctx, c.ID, 1)
		if err != nil {
			return errors.Wrap(err, "increment redeem count")
		}
		c.RedeemCount, c.Version = count, version
		applied = c
		return nil
	})
	if err != nil {
		if reason := rejectionReason(err); reason != "" {
			s.rejections.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
		}
		return nil, err
	}

	s.evict(ctx, applied)
	s.redemptions.Add(ctx, 1, metric.WithAttributes(attribute.String("op", "apply")))
	zctx.From(ctx).Info("Coupon applied",
		zap.String("coupon_id", couponID),
		zap.String("product_id", productID),
		zap.String("buyer_id", buyerID),
		zap.Int("redeem_count", applied.RedeemCount),
	)
	return applied.Snapshot(), nil
}

// RemoveFromCartItem drops the coupon applied to a cart item, restores the
// line total to product price * quantity and decrements the redeem counter.
func (s *Service) RemoveFromCartItem(ctx context.Context, cartItemID string) (rerr error) {
	ctx, span := s.tracer.Start(ctx, "coupon.RemoveFromCartItem", trace.WithAttributes(
		attribute.String("cart_item.id", cartItemID),
	))
	defer func() { endSpan(span, rerr) }()

	lg := zctx.From(ctx)

	var removed *Coupon
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		item, err := s.carts.FindItem(ctx, cartItemID)
		if err != nil {
			if errors.Is(err, cart.ErrItemNotFound) {
				return &NotFoundError{Resource: "cart item", ID: cartItemID, Err: err}
			}
			return errors.Wrap(err, "find cart item")
		}
		if !item.HasCoupon() {
			return ErrNotApplied
		}

		p, err := s.loadProduct(ctx, item.ProductID)
		if err != nil {
			return err
		}
		c, err := s.loadCoupon(ctx, *item.AppliedCouponID)
		if err != nil {
			return err
		}

		item.ClearDiscount(p.Price)
		if err := s.carts.SaveItem(ctx, item); err != nil {
			return errors.Wrap(err, "save cart item")
		}

		if c.RedeemCount <= 0 {
			lg.Warn("Redeem count already at zero, clamping decrement",
				zap.String("coupon_id", c.ID),
				zap.String("cart_item_id", cartItemID),
			)
		}
		count, version, err := s.coupons.AddRedeemCount(ctx, c.ID, -1)
		if err != nil {
			return errors.Wrap(err, "decrement redeem count")
		}
		c.RedeemCount, c.Version = count, version
		removed = c
		return nil
	})
	if err != nil {
		return err
	}

	s.evict(ctx, removed)
	s.redemptions.Add(ctx, 1, metric.WithAttributes(attribute.String("op", "remove")))
	lg.Info("Coupon removed from cart item",
		zap.String("cart_item_id", cartItemID),
		zap.String("coupon_id", removed.ID),
		zap.Int("redeem_count", removed.RedeemCount),
	)
	return nil
}

// RemoveFromProduct clears the coupon reference of a product.
func (s *Service) RemoveFromProduct(ctx context.Context, productID string) error {
	p, err := s.loadProduct(ctx, productID)
	if err != nil {
		return err
	}

	lg := zctx.From(ctx)
	if p.CouponID == nil {
		lg.Warn("No coupon applied to product", zap.String("product_id", productID))
		return ErrNotApplied
	}
	if err := s.products.SetCoupon(ctx, p.ID, nil); err != nil {
		return errors.Wrap(err, "clear product coupon")
	}

	lg.Info("Coupon removed from product",
		zap.String("product_id", productID),
		zap.String("coupon_id", *p.CouponID),
	)
	return nil
}

// Create registers a new coupon for the seller. Codes are unique across the
// whole marketplace.
func (s *Service) Create(ctx context.Context, in Input, sellerID string) (*Snapshot, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	lg := zctx.From(ctx)

	var created *Coupon
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		taken, err := s.coupons.ExistsByCode(ctx, in.Code)
		if err != nil {
			return errors.Wrap(err, "check coupon code")
		}
		if taken {
			lg.Error("Coupon creation failed: code already in use", zap.String("code", in.Code))
			return ErrCodeConflict
		}

		seller, err := s.loadSeller(ctx, sellerID)
		if err != nil {
			return err
		}
		if err := s.checkProducts(ctx, seller.ID, in.ProductIDs); err != nil {
			return err
		}

		now := s.now()
		c := &Coupon{
			ID:          uuid.NewString(),
			RedeemCount: 0,
			SellerID:    seller.ID,
			CreatedAt:   now,
			UpdatedAt:   now,
			Version:     1,
		}
		in.applyTo(c)

		if err := s.coupons.Create(ctx, c); err != nil {
			if errors.Is(err, ErrCodeConflict) {
				return err
			}
			return s.persistenceFailure(ctx, "create", err)
		}
		created = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	lg.Info("Coupon created", zap.String("coupon_id", created.ID), zap.String("code", created.Code))
	return created.Snapshot(), nil
}

// Update replaces the editable fields of a coupon. The owner and the redeem
// counter are kept.
func (s *Service) Update(ctx context.Context, id string, in Input) (*Snapshot, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	var (
		updated *Coupon
		oldCode string
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		c, err := s.loadCoupon(ctx, id)
		if err != nil {
			return err
		}
		oldCode = c.Code

		if in.Code != c.Code {
			taken, err := s.coupons.ExistsByCode(ctx, in.Code)
			if err != nil {
				return errors.Wrap(err, "check coupon code")
			}
			if taken {
				return ErrCodeConflict
			}
		}
		if err := s.checkProducts(ctx, c.SellerID, in.ProductIDs); err != nil {
			return err
		}

		in.applyTo(c)
		c.UpdatedAt = s.now()
		if err := s.coupons.Update(ctx, c); err != nil {
			if errors.Is(err, ErrCodeConflict) {
				return err
			}
			return s.persistenceFailure(ctx, "update", err)
		}
		updated = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.evict(ctx, updated, oldCode)
	zctx.From(ctx).Info("Coupon updated", zap.String("coupon_id", id), zap.String("code", updated.Code))
	return updated.Snapshot(), nil
}

// Delete removes a coupon by ID after detaching it from every product and
// cart item that still references it.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.delete(ctx, func(ctx context.Context) (*Coupon, error) {
		return s.loadCoupon(ctx, id)
	})
}

// DeleteByCode removes a coupon by code. See Delete.
func (s *Service) DeleteByCode(ctx context.Context, code string) error {
	return s.delete(ctx, func(ctx context.Context) (*Coupon, error) {
		return s.loadCouponByCode(ctx, code)
	})
}

func (s *Service) delete(ctx context.Context, load func(ctx context.Context) (*Coupon, error)) (rerr error) {
	ctx, span := s.tracer.Start(ctx, "coupon.Delete")
	defer func() { endSpan(span, rerr) }()

	lg := zctx.From(ctx)

	var deleted *Coupon
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		c, err := load(ctx)
		if err != nil {
			return err
		}

		detached, err := s.products.DetachCoupon(ctx, c.ID)
		if err != nil {
			return s.persistenceFailure(ctx, "delete", errors.Wrap(err, "detach products"))
		}
		released, err := s.carts.ReleaseCoupon(ctx, c.ID)
		if err != nil {
			return s.persistenceFailure(ctx, "delete", errors.Wrap(err, "release cart items"))
		}
		if err := s.coupons.Delete(ctx, c.ID); err != nil {
			return s.persistenceFailure(ctx, "delete", err)
		}

		lg.Debug("Coupon detached",
			zap.String("coupon_id", c.ID),
			zap.Strings("product_ids", detached),
			zap.Int64("cart_items", released),
		)
		// Outrank every snapshot read before the delete.
		c.Version++
		deleted = c
		return nil
	})
	if err != nil {
		return err
	}

	s.evict(ctx, deleted)
	lg.Info("Coupon deleted", zap.String("coupon_id", deleted.ID), zap.String("code", deleted.Code))
	return nil
}

// Get returns a coupon by ID.
func (s *Service) Get(ctx context.Context, id string) (*Snapshot, error) {
	if snap, ok := s.cached(ctx, func(c SnapshotCache) (*Snapshot, error) { return c.GetByID(ctx, id) }); ok {
		return snap, nil
	}
	c, err := s.loadCoupon(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.remember(ctx, c), nil
}

// GetByCode returns a coupon by its exact code.
func (s *Service) GetByCode(ctx context.Context, code string) (*Snapshot, error) {
	if snap, ok := s.cached(ctx, func(c SnapshotCache) (*Snapshot, error) { return c.GetByCode(ctx, code) }); ok {
		return snap, nil
	}
	c, err := s.loadCouponByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	return s.remember(ctx, c), nil
}

// ListBySeller returns every coupon issued by the seller.
func (s *Service) ListBySeller(ctx context.Context, sellerID string) ([]Snapshot, error) {
	seller, err := s.loadSeller(ctx, sellerID)
	if err != nil {
		return nil, err
	}
	coupons, err := s.coupons.ListBySeller(ctx, seller.ID)
	if err != nil {
		return nil, errors.Wrap(err, "list coupons")
	}
	out := make([]Snapshot, len(coupons))
	for i := range coupons {
		out[i] = *coupons[i].Snapshot()
	}
	return out, nil
}

// IsValid reports whether the coupon can currently be used with the product.
// It never fails; see Validator.IsValid.
func (s *Service) IsValid(ctx context.Context, couponID, productID string) bool {
	return s.validator.IsValid(ctx, couponID, productID)
}

// IsCodeTaken reports whether a coupon with the given code exists.
func (s *Service) IsCodeTaken(ctx context.Context, code string) (bool, error) {
	taken, err := s.coupons.ExistsByCode(ctx, code)
	if err != nil {
		return false, errors.Wrap(err, "check coupon code")
	}
	return taken, nil
}

func (in Input) applyTo(c *Coupon) {
	c.Code = in.Code
	c.DiscountPercentage = in.DiscountPercentage
	c.StartDate = Day(in.StartDate)
	c.EndDate = Day(in.EndDate)
	c.MaxRedemptions = in.MaxRedemptions
	c.ProductIDs = dedupe(in.ProductIDs)
}

// checkProducts ensures every product exists and is listed by the seller.
func (s *Service) checkProducts(ctx context.Context, sellerID string, ids []string) error {
	ids = dedupe(ids)
	if len(ids) == 0 {
		return nil
	}
	found, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return errors.Wrap(err, "get products")
	}

	bySeller := make(map[string]string, len(found))
	for _, p := range found {
		bySeller[p.ID] = p.SellerID
	}
	for _, id := range ids {
		owner, ok := bySeller[id]
		if !ok {
			return &NotFoundError{Resource: "product", ID: id, Err: product.ErrNotFound}
		}
		if owner != sellerID {
			return &InvalidInputError{Field: "productIds", Reason: "product " + id + " is not listed by the seller"}
		}
	}
	return nil
}

func (s *Service) loadCoupon(ctx context.Context, id string) (*Coupon, error) {
	c, err := s.coupons.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, &NotFoundError{Resource: "coupon", ID: id, Err: err}
		}
		return nil, errors.Wrapf(err, "find coupon %s", id)
	}
	return c, nil
}

func (s *Service) loadCouponByCode(ctx context.Context, code string) (*Coupon, error) {
	c, err := s.coupons.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, &NotFoundError{Resource: "coupon with code", ID: code, Err: err}
		}
		return nil, errors.Wrapf(err, "find coupon by code %q", code)
	}
	return c, nil
}

func (s *Service) loadProduct(ctx context.Context, id string) (*product.Product, error) {
	p, err := s.products.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, product.ErrNotFound) {
			return nil, &NotFoundError{Resource: "product", ID: id, Err: err}
		}
		return nil, errors.Wrapf(err, "get product %s", id)
	}
	return p, nil
}

func (s *Service) loadBuyer(ctx context.Context, id string) (*user.User, error) {
	u, err := s.users.FindBuyer(ctx, id)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return nil, &NotFoundError{Resource: "buyer", ID: id, Err: err}
		}
		return nil, errors.Wrapf(err, "find buyer %s", id)
	}
	return u, nil
}

func (s *Service) loadSeller(ctx context.Context, id string) (*user.User, error) {
	u, err := s.users.FindSeller(ctx, id)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return nil, &NotFoundError{Resource: "seller", ID: id, Err: err}
		}
		return nil, errors.Wrapf(err, "find seller %s", id)
	}
	return u, nil
}

func (s *Service) persistenceFailure(ctx context.Context, op string, err error) error {
	zctx.From(ctx).Error("Coupon persistence failed", zap.String("op", op), zap.Error(err))
	return &PersistenceError{Op: op, Err: err}
}

func (s *Service) cached(ctx context.Context, get func(SnapshotCache) (*Snapshot, error)) (*Snapshot, bool) {
	if s.cache == nil {
		return nil, false
	}
	snap, err := get(s.cache)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			zctx.From(ctx).Warn("Coupon cache read failed", zap.Error(err))
		}
		return nil, false
	}
	return snap, true
}

func (s *Service) remember(ctx context.Context, c *Coupon) *Snapshot {
	snap := c.Snapshot()
	if s.cache == nil {
		return snap
	}
	if err := s.cache.Put(ctx, snap, c.Version); err != nil {
		zctx.From(ctx).Warn("Coupon cache write failed", zap.String("coupon_id", snap.ID), zap.Error(err))
	}
	return snap
}

// evict fences cached snapshots of c at its committed version. Readers that
// loaded an older version before the commit cannot put it back.
func (s *Service) evict(ctx context.Context, c *Coupon, extraCodes ...string) {
	if s.cache == nil || c == nil {
		return
	}
	codes := append([]string{c.Code}, extraCodes...)
	if err := s.cache.Evict(ctx, c.ID, c.Version, codes...); err != nil {
		zctx.From(ctx).Warn("Coupon cache eviction failed", zap.String("coupon_id", c.ID), zap.Error(err))
	}
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrLimitReached):
		return "limit_reached"
	case errors.Is(err, ErrAlreadyUsed):
		return "already_used"
	case errors.Is(err, ErrAlreadyApplied):
		return "already_applied"
	default:
		return ""
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func dedupe(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
