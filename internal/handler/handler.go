// Package handler exposes the coupon service over HTTP.
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/marketplace/internal/domain/coupon"
	"github.com/xenking/marketplace/pkg/httpmiddleware"
)

// Coupons is the part of coupon.Service the HTTP layer uses.
type Coupons interface {
	Create(ctx context.Context, in coupon.Input, sellerID string) (*coupon.Snapshot, error)
	Update(ctx context.Context, id string, in coupon.Input) (*coupon.Snapshot, error)
	Delete(ctx context.Context, id string) error
	DeleteByCode(ctx context.Context, code string) error
	Get(ctx context.Context, id string) (*coupon.Snapshot, error)
	GetByCode(ctx context.Context, code string) (*coupon.Snapshot, error)
	ListBySeller(ctx context.Context, sellerID string) ([]coupon.Snapshot, error)
	IsValid(ctx context.Context, couponID, productID string) bool
	ApplyToProduct(ctx context.Context, couponID, productID, buyerID string) (*coupon.Snapshot, error)
	RemoveFromProduct(ctx context.Context, productID string) error
	RemoveFromCartItem(ctx context.Context, cartItemID string) error
}

var _ Coupons = (*coupon.Service)(nil)

// Config holds non-dependency configuration for the Handler.
type Config struct {
	// MaxBodyBytes caps request bodies. Zero means 1 MiB.
	MaxBodyBytes int64
	// RedeemLimit guards apply and remove. Nil disables rate limiting.
	RedeemLimit httpmiddleware.Middleware
}

// Handler serves the marketplace coupon API.
type Handler struct {
	coupons      Coupons
	maxBodyBytes int64
	redeemLimit  httpmiddleware.Middleware
}

func New(cfg Config, coupons Coupons) *Handler {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	return &Handler{
		coupons:      coupons,
		maxBodyBytes: cfg.MaxBodyBytes,
		redeemLimit:  cfg.RedeemLimit,
	}
}

// Router returns the API routes. Request IDs, logger injection and panic
// recovery are expected to wrap it from the outside.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(httpmiddleware.LogRequests())
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		httpmiddleware.WriteError(w, http.StatusNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		httpmiddleware.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Route("/api", func(r chi.Router) {
		r.Route("/sellers/{sellerID}/coupons", func(r chi.Router) {
			r.Post("/", h.createCoupon)
			r.Get("/", h.listSellerCoupons)
		})

		r.Route("/coupons", func(r chi.Router) {
			r.Get("/code/{code}", h.getCouponByCode)
			r.Delete("/code/{code}", h.deleteCouponByCode)

			r.Route("/{couponID}", func(r chi.Router) {
				r.Get("/", h.getCoupon)
				r.Put("/", h.updateCoupon)
				r.Delete("/", h.deleteCoupon)
				r.Get("/validity", h.couponValidity)
				r.With(h.limits()...).Post("/apply", h.applyCoupon)
			})
		})

		r.With(h.limits()...).Delete("/products/{productID}/coupon", h.removeFromProduct)
		r.With(h.limits()...).Delete("/cart-items/{cartItemID}/coupon", h.removeFromCartItem)
	})
	return r
}

func (h *Handler) limits() []func(http.Handler) http.Handler {
	if h.redeemLimit == nil {
		return nil
	}
	return []func(http.Handler) http.Handler{h.redeemLimit}
}
