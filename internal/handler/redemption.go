package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// applyCoupon redeems the coupon for one product in the buyer's active cart
// and returns the coupon with its new redeem count.
func (h *Handler) applyCoupon(w http.ResponseWriter, r *http.Request) {
	body, err := h.readBody(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	req, err := decodeApply(body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	snap, err := h.coupons.ApplyToProduct(r.Context(), chi.URLParam(r, "couponID"), req.ProductID, req.BuyerID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSnapshot(w, http.StatusOK, snap)
}

func (h *Handler) removeFromProduct(w http.ResponseWriter, r *http.Request) {
	if err := h.coupons.RemoveFromProduct(r.Context(), chi.URLParam(r, "productID")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) removeFromCartItem(w http.ResponseWriter, r *http.Request) {
	if err := h.coupons.RemoveFromCartItem(r.Context(), chi.URLParam(r, "cartItemID")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
