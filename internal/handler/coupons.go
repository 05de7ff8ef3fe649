package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"
)

func (h *Handler) createCoupon(w http.ResponseWriter, r *http.Request) {
	body, err := h.readBody(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	in, err := decodeInput(body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	snap, err := h.coupons.Create(r.Context(), in, chi.URLParam(r, "sellerID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/coupons/"+snap.ID)
	writeSnapshot(w, http.StatusCreated, snap)
}

func (h *Handler) listSellerCoupons(w http.ResponseWriter, r *http.Request) {
	list, err := h.coupons.ListBySeller(r.Context(), chi.URLParam(r, "sellerID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSnapshots(w, list)
}

func (h *Handler) getCoupon(w http.ResponseWriter, r *http.Request) {
	snap, err := h.coupons.Get(r.Context(), chi.URLParam(r, "couponID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSnapshot(w, http.StatusOK, snap)
}

func (h *Handler) getCouponByCode(w http.ResponseWriter, r *http.Request) {
	snap, err := h.coupons.GetByCode(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSnapshot(w, http.StatusOK, snap)
}

func (h *Handler) updateCoupon(w http.ResponseWriter, r *http.Request) {
	body, err := h.readBody(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	in, err := decodeInput(body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	snap, err := h.coupons.Update(r.Context(), chi.URLParam(r, "couponID"), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSnapshot(w, http.StatusOK, snap)
}

func (h *Handler) deleteCoupon(w http.ResponseWriter, r *http.Request) {
	if err := h.coupons.Delete(r.Context(), chi.URLParam(r, "couponID")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) deleteCouponByCode(w http.ResponseWriter, r *http.Request) {
	if err := h.coupons.DeleteByCode(r.Context(), chi.URLParam(r, "code")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// couponValidity answers whether the coupon could be applied to the product
// right now. It never fails on business grounds.
func (h *Handler) couponValidity(w http.ResponseWriter, r *http.Request) {
	productID := r.URL.Query().Get("productId")
	if productID == "" {
		writeError(w, r, badRequest("productId query parameter is required"))
		return
	}
	valid := h.coupons.IsValid(r.Context(), chi.URLParam(r, "couponID"), productID)
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("valid")
		e.Bool(valid)
		e.ObjEnd()
	})
}
