package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/marketplace/internal/domain/coupon"
	"github.com/xenking/marketplace/pkg/httpmiddleware"
)

// writeError maps domain errors to status codes. Unexpected errors are logged
// and answered with a generic 500 so storage details do not leak.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		malformed   *requestError
		notFound    *coupon.NotFoundError
		invalid     *coupon.InvalidInputError
		persistence *coupon.PersistenceError
	)
	switch {
	case errors.As(err, &malformed):
		httpmiddleware.WriteError(w, http.StatusBadRequest, malformed.Error())
	case errors.As(err, &invalid):
		httpmiddleware.WriteError(w, http.StatusBadRequest, invalid.Error())
	case errors.As(err, &notFound):
		httpmiddleware.WriteError(w, http.StatusNotFound, notFound.Error())
	case errors.Is(err, coupon.ErrCodeConflict):
		httpmiddleware.WriteError(w, http.StatusConflict, coupon.ErrCodeConflict.Error())
	case errors.Is(err, coupon.ErrExpired),
		errors.Is(err, coupon.ErrLimitReached),
		errors.Is(err, coupon.ErrAlreadyUsed),
		errors.Is(err, coupon.ErrAlreadyApplied),
		errors.Is(err, coupon.ErrNotApplied):
		httpmiddleware.WriteError(w, http.StatusUnprocessableEntity, rejection(err).Error())
	case errors.As(err, &persistence):
		zctx.From(r.Context()).Error("Coupon persistence failed", zap.Error(err))
		httpmiddleware.WriteError(w, http.StatusInternalServerError, persistence.Error())
	default:
		zctx.From(r.Context()).Error("Request failed", zap.Error(err))
		httpmiddleware.WriteError(w, http.StatusInternalServerError, "internal server error")
	}
}

// rejection returns the business sentinel inside err.
func rejection(err error) error {
	for _, s := range []error{
		coupon.ErrExpired,
		coupon.ErrLimitReached,
		coupon.ErrAlreadyUsed,
		coupon.ErrAlreadyApplied,
		coupon.ErrNotApplied,
	} {
		if errors.Is(err, s) {
			return s
		}
	}
	return err
}
