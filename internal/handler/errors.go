package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/omnily-coupons/internal/domain/coupon"
	"github.com/xenking/omnily-coupons/internal/domain/transaction"
	"github.com/xenking/omnily-coupons/pkg/httpmiddleware"
)

// writeError maps domain errors to HTTP responses. Unknown errors are
// logged and reported as 500 without leaking details.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		fieldErr    *coupon.InvalidFieldError
		rejectedErr *coupon.RejectedError
	)
	switch {
	case errors.Is(err, errBadJSON):
		httpmiddleware.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &fieldErr):
		httpmiddleware.WriteError(w, http.StatusBadRequest, fieldErr.Error())
	// Checked before ErrNotFound: a rejection unwraps to its reason, and an
	// unknown code is a rejection, not a missing resource.
	case errors.As(err, &rejectedErr):
		httpmiddleware.WriteError(w, http.StatusUnprocessableEntity, rejectedErr.Reason.Error())
	case errors.Is(err, coupon.ErrNotFound):
		httpmiddleware.WriteError(w, http.StatusNotFound, coupon.ErrNotFound.Error())
	case errors.Is(err, coupon.ErrCodeExists):
		httpmiddleware.WriteError(w, http.StatusConflict, coupon.ErrCodeExists.Error())
	case coupon.IsClaimRefused(err):
		httpmiddleware.WriteError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, transaction.ErrInvalidAmount),
		errors.Is(err, transaction.ErrAmountTooLarge),
		errors.Is(err, transaction.ErrMissingCustomer):
		httpmiddleware.WriteError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		zctx.From(r.Context()).Error("Request failed",
			zap.String("http.path", r.URL.Path),
			zap.Error(err),
		)
		httpmiddleware.WriteError(w, http.StatusInternalServerError, "internal server error")
	}
}
