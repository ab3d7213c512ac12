package handler

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/xenking/omnily-coupons/internal/domain/auth"
)

// Checkout records a purchase, applying the coupon code when given.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := decodeBody(r, req.decode); err != nil {
		writeError(w, r, err)
		return
	}
	if err := checkStruct(h.validate, &req); err != nil {
		writeError(w, r, err)
		return
	}

	ctx := r.Context()
	res, err := h.checkout.Checkout(ctx, auth.OrganizationFromContext(ctx), req.request())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encTransaction(e, res) })
}
