package handler

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/xenking/omnily-coupons/internal/domain/auth"
	"github.com/xenking/omnily-coupons/internal/domain/coupon"
)

// ListCoupons serves a filtered, paginated listing.
func (h *Handler) ListCoupons(w http.ResponseWriter, r *http.Request) {
	f, p, err := parseListQuery(r.URL.Query())
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.coupons.List(r.Context(), auth.OrganizationFromContext(r.Context()), f, p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encPage(e, res) })
}

func parseListQuery(q url.Values) (coupon.Filter, coupon.Page, error) {
	var (
		f coupon.Filter
		p coupon.Page
	)

	if v := q.Get("status"); v != "" {
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				f.Statuses = append(f.Statuses, coupon.Status(s))
			}
		}
	}
	f.Type = coupon.Type(q.Get("type"))
	f.DurationType = q.Get("duration_type")
	f.SearchCode = strings.TrimSpace(q.Get("search"))
	if v := q.Get("is_flash"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return f, p, &coupon.InvalidFieldError{Field: "is_flash", Reason: "must be a boolean"}
		}
		f.IsFlash = &b
	}
	for _, tf := range []struct {
		key string
		dst **time.Time
	}{
		{"valid_from", &f.ValidFrom},
		{"valid_until", &f.ValidUntil},
	} {
		v := q.Get(tf.key)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, p, &coupon.InvalidFieldError{Field: tf.key, Reason: "must be an RFC 3339 timestamp"}
		}
		*tf.dst = &t
	}

	var err error
	if p.Number, err = queryInt(q, "page"); err != nil {
		return f, p, err
	}
	if p.Limit, err = queryInt(q, "limit"); err != nil {
		return f, p, err
	}
	p.SortBy = q.Get("sort_by")
	switch strings.ToLower(q.Get("sort_order")) {
	case "", "desc":
	case "asc":
		p.Asc = true
	default:
		return f, p, &coupon.InvalidFieldError{Field: "sort_order", Reason: "must be asc or desc"}
	}
	return f, p, nil
}

func queryInt(q url.Values, key string) (int, error) {
	v := q.Get(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, &coupon.InvalidFieldError{Field: key, Reason: "must be a non-negative integer"}
	}
	return n, nil
}

// CreateCoupon issues a new coupon for the caller's organization.
func (h *Handler) CreateCoupon(w http.ResponseWriter, r *http.Request) {
	var req createCouponRequest
	if err := decodeBody(r, req.decode); err != nil {
		writeError(w, r, err)
		return
	}
	if err := checkStruct(h.validate, &req); err != nil {
		writeError(w, r, err)
		return
	}

	ctx := r.Context()
	var createdBy string
	if key, ok := auth.KeyFromContext(ctx); ok {
		createdBy = key.ID
	}
	c, err := h.coupons.Create(ctx, auth.OrganizationFromContext(ctx), createdBy, req.params())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encCoupon(e, c) })
}

// GetCoupon returns one coupon by id.
func (h *Handler) GetCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	c, err := h.coupons.GetByID(ctx, auth.OrganizationFromContext(ctx), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encCoupon(e, c) })
}

// GetCouponByCode returns one coupon by its code, case-insensitively.
func (h *Handler) GetCouponByCode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	c, err := h.coupons.GetByCode(ctx, auth.OrganizationFromContext(ctx), chi.URLParam(r, "code"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encCoupon(e, c) })
}

// UpdateCoupon applies a partial update.
func (h *Handler) UpdateCoupon(w http.ResponseWriter, r *http.Request) {
	var req updateCouponRequest
	if err := decodeBody(r, req.decode); err != nil {
		writeError(w, r, err)
		return
	}
	if err := checkStruct(h.validate, &req); err != nil {
		writeError(w, r, err)
		return
	}

	ctx := r.Context()
	c, err := h.coupons.Update(ctx, auth.OrganizationFromContext(ctx), chi.URLParam(r, "id"), req.params())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encCoupon(e, c) })
}

// CancelCoupon moves a coupon to the cancelled status.
func (h *Handler) CancelCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	c, err := h.coupons.Cancel(ctx, auth.OrganizationFromContext(ctx), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encCoupon(e, c) })
}

// ActiveCoupons lists coupons redeemable right now.
func (h *Handler) ActiveCoupons(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cs, err := h.coupons.Active(ctx, auth.OrganizationFromContext(ctx))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encCoupons(e, cs) })
}

// FlashCoupons lists active flash coupons.
func (h *Handler) FlashCoupons(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cs, err := h.coupons.Flash(ctx, auth.OrganizationFromContext(ctx))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encCoupons(e, cs) })
}

// CouponStats returns the organization's coupon aggregates.
func (h *Handler) CouponStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	st, err := h.coupons.Stats(ctx, auth.OrganizationFromContext(ctx))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encStats(e, st) })
}

// ValidateCoupon reports whether a code applies to a purchase. Rejections
// are answered with 200 and valid=false.
func (h *Handler) ValidateCoupon(w http.ResponseWriter, r *http.Request) {
	var req validateCouponRequest
	if err := decodeBody(r, req.decode); err != nil {
		writeError(w, r, err)
		return
	}
	if err := checkStruct(h.validate, &req); err != nil {
		writeError(w, r, err)
		return
	}

	ctx := r.Context()
	v, err := h.coupons.Validate(ctx, auth.OrganizationFromContext(ctx), req.request())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encValidation(e, v) })
}

// RedeemCoupon validates a code and records its use in one call.
func (h *Handler) RedeemCoupon(w http.ResponseWriter, r *http.Request) {
	var req validateCouponRequest
	if err := decodeBody(r, req.decode); err != nil {
		writeError(w, r, err)
		return
	}
	if err := checkStruct(h.validate, &req); err != nil {
		writeError(w, r, err)
		return
	}

	ctx := r.Context()
	res, err := h.coupons.Redeem(ctx, auth.OrganizationFromContext(ctx), req.request(), req.TransactionID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("discount_amount", func(e *jx.Encoder) { encMoney(e, res.Discount) })
			e.Field("coupon", func(e *jx.Encoder) { encCoupon(e, res.Coupon) })
			e.Field("usage", func(e *jx.Encoder) { encUsage(e, res.Usage) })
		})
	})
}

// UseCoupon records a usage with a caller-computed discount.
func (h *Handler) UseCoupon(w http.ResponseWriter, r *http.Request) {
	var req useCouponRequest
	if err := decodeBody(r, req.decode); err != nil {
		writeError(w, r, err)
		return
	}
	if err := checkStruct(h.validate, &req); err != nil {
		writeError(w, r, err)
		return
	}

	ctx := r.Context()
	u, err := h.coupons.Use(ctx, auth.OrganizationFromContext(ctx), coupon.UseRequest{
		CouponID:        chi.URLParam(r, "id"),
		CustomerID:      req.CustomerID,
		TransactionID:   req.TransactionID,
		DiscountApplied: req.DiscountApplied,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encUsage(e, u) })
}

// CouponUsages lists the usage history of a coupon.
func (h *Handler) CouponUsages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	us, err := h.coupons.Usages(ctx, auth.OrganizationFromContext(ctx), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Arr(func(e *jx.Encoder) {
			for i := range us {
				encUsage(e, &us[i])
			}
		})
	})
}
