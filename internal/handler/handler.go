// Package handler exposes the coupon and checkout services over HTTP.
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/xenking/omnily-coupons/internal/domain/auth"
	"github.com/xenking/omnily-coupons/internal/domain/coupon"
	"github.com/xenking/omnily-coupons/internal/domain/transaction"
	"github.com/xenking/omnily-coupons/pkg/httpmiddleware"
)

// CouponService is the coupon domain surface served over HTTP.
type CouponService interface {
	coupon.Validator
	Create(ctx context.Context, orgID, userID string, p coupon.CreateParams) (*coupon.Coupon, error)
	Update(ctx context.Context, orgID, id string, p coupon.UpdateParams) (*coupon.Coupon, error)
	Cancel(ctx context.Context, orgID, id string) (*coupon.Coupon, error)
	GetByID(ctx context.Context, orgID, id string) (*coupon.Coupon, error)
	GetByCode(ctx context.Context, orgID, code string) (*coupon.Coupon, error)
	List(ctx context.Context, orgID string, f coupon.Filter, p coupon.Page) (*coupon.PageResult, error)
	Active(ctx context.Context, orgID string) ([]coupon.Coupon, error)
	Flash(ctx context.Context, orgID string) ([]coupon.Coupon, error)
	Redeem(ctx context.Context, orgID string, req coupon.ValidateRequest, transactionID string) (*coupon.Redemption, error)
	Use(ctx context.Context, orgID string, req coupon.UseRequest) (*coupon.Usage, error)
	Usages(ctx context.Context, orgID, couponID string) ([]coupon.Usage, error)
	Stats(ctx context.Context, orgID string) (*coupon.Stats, error)
}

// CheckoutService records purchases with an optional coupon.
type CheckoutService interface {
	Checkout(ctx context.Context, orgID string, req transaction.CheckoutRequest) (*transaction.CheckoutResult, error)
}

// Probes serves the liveness and readiness endpoints.
type Probes interface {
	LiveEndpoint(w http.ResponseWriter, r *http.Request)
	ReadyEndpoint(w http.ResponseWriter, r *http.Request)
}

// Handler serves the coupon API.
type Handler struct {
	coupons  CouponService
	checkout CheckoutService
	validate *validator.Validate
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(coupons CouponService, checkout CheckoutService) *Handler {
	return &Handler{
		coupons:  coupons,
		checkout: checkout,
		validate: newValidator(),
	}
}

// NewRouter mounts the API and probe routes. Middlewares run inside the
// router, so they can observe the matched route pattern.
func NewRouter(h *Handler, sec *Security, probes Probes, middlewares ...httpmiddleware.Middleware) http.Handler {
	r := chi.NewRouter()
	for _, m := range middlewares {
		r.Use(m)
	}

	r.Get("/livez", probes.LiveEndpoint)
	r.Get("/readyz", probes.ReadyEndpoint)

	read := RequireScope(auth.ScopeCouponsRead)
	write := RequireScope(auth.ScopeCouponsWrite)
	redeem := RequireScope(auth.ScopeCouponsRedeem)

	r.Route("/api", func(r chi.Router) {
		r.Use(sec.Authenticate)

		r.Route("/coupons", func(r chi.Router) {
			r.With(read).Get("/", h.ListCoupons)
			r.With(write).Post("/", h.CreateCoupon)
			r.With(read).Get("/active", h.ActiveCoupons)
			r.With(read).Get("/flash", h.FlashCoupons)
			r.With(read).Get("/stats", h.CouponStats)
			r.With(read).Get("/code/{code}", h.GetCouponByCode)
			r.With(read).Post("/validate", h.ValidateCoupon)
			r.With(redeem).Post("/redeem", h.RedeemCoupon)

			r.Route("/{id}", func(r chi.Router) {
				r.With(read).Get("/", h.GetCoupon)
				r.With(write).Patch("/", h.UpdateCoupon)
				r.With(write).Post("/cancel", h.CancelCoupon)
				r.With(read).Get("/usages", h.CouponUsages)
				r.With(redeem).Post("/use", h.UseCoupon)
			})
		})

		r.With(redeem).Post("/transactions", h.Checkout)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		httpmiddleware.WriteError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		httpmiddleware.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}
