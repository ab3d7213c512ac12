package transaction

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/omnily-coupons/internal/domain/coupon"
)

// Sentinel errors for checkout validation.
var (
	ErrInvalidAmount   = errors.New("amount must be greater than 0")
	ErrAmountTooLarge  = errors.New("amount must be less than " + coupon.MaxAmount.String())
	ErrMissingCustomer = errors.New("customer_id required")
)

// Coupons is the part of the coupon service checkout depends on.
type Coupons interface {
	Validate(ctx context.Context, orgID string, req coupon.ValidateRequest) (*coupon.Validation, error)
	Use(ctx context.Context, orgID string, req coupon.UseRequest) (*coupon.Usage, error)
}

// CheckoutRequest holds the input for a checkout.
type CheckoutRequest struct {
	CustomerID   string
	CustomerTier string
	Amount       decimal.Decimal
	CouponCode   string
}

// CheckoutResult holds a persisted transaction and the coupon applied to it.
type CheckoutResult struct {
	Transaction *Transaction
	Coupon      *coupon.Coupon
	Usage       *coupon.Usage
}

// Service encapsulates checkout business logic.
type Service struct {
	coupons Coupons
	txs     Repository
	now     func() time.Time
}

// NewService creates a transaction Service.
func NewService(coupons Coupons, txs Repository) *Service {
	return &Service{
		coupons: coupons,
		txs:     txs,
		now:     time.Now,
	}
}

// Checkout validates the optional coupon against the amount, persists the
// transaction and records the coupon usage against it.
func (s *Service) Checkout(ctx context.Context, orgID string, req CheckoutRequest) (*CheckoutResult, error) {
	if !req.Amount.Round(2).IsPositive() {
		return nil, ErrInvalidAmount
	}
	if req.Amount.Round(2).GreaterThanOrEqual(coupon.MaxAmount) {
		return nil, ErrAmountTooLarge
	}
	if req.CustomerID == "" {
		return nil, ErrMissingCustomer
	}

	var (
		applied  *coupon.Coupon
		discount = decimal.Zero
		code     = coupon.NormalizeCode(req.CouponCode)
	)
	if code != "" {
		v, err := s.coupons.Validate(ctx, orgID, coupon.ValidateRequest{
			Code:           code,
			PurchaseAmount: decimal.NewNullDecimal(req.Amount),
			CustomerID:     req.CustomerID,
			CustomerTier:   req.CustomerTier,
		})
		if err != nil {
			return nil, errors.Wrap(err, "validate coupon")
		}
		if !v.Valid {
			return nil, &coupon.RejectedError{Code: code, Reason: v.Reason}
		}
		applied = v.Coupon
		discount = v.Discount
	}

	// Total = amount - discount, floored at zero and rounded to 2 decimal places.
	total := req.Amount.Sub(discount)
	if total.IsNegative() {
		total = decimal.Zero
	}

	tx := &Transaction{
		ID:             uuid.NewString(),
		OrganizationID: orgID,
		CustomerID:     req.CustomerID,
		Amount:         req.Amount.Round(2),
		Discount:       discount.Round(2),
		Total:          total.Round(2),
		CouponCode:     code,
		CreatedAt:      s.now(),
	}
	if err := s.txs.Create(ctx, tx); err != nil {
		return nil, errors.Wrap(err, "create transaction")
	}

	res := &CheckoutResult{Transaction: tx, Coupon: applied}
	if applied == nil {
		return res, nil
	}

	usage, err := s.coupons.Use(ctx, orgID, coupon.UseRequest{
		CouponID:        applied.ID,
		CustomerID:      req.CustomerID,
		TransactionID:   tx.ID,
		DiscountApplied: tx.Discount,
	})
	if err != nil {
		// A concurrent checkout took the last use, or the customer's last
		// use, between validation and recording; the transaction must not
		// stand with a discount.
		if delErr := s.txs.Delete(ctx, orgID, tx.ID); delErr != nil {
			zctx.From(ctx).Error("Void transaction",
				zap.String("transaction_id", tx.ID),
				zap.Error(delErr),
			)
		}
		if coupon.IsClaimRefused(err) {
			return nil, &coupon.RejectedError{Code: code, Reason: err}
		}
		return nil, errors.Wrap(err, "record coupon usage")
	}
	applied.CurrentUsage++
	res.Usage = usage

	return res, nil
}
