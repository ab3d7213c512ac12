package coupon

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Validator checks a coupon code against a purchase.
type Validator interface {
	Validate(ctx context.Context, orgID string, req ValidateRequest) (*Validation, error)
}

// ValidateRequest is a candidate code with the optional purchase context.
type ValidateRequest struct {
	Code           string
	PurchaseAmount decimal.NullDecimal
	CustomerID     string
	CustomerTier   string
}

// Validation is the outcome of validating a code. When Valid is false,
// Reason holds the rejection and Discount is zero.
type Validation struct {
	Valid    bool
	Reason   error
	Coupon   *Coupon
	Discount decimal.Decimal
}

// Message returns a human-readable summary of the outcome.
func (v *Validation) Message() string {
	if v.Valid {
		return "coupon is valid"
	}
	return v.Reason.Error()
}

func rejected(reason error) *Validation {
	return &Validation{Reason: reason, Discount: decimal.Zero}
}

// Validate runs the ordered eligibility checks and stops at the first
// failure. Lookup failures other than not-found are returned as errors;
// every business rejection is reported through the Validation.
func (s *Service) Validate(ctx context.Context, orgID string, req ValidateRequest) (*Validation, error) {
	ctx, span := s.tracer.Start(ctx, "coupon.Validate")
	defer span.End()

	v, err := s.validate(ctx, orgID, req)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	outcome := "valid"
	if !v.Valid {
		outcome = reasonLabel(v.Reason)
	}
	s.metrics.validations.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))

	return v, nil
}

func (s *Service) validate(ctx context.Context, orgID string, req ValidateRequest) (*Validation, error) {
	c, err := s.coupons.FindByCode(ctx, orgID, NormalizeCode(req.Code))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return rejected(ErrNotFound), nil
		}
		return nil, errors.Wrap(err, "lookup coupon")
	}

	if reason := checkRules(c, req.PurchaseAmount, s.now()); reason != nil {
		return rejected(reason), nil
	}

	if req.CustomerID != "" {
		reason, err := s.checkCustomer(ctx, c, req)
		if err != nil {
			return nil, err
		}
		if reason != nil {
			return rejected(reason), nil
		}
	}

	return &Validation{
		Valid:    true,
		Coupon:   c,
		Discount: ComputeDiscount(c, req.PurchaseAmount),
	}, nil
}

// checkRules applies the coupon-only checks in order: status, validity
// window (inclusive on both ends), usage limit, minimum purchase.
func checkRules(c *Coupon, amount decimal.NullDecimal, now time.Time) error {
	if c.Status != StatusActive {
		return ErrInactive
	}
	if now.Before(c.ValidFrom) || now.After(c.ValidUntil) {
		return ErrOutsideWindow
	}
	if c.UsageLimit != nil && c.CurrentUsage >= *c.UsageLimit {
		return ErrUsageLimitReached
	}
	if c.MinPurchaseAmount.Valid && amount.Valid && amount.Decimal.LessThan(c.MinPurchaseAmount.Decimal) {
		return &MinPurchaseError{Minimum: c.MinPurchaseAmount.Decimal}
	}
	return nil
}

// checkCustomer applies the constraints that need to know who redeems.
// A rejection is returned as reason; err is reserved for lookup failures.
func (s *Service) checkCustomer(ctx context.Context, c *Coupon, req ValidateRequest) (reason, err error) {
	if c.UsagePerCustomer != nil {
		n, err := s.usages.CountByCustomer(ctx, c.OrganizationID, c.ID, req.CustomerID)
		if err != nil {
			return nil, errors.Wrap(err, "count customer usages")
		}
		if n >= *c.UsagePerCustomer {
			return ErrCustomerLimitReached, nil
		}
	}

	if c.FirstPurchaseOnly {
		returning, err := s.history.HasPurchases(ctx, c.OrganizationID, req.CustomerID)
		if err != nil {
			return nil, errors.Wrap(err, "check purchase history")
		}
		if returning {
			return ErrFirstPurchaseOnly, nil
		}
	}

	if c.CustomerTierRequired != "" && !strings.EqualFold(c.CustomerTierRequired, req.CustomerTier) {
		return &TierRequiredError{Tier: c.CustomerTierRequired}, nil
	}

	return nil, nil
}

func reasonLabel(reason error) string {
	var (
		minErr  *MinPurchaseError
		tierErr *TierRequiredError
	)
	switch {
	case errors.Is(reason, ErrNotFound):
		return "not_found"
	case errors.Is(reason, ErrInactive):
		return "inactive"
	case errors.Is(reason, ErrOutsideWindow):
		return "outside_window"
	case errors.Is(reason, ErrUsageLimitReached):
		return "usage_limit"
	case errors.Is(reason, ErrCustomerLimitReached):
		return "customer_limit"
	case errors.Is(reason, ErrFirstPurchaseOnly):
		return "first_purchase_only"
	case errors.As(reason, &minErr):
		return "min_purchase"
	case errors.As(reason, &tierErr):
		return "tier_required"
	default:
		return "rejected"
	}
}
