package coupon

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Type enumerates the supported coupon discount strategies.
type Type string

const (
	// TypePercentage takes a percentage of the purchase amount.
	TypePercentage Type = "percentage"
	// TypeFixedAmount takes a fixed monetary amount regardless of purchase.
	TypeFixedAmount Type = "fixed_amount"
	// TypeFreeProduct grants a product; fulfilled by downstream order logic.
	TypeFreeProduct Type = "free_product"
	// TypeBuyXGetY grants extra items; fulfilled by downstream order logic.
	TypeBuyXGetY Type = "buy_x_get_y"
	// TypeFreeShipping waives shipping; fulfilled by downstream order logic.
	TypeFreeShipping Type = "free_shipping"
)

// Valid reports whether t is a known discount type.
func (t Type) Valid() bool {
	switch t {
	case TypePercentage, TypeFixedAmount, TypeFreeProduct, TypeBuyXGetY, TypeFreeShipping:
		return true
	default:
		return false
	}
}

// Status is the lifecycle state of a coupon.
type Status string

const (
	StatusActive    Status = "active"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
	StatusUsed      Status = "used"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusExpired, StatusCancelled, StatusUsed:
		return true
	default:
		return false
	}
}

// DefaultDurationType is assigned when a coupon is created without one.
const DefaultDurationType = "standard"

var (
	// ErrNotFound is returned when no coupon matches the id or code within
	// the organization.
	ErrNotFound = errors.New("coupon not found")
	// ErrInactive rejects a coupon whose status is not active.
	ErrInactive = errors.New("coupon is no longer valid")
	// ErrOutsideWindow rejects a coupon outside its validity window.
	ErrOutsideWindow = errors.New("coupon expired or not yet valid")
	// ErrUsageLimitReached rejects a coupon that exhausted its usage limit.
	ErrUsageLimitReached = errors.New("usage limit reached")
	// ErrCustomerLimitReached rejects a customer that exhausted their own
	// allowance of the coupon.
	ErrCustomerLimitReached = errors.New("per-customer usage limit reached")
	// ErrFirstPurchaseOnly rejects a returning customer.
	ErrFirstPurchaseOnly = errors.New("coupon valid on first purchase only")
	// ErrCodeExists is returned when creating a coupon whose code is
	// already taken within the organization.
	ErrCodeExists = errors.New("coupon code already exists")
)

// MinPurchaseError rejects a purchase below the coupon minimum. The
// minimum is quoted back to the caller.
type MinPurchaseError struct {
	Minimum decimal.Decimal
}

func (e *MinPurchaseError) Error() string {
	return "minimum purchase required: " + e.Minimum.StringFixed(2)
}

// TierRequiredError rejects a customer outside the required tier.
type TierRequiredError struct {
	Tier string
}

func (e *TierRequiredError) Error() string {
	return "customer tier " + e.Tier + " required"
}

// InvalidFieldError reports malformed input for a single field.
type InvalidFieldError struct {
	Field  string
	Reason string
}

func (e *InvalidFieldError) Error() string {
	return e.Field + ": " + e.Reason
}

// RejectedError is returned by operations that require a valid coupon
// (Redeem, checkout) when validation rejects it. Reason is one of the
// rejection errors above.
type RejectedError struct {
	Code   string
	Reason error
}

func (e *RejectedError) Error() string {
	return "coupon " + e.Code + " rejected: " + e.Reason.Error()
}

func (e *RejectedError) Unwrap() error {
	return e.Reason
}

// Coupon is a promotional code scoped to one organization.
type Coupon struct {
	ID                   string
	OrganizationID       string
	Code                 string
	Type                 Type
	Value                decimal.Decimal
	DurationType         string
	Title                string
	Description          string
	TermsConditions      string
	ValidFrom            time.Time
	ValidUntil           time.Time
	Status               Status
	MinPurchaseAmount    decimal.NullDecimal
	MaxDiscountAmount    decimal.NullDecimal
	UsageLimit           *int
	UsagePerCustomer     *int
	CurrentUsage         int
	FirstPurchaseOnly    bool
	CustomerTierRequired string
	ImageURL             string
	BackgroundColor      string
	TextColor            string
	IsFlash              bool
	CreatedByUserID      string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Usage is one append-only redemption record.
type Usage struct {
	ID              string
	CouponID        string
	OrganizationID  string
	CustomerID      string
	TransactionID   string
	DiscountApplied decimal.Decimal
	UsedAt          time.Time
}

// NormalizeCode returns the canonical stored form of a coupon code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Filter narrows a coupon listing. Zero values are ignored.
type Filter struct {
	Statuses     []Status
	Type         Type
	DurationType string
	IsFlash      *bool
	SearchCode   string
	ValidFrom    *time.Time
	ValidUntil   *time.Time
}

// Page selects a window of a listing.
type Page struct {
	Number int
	Limit  int
	SortBy string
	Asc    bool
}

// Offset returns the row offset of the page.
func (p Page) Offset() int {
	return (p.Number - 1) * p.Limit
}

// PageResult is one page of coupons plus totals.
type PageResult struct {
	Items      []Coupon
	Total      int
	Page       int
	Limit      int
	TotalPages int
}

// Repository provides persistence of coupons.
type Repository interface {
	Create(ctx context.Context, c *Coupon) error
	Update(ctx context.Context, c *Coupon) error
	SetStatus(ctx context.Context, orgID, id string, status Status, at time.Time) error
	GetByID(ctx context.Context, orgID, id string) (*Coupon, error)
	FindByCode(ctx context.Context, orgID, code string) (*Coupon, error)
	List(ctx context.Context, orgID string, f Filter, p Page) ([]Coupon, int, error)
	ListActive(ctx context.Context, orgID string, now time.Time) ([]Coupon, error)
	ListFlash(ctx context.Context, orgID string) ([]Coupon, error)
	All(ctx context.Context, orgID string) ([]Coupon, error)
	ExpireOverdue(ctx context.Context, now time.Time) (int64, error)
}

// UsageRepository persists redemption records.
type UsageRepository interface {
	// Record inserts the usage and increments the coupon's usage counter.
	// It returns ErrUsageLimitReached when the counter is already at the
	// coupon's usage limit, and ErrCustomerLimitReached when the customer
	// already holds usage_per_customer usages. Both checks are atomic with
	// the insert.
	Record(ctx context.Context, u *Usage) error
	ListByCoupon(ctx context.Context, orgID, couponID string) ([]Usage, error)
	CountByCustomer(ctx context.Context, orgID, couponID, customerID string) (int, error)
	Totals(ctx context.Context, orgID string) (count int, discount decimal.Decimal, err error)
}

// CustomerHistory answers questions about a customer's past purchases.
type CustomerHistory interface {
	HasPurchases(ctx context.Context, orgID, customerID string) (bool, error)
}
