package coupon

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// CreateParams holds the input for issuing a coupon.
type CreateParams struct {
	Code                 string
	Type                 Type
	Value                decimal.Decimal
	DurationType         string
	Title                string
	Description          string
	TermsConditions      string
	ValidFrom            time.Time
	ValidUntil           time.Time
	MinPurchaseAmount    decimal.NullDecimal
	MaxDiscountAmount    decimal.NullDecimal
	UsageLimit           *int
	UsagePerCustomer     *int
	FirstPurchaseOnly    bool
	CustomerTierRequired string
	ImageURL             string
	BackgroundColor      string
	TextColor            string
	IsFlash              bool
}

// MaxAmount is the exclusive upper bound of stored money values.
var MaxAmount = decimal.New(1, 10)

// maxLimit bounds usage limits to the stored integer range.
const maxLimit = math.MaxInt32

// Validate checks field-level constraints and normalizes the code. Money
// fields are rounded to cents first, as they are stored.
func (p *CreateParams) Validate() error {
	p.Code = NormalizeCode(p.Code)
	p.Value = p.Value.Round(2)
	p.MinPurchaseAmount = roundMoney(p.MinPurchaseAmount)
	p.MaxDiscountAmount = roundMoney(p.MaxDiscountAmount)
	if p.Code == "" {
		return &InvalidFieldError{Field: "code", Reason: "required"}
	}
	if !p.Type.Valid() {
		return &InvalidFieldError{Field: "type", Reason: "unknown coupon type " + string(p.Type)}
	}
	if err := checkValue(p.Type, p.Value); err != nil {
		return err
	}
	if p.ValidFrom.IsZero() || p.ValidUntil.IsZero() {
		return &InvalidFieldError{Field: "valid_until", Reason: "validity window required"}
	}
	if p.ValidUntil.Before(p.ValidFrom) {
		return &InvalidFieldError{Field: "valid_until", Reason: "must not be before valid_from"}
	}
	return checkLimits(p.MinPurchaseAmount, p.MaxDiscountAmount, p.UsageLimit, p.UsagePerCustomer)
}

// Coupon builds a new active coupon from the params.
func (p *CreateParams) Coupon(orgID, userID string) *Coupon {
	durationType := p.DurationType
	if durationType == "" {
		durationType = DefaultDurationType
	}
	return &Coupon{
		OrganizationID:       orgID,
		Code:                 p.Code,
		Type:                 p.Type,
		Value:                p.Value.Round(2),
		DurationType:         durationType,
		Title:                p.Title,
		Description:          p.Description,
		TermsConditions:      p.TermsConditions,
		ValidFrom:            p.ValidFrom,
		ValidUntil:           p.ValidUntil,
		Status:               StatusActive,
		MinPurchaseAmount:    roundMoney(p.MinPurchaseAmount),
		MaxDiscountAmount:    roundMoney(p.MaxDiscountAmount),
		UsageLimit:           p.UsageLimit,
		UsagePerCustomer:     p.UsagePerCustomer,
		FirstPurchaseOnly:    p.FirstPurchaseOnly,
		CustomerTierRequired: p.CustomerTierRequired,
		ImageURL:             p.ImageURL,
		BackgroundColor:      p.BackgroundColor,
		TextColor:            p.TextColor,
		IsFlash:              p.IsFlash,
		CreatedByUserID:      userID,
	}
}

// UpdateParams is a partial update; nil fields are left untouched.
// Code, status and usage counters are not editable here.
type UpdateParams struct {
	Type                 *Type
	Value                *decimal.Decimal
	DurationType         *string
	Title                *string
	Description          *string
	TermsConditions      *string
	ValidFrom            *time.Time
	ValidUntil           *time.Time
	MinPurchaseAmount    *decimal.NullDecimal
	MaxDiscountAmount    *decimal.NullDecimal
	UsageLimit           **int
	UsagePerCustomer     **int
	FirstPurchaseOnly    *bool
	CustomerTierRequired *string
	ImageURL             *string
	BackgroundColor      *string
	TextColor            *string
	IsFlash              *bool
}

// Apply merges the params into c and re-validates the result.
func (p *UpdateParams) Apply(c *Coupon) error {
	set(&c.Type, p.Type)
	set(&c.Value, p.Value)
	set(&c.DurationType, p.DurationType)
	set(&c.Title, p.Title)
	set(&c.Description, p.Description)
	set(&c.TermsConditions, p.TermsConditions)
	set(&c.ValidFrom, p.ValidFrom)
	set(&c.ValidUntil, p.ValidUntil)
	set(&c.MinPurchaseAmount, p.MinPurchaseAmount)
	set(&c.MaxDiscountAmount, p.MaxDiscountAmount)
	set(&c.UsageLimit, p.UsageLimit)
	set(&c.UsagePerCustomer, p.UsagePerCustomer)
	set(&c.FirstPurchaseOnly, p.FirstPurchaseOnly)
	set(&c.CustomerTierRequired, p.CustomerTierRequired)
	set(&c.ImageURL, p.ImageURL)
	set(&c.BackgroundColor, p.BackgroundColor)
	set(&c.TextColor, p.TextColor)
	set(&c.IsFlash, p.IsFlash)
	c.Value = c.Value.Round(2)
	c.MinPurchaseAmount = roundMoney(c.MinPurchaseAmount)
	c.MaxDiscountAmount = roundMoney(c.MaxDiscountAmount)

	if !c.Type.Valid() {
		return &InvalidFieldError{Field: "type", Reason: "unknown coupon type " + string(c.Type)}
	}
	if err := checkValue(c.Type, c.Value); err != nil {
		return err
	}
	if c.ValidUntil.Before(c.ValidFrom) {
		return &InvalidFieldError{Field: "valid_until", Reason: "must not be before valid_from"}
	}
	if err := checkLimits(c.MinPurchaseAmount, c.MaxDiscountAmount, c.UsageLimit, c.UsagePerCustomer); err != nil {
		return err
	}
	if c.UsageLimit != nil && *c.UsageLimit < c.CurrentUsage {
		return &InvalidFieldError{Field: "usage_limit", Reason: "below current usage"}
	}
	return nil
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

func checkValue(t Type, v decimal.Decimal) error {
	if !v.IsPositive() {
		return &InvalidFieldError{Field: "value", Reason: "must be greater than 0"}
	}
	if t == TypePercentage && v.GreaterThan(hundred) {
		return &InvalidFieldError{Field: "value", Reason: "percentage must not exceed 100"}
	}
	if v.GreaterThanOrEqual(MaxAmount) {
		return &InvalidFieldError{Field: "value", Reason: "must be less than " + MaxAmount.String()}
	}
	return nil
}

func roundMoney(d decimal.NullDecimal) decimal.NullDecimal {
	if d.Valid {
		d.Decimal = d.Decimal.Round(2)
	}
	return d
}

func checkMoney(field string, d decimal.NullDecimal) error {
	if !d.Valid {
		return nil
	}
	if d.Decimal.IsNegative() {
		return &InvalidFieldError{Field: field, Reason: "must not be negative"}
	}
	if d.Decimal.GreaterThanOrEqual(MaxAmount) {
		return &InvalidFieldError{Field: field, Reason: "must be less than " + MaxAmount.String()}
	}
	return nil
}

func checkCount(field string, n *int) error {
	if n == nil {
		return nil
	}
	if *n <= 0 {
		return &InvalidFieldError{Field: field, Reason: "must be greater than 0"}
	}
	if *n > maxLimit {
		return &InvalidFieldError{Field: field, Reason: "must not exceed 2147483647"}
	}
	return nil
}

func checkLimits(minPurchase, maxDiscount decimal.NullDecimal, usageLimit, perCustomer *int) error {
	if err := checkMoney("min_purchase_amount", minPurchase); err != nil {
		return err
	}
	if err := checkMoney("max_discount_amount", maxDiscount); err != nil {
		return err
	}
	if err := checkCount("usage_limit", usageLimit); err != nil {
		return err
	}
	return checkCount("usage_per_customer", perCustomer)
}
