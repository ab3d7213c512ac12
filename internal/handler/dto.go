package handler

import (
	"reflect"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/xenking/omnily-coupons/internal/domain/coupon"
	"github.com/xenking/omnily-coupons/internal/domain/transaction"
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// checkStruct runs tag validation and reports the first failing field.
func checkStruct(v *validator.Validate, s any) error {
	err := v.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	return &coupon.InvalidFieldError{Field: fe.Field(), Reason: describeTag(fe)}
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "required"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "url":
		return "must be a URL"
	case "hexcolor":
		return "must be a hex color"
	default:
		return "failed " + fe.Tag() + " check"
	}
}

type createCouponRequest struct {
	Code                 string              `json:"code" validate:"required,max=50"`
	Type                 string              `json:"type" validate:"required,oneof=percentage fixed_amount free_product buy_x_get_y free_shipping"`
	Value                decimal.Decimal     `json:"value"`
	DurationType         string              `json:"duration_type" validate:"omitempty,max=50"`
	Title                string              `json:"title" validate:"required,max=255"`
	Description          string              `json:"description"`
	TermsConditions      string              `json:"terms_conditions"`
	ValidFrom            time.Time           `json:"valid_from"`
	ValidUntil           time.Time           `json:"valid_until"`
	MinPurchaseAmount    decimal.NullDecimal `json:"min_purchase_amount"`
	MaxDiscountAmount    decimal.NullDecimal `json:"max_discount_amount"`
	UsageLimit           *int                `json:"usage_limit"`
	UsagePerCustomer     *int                `json:"usage_per_customer"`
	FirstPurchaseOnly    bool                `json:"first_purchase_only"`
	CustomerTierRequired string              `json:"customer_tier_required" validate:"omitempty,max=50"`
	ImageURL             string              `json:"image_url" validate:"omitempty,url"`
	BackgroundColor      string              `json:"background_color" validate:"omitempty,hexcolor"`
	TextColor            string              `json:"text_color" validate:"omitempty,hexcolor"`
	IsFlash              bool                `json:"is_flash"`
}

func (r *createCouponRequest) decode(d *jx.Decoder, key string) (err error) {
	switch key {
	case "code":
		r.Code, err = readString(d)
	case "type":
		r.Type, err = readString(d)
	case "value":
		r.Value, err = readDecimal(d, key)
	case "duration_type":
		r.DurationType, err = readString(d)
	case "title":
		r.Title, err = readString(d)
	case "description":
		r.Description, err = readString(d)
	case "terms_conditions":
		r.TermsConditions, err = readString(d)
	case "valid_from":
		r.ValidFrom, err = readTime(d, key)
	case "valid_until":
		r.ValidUntil, err = readTime(d, key)
	case "min_purchase_amount":
		r.MinPurchaseAmount, err = readNullDecimal(d, key)
	case "max_discount_amount":
		r.MaxDiscountAmount, err = readNullDecimal(d, key)
	case "usage_limit":
		r.UsageLimit, err = readIntPtr(d, key)
	case "usage_per_customer":
		r.UsagePerCustomer, err = readIntPtr(d, key)
	case "first_purchase_only":
		r.FirstPurchaseOnly, err = readBool(d)
	case "customer_tier_required":
		r.CustomerTierRequired, err = readString(d)
	case "image_url":
		r.ImageURL, err = readString(d)
	case "background_color":
		r.BackgroundColor, err = readString(d)
	case "text_color":
		r.TextColor, err = readString(d)
	case "is_flash":
		r.IsFlash, err = readBool(d)
	default:
		err = d.Skip()
	}
	return err
}

func (r *createCouponRequest) params() coupon.CreateParams {
	return coupon.CreateParams{
		Code:                 r.Code,
		Type:                 coupon.Type(r.Type),
		Value:                r.Value,
		DurationType:         r.DurationType,
		Title:                r.Title,
		Description:          r.Description,
		TermsConditions:      r.TermsConditions,
		ValidFrom:            r.ValidFrom,
		ValidUntil:           r.ValidUntil,
		MinPurchaseAmount:    r.MinPurchaseAmount,
		MaxDiscountAmount:    r.MaxDiscountAmount,
		UsageLimit:           r.UsageLimit,
		UsagePerCustomer:     r.UsagePerCustomer,
		FirstPurchaseOnly:    r.FirstPurchaseOnly,
		CustomerTierRequired: r.CustomerTierRequired,
		ImageURL:             r.ImageURL,
		BackgroundColor:      r.BackgroundColor,
		TextColor:            r.TextColor,
		IsFlash:              r.IsFlash,
	}
}

// updateCouponRequest distinguishes absent keys (nil) from explicit nulls
// on the nullable limit fields.
type updateCouponRequest struct {
	Type                 *string `json:"type" validate:"omitempty,oneof=percentage fixed_amount free_product buy_x_get_y free_shipping"`
	Title                *string `json:"title" validate:"omitempty,max=255"`
	DurationType         *string `json:"duration_type" validate:"omitempty,max=50"`
	Description          *string `json:"description"`
	TermsConditions      *string `json:"terms_conditions"`
	CustomerTierRequired *string `json:"customer_tier_required" validate:"omitempty,max=50"`
	ImageURL             *string `json:"image_url" validate:"omitempty,url"`
	BackgroundColor      *string `json:"background_color" validate:"omitempty,hexcolor"`
	TextColor            *string `json:"text_color" validate:"omitempty,hexcolor"`

	p coupon.UpdateParams
}

func (r *updateCouponRequest) decode(d *jx.Decoder, key string) error {
	switch key {
	case "code", "status", "current_usage":
		return &coupon.InvalidFieldError{Field: key, Reason: "cannot be updated"}
	case "type":
		return readInto(d, &r.Type)
	case "title":
		return readInto(d, &r.Title)
	case "duration_type":
		return readInto(d, &r.DurationType)
	case "description":
		return readInto(d, &r.Description)
	case "terms_conditions":
		return readInto(d, &r.TermsConditions)
	case "customer_tier_required":
		return readInto(d, &r.CustomerTierRequired)
	case "image_url":
		return readInto(d, &r.ImageURL)
	case "background_color":
		return readInto(d, &r.BackgroundColor)
	case "text_color":
		return readInto(d, &r.TextColor)
	case "value":
		v, err := readDecimal(d, key)
		r.p.Value = &v
		return err
	case "valid_from":
		t, err := readTime(d, key)
		r.p.ValidFrom = &t
		return err
	case "valid_until":
		t, err := readTime(d, key)
		r.p.ValidUntil = &t
		return err
	case "min_purchase_amount":
		v, err := readNullDecimal(d, key)
		r.p.MinPurchaseAmount = &v
		return err
	case "max_discount_amount":
		v, err := readNullDecimal(d, key)
		r.p.MaxDiscountAmount = &v
		return err
	case "usage_limit":
		v, err := readIntPtr(d, key)
		r.p.UsageLimit = &v
		return err
	case "usage_per_customer":
		v, err := readIntPtr(d, key)
		r.p.UsagePerCustomer = &v
		return err
	case "first_purchase_only":
		v, err := readBool(d)
		r.p.FirstPurchaseOnly = &v
		return err
	case "is_flash":
		v, err := readBool(d)
		r.p.IsFlash = &v
		return err
	default:
		return d.Skip()
	}
}

func readInto(d *jx.Decoder, dst **string) error {
	s, err := readStringPtr(d)
	*dst = s
	return err
}

func (r *updateCouponRequest) params() coupon.UpdateParams {
	p := r.p
	if r.Type != nil {
		t := coupon.Type(*r.Type)
		p.Type = &t
	}
	p.Title = r.Title
	p.DurationType = r.DurationType
	p.Description = r.Description
	p.TermsConditions = r.TermsConditions
	p.CustomerTierRequired = r.CustomerTierRequired
	p.ImageURL = r.ImageURL
	p.BackgroundColor = r.BackgroundColor
	p.TextColor = r.TextColor
	return p
}

type validateCouponRequest struct {
	Code           string              `json:"code" validate:"required,max=50"`
	PurchaseAmount decimal.NullDecimal `json:"purchase_amount"`
	CustomerID     string              `json:"customer_id" validate:"omitempty,max=255"`
	CustomerTier   string              `json:"customer_tier" validate:"omitempty,max=50"`
	TransactionID  string              `json:"transaction_id" validate:"omitempty,max=255"`
}

func (r *validateCouponRequest) decode(d *jx.Decoder, key string) (err error) {
	switch key {
	case "code":
		r.Code, err = readString(d)
	case "purchase_amount":
		r.PurchaseAmount, err = readNullDecimal(d, key)
	case "customer_id":
		r.CustomerID, err = readString(d)
	case "customer_tier":
		r.CustomerTier, err = readString(d)
	case "transaction_id":
		r.TransactionID, err = readString(d)
	default:
		err = d.Skip()
	}
	return err
}

func (r *validateCouponRequest) request() coupon.ValidateRequest {
	return coupon.ValidateRequest{
		Code:           r.Code,
		PurchaseAmount: r.PurchaseAmount,
		CustomerID:     r.CustomerID,
		CustomerTier:   r.CustomerTier,
	}
}

type useCouponRequest struct {
	CustomerID      string          `json:"customer_id" validate:"required,max=255"`
	TransactionID   string          `json:"transaction_id" validate:"omitempty,max=255"`
	DiscountApplied decimal.Decimal `json:"discount_applied"`
}

func (r *useCouponRequest) decode(d *jx.Decoder, key string) (err error) {
	switch key {
	case "customer_id":
		r.CustomerID, err = readString(d)
	case "transaction_id":
		r.TransactionID, err = readString(d)
	case "discount_applied":
		r.DiscountApplied, err = readDecimal(d, key)
	default:
		err = d.Skip()
	}
	return err
}

type checkoutRequest struct {
	CustomerID   string          `json:"customer_id" validate:"required,max=255"`
	CustomerTier string          `json:"customer_tier" validate:"omitempty,max=50"`
	Amount       decimal.Decimal `json:"amount"`
	CouponCode   string          `json:"coupon_code" validate:"omitempty,max=50"`
}

func (r *checkoutRequest) decode(d *jx.Decoder, key string) (err error) {
	switch key {
	case "customer_id":
		r.CustomerID, err = readString(d)
	case "customer_tier":
		r.CustomerTier, err = readString(d)
	case "amount":
		r.Amount, err = readDecimal(d, key)
	case "coupon_code":
		r.CouponCode, err = readString(d)
	default:
		err = d.Skip()
	}
	return err
}

func (r *checkoutRequest) request() transaction.CheckoutRequest {
	return transaction.CheckoutRequest{
		CustomerID:   r.CustomerID,
		CustomerTier: r.CustomerTier,
		Amount:       r.Amount,
		CouponCode:   r.CouponCode,
	}
}
