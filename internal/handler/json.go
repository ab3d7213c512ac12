package handler

import (
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/omnily-coupons/internal/domain/coupon"
	"github.com/xenking/omnily-coupons/internal/domain/transaction"
)

const maxBodyBytes = 1 << 20

// errBadJSON marks malformed request bodies.
var errBadJSON = errors.New("malformed JSON body")

type fieldReader func(d *jx.Decoder, key string) error

// decodeBody reads a JSON object from the request body, calling read for
// every key. Unknown keys must be skipped by read.
func decodeBody(r *http.Request, read fieldReader) error {
	body, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err != nil {
		return errors.Wrap(errBadJSON, err.Error())
	}
	if len(body) == 0 {
		return errors.Wrap(errBadJSON, "empty body")
	}
	if err := jx.DecodeBytes(body).Obj(read); err != nil {
		return wrapDecode(err)
	}
	return nil
}

func wrapDecode(err error) error {
	var fe *coupon.InvalidFieldError
	if errors.As(err, &fe) {
		return err
	}
	return errors.Wrap(errBadJSON, err.Error())
}

func readString(d *jx.Decoder) (string, error) {
	if d.Next() == jx.Null {
		return "", d.Null()
	}
	return d.Str()
}

func readStringPtr(d *jx.Decoder) (*string, error) {
	s, err := readString(d)
	return &s, err
}

func readBool(d *jx.Decoder) (bool, error) {
	if d.Next() == jx.Null {
		return false, d.Null()
	}
	return d.Bool()
}

// readDecimal accepts a JSON number or a numeric string.
func readDecimal(d *jx.Decoder, field string) (decimal.Decimal, error) {
	var raw string
	switch d.Next() {
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Zero, err
		}
		raw = n.String()
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		raw = s
	default:
		return decimal.Zero, &coupon.InvalidFieldError{Field: field, Reason: "must be a number"}
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, &coupon.InvalidFieldError{Field: field, Reason: "must be a number"}
	}
	return v, nil
}

func readNullDecimal(d *jx.Decoder, field string) (decimal.NullDecimal, error) {
	if d.Next() == jx.Null {
		return decimal.NullDecimal{}, d.Null()
	}
	v, err := readDecimal(d, field)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(v), nil
}

func readIntPtr(d *jx.Decoder, field string) (*int, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	if d.Next() != jx.Number {
		return nil, &coupon.InvalidFieldError{Field: field, Reason: "must be an integer"}
	}
	n, err := d.Int()
	if err != nil {
		return nil, &coupon.InvalidFieldError{Field: field, Reason: "must be an integer"}
	}
	return &n, nil
}

func readTime(d *jx.Decoder, field string) (time.Time, error) {
	s, err := d.Str()
	if err != nil {
		return time.Time{}, &coupon.InvalidFieldError{Field: field, Reason: "must be an RFC 3339 timestamp"}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, &coupon.InvalidFieldError{Field: field, Reason: "must be an RFC 3339 timestamp"}
	}
	return t, nil
}

// --- Encoding ---

func writeJSON(w http.ResponseWriter, status int, enc func(e *jx.Encoder)) {
	var e jx.Encoder
	enc(&e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

func encMoney(e *jx.Encoder, v decimal.Decimal) {
	e.Num(jx.Num(v.StringFixed(2)))
}

func encNullMoney(e *jx.Encoder, v decimal.NullDecimal) {
	if !v.Valid {
		e.Null()
		return
	}
	encMoney(e, v.Decimal)
}

func encIntPtr(e *jx.Encoder, v *int) {
	if v == nil {
		e.Null()
		return
	}
	e.Int(*v)
}

func encOptString(e *jx.Encoder, v string) {
	if v == "" {
		e.Null()
		return
	}
	e.Str(v)
}

func encTime(e *jx.Encoder, t time.Time) {
	e.Str(t.UTC().Format(time.RFC3339))
}

func encCoupon(e *jx.Encoder, c *coupon.Coupon) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(c.ID) })
		e.Field("organization_id", func(e *jx.Encoder) { e.Str(c.OrganizationID) })
		e.Field("code", func(e *jx.Encoder) { e.Str(c.Code) })
		e.Field("type", func(e *jx.Encoder) { e.Str(string(c.Type)) })
		e.Field("value", func(e *jx.Encoder) { encMoney(e, c.Value) })
		e.Field("duration_type", func(e *jx.Encoder) { e.Str(c.DurationType) })
		e.Field("title", func(e *jx.Encoder) { e.Str(c.Title) })
		e.Field("description", func(e *jx.Encoder) { e.Str(c.Description) })
		e.Field("terms_conditions", func(e *jx.Encoder) { e.Str(c.TermsConditions) })
		e.Field("valid_from", func(e *jx.Encoder) { encTime(e, c.ValidFrom) })
		e.Field("valid_until", func(e *jx.Encoder) { encTime(e, c.ValidUntil) })
		e.Field("status", func(e *jx.Encoder) { e.Str(string(c.Status)) })
		e.Field("min_purchase_amount", func(e *jx.Encoder) { encNullMoney(e, c.MinPurchaseAmount) })
		e.Field("max_discount_amount", func(e *jx.Encoder) { encNullMoney(e, c.MaxDiscountAmount) })
		e.Field("usage_limit", func(e *jx.Encoder) { encIntPtr(e, c.UsageLimit) })
		e.Field("usage_per_customer", func(e *jx.Encoder) { encIntPtr(e, c.UsagePerCustomer) })
		e.Field("current_usage", func(e *jx.Encoder) { e.Int(c.CurrentUsage) })
		e.Field("first_purchase_only", func(e *jx.Encoder) { e.Bool(c.FirstPurchaseOnly) })
		e.Field("customer_tier_required", func(e *jx.Encoder) { encOptString(e, c.CustomerTierRequired) })
		e.Field("image_url", func(e *jx.Encoder) { e.Str(c.ImageURL) })
		e.Field("background_color", func(e *jx.Encoder) { e.Str(c.BackgroundColor) })
		e.Field("text_color", func(e *jx.Encoder) { e.Str(c.TextColor) })
		e.Field("is_flash", func(e *jx.Encoder) { e.Bool(c.IsFlash) })
		e.Field("created_by_user_id", func(e *jx.Encoder) { e.Str(c.CreatedByUserID) })
		e.Field("created_at", func(e *jx.Encoder) { encTime(e, c.CreatedAt) })
		e.Field("updated_at", func(e *jx.Encoder) { encTime(e, c.UpdatedAt) })
	})
}

func encCoupons(e *jx.Encoder, cs []coupon.Coupon) {
	e.Arr(func(e *jx.Encoder) {
		for i := range cs {
			encCoupon(e, &cs[i])
		}
	})
}

func encUsage(e *jx.Encoder, u *coupon.Usage) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(u.ID) })
		e.Field("coupon_id", func(e *jx.Encoder) { e.Str(u.CouponID) })
		e.Field("organization_id", func(e *jx.Encoder) { e.Str(u.OrganizationID) })
		e.Field("customer_id", func(e *jx.Encoder) { e.Str(u.CustomerID) })
		e.Field("transaction_id", func(e *jx.Encoder) { encOptString(e, u.TransactionID) })
		e.Field("discount_applied", func(e *jx.Encoder) { encMoney(e, u.DiscountApplied) })
		e.Field("used_at", func(e *jx.Encoder) { encTime(e, u.UsedAt) })
	})
}

func encPage(e *jx.Encoder, p *coupon.PageResult) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("data", func(e *jx.Encoder) { encCoupons(e, p.Items) })
		e.Field("total", func(e *jx.Encoder) { e.Int(p.Total) })
		e.Field("page", func(e *jx.Encoder) { e.Int(p.Page) })
		e.Field("limit", func(e *jx.Encoder) { e.Int(p.Limit) })
		e.Field("total_pages", func(e *jx.Encoder) { e.Int(p.TotalPages) })
	})
}

func encValidation(e *jx.Encoder, v *coupon.Validation) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("valid", func(e *jx.Encoder) { e.Bool(v.Valid) })
		e.Field("message", func(e *jx.Encoder) { e.Str(v.Message()) })
		e.Field("discount_amount", func(e *jx.Encoder) { encMoney(e, v.Discount) })
		if v.Coupon != nil {
			e.Field("coupon", func(e *jx.Encoder) { encCoupon(e, v.Coupon) })
		}
	})
}

func encStats(e *jx.Encoder, s *coupon.Stats) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("total_coupons", func(e *jx.Encoder) { e.Int(s.TotalCoupons) })
		e.Field("active_coupons", func(e *jx.Encoder) { e.Int(s.ActiveCoupons) })
		e.Field("total_usage", func(e *jx.Encoder) { e.Int(s.TotalUsage) })
		e.Field("total_discount_given", func(e *jx.Encoder) { encMoney(e, s.TotalDiscountGiven) })
		e.Field("avg_discount_per_use", func(e *jx.Encoder) { encMoney(e, s.AvgDiscountPerUse) })
		e.Field("most_used_coupon", func(e *jx.Encoder) {
			if s.MostUsedCoupon == nil {
				e.Null()
				return
			}
			m := s.MostUsedCoupon
			e.Obj(func(e *jx.Encoder) {
				e.Field("id", func(e *jx.Encoder) { e.Str(m.ID) })
				e.Field("code", func(e *jx.Encoder) { e.Str(m.Code) })
				e.Field("usage_count", func(e *jx.Encoder) { e.Int(m.UsageCount) })
			})
		})
		e.Field("expiring_soon_count", func(e *jx.Encoder) { e.Int(s.ExpiringSoonCount) })
	})
}

func encTransaction(e *jx.Encoder, res *transaction.CheckoutResult) {
	tx := res.Transaction
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(tx.ID) })
		e.Field("customer_id", func(e *jx.Encoder) { e.Str(tx.CustomerID) })
		e.Field("amount", func(e *jx.Encoder) { encMoney(e, tx.Amount) })
		e.Field("discount", func(e *jx.Encoder) { encMoney(e, tx.Discount) })
		e.Field("total", func(e *jx.Encoder) { encMoney(e, tx.Total) })
		e.Field("coupon_code", func(e *jx.Encoder) { encOptString(e, tx.CouponCode) })
		e.Field("created_at", func(e *jx.Encoder) { encTime(e, tx.CreatedAt) })
		if res.Usage != nil {
			e.Field("usage", func(e *jx.Encoder) { encUsage(e, res.Usage) })
		}
	})
}
