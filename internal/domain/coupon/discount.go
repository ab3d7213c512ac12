package coupon

import (
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// ComputeDiscount returns the discount the coupon grants on the given
// purchase amount. Percentage coupons need an amount; fixed-amount coupons
// ignore it. Product, bundle and shipping coupons carry no monetary
// discount here. The result is clamped to MaxDiscountAmount when set and
// rounded to cents.
func ComputeDiscount(c *Coupon, amount decimal.NullDecimal) decimal.Decimal {
	discount := decimal.Zero

	switch c.Type {
	case TypePercentage:
		if amount.Valid {
			discount = amount.Decimal.Mul(c.Value).Div(hundred)
		}
	case TypeFixedAmount:
		discount = c.Value
	}

	if c.MaxDiscountAmount.Valid && discount.GreaterThan(c.MaxDiscountAmount.Decimal) {
		discount = c.MaxDiscountAmount.Decimal
	}
	if discount.IsNegative() {
		discount = decimal.Zero
	}

	return discount.Round(2)
}
