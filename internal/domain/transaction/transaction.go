package transaction

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is a completed point-of-sale purchase, optionally discounted
// by a coupon.
type Transaction struct {
	ID             string
	OrganizationID string
	CustomerID     string
	Amount         decimal.Decimal
	Discount       decimal.Decimal
	Total          decimal.Decimal
	CouponCode     string
	CreatedAt      time.Time
}

// Repository defines persistence operations for transactions.
type Repository interface {
	Create(ctx context.Context, tx *Transaction) error
	Delete(ctx context.Context, orgID, id string) error
}
