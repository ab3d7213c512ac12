package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/omnily-coupons/internal/domain/coupon"
)

const (
	// The guard keeps current_usage <= usage_limit under concurrent
	// redemptions; the row lock taken by UPDATE serializes them until
	// commit, which also makes the per-customer count below race-free.
	claimCouponUseSQL = `UPDATE coupons SET current_usage = current_usage + 1, updated_at = $3
		WHERE organization_id = $1 AND id = $2
		AND (usage_limit IS NULL OR current_usage < usage_limit)
		RETURNING usage_per_customer`

	couponExistsSQL = `SELECT EXISTS (SELECT 1 FROM coupons WHERE organization_id = $1 AND id = $2)`

	insertUsageSQL = `INSERT INTO coupon_usages (id, coupon_id, organization_id, customer_id,
		transaction_id, discount_applied, used_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7)`

	listUsagesSQL = `SELECT id, coupon_id, organization_id, customer_id,
		COALESCE(transaction_id, ''), discount_applied, used_at
		FROM coupon_usages WHERE organization_id = $1 AND coupon_id = $2
		ORDER BY used_at DESC`

	countCustomerUsagesSQL = `SELECT COUNT(*) FROM coupon_usages
		WHERE organization_id = $1 AND coupon_id = $2 AND customer_id = $3`

	usageTotalsSQL = `SELECT COUNT(*), COALESCE(SUM(discount_applied), 0)
		FROM coupon_usages WHERE organization_id = $1`
)

var _ coupon.UsageRepository = (*UsageRepository)(nil)

// UsageRepository implements coupon.UsageRepository backed by PostgreSQL.
type UsageRepository struct {
	pool *pgxpool.Pool
}

// NewUsageRepository returns a UsageRepository that uses the given pool.
func NewUsageRepository(pool *pgxpool.Pool) *UsageRepository {
	return &UsageRepository{pool: pool}
}

// Record claims one use of the coupon and appends the usage row in a single
// database transaction. Either both happen or neither does. The coupon row
// stays locked from the claim to commit, so concurrent records for the same
// customer see each other's usage rows.
func (r *UsageRepository) Record(ctx context.Context, u *coupon.Usage) error {
	if !validID(u.CouponID) {
		return coupon.ErrNotFound
	}
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var perCustomer *int
		err := tx.QueryRow(ctx, claimCouponUseSQL, u.OrganizationID, u.CouponID, u.UsedAt).Scan(&perCustomer)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			var exists bool
			if err := tx.QueryRow(ctx, couponExistsSQL, u.OrganizationID, u.CouponID).Scan(&exists); err != nil {
				return fmt.Errorf("checking coupon %q: %w", u.CouponID, err)
			}
			if !exists {
				return coupon.ErrNotFound
			}
			return coupon.ErrUsageLimitReached
		case err != nil:
			return fmt.Errorf("claiming use of coupon %q: %w", u.CouponID, err)
		}

		if perCustomer != nil {
			var n int
			if err := tx.QueryRow(ctx, countCustomerUsagesSQL, u.OrganizationID, u.CouponID, u.CustomerID).Scan(&n); err != nil {
				return fmt.Errorf("counting usages of coupon %q: %w", u.CouponID, err)
			}
			// Returning an error rolls back the increment above.
			if n >= *perCustomer {
				return coupon.ErrCustomerLimitReached
			}
		}

		if _, err := tx.Exec(ctx, insertUsageSQL,
			u.ID, u.CouponID, u.OrganizationID, u.CustomerID,
			u.TransactionID, u.DiscountApplied, u.UsedAt,
		); err != nil {
			return fmt.Errorf("inserting usage of coupon %q: %w", u.CouponID, err)
		}
		return nil
	})
}

// ListByCoupon returns the usages of a coupon, newest first.
func (r *UsageRepository) ListByCoupon(ctx context.Context, orgID, couponID string) ([]coupon.Usage, error) {
	if !validID(couponID) {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, listUsagesSQL, orgID, couponID)
	if err != nil {
		return nil, fmt.Errorf("listing usages of coupon %q: %w", couponID, err)
	}
	usages, err := pgx.CollectRows(rows, scanUsage)
	if err != nil {
		return nil, fmt.Errorf("listing usages of coupon %q: %w", couponID, err)
	}
	return usages, nil
}

// CountByCustomer returns how many times the customer used the coupon.
func (r *UsageRepository) CountByCustomer(ctx context.Context, orgID, couponID, customerID string) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, countCustomerUsagesSQL, orgID, couponID, customerID).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting usages of coupon %q: %w", couponID, err)
	}
	return n, nil
}

// Totals returns the number of usages and the summed discount of the
// organization.
func (r *UsageRepository) Totals(ctx context.Context, orgID string) (int, decimal.Decimal, error) {
	var (
		n   int
		sum decimal.Decimal
	)
	if err := r.pool.QueryRow(ctx, usageTotalsSQL, orgID).Scan(&n, &sum); err != nil {
		return 0, decimal.Zero, errors.Wrap(err, "usage totals")
	}
	return n, sum, nil
}

func scanUsage(row pgx.CollectableRow) (coupon.Usage, error) {
	var u coupon.Usage
	err := row.Scan(
		&u.ID, &u.CouponID, &u.OrganizationID, &u.CustomerID,
		&u.TransactionID, &u.DiscountApplied, &u.UsedAt,
	)
	return u, err
}
