package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/omnily-coupons/internal/domain/coupon"
	"github.com/xenking/omnily-coupons/internal/domain/transaction"
)

const (
	createTransactionSQL = `INSERT INTO transactions (id, organization_id, customer_id,
		amount, discount, total, coupon_code, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	deleteTransactionSQL = `DELETE FROM transactions WHERE organization_id = $1 AND id = $2`

	customerHasPurchasesSQL = `SELECT EXISTS (SELECT 1 FROM transactions
		WHERE organization_id = $1 AND customer_id = $2)`
)

var (
	_ transaction.Repository = (*TransactionRepository)(nil)
	_ coupon.CustomerHistory = (*TransactionRepository)(nil)
)

// TransactionRepository implements transaction.Repository backed by
// PostgreSQL. It also answers purchase-history questions for coupon rules.
type TransactionRepository struct {
	pool *pgxpool.Pool
}

// NewTransactionRepository returns a TransactionRepository that uses the given pool.
func NewTransactionRepository(pool *pgxpool.Pool) *TransactionRepository {
	return &TransactionRepository{pool: pool}
}

// Create persists a new transaction.
func (r *TransactionRepository) Create(ctx context.Context, tx *transaction.Transaction) error {
	_, err := r.pool.Exec(ctx, createTransactionSQL,
		tx.ID, tx.OrganizationID, tx.CustomerID,
		tx.Amount, tx.Discount, tx.Total, tx.CouponCode, tx.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating transaction %q: %w", tx.ID, err)
	}
	return nil
}

// Delete removes a transaction that could not be completed.
func (r *TransactionRepository) Delete(ctx context.Context, orgID, id string) error {
	if _, err := r.pool.Exec(ctx, deleteTransactionSQL, orgID, id); err != nil {
		return fmt.Errorf("deleting transaction %q: %w", id, err)
	}
	return nil
}

// HasPurchases reports whether the customer completed any transaction.
func (r *TransactionRepository) HasPurchases(ctx context.Context, orgID, customerID string) (bool, error) {
	var ok bool
	if err := r.pool.QueryRow(ctx, customerHasPurchasesSQL, orgID, customerID).Scan(&ok); err != nil {
		return false, fmt.Errorf("checking purchases of customer %q: %w", customerID, err)
	}
	return ok, nil
}
