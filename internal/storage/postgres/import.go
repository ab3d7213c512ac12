package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/omnily-coupons/internal/domain/coupon"
)

const (
	listCouponCodesSQL = `SELECT code FROM coupons WHERE organization_id = $1`

	existingCouponCodesSQL = `SELECT code FROM coupons
		WHERE organization_id = $1 AND code = ANY($2)`

	insertCouponIgnoreSQL = insertCouponSQL + ` ON CONFLICT (organization_id, code) DO NOTHING`
)

// ListCodes returns every coupon code of the organization.
func (r *CouponRepository) ListCodes(ctx context.Context, orgID string) ([]string, error) {
	rows, err := r.pool.Query(ctx, listCouponCodesSQL, orgID)
	if err != nil {
		return nil, errors.Wrap(err, "list coupon codes")
	}
	codes, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, errors.Wrap(err, "list coupon codes")
	}
	return codes, nil
}

// ExistingCodes returns the subset of codes already used within the
// organization.
func (r *CouponRepository) ExistingCodes(ctx context.Context, orgID string, codes []string) (map[string]struct{}, error) {
	out := make(map[string]struct{})
	if len(codes) == 0 {
		return out, nil
	}
	rows, err := r.pool.Query(ctx, existingCouponCodesSQL, orgID, codes)
	if err != nil {
		return nil, errors.Wrap(err, "query existing codes")
	}
	found, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, errors.Wrap(err, "query existing codes")
	}
	for _, c := range found {
		out[c] = struct{}{}
	}
	return out, nil
}

// CreateBatch inserts coupons in one round trip, skipping codes that are
// already taken. It returns the number of rows inserted.
func (r *CouponRepository) CreateBatch(ctx context.Context, cs []*coupon.Coupon) (int64, error) {
	if len(cs) == 0 {
		return 0, nil
	}
	batch := &pgx.Batch{}
	for _, c := range cs {
		batch.Queue(insertCouponIgnoreSQL, insertArgs(c)...)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer func() { _ = results.Close() }()

	var inserted int64
	for _, c := range cs {
		tag, err := results.Exec()
		if err != nil {
			return inserted, errors.Wrapf(err, "insert coupon %s", c.Code)
		}
		inserted += tag.RowsAffected()
	}
	return inserted, nil
}
