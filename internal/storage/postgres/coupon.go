package postgres

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/omnily-coupons/internal/domain/coupon"
)

const couponColumns = `id, organization_id, code, type, value, duration_type,
	title, description, terms_conditions, valid_from, valid_until, status,
	min_purchase_amount, max_discount_amount, usage_limit, usage_per_customer,
	current_usage, first_purchase_only, COALESCE(customer_tier_required, ''),
	image_url, background_color, text_color, is_flash, created_by_user_id,
	created_at, updated_at`

const (
	insertCouponSQL = `INSERT INTO coupons (id, organization_id, code, type, value,
		duration_type, title, description, terms_conditions, valid_from, valid_until,
		status, min_purchase_amount, max_discount_amount, usage_limit, usage_per_customer,
		current_usage, first_purchase_only, customer_tier_required, image_url,
		background_color, text_color, is_flash, created_by_user_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
		$17, $18, NULLIF($19, ''), $20, $21, $22, $23, $24, $25, $26)`

	updateCouponSQL = `UPDATE coupons SET type = $3, value = $4, duration_type = $5,
		title = $6, description = $7, terms_conditions = $8, valid_from = $9,
		valid_until = $10, min_purchase_amount = $11, max_discount_amount = $12,
		usage_limit = $13, usage_per_customer = $14, first_purchase_only = $15,
		customer_tier_required = NULLIF($16, ''), image_url = $17, background_color = $18,
		text_color = $19, is_flash = $20, updated_at = $21
		WHERE organization_id = $1 AND id = $2`

	setCouponStatusSQL = `UPDATE coupons SET status = $3, updated_at = $4
		WHERE organization_id = $1 AND id = $2`

	getCouponByIDSQL = `SELECT ` + couponColumns + ` FROM coupons
		WHERE organization_id = $1 AND id = $2`

	getCouponByCodeSQL = `SELECT ` + couponColumns + ` FROM coupons
		WHERE organization_id = $1 AND code = UPPER($2)`

	listActiveCouponsSQL = `SELECT ` + couponColumns + ` FROM coupons
		WHERE organization_id = $1 AND status = 'active'
		AND valid_from <= $2 AND valid_until >= $2
		ORDER BY created_at DESC`

	listFlashCouponsSQL = `SELECT ` + couponColumns + ` FROM coupons
		WHERE organization_id = $1 AND status = 'active' AND is_flash = TRUE
		ORDER BY valid_until ASC`

	listAllCouponsSQL = `SELECT ` + couponColumns + ` FROM coupons
		WHERE organization_id = $1`

	expireOverdueSQL = `UPDATE coupons SET status = 'expired', updated_at = $1
		WHERE status = 'active' AND valid_until < $1`
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// Create inserts a new coupon. A code already used within the organization
// yields coupon.ErrCodeExists.
func (r *CouponRepository) Create(ctx context.Context, c *coupon.Coupon) error {
	_, err := r.pool.Exec(ctx, insertCouponSQL, insertArgs(c)...)
	if err != nil {
		if isUniqueViolation(err, "coupons_org_code_key") {
			return coupon.ErrCodeExists
		}
		return fmt.Errorf("creating coupon %q: %w", c.Code, err)
	}
	return nil
}

func insertArgs(c *coupon.Coupon) []any {
	return []any{
		c.ID, c.OrganizationID, c.Code, string(c.Type), c.Value,
		c.DurationType, c.Title, c.Description, c.TermsConditions, c.ValidFrom, c.ValidUntil,
		string(c.Status), c.MinPurchaseAmount, c.MaxDiscountAmount, c.UsageLimit, c.UsagePerCustomer,
		c.CurrentUsage, c.FirstPurchaseOnly, c.CustomerTierRequired, c.ImageURL,
		c.BackgroundColor, c.TextColor, c.IsFlash, c.CreatedByUserID, c.CreatedAt, c.UpdatedAt,
	}
}

// Update writes the mutable fields of c.
func (r *CouponRepository) Update(ctx context.Context, c *coupon.Coupon) error {
	tag, err := r.pool.Exec(ctx, updateCouponSQL,
		c.OrganizationID, c.ID, string(c.Type), c.Value, c.DurationType,
		c.Title, c.Description, c.TermsConditions, c.ValidFrom,
		c.ValidUntil, c.MinPurchaseAmount, c.MaxDiscountAmount,
		c.UsageLimit, c.UsagePerCustomer, c.FirstPurchaseOnly,
		c.CustomerTierRequired, c.ImageURL, c.BackgroundColor,
		c.TextColor, c.IsFlash, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("updating coupon %q: %w", c.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return coupon.ErrNotFound
	}
	return nil
}

// SetStatus changes the lifecycle status of a coupon.
func (r *CouponRepository) SetStatus(ctx context.Context, orgID, id string, status coupon.Status, at time.Time) error {
	if !validID(id) {
		return coupon.ErrNotFound
	}
	tag, err := r.pool.Exec(ctx, setCouponStatusSQL, orgID, id, string(status), at)
	if err != nil {
		return fmt.Errorf("setting status of coupon %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return coupon.ErrNotFound
	}
	return nil
}

// GetByID returns a coupon of the organization by id.
func (r *CouponRepository) GetByID(ctx context.Context, orgID, id string) (*coupon.Coupon, error) {
	if !validID(id) {
		return nil, coupon.ErrNotFound
	}
	return r.one(ctx, getCouponByIDSQL, orgID, id)
}

// FindByCode returns a coupon of the organization by code, ignoring case.
// Status is not filtered; callers decide what an inactive coupon means.
func (r *CouponRepository) FindByCode(ctx context.Context, orgID, code string) (*coupon.Coupon, error) {
	return r.one(ctx, getCouponByCodeSQL, orgID, code)
}

func (r *CouponRepository) one(ctx context.Context, sql string, args ...any) (*coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("querying coupon: %w", err)
	}
	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, fmt.Errorf("querying coupon: %w", err)
	}
	return &c, nil
}

func (r *CouponRepository) many(ctx context.Context, sql string, args ...any) ([]coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("listing coupons: %w", err)
	}
	cs, err := pgx.CollectRows(rows, scanCoupon)
	if err != nil {
		return nil, fmt.Errorf("listing coupons: %w", err)
	}
	return cs, nil
}

// List returns one page of coupons matching f and the total match count.
func (r *CouponRepository) List(ctx context.Context, orgID string, f coupon.Filter, p coupon.Page) ([]coupon.Coupon, int, error) {
	where, args := listConditions(orgID, f)

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM coupons WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting coupons: %w", err)
	}

	order, err := orderClause(p)
	if err != nil {
		return nil, 0, err
	}
	n := len(args)
	sql := `SELECT ` + couponColumns + ` FROM coupons WHERE ` + where + order +
		` LIMIT $` + strconv.Itoa(n+1) + ` OFFSET $` + strconv.Itoa(n+2)
	items, err := r.many(ctx, sql, append(args, p.Limit, p.Offset())...)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func listConditions(orgID string, f coupon.Filter) (string, []any) {
	var (
		conds = []string{"organization_id = $1"}
		args  = []any{orgID}
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, strings.ReplaceAll(cond, "?", "$"+strconv.Itoa(len(args))))
	}

	switch len(f.Statuses) {
	case 0:
	case 1:
		add("status = ?", string(f.Statuses[0]))
	default:
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		add("status = ANY(?)", statuses)
	}
	if f.Type != "" {
		add("type = ?", string(f.Type))
	}
	if f.DurationType != "" {
		add("duration_type = ?", f.DurationType)
	}
	if f.IsFlash != nil {
		add("is_flash = ?", *f.IsFlash)
	}
	if f.SearchCode != "" {
		add("code ILIKE ?", "%"+escapeLike(f.SearchCode)+"%")
	}
	if f.ValidFrom != nil {
		add("valid_from >= ?", *f.ValidFrom)
	}
	if f.ValidUntil != nil {
		add("valid_until <= ?", *f.ValidUntil)
	}

	return strings.Join(conds, " AND "), args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func orderClause(p coupon.Page) (string, error) {
	if !coupon.SortableColumn(p.SortBy) {
		return "", &coupon.InvalidFieldError{Field: "sort_by", Reason: "unsupported column " + p.SortBy}
	}
	dir := " DESC"
	if p.Asc {
		dir = " ASC"
	}
	// id breaks ties so pages stay stable.
	return " ORDER BY " + p.SortBy + dir + ", id" + dir, nil
}

// ListActive returns coupons of the organization that are active and
// inside their validity window at now.
func (r *CouponRepository) ListActive(ctx context.Context, orgID string, now time.Time) ([]coupon.Coupon, error) {
	return r.many(ctx, listActiveCouponsSQL, orgID, now)
}

// ListFlash returns active flash coupons ordered by validity end.
func (r *CouponRepository) ListFlash(ctx context.Context, orgID string) ([]coupon.Coupon, error) {
	return r.many(ctx, listFlashCouponsSQL, orgID)
}

// All returns every coupon of the organization.
func (r *CouponRepository) All(ctx context.Context, orgID string) ([]coupon.Coupon, error) {
	return r.many(ctx, listAllCouponsSQL, orgID)
}

// ExpireOverdue marks every active coupon past valid_until as expired.
func (r *CouponRepository) ExpireOverdue(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, expireOverdueSQL, now)
	if err != nil {
		return 0, fmt.Errorf("expiring coupons: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var (
		c      coupon.Coupon
		typ    string
		status string
	)
	err := row.Scan(
		&c.ID, &c.OrganizationID, &c.Code, &typ, &c.Value, &c.DurationType,
		&c.Title, &c.Description, &c.TermsConditions, &c.ValidFrom, &c.ValidUntil, &status,
		&c.MinPurchaseAmount, &c.MaxDiscountAmount, &c.UsageLimit, &c.UsagePerCustomer,
		&c.CurrentUsage, &c.FirstPurchaseOnly, &c.CustomerTierRequired,
		&c.ImageURL, &c.BackgroundColor, &c.TextColor, &c.IsFlash, &c.CreatedByUserID,
		&c.CreatedAt, &c.UpdatedAt,
	)
	c.Type = coupon.Type(typ)
	c.Status = coupon.Status(status)
	return c, err
}
