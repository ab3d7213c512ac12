package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// Config tunes listing and statistics behaviour.
type Config struct {
	ExpiringSoonWindow time.Duration
	DefaultPageSize    int
	MaxPageSize        int
}

func (c *Config) setDefaults() {
	if c.ExpiringSoonWindow <= 0 {
		c.ExpiringSoonWindow = 7 * 24 * time.Hour
	}
	if c.DefaultPageSize <= 0 {
		c.DefaultPageSize = 50
	}
	if c.MaxPageSize < c.DefaultPageSize {
		c.MaxPageSize = c.DefaultPageSize
	}
}

// Option configures a Service.
type Option func(*Service)

// WithTracerProvider sets the tracer provider used for service spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) { s.tracer = tp.Tracer("omnily/coupon") }
}

// WithMeterProvider sets the meter provider used for service counters.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Service) { s.meter = mp.Meter("omnily/coupon") }
}

// WithStatsCache caches organization statistics.
func WithStatsCache(c StatsCache) Option {
	return func(s *Service) { s.stats = c }
}

type serviceMetrics struct {
	validations   metric.Int64Counter
	redemptions   metric.Int64Counter
	discountTotal metric.Float64Counter
}

// Service implements coupon management, validation and redemption for
// organizations.
type Service struct {
	coupons Repository
	usages  UsageRepository
	history CustomerHistory
	stats   StatsCache
	cfg     Config

	tracer  trace.Tracer
	meter   metric.Meter
	metrics serviceMetrics

	now func() time.Time
}

var _ Validator = (*Service)(nil)

// NewService creates a coupon Service.
func NewService(coupons Repository, usages UsageRepository, history CustomerHistory, cfg Config, opts ...Option) (*Service, error) {
	cfg.setDefaults()
	s := &Service{
		coupons: coupons,
		usages:  usages,
		history: history,
		stats:   nopStatsCache{},
		cfg:     cfg,
		tracer:  tracenoop.NewTracerProvider().Tracer("omnily/coupon"),
		meter:   metricnoop.NewMeterProvider().Meter("omnily/coupon"),
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}

	var err error
	if s.metrics.validations, err = s.meter.Int64Counter("coupon.validations",
		metric.WithDescription("Coupon validations by outcome"),
	); err != nil {
		return nil, errors.Wrap(err, "validations counter")
	}
	if s.metrics.redemptions, err = s.meter.Int64Counter("coupon.redemptions",
		metric.WithDescription("Recorded coupon usages"),
	); err != nil {
		return nil, errors.Wrap(err, "redemptions counter")
	}
	if s.metrics.discountTotal, err = s.meter.Float64Counter("coupon.discount_total",
		metric.WithDescription("Sum of discounts applied through recorded usages"),
	); err != nil {
		return nil, errors.Wrap(err, "discount counter")
	}

	return s, nil
}

// Create issues a new coupon for the organization.
func (s *Service) Create(ctx context.Context, orgID, userID string, p CreateParams) (*Coupon, error) {
	ctx, span := s.tracer.Start(ctx, "coupon.Create")
	defer span.End()

	if err := p.Validate(); err != nil {
		return nil, err
	}

	c := p.Coupon(orgID, userID)
	now := s.now()
	c.ID = uuid.NewString()
	c.CreatedAt = now
	c.UpdatedAt = now

	if err := s.coupons.Create(ctx, c); err != nil {
		if errors.Is(err, ErrCodeExists) {
			return nil, err
		}
		return nil, errors.Wrap(err, "create coupon")
	}
	s.stats.Invalidate(orgID)

	return c, nil
}

// Update applies a partial update to an existing coupon.
func (s *Service) Update(ctx context.Context, orgID, id string, p UpdateParams) (*Coupon, error) {
	ctx, span := s.tracer.Start(ctx, "coupon.Update")
	defer span.End()

	c, err := s.coupons.GetByID(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	if err := p.Apply(c); err != nil {
		return nil, err
	}
	c.UpdatedAt = s.now()

	if err := s.coupons.Update(ctx, c); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, errors.Wrap(err, "update coupon")
	}
	s.stats.Invalidate(orgID)

	return c, nil
}

// Cancel marks the coupon cancelled. Cancelled coupons never validate again.
func (s *Service) Cancel(ctx context.Context, orgID, id string) (*Coupon, error) {
	ctx, span := s.tracer.Start(ctx, "coupon.Cancel")
	defer span.End()

	if err := s.coupons.SetStatus(ctx, orgID, id, StatusCancelled, s.now()); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, errors.Wrap(err, "cancel coupon")
	}
	s.stats.Invalidate(orgID)

	return s.coupons.GetByID(ctx, orgID, id)
}

// GetByID returns the coupon with the given id.
func (s *Service) GetByID(ctx context.Context, orgID, id string) (*Coupon, error) {
	return s.coupons.GetByID(ctx, orgID, id)
}

// GetByCode looks a coupon up by code, ignoring case.
func (s *Service) GetByCode(ctx context.Context, orgID, code string) (*Coupon, error) {
	return s.coupons.FindByCode(ctx, orgID, NormalizeCode(code))
}

var sortColumns = map[string]struct{}{
	"created_at":    {},
	"updated_at":    {},
	"valid_from":    {},
	"valid_until":   {},
	"code":          {},
	"current_usage": {},
	"value":         {},
}

// SortableColumn reports whether a listing may be sorted by column.
func SortableColumn(column string) bool {
	_, ok := sortColumns[column]
	return ok
}

// List returns one page of the organization's coupons.
func (s *Service) List(ctx context.Context, orgID string, f Filter, p Page) (*PageResult, error) {
	ctx, span := s.tracer.Start(ctx, "coupon.List")
	defer span.End()

	if p.Number < 1 {
		p.Number = 1
	}
	switch {
	case p.Limit <= 0:
		p.Limit = s.cfg.DefaultPageSize
	case p.Limit > s.cfg.MaxPageSize:
		p.Limit = s.cfg.MaxPageSize
	}
	if p.SortBy == "" {
		p.SortBy = "created_at"
	}
	if !SortableColumn(p.SortBy) {
		return nil, &InvalidFieldError{Field: "sort_by", Reason: "unsupported column " + p.SortBy}
	}
	for _, st := range f.Statuses {
		if !st.Valid() {
			return nil, &InvalidFieldError{Field: "status", Reason: "unknown status " + string(st)}
		}
	}
	if f.Type != "" && !f.Type.Valid() {
		return nil, &InvalidFieldError{Field: "type", Reason: "unknown coupon type " + string(f.Type)}
	}

	items, total, err := s.coupons.List(ctx, orgID, f, p)
	if err != nil {
		return nil, errors.Wrap(err, "list coupons")
	}

	return &PageResult{
		Items:      items,
		Total:      total,
		Page:       p.Number,
		Limit:      p.Limit,
		TotalPages: (total + p.Limit - 1) / p.Limit,
	}, nil
}

// Active returns coupons that are active and inside their validity window.
func (s *Service) Active(ctx context.Context, orgID string) ([]Coupon, error) {
	items, err := s.coupons.ListActive(ctx, orgID, s.now())
	if err != nil {
		return nil, errors.Wrap(err, "list active coupons")
	}
	return items, nil
}

// Flash returns active flash coupons, soonest to expire first.
func (s *Service) Flash(ctx context.Context, orgID string) ([]Coupon, error) {
	items, err := s.coupons.ListFlash(ctx, orgID)
	if err != nil {
		return nil, errors.Wrap(err, "list flash coupons")
	}
	return items, nil
}

// UseRequest records one redemption of a known coupon.
type UseRequest struct {
	CouponID        string
	CustomerID      string
	TransactionID   string
	DiscountApplied decimal.Decimal
}

// Use appends a usage record and increments the coupon's usage counter.
// The increment is refused with ErrUsageLimitReached once the limit is hit
// and with ErrCustomerLimitReached once the customer's allowance is spent,
// so concurrent redemptions can never push either count past its limit.
func (s *Service) Use(ctx context.Context, orgID string, req UseRequest) (*Usage, error) {
	ctx, span := s.tracer.Start(ctx, "coupon.Use")
	defer span.End()

	if req.CustomerID == "" {
		return nil, &InvalidFieldError{Field: "customer_id", Reason: "required"}
	}
	if err := checkMoney("discount_applied", decimal.NewNullDecimal(req.DiscountApplied.Round(2))); err != nil {
		return nil, err
	}

	u := &Usage{
		ID:              uuid.NewString(),
		CouponID:        req.CouponID,
		OrganizationID:  orgID,
		CustomerID:      req.CustomerID,
		TransactionID:   req.TransactionID,
		DiscountApplied: req.DiscountApplied.Round(2),
		UsedAt:          s.now(),
	}
	if err := s.usages.Record(ctx, u); err != nil {
		if IsClaimRefused(err) || errors.Is(err, ErrNotFound) {
			return nil, err
		}
		span.RecordError(err)
		return nil, errors.Wrap(err, "record usage")
	}

	s.metrics.redemptions.Add(ctx, 1)
	s.metrics.discountTotal.Add(ctx, u.DiscountApplied.InexactFloat64())
	s.stats.Invalidate(orgID)

	return u, nil
}

// Redemption is the outcome of a successful Redeem.
type Redemption struct {
	Coupon   *Coupon
	Usage    *Usage
	Discount decimal.Decimal
}

// Redeem validates the code and records its usage. A rejected code is
// returned as *RejectedError.
func (s *Service) Redeem(ctx context.Context, orgID string, req ValidateRequest, transactionID string) (*Redemption, error) {
	ctx, span := s.tracer.Start(ctx, "coupon.Redeem")
	defer span.End()

	if req.CustomerID == "" {
		return nil, &InvalidFieldError{Field: "customer_id", Reason: "required"}
	}

	v, err := s.Validate(ctx, orgID, req)
	if err != nil {
		return nil, err
	}
	if !v.Valid {
		return nil, &RejectedError{Code: NormalizeCode(req.Code), Reason: v.Reason}
	}

	u, err := s.Use(ctx, orgID, UseRequest{
		CouponID:        v.Coupon.ID,
		CustomerID:      req.CustomerID,
		TransactionID:   transactionID,
		DiscountApplied: v.Discount,
	})
	if err != nil {
		if IsClaimRefused(err) {
			return nil, &RejectedError{Code: v.Coupon.Code, Reason: err}
		}
		return nil, err
	}
	v.Coupon.CurrentUsage++
	span.SetAttributes(attribute.String("coupon.code", v.Coupon.Code))

	return &Redemption{Coupon: v.Coupon, Usage: u, Discount: v.Discount}, nil
}

// Usages returns the usage history of a coupon, newest first.
func (s *Service) Usages(ctx context.Context, orgID, couponID string) ([]Usage, error) {
	if _, err := s.coupons.GetByID(ctx, orgID, couponID); err != nil {
		return nil, err
	}
	items, err := s.usages.ListByCoupon(ctx, orgID, couponID)
	if err != nil {
		return nil, errors.Wrap(err, "list usages")
	}
	return items, nil
}

// ExpireOverdue moves active coupons past their validity window to expired
// across all organizations and returns how many changed.
func (s *Service) ExpireOverdue(ctx context.Context) (int64, error) {
	ctx, span := s.tracer.Start(ctx, "coupon.ExpireOverdue")
	defer span.End()

	n, err := s.coupons.ExpireOverdue(ctx, s.now())
	if err != nil {
		return 0, errors.Wrap(err, "expire overdue coupons")
	}
	if n > 0 {
		s.stats.Flush()
	}
	return n, nil
}

// IsClaimRefused reports whether err is a limit refusal from recording a
// usage that raced past validation.
func IsClaimRefused(err error) bool {
	return errors.Is(err, ErrUsageLimitReached) || errors.Is(err, ErrCustomerLimitReached)
}
