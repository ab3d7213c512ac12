package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// Stats aggregates an organization's coupon activity.
type Stats struct {
	TotalCoupons       int
	ActiveCoupons      int
	TotalUsage         int
	TotalDiscountGiven decimal.Decimal
	AvgDiscountPerUse  decimal.Decimal
	MostUsedCoupon     *MostUsed
	ExpiringSoonCount  int
}

// MostUsed identifies the coupon with the highest usage counter.
type MostUsed struct {
	ID         string
	Code       string
	UsageCount int
}

// StatsCache holds computed statistics per organization.
type StatsCache interface {
	Get(orgID string) (*Stats, bool)
	Set(orgID string, s *Stats)
	Invalidate(orgID string)
	Flush()
}

type nopStatsCache struct{}

func (nopStatsCache) Get(string) (*Stats, bool) { return nil, false }
func (nopStatsCache) Set(string, *Stats)        {}
func (nopStatsCache) Invalidate(string)         {}
func (nopStatsCache) Flush()                    {}

// Stats returns aggregate statistics for the organization.
func (s *Service) Stats(ctx context.Context, orgID string) (*Stats, error) {
	if st, ok := s.stats.Get(orgID); ok {
		return st, nil
	}

	ctx, span := s.tracer.Start(ctx, "coupon.Stats")
	defer span.End()

	var (
		coupons  []Coupon
		uses     int
		discount decimal.Decimal
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if coupons, err = s.coupons.All(gctx, orgID); err != nil {
			return errors.Wrap(err, "load coupons")
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if uses, discount, err = s.usages.Totals(gctx, orgID); err != nil {
			return errors.Wrap(err, "usage totals")
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	st := computeStats(coupons, uses, discount, s.now(), s.cfg)
	s.stats.Set(orgID, st)

	return st, nil
}

func computeStats(coupons []Coupon, uses int, discount decimal.Decimal, now time.Time, cfg Config) *Stats {
	horizon := now.Add(cfg.ExpiringSoonWindow)

	st := &Stats{
		TotalCoupons:       len(coupons),
		TotalUsage:         uses,
		TotalDiscountGiven: discount.Round(2),
		AvgDiscountPerUse:  decimal.Zero,
		ActiveCoupons: lo.CountBy(coupons, func(c Coupon) bool {
			return c.Status == StatusActive
		}),
		// Active coupons already past valid_until that the expirer has not
		// swept yet still count.
		ExpiringSoonCount: lo.CountBy(coupons, func(c Coupon) bool {
			return c.Status == StatusActive && !c.ValidUntil.After(horizon)
		}),
	}
	if uses > 0 {
		st.AvgDiscountPerUse = discount.Div(decimal.NewFromInt(int64(uses))).Round(2)
	}

	if len(coupons) > 0 {
		top := lo.MaxBy(coupons, func(a, b Coupon) bool {
			return a.CurrentUsage > b.CurrentUsage
		})
		if top.CurrentUsage > 0 {
			st.MostUsedCoupon = &MostUsed{ID: top.ID, Code: top.Code, UsageCount: top.CurrentUsage}
		}
	}

	return st
}
