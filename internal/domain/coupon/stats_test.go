package coupon

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapStatsCache struct {
	m           map[string]*Stats
	invalidated []string
}

func (c *mapStatsCache) Get(orgID string) (*Stats, bool) {
	s, ok := c.m[orgID]
	return s, ok
}

func (c *mapStatsCache) Set(orgID string, s *Stats) { c.m[orgID] = s }

func (c *mapStatsCache) Invalidate(orgID string) {
	delete(c.m, orgID)
	c.invalidated = append(c.invalidated, orgID)
}

func (c *mapStatsCache) Flush() { c.m = map[string]*Stats{} }

func TestService_Stats(t *testing.T) {
	popular := summer10()
	soon := summer10()
	soon.ID, soon.Code, soon.CurrentUsage = "c-soon", "SOON", 3
	soon.ValidUntil = fixedNow.Add(3 * 24 * time.Hour)
	later := summer10()
	later.ID, later.Code, later.CurrentUsage = "c-later", "LATER", 0
	later.ValidUntil = fixedNow.Add(30 * 24 * time.Hour)
	cancelled := summer10()
	cancelled.ID, cancelled.Code, cancelled.CurrentUsage = "c-x", "X", 0
	cancelled.Status = StatusCancelled
	lapsed := summer10()
	lapsed.ID, lapsed.Code, lapsed.CurrentUsage = "c-lapsed", "LAPSED", 0
	lapsed.ValidUntil = fixedNow.Add(-time.Hour)
	other := summer10()
	other.ID, other.OrganizationID = "c-other", "org-2"

	svc, _, usages := newTestService(t, popular, soon, later, cancelled, lapsed, other)
	usages.rows = []Usage{
		{OrganizationID: testOrg, CouponID: "c-summer", DiscountApplied: decimal.NewFromInt(20)},
		{OrganizationID: testOrg, CouponID: "c-summer", DiscountApplied: decimal.NewFromInt(10)},
		{OrganizationID: testOrg, CouponID: "c-soon", DiscountApplied: decimal.RequireFromString("0.5")},
		{OrganizationID: "org-2", CouponID: "c-other", DiscountApplied: decimal.NewFromInt(99)},
	}

	st, err := svc.Stats(context.Background(), testOrg)
	require.NoError(t, err)

	assert.Equal(t, 5, st.TotalCoupons)
	assert.Equal(t, 4, st.ActiveCoupons)
	assert.Equal(t, 3, st.TotalUsage)
	assert.True(t, decimal.RequireFromString("30.5").Equal(st.TotalDiscountGiven))
	assert.True(t, decimal.RequireFromString("10.17").Equal(st.AvgDiscountPerUse), st.AvgDiscountPerUse.String())
	require.NotNil(t, st.MostUsedCoupon)
	assert.Equal(t, "SUMMER10", st.MostUsedCoupon.Code)
	assert.Equal(t, 99, st.MostUsedCoupon.UsageCount)
	// SUMMER10 ends in one day, SOON in three; LAPSED ended but is not
	// swept yet.
	assert.Equal(t, 3, st.ExpiringSoonCount)
}

func TestService_StatsEmpty(t *testing.T) {
	svc, _, _ := newTestService(t)

	st, err := svc.Stats(context.Background(), testOrg)
	require.NoError(t, err)
	assert.Zero(t, st.TotalCoupons)
	assert.True(t, st.AvgDiscountPerUse.IsZero())
	assert.Nil(t, st.MostUsedCoupon)
}

func TestService_StatsCached(t *testing.T) {
	cache := &mapStatsCache{m: map[string]*Stats{}}
	repo := newMemCoupons(summer10())
	svc, err := NewService(repo, &memUsages{coupons: repo}, &mockHistory{}, Config{}, WithStatsCache(cache))
	require.NoError(t, err)
	svc.now = func() time.Time { return fixedNow }
	ctx := context.Background()

	first, err := svc.Stats(ctx, testOrg)
	require.NoError(t, err)
	second, err := svc.Stats(ctx, testOrg)
	require.NoError(t, err)
	assert.Same(t, first, second)

	_, err = svc.Use(ctx, testOrg, UseRequest{CouponID: "c-summer", CustomerID: "cust"})
	require.NoError(t, err)
	assert.Contains(t, cache.invalidated, testOrg)

	third, err := svc.Stats(ctx, testOrg)
	require.NoError(t, err)
	assert.Equal(t, 1, third.TotalUsage)
}
