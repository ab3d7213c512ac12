package coupon

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- In-memory repositories ---

type memCoupons struct {
	mu      sync.Mutex
	byID    map[string]*Coupon
	listErr error
}

func newMemCoupons(cs ...*Coupon) *memCoupons {
	m := &memCoupons{byID: map[string]*Coupon{}}
	for _, c := range cs {
		m.byID[c.ID] = c
	}
	return m
}

func (m *memCoupons) Create(_ context.Context, c *Coupon) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.byID {
		if e.OrganizationID == c.OrganizationID && e.Code == c.Code {
			return ErrCodeExists
		}
	}
	cp := *c
	m.byID[c.ID] = &cp
	return nil
}

func (m *memCoupons) Update(_ context.Context, c *Coupon) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[c.ID]; !ok {
		return ErrNotFound
	}
	cp := *c
	m.byID[c.ID] = &cp
	return nil
}

func (m *memCoupons) SetStatus(_ context.Context, orgID, id string, status Status, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byID[id]
	if !ok || c.OrganizationID != orgID {
		return ErrNotFound
	}
	c.Status = status
	c.UpdatedAt = at
	return nil
}

func (m *memCoupons) GetByID(_ context.Context, orgID, id string) (*Coupon, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byID[id]
	if !ok || c.OrganizationID != orgID {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memCoupons) FindByCode(_ context.Context, orgID, code string) (*Coupon, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.byID {
		if c.OrganizationID == orgID && c.Code == code {
			cp := *c
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memCoupons) List(_ context.Context, orgID string, _ Filter, p Page) ([]Coupon, int, error) {
	if m.listErr != nil {
		return nil, 0, m.listErr
	}
	all, _ := m.All(context.Background(), orgID)
	total := len(all)
	start := min(p.Offset(), total)
	end := min(start+p.Limit, total)
	return all[start:end], total, nil
}

func (m *memCoupons) ListActive(_ context.Context, orgID string, now time.Time) ([]Coupon, error) {
	all, _ := m.All(context.Background(), orgID)
	var out []Coupon
	for _, c := range all {
		if c.Status == StatusActive && !now.Before(c.ValidFrom) && !now.After(c.ValidUntil) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memCoupons) ListFlash(_ context.Context, orgID string) ([]Coupon, error) {
	all, _ := m.All(context.Background(), orgID)
	var out []Coupon
	for _, c := range all {
		if c.IsFlash && c.Status == StatusActive {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ValidUntil.Before(out[j].ValidUntil) })
	return out, nil
}

func (m *memCoupons) All(_ context.Context, orgID string) ([]Coupon, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Coupon
	for _, c := range m.byID {
		if c.OrganizationID == orgID {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (m *memCoupons) ExpireOverdue(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, c := range m.byID {
		if c.Status == StatusActive && c.ValidUntil.Before(now) {
			c.Status = StatusExpired
			n++
		}
	}
	return n, nil
}

// memUsages mirrors the guarded claim of the postgres implementation:
// global and per-customer limits are checked atomically with the insert.
type memUsages struct {
	coupons *memCoupons
	mu      sync.Mutex
	rows    []Usage
	err     error
}

func (m *memUsages) Record(_ context.Context, u *Usage) error {
	if m.err != nil {
		return m.err
	}
	m.coupons.mu.Lock()
	defer m.coupons.mu.Unlock()
	c, ok := m.coupons.byID[u.CouponID]
	if !ok || c.OrganizationID != u.OrganizationID {
		return ErrNotFound
	}
	if c.UsageLimit != nil && c.CurrentUsage >= *c.UsageLimit {
		return ErrUsageLimitReached
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.UsagePerCustomer != nil {
		n := 0
		for _, r := range m.rows {
			if r.CouponID == u.CouponID && r.CustomerID == u.CustomerID {
				n++
			}
		}
		if n >= *c.UsagePerCustomer {
			return ErrCustomerLimitReached
		}
	}
	c.CurrentUsage++
	m.rows = append(m.rows, *u)
	return nil
}

func (m *memUsages) ListByCoupon(_ context.Context, orgID, couponID string) ([]Usage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Usage
	for i := len(m.rows) - 1; i >= 0; i-- {
		if u := m.rows[i]; u.OrganizationID == orgID && u.CouponID == couponID {
			out = append(out, u)
		}
	}
	return out, nil
}

func (m *memUsages) CountByCustomer(_ context.Context, orgID, couponID, customerID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, u := range m.rows {
		if u.OrganizationID == orgID && u.CouponID == couponID && u.CustomerID == customerID {
			n++
		}
	}
	return n, nil
}

func (m *memUsages) Totals(_ context.Context, orgID string) (int, decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, sum := 0, decimal.Zero
	for _, u := range m.rows {
		if u.OrganizationID == orgID {
			n++
			sum = sum.Add(u.DiscountApplied)
		}
	}
	return n, sum, nil
}

type mockHistory struct {
	returning map[string]bool
	err       error
}

func (m *mockHistory) HasPurchases(_ context.Context, _, customerID string) (bool, error) {
	return m.returning[customerID], m.err
}

// --- Helpers ---

const testOrg = "org-1"

var fixedNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func intPtr(v int) *int { return &v }

func money(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(s))
}

func summer10() *Coupon {
	return &Coupon{
		ID:                "c-summer",
		OrganizationID:    testOrg,
		Code:              "SUMMER10",
		Type:              TypePercentage,
		Value:             decimal.NewFromInt(10),
		DurationType:      DefaultDurationType,
		ValidFrom:         fixedNow.Add(-24 * time.Hour),
		ValidUntil:        fixedNow.Add(24 * time.Hour),
		Status:            StatusActive,
		MinPurchaseAmount: money("50"),
		MaxDiscountAmount: money("20"),
		UsageLimit:        intPtr(100),
		CurrentUsage:      99,
	}
}

func newTestService(t *testing.T, cs ...*Coupon) (*Service, *memCoupons, *memUsages) {
	t.Helper()
	repo := newMemCoupons(cs...)
	usages := &memUsages{coupons: repo}
	svc, err := NewService(repo, usages, &mockHistory{}, Config{})
	require.NoError(t, err)
	svc.now = func() time.Time { return fixedNow }
	return svc, repo, usages
}

// --- Tests ---

func TestService_Create(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	c, err := svc.Create(ctx, testOrg, "user-1", CreateParams{
		Code:       "  welcome5 ",
		Type:       TypeFixedAmount,
		Value:      decimal.NewFromInt(5),
		ValidFrom:  fixedNow,
		ValidUntil: fixedNow.Add(time.Hour),
	})
	require.NoError(t, err)

	assert.Equal(t, "WELCOME5", c.Code)
	assert.Equal(t, StatusActive, c.Status)
	assert.Equal(t, 0, c.CurrentUsage)
	assert.Equal(t, DefaultDurationType, c.DurationType)
	assert.Equal(t, "user-1", c.CreatedByUserID)
	assert.NotEmpty(t, c.ID)

	got, err := svc.GetByCode(ctx, testOrg, "Welcome5")
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)
}

func TestService_CreateDuplicateCode(t *testing.T) {
	svc, _, _ := newTestService(t, summer10())

	_, err := svc.Create(context.Background(), testOrg, "", CreateParams{
		Code:       "summer10",
		Type:       TypeFixedAmount,
		Value:      decimal.NewFromInt(5),
		ValidFrom:  fixedNow,
		ValidUntil: fixedNow,
	})
	require.ErrorIs(t, err, ErrCodeExists)
}

func TestService_CreateSameCodeOtherOrganization(t *testing.T) {
	svc, _, _ := newTestService(t, summer10())

	_, err := svc.Create(context.Background(), "org-2", "", CreateParams{
		Code:       "SUMMER10",
		Type:       TypeFixedAmount,
		Value:      decimal.NewFromInt(5),
		ValidFrom:  fixedNow,
		ValidUntil: fixedNow,
	})
	require.NoError(t, err)
}

func TestService_CreateInvalid(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Create(context.Background(), testOrg, "", CreateParams{
		Code:       "BIG",
		Type:       TypePercentage,
		Value:      decimal.NewFromInt(150),
		ValidFrom:  fixedNow,
		ValidUntil: fixedNow,
	})

	var fieldErr *InvalidFieldError
	require.ErrorAs(t, err, &fieldErr)
	assert.Equal(t, "value", fieldErr.Field)
}

func TestService_Update(t *testing.T) {
	svc, _, _ := newTestService(t, summer10())
	ctx := context.Background()

	title := "Summer sale"
	value := decimal.NewFromInt(15)
	c, err := svc.Update(ctx, testOrg, "c-summer", UpdateParams{Title: &title, Value: &value})
	require.NoError(t, err)
	assert.Equal(t, "Summer sale", c.Title)
	assert.True(t, value.Equal(c.Value))
	assert.Equal(t, fixedNow, c.UpdatedAt)

	_, err = svc.Update(ctx, testOrg, "missing", UpdateParams{Title: &title})
	require.ErrorIs(t, err, ErrNotFound)

	_, err = svc.Update(ctx, "org-2", "c-summer", UpdateParams{Title: &title})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestService_Cancel(t *testing.T) {
	svc, _, _ := newTestService(t, summer10())
	ctx := context.Background()

	c, err := svc.Cancel(ctx, testOrg, "c-summer")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, c.Status)

	v, err := svc.Validate(ctx, testOrg, ValidateRequest{Code: "SUMMER10"})
	require.NoError(t, err)
	assert.False(t, v.Valid)
	assert.Equal(t, "coupon is no longer valid", v.Message())

	_, err = svc.Cancel(ctx, testOrg, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestService_List(t *testing.T) {
	var cs []*Coupon
	for _, code := range []string{"A", "B", "C", "D", "E"} {
		c := summer10()
		c.ID, c.Code = "id-"+code, code
		cs = append(cs, c)
	}
	svc, _, _ := newTestService(t, cs...)
	ctx := context.Background()

	res, err := svc.List(ctx, testOrg, Filter{}, Page{Number: 2, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, res.Total)
	assert.Equal(t, 3, res.TotalPages)
	assert.Equal(t, 2, res.Page)
	require.Len(t, res.Items, 2)
	assert.Equal(t, "C", res.Items[0].Code)

	res, err = svc.List(ctx, testOrg, Filter{}, Page{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Page)
	assert.Equal(t, 50, res.Limit)

	_, err = svc.List(ctx, testOrg, Filter{}, Page{SortBy: "title; drop table coupons"})
	var fieldErr *InvalidFieldError
	require.ErrorAs(t, err, &fieldErr)
	assert.Equal(t, "sort_by", fieldErr.Field)

	_, err = svc.List(ctx, testOrg, Filter{Statuses: []Status{"archived"}}, Page{})
	require.ErrorAs(t, err, &fieldErr)
	assert.Equal(t, "status", fieldErr.Field)
}

func TestService_ListRepositoryError(t *testing.T) {
	svc, repo, _ := newTestService(t)
	repo.listErr = errors.New("connection refused")

	_, err := svc.List(context.Background(), testOrg, Filter{}, Page{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestService_ActiveAndFlash(t *testing.T) {
	active := summer10()
	expired := summer10()
	expired.ID, expired.Code = "c-old", "OLD"
	expired.ValidUntil = fixedNow.Add(-time.Hour)
	flashLate := summer10()
	flashLate.ID, flashLate.Code, flashLate.IsFlash = "c-f2", "FLASH2", true
	flashLate.ValidUntil = fixedNow.Add(3 * time.Hour)
	flashSoon := summer10()
	flashSoon.ID, flashSoon.Code, flashSoon.IsFlash = "c-f1", "FLASH1", true
	flashSoon.ValidUntil = fixedNow.Add(time.Hour)

	svc, _, _ := newTestService(t, active, expired, flashLate, flashSoon)
	ctx := context.Background()

	items, err := svc.Active(ctx, testOrg)
	require.NoError(t, err)
	assert.Len(t, items, 3)

	flash, err := svc.Flash(ctx, testOrg)
	require.NoError(t, err)
	require.Len(t, flash, 2)
	assert.Equal(t, "FLASH1", flash[0].Code)
	assert.Equal(t, "FLASH2", flash[1].Code)
}

func TestService_RedeemSummerScenario(t *testing.T) {
	svc, repo, usages := newTestService(t, summer10())
	ctx := context.Background()

	r, err := svc.Redeem(ctx, testOrg, ValidateRequest{
		Code:           "summer10",
		PurchaseAmount: money("300"),
		CustomerID:     "cust-1",
	}, "tx-1")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(20).Equal(r.Discount))
	assert.Equal(t, 100, r.Coupon.CurrentUsage)
	assert.Equal(t, "tx-1", r.Usage.TransactionID)
	assert.Equal(t, 100, repo.byID["c-summer"].CurrentUsage)
	assert.Len(t, usages.rows, 1)

	_, err = svc.Redeem(ctx, testOrg, ValidateRequest{
		Code:           "SUMMER10",
		PurchaseAmount: money("300"),
		CustomerID:     "cust-2",
	}, "tx-2")
	var rejected *RejectedError
	require.ErrorAs(t, err, &rejected)
	require.ErrorIs(t, err, ErrUsageLimitReached)
	assert.Equal(t, "usage limit reached", rejected.Reason.Error())
	assert.Equal(t, 100, repo.byID["c-summer"].CurrentUsage)
}

func TestService_RedeemRequiresCustomer(t *testing.T) {
	svc, _, _ := newTestService(t, summer10())

	_, err := svc.Redeem(context.Background(), testOrg, ValidateRequest{Code: "SUMMER10"}, "")
	var fieldErr *InvalidFieldError
	require.ErrorAs(t, err, &fieldErr)
	assert.Equal(t, "customer_id", fieldErr.Field)
}

func TestService_UseConcurrentNeverExceedsLimit(t *testing.T) {
	c := summer10()
	c.CurrentUsage = 0
	c.UsageLimit = intPtr(10)
	svc, repo, usages := newTestService(t, c)
	ctx := context.Background()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		refused  int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Use(ctx, testOrg, UseRequest{
				CouponID:        "c-summer",
				CustomerID:      "cust",
				DiscountApplied: decimal.NewFromInt(1),
			})
			mu.Lock()
			defer mu.Unlock()
			if errors.Is(err, ErrUsageLimitReached) {
				refused++
				return
			}
			if err == nil {
				accepted++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, accepted)
	assert.Equal(t, 40, refused)
	assert.Equal(t, 10, repo.byID["c-summer"].CurrentUsage)
	assert.Len(t, usages.rows, 10)
}

func TestService_SameCustomerConcurrentRedeems(t *testing.T) {
	c := summer10()
	c.CurrentUsage = 0
	c.UsageLimit = nil
	c.UsagePerCustomer = intPtr(1)
	svc, repo, usages := newTestService(t, c)
	ctx := context.Background()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		refused  int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Redeem(ctx, testOrg, ValidateRequest{
				Code:           "SUMMER10",
				PurchaseAmount: money("100"),
				CustomerID:     "cust-1",
			}, "")
			mu.Lock()
			defer mu.Unlock()
			var rejected *RejectedError
			if errors.As(err, &rejected) && errors.Is(err, ErrCustomerLimitReached) {
				refused++
				return
			}
			if err == nil {
				accepted++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, accepted)
	assert.Equal(t, 19, refused)
	assert.Equal(t, 1, repo.byID["c-summer"].CurrentUsage)
	assert.Len(t, usages.rows, 1)

	// Another customer still has their own allowance.
	_, err := svc.Redeem(ctx, testOrg, ValidateRequest{Code: "SUMMER10", PurchaseAmount: money("100"), CustomerID: "cust-2"}, "")
	require.NoError(t, err)
}

func TestService_UseCustomerLimitRefused(t *testing.T) {
	c := summer10()
	c.CurrentUsage = 0
	c.UsagePerCustomer = intPtr(1)
	svc, repo, _ := newTestService(t, c)
	ctx := context.Background()

	_, err := svc.Use(ctx, testOrg, UseRequest{CouponID: "c-summer", CustomerID: "cust-1"})
	require.NoError(t, err)

	_, err = svc.Use(ctx, testOrg, UseRequest{CouponID: "c-summer", CustomerID: "cust-1"})
	require.ErrorIs(t, err, ErrCustomerLimitReached)
	assert.Equal(t, 1, repo.byID["c-summer"].CurrentUsage, "refused claim must not count")
}

func TestService_UseRecordError(t *testing.T) {
	svc, _, usages := newTestService(t, summer10())
	usages.err = errors.New("deadlock detected")

	_, err := svc.Use(context.Background(), testOrg, UseRequest{CouponID: "c-summer", CustomerID: "cust"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "record usage")
}

func TestService_Usages(t *testing.T) {
	svc, _, _ := newTestService(t, summer10())
	ctx := context.Background()

	_, err := svc.Use(ctx, testOrg, UseRequest{CouponID: "c-summer", CustomerID: "cust-1", TransactionID: "tx-1"})
	require.NoError(t, err)

	items, err := svc.Usages(ctx, testOrg, "c-summer")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "tx-1", items[0].TransactionID)
	assert.Equal(t, fixedNow, items[0].UsedAt)

	_, err = svc.Usages(ctx, testOrg, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestService_ExpireOverdue(t *testing.T) {
	old := summer10()
	old.ValidUntil = fixedNow.Add(-time.Minute)
	svc, repo, _ := newTestService(t, old)

	n, err := svc.ExpireOverdue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, StatusExpired, repo.byID["c-summer"].Status)
}
