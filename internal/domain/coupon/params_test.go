package coupon

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validCreateParams() CreateParams {
	return CreateParams{
		Code:       "save5",
		Type:       TypeFixedAmount,
		Value:      decimal.NewFromInt(5),
		ValidFrom:  fixedNow,
		ValidUntil: fixedNow.Add(time.Hour),
	}
}

func TestCreateParams_Validate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(p *CreateParams)
		wantField string
	}{
		{name: "valid"},
		{name: "blank code", mutate: func(p *CreateParams) { p.Code = "   " }, wantField: "code"},
		{name: "unknown type", mutate: func(p *CreateParams) { p.Type = "bogus" }, wantField: "type"},
		{name: "zero value", mutate: func(p *CreateParams) { p.Value = decimal.Zero }, wantField: "value"},
		{
			name: "percentage over 100",
			mutate: func(p *CreateParams) {
				p.Type = TypePercentage
				p.Value = decimal.RequireFromString("100.01")
			},
			wantField: "value",
		},
		{
			name:      "window reversed",
			mutate:    func(p *CreateParams) { p.ValidUntil = p.ValidFrom.Add(-time.Second) },
			wantField: "valid_until",
		},
		{
			name:      "missing window",
			mutate:    func(p *CreateParams) { p.ValidUntil = time.Time{} },
			wantField: "valid_until",
		},
		{
			name:      "negative minimum",
			mutate:    func(p *CreateParams) { p.MinPurchaseAmount = money("-1") },
			wantField: "min_purchase_amount",
		},
		{
			name:      "negative max discount",
			mutate:    func(p *CreateParams) { p.MaxDiscountAmount = money("-0.01") },
			wantField: "max_discount_amount",
		},
		{
			name:      "zero usage limit",
			mutate:    func(p *CreateParams) { p.UsageLimit = intPtr(0) },
			wantField: "usage_limit",
		},
		{
			name:      "zero per-customer limit",
			mutate:    func(p *CreateParams) { p.UsagePerCustomer = intPtr(0) },
			wantField: "usage_per_customer",
		},
		{
			name:      "value rounds to zero",
			mutate:    func(p *CreateParams) { p.Value = decimal.RequireFromString("0.004") },
			wantField: "value",
		},
		{
			name:      "value beyond stored precision",
			mutate:    func(p *CreateParams) { p.Value = decimal.RequireFromString("10000000000") },
			wantField: "value",
		},
		{
			name:      "minimum beyond stored precision",
			mutate:    func(p *CreateParams) { p.MinPurchaseAmount = money("9999999999.995") },
			wantField: "min_purchase_amount",
		},
		{
			name:      "usage limit beyond int32",
			mutate:    func(p *CreateParams) { p.UsageLimit = intPtr(1 << 31) },
			wantField: "usage_limit",
		},
		{
			name:      "per-customer limit beyond int32",
			mutate:    func(p *CreateParams) { p.UsagePerCustomer = intPtr(1 << 40) },
			wantField: "usage_per_customer",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validCreateParams()
			if tt.mutate != nil {
				tt.mutate(&p)
			}
			err := p.Validate()
			if tt.wantField == "" {
				require.NoError(t, err)
				assert.Equal(t, "SAVE5", p.Code)
				return
			}
			var fieldErr *InvalidFieldError
			require.ErrorAs(t, err, &fieldErr)
			assert.Equal(t, tt.wantField, fieldErr.Field)
		})
	}
}

func TestUpdateParams_Apply(t *testing.T) {
	c := summer10()

	limit := intPtr(200)
	tier := "gold"
	require.NoError(t, (&UpdateParams{UsageLimit: &limit, CustomerTierRequired: &tier}).Apply(c))
	assert.Equal(t, 200, *c.UsageLimit)
	assert.Equal(t, "gold", c.CustomerTierRequired)
	assert.Equal(t, "SUMMER10", c.Code)

	var unlimited *int
	require.NoError(t, (&UpdateParams{UsageLimit: &unlimited}).Apply(c))
	assert.Nil(t, c.UsageLimit)

	below := intPtr(10)
	err := (&UpdateParams{UsageLimit: &below}).Apply(c)
	var fieldErr *InvalidFieldError
	require.ErrorAs(t, err, &fieldErr)
	assert.Equal(t, "usage_limit", fieldErr.Field)

	c = summer10()
	until := c.ValidFrom.Add(-time.Hour)
	err = (&UpdateParams{ValidUntil: &until}).Apply(c)
	require.ErrorAs(t, err, &fieldErr)
	assert.Equal(t, "valid_until", fieldErr.Field)
}

func TestCreateParams_RoundsMoney(t *testing.T) {
	p := validCreateParams()
	p.Value = decimal.RequireFromString("5.005")
	p.MinPurchaseAmount = money("49.999")
	p.MaxDiscountAmount = money("20.004")
	p.UsageLimit = intPtr(1<<31 - 1)
	require.NoError(t, p.Validate())

	c := p.Coupon(testOrg, "key-1")
	assert.Equal(t, "5.01", c.Value.String())
	assert.Equal(t, "50", c.MinPurchaseAmount.Decimal.String())
	assert.Equal(t, "20", c.MaxDiscountAmount.Decimal.String())
}

func TestUpdateParams_ApplyRoundsAndBounds(t *testing.T) {
	c := summer10()
	value := decimal.RequireFromString("12.345")
	require.NoError(t, (&UpdateParams{Value: &value}).Apply(c))
	assert.Equal(t, "12.35", c.Value.String())

	tooBig := money("10000000000")
	err := (&UpdateParams{MaxDiscountAmount: &tooBig}).Apply(c)
	var fieldErr *InvalidFieldError
	require.ErrorAs(t, err, &fieldErr)
	assert.Equal(t, "max_discount_amount", fieldErr.Field)
}
