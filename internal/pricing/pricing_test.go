package pricing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradesight/portal/internal/catalog"
)

func TestComputeQuoteNoCoupon(t *testing.T) {
	calc := NewCalculator(catalog.Default())

	quote, err := calc.ComputeQuote(catalog.PlanTrimestral, "USD", "", nil)
	require.NoError(t, err)

	assert.Equal(t, int64(1100_00), quote.BaseAmount)
	assert.Equal(t, int64(0), quote.DiscountAmount)
	assert.Equal(t, int64(1100_00), quote.FinalAmount)
	assert.Equal(t, CycleMonthly, quote.BillingCycle)
	assert.Empty(t, quote.CouponCode)
}

func TestComputeQuoteWithCoupon(t *testing.T) {
	calc := NewCalculator(catalog.Default())
	coupon := &catalog.Coupon{Code: "half", DiscountPercent: 50}

	quote, err := calc.ComputeQuote(catalog.PlanAnual, "USD", "", coupon)
	require.NoError(t, err)

	assert.Equal(t, int64(2900_00), quote.BaseAmount)
	assert.Equal(t, int64(1450_00), quote.DiscountAmount)
	assert.Equal(t, int64(1450_00), quote.FinalAmount)
	assert.Equal(t, CycleYearly, quote.BillingCycle)
	assert.Equal(t, "half", quote.CouponCode)
}

func TestComputeQuoteDiscountFloors(t *testing.T) {
	cat, err := catalog.New([]catalog.Plan{
		{ID: "odd", Name: "Odd", BillingPeriodMonths: 1, PriceByCurrency: map[string]int64{"USD": 999}},
	})
	require.NoError(t, err)
	calc := NewCalculator(cat)

	// 999 * 33 / 100 = 329.67, floored to 329.
	quote, err := calc.ComputeQuote("odd", "USD", "", &catalog.Coupon{Code: "x", DiscountPercent: 33})
	require.NoError(t, err)
	assert.Equal(t, int64(329), quote.DiscountAmount)
	assert.Equal(t, int64(670), quote.FinalAmount)
}

func TestComputeQuoteDiscountNeverExceedsBase(t *testing.T) {
	calc := NewCalculator(catalog.Default())

	for pct := 0; pct <= 100; pct++ {
		quote, err := calc.ComputeQuote(catalog.PlanMensual, "COP", "", &catalog.Coupon{Code: "x", DiscountPercent: pct})
		require.NoError(t, err)
		assert.GreaterOrEqual(t, quote.FinalAmount, int64(0), "pct %d", pct)
		assert.Equal(t, quote.BaseAmount, quote.DiscountAmount+quote.FinalAmount, "pct %d", pct)
	}
}

func TestComputeQuoteUnsupportedCurrency(t *testing.T) {
	calc := NewCalculator(catalog.Default())

	_, err := calc.ComputeQuote(catalog.PlanMensual, "EUR", "", nil)
	var currErr *UnsupportedCurrencyError
	require.ErrorAs(t, err, &currErr)
	assert.Equal(t, "EUR", currErr.Currency)
}

func TestComputeQuoteUnknownPlan(t *testing.T) {
	calc := NewCalculator(catalog.Default())

	_, err := calc.ComputeQuote("platinum", "USD", "", nil)
	var notFound *catalog.PlanNotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestComputeQuoteInvalidCycle(t *testing.T) {
	calc := NewCalculator(catalog.Default())

	_, err := calc.ComputeQuote(catalog.PlanMensual, "USD", "WEEKLY", nil)
	var cycleErr *InvalidCycleError
	require.ErrorAs(t, err, &cycleErr)
}

func TestCycleForPlan(t *testing.T) {
	cat := catalog.Default()

	for _, tt := range []struct {
		planID string
		want   BillingCycle
	}{
		{catalog.PlanMensual, CycleMonthly},
		{catalog.PlanTrimestral, CycleMonthly},
		{catalog.PlanSemestral, CycleMonthly},
		{catalog.PlanAnual, CycleYearly},
	} {
		plan, err := cat.GetPlan(tt.planID)
		require.NoError(t, err)
		assert.Equal(t, tt.want, CycleForPlan(plan), tt.planID)
	}
}
