package pricing

import (
	"fmt"

	"github.com/tradesight/portal/internal/catalog"
)

// BillingCycle is how the gateway bills the subscription.
type BillingCycle string

const (
	CycleMonthly BillingCycle = "MONTHLY"
	CycleYearly  BillingCycle = "YEARLY"
)

// CycleForPlan derives the billing cycle from a plan's period. Only annual
// plans bill yearly; shorter periods are monthly in gateway terms.
func CycleForPlan(p catalog.Plan) BillingCycle {
	if p.BillingPeriodMonths == 12 {
		return CycleYearly
	}
	return CycleMonthly
}

// Quote is the computed, currency-exact amount payable for a plan, cycle and
// optional coupon. Derived on every request, never persisted. All amounts are
// integers in minor currency units.
type Quote struct {
	PlanID          string       `json:"plan_id"`
	Currency        string       `json:"currency"`
	BillingCycle    BillingCycle `json:"billing_cycle"`
	BaseAmount      int64        `json:"base_amount"`
	DiscountPercent int          `json:"discount_percent"`
	DiscountAmount  int64        `json:"discount_amount"`
	FinalAmount     int64        `json:"final_amount"`
	CouponCode      string       `json:"coupon_code,omitempty"`
}

// UnsupportedCurrencyError signals that the plan carries no price in the
// requested currency. The lookup fails closed: no amount from another
// currency is ever substituted.
type UnsupportedCurrencyError struct {
	PlanID   string
	Currency string
}

func (e *UnsupportedCurrencyError) Error() string {
	return fmt.Sprintf("plan %q has no price in currency %q", e.PlanID, e.Currency)
}

// InvalidCycleError signals an unrecognized billing cycle value.
type InvalidCycleError struct {
	Cycle BillingCycle
}

func (e *InvalidCycleError) Error() string {
	return fmt.Sprintf("invalid billing cycle %q", e.Cycle)
}

// Calculator computes payable amounts from the plan catalog.
type Calculator struct {
	catalog *catalog.Catalog
}

// NewCalculator creates a calculator over the given catalog.
func NewCalculator(c *catalog.Catalog) *Calculator {
	return &Calculator{catalog: c}
}

// ComputeQuote resolves the base amount for (plan, currency) and applies the
// coupon if one is supplied. The coupon is assumed already validated for the
// plan. The discount is floored so the charge never exceeds the published
// discounted price; arithmetic is integer-only.
func (c *Calculator) ComputeQuote(planID, currency string, cycle BillingCycle, coupon *catalog.Coupon) (*Quote, error) {
	plan, err := c.catalog.GetPlan(planID)
	if err != nil {
		return nil, err
	}

	baseAmount, ok := plan.PriceByCurrency[currency]
	if !ok {
		return nil, &UnsupportedCurrencyError{PlanID: planID, Currency: currency}
	}

	if cycle == "" {
		cycle = CycleForPlan(plan)
	}
	switch cycle {
	case CycleMonthly, CycleYearly:
	default:
		return nil, &InvalidCycleError{Cycle: cycle}
	}

	quote := &Quote{
		PlanID:       planID,
		Currency:     currency,
		BillingCycle: cycle,
		BaseAmount:   baseAmount,
		FinalAmount:  baseAmount,
	}

	if coupon != nil {
		quote.CouponCode = coupon.Code
		quote.DiscountPercent = coupon.DiscountPercent
		quote.DiscountAmount = baseAmount * int64(coupon.DiscountPercent) / 100
		quote.FinalAmount = baseAmount - quote.DiscountAmount
	}

	return quote, nil
}
