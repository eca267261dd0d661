package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Coupon is a discount code with an eligibility scope. Coupons are created and
// revoked through an external admin path; this package only reads them.
type Coupon struct {
	Code            string   `json:"code"`
	DiscountPercent int      `json:"discount_percent"`
	EligiblePlanIDs []string `json:"eligible_plan_ids,omitempty"` // empty = all plans
	Description     string   `json:"description,omitempty"`
}

// EligibleFor reports whether the coupon applies to the given plan.
func (c Coupon) EligibleFor(planID string) bool {
	if len(c.EligiblePlanIDs) == 0 {
		return true
	}
	for _, id := range c.EligiblePlanIDs {
		if id == planID {
			return true
		}
	}
	return false
}

// ErrCouponNotFound is returned by a Source when no coupon matches the code.
var ErrCouponNotFound = errors.New("coupon not found")

// Source provides coupon lookups by normalized code.
type Source interface {
	GetCoupon(ctx context.Context, code string) (*Coupon, error)
}

// Rejection reason codes returned to the client.
const (
	ReasonEmptyCode      = "EMPTY_CODE"
	ReasonNotFound       = "NOT_FOUND"
	ReasonPlanIneligible = "PLAN_INELIGIBLE"
)

// ValidationResult is the outcome of validating a coupon against a plan.
type ValidationResult struct {
	Valid           bool   `json:"valid"`
	DiscountPercent int    `json:"discount_percent,omitempty"`
	Description     string `json:"description,omitempty"`
	Reason          string `json:"reason,omitempty"`
}

// Validator checks coupon codes against the plan catalog. Validation is
// idempotent and side-effect free; the UI calls it on every submit.
type Validator struct {
	source  Source
	catalog *Catalog
}

// NewValidator creates a coupon validator backed by the given source.
func NewValidator(source Source, catalog *Catalog) *Validator {
	return &Validator{source: source, catalog: catalog}
}

// NormalizeCode trims surrounding whitespace and case-folds a coupon code.
func NormalizeCode(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}

// Validate applies the eligibility rules in order: empty code, unknown code,
// plan eligibility. A non-nil error means the lookup itself failed; rejection
// is reported through the result, not the error.
func (v *Validator) Validate(ctx context.Context, code, planID string) (ValidationResult, error) {
	normalized := NormalizeCode(code)
	if normalized == "" {
		return ValidationResult{Valid: false, Reason: ReasonEmptyCode}, nil
	}

	if _, err := v.catalog.GetPlan(planID); err != nil {
		return ValidationResult{}, err
	}

	coupon, err := v.source.GetCoupon(ctx, normalized)
	if err != nil {
		if errors.Is(err, ErrCouponNotFound) {
			return ValidationResult{Valid: false, Reason: ReasonNotFound}, nil
		}
		return ValidationResult{}, fmt.Errorf("coupon lookup failed: %w", err)
	}

	if !coupon.EligibleFor(planID) {
		return ValidationResult{Valid: false, Reason: ReasonPlanIneligible}, nil
	}

	return ValidationResult{
		Valid:           true,
		DiscountPercent: coupon.DiscountPercent,
		Description:     coupon.Description,
	}, nil
}

// Lookup returns the coupon itself after the same checks as Validate, for
// callers that need the full coupon (checkout recomputes the quote with it).
func (v *Validator) Lookup(ctx context.Context, code, planID string) (*Coupon, ValidationResult, error) {
	result, err := v.Validate(ctx, code, planID)
	if err != nil || !result.Valid {
		return nil, result, err
	}
	coupon, err := v.source.GetCoupon(ctx, NormalizeCode(code))
	if err != nil {
		return nil, ValidationResult{}, err
	}
	return coupon, result, nil
}

// KV is the cache surface used by CachedSource. Satisfied by cache.Client.
type KV interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
}

// CachedSource wraps a Source with a short-lived cache so repeated validation
// calls do not hammer the store. The TTL must stay short: a revoked coupon may
// keep validating until the cached entry expires.
type CachedSource struct {
	source Source
	kv     KV
	ttl    time.Duration
}

// NewCachedSource wraps source with a cache using the given TTL.
func NewCachedSource(source Source, kv KV, ttl time.Duration) *CachedSource {
	return &CachedSource{source: source, kv: kv, ttl: ttl}
}

// GetCoupon reads through the cache. Cache misses and cache errors fall back
// to the underlying source; only found coupons are cached, so a freshly
// created code is visible immediately.
func (s *CachedSource) GetCoupon(ctx context.Context, code string) (*Coupon, error) {
	key := "coupon:" + code

	var cached Coupon
	if err := s.kv.Get(ctx, key, &cached); err == nil && cached.Code != "" {
		return &cached, nil
	}

	coupon, err := s.source.GetCoupon(ctx, code)
	if err != nil {
		return nil, err
	}

	_ = s.kv.Set(ctx, key, coupon, s.ttl)
	return coupon, nil
}
