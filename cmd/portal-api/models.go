package main

import (
	"context"
	"time"

	"github.com/tradesight/portal/internal/audit"
	"github.com/tradesight/portal/internal/catalog"
	"github.com/tradesight/portal/internal/lifecycle"
	"github.com/tradesight/portal/internal/pricing"
)

// Payment statuses. Payments are append-only; only status moves.
const (
	PaymentStatusPending   = "PENDING"
	PaymentStatusCompleted = "COMPLETED"
	PaymentStatusFailed    = "FAILED"
)

// Payment is one charge attempt against a subscription. A PENDING row is
// written before the user is redirected to the gateway, so abandoned
// checkouts stay observable and reconcilable.
type Payment struct {
	ID             string    `json:"id"`
	SubscriptionID string    `json:"subscription_id"`
	PlanID         string    `json:"plan_id"`
	Gateway        string    `json:"gateway"`
	GatewayRef     string    `json:"gateway_ref,omitempty"`
	Amount         int64     `json:"amount"` // minor units
	Currency       string    `json:"currency"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Company owns exactly one non-canceled subscription at a time.
type Company struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// SubscriptionFilter narrows the admin subscription listing.
type SubscriptionFilter struct {
	Search string
	Status string
	Plan   string
	Page   int
	Limit  int
}

// CompanyFilter narrows the admin company listing.
type CompanyFilter struct {
	Search string
	Page   int
	Limit  int
}

// AuditFilter narrows the admin audit log listing.
type AuditFilter struct {
	EventType string
	Page      int
	Limit     int
}

// SubscriptionRow is the admin read model: a subscription joined with its
// owning company name.
type SubscriptionRow struct {
	lifecycle.Subscription
	CompanyName string `json:"company_name"`
}

// Store is the persistence surface the handlers depend on.
type Store interface {
	Ping() error

	CreateCompanyWithTrial(ctx context.Context, name string, sub lifecycle.Subscription) (*Company, error)
	GetSubscriptionByCompany(ctx context.Context, companyID string) (*lifecycle.Subscription, error)
	GetSubscriptionByID(ctx context.Context, id string) (*lifecycle.Subscription, error)
	// UpdateSubscriptionCAS persists sub only when the stored version still
	// equals expectedVersion, bumping the version. ErrVersionConflict means
	// the caller must re-fetch and re-apply.
	UpdateSubscriptionCAS(ctx context.Context, sub lifecycle.Subscription, expectedVersion int64) error

	CreatePayment(ctx context.Context, p *Payment) error
	GetPayment(ctx context.Context, id string) (*Payment, error)
	UpdatePaymentStatus(ctx context.Context, id, status, gatewayRef string) error
	ListPaymentsBySubscription(ctx context.Context, subscriptionID string) ([]Payment, error)
	// MarkExpiredPendingPayments fails PENDING payments older than the cutoff
	// and returns how many were swept. The scheduler invoking it is external.
	MarkExpiredPendingPayments(ctx context.Context, olderThan time.Time) (int64, error)

	GetCoupon(ctx context.Context, code string) (*catalog.Coupon, error)

	ListTrialsExpiredBefore(ctx context.Context, cutoff time.Time, limit int) ([]lifecycle.Subscription, error)

	ListSubscriptions(ctx context.Context, f SubscriptionFilter) ([]SubscriptionRow, int, error)
	ListCompanies(ctx context.Context, f CompanyFilter) ([]Company, int, error)
	ListAuditLogs(ctx context.Context, f AuditFilter) ([]audit.Entry, int, error)
	AppendAuditLog(ctx context.Context, e audit.Entry) error
}

// Dedupe is the webhook idempotency surface, satisfied by cache.Client.
type Dedupe interface {
	SetNX(ctx context.Context, key, value string, expiration time.Duration) (bool, error)
}

// ============== Request/Response types ==============

// RegisterCompanyRequest starts a company on its trial.
type RegisterCompanyRequest struct {
	Name   string `json:"name"`
	PlanID string `json:"plan_id"`
}

// Validate checks required fields.
func (r *RegisterCompanyRequest) Validate() error {
	if r.Name == "" {
		return ErrMissingCompanyName
	}
	if r.PlanID == "" {
		return ErrMissingPlanID
	}
	return nil
}

// ValidateCouponRequest checks a coupon against a plan.
type ValidateCouponRequest struct {
	Code   string `json:"code"`
	PlanID string `json:"planId"`
}

// CheckoutSessionRequest initiates a hosted checkout. The server recomputes
// the amount from the plan and coupon; no client-supplied amount is accepted.
type CheckoutSessionRequest struct {
	PlanID        string `json:"planId"`
	Currency      string `json:"currency"`
	BillingCycle  string `json:"billingCycle,omitempty"`
	CouponCode    string `json:"couponCode,omitempty"`
	PaymentMethod string `json:"paymentMethod"`
	GatewayHint   string `json:"gatewayHint,omitempty"`
}

// Validate checks required fields.
func (r *CheckoutSessionRequest) Validate() error {
	if r.PlanID == "" {
		return ErrMissingPlanID
	}
	if r.Currency == "" {
		return ErrMissingCurrency
	}
	if r.PaymentMethod == "" {
		return ErrMissingPaymentMethod
	}
	return nil
}

// CheckoutSessionResponse carries the gateway redirect.
type CheckoutSessionResponse struct {
	RedirectURL string         `json:"redirectUrl"`
	Gateway     string         `json:"gateway"`
	PaymentID   string         `json:"paymentId"`
	Quote       *pricing.Quote `json:"quote"`
}

// PlanListResponse wraps the catalog snapshot.
type PlanListResponse struct {
	Plans []catalog.Plan `json:"plans"`
	Total int            `json:"total"`
}

// PaymentListResponse wraps a payment history.
type PaymentListResponse struct {
	Payments []Payment `json:"payments"`
	Total    int       `json:"total"`
}

// Pagination describes one page of an admin listing.
type Pagination struct {
	Total      int `json:"total"`
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	TotalPages int `json:"totalPages"`
}

// SubscriptionListResponse is the admin subscription page.
type SubscriptionListResponse struct {
	Subscriptions []SubscriptionRow `json:"subscriptions"`
	Pagination    Pagination        `json:"pagination"`
}

// CompanyListResponse is the admin company page.
type CompanyListResponse struct {
	Companies  []Company  `json:"companies"`
	Pagination Pagination `json:"pagination"`
}

// AuditLogListResponse is the admin audit log page.
type AuditLogListResponse struct {
	AuditLogs  []audit.Entry `json:"auditLogs"`
	Pagination Pagination    `json:"pagination"`
}

// ErrorResponse is the structured error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// ValidationError is a field-level input rejection.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return e.Message
}

var (
	ErrMissingCompanyName   = ValidationError{Field: "name", Message: "name is required"}
	ErrMissingPlanID        = ValidationError{Field: "planId", Message: "planId is required"}
	ErrMissingCurrency      = ValidationError{Field: "currency", Message: "currency is required"}
	ErrMissingPaymentMethod = ValidationError{Field: "paymentMethod", Message: "paymentMethod is required"}
)
