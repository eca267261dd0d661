package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/tradesight/portal/internal/audit"
	"github.com/tradesight/portal/internal/cache"
	"github.com/tradesight/portal/internal/catalog"
	"github.com/tradesight/portal/internal/config"
	"github.com/tradesight/portal/internal/events"
	"github.com/tradesight/portal/internal/gateway"
	"github.com/tradesight/portal/internal/lifecycle"
	"github.com/tradesight/portal/internal/logger"
	"github.com/tradesight/portal/internal/pricing"
	ws "github.com/tradesight/portal/internal/websocket"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	store      Store
	catalog    *catalog.Catalog
	validator  *catalog.Validator
	calculator *pricing.Calculator
	gateways   *gateway.Selector
	dedupe     Dedupe
	cache      *cache.Client
	publisher  *events.Publisher
	hub        *ws.Hub
	logger     *logger.Logger
	cfg        *config.Config
}

// NewHandler creates a handler with dependencies.
func NewHandler(store Store, cat *catalog.Catalog, validator *catalog.Validator, calculator *pricing.Calculator,
	gateways *gateway.Selector, dedupe Dedupe, cacheClient *cache.Client, publisher *events.Publisher,
	hub *ws.Hub, log *logger.Logger, cfg *config.Config) *Handler {
	return &Handler{
		store:      store,
		catalog:    cat,
		validator:  validator,
		calculator: calculator,
		gateways:   gateways,
		dedupe:     dedupe,
		cache:      cacheClient,
		publisher:  publisher,
		hub:        hub,
		logger:     log,
		cfg:        cfg,
	}
}

// ============== Response Helpers ==============

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, ErrorResponse{Error: message})
}

func respondErrorCode(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{Error: message, Code: code})
}

// ============== Auth Context ==============

type contextKey string

const (
	ctxKeyUserID    contextKey = "user_id"
	ctxKeyCompanyID contextKey = "company_id"
	ctxKeyRole      contextKey = "role"
)

// AuthContext copies the identity headers set by the edge proxy into the
// request context. Authentication itself happens upstream; this service
// trusts the headers it is handed.
func AuthContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		ctx = context.WithValue(ctx, ctxKeyUserID, r.Header.Get("X-User-ID"))
		ctx = context.WithValue(ctx, ctxKeyCompanyID, r.Header.Get("X-Company-ID"))
		ctx = context.WithValue(ctx, ctxKeyRole, r.Header.Get("X-Role"))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func companyIDFrom(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyCompanyID).(string); ok {
		return v
	}
	return ""
}

func roleFrom(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyRole).(string); ok {
		return v
	}
	return ""
}

// RequireCompany rejects requests without a company identity.
func (h *Handler) RequireCompany(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if companyIDFrom(r.Context()) == "" {
			respondError(w, http.StatusUnauthorized, "Authentication required")
			return
		}
		next(w, r)
	}
}

// RequireAdmin rejects requests without the admin role.
func (h *Handler) RequireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if roleFrom(r.Context()) != "admin" {
			respondError(w, http.StatusForbidden, "Admin access required")
			return
		}
		next(w, r)
	}
}

// ============== Audit Helper ==============

func (h *Handler) audit(ctx context.Context, eventType, companyID, subscriptionID, paymentID string, md audit.Metadata) {
	entry, err := audit.NewEntry(eventType, md)
	if err != nil {
		h.logger.Error("Invalid audit entry", "event_type", eventType, "error", err)
		return
	}
	entry.CompanyID = companyID
	entry.SubscriptionID = subscriptionID
	entry.PaymentID = paymentID
	if err := h.store.AppendAuditLog(ctx, entry); err != nil {
		h.logger.Error("Failed to append audit log", "event_type", eventType, "error", err)
	}
}

// ============== Health ==============

// HealthCheck reports service, database and cache health.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":    "healthy",
		"service":   "portal-api",
		"timestamp": time.Now().UTC(),
	}

	if err := h.store.Ping(); err != nil {
		health["status"] = "unhealthy"
		health["database"] = "down"
		respondJSON(w, http.StatusServiceUnavailable, health)
		return
	}
	health["database"] = "up"

	if h.cache != nil {
		if err := h.cache.HealthCheck(); err != nil {
			health["cache"] = "down"
		} else {
			health["cache"] = "up"
		}
	}

	if h.hub != nil {
		health["live_feed_clients"] = h.hub.ClientCount()
	}

	respondJSON(w, http.StatusOK, health)
}

// ============== Plan Catalog ==============

// ListPlans returns the full plan catalog in its canonical order.
func (h *Handler) ListPlans(w http.ResponseWriter, r *http.Request) {
	plans := h.catalog.Plans()
	respondJSON(w, http.StatusOK, PlanListResponse{Plans: plans, Total: len(plans)})
}

// ============== Coupon Validation ==============

// ValidateCoupon checks a coupon code against a plan. Rejections come back
// as 200 with valid=false and a reason code; only infrastructure failures
// are errors.
func (h *Handler) ValidateCoupon(w http.ResponseWriter, r *http.Request) {
	var req ValidateCouponRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.PlanID == "" {
		respondError(w, http.StatusBadRequest, ErrMissingPlanID.Message)
		return
	}

	result, err := h.validator.Validate(r.Context(), req.Code, req.PlanID)
	if err != nil {
		var notFound *catalog.PlanNotFoundError
		if errors.As(err, &notFound) {
			respondErrorCode(w, http.StatusNotFound, "PLAN_NOT_FOUND", notFound.Error())
			return
		}
		h.logger.Error("Coupon validation failed", "code", catalog.NormalizeCode(req.Code), "error", err)
		respondError(w, http.StatusInternalServerError, "Coupon validation failed")
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// ============== Checkout ==============

// CreateCheckoutSession recomputes the quote server-side, records a PENDING
// payment, and opens a hosted session on the routed gateway. The pending row
// is written before the redirect so an abandoned checkout is still visible.
func (h *Handler) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	var req CheckoutSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	companyID := companyIDFrom(ctx)

	sub, err := h.store.GetSubscriptionByCompany(ctx, companyID)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			respondError(w, http.StatusNotFound, "No subscription found for company")
			return
		}
		h.logger.Error("Failed to load subscription", "company_id", companyID, "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to load subscription")
		return
	}

	// Canceled is terminal; a checkout against it would charge the user for
	// an activation webhook that can never apply.
	if sub.Status == lifecycle.StatusCanceled {
		respondErrorCode(w, http.StatusConflict, "SUBSCRIPTION_CANCELED", "Subscription is canceled; register a new company to subscribe again")
		return
	}

	plan, err := h.catalog.GetPlan(req.PlanID)
	if err != nil {
		respondErrorCode(w, http.StatusNotFound, "PLAN_NOT_FOUND", err.Error())
		return
	}

	// Resolve the coupon before pricing so an invalid code fails the request
	// instead of silently charging full price.
	var coupon *catalog.Coupon
	if req.CouponCode != "" {
		c, result, err := h.validator.Lookup(ctx, req.CouponCode, req.PlanID)
		if err != nil {
			var notFound *catalog.PlanNotFoundError
			if errors.As(err, &notFound) {
				respondErrorCode(w, http.StatusNotFound, "PLAN_NOT_FOUND", notFound.Error())
				return
			}
			h.logger.Error("Coupon lookup failed", "code", catalog.NormalizeCode(req.CouponCode), "error", err)
			respondError(w, http.StatusInternalServerError, "Coupon validation failed")
			return
		}
		if !result.Valid {
			respondErrorCode(w, http.StatusBadRequest, result.Reason, "Coupon is not valid for this plan")
			return
		}
		coupon = c
	}

	quote, err := h.calculator.ComputeQuote(req.PlanID, req.Currency, pricing.BillingCycle(req.BillingCycle), coupon)
	if err != nil {
		var planErr *catalog.PlanNotFoundError
		var currErr *pricing.UnsupportedCurrencyError
		var cycleErr *pricing.InvalidCycleError
		switch {
		case errors.As(err, &planErr):
			respondErrorCode(w, http.StatusNotFound, "PLAN_NOT_FOUND", planErr.Error())
		case errors.As(err, &currErr):
			respondErrorCode(w, http.StatusBadRequest, "UNSUPPORTED_CURRENCY", currErr.Error())
		case errors.As(err, &cycleErr):
			respondErrorCode(w, http.StatusBadRequest, "INVALID_BILLING_CYCLE", cycleErr.Error())
		default:
			h.logger.Error("Quote computation failed", "plan_id", req.PlanID, "error", err)
			respondError(w, http.StatusInternalServerError, "Failed to compute quote")
		}
		return
	}

	gw, err := h.gateways.ForCheckout(req.GatewayHint, req.Currency)
	if err != nil {
		respondErrorCode(w, http.StatusBadRequest, "UNKNOWN_GATEWAY", err.Error())
		return
	}

	now := time.Now().UTC()
	payment := &Payment{
		ID:             uuid.New().String(),
		SubscriptionID: sub.ID,
		PlanID:         plan.ID,
		Gateway:        gw.Name(),
		Amount:         quote.FinalAmount,
		Currency:       quote.Currency,
		Status:         PaymentStatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := h.store.CreatePayment(ctx, payment); err != nil {
		h.logger.Error("Failed to create payment", "subscription_id", sub.ID, "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to create payment")
		return
	}

	h.audit(ctx, audit.EventPaymentPending, companyID, sub.ID, payment.ID, audit.Metadata{
		"gateway":  gw.Name(),
		"plan_id":  req.PlanID,
		"currency": quote.Currency,
		"amount":   strconv.FormatInt(quote.FinalAmount, 10),
	})
	h.publisher.PaymentPending(ws.PaymentData{
		PaymentID:      payment.ID,
		SubscriptionID: sub.ID,
		Amount:         payment.Amount,
		Currency:       payment.Currency,
		Gateway:        payment.Gateway,
		Status:         payment.Status,
	})

	metadata := map[string]string{
		"payment_id": payment.ID,
		"plan_id":    req.PlanID,
		"plan_name":  plan.Name,
		"company_id": companyID,
	}
	if coupon != nil {
		metadata["coupon_code"] = coupon.Code
	}

	gwCtx, cancel := context.WithTimeout(ctx, h.cfg.GatewayTimeout)
	defer cancel()

	session, err := gw.CreateCheckoutSession(gwCtx, quote.FinalAmount, quote.Currency, metadata)
	if err != nil {
		h.failCheckout(ctx, companyID, sub.ID, payment, quote, gw.Name(), err)
		var rejected *gateway.RejectedError
		switch {
		case errors.Is(err, gateway.ErrInvalidAmount):
			respondErrorCode(w, http.StatusBadRequest, "INVALID_AMOUNT", err.Error())
		case errors.As(err, &rejected):
			respondErrorCode(w, http.StatusPaymentRequired, "CHECKOUT_REJECTED", rejected.Error())
		default:
			respondErrorCode(w, http.StatusServiceUnavailable, "GATEWAY_UNAVAILABLE", "Payment gateway unavailable, try again later")
		}
		return
	}

	if err := h.store.UpdatePaymentStatus(ctx, payment.ID, PaymentStatusPending, session.SessionID); err != nil {
		h.logger.Error("Failed to attach gateway ref", "payment_id", payment.ID, "error", err)
	}

	h.audit(ctx, audit.EventCheckoutStarted, companyID, sub.ID, payment.ID, audit.Metadata{
		"gateway":  session.Gateway,
		"plan_id":  req.PlanID,
		"currency": quote.Currency,
		"amount":   strconv.FormatInt(quote.FinalAmount, 10),
	})
	h.publisher.CheckoutStarted(ws.CheckoutData{
		CompanyID:   companyID,
		PlanID:      req.PlanID,
		Currency:    quote.Currency,
		FinalAmount: quote.FinalAmount,
		Gateway:     session.Gateway,
		CouponCode:  quote.CouponCode,
	})

	respondJSON(w, http.StatusCreated, CheckoutSessionResponse{
		RedirectURL: session.RedirectURL,
		Gateway:     session.Gateway,
		PaymentID:   payment.ID,
		Quote:       quote,
	})
}

// failCheckout marks the pending payment failed and records why.
func (h *Handler) failCheckout(ctx context.Context, companyID, subscriptionID string, payment *Payment, quote *pricing.Quote, gatewayName string, cause error) {
	h.logger.Warn("Checkout session failed", "payment_id", payment.ID, "gateway", gatewayName, "error", cause)

	if err := h.store.UpdatePaymentStatus(ctx, payment.ID, PaymentStatusFailed, ""); err != nil {
		h.logger.Error("Failed to mark payment failed", "payment_id", payment.ID, "error", err)
	}

	h.audit(ctx, audit.EventPaymentFailed, companyID, subscriptionID, payment.ID, audit.Metadata{
		"gateway": gatewayName,
		"reason":  cause.Error(),
	})
	h.publisher.CheckoutRejected(ws.CheckoutData{
		CompanyID:   companyID,
		PlanID:      quote.PlanID,
		Currency:    quote.Currency,
		FinalAmount: quote.FinalAmount,
		Gateway:     gatewayName,
		Reason:      cause.Error(),
	})
}

// ============== Company Registration ==============

// RegisterCompany creates a company and starts it on the plan's trial in one
// transaction.
func (h *Handler) RegisterCompany(w http.ResponseWriter, r *http.Request) {
	var req RegisterCompanyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	plan, err := h.catalog.GetPlan(req.PlanID)
	if err != nil {
		respondErrorCode(w, http.StatusNotFound, "PLAN_NOT_FOUND", err.Error())
		return
	}

	trialDays := plan.TrialDays
	if trialDays <= 0 {
		trialDays = h.cfg.TrialDays
	}

	now := time.Now().UTC()
	sub := lifecycle.NewTrial(uuid.New().String(), uuid.New().String(), plan.ID, plan.BillingPeriodMonths, trialDays, now)

	company, err := h.store.CreateCompanyWithTrial(r.Context(), req.Name, sub)
	if err != nil {
		h.logger.Error("Failed to register company", "name", req.Name, "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to register company")
		return
	}

	h.logger.Info("Company registered", "company_id", company.ID, "plan_id", plan.ID)

	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"company":      company,
		"subscription": sub,
	})
}

// ============== Subscription ==============

// GetSubscription returns the caller's current subscription.
func (h *Handler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	companyID := companyIDFrom(r.Context())

	sub, err := h.store.GetSubscriptionByCompany(r.Context(), companyID)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			respondError(w, http.StatusNotFound, "No subscription found for company")
			return
		}
		h.logger.Error("Failed to load subscription", "company_id", companyID, "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to load subscription")
		return
	}

	respondJSON(w, http.StatusOK, sub)
}

// ListPayments returns the caller's payment history.
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	companyID := companyIDFrom(r.Context())

	sub, err := h.store.GetSubscriptionByCompany(r.Context(), companyID)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			respondError(w, http.StatusNotFound, "No subscription found for company")
			return
		}
		respondError(w, http.StatusInternalServerError, "Failed to load subscription")
		return
	}

	payments, err := h.store.ListPaymentsBySubscription(r.Context(), sub.ID)
	if err != nil {
		h.logger.Error("Failed to list payments", "subscription_id", sub.ID, "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to list payments")
		return
	}

	respondJSON(w, http.StatusOK, PaymentListResponse{Payments: payments, Total: len(payments)})
}

// CancelSubscription applies an immediate cancellation to the caller's
// subscription. Canceled is terminal.
func (h *Handler) CancelSubscription(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	companyID := companyIDFrom(ctx)

	sub, err := h.store.GetSubscriptionByCompany(ctx, companyID)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			respondError(w, http.StatusNotFound, "No subscription found for company")
			return
		}
		respondError(w, http.StatusInternalServerError, "Failed to load subscription")
		return
	}

	updated, err := h.applyWithRetry(ctx, sub.ID, lifecycle.Event{
		Type:       lifecycle.EventCanceled,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		var invalid *lifecycle.InvalidTransitionError
		if errors.As(err, &invalid) {
			respondErrorCode(w, http.StatusConflict, "INVALID_TRANSITION", invalid.Error())
			return
		}
		h.logger.Error("Failed to cancel subscription", "subscription_id", sub.ID, "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to cancel subscription")
		return
	}

	h.audit(ctx, audit.EventSubscriptionTransition, companyID, sub.ID, "", audit.Metadata{
		"event_type":  string(lifecycle.EventCanceled),
		"status_from": string(sub.Status),
		"status_to":   string(updated.Status),
	})
	h.publisher.SubscriptionTransition(ws.SubscriptionData{
		SubscriptionID: sub.ID,
		CompanyID:      companyID,
		PlanID:         sub.PlanID,
		StatusFrom:     string(sub.Status),
		StatusTo:       string(updated.Status),
		EventType:      string(lifecycle.EventCanceled),
	})

	respondJSON(w, http.StatusOK, updated)
}

// applyWithRetry applies a lifecycle event under optimistic concurrency:
// fetch, apply, compare-and-swap, retrying on version conflicts.
func (h *Handler) applyWithRetry(ctx context.Context, subscriptionID string, ev lifecycle.Event) (*lifecycle.Subscription, error) {
	const maxAttempts = 3

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		sub, err := h.store.GetSubscriptionByID(ctx, subscriptionID)
		if err != nil {
			return nil, err
		}

		next, err := lifecycle.ApplyEvent(*sub, ev)
		if err != nil {
			return nil, err
		}

		if err := h.store.UpdateSubscriptionCAS(ctx, next, sub.Version); err != nil {
			if errors.Is(err, ErrVersionConflict) {
				lastErr = err
				continue
			}
			return nil, err
		}
		next.Version = sub.Version + 1
		return &next, nil
	}
	return nil, lastErr
}
