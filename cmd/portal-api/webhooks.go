package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/tradesight/portal/internal/audit"
	"github.com/tradesight/portal/internal/gateway"
	"github.com/tradesight/portal/internal/lifecycle"
	ws "github.com/tradesight/portal/internal/websocket"
)

const (
	maxWebhookBody = 1 << 20 // 1 MiB
	dedupeTTL      = 48 * time.Hour
)

// HandleWebhook receives a gateway notification. Unauthentic payloads are
// dropped and flagged; duplicate deliveries are acknowledged without effect;
// stale or illegal events are logged, audited and acknowledged so the
// gateway stops retrying them.
func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	gatewayName := mux.Vars(r)["gateway"]

	gw, err := h.gateways.ByName(gatewayName)
	if err != nil {
		respondError(w, http.StatusNotFound, "Unknown gateway")
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}

	ctx := r.Context()

	signature := r.Header.Get(gw.SignatureHeader())
	if !gw.VerifyWebhookSignature(payload, signature) {
		h.logger.Warn("Webhook signature verification failed", "gateway", gatewayName)
		h.audit(ctx, audit.EventWebhookRejected, "", "", "", audit.Metadata{
			"gateway":         gatewayName,
			"signature_state": "invalid",
		})
		respondError(w, http.StatusBadRequest, "Invalid signature")
		return
	}

	event, err := gw.ParseWebhookEvent(payload)
	if err != nil {
		if errors.Is(err, gateway.ErrUnknownEvent) {
			// Unmapped event types are acknowledged and ignored.
			respondJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
			return
		}
		h.logger.Warn("Webhook payload parse failed", "gateway", gatewayName, "error", err)
		respondError(w, http.StatusBadRequest, "Invalid payload")
		return
	}

	// At-least-once delivery: the first delivery of an event id wins, the
	// rest are acknowledged as duplicates.
	won, err := h.dedupe.SetNX(ctx, "webhook:"+gatewayName+":"+event.ID, "1", dedupeTTL)
	if err != nil {
		// Dedupe store down: process anyway, the lifecycle's stale-event
		// rejection bounds the damage of a duplicate.
		h.logger.Error("Webhook dedupe check failed", "gateway", gatewayName, "event_id", event.ID, "error", err)
	} else if !won {
		respondJSON(w, http.StatusOK, map[string]string{"status": "duplicate"})
		return
	}

	if err := h.processWebhookEvent(ctx, event); err != nil {
		h.logger.Error("Webhook processing failed", "gateway", gatewayName, "event_id", event.ID, "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to process event")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "processed"})
}

// processWebhookEvent resolves the subscription, updates the payment row and
// applies the lifecycle transition.
func (h *Handler) processWebhookEvent(ctx context.Context, event *gateway.WebhookEvent) error {
	var payment *Payment
	subscriptionID := event.SubscriptionID

	// Regional gateways only echo our payment reference; resolve the
	// subscription through the payment row.
	if event.PaymentID != "" {
		p, err := h.store.GetPayment(ctx, event.PaymentID)
		if err != nil {
			if errors.Is(err, ErrPaymentNotFound) {
				h.logger.Warn("Webhook references unknown payment", "gateway", event.Gateway, "payment_id", event.PaymentID)
				h.audit(ctx, audit.EventWebhookRejected, "", "", event.PaymentID, audit.Metadata{
					"gateway":  event.Gateway,
					"event_id": event.ID,
					"reason":   "payment not found",
				})
				return nil
			}
			return err
		}
		payment = p
		if subscriptionID == "" {
			subscriptionID = p.SubscriptionID
		}
	}

	if subscriptionID == "" {
		h.logger.Warn("Webhook carries no subscription reference", "gateway", event.Gateway, "event_id", event.ID)
		return nil
	}

	if payment != nil {
		// A completed-payment event must match what we quoted. An authentic
		// event with the wrong amount or currency is dropped and flagged like
		// a bad signature; acknowledging stops the gateway from retrying what
		// can never become valid.
		if event.Kind == gateway.EventPaymentCompleted && !paymentMatches(payment, event) {
			h.logger.Warn("Webhook amount does not match quoted payment",
				"gateway", event.Gateway, "payment_id", payment.ID,
				"reported_amount", event.Amount, "quoted_amount", payment.Amount)
			h.audit(ctx, audit.EventWebhookRejected, "", payment.SubscriptionID, payment.ID, audit.Metadata{
				"gateway":  event.Gateway,
				"event_id": event.ID,
				"amount":   strconv.FormatInt(event.Amount, 10),
				"reason":   "reported amount does not match quoted payment",
			})
			return nil
		}

		status := PaymentStatusCompleted
		if event.Kind == gateway.EventPaymentFailed {
			status = PaymentStatusFailed
		}
		if err := h.store.UpdatePaymentStatus(ctx, payment.ID, status, event.ID); err != nil {
			return err
		}
		auditType := audit.EventPaymentCompleted
		if status == PaymentStatusFailed {
			auditType = audit.EventPaymentFailed
		}
		h.audit(ctx, auditType, "", payment.SubscriptionID, payment.ID, audit.Metadata{
			"gateway":  event.Gateway,
			"event_id": event.ID,
			"amount":   strconv.FormatInt(payment.Amount, 10),
			"currency": payment.Currency,
		})
		h.publishPaymentUpdate(payment, status)
	}

	lifecycleEvent, ok := lifecycleEventFor(event)
	if !ok {
		// payment_failed has no lifecycle effect before activation; the
		// payment row already records it.
		return nil
	}

	// Activation follows the plan the payment was checked out for, not
	// whatever plan the subscription happened to be on when the user opened
	// checkout.
	if payment != nil && payment.PlanID != "" && lifecycleEvent.Type == lifecycle.EventPaymentCompleted {
		plan, err := h.catalog.GetPlan(payment.PlanID)
		if err != nil {
			h.logger.Warn("Paid plan no longer in catalog", "payment_id", payment.ID, "plan_id", payment.PlanID)
			h.audit(ctx, audit.EventWebhookRejected, "", payment.SubscriptionID, payment.ID, audit.Metadata{
				"gateway":  event.Gateway,
				"event_id": event.ID,
				"plan_id":  payment.PlanID,
				"reason":   "paid plan not found in catalog",
			})
			return nil
		}
		lifecycleEvent.PlanID = plan.ID
		lifecycleEvent.PeriodMonths = plan.BillingPeriodMonths
	}

	before, err := h.store.GetSubscriptionByID(ctx, subscriptionID)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			h.logger.Warn("Webhook references unknown subscription", "gateway", event.Gateway, "subscription_id", subscriptionID)
			return nil
		}
		return err
	}

	updated, err := h.applyWithRetry(ctx, subscriptionID, lifecycleEvent)
	if err != nil {
		var invalid *lifecycle.InvalidTransitionError
		if errors.As(err, &invalid) || errors.Is(err, lifecycle.ErrStaleEvent) {
			// Discard, audit, acknowledge. Retrying cannot make the event
			// legal.
			h.logger.Warn("Lifecycle event discarded", "subscription_id", subscriptionID,
				"event_type", string(lifecycleEvent.Type), "reason", err.Error())
			h.audit(ctx, audit.EventWebhookRejected, before.CompanyID, subscriptionID, "", audit.Metadata{
				"gateway":    event.Gateway,
				"event_id":   event.ID,
				"event_type": string(lifecycleEvent.Type),
				"reason":     err.Error(),
			})
			return nil
		}
		return err
	}

	h.audit(ctx, audit.EventSubscriptionTransition, before.CompanyID, subscriptionID, "", audit.Metadata{
		"gateway":     event.Gateway,
		"event_id":    event.ID,
		"event_type":  string(lifecycleEvent.Type),
		"status_from": string(before.Status),
		"status_to":   string(updated.Status),
		"amount":      strconv.FormatInt(event.Amount, 10),
	})
	h.publisher.SubscriptionTransition(ws.SubscriptionData{
		SubscriptionID: subscriptionID,
		CompanyID:      before.CompanyID,
		PlanID:         before.PlanID,
		StatusFrom:     string(before.Status),
		StatusTo:       string(updated.Status),
		EventType:      string(lifecycleEvent.Type),
	})

	return nil
}

// lifecycleEventFor maps a gateway event onto a lifecycle transition.
// payment_failed maps to a renewal failure only; pre-activation payment
// failures never move the subscription.
func lifecycleEventFor(event *gateway.WebhookEvent) (lifecycle.Event, bool) {
	ev := lifecycle.Event{
		OccurredAt: event.OccurredAt,
		Amount:     event.Amount,
		Currency:   event.Currency,
		GatewayRef: event.ID,
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}

	switch event.Kind {
	case gateway.EventPaymentCompleted:
		ev.Type = lifecycle.EventPaymentCompleted
	case gateway.EventRenewalSucceeded:
		ev.Type = lifecycle.EventRenewalSucceeded
	case gateway.EventRenewalFailed:
		ev.Type = lifecycle.EventRenewalFailed
	case gateway.EventSubscriptionCanceled:
		ev.Type = lifecycle.EventCanceled
	default:
		return lifecycle.Event{}, false
	}
	return ev, true
}

// paymentMatches reports whether the gateway's view of a completed payment
// agrees with the quoted row. Gateways that omit the amount or currency in
// the event are taken at their word; a present-but-different value is not.
func paymentMatches(p *Payment, event *gateway.WebhookEvent) bool {
	if event.Amount != 0 && event.Amount != p.Amount {
		return false
	}
	if event.Currency != "" && !strings.EqualFold(event.Currency, p.Currency) {
		return false
	}
	return true
}

func (h *Handler) publishPaymentUpdate(payment *Payment, status string) {
	data := ws.PaymentData{
		PaymentID:      payment.ID,
		SubscriptionID: payment.SubscriptionID,
		Amount:         payment.Amount,
		Currency:       payment.Currency,
		Gateway:        payment.Gateway,
		Status:         status,
	}
	if status == PaymentStatusCompleted {
		h.publisher.PaymentCompleted(data)
	} else {
		h.publisher.PaymentFailed(data)
	}
}
