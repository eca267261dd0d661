package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Session is the gateway-hosted checkout the user is redirected to.
type Session struct {
	Gateway     string `json:"gateway"`
	SessionID   string `json:"session_id"`
	RedirectURL string `json:"redirect_url"`
}

// EventKind is the normalized classification of a gateway webhook event.
type EventKind string

const (
	EventPaymentCompleted     EventKind = "payment_completed"
	EventPaymentFailed        EventKind = "payment_failed"
	EventRenewalSucceeded     EventKind = "renewal_succeeded"
	EventRenewalFailed        EventKind = "renewal_failed"
	EventSubscriptionCanceled EventKind = "subscription_canceled"
)

// WebhookEvent is a gateway notification translated into gateway-neutral
// terms. SubscriptionID may be empty when the gateway only carries the
// payment reference; the caller resolves the subscription through it.
type WebhookEvent struct {
	ID             string
	Gateway        string
	Kind           EventKind
	OccurredAt     time.Time
	SubscriptionID string
	PaymentID      string
	Amount         int64
	Currency       string
}

// ErrGatewayUnavailable signals a transport failure or gateway outage.
// Checkout is user-synchronous and single-attempt: the error is surfaced to
// the caller, never retried in the background.
var ErrGatewayUnavailable = errors.New("payment gateway unavailable")

// ErrInvalidAmount rejects a non-positive charge amount before any call
// leaves the process.
var ErrInvalidAmount = errors.New("invalid charge amount")

// ErrUnknownEvent is returned when a webhook payload carries an event type
// the adapter does not map. The caller acknowledges and ignores it.
var ErrUnknownEvent = errors.New("unrecognized gateway event")

// RejectedError carries the gateway's own reason for refusing a session.
type RejectedError struct {
	Gateway string
	Reason  string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s rejected checkout session: %s", e.Gateway, e.Reason)
}

// CheckoutGateway is the seam unifying the payment systems. Adapters create
// hosted checkout sessions and translate their webhook payloads.
type CheckoutGateway interface {
	Name() string
	CreateCheckoutSession(ctx context.Context, amount int64, currency string, metadata map[string]string) (*Session, error)
	// VerifyWebhookSignature reports whether the payload is authentic. A false
	// result means the event must be dropped and flagged, never applied.
	VerifyWebhookSignature(payload []byte, signature string) bool
	// SignatureHeader names the HTTP header the gateway sends its signature in.
	SignatureHeader() string
	// ParseWebhookEvent translates an already-verified payload.
	ParseWebhookEvent(payload []byte) (*WebhookEvent, error)
}

// Selector routes checkout requests to a registered gateway. The explicit
// hint wins; otherwise the currency decides (regional currencies go to the
// regional gateway, everything else to the default).
type Selector struct {
	gateways    map[string]CheckoutGateway
	byCurrency  map[string]string
	defaultName string
}

// NewSelector creates a selector with the given default gateway name and a
// currency-to-gateway routing map.
func NewSelector(defaultName string, byCurrency map[string]string) *Selector {
	return &Selector{
		gateways:    make(map[string]CheckoutGateway),
		byCurrency:  byCurrency,
		defaultName: defaultName,
	}
}

// Register adds a gateway under its own name.
func (s *Selector) Register(g CheckoutGateway) {
	s.gateways[g.Name()] = g
}

// ByName returns a registered gateway.
func (s *Selector) ByName(name string) (CheckoutGateway, error) {
	g, ok := s.gateways[name]
	if !ok {
		return nil, fmt.Errorf("gateway %q not configured", name)
	}
	return g, nil
}

// ForCheckout picks the gateway for a checkout request.
func (s *Selector) ForCheckout(hint, currency string) (CheckoutGateway, error) {
	if hint != "" {
		return s.ByName(hint)
	}
	if name, ok := s.byCurrency[currency]; ok {
		return s.ByName(name)
	}
	return s.ByName(s.defaultName)
}
