package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/webhook"
)

// StripeGateway serves USD/EUR checkout through Stripe Checkout Sessions.
type StripeGateway struct {
	webhookSecret string
	successURL    string
	cancelURL     string
}

// NewStripeGateway configures the Stripe adapter. The API key is process-wide
// in the Stripe SDK.
func NewStripeGateway(apiKey, webhookSecret, successURL, cancelURL string) *StripeGateway {
	stripe.Key = apiKey
	return &StripeGateway{
		webhookSecret: webhookSecret,
		successURL:    successURL,
		cancelURL:     cancelURL,
	}
}

// Name implements CheckoutGateway.
func (g *StripeGateway) Name() string { return "stripe" }

// SignatureHeader implements CheckoutGateway.
func (g *StripeGateway) SignatureHeader() string { return "Stripe-Signature" }

// CreateCheckoutSession creates a hosted Checkout Session for the quoted
// amount and returns its redirect URL.
func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, amount int64, currency string, metadata map[string]string) (*Session, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	productName := metadata["plan_name"]
	if productName == "" {
		productName = "TradeSight subscription"
	}

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(g.successURL),
		CancelURL:  stripe.String(g.cancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(strings.ToLower(currency)),
					UnitAmount: stripe.Int64(amount),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(productName),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
	}
	params.Context = ctx
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}
	if ref := metadata["payment_id"]; ref != "" {
		params.ClientReferenceID = stripe.String(ref)
	}

	s, err := session.New(params)
	if err != nil {
		return nil, g.translateError(err)
	}

	return &Session{
		Gateway:     g.Name(),
		SessionID:   s.ID,
		RedirectURL: s.URL,
	}, nil
}

// translateError maps Stripe SDK errors onto the adapter taxonomy.
func (g *StripeGateway) translateError(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.HTTPStatusCode >= 500 || stripeErr.Type == stripe.ErrorTypeAPI {
			return ErrGatewayUnavailable
		}
		reason := stripeErr.Msg
		if reason == "" {
			reason = string(stripeErr.Code)
		}
		return &RejectedError{Gateway: g.Name(), Reason: reason}
	}
	// Network-level failure before any Stripe response.
	return ErrGatewayUnavailable
}

// VerifyWebhookSignature implements CheckoutGateway using Stripe's signed
// event scheme.
func (g *StripeGateway) VerifyWebhookSignature(payload []byte, signature string) bool {
	_, err := webhook.ConstructEvent(payload, signature, g.webhookSecret)
	return err == nil
}

// stripeEventObject is the slice of a Stripe event object this adapter reads.
type stripeEventObject struct {
	ID          string            `json:"id"`
	Metadata    map[string]string `json:"metadata"`
	AmountTotal int64             `json:"amount_total"`
	AmountPaid  int64             `json:"amount_paid"`
	AmountDue   int64             `json:"amount_due"`
	Currency    string            `json:"currency"`
}

// ParseWebhookEvent translates a verified Stripe event payload.
func (g *StripeGateway) ParseWebhookEvent(payload []byte) (*WebhookEvent, error) {
	var ev stripe.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, err
	}

	var obj stripeEventObject
	if ev.Data != nil {
		if err := json.Unmarshal(ev.Data.Raw, &obj); err != nil {
			return nil, err
		}
	}

	out := &WebhookEvent{
		ID:             ev.ID,
		Gateway:        g.Name(),
		OccurredAt:     time.Unix(ev.Created, 0).UTC(),
		SubscriptionID: obj.Metadata["subscription_id"],
		PaymentID:      obj.Metadata["payment_id"],
		Currency:       strings.ToUpper(obj.Currency),
	}

	switch ev.Type {
	case "checkout.session.completed":
		out.Kind = EventPaymentCompleted
		out.Amount = obj.AmountTotal
	case "checkout.session.expired":
		out.Kind = EventPaymentFailed
		out.Amount = obj.AmountTotal
	case "invoice.paid":
		out.Kind = EventRenewalSucceeded
		out.Amount = obj.AmountPaid
	case "invoice.payment_failed":
		out.Kind = EventRenewalFailed
		out.Amount = obj.AmountDue
	case "customer.subscription.deleted":
		out.Kind = EventSubscriptionCanceled
	default:
		return nil, ErrUnknownEvent
	}

	return out, nil
}
