package gateway

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStripeParseWebhookEvent(t *testing.T) {
	g := NewStripeGateway("sk_test", "whsec_test", "https://s", "https://c")

	tests := []struct {
		name      string
		eventType string
		wantKind  EventKind
	}{
		{"checkout completed", "checkout.session.completed", EventPaymentCompleted},
		{"checkout expired", "checkout.session.expired", EventPaymentFailed},
		{"invoice paid", "invoice.paid", EventRenewalSucceeded},
		{"invoice failed", "invoice.payment_failed", EventRenewalFailed},
		{"subscription deleted", "customer.subscription.deleted", EventSubscriptionCanceled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := []byte(`{
				"id": "evt_1",
				"type": "` + tt.eventType + `",
				"created": 1772366400,
				"data": {"object": {
					"id": "cs_1",
					"metadata": {"payment_id": "pay-1", "subscription_id": "sub-1"},
					"amount_total": 145000,
					"amount_paid": 145000,
					"amount_due": 145000,
					"currency": "usd"
				}}
			}`)

			ev, err := g.ParseWebhookEvent(payload)
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, ev.Kind)
			assert.Equal(t, "evt_1", ev.ID)
			assert.Equal(t, "stripe", ev.Gateway)
			assert.Equal(t, "pay-1", ev.PaymentID)
			assert.Equal(t, "sub-1", ev.SubscriptionID)
			assert.Equal(t, "USD", ev.Currency)
		})
	}
}

func TestStripeParseUnknownEvent(t *testing.T) {
	g := NewStripeGateway("sk_test", "whsec_test", "https://s", "https://c")

	_, err := g.ParseWebhookEvent([]byte(`{"id":"evt_2","type":"charge.refunded","data":{"object":{}}}`))
	assert.ErrorIs(t, err, ErrUnknownEvent)
}

func TestStripeRejectsNonPositiveAmount(t *testing.T) {
	g := NewStripeGateway("sk_test", "whsec_test", "https://s", "https://c")

	_, err := g.CreateCheckoutSession(context.Background(), 0, "USD", nil)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestStripeSignatureRejectsGarbage(t *testing.T) {
	g := NewStripeGateway("sk_test", "whsec_test", "https://s", "https://c")

	assert.False(t, g.VerifyWebhookSignature([]byte(`{}`), "t=1,v1=bogus"))
	assert.False(t, g.VerifyWebhookSignature([]byte(`{}`), ""))
}
