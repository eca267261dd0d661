package events

import (
	"github.com/tradesight/portal/internal/websocket"
)

// Publisher pushes portal activity onto the admin live feed. Publishing is
// fire-and-forget: a full feed never blocks or fails a request.
type Publisher struct {
	hub *websocket.Hub
}

// NewPublisher creates a publisher over the given hub. A nil hub disables
// publishing, which keeps tests and tooling free of websocket setup.
func NewPublisher(hub *websocket.Hub) *Publisher {
	return &Publisher{hub: hub}
}

func (p *Publisher) publish(msgType, event string, data interface{}) {
	if p == nil || p.hub == nil {
		return
	}
	_ = p.hub.BroadcastEvent(msgType, event, data)
}

// CheckoutStarted reports a checkout session being created.
func (p *Publisher) CheckoutStarted(data websocket.CheckoutData) {
	p.publish(websocket.TypeCheckout, websocket.EventCheckoutStarted, data)
}

// CheckoutRejected reports a checkout refused by a gateway.
func (p *Publisher) CheckoutRejected(data websocket.CheckoutData) {
	p.publish(websocket.TypeCheckout, websocket.EventCheckoutRejected, data)
}

// PaymentPending reports a pending payment row created before redirect.
func (p *Publisher) PaymentPending(data websocket.PaymentData) {
	p.publish(websocket.TypePayment, websocket.EventPaymentPending, data)
}

// PaymentCompleted reports a gateway-confirmed payment.
func (p *Publisher) PaymentCompleted(data websocket.PaymentData) {
	p.publish(websocket.TypePayment, websocket.EventPaymentCompleted, data)
}

// PaymentFailed reports a failed or expired payment.
func (p *Publisher) PaymentFailed(data websocket.PaymentData) {
	p.publish(websocket.TypePayment, websocket.EventPaymentFailed, data)
}

// SubscriptionTransition reports a lifecycle state change.
func (p *Publisher) SubscriptionTransition(data websocket.SubscriptionData) {
	p.publish(websocket.TypeSubscription, websocket.EventSubscriptionTransition, data)
}

// SweepCompleted reports a finished expiry sweep.
func (p *Publisher) SweepCompleted(data websocket.SweepData) {
	p.publish(websocket.TypeSweep, websocket.EventSweepCompleted, data)
}
