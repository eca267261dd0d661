package websocket

import (
	"encoding/json"
	"time"
)

// Message types for the admin live feed.
const (
	TypeCheckout     = "checkout"
	TypePayment      = "payment"
	TypeSubscription = "subscription"
	TypeSweep        = "sweep"
	TypeHealth       = "health"
	TypeHeartbeat    = "heartbeat"
)

// Checkout events.
const (
	EventCheckoutStarted  = "started"
	EventCheckoutRejected = "rejected"
)

// Payment events.
const (
	EventPaymentPending   = "pending"
	EventPaymentCompleted = "completed"
	EventPaymentFailed    = "failed"
)

// Subscription events.
const (
	EventSubscriptionTransition = "transition"
	EventSubscriptionCanceled   = "canceled"
)

// Sweep events.
const (
	EventSweepCompleted = "completed"
)

// Message is one frame on the admin live feed.
type Message struct {
	Type      string      `json:"type"`
	Event     string      `json:"event"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// NewMessage creates a message stamped with the current time.
func NewMessage(msgType, event string, data interface{}) *Message {
	return &Message{
		Type:      msgType,
		Event:     event,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

// ToJSON serializes the message.
func (m *Message) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// CheckoutData is the payload for checkout events.
type CheckoutData struct {
	CompanyID   string `json:"company_id"`
	PlanID      string `json:"plan_id"`
	Currency    string `json:"currency"`
	FinalAmount int64  `json:"final_amount"`
	Gateway     string `json:"gateway"`
	CouponCode  string `json:"coupon_code,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// PaymentData is the payload for payment events.
type PaymentData struct {
	PaymentID      string `json:"payment_id"`
	SubscriptionID string `json:"subscription_id"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	Gateway        string `json:"gateway"`
	Status         string `json:"status"`
}

// SubscriptionData is the payload for subscription events.
type SubscriptionData struct {
	SubscriptionID string `json:"subscription_id"`
	CompanyID      string `json:"company_id"`
	PlanID         string `json:"plan_id"`
	StatusFrom     string `json:"status_from"`
	StatusTo       string `json:"status_to"`
	EventType      string `json:"event_type"`
}

// SweepData is the payload for sweep events.
type SweepData struct {
	ExpiredTrials   int `json:"expired_trials"`
	ExpiredPayments int `json:"expired_payments"`
}

// HeartbeatData is the payload for heartbeat frames.
type HeartbeatData struct {
	ServerTime  time.Time `json:"server_time"`
	ClientCount int       `json:"client_count"`
}
