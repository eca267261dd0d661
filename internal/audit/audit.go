package audit

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Audit event types.
const (
	EventCheckoutStarted        = "checkout_started"
	EventPaymentPending         = "payment_pending"
	EventPaymentCompleted       = "payment_completed"
	EventPaymentFailed          = "payment_failed"
	EventSubscriptionTransition = "subscription_transition"
	EventWebhookRejected        = "webhook_rejected"
	EventSweepCompleted         = "sweep_completed"
)

// Metadata is a structured key-value map attached to audit entries. Keys are
// restricted to a known set so the trail stays queryable; values are strings.
type Metadata map[string]string

// Keys allowed in audit metadata. Extend here, not ad hoc at call sites.
var allowedKeys = map[string]struct{}{
	"gateway":         {},
	"event_id":        {},
	"plan_id":         {},
	"currency":        {},
	"amount":          {},
	"coupon_code":     {},
	"status_from":     {},
	"status_to":       {},
	"event_type":      {},
	"reason":          {},
	"signature_state": {},
	"expired_count":   {},
	"swept_trials":    {},
}

// Validate rejects metadata carrying unknown keys or empty values.
func (m Metadata) Validate() error {
	for k, v := range m {
		if _, ok := allowedKeys[k]; !ok {
			return fmt.Errorf("audit: unknown metadata key %q", k)
		}
		if v == "" {
			return fmt.Errorf("audit: empty value for metadata key %q", k)
		}
	}
	return nil
}

// Entry is one append-only audit record.
type Entry struct {
	ID             string    `json:"id"`
	EventType      string    `json:"event_type"`
	CompanyID      string    `json:"company_id,omitempty"`
	SubscriptionID string    `json:"subscription_id,omitempty"`
	PaymentID      string    `json:"payment_id,omitempty"`
	Metadata       Metadata  `json:"metadata,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// NewEntry builds a validated audit entry.
func NewEntry(eventType string, md Metadata) (Entry, error) {
	if eventType == "" {
		return Entry{}, fmt.Errorf("audit: event type is required")
	}
	if err := md.Validate(); err != nil {
		return Entry{}, err
	}
	return Entry{
		ID:        uuid.New().String(),
		EventType: eventType,
		Metadata:  md,
		CreatedAt: time.Now().UTC(),
	}, nil
}
