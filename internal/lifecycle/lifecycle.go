package lifecycle

import (
	"errors"
	"fmt"
	"time"
)

// Status is a subscription lifecycle state.
type Status string

const (
	StatusTrial      Status = "TRIAL"
	StatusActive     Status = "ACTIVE"
	StatusPastDue    Status = "PAST_DUE"
	StatusCanceled   Status = "CANCELED"
	StatusIncomplete Status = "INCOMPLETE"
)

// Statuses lists every lifecycle state.
var Statuses = []Status{StatusTrial, StatusActive, StatusPastDue, StatusCanceled, StatusIncomplete}

// EventType identifies what happened to a subscription.
type EventType string

const (
	EventPaymentCompleted EventType = "payment_completed"
	EventTrialExpired     EventType = "trial_expired"
	EventRenewalSucceeded EventType = "renewal_succeeded"
	EventRenewalFailed    EventType = "renewal_failed"
	EventCanceled         EventType = "canceled"
)

// EventTypes lists every transition trigger.
var EventTypes = []EventType{
	EventPaymentCompleted,
	EventTrialExpired,
	EventRenewalSucceeded,
	EventRenewalFailed,
	EventCanceled,
}

// Event is a transition trigger. Events originate outside this package:
// gateway webhooks, the expiry sweep, or an explicit user cancellation.
type Event struct {
	Type       EventType
	OccurredAt time.Time
	Amount     int64 // minor units, payment events only
	Currency   string
	GatewayRef string // gateway-side event or transaction id

	// PlanID/PeriodMonths carry the plan the completed payment was checked
	// out for. A non-empty PlanID moves the subscription onto that plan as
	// part of activation, so paying for anual never reactivates a
	// trimestral period.
	PlanID       string
	PeriodMonths int
}

// Subscription is the billing relationship between a company and a plan.
// Exactly one non-canceled subscription exists per company at a time.
type Subscription struct {
	ID                 string     `json:"id"`
	CompanyID          string     `json:"company_id"`
	PlanID             string     `json:"plan_id"`
	Status             Status     `json:"status"`
	BillingCycle       string     `json:"billing_cycle"` // MONTHLY or YEARLY
	PeriodMonths       int        `json:"period_months"`
	CurrentPeriodStart time.Time  `json:"current_period_start"`
	CurrentPeriodEnd   time.Time  `json:"current_period_end"`
	TrialEndsAt        *time.Time `json:"trial_ends_at,omitempty"`
	LastEventAt        time.Time  `json:"last_event_at"`
	Version            int64      `json:"version"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// InvalidTransitionError rejects an event that is not legal in the
// subscription's current state. The event must be logged and discarded,
// never retried.
type InvalidTransitionError struct {
	From  Status
	Event EventType
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("event %q is not valid for subscription status %q", e.Event, e.From)
}

// ErrStaleEvent rejects an event older than the last applied one. Webhook
// deliveries can arrive out of order; a stale event is discarded so a later
// state is never overwritten by an earlier one.
var ErrStaleEvent = errors.New("event is older than the last applied event")

// NewTrial creates the subscription a company starts on at registration.
func NewTrial(id, companyID, planID string, periodMonths, trialDays int, now time.Time) Subscription {
	trialEnd := now.AddDate(0, 0, trialDays)
	cycle := "MONTHLY"
	if periodMonths == 12 {
		cycle = "YEARLY"
	}
	return Subscription{
		ID:                 id,
		CompanyID:          companyID,
		PlanID:             planID,
		Status:             StatusTrial,
		BillingCycle:       cycle,
		PeriodMonths:       periodMonths,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   trialEnd,
		TrialEndsAt:        &trialEnd,
		LastEventAt:        now,
		Version:            1,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// ApplyEvent is the pure transition function. It returns the subscription as
// it would be after the event, or an error when the event is stale or the
// transition is illegal. It never mutates its input and is total over
// (status, event type) pairs.
func ApplyEvent(sub Subscription, ev Event) (Subscription, error) {
	if sub.Status == StatusCanceled {
		return sub, &InvalidTransitionError{From: sub.Status, Event: ev.Type}
	}
	if !sub.LastEventAt.IsZero() && ev.OccurredAt.Before(sub.LastEventAt) {
		return sub, ErrStaleEvent
	}

	next := sub

	switch {
	case ev.Type == EventCanceled:
		// Cancellation is allowed from TRIAL, ACTIVE and PAST_DUE only.
		if sub.Status != StatusTrial && sub.Status != StatusActive && sub.Status != StatusPastDue {
			return sub, &InvalidTransitionError{From: sub.Status, Event: ev.Type}
		}
		next.Status = StatusCanceled

	case ev.Type == EventPaymentCompleted:
		// A completed payment advances out of TRIAL, INCOMPLETE or PAST_DUE,
		// and rolls an ACTIVE subscription into its next period.
		switch sub.Status {
		case StatusTrial, StatusIncomplete, StatusPastDue, StatusActive:
			next.Status = StatusActive
			if ev.PlanID != "" && ev.PlanID != sub.PlanID {
				next.PlanID = ev.PlanID
				next.PeriodMonths = ev.PeriodMonths
				next.BillingCycle = "MONTHLY"
				if ev.PeriodMonths == 12 {
					next.BillingCycle = "YEARLY"
				}
			}
			next.rollPeriod(ev.OccurredAt)
		default:
			return sub, &InvalidTransitionError{From: sub.Status, Event: ev.Type}
		}

	case ev.Type == EventTrialExpired:
		if sub.Status != StatusTrial {
			return sub, &InvalidTransitionError{From: sub.Status, Event: ev.Type}
		}
		if sub.TrialEndsAt == nil || ev.OccurredAt.Before(*sub.TrialEndsAt) {
			return sub, &InvalidTransitionError{From: sub.Status, Event: ev.Type}
		}
		next.Status = StatusIncomplete

	case ev.Type == EventRenewalSucceeded:
		if sub.Status != StatusActive {
			return sub, &InvalidTransitionError{From: sub.Status, Event: ev.Type}
		}
		next.rollPeriod(ev.OccurredAt)

	case ev.Type == EventRenewalFailed:
		if sub.Status != StatusActive {
			return sub, &InvalidTransitionError{From: sub.Status, Event: ev.Type}
		}
		next.Status = StatusPastDue

	default:
		return sub, &InvalidTransitionError{From: sub.Status, Event: ev.Type}
	}

	next.LastEventAt = ev.OccurredAt
	next.UpdatedAt = ev.OccurredAt
	return next, nil
}

// rollPeriod advances the billing period from the event time by the plan's
// billing period. Keeps currentPeriodStart < currentPeriodEnd.
func (s *Subscription) rollPeriod(from time.Time) {
	months := s.PeriodMonths
	if months <= 0 {
		months = 1
	}
	s.CurrentPeriodStart = from
	s.CurrentPeriodEnd = from.AddDate(0, months, 0)
}
