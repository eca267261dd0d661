package lifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func trialSub() Subscription {
	return NewTrial("sub-1", "co-1", "trimestral", 3, 14, baseTime)
}

func subInStatus(status Status) Subscription {
	sub := trialSub()
	sub.Status = status
	return sub
}

func TestNewTrial(t *testing.T) {
	sub := trialSub()

	assert.Equal(t, StatusTrial, sub.Status)
	assert.Equal(t, "MONTHLY", sub.BillingCycle)
	assert.Equal(t, 3, sub.PeriodMonths)
	require.NotNil(t, sub.TrialEndsAt)
	assert.Equal(t, baseTime.AddDate(0, 0, 14), *sub.TrialEndsAt)
	assert.Equal(t, sub.CurrentPeriodEnd, *sub.TrialEndsAt)
	assert.Equal(t, int64(1), sub.Version)
}

func TestNewTrialAnnualCycle(t *testing.T) {
	sub := NewTrial("sub-1", "co-1", "anual", 12, 14, baseTime)
	assert.Equal(t, "YEARLY", sub.BillingCycle)
}

func TestApplyEventIsTotal(t *testing.T) {
	// Every (status, event) pair must either transition or return a typed
	// rejection; ApplyEvent never panics and never silently drops.
	for _, status := range Statuses {
		for _, eventType := range EventTypes {
			sub := subInStatus(status)
			ev := Event{Type: eventType, OccurredAt: baseTime.AddDate(0, 0, 30)}

			next, err := ApplyEvent(sub, ev)
			if err != nil {
				var invalid *InvalidTransitionError
				require.ErrorAs(t, err, &invalid, "status=%s event=%s", status, eventType)
				assert.Equal(t, sub, next, "rejected event must not change the subscription")
			} else {
				assert.NotEqual(t, time.Time{}, next.LastEventAt)
			}
		}
	}
}

func TestCanceledIsTerminal(t *testing.T) {
	sub := subInStatus(StatusCanceled)

	for _, eventType := range EventTypes {
		_, err := ApplyEvent(sub, Event{Type: eventType, OccurredAt: baseTime.AddDate(0, 1, 0)})
		var invalid *InvalidTransitionError
		require.ErrorAs(t, err, &invalid, "event %s", eventType)
	}
}

func TestStaleEventDiscarded(t *testing.T) {
	sub := trialSub()
	sub.LastEventAt = baseTime.AddDate(0, 0, 10)

	_, err := ApplyEvent(sub, Event{Type: EventPaymentCompleted, OccurredAt: baseTime.AddDate(0, 0, 5)})
	assert.ErrorIs(t, err, ErrStaleEvent)
}

func TestPaymentCompletedActivatesTrial(t *testing.T) {
	sub := trialSub()
	paidAt := baseTime.AddDate(0, 0, 3)

	next, err := ApplyEvent(sub, Event{Type: EventPaymentCompleted, OccurredAt: paidAt, Amount: 110000, Currency: "USD"})
	require.NoError(t, err)

	assert.Equal(t, StatusActive, next.Status)
	assert.Equal(t, paidAt, next.CurrentPeriodStart)
	assert.Equal(t, paidAt.AddDate(0, 3, 0), next.CurrentPeriodEnd)
	assert.Equal(t, paidAt, next.LastEventAt)

	// Input untouched.
	assert.Equal(t, StatusTrial, sub.Status)
}

func TestPaymentCompletedSwitchesPlan(t *testing.T) {
	sub := trialSub() // trimestral, 3 months
	paidAt := baseTime.AddDate(0, 0, 3)

	next, err := ApplyEvent(sub, Event{
		Type:         EventPaymentCompleted,
		OccurredAt:   paidAt,
		PlanID:       "anual",
		PeriodMonths: 12,
	})
	require.NoError(t, err)

	assert.Equal(t, StatusActive, next.Status)
	assert.Equal(t, "anual", next.PlanID)
	assert.Equal(t, 12, next.PeriodMonths)
	assert.Equal(t, "YEARLY", next.BillingCycle)
	// The rolled period uses the paid plan's length.
	assert.Equal(t, paidAt.AddDate(0, 12, 0), next.CurrentPeriodEnd)
}

func TestPaymentCompletedKeepsPlanWhenUnchanged(t *testing.T) {
	sub := trialSub()
	paidAt := baseTime.AddDate(0, 0, 3)

	next, err := ApplyEvent(sub, Event{
		Type:         EventPaymentCompleted,
		OccurredAt:   paidAt,
		PlanID:       sub.PlanID,
		PeriodMonths: sub.PeriodMonths,
	})
	require.NoError(t, err)

	assert.Equal(t, "trimestral", next.PlanID)
	assert.Equal(t, "MONTHLY", next.BillingCycle)
	assert.Equal(t, paidAt.AddDate(0, 3, 0), next.CurrentPeriodEnd)
}

func TestPaymentCompletedRecoversPastDue(t *testing.T) {
	sub := subInStatus(StatusPastDue)
	paidAt := baseTime.AddDate(0, 1, 0)

	next, err := ApplyEvent(sub, Event{Type: EventPaymentCompleted, OccurredAt: paidAt})
	require.NoError(t, err)
	assert.Equal(t, StatusActive, next.Status)
}

func TestPaymentCompletedActivatesIncomplete(t *testing.T) {
	sub := subInStatus(StatusIncomplete)

	next, err := ApplyEvent(sub, Event{Type: EventPaymentCompleted, OccurredAt: baseTime.AddDate(0, 0, 20)})
	require.NoError(t, err)
	assert.Equal(t, StatusActive, next.Status)
}

func TestTrialExpiredGuard(t *testing.T) {
	sub := trialSub()

	// Before the trial end: rejected.
	_, err := ApplyEvent(sub, Event{Type: EventTrialExpired, OccurredAt: baseTime.AddDate(0, 0, 7)})
	var invalid *InvalidTransitionError
	require.ErrorAs(t, err, &invalid)

	// At/after the trial end: INCOMPLETE.
	next, err := ApplyEvent(sub, Event{Type: EventTrialExpired, OccurredAt: *sub.TrialEndsAt})
	require.NoError(t, err)
	assert.Equal(t, StatusIncomplete, next.Status)
}

func TestTrialExpiredOnlyFromTrial(t *testing.T) {
	for _, status := range []Status{StatusActive, StatusPastDue, StatusIncomplete} {
		sub := subInStatus(status)
		_, err := ApplyEvent(sub, Event{Type: EventTrialExpired, OccurredAt: baseTime.AddDate(0, 1, 0)})
		var invalid *InvalidTransitionError
		require.ErrorAs(t, err, &invalid, "status %s", status)
	}
}

func TestRenewalSucceededRollsPeriod(t *testing.T) {
	sub := subInStatus(StatusActive)
	renewedAt := baseTime.AddDate(0, 3, 0)

	next, err := ApplyEvent(sub, Event{Type: EventRenewalSucceeded, OccurredAt: renewedAt})
	require.NoError(t, err)

	assert.Equal(t, StatusActive, next.Status)
	assert.Equal(t, renewedAt, next.CurrentPeriodStart)
	assert.Equal(t, renewedAt.AddDate(0, 3, 0), next.CurrentPeriodEnd)
	assert.True(t, next.CurrentPeriodStart.Before(next.CurrentPeriodEnd))
}

func TestRenewalFailedMarksPastDue(t *testing.T) {
	sub := subInStatus(StatusActive)

	next, err := ApplyEvent(sub, Event{Type: EventRenewalFailed, OccurredAt: baseTime.AddDate(0, 3, 0)})
	require.NoError(t, err)
	assert.Equal(t, StatusPastDue, next.Status)
}

func TestRenewalEventsRequireActive(t *testing.T) {
	for _, status := range []Status{StatusTrial, StatusPastDue, StatusIncomplete} {
		for _, eventType := range []EventType{EventRenewalSucceeded, EventRenewalFailed} {
			sub := subInStatus(status)
			_, err := ApplyEvent(sub, Event{Type: eventType, OccurredAt: baseTime.AddDate(0, 1, 0)})
			var invalid *InvalidTransitionError
			require.ErrorAs(t, err, &invalid, "status=%s event=%s", status, eventType)
		}
	}
}

func TestCanceledFromAllowedStates(t *testing.T) {
	for _, status := range []Status{StatusTrial, StatusActive, StatusPastDue} {
		sub := subInStatus(status)
		next, err := ApplyEvent(sub, Event{Type: EventCanceled, OccurredAt: baseTime.AddDate(0, 0, 1)})
		require.NoError(t, err, "status %s", status)
		assert.Equal(t, StatusCanceled, next.Status)
	}

	// INCOMPLETE cannot cancel; there is nothing to cancel before payment.
	sub := subInStatus(StatusIncomplete)
	_, err := ApplyEvent(sub, Event{Type: EventCanceled, OccurredAt: baseTime.AddDate(0, 0, 1)})
	var invalid *InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
}
