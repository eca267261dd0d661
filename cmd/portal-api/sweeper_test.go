package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradesight/portal/internal/audit"
	"github.com/tradesight/portal/internal/catalog"
	"github.com/tradesight/portal/internal/lifecycle"
	"github.com/tradesight/portal/internal/logger"
)

func newTestSweeper(env *testEnv) *Sweeper {
	return NewSweeper(env.handler, time.Minute, 24*time.Hour, logger.New("sweeper-test"))
}

func TestSweepExpiresOverdueTrials(t *testing.T) {
	env := newTestEnv(t)
	now := time.Now().UTC()

	// Trial that ended yesterday.
	expired := lifecycle.NewTrial("sub-expired", "co-1", catalog.PlanMensual, 1, 7, now.AddDate(0, 0, -8))
	env.store.subscriptions[expired.ID] = &expired
	env.store.companies["co-1"] = &Company{ID: "co-1", Name: "Expired Co"}

	// Trial still running.
	running := lifecycle.NewTrial("sub-running", "co-2", catalog.PlanMensual, 1, 7, now)
	env.store.subscriptions[running.ID] = &running

	sweeper := newTestSweeper(env)
	sweeper.sweep()

	got, err := env.store.GetSubscriptionByID(context.Background(), "sub-expired")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StatusIncomplete, got.Status)

	got, err = env.store.GetSubscriptionByID(context.Background(), "sub-running")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StatusTrial, got.Status)

	types := env.store.auditEventTypes()
	assert.Contains(t, types, audit.EventSubscriptionTransition)
	assert.Contains(t, types, audit.EventSweepCompleted)
}

func TestSweepFailsStalePendingPayments(t *testing.T) {
	env := newTestEnv(t)
	env.seedSubscription(lifecycle.StatusActive)
	now := time.Now().UTC()

	env.store.payments["pay-old"] = &Payment{
		ID: "pay-old", SubscriptionID: "sub-1", Gateway: "stripe",
		Amount: 100, Currency: "USD", Status: PaymentStatusPending,
		CreatedAt: now.Add(-48 * time.Hour),
	}
	env.store.payments["pay-fresh"] = &Payment{
		ID: "pay-fresh", SubscriptionID: "sub-1", Gateway: "stripe",
		Amount: 100, Currency: "USD", Status: PaymentStatusPending,
		CreatedAt: now.Add(-time.Hour),
	}

	sweeper := newTestSweeper(env)
	sweeper.sweep()

	old, err := env.store.GetPayment(context.Background(), "pay-old")
	require.NoError(t, err)
	assert.Equal(t, PaymentStatusFailed, old.Status)

	fresh, err := env.store.GetPayment(context.Background(), "pay-fresh")
	require.NoError(t, err)
	assert.Equal(t, PaymentStatusPending, fresh.Status)
}

func TestSweepQuietWhenNothingToDo(t *testing.T) {
	env := newTestEnv(t)
	env.seedSubscription(lifecycle.StatusActive)

	sweeper := newTestSweeper(env)
	sweeper.sweep()

	assert.Empty(t, env.store.auditEventTypes())
}

func TestSweeperStartStop(t *testing.T) {
	env := newTestEnv(t)
	sweeper := NewSweeper(env.handler, 10*time.Millisecond, time.Hour, logger.New("sweeper-test"))

	sweeper.Start()
	time.Sleep(30 * time.Millisecond)
	sweeper.Stop()
	// Stop returns only after the loop exits; reaching here is the assertion.
}
