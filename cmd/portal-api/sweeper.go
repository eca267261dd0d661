package main

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/tradesight/portal/internal/audit"
	"github.com/tradesight/portal/internal/lifecycle"
	"github.com/tradesight/portal/internal/logger"
	ws "github.com/tradesight/portal/internal/websocket"
)

const sweepBatchSize = 100

// Sweeper periodically expires trials that passed their end date and fails
// pending payments nobody completed. It is the only writer that moves a
// subscription without a gateway event.
type Sweeper struct {
	handler  *Handler
	interval time.Duration
	maxAge   time.Duration
	logger   *logger.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewSweeper creates a sweeper running every interval, failing pending
// payments older than maxAge.
func NewSweeper(handler *Handler, interval, maxAge time.Duration, log *logger.Logger) *Sweeper {
	return &Sweeper{
		handler:  handler,
		interval: interval,
		maxAge:   maxAge,
		logger:   log,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the sweep loop.
func (s *Sweeper) Start() {
	s.wg.Add(1)
	go s.run()
	s.logger.Info("Sweeper started", "interval", s.interval, "pending_max_age", s.maxAge)
}

// Stop signals the loop to exit and waits for the in-flight sweep.
func (s *Sweeper) Stop() {
	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("Sweeper stopped")
}

func (s *Sweeper) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stopCh:
			return
		}
	}
}

// sweep runs one pass. Each expiry is applied through the same optimistic
// concurrency path as webhook events, so a payment racing the sweep wins or
// loses cleanly by version.
func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), s.interval)
	defer cancel()

	now := time.Now().UTC()
	sweptTrials := s.expireTrials(ctx, now)

	expiredPayments, err := s.handler.store.MarkExpiredPendingPayments(ctx, now.Add(-s.maxAge))
	if err != nil {
		s.logger.Error("Failed to expire pending payments", "error", err)
	}

	if sweptTrials == 0 && expiredPayments == 0 {
		return
	}

	s.logger.Info("Sweep completed", "expired_trials", sweptTrials, "expired_payments", expiredPayments)

	s.handler.audit(ctx, audit.EventSweepCompleted, "", "", "", audit.Metadata{
		"swept_trials":  strconv.Itoa(sweptTrials),
		"expired_count": strconv.FormatInt(expiredPayments, 10),
	})
	s.handler.publisher.SweepCompleted(ws.SweepData{
		ExpiredTrials:   sweptTrials,
		ExpiredPayments: int(expiredPayments),
	})
}

func (s *Sweeper) expireTrials(ctx context.Context, now time.Time) int {
	trials, err := s.handler.store.ListTrialsExpiredBefore(ctx, now, sweepBatchSize)
	if err != nil {
		s.logger.Error("Failed to list expired trials", "error", err)
		return 0
	}

	swept := 0
	for _, sub := range trials {
		updated, err := s.handler.applyWithRetry(ctx, sub.ID, lifecycle.Event{
			Type:       lifecycle.EventTrialExpired,
			OccurredAt: now,
		})
		if err != nil {
			var invalid *lifecycle.InvalidTransitionError
			if errors.As(err, &invalid) || errors.Is(err, lifecycle.ErrStaleEvent) {
				// A payment landed between the listing and the apply; the
				// subscription is no longer an expirable trial.
				continue
			}
			s.logger.Error("Failed to expire trial", "subscription_id", sub.ID, "error", err)
			continue
		}

		swept++
		s.handler.audit(ctx, audit.EventSubscriptionTransition, sub.CompanyID, sub.ID, "", audit.Metadata{
			"event_type":  string(lifecycle.EventTrialExpired),
			"status_from": string(sub.Status),
			"status_to":   string(updated.Status),
		})
		s.handler.publisher.SubscriptionTransition(ws.SubscriptionData{
			SubscriptionID: sub.ID,
			CompanyID:      sub.CompanyID,
			PlanID:         sub.PlanID,
			StatusFrom:     string(sub.Status),
			StatusTo:       string(updated.Status),
			EventType:      string(lifecycle.EventTrialExpired),
		})
	}
	return swept
}
