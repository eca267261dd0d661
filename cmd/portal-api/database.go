package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/tradesight/portal/internal/audit"
	"github.com/tradesight/portal/internal/catalog"
	"github.com/tradesight/portal/internal/database"
	"github.com/tradesight/portal/internal/lifecycle"
)

var (
	ErrCompanyNotFound      = errors.New("company not found")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrPaymentNotFound      = errors.New("payment not found")
	// ErrVersionConflict means another writer advanced the subscription
	// between read and write; re-fetch and re-apply.
	ErrVersionConflict = errors.New("subscription version conflict")
)

// PortalStore is the PostgreSQL implementation of Store.
type PortalStore struct {
	db *database.DB
}

// NewPortalStore wraps an established connection pool.
func NewPortalStore(db *database.DB) *PortalStore {
	return &PortalStore{db: db}
}

// Ping checks if the database is accessible.
func (s *PortalStore) Ping() error {
	return s.db.Ping()
}

// Health reports pool statistics.
func (s *PortalStore) Health() map[string]interface{} {
	return s.db.Health()
}

// ============== Company Operations ==============

// CreateCompanyWithTrial inserts the company and its trial subscription in
// one transaction so a company can never exist without a subscription.
func (s *PortalStore) CreateCompanyWithTrial(ctx context.Context, name string, sub lifecycle.Subscription) (*Company, error) {
	tx, err := s.db.Conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	company := &Company{
		ID:        sub.CompanyID,
		Name:      name,
		CreatedAt: sub.CreatedAt,
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO companies (id, name, created_at) VALUES ($1, $2, $3)`,
		company.ID, company.Name, company.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create company: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO subscriptions (
			id, company_id, plan_id, status, billing_cycle, period_months,
			current_period_start, current_period_end, trial_ends_at,
			last_event_at, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		sub.ID, sub.CompanyID, sub.PlanID, sub.Status, sub.BillingCycle, sub.PeriodMonths,
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.TrialEndsAt,
		sub.LastEventAt, sub.Version, sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create subscription: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return company, nil
}

// ============== Subscription Operations ==============

const subscriptionColumns = `
	id, company_id, plan_id, status, billing_cycle, period_months,
	current_period_start, current_period_end, trial_ends_at,
	last_event_at, version, created_at, updated_at`

func scanSubscription(row interface{ Scan(...interface{}) error }) (*lifecycle.Subscription, error) {
	var sub lifecycle.Subscription
	err := row.Scan(
		&sub.ID, &sub.CompanyID, &sub.PlanID, &sub.Status, &sub.BillingCycle, &sub.PeriodMonths,
		&sub.CurrentPeriodStart, &sub.CurrentPeriodEnd, &sub.TrialEndsAt,
		&sub.LastEventAt, &sub.Version, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// GetSubscriptionByCompany returns the company's current (non-canceled if
// one exists, otherwise most recent) subscription.
func (s *PortalStore) GetSubscriptionByCompany(ctx context.Context, companyID string) (*lifecycle.Subscription, error) {
	query := `
		SELECT` + subscriptionColumns + `
		FROM subscriptions
		WHERE company_id = $1
		ORDER BY (status = 'CANCELED') ASC, created_at DESC
		LIMIT 1`

	sub, err := scanSubscription(s.db.Conn.QueryRowContext(ctx, query, companyID))
	if err == sql.ErrNoRows {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return sub, nil
}

// GetSubscriptionByID retrieves a subscription by ID.
func (s *PortalStore) GetSubscriptionByID(ctx context.Context, id string) (*lifecycle.Subscription, error) {
	query := `SELECT` + subscriptionColumns + ` FROM subscriptions WHERE id = $1`

	sub, err := scanSubscription(s.db.Conn.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return sub, nil
}

// UpdateSubscriptionCAS persists the subscription only when the stored
// version still equals expectedVersion, bumping the version by one.
func (s *PortalStore) UpdateSubscriptionCAS(ctx context.Context, sub lifecycle.Subscription, expectedVersion int64) error {
	query := `
		UPDATE subscriptions
		SET status = $1, plan_id = $2, billing_cycle = $3, period_months = $4,
			current_period_start = $5, current_period_end = $6,
			trial_ends_at = $7, last_event_at = $8, updated_at = $9,
			version = version + 1
		WHERE id = $10 AND version = $11`

	result, err := s.db.Conn.ExecContext(ctx, query,
		sub.Status, sub.PlanID, sub.BillingCycle, sub.PeriodMonths,
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd,
		sub.TrialEndsAt, sub.LastEventAt, sub.UpdatedAt,
		sub.ID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		// Either the row is gone or another writer moved the version.
		if _, getErr := s.GetSubscriptionByID(ctx, sub.ID); getErr != nil {
			return getErr
		}
		return ErrVersionConflict
	}
	return nil
}

// ListTrialsExpiredBefore returns TRIAL subscriptions whose trial window
// closed before the cutoff, oldest first.
func (s *PortalStore) ListTrialsExpiredBefore(ctx context.Context, cutoff time.Time, limit int) ([]lifecycle.Subscription, error) {
	query := `
		SELECT` + subscriptionColumns + `
		FROM subscriptions
		WHERE status = 'TRIAL' AND trial_ends_at IS NOT NULL AND trial_ends_at <= $1
		ORDER BY trial_ends_at ASC
		LIMIT $2`

	rows, err := s.db.Conn.QueryContext(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired trials: %w", err)
	}
	defer rows.Close()

	var subs []lifecycle.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}

// ============== Payment Operations ==============

// CreatePayment inserts a payment row.
func (s *PortalStore) CreatePayment(ctx context.Context, p *Payment) error {
	query := `
		INSERT INTO payments (
			id, subscription_id, plan_id, gateway, gateway_ref, amount, currency,
			status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := s.db.Conn.ExecContext(ctx, query,
		p.ID, p.SubscriptionID, p.PlanID, p.Gateway, p.GatewayRef, p.Amount, p.Currency,
		p.Status, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

// GetPayment retrieves a payment by ID.
func (s *PortalStore) GetPayment(ctx context.Context, id string) (*Payment, error) {
	query := `
		SELECT id, subscription_id, COALESCE(plan_id, ''), gateway,
			   COALESCE(gateway_ref, ''), amount, currency, status,
			   created_at, updated_at
		FROM payments WHERE id = $1`

	var p Payment
	err := s.db.Conn.QueryRowContext(ctx, query, id).Scan(
		&p.ID, &p.SubscriptionID, &p.PlanID, &p.Gateway, &p.GatewayRef, &p.Amount,
		&p.Currency, &p.Status, &p.CreatedAt, &p.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return &p, nil
}

// UpdatePaymentStatus moves a payment to a new status, keeping the gateway
// reference when one is supplied.
func (s *PortalStore) UpdatePaymentStatus(ctx context.Context, id, status, gatewayRef string) error {
	query := `
		UPDATE payments
		SET status = $1, gateway_ref = COALESCE(NULLIF($2, ''), gateway_ref), updated_at = NOW()
		WHERE id = $3`

	result, err := s.db.Conn.ExecContext(ctx, query, status, gatewayRef, id)
	if err != nil {
		return fmt.Errorf("failed to update payment: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

// ListPaymentsBySubscription returns a subscription's payment history,
// newest first.
func (s *PortalStore) ListPaymentsBySubscription(ctx context.Context, subscriptionID string) ([]Payment, error) {
	query := `
		SELECT id, subscription_id, COALESCE(plan_id, ''), gateway,
			   COALESCE(gateway_ref, ''), amount, currency, status,
			   created_at, updated_at
		FROM payments
		WHERE subscription_id = $1
		ORDER BY created_at DESC`

	rows, err := s.db.Conn.QueryContext(ctx, query, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	var payments []Payment
	for rows.Next() {
		var p Payment
		err := rows.Scan(
			&p.ID, &p.SubscriptionID, &p.PlanID, &p.Gateway, &p.GatewayRef, &p.Amount,
			&p.Currency, &p.Status, &p.CreatedAt, &p.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// MarkExpiredPendingPayments fails PENDING payments created before the
// cutoff and returns how many rows were swept.
func (s *PortalStore) MarkExpiredPendingPayments(ctx context.Context, olderThan time.Time) (int64, error) {
	query := `
		UPDATE payments
		SET status = 'FAILED', updated_at = NOW()
		WHERE status = 'PENDING' AND created_at < $1`

	result, err := s.db.Conn.ExecContext(ctx, query, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to expire pending payments: %w", err)
	}
	return result.RowsAffected()
}

// ============== Coupon Operations ==============

// GetCoupon implements catalog.Source over the coupons table.
func (s *PortalStore) GetCoupon(ctx context.Context, code string) (*catalog.Coupon, error) {
	query := `
		SELECT code, discount_percent, eligible_plan_ids, COALESCE(description, '')
		FROM coupons
		WHERE code = $1 AND active = true`

	var c catalog.Coupon
	err := s.db.Conn.QueryRowContext(ctx, query, code).Scan(
		&c.Code, &c.DiscountPercent, pq.Array(&c.EligiblePlanIDs), &c.Description,
	)
	if err == sql.ErrNoRows {
		return nil, catalog.ErrCouponNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get coupon: %w", err)
	}
	return &c, nil
}

// ============== Admin Listings ==============

// ListSubscriptions retrieves one page of subscriptions with company names,
// plus the unfiltered-by-page total.
func (s *PortalStore) ListSubscriptions(ctx context.Context, f SubscriptionFilter) ([]SubscriptionRow, int, error) {
	where := " WHERE 1=1"
	args := []interface{}{}
	argNum := 1

	if f.Search != "" {
		where += fmt.Sprintf(" AND (c.name ILIKE $%d OR s.id::text ILIKE $%d)", argNum, argNum)
		args = append(args, "%"+f.Search+"%")
		argNum++
	}
	if f.Status != "" {
		where += fmt.Sprintf(" AND s.status = $%d", argNum)
		args = append(args, f.Status)
		argNum++
	}
	if f.Plan != "" {
		where += fmt.Sprintf(" AND s.plan_id = $%d", argNum)
		args = append(args, f.Plan)
		argNum++
	}

	countQuery := `
		SELECT COUNT(*)
		FROM subscriptions s
		JOIN companies c ON c.id = s.company_id` + where

	var total int
	if err := s.db.Conn.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count subscriptions: %w", err)
	}

	query := `
		SELECT s.id, s.company_id, s.plan_id, s.status, s.billing_cycle, s.period_months,
			   s.current_period_start, s.current_period_end, s.trial_ends_at,
			   s.last_event_at, s.version, s.created_at, s.updated_at, c.name
		FROM subscriptions s
		JOIN companies c ON c.id = s.company_id` + where +
		fmt.Sprintf(" ORDER BY s.created_at DESC LIMIT $%d OFFSET $%d", argNum, argNum+1)
	args = append(args, f.Limit, (f.Page-1)*f.Limit)

	rows, err := s.db.Conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	defer rows.Close()

	var result []SubscriptionRow
	for rows.Next() {
		var r SubscriptionRow
		err := rows.Scan(
			&r.ID, &r.CompanyID, &r.PlanID, &r.Status, &r.BillingCycle, &r.PeriodMonths,
			&r.CurrentPeriodStart, &r.CurrentPeriodEnd, &r.TrialEndsAt,
			&r.LastEventAt, &r.Version, &r.CreatedAt, &r.UpdatedAt, &r.CompanyName,
		)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan subscription: %w", err)
		}
		result = append(result, r)
	}
	return result, total, rows.Err()
}

// ListCompanies retrieves one page of companies.
func (s *PortalStore) ListCompanies(ctx context.Context, f CompanyFilter) ([]Company, int, error) {
	where := " WHERE 1=1"
	args := []interface{}{}
	argNum := 1

	if f.Search != "" {
		where += fmt.Sprintf(" AND name ILIKE $%d", argNum)
		args = append(args, "%"+f.Search+"%")
		argNum++
	}

	var total int
	if err := s.db.Conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM companies"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count companies: %w", err)
	}

	query := "SELECT id, name, created_at FROM companies" + where +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argNum, argNum+1)
	args = append(args, f.Limit, (f.Page-1)*f.Limit)

	rows, err := s.db.Conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list companies: %w", err)
	}
	defer rows.Close()

	var companies []Company
	for rows.Next() {
		var c Company
		if err := rows.Scan(&c.ID, &c.Name, &c.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("failed to scan company: %w", err)
		}
		companies = append(companies, c)
	}
	return companies, total, rows.Err()
}

// ============== Audit Log Operations ==============

// AppendAuditLog inserts an audit entry. Audit rows are append-only.
func (s *PortalStore) AppendAuditLog(ctx context.Context, e audit.Entry) error {
	metadata, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal audit metadata: %w", err)
	}

	query := `
		INSERT INTO audit_logs (
			id, event_type, company_id, subscription_id, payment_id, metadata, created_at
		) VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), $6, $7)`

	_, err = s.db.Conn.ExecContext(ctx, query,
		e.ID, e.EventType, e.CompanyID, e.SubscriptionID, e.PaymentID, metadata, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append audit log: %w", err)
	}
	return nil
}

// ListAuditLogs retrieves one page of audit entries, newest first.
func (s *PortalStore) ListAuditLogs(ctx context.Context, f AuditFilter) ([]audit.Entry, int, error) {
	where := " WHERE 1=1"
	args := []interface{}{}
	argNum := 1

	if f.EventType != "" {
		where += fmt.Sprintf(" AND event_type = $%d", argNum)
		args = append(args, f.EventType)
		argNum++
	}

	var total int
	if err := s.db.Conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_logs"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count audit logs: %w", err)
	}

	query := `
		SELECT id, event_type, COALESCE(company_id::text, ''), COALESCE(subscription_id::text, ''),
			   COALESCE(payment_id::text, ''), metadata, created_at
		FROM audit_logs` + where +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argNum, argNum+1)
	args = append(args, f.Limit, (f.Page-1)*f.Limit)

	rows, err := s.db.Conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list audit logs: %w", err)
	}
	defer rows.Close()

	var entries []audit.Entry
	for rows.Next() {
		var e audit.Entry
		var metadata []byte
		err := rows.Scan(&e.ID, &e.EventType, &e.CompanyID, &e.SubscriptionID, &e.PaymentID, &metadata, &e.CreatedAt)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan audit log: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
				return nil, 0, fmt.Errorf("failed to unmarshal audit metadata: %w", err)
			}
		}
		entries = append(entries, e)
	}
	return entries, total, rows.Err()
}
