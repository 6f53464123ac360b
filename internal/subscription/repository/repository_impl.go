package repository

import (
	"context"
	"strings"
	"time"

	subscriptiondomain "github.com/ceylonbites/checkout/internal/subscription/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() subscriptiondomain.Repository {
	return &repo{}
}

const subscriptionColumns = `id, order_id, email, plan_id, plan_name, amount, currency, billing_cycle,
	 status, auto_renew, recurring_token, renewal_attempts, max_renewal_attempts,
	 payment_failed, failure_reason, last_failure_at,
	 start_date, end_date, next_billing_date, cancelled_at, cancellation_reason,
	 created_at, updated_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, subscription *subscriptiondomain.Subscription) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO subscriptions (
			id, order_id, email, plan_id, plan_name, amount, currency, billing_cycle,
			status, auto_renew, recurring_token, renewal_attempts, max_renewal_attempts,
			payment_failed, failure_reason, last_failure_at,
			start_date, end_date, next_billing_date, cancelled_at, cancellation_reason,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		subscription.ID,
		subscription.OrderID,
		subscription.Email,
		subscription.PlanID,
		subscription.PlanName,
		subscription.Amount,
		subscription.Currency,
		subscription.BillingCycle,
		subscription.Status,
		subscription.AutoRenew,
		subscription.RecurringToken,
		subscription.RenewalAttempts,
		subscription.MaxRenewalAttempts,
		subscription.PaymentFailed,
		subscription.FailureReason,
		subscription.LastFailureAt,
		subscription.StartDate,
		subscription.EndDate,
		subscription.NextBillingDate,
		subscription.CancelledAt,
		subscription.CancellationReason,
		subscription.CreatedAt,
		subscription.UpdatedAt,
	).Error
}

func (r *repo) FindByOrderID(ctx context.Context, db *gorm.DB, orderID string) (*subscriptiondomain.Subscription, error) {
	var subscription subscriptiondomain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE order_id = ?`,
		orderID,
	).Scan(&subscription).Error
	if err != nil {
		return nil, err
	}
	if subscription.ID == 0 {
		return nil, nil
	}
	return &subscription, nil
}

func (r *repo) FindForRecurring(ctx context.Context, db *gorm.DB, recurringToken, email string) (*subscriptiondomain.Subscription, error) {
	recurringToken = strings.TrimSpace(recurringToken)
	if recurringToken != "" {
		var subscription subscriptiondomain.Subscription
		err := db.WithContext(ctx).Raw(
			`SELECT `+subscriptionColumns+` FROM subscriptions
			 WHERE recurring_token = ?
			 ORDER BY created_at DESC
			 LIMIT 1`,
			recurringToken,
		).Scan(&subscription).Error
		if err != nil {
			return nil, err
		}
		if subscription.ID != 0 {
			return &subscription, nil
		}
	}

	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, nil
	}

	// Most-recently-created wins when several auto-renew subscriptions share
	// an email. This mirrors the gateway's own ambiguity: nothing stronger
	// than recency is available to break the tie.
	var subscription subscriptiondomain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT `+subscriptionColumns+` FROM subscriptions
		 WHERE email = ? AND auto_renew = TRUE
		 ORDER BY created_at DESC
		 LIMIT 1`,
		email,
	).Scan(&subscription).Error
	if err != nil {
		return nil, err
	}
	if subscription.ID == 0 {
		return nil, nil
	}
	return &subscription, nil
}

func (r *repo) FindBySubscriberKey(ctx context.Context, db *gorm.DB, key string) (*subscriptiondomain.Subscription, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, nil
	}

	var subscription subscriptiondomain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT `+subscriptionColumns+` FROM subscriptions
		 WHERE CAST(id AS TEXT) = ? OR email = ?
		 ORDER BY created_at DESC
		 LIMIT 1`,
		key,
		strings.ToLower(key),
	).Scan(&subscription).Error
	if err != nil {
		return nil, err
	}
	if subscription.ID == 0 {
		return nil, nil
	}
	return &subscription, nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, subscription *subscriptiondomain.Subscription) error {
	return db.WithContext(ctx).Exec(
		`UPDATE subscriptions SET
			email = ?, plan_id = ?, plan_name = ?, amount = ?, currency = ?, billing_cycle = ?,
			status = ?, auto_renew = ?, recurring_token = ?, renewal_attempts = ?,
			payment_failed = ?, failure_reason = ?, last_failure_at = ?,
			start_date = ?, end_date = ?, next_billing_date = ?,
			cancelled_at = ?, cancellation_reason = ?, updated_at = ?
		 WHERE id = ?`,
		subscription.Email,
		subscription.PlanID,
		subscription.PlanName,
		subscription.Amount,
		subscription.Currency,
		subscription.BillingCycle,
		subscription.Status,
		subscription.AutoRenew,
		subscription.RecurringToken,
		subscription.RenewalAttempts,
		subscription.PaymentFailed,
		subscription.FailureReason,
		subscription.LastFailureAt,
		subscription.StartDate,
		subscription.EndDate,
		subscription.NextBillingDate,
		subscription.CancelledAt,
		subscription.CancellationReason,
		subscription.UpdatedAt,
		subscription.ID,
	).Error
}

func (r *repo) DisableAutoRenew(ctx context.Context, db *gorm.DB, id int64, at time.Time, reason string) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET auto_renew = FALSE, recurring_token = NULL,
		     cancelled_at = ?, cancellation_reason = ?, updated_at = ?
		 WHERE id = ? AND auto_renew = TRUE AND status = ?`,
		at,
		reason,
		at,
		id,
		subscriptiondomain.SubscriptionStatusActive,
	)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *repo) EnableAutoRenew(ctx context.Context, db *gorm.DB, id int64, nextBilling time.Time) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET auto_renew = TRUE, status = ?, renewal_attempts = 0,
		     payment_failed = FALSE, failure_reason = NULL,
		     next_billing_date = COALESCE(next_billing_date, ?),
		     cancelled_at = NULL, cancellation_reason = NULL,
		     updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND auto_renew = FALSE AND status IN ?`,
		subscriptiondomain.SubscriptionStatusActive,
		nextBilling,
		id,
		[]subscriptiondomain.SubscriptionStatus{
			subscriptiondomain.SubscriptionStatusActive,
			subscriptiondomain.SubscriptionStatusPendingRenewal,
		},
	)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *repo) InsertHistory(ctx context.Context, db *gorm.DB, entry *subscriptiondomain.RenewalHistory) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO renewal_history (
			id, subscription_ref, occurred_at, amount, outcome,
			payment_id, attempt, recurring_token, failure_reason
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.SubscriptionRef,
		entry.OccurredAt,
		entry.Amount,
		entry.Outcome,
		entry.PaymentID,
		entry.Attempt,
		entry.RecurringToken,
		entry.FailureReason,
	).Error
}

func (r *repo) FindHistory(ctx context.Context, db *gorm.DB, subscriptionRef int64) ([]subscriptiondomain.RenewalHistory, error) {
	var entries []subscriptiondomain.RenewalHistory
	err := db.WithContext(ctx).Raw(
		`SELECT id, subscription_ref, occurred_at, amount, outcome,
		 payment_id, attempt, recurring_token, failure_reason
		 FROM renewal_history WHERE subscription_ref = ? ORDER BY id ASC`,
		subscriptionRef,
	).Scan(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repo) InsertLog(ctx context.Context, db *gorm.DB, entry *subscriptiondomain.SubscriptionLog) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO subscription_logs (
			id, subscription_ref, action, details, created_at
		) VALUES (?, ?, ?, ?, ?)`,
		entry.ID,
		entry.SubscriptionRef,
		entry.Action,
		entry.Details,
		entry.CreatedAt,
	).Error
}
