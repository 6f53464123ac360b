package domain

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

var (
	ErrSubscriptionNotFound = errors.New("subscription_not_found")
	ErrDuplicateOrderID     = errors.New("duplicate_subscription_order")
	ErrInvalidSubscription  = errors.New("invalid_subscription")
	ErrUnknownPlan          = errors.New("unknown_plan")
	ErrAlreadyDisabled      = errors.New("auto_renew_already_disabled")
	ErrAlreadyEnabled       = errors.New("auto_renew_already_enabled")
	ErrSubscriptionExpired  = errors.New("subscription_expired")
	// ErrConflict reports a lost-update race: the guarded update matched a
	// row on read but modified zero rows, meaning a concurrent writer got
	// there first. Distinct from ErrSubscriptionNotFound on purpose.
	ErrConflict = errors.New("concurrent_modification")
)

// PaymentEvent is an authenticated, classified notification distilled for
// the renewal state machine.
type PaymentEvent struct {
	OrderID        string
	PaymentID      string
	Email          string
	Amount         int64
	Currency       string
	RecurringToken string
	PlanID         string
	NextOccurrence *time.Time
	StatusMessage  string
}

type RecordRequest struct {
	OrderID string
	Email   string
	PlanID  string
}

type ToggleRequest struct {
	// SubscriberKey is an internal subscription id or a customer email.
	SubscriberKey string
	Reason        string
}

// ToggleResult reports what a cancel/reactivate actually did.
type ToggleResult struct {
	SubscriptionID           string
	RequiresManualCancellation bool
}

// RecurringCanceller retires a recurring token at the payment gateway.
// Implementations are best-effort; failures are recorded, never fatal.
type RecurringCanceller interface {
	CancelRecurring(ctx context.Context, recurringToken string) error
}

type Service interface {
	// Record creates a pending subscription for a catalog plan ahead of the
	// first gateway notification.
	Record(ctx context.Context, req RecordRequest) (Subscription, error)
	GetByOrderID(ctx context.Context, orderID string) (Subscription, []RenewalHistory, error)

	// The three renewal transitions. See each implementation for the exact
	// state effects.
	ApplyInitialPayment(ctx context.Context, event PaymentEvent) error
	ApplyRecurringPayment(ctx context.Context, event PaymentEvent) error
	ApplyRecurringFailure(ctx context.Context, event PaymentEvent) error
	ApplyFailedPayment(ctx context.Context, event PaymentEvent) error

	CancelAutoRenew(ctx context.Context, req ToggleRequest) (ToggleResult, error)
	ReactivateAutoRenew(ctx context.Context, req ToggleRequest) (ToggleResult, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, subscription *Subscription) error
	FindByOrderID(ctx context.Context, db *gorm.DB, orderID string) (*Subscription, error)
	// FindForRecurring resolves the subscription a recurring billing event
	// belongs to: exact token match first, then email among auto-renew
	// subscriptions, most recently created first.
	FindForRecurring(ctx context.Context, db *gorm.DB, recurringToken, email string) (*Subscription, error)
	FindBySubscriberKey(ctx context.Context, db *gorm.DB, key string) (*Subscription, error)
	Update(ctx context.Context, db *gorm.DB, subscription *Subscription) error
	// DisableAutoRenew and EnableAutoRenew are guarded updates; they return
	// the number of rows modified so callers can detect lost updates.
	DisableAutoRenew(ctx context.Context, db *gorm.DB, id int64, at time.Time, reason string) (int64, error)
	EnableAutoRenew(ctx context.Context, db *gorm.DB, id int64, nextBilling time.Time) (int64, error)
	InsertHistory(ctx context.Context, db *gorm.DB, entry *RenewalHistory) error
	FindHistory(ctx context.Context, db *gorm.DB, subscriptionRef int64) ([]RenewalHistory, error)
	InsertLog(ctx context.Context, db *gorm.DB, entry *SubscriptionLog) error
}
