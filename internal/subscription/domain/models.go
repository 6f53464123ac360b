// Package domain contains persistence models and contracts for recurring
// subscriptions, their renewal ledger, and the audit log.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// SubscriptionStatus represents lifecycle states for a subscription.
type SubscriptionStatus string

const (
	SubscriptionStatusActive         SubscriptionStatus = "active"
	SubscriptionStatusInactive       SubscriptionStatus = "inactive"
	SubscriptionStatusCancelled      SubscriptionStatus = "cancelled"
	SubscriptionStatusExpired        SubscriptionStatus = "expired"
	SubscriptionStatusPendingRenewal SubscriptionStatus = "pending_renewal"
	SubscriptionStatusPaymentFailed  SubscriptionStatus = "payment_failed"
)

// RenewalOutcome is the result recorded on a renewal-history entry.
type RenewalOutcome string

const (
	RenewalOutcomeSuccess RenewalOutcome = "success"
	RenewalOutcomeFailed  RenewalOutcome = "failed"
)

// LogAction is the closed vocabulary of audit-log actions.
type LogAction string

const (
	LogActionCreated              LogAction = "created"
	LogActionRenewed              LogAction = "renewed"
	LogActionCancelled            LogAction = "cancelled"
	LogActionFailed               LogAction = "failed"
	LogActionAutoRenewalCancelled LogAction = "auto_renewal_cancelled"
	LogActionReactivated          LogAction = "reactivated"
)

// Subscription captures a customer's recurring monthly plan. OrderID is the
// gateway order id of the creation event and is unique. RecurringToken is
// the opaque gateway handle authorizing future charges; auto-renew is only
// meaningful while a token is held.
type Subscription struct {
	ID                 snowflake.ID       `gorm:"primaryKey"`
	OrderID            string             `gorm:"type:text;not null;uniqueIndex"`
	Email              string             `gorm:"type:text;not null;index"`
	PlanID             string             `gorm:"type:text;not null"`
	PlanName           string             `gorm:"type:text;not null"`
	Amount             int64              `gorm:"not null"`
	Currency           string             `gorm:"type:text;not null"`
	BillingCycle       string             `gorm:"type:text;not null;default:'monthly'"`
	Status             SubscriptionStatus `gorm:"type:text;not null;index"`
	AutoRenew          bool               `gorm:"not null;default:false"`
	RecurringToken     *string            `gorm:"type:text;index"`
	RenewalAttempts    int                `gorm:"not null;default:0"`
	MaxRenewalAttempts int                `gorm:"not null;default:3"`
	PaymentFailed      bool               `gorm:"not null;default:false"`
	FailureReason      *string            `gorm:"type:text"`
	LastFailureAt      *time.Time         `gorm:""`
	StartDate          time.Time          `gorm:"not null"`
	EndDate            time.Time          `gorm:"not null"`
	NextBillingDate    *time.Time         `gorm:""`
	CancelledAt        *time.Time         `gorm:""`
	CancellationReason *string            `gorm:"type:text"`
	CreatedAt          time.Time          `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt          time.Time          `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }

// RenewalHistory is the append-only ledger of billing attempts on a
// subscription. Entries are never mutated after insertion.
type RenewalHistory struct {
	ID              snowflake.ID   `gorm:"primaryKey"`
	SubscriptionRef snowflake.ID   `gorm:"not null;index"`
	OccurredAt      time.Time      `gorm:"not null"`
	Amount          int64          `gorm:"not null"`
	Outcome         RenewalOutcome `gorm:"type:text;not null"`
	PaymentID       string         `gorm:"type:text"`
	Attempt         int            `gorm:"not null"`
	RecurringToken  *string        `gorm:"type:text"`
	FailureReason   *string        `gorm:"type:text"`
}

// TableName sets the database table name.
func (RenewalHistory) TableName() string { return "renewal_history" }

// SubscriptionLog is a write-once audit entity: one row per state-changing
// action, retained for reconciliation queries. Kept separate from
// RenewalHistory, which is billing data owned by the subscription.
type SubscriptionLog struct {
	ID              string            `gorm:"type:uuid;primaryKey"`
	SubscriptionRef snowflake.ID      `gorm:"not null;index"`
	Action          LogAction         `gorm:"type:text;not null"`
	Details         datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt       time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (SubscriptionLog) TableName() string { return "subscription_logs" }
