package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/ceylonbites/checkout/internal/clock"
	"github.com/ceylonbites/checkout/internal/config"
	subscriptiondomain "github.com/ceylonbites/checkout/internal/subscription/domain"
	"github.com/ceylonbites/checkout/internal/subscription/repository"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fakeCanceller struct {
	calls []string
	err   error
}

func (f *fakeCanceller) CancelRecurring(ctx context.Context, recurringToken string) error {
	f.calls = append(f.calls, recurringToken)
	return f.err
}

func setupService(t *testing.T, now time.Time) (*gorm.DB, *Service, *clock.FakeClock) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&subscriptiondomain.Subscription{},
		&subscriptiondomain.RenewalHistory{},
		&subscriptiondomain.SubscriptionLog{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	fc := clock.NewFakeClock(now)
	svc := NewService(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fc,
		Cfg:   config.Config{PayHere: config.PayHereConfig{MaxRenewalAttempts: 3}},
		Plans: config.NewStaticPlanCatalogHolder(config.DefaultPlanCatalog()),
		Repo:  repository.Provide(),
	}).(*Service)

	return db, svc, fc
}

func mustFind(t *testing.T, db *gorm.DB, orderID string) subscriptiondomain.Subscription {
	t.Helper()
	var sub subscriptiondomain.Subscription
	require.NoError(t, db.Where("order_id = ?", orderID).First(&sub).Error)
	return sub
}

func historyFor(t *testing.T, db *gorm.DB, ref snowflake.ID) []subscriptiondomain.RenewalHistory {
	t.Helper()
	var entries []subscriptiondomain.RenewalHistory
	require.NoError(t, db.Where("subscription_ref = ?", ref).Order("occurred_at").Find(&entries).Error)
	return entries
}

func logsFor(t *testing.T, db *gorm.DB, ref snowflake.ID) []subscriptiondomain.SubscriptionLog {
	t.Helper()
	var entries []subscriptiondomain.SubscriptionLog
	require.NoError(t, db.Where("subscription_ref = ?", ref).Order("created_at").Find(&entries).Error)
	return entries
}

func TestRecord_CreatesInactiveSubscription(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	db, svc, _ := setupService(t, now)

	created, err := svc.Record(context.Background(), subscriptiondomain.RecordRequest{
		OrderID: "FOOD_1001",
		Email:   "anita@example.com",
		PlanID:  "weekly-box",
	})
	require.NoError(t, err)

	assert.Equal(t, subscriptiondomain.SubscriptionStatusInactive, created.Status)
	assert.Equal(t, int64(450000), created.Amount)
	assert.Equal(t, "LKR", created.Currency)
	assert.False(t, created.AutoRenew)
	assert.Equal(t, now.AddDate(0, 1, 0), created.EndDate)

	logs := logsFor(t, db, created.ID)
	require.Len(t, logs, 1)
	assert.Equal(t, subscriptiondomain.LogActionCreated, logs[0].Action)
}

func TestRecord_UnknownPlan(t *testing.T) {
	_, svc, _ := setupService(t, time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))

	_, err := svc.Record(context.Background(), subscriptiondomain.RecordRequest{
		OrderID: "FOOD_1002",
		Email:   "anita@example.com",
		PlanID:  "no-such-plan",
	})
	assert.ErrorIs(t, err, subscriptiondomain.ErrUnknownPlan)
}

func TestRecord_DuplicateOrderID(t *testing.T) {
	_, svc, _ := setupService(t, time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))

	req := subscriptiondomain.RecordRequest{
		OrderID: "FOOD_1003",
		Email:   "anita@example.com",
		PlanID:  "weekly-box",
	}
	_, err := svc.Record(context.Background(), req)
	require.NoError(t, err)

	_, err = svc.Record(context.Background(), req)
	assert.ErrorIs(t, err, subscriptiondomain.ErrDuplicateOrderID)
}

func TestApplyInitialPayment_ActivatesRecordedSubscription(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	db, svc, _ := setupService(t, now)

	created, err := svc.Record(context.Background(), subscriptiondomain.RecordRequest{
		OrderID: "FOOD_2001",
		Email:   "anita@example.com",
		PlanID:  "weekly-box",
	})
	require.NoError(t, err)

	occurrence := time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC)
	err = svc.ApplyInitialPayment(context.Background(), subscriptiondomain.PaymentEvent{
		OrderID:        "FOOD_2001",
		PaymentID:      "PAY-1",
		Email:          "anita@example.com",
		Amount:         450000,
		Currency:       "LKR",
		RecurringToken: "tok-abc",
		NextOccurrence: &occurrence,
	})
	require.NoError(t, err)

	sub := mustFind(t, db, "FOOD_2001")
	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, sub.Status)
	assert.True(t, sub.AutoRenew)
	require.NotNil(t, sub.RecurringToken)
	assert.Equal(t, "tok-abc", *sub.RecurringToken)
	require.NotNil(t, sub.NextBillingDate)
	assert.True(t, occurrence.Equal(*sub.NextBillingDate))
	assert.Equal(t, created.ID, sub.ID)
}

func TestApplyInitialPayment_CreatesSubscriptionLazily(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	db, svc, _ := setupService(t, now)

	err := svc.ApplyInitialPayment(context.Background(), subscriptiondomain.PaymentEvent{
		OrderID:        "FOOD_2002",
		PaymentID:      "PAY-2",
		Email:          "ravi@example.com",
		Amount:         780000,
		Currency:       "LKR",
		RecurringToken: "tok-xyz",
		PlanID:         "family-box",
	})
	require.NoError(t, err)

	sub := mustFind(t, db, "FOOD_2002")
	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, sub.Status)
	assert.True(t, sub.AutoRenew)
	assert.True(t, now.AddDate(0, 1, 0).Equal(sub.EndDate))
	require.NotNil(t, sub.NextBillingDate)

	history := historyFor(t, db, sub.ID)
	require.Len(t, history, 1)
	assert.Equal(t, subscriptiondomain.RenewalOutcomeSuccess, history[0].Outcome)
	assert.Equal(t, 1, history[0].Attempt)
	assert.Equal(t, "PAY-2", history[0].PaymentID)

	logs := logsFor(t, db, sub.ID)
	require.Len(t, logs, 1)
	assert.Equal(t, subscriptiondomain.LogActionCreated, logs[0].Action)
}

func TestApplyInitialPayment_NoTokenMeansNoAutoRenew(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	db, svc, _ := setupService(t, now)

	err := svc.ApplyInitialPayment(context.Background(), subscriptiondomain.PaymentEvent{
		OrderID:   "FOOD_2003",
		PaymentID: "PAY-3",
		Email:     "ravi@example.com",
		Amount:    780000,
		Currency:  "LKR",
	})
	require.NoError(t, err)

	sub := mustFind(t, db, "FOOD_2003")
	assert.False(t, sub.AutoRenew)
	assert.Nil(t, sub.RecurringToken)
	assert.Nil(t, sub.NextBillingDate)
}

func TestApplyRecurringPayment_AdvancesEndDateFromStoredEndDate(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	db, svc, fc := setupService(t, now)

	require.NoError(t, svc.ApplyInitialPayment(context.Background(), subscriptiondomain.PaymentEvent{
		OrderID:        "FOOD_3001",
		PaymentID:      "PAY-10",
		Email:          "anita@example.com",
		Amount:         450000,
		Currency:       "LKR",
		RecurringToken: "tok-recurring",
	}))
	before := mustFind(t, db, "FOOD_3001")

	// Late delivery: the notification lands well after the billing date.
	// The paid-for window still runs from the stored end date.
	fc.Advance(45 * 24 * time.Hour)

	require.NoError(t, svc.ApplyRecurringPayment(context.Background(), subscriptiondomain.PaymentEvent{
		OrderID:        "FOOD_3001",
		PaymentID:      "PAY-11",
		Email:          "anita@example.com",
		Amount:         450000,
		Currency:       "LKR",
		RecurringToken: "tok-recurring",
	}))

	after := mustFind(t, db, "FOOD_3001")
	assert.True(t, before.EndDate.AddDate(0, 1, 0).Equal(after.EndDate))
	assert.Equal(t, 0, after.RenewalAttempts)
	assert.False(t, after.PaymentFailed)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, after.Status)
	require.NotNil(t, after.NextBillingDate)
	assert.True(t, after.EndDate.Equal(*after.NextBillingDate))

	history := historyFor(t, db, after.ID)
	require.Len(t, history, 2)
	assert.Equal(t, subscriptiondomain.RenewalOutcomeSuccess, history[1].Outcome)
}

func TestApplyRecurringPayment_NoMatchDropsEvent(t *testing.T) {
	_, svc, _ := setupService(t, time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))

	err := svc.ApplyRecurringPayment(context.Background(), subscriptiondomain.PaymentEvent{
		OrderID:        "FOOD_9999",
		Email:          "nobody@example.com",
		RecurringToken: "tok-unknown",
	})
	assert.ErrorIs(t, err, subscriptiondomain.ErrSubscriptionNotFound)
}

func TestApplyRecurringFailure_BelowThresholdParksPendingRenewal(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	db, svc, _ := setupService(t, now)

	require.NoError(t, svc.ApplyInitialPayment(context.Background(), subscriptiondomain.PaymentEvent{
		OrderID:        "FOOD_4001",
		PaymentID:      "PAY-20",
		Email:          "anita@example.com",
		Amount:         450000,
		Currency:       "LKR",
		RecurringToken: "tok-fail",
	}))

	require.NoError(t, svc.ApplyRecurringFailure(context.Background(), subscriptiondomain.PaymentEvent{
		Email:          "anita@example.com",
		RecurringToken: "tok-fail",
		StatusMessage:  "card declined",
	}))

	sub := mustFind(t, db, "FOOD_4001")
	assert.Equal(t, subscriptiondomain.SubscriptionStatusPendingRenewal, sub.Status)
	assert.True(t, sub.AutoRenew)
	assert.Equal(t, 1, sub.RenewalAttempts)
	assert.True(t, sub.PaymentFailed)
	require.NotNil(t, sub.FailureReason)
	assert.Equal(t, "card declined", *sub.FailureReason)
}

func TestApplyRecurringFailure_ThresholdCancelsAndClearsAutoRenew(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	db, svc, _ := setupService(t, now)

	require.NoError(t, svc.ApplyInitialPayment(context.Background(), subscriptiondomain.PaymentEvent{
		OrderID:        "FOOD_4002",
		PaymentID:      "PAY-21",
		Email:          "anita@example.com",
		Amount:         450000,
		Currency:       "LKR",
		RecurringToken: "tok-exhaust",
	}))

	for i := 0; i < 3; i++ {
		require.NoError(t, svc.ApplyRecurringFailure(context.Background(), subscriptiondomain.PaymentEvent{
			Email:          "anita@example.com",
			RecurringToken: "tok-exhaust",
			StatusMessage:  "card declined",
		}))
	}

	sub := mustFind(t, db, "FOOD_4002")
	assert.Equal(t, subscriptiondomain.SubscriptionStatusCancelled, sub.Status)
	assert.False(t, sub.AutoRenew)
	assert.Equal(t, 3, sub.RenewalAttempts)
	require.NotNil(t, sub.CancelledAt)

	var failed int
	for _, entry := range historyFor(t, db, sub.ID) {
		if entry.Outcome == subscriptiondomain.RenewalOutcomeFailed {
			failed++
		}
	}
	assert.Equal(t, 3, failed)
}

func TestApplyFailedPayment_MarksPaymentFailed(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	db, svc, _ := setupService(t, now)

	_, err := svc.Record(context.Background(), subscriptiondomain.RecordRequest{
		OrderID: "FOOD_5001",
		Email:   "anita@example.com",
		PlanID:  "weekly-box",
	})
	require.NoError(t, err)

	require.NoError(t, svc.ApplyFailedPayment(context.Background(), subscriptiondomain.PaymentEvent{
		OrderID:       "FOOD_5001",
		StatusMessage: "insufficient funds",
	}))

	sub := mustFind(t, db, "FOOD_5001")
	assert.Equal(t, subscriptiondomain.SubscriptionStatusPaymentFailed, sub.Status)
	assert.Equal(t, 1, sub.RenewalAttempts)
	assert.True(t, sub.PaymentFailed)
	require.NotNil(t, sub.LastFailureAt)
}

func TestCancelAutoRenew_DisablesAndLogs(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	db, svc, _ := setupService(t, now)
	canceller := &fakeCanceller{}
	svc.canceller = canceller

	require.NoError(t, svc.ApplyInitialPayment(context.Background(), subscriptiondomain.PaymentEvent{
		OrderID:        "FOOD_6001",
		PaymentID:      "PAY-30",
		Email:          "anita@example.com",
		Amount:         450000,
		Currency:       "LKR",
		RecurringToken: "tok-cancel",
	}))

	result, err := svc.CancelAutoRenew(context.Background(), subscriptiondomain.ToggleRequest{
		SubscriberKey: "anita@example.com",
		Reason:        "moving abroad",
	})
	require.NoError(t, err)
	assert.False(t, result.RequiresManualCancellation)
	assert.Equal(t, []string{"tok-cancel"}, canceller.calls)

	sub := mustFind(t, db, "FOOD_6001")
	assert.False(t, sub.AutoRenew)
	assert.Nil(t, sub.RecurringToken)
	require.NotNil(t, sub.CancellationReason)
	assert.Equal(t, "moving abroad", *sub.CancellationReason)

	logs := logsFor(t, db, sub.ID)
	last := logs[len(logs)-1]
	assert.Equal(t, subscriptiondomain.LogActionAutoRenewalCancelled, last.Action)
}

func TestCancelAutoRenew_GatewayFailureFlagsManualFollowup(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	db, svc, _ := setupService(t, now)
	svc.canceller = &fakeCanceller{err: errors.New("gateway unavailable")}

	require.NoError(t, svc.ApplyInitialPayment(context.Background(), subscriptiondomain.PaymentEvent{
		OrderID:        "FOOD_6002",
		PaymentID:      "PAY-31",
		Email:          "anita@example.com",
		Amount:         450000,
		Currency:       "LKR",
		RecurringToken: "tok-stuck",
	}))

	result, err := svc.CancelAutoRenew(context.Background(), subscriptiondomain.ToggleRequest{
		SubscriberKey: "anita@example.com",
	})
	require.NoError(t, err)
	assert.True(t, result.RequiresManualCancellation)

	// Local state still cleared despite the gateway failure.
	sub := mustFind(t, db, "FOOD_6002")
	assert.False(t, sub.AutoRenew)
}

func TestCancelAutoRenew_AlreadyDisabled(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	_, svc, _ := setupService(t, now)
	svc.canceller = &fakeCanceller{}

	require.NoError(t, svc.ApplyInitialPayment(context.Background(), subscriptiondomain.PaymentEvent{
		OrderID:        "FOOD_6003",
		PaymentID:      "PAY-32",
		Email:          "anita@example.com",
		Amount:         450000,
		Currency:       "LKR",
		RecurringToken: "tok-twice",
	}))

	_, err := svc.CancelAutoRenew(context.Background(), subscriptiondomain.ToggleRequest{
		SubscriberKey: "anita@example.com",
	})
	require.NoError(t, err)

	_, err = svc.CancelAutoRenew(context.Background(), subscriptiondomain.ToggleRequest{
		SubscriberKey: "anita@example.com",
	})
	assert.ErrorIs(t, err, subscriptiondomain.ErrAlreadyDisabled)
}

func TestCancelAutoRenew_NotFound(t *testing.T) {
	_, svc, _ := setupService(t, time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))

	_, err := svc.CancelAutoRenew(context.Background(), subscriptiondomain.ToggleRequest{
		SubscriberKey: "nobody@example.com",
	})
	assert.ErrorIs(t, err, subscriptiondomain.ErrSubscriptionNotFound)
}

func TestReactivateAutoRenew_RestoresAutoRenew(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	db, svc, _ := setupService(t, now)
	svc.canceller = &fakeCanceller{}

	require.NoError(t, svc.ApplyInitialPayment(context.Background(), subscriptiondomain.PaymentEvent{
		OrderID:        "FOOD_7001",
		PaymentID:      "PAY-40",
		Email:          "anita@example.com",
		Amount:         450000,
		Currency:       "LKR",
		RecurringToken: "tok-back",
	}))
	_, err := svc.CancelAutoRenew(context.Background(), subscriptiondomain.ToggleRequest{
		SubscriberKey: "anita@example.com",
	})
	require.NoError(t, err)

	result, err := svc.ReactivateAutoRenew(context.Background(), subscriptiondomain.ToggleRequest{
		SubscriberKey: "anita@example.com",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, result.SubscriptionID)

	sub := mustFind(t, db, "FOOD_7001")
	assert.True(t, sub.AutoRenew)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, sub.Status)
	assert.Equal(t, 0, sub.RenewalAttempts)
	assert.False(t, sub.PaymentFailed)
	require.NotNil(t, sub.NextBillingDate)

	logs := logsFor(t, db, sub.ID)
	last := logs[len(logs)-1]
	assert.Equal(t, subscriptiondomain.LogActionReactivated, last.Action)
}

func TestReactivateAutoRenew_AlreadyEnabled(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	_, svc, _ := setupService(t, now)

	require.NoError(t, svc.ApplyInitialPayment(context.Background(), subscriptiondomain.PaymentEvent{
		OrderID:        "FOOD_7002",
		PaymentID:      "PAY-41",
		Email:          "anita@example.com",
		Amount:         450000,
		Currency:       "LKR",
		RecurringToken: "tok-on",
	}))

	_, err := svc.ReactivateAutoRenew(context.Background(), subscriptiondomain.ToggleRequest{
		SubscriberKey: "anita@example.com",
	})
	assert.ErrorIs(t, err, subscriptiondomain.ErrAlreadyEnabled)
}

func TestReactivateAutoRenew_ExpiredSubscription(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	db, svc, fc := setupService(t, now)
	svc.canceller = &fakeCanceller{}

	require.NoError(t, svc.ApplyInitialPayment(context.Background(), subscriptiondomain.PaymentEvent{
		OrderID:        "FOOD_7003",
		PaymentID:      "PAY-42",
		Email:          "anita@example.com",
		Amount:         450000,
		Currency:       "LKR",
		RecurringToken: "tok-lapsed",
	}))
	_, err := svc.CancelAutoRenew(context.Background(), subscriptiondomain.ToggleRequest{
		SubscriberKey: "anita@example.com",
	})
	require.NoError(t, err)

	// Walk past the end of the paid-for period.
	fc.Advance(40 * 24 * time.Hour)

	_, err = svc.ReactivateAutoRenew(context.Background(), subscriptiondomain.ToggleRequest{
		SubscriberKey: "anita@example.com",
	})
	assert.ErrorIs(t, err, subscriptiondomain.ErrSubscriptionExpired)

	// Failure must not mutate anything.
	sub := mustFind(t, db, "FOOD_7003")
	assert.False(t, sub.AutoRenew)
}
