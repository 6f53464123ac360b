package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/ceylonbites/checkout/internal/clock"
	"github.com/ceylonbites/checkout/internal/config"
	notificationdomain "github.com/ceylonbites/checkout/internal/notification/domain"
	orderdomain "github.com/ceylonbites/checkout/internal/order/domain"
	orderrepository "github.com/ceylonbites/checkout/internal/order/repository"
	orderservice "github.com/ceylonbites/checkout/internal/order/service"
	"github.com/ceylonbites/checkout/internal/payhere"
	subscriptiondomain "github.com/ceylonbites/checkout/internal/subscription/domain"
	subscriptionrepository "github.com/ceylonbites/checkout/internal/subscription/repository"
	subscriptionservice "github.com/ceylonbites/checkout/internal/subscription/service"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	testMerchantID = "1213000"
	testSecret     = "super-secret"
)

type routerFixture struct {
	db     *gorm.DB
	router notificationdomain.Service
	orders orderdomain.Service
	subs   subscriptiondomain.Service
	clock  *clock.FakeClock
}

func setupRouter(t *testing.T) *routerFixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&orderdomain.Order{},
		&orderdomain.OrderItem{},
		&subscriptiondomain.Subscription{},
		&subscriptiondomain.RenewalHistory{},
		&subscriptiondomain.SubscriptionLog{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	fc := clock.NewFakeClock(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
	cfg := config.Config{
		PayHere: config.PayHereConfig{
			MerchantID:         testMerchantID,
			MerchantSecret:     testSecret,
			MaxRenewalAttempts: 3,
		},
	}

	orders := orderservice.NewService(orderservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fc,
		Repo:  orderrepository.Provide(),
	})
	subs := subscriptionservice.NewService(subscriptionservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fc,
		Cfg:   cfg,
		Plans: config.NewStaticPlanCatalogHolder(config.DefaultPlanCatalog()),
		Repo:  subscriptionrepository.Provide(),
	})
	router := NewService(Params{
		Log:           zap.NewNop(),
		Cfg:           cfg,
		Orders:        orders,
		Subscriptions: subs,
	})

	return &routerFixture{db: db, router: router, orders: orders, subs: subs, clock: fc}
}

// signedNotification builds a callback with a valid verification hash.
func signedNotification(orderID, paymentID string, amountCents int64, statusCode string) notificationdomain.Notification {
	return notificationdomain.Notification{
		MerchantID: testMerchantID,
		OrderID:    orderID,
		PaymentID:  paymentID,
		Amount:     payhere.FormatAmount(amountCents),
		Currency:   "LKR",
		StatusCode: statusCode,
		Signature: payhere.SignNotification(
			testMerchantID, orderID, amountCents, "LKR", statusCode, testSecret,
		),
	}
}

func seedCartOrder(t *testing.T, f *routerFixture, orderID string) orderdomain.Order {
	t.Helper()
	created, err := f.orders.Create(context.Background(), orderdomain.CreateOrderRequest{
		OrderID:      orderID,
		CustomerName: "Anita Perera",
		Email:        "anita@example.com",
		Currency:     "LKR",
		Items: []orderdomain.CreateOrderItem{
			{ProductID: "rice-curry", Name: "Rice & Curry", Quantity: 2, UnitPrice: 120000},
		},
	})
	require.NoError(t, err)
	return created
}

func TestProcess_RejectsMissingField(t *testing.T) {
	f := setupRouter(t)

	n := signedNotification("CART_1", "PAY-1", 240000, "2")
	n.Signature = ""

	err := f.router.Process(context.Background(), n)
	var authErr *notificationdomain.AuthenticityError
	require.ErrorAs(t, err, &authErr)
	assert.Contains(t, authErr.Reason, "md5sig")
}

func TestProcess_RejectsMerchantMismatch(t *testing.T) {
	f := setupRouter(t)

	n := signedNotification("CART_1", "PAY-1", 240000, "2")
	n.MerchantID = "9999999"

	err := f.router.Process(context.Background(), n)
	var authErr *notificationdomain.AuthenticityError
	require.ErrorAs(t, err, &authErr)
}

func TestProcess_RejectsTamperedAmount(t *testing.T) {
	f := setupRouter(t)
	seedCartOrder(t, f, "CART_2")

	n := signedNotification("CART_2", "PAY-1", 240000, "2")
	n.Amount = payhere.FormatAmount(10000)

	err := f.router.Process(context.Background(), n)
	var authErr *notificationdomain.AuthenticityError
	require.ErrorAs(t, err, &authErr)

	// No state touched on rejection.
	unchanged, _, getErr := f.orders.GetByOrderID(context.Background(), "CART_2")
	require.NoError(t, getErr)
	assert.Equal(t, orderdomain.PaymentStatusPending, unchanged.PaymentStatus)
}

func TestProcess_CartSuccessCompletesOrder(t *testing.T) {
	f := setupRouter(t)
	created := seedCartOrder(t, f, "CART_3")

	n := signedNotification("CART_3", "PAY-100", created.Total, "2")
	require.NoError(t, f.router.Process(context.Background(), n))

	updated, _, err := f.orders.GetByOrderID(context.Background(), "CART_3")
	require.NoError(t, err)
	assert.Equal(t, orderdomain.PaymentStatusCompleted, updated.PaymentStatus)
	assert.Equal(t, orderdomain.FulfillmentStatusConfirmed, updated.FulfillmentStatus)
	require.NotNil(t, updated.PaymentID)
	assert.Equal(t, "PAY-100", *updated.PaymentID)
}

func TestProcess_CartFailureCancelsOrder(t *testing.T) {
	f := setupRouter(t)
	created := seedCartOrder(t, f, "CART_4")

	n := signedNotification("CART_4", "PAY-101", created.Total, "-2")
	require.NoError(t, f.router.Process(context.Background(), n))

	updated, _, err := f.orders.GetByOrderID(context.Background(), "CART_4")
	require.NoError(t, err)
	assert.Equal(t, orderdomain.PaymentStatusFailed, updated.PaymentStatus)
	assert.Equal(t, orderdomain.FulfillmentStatusCancelled, updated.FulfillmentStatus)
}

func TestProcess_CartUnknownOrderAcknowledged(t *testing.T) {
	f := setupRouter(t)

	// No order was ever created for this id; the callback is still
	// acknowledged so the gateway stops retrying.
	n := signedNotification("CART_404", "PAY-102", 50000, "2")
	assert.NoError(t, f.router.Process(context.Background(), n))
}

func TestProcess_DuplicateCartSuccessIsSafe(t *testing.T) {
	f := setupRouter(t)
	created := seedCartOrder(t, f, "CART_5")

	n := signedNotification("CART_5", "PAY-103", created.Total, "2")
	require.NoError(t, f.router.Process(context.Background(), n))
	require.NoError(t, f.router.Process(context.Background(), n))

	updated, _, err := f.orders.GetByOrderID(context.Background(), "CART_5")
	require.NoError(t, err)
	assert.Equal(t, orderdomain.PaymentStatusCompleted, updated.PaymentStatus)
}

func TestProcess_SubscriptionInitialPaymentCreatesSubscription(t *testing.T) {
	f := setupRouter(t)

	n := signedNotification("FOOD_100", "PAY-200", 450000, "2")
	n.Custom1 = notificationdomain.MarkerSubscription
	n.Custom2 = "weekly-box"
	n.Email = "anita@example.com"
	n.RecurringToken = "tok-1"
	require.NoError(t, f.router.Process(context.Background(), n))

	sub, history, err := f.subs.GetByOrderID(context.Background(), "FOOD_100")
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, sub.Status)
	assert.True(t, sub.AutoRenew)
	assert.Equal(t, "weekly-box", sub.PlanID)

	require.Len(t, history, 1)
	assert.Equal(t, subscriptiondomain.RenewalOutcomeSuccess, history[0].Outcome)
	assert.Equal(t, 1, history[0].Attempt)
}

func TestProcess_PrefixFallbackRoutesSubscription(t *testing.T) {
	f := setupRouter(t)

	// No custom-field marker; the FOOD_ prefix decides.
	n := signedNotification("FOOD_101", "PAY-201", 450000, "2")
	n.Email = "ravi@example.com"
	n.RecurringToken = "tok-2"
	require.NoError(t, f.router.Process(context.Background(), n))

	sub, _, err := f.subs.GetByOrderID(context.Background(), "FOOD_101")
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, sub.Status)
}

func TestProcess_RecurringPaymentAdvancesBilling(t *testing.T) {
	f := setupRouter(t)

	initial := signedNotification("FOOD_102", "PAY-210", 450000, "2")
	initial.Custom1 = notificationdomain.MarkerSubscription
	initial.Email = "anita@example.com"
	initial.RecurringToken = "tok-3"
	require.NoError(t, f.router.Process(context.Background(), initial))

	before, _, err := f.subs.GetByOrderID(context.Background(), "FOOD_102")
	require.NoError(t, err)

	f.clock.Advance(31 * 24 * time.Hour)

	recurring := signedNotification("FOOD_102", "PAY-211", 450000, "2")
	recurring.Custom1 = notificationdomain.MarkerSubscription
	recurring.Email = "anita@example.com"
	recurring.RecurringToken = "tok-3"
	recurring.EventType = notificationdomain.EventTypeSubscriptionPayment
	require.NoError(t, f.router.Process(context.Background(), recurring))

	after, history, err := f.subs.GetByOrderID(context.Background(), "FOOD_102")
	require.NoError(t, err)
	assert.True(t, before.EndDate.AddDate(0, 1, 0).Equal(after.EndDate))
	require.Len(t, history, 2)
}

func TestProcess_ThreeRecurringFailuresCancelSubscription(t *testing.T) {
	f := setupRouter(t)

	initial := signedNotification("FOOD_103", "PAY-220", 450000, "2")
	initial.Custom1 = notificationdomain.MarkerSubscription
	initial.Email = "anita@example.com"
	initial.RecurringToken = "tok-4"
	require.NoError(t, f.router.Process(context.Background(), initial))

	for i := 0; i < 3; i++ {
		failure := signedNotification("FOOD_103", fmt.Sprintf("PAY-22%d", i+1), 450000, "-2")
		failure.Custom1 = notificationdomain.MarkerSubscription
		failure.Email = "anita@example.com"
		failure.RecurringToken = "tok-4"
		failure.EventType = notificationdomain.EventTypeSubscriptionPayment
		failure.StatusMessage = "card declined"
		require.NoError(t, f.router.Process(context.Background(), failure))
	}

	sub, history, err := f.subs.GetByOrderID(context.Background(), "FOOD_103")
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusCancelled, sub.Status)
	assert.False(t, sub.AutoRenew)

	var failed int
	for _, entry := range history {
		if entry.Outcome == subscriptiondomain.RenewalOutcomeFailed {
			failed++
		}
	}
	assert.Equal(t, 3, failed)
}

func TestProcess_UnknownTypeOnSuccessDefaultsToCart(t *testing.T) {
	f := setupRouter(t)
	created := seedCartOrder(t, f, "WEB_1")

	// Neither marker nor known prefix; a successful payment routes to the
	// cart path.
	n := signedNotification("WEB_1", "PAY-300", created.Total, "2")
	require.NoError(t, f.router.Process(context.Background(), n))

	updated, _, err := f.orders.GetByOrderID(context.Background(), "WEB_1")
	require.NoError(t, err)
	assert.Equal(t, orderdomain.PaymentStatusCompleted, updated.PaymentStatus)
}
