package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ceylonbites/checkout/internal/config"
	notificationdomain "github.com/ceylonbites/checkout/internal/notification/domain"
	obsmetrics "github.com/ceylonbites/checkout/internal/observability/metrics"
	orderdomain "github.com/ceylonbites/checkout/internal/order/domain"
	"github.com/ceylonbites/checkout/internal/payhere"
	subscriptiondomain "github.com/ceylonbites/checkout/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var occurrenceLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02",
	time.RFC3339,
}

type Params struct {
	fx.In

	Log           *zap.Logger
	Cfg           config.Config
	Orders        orderdomain.Service
	Subscriptions subscriptiondomain.Service
	ObsMetrics    *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	log           *zap.Logger
	cfg           config.PayHereConfig
	orders        orderdomain.Service
	subscriptions subscriptiondomain.Service
	obsMetrics    *obsmetrics.Metrics
}

func NewService(p Params) notificationdomain.Service {
	return &Service{
		log:           p.Log.Named("notification.router"),
		cfg:           p.Cfg.PayHere,
		orders:        p.Orders,
		subscriptions: p.Subscriptions,
		obsMetrics:    p.ObsMetrics,
	}
}

// Process authenticates and applies one gateway callback. Only an
// AuthenticityError escapes; once the message is authenticated every
// downstream failure is logged and swallowed so the transport acknowledges
// and the gateway does not retry an already-verified delivery.
func (s *Service) Process(ctx context.Context, n notificationdomain.Notification) error {
	if field := n.MissingRequiredField(); field != "" {
		s.record("unknown", "rejected")
		return notificationdomain.ErrMissingField(field)
	}
	if strings.TrimSpace(n.MerchantID) != strings.TrimSpace(s.cfg.MerchantID) {
		s.record("unknown", "rejected")
		return notificationdomain.ErrMerchantMismatch()
	}
	amount, err := payhere.ParseAmount(n.Amount)
	if err != nil {
		s.record("unknown", "rejected")
		return notificationdomain.ErrMalformedAmount()
	}
	if !payhere.VerifySignature(
		strings.TrimSpace(n.MerchantID),
		strings.TrimSpace(n.OrderID),
		amount,
		strings.TrimSpace(n.Currency),
		strings.TrimSpace(n.StatusCode),
		strings.TrimSpace(n.Signature),
		s.cfg.MerchantSecret,
	) {
		s.log.Warn("notification signature rejected",
			zap.String("order_id", n.OrderID),
			zap.String("payment_id", n.PaymentID),
		)
		s.record("unknown", "rejected")
		return notificationdomain.ErrBadSignature()
	}

	paymentType := n.Classify()
	switch paymentType {
	case notificationdomain.PaymentTypeSubscription:
		s.routeSubscription(ctx, n, amount)
	default:
		s.routeOrder(ctx, n)
	}
	return nil
}

func (s *Service) routeOrder(ctx context.Context, n notificationdomain.Notification) {
	outcome := orderdomain.PaymentOutcome{
		OrderID:   strings.TrimSpace(n.OrderID),
		PaymentID: strings.TrimSpace(n.PaymentID),
		Success:   n.Success(),
	}
	err := s.orders.ApplyPaymentOutcome(ctx, outcome)
	switch {
	case err == nil:
		s.record(string(notificationdomain.PaymentTypeCartOrder), "applied")
		s.log.Info("order payment applied",
			zap.String("order_id", outcome.OrderID),
			zap.Bool("success", outcome.Success),
		)
	case errors.Is(err, orderdomain.ErrOrderNotFound):
		// Orders are never created retroactively; a callback for an order
		// checkout never persisted is acknowledged and dropped.
		s.record(string(notificationdomain.PaymentTypeCartOrder), "dropped")
		s.log.Warn("notification for unknown order dropped", zap.String("order_id", outcome.OrderID))
	default:
		s.record(string(notificationdomain.PaymentTypeCartOrder), "error")
		s.log.Error("order payment apply failed",
			zap.String("order_id", outcome.OrderID),
			zap.Error(err),
		)
	}
}

func (s *Service) routeSubscription(ctx context.Context, n notificationdomain.Notification, amount int64) {
	event := subscriptiondomain.PaymentEvent{
		OrderID:        strings.TrimSpace(n.OrderID),
		PaymentID:      strings.TrimSpace(n.PaymentID),
		Email:          strings.TrimSpace(n.Email),
		Amount:         amount,
		Currency:       strings.TrimSpace(n.Currency),
		RecurringToken: strings.TrimSpace(n.RecurringToken),
		PlanID:         planIDHint(n),
		NextOccurrence: parseOccurrence(n.NextOccurrenceDate),
		StatusMessage:  strings.TrimSpace(n.StatusMessage),
	}

	var err error
	switch {
	case n.Success() && n.Recurring():
		err = s.subscriptions.ApplyRecurringPayment(ctx, event)
	case n.Success():
		err = s.subscriptions.ApplyInitialPayment(ctx, event)
	case n.Recurring():
		err = s.subscriptions.ApplyRecurringFailure(ctx, event)
	default:
		err = s.subscriptions.ApplyFailedPayment(ctx, event)
	}

	switch {
	case err == nil:
		s.record(string(notificationdomain.PaymentTypeSubscription), "applied")
	case errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound):
		s.record(string(notificationdomain.PaymentTypeSubscription), "dropped")
		s.log.Warn("notification matched no subscription",
			zap.String("order_id", event.OrderID),
			zap.Bool("recurring", n.Recurring()),
		)
	default:
		s.record(string(notificationdomain.PaymentTypeSubscription), "error")
		s.log.Error("subscription transition failed",
			zap.String("order_id", event.OrderID),
			zap.Error(err),
		)
	}
}

func (s *Service) record(paymentType, outcome string) {
	if s.obsMetrics != nil {
		s.obsMetrics.RecordNotification(paymentType, outcome)
	}
}

// planIDHint extracts a plan id riding in the custom fields next to the
// payment-type marker, if the checkout put one there.
func planIDHint(n notificationdomain.Notification) string {
	for _, field := range []string{n.Custom2, n.Custom1} {
		field = strings.TrimSpace(field)
		switch strings.ToLower(field) {
		case "", notificationdomain.MarkerCartOrder, notificationdomain.MarkerSubscription:
			continue
		}
		return field
	}
	return ""
}

func parseOccurrence(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range occurrenceLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
