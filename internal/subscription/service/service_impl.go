package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/ceylonbites/checkout/internal/clock"
	"github.com/ceylonbites/checkout/internal/config"
	obsmetrics "github.com/ceylonbites/checkout/internal/observability/metrics"
	subscriptiondomain "github.com/ceylonbites/checkout/internal/subscription/domain"
	"github.com/ceylonbites/checkout/pkg/db"
	"github.com/google/uuid"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Cfg        config.Config
	Plans      *config.PlanCatalogHolder
	Repo       subscriptiondomain.Repository
	Canceller  subscriptiondomain.RecurringCanceller `optional:"true"`
	ObsMetrics *obsmetrics.Metrics                   `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	plans      *config.PlanCatalogHolder
	repo       subscriptiondomain.Repository
	canceller  subscriptiondomain.RecurringCanceller
	obsMetrics *obsmetrics.Metrics

	maxRenewalAttempts int
}

func NewService(p Params) subscriptiondomain.Service {
	maxAttempts := p.Cfg.PayHere.MaxRenewalAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Service{
		db:                 p.DB,
		log:                p.Log.Named("subscription.service"),
		genID:              p.GenID,
		clock:              p.Clock,
		plans:              p.Plans,
		repo:               p.Repo,
		canceller:          p.Canceller,
		obsMetrics:         p.ObsMetrics,
		maxRenewalAttempts: maxAttempts,
	}
}

// Record creates a pending subscription ahead of the first notification.
// Amount and currency come from the plan catalog, never from the caller.
func (s *Service) Record(ctx context.Context, req subscriptiondomain.RecordRequest) (subscriptiondomain.Subscription, error) {
	orderID := strings.TrimSpace(req.OrderID)
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if orderID == "" || email == "" {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidSubscription
	}

	plan, ok := s.plans.Lookup(req.PlanID)
	if !ok {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrUnknownPlan
	}

	now := s.clock.Now()
	subscription := subscriptiondomain.Subscription{
		ID:                 s.genID.Generate(),
		OrderID:            orderID,
		Email:              email,
		PlanID:             plan.ID,
		PlanName:           plan.Name,
		Amount:             plan.Amount,
		Currency:           plan.Currency,
		BillingCycle:       plan.BillingCycle,
		Status:             subscriptiondomain.SubscriptionStatusInactive,
		StartDate:          now,
		EndDate:            clock.AddMonths(now, 1),
		MaxRenewalAttempts: s.maxRenewalAttempts,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if err := s.repo.Insert(ctx, s.db, &subscription); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return subscriptiondomain.Subscription{}, subscriptiondomain.ErrDuplicateOrderID
		}
		return subscriptiondomain.Subscription{}, err
	}

	s.appendLog(ctx, s.db, subscription.ID, subscriptiondomain.LogActionCreated, map[string]any{
		"source":  "checkout",
		"orderId": orderID,
		"planId":  plan.ID,
	})

	s.log.Info("subscription recorded",
		zap.String("order_id", orderID),
		zap.String("plan_id", plan.ID),
	)
	return subscription, nil
}

func (s *Service) GetByOrderID(ctx context.Context, orderID string) (subscriptiondomain.Subscription, []subscriptiondomain.RenewalHistory, error) {
	subscription, err := s.repo.FindByOrderID(ctx, s.db, strings.TrimSpace(orderID))
	if err != nil {
		return subscriptiondomain.Subscription{}, nil, err
	}
	if subscription == nil {
		return subscriptiondomain.Subscription{}, nil, subscriptiondomain.ErrSubscriptionNotFound
	}
	history, err := s.repo.FindHistory(ctx, s.db, int64(subscription.ID))
	if err != nil {
		return subscriptiondomain.Subscription{}, nil, err
	}
	return *subscription, history, nil
}

// ApplyInitialPayment handles the first successful notification for a
// subscription order id. An existing record (from the checkout endpoint) is
// activated in place; otherwise the subscription is created lazily.
func (s *Service) ApplyInitialPayment(ctx context.Context, event subscriptiondomain.PaymentEvent) error {
	now := s.clock.Now()
	token := strings.TrimSpace(event.RecurringToken)

	existing, err := s.repo.FindByOrderID(ctx, s.db, strings.TrimSpace(event.OrderID))
	if err != nil {
		return err
	}

	if existing != nil {
		existing.Status = subscriptiondomain.SubscriptionStatusActive
		if token != "" {
			existing.RecurringToken = &token
			existing.AutoRenew = true
		}
		next := defaultedOccurrence(event.NextOccurrence, now.AddDate(0, 0, 30))
		existing.NextBillingDate = &next
		existing.UpdatedAt = now
		if err := s.repo.Update(ctx, s.db, existing); err != nil {
			return err
		}
		s.recordRenewal("activated")
		s.log.Info("subscription activated",
			zap.String("order_id", existing.OrderID),
			zap.Bool("auto_renew", existing.AutoRenew),
		)
		return nil
	}

	plan, _ := s.plans.Lookup(event.PlanID)
	planID := plan.ID
	planName := plan.Name
	if planID == "" {
		planID = strings.TrimSpace(event.PlanID)
		planName = planID
	}

	subscription := subscriptiondomain.Subscription{
		ID:                 s.genID.Generate(),
		OrderID:            strings.TrimSpace(event.OrderID),
		Email:              strings.ToLower(strings.TrimSpace(event.Email)),
		PlanID:             planID,
		PlanName:           planName,
		Amount:             event.Amount,
		Currency:           event.Currency,
		BillingCycle:       "monthly",
		Status:             subscriptiondomain.SubscriptionStatusActive,
		StartDate:          now,
		EndDate:            clock.AddMonths(now, 1),
		MaxRenewalAttempts: s.maxRenewalAttempts,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if token != "" {
		subscription.RecurringToken = &token
		subscription.AutoRenew = true
		next := defaultedOccurrence(event.NextOccurrence, subscription.EndDate)
		subscription.NextBillingDate = &next
	}

	if err := s.repo.Insert(ctx, s.db, &subscription); err != nil {
		if db.IsDuplicateKeyErr(err) {
			// Duplicate delivery raced us past the lookup; the first writer
			// owns creation and this delivery carries nothing new.
			s.log.Warn("duplicate initial payment ignored", zap.String("order_id", subscription.OrderID))
			return nil
		}
		return err
	}

	s.appendHistory(ctx, s.db, &subscriptiondomain.RenewalHistory{
		ID:              s.genID.Generate(),
		SubscriptionRef: subscription.ID,
		OccurredAt:      now,
		Amount:          event.Amount,
		Outcome:         subscriptiondomain.RenewalOutcomeSuccess,
		PaymentID:       event.PaymentID,
		Attempt:         1,
		RecurringToken:  subscription.RecurringToken,
	})
	s.appendLog(ctx, s.db, subscription.ID, subscriptiondomain.LogActionCreated, map[string]any{
		"source":    "notification",
		"orderId":   subscription.OrderID,
		"paymentId": event.PaymentID,
		"autoRenew": subscription.AutoRenew,
	})

	s.recordRenewal("created")
	s.log.Info("subscription created from notification",
		zap.String("order_id", subscription.OrderID),
		zap.Bool("auto_renew", subscription.AutoRenew),
	)
	return nil
}

// ApplyRecurringPayment advances the billing window after a successful
// recurring charge. The end date moves exactly one month from the stored
// end date, not from now: late delivery must not shorten or stretch the
// paid-for period.
func (s *Service) ApplyRecurringPayment(ctx context.Context, event subscriptiondomain.PaymentEvent) error {
	subscription, err := s.repo.FindForRecurring(ctx, s.db, event.RecurringToken, event.Email)
	if err != nil {
		return err
	}
	if subscription == nil {
		return subscriptiondomain.ErrSubscriptionNotFound
	}

	now := s.clock.Now()
	attempt := subscription.RenewalAttempts + 1

	subscription.EndDate = clock.AddMonths(subscription.EndDate, 1)
	next := defaultedOccurrence(event.NextOccurrence, subscription.EndDate)
	subscription.NextBillingDate = &next
	subscription.RenewalAttempts = 0
	subscription.PaymentFailed = false
	subscription.FailureReason = nil
	subscription.Status = subscriptiondomain.SubscriptionStatusActive
	if token := strings.TrimSpace(event.RecurringToken); token != "" {
		subscription.RecurringToken = &token
	}
	subscription.UpdatedAt = now

	if err := s.repo.Update(ctx, s.db, subscription); err != nil {
		return err
	}

	s.appendHistory(ctx, s.db, &subscriptiondomain.RenewalHistory{
		ID:              s.genID.Generate(),
		SubscriptionRef: subscription.ID,
		OccurredAt:      now,
		Amount:          event.Amount,
		Outcome:         subscriptiondomain.RenewalOutcomeSuccess,
		PaymentID:       event.PaymentID,
		Attempt:         attempt,
		RecurringToken:  subscription.RecurringToken,
	})
	s.appendLog(ctx, s.db, subscription.ID, subscriptiondomain.LogActionRenewed, map[string]any{
		"paymentId": event.PaymentID,
		"endDate":   subscription.EndDate.Format(time.RFC3339),
	})

	s.recordRenewal("renewed")
	s.log.Info("subscription renewed",
		zap.String("order_id", subscription.OrderID),
		zap.Time("end_date", subscription.EndDate),
	)
	return nil
}

// ApplyRecurringFailure counts a failed recurring charge. Hitting the
// attempt threshold cancels the subscription and clears auto-renew;
// otherwise it parks in pending_renewal awaiting the gateway's retry.
func (s *Service) ApplyRecurringFailure(ctx context.Context, event subscriptiondomain.PaymentEvent) error {
	subscription, err := s.repo.FindForRecurring(ctx, s.db, event.RecurringToken, event.Email)
	if err != nil {
		return err
	}
	if subscription == nil {
		return subscriptiondomain.ErrSubscriptionNotFound
	}

	now := s.clock.Now()
	reason := failureReason(event.StatusMessage)

	subscription.RenewalAttempts++
	subscription.PaymentFailed = true
	subscription.FailureReason = &reason
	subscription.LastFailureAt = &now

	exhausted := subscription.RenewalAttempts >= subscription.MaxRenewalAttempts
	if exhausted {
		subscription.Status = subscriptiondomain.SubscriptionStatusCancelled
		subscription.AutoRenew = false
		subscription.CancelledAt = &now
		subscription.CancellationReason = &reason
	} else {
		subscription.Status = subscriptiondomain.SubscriptionStatusPendingRenewal
	}
	subscription.UpdatedAt = now

	if err := s.repo.Update(ctx, s.db, subscription); err != nil {
		return err
	}

	s.appendHistory(ctx, s.db, &subscriptiondomain.RenewalHistory{
		ID:              s.genID.Generate(),
		SubscriptionRef: subscription.ID,
		OccurredAt:      now,
		Amount:          event.Amount,
		Outcome:         subscriptiondomain.RenewalOutcomeFailed,
		PaymentID:       event.PaymentID,
		Attempt:         subscription.RenewalAttempts,
		RecurringToken:  subscription.RecurringToken,
		FailureReason:   &reason,
	})
	s.appendLog(ctx, s.db, subscription.ID, subscriptiondomain.LogActionFailed, map[string]any{
		"attempt": subscription.RenewalAttempts,
		"reason":  reason,
	})
	if exhausted {
		s.appendLog(ctx, s.db, subscription.ID, subscriptiondomain.LogActionCancelled, map[string]any{
			"reason":   "renewal attempts exhausted",
			"attempts": subscription.RenewalAttempts,
		})
	}

	s.recordRenewal("failed")
	s.log.Warn("recurring payment failed",
		zap.String("order_id", subscription.OrderID),
		zap.Int("attempt", subscription.RenewalAttempts),
		zap.Bool("cancelled", exhausted),
	)
	return nil
}

// ApplyFailedPayment handles a failure notification matched only by the
// gateway order id (initial or standalone charge, no token lookup).
func (s *Service) ApplyFailedPayment(ctx context.Context, event subscriptiondomain.PaymentEvent) error {
	subscription, err := s.repo.FindByOrderID(ctx, s.db, strings.TrimSpace(event.OrderID))
	if err != nil {
		return err
	}
	if subscription == nil {
		return subscriptiondomain.ErrSubscriptionNotFound
	}

	now := s.clock.Now()
	reason := failureReason(event.StatusMessage)

	subscription.RenewalAttempts++
	subscription.Status = subscriptiondomain.SubscriptionStatusPaymentFailed
	subscription.PaymentFailed = true
	subscription.FailureReason = &reason
	subscription.LastFailureAt = &now
	if subscription.RenewalAttempts >= subscription.MaxRenewalAttempts {
		subscription.Status = subscriptiondomain.SubscriptionStatusCancelled
		subscription.AutoRenew = false
		subscription.CancelledAt = &now
		subscription.CancellationReason = &reason
	}
	subscription.UpdatedAt = now

	if err := s.repo.Update(ctx, s.db, subscription); err != nil {
		return err
	}

	s.appendHistory(ctx, s.db, &subscriptiondomain.RenewalHistory{
		ID:              s.genID.Generate(),
		SubscriptionRef: subscription.ID,
		OccurredAt:      now,
		Amount:          event.Amount,
		Outcome:         subscriptiondomain.RenewalOutcomeFailed,
		PaymentID:       event.PaymentID,
		Attempt:         subscription.RenewalAttempts,
		RecurringToken:  subscription.RecurringToken,
		FailureReason:   &reason,
	})
	s.appendLog(ctx, s.db, subscription.ID, subscriptiondomain.LogActionFailed, map[string]any{
		"attempt": subscription.RenewalAttempts,
		"reason":  reason,
		"initial": true,
	})

	s.recordRenewal("failed")
	return nil
}

// CancelAutoRenew disables future automatic billing inside a single
// transaction. The guarded update doubles as the concurrency check: zero
// modified rows means a concurrent writer won and the transaction aborts.
func (s *Service) CancelAutoRenew(ctx context.Context, req subscriptiondomain.ToggleRequest) (subscriptiondomain.ToggleResult, error) {
	subscription, err := s.repo.FindBySubscriberKey(ctx, s.db, req.SubscriberKey)
	if err != nil {
		return subscriptiondomain.ToggleResult{}, err
	}
	if subscription == nil || subscription.Status != subscriptiondomain.SubscriptionStatusActive {
		s.recordToggle("cancel", "not_found")
		return subscriptiondomain.ToggleResult{}, subscriptiondomain.ErrSubscriptionNotFound
	}
	if !subscription.AutoRenew {
		s.recordToggle("cancel", "already_disabled")
		return subscriptiondomain.ToggleResult{}, subscriptiondomain.ErrAlreadyDisabled
	}

	// Best-effort gateway-side cancellation. A failure here must not hold
	// the local state hostage; it is flagged for manual follow-up instead.
	requiresManual := false
	if subscription.RecurringToken != nil && *subscription.RecurringToken != "" {
		if s.canceller == nil {
			requiresManual = true
		} else if err := s.canceller.CancelRecurring(ctx, *subscription.RecurringToken); err != nil {
			requiresManual = true
			s.log.Warn("gateway recurring cancellation failed",
				zap.String("order_id", subscription.OrderID),
				zap.Error(err),
			)
		}
	}

	now := s.clock.Now()
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "customer request"
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		affected, err := s.repo.DisableAutoRenew(ctx, tx, int64(subscription.ID), now, reason)
		if err != nil {
			return err
		}
		if affected == 0 {
			return subscriptiondomain.ErrConflict
		}
		return s.repo.InsertLog(ctx, tx, &subscriptiondomain.SubscriptionLog{
			ID:              uuid.NewString(),
			SubscriptionRef: subscription.ID,
			Action:          subscriptiondomain.LogActionAutoRenewalCancelled,
			Details: datatypes.JSONMap{
				"reason":                     reason,
				"requiresManualCancellation": requiresManual,
			},
			CreatedAt: now,
		})
	})
	if err != nil {
		s.recordToggle("cancel", "conflict")
		return subscriptiondomain.ToggleResult{}, err
	}

	s.recordToggle("cancel", "ok")
	s.log.Info("auto-renewal cancelled",
		zap.String("order_id", subscription.OrderID),
		zap.Bool("requires_manual_cancellation", requiresManual),
	)
	return subscriptiondomain.ToggleResult{
		SubscriptionID:             subscription.ID.String(),
		RequiresManualCancellation: requiresManual,
	}, nil
}

// ReactivateAutoRenew re-enables automatic billing for a subscription that
// has not yet lapsed. Past the end date the customer must re-subscribe.
func (s *Service) ReactivateAutoRenew(ctx context.Context, req subscriptiondomain.ToggleRequest) (subscriptiondomain.ToggleResult, error) {
	subscription, err := s.repo.FindBySubscriberKey(ctx, s.db, req.SubscriberKey)
	if err != nil {
		return subscriptiondomain.ToggleResult{}, err
	}
	if subscription == nil {
		s.recordToggle("reactivate", "not_found")
		return subscriptiondomain.ToggleResult{}, subscriptiondomain.ErrSubscriptionNotFound
	}
	if subscription.AutoRenew {
		s.recordToggle("reactivate", "already_enabled")
		return subscriptiondomain.ToggleResult{}, subscriptiondomain.ErrAlreadyEnabled
	}
	switch subscription.Status {
	case subscriptiondomain.SubscriptionStatusActive, subscriptiondomain.SubscriptionStatusPendingRenewal:
	default:
		s.recordToggle("reactivate", "not_found")
		return subscriptiondomain.ToggleResult{}, subscriptiondomain.ErrSubscriptionNotFound
	}

	now := s.clock.Now()
	if subscription.EndDate.Before(now) {
		s.recordToggle("reactivate", "expired")
		return subscriptiondomain.ToggleResult{}, subscriptiondomain.ErrSubscriptionExpired
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		affected, err := s.repo.EnableAutoRenew(ctx, tx, int64(subscription.ID), subscription.EndDate)
		if err != nil {
			return err
		}
		if affected == 0 {
			return subscriptiondomain.ErrConflict
		}
		return s.repo.InsertLog(ctx, tx, &subscriptiondomain.SubscriptionLog{
			ID:              uuid.NewString(),
			SubscriptionRef: subscription.ID,
			Action:          subscriptiondomain.LogActionReactivated,
			Details: datatypes.JSONMap{
				"endDate": subscription.EndDate.Format(time.RFC3339),
			},
			CreatedAt: now,
		})
	})
	if err != nil {
		s.recordToggle("reactivate", "conflict")
		return subscriptiondomain.ToggleResult{}, err
	}

	s.recordToggle("reactivate", "ok")
	s.log.Info("auto-renewal reactivated", zap.String("order_id", subscription.OrderID))
	return subscriptiondomain.ToggleResult{
		SubscriptionID: subscription.ID.String(),
	}, nil
}

func (s *Service) appendHistory(ctx context.Context, conn *gorm.DB, entry *subscriptiondomain.RenewalHistory) {
	if err := s.repo.InsertHistory(ctx, conn, entry); err != nil {
		s.log.Error("renewal history append failed",
			zap.Int64("subscription_ref", int64(entry.SubscriptionRef)),
			zap.Error(err),
		)
	}
}

func (s *Service) appendLog(ctx context.Context, conn *gorm.DB, ref snowflake.ID, action subscriptiondomain.LogAction, details map[string]any) {
	entry := &subscriptiondomain.SubscriptionLog{
		ID:              uuid.NewString(),
		SubscriptionRef: ref,
		Action:          action,
		Details:         datatypes.JSONMap(details),
		CreatedAt:       s.clock.Now(),
	}
	if err := s.repo.InsertLog(ctx, conn, entry); err != nil {
		s.log.Error("subscription log append failed",
			zap.Int64("subscription_ref", int64(ref)),
			zap.String("action", string(action)),
			zap.Error(err),
		)
	}
}

func (s *Service) recordRenewal(result string) {
	if s.obsMetrics != nil {
		s.obsMetrics.RecordRenewal(result)
	}
}

func (s *Service) recordToggle(operation, result string) {
	if s.obsMetrics != nil {
		s.obsMetrics.RecordAutoRenewToggle(operation, result)
	}
}

func defaultedOccurrence(occurrence *time.Time, fallback time.Time) time.Time {
	if occurrence != nil && !occurrence.IsZero() {
		return occurrence.UTC()
	}
	return fallback
}

func failureReason(statusMessage string) string {
	statusMessage = strings.TrimSpace(statusMessage)
	if statusMessage == "" {
		return "payment declined by gateway"
	}
	return statusMessage
}
