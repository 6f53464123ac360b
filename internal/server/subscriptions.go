package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	notificationdomain "github.com/ceylonbites/checkout/internal/notification/domain"
	"github.com/ceylonbites/checkout/internal/payhere"
	subscriptiondomain "github.com/ceylonbites/checkout/internal/subscription/domain"
	"github.com/gin-gonic/gin"
)

type createSubscriptionRequest struct {
	Email  string `json:"email" binding:"required,email"`
	PlanID string `json:"planId" binding:"required"`
}

type createSubscriptionResponse struct {
	Success        bool   `json:"success"`
	SubscriptionID string `json:"subscriptionId"`
	OrderID        string `json:"orderId"`
	MerchantID     string `json:"merchantId"`
	PlanID         string `json:"planId"`
	PlanName       string `json:"planName"`
	Amount         string `json:"amount"`
	Currency       string `json:"currency"`
	Recurrence     string `json:"recurrence"`
	Hash           string `json:"hash"`
	Custom1        string `json:"custom1"`
	Custom2        string `json:"custom2"`
}

// CreateSubscription records a pending subscription and returns the gateway
// checkout parameters for a monthly recurring charge. The subscription
// stays inactive until the first payment notification arrives.
func (s *Server) CreateSubscription(c *gin.Context) {
	var req createSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	orderID := fmt.Sprintf("FOOD_%s", s.genID.Generate())

	created, err := s.subscriptionSvc.Record(c.Request.Context(), subscriptiondomain.RecordRequest{
		OrderID: orderID,
		Email:   req.Email,
		PlanID:  strings.TrimSpace(req.PlanID),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	hash := payhere.Sign(
		s.cfg.PayHere.MerchantID,
		created.OrderID,
		created.Amount,
		created.Currency,
		s.cfg.PayHere.MerchantSecret,
	)

	c.JSON(http.StatusCreated, createSubscriptionResponse{
		Success:        true,
		SubscriptionID: created.ID.String(),
		OrderID:        created.OrderID,
		MerchantID:     s.cfg.PayHere.MerchantID,
		PlanID:         created.PlanID,
		PlanName:       created.PlanName,
		Amount:         payhere.FormatAmount(created.Amount),
		Currency:       created.Currency,
		Recurrence:     "1 Month",
		Hash:           hash,
		Custom1:        notificationdomain.MarkerSubscription,
		Custom2:        created.PlanID,
	})
}

type renewalHistoryResponse struct {
	Date          string  `json:"date"`
	Amount        int64   `json:"amount"`
	Outcome       string  `json:"outcome"`
	PaymentID     string  `json:"paymentId,omitempty"`
	Attempt       int     `json:"attempt"`
	FailureReason *string `json:"failureReason,omitempty"`
}

type subscriptionProjection struct {
	SubscriptionID  string                   `json:"subscriptionId"`
	PlanID          string                   `json:"planId"`
	PlanName        string                   `json:"planName"`
	Amount          int64                    `json:"amount"`
	Currency        string                   `json:"currency"`
	Status          string                   `json:"status"`
	AutoRenew       bool                     `json:"autoRenew"`
	RenewalAttempts int                      `json:"renewalAttempts"`
	StartDate       string                   `json:"startDate"`
	EndDate         string                   `json:"endDate"`
	NextBillingDate *string                  `json:"nextBillingDate,omitempty"`
	History         []renewalHistoryResponse `json:"history"`
}

type subscriptionStatusResponse struct {
	OrderID      string                  `json:"orderId"`
	Status       string                  `json:"status"`
	Subscription *subscriptionProjection `json:"subscription,omitempty"`
}

// SubscriptionStatus mirrors OrderStatus: pending until the subscription
// exists for the order id, completed with a projection afterwards.
func (s *Server) SubscriptionStatus(c *gin.Context) {
	orderID := strings.TrimSpace(c.Param("orderID"))
	if orderID == "" {
		AbortWithError(c, invalidRequestError())
		return
	}

	found, history, err := s.subscriptionSvc.GetByOrderID(c.Request.Context(), orderID)
	if err != nil {
		if errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound) {
			c.JSON(http.StatusOK, subscriptionStatusResponse{OrderID: orderID, Status: lookupPending})
			return
		}
		AbortWithError(c, err)
		return
	}

	projection := &subscriptionProjection{
		SubscriptionID:  found.ID.String(),
		PlanID:          found.PlanID,
		PlanName:        found.PlanName,
		Amount:          found.Amount,
		Currency:        found.Currency,
		Status:          string(found.Status),
		AutoRenew:       found.AutoRenew,
		RenewalAttempts: found.RenewalAttempts,
		StartDate:       found.StartDate.UTC().Format("2006-01-02"),
		EndDate:         found.EndDate.UTC().Format("2006-01-02"),
	}
	if found.NextBillingDate != nil {
		next := found.NextBillingDate.UTC().Format("2006-01-02")
		projection.NextBillingDate = &next
	}
	for _, entry := range history {
		projection.History = append(projection.History, renewalHistoryResponse{
			Date:          entry.OccurredAt.UTC().Format("2006-01-02"),
			Amount:        entry.Amount,
			Outcome:       string(entry.Outcome),
			PaymentID:     entry.PaymentID,
			Attempt:       entry.Attempt,
			FailureReason: entry.FailureReason,
		})
	}

	c.JSON(http.StatusOK, subscriptionStatusResponse{
		OrderID:      found.OrderID,
		Status:       lookupCompleted,
		Subscription: projection,
	})
}

type toggleAutoRenewalRequest struct {
	SubscriptionID string `json:"subscriptionId"`
	Email          string `json:"email"`
	Reason         string `json:"reason"`
}

func (r toggleAutoRenewalRequest) subscriberKey() string {
	if key := strings.TrimSpace(r.SubscriptionID); key != "" {
		return key
	}
	return strings.TrimSpace(r.Email)
}

type toggleAutoRenewalResponse struct {
	Success                    bool   `json:"success"`
	SubscriptionID             string `json:"subscriptionId"`
	AutoRenew                  bool   `json:"autoRenew"`
	RequiresManualCancellation bool   `json:"requiresManualCancellation,omitempty"`
}

func (s *Server) CancelAutoRenewal(c *gin.Context) {
	var req toggleAutoRenewalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	key := req.subscriberKey()
	if key == "" {
		AbortWithError(c, newValidationError("subscriptionId", "required", "subscriptionId or email is required"))
		return
	}

	result, err := s.subscriptionSvc.CancelAutoRenew(c.Request.Context(), subscriptiondomain.ToggleRequest{
		SubscriberKey: key,
		Reason:        strings.TrimSpace(req.Reason),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, toggleAutoRenewalResponse{
		Success:                    true,
		SubscriptionID:             result.SubscriptionID,
		AutoRenew:                  false,
		RequiresManualCancellation: result.RequiresManualCancellation,
	})
}

func (s *Server) ReactivateAutoRenewal(c *gin.Context) {
	var req toggleAutoRenewalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	key := req.subscriberKey()
	if key == "" {
		AbortWithError(c, newValidationError("subscriptionId", "required", "subscriptionId or email is required"))
		return
	}

	result, err := s.subscriptionSvc.ReactivateAutoRenew(c.Request.Context(), subscriptiondomain.ToggleRequest{
		SubscriberKey: key,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, toggleAutoRenewalResponse{
		Success:        true,
		SubscriptionID: result.SubscriptionID,
		AutoRenew:      true,
	})
}
