package server

import (
	"errors"
	"net/http"

	notificationdomain "github.com/ceylonbites/checkout/internal/notification/domain"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// PayHereNotify receives the gateway's server-to-server callback. The
// response contract is the gateway's, not ours: 400 with a short text body
// only for authenticity and shape failures, plain 200 for everything else.
// Any non-2xx triggers a gateway retry, so an authenticated message is
// always acknowledged even when applying it failed internally.
func (s *Server) PayHereNotify(c *gin.Context) {
	n := notificationdomain.Notification{
		MerchantID:         c.PostForm("merchant_id"),
		OrderID:            c.PostForm("order_id"),
		PaymentID:          c.PostForm("payment_id"),
		Amount:             c.PostForm("payhere_amount"),
		Currency:           c.PostForm("payhere_currency"),
		StatusCode:         c.PostForm("status_code"),
		Signature:          c.PostForm("md5sig"),
		StatusMessage:      c.PostForm("status_message"),
		Custom1:            c.PostForm("custom_1"),
		Custom2:            c.PostForm("custom_2"),
		Email:              c.PostForm("email"),
		RecurringToken:     c.PostForm("recurring_token"),
		SubscriptionID:     c.PostForm("subscription_id"),
		EventType:          c.PostForm("event_type"),
		NextOccurrenceDate: c.PostForm("next_occurrence_date"),
	}

	if err := s.notificationSvc.Process(c.Request.Context(), n); err != nil {
		var authErr *notificationdomain.AuthenticityError
		if errors.As(err, &authErr) {
			c.String(http.StatusBadRequest, authErr.Reason)
			return
		}
		// Process handles everything else internally; an unexpected error
		// here still gets acknowledged to stop the retry loop.
		s.log.Error("notification processing returned unexpected error",
			zap.String("order_id", n.OrderID),
			zap.Error(err),
		)
	}

	c.String(http.StatusOK, "OK")
}
