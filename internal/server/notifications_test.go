package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	notificationdomain "github.com/ceylonbites/checkout/internal/notification/domain"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeNotificationService struct {
	received []notificationdomain.Notification
	err      error
}

func (f *fakeNotificationService) Process(ctx context.Context, n notificationdomain.Notification) error {
	f.received = append(f.received, n)
	return f.err
}

func newNotifyTestServer(t *testing.T, svc notificationdomain.Service) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	engine := gin.New()
	engine.Use(ErrorHandlingMiddleware())

	s := &Server{
		engine:          engine,
		log:             zap.NewNop(),
		notificationSvc: svc,
	}
	s.registerGatewayRoutes()
	return engine
}

func postNotify(engine *gin.Engine, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/payhere/notify", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func TestPayHereNotify_AcknowledgesProcessedCallback(t *testing.T) {
	fake := &fakeNotificationService{}
	engine := newNotifyTestServer(t, fake)

	w := postNotify(engine, url.Values{
		"merchant_id":     {"1213000"},
		"order_id":        {"CART_1"},
		"payment_id":      {"PAY-1"},
		"payhere_amount":  {"2400.00"},
		"payhere_currency": {"LKR"},
		"status_code":     {"2"},
		"md5sig":          {"ABC"},
		"custom_1":        {"cart_order"},
	})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())

	require.Len(t, fake.received, 1)
	got := fake.received[0]
	assert.Equal(t, "CART_1", got.OrderID)
	assert.Equal(t, "2400.00", got.Amount)
	assert.Equal(t, "cart_order", got.Custom1)
}

func TestPayHereNotify_RejectsUnauthenticCallbackWithText(t *testing.T) {
	fake := &fakeNotificationService{err: notificationdomain.ErrBadSignature()}
	engine := newNotifyTestServer(t, fake)

	w := postNotify(engine, url.Values{
		"merchant_id":      {"1213000"},
		"order_id":         {"CART_1"},
		"payment_id":       {"PAY-1"},
		"payhere_amount":   {"2400.00"},
		"payhere_currency": {"LKR"},
		"status_code":      {"2"},
		"md5sig":           {"TAMPERED"},
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "signature verification failed", w.Body.String())
}

func TestPayHereNotify_AcknowledgesDespiteInternalError(t *testing.T) {
	// A non-authenticity failure must still produce a 200 so the gateway
	// does not retry an authenticated delivery.
	fake := &fakeNotificationService{err: assert.AnError}
	engine := newNotifyTestServer(t, fake)

	w := postNotify(engine, url.Values{
		"merchant_id":      {"1213000"},
		"order_id":         {"CART_1"},
		"payment_id":       {"PAY-1"},
		"payhere_amount":   {"2400.00"},
		"payhere_currency": {"LKR"},
		"status_code":      {"2"},
		"md5sig":           {"ABC"},
	})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())
}
