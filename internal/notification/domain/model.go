package domain

import (
	"context"
	"fmt"
	"strings"
)

// Gateway constants. Status code "2" is the gateway's only success code;
// everything else is treated as a failed payment.
const (
	StatusCodeSuccess = "2"

	EventTypeSubscriptionPayment = "SUBSCRIPTION_PAYMENT"

	MarkerCartOrder    = "cart_order"
	MarkerSubscription = "subscription"

	OrderIDPrefixCart         = "CART_"
	OrderIDPrefixSubscription = "FOOD_"
)

type PaymentType string

const (
	PaymentTypeCartOrder    PaymentType = "cart_order"
	PaymentTypeSubscription PaymentType = "subscription"
)

// Notification is the raw gateway callback after form decoding. Amount and
// dates stay as strings until the router has authenticated the message.
type Notification struct {
	MerchantID         string
	OrderID            string
	PaymentID          string
	Amount             string
	Currency           string
	StatusCode         string
	Signature          string
	StatusMessage      string
	Custom1            string
	Custom2            string
	Email              string
	RecurringToken     string
	SubscriptionID     string
	EventType          string
	NextOccurrenceDate string
}

// MissingRequiredField reports the first absent required field using the
// gateway's wire name, or "" when the shape is complete.
func (n Notification) MissingRequiredField() string {
	required := []struct {
		name  string
		value string
	}{
		{"merchant_id", n.MerchantID},
		{"order_id", n.OrderID},
		{"payment_id", n.PaymentID},
		{"payhere_amount", n.Amount},
		{"payhere_currency", n.Currency},
		{"status_code", n.StatusCode},
		{"md5sig", n.Signature},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			return f.name
		}
	}
	return ""
}

// Success reports whether the gateway marked the payment as captured.
func (n Notification) Success() bool {
	return strings.TrimSpace(n.StatusCode) == StatusCodeSuccess
}

// Recurring reports whether this callback is a subsequent billing cycle
// rather than the initial charge.
func (n Notification) Recurring() bool {
	return strings.TrimSpace(n.EventType) == EventTypeSubscriptionPayment &&
		strings.TrimSpace(n.RecurringToken) != ""
}

// Classify resolves the payment type. The custom fields carry the tag set at
// creation time; the order-id prefix is kept only as a fallback for payments
// initiated before the tag existed. Unrecognized successful payments fall
// through to the cart path.
func (n Notification) Classify() PaymentType {
	for _, marker := range []string{n.Custom1, n.Custom2} {
		switch strings.TrimSpace(strings.ToLower(marker)) {
		case MarkerCartOrder:
			return PaymentTypeCartOrder
		case MarkerSubscription:
			return PaymentTypeSubscription
		}
	}
	orderID := strings.TrimSpace(n.OrderID)
	switch {
	case strings.HasPrefix(orderID, OrderIDPrefixSubscription):
		return PaymentTypeSubscription
	case strings.HasPrefix(orderID, OrderIDPrefixCart):
		return PaymentTypeCartOrder
	}
	return PaymentTypeCartOrder
}

// AuthenticityError rejects a notification before any state is touched.
// It is the only error class the router surfaces to the transport.
type AuthenticityError struct {
	Reason string
}

func (e *AuthenticityError) Error() string { return e.Reason }

func ErrMissingField(name string) *AuthenticityError {
	return &AuthenticityError{Reason: fmt.Sprintf("missing required field %s", name)}
}

func ErrMerchantMismatch() *AuthenticityError {
	return &AuthenticityError{Reason: "unknown merchant"}
}

func ErrMalformedAmount() *AuthenticityError {
	return &AuthenticityError{Reason: "malformed amount"}
}

func ErrBadSignature() *AuthenticityError {
	return &AuthenticityError{Reason: "signature verification failed"}
}

// Service is the notification router. Process returns an AuthenticityError
// for rejected messages; any other failure is handled internally and the
// caller acknowledges the gateway regardless.
type Service interface {
	Process(ctx context.Context, n Notification) error
}
