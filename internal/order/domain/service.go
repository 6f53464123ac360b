package domain

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

var (
	ErrOrderNotFound  = errors.New("order_not_found")
	ErrDuplicateOrder = errors.New("duplicate_order")
	ErrInvalidOrder   = errors.New("invalid_order")
)

type CreateOrderItem struct {
	ProductID string
	Name      string
	Quantity  int
	UnitPrice int64
}

type CreateOrderRequest struct {
	OrderID      string
	CustomerName string
	Email        string
	Phone        string
	Address      string
	Currency     string
	Tax          int64
	Shipping     int64
	Items        []CreateOrderItem
}

// PaymentOutcome is the distilled result of an authenticated notification
// for the cart path.
type PaymentOutcome struct {
	OrderID   string
	PaymentID string
	Success   bool
}

type Service interface {
	Create(ctx context.Context, req CreateOrderRequest) (Order, error)
	GetByOrderID(ctx context.Context, orderID string) (Order, []OrderItem, error)
	// ApplyPaymentOutcome finalizes the order named by the gateway order id.
	// A missing order is a no-op signalled with ErrOrderNotFound; the caller
	// decides whether that is fatal.
	ApplyPaymentOutcome(ctx context.Context, outcome PaymentOutcome) error
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, order *Order, items []OrderItem) error
	FindByOrderID(ctx context.Context, db *gorm.DB, orderID string) (*Order, error)
	FindItems(ctx context.Context, db *gorm.DB, orderRef int64) ([]OrderItem, error)
	UpdatePaymentOutcome(ctx context.Context, db *gorm.DB, orderID string, paymentStatus PaymentStatus, fulfillmentStatus FulfillmentStatus, paymentID *string) (int64, error)
}
