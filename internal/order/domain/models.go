// Package domain contains persistence models and contracts for one-time
// cart orders.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// PaymentStatus tracks the gateway outcome for an order.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusCancelled PaymentStatus = "cancelled"
)

// FulfillmentStatus tracks order fulfilment; it transitions together with
// PaymentStatus when a notification is applied.
type FulfillmentStatus string

const (
	FulfillmentStatusPending    FulfillmentStatus = "pending"
	FulfillmentStatusConfirmed  FulfillmentStatus = "confirmed"
	FulfillmentStatusProcessing FulfillmentStatus = "processing"
	FulfillmentStatusShipped    FulfillmentStatus = "shipped"
	FulfillmentStatusDelivered  FulfillmentStatus = "delivered"
	FulfillmentStatusCancelled  FulfillmentStatus = "cancelled"
)

// PaymentType tags the commerce flow an order or notification belongs to.
// It is decided once at creation and persisted; order-id prefix sniffing
// ("CART_", "FOOD_") remains only as a fallback for legacy rows and for
// notifications that omit the marker fields.
type PaymentType string

const (
	PaymentTypeCart         PaymentType = "cart_order"
	PaymentTypeSubscription PaymentType = "subscription"
)

// Order is a one-time cart checkout. OrderID is the gateway-facing id and
// is unique; creation happens exactly once per OrderID.
type Order struct {
	ID           snowflake.ID  `gorm:"primaryKey"`
	OrderID      string        `gorm:"type:text;not null;uniqueIndex"`
	CustomerName string        `gorm:"type:text;not null"`
	Email        string        `gorm:"type:text;not null;index"`
	Phone        string        `gorm:"type:text"`
	Address      string        `gorm:"type:text"`
	Subtotal     int64         `gorm:"not null"`
	Tax          int64         `gorm:"not null;default:0"`
	Shipping     int64         `gorm:"not null;default:0"`
	Total        int64         `gorm:"not null"`
	Currency     string        `gorm:"type:text;not null"`
	PaymentType  PaymentType   `gorm:"type:text;not null;default:'cart_order'"`
	PaymentStatus     PaymentStatus     `gorm:"type:text;not null"`
	FulfillmentStatus FulfillmentStatus `gorm:"type:text;not null"`
	PaymentID    *string       `gorm:"type:text"`
	CreatedAt    time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt    time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Order) TableName() string { return "orders" }

// OrderItem is a line on a cart order. LineTotal is computed at insert and
// never recomputed afterwards.
type OrderItem struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	OrderRef  snowflake.ID `gorm:"not null;index"`
	ProductID string       `gorm:"type:text;not null"`
	Name      string       `gorm:"type:text;not null"`
	Quantity  int          `gorm:"not null"`
	UnitPrice int64        `gorm:"not null"`
	LineTotal int64        `gorm:"not null"`
}

// TableName sets the database table name.
func (OrderItem) TableName() string { return "order_items" }
