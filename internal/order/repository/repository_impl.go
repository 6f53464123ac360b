package repository

import (
	"context"

	orderdomain "github.com/ceylonbites/checkout/internal/order/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() orderdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, order *orderdomain.Order, items []orderdomain.OrderItem) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(
			`INSERT INTO orders (
				id, order_id, customer_name, email, phone, address,
				subtotal, tax, shipping, total, currency,
				payment_type, payment_status, fulfillment_status, payment_id,
				created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			order.ID,
			order.OrderID,
			order.CustomerName,
			order.Email,
			order.Phone,
			order.Address,
			order.Subtotal,
			order.Tax,
			order.Shipping,
			order.Total,
			order.Currency,
			order.PaymentType,
			order.PaymentStatus,
			order.FulfillmentStatus,
			order.PaymentID,
			order.CreatedAt,
			order.UpdatedAt,
		).Error; err != nil {
			return err
		}

		for _, item := range items {
			if err := tx.Exec(
				`INSERT INTO order_items (
					id, order_ref, product_id, name, quantity, unit_price, line_total
				) VALUES (?, ?, ?, ?, ?, ?, ?)`,
				item.ID,
				item.OrderRef,
				item.ProductID,
				item.Name,
				item.Quantity,
				item.UnitPrice,
				item.LineTotal,
			).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *repo) FindByOrderID(ctx context.Context, db *gorm.DB, orderID string) (*orderdomain.Order, error) {
	var order orderdomain.Order
	err := db.WithContext(ctx).Raw(
		`SELECT id, order_id, customer_name, email, phone, address,
		 subtotal, tax, shipping, total, currency,
		 payment_type, payment_status, fulfillment_status, payment_id,
		 created_at, updated_at
		 FROM orders WHERE order_id = ?`,
		orderID,
	).Scan(&order).Error
	if err != nil {
		return nil, err
	}
	if order.ID == 0 {
		return nil, nil
	}
	return &order, nil
}

func (r *repo) FindItems(ctx context.Context, db *gorm.DB, orderRef int64) ([]orderdomain.OrderItem, error) {
	var items []orderdomain.OrderItem
	err := db.WithContext(ctx).Raw(
		`SELECT id, order_ref, product_id, name, quantity, unit_price, line_total
		 FROM order_items WHERE order_ref = ? ORDER BY id ASC`,
		orderRef,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) UpdatePaymentOutcome(ctx context.Context, db *gorm.DB, orderID string, paymentStatus orderdomain.PaymentStatus, fulfillmentStatus orderdomain.FulfillmentStatus, paymentID *string) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE orders
		 SET payment_status = ?, fulfillment_status = ?, payment_id = COALESCE(?, payment_id), updated_at = CURRENT_TIMESTAMP
		 WHERE order_id = ?`,
		paymentStatus,
		fulfillmentStatus,
		paymentID,
		orderID,
	)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
