package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/ceylonbites/checkout/internal/clock"
	orderdomain "github.com/ceylonbites/checkout/internal/order/domain"
	"github.com/ceylonbites/checkout/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  orderdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  orderdomain.Repository
}

func NewService(p Params) orderdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("order.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Create(ctx context.Context, req orderdomain.CreateOrderRequest) (orderdomain.Order, error) {
	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" || strings.TrimSpace(req.CustomerName) == "" || strings.TrimSpace(req.Email) == "" {
		return orderdomain.Order{}, orderdomain.ErrInvalidOrder
	}
	if len(req.Items) == 0 {
		return orderdomain.Order{}, orderdomain.ErrInvalidOrder
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = "LKR"
	}

	now := s.clock.Now()
	order := orderdomain.Order{
		ID:                s.genID.Generate(),
		OrderID:           orderID,
		CustomerName:      strings.TrimSpace(req.CustomerName),
		Email:             strings.ToLower(strings.TrimSpace(req.Email)),
		Phone:             strings.TrimSpace(req.Phone),
		Address:           strings.TrimSpace(req.Address),
		Tax:               req.Tax,
		Shipping:          req.Shipping,
		Currency:          currency,
		PaymentType:       orderdomain.PaymentTypeCart,
		PaymentStatus:     orderdomain.PaymentStatusPending,
		FulfillmentStatus: orderdomain.FulfillmentStatusPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	items := make([]orderdomain.OrderItem, 0, len(req.Items))
	for _, item := range req.Items {
		if item.Quantity <= 0 || item.UnitPrice < 0 {
			return orderdomain.Order{}, orderdomain.ErrInvalidOrder
		}
		lineTotal := item.UnitPrice * int64(item.Quantity)
		order.Subtotal += lineTotal
		items = append(items, orderdomain.OrderItem{
			ID:        s.genID.Generate(),
			OrderRef:  order.ID,
			ProductID: strings.TrimSpace(item.ProductID),
			Name:      strings.TrimSpace(item.Name),
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			LineTotal: lineTotal,
		})
	}
	order.Total = order.Subtotal + order.Tax + order.Shipping

	if err := s.repo.Insert(ctx, s.db, &order, items); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return orderdomain.Order{}, orderdomain.ErrDuplicateOrder
		}
		return orderdomain.Order{}, err
	}

	s.log.Info("order created",
		zap.String("order_id", order.OrderID),
		zap.Int64("total", order.Total),
		zap.String("currency", order.Currency),
	)
	return order, nil
}

func (s *Service) GetByOrderID(ctx context.Context, orderID string) (orderdomain.Order, []orderdomain.OrderItem, error) {
	order, err := s.repo.FindByOrderID(ctx, s.db, strings.TrimSpace(orderID))
	if err != nil {
		return orderdomain.Order{}, nil, err
	}
	if order == nil {
		return orderdomain.Order{}, nil, orderdomain.ErrOrderNotFound
	}
	items, err := s.repo.FindItems(ctx, s.db, int64(order.ID))
	if err != nil {
		return orderdomain.Order{}, nil, err
	}
	return *order, items, nil
}

// ApplyPaymentOutcome finalizes payment and fulfillment status together.
// Re-delivery of the same notification re-applies the same terminal values,
// which is safe; there is deliberately no version guard here.
func (s *Service) ApplyPaymentOutcome(ctx context.Context, outcome orderdomain.PaymentOutcome) error {
	paymentStatus := orderdomain.PaymentStatusFailed
	fulfillmentStatus := orderdomain.FulfillmentStatusCancelled
	var paymentID *string
	if outcome.Success {
		paymentStatus = orderdomain.PaymentStatusCompleted
		fulfillmentStatus = orderdomain.FulfillmentStatusConfirmed
		if id := strings.TrimSpace(outcome.PaymentID); id != "" {
			paymentID = &id
		}
	}

	affected, err := s.repo.UpdatePaymentOutcome(ctx, s.db, strings.TrimSpace(outcome.OrderID), paymentStatus, fulfillmentStatus, paymentID)
	if err != nil {
		return err
	}
	if affected == 0 {
		// Orders are never created retroactively from a notification; the
		// checkout must have recorded one first.
		return orderdomain.ErrOrderNotFound
	}

	s.log.Info("order payment outcome applied",
		zap.String("order_id", outcome.OrderID),
		zap.Bool("success", outcome.Success),
	)
	return nil
}
