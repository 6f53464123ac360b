package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	notificationdomain "github.com/ceylonbites/checkout/internal/notification/domain"
	orderdomain "github.com/ceylonbites/checkout/internal/order/domain"
	"github.com/ceylonbites/checkout/internal/payhere"
	"github.com/gin-gonic/gin"
)

// Status lookup outcomes for the polling endpoints.
const (
	lookupCompleted = "completed"
	lookupPending   = "pending"
)

type checkoutItemRequest struct {
	ProductID string `json:"productId" binding:"required"`
	Name      string `json:"name" binding:"required"`
	Quantity  int    `json:"quantity" binding:"required,gt=0"`
	UnitPrice int64  `json:"unitPrice" binding:"required,gt=0"`
}

type checkoutRequest struct {
	CustomerName string                `json:"customerName" binding:"required"`
	Email        string                `json:"email" binding:"required,email"`
	Phone        string                `json:"phone"`
	Address      string                `json:"address"`
	Currency     string                `json:"currency" binding:"required"`
	Tax          int64                 `json:"tax" binding:"gte=0"`
	Shipping     int64                 `json:"shipping" binding:"gte=0"`
	Items        []checkoutItemRequest `json:"items" binding:"required,min=1,dive"`
}

type checkoutResponse struct {
	Success    bool   `json:"success"`
	OrderID    string `json:"orderId"`
	MerchantID string `json:"merchantId"`
	Amount     string `json:"amount"`
	Currency   string `json:"currency"`
	Hash       string `json:"hash"`
	Custom1    string `json:"custom1"`
}

// CreateCheckout persists a pending cart order and returns the parameters
// the storefront needs to open the gateway checkout, including the
// order-creation hash.
func (s *Server) CreateCheckout(c *gin.Context) {
	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	orderID := fmt.Sprintf("CART_%s", s.genID.Generate())

	createReq := orderdomain.CreateOrderRequest{
		OrderID:      orderID,
		CustomerName: strings.TrimSpace(req.CustomerName),
		Email:        strings.TrimSpace(req.Email),
		Phone:        strings.TrimSpace(req.Phone),
		Address:      strings.TrimSpace(req.Address),
		Currency:     strings.ToUpper(strings.TrimSpace(req.Currency)),
		Tax:          req.Tax,
		Shipping:     req.Shipping,
	}
	for _, item := range req.Items {
		createReq.Items = append(createReq.Items, orderdomain.CreateOrderItem{
			ProductID: strings.TrimSpace(item.ProductID),
			Name:      strings.TrimSpace(item.Name),
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}

	created, err := s.orderSvc.Create(c.Request.Context(), createReq)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	hash := payhere.Sign(
		s.cfg.PayHere.MerchantID,
		created.OrderID,
		created.Total,
		created.Currency,
		s.cfg.PayHere.MerchantSecret,
	)

	c.JSON(http.StatusCreated, checkoutResponse{
		Success:    true,
		OrderID:    created.OrderID,
		MerchantID: s.cfg.PayHere.MerchantID,
		Amount:     payhere.FormatAmount(created.Total),
		Currency:   created.Currency,
		Hash:       hash,
		Custom1:    notificationdomain.MarkerCartOrder,
	})
}

type orderItemResponse struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unitPrice"`
	LineTotal int64  `json:"lineTotal"`
}

type orderProjection struct {
	PaymentStatus     string              `json:"paymentStatus"`
	FulfillmentStatus string              `json:"fulfillmentStatus"`
	PaymentID         *string             `json:"paymentId,omitempty"`
	Subtotal          int64               `json:"subtotal"`
	Tax               int64               `json:"tax"`
	Shipping          int64               `json:"shipping"`
	Total             int64               `json:"total"`
	Currency          string              `json:"currency"`
	Items             []orderItemResponse `json:"items"`
}

type orderStatusResponse struct {
	OrderID string           `json:"orderId"`
	Status  string           `json:"status"`
	Order   *orderProjection `json:"order,omitempty"`
}

// OrderStatus reports the lookup as completed with a projection, or pending
// when the gateway has not materialized the order outcome yet. Polling UIs
// treat pending as "keep waiting", so an unknown order id is not an error.
func (s *Server) OrderStatus(c *gin.Context) {
	orderID := strings.TrimSpace(c.Param("orderID"))
	if orderID == "" {
		AbortWithError(c, invalidRequestError())
		return
	}

	found, items, err := s.orderSvc.GetByOrderID(c.Request.Context(), orderID)
	if err != nil {
		if errors.Is(err, orderdomain.ErrOrderNotFound) {
			c.JSON(http.StatusOK, orderStatusResponse{OrderID: orderID, Status: lookupPending})
			return
		}
		AbortWithError(c, err)
		return
	}

	projection := &orderProjection{
		PaymentStatus:     string(found.PaymentStatus),
		FulfillmentStatus: string(found.FulfillmentStatus),
		PaymentID:         found.PaymentID,
		Subtotal:          found.Subtotal,
		Tax:               found.Tax,
		Shipping:          found.Shipping,
		Total:             found.Total,
		Currency:          found.Currency,
	}
	for _, item := range items {
		projection.Items = append(projection.Items, orderItemResponse{
			ProductID: item.ProductID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			LineTotal: item.LineTotal,
		})
	}

	c.JSON(http.StatusOK, orderStatusResponse{
		OrderID: found.OrderID,
		Status:  lookupCompleted,
		Order:   projection,
	})
}
