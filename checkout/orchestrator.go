// Package checkout turns a cart into a paid order and keeps the order in step
// with the payment processor afterwards.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"merch-svc/middleware"
	"merch-svc/models"
	"merch-svc/orderstate"
	"merch-svc/payment"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("merch-svc/checkout")

type Store interface {
	GetProduct(ctx context.Context, id int64) (*models.Product, error)
	CreateOrder(ctx context.Context, order *models.Order, items []models.OrderItem) (*models.Order, error)
	GetOrder(ctx context.Context, id int64) (*models.Order, error)
	ListOrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error)
	UpdateOrder(ctx context.Context, id int64, patch models.OrderPatch) error
	DeleteOrder(ctx context.Context, id int64) error
}

type Carriers interface {
	Quote(ctx context.Context, method models.DeliveryMethod, dest models.Destination, weightGrams int) (*models.ShippingQuote, error)
}

type PaymentGateway interface {
	CreatePaymentIntent(ctx context.Context, in payment.IntentRequest) (*payment.Intent, error)
	GetPaymentStatus(ctx context.Context, paymentID string) (*payment.StatusResult, error)
}

type Notifier interface {
	OrderConfirmed(ctx context.Context, order *models.Order, items []models.OrderItem) error
	OrderShipped(ctx context.Context, order *models.Order) error
}

type EventPublisher interface {
	Publish(ctx context.Context, topic, key string, event any) error
}

// Basket is the cart being checked out.
type Basket interface {
	Snapshot(ctx context.Context) (map[int64]int, error)
	Clear(ctx context.Context) error
}

// StockCache is told which products changed stock.
type StockCache interface {
	Invalidate(ctx context.Context, ids ...int64)
}

type Deps struct {
	Store      Store
	Carriers   Carriers
	Payments   PaymentGateway
	Notifier   Notifier
	Events     EventPublisher
	EventTopic string
	Cache      StockCache
	Currency   string
	Logger     *zap.Logger
}

type Orchestrator struct {
	store      Store
	carriers   Carriers
	payments   PaymentGateway
	notifier   Notifier
	events     EventPublisher
	eventTopic string
	cache      StockCache
	currency   string
	logger     *zap.Logger
	now        func() time.Time
}

func NewOrchestrator(d Deps) *Orchestrator {
	currency := d.Currency
	if currency == "" {
		currency = "RUB"
	}
	return &Orchestrator{
		store:      d.Store,
		carriers:   d.Carriers,
		payments:   d.Payments,
		notifier:   d.Notifier,
		events:     d.Events,
		eventTopic: d.EventTopic,
		cache:      d.Cache,
		currency:   currency,
		logger:     d.Logger,
		now:        time.Now,
	}
}

// PlaceOrder checks the basket against live stock, prices shipping, reserves
// stock and persists the order in one transaction, then opens a payment.
// If the payment cannot be opened the order is deleted and its stock restored.
func (o *Orchestrator) PlaceOrder(ctx context.Context, basket Basket, req models.PlaceOrderRequest) (*models.PlaceOrderResult, error) {
	ctx, span := tracer.Start(ctx, "PlaceOrder")
	defer span.End()

	res, err := o.placeOrder(ctx, basket, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		middleware.RecordCheckout(checkoutResult(err))
		return nil, err
	}
	span.SetAttributes(attribute.Int64("order.id", res.OrderID))
	middleware.RecordCheckout("success")
	return res, nil
}

func (o *Orchestrator) placeOrder(ctx context.Context, basket Basket, req models.PlaceOrderRequest) (*models.PlaceOrderResult, error) {
	if err := validateCustomer(req.Customer); err != nil {
		return nil, err
	}
	if err := req.DeliverySelection.Validate(); err != nil {
		return nil, err
	}

	entries, err := basket.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read cart: %w", err)
	}
	if len(entries) == 0 {
		return nil, models.ErrEmptyCart
	}

	items, weightGrams, err := o.priceItems(ctx, entries)
	if err != nil {
		return nil, err
	}

	shipping, err := o.shippingCost(ctx, req.DeliverySelection, weightGrams)
	if err != nil {
		return nil, err
	}
	total := models.ItemsTotal(items).Add(shipping)

	order, err := o.store.CreateOrder(ctx, newOrder(req, shipping, total), items)
	if err != nil {
		return nil, err
	}
	o.invalidateStock(ctx, items)
	o.logger.Info("Order created",
		zap.Int64("order_id", order.ID),
		zap.String("total", total.String()),
		zap.String("shipping", shipping.String()),
		zap.String("trace_id", middleware.GetTraceID(ctx)),
	)

	intent, err := o.payments.CreatePaymentIntent(ctx, payment.IntentRequest{
		OrderID:       order.ID,
		Amount:        order.TotalPrice,
		Currency:      o.currency,
		CustomerEmail: order.CustomerEmail,
		CustomerPhone: order.CustomerPhone,
		Items:         order.Items,
		ShippingCost:  order.ShippingCost,
	})
	if err != nil {
		o.compensate(ctx, order, err)
		if errors.Is(err, models.ErrPaymentCreationFailed) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", models.ErrPaymentCreationFailed, err)
	}

	paymentStatus := intent.Status
	if paymentStatus == "" {
		paymentStatus = models.PaymentStatusPending
	}
	patch := orderstate.Reconcile(order, paymentStatus)
	patch.PaymentID = &intent.PaymentID
	if err := o.store.UpdateOrder(ctx, order.ID, patch); err != nil {
		// The payment metadata still carries the order id, so the webhook can
		// reconcile this order later.
		o.logger.Error("Failed to attach payment to order",
			zap.Int64("order_id", order.ID),
			zap.String("payment_id", intent.PaymentID),
			zap.Error(err),
		)
	} else {
		patch.Apply(order)
	}

	if err := basket.Clear(ctx); err != nil {
		o.logger.Warn("Failed to clear cart after checkout", zap.Int64("order_id", order.ID), zap.Error(err))
	}
	o.publish(ctx, "order_created", order)

	return &models.PlaceOrderResult{
		OrderID:         order.ID,
		PaymentID:       intent.PaymentID,
		ConfirmationURL: intent.ConfirmationURL,
		PaymentStatus:   paymentStatus,
		TotalPrice:      order.TotalPrice,
		ShippingCost:    order.ShippingCost,
	}, nil
}

func validateCustomer(c models.Customer) error {
	if strings.TrimSpace(c.Name) == "" {
		return &models.ValidationError{Field: "customer_name", Reason: "required"}
	}
	if !strings.Contains(c.Email, "@") {
		return &models.ValidationError{Field: "customer_email", Reason: "must be an email address"}
	}
	return nil
}

// priceItems looks up every entry and captures its current price. All
// shortfalls are reported together.
func (o *Orchestrator) priceItems(ctx context.Context, entries map[int64]int) ([]models.OrderItem, int, error) {
	ids := make([]int64, 0, len(entries))
	for id := range entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var (
		items       []models.OrderItem
		shortfalls  []models.StockShortfall
		weightGrams int
	)
	for _, id := range ids {
		qty := entries[id]
		if qty <= 0 {
			continue
		}
		p, err := o.store.GetProduct(ctx, id)
		if errors.Is(err, models.ErrNotFound) {
			shortfalls = append(shortfalls, models.StockShortfall{ProductID: id, Available: 0, Requested: qty})
			continue
		}
		if err != nil {
			return nil, 0, err
		}
		if qty > p.Stock {
			shortfalls = append(shortfalls, models.StockShortfall{ProductID: id, Name: p.Name, Available: p.Stock, Requested: qty})
			continue
		}
		items = append(items, models.OrderItem{ProductID: id, ProductName: p.Name, Quantity: qty, Price: p.Price})
		weightGrams += p.WeightGrams(qty)
	}

	if len(shortfalls) > 0 {
		return nil, 0, &models.InsufficientStockError{Items: shortfalls}
	}
	if len(items) == 0 {
		return nil, 0, models.ErrEmptyCart
	}
	return items, weightGrams, nil
}

func (o *Orchestrator) shippingCost(ctx context.Context, sel models.DeliverySelection, weightGrams int) (decimal.Decimal, error) {
	if sel.ShippingCost != nil {
		return *sel.ShippingCost, nil
	}

	quote, err := o.carriers.Quote(ctx, sel.Method, destination(sel), weightGrams)
	if err != nil {
		if errors.Is(err, models.ErrValidation) {
			return decimal.Zero, err
		}
		o.logger.Warn("Shipping quote failed",
			zap.String("method", string(sel.Method)),
			zap.Int("weight_grams", weightGrams),
			zap.Error(err),
		)
		if errors.Is(err, models.ErrShippingUnavailable) {
			return decimal.Zero, err
		}
		return decimal.Zero, fmt.Errorf("%w: %w", models.ErrShippingUnavailable, err)
	}
	return quote.Cost, nil
}

func destination(sel models.DeliverySelection) models.Destination {
	return models.Destination{
		City:       sel.City,
		CityCode:   sel.CityCode,
		PostalCode: sel.PostalCode,
		Address:    sel.Address,
	}
}

func newOrder(req models.PlaceOrderRequest, shipping, total decimal.Decimal) *models.Order {
	return &models.Order{
		CustomerName:    strings.TrimSpace(req.Name),
		CustomerEmail:   strings.TrimSpace(req.Email),
		CustomerPhone:   strings.TrimSpace(req.Phone),
		DeliveryMethod:  req.Method,
		DeliveryAddress: optional(req.Address),
		PostalCode:      optional(req.PostalCode),
		DeliveryCity:    optional(req.City),
		CityCode:        optional(req.CityCode),
		PickupPointCode: optional(req.PickupPointCode),
		DeliveryComment: optional(req.Comment),
		ShippingCost:    shipping,
		TotalPrice:      total,
		Status:          models.OrderStatusPending,
	}
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// compensate deletes an order whose payment could not be opened, returning
// its stock. It runs even if the request context was cancelled.
func (o *Orchestrator) compensate(ctx context.Context, order *models.Order, cause error) {
	ctx = context.WithoutCancel(ctx)
	o.logger.Error("Payment creation failed, rolling back order",
		zap.Int64("order_id", order.ID),
		zap.Error(cause),
	)
	if err := o.store.DeleteOrder(ctx, order.ID); err != nil {
		o.logger.Error("Failed to roll back order after payment failure",
			zap.Int64("order_id", order.ID),
			zap.Error(err),
		)
		return
	}
	o.invalidateStock(ctx, order.Items)
}

func (o *Orchestrator) invalidateStock(ctx context.Context, items []models.OrderItem) {
	if o.cache == nil {
		return
	}
	ids := make([]int64, len(items))
	for i, it := range items {
		ids[i] = it.ProductID
	}
	o.cache.Invalidate(ctx, ids...)
}

func (o *Orchestrator) publish(ctx context.Context, eventType string, order *models.Order) {
	if o.events == nil {
		return
	}
	event := models.OrderEvent{
		EventType:     eventType,
		OrderID:       order.ID,
		Status:        order.Status,
		PaymentStatus: order.PaymentStatus,
		TotalPrice:    order.TotalPrice,
		OccurredAt:    o.now().UTC(),
	}
	if err := o.events.Publish(ctx, o.eventTopic, strconv.FormatInt(order.ID, 10), event); err != nil {
		o.logger.Error("Failed to publish order event",
			zap.String("event_type", eventType),
			zap.Int64("order_id", order.ID),
			zap.Error(err),
		)
	}
}

func checkoutResult(err error) string {
	switch {
	case errors.Is(err, models.ErrEmptyCart):
		return "empty_cart"
	case errors.Is(err, models.ErrValidation):
		return "invalid"
	case errors.Is(err, models.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, models.ErrShippingUnavailable):
		return "shipping_unavailable"
	case errors.Is(err, models.ErrPaymentCreationFailed):
		return "payment_failed"
	default:
		return "error"
	}
}
