package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"merch-svc/middleware"
	"merch-svc/models"

	"go.uber.org/zap"
)

const (
	TypeOrderConfirmed = "order_confirmed"
	TypeOrderShipped   = "order_shipped"
)

var ErrDisabled = errors.New("notifications are disabled")

// Message is what the mail sender consumes from the notification topic.
type Message struct {
	Type           string `json:"type"`
	OrderID        int64  `json:"order_id"`
	Email          string `json:"email"`
	Name           string `json:"name"`
	Subject        string `json:"subject"`
	Body           string `json:"body"`
	TrackingNumber string `json:"tracking_number,omitempty"`
}

type Publisher interface {
	Enabled() bool
	Publish(ctx context.Context, topic, key string, event any) error
}

// KafkaNotifier hands customer notifications to the mail pipeline through Kafka.
type KafkaNotifier struct {
	publisher Publisher
	topic     string
	logger    *zap.Logger
}

func NewKafkaNotifier(publisher Publisher, topic string, logger *zap.Logger) *KafkaNotifier {
	return &KafkaNotifier{publisher: publisher, topic: topic, logger: logger}
}

func (n *KafkaNotifier) OrderConfirmed(ctx context.Context, order *models.Order, items []models.OrderItem) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Здравствуйте, %s!\n\nВаш заказ №%d оплачен и передан в обработку.\n\n", order.CustomerName, order.ID)
	for _, it := range items {
		fmt.Fprintf(&b, "%s × %d — %s ₽\n", it.ProductName, it.Quantity, it.LineTotal().StringFixed(2))
	}
	if order.ShippingCost.IsPositive() {
		fmt.Fprintf(&b, "Доставка — %s ₽\n", order.ShippingCost.StringFixed(2))
	}
	fmt.Fprintf(&b, "\nИтого: %s ₽\n", order.TotalPrice.StringFixed(2))

	return n.send(ctx, Message{
		Type:    TypeOrderConfirmed,
		OrderID: order.ID,
		Email:   order.CustomerEmail,
		Name:    order.CustomerName,
		Subject: fmt.Sprintf("Заказ №%d подтверждён", order.ID),
		Body:    b.String(),
	})
}

func (n *KafkaNotifier) OrderShipped(ctx context.Context, order *models.Order) error {
	var tracking string
	if order.TrackingNumber != nil {
		tracking = *order.TrackingNumber
	}

	body := fmt.Sprintf("Здравствуйте, %s!\n\nВаш заказ №%d отправлен.\n", order.CustomerName, order.ID)
	if tracking != "" {
		body += fmt.Sprintf("Трек-номер для отслеживания: %s\n", tracking)
	}

	return n.send(ctx, Message{
		Type:           TypeOrderShipped,
		OrderID:        order.ID,
		Email:          order.CustomerEmail,
		Name:           order.CustomerName,
		Subject:        fmt.Sprintf("Заказ №%d отправлен", order.ID),
		Body:           body,
		TrackingNumber: tracking,
	})
}

func (n *KafkaNotifier) send(ctx context.Context, msg Message) error {
	if msg.Email == "" {
		middleware.RecordNotification(msg.Type, false)
		return &models.ValidationError{Field: "customer_email", Reason: "missing"}
	}
	if !n.publisher.Enabled() {
		middleware.RecordNotification(msg.Type, false)
		n.logger.Warn("Notification not sent", zap.String("type", msg.Type), zap.Int64("order_id", msg.OrderID), zap.Error(ErrDisabled))
		return ErrDisabled
	}

	if err := n.publisher.Publish(ctx, n.topic, fmt.Sprintf("%d", msg.OrderID), msg); err != nil {
		middleware.RecordNotification(msg.Type, false)
		n.logger.Error("Failed to publish notification",
			zap.String("type", msg.Type),
			zap.Int64("order_id", msg.OrderID),
			zap.Error(err),
		)
		return fmt.Errorf("failed to publish %s notification: %w", msg.Type, err)
	}

	middleware.RecordNotification(msg.Type, true)
	n.logger.Info("Notification queued", zap.String("type", msg.Type), zap.Int64("order_id", msg.OrderID))
	return nil
}
