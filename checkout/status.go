package checkout

import (
	"context"
	"errors"
	"strings"

	"merch-svc/models"
	"merch-svc/orderstate"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// GetOrder returns an order with its items.
func (o *Orchestrator) GetOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	order, err := o.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	items, err := o.store.ListOrderItems(ctx, orderID)
	if err != nil {
		return nil, err
	}
	order.Items = items
	return order, nil
}

// UpdateStatus applies an operator move. Moving to shipped records the
// tracking number, if any, and notifies the customer; the notification flag
// is set only once the notifier accepts the message.
func (o *Orchestrator) UpdateStatus(ctx context.Context, orderID int64, target models.OrderStatus, trackingNumber string) (*models.Order, error) {
	ctx, span := tracer.Start(ctx, "UpdateStatus")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("order.id", orderID),
		attribute.String("order.target_status", string(target)),
	)

	order, err := o.store.GetOrder(ctx, orderID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	var patch models.OrderPatch
	for attempt := 1; ; attempt++ {
		if err := orderstate.Transition(order.Status, target); err != nil {
			return nil, err
		}
		expected := order.Status
		patch = models.OrderPatch{ExpectStatus: &expected, Status: &target}
		if tracking := strings.TrimSpace(trackingNumber); tracking != "" && target == models.OrderStatusShipped {
			patch.TrackingNumber = &tracking
		}
		err := o.store.UpdateOrder(ctx, orderID, patch)
		if errors.Is(err, models.ErrOrderChanged) && attempt < maxWriteAttempts {
			if err := o.reload(ctx, order); err != nil {
				span.RecordError(err)
				return nil, err
			}
			continue
		}
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		break
	}

	from := patch.ExpectStatus
	patch.Apply(order)
	o.logger.Info("Order status changed",
		zap.Int64("order_id", orderID),
		zap.String("from", string(*from)),
		zap.String("to", string(target)),
	)
	o.publish(ctx, "order_"+string(target), order)

	switch target {
	case models.OrderStatusProcessing:
		if !order.EmailSent {
			o.sendConfirmation(ctx, order)
		}
	case models.OrderStatusShipped:
		o.sendShipped(ctx, order)
	}
	return order, nil
}

func (o *Orchestrator) MarkShipped(ctx context.Context, orderID int64, trackingNumber string) (*models.Order, error) {
	return o.UpdateStatus(ctx, orderID, models.OrderStatusShipped, trackingNumber)
}

func (o *Orchestrator) MarkDelivered(ctx context.Context, orderID int64) (*models.Order, error) {
	return o.UpdateStatus(ctx, orderID, models.OrderStatusDelivered, "")
}

// Cancel cancels a pending or processing order. Stock is not returned.
func (o *Orchestrator) Cancel(ctx context.Context, orderID int64) (*models.Order, error) {
	return o.UpdateStatus(ctx, orderID, models.OrderStatusCancelled, "")
}

func (o *Orchestrator) sendShipped(ctx context.Context, order *models.Order) {
	if o.notifier == nil || order.ShippingNotificationSent {
		return
	}
	if err := o.notifier.OrderShipped(ctx, order); err != nil {
		o.logger.Warn("Shipping notification not sent", zap.Int64("order_id", order.ID), zap.Error(err))
		return
	}
	sent := true
	if err := o.store.UpdateOrder(ctx, order.ID, models.OrderPatch{ShippingNotificationSent: &sent}); err != nil {
		o.logger.Error("Failed to record shipping notification", zap.Int64("order_id", order.ID), zap.Error(err))
		return
	}
	order.ShippingNotificationSent = true
}
