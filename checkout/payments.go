package checkout

import (
	"context"
	"errors"

	"merch-svc/middleware"
	"merch-svc/models"
	"merch-svc/orderstate"
	"merch-svc/payment"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const (
	SourcePoll    = "poll"
	SourceWebhook = "webhook"
	SourceKafka   = "kafka"
)

// PollPaymentStatus asks the processor for the current payment status of an
// order and records it. Repeated polls with an unchanged status write nothing.
func (o *Orchestrator) PollPaymentStatus(ctx context.Context, orderID int64) (*models.Order, error) {
	ctx, span := tracer.Start(ctx, "PollPaymentStatus")
	defer span.End()
	span.SetAttributes(attribute.Int64("order.id", orderID))

	order, err := o.store.GetOrder(ctx, orderID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if order.PaymentID == nil || *order.PaymentID == "" {
		return nil, models.ErrNoPaymentAttached
	}

	status, err := o.payments.GetPaymentStatus(ctx, *order.PaymentID)
	if err != nil {
		span.RecordError(err)
		o.logger.Warn("Payment status lookup failed",
			zap.Int64("order_id", orderID),
			zap.String("payment_id", *order.PaymentID),
			zap.Error(err),
		)
		return nil, err
	}

	if err := o.applyPayment(ctx, order, status.Status, SourcePoll); err != nil {
		span.RecordError(err)
		return nil, err
	}
	return order, nil
}

// HandlePaymentCallback treats an asynchronous payment event as a prompt to
// look the payment up: the event itself is unauthenticated, so the status
// that gets recorded is the one the processor reports. Events that cannot be
// matched to an order, or whose payment cannot be looked up, are logged and
// dropped; only a failure to persist a matched event is returned, so the
// sender retries it.
func (o *Orchestrator) HandlePaymentCallback(ctx context.Context, source string, body []byte) error {
	ctx, span := tracer.Start(ctx, "HandlePaymentCallback")
	defer span.End()
	span.SetAttributes(attribute.String("payment.source", source))

	n, err := payment.ParseNotification(body)
	if err != nil {
		o.logger.Warn("Discarding malformed payment notification", zap.String("source", source), zap.Error(err))
		return nil
	}
	if _, ok := n.Status(); !ok {
		o.logger.Info("Ignoring payment event", zap.String("source", source), zap.String("event", n.Event))
		return nil
	}
	if !n.Object.Metadata.OrderID.Valid {
		o.logger.Warn("Payment event without order reference",
			zap.String("source", source),
			zap.String("event", n.Event),
			zap.String("payment_id", n.Object.ID),
		)
		return nil
	}

	orderID := n.Object.Metadata.OrderID.ID
	span.SetAttributes(attribute.Int64("order.id", orderID))
	order, err := o.store.GetOrder(ctx, orderID)
	if errors.Is(err, models.ErrNotFound) {
		o.logger.Warn("Payment event for unknown order",
			zap.String("source", source),
			zap.Int64("order_id", orderID),
			zap.String("payment_id", n.Object.ID),
		)
		return nil
	}
	if err != nil {
		span.RecordError(err)
		return err
	}

	paymentID := n.Object.ID
	if order.PaymentID != nil {
		if paymentID != "" && *order.PaymentID != paymentID {
			o.logger.Warn("Payment event does not match the order's payment",
				zap.Int64("order_id", orderID),
				zap.String("order_payment_id", *order.PaymentID),
				zap.String("event_payment_id", paymentID),
			)
			return nil
		}
		paymentID = *order.PaymentID
	}
	if paymentID == "" {
		o.logger.Warn("Payment event without payment id", zap.String("source", source), zap.Int64("order_id", orderID))
		return nil
	}

	result, err := o.payments.GetPaymentStatus(ctx, paymentID)
	if err != nil {
		span.RecordError(err)
		o.logger.Warn("Payment event not verified, leaving order for the next poll",
			zap.String("source", source),
			zap.Int64("order_id", orderID),
			zap.String("payment_id", paymentID),
			zap.Error(err),
		)
		return nil
	}

	if order.PaymentID == nil {
		if result.OrderID != order.ID {
			o.logger.Warn("Payment belongs to another order",
				zap.Int64("order_id", orderID),
				zap.Int64("payment_order_id", result.OrderID),
				zap.String("payment_id", paymentID),
			)
			return nil
		}
		if err := o.store.UpdateOrder(ctx, order.ID, models.OrderPatch{PaymentID: &paymentID}); err != nil {
			span.RecordError(err)
			return err
		}
		order.PaymentID = &paymentID
	}

	if err := o.applyPayment(ctx, order, result.Status, source); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// maxWriteAttempts bounds how often a status write is retried after another
// writer changed the order in between.
const maxWriteAttempts = 3

// applyPayment records status on order and sends the confirmation the first
// time the order is seen in processing. Status writes are conditional on the
// status the decision was made from; when that no longer holds the order is
// re-read and reconciled again.
func (o *Orchestrator) applyPayment(ctx context.Context, order *models.Order, status models.PaymentStatus, source string) error {
	for attempt := 1; ; attempt++ {
		patch := orderstate.Reconcile(order, status)
		if patch.Empty() {
			break
		}
		from := order.Status
		if patch.Status != nil {
			patch.ExpectStatus = &from
		}
		err := o.store.UpdateOrder(ctx, order.ID, patch)
		if errors.Is(err, models.ErrOrderChanged) && attempt < maxWriteAttempts {
			o.logger.Info("Order changed while recording payment, retrying",
				zap.Int64("order_id", order.ID),
				zap.String("source", source),
			)
			if err := o.reload(ctx, order); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return err
		}

		patch.Apply(order)
		middleware.RecordPaymentEvent(source, string(status))
		o.logger.Info("Payment status recorded",
			zap.Int64("order_id", order.ID),
			zap.String("source", source),
			zap.String("payment_status", string(status)),
			zap.String("from", string(from)),
			zap.String("to", string(order.Status)),
		)
		o.publish(ctx, "order_payment_updated", order)
		break
	}

	if order.Status == models.OrderStatusProcessing && !order.EmailSent {
		o.sendConfirmation(ctx, order)
	}
	return nil
}

// reload replaces order with the stored copy.
func (o *Orchestrator) reload(ctx context.Context, order *models.Order) error {
	fresh, err := o.store.GetOrder(ctx, order.ID)
	if err != nil {
		return err
	}
	*order = *fresh
	return nil
}

// sendConfirmation sets email_sent only after the notifier accepted the
// message, so a failed send is retried on the next update.
func (o *Orchestrator) sendConfirmation(ctx context.Context, order *models.Order) {
	if o.notifier == nil {
		return
	}
	items := order.Items
	if len(items) == 0 {
		var err error
		items, err = o.store.ListOrderItems(ctx, order.ID)
		if err != nil {
			o.logger.Error("Failed to load order items for confirmation", zap.Int64("order_id", order.ID), zap.Error(err))
			return
		}
	}
	if err := o.notifier.OrderConfirmed(ctx, order, items); err != nil {
		o.logger.Warn("Order confirmation not sent", zap.Int64("order_id", order.ID), zap.Error(err))
		return
	}
	sent := true
	if err := o.store.UpdateOrder(ctx, order.ID, models.OrderPatch{EmailSent: &sent}); err != nil {
		o.logger.Error("Failed to record confirmation", zap.Int64("order_id", order.ID), zap.Error(err))
		return
	}
	order.EmailSent = true
}
