// Package orderstate holds the order lifecycle rules: how a payment status
// update moves an order, and which manual moves an operator may make.
package orderstate

import (
	"fmt"

	"merch-svc/models"
)

// settled orders never move back because of a payment update.
var settled = map[models.OrderStatus]bool{
	models.OrderStatusShipped:   true,
	models.OrderStatusDelivered: true,
	models.OrderStatusCancelled: true,
}

// operatorMoves lists, per current status, where an operator may move an order.
var operatorMoves = map[models.OrderStatus][]models.OrderStatus{
	models.OrderStatusPending:    {models.OrderStatusProcessing, models.OrderStatusCancelled},
	models.OrderStatusProcessing: {models.OrderStatusShipped, models.OrderStatusCancelled},
	models.OrderStatusShipped:    {models.OrderStatusDelivered},
}

func IsTerminal(s models.OrderStatus) bool {
	return s == models.OrderStatusDelivered || s == models.OrderStatusCancelled
}

// ApplyPaymentStatus returns the order status implied by a payment status.
// A succeeded payment moves the order to processing; anything else keeps it
// pending. Orders that are already further along are left as they are.
func ApplyPaymentStatus(current models.OrderStatus, payment models.PaymentStatus) models.OrderStatus {
	if payment == models.PaymentStatusSucceeded {
		if settled[current] {
			return current
		}
		return models.OrderStatusProcessing
	}
	if current == models.OrderStatusPending || current == "" {
		return models.OrderStatusPending
	}
	return current
}

// Reconcile builds the patch that records payment on order. The patch is
// empty when neither the payment status nor the order status changes.
func Reconcile(order *models.Order, payment models.PaymentStatus) models.OrderPatch {
	var patch models.OrderPatch
	if order.PaymentStatus == nil || *order.PaymentStatus != payment {
		p := payment
		patch.PaymentStatus = &p
	}
	if next := ApplyPaymentStatus(order.Status, payment); next != order.Status {
		patch.Status = &next
	}
	return patch
}

// Transition validates an operator move from current to target.
func Transition(current, target models.OrderStatus) error {
	if !target.Valid() {
		return &models.ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", target)}
	}
	for _, allowed := range operatorMoves[current] {
		if allowed == target {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, current, target)
}

// Next lists the statuses an operator may move an order to from s.
func Next(s models.OrderStatus) []models.OrderStatus {
	return append([]models.OrderStatus(nil), operatorMoves[s]...)
}
