package checkout

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"merch-svc/models"
)

func placeTestOrder(t *testing.T, f *checkoutFixture) int64 {
	t.Helper()
	res, err := f.orch.PlaceOrder(context.Background(), &fakeBasket{items: map[int64]int{1: 2}}, postRequest())
	if err != nil {
		t.Fatalf("Failed to place order: %v", err)
	}
	f.events.events = nil
	return res.OrderID
}

func webhookBody(event, paymentID string, orderID any) []byte {
	ref := fmt.Sprintf("%v", orderID)
	if s, ok := orderID.(string); ok {
		ref = fmt.Sprintf("%q", s)
	}
	return []byte(fmt.Sprintf(
		`{"type":"notification","event":%q,"object":{"id":%q,"status":"x","metadata":{"order_id":%s}}}`,
		event, paymentID, ref,
	))
}

func TestHandlePaymentCallback_Succeeded(t *testing.T) {
	f := setupCheckoutTest(t, hoodie(5))
	id := placeTestOrder(t, f)
	f.payments.statuses["pay-1"] = models.PaymentStatusSucceeded

	err := f.orch.HandlePaymentCallback(context.Background(), SourceWebhook, webhookBody("payment.succeeded", "pay-1", fmt.Sprint(id)))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	order := f.store.order(id)
	if order.Status != models.OrderStatusProcessing {
		t.Errorf("Expected status processing, got %s", order.Status)
	}
	if *order.PaymentStatus != models.PaymentStatusSucceeded {
		t.Errorf("Expected payment status succeeded, got %s", *order.PaymentStatus)
	}
	if !order.EmailSent || len(f.notifier.confirmed) != 1 {
		t.Errorf("Expected one confirmation, email_sent=%v sent=%v", order.EmailSent, f.notifier.confirmed)
	}
	if got := f.events.types(); len(got) != 1 || got[0] != "order_payment_updated" {
		t.Errorf("Expected order_payment_updated event, got %v", got)
	}
}

func TestHandlePaymentCallback_NumericOrderReference(t *testing.T) {
	f := setupCheckoutTest(t, hoodie(5))
	id := placeTestOrder(t, f)
	f.payments.statuses["pay-1"] = models.PaymentStatusSucceeded

	if err := f.orch.HandlePaymentCallback(context.Background(), SourceWebhook, webhookBody("payment.succeeded", "pay-1", id)); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if f.store.order(id).Status != models.OrderStatusProcessing {
		t.Error("Expected numeric order reference to be accepted")
	}
}

func TestHandlePaymentCallback_DuplicateSendsOneConfirmation(t *testing.T) {
	f := setupCheckoutTest(t, hoodie(5))
	id := placeTestOrder(t, f)
	f.payments.statuses["pay-1"] = models.PaymentStatusSucceeded
	body := webhookBody("payment.succeeded", "pay-1", fmt.Sprint(id))

	for i := 0; i < 3; i++ {
		if err := f.orch.HandlePaymentCallback(context.Background(), SourceWebhook, body); err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
	}
	if len(f.notifier.confirmed) != 1 {
		t.Errorf("Expected one confirmation, got %d", len(f.notifier.confirmed))
	}
	if len(f.events.events) != 1 {
		t.Errorf("Expected one event, got %v", f.events.types())
	}
}

func TestHandlePaymentCallback_Discarded(t *testing.T) {
	tests := []struct {
		name string
		body func(id int64) []byte
	}{
		{"unknown order", func(id int64) []byte { return webhookBody("payment.succeeded", "pay-1", "999999") }},
		{"missing order reference", func(id int64) []byte {
			return []byte(`{"event":"payment.succeeded","object":{"id":"pay-1","metadata":{}}}`)
		}},
		{"non-numeric order reference", func(id int64) []byte { return webhookBody("payment.succeeded", "pay-1", "abc") }},
		{"unsupported event", func(id int64) []byte { return webhookBody("refund.succeeded", "pay-1", fmt.Sprint(id)) }},
		{"malformed body", func(id int64) []byte { return []byte(`{"event":`) }},
		{"different payment", func(id int64) []byte { return webhookBody("payment.succeeded", "pay-2", fmt.Sprint(id)) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupCheckoutTest(t, hoodie(5))
			id := placeTestOrder(t, f)
			before := f.store.updates

			if err := f.orch.HandlePaymentCallback(context.Background(), SourceWebhook, tt.body(id)); err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}
			if f.store.updates != before {
				t.Errorf("Expected no writes, got %d", f.store.updates-before)
			}
			if f.store.order(id).Status != models.OrderStatusPending {
				t.Error("Expected order to stay pending")
			}
		})
	}
}

func TestHandlePaymentCallback_PersistenceFailure(t *testing.T) {
	f := setupCheckoutTest(t, hoodie(5))
	id := placeTestOrder(t, f)
	f.payments.statuses["pay-1"] = models.PaymentStatusSucceeded
	f.store.updateErr = models.NewExternalServiceError("postgres", "update_order", 0, nil, errors.New("connection reset"))

	err := f.orch.HandlePaymentCallback(context.Background(), SourceWebhook, webhookBody("payment.succeeded", "pay-1", fmt.Sprint(id)))
	if err == nil {
		t.Fatal("Expected persistence error to be returned")
	}
	if len(f.notifier.confirmed) != 0 {
		t.Error("Expected no confirmation")
	}
}

func TestHandlePaymentCallback_LookupFailure(t *testing.T) {
	f := setupCheckoutTest(t, hoodie(5))
	id := placeTestOrder(t, f)
	f.store.getOrderErr = errors.New("db down")

	if err := f.orch.HandlePaymentCallback(context.Background(), SourceKafka, webhookBody("payment.succeeded", "pay-1", fmt.Sprint(id))); err == nil {
		t.Fatal("Expected lookup error to be returned")
	}
}

func TestHandlePaymentCallback_UsesProcessorStatus(t *testing.T) {
	f := setupCheckoutTest(t, hoodie(5))
	id := placeTestOrder(t, f)
	f.payments.statuses["pay-1"] = models.PaymentStatusPending

	if err := f.orch.HandlePaymentCallback(context.Background(), SourceWebhook, webhookBody("payment.succeeded", "pay-1", fmt.Sprint(id))); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if f.payments.lookups != 1 {
		t.Errorf("Expected one processor lookup, got %d", f.payments.lookups)
	}
	order := f.store.order(id)
	if order.Status != models.OrderStatusPending {
		t.Errorf("Expected order to stay pending, got %s", order.Status)
	}
	if order.PaymentStatus != nil && *order.PaymentStatus == models.PaymentStatusSucceeded {
		t.Error("Expected the event's claimed status to be ignored")
	}
	if len(f.notifier.confirmed) != 0 {
		t.Error("Expected no confirmation")
	}
}

func TestHandlePaymentCallback_ProcessorUnavailable(t *testing.T) {
	f := setupCheckoutTest(t, hoodie(5))
	id := placeTestOrder(t, f)
	f.payments.statusErr = models.NewExternalServiceError("yookassa", "get_payment", 502, nil, nil)
	before := f.store.updates

	if err := f.orch.HandlePaymentCallback(context.Background(), SourceWebhook, webhookBody("payment.succeeded", "pay-1", fmt.Sprint(id))); err != nil {
		t.Fatalf("Expected the event to be acknowledged, got %v", err)
	}
	if f.store.updates != before || f.store.order(id).Status != models.OrderStatusPending {
		t.Error("Expected order to be left for the next poll")
	}
}

func TestHandlePaymentCallback_AttachesVerifiedPayment(t *testing.T) {
	tests := []struct {
		name     string
		offset   int64
		attached bool
	}{
		{"payment recorded for this order", 0, true},
		{"payment recorded for another order", 1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupCheckoutTest(t, hoodie(5))
			id := placeTestOrder(t, f)
			f.store.mu.Lock()
			f.store.orders[id].PaymentID = nil
			f.store.mu.Unlock()
			f.payments.statuses["pay-9"] = models.PaymentStatusSucceeded
			f.payments.owners = map[string]int64{"pay-9": id + tt.offset}

			if err := f.orch.HandlePaymentCallback(context.Background(), SourceWebhook, webhookBody("payment.succeeded", "pay-9", fmt.Sprint(id))); err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}
			order := f.store.order(id)
			if tt.attached {
				if order.PaymentID == nil || *order.PaymentID != "pay-9" || order.Status != models.OrderStatusProcessing {
					t.Errorf("Expected pay-9 attached and order processing, got %v/%s", order.PaymentID, order.Status)
				}
				return
			}
			if order.PaymentID != nil || order.Status != models.OrderStatusPending {
				t.Errorf("Expected foreign payment to be refused, got %v/%s", order.PaymentID, order.Status)
			}
		})
	}
}

func TestHandlePaymentCallback_ConcurrentCancelWins(t *testing.T) {
	f := setupCheckoutTest(t, hoodie(5))
	id := placeTestOrder(t, f)
	f.payments.statuses["pay-1"] = models.PaymentStatusSucceeded
	f.store.beforeUpdate = func() {
		if _, err := f.orch.Cancel(context.Background(), id); err != nil {
			t.Errorf("Failed to cancel: %v", err)
		}
	}

	if err := f.orch.HandlePaymentCallback(context.Background(), SourceWebhook, webhookBody("payment.succeeded", "pay-1", fmt.Sprint(id))); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	order := f.store.order(id)
	if order.Status != models.OrderStatusCancelled {
		t.Errorf("Expected cancelled to be kept, got %s", order.Status)
	}
	if order.PaymentStatus == nil || *order.PaymentStatus != models.PaymentStatusSucceeded {
		t.Error("Expected payment status to be recorded")
	}
	if len(f.notifier.confirmed) != 0 {
		t.Error("Expected no confirmation for a cancelled order")
	}
}

func TestHandlePaymentCallback_DoesNotRegress(t *testing.T) {
	f := setupCheckoutTest(t, hoodie(5))
	id := placeTestOrder(t, f)
	shipped := models.OrderStatusShipped
	if err := f.store.UpdateOrder(context.Background(), id, models.OrderPatch{Status: &shipped}); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		event  string
		status models.PaymentStatus
	}{
		{"payment.succeeded", models.PaymentStatusSucceeded},
		{"payment.waiting_for_capture", models.PaymentStatusWaitingForCapture},
		{"payment.canceled", models.PaymentStatusCanceled},
	}
	for _, tt := range tests {
		event := tt.event
		f.payments.statuses["pay-1"] = tt.status
		if err := f.orch.HandlePaymentCallback(context.Background(), SourceWebhook, webhookBody(event, "pay-1", fmt.Sprint(id))); err != nil {
			t.Fatalf("Expected no error for %s, got %v", event, err)
		}
		if got := f.store.order(id).Status; got != models.OrderStatusShipped {
			t.Errorf("Expected shipped to be kept after %s, got %s", event, got)
		}
	}
	if *f.store.order(id).PaymentStatus != models.PaymentStatusCanceled {
		t.Error("Expected payment status to follow the latest event")
	}
}

func TestHandlePaymentCallback_CanceledKeepsPending(t *testing.T) {
	f := setupCheckoutTest(t, hoodie(5))
	id := placeTestOrder(t, f)
	f.payments.statuses["pay-1"] = models.PaymentStatusCanceled

	if err := f.orch.HandlePaymentCallback(context.Background(), SourceWebhook, webhookBody("payment.canceled", "pay-1", fmt.Sprint(id))); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	order := f.store.order(id)
	if order.Status != models.OrderStatusPending || *order.PaymentStatus != models.PaymentStatusCanceled {
		t.Errorf("Unexpected order state %s/%s", order.Status, *order.PaymentStatus)
	}
	if f.store.stock(1) != 3 {
		t.Error("Expected stock to stay reserved")
	}
}

func TestPollPaymentStatus_Idempotent(t *testing.T) {
	f := setupCheckoutTest(t, hoodie(5))
	id := placeTestOrder(t, f)
	f.payments.statuses["pay-1"] = models.PaymentStatusSucceeded

	order, err := f.orch.PollPaymentStatus(context.Background(), id)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if order.Status != models.OrderStatusProcessing {
		t.Errorf("Expected processing, got %s", order.Status)
	}
	writes := f.store.updates

	order, err = f.orch.PollPaymentStatus(context.Background(), id)
	if err != nil {
		t.Fatalf("Expected no error on second poll, got %v", err)
	}
	if f.store.updates != writes {
		t.Errorf("Expected second poll to write nothing, got %d writes", f.store.updates-writes)
	}
	if order.Status != models.OrderStatusProcessing || !order.EmailSent {
		t.Errorf("Unexpected order after second poll: %s email_sent=%v", order.Status, order.EmailSent)
	}
	if len(f.notifier.confirmed) != 1 {
		t.Errorf("Expected one confirmation, got %d", len(f.notifier.confirmed))
	}
}

func TestPollPaymentStatus_StillPending(t *testing.T) {
	f := setupCheckoutTest(t, hoodie(5))
	id := placeTestOrder(t, f)
	f.payments.statuses["pay-1"] = models.PaymentStatusWaitingForCapture

	order, err := f.orch.PollPaymentStatus(context.Background(), id)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if order.Status != models.OrderStatusPending || *order.PaymentStatus != models.PaymentStatusWaitingForCapture {
		t.Errorf("Unexpected order state %s/%s", order.Status, *order.PaymentStatus)
	}
	if len(f.notifier.confirmed) != 0 {
		t.Error("Expected no confirmation")
	}
}

func TestPollPaymentStatus_Errors(t *testing.T) {
	f := setupCheckoutTest(t, hoodie(5))

	if _, err := f.orch.PollPaymentStatus(context.Background(), 12345); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	id := placeTestOrder(t, f)
	f.store.mu.Lock()
	f.store.orders[id].PaymentID = nil
	f.store.mu.Unlock()
	if _, err := f.orch.PollPaymentStatus(context.Background(), id); !errors.Is(err, models.ErrNoPaymentAttached) {
		t.Errorf("Expected ErrNoPaymentAttached, got %v", err)
	}
	if f.payments.lookups != 0 {
		t.Error("Expected no processor lookup without a payment")
	}
}

func TestPollPaymentStatus_ProcessorFailure(t *testing.T) {
	f := setupCheckoutTest(t, hoodie(5))
	id := placeTestOrder(t, f)
	f.payments.statusErr = models.NewExternalServiceError("yookassa", "get_payment", 502, nil, nil)

	if _, err := f.orch.PollPaymentStatus(context.Background(), id); !errors.Is(err, models.ErrExternalService) {
		t.Fatalf("Expected ErrExternalService, got %v", err)
	}
	if f.store.order(id).Status != models.OrderStatusPending {
		t.Error("Expected order to be unchanged")
	}
}

func TestConfirmationRetriedAfterNotifierFailure(t *testing.T) {
	f := setupCheckoutTest(t, hoodie(5))
	id := placeTestOrder(t, f)
	f.payments.statuses["pay-1"] = models.PaymentStatusSucceeded
	f.notifier.err = errors.New("broker unavailable")

	if _, err := f.orch.PollPaymentStatus(context.Background(), id); err != nil {
		t.Fatalf("Expected notifier failure to be swallowed, got %v", err)
	}
	if f.store.order(id).EmailSent {
		t.Fatal("Expected email_sent to stay false")
	}

	f.notifier.err = nil
	if _, err := f.orch.PollPaymentStatus(context.Background(), id); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !f.store.order(id).EmailSent || len(f.notifier.confirmed) != 1 {
		t.Error("Expected confirmation on retry")
	}
}
