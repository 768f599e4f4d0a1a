package payment

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"merch-svc/models"
)

// OrderRef is the order id carried in payment metadata. The processor echoes
// it back as a string, older payments carry a number.
type OrderRef struct {
	ID    int64
	Valid bool
}

func (r *OrderRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*r = OrderRef{}
		return nil
	}
	raw := string(data)
	if data[0] == '"' {
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
	}
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		*r = OrderRef{}
		return nil
	}
	*r = OrderRef{ID: id, Valid: true}
	return nil
}

// Notification is the body of an asynchronous payment event.
type Notification struct {
	Type   string `json:"type"`
	Event  string `json:"event"`
	Object struct {
		ID       string `json:"id"`
		Status   string `json:"status"`
		Metadata struct {
			OrderID OrderRef `json:"order_id"`
		} `json:"metadata"`
	} `json:"object"`
}

func ParseNotification(body []byte) (*Notification, error) {
	var n Notification
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, fmt.Errorf("%w: malformed payment notification: %v", models.ErrValidation, err)
	}
	return &n, nil
}

// Status maps the event kind to a payment status. ok is false for events that
// do not carry a status change the store tracks.
func (n *Notification) Status() (models.PaymentStatus, bool) {
	switch n.Event {
	case "payment.succeeded":
		return models.PaymentStatusSucceeded, true
	case "payment.canceled", "payment.cancelled":
		return models.PaymentStatusCanceled, true
	case "payment.waiting_for_capture":
		return models.PaymentStatusWaitingForCapture, true
	}
	return "", false
}
