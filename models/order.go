package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}

// PaymentStatus mirrors the payment processor's vocabulary.
type PaymentStatus string

const (
	PaymentStatusPending           PaymentStatus = "pending"
	PaymentStatusWaitingForCapture PaymentStatus = "waiting_for_capture"
	PaymentStatusSucceeded         PaymentStatus = "succeeded"
	PaymentStatusCanceled          PaymentStatus = "canceled"
)

type DeliveryMethod string

const (
	DeliveryPost    DeliveryMethod = "pochta_russia"
	DeliveryCourier DeliveryMethod = "cdek"
)

func (m DeliveryMethod) Valid() bool {
	return m == DeliveryPost || m == DeliveryCourier
}

type Order struct {
	ID                       int64           `json:"id"`
	CustomerName             string          `json:"customer_name"`
	CustomerEmail            string          `json:"customer_email"`
	CustomerPhone            string          `json:"customer_phone"`
	DeliveryMethod           DeliveryMethod  `json:"delivery_method"`
	DeliveryAddress          *string         `json:"delivery_address,omitempty"`
	PostalCode               *string         `json:"postal_code,omitempty"`
	DeliveryCity             *string         `json:"delivery_city,omitempty"`
	CityCode                 *string         `json:"cdek_city_code,omitempty"`
	PickupPointCode          *string         `json:"cdek_pickup_point_code,omitempty"`
	DeliveryComment          *string         `json:"delivery_comment,omitempty"`
	ShippingCost             decimal.Decimal `json:"shipping_cost"`
	TotalPrice               decimal.Decimal `json:"total_price"`
	Status                   OrderStatus     `json:"status"`
	PaymentID                *string         `json:"payment_id,omitempty"`
	PaymentStatus            *PaymentStatus  `json:"payment_status,omitempty"`
	TrackingNumber           *string         `json:"tracking_number,omitempty"`
	EmailSent                bool            `json:"email_sent"`
	ShippingNotificationSent bool            `json:"shipping_notification_sent"`
	CreatedAt                time.Time       `json:"created_at"`
	Items                    []OrderItem     `json:"items,omitempty"`
}

type OrderItem struct {
	ID          int64           `json:"id"`
	OrderID     int64           `json:"order_id"`
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name,omitempty"`
	Quantity    int             `json:"quantity"`
	Price       decimal.Decimal `json:"price"` // unit price captured at order time
}

func (i OrderItem) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// ItemsTotal sums price × quantity over items.
func ItemsTotal(items []OrderItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.LineTotal())
	}
	return total
}

// OrderPatch lists the mutable columns of an order; nil fields are left untouched.
// When ExpectStatus is set the write only happens if the stored status still
// equals it, otherwise the store returns ErrOrderChanged.
type OrderPatch struct {
	ExpectStatus             *OrderStatus
	Status                   *OrderStatus
	PaymentID                *string
	PaymentStatus            *PaymentStatus
	TrackingNumber           *string
	EmailSent                *bool
	ShippingNotificationSent *bool
}

func (p OrderPatch) Empty() bool {
	return p.Status == nil && p.PaymentID == nil && p.PaymentStatus == nil &&
		p.TrackingNumber == nil && p.EmailSent == nil && p.ShippingNotificationSent == nil
}

// Apply copies the set fields of p onto o.
func (p OrderPatch) Apply(o *Order) {
	if p.Status != nil {
		o.Status = *p.Status
	}
	if p.PaymentID != nil {
		o.PaymentID = p.PaymentID
	}
	if p.PaymentStatus != nil {
		o.PaymentStatus = p.PaymentStatus
	}
	if p.TrackingNumber != nil {
		o.TrackingNumber = p.TrackingNumber
	}
	if p.EmailSent != nil {
		o.EmailSent = *p.EmailSent
	}
	if p.ShippingNotificationSent != nil {
		o.ShippingNotificationSent = *p.ShippingNotificationSent
	}
}

type OrderEvent struct {
	EventType     string          `json:"event_type"` // order_created, order_payment_updated, order_shipped, order_delivered, order_cancelled
	OrderID       int64           `json:"order_id"`
	Status        OrderStatus     `json:"status"`
	PaymentStatus *PaymentStatus  `json:"payment_status,omitempty"`
	TotalPrice    decimal.Decimal `json:"total_price"`
	OccurredAt    time.Time       `json:"occurred_at"`
}
