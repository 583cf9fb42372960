package orders

import (
	"encoding/json"
	"time"
)

const (
	EventOrderCreated     = "OrderCreated"
	EventOrderCancelled   = "OrderCancelled"
	EventOrderCompleted   = "OrderCompleted"
	EventPaymentCompleted = "PaymentCompleted"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order_id
	Payload       json.RawMessage `json:"payload"`
}

type ItemRef struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

type OrderCreatedPayload struct {
	OrderID       string    `json:"order_id"`
	UserID        string    `json:"user_id"`
	Number        int64     `json:"number"`
	Items         []ItemRef `json:"items"`
	AmountCents   int64     `json:"amount_cents"`
	ShippingCents int64     `json:"shipping_cents"`
	Currency      string    `json:"currency"`
	PaymentMethod string    `json:"payment_method"`
}

type OrderCancelledPayload struct {
	OrderID string `json:"order_id"`
	UserID  string `json:"user_id"`
}

type OrderCompletedPayload struct {
	OrderID string `json:"order_id"`
	UserID  string `json:"user_id"`
	Locale  string `json:"locale,omitempty"`
}

type PaymentCompletedPayload struct {
	OrderID   string `json:"order_id"`
	PaymentID string `json:"payment_id"`
	Method    string `json:"method"`
}

func ItemRefs(items []Item) []ItemRef {
	out := make([]ItemRef, 0, len(items))
	for _, it := range items {
		out = append(out, ItemRef{ProductID: it.ProductID, Qty: it.Quantity})
	}
	return out
}
