package payments

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/ariefcatur/go-shop-engine.git/internal/orders"
)

var (
	ErrNotFound       = errors.New("payments: not found")
	ErrAlreadyPaid    = errors.New("payments: order already paid")
	ErrMalformedEvent = errors.New("payments: malformed gateway event")
	ErrGateway        = errors.New("payments: gateway failure")
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRejected  Status = "rejected"
	StatusCompleted Status = "completed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRejected, StatusCompleted:
		return true
	}
	return false
}

// Payment is one payment attempt for an order. A retried checkout creates a
// new Payment; existing ones only ever move pending -> completed/rejected.
type Payment struct {
	ID      string
	OrderID string
	Method  orders.PaymentMethod
	Status  Status

	// GatewayInfo stores the raw confirmation payload delivered by the
	// processor. Opaque to the engine, never exposed to clients.
	GatewayInfo json.RawMessage

	CreatedAt time.Time
	UpdatedAt time.Time
}

type Store interface {
	Create(ctx context.Context, p *Payment) error
	Get(ctx context.Context, id string) (*Payment, error)
	// GetByOrder returns the most recent payment attempt for the order.
	GetByOrder(ctx context.Context, orderID string) (*Payment, error)
	Update(ctx context.Context, p *Payment) error
}
