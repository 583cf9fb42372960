package payments

import (
	"context"
	"encoding/json"

	"github.com/ariefcatur/go-shop-engine.git/internal/orders"
)

// Gateway abstracts the third-party payment processor. The engine only
// depends on these four operations plus the webhook event stream below;
// the processor's wire format stays behind the implementation.
type Gateway interface {
	CreateCustomer(ctx context.Context, info BillingInfo) (customerID string, err error)
	CreateCheckoutSession(ctx context.Context, req SessionRequest) (sessionID string, err error)
	CreateSingleUseSource(ctx context.Context, req SourceRequest) (Source, error)
	// CreateCharge explicitly charges a chargeable source (source.chargeable).
	CreateCharge(ctx context.Context, amountCents int64, currency, sourceID string) error
}

type BillingInfo struct {
	Name    string
	Email   string
	Address orders.Address
}

type LineItem struct {
	Name            string
	Description     string
	Image           string
	Currency        string
	UnitAmountCents int64
	Quantity        int
}

type SessionRequest struct {
	CustomerID        string
	LineItems         []LineItem
	Metadata          map[string]string
	ClientReferenceID string
	Locale            string
	SuccessURL        string
	CancelURL         string
}

type SourceRequest struct {
	AmountCents int64
	Currency    string
	OwnerName   string
	OwnerEmail  string
	Metadata    map[string]string
}

// Source is a single-use automated-reference charge source. Reference holds
// the processor's reference payload (entity, reference, amount) verbatim;
// the engine stores it on the order for display and offline settlement.
type Source struct {
	ID        string
	Reference json.RawMessage
}

// Webhook event types delivered by the gateway.
const (
	EventCheckoutSessionCompleted = "checkout.session.completed"
	EventChargeSucceeded          = "charge.succeeded"
	EventPaymentIntentSucceeded   = "payment_intent.succeeded"
	EventSourceChargeable         = "source.chargeable"
	EventPaymentMethodAttached    = "payment_method.attached"
)

// WebhookEvent is the envelope the gateway posts to the webhook endpoint.
type WebhookEvent struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// confirmation is the subset of a gateway object the engine correlates on.
// Card sessions carry metadata at the top level; automated-reference charges
// carry it under source.metadata.
type confirmation struct {
	ID                string            `json:"id"`
	Amount            int64             `json:"amount"`
	Currency          string            `json:"currency"`
	ClientReferenceID string            `json:"client_reference_id"`
	Metadata          map[string]string `json:"metadata"`
	Source            *struct {
		ID       string            `json:"id"`
		Metadata map[string]string `json:"metadata"`
	} `json:"source"`
}

// OrderIDFromEvent extracts the correlated order id from a webhook event so
// the boundary can invalidate caches. Empty when the event carries none.
func OrderIDFromEvent(ev WebhookEvent) string {
	obj, err := decodeConfirmation(ev.Data)
	if err != nil {
		return ""
	}
	if id := obj.Metadata["order_id"]; id != "" {
		return id
	}
	if obj.Source != nil {
		return obj.Source.Metadata["order_id"]
	}
	return ""
}

func (c confirmation) correlate(method orders.PaymentMethod) (orderID, paymentID string, ok bool) {
	meta := c.Metadata
	if method == orders.MethodAutomatedReference {
		if c.Source == nil {
			return "", "", false
		}
		meta = c.Source.Metadata
	}
	orderID, paymentID = meta["order_id"], meta["payment_id"]
	return orderID, paymentID, orderID != "" && paymentID != ""
}
