package orders

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/ariefcatur/go-shop-engine.git/internal/cart"
	"github.com/ariefcatur/go-shop-engine.git/internal/catalog"
)

var (
	ErrNotFound         = errors.New("orders: not found")
	ErrEmptyCart        = errors.New("orders: cart is empty")
	ErrAlreadyCancelled = errors.New("orders: already cancelled")
	ErrTerminal         = errors.New("orders: order is in a terminal state")
	ErrNotOwner         = errors.New("orders: order belongs to another user")
	ErrInvalidMethod    = errors.New("orders: unknown payment method")
	ErrInvalidStatus    = errors.New("orders: unknown status")
)

type Status string

const (
	StatusAwaitingPayment Status = "awaiting_payment"
	StatusDone            Status = "done"
	StatusCancelled       Status = "cancelled"
)

type ShippedStatus string

const (
	ShippedAwaiting ShippedStatus = "awaiting_shipment"
	ShippedSent     ShippedStatus = "shipped"
)

type PaymentMethod string

const (
	MethodCard               PaymentMethod = "card"
	MethodBankTransfer       PaymentMethod = "bank_transfer"
	MethodWalletRedirect     PaymentMethod = "wallet_redirect"
	MethodAutomatedReference PaymentMethod = "automated_reference"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodCard, MethodBankTransfer, MethodWalletRedirect, MethodAutomatedReference:
		return true
	}
	return false
}

type Address struct {
	Name       string `json:"name,omitempty"`
	Street     string `json:"street"`
	City       string `json:"city,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country,omitempty"`
}

// Item is one line of the order snapshot. Product fields are copied at
// checkout so later catalog edits never change what was sold.
type Item struct {
	ProductID      string              `json:"product_id"`
	ProductName    string              `json:"product_name"`
	ProductImage   string              `json:"product_image,omitempty"`
	UnitPriceCents int64               `json:"unit_price_cents"`
	Currency       string              `json:"currency"`
	Options        []catalog.Selection `json:"options,omitempty"`
	Quantity       int                 `json:"quantity"`
}

func (it Item) LineTotalCents() int64 {
	return it.UnitPriceCents * int64(it.Quantity)
}

type Order struct {
	ID      string
	UserID  string
	Number  int64
	Status  Status
	Shipped ShippedStatus

	Items         []Item
	AmountCents   int64
	ShippingCents int64
	Currency      string

	NIF           string
	PaymentMethod PaymentMethod

	ShippingAddress Address
	BillingAddress  Address

	// PaymentReference holds the automated-reference payload returned by the
	// gateway (entity, reference, amount). Opaque to the engine.
	PaymentReference json.RawMessage

	InvoiceGenerated bool
	LastInvoicedAt   *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TotalCents is what the customer actually pays: items plus shipping.
func (o *Order) TotalCents() int64 { return o.AmountCents + o.ShippingCents }

// Pricing carries the store-wide shipping and currency policy.
type Pricing struct {
	FreeShippingCents int64
	ShippingRateCents int64
	DefaultCurrency   string
}

// Currency picks the order currency from the snapshot items, falling back to
// the store default when no item carries one.
func (pr Pricing) Currency(items []Item) string {
	for _, it := range items {
		if it.Currency != "" {
			return it.Currency
		}
	}
	return pr.DefaultCurrency
}

// Price computes the order amount from snapshot items and the shipping cost:
// flat rate, waived when the amount exceeds the free-shipping threshold.
func Price(items []Item, pricing Pricing) (amount, shipping int64) {
	for _, it := range items {
		amount += it.LineTotalCents()
	}
	shipping = pricing.ShippingRateCents
	if amount > pricing.FreeShippingCents {
		shipping = 0
	}
	return amount, shipping
}

// Snapshot copies the sellable product fields into an order line.
func Snapshot(p *catalog.Product, line cart.Item) Item {
	return Item{
		ProductID:      p.ID,
		ProductName:    p.Name,
		ProductImage:   p.Image,
		UnitPriceCents: p.PriceCents,
		Currency:       p.Currency,
		Options:        append([]catalog.Selection(nil), line.Options...),
		Quantity:       line.Quantity,
	}
}
