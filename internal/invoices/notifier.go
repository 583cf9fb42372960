package invoices

import (
	"context"
	"fmt"

	"github.com/ariefcatur/go-shop-engine.git/internal/orders"
)

// Notifier mails checkout-related messages to the customer. It satisfies the
// payment service's notifier port; the recipient address travels with the
// request because identity lives with the external auth collaborator.
type Notifier struct {
	Mailer Mailer
	IBAN   string
}

func (n *Notifier) SendOrderConfirmation(ctx context.Context, o *orders.Order, to, locale string) error {
	subject := fmt.Sprintf("Encomenda %d recebida", o.Number)
	body := fmt.Sprintf("A sua encomenda %d foi registada. Total: %s %s.",
		o.Number, cents(o.TotalCents()), o.Currency)
	if locale != "pt" {
		subject = fmt.Sprintf("Order %d received", o.Number)
		body = fmt.Sprintf("Your order %d has been placed. Total: %s %s.",
			o.Number, cents(o.TotalCents()), o.Currency)
	}
	return n.Mailer.Send(ctx, to, subject, body)
}

func (n *Notifier) SendBankTransferInstructions(ctx context.Context, o *orders.Order, to, locale string) error {
	subject := "Detalhes Transferência Bancária"
	body := fmt.Sprintf("IBAN: %s\nMontante: %s %s\nEncomenda: %d",
		n.IBAN, cents(o.TotalCents()), o.Currency, o.Number)
	if locale != "pt" {
		subject = "Bank Transfer Details"
		body = fmt.Sprintf("IBAN: %s\nAmount: %s %s\nOrder: %d",
			n.IBAN, cents(o.TotalCents()), o.Currency, o.Number)
	}
	return n.Mailer.Send(ctx, to, subject, body)
}
