package invoices

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/template"

	"github.com/ariefcatur/go-shop-engine.git/internal/orders"
	"github.com/ariefcatur/go-shop-engine.git/internal/payments"
	"go.uber.org/zap"
)

// OrderMarker flags an order as invoiced. Satisfied by *orders.Service.
type OrderMarker interface {
	MarkInvoiced(ctx context.Context, orderID string) error
}

// Trigger renders billing artifacts keyed by order id. Rendering overwrites
// any prior artifact for the order, so repeated generation is harmless.
type Trigger struct {
	Dir    string
	Orders OrderMarker
	Mailer Mailer
	Log    *zap.Logger
}

// Generate renders the artifact for an order and marks the order invoiced.
func (t *Trigger) Generate(ctx context.Context, o *orders.Order, p *payments.Payment, locale string) error {
	if err := t.render(o, p, locale); err != nil {
		return err
	}
	if err := t.Orders.MarkInvoiced(ctx, o.ID); err != nil {
		return err
	}
	t.Log.Info("invoice_generated",
		zap.String("order_id", o.ID),
		zap.Int64("number", o.Number),
	)
	return nil
}

// Send renders the artifact and emails it, without requiring a prior
// Generate call.
func (t *Trigger) Send(ctx context.Context, o *orders.Order, p *payments.Payment, to, locale string) error {
	if err := t.render(o, p, locale); err != nil {
		return err
	}
	body, err := os.ReadFile(t.ArtifactPath(o.ID))
	if err != nil {
		return err
	}
	subject := fmt.Sprintf("Fatura %d", o.Number)
	if locale != "pt" {
		subject = fmt.Sprintf("Invoice %d", o.Number)
	}
	if err := t.Mailer.Send(ctx, to, subject, string(body)); err != nil {
		return err
	}
	t.Log.Info("invoice_sent", zap.String("order_id", o.ID), zap.String("to", to))
	return nil
}

// ArtifactPath is where the artifact for an order lives, generated or not.
func (t *Trigger) ArtifactPath(orderID string) string {
	return filepath.Join(t.Dir, orderID+".html")
}

func (t *Trigger) render(o *orders.Order, p *payments.Payment, locale string) error {
	if err := os.MkdirAll(t.Dir, 0o755); err != nil {
		return err
	}
	var buf bytes.Buffer
	data := artifactData{
		Order:   o,
		Payment: p,
		Labels:  labels(locale),
	}
	if err := artifactTemplate.Execute(&buf, data); err != nil {
		return err
	}
	return os.WriteFile(t.ArtifactPath(o.ID), buf.Bytes(), 0o644)
}

type artifactData struct {
	Order   *orders.Order
	Payment *payments.Payment
	Labels  map[string]string
}

func labels(locale string) map[string]string {
	if locale == "pt" {
		return map[string]string{
			"title":    "Fatura",
			"order":    "Encomenda",
			"item":     "Artigo",
			"qty":      "Qtd.",
			"price":    "Preço",
			"shipping": "Envio",
			"total":    "Total",
			"method":   "Método de pagamento",
		}
	}
	return map[string]string{
		"title":    "Invoice",
		"order":    "Order",
		"item":     "Item",
		"qty":      "Qty",
		"price":    "Price",
		"shipping": "Shipping",
		"total":    "Total",
		"method":   "Payment method",
	}
}

func cents(v int64) string {
	return fmt.Sprintf("%d.%02d", v/100, v%100)
}

var artifactTemplate = template.Must(template.New("invoice").Funcs(template.FuncMap{
	"cents": cents,
}).Parse(`<html>
<body>
<h1>{{.Labels.title}} #{{.Order.Number}}</h1>
<p>{{.Labels.order}}: {{.Order.ID}} ({{.Order.CreatedAt.Format "2006-01-02"}})</p>
{{if .Order.NIF}}<p>NIF: {{.Order.NIF}}</p>{{end}}
<table>
<tr><th>{{.Labels.item}}</th><th>{{.Labels.qty}}</th><th>{{.Labels.price}}</th></tr>
{{range .Order.Items}}<tr><td>{{.ProductName}}{{range .Options}} {{.Attribute}}:{{.Option}}{{end}}</td><td>{{.Quantity}}</td><td>{{cents .LineTotalCents}} {{.Currency}}</td></tr>
{{end}}</table>
<p>{{.Labels.shipping}}: {{cents .Order.ShippingCents}} {{.Order.Currency}}</p>
<p>{{.Labels.total}}: {{cents .Order.TotalCents}} {{.Order.Currency}}</p>
{{if .Payment}}<p>{{.Labels.method}}: {{.Payment.Method}}</p>{{end}}
</body>
</html>
`))
