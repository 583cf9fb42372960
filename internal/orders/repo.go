package orders

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/ariefcatur/go-shop-engine.git/internal/cart"
	"github.com/ariefcatur/go-shop-engine.git/internal/catalog"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pageSize = 20

// Repo persists orders in Postgres. The product row lock taken by
// catalog.GetInTx serializes stock movement per product, so two checkouts
// racing for the last unit cannot both succeed.
type Repo struct {
	DB      *pgxpool.Pool
	Pricing Pricing
}

var _ Store = (*Repo)(nil)

func (r *Repo) Create(ctx context.Context, o *Order, lines []cart.Item) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	o.Items = o.Items[:0]
	for _, line := range lines {
		p, err := catalog.GetInTx(ctx, tx, line.ProductID, true)
		if err != nil {
			return err
		}
		if err := p.Reserve(line.Options, line.Quantity); err != nil {
			return err
		}
		if err := catalog.SaveStockInTx(ctx, tx, p); err != nil {
			return err
		}
		o.Items = append(o.Items, Snapshot(p, line))
	}

	o.AmountCents, o.ShippingCents = Price(o.Items, r.Pricing)
	if o.Currency == "" {
		o.Currency = r.Pricing.Currency(o.Items)
	}
	if err := tx.QueryRow(ctx, `SELECT nextval('order_number_seq')`).Scan(&o.Number); err != nil {
		return err
	}

	itemsJSON, err := json.Marshal(o.Items)
	if err != nil {
		return err
	}
	shipJSON, err := json.Marshal(o.ShippingAddress)
	if err != nil {
		return err
	}
	billJSON, err := json.Marshal(o.BillingAddress)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO orders(id, user_id, number, status, shipped, items, amount_cents,
		                   shipping_cents, currency, nif, payment_method,
		                   shipping_address, billing_address, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$14)`,
		o.ID, o.UserID, o.Number, o.Status, o.Shipped, itemsJSON, o.AmountCents,
		o.ShippingCents, o.Currency, o.NIF, o.PaymentMethod,
		shipJSON, billJSON, o.CreatedAt); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repo) Get(ctx context.Context, id string) (*Order, error) {
	return getOrder(ctx, r.DB, id, false)
}

func (r *Repo) List(ctx context.Context, page int) ([]Order, error) {
	sql := selectOrder + ` ORDER BY number DESC`
	args := []any{}
	if page > 0 {
		sql += ` LIMIT $1 OFFSET $2`
		args = append(args, pageSize, (page-1)*pageSize)
	}
	rows, err := r.DB.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

func (r *Repo) Count(ctx context.Context) (int, error) {
	var n int
	err := r.DB.QueryRow(ctx, `SELECT COUNT(*) FROM orders`).Scan(&n)
	return n, err
}

func (r *Repo) Cancel(ctx context.Context, id string) (*Order, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	o, err := getOrder(ctx, tx, id, true)
	if err != nil {
		return nil, err
	}
	switch o.Status {
	case StatusCancelled:
		return nil, ErrAlreadyCancelled
	case StatusDone:
		return nil, ErrTerminal
	}

	// Same matching code as reservation, opposite sign.
	for _, it := range o.Items {
		p, err := catalog.GetInTx(ctx, tx, it.ProductID, true)
		if err != nil {
			return nil, err
		}
		if err := p.Release(it.Options, it.Quantity); err != nil {
			return nil, err
		}
		if err := catalog.SaveStockInTx(ctx, tx, p); err != nil {
			return nil, err
		}
	}

	o.Status = StatusCancelled
	o.UpdatedAt = time.Now().UTC()
	if _, err := tx.Exec(ctx, `UPDATE orders SET status=$2, updated_at=$3 WHERE id=$1`,
		id, o.Status, o.UpdatedAt); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *Repo) Complete(ctx context.Context, id string) (*Order, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	o, err := getOrder(ctx, tx, id, true)
	if err != nil {
		return nil, err
	}
	switch o.Status {
	case StatusDone:
		return o, tx.Commit(ctx) // replayed confirmation
	case StatusCancelled:
		return nil, ErrTerminal
	}

	o.Status = StatusDone
	o.UpdatedAt = time.Now().UTC()
	if _, err := tx.Exec(ctx, `UPDATE orders SET status=$2, updated_at=$3 WHERE id=$1`,
		id, o.Status, o.UpdatedAt); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *Repo) Reopen(ctx context.Context, id string) (*Order, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	o, err := getOrder(ctx, tx, id, true)
	if err != nil {
		return nil, err
	}
	if o.Status == StatusCancelled {
		return nil, ErrTerminal
	}
	o.Status = StatusAwaitingPayment
	o.UpdatedAt = time.Now().UTC()
	if _, err := tx.Exec(ctx, `UPDATE orders SET status=$2, updated_at=$3 WHERE id=$1`,
		id, o.Status, o.UpdatedAt); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *Repo) UpdateFields(ctx context.Context, id string, patch FieldPatch) (*Order, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	o, err := getOrder(ctx, tx, id, true)
	if err != nil {
		return nil, err
	}
	if patch.Shipped != nil {
		o.Shipped = *patch.Shipped
	}
	if patch.NIF != nil {
		o.NIF = *patch.NIF
	}
	o.UpdatedAt = time.Now().UTC()
	if _, err := tx.Exec(ctx, `UPDATE orders SET shipped=$2, nif=$3, updated_at=$4 WHERE id=$1`,
		id, o.Shipped, o.NIF, o.UpdatedAt); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *Repo) SetPaymentReference(ctx context.Context, id string, payload json.RawMessage) error {
	ct, err := r.DB.Exec(ctx, `UPDATE orders SET payment_reference=$2, updated_at=now() WHERE id=$1`,
		id, []byte(payload))
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repo) MarkInvoiced(ctx context.Context, id string, at time.Time) error {
	ct, err := r.DB.Exec(ctx, `UPDATE orders SET invoice_generated=true, last_invoiced_at=$2, updated_at=now() WHERE id=$1`,
		id, at)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const selectOrder = `SELECT id, user_id, number, status, shipped, items, amount_cents,
       shipping_cents, currency, nif, payment_method, shipping_address, billing_address,
       payment_reference, invoice_generated, last_invoiced_at, created_at, updated_at
  FROM orders`

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getOrder(ctx context.Context, db rowQuerier, id string, lock bool) (*Order, error) {
	sql := selectOrder + ` WHERE id=$1`
	if lock {
		sql += ` FOR UPDATE`
	}
	o, err := scanOrder(db.QueryRow(ctx, sql, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return o, nil
}

type scannable interface{ Scan(dest ...any) error }

func scanOrder(row scannable) (*Order, error) {
	var o Order
	var itemsJSON, shipJSON, billJSON, refJSON []byte
	if err := row.Scan(&o.ID, &o.UserID, &o.Number, &o.Status, &o.Shipped, &itemsJSON,
		&o.AmountCents, &o.ShippingCents, &o.Currency, &o.NIF, &o.PaymentMethod,
		&shipJSON, &billJSON, &refJSON, &o.InvoiceGenerated, &o.LastInvoicedAt,
		&o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	if len(itemsJSON) > 0 {
		if err := json.Unmarshal(itemsJSON, &o.Items); err != nil {
			return nil, err
		}
	}
	if len(shipJSON) > 0 {
		if err := json.Unmarshal(shipJSON, &o.ShippingAddress); err != nil {
			return nil, err
		}
	}
	if len(billJSON) > 0 {
		if err := json.Unmarshal(billJSON, &o.BillingAddress); err != nil {
			return nil, err
		}
	}
	if len(refJSON) > 0 {
		o.PaymentReference = json.RawMessage(refJSON)
	}
	return &o, nil
}
