package payments

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repo struct{ DB *pgxpool.Pool }

var _ Store = (*Repo)(nil)

func (r *Repo) Create(ctx context.Context, p *Payment) error {
	_, err := r.DB.Exec(ctx, `
		INSERT INTO payments(id, order_id, method, status, gateway_info, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		p.ID, p.OrderID, p.Method, p.Status, []byte(p.GatewayInfo), p.CreatedAt, p.UpdatedAt)
	return err
}

func (r *Repo) Get(ctx context.Context, id string) (*Payment, error) {
	return r.scanOne(r.DB.QueryRow(ctx, selectPayment+` WHERE id=$1`, id))
}

func (r *Repo) GetByOrder(ctx context.Context, orderID string) (*Payment, error) {
	return r.scanOne(r.DB.QueryRow(ctx,
		selectPayment+` WHERE order_id=$1 ORDER BY created_at DESC LIMIT 1`, orderID))
}

func (r *Repo) Update(ctx context.Context, p *Payment) error {
	ct, err := r.DB.Exec(ctx, `
		UPDATE payments SET status=$2, gateway_info=$3, updated_at=$4 WHERE id=$1`,
		p.ID, p.Status, []byte(p.GatewayInfo), p.UpdatedAt)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const selectPayment = `SELECT id, order_id, method, status, gateway_info, created_at, updated_at
  FROM payments`

func (r *Repo) scanOne(row pgx.Row) (*Payment, error) {
	var p Payment
	var info []byte
	if err := row.Scan(&p.ID, &p.OrderID, &p.Method, &p.Status, &info, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if len(info) > 0 {
		p.GatewayInfo = info
	}
	return &p, nil
}
