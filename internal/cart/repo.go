package cart

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repo struct{ DB *pgxpool.Pool }

var _ Store = (*Repo)(nil)

func (r *Repo) Get(ctx context.Context, userID string) ([]Item, error) {
	rows, err := r.DB.Query(ctx, `SELECT product_id, options, quantity
	                              FROM cart_items WHERE user_id=$1 ORDER BY added_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// Add merges into an existing line for the same product+options, otherwise
// appends a new line. Runs in a transaction keyed on the user's rows.
func (r *Repo) Add(ctx context.Context, userID string, item Item) error {
	if item.Quantity < 1 {
		return ErrInvalidQuantity
	}
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	existing, err := findLine(ctx, tx, userID, item)
	if err != nil && err != ErrNotFound {
		return err
	}
	if err == nil {
		if _, err := tx.Exec(ctx, `UPDATE cart_items SET quantity = quantity + $2 WHERE id=$1`,
			existing, item.Quantity); err != nil {
			return err
		}
		return tx.Commit(ctx)
	}

	opts, err := json.Marshal(item.Options)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO cart_items(user_id, product_id, options, quantity, added_at)
		VALUES ($1,$2,$3,$4,now())`,
		userID, item.ProductID, opts, item.Quantity); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repo) UpdateQuantity(ctx context.Context, userID string, line Item) error {
	if line.Quantity < 1 {
		return ErrInvalidQuantity
	}
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	id, err := findLine(ctx, tx, userID, line)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `UPDATE cart_items SET quantity=$2 WHERE id=$1`, id, line.Quantity); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repo) Remove(ctx context.Context, userID string, line Item) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	id, err := findLine(ctx, tx, userID, line)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM cart_items WHERE id=$1`, id); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repo) Clear(ctx context.Context, userID string) error {
	_, err := r.DB.Exec(ctx, `DELETE FROM cart_items WHERE user_id=$1`, userID)
	return err
}

// findLine matches product+options in Go rather than comparing jsonb in SQL,
// since option order must not matter.
func findLine(ctx context.Context, tx pgx.Tx, userID string, target Item) (int64, error) {
	rows, err := tx.Query(ctx, `SELECT id, product_id, options, quantity
	                            FROM cart_items WHERE user_id=$1 AND product_id=$2 FOR UPDATE`,
		userID, target.ProductID)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var raw []byte
		var it Item
		if err := rows.Scan(&id, &it.ProductID, &raw, &it.Quantity); err != nil {
			return 0, err
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &it.Options); err != nil {
				return 0, err
			}
		}
		if it.SameLine(target) {
			return id, nil
		}
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}
	return 0, ErrNotFound
}

type scannable interface{ Scan(dest ...any) error }

func scanItem(row scannable) (Item, error) {
	var it Item
	var raw []byte
	if err := row.Scan(&it.ProductID, &raw, &it.Quantity); err != nil {
		return Item{}, err
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &it.Options); err != nil {
			return Item{}, err
		}
	}
	return it, nil
}
