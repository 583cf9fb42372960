package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repo struct{ DB *pgxpool.Pool }

func (r *Repo) Get(ctx context.Context, id string) (*Product, error) {
	return getProduct(ctx, r.DB, id, false)
}

func (r *Repo) List(ctx context.Context) ([]Product, error) {
	rows, err := r.DB.Query(ctx, `SELECT id, name, slug, description, image, price_cents, currency,
                                       attributes, quantity, created_at, updated_at
                                FROM products ORDER BY slug`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if err := loadVariantStock(ctx, r.DB, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// UpdateSchema replaces the variant schema and rebuilds the stock counters to
// match it, carrying over counts where option names survive. This is the only
// way the quantity representation may change shape.
func (r *Repo) UpdateSchema(ctx context.Context, id string, attrs []Attribute) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	p, err := GetInTx(ctx, tx, id, true)
	if err != nil {
		return err
	}
	p.Attributes = attrs
	p.RebuildVariantStock()

	attrJSON, err := json.Marshal(p.Attributes)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `UPDATE products SET attributes=$2, updated_at=now() WHERE id=$1`,
		id, attrJSON); err != nil {
		return err
	}
	if err := SaveStockInTx(ctx, tx, p); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// GetInTx loads a product inside a caller-owned transaction. With lock set the
// product row is taken FOR UPDATE, which serializes all stock movement for
// that product across concurrent checkouts and cancellations.
func GetInTx(ctx context.Context, tx pgx.Tx, id string, lock bool) (*Product, error) {
	return getProduct(ctx, tx, id, lock)
}

// SaveStockInTx persists the in-memory counters back: the scalar quantity on
// the product row and a full rewrite of the variant rows.
func SaveStockInTx(ctx context.Context, tx pgx.Tx, p *Product) error {
	if _, err := tx.Exec(ctx, `UPDATE products SET quantity=$2, updated_at=now() WHERE id=$1`,
		p.ID, p.Quantity); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM variant_stock WHERE product_id=$1`, p.ID); err != nil {
		return err
	}
	for _, as := range p.VariantStock {
		for _, os := range as.Options {
			if _, err := tx.Exec(ctx, `
				INSERT INTO variant_stock(product_id, attribute_name, option_name, count)
				VALUES ($1,$2,$3,$4)`,
				p.ID, as.Name, os.Name, os.Count); err != nil {
				return err
			}
		}
	}
	return nil
}

// rowQuerier is satisfied by both *pgxpool.Pool and pgx.Tx.
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func getProduct(ctx context.Context, db rowQuerier, id string, lock bool) (*Product, error) {
	sql := `SELECT id, name, slug, description, image, price_cents, currency,
	               attributes, quantity, created_at, updated_at
	        FROM products WHERE id=$1`
	if lock {
		sql += ` FOR UPDATE`
	}
	p, err := scanProduct(db.QueryRow(ctx, sql, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := loadVariantStock(ctx, db, p); err != nil {
		return nil, err
	}
	return p, nil
}

type scannable interface{ Scan(dest ...any) error }

func scanProduct(row scannable) (*Product, error) {
	var p Product
	var attrJSON []byte
	if err := row.Scan(&p.ID, &p.Name, &p.Slug, &p.Description, &p.Image, &p.PriceCents,
		&p.Currency, &attrJSON, &p.Quantity, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	if len(attrJSON) > 0 {
		if err := json.Unmarshal(attrJSON, &p.Attributes); err != nil {
			return nil, fmt.Errorf("catalog: decode attributes: %w", err)
		}
	}
	return &p, nil
}

func loadVariantStock(ctx context.Context, db rowQuerier, p *Product) error {
	if !p.HasVariants() {
		return nil
	}
	rows, err := db.Query(ctx, `SELECT attribute_name, option_name, count
	                            FROM variant_stock WHERE product_id=$1
	                            ORDER BY attribute_name, option_name`, p.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	byAttr := map[string]*AttributeStock{}
	for rows.Next() {
		var attr, opt string
		var count int
		if err := rows.Scan(&attr, &opt, &count); err != nil {
			return err
		}
		as, ok := byAttr[attr]
		if !ok {
			as = &AttributeStock{Name: attr}
			byAttr[attr] = as
		}
		as.Options = append(as.Options, OptionStock{Name: opt, Count: count})
	}
	if err := rows.Err(); err != nil {
		return err
	}

	// Preserve schema order so the representation shape matches the schema.
	p.VariantStock = p.VariantStock[:0]
	for _, a := range p.Attributes {
		if as, ok := byAttr[a.Name]; ok {
			p.VariantStock = append(p.VariantStock, *as)
		}
	}
	return nil
}
