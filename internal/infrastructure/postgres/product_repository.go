package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	domproduct "github.com/openbasket/commerce/internal/domain/product"
)

type productRepo struct {
	q         sqlx.ExtContext
	forUpdate bool
}

type productRow struct {
	ID        string    `db:"id"`
	Name      string    `db:"name"`
	Price     float64   `db:"price"`
	Discount  float64   `db:"discount"`
	Stock     int       `db:"stock"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r *productRepo) Get(ctx context.Context, id string) (*domproduct.Product, error) {
	query := `SELECT id, name, price, discount, stock, created_at, updated_at
	          FROM products WHERE id = $1` + lockClause(r.forUpdate)

	var row productRow
	if err := sqlx.GetContext(ctx, r.q, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domproduct.ErrNotFound
		}
		return nil, fmt.Errorf("query product: %w", err)
	}
	return &domproduct.Product{
		ID:        row.ID,
		Name:      row.Name,
		Price:     row.Price,
		Discount:  row.Discount,
		Stock:     row.Stock,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}, nil
}

// Save writes the stock counter. The WHERE guard backs up the domain check:
// the counter can never go negative even if two units raced past it.
func (r *productRepo) Save(ctx context.Context, p *domproduct.Product) error {
	query := `UPDATE products SET stock = $2, updated_at = $3
	          WHERE id = $1 AND $2 >= 0`

	res, err := r.q.ExecContext(ctx, query, p.ID, p.Stock, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update product stock: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update product stock: %w", err)
	}
	if affected == 0 {
		return domproduct.ErrNotFound
	}
	return nil
}

// Upsert inserts or replaces a full catalog row. Catalog management is a
// collaborator concern; this exists for bootstrap seeding.
func (r *productRepo) Upsert(ctx context.Context, p *domproduct.Product) error {
	query := `INSERT INTO products (id, name, price, discount, stock, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7)
	          ON CONFLICT (id) DO UPDATE SET
	            name = EXCLUDED.name, price = EXCLUDED.price,
	            discount = EXCLUDED.discount, stock = EXCLUDED.stock,
	            updated_at = EXCLUDED.updated_at`

	_, err := r.q.ExecContext(ctx, query, p.ID, p.Name, p.Price, p.Discount, p.Stock, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert product: %w", err)
	}
	return nil
}

// Seed upserts products outside any unit of work, for bootstrap.
func (s *Store) Seed(ctx context.Context, products ...*domproduct.Product) error {
	repo := &productRepo{q: s.db}
	for _, p := range products {
		if err := repo.Upsert(ctx, p); err != nil {
			return err
		}
	}
	return nil
}
