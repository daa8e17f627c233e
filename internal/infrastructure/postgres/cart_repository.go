package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	domcart "github.com/openbasket/commerce/internal/domain/cart"
)

type cartRepo struct {
	q         sqlx.ExtContext
	forUpdate bool
}

type cartRow struct {
	ID         string    `db:"id"`
	ShopperID  string    `db:"shopper_id"`
	Items      []byte    `db:"items"`
	ItemCount  int       `db:"item_count"`
	TotalPrice float64   `db:"total_price"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

func (r *cartRepo) Get(ctx context.Context, shopperID string) (*domcart.Cart, error) {
	query := `SELECT id, shopper_id, items, item_count, total_price, created_at, updated_at
	          FROM carts WHERE shopper_id = $1` + lockClause(r.forUpdate)

	var row cartRow
	if err := sqlx.GetContext(ctx, r.q, &row, query, shopperID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domcart.ErrNotFound
		}
		return nil, fmt.Errorf("query cart: %w", err)
	}

	var items []domcart.Item
	if err := json.Unmarshal(row.Items, &items); err != nil {
		return nil, fmt.Errorf("unmarshal cart items: %w", err)
	}
	return &domcart.Cart{
		ID:         row.ID,
		ShopperID:  row.ShopperID,
		Items:      items,
		ItemCount:  row.ItemCount,
		TotalPrice: row.TotalPrice,
		CreatedAt:  row.CreatedAt,
		UpdatedAt:  row.UpdatedAt,
	}, nil
}

func (r *cartRepo) Save(ctx context.Context, c *domcart.Cart) error {
	items := c.Items
	if items == nil {
		items = []domcart.Item{}
	}
	itemsJSON, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("marshal cart items: %w", err)
	}

	query := `INSERT INTO carts (id, shopper_id, items, item_count, total_price, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7)
	          ON CONFLICT (shopper_id) DO UPDATE SET
	            items = EXCLUDED.items, item_count = EXCLUDED.item_count,
	            total_price = EXCLUDED.total_price, updated_at = EXCLUDED.updated_at`

	_, err = r.q.ExecContext(ctx, query,
		c.ID, c.ShopperID, itemsJSON, c.ItemCount, c.TotalPrice, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert cart: %w", err)
	}
	return nil
}
