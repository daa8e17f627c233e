package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	domorder "github.com/openbasket/commerce/internal/domain/order"
)

type orderRepo struct {
	q         sqlx.ExtContext
	forUpdate bool
}

type orderRow struct {
	ID              string         `db:"id"`
	ShopperID       string         `db:"shopper_id"`
	Items           []byte         `db:"items"`
	TotalAmount     float64        `db:"total_amount"`
	Status          string         `db:"status"`
	PaymentStatus   string         `db:"payment_status"`
	PaymentIntentID sql.NullString `db:"payment_intent_id"`
	ShippingAddress []byte         `db:"shipping_address"`
	BillingAddress  []byte         `db:"billing_address"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
}

const orderColumns = `id, shopper_id, items, total_amount, status, payment_status,
	payment_intent_id, shipping_address, billing_address, created_at, updated_at`

func (r *orderRepo) Insert(ctx context.Context, o *domorder.Order) error {
	itemsJSON, shippingJSON, billingJSON, err := marshalOrder(o)
	if err != nil {
		return err
	}

	query := `INSERT INTO orders (` + orderColumns + `)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err = r.q.ExecContext(ctx, query,
		o.ID, o.ShopperID, itemsJSON, o.TotalAmount, string(o.Status), string(o.PaymentStatus),
		nullable(o.PaymentIntentID), shippingJSON, billingJSON, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (r *orderRepo) Get(ctx context.Context, id string) (*domorder.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1` + lockClause(r.forUpdate)
	return r.queryOne(ctx, query, id)
}

func (r *orderRepo) FindByPaymentIntent(ctx context.Context, intentID string) (*domorder.Order, error) {
	if intentID == "" {
		return nil, domorder.ErrNotFound
	}
	query := `SELECT ` + orderColumns + ` FROM orders WHERE payment_intent_id = $1` + lockClause(r.forUpdate)
	return r.queryOne(ctx, query, intentID)
}

func (r *orderRepo) Update(ctx context.Context, o *domorder.Order) error {
	query := `UPDATE orders SET status = $2, payment_status = $3, payment_intent_id = $4, updated_at = $5
	          WHERE id = $1`

	res, err := r.q.ExecContext(ctx, query,
		o.ID, string(o.Status), string(o.PaymentStatus), nullable(o.PaymentIntentID), o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if affected == 0 {
		return domorder.ErrNotFound
	}
	return nil
}

func (r *orderRepo) queryOne(ctx context.Context, query string, arg any) (*domorder.Order, error) {
	var row orderRow
	if err := sqlx.GetContext(ctx, r.q, &row, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domorder.ErrNotFound
		}
		return nil, fmt.Errorf("query order: %w", err)
	}
	return unmarshalOrder(&row)
}

func marshalOrder(o *domorder.Order) (items, shipping, billing []byte, err error) {
	if items, err = json.Marshal(o.Items); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal order items: %w", err)
	}
	if shipping, err = json.Marshal(o.ShippingAddress); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal shipping address: %w", err)
	}
	if billing, err = json.Marshal(o.BillingAddress); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal billing address: %w", err)
	}
	return items, shipping, billing, nil
}

func unmarshalOrder(row *orderRow) (*domorder.Order, error) {
	o := &domorder.Order{
		ID:              row.ID,
		ShopperID:       row.ShopperID,
		TotalAmount:     row.TotalAmount,
		Status:          domorder.Status(row.Status),
		PaymentStatus:   domorder.PaymentStatus(row.PaymentStatus),
		PaymentIntentID: row.PaymentIntentID.String,
		CreatedAt:       row.CreatedAt,
		UpdatedAt:       row.UpdatedAt,
	}
	if err := json.Unmarshal(row.Items, &o.Items); err != nil {
		return nil, fmt.Errorf("unmarshal order items: %w", err)
	}
	if err := json.Unmarshal(row.ShippingAddress, &o.ShippingAddress); err != nil {
		return nil, fmt.Errorf("unmarshal shipping address: %w", err)
	}
	if err := json.Unmarshal(row.BillingAddress, &o.BillingAddress); err != nil {
		return nil, fmt.Errorf("unmarshal billing address: %w", err)
	}
	return o, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
