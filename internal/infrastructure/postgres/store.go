package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	domcart "github.com/openbasket/commerce/internal/domain/cart"
	domorder "github.com/openbasket/commerce/internal/domain/order"
	domproduct "github.com/openbasket/commerce/internal/domain/product"
	"github.com/openbasket/commerce/internal/domain/storage"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store implements storage.Store on PostgreSQL. Atomic maps to a
// repeatable-read transaction; rows touched inside a unit of work are locked
// with SELECT ... FOR UPDATE so concurrent mutations of the same cart or the
// same product serialize instead of interleaving.
type Store struct {
	db *sqlx.DB
}

func Open(url string) (*Store, error) {
	db, err := sqlx.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	db.SetMaxOpenConns(100)
	db.SetMaxIdleConns(10)
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Migrate() error {
	driver, err := migratepg.WithInstance(s.db.DB, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func (s *Store) Products() domproduct.Repository { return &productRepo{q: s.db} }
func (s *Store) Carts() domcart.Repository       { return &cartRepo{q: s.db} }
func (s *Store) Orders() domorder.Repository     { return &orderRepo{q: s.db} }

func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, r storage.Repos) error) error {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(ctx, txRepos{tx: tx}); err != nil {
		_ = tx.Rollback()
		return mapConflict(err)
	}
	if err := tx.Commit(); err != nil {
		return mapConflict(fmt.Errorf("commit transaction: %w", err))
	}
	return nil
}

type txRepos struct{ tx *sqlx.Tx }

func (t txRepos) Products() domproduct.Repository { return &productRepo{q: t.tx, forUpdate: true} }
func (t txRepos) Carts() domcart.Repository       { return &cartRepo{q: t.tx, forUpdate: true} }
func (t txRepos) Orders() domorder.Repository     { return &orderRepo{q: t.tx, forUpdate: true} }

// mapConflict translates serialization failures, deadlocks and unique
// violations into storage.ErrConflict so callers can retry the whole unit.
func mapConflict(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01", "23505":
			return fmt.Errorf("%w: %v", storage.ErrConflict, err)
		}
	}
	return err
}

func lockClause(forUpdate bool) string {
	if forUpdate {
		return " FOR UPDATE"
	}
	return ""
}
