package storage

import (
	"context"
	"errors"

	"github.com/openbasket/commerce/internal/domain/cart"
	"github.com/openbasket/commerce/internal/domain/order"
	"github.com/openbasket/commerce/internal/domain/product"
)

// ErrConflict means the unit of work lost a write race and was rolled back.
// The whole unit may be retried; no partial update was applied.
var ErrConflict = errors.New("storage: write conflict")

// Repos bundles the repositories that share one consistency domain.
type Repos interface {
	Products() product.Repository
	Carts() cart.Repository
	Orders() order.Repository
}

// Store hides transaction begin/commit/rollback from the application layer.
// Atomic runs fn inside one unit of work: either every mutation made through
// r commits, or none does, and no other writer observes an intermediate
// state.
type Store interface {
	Repos
	Atomic(ctx context.Context, fn func(ctx context.Context, r Repos) error) error
}
