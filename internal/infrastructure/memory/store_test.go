package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domcart "github.com/openbasket/commerce/internal/domain/cart"
	domorder "github.com/openbasket/commerce/internal/domain/order"
	domproduct "github.com/openbasket/commerce/internal/domain/product"
	"github.com/openbasket/commerce/internal/domain/storage"
)

func newProduct(t *testing.T, id string, stock int) *domproduct.Product {
	t.Helper()
	p, err := domproduct.New(id, "Product "+id, 9.99, 0, stock)
	require.NoError(t, err)
	return p
}

func newOrder(t *testing.T, id string) *domorder.Order {
	t.Helper()
	addr := domorder.Address{Street: "1 Main St", City: "Springfield", State: "IL", ZipCode: "62701", Country: "US"}
	o, err := domorder.New(id, "shopper-1", []domorder.Item{
		{ProductID: "P1", Name: "Widget", Quantity: 1, UnitPrice: 9.99},
	}, addr, addr)
	require.NoError(t, err)
	return o
}

func TestGetReturnsClone(t *testing.T) {
	store := NewStore()
	store.Seed(newProduct(t, "P1", 10))
	ctx := context.Background()

	p, err := store.Products().Get(ctx, "P1")
	require.NoError(t, err)
	p.Stock = 0

	again, err := store.Products().Get(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, 10, again.Stock)
}

func TestAtomicRollsBackAllMutations(t *testing.T) {
	store := NewStore()
	store.Seed(newProduct(t, "P1", 10))
	ctx := context.Background()

	boom := errors.New("boom")
	err := store.Atomic(ctx, func(ctx context.Context, r storage.Repos) error {
		p, err := r.Products().Get(ctx, "P1")
		require.NoError(t, err)
		require.NoError(t, p.Reserve(4))
		require.NoError(t, r.Products().Save(ctx, p))

		c := domcart.New("cart-1", "shopper-1")
		require.NoError(t, c.Merge("P1", 4))
		require.NoError(t, r.Carts().Save(ctx, c))

		require.NoError(t, r.Orders().Insert(ctx, newOrder(t, "order-1")))
		return boom
	})
	require.ErrorIs(t, err, boom)

	p, err := store.Products().Get(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, 10, p.Stock)

	_, err = store.Carts().Get(ctx, "shopper-1")
	assert.ErrorIs(t, err, domcart.ErrNotFound)

	_, err = store.Orders().Get(ctx, "order-1")
	assert.ErrorIs(t, err, domorder.ErrNotFound)
}

func TestAtomicRollbackRestoresPreImage(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	c := domcart.New("cart-1", "shopper-1")
	require.NoError(t, c.Merge("P1", 1))
	require.NoError(t, store.Carts().Save(ctx, c))

	err := store.Atomic(ctx, func(ctx context.Context, r storage.Repos) error {
		got, err := r.Carts().Get(ctx, "shopper-1")
		require.NoError(t, err)
		got.Clear()
		require.NoError(t, r.Carts().Save(ctx, got))
		return errors.New("abort")
	})
	require.Error(t, err)

	got, err := store.Carts().Get(ctx, "shopper-1")
	require.NoError(t, err)
	require.Len(t, got.Items, 1)
	assert.Equal(t, 1, got.Items[0].Quantity)
}

func TestInsertDuplicateOrderConflicts(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	require.NoError(t, store.Orders().Insert(ctx, newOrder(t, "order-1")))
	err := store.Orders().Insert(ctx, newOrder(t, "order-1"))
	assert.ErrorIs(t, err, storage.ErrConflict)
}

func TestFindByPaymentIntent(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	ord := newOrder(t, "order-1")
	require.NoError(t, store.Orders().Insert(ctx, ord))

	// No handle attached yet.
	_, err := store.Orders().FindByPaymentIntent(ctx, "pi_1")
	assert.ErrorIs(t, err, domorder.ErrNotFound)

	stored, err := store.Orders().Get(ctx, "order-1")
	require.NoError(t, err)
	stored.AttachPaymentIntent("pi_1")
	require.NoError(t, store.Orders().Update(ctx, stored))

	found, err := store.Orders().FindByPaymentIntent(ctx, "pi_1")
	require.NoError(t, err)
	assert.Equal(t, "order-1", found.ID)

	_, err = store.Orders().FindByPaymentIntent(ctx, "")
	assert.ErrorIs(t, err, domorder.ErrNotFound)
}

func TestIntentIndexRollsBack(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	require.NoError(t, store.Orders().Insert(ctx, newOrder(t, "order-1")))

	err := store.Atomic(ctx, func(ctx context.Context, r storage.Repos) error {
		ord, err := r.Orders().Get(ctx, "order-1")
		require.NoError(t, err)
		ord.AttachPaymentIntent("pi_1")
		require.NoError(t, r.Orders().Update(ctx, ord))
		return errors.New("abort")
	})
	require.Error(t, err)

	_, err = store.Orders().FindByPaymentIntent(ctx, "pi_1")
	assert.ErrorIs(t, err, domorder.ErrNotFound)
}
