package cart

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domcart "github.com/openbasket/commerce/internal/domain/cart"
	domproduct "github.com/openbasket/commerce/internal/domain/product"
	"github.com/openbasket/commerce/internal/infrastructure/memory"
)

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDs) NewID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("id-%d", g.n)
}

func newTestService(t *testing.T, products ...*domproduct.Product) (*Service, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	store.Seed(products...)
	return NewService(store, &seqIDs{}, nil), store
}

func mustProduct(t *testing.T, id string, price float64, stock int) *domproduct.Product {
	t.Helper()
	p, err := domproduct.New(id, "Product "+id, price, 0, stock)
	require.NoError(t, err)
	return p
}

func stockOf(t *testing.T, store *memory.Store, id string) int {
	t.Helper()
	p, err := store.Products().Get(context.Background(), id)
	require.NoError(t, err)
	return p.Stock
}

func TestGetCreatesEmptyCartWithoutReserving(t *testing.T) {
	svc, store := newTestService(t, mustProduct(t, "p1", 10, 5))

	view, err := svc.Get(context.Background(), "shopper-1")
	require.NoError(t, err)

	assert.Empty(t, view.Lines)
	assert.Zero(t, view.ItemCount)
	assert.Zero(t, view.TotalPrice)
	assert.Equal(t, 5, stockOf(t, store, "p1"))
}

func TestAddItemsReservesStock(t *testing.T) {
	svc, store := newTestService(t, mustProduct(t, "p1", 10, 5))

	view, err := svc.AddItems(context.Background(), "shopper-1", []AddItemInput{{ProductID: "p1", Quantity: 3}})
	require.NoError(t, err)

	assert.Equal(t, 3, view.ItemCount)
	assert.InDelta(t, 30.0, view.TotalPrice, 1e-9)
	assert.Equal(t, 2, stockOf(t, store, "p1"))
}

func TestAddItemsMergesExistingLine(t *testing.T) {
	svc, store := newTestService(t, mustProduct(t, "p1", 10, 5))
	ctx := context.Background()

	_, err := svc.AddItems(ctx, "shopper-1", []AddItemInput{{ProductID: "p1", Quantity: 2}})
	require.NoError(t, err)
	view, err := svc.AddItems(ctx, "shopper-1", []AddItemInput{{ProductID: "p1", Quantity: 1}})
	require.NoError(t, err)

	require.Len(t, view.Lines, 1)
	assert.Equal(t, 3, view.Lines[0].Quantity)
	assert.Equal(t, 2, stockOf(t, store, "p1"))
}

func TestAddItemsAllOrNothing(t *testing.T) {
	svc, store := newTestService(t,
		mustProduct(t, "A", 10, 10),
		mustProduct(t, "B", 5, 3),
	)
	ctx := context.Background()

	_, err := svc.AddItems(ctx, "shopper-1", []AddItemInput{
		{ProductID: "A", Quantity: 2},
		{ProductID: "B", Quantity: 999999},
	})
	require.ErrorIs(t, err, domproduct.ErrInsufficientStock)

	// No partial reservation of A survives, and the cart is untouched.
	assert.Equal(t, 10, stockOf(t, store, "A"))
	assert.Equal(t, 3, stockOf(t, store, "B"))
	view, err := svc.Get(ctx, "shopper-1")
	require.NoError(t, err)
	assert.Empty(t, view.Lines)
}

func TestAddItemsUnknownProduct(t *testing.T) {
	svc, store := newTestService(t, mustProduct(t, "A", 10, 10))

	_, err := svc.AddItems(context.Background(), "shopper-1", []AddItemInput{
		{ProductID: "A", Quantity: 1},
		{ProductID: "ghost", Quantity: 1},
	})
	require.ErrorIs(t, err, domproduct.ErrNotFound)
	assert.Contains(t, err.Error(), "ghost")
	assert.Equal(t, 10, stockOf(t, store, "A"))
}

func TestAddItemsRejectsInvalidQuantityBeforeMutating(t *testing.T) {
	svc, store := newTestService(t, mustProduct(t, "A", 10, 10))

	_, err := svc.AddItems(context.Background(), "shopper-1", []AddItemInput{{ProductID: "A", Quantity: 0}})
	require.ErrorIs(t, err, domcart.ErrInvalidQuantity)
	assert.Equal(t, 10, stockOf(t, store, "A"))
}

func TestChangeQuantityIncrementReserves(t *testing.T) {
	svc, store := newTestService(t, mustProduct(t, "p1", 10, 2))
	ctx := context.Background()

	_, err := svc.AddItems(ctx, "shopper-1", []AddItemInput{{ProductID: "p1", Quantity: 2}})
	require.NoError(t, err)

	_, err = svc.ChangeQuantity(ctx, "shopper-1", "p1", 1)
	require.ErrorIs(t, err, domproduct.ErrInsufficientStock)
	assert.Equal(t, 0, stockOf(t, store, "p1"))
}

func TestChangeQuantityDecrementRemovesLineAtZero(t *testing.T) {
	svc, store := newTestService(t, mustProduct(t, "p1", 10, 5))
	ctx := context.Background()

	_, err := svc.AddItems(ctx, "shopper-1", []AddItemInput{{ProductID: "p1", Quantity: 1}})
	require.NoError(t, err)
	require.Equal(t, 4, stockOf(t, store, "p1"))

	view, err := svc.ChangeQuantity(ctx, "shopper-1", "p1", -1)
	require.NoError(t, err)

	assert.Empty(t, view.Lines)
	assert.Zero(t, view.ItemCount)
	assert.Equal(t, 5, stockOf(t, store, "p1"))
}

func TestChangeQuantityMissingLine(t *testing.T) {
	svc, _ := newTestService(t, mustProduct(t, "p1", 10, 5))

	_, err := svc.ChangeQuantity(context.Background(), "shopper-1", "p1", 1)
	assert.ErrorIs(t, err, domcart.ErrItemNotInCart)
}

func TestRemoveItemReleasesFullQuantity(t *testing.T) {
	svc, store := newTestService(t, mustProduct(t, "p1", 10, 5), mustProduct(t, "p2", 4, 5))
	ctx := context.Background()

	_, err := svc.AddItems(ctx, "shopper-1", []AddItemInput{
		{ProductID: "p1", Quantity: 3},
		{ProductID: "p2", Quantity: 2},
	})
	require.NoError(t, err)

	view, err := svc.RemoveItem(ctx, "shopper-1", "p1")
	require.NoError(t, err)

	require.Len(t, view.Lines, 1)
	assert.Equal(t, "p2", view.Lines[0].ProductID)
	assert.Equal(t, 5, stockOf(t, store, "p1"))
	assert.Equal(t, 3, stockOf(t, store, "p2"))
}

func TestClearReleasesEverything(t *testing.T) {
	svc, store := newTestService(t, mustProduct(t, "p1", 10, 5), mustProduct(t, "p2", 4, 5))
	ctx := context.Background()

	_, err := svc.AddItems(ctx, "shopper-1", []AddItemInput{
		{ProductID: "p1", Quantity: 3},
		{ProductID: "p2", Quantity: 2},
	})
	require.NoError(t, err)

	view, err := svc.Clear(ctx, "shopper-1")
	require.NoError(t, err)

	assert.Empty(t, view.Lines)
	assert.Zero(t, view.TotalPrice)
	assert.Equal(t, 5, stockOf(t, store, "p1"))
	assert.Equal(t, 5, stockOf(t, store, "p2"))
}

// Stock conservation: originalStock - sum(reserved across carts) = currentStock
// at every observation, even under concurrent mutation.
func TestConcurrentAddsNeverOversell(t *testing.T) {
	const (
		originalStock = 7
		shoppers      = 25
	)
	svc, store := newTestService(t, mustProduct(t, "hot", 10, originalStock))
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make(chan error, shoppers)
	for i := 0; i < shoppers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := svc.AddItems(ctx, fmt.Sprintf("shopper-%d", n), []AddItemInput{{ProductID: "hot", Quantity: 1}})
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
		} else {
			require.ErrorIs(t, err, domproduct.ErrInsufficientStock)
		}
	}
	assert.Equal(t, originalStock, succeeded)
	assert.Equal(t, 0, stockOf(t, store, "hot"))

	reserved := 0
	for i := 0; i < shoppers; i++ {
		view, err := svc.Get(ctx, fmt.Sprintf("shopper-%d", i))
		require.NoError(t, err)
		reserved += view.ItemCount
	}
	assert.Equal(t, originalStock, reserved)
}
