package webhook

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domcart "github.com/openbasket/commerce/internal/domain/cart"
	domorder "github.com/openbasket/commerce/internal/domain/order"
	"github.com/openbasket/commerce/internal/domain/payment"
	"github.com/openbasket/commerce/internal/infrastructure/memory"
)

// staticVerifier accepts exactly one signature and returns a canned event.
type staticVerifier struct {
	event *payment.Event
}

func (v *staticVerifier) VerifyAndParse(_ []byte, sigHeader string) (*payment.Event, error) {
	if sigHeader != "good" {
		return nil, payment.ErrInvalidSignature
	}
	return v.event, nil
}

func address() domorder.Address {
	return domorder.Address{Street: "1 Main St", City: "Springfield", State: "IL", ZipCode: "62701", Country: "US"}
}

func seedOrder(t *testing.T, store *memory.Store, orderID, intentID string) *domorder.Order {
	t.Helper()
	ord, err := domorder.New(orderID, "shopper-1", []domorder.Item{
		{ProductID: "P1", Name: "Widget", Quantity: 2, UnitPrice: 9.99},
	}, address(), address())
	require.NoError(t, err)
	ord.AttachPaymentIntent(intentID)
	require.NoError(t, store.Orders().Insert(context.Background(), ord))
	return ord
}

func TestHandleSucceededMarksPaid(t *testing.T) {
	store := memory.NewStore()
	seedOrder(t, store, "order-1", "pi_1")
	rec := NewReconciler(store, &staticVerifier{event: &payment.Event{
		ID: "evt_1", Type: payment.EventPaymentSucceeded, IntentID: "pi_1",
	}}, nil, nil)

	require.NoError(t, rec.Handle(context.Background(), []byte(`{}`), "good"))

	ord, err := store.Orders().Get(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, domorder.StatusPaid, ord.Status)
	assert.Equal(t, domorder.PaymentPaid, ord.PaymentStatus)
}

func TestHandleSucceededClearsLeftoverCart(t *testing.T) {
	store := memory.NewStore()
	seedOrder(t, store, "order-1", "pi_1")

	c := domcart.New("cart-1", "shopper-1")
	require.NoError(t, c.Merge("P1", 2))
	c.Recompute(map[string]float64{"P1": 9.99})
	require.NoError(t, store.Carts().Save(context.Background(), c))

	rec := NewReconciler(store, &staticVerifier{event: &payment.Event{
		ID: "evt_1", Type: payment.EventPaymentSucceeded, IntentID: "pi_1",
	}}, nil, nil)
	require.NoError(t, rec.Handle(context.Background(), []byte(`{}`), "good"))

	got, err := store.Carts().Get(context.Background(), "shopper-1")
	require.NoError(t, err)
	assert.Empty(t, got.Items)
	assert.Zero(t, got.TotalPrice)
}

func TestHandleReplayIsIdempotent(t *testing.T) {
	store := memory.NewStore()
	seedOrder(t, store, "order-1", "pi_1")
	rec := NewReconciler(store, &staticVerifier{event: &payment.Event{
		ID: "evt_1", Type: payment.EventPaymentSucceeded, IntentID: "pi_1",
	}}, nil, nil)

	require.NoError(t, rec.Handle(context.Background(), []byte(`{}`), "good"))
	require.NoError(t, rec.Handle(context.Background(), []byte(`{}`), "good"))

	ord, err := store.Orders().Get(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, domorder.StatusPaid, ord.Status)
}

func TestHandleFailedCancelsOrder(t *testing.T) {
	store := memory.NewStore()
	seedOrder(t, store, "order-1", "pi_1")
	rec := NewReconciler(store, &staticVerifier{event: &payment.Event{
		ID: "evt_1", Type: payment.EventPaymentFailed, IntentID: "pi_1",
	}}, nil, nil)

	require.NoError(t, rec.Handle(context.Background(), []byte(`{}`), "good"))

	ord, err := store.Orders().Get(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, domorder.StatusCancelled, ord.Status)
	assert.Equal(t, domorder.PaymentFailed, ord.PaymentStatus)
}

func TestHandleFailureAfterSuccessIsIgnored(t *testing.T) {
	store := memory.NewStore()
	seedOrder(t, store, "order-1", "pi_1")

	succeed := NewReconciler(store, &staticVerifier{event: &payment.Event{
		ID: "evt_1", Type: payment.EventPaymentSucceeded, IntentID: "pi_1",
	}}, nil, nil)
	require.NoError(t, succeed.Handle(context.Background(), []byte(`{}`), "good"))

	fail := NewReconciler(store, &staticVerifier{event: &payment.Event{
		ID: "evt_2", Type: payment.EventPaymentFailed, IntentID: "pi_1",
	}}, nil, nil)
	require.NoError(t, fail.Handle(context.Background(), []byte(`{}`), "good"))

	ord, err := store.Orders().Get(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, domorder.StatusPaid, ord.Status)
	assert.Equal(t, domorder.PaymentPaid, ord.PaymentStatus)
}

func TestHandleUnknownOrderIsTolerated(t *testing.T) {
	store := memory.NewStore()
	rec := NewReconciler(store, &staticVerifier{event: &payment.Event{
		ID: "evt_1", Type: payment.EventPaymentSucceeded, IntentID: "pi_missing",
	}}, nil, nil)

	assert.NoError(t, rec.Handle(context.Background(), []byte(`{}`), "good"))
}

func TestHandleUnknownEventTypeIsIgnored(t *testing.T) {
	store := memory.NewStore()
	seedOrder(t, store, "order-1", "pi_1")
	rec := NewReconciler(store, &staticVerifier{event: &payment.Event{
		ID: "evt_1", Type: "charge.refunded", IntentID: "pi_1",
	}}, nil, nil)

	require.NoError(t, rec.Handle(context.Background(), []byte(`{}`), "good"))

	ord, err := store.Orders().Get(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, domorder.StatusPending, ord.Status)
}

func TestHandleRejectsBadSignature(t *testing.T) {
	store := memory.NewStore()
	seedOrder(t, store, "order-1", "pi_1")
	rec := NewReconciler(store, &staticVerifier{event: &payment.Event{
		ID: "evt_1", Type: payment.EventPaymentSucceeded, IntentID: "pi_1",
	}}, nil, nil)

	err := rec.Handle(context.Background(), []byte(`{}`), "tampered")
	require.ErrorIs(t, err, payment.ErrInvalidSignature)

	ord, getErr := store.Orders().Get(context.Background(), "order-1")
	require.NoError(t, getErr)
	assert.Equal(t, domorder.StatusPending, ord.Status)
}
