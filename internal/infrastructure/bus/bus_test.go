package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openbasket/commerce/internal/domain/event"
)

type testEvent struct{ name string }

func (e testEvent) EventName() string { return e.name }

func collect() (event.Handler, *[]event.Event, *sync.Mutex) {
	var (
		mu   sync.Mutex
		seen []event.Event
	)
	h := func(_ context.Context, e event.Event) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, e)
		return nil
	}
	return h, &seen, &mu
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestPublishDeliversToSubscribers(t *testing.T) {
	b := New(zap.NewNop())
	h, seen, mu := collect()
	b.Subscribe("order.created", h)
	b.Start(context.Background())
	defer b.Stop()

	require.NoError(t, b.Publish(context.Background(), testEvent{name: "order.created"}))

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(*seen) == 1
	})
	mu.Lock()
	assert.Equal(t, "order.created", (*seen)[0].EventName())
	mu.Unlock()
}

func TestPublishWithoutSubscriberIsDropped(t *testing.T) {
	b := New(zap.NewNop())
	b.Start(context.Background())
	defer b.Stop()

	assert.NoError(t, b.Publish(context.Background(), testEvent{name: "order.cancelled"}))
}

func TestPanickedHandlerDoesNotStopOthers(t *testing.T) {
	b := New(zap.NewNop())
	b.Subscribe("order.paid", func(context.Context, event.Event) error {
		panic("handler exploded")
	})
	h, seen, mu := collect()
	b.Subscribe("order.paid", h)
	b.Start(context.Background())
	defer b.Stop()

	require.NoError(t, b.Publish(context.Background(), testEvent{name: "order.paid"}))

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(*seen) == 1
	})
}

func TestFailingHandlerIsLoggedNotFatal(t *testing.T) {
	b := New(zap.NewNop())
	b.Subscribe("order.paid", func(context.Context, event.Event) error {
		return errors.New("downstream unavailable")
	})
	h, seen, mu := collect()
	b.Subscribe("order.paid", h)
	b.Start(context.Background())
	defer b.Stop()

	require.NoError(t, b.Publish(context.Background(), testEvent{name: "order.paid"}))
	require.NoError(t, b.Publish(context.Background(), testEvent{name: "order.paid"}))

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(*seen) == 2
	})
}

func TestPublishNilEventIsNoop(t *testing.T) {
	b := New(zap.NewNop())
	assert.NoError(t, b.Publish(context.Background(), nil))
}
