package webhook

import (
	"context"
	"errors"
	"fmt"

	domcart "github.com/openbasket/commerce/internal/domain/cart"
	"github.com/openbasket/commerce/internal/domain/event"
	domorder "github.com/openbasket/commerce/internal/domain/order"
	"github.com/openbasket/commerce/internal/domain/payment"
	"github.com/openbasket/commerce/internal/domain/storage"
	"github.com/openbasket/commerce/internal/observability"
	"github.com/openbasket/commerce/internal/pkg/logging"

	"go.uber.org/zap"
)

// Reconciler consumes signed gateway notifications and settles order state.
// Delivery is at-least-once and unordered: replays of a processed event and
// events for orders whose payment handle is not persisted yet are both
// tolerated without error.
type Reconciler struct {
	store    storage.Store
	verifier payment.EventVerifier
	bus      event.Publisher
	metrics  *observability.Metrics
}

func NewReconciler(store storage.Store, verifier payment.EventVerifier, bus event.Publisher, metrics *observability.Metrics) *Reconciler {
	return &Reconciler{store: store, verifier: verifier, bus: bus, metrics: metrics}
}

// Handle verifies one raw webhook delivery and applies it. A signature
// failure returns payment.ErrInvalidSignature with no state change; every
// other unmatched condition is logged and swallowed so the gateway does not
// keep redelivering an event this process can never use.
func (r *Reconciler) Handle(ctx context.Context, body []byte, signatureHeader string) error {
	logger := logging.FromContext(ctx)

	ev, err := r.verifier.VerifyAndParse(body, signatureHeader)
	if err != nil {
		logger.Warn("webhook_signature_rejected", zap.Error(err))
		r.metrics.ObserveWebhookEvent("unknown", "rejected")
		return fmt.Errorf("%w: %w", payment.ErrInvalidSignature, err)
	}

	logger = logger.With(
		zap.String("event_id", ev.ID),
		zap.String("event_type", string(ev.Type)),
		zap.String("payment_intent_id", ev.IntentID),
	)

	switch ev.Type {
	case payment.EventPaymentSucceeded:
		return r.applySucceeded(ctx, logger, ev)
	case payment.EventPaymentFailed:
		return r.applyFailed(ctx, logger, ev)
	default:
		logger.Info("webhook_event_ignored")
		r.metrics.ObserveWebhookEvent(string(ev.Type), "ignored")
		return nil
	}
}

func (r *Reconciler) applySucceeded(ctx context.Context, logger *zap.Logger, ev *payment.Event) error {
	var (
		ord     *domorder.Order
		applied bool
	)
	err := r.atomic(ctx, func(ctx context.Context, repos storage.Repos) error {
		var err error
		ord, applied, err = r.transition(ctx, repos, ev.IntentID, (*domorder.Order).MarkPaid)
		if err != nil || !applied {
			return err
		}
		// Defensive: the cart is normally already empty after checkout.
		c, err := repos.Carts().Get(ctx, ord.ShopperID)
		if errors.Is(err, domcart.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		c.Clear()
		c.Recompute(nil)
		return repos.Carts().Save(ctx, c)
	})
	if err != nil {
		r.metrics.ObserveWebhookEvent(string(ev.Type), "error")
		return err
	}
	r.observeOutcome(logger, ev, ord, applied, "order_marked_paid")

	if applied && r.bus != nil {
		if pubErr := r.bus.Publish(ctx, domorder.NewOrderPaidEvent(ord)); pubErr != nil {
			logger.Warn("order_event_publish_failed", zap.Error(pubErr))
		}
	}
	return nil
}

func (r *Reconciler) applyFailed(ctx context.Context, logger *zap.Logger, ev *payment.Event) error {
	var (
		ord     *domorder.Order
		applied bool
	)
	err := r.atomic(ctx, func(ctx context.Context, repos storage.Repos) error {
		var err error
		ord, applied, err = r.transition(ctx, repos, ev.IntentID, (*domorder.Order).MarkPaymentFailed)
		return err
	})
	if err != nil {
		r.metrics.ObserveWebhookEvent(string(ev.Type), "error")
		return err
	}
	r.observeOutcome(logger, ev, ord, applied, "order_cancelled")

	if applied && r.bus != nil {
		if pubErr := r.bus.Publish(ctx, domorder.NewOrderCancelledEvent(ord)); pubErr != nil {
			logger.Warn("order_event_publish_failed", zap.Error(pubErr))
		}
	}
	return nil
}

// transition looks up the order by payment intent and applies mark to it.
// A missing order is not an error: the event may predate the handle being
// persisted, or belong to another environment.
func (r *Reconciler) transition(ctx context.Context, repos storage.Repos, intentID string, mark func(*domorder.Order) bool) (*domorder.Order, bool, error) {
	ord, err := repos.Orders().FindByPaymentIntent(ctx, intentID)
	if errors.Is(err, domorder.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if !mark(ord) {
		return ord, false, nil
	}
	if err := repos.Orders().Update(ctx, ord); err != nil {
		return nil, false, err
	}
	return ord, true, nil
}

func (r *Reconciler) observeOutcome(logger *zap.Logger, ev *payment.Event, ord *domorder.Order, applied bool, appliedMsg string) {
	switch {
	case ord == nil:
		logger.Info("webhook_order_not_found")
		r.metrics.ObserveWebhookEvent(string(ev.Type), "no_order")
	case !applied:
		logger.Info("webhook_event_replayed", zap.String("order_id", ord.ID))
		r.metrics.ObserveWebhookEvent(string(ev.Type), "replay")
	default:
		logger.Info(appliedMsg, zap.String("order_id", ord.ID))
		r.metrics.ObserveWebhookEvent(string(ev.Type), "applied")
	}
}

func (r *Reconciler) atomic(ctx context.Context, fn func(ctx context.Context, repos storage.Repos) error) error {
	err := r.store.Atomic(ctx, fn)
	if errors.Is(err, storage.ErrConflict) {
		logging.FromContext(ctx).Warn("webhook_unit_of_work_conflict")
		err = r.store.Atomic(ctx, fn)
	}
	return err
}
