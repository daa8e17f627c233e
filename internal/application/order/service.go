package order

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	domcart "github.com/openbasket/commerce/internal/domain/cart"
	"github.com/openbasket/commerce/internal/domain/event"
	domain "github.com/openbasket/commerce/internal/domain/order"
	"github.com/openbasket/commerce/internal/domain/payment"
	domproduct "github.com/openbasket/commerce/internal/domain/product"
	"github.com/openbasket/commerce/internal/domain/storage"
	"github.com/openbasket/commerce/internal/observability"
	"github.com/openbasket/commerce/internal/pkg/logging"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

const (
	useCaseOrderCreate = "order.create"
	useCaseOrderGet    = "order.get"
	tracerName         = "commerce.order"
	spanPrefix         = "UC."
)

type IDGenerator interface {
	NewID() string
}

// Service converts a shopper's cart into an immutable order and requests a
// payment handle for it from the external gateway.
type Service struct {
	store    storage.Store
	gateway  payment.Gateway
	ids      IDGenerator
	bus      event.Publisher
	currency string
	metrics  *observability.Metrics
}

func NewService(store storage.Store, gateway payment.Gateway, ids IDGenerator, bus event.Publisher, currency string, metrics *observability.Metrics) *Service {
	return &Service{
		store:    store,
		gateway:  gateway,
		ids:      ids,
		bus:      bus,
		currency: currency,
		metrics:  metrics,
	}
}

type CreateOrderInput struct {
	ShopperID       string
	ShippingAddress domain.Address
	BillingAddress  domain.Address
}

type CreateOrderResult struct {
	OrderID      string
	ClientSecret string
	Amount       float64
	Status       domain.Status
}

// CreateOrder runs the checkout flow:
//
//  1. snapshot the cart's products and prices into a Pending/Unpaid order,
//     persisted as one atomic unit;
//  2. request a payment intent from the gateway. Gateway failure surfaces to
//     the caller but the order stays persisted, so payment can be retried
//     without re-validating the cart;
//  3. attach the intent id and empty the cart as a second atomic unit. Stock
//     reserved at add-to-cart time is now consumed by the order, not
//     released.
//
// The cart is emptied only after the order and its payment handle are
// durably recorded; a crash in between leaves a recoverable state.
func (s *Service) CreateOrder(ctx context.Context, input CreateOrderInput) (_ *CreateOrderResult, err error) {
	logger := logging.FromContext(ctx).With(zap.String("shopper_id", input.ShopperID))

	ctx, span := otel.Tracer(tracerName).Start(ctx, spanPrefix+"CreateOrder")
	span.SetAttributes(attribute.String("use_case", useCaseOrderCreate))
	start := time.Now()
	defer func() {
		outcome := "success"
		if err != nil {
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "OK")
		}
		span.End()
		s.metrics.ObserveUsecase(useCaseOrderCreate, outcome, time.Since(start))
	}()

	if !input.ShippingAddress.Valid() || !input.BillingAddress.Valid() {
		return nil, domain.ErrAddressRequired
	}

	var ord *domain.Order
	err = s.atomic(ctx, func(ctx context.Context, r storage.Repos) error {
		c, err := r.Carts().Get(ctx, input.ShopperID)
		if errors.Is(err, domcart.ErrNotFound) {
			return domcart.ErrEmpty
		}
		if err != nil {
			return err
		}
		if len(c.Items) == 0 {
			return domcart.ErrEmpty
		}

		items := make([]domain.Item, 0, len(c.Items))
		for _, line := range c.Items {
			p, err := r.Products().Get(ctx, line.ProductID)
			if errors.Is(err, domproduct.ErrNotFound) {
				return fmt.Errorf("%w: %s", domain.ErrProductUnavailable, line.ProductID)
			}
			if err != nil {
				return err
			}
			items = append(items, domain.Item{
				ProductID: p.ID,
				Name:      p.Name,
				Quantity:  line.Quantity,
				UnitPrice: p.FinalPrice(),
			})
		}

		ord, err = domain.New(s.ids.NewID(), input.ShopperID, items, input.ShippingAddress, input.BillingAddress)
		if err != nil {
			return err
		}
		return r.Orders().Insert(ctx, ord)
	})
	if err != nil {
		return nil, err
	}

	logger = logger.With(zap.String("order_id", ord.ID))
	logger.Info("order_created",
		zap.Float64("total_amount", ord.TotalAmount),
		zap.Int("items", len(ord.Items)),
	)

	intent, err := s.gateway.CreateIntent(ctx, MinorUnits(ord.TotalAmount), s.currency, payment.Metadata{
		ShopperID: input.ShopperID,
		OrderID:   ord.ID,
	})
	if err != nil {
		// The order stays persisted in Pending/Unpaid; payment can be
		// retried later without double-charging.
		logger.Error("payment_intent_failed", zap.Error(err))
		return nil, fmt.Errorf("order %s: %w", ord.ID, err)
	}
	span.SetAttributes(attribute.String("payment.intent_id", intent.ID))

	err = s.atomic(ctx, func(ctx context.Context, r storage.Repos) error {
		stored, err := r.Orders().Get(ctx, ord.ID)
		if err != nil {
			return err
		}
		stored.AttachPaymentIntent(intent.ID)
		if err := r.Orders().Update(ctx, stored); err != nil {
			return err
		}
		ord = stored

		c, err := r.Carts().Get(ctx, input.ShopperID)
		if errors.Is(err, domcart.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		c.Clear()
		c.Recompute(nil)
		return r.Carts().Save(ctx, c)
	})
	if err != nil {
		return nil, err
	}

	if s.bus != nil {
		if pubErr := s.bus.Publish(ctx, domain.NewOrderCreatedEvent(ord)); pubErr != nil {
			logger.Warn("order_event_publish_failed", zap.Error(pubErr))
		}
	}

	logger.Info("checkout_completed", zap.String("payment_intent_id", intent.ID))
	return &CreateOrderResult{
		OrderID:      ord.ID,
		ClientSecret: intent.ClientSecret,
		Amount:       ord.TotalAmount,
		Status:       ord.Status,
	}, nil
}

// Get returns one of the shopper's orders. Orders belonging to other
// shoppers are reported as not found.
func (s *Service) Get(ctx context.Context, shopperID, orderID string) (*domain.Order, error) {
	start := time.Now()
	ord, err := s.store.Orders().Get(ctx, orderID)

	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	s.metrics.ObserveUsecase(useCaseOrderGet, outcome, time.Since(start))
	if err != nil {
		return nil, err
	}
	if ord.ShopperID != shopperID {
		return nil, domain.ErrNotFound
	}
	return ord, nil
}

// MinorUnits converts a decimal amount to the gateway's minor currency unit.
func MinorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

func (s *Service) atomic(ctx context.Context, fn func(ctx context.Context, r storage.Repos) error) error {
	err := s.store.Atomic(ctx, fn)
	if errors.Is(err, storage.ErrConflict) {
		logging.FromContext(ctx).Warn("order_unit_of_work_conflict")
		err = s.store.Atomic(ctx, fn)
	}
	return err
}
