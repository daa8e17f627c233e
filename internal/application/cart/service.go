package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	domcart "github.com/openbasket/commerce/internal/domain/cart"
	domproduct "github.com/openbasket/commerce/internal/domain/product"
	"github.com/openbasket/commerce/internal/domain/storage"
	"github.com/openbasket/commerce/internal/observability"
	"github.com/openbasket/commerce/internal/pkg/logging"

	"go.uber.org/zap"
)

const (
	useCaseCartGet    = "cart.get"
	useCaseCartAdd    = "cart.add_items"
	useCaseCartChange = "cart.change_quantity"
	useCaseCartRemove = "cart.remove_item"
	useCaseCartClear  = "cart.clear"
)

type IDGenerator interface {
	NewID() string
}

// Service owns every cart mutation. Stock is reserved at cart-mutation time,
// not at checkout time: a unit placed in a cart is already deducted from the
// product's available stock. This is a strict product policy; a shopper who
// never checks out still reduces availability for everyone else.
type Service struct {
	store   storage.Store
	ids     IDGenerator
	metrics *observability.Metrics
}

func NewService(store storage.Store, ids IDGenerator, metrics *observability.Metrics) *Service {
	return &Service{store: store, ids: ids, metrics: metrics}
}

type AddItemInput struct {
	ProductID string
	Quantity  int
}

// Line is a cart line item denormalized with current catalog data for
// presentation.
type Line struct {
	ProductID string
	Name      string
	UnitPrice float64
	Quantity  int
	LineTotal float64
}

type View struct {
	CartID     string
	ShopperID  string
	Lines      []Line
	ItemCount  int
	TotalPrice float64
}

// Get returns the shopper's cart, creating an empty one on first access.
// It never reserves stock.
func (s *Service) Get(ctx context.Context, shopperID string) (*View, error) {
	var view *View
	err := s.atomic(ctx, useCaseCartGet, func(ctx context.Context, r storage.Repos) error {
		c, err := s.loadOrCreate(ctx, r, shopperID)
		if err != nil {
			return err
		}
		view, err = s.finish(ctx, r, c)
		return err
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// AddItems merges the given entries into the cart, reserving stock for each
// one. The whole batch is all-or-nothing: if any entry cannot be reserved,
// no reservation and no cart change survives.
func (s *Service) AddItems(ctx context.Context, shopperID string, items []AddItemInput) (*View, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: no items given", domcart.ErrInvalidQuantity)
	}
	for _, item := range items {
		if item.ProductID == "" || item.Quantity < 1 {
			return nil, fmt.Errorf("%w: product %q quantity %d", domcart.ErrInvalidQuantity, item.ProductID, item.Quantity)
		}
	}

	var view *View
	err := s.atomic(ctx, useCaseCartAdd, func(ctx context.Context, r storage.Repos) error {
		c, err := s.loadOrCreate(ctx, r, shopperID)
		if err != nil {
			return err
		}
		for _, item := range items {
			p, err := r.Products().Get(ctx, item.ProductID)
			if err != nil {
				return fmt.Errorf("product %s: %w", item.ProductID, err)
			}
			if err := p.Reserve(item.Quantity); err != nil {
				return fmt.Errorf("product %s: %w", item.ProductID, err)
			}
			if err := r.Products().Save(ctx, p); err != nil {
				return err
			}
			if err := c.Merge(item.ProductID, item.Quantity); err != nil {
				return err
			}
		}
		view, err = s.finish(ctx, r, c)
		return err
	})
	if err != nil {
		return nil, err
	}

	logging.FromContext(ctx).Info("cart_items_added",
		zap.String("shopper_id", shopperID),
		zap.Int("entries", len(items)),
	)
	return view, nil
}

// ChangeQuantity adjusts one line item by +1 or -1. An increment reserves one
// more unit; a decrement releases one and removes the line when it reaches
// zero.
func (s *Service) ChangeQuantity(ctx context.Context, shopperID, productID string, delta int) (*View, error) {
	if delta != 1 && delta != -1 {
		return nil, fmt.Errorf("%w: delta must be +1 or -1", domcart.ErrInvalidQuantity)
	}

	var view *View
	err := s.atomic(ctx, useCaseCartChange, func(ctx context.Context, r storage.Repos) error {
		c, err := r.Carts().Get(ctx, shopperID)
		if errors.Is(err, domcart.ErrNotFound) {
			return domcart.ErrItemNotInCart
		}
		if err != nil {
			return err
		}
		if c.Find(productID) < 0 {
			return domcart.ErrItemNotInCart
		}

		p, err := r.Products().Get(ctx, productID)
		if err != nil {
			return fmt.Errorf("product %s: %w", productID, err)
		}
		if delta > 0 {
			err = p.Reserve(1)
		} else {
			err = p.Release(1)
		}
		if err != nil {
			return fmt.Errorf("product %s: %w", productID, err)
		}
		if err := r.Products().Save(ctx, p); err != nil {
			return err
		}
		if err := c.Adjust(productID, delta); err != nil {
			return err
		}
		view, err = s.finish(ctx, r, c)
		return err
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// RemoveItem deletes a line item and releases its full reserved quantity
// back to stock. Removing an absent item is a no-op.
func (s *Service) RemoveItem(ctx context.Context, shopperID, productID string) (*View, error) {
	var view *View
	err := s.atomic(ctx, useCaseCartRemove, func(ctx context.Context, r storage.Repos) error {
		c, err := s.loadOrCreate(ctx, r, shopperID)
		if err != nil {
			return err
		}
		if removed, ok := c.Remove(productID); ok {
			if err := s.release(ctx, r, removed.ProductID, removed.Quantity); err != nil {
				return err
			}
		}
		view, err = s.finish(ctx, r, c)
		return err
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// Clear releases every line item's quantity back to the ledger and empties
// the cart.
func (s *Service) Clear(ctx context.Context, shopperID string) (*View, error) {
	var view *View
	err := s.atomic(ctx, useCaseCartClear, func(ctx context.Context, r storage.Repos) error {
		c, err := s.loadOrCreate(ctx, r, shopperID)
		if err != nil {
			return err
		}
		for _, item := range c.Items {
			if err := s.release(ctx, r, item.ProductID, item.Quantity); err != nil {
				return err
			}
		}
		c.Clear()
		view, err = s.finish(ctx, r, c)
		return err
	})
	if err != nil {
		return nil, err
	}

	logging.FromContext(ctx).Info("cart_cleared", zap.String("shopper_id", shopperID))
	return view, nil
}

func (s *Service) loadOrCreate(ctx context.Context, r storage.Repos, shopperID string) (*domcart.Cart, error) {
	c, err := r.Carts().Get(ctx, shopperID)
	if errors.Is(err, domcart.ErrNotFound) {
		return domcart.New(s.ids.NewID(), shopperID), nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Service) release(ctx context.Context, r storage.Repos, productID string, quantity int) error {
	p, err := r.Products().Get(ctx, productID)
	if errors.Is(err, domproduct.ErrNotFound) {
		// Product vanished from the catalog while in a cart; nothing to
		// release to.
		return nil
	}
	if err != nil {
		return err
	}
	if err := p.Release(quantity); err != nil {
		return err
	}
	return r.Products().Save(ctx, p)
}

// finish recomputes the cart's derived totals from current catalog prices,
// persists it and builds the denormalized view.
func (s *Service) finish(ctx context.Context, r storage.Repos, c *domcart.Cart) (*View, error) {
	prices := make(map[string]float64, len(c.Items))
	lines := make([]Line, 0, len(c.Items))
	for _, item := range c.Items {
		p, err := r.Products().Get(ctx, item.ProductID)
		if err != nil {
			return nil, fmt.Errorf("product %s: %w", item.ProductID, err)
		}
		unit := p.FinalPrice()
		prices[item.ProductID] = unit
		lines = append(lines, Line{
			ProductID: item.ProductID,
			Name:      p.Name,
			UnitPrice: unit,
			Quantity:  item.Quantity,
			LineTotal: float64(item.Quantity) * unit,
		})
	}
	c.Recompute(prices)
	if err := r.Carts().Save(ctx, c); err != nil {
		return nil, err
	}
	return &View{
		CartID:     c.ID,
		ShopperID:  c.ShopperID,
		Lines:      lines,
		ItemCount:  c.ItemCount,
		TotalPrice: c.TotalPrice,
	}, nil
}

// atomic runs fn as one unit of work, retrying once on a write conflict
// before surfacing it to the caller.
func (s *Service) atomic(ctx context.Context, useCase string, fn func(ctx context.Context, r storage.Repos) error) error {
	start := time.Now()
	err := s.store.Atomic(ctx, fn)
	if errors.Is(err, storage.ErrConflict) {
		logging.FromContext(ctx).Warn("cart_unit_of_work_conflict", zap.String("use_case", useCase))
		err = s.store.Atomic(ctx, fn)
	}

	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	s.metrics.ObserveUsecase(useCase, outcome, time.Since(start))
	return err
}
