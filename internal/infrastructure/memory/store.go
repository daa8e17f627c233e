package memory

import (
	"context"
	"fmt"
	"sync"

	domcart "github.com/openbasket/commerce/internal/domain/cart"
	domorder "github.com/openbasket/commerce/internal/domain/order"
	domproduct "github.com/openbasket/commerce/internal/domain/product"
	"github.com/openbasket/commerce/internal/domain/storage"
)

// Store is an in-memory implementation of storage.Store. One mutex guards
// all maps, so units of work serialize fully and ErrConflict never occurs.
// Every Get returns a clone; rollback restores journaled pre-images.
type Store struct {
	mu       sync.Mutex
	products map[string]*domproduct.Product
	carts    map[string]*domcart.Cart // keyed by shopper id
	orders   map[string]*domorder.Order
	intents  map[string]string // payment intent id -> order id
}

func NewStore() *Store {
	return &Store{
		products: make(map[string]*domproduct.Product),
		carts:    make(map[string]*domcart.Cart),
		orders:   make(map[string]*domorder.Order),
		intents:  make(map[string]string),
	}
}

// Seed inserts products directly, for bootstrap and tests.
func (s *Store) Seed(products ...*domproduct.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range products {
		s.products[p.ID] = p.Clone()
	}
}

func (s *Store) Products() domproduct.Repository { return &productRepo{set: &repoSet{store: s}} }
func (s *Store) Carts() domcart.Repository       { return &cartRepo{set: &repoSet{store: s}} }
func (s *Store) Orders() domorder.Repository     { return &orderRepo{set: &repoSet{store: s}} }

// Atomic holds the store lock for the whole unit of work. Mutations record
// undo entries; if fn fails, the journal is replayed in reverse and nothing
// of the unit survives.
func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, r storage.Repos) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j := &journal{}
	set := &repoSet{store: s, journal: j, locked: true}
	if err := fn(ctx, txRepos{set}); err != nil {
		j.rollback()
		return err
	}
	return nil
}

type repoSet struct {
	store   *Store
	journal *journal
	locked  bool
}

// lock takes the store mutex for standalone repository calls; inside Atomic
// the mutex is already held.
func (rs *repoSet) lock() func() {
	if rs.locked {
		return func() {}
	}
	rs.store.mu.Lock()
	return rs.store.mu.Unlock
}

type txRepos struct{ set *repoSet }

func (t txRepos) Products() domproduct.Repository { return &productRepo{set: t.set} }
func (t txRepos) Carts() domcart.Repository       { return &cartRepo{set: t.set} }
func (t txRepos) Orders() domorder.Repository     { return &orderRepo{set: t.set} }

// journal collects undo closures for the current unit of work.
type journal struct {
	undo []func()
}

func (j *journal) record(fn func()) {
	if j != nil {
		j.undo = append(j.undo, fn)
	}
}

func (j *journal) rollback() {
	for i := len(j.undo) - 1; i >= 0; i-- {
		j.undo[i]()
	}
	j.undo = nil
}

type productRepo struct{ set *repoSet }

func (r *productRepo) Get(ctx context.Context, id string) (*domproduct.Product, error) {
	_ = ctx
	unlock := r.set.lock()
	defer unlock()

	p, ok := r.set.store.products[id]
	if !ok {
		return nil, domproduct.ErrNotFound
	}
	return p.Clone(), nil
}

func (r *productRepo) Save(ctx context.Context, p *domproduct.Product) error {
	_ = ctx
	if p == nil || p.ID == "" {
		return fmt.Errorf("product repository: id is required")
	}
	unlock := r.set.lock()
	defer unlock()

	store, id := r.set.store, p.ID
	prev, existed := store.products[id]
	r.set.journal.record(func() {
		if existed {
			store.products[id] = prev
		} else {
			delete(store.products, id)
		}
	})
	store.products[id] = p.Clone()
	return nil
}

type cartRepo struct{ set *repoSet }

func (r *cartRepo) Get(ctx context.Context, shopperID string) (*domcart.Cart, error) {
	_ = ctx
	unlock := r.set.lock()
	defer unlock()

	c, ok := r.set.store.carts[shopperID]
	if !ok {
		return nil, domcart.ErrNotFound
	}
	return c.Clone(), nil
}

func (r *cartRepo) Save(ctx context.Context, c *domcart.Cart) error {
	_ = ctx
	if c == nil || c.ShopperID == "" {
		return fmt.Errorf("cart repository: shopper id is required")
	}
	unlock := r.set.lock()
	defer unlock()

	store, key := r.set.store, c.ShopperID
	prev, existed := store.carts[key]
	r.set.journal.record(func() {
		if existed {
			store.carts[key] = prev
		} else {
			delete(store.carts, key)
		}
	})
	store.carts[key] = c.Clone()
	return nil
}

type orderRepo struct{ set *repoSet }

func (r *orderRepo) Insert(ctx context.Context, o *domorder.Order) error {
	_ = ctx
	if o == nil || o.ID == "" {
		return fmt.Errorf("order repository: id is required")
	}
	unlock := r.set.lock()
	defer unlock()

	store := r.set.store
	if _, exists := store.orders[o.ID]; exists {
		return storage.ErrConflict
	}
	id := o.ID
	r.set.journal.record(func() { delete(store.orders, id) })
	store.orders[id] = o.Clone()
	r.index(o)
	return nil
}

func (r *orderRepo) Get(ctx context.Context, id string) (*domorder.Order, error) {
	_ = ctx
	unlock := r.set.lock()
	defer unlock()

	o, ok := r.set.store.orders[id]
	if !ok {
		return nil, domorder.ErrNotFound
	}
	return o.Clone(), nil
}

func (r *orderRepo) Update(ctx context.Context, o *domorder.Order) error {
	_ = ctx
	if o == nil || o.ID == "" {
		return fmt.Errorf("order repository: id is required")
	}
	unlock := r.set.lock()
	defer unlock()

	store, id := r.set.store, o.ID
	prev, exists := store.orders[id]
	if !exists {
		return domorder.ErrNotFound
	}
	r.set.journal.record(func() { store.orders[id] = prev })
	store.orders[id] = o.Clone()
	r.index(o)
	return nil
}

func (r *orderRepo) FindByPaymentIntent(ctx context.Context, intentID string) (*domorder.Order, error) {
	_ = ctx
	if intentID == "" {
		return nil, domorder.ErrNotFound
	}
	unlock := r.set.lock()
	defer unlock()

	store := r.set.store
	orderID, ok := store.intents[intentID]
	if !ok {
		return nil, domorder.ErrNotFound
	}
	o, found := store.orders[orderID]
	if !found {
		return nil, domorder.ErrNotFound
	}
	return o.Clone(), nil
}

func (r *orderRepo) index(o *domorder.Order) {
	if o.PaymentIntentID == "" {
		return
	}
	store, intentID := r.set.store, o.PaymentIntentID
	prev, existed := store.intents[intentID]
	r.set.journal.record(func() {
		if existed {
			store.intents[intentID] = prev
		} else {
			delete(store.intents, intentID)
		}
	})
	store.intents[intentID] = o.ID
}
