package cart

import (
	"errors"
	"time"
)

var (
	ErrNotFound        = errors.New("cart: not found")
	ErrEmpty           = errors.New("cart: cart is empty")
	ErrInvalidQuantity = errors.New("cart: quantity must be greater than zero")
	ErrItemNotInCart   = errors.New("cart: product is not in the cart")
)

type Item struct {
	ProductID string
	Quantity  int
}

// Cart is the single cart owned by one shopper. Items keep insertion order
// and product ids are unique within the list. ItemCount and TotalPrice are
// derived and must be recomputed after every mutation.
type Cart struct {
	ID         string
	ShopperID  string
	Items      []Item
	ItemCount  int
	TotalPrice float64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func New(id, shopperID string) *Cart {
	now := time.Now().UTC()
	return &Cart{
		ID:        id,
		ShopperID: shopperID,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Find returns the index of the line item for productID, or -1.
func (c *Cart) Find(productID string) int {
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			return i
		}
	}
	return -1
}

// Merge adds quantity to an existing line item or appends a new one.
func (c *Cart) Merge(productID string, quantity int) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	if i := c.Find(productID); i >= 0 {
		c.Items[i].Quantity += quantity
	} else {
		c.Items = append(c.Items, Item{ProductID: productID, Quantity: quantity})
	}
	return nil
}

// Adjust changes a line item's quantity by delta, removing the line entirely
// when its quantity reaches zero.
func (c *Cart) Adjust(productID string, delta int) error {
	i := c.Find(productID)
	if i < 0 {
		return ErrItemNotInCart
	}
	c.Items[i].Quantity += delta
	if c.Items[i].Quantity <= 0 {
		c.Items = append(c.Items[:i], c.Items[i+1:]...)
	}
	return nil
}

// Remove deletes the line item for productID and reports whether it existed.
func (c *Cart) Remove(productID string) (Item, bool) {
	i := c.Find(productID)
	if i < 0 {
		return Item{}, false
	}
	removed := c.Items[i]
	c.Items = append(c.Items[:i], c.Items[i+1:]...)
	return removed, true
}

func (c *Cart) Clear() {
	c.Items = nil
}

// Recompute derives ItemCount and TotalPrice from the line items and the
// given unit prices. Callers run it after every mutation; the derived fields
// are never written independently of their inputs.
func (c *Cart) Recompute(unitPrices map[string]float64) {
	count := 0
	total := 0.0
	for _, item := range c.Items {
		count += item.Quantity
		total += float64(item.Quantity) * unitPrices[item.ProductID]
	}
	c.ItemCount = count
	c.TotalPrice = total
	c.UpdatedAt = time.Now().UTC()
}

func (c *Cart) Clone() *Cart {
	if c == nil {
		return nil
	}
	clone := *c
	clone.Items = append([]Item(nil), c.Items...)
	return &clone
}
