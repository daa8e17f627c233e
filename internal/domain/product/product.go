package product

import (
	"errors"
	"time"
)

var (
	ErrNotFound          = errors.New("product: not found")
	ErrInvalidQuantity   = errors.New("product: quantity must be greater than zero")
	ErrInvalidPrice      = errors.New("product: price must be zero or greater")
	ErrInsufficientStock = errors.New("product: insufficient stock")
)

// Status is derived from the stock counter and never stored independently.
type Status string

const (
	StatusInStock  Status = "In Stock"
	StatusStockOut Status = "Stock Out"
)

type Product struct {
	ID        string
	Name      string
	Price     float64
	Discount  float64 // percent off the list price
	Stock     int
	CreatedAt time.Time
	UpdatedAt time.Time
}

func New(id, name string, price, discount float64, stock int) (*Product, error) {
	if price < 0 {
		return nil, ErrInvalidPrice
	}
	if stock < 0 {
		return nil, ErrInvalidQuantity
	}
	now := time.Now().UTC()
	return &Product{
		ID:        id,
		Name:      name,
		Price:     price,
		Discount:  discount,
		Stock:     stock,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// FinalPrice is the unit price after discount.
func (p *Product) FinalPrice() float64 {
	return p.Price - (p.Price*p.Discount)/100
}

func (p *Product) Status() Status {
	if p.Stock > 0 {
		return StatusInStock
	}
	return StatusStockOut
}

// Reserve decrements available stock. The stock counter never goes negative.
func (p *Product) Reserve(quantity int) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	if quantity > p.Stock {
		return ErrInsufficientStock
	}
	p.Stock -= quantity
	p.touch()
	return nil
}

// Release returns previously reserved stock. There is no upper bound.
func (p *Product) Release(quantity int) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	p.Stock += quantity
	p.touch()
	return nil
}

func (p *Product) Clone() *Product {
	if p == nil {
		return nil
	}
	clone := *p
	return &clone
}

func (p *Product) touch() {
	p.UpdatedAt = time.Now().UTC()
}
