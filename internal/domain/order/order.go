package order

import (
	"errors"
	"time"
)

var (
	ErrNotFound           = errors.New("order: not found")
	ErrAddressRequired    = errors.New("order: shipping and billing addresses are required")
	ErrNoItems            = errors.New("order: at least one item is required")
	ErrInvalidQuantity    = errors.New("order: quantity must be greater than zero")
	ErrProductUnavailable = errors.New("order: one of the cart products was not found")
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusShipped   Status = "shipped"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

type PaymentStatus string

const (
	PaymentUnpaid     PaymentStatus = "unpaid"
	PaymentProcessing PaymentStatus = "processing"
	PaymentPaid       PaymentStatus = "paid"
	PaymentFailed     PaymentStatus = "failed"
)

type Address struct {
	Street  string `json:"street"`
	City    string `json:"city"`
	State   string `json:"state"`
	ZipCode string `json:"zipCode"`
	Country string `json:"country"`
}

func (a Address) Valid() bool {
	return a.Street != "" && a.City != "" && a.State != "" && a.ZipCode != "" && a.Country != ""
}

// Item is a snapshot of a cart line at checkout time. UnitPrice is copied
// from the catalog once and never recomputed from current prices.
type Item struct {
	ProductID string  `json:"productId"`
	Name      string  `json:"name"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unitPrice"`
}

// Order is immutable after creation except for Status, PaymentStatus and the
// payment intent id attached once the gateway call succeeds.
type Order struct {
	ID              string
	ShopperID       string
	Items           []Item
	TotalAmount     float64
	Status          Status
	PaymentStatus   PaymentStatus
	PaymentIntentID string
	ShippingAddress Address
	BillingAddress  Address
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func New(id, shopperID string, items []Item, shipping, billing Address) (*Order, error) {
	if !shipping.Valid() || !billing.Valid() {
		return nil, ErrAddressRequired
	}
	if len(items) == 0 {
		return nil, ErrNoItems
	}
	total := 0.0
	for _, item := range items {
		if item.Quantity <= 0 {
			return nil, ErrInvalidQuantity
		}
		total += float64(item.Quantity) * item.UnitPrice
	}

	now := time.Now().UTC()
	return &Order{
		ID:              id,
		ShopperID:       shopperID,
		Items:           append([]Item(nil), items...),
		TotalAmount:     total,
		Status:          StatusPending,
		PaymentStatus:   PaymentUnpaid,
		ShippingAddress: shipping,
		BillingAddress:  billing,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// Terminal reports whether the order reached a final payment outcome.
// Terminal states accept no further transitions.
func (o *Order) Terminal() bool {
	return o.Status == StatusPaid || o.Status == StatusCancelled
}

func (o *Order) AttachPaymentIntent(intentID string) {
	o.PaymentIntentID = intentID
	o.touch()
}

// MarkPaid applies the "payment succeeded" transition and reports whether a
// state change happened. Replays of the same event are no-ops.
func (o *Order) MarkPaid() bool {
	if o.Terminal() {
		return false
	}
	o.Status = StatusPaid
	o.PaymentStatus = PaymentPaid
	o.touch()
	return true
}

// MarkPaymentFailed applies the "payment failed" transition and reports
// whether a state change happened.
func (o *Order) MarkPaymentFailed() bool {
	if o.Terminal() {
		return false
	}
	o.Status = StatusCancelled
	o.PaymentStatus = PaymentFailed
	o.touch()
	return true
}

func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	clone := *o
	clone.Items = append([]Item(nil), o.Items...)
	return &clone
}

func (o *Order) touch() {
	o.UpdatedAt = time.Now().UTC()
}
