package order

import "time"

// OrderCreatedEvent is emitted after a checkout commits. It is consumed by
// collaborator contexts (notification, analytics) outside this core.
type OrderCreatedEvent struct {
	OrderID     string
	ShopperID   string
	TotalAmount float64
	OccurredAt  time.Time
}

func (OrderCreatedEvent) EventName() string { return "order.created" }

func NewOrderCreatedEvent(o *Order) OrderCreatedEvent {
	return OrderCreatedEvent{
		OrderID:     o.ID,
		ShopperID:   o.ShopperID,
		TotalAmount: o.TotalAmount,
		OccurredAt:  time.Now().UTC(),
	}
}

// OrderPaidEvent is emitted after a "payment succeeded" webhook commits.
type OrderPaidEvent struct {
	OrderID    string
	ShopperID  string
	OccurredAt time.Time
}

func (OrderPaidEvent) EventName() string { return "order.paid" }

func NewOrderPaidEvent(o *Order) OrderPaidEvent {
	return OrderPaidEvent{
		OrderID:    o.ID,
		ShopperID:  o.ShopperID,
		OccurredAt: time.Now().UTC(),
	}
}

// OrderCancelledEvent is emitted after a "payment failed" webhook commits.
type OrderCancelledEvent struct {
	OrderID    string
	ShopperID  string
	OccurredAt time.Time
}

func (OrderCancelledEvent) EventName() string { return "order.cancelled" }

func NewOrderCancelledEvent(o *Order) OrderCancelledEvent {
	return OrderCancelledEvent{
		OrderID:    o.ID,
		ShopperID:  o.ShopperID,
		OccurredAt: time.Now().UTC(),
	}
}
