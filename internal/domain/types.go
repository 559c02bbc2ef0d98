package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage wraps a page of results plus the token for the next page.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending indicates the order was placed and awaits confirmation.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusConfirmed indicates the order has been confirmed by the shop.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusProcessing indicates the order is being prepared for shipment.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped indicates the order has left a fulfillment location.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered indicates the order reached the customer. Terminal.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled indicates the order was cancelled. Terminal.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Customer carries the contact details used to notify the buyer.
type Customer struct {
	Name     string
	Phone    string
	Email    string
	Language string
}

// OrderLineItem snapshots a purchased product at order time. UnitPrice is the
// price captured at checkout and is never re-derived from the current catalog.
type OrderLineItem struct {
	ProductID string
	Name      string
	Quantity  int
	UnitPrice int64
	Total     int64
}

// Cancellation records why and when an order was cancelled.
type Cancellation struct {
	Reason      string
	CancelledBy string
	CancelledAt time.Time
}

// Order is the purchase aggregate. Status is owned by the order service;
// cancellation metadata by the cancellation workflow.
type Order struct {
	ID          string
	OrderNumber string
	Customer    Customer
	Items       []OrderLineItem
	Subtotal    int64
	DeliveryFee int64
	Total       int64
	Status      OrderStatus
	Cancel      *Cancellation
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ConfirmedAt *time.Time
	ShippedAt   *time.Time
	DeliveredAt *time.Time
}

// ProductStock tracks the quantity of one product across fulfillment locations.
// TotalQuantity is always the sum of the per-location quantities.
type ProductStock struct {
	ProductID     string
	Name          string
	Locations     map[string]int
	TotalQuantity int
	LowStockAt    int
	UpdatedAt     time.Time
}

// QuantityAt returns the quantity held at the given location.
func (s ProductStock) QuantityAt(location string) int {
	if s.Locations == nil {
		return 0
	}
	return s.Locations[location]
}

// MovementKind classifies a stock movement for the audit trail.
type MovementKind string

const (
	// MovementRestock records stock received at a location.
	MovementRestock MovementKind = "restock"
	// MovementAdjustment records a manual signed correction by an operator.
	MovementAdjustment MovementKind = "adjustment"
	// MovementSale records the decrement performed at checkout.
	MovementSale MovementKind = "sale"
	// MovementCancellationRestock records stock returned by an order cancellation.
	MovementCancellationRestock MovementKind = "cancellation-restock"
)

// StockMovement is the immutable ledger entry written alongside every stock
// change. Replaying all movements for a (product, location) from zero must
// reproduce the stored quantity.
type StockMovement struct {
	ID             string
	ProductID      string
	OrderRef       string
	Location       string
	Kind           MovementKind
	Delta          int
	QuantityBefore int
	QuantityAfter  int
	Reason         string
	ActorID        string
	CreatedAt      time.Time
}
