package services

import (
	"context"
	"time"

	domain "github.com/lula-tea/api/internal/domain"
)

// OrderService owns the order status lifecycle. TransitionStatus performs the
// guarded status commit and then notifies the customer; restock side effects
// belong to the cancellation workflow.
type OrderService interface {
	GetOrder(ctx context.Context, ref string) (domain.Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (OrderStatusTransition, error)
}

// OrderStatusTransitionCommand requests one lifecycle transition.
type OrderStatusTransitionCommand struct {
	OrderRef     string
	TargetStatus domain.OrderStatus
	ActorID      string
	Reason       string
}

// OrderStatusTransition is the outcome of one committed lifecycle change. The
// status write has already happened; Notification reports the customer message
// attempt and is nil when no dispatcher is configured.
type OrderStatusTransition struct {
	Order        domain.Order
	Notification *NotificationResult
}

// OrderListFilter narrows order listings.
type OrderListFilter struct {
	Statuses   []domain.OrderStatus
	CreatedAt  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}

// StockService is the stock ledger: Adjust is the only sanctioned mutation
// path for quantities, so the derived total and the per-location counts can
// never drift apart.
type StockService interface {
	Adjust(ctx context.Context, cmd StockAdjustCommand) (StockAdjustment, error)
	GetStock(ctx context.Context, productID string) (domain.ProductStock, error)
	ListMovements(ctx context.Context, filter MovementFilter) (domain.CursorPage[domain.StockMovement], error)
	ListLowStock(ctx context.Context, filter LowStockFilter) (domain.CursorPage[domain.ProductStock], error)
}

// StockAdjustCommand applies one signed delta to a (product, location) pair.
type StockAdjustCommand struct {
	ProductID string
	Location  string
	Delta     int
	Kind      domain.MovementKind
	Reason    string
	ActorID   string
	OrderRef  string
}

// StockAdjustment reports the quantities observed by the committed adjustment.
type StockAdjustment struct {
	Stock          domain.ProductStock
	Movement       domain.StockMovement
	QuantityBefore int
	Delta          int
	QuantityAfter  int
}

// MovementFilter narrows ledger listings.
type MovementFilter struct {
	ProductID  string
	Location   string
	OrderRef   string
	Pagination domain.Pagination
}

// LowStockFilter pages products at or below a total-quantity threshold.
type LowStockFilter struct {
	Threshold  int
	Pagination domain.Pagination
}

// CancellationService orchestrates cancel-order as one logical operation:
// restock every line item, commit the cancelled status, notify the customer.
// It coordinates the order store and the ledger but owns neither.
type CancellationService interface {
	CancelOrder(ctx context.Context, cmd CancelOrderCommand) (CancelOrderResult, error)
}

// CancelOrderCommand requests cancellation of one order.
type CancelOrderCommand struct {
	OrderRef string
	Reason   string
	ActorID  string
}

// ItemRestockResult reports the outcome of one line item's restock attempt.
type ItemRestockResult struct {
	ProductID string
	Quantity  int
	Restocked bool
	Error     string
}

// CancelOrderResult aggregates the cancellation outcome so callers can surface
// partial restock failures without the operation itself failing.
type CancelOrderResult struct {
	Order        domain.Order
	Restocks     []ItemRestockResult
	Notification NotificationResult
}

// NotificationEvent names an order transition that warrants a customer message.
type NotificationEvent string

const (
	// NotificationEventConfirmed announces order confirmation.
	NotificationEventConfirmed NotificationEvent = "confirmed"
	// NotificationEventProcessing announces the order is being prepared.
	NotificationEventProcessing NotificationEvent = "processing"
	// NotificationEventShipped announces shipment.
	NotificationEventShipped NotificationEvent = "shipped"
	// NotificationEventDelivered announces delivery.
	NotificationEventDelivered NotificationEvent = "delivered"
	// NotificationEventCancelled announces cancellation.
	NotificationEventCancelled NotificationEvent = "cancelled"
)

// NotificationOutcome is the delivery status reported to the caller, distinct
// from the business operation's own status.
type NotificationOutcome string

const (
	// OutcomeDelivered means one of the automated channels accepted the message.
	OutcomeDelivered NotificationOutcome = "delivered"
	// OutcomeFailed means every eligible channel was attempted and failed.
	OutcomeFailed NotificationOutcome = "failed"
	// OutcomeChannelUnavailable means no automated channel's prerequisites were
	// met; the manual fallback link is the only delivery path.
	OutcomeChannelUnavailable NotificationOutcome = "channel-unavailable"
)

// NotificationResult reports how (or whether) the customer was reached. The
// fallback link lets a human operator deliver the message by hand.
type NotificationResult struct {
	Event        NotificationEvent
	Outcome      NotificationOutcome
	Channel      string
	Message      string
	FallbackLink string
	Error        string
}

// NotificationDispatcher composes a localized message for an order transition
// and delivers it through the channel chain. A communication failure is always
// reported as data, never as an error that could abort the business operation
// that triggered it. Repeat sends for the same event are the caller's concern.
type NotificationDispatcher interface {
	Notify(ctx context.Context, order domain.Order, event NotificationEvent) NotificationResult
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Type           string
	OrderID        string
	OrderNumber    string
	PreviousStatus domain.OrderStatus
	CurrentStatus  domain.OrderStatus
	ActorID        string
	Reason         string
	OccurredAt     time.Time
}

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// StockEvent captures metadata for emitted stock ledger events.
type StockEvent struct {
	Type           string
	ProductID      string
	Location       string
	Kind           domain.MovementKind
	Delta          int
	QuantityAfter  int
	TotalQuantity  int
	LowStockAt     int
	OrderRef       string
	ActorID        string
	OccurredAt     time.Time
}

// StockEventPublisher publishes stock ledger events for downstream consumers.
type StockEventPublisher interface {
	PublishStockEvent(ctx context.Context, event StockEvent) error
}
