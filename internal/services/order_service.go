package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/lula-tea/api/internal/domain"
	"github.com/lula-tea/api/internal/repositories"
)

var (
	// ErrOrderInvalidInput indicates the command failed validation.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the referenced order does not exist.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidTransition indicates the requested status is not an
	// allowed successor of the order's current status.
	ErrOrderInvalidTransition = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates a concurrent update won the guarded commit.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderUnavailable indicates a repository/infrastructure failure.
	ErrOrderUnavailable = errors.New("order: repository unavailable")
)

// orderStatusTransitions is the allowed-successor map of the lifecycle. The
// cancelled edges exist for pending, confirmed and processing, but the commit
// to cancelled is reserved for the cancellation workflow.
var orderStatusTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPending:    {domain.OrderStatusConfirmed, domain.OrderStatusCancelled},
	domain.OrderStatusConfirmed:  {domain.OrderStatusProcessing, domain.OrderStatusCancelled},
	domain.OrderStatusProcessing: {domain.OrderStatusShipped, domain.OrderStatusCancelled},
	domain.OrderStatusShipped:    {domain.OrderStatusDelivered},
	domain.OrderStatusDelivered:  {},
	domain.OrderStatusCancelled:  {},
}

func canTransition(from, to domain.OrderStatus) bool {
	for _, next := range orderStatusTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// OrderServiceDeps wires repository, event and observability dependencies.
type OrderServiceDeps struct {
	Orders repositories.OrderRepository
	Events OrderEventPublisher
	// Notifications delivers the customer message after a committed
	// transition. Optional; transitions commit without it.
	Notifications NotificationDispatcher
	Clock         func() time.Time
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders        repositories.OrderRepository
	events        OrderEventPublisher
	notifications NotificationDispatcher
	clock         func() time.Time
	logger        func(ctx context.Context, event string, fields map[string]any)
}

// NewOrderService builds an OrderService from its dependencies.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, fmt.Errorf("order service requires order repository")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &orderService{
		orders:        deps.Orders,
		events:        deps.Events,
		notifications: deps.Notifications,
		clock:         clock,
		logger:        logger,
	}, nil
}

func (s *orderService) GetOrder(ctx context.Context, ref string) (domain.Order, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return domain.Order{}, fmt.Errorf("%w: order reference is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByRef(ctx, ref)
	if err != nil {
		return domain.Order{}, mapOrderRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error) {
	for _, status := range filter.Statuses {
		if !isKnownOrderStatus(status) {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, status)
		}
	}
	page, err := s.orders.List(ctx, repositories.OrderListFilter{
		Statuses:   filter.Statuses,
		CreatedAt:  filter.CreatedAt,
		Pagination: filter.Pagination,
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, mapOrderRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (OrderStatusTransition, error) {
	ref := strings.TrimSpace(cmd.OrderRef)
	if ref == "" {
		return OrderStatusTransition{}, fmt.Errorf("%w: order reference is required", ErrOrderInvalidInput)
	}
	if !isKnownOrderStatus(cmd.TargetStatus) {
		return OrderStatusTransition{}, fmt.Errorf("%w: unknown target status %q", ErrOrderInvalidInput, cmd.TargetStatus)
	}
	if cmd.TargetStatus == domain.OrderStatusCancelled {
		return OrderStatusTransition{}, fmt.Errorf("%w: cancellation must go through the cancellation workflow", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByRef(ctx, ref)
	if err != nil {
		return OrderStatusTransition{}, mapOrderRepositoryError(err)
	}
	previous := order.Status
	if !canTransition(previous, cmd.TargetStatus) {
		return OrderStatusTransition{}, fmt.Errorf("%w: %s -> %s", ErrOrderInvalidTransition, previous, cmd.TargetStatus)
	}

	now := s.clock().UTC()
	order.Status = cmd.TargetStatus
	order.UpdatedAt = now
	applyStatusTimestamp(&order, cmd.TargetStatus, now)

	if err := s.orders.Update(ctx, order, previous); err != nil {
		return OrderStatusTransition{}, mapOrderRepositoryError(err)
	}

	s.publishOrderEvent(ctx, OrderEvent{
		Type:           "order.status.changed",
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		PreviousStatus: previous,
		CurrentStatus:  order.Status,
		ActorID:        cmd.ActorID,
		Reason:         cmd.Reason,
		OccurredAt:     now,
	})

	result := OrderStatusTransition{Order: order}
	result.Notification = s.notifyStatusChange(ctx, order)
	return result, nil
}

// notifyStatusChange runs after the commit; a failed delivery is reported in
// the result, never as a transition error.
func (s *orderService) notifyStatusChange(ctx context.Context, order domain.Order) *NotificationResult {
	if s.notifications == nil {
		return nil
	}
	event, ok := NotificationEventForStatus(order.Status)
	if !ok {
		return nil
	}
	notification := s.notifications.Notify(ctx, order, event)
	if notification.Outcome != OutcomeDelivered {
		s.logger(ctx, "order.notification_not_delivered", map[string]any{
			"orderId": order.ID,
			"event":   string(event),
			"outcome": string(notification.Outcome),
			"error":   notification.Error,
		})
	}
	return &notification
}

func applyStatusTimestamp(order *domain.Order, status domain.OrderStatus, now time.Time) {
	switch status {
	case domain.OrderStatusConfirmed:
		order.ConfirmedAt = &now
	case domain.OrderStatusShipped:
		order.ShippedAt = &now
	case domain.OrderStatusDelivered:
		order.DeliveredAt = &now
	}
}

func (s *orderService) publishOrderEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish_failed", map[string]any{
			"type":    event.Type,
			"orderId": event.OrderID,
			"error":   err.Error(),
		})
	}
}

func isKnownOrderStatus(status domain.OrderStatus) bool {
	_, ok := orderStatusTransitions[status]
	return ok
}

func mapOrderRepositoryError(err error) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
		}
	}
	return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
}
