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
	// ErrCancellationInvalidInput indicates the command failed validation.
	ErrCancellationInvalidInput = errors.New("cancel: invalid input")
	// ErrCancellationInvalidState indicates the order's status does not permit
	// cancellation. An already-cancelled order also lands here.
	ErrCancellationInvalidState = errors.New("cancel: order state not cancellable")
	// ErrCancellationWindowClosed indicates the order's same-day cancellation
	// window has elapsed.
	ErrCancellationWindowClosed = errors.New("cancel: cancellation window closed")
)

// cancellableStatuses are the order states the workflow accepts.
var cancellableStatuses = map[domain.OrderStatus]struct{}{
	domain.OrderStatusPending:    {},
	domain.OrderStatusProcessing: {},
}

// CancellationServiceDeps wires the collaborators the workflow coordinates.
type CancellationServiceDeps struct {
	Orders        repositories.OrderRepository
	Stock         StockService
	Notifications NotificationDispatcher
	Events        OrderEventPublisher
	// RestockLocation receives the returned quantities.
	RestockLocation string
	// Timezone anchors the same-calendar-day window check. Defaults to UTC.
	Timezone *time.Location
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type cancellationService struct {
	orders          repositories.OrderRepository
	stock           StockService
	notifications   NotificationDispatcher
	events          OrderEventPublisher
	restockLocation string
	timezone        *time.Location
	clock           func() time.Time
	logger          func(ctx context.Context, event string, fields map[string]any)
}

// NewCancellationService builds a CancellationService from its dependencies.
func NewCancellationService(deps CancellationServiceDeps) (CancellationService, error) {
	if deps.Orders == nil {
		return nil, fmt.Errorf("cancellation service requires order repository")
	}
	if deps.Stock == nil {
		return nil, fmt.Errorf("cancellation service requires stock service")
	}
	if deps.Notifications == nil {
		return nil, fmt.Errorf("cancellation service requires notification dispatcher")
	}
	if strings.TrimSpace(deps.RestockLocation) == "" {
		return nil, fmt.Errorf("cancellation service requires restock location")
	}
	timezone := deps.Timezone
	if timezone == nil {
		timezone = time.UTC
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &cancellationService{
		orders:          deps.Orders,
		stock:           deps.Stock,
		notifications:   deps.Notifications,
		events:          deps.Events,
		restockLocation: strings.TrimSpace(deps.RestockLocation),
		timezone:        timezone,
		clock:           clock,
		logger:          logger,
	}, nil
}

func (s *cancellationService) CancelOrder(ctx context.Context, cmd CancelOrderCommand) (CancelOrderResult, error) {
	ref := strings.TrimSpace(cmd.OrderRef)
	if ref == "" {
		return CancelOrderResult{}, fmt.Errorf("%w: order reference is required", ErrCancellationInvalidInput)
	}
	reason := strings.TrimSpace(cmd.Reason)
	if reason == "" {
		return CancelOrderResult{}, fmt.Errorf("%w: cancellation reason is required", ErrCancellationInvalidInput)
	}

	order, err := s.orders.FindByRef(ctx, ref)
	if err != nil {
		return CancelOrderResult{}, mapOrderRepositoryError(err)
	}
	now := s.clock()
	if !sameCalendarDay(order.CreatedAt, now, s.timezone) {
		return CancelOrderResult{}, fmt.Errorf("%w: order %s was placed on %s",
			ErrCancellationWindowClosed, order.OrderNumber, order.CreatedAt.In(s.timezone).Format("2006-01-02"))
	}
	if _, ok := cancellableStatuses[order.Status]; !ok {
		return CancelOrderResult{}, fmt.Errorf("%w: status is %s", ErrCancellationInvalidState, order.Status)
	}

	// Restock first so inventory is never lost if the status commit fails.
	// Each line item is attempted independently; one missing stock record must
	// not block the return of the others.
	restocks := make([]ItemRestockResult, 0, len(order.Items))
	for _, item := range order.Items {
		restock := ItemRestockResult{ProductID: item.ProductID, Quantity: item.Quantity}
		_, err := s.stock.Adjust(ctx, StockAdjustCommand{
			ProductID: item.ProductID,
			Location:  s.restockLocation,
			Delta:     item.Quantity,
			Kind:      domain.MovementCancellationRestock,
			Reason:    reason,
			ActorID:   cmd.ActorID,
			OrderRef:  order.ID,
		})
		if err != nil {
			restock.Error = err.Error()
			s.logger(ctx, "cancel.restock_failed", map[string]any{
				"orderId":   order.ID,
				"productId": item.ProductID,
				"quantity":  item.Quantity,
				"error":     err.Error(),
			})
		} else {
			restock.Restocked = true
		}
		restocks = append(restocks, restock)
	}

	previous := order.Status
	nowUTC := now.UTC()
	order.Status = domain.OrderStatusCancelled
	order.Cancel = &domain.Cancellation{
		Reason:      reason,
		CancelledBy: strings.TrimSpace(cmd.ActorID),
		CancelledAt: nowUTC,
	}
	order.UpdatedAt = nowUTC
	if err := s.orders.Update(ctx, order, previous); err != nil {
		return CancelOrderResult{}, mapOrderRepositoryError(err)
	}

	s.publishCancelled(ctx, order, previous, cmd, nowUTC)
	notification := s.notifications.Notify(ctx, order, NotificationEventCancelled)
	if notification.Outcome != OutcomeDelivered {
		s.logger(ctx, "cancel.notification_not_delivered", map[string]any{
			"orderId": order.ID,
			"outcome": string(notification.Outcome),
			"error":   notification.Error,
		})
	}

	return CancelOrderResult{
		Order:        order,
		Restocks:     restocks,
		Notification: notification,
	}, nil
}

func (s *cancellationService) publishCancelled(ctx context.Context, order domain.Order, previous domain.OrderStatus, cmd CancelOrderCommand, now time.Time) {
	if s.events == nil {
		return
	}
	err := s.events.PublishOrderEvent(ctx, OrderEvent{
		Type:           "order.status.changed",
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		PreviousStatus: previous,
		CurrentStatus:  order.Status,
		ActorID:        cmd.ActorID,
		Reason:         cmd.Reason,
		OccurredAt:     now,
	})
	if err != nil {
		s.logger(ctx, "order.event.publish_failed", map[string]any{
			"type":    "order.status.changed",
			"orderId": order.ID,
			"error":   err.Error(),
		})
	}
}

func sameCalendarDay(a, b time.Time, loc *time.Location) bool {
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}
