package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/lula-tea/api/internal/domain"
	"github.com/lula-tea/api/internal/repositories"
)

type stubOrderRepository struct {
	insertFn    func(ctx context.Context, order domain.Order) error
	updateFn    func(ctx context.Context, order domain.Order, expectedStatus domain.OrderStatus) error
	findByIDFn  func(ctx context.Context, orderID string) (domain.Order, error)
	findByRefFn func(ctx context.Context, ref string) (domain.Order, error)
	listFn      func(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error)
}

func (s *stubOrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if s.insertFn != nil {
		return s.insertFn(ctx, order)
	}
	return errors.New("insert not stubbed")
}

func (s *stubOrderRepository) Update(ctx context.Context, order domain.Order, expectedStatus domain.OrderStatus) error {
	if s.updateFn != nil {
		return s.updateFn(ctx, order, expectedStatus)
	}
	return errors.New("update not stubbed")
}

func (s *stubOrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if s.findByIDFn != nil {
		return s.findByIDFn(ctx, orderID)
	}
	return domain.Order{}, errors.New("findByID not stubbed")
}

func (s *stubOrderRepository) FindByRef(ctx context.Context, ref string) (domain.Order, error) {
	if s.findByRefFn != nil {
		return s.findByRefFn(ctx, ref)
	}
	return domain.Order{}, errors.New("findByRef not stubbed")
}

func (s *stubOrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[domain.Order]{}, errors.New("list not stubbed")
}

type captureOrderEvents struct {
	events []OrderEvent
	err    error
}

func (c *captureOrderEvents) PublishOrderEvent(_ context.Context, event OrderEvent) error {
	c.events = append(c.events, event)
	return c.err
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func newTestOrder(status domain.OrderStatus) domain.Order {
	created := time.Date(2025, 6, 12, 9, 30, 0, 0, time.UTC)
	return domain.Order{
		ID:          "ord_01HZX4T9",
		OrderNumber: "LT-2025-0042",
		Customer: domain.Customer{
			Name:     "Amina",
			Phone:    "+212612345678",
			Email:    "amina@example.com",
			Language: "fr",
		},
		Items: []domain.OrderLineItem{
			{ProductID: "prod_a", Name: "Mint Green Tea", Quantity: 2, UnitPrice: 4500, Total: 9000},
			{ProductID: "prod_b", Name: "Ceramic Teapot", Quantity: 1, UnitPrice: 18000, Total: 18000},
		},
		Subtotal:    27000,
		DeliveryFee: 3000,
		Total:       30000,
		Status:      status,
		CreatedAt:   created,
		UpdatedAt:   created,
	}
}

func TestTransitionStatusFollowsLifecycle(t *testing.T) {
	cases := []struct {
		name    string
		from    domain.OrderStatus
		to      domain.OrderStatus
		wantErr error
	}{
		{name: "pending to confirmed", from: domain.OrderStatusPending, to: domain.OrderStatusConfirmed},
		{name: "confirmed to processing", from: domain.OrderStatusConfirmed, to: domain.OrderStatusProcessing},
		{name: "processing to shipped", from: domain.OrderStatusProcessing, to: domain.OrderStatusShipped},
		{name: "shipped to delivered", from: domain.OrderStatusShipped, to: domain.OrderStatusDelivered},
		{name: "pending cannot skip to processing", from: domain.OrderStatusPending, to: domain.OrderStatusProcessing, wantErr: ErrOrderInvalidTransition},
		{name: "pending cannot skip to shipped", from: domain.OrderStatusPending, to: domain.OrderStatusShipped, wantErr: ErrOrderInvalidTransition},
		{name: "shipped cannot regress to processing", from: domain.OrderStatusShipped, to: domain.OrderStatusProcessing, wantErr: ErrOrderInvalidTransition},
		{name: "delivered is terminal", from: domain.OrderStatusDelivered, to: domain.OrderStatusConfirmed, wantErr: ErrOrderInvalidTransition},
		{name: "cancelled is terminal", from: domain.OrderStatusCancelled, to: domain.OrderStatusConfirmed, wantErr: ErrOrderInvalidTransition},
		{name: "same status is not a transition", from: domain.OrderStatusConfirmed, to: domain.OrderStatusConfirmed, wantErr: ErrOrderInvalidTransition},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			order := newTestOrder(tc.from)
			repo := &stubOrderRepository{
				findByRefFn: func(_ context.Context, ref string) (domain.Order, error) {
					if ref != order.ID {
						t.Fatalf("unexpected ref %q", ref)
					}
					return order, nil
				},
				updateFn: func(_ context.Context, updated domain.Order, expectedStatus domain.OrderStatus) error {
					if expectedStatus != tc.from {
						t.Fatalf("expected guard status %s, got %s", tc.from, expectedStatus)
					}
					if updated.Status != tc.to {
						t.Fatalf("expected status %s, got %s", tc.to, updated.Status)
					}
					return nil
				},
			}
			svc, err := NewOrderService(OrderServiceDeps{Orders: repo, Clock: fixedClock(time.Date(2025, 6, 12, 10, 0, 0, 0, time.UTC))})
			if err != nil {
				t.Fatalf("NewOrderService: %v", err)
			}

			_, err = svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
				OrderRef:     order.ID,
				TargetStatus: tc.to,
				ActorID:      "staff_1",
			})
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("TransitionStatus: %v", err)
			}
		})
	}
}

func TestTransitionStatusRejectsDirectCancellation(t *testing.T) {
	svc, err := NewOrderService(OrderServiceDeps{Orders: &stubOrderRepository{}})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}
	_, err = svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
		OrderRef:     "ord_01HZX4T9",
		TargetStatus: domain.OrderStatusCancelled,
	})
	if !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected ErrOrderInvalidInput, got %v", err)
	}
}

func TestTransitionStatusStampsLifecycleTimestamps(t *testing.T) {
	now := time.Date(2025, 6, 12, 10, 0, 0, 0, time.UTC)
	cases := []struct {
		from  domain.OrderStatus
		to    domain.OrderStatus
		check func(t *testing.T, order domain.Order)
	}{
		{
			from: domain.OrderStatusPending,
			to:   domain.OrderStatusConfirmed,
			check: func(t *testing.T, order domain.Order) {
				if order.ConfirmedAt == nil || !order.ConfirmedAt.Equal(now) {
					t.Fatalf("expected ConfirmedAt %v, got %v", now, order.ConfirmedAt)
				}
			},
		},
		{
			from: domain.OrderStatusProcessing,
			to:   domain.OrderStatusShipped,
			check: func(t *testing.T, order domain.Order) {
				if order.ShippedAt == nil || !order.ShippedAt.Equal(now) {
					t.Fatalf("expected ShippedAt %v, got %v", now, order.ShippedAt)
				}
			},
		},
		{
			from: domain.OrderStatusShipped,
			to:   domain.OrderStatusDelivered,
			check: func(t *testing.T, order domain.Order) {
				if order.DeliveredAt == nil || !order.DeliveredAt.Equal(now) {
					t.Fatalf("expected DeliveredAt %v, got %v", now, order.DeliveredAt)
				}
			},
		},
	}

	for _, tc := range cases {
		t.Run(string(tc.to), func(t *testing.T) {
			order := newTestOrder(tc.from)
			var committed domain.Order
			repo := &stubOrderRepository{
				findByRefFn: func(context.Context, string) (domain.Order, error) { return order, nil },
				updateFn: func(_ context.Context, updated domain.Order, _ domain.OrderStatus) error {
					committed = updated
					return nil
				},
			}
			svc, err := NewOrderService(OrderServiceDeps{Orders: repo, Clock: fixedClock(now)})
			if err != nil {
				t.Fatalf("NewOrderService: %v", err)
			}
			if _, err := svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
				OrderRef:     order.ID,
				TargetStatus: tc.to,
			}); err != nil {
				t.Fatalf("TransitionStatus: %v", err)
			}
			if !committed.UpdatedAt.Equal(now) {
				t.Fatalf("expected UpdatedAt %v, got %v", now, committed.UpdatedAt)
			}
			tc.check(t, committed)
		})
	}
}

func TestTransitionStatusPublishesEvent(t *testing.T) {
	order := newTestOrder(domain.OrderStatusPending)
	events := &captureOrderEvents{}
	repo := &stubOrderRepository{
		findByRefFn: func(context.Context, string) (domain.Order, error) { return order, nil },
		updateFn:    func(context.Context, domain.Order, domain.OrderStatus) error { return nil },
	}
	svc, err := NewOrderService(OrderServiceDeps{
		Orders: repo,
		Events: events,
		Clock:  fixedClock(time.Date(2025, 6, 12, 10, 0, 0, 0, time.UTC)),
	})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}

	if _, err := svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
		OrderRef:     order.ID,
		TargetStatus: domain.OrderStatusConfirmed,
		ActorID:      "staff_1",
	}); err != nil {
		t.Fatalf("TransitionStatus: %v", err)
	}
	if len(events.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events.events))
	}
	event := events.events[0]
	if event.Type != "order.status.changed" {
		t.Fatalf("unexpected event type %q", event.Type)
	}
	if event.PreviousStatus != domain.OrderStatusPending || event.CurrentStatus != domain.OrderStatusConfirmed {
		t.Fatalf("unexpected statuses %s -> %s", event.PreviousStatus, event.CurrentStatus)
	}
}

func TestTransitionStatusPublishFailureDoesNotFailOperation(t *testing.T) {
	order := newTestOrder(domain.OrderStatusPending)
	repo := &stubOrderRepository{
		findByRefFn: func(context.Context, string) (domain.Order, error) { return order, nil },
		updateFn:    func(context.Context, domain.Order, domain.OrderStatus) error { return nil },
	}
	svc, err := NewOrderService(OrderServiceDeps{
		Orders: repo,
		Events: &captureOrderEvents{err: errors.New("broker down")},
	})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}
	if _, err := svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
		OrderRef:     order.ID,
		TargetStatus: domain.OrderStatusConfirmed,
	}); err != nil {
		t.Fatalf("TransitionStatus: %v", err)
	}
}

func TestTransitionStatusNotifiesCustomer(t *testing.T) {
	cases := []struct {
		from      domain.OrderStatus
		to        domain.OrderStatus
		wantEvent NotificationEvent
	}{
		{from: domain.OrderStatusPending, to: domain.OrderStatusConfirmed, wantEvent: NotificationEventConfirmed},
		{from: domain.OrderStatusConfirmed, to: domain.OrderStatusProcessing, wantEvent: NotificationEventProcessing},
		{from: domain.OrderStatusProcessing, to: domain.OrderStatusShipped, wantEvent: NotificationEventShipped},
		{from: domain.OrderStatusShipped, to: domain.OrderStatusDelivered, wantEvent: NotificationEventDelivered},
	}

	for _, tc := range cases {
		t.Run(string(tc.to), func(t *testing.T) {
			order := newTestOrder(tc.from)
			notifier := &stubNotifier{result: NotificationResult{Outcome: OutcomeDelivered, Channel: "whatsapp"}}
			repo := &stubOrderRepository{
				findByRefFn: func(context.Context, string) (domain.Order, error) { return order, nil },
				updateFn:    func(context.Context, domain.Order, domain.OrderStatus) error { return nil },
			}
			svc, err := NewOrderService(OrderServiceDeps{
				Orders:        repo,
				Notifications: notifier,
				Clock:         fixedClock(time.Date(2025, 6, 12, 10, 0, 0, 0, time.UTC)),
			})
			if err != nil {
				t.Fatalf("NewOrderService: %v", err)
			}

			result, err := svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
				OrderRef:     order.ID,
				TargetStatus: tc.to,
				ActorID:      "staff_1",
			})
			if err != nil {
				t.Fatalf("TransitionStatus: %v", err)
			}
			if len(notifier.calls) != 1 || notifier.calls[0] != tc.wantEvent {
				t.Fatalf("expected one %s notification, got %v", tc.wantEvent, notifier.calls)
			}
			if result.Notification == nil {
				t.Fatal("expected notification in transition result")
			}
			if result.Notification.Event != tc.wantEvent || result.Notification.Outcome != OutcomeDelivered {
				t.Fatalf("unexpected notification %+v", result.Notification)
			}
		})
	}
}

func TestTransitionStatusNotificationFailureDoesNotFailOperation(t *testing.T) {
	order := newTestOrder(domain.OrderStatusProcessing)
	notifier := &stubNotifier{result: NotificationResult{Outcome: OutcomeFailed, Error: "whatsapp 500"}}
	var committed bool
	repo := &stubOrderRepository{
		findByRefFn: func(context.Context, string) (domain.Order, error) { return order, nil },
		updateFn: func(context.Context, domain.Order, domain.OrderStatus) error {
			committed = true
			return nil
		},
	}
	svc, err := NewOrderService(OrderServiceDeps{Orders: repo, Notifications: notifier})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}

	result, err := svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
		OrderRef:     order.ID,
		TargetStatus: domain.OrderStatusShipped,
	})
	if err != nil {
		t.Fatalf("TransitionStatus: %v", err)
	}
	if !committed {
		t.Fatal("expected status commit despite notification failure")
	}
	if result.Order.Status != domain.OrderStatusShipped {
		t.Fatalf("expected shipped order, got %s", result.Order.Status)
	}
	if result.Notification == nil || result.Notification.Outcome != OutcomeFailed {
		t.Fatalf("expected failed notification in result, got %+v", result.Notification)
	}
}

func TestTransitionStatusWithoutDispatcherSkipsNotification(t *testing.T) {
	order := newTestOrder(domain.OrderStatusPending)
	repo := &stubOrderRepository{
		findByRefFn: func(context.Context, string) (domain.Order, error) { return order, nil },
		updateFn:    func(context.Context, domain.Order, domain.OrderStatus) error { return nil },
	}
	svc, err := NewOrderService(OrderServiceDeps{Orders: repo})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}

	result, err := svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
		OrderRef:     order.ID,
		TargetStatus: domain.OrderStatusConfirmed,
	})
	if err != nil {
		t.Fatalf("TransitionStatus: %v", err)
	}
	if result.Notification != nil {
		t.Fatalf("expected no notification, got %+v", result.Notification)
	}
}

func TestTransitionStatusMapsRepositoryConflict(t *testing.T) {
	order := newTestOrder(domain.OrderStatusPending)
	repo := &stubOrderRepository{
		findByRefFn: func(context.Context, string) (domain.Order, error) { return order, nil },
		updateFn: func(context.Context, domain.Order, domain.OrderStatus) error {
			return repositories.NewOrderConflictError("status changed concurrently", nil)
		},
	}
	svc, err := NewOrderService(OrderServiceDeps{Orders: repo})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}
	_, err = svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
		OrderRef:     order.ID,
		TargetStatus: domain.OrderStatusConfirmed,
	})
	if !errors.Is(err, ErrOrderConflict) {
		t.Fatalf("expected ErrOrderConflict, got %v", err)
	}
}

func TestGetOrderMapsNotFound(t *testing.T) {
	repo := &stubOrderRepository{
		findByRefFn: func(context.Context, string) (domain.Order, error) {
			return domain.Order{}, repositories.NewOrderNotFoundError("no such order", nil)
		},
	}
	svc, err := NewOrderService(OrderServiceDeps{Orders: repo})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}
	if _, err := svc.GetOrder(context.Background(), "LT-2025-9999"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestListOrdersRejectsUnknownStatus(t *testing.T) {
	svc, err := NewOrderService(OrderServiceDeps{Orders: &stubOrderRepository{}})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}
	_, err = svc.ListOrders(context.Background(), OrderListFilter{Statuses: []domain.OrderStatus{"archived"}})
	if !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected ErrOrderInvalidInput, got %v", err)
	}
}
