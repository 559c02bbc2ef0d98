package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	domain "github.com/lula-tea/api/internal/domain"
)

type stubStockService struct {
	adjustFn func(ctx context.Context, cmd StockAdjustCommand) (StockAdjustment, error)
}

func (s *stubStockService) Adjust(ctx context.Context, cmd StockAdjustCommand) (StockAdjustment, error) {
	if s.adjustFn != nil {
		return s.adjustFn(ctx, cmd)
	}
	return StockAdjustment{}, errors.New("adjust not stubbed")
}

func (s *stubStockService) GetStock(context.Context, string) (domain.ProductStock, error) {
	return domain.ProductStock{}, errors.New("getStock not stubbed")
}

func (s *stubStockService) ListMovements(context.Context, MovementFilter) (domain.CursorPage[domain.StockMovement], error) {
	return domain.CursorPage[domain.StockMovement]{}, errors.New("listMovements not stubbed")
}

func (s *stubStockService) ListLowStock(context.Context, LowStockFilter) (domain.CursorPage[domain.ProductStock], error) {
	return domain.CursorPage[domain.ProductStock]{}, errors.New("listLowStock not stubbed")
}

type stubNotifier struct {
	calls  []NotificationEvent
	result NotificationResult
}

func (s *stubNotifier) Notify(_ context.Context, _ domain.Order, event NotificationEvent) NotificationResult {
	s.calls = append(s.calls, event)
	result := s.result
	result.Event = event
	return result
}

func newCancellationService(t *testing.T, orders *stubOrderRepository, stock StockService, notifier NotificationDispatcher, events OrderEventPublisher, now time.Time, tz *time.Location) CancellationService {
	t.Helper()
	if notifier == nil {
		notifier = &stubNotifier{result: NotificationResult{Outcome: OutcomeDelivered, Channel: "whatsapp"}}
	}
	svc, err := NewCancellationService(CancellationServiceDeps{
		Orders:          orders,
		Stock:           stock,
		Notifications:   notifier,
		Events:          events,
		RestockLocation: "shop",
		Timezone:        tz,
		Clock:           fixedClock(now),
	})
	if err != nil {
		t.Fatalf("NewCancellationService: %v", err)
	}
	return svc
}

func TestCancelOrderRestocksEveryLineItem(t *testing.T) {
	order := newTestOrder(domain.OrderStatusPending)
	now := order.CreatedAt.Add(2 * time.Hour)
	var committed domain.Order
	orders := &stubOrderRepository{
		findByRefFn: func(context.Context, string) (domain.Order, error) { return order, nil },
		updateFn: func(_ context.Context, updated domain.Order, expectedStatus domain.OrderStatus) error {
			if expectedStatus != domain.OrderStatusPending {
				t.Fatalf("expected guard status pending, got %s", expectedStatus)
			}
			committed = updated
			return nil
		},
	}
	var adjusts []StockAdjustCommand
	stock := &stubStockService{
		adjustFn: func(_ context.Context, cmd StockAdjustCommand) (StockAdjustment, error) {
			adjusts = append(adjusts, cmd)
			return StockAdjustment{}, nil
		},
	}
	notifier := &stubNotifier{result: NotificationResult{Outcome: OutcomeDelivered, Channel: "whatsapp"}}
	events := &captureOrderEvents{}
	svc := newCancellationService(t, orders, stock, notifier, events, now, nil)

	result, err := svc.CancelOrder(context.Background(), CancelOrderCommand{
		OrderRef: order.ID,
		Reason:   "customer changed mind",
		ActorID:  "staff_1",
	})
	if err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}

	if len(adjusts) != 2 {
		t.Fatalf("expected 2 restock adjusts, got %d", len(adjusts))
	}
	for i, item := range order.Items {
		adj := adjusts[i]
		if adj.ProductID != item.ProductID || adj.Delta != item.Quantity {
			t.Fatalf("adjust %d: expected %s +%d, got %s %+d", i, item.ProductID, item.Quantity, adj.ProductID, adj.Delta)
		}
		if adj.Kind != domain.MovementCancellationRestock {
			t.Fatalf("adjust %d: unexpected kind %q", i, adj.Kind)
		}
		if adj.OrderRef != order.ID {
			t.Fatalf("adjust %d: expected order ref %q, got %q", i, order.ID, adj.OrderRef)
		}
		if adj.Location != "shop" {
			t.Fatalf("adjust %d: unexpected location %q", i, adj.Location)
		}
	}

	if committed.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected committed status cancelled, got %s", committed.Status)
	}
	if committed.Cancel == nil || committed.Cancel.Reason != "customer changed mind" || committed.Cancel.CancelledBy != "staff_1" {
		t.Fatalf("unexpected cancellation metadata %+v", committed.Cancel)
	}
	if len(result.Restocks) != 2 || !result.Restocks[0].Restocked || !result.Restocks[1].Restocked {
		t.Fatalf("unexpected restock results %+v", result.Restocks)
	}
	if len(notifier.calls) != 1 || notifier.calls[0] != NotificationEventCancelled {
		t.Fatalf("expected one cancelled notification, got %v", notifier.calls)
	}
	if len(events.events) != 1 || events.events[0].CurrentStatus != domain.OrderStatusCancelled {
		t.Fatalf("expected cancelled event, got %+v", events.events)
	}
}

func TestCancelOrderContinuesPastFailedRestock(t *testing.T) {
	order := newTestOrder(domain.OrderStatusPending)
	now := order.CreatedAt.Add(time.Hour)
	var committed bool
	orders := &stubOrderRepository{
		findByRefFn: func(context.Context, string) (domain.Order, error) { return order, nil },
		updateFn: func(context.Context, domain.Order, domain.OrderStatus) error {
			committed = true
			return nil
		},
	}
	stock := &stubStockService{
		adjustFn: func(_ context.Context, cmd StockAdjustCommand) (StockAdjustment, error) {
			if cmd.ProductID == "prod_b" {
				return StockAdjustment{}, fmt.Errorf("%w: prod_b", ErrStockProductNotFound)
			}
			return StockAdjustment{}, nil
		},
	}
	svc := newCancellationService(t, orders, stock, nil, nil, now, nil)

	result, err := svc.CancelOrder(context.Background(), CancelOrderCommand{
		OrderRef: order.ID,
		Reason:   "out of stock elsewhere",
	})
	if err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	if !committed {
		t.Fatal("expected cancellation to commit despite failed restock")
	}
	if len(result.Restocks) != 2 {
		t.Fatalf("expected 2 restock results, got %d", len(result.Restocks))
	}
	if !result.Restocks[0].Restocked {
		t.Fatalf("expected prod_a restocked, got %+v", result.Restocks[0])
	}
	if result.Restocks[1].Restocked || result.Restocks[1].Error == "" {
		t.Fatalf("expected prod_b failure recorded, got %+v", result.Restocks[1])
	}
}

func TestCancelOrderRejectsClosedWindow(t *testing.T) {
	order := newTestOrder(domain.OrderStatusPending)
	now := order.CreatedAt.AddDate(0, 0, 1)
	orders := &stubOrderRepository{
		findByRefFn: func(context.Context, string) (domain.Order, error) { return order, nil },
	}
	svc := newCancellationService(t, orders, &stubStockService{}, nil, nil, now, nil)

	_, err := svc.CancelOrder(context.Background(), CancelOrderCommand{OrderRef: order.ID, Reason: "too late"})
	if !errors.Is(err, ErrCancellationWindowClosed) {
		t.Fatalf("expected ErrCancellationWindowClosed, got %v", err)
	}
}

func TestCancelOrderWindowUsesStoreTimezone(t *testing.T) {
	tz, err := time.LoadLocation("Africa/Casablanca")
	if err != nil {
		t.Fatalf("LoadLocation: %v", err)
	}
	order := newTestOrder(domain.OrderStatusPending)
	// 23:30 UTC on June 11 is already June 12 in Casablanca, so a cancellation
	// the following UTC morning is still same-day locally.
	order.CreatedAt = time.Date(2025, 6, 11, 23, 30, 0, 0, time.UTC)
	now := time.Date(2025, 6, 12, 10, 0, 0, 0, time.UTC)

	orders := &stubOrderRepository{
		findByRefFn: func(context.Context, string) (domain.Order, error) { return order, nil },
		updateFn:    func(context.Context, domain.Order, domain.OrderStatus) error { return nil },
	}
	stock := &stubStockService{
		adjustFn: func(context.Context, StockAdjustCommand) (StockAdjustment, error) {
			return StockAdjustment{}, nil
		},
	}
	svc := newCancellationService(t, orders, stock, nil, nil, now, tz)

	if _, err := svc.CancelOrder(context.Background(), CancelOrderCommand{OrderRef: order.ID, Reason: "same day locally"}); err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
}

func TestCancelOrderRejectsNonCancellableStatuses(t *testing.T) {
	for _, status := range []domain.OrderStatus{
		domain.OrderStatusConfirmed,
		domain.OrderStatusShipped,
		domain.OrderStatusDelivered,
		domain.OrderStatusCancelled,
	} {
		t.Run(string(status), func(t *testing.T) {
			order := newTestOrder(status)
			now := order.CreatedAt.Add(time.Hour)
			orders := &stubOrderRepository{
				findByRefFn: func(context.Context, string) (domain.Order, error) { return order, nil },
			}
			svc := newCancellationService(t, orders, &stubStockService{}, nil, nil, now, nil)

			_, err := svc.CancelOrder(context.Background(), CancelOrderCommand{OrderRef: order.ID, Reason: "any"})
			if !errors.Is(err, ErrCancellationInvalidState) {
				t.Fatalf("expected ErrCancellationInvalidState, got %v", err)
			}
		})
	}
}

func TestCancelOrderSucceedsWhenNotificationFails(t *testing.T) {
	order := newTestOrder(domain.OrderStatusProcessing)
	now := order.CreatedAt.Add(time.Hour)
	orders := &stubOrderRepository{
		findByRefFn: func(context.Context, string) (domain.Order, error) { return order, nil },
		updateFn:    func(context.Context, domain.Order, domain.OrderStatus) error { return nil },
	}
	stock := &stubStockService{
		adjustFn: func(context.Context, StockAdjustCommand) (StockAdjustment, error) {
			return StockAdjustment{}, nil
		},
	}
	notifier := &stubNotifier{result: NotificationResult{Outcome: OutcomeFailed, Error: "provider timeout"}}
	svc := newCancellationService(t, orders, stock, notifier, nil, now, nil)

	result, err := svc.CancelOrder(context.Background(), CancelOrderCommand{OrderRef: order.ID, Reason: "damaged packaging"})
	if err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	if result.Notification.Outcome != OutcomeFailed {
		t.Fatalf("expected failed notification outcome, got %s", result.Notification.Outcome)
	}
}

func TestCancelOrderRequiresReason(t *testing.T) {
	svc := newCancellationService(t, &stubOrderRepository{}, &stubStockService{}, nil, nil, time.Now(), nil)
	_, err := svc.CancelOrder(context.Background(), CancelOrderCommand{OrderRef: "ord_x"})
	if !errors.Is(err, ErrCancellationInvalidInput) {
		t.Fatalf("expected ErrCancellationInvalidInput, got %v", err)
	}
}
