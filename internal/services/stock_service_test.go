package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	domain "github.com/lula-tea/api/internal/domain"
	"github.com/lula-tea/api/internal/repositories"
)

type stubStockRepository struct {
	adjustFn        func(ctx context.Context, req repositories.StockAdjustRequest) (repositories.StockAdjustResult, error)
	getStockFn      func(ctx context.Context, productID string) (domain.ProductStock, error)
	listMovementsFn func(ctx context.Context, query repositories.MovementQuery) (domain.CursorPage[domain.StockMovement], error)
	listLowStockFn  func(ctx context.Context, query repositories.LowStockQuery) (domain.CursorPage[domain.ProductStock], error)
}

func (s *stubStockRepository) Adjust(ctx context.Context, req repositories.StockAdjustRequest) (repositories.StockAdjustResult, error) {
	if s.adjustFn != nil {
		return s.adjustFn(ctx, req)
	}
	return repositories.StockAdjustResult{}, errors.New("adjust not stubbed")
}

func (s *stubStockRepository) GetStock(ctx context.Context, productID string) (domain.ProductStock, error) {
	if s.getStockFn != nil {
		return s.getStockFn(ctx, productID)
	}
	return domain.ProductStock{}, errors.New("getStock not stubbed")
}

func (s *stubStockRepository) ListMovements(ctx context.Context, query repositories.MovementQuery) (domain.CursorPage[domain.StockMovement], error) {
	if s.listMovementsFn != nil {
		return s.listMovementsFn(ctx, query)
	}
	return domain.CursorPage[domain.StockMovement]{}, errors.New("listMovements not stubbed")
}

func (s *stubStockRepository) ListLowStock(ctx context.Context, query repositories.LowStockQuery) (domain.CursorPage[domain.ProductStock], error) {
	if s.listLowStockFn != nil {
		return s.listLowStockFn(ctx, query)
	}
	return domain.CursorPage[domain.ProductStock]{}, errors.New("listLowStock not stubbed")
}

type captureStockEvents struct {
	events []StockEvent
	err    error
}

func (c *captureStockEvents) PublishStockEvent(_ context.Context, event StockEvent) error {
	c.events = append(c.events, event)
	return c.err
}

func newStockService(t *testing.T, repo repositories.StockRepository, events StockEventPublisher) StockService {
	t.Helper()
	svc, err := NewStockService(StockServiceDeps{
		Stock:             repo,
		Events:            events,
		Locations:         []string{"shop", "warehouse"},
		LowStockThreshold: 5,
		Clock:             fixedClock(time.Date(2025, 6, 12, 10, 0, 0, 0, time.UTC)),
		IDGenerator:       func() string { return "01HZX4T9TEST" },
	})
	if err != nil {
		t.Fatalf("NewStockService: %v", err)
	}
	return svc
}

func TestAdjustAppliesDeltaAndEmitsEvent(t *testing.T) {
	events := &captureStockEvents{}
	repo := &stubStockRepository{
		adjustFn: func(_ context.Context, req repositories.StockAdjustRequest) (repositories.StockAdjustResult, error) {
			if !strings.HasPrefix(req.MovementID, "mv_") {
				t.Fatalf("expected mv_ prefixed movement id, got %q", req.MovementID)
			}
			if req.Location != "shop" || req.Delta != 10 {
				t.Fatalf("unexpected request %+v", req)
			}
			stock := domain.ProductStock{
				ProductID:     req.ProductID,
				Locations:     map[string]int{"shop": 13, "warehouse": 20},
				TotalQuantity: 33,
				UpdatedAt:     req.Now,
			}
			return repositories.StockAdjustResult{
				Stock: stock,
				Movement: domain.StockMovement{
					ID:        req.MovementID,
					ProductID: req.ProductID,
					Location:  req.Location,
					Kind:      req.Kind,
					Delta:     req.Delta,
				},
				QuantityBefore: 3,
				QuantityAfter:  13,
			}, nil
		},
	}
	svc := newStockService(t, repo, events)

	adj, err := svc.Adjust(context.Background(), StockAdjustCommand{
		ProductID: "prod_a",
		Location:  "shop",
		Delta:     10,
		Kind:      domain.MovementRestock,
		ActorID:   "staff_1",
	})
	if err != nil {
		t.Fatalf("Adjust: %v", err)
	}
	if adj.QuantityBefore != 3 || adj.QuantityAfter != 13 {
		t.Fatalf("unexpected quantities %d -> %d", adj.QuantityBefore, adj.QuantityAfter)
	}
	if len(events.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events.events))
	}
	if events.events[0].Type != "stock.adjusted" {
		t.Fatalf("unexpected event type %q", events.events[0].Type)
	}
}

func TestAdjustEmitsLowStockEventAtThreshold(t *testing.T) {
	events := &captureStockEvents{}
	repo := &stubStockRepository{
		adjustFn: func(_ context.Context, req repositories.StockAdjustRequest) (repositories.StockAdjustResult, error) {
			stock := domain.ProductStock{
				ProductID:     req.ProductID,
				Locations:     map[string]int{"shop": 2},
				TotalQuantity: 2,
			}
			return repositories.StockAdjustResult{
				Stock:          stock,
				Movement:       domain.StockMovement{ID: req.MovementID, Location: req.Location, Kind: req.Kind, Delta: req.Delta},
				QuantityBefore: 5,
				QuantityAfter:  2,
			}, nil
		},
	}
	svc := newStockService(t, repo, events)

	if _, err := svc.Adjust(context.Background(), StockAdjustCommand{
		ProductID: "prod_a",
		Location:  "shop",
		Delta:     -3,
		Kind:      domain.MovementSale,
	}); err != nil {
		t.Fatalf("Adjust: %v", err)
	}
	if len(events.events) != 2 {
		t.Fatalf("expected adjusted+low events, got %d", len(events.events))
	}
	if events.events[1].Type != "stock.low" {
		t.Fatalf("unexpected second event type %q", events.events[1].Type)
	}
	if events.events[1].TotalQuantity != 2 {
		t.Fatalf("unexpected total %d", events.events[1].TotalQuantity)
	}
}

func TestAdjustValidation(t *testing.T) {
	svc := newStockService(t, &stubStockRepository{}, nil)
	cases := []struct {
		name    string
		cmd     StockAdjustCommand
		wantErr error
	}{
		{name: "missing product", cmd: StockAdjustCommand{Location: "shop", Delta: 1}, wantErr: ErrStockInvalidInput},
		{name: "missing location", cmd: StockAdjustCommand{ProductID: "prod_a", Delta: 1}, wantErr: ErrStockInvalidInput},
		{name: "unknown location", cmd: StockAdjustCommand{ProductID: "prod_a", Location: "basement", Delta: 1}, wantErr: ErrStockUnknownLocation},
		{name: "zero delta", cmd: StockAdjustCommand{ProductID: "prod_a", Location: "shop"}, wantErr: ErrStockInvalidInput},
		{name: "unknown kind", cmd: StockAdjustCommand{ProductID: "prod_a", Location: "shop", Delta: 1, Kind: "theft"}, wantErr: ErrStockInvalidInput},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Adjust(context.Background(), tc.cmd); !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestAdjustMapsRepositoryErrors(t *testing.T) {
	cases := []struct {
		name    string
		code    repositories.StockErrorCode
		wantErr error
	}{
		{name: "insufficient", code: repositories.StockErrorInsufficient, wantErr: ErrStockInsufficient},
		{name: "product not found", code: repositories.StockErrorProductNotFound, wantErr: ErrStockProductNotFound},
		{name: "unknown", code: repositories.StockErrorUnknown, wantErr: ErrStockUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := &stubStockRepository{
				adjustFn: func(context.Context, repositories.StockAdjustRequest) (repositories.StockAdjustResult, error) {
					return repositories.StockAdjustResult{}, repositories.NewStockError(tc.code, "", nil)
				},
			}
			svc := newStockService(t, repo, nil)
			_, err := svc.Adjust(context.Background(), StockAdjustCommand{ProductID: "prod_a", Location: "shop", Delta: -1})
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestListMovementsRejectsUnknownLocation(t *testing.T) {
	svc := newStockService(t, &stubStockRepository{}, nil)
	_, err := svc.ListMovements(context.Background(), MovementFilter{Location: "basement"})
	if !errors.Is(err, ErrStockUnknownLocation) {
		t.Fatalf("expected ErrStockUnknownLocation, got %v", err)
	}
}

func TestListLowStockDefaultsThreshold(t *testing.T) {
	var gotThreshold int
	repo := &stubStockRepository{
		listLowStockFn: func(_ context.Context, query repositories.LowStockQuery) (domain.CursorPage[domain.ProductStock], error) {
			gotThreshold = query.Threshold
			return domain.CursorPage[domain.ProductStock]{}, nil
		},
	}
	svc := newStockService(t, repo, nil)
	if _, err := svc.ListLowStock(context.Background(), LowStockFilter{}); err != nil {
		t.Fatalf("ListLowStock: %v", err)
	}
	if gotThreshold != 5 {
		t.Fatalf("expected configured threshold 5, got %d", gotThreshold)
	}
}
