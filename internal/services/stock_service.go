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
	// ErrStockInvalidInput indicates the command failed validation.
	ErrStockInvalidInput = errors.New("stock: invalid input")
	// ErrStockProductNotFound indicates the product has no stock record.
	ErrStockProductNotFound = errors.New("stock: product not found")
	// ErrStockUnknownLocation indicates the location is not configured.
	ErrStockUnknownLocation = errors.New("stock: unknown location")
	// ErrStockInsufficient indicates the delta would drive a quantity negative.
	ErrStockInsufficient = errors.New("stock: insufficient quantity")
	// ErrStockUnavailable indicates a repository/infrastructure failure.
	ErrStockUnavailable = errors.New("stock: repository unavailable")
)

// StockServiceDeps wires repository, event and observability dependencies.
type StockServiceDeps struct {
	Stock     repositories.StockRepository
	Events    StockEventPublisher
	Locations []string
	// LowStockThreshold is the fallback alert threshold for products that do
	// not carry their own LowStockAt value.
	LowStockThreshold int
	Clock             func() time.Time
	IDGenerator       func() string
	Logger            func(ctx context.Context, event string, fields map[string]any)
}

type stockService struct {
	stock       repositories.StockRepository
	events      StockEventPublisher
	locations   map[string]struct{}
	lowStockAt  int
	clock       func() time.Time
	idGenerator func() string
	logger      func(ctx context.Context, event string, fields map[string]any)
}

// NewStockService builds a StockService from its dependencies.
func NewStockService(deps StockServiceDeps) (StockService, error) {
	if deps.Stock == nil {
		return nil, fmt.Errorf("stock service requires stock repository")
	}
	if len(deps.Locations) == 0 {
		return nil, fmt.Errorf("stock service requires at least one fulfillment location")
	}
	locations := make(map[string]struct{}, len(deps.Locations))
	for _, location := range deps.Locations {
		location = strings.TrimSpace(location)
		if location == "" {
			return nil, fmt.Errorf("stock service location names must be non-empty")
		}
		locations[location] = struct{}{}
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGenerator := deps.IDGenerator
	if idGenerator == nil {
		return nil, fmt.Errorf("stock service requires id generator")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &stockService{
		stock:       deps.Stock,
		events:      deps.Events,
		locations:   locations,
		lowStockAt:  deps.LowStockThreshold,
		clock:       clock,
		idGenerator: idGenerator,
		logger:      logger,
	}, nil
}

func (s *stockService) Adjust(ctx context.Context, cmd StockAdjustCommand) (StockAdjustment, error) {
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return StockAdjustment{}, fmt.Errorf("%w: product id is required", ErrStockInvalidInput)
	}
	location := strings.TrimSpace(cmd.Location)
	if location == "" {
		return StockAdjustment{}, fmt.Errorf("%w: location is required", ErrStockInvalidInput)
	}
	if _, ok := s.locations[location]; !ok {
		return StockAdjustment{}, fmt.Errorf("%w: %q", ErrStockUnknownLocation, location)
	}
	if cmd.Delta == 0 {
		return StockAdjustment{}, fmt.Errorf("%w: delta must be non-zero", ErrStockInvalidInput)
	}
	kind := cmd.Kind
	if kind == "" {
		kind = domain.MovementAdjustment
	}
	if !isKnownMovementKind(kind) {
		return StockAdjustment{}, fmt.Errorf("%w: unknown movement kind %q", ErrStockInvalidInput, kind)
	}

	now := s.clock().UTC()
	result, err := s.stock.Adjust(ctx, repositories.StockAdjustRequest{
		MovementID: "mv_" + s.idGenerator(),
		ProductID:  productID,
		Location:   location,
		Delta:      cmd.Delta,
		Kind:       kind,
		Reason:     strings.TrimSpace(cmd.Reason),
		ActorID:    strings.TrimSpace(cmd.ActorID),
		OrderRef:   strings.TrimSpace(cmd.OrderRef),
		Now:        now,
	})
	if err != nil {
		return StockAdjustment{}, mapStockRepositoryError(err)
	}

	s.emitStockEvents(ctx, result, cmd.ActorID, now)
	return StockAdjustment{
		Stock:          result.Stock,
		Movement:       result.Movement,
		QuantityBefore: result.QuantityBefore,
		Delta:          cmd.Delta,
		QuantityAfter:  result.QuantityAfter,
	}, nil
}

func (s *stockService) GetStock(ctx context.Context, productID string) (domain.ProductStock, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.ProductStock{}, fmt.Errorf("%w: product id is required", ErrStockInvalidInput)
	}
	stock, err := s.stock.GetStock(ctx, productID)
	if err != nil {
		return domain.ProductStock{}, mapStockRepositoryError(err)
	}
	return stock, nil
}

func (s *stockService) ListMovements(ctx context.Context, filter MovementFilter) (domain.CursorPage[domain.StockMovement], error) {
	if location := strings.TrimSpace(filter.Location); location != "" {
		if _, ok := s.locations[location]; !ok {
			return domain.CursorPage[domain.StockMovement]{}, fmt.Errorf("%w: %q", ErrStockUnknownLocation, location)
		}
	}
	page, err := s.stock.ListMovements(ctx, repositories.MovementQuery{
		ProductID:  strings.TrimSpace(filter.ProductID),
		Location:   strings.TrimSpace(filter.Location),
		OrderRef:   strings.TrimSpace(filter.OrderRef),
		Pagination: filter.Pagination,
	})
	if err != nil {
		return domain.CursorPage[domain.StockMovement]{}, mapStockRepositoryError(err)
	}
	return page, nil
}

func (s *stockService) ListLowStock(ctx context.Context, filter LowStockFilter) (domain.CursorPage[domain.ProductStock], error) {
	threshold := filter.Threshold
	if threshold <= 0 {
		threshold = s.lowStockAt
	}
	page, err := s.stock.ListLowStock(ctx, repositories.LowStockQuery{
		Threshold:  threshold,
		Pagination: filter.Pagination,
	})
	if err != nil {
		return domain.CursorPage[domain.ProductStock]{}, mapStockRepositoryError(err)
	}
	return page, nil
}

func (s *stockService) emitStockEvents(ctx context.Context, result repositories.StockAdjustResult, actorID string, now time.Time) {
	if s.events == nil {
		return
	}
	base := StockEvent{
		ProductID:     result.Stock.ProductID,
		Location:      result.Movement.Location,
		Kind:          result.Movement.Kind,
		Delta:         result.Movement.Delta,
		QuantityAfter: result.QuantityAfter,
		TotalQuantity: result.Stock.TotalQuantity,
		LowStockAt:    s.effectiveThreshold(result.Stock),
		OrderRef:      result.Movement.OrderRef,
		ActorID:       actorID,
		OccurredAt:    now,
	}

	adjusted := base
	adjusted.Type = "stock.adjusted"
	s.publishStockEvent(ctx, adjusted)

	if result.Stock.TotalQuantity <= base.LowStockAt {
		low := base
		low.Type = "stock.low"
		s.publishStockEvent(ctx, low)
	}
}

func (s *stockService) effectiveThreshold(stock domain.ProductStock) int {
	if stock.LowStockAt > 0 {
		return stock.LowStockAt
	}
	return s.lowStockAt
}

func (s *stockService) publishStockEvent(ctx context.Context, event StockEvent) {
	if err := s.events.PublishStockEvent(ctx, event); err != nil {
		s.logger(ctx, "stock.event.publish_failed", map[string]any{
			"type":      event.Type,
			"productId": event.ProductID,
			"error":     err.Error(),
		})
	}
}

func isKnownMovementKind(kind domain.MovementKind) bool {
	switch kind {
	case domain.MovementRestock,
		domain.MovementAdjustment,
		domain.MovementSale,
		domain.MovementCancellationRestock:
		return true
	}
	return false
}

func mapStockRepositoryError(err error) error {
	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		switch stockErr.Code {
		case repositories.StockErrorProductNotFound:
			return fmt.Errorf("%w: %v", ErrStockProductNotFound, err)
		case repositories.StockErrorInsufficient:
			return fmt.Errorf("%w: %v", ErrStockInsufficient, err)
		case repositories.StockErrorUnknownLocation:
			return fmt.Errorf("%w: %v", ErrStockUnknownLocation, err)
		}
	}
	return fmt.Errorf("%w: %v", ErrStockUnavailable, err)
}
