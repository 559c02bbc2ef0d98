package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	domain "github.com/lula-tea/api/internal/domain"
	"github.com/lula-tea/api/internal/repositories"
)

// StockRepository is an in-memory stock ledger used by tests and local
// development. A per-product lock serializes adjustments on the same product;
// distinct products proceed in parallel.
type StockRepository struct {
	mu        sync.Mutex
	stocks    map[string]*stockState
	movements []domain.StockMovement
}

type stockState struct {
	mu    sync.Mutex
	stock domain.ProductStock
}

// NewStockRepository constructs an empty in-memory ledger.
func NewStockRepository() *StockRepository {
	return &StockRepository{stocks: make(map[string]*stockState)}
}

// Seed installs a stock record, replacing any existing one. Test helper.
func (r *StockRepository) Seed(stock domain.ProductStock) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stocks[stock.ProductID] = &stockState{stock: cloneStock(stock)}
}

// Adjust implements repositories.StockRepository.
func (r *StockRepository) Adjust(_ context.Context, req repositories.StockAdjustRequest) (repositories.StockAdjustResult, error) {
	productID := strings.TrimSpace(req.ProductID)
	location := strings.TrimSpace(req.Location)
	if productID == "" || location == "" {
		return repositories.StockAdjustResult{}, repositories.NewStockError(repositories.StockErrorUnknown, "stock adjust: product id and location are required", nil)
	}

	r.mu.Lock()
	state, ok := r.stocks[productID]
	r.mu.Unlock()
	if !ok {
		return repositories.StockAdjustResult{}, repositories.NewStockError(repositories.StockErrorProductNotFound, fmt.Sprintf("stock record for %s not found", productID), nil)
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	before := state.stock.QuantityAt(location)
	after := before + req.Delta
	if after < 0 {
		return repositories.StockAdjustResult{}, repositories.NewStockError(repositories.StockErrorInsufficient, fmt.Sprintf("stock for %s at %s is %d, cannot apply %+d", productID, location, before, req.Delta), nil)
	}

	if state.stock.Locations == nil {
		state.stock.Locations = map[string]int{}
	}
	state.stock.Locations[location] = after
	total := 0
	for _, qty := range state.stock.Locations {
		total += qty
	}
	state.stock.TotalQuantity = total
	state.stock.UpdatedAt = req.Now.UTC()

	movement := domain.StockMovement{
		ID:             strings.TrimSpace(req.MovementID),
		ProductID:      productID,
		OrderRef:       strings.TrimSpace(req.OrderRef),
		Location:       location,
		Kind:           req.Kind,
		Delta:          req.Delta,
		QuantityBefore: before,
		QuantityAfter:  after,
		Reason:         strings.TrimSpace(req.Reason),
		ActorID:        strings.TrimSpace(req.ActorID),
		CreatedAt:      req.Now.UTC(),
	}

	r.mu.Lock()
	r.movements = append(r.movements, movement)
	r.mu.Unlock()

	return repositories.StockAdjustResult{
		Stock:          cloneStock(state.stock),
		Movement:       movement,
		QuantityBefore: before,
		QuantityAfter:  after,
	}, nil
}

// GetStock implements repositories.StockRepository.
func (r *StockRepository) GetStock(_ context.Context, productID string) (domain.ProductStock, error) {
	r.mu.Lock()
	state, ok := r.stocks[strings.TrimSpace(productID)]
	r.mu.Unlock()
	if !ok {
		return domain.ProductStock{}, repositories.NewStockError(repositories.StockErrorProductNotFound, fmt.Sprintf("stock record for %s not found", productID), nil)
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	return cloneStock(state.stock), nil
}

// ListMovements implements repositories.StockRepository. Newest first, unpaged
// beyond the requested size.
func (r *StockRepository) ListMovements(_ context.Context, query repositories.MovementQuery) (domain.CursorPage[domain.StockMovement], error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var items []domain.StockMovement
	for _, movement := range r.movements {
		if query.ProductID != "" && movement.ProductID != query.ProductID {
			continue
		}
		if query.Location != "" && movement.Location != query.Location {
			continue
		}
		if query.OrderRef != "" && movement.OrderRef != query.OrderRef {
			continue
		}
		items = append(items, movement)
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })

	if size := query.Pagination.PageSize; size > 0 && len(items) > size {
		items = items[:size]
	}
	return domain.CursorPage[domain.StockMovement]{Items: items}, nil
}

// ListLowStock implements repositories.StockRepository.
func (r *StockRepository) ListLowStock(_ context.Context, query repositories.LowStockQuery) (domain.CursorPage[domain.ProductStock], error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var items []domain.ProductStock
	for _, state := range r.stocks {
		state.mu.Lock()
		stock := cloneStock(state.stock)
		state.mu.Unlock()
		if stock.TotalQuantity <= query.Threshold {
			items = append(items, stock)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].TotalQuantity != items[j].TotalQuantity {
			return items[i].TotalQuantity < items[j].TotalQuantity
		}
		return items[i].ProductID < items[j].ProductID
	})

	if size := query.Pagination.PageSize; size > 0 && len(items) > size {
		items = items[:size]
	}
	return domain.CursorPage[domain.ProductStock]{Items: items}, nil
}

func cloneStock(stock domain.ProductStock) domain.ProductStock {
	locations := make(map[string]int, len(stock.Locations))
	for name, qty := range stock.Locations {
		locations[name] = qty
	}
	stock.Locations = locations
	return stock
}
