package repositories

import (
	"context"
	"time"

	domain "github.com/lula-tea/api/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// OrderRepository persists order aggregates and provides lookup by either key.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	// Update commits the order atomically, guarded by the status the caller
	// read. A concurrent writer that changed the status in between causes a
	// conflict error instead of a lost update.
	Update(ctx context.Context, order domain.Order, expectedStatus domain.OrderStatus) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	// FindByRef resolves either the document id or the human-readable order
	// number to the same order.
	FindByRef(ctx context.Context, ref string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// OrderListFilter narrows order listings.
type OrderListFilter struct {
	Statuses   []domain.OrderStatus
	CreatedAt  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}

// StockRepository owns per-location quantities and the append-only movement
// ledger. Adjust is the only sanctioned mutation path for quantities.
type StockRepository interface {
	// Adjust applies a signed delta to one (product, location) pair and appends
	// the matching movement record in a single atomic unit. Concurrent adjusts
	// on the same pair serialize; a delta that would leave the location
	// negative fails with StockErrorInsufficient and performs no mutation.
	Adjust(ctx context.Context, req StockAdjustRequest) (StockAdjustResult, error)
	GetStock(ctx context.Context, productID string) (domain.ProductStock, error)
	ListMovements(ctx context.Context, query MovementQuery) (domain.CursorPage[domain.StockMovement], error)
	ListLowStock(ctx context.Context, query LowStockQuery) (domain.CursorPage[domain.ProductStock], error)
}

// StockAdjustRequest carries one ledger mutation. MovementID is assigned by the
// caller so retried transactions stay idempotent at the document level.
type StockAdjustRequest struct {
	MovementID string
	ProductID  string
	Location   string
	Delta      int
	Kind       domain.MovementKind
	Reason     string
	ActorID    string
	OrderRef   string
	Now        time.Time
}

// StockAdjustResult reports the quantities observed inside the transaction.
type StockAdjustResult struct {
	Stock          domain.ProductStock
	Movement       domain.StockMovement
	QuantityBefore int
	QuantityAfter  int
}

// MovementQuery filters and pages the movement ledger.
type MovementQuery struct {
	ProductID  string
	Location   string
	OrderRef   string
	Pagination domain.Pagination
}

// LowStockQuery pages products whose total quantity sits at or below a threshold.
type LowStockQuery struct {
	Threshold  int
	Pagination domain.Pagination
}
