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

// OrderRepository is an in-memory order store used by tests and local
// development. Updates honour the expected-status guard so concurrent
// transitions behave like the Firestore implementation.
type OrderRepository struct {
	mu       sync.Mutex
	orders   map[string]domain.Order
	byNumber map[string]string
}

// NewOrderRepository constructs an empty in-memory order store.
func NewOrderRepository() *OrderRepository {
	return &OrderRepository{
		orders:   make(map[string]domain.Order),
		byNumber: make(map[string]string),
	}
}

// Insert implements repositories.OrderRepository.
func (r *OrderRepository) Insert(_ context.Context, order domain.Order) error {
	id := strings.TrimSpace(order.ID)
	if id == "" {
		return fmt.Errorf("order insert: order id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.orders[id]; exists {
		return repositories.NewOrderConflictError(fmt.Sprintf("order %s already exists", id), nil)
	}
	r.orders[id] = cloneOrder(order)
	if number := strings.TrimSpace(order.OrderNumber); number != "" {
		r.byNumber[number] = id
	}
	return nil
}

// Update implements repositories.OrderRepository.
func (r *OrderRepository) Update(_ context.Context, order domain.Order, expectedStatus domain.OrderStatus) error {
	id := strings.TrimSpace(order.ID)
	r.mu.Lock()
	defer r.mu.Unlock()
	current, exists := r.orders[id]
	if !exists {
		return repositories.NewOrderNotFoundError(fmt.Sprintf("order %s not found", id), nil)
	}
	if expectedStatus != "" && current.Status != expectedStatus {
		return repositories.NewOrderConflictError(fmt.Sprintf("order %s status is %q, expected %q", id, current.Status, expectedStatus), nil)
	}
	r.orders[id] = cloneOrder(order)
	return nil
}

// FindByID implements repositories.OrderRepository.
func (r *OrderRepository) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, exists := r.orders[strings.TrimSpace(orderID)]
	if !exists {
		return domain.Order{}, repositories.NewOrderNotFoundError(fmt.Sprintf("order %s not found", orderID), nil)
	}
	return cloneOrder(order), nil
}

// FindByRef implements repositories.OrderRepository.
func (r *OrderRepository) FindByRef(_ context.Context, ref string) (domain.Order, error) {
	ref = strings.TrimSpace(ref)
	r.mu.Lock()
	defer r.mu.Unlock()
	if order, exists := r.orders[ref]; exists {
		return cloneOrder(order), nil
	}
	if id, exists := r.byNumber[ref]; exists {
		return cloneOrder(r.orders[id]), nil
	}
	return domain.Order{}, repositories.NewOrderNotFoundError(fmt.Sprintf("order %s not found", ref), nil)
}

// List implements repositories.OrderRepository. Newest first.
func (r *OrderRepository) List(_ context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var items []domain.Order
	for _, order := range r.orders {
		if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, order.Status) {
			continue
		}
		if filter.CreatedAt.From != nil && order.CreatedAt.Before(*filter.CreatedAt.From) {
			continue
		}
		if filter.CreatedAt.To != nil && order.CreatedAt.After(*filter.CreatedAt.To) {
			continue
		}
		items = append(items, cloneOrder(order))
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })

	if size := filter.Pagination.PageSize; size > 0 && len(items) > size {
		items = items[:size]
	}
	return domain.CursorPage[domain.Order]{Items: items}, nil
}

func containsStatus(statuses []domain.OrderStatus, status domain.OrderStatus) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}

func cloneOrder(order domain.Order) domain.Order {
	items := make([]domain.OrderLineItem, len(order.Items))
	copy(items, order.Items)
	order.Items = items
	if order.Cancel != nil {
		cancel := *order.Cancel
		order.Cancel = &cancel
	}
	return order
}
