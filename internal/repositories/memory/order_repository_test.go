package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/lula-tea/api/internal/domain"
	"github.com/lula-tea/api/internal/repositories"
)

func newStoredOrder(t *testing.T, repo *OrderRepository, status domain.OrderStatus) domain.Order {
	t.Helper()
	order := domain.Order{
		ID:          "ord_01HZX4T9",
		OrderNumber: "LT-2025-0042",
		Customer:    domain.Customer{Name: "Amina", Phone: "+212612345678"},
		Items: []domain.OrderLineItem{
			{ProductID: "prod_a", Quantity: 2, UnitPrice: 4500, Total: 9000},
		},
		Status:    status,
		CreatedAt: time.Date(2025, 6, 12, 9, 30, 0, 0, time.UTC),
	}
	if err := repo.Insert(context.Background(), order); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	return order
}

func TestFindByRefResolvesBothKeys(t *testing.T) {
	repo := NewOrderRepository()
	order := newStoredOrder(t, repo, domain.OrderStatusPending)

	byID, err := repo.FindByRef(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("FindByRef by id: %v", err)
	}
	byNumber, err := repo.FindByRef(context.Background(), order.OrderNumber)
	if err != nil {
		t.Fatalf("FindByRef by number: %v", err)
	}
	if byID.ID != order.ID || byNumber.ID != order.ID {
		t.Fatalf("expected both refs to resolve %s, got %s and %s", order.ID, byID.ID, byNumber.ID)
	}

	var repoErr repositories.RepositoryError
	_, err = repo.FindByRef(context.Background(), "LT-2025-9999")
	if !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestUpdateGuardsOnExpectedStatus(t *testing.T) {
	repo := NewOrderRepository()
	order := newStoredOrder(t, repo, domain.OrderStatusPending)

	updated := order
	updated.Status = domain.OrderStatusConfirmed
	if err := repo.Update(context.Background(), updated, domain.OrderStatusPending); err != nil {
		t.Fatalf("Update: %v", err)
	}

	// A writer that still believes the order is pending has lost the race.
	stale := order
	stale.Status = domain.OrderStatusCancelled
	err := repo.Update(context.Background(), stale, domain.OrderStatusPending)
	var repoErr repositories.RepositoryError
	if !errors.As(err, &repoErr) || !repoErr.IsConflict() {
		t.Fatalf("expected conflict error, got %v", err)
	}

	current, err := repo.FindByID(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if current.Status != domain.OrderStatusConfirmed {
		t.Fatalf("expected status confirmed after lost race, got %s", current.Status)
	}
}

func TestInsertRejectsDuplicateID(t *testing.T) {
	repo := NewOrderRepository()
	order := newStoredOrder(t, repo, domain.OrderStatusPending)

	err := repo.Insert(context.Background(), order)
	var repoErr repositories.RepositoryError
	if !errors.As(err, &repoErr) || !repoErr.IsConflict() {
		t.Fatalf("expected conflict on duplicate insert, got %v", err)
	}
}

func TestListFiltersByStatus(t *testing.T) {
	repo := NewOrderRepository()
	first := newStoredOrder(t, repo, domain.OrderStatusPending)

	second := first
	second.ID = "ord_01HZX4TA"
	second.OrderNumber = "LT-2025-0043"
	second.Status = domain.OrderStatusDelivered
	second.CreatedAt = first.CreatedAt.Add(time.Hour)
	if err := repo.Insert(context.Background(), second); err != nil {
		t.Fatalf("Insert second: %v", err)
	}

	page, err := repo.List(context.Background(), repositories.OrderListFilter{
		Statuses:   []domain.OrderStatus{domain.OrderStatusPending},
		Pagination: domain.Pagination{PageSize: 10},
	})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].ID != first.ID {
		t.Fatalf("unexpected page %+v", page.Items)
	}
}
