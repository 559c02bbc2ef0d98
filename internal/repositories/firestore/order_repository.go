package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/lula-tea/api/internal/domain"
	pfirestore "github.com/lula-tea/api/internal/platform/firestore"
	"github.com/lula-tea/api/internal/repositories"
)

const ordersCollection = "orders"

// OrderRepository is the Firestore implementation of order persistence.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.BaseRepository[orderDocument]
}

// NewOrderRepository constructs an OrderRepository backed by the shared provider.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	orders := pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil, nil)
	return &OrderRepository{provider: provider, orders: orders}, nil
}

// Insert creates the order document, failing on duplicate id.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.provider == nil {
		return errors.New("order repository not initialised")
	}
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order insert: order id is required")
	}

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.orders.DocumentRef(ctx, order.ID)
		if err != nil {
			return err
		}
		if err := tx.Create(ref, newOrderDocument(order)); err != nil {
			if status.Code(err) == codes.AlreadyExists {
				return repositories.NewOrderConflictError(fmt.Sprintf("order %s already exists", order.ID), err)
			}
			return err
		}
		return nil
	})
	return wrapOrderError("order.insert", err)
}

// Update commits the order guarded by the status the caller read. A transition
// racing another writer loses with a conflict instead of overwriting.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order, expectedStatus domain.OrderStatus) error {
	if r == nil || r.provider == nil {
		return errors.New("order repository not initialised")
	}
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order update: order id is required")
	}

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.orders.DocumentRef(ctx, order.ID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return repositories.NewOrderNotFoundError(fmt.Sprintf("order %s not found", order.ID), err)
			}
			return err
		}
		var current orderDocument
		if err := snap.DataTo(&current); err != nil {
			return fmt.Errorf("decode order %s: %w", order.ID, err)
		}
		if expectedStatus != "" && current.Status != string(expectedStatus) {
			return repositories.NewOrderConflictError(fmt.Sprintf("order %s status is %q, expected %q", order.ID, current.Status, expectedStatus), nil)
		}
		return tx.Set(ref, newOrderDocument(order))
	})
	return wrapOrderError("order.update", err)
}

// FindByID fetches an order by its document id.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.orders == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order find: order id is required")
	}

	doc, err := r.orders.Get(ctx, orderID)
	if err != nil {
		if repoErr, ok := err.(*pfirestore.Error); ok && repoErr.IsNotFound() {
			return domain.Order{}, repositories.NewOrderNotFoundError(fmt.Sprintf("order %s not found", orderID), err)
		}
		return domain.Order{}, wrapOrderError("order.find", err)
	}
	return doc.Data.toDomain(doc.ID), nil
}

// FindByRef resolves either the document id or the human-readable order number.
func (r *OrderRepository) FindByRef(ctx context.Context, ref string) (domain.Order, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return domain.Order{}, errors.New("order find: reference is required")
	}

	order, err := r.FindByID(ctx, ref)
	if err == nil {
		return order, nil
	}
	var orderErr *repositories.OrderError
	if !errors.As(err, &orderErr) || !orderErr.IsNotFound() {
		return domain.Order{}, err
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.Order{}, wrapOrderError("order.findByRef", err)
	}

	iter := client.Collection(ordersCollection).
		Where("orderNumber", "==", ref).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	snap, err := iter.Next()
	if errors.Is(err, iterator.Done) {
		return domain.Order{}, repositories.NewOrderNotFoundError(fmt.Sprintf("order %s not found", ref), nil)
	}
	if err != nil {
		return domain.Order{}, wrapOrderError("order.findByRef", err)
	}
	var doc orderDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Order{}, fmt.Errorf("decode order %s: %w", snap.Ref.ID, err)
	}
	return doc.toDomain(snap.Ref.ID), nil
}

// List pages orders filtered by status and creation range, newest first.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, wrapOrderError("order.list", err)
	}

	fq := client.Collection(ordersCollection).Query
	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, s := range filter.Statuses {
			statuses = append(statuses, string(s))
		}
		fq = fq.Where("status", "in", statuses)
	}
	if filter.CreatedAt.From != nil {
		fq = fq.Where("createdAt", ">=", filter.CreatedAt.From.UTC())
	}
	if filter.CreatedAt.To != nil {
		fq = fq.Where("createdAt", "<=", filter.CreatedAt.To.UTC())
	}
	fq = fq.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc).Limit(pageSize + 1)

	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		cursor, err := decodeOrderPageToken(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, wrapOrderError("order.list", err)
		}
		fq = fq.StartAfter(cursor.CreatedAt, cursor.ID)
	}

	iter := fq.Documents(ctx)
	defer iter.Stop()

	var orders []domain.Order
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.Order]{}, wrapOrderError("order.list", err)
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("decode order %s: %w", snap.Ref.ID, err)
		}
		orders = append(orders, doc.toDomain(snap.Ref.ID))
	}

	hasMore := len(orders) > pageSize
	if hasMore {
		orders = orders[:pageSize]
	}
	var nextToken string
	if hasMore && len(orders) > 0 {
		last := orders[len(orders)-1]
		encoded, err := encodeOrderPageToken(orderPageToken{ID: last.ID, CreatedAt: last.CreatedAt})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, wrapOrderError("order.list", err)
		}
		nextToken = encoded
	}

	return domain.CursorPage[domain.Order]{
		Items:         orders,
		NextPageToken: nextToken,
	}, nil
}

// Helper structures ---------------------------------------------------------

type orderDocument struct {
	OrderNumber    string              `firestore:"orderNumber"`
	CustomerName   string              `firestore:"customerName"`
	CustomerPhone  string              `firestore:"customerPhone"`
	CustomerEmail  string              `firestore:"customerEmail,omitempty"`
	Language       string              `firestore:"language,omitempty"`
	Items          []orderItemDocument `firestore:"items"`
	Subtotal       int64               `firestore:"subtotal"`
	DeliveryFee    int64               `firestore:"deliveryFee"`
	Total          int64               `firestore:"total"`
	Status         string              `firestore:"status"`
	CancelReason   string              `firestore:"cancelReason,omitempty"`
	CancelledBy    string              `firestore:"cancelledBy,omitempty"`
	CancelledAt    *time.Time          `firestore:"cancelledAt,omitempty"`
	CreatedAt      time.Time           `firestore:"createdAt"`
	UpdatedAt      time.Time           `firestore:"updatedAt"`
	ConfirmedAt    *time.Time          `firestore:"confirmedAt,omitempty"`
	ShippedAt      *time.Time          `firestore:"shippedAt,omitempty"`
	DeliveredAt    *time.Time          `firestore:"deliveredAt,omitempty"`
}

type orderItemDocument struct {
	ProductID string `firestore:"productId"`
	Name      string `firestore:"name"`
	Quantity  int    `firestore:"qty"`
	UnitPrice int64  `firestore:"unitPrice"`
	Total     int64  `firestore:"total"`
}

func newOrderDocument(order domain.Order) orderDocument {
	items := make([]orderItemDocument, len(order.Items))
	for i, item := range order.Items {
		items[i] = orderItemDocument{
			ProductID: strings.TrimSpace(item.ProductID),
			Name:      strings.TrimSpace(item.Name),
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Total:     item.Total,
		}
	}
	doc := orderDocument{
		OrderNumber:   strings.TrimSpace(order.OrderNumber),
		CustomerName:  strings.TrimSpace(order.Customer.Name),
		CustomerPhone: strings.TrimSpace(order.Customer.Phone),
		CustomerEmail: strings.TrimSpace(order.Customer.Email),
		Language:      strings.TrimSpace(order.Customer.Language),
		Items:         items,
		Subtotal:      order.Subtotal,
		DeliveryFee:   order.DeliveryFee,
		Total:         order.Total,
		Status:        string(order.Status),
		CreatedAt:     order.CreatedAt.UTC(),
		UpdatedAt:     order.UpdatedAt.UTC(),
		ConfirmedAt:   order.ConfirmedAt,
		ShippedAt:     order.ShippedAt,
		DeliveredAt:   order.DeliveredAt,
	}
	if order.Cancel != nil {
		cancelledAt := order.Cancel.CancelledAt.UTC()
		doc.CancelReason = strings.TrimSpace(order.Cancel.Reason)
		doc.CancelledBy = strings.TrimSpace(order.Cancel.CancelledBy)
		doc.CancelledAt = &cancelledAt
	}
	return doc
}

func (d orderDocument) toDomain(id string) domain.Order {
	items := make([]domain.OrderLineItem, len(d.Items))
	for i, item := range d.Items {
		items[i] = domain.OrderLineItem{
			ProductID: item.ProductID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Total:     item.Total,
		}
	}
	order := domain.Order{
		ID:          id,
		OrderNumber: d.OrderNumber,
		Customer: domain.Customer{
			Name:     d.CustomerName,
			Phone:    d.CustomerPhone,
			Email:    d.CustomerEmail,
			Language: d.Language,
		},
		Items:       items,
		Subtotal:    d.Subtotal,
		DeliveryFee: d.DeliveryFee,
		Total:       d.Total,
		Status:      domain.OrderStatus(d.Status),
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
		ConfirmedAt: d.ConfirmedAt,
		ShippedAt:   d.ShippedAt,
		DeliveredAt: d.DeliveredAt,
	}
	if d.CancelledAt != nil {
		order.Cancel = &domain.Cancellation{
			Reason:      d.CancelReason,
			CancelledBy: d.CancelledBy,
			CancelledAt: *d.CancelledAt,
		}
	}
	return order
}

type orderPageToken struct {
	ID        string
	CreatedAt time.Time
}

func encodeOrderPageToken(token orderPageToken) (string, error) {
	return encodePageToken(token, "order")
}

func decodeOrderPageToken(encoded string) (orderPageToken, error) {
	var token orderPageToken
	err := decodePageToken(encoded, "order", &token)
	return token, err
}

func wrapOrderError(op string, err error) error {
	if err == nil {
		return nil
	}
	var orderErr *repositories.OrderError
	if errors.As(err, &orderErr) {
		if orderErr.Op == "" {
			orderErr.Op = op
		}
		return orderErr
	}
	return pfirestore.WrapError(op, err)
}
