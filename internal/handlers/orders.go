package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/lula-tea/api/internal/domain"
	"github.com/lula-tea/api/internal/platform/httpx"
	"github.com/lula-tea/api/internal/services"
)

const (
	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
	maxOrderBodySize     = 4 * 1024
)

type transitionOrderRequest struct {
	Status  string `json:"status"`
	Reason  string `json:"reason"`
	ActorID string `json:"actor_id"`
}

type cancelOrderRequest struct {
	Reason  string `json:"reason"`
	ActorID string `json:"actor_id"`
}

// OrderHandlers exposes the order lifecycle endpoints.
type OrderHandlers struct {
	orders  services.OrderService
	cancels services.CancellationService
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(orders services.OrderService, cancels services.CancellationService) *OrderHandlers {
	return &OrderHandlers{
		orders:  orders,
		cancels: cancels,
	}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.listOrders)
	r.Get("/{orderRef}", h.getOrder)
	r.Post("/{orderRef}:transition", h.transitionOrder)
	r.Post("/{orderRef}:cancel", h.cancelOrder)
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	query := r.URL.Query()
	statuses := make([]domain.OrderStatus, 0)
	for _, raw := range parseFilterValues(query["status"]) {
		statuses = append(statuses, domain.OrderStatus(raw))
	}

	var dateRange domain.RangeQuery[time.Time]
	if raw := strings.TrimSpace(query.Get("created_after")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "created_after must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		dateRange.From = &ts
	}
	if raw := strings.TrimSpace(query.Get("created_before")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "created_before must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		dateRange.To = &ts
	}

	pageSize, err := parsePageSize(query.Get("page_size"), defaultOrderPageSize, maxOrderPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.orders.ListOrders(ctx, services.OrderListFilter{
		Statuses:  statuses,
		CreatedAt: dateRange,
		Pagination: domain.Pagination{
			PageSize:  pageSize,
			PageToken: strings.TrimSpace(query.Get("page_token")),
		},
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderSummaryPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderSummary(order))
	}
	writeJSONResponse(w, http.StatusOK, orderListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	ref := strings.TrimSpace(chi.URLParam(r, "orderRef"))
	if ref == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order reference is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.GetOrder(ctx, ref)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) transitionOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	ref := strings.TrimSpace(chi.URLParam(r, "orderRef"))
	if ref == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order reference is required", http.StatusBadRequest))
		return
	}

	var req transitionOrderRequest
	if !decodeJSONBody(ctx, w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Status) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status is required", http.StatusBadRequest))
		return
	}

	transition, err := h.orders.TransitionStatus(ctx, services.OrderStatusTransitionCommand{
		OrderRef:     ref,
		TargetStatus: domain.OrderStatus(strings.ToLower(strings.TrimSpace(req.Status))),
		ActorID:      strings.TrimSpace(req.ActorID),
		Reason:       strings.TrimSpace(req.Reason),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	response := transitionOrderResponse{Order: buildOrderPayload(transition.Order)}
	if transition.Notification != nil {
		notification := buildNotificationPayload(*transition.Notification)
		response.Notification = &notification
	}
	writeJSONResponse(w, http.StatusOK, response)
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.cancels == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "cancellation service unavailable", http.StatusServiceUnavailable))
		return
	}

	ref := strings.TrimSpace(chi.URLParam(r, "orderRef"))
	if ref == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order reference is required", http.StatusBadRequest))
		return
	}

	var req cancelOrderRequest
	if !decodeJSONBody(ctx, w, r, &req) {
		return
	}

	result, err := h.cancels.CancelOrder(ctx, services.CancelOrderCommand{
		OrderRef: ref,
		Reason:   strings.TrimSpace(req.Reason),
		ActorID:  strings.TrimSpace(req.ActorID),
	})
	if err != nil {
		writeCancellationError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, cancelOrderResponse{
		Order:        buildOrderPayload(result.Order),
		Restocks:     buildRestockPayloads(result.Restocks),
		Notification: buildNotificationPayload(result.Notification),
	})
}

func decodeJSONBody(ctx context.Context, w http.ResponseWriter, r *http.Request, target any) bool {
	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		switch {
		case errors.Is(err, errEmptyBody):
			return true
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		}
		return false
	}
	if err := json.Unmarshal(body, target); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return false
	}
	return true
}

type orderListResponse struct {
	Items         []orderSummaryPayload `json:"items"`
	NextPageToken string                `json:"next_page_token,omitempty"`
}

type orderSummaryPayload struct {
	ID          string `json:"id"`
	OrderNumber string `json:"order_number"`
	Status      string `json:"status"`
	Customer    string `json:"customer"`
	Total       int64  `json:"total"`
	CreatedAt   string `json:"created_at"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderPayload struct {
	ID           string                    `json:"id"`
	OrderNumber  string                    `json:"order_number"`
	Customer     orderCustomerPayload      `json:"customer"`
	Items        []orderItemPayload        `json:"items"`
	Subtotal     int64                     `json:"subtotal"`
	DeliveryFee  int64                     `json:"delivery_fee"`
	Total        int64                     `json:"total"`
	Status       string                    `json:"status"`
	Cancellation *orderCancellationPayload `json:"cancellation,omitempty"`
	CreatedAt    string                    `json:"created_at"`
	UpdatedAt    string                    `json:"updated_at,omitempty"`
	ConfirmedAt  string                    `json:"confirmed_at,omitempty"`
	ShippedAt    string                    `json:"shipped_at,omitempty"`
	DeliveredAt  string                    `json:"delivered_at,omitempty"`
}

type orderCustomerPayload struct {
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	Email    string `json:"email,omitempty"`
	Language string `json:"language,omitempty"`
}

type orderItemPayload struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name,omitempty"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
	Total     int64  `json:"total"`
}

type orderCancellationPayload struct {
	Reason      string `json:"reason"`
	CancelledBy string `json:"cancelled_by,omitempty"`
	CancelledAt string `json:"cancelled_at"`
}

type transitionOrderResponse struct {
	Order        orderPayload         `json:"order"`
	Notification *notificationPayload `json:"notification,omitempty"`
}

type cancelOrderResponse struct {
	Order        orderPayload        `json:"order"`
	Restocks     []restockPayload    `json:"restocks"`
	Notification notificationPayload `json:"notification"`
}

type restockPayload struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Restocked bool   `json:"restocked"`
	Error     string `json:"error,omitempty"`
}

type notificationPayload struct {
	Outcome      string `json:"outcome"`
	Channel      string `json:"channel,omitempty"`
	FallbackLink string `json:"fallback_link,omitempty"`
	Error        string `json:"error,omitempty"`
}

func buildOrderSummary(order domain.Order) orderSummaryPayload {
	return orderSummaryPayload{
		ID:          order.ID,
		OrderNumber: order.OrderNumber,
		Status:      string(order.Status),
		Customer:    order.Customer.Name,
		Total:       order.Total,
		CreatedAt:   formatTime(order.CreatedAt),
	}
}

func buildOrderPayload(order domain.Order) orderPayload {
	payload := orderPayload{
		ID:          order.ID,
		OrderNumber: order.OrderNumber,
		Customer: orderCustomerPayload{
			Name:     order.Customer.Name,
			Phone:    order.Customer.Phone,
			Email:    order.Customer.Email,
			Language: order.Customer.Language,
		},
		Items:       make([]orderItemPayload, 0, len(order.Items)),
		Subtotal:    order.Subtotal,
		DeliveryFee: order.DeliveryFee,
		Total:       order.Total,
		Status:      string(order.Status),
		CreatedAt:   formatTime(order.CreatedAt),
		UpdatedAt:   formatTime(order.UpdatedAt),
		ConfirmedAt: formatTimePointer(order.ConfirmedAt),
		ShippedAt:   formatTimePointer(order.ShippedAt),
		DeliveredAt: formatTimePointer(order.DeliveredAt),
	}
	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			ProductID: item.ProductID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Total:     item.Total,
		})
	}
	if order.Cancel != nil {
		payload.Cancellation = &orderCancellationPayload{
			Reason:      order.Cancel.Reason,
			CancelledBy: order.Cancel.CancelledBy,
			CancelledAt: formatTime(order.Cancel.CancelledAt),
		}
	}
	return payload
}

func buildRestockPayloads(restocks []services.ItemRestockResult) []restockPayload {
	out := make([]restockPayload, 0, len(restocks))
	for _, restock := range restocks {
		out = append(out, restockPayload{
			ProductID: restock.ProductID,
			Quantity:  restock.Quantity,
			Restocked: restock.Restocked,
			Error:     restock.Error,
		})
	}
	return out
}

func buildNotificationPayload(notification services.NotificationResult) notificationPayload {
	return notificationPayload{
		Outcome:      string(notification.Outcome),
		Channel:      notification.Channel,
		FallbackLink: notification.FallbackLink,
		Error:        notification.Error,
	}
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderInvalidTransition):
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_transition", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("order_unavailable", "order storage unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}

func writeCancellationError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrCancellationInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCancellationWindowClosed):
		httpx.WriteError(ctx, w, httpx.NewError("cancellation_window_closed", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrCancellationInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", err.Error(), http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to cancel order", http.StatusInternalServerError))
	}
}
