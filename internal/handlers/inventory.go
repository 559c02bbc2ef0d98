package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/lula-tea/api/internal/domain"
	"github.com/lula-tea/api/internal/platform/httpx"
	"github.com/lula-tea/api/internal/services"
)

const (
	defaultMovementPageSize = 50
	maxMovementPageSize     = 200
)

type adjustStockRequest struct {
	Location string `json:"location"`
	Delta    int    `json:"delta"`
	Kind     string `json:"kind"`
	Reason   string `json:"reason"`
	ActorID  string `json:"actor_id"`
	OrderRef string `json:"order_ref"`
}

// InventoryHandlers exposes the stock ledger endpoints.
type InventoryHandlers struct {
	stock services.StockService
}

// NewInventoryHandlers constructs a new InventoryHandlers instance.
func NewInventoryHandlers(stock services.StockService) *InventoryHandlers {
	return &InventoryHandlers{stock: stock}
}

// Routes registers the /inventory endpoints.
func (h *InventoryHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/stock/low", h.listLowStock)
	r.Get("/stock/{productID}", h.getStock)
	r.Get("/stock/{productID}/movements", h.listMovements)
	r.Post("/stock/{productID}:adjust", h.adjustStock)
}

func (h *InventoryHandlers) adjustStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.stock == nil {
		httpx.WriteError(ctx, w, httpx.NewError("stock_service_unavailable", "stock service unavailable", http.StatusServiceUnavailable))
		return
	}

	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product id is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		switch {
		case errors.Is(err, errEmptyBody):
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		}
		return
	}
	var req adjustStockRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	adjustment, err := h.stock.Adjust(ctx, services.StockAdjustCommand{
		ProductID: productID,
		Location:  strings.TrimSpace(req.Location),
		Delta:     req.Delta,
		Kind:      domain.MovementKind(strings.ToLower(strings.TrimSpace(req.Kind))),
		Reason:    strings.TrimSpace(req.Reason),
		ActorID:   strings.TrimSpace(req.ActorID),
		OrderRef:  strings.TrimSpace(req.OrderRef),
	})
	if err != nil {
		writeStockError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, stockAdjustResponse{
		Stock:          buildStockPayload(adjustment.Stock),
		Movement:       buildMovementPayload(adjustment.Movement),
		QuantityBefore: adjustment.QuantityBefore,
		QuantityAfter:  adjustment.QuantityAfter,
	})
}

func (h *InventoryHandlers) getStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.stock == nil {
		httpx.WriteError(ctx, w, httpx.NewError("stock_service_unavailable", "stock service unavailable", http.StatusServiceUnavailable))
		return
	}

	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product id is required", http.StatusBadRequest))
		return
	}

	stock, err := h.stock.GetStock(ctx, productID)
	if err != nil {
		writeStockError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, stockResponse{Stock: buildStockPayload(stock)})
}

func (h *InventoryHandlers) listMovements(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.stock == nil {
		httpx.WriteError(ctx, w, httpx.NewError("stock_service_unavailable", "stock service unavailable", http.StatusServiceUnavailable))
		return
	}

	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product id is required", http.StatusBadRequest))
		return
	}

	query := r.URL.Query()
	pageSize, err := parsePageSize(query.Get("page_size"), defaultMovementPageSize, maxMovementPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.stock.ListMovements(ctx, services.MovementFilter{
		ProductID: productID,
		Location:  strings.TrimSpace(query.Get("location")),
		OrderRef:  strings.TrimSpace(query.Get("order_ref")),
		Pagination: domain.Pagination{
			PageSize:  pageSize,
			PageToken: strings.TrimSpace(query.Get("page_token")),
		},
	})
	if err != nil {
		writeStockError(ctx, w, err)
		return
	}

	items := make([]movementPayload, 0, len(page.Items))
	for _, movement := range page.Items {
		items = append(items, buildMovementPayload(movement))
	}
	writeJSONResponse(w, http.StatusOK, movementListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *InventoryHandlers) listLowStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.stock == nil {
		httpx.WriteError(ctx, w, httpx.NewError("stock_service_unavailable", "stock service unavailable", http.StatusServiceUnavailable))
		return
	}

	query := r.URL.Query()
	threshold := 0
	if raw := strings.TrimSpace(query.Get("threshold")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "threshold must be a non-negative integer", http.StatusBadRequest))
			return
		}
		threshold = parsed
	}

	pageSize, err := parsePageSize(query.Get("page_size"), defaultOrderPageSize, maxOrderPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.stock.ListLowStock(ctx, services.LowStockFilter{
		Threshold: threshold,
		Pagination: domain.Pagination{
			PageSize:  pageSize,
			PageToken: strings.TrimSpace(query.Get("page_token")),
		},
	})
	if err != nil {
		writeStockError(ctx, w, err)
		return
	}

	items := make([]stockPayload, 0, len(page.Items))
	for _, stock := range page.Items {
		items = append(items, buildStockPayload(stock))
	}
	writeJSONResponse(w, http.StatusOK, stockListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

type stockResponse struct {
	Stock stockPayload `json:"stock"`
}

type stockListResponse struct {
	Items         []stockPayload `json:"items"`
	NextPageToken string         `json:"next_page_token,omitempty"`
}

type stockAdjustResponse struct {
	Stock          stockPayload    `json:"stock"`
	Movement       movementPayload `json:"movement"`
	QuantityBefore int             `json:"quantity_before"`
	QuantityAfter  int             `json:"quantity_after"`
}

type movementListResponse struct {
	Items         []movementPayload `json:"items"`
	NextPageToken string            `json:"next_page_token,omitempty"`
}

type stockPayload struct {
	ProductID     string         `json:"product_id"`
	Name          string         `json:"name,omitempty"`
	Locations     map[string]int `json:"locations"`
	TotalQuantity int            `json:"total_quantity"`
	LowStockAt    int            `json:"low_stock_at,omitempty"`
	UpdatedAt     string         `json:"updated_at,omitempty"`
}

type movementPayload struct {
	ID             string `json:"id"`
	ProductID      string `json:"product_id"`
	OrderRef       string `json:"order_ref,omitempty"`
	Location       string `json:"location"`
	Kind           string `json:"kind"`
	Delta          int    `json:"delta"`
	QuantityBefore int    `json:"quantity_before"`
	QuantityAfter  int    `json:"quantity_after"`
	Reason         string `json:"reason,omitempty"`
	ActorID        string `json:"actor_id,omitempty"`
	CreatedAt      string `json:"created_at"`
}

func buildStockPayload(stock domain.ProductStock) stockPayload {
	locations := make(map[string]int, len(stock.Locations))
	for location, quantity := range stock.Locations {
		locations[location] = quantity
	}
	return stockPayload{
		ProductID:     stock.ProductID,
		Name:          stock.Name,
		Locations:     locations,
		TotalQuantity: stock.TotalQuantity,
		LowStockAt:    stock.LowStockAt,
		UpdatedAt:     formatTime(stock.UpdatedAt),
	}
}

func buildMovementPayload(movement domain.StockMovement) movementPayload {
	return movementPayload{
		ID:             movement.ID,
		ProductID:      movement.ProductID,
		OrderRef:       movement.OrderRef,
		Location:       movement.Location,
		Kind:           string(movement.Kind),
		Delta:          movement.Delta,
		QuantityBefore: movement.QuantityBefore,
		QuantityAfter:  movement.QuantityAfter,
		Reason:         movement.Reason,
		ActorID:        movement.ActorID,
		CreatedAt:      formatTime(movement.CreatedAt),
	}
}

func writeStockError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrStockInvalidInput), errors.Is(err, services.ErrStockUnknownLocation):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrStockProductNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "product not found", http.StatusNotFound))
	case errors.Is(err, services.ErrStockInsufficient):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrStockUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("stock_unavailable", "stock storage unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("stock_error", "failed to process stock request", http.StatusInternalServerError))
	}
}
