package firestore

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
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

const (
	stockCollection    = "stock"
	movementCollection = "stockMovements"
)

// StockRepository is the Firestore implementation of the stock ledger. Every
// Adjust runs in a transaction so the quantity update and the movement append
// are observed as one atomic unit.
type StockRepository struct {
	provider  *pfirestore.Provider
	stocks    *pfirestore.BaseRepository[stockDocument]
	movements *pfirestore.BaseRepository[movementDocument]
}

// NewStockRepository constructs a StockRepository backed by the shared provider.
func NewStockRepository(provider *pfirestore.Provider) (*StockRepository, error) {
	if provider == nil {
		return nil, errors.New("stock repository requires firestore provider")
	}
	stocks := pfirestore.NewBaseRepository[stockDocument](provider, stockCollection, nil, nil)
	movements := pfirestore.NewBaseRepository[movementDocument](provider, movementCollection, nil, nil)
	return &StockRepository{provider: provider, stocks: stocks, movements: movements}, nil
}

// Adjust applies one signed delta plus its ledger entry transactionally.
func (r *StockRepository) Adjust(ctx context.Context, req repositories.StockAdjustRequest) (repositories.StockAdjustResult, error) {
	if r == nil || r.provider == nil {
		return repositories.StockAdjustResult{}, errors.New("stock repository not initialised")
	}
	productID := strings.TrimSpace(req.ProductID)
	if productID == "" {
		return repositories.StockAdjustResult{}, errors.New("stock adjust: product id is required")
	}
	location := strings.TrimSpace(req.Location)
	if location == "" {
		return repositories.StockAdjustResult{}, repositories.NewStockError(repositories.StockErrorUnknownLocation, "stock adjust: location is required", nil)
	}
	movementID := strings.TrimSpace(req.MovementID)
	if movementID == "" {
		return repositories.StockAdjustResult{}, errors.New("stock adjust: movement id is required")
	}

	now := req.Now.UTC()
	var result repositories.StockAdjustResult

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		stockRef, err := r.stocks.DocumentRef(ctx, productID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(stockRef)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return repositories.NewStockError(repositories.StockErrorProductNotFound, fmt.Sprintf("stock record for %s not found", productID), err)
			}
			return err
		}
		var doc stockDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode stock %s: %w", productID, err)
		}

		before := doc.Locations[location]
		after := before + req.Delta
		if after < 0 {
			return repositories.NewStockError(repositories.StockErrorInsufficient, fmt.Sprintf("stock for %s at %s is %d, cannot apply %+d", productID, location, before, req.Delta), nil)
		}

		if doc.Locations == nil {
			doc.Locations = map[string]int{}
		}
		doc.Locations[location] = after
		doc.UpdatedAt = now
		doc.recalculate()
		if err := tx.Set(stockRef, doc); err != nil {
			return err
		}

		movement := movementDocument{
			ProductID:      productID,
			OrderRef:       strings.TrimSpace(req.OrderRef),
			Location:       location,
			Kind:           string(req.Kind),
			Delta:          req.Delta,
			QuantityBefore: before,
			QuantityAfter:  after,
			Reason:         strings.TrimSpace(req.Reason),
			ActorID:        strings.TrimSpace(req.ActorID),
			CreatedAt:      now,
		}
		movementRef, err := r.movements.DocumentRef(ctx, movementID)
		if err != nil {
			return err
		}
		// Create, not Set: the ledger is append-only and a duplicate movement id
		// must surface as a conflict rather than silently overwrite.
		if err := tx.Create(movementRef, movement); err != nil {
			return err
		}

		result = repositories.StockAdjustResult{
			Stock:          doc.toDomain(productID),
			Movement:       movement.toDomain(movementID),
			QuantityBefore: before,
			QuantityAfter:  after,
		}
		return nil
	})
	if err != nil {
		return repositories.StockAdjustResult{}, wrapStockError("stock.adjust", err)
	}
	return result, nil
}

// GetStock fetches the stock record for one product.
func (r *StockRepository) GetStock(ctx context.Context, productID string) (domain.ProductStock, error) {
	if r == nil || r.stocks == nil {
		return domain.ProductStock{}, errors.New("stock repository not initialised")
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.ProductStock{}, errors.New("stock get: product id is required")
	}

	doc, err := r.stocks.Get(ctx, productID)
	if err != nil {
		if repoErr, ok := err.(*pfirestore.Error); ok && repoErr.IsNotFound() {
			return domain.ProductStock{}, repositories.NewStockError(repositories.StockErrorProductNotFound, fmt.Sprintf("stock record for %s not found", productID), err)
		}
		return domain.ProductStock{}, wrapStockError("stock.get", err)
	}
	return doc.Data.toDomain(doc.ID), nil
}

// ListMovements pages the ledger for a product, newest first.
func (r *StockRepository) ListMovements(ctx context.Context, query repositories.MovementQuery) (domain.CursorPage[domain.StockMovement], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.StockMovement]{}, errors.New("stock repository not initialised")
	}
	productID := strings.TrimSpace(query.ProductID)
	if productID == "" && strings.TrimSpace(query.OrderRef) == "" {
		return domain.CursorPage[domain.StockMovement]{}, errors.New("stock movements: product id or order ref is required")
	}

	pageSize := query.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	if pageSize > 200 {
		pageSize = 200
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.StockMovement]{}, wrapStockError("stock.movements", err)
	}

	fq := client.Collection(movementCollection).Query
	if productID != "" {
		fq = fq.Where("productId", "==", productID)
	}
	if loc := strings.TrimSpace(query.Location); loc != "" {
		fq = fq.Where("location", "==", loc)
	}
	if ref := strings.TrimSpace(query.OrderRef); ref != "" {
		fq = fq.Where("orderRef", "==", ref)
	}
	fq = fq.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc).Limit(pageSize + 1)

	if token := strings.TrimSpace(query.Pagination.PageToken); token != "" {
		cursor, err := decodeMovementPageToken(token)
		if err != nil {
			return domain.CursorPage[domain.StockMovement]{}, wrapStockError("stock.movements", err)
		}
		fq = fq.StartAfter(cursor.CreatedAt, cursor.ID)
	}

	iter := fq.Documents(ctx)
	defer iter.Stop()

	var movements []domain.StockMovement
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.StockMovement]{}, wrapStockError("stock.movements", err)
		}
		var doc movementDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.StockMovement]{}, fmt.Errorf("decode stock movement %s: %w", snap.Ref.ID, err)
		}
		movements = append(movements, doc.toDomain(snap.Ref.ID))
	}

	hasMore := len(movements) > pageSize
	if hasMore {
		movements = movements[:pageSize]
	}
	var nextToken string
	if hasMore && len(movements) > 0 {
		last := movements[len(movements)-1]
		encoded, err := encodeMovementPageToken(movementPageToken{ID: last.ID, CreatedAt: last.CreatedAt})
		if err != nil {
			return domain.CursorPage[domain.StockMovement]{}, wrapStockError("stock.movements", err)
		}
		nextToken = encoded
	}

	return domain.CursorPage[domain.StockMovement]{
		Items:         movements,
		NextPageToken: nextToken,
	}, nil
}

// ListLowStock pages products whose total sits at or below the threshold.
func (r *StockRepository) ListLowStock(ctx context.Context, query repositories.LowStockQuery) (domain.CursorPage[domain.ProductStock], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.ProductStock]{}, errors.New("stock repository not initialised")
	}

	pageSize := query.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	if pageSize > 200 {
		pageSize = 200
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.ProductStock]{}, wrapStockError("stock.lowStock", err)
	}

	fq := client.Collection(stockCollection).Query.
		Where("totalQuantity", "<=", query.Threshold).
		OrderBy("totalQuantity", firestore.Asc).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Limit(pageSize + 1)

	if token := strings.TrimSpace(query.Pagination.PageToken); token != "" {
		cursor, err := decodeLowStockPageToken(token)
		if err != nil {
			return domain.CursorPage[domain.ProductStock]{}, wrapStockError("stock.lowStock", err)
		}
		fq = fq.StartAfter(cursor.TotalQuantity, cursor.ProductID)
	}

	iter := fq.Documents(ctx)
	defer iter.Stop()

	var stocks []domain.ProductStock
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.ProductStock]{}, wrapStockError("stock.lowStock", err)
		}
		var doc stockDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.ProductStock]{}, fmt.Errorf("decode stock %s: %w", snap.Ref.ID, err)
		}
		stocks = append(stocks, doc.toDomain(snap.Ref.ID))
	}

	hasMore := len(stocks) > pageSize
	if hasMore {
		stocks = stocks[:pageSize]
	}
	var nextToken string
	if hasMore && len(stocks) > 0 {
		last := stocks[len(stocks)-1]
		encoded, err := encodeLowStockPageToken(lowStockPageToken{ProductID: last.ProductID, TotalQuantity: last.TotalQuantity})
		if err != nil {
			return domain.CursorPage[domain.ProductStock]{}, wrapStockError("stock.lowStock", err)
		}
		nextToken = encoded
	}

	return domain.CursorPage[domain.ProductStock]{
		Items:         stocks,
		NextPageToken: nextToken,
	}, nil
}

// Helper structures ---------------------------------------------------------

type stockDocument struct {
	Name          string         `firestore:"name"`
	Locations     map[string]int `firestore:"locations"`
	TotalQuantity int            `firestore:"totalQuantity"`
	LowStockAt    int            `firestore:"lowStockAt"`
	UpdatedAt     time.Time      `firestore:"updatedAt"`
}

func (s *stockDocument) recalculate() {
	total := 0
	for _, qty := range s.Locations {
		total += qty
	}
	s.TotalQuantity = total
}

func (s stockDocument) toDomain(id string) domain.ProductStock {
	locations := make(map[string]int, len(s.Locations))
	for name, qty := range s.Locations {
		locations[name] = qty
	}
	return domain.ProductStock{
		ProductID:     id,
		Name:          strings.TrimSpace(s.Name),
		Locations:     locations,
		TotalQuantity: s.TotalQuantity,
		LowStockAt:    s.LowStockAt,
		UpdatedAt:     s.UpdatedAt,
	}
}

type movementDocument struct {
	ProductID      string    `firestore:"productId"`
	OrderRef       string    `firestore:"orderRef,omitempty"`
	Location       string    `firestore:"location"`
	Kind           string    `firestore:"kind"`
	Delta          int       `firestore:"delta"`
	QuantityBefore int       `firestore:"quantityBefore"`
	QuantityAfter  int       `firestore:"quantityAfter"`
	Reason         string    `firestore:"reason,omitempty"`
	ActorID        string    `firestore:"actorId"`
	CreatedAt      time.Time `firestore:"createdAt"`
}

func (m movementDocument) toDomain(id string) domain.StockMovement {
	return domain.StockMovement{
		ID:             id,
		ProductID:      m.ProductID,
		OrderRef:       m.OrderRef,
		Location:       m.Location,
		Kind:           domain.MovementKind(m.Kind),
		Delta:          m.Delta,
		QuantityBefore: m.QuantityBefore,
		QuantityAfter:  m.QuantityAfter,
		Reason:         m.Reason,
		ActorID:        m.ActorID,
		CreatedAt:      m.CreatedAt,
	}
}

type movementPageToken struct {
	ID        string
	CreatedAt time.Time
}

type lowStockPageToken struct {
	ProductID     string
	TotalQuantity int
}

func encodeMovementPageToken(token movementPageToken) (string, error) {
	return encodePageToken(token, "movement")
}

func decodeMovementPageToken(encoded string) (movementPageToken, error) {
	var token movementPageToken
	err := decodePageToken(encoded, "movement", &token)
	return token, err
}

func encodeLowStockPageToken(token lowStockPageToken) (string, error) {
	return encodePageToken(token, "low stock")
}

func decodeLowStockPageToken(encoded string) (lowStockPageToken, error) {
	var token lowStockPageToken
	err := decodePageToken(encoded, "low stock", &token)
	return token, err
}

func encodePageToken(token any, label string) (string, error) {
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(token); err != nil {
		return "", fmt.Errorf("encode %s page token: %w", label, err)
	}
	return base64.RawURLEncoding.EncodeToString(bytes.TrimSpace(buf.Bytes())), nil
}

func decodePageToken(encoded string, label string, target any) error {
	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("decode %s page token: %w", label, err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("decode %s page token json: %w", label, err)
	}
	return nil
}

func wrapStockError(op string, err error) error {
	if err == nil {
		return nil
	}
	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		if stockErr.Op == "" {
			stockErr.Op = op
		}
		return stockErr
	}
	return pfirestore.WrapError(op, err)
}
