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

	"github.com/phonemart/api/internal/domain"
	pfirestore "github.com/phonemart/api/internal/platform/firestore"
	"github.com/phonemart/api/internal/repositories"
)

const (
	inventoryCollection   = "inventory"
	adjustmentsCollection = "stockAdjustments"

	defaultMaxQuantity = 100
	defaultMinQuantity = 5
)

// StockRepository persists per-product quantities and their audit trail in Firestore.
type StockRepository struct {
	provider    *pfirestore.Provider
	stocks      *pfirestore.BaseRepository[stockDocument]
	adjustments *pfirestore.BaseRepository[adjustmentDocument]
	products    *pfirestore.BaseRepository[productDocument]
}

// NewStockRepository constructs a Firestore backed stock repository.
func NewStockRepository(provider *pfirestore.Provider) (*StockRepository, error) {
	if provider == nil {
		return nil, errors.New("stock repository requires firestore provider")
	}
	return &StockRepository{
		provider:    provider,
		stocks:      pfirestore.NewBaseRepository[stockDocument](provider, inventoryCollection),
		adjustments: pfirestore.NewBaseRepository[adjustmentDocument](provider, adjustmentsCollection),
		products:    pfirestore.NewBaseRepository[productDocument](provider, productsCollection),
	}, nil
}

// Adjust applies one bounded quantity change. The stock document, the product
// stock mirror, and the appended audit entry commit in a single transaction.
func (r *StockRepository) Adjust(ctx context.Context, req repositories.StockAdjustRequest) (repositories.StockAdjustResult, error) {
	if r == nil || r.provider == nil {
		return repositories.StockAdjustResult{}, errors.New("stock repository not initialised")
	}
	productID := strings.TrimSpace(req.ProductID)
	if productID == "" {
		return repositories.StockAdjustResult{}, errors.New("stock adjust: product id is required")
	}
	if req.Delta == 0 {
		return repositories.StockAdjustResult{}, errors.New("stock adjust: delta must be non-zero")
	}

	now := req.Now.UTC()
	var result repositories.StockAdjustResult

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		adjusted, err := r.adjustInTx(ctx, tx, req, now)
		if err != nil {
			return err
		}
		result = adjusted
		return nil
	})
	if err != nil {
		return repositories.StockAdjustResult{}, wrapStockError("stock.adjust", err)
	}
	return result, nil
}

// stagedStockAdjust carries a validated stock change between the read and
// write phases of a transaction. Firestore rejects reads issued after the
// first buffered write, so callers must finish staging every adjustment
// before applying any of them.
type stagedStockAdjust struct {
	productID  string
	stockRef   *firestore.DocumentRef
	productRef *firestore.DocumentRef
	logRef     *firestore.DocumentRef
	stockDoc   stockDocument
	logDoc     adjustmentDocument
}

// adjustInTx stages and applies one stock change inside an existing
// transaction. Only safe while no writes have been buffered yet.
func (r *StockRepository) adjustInTx(ctx context.Context, tx *firestore.Transaction, req repositories.StockAdjustRequest, now time.Time) (repositories.StockAdjustResult, error) {
	staged, err := r.stageAdjust(ctx, tx, req, now)
	if err != nil {
		return repositories.StockAdjustResult{}, err
	}
	return staged.apply(tx)
}

// stageAdjust reads the stock and product documents, validates the bounds,
// and returns the pending mutation. It issues no writes.
func (r *StockRepository) stageAdjust(ctx context.Context, tx *firestore.Transaction, req repositories.StockAdjustRequest, now time.Time) (stagedStockAdjust, error) {
	productID := strings.TrimSpace(req.ProductID)

	stockRef, err := r.stocks.DocumentRef(ctx, productID)
	if err != nil {
		return stagedStockAdjust{}, err
	}
	productRef, err := r.products.DocumentRef(ctx, productID)
	if err != nil {
		return stagedStockAdjust{}, err
	}

	var stockDoc stockDocument
	snap, err := tx.Get(stockRef)
	switch {
	case err == nil:
		if err := snap.DataTo(&stockDoc); err != nil {
			return stagedStockAdjust{}, fmt.Errorf("decode stock %s: %w", productID, err)
		}
	case status.Code(err) == codes.NotFound:
		seeded, err := r.seedStock(tx, productRef, productID)
		if err != nil {
			return stagedStockAdjust{}, err
		}
		stockDoc = seeded
	default:
		return stagedStockAdjust{}, err
	}

	oldQuantity := stockDoc.Quantity
	newQuantity := oldQuantity + req.Delta
	if newQuantity < 0 {
		return stagedStockAdjust{}, repositories.NewStockError(repositories.StockErrorInsufficient, fmt.Sprintf("insufficient stock for %s", productID), nil)
	}
	if stockDoc.MaxQuantity > 0 && newQuantity > stockDoc.MaxQuantity {
		return stagedStockAdjust{}, repositories.NewStockError(repositories.StockErrorExceedsMaximum, fmt.Sprintf("stock for %s cannot exceed %d", productID, stockDoc.MaxQuantity), nil)
	}

	stockDoc.Quantity = newQuantity
	stockDoc.UpdatedAt = now

	logColl, err := r.adjustments.CollectionRef(ctx)
	if err != nil {
		return stagedStockAdjust{}, err
	}

	return stagedStockAdjust{
		productID:  productID,
		stockRef:   stockRef,
		productRef: productRef,
		logRef:     logColl.NewDoc(),
		stockDoc:   stockDoc,
		logDoc: adjustmentDocument{
			ProductID:   productID,
			OldQuantity: oldQuantity,
			NewQuantity: newQuantity,
			Reason:      strings.TrimSpace(req.Reason),
			ActorID:     strings.TrimSpace(req.ActorID),
			OccurredAt:  now,
		},
	}, nil
}

// apply buffers the staged writes on the transaction.
func (s stagedStockAdjust) apply(tx *firestore.Transaction) (repositories.StockAdjustResult, error) {
	if err := tx.Set(s.stockRef, s.stockDoc); err != nil {
		return repositories.StockAdjustResult{}, err
	}
	if err := tx.Update(s.productRef, []firestore.Update{
		{Path: "stock", Value: s.stockDoc.Quantity},
		{Path: "updatedAt", Value: s.stockDoc.UpdatedAt},
	}); err != nil {
		return repositories.StockAdjustResult{}, err
	}
	if err := tx.Create(s.logRef, s.logDoc); err != nil {
		return repositories.StockAdjustResult{}, err
	}
	return repositories.StockAdjustResult{
		Stock: s.stockDoc.toDomain(s.productID),
		Log:   s.logDoc.toDomain(s.logRef.ID),
	}, nil
}

// seedStock initialises a missing stock document from the product's catalog
// quantity with default bounds.
func (r *StockRepository) seedStock(tx *firestore.Transaction, productRef *firestore.DocumentRef, productID string) (stockDocument, error) {
	snap, err := tx.Get(productRef)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return stockDocument{}, repositories.NewStockError(repositories.StockErrorNotFound, fmt.Sprintf("stock %s not found", productID), err)
		}
		return stockDocument{}, err
	}
	var product productDocument
	if err := snap.DataTo(&product); err != nil {
		return stockDocument{}, fmt.Errorf("decode product %s: %w", productID, err)
	}
	return stockDocument{
		Quantity:    product.Stock,
		MaxQuantity: defaultMaxQuantity,
		MinQuantity: defaultMinQuantity,
	}, nil
}

// Get fetches the stock record for one product.
func (r *StockRepository) Get(ctx context.Context, productID string) (domain.StockRecord, error) {
	if r == nil || r.stocks == nil {
		return domain.StockRecord{}, errors.New("stock repository not initialised")
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.StockRecord{}, errors.New("stock get: product id is required")
	}

	doc, err := r.stocks.Get(ctx, productID)
	if err != nil {
		var repoErr *pfirestore.Error
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return domain.StockRecord{}, repositories.NewStockError(repositories.StockErrorNotFound, fmt.Sprintf("stock %s not found", productID), err)
		}
		return domain.StockRecord{}, wrapStockError("stock.get", err)
	}
	return doc.Data.toDomain(doc.ID), nil
}

// Put upserts the stock record, applying default bounds when unset.
func (r *StockRepository) Put(ctx context.Context, stock domain.StockRecord) error {
	if r == nil || r.stocks == nil {
		return errors.New("stock repository not initialised")
	}
	productID := strings.TrimSpace(stock.ProductID)
	if productID == "" {
		return errors.New("stock put: product id is required")
	}

	doc := stockDocument{
		Quantity:    stock.Quantity,
		MaxQuantity: stock.MaxQuantity,
		MinQuantity: stock.MinQuantity,
		UpdatedAt:   stock.UpdatedAt.UTC(),
	}
	if doc.MaxQuantity <= 0 {
		doc.MaxQuantity = defaultMaxQuantity
	}
	if doc.MinQuantity < 0 {
		doc.MinQuantity = defaultMinQuantity
	}
	if err := r.stocks.Set(ctx, productID, doc); err != nil {
		return wrapStockError("stock.put", err)
	}
	return nil
}

// ListAdjustments pages the audit log for one product, newest first.
func (r *StockRepository) ListAdjustments(ctx context.Context, productID string, pager domain.Pagination) (domain.CursorPage[domain.StockAdjustment], error) {
	if r == nil || r.adjustments == nil {
		return domain.CursorPage[domain.StockAdjustment]{}, errors.New("stock repository not initialised")
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.CursorPage[domain.StockAdjustment]{}, errors.New("stock list adjustments: product id is required")
	}

	pageSize := pager.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	if pageSize > 200 {
		pageSize = 200
	}

	coll, err := r.adjustments.CollectionRef(ctx)
	if err != nil {
		return domain.CursorPage[domain.StockAdjustment]{}, wrapStockError("stock.listAdjustments", err)
	}

	query := coll.Query.
		Where("productId", "==", productID).
		OrderBy("occurredAt", firestore.Desc).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Limit(pageSize + 1)

	if token := strings.TrimSpace(pager.PageToken); token != "" {
		decoded, err := decodeAdjustmentPageToken(token)
		if err != nil {
			return domain.CursorPage[domain.StockAdjustment]{}, wrapStockError("stock.listAdjustments", err)
		}
		query = query.StartAfter(decoded.OccurredAt, decoded.ID)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var entries []domain.StockAdjustment
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.StockAdjustment]{}, wrapStockError("stock.listAdjustments", err)
		}
		var doc adjustmentDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.StockAdjustment]{}, fmt.Errorf("decode stock adjustment %s: %w", snap.Ref.ID, err)
		}
		entries = append(entries, doc.toDomain(snap.Ref.ID))
	}

	hasMore := len(entries) > pageSize
	if hasMore {
		entries = entries[:pageSize]
	}
	var nextToken string
	if hasMore && len(entries) > 0 {
		last := entries[len(entries)-1]
		encoded, err := encodeAdjustmentPageToken(adjustmentPageToken{ID: last.ID, OccurredAt: last.OccurredAt})
		if err != nil {
			return domain.CursorPage[domain.StockAdjustment]{}, wrapStockError("stock.listAdjustments", err)
		}
		nextToken = encoded
	}

	return domain.CursorPage[domain.StockAdjustment]{
		Items:         entries,
		NextPageToken: nextToken,
	}, nil
}

// Helper structures ---------------------------------------------------------

type stockDocument struct {
	Quantity    int       `firestore:"quantity"`
	MaxQuantity int       `firestore:"maxQuantity"`
	MinQuantity int       `firestore:"minQuantity"`
	UpdatedAt   time.Time `firestore:"updatedAt"`
}

func (s stockDocument) toDomain(id string) domain.StockRecord {
	return domain.StockRecord{
		ProductID:   id,
		Quantity:    s.Quantity,
		MaxQuantity: s.MaxQuantity,
		MinQuantity: s.MinQuantity,
		UpdatedAt:   s.UpdatedAt,
	}
}

type adjustmentDocument struct {
	ProductID   string    `firestore:"productId"`
	OldQuantity int       `firestore:"oldQuantity"`
	NewQuantity int       `firestore:"newQuantity"`
	Reason      string    `firestore:"reason,omitempty"`
	ActorID     string    `firestore:"actorId,omitempty"`
	OccurredAt  time.Time `firestore:"occurredAt"`
}

func (a adjustmentDocument) toDomain(id string) domain.StockAdjustment {
	return domain.StockAdjustment{
		ID:          id,
		ProductID:   a.ProductID,
		OldQuantity: a.OldQuantity,
		NewQuantity: a.NewQuantity,
		Reason:      a.Reason,
		ActorID:     a.ActorID,
		OccurredAt:  a.OccurredAt,
	}
}

type adjustmentPageToken struct {
	ID         string
	OccurredAt time.Time
}

func encodeAdjustmentPageToken(token adjustmentPageToken) (string, error) {
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(token); err != nil {
		return "", fmt.Errorf("encode adjustment page token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(bytes.TrimSpace(buf.Bytes())), nil
}

func decodeAdjustmentPageToken(encoded string) (*adjustmentPageToken, error) {
	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode adjustment page token: %w", err)
	}
	var token adjustmentPageToken
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("decode adjustment page token json: %w", err)
	}
	return &token, nil
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
