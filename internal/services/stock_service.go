package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/phonemart/api/internal/domain"
	"github.com/phonemart/api/internal/repositories"
)

const (
	eventStockAdjust    = "stock.adjust"
	eventStockConfigure = "stock.configure"

	reasonStockIn  = "stock-in"
	reasonStockOut = "stock-out"
)

var (
	// ErrStockInvalidInput signals the caller provided invalid arguments.
	ErrStockInvalidInput = errors.New("stock: invalid input")
	// ErrStockNotFound indicates no stock record exists for the product.
	ErrStockNotFound = errors.New("stock: not found")
	// ErrStockInsufficient indicates the adjustment would drive quantity negative.
	ErrStockInsufficient = errors.New("stock: insufficient quantity")
	// ErrStockExceedsMaximum indicates the adjustment would exceed the maximum quantity.
	ErrStockExceedsMaximum = errors.New("stock: exceeds maximum quantity")
	// ErrStockUnavailable indicates a transient persistence failure.
	ErrStockUnavailable = errors.New("stock: storage unavailable")
)

// StockServiceDeps bundles the collaborators required to construct a stock service.
type StockServiceDeps struct {
	Stocks repositories.StockRepository
	Events EventPublisher
	Clock  func() time.Time
	Logger func(ctx context.Context, event string, fields map[string]any)
}

type stockService struct {
	stocks repositories.StockRepository
	events EventPublisher
	clock  func() time.Time
	logger func(context.Context, string, map[string]any)
}

// NewStockService wires dependencies into a concrete StockService implementation.
func NewStockService(deps StockServiceDeps) (StockService, error) {
	if deps.Stocks == nil {
		return nil, errors.New("stock service: stock repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &stockService{
		stocks: deps.Stocks,
		events: deps.Events,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

func (s *stockService) Adjust(ctx context.Context, cmd StockAdjustCommand) (domain.StockRecord, domain.StockAdjustment, error) {
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return domain.StockRecord{}, domain.StockAdjustment{}, fmt.Errorf("%w: product id is required", ErrStockInvalidInput)
	}
	if cmd.Delta == 0 {
		return domain.StockRecord{}, domain.StockAdjustment{}, fmt.Errorf("%w: delta must be non-zero", ErrStockInvalidInput)
	}

	now := s.clock()
	result, err := s.stocks.Adjust(ctx, repositories.StockAdjustRequest{
		ProductID: productID,
		Delta:     cmd.Delta,
		Reason:    DefaultAdjustReason(cmd.Reason, cmd.Delta),
		ActorID:   strings.TrimSpace(cmd.ActorID),
		Now:       now,
	})
	if err != nil {
		return domain.StockRecord{}, domain.StockAdjustment{}, s.mapRepositoryError(err)
	}

	s.logger(ctx, eventStockAdjust, map[string]any{
		"product_id":   productID,
		"delta":        cmd.Delta,
		"new_quantity": result.Stock.Quantity,
		"reason":       result.Log.Reason,
	})
	s.publishStockEvent(ctx, result)

	return result.Stock, result.Log, nil
}

func (s *stockService) Get(ctx context.Context, productID string) (domain.StockRecord, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.StockRecord{}, fmt.Errorf("%w: product id is required", ErrStockInvalidInput)
	}

	stock, err := s.stocks.Get(ctx, productID)
	if err != nil {
		return domain.StockRecord{}, s.mapRepositoryError(err)
	}
	return stock, nil
}

func (s *stockService) Configure(ctx context.Context, cmd StockConfigureCommand) (domain.StockRecord, error) {
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return domain.StockRecord{}, fmt.Errorf("%w: product id is required", ErrStockInvalidInput)
	}
	if cmd.Quantity < 0 {
		return domain.StockRecord{}, fmt.Errorf("%w: quantity must be >= 0", ErrStockInvalidInput)
	}
	if cmd.MaxQuantity > 0 && cmd.Quantity > cmd.MaxQuantity {
		return domain.StockRecord{}, fmt.Errorf("%w: quantity exceeds maximum", ErrStockInvalidInput)
	}
	if cmd.MinQuantity < 0 {
		return domain.StockRecord{}, fmt.Errorf("%w: minimum quantity must be >= 0", ErrStockInvalidInput)
	}

	record := domain.StockRecord{
		ProductID:   productID,
		Quantity:    cmd.Quantity,
		MaxQuantity: cmd.MaxQuantity,
		MinQuantity: cmd.MinQuantity,
		UpdatedAt:   s.clock(),
	}
	if err := s.stocks.Put(ctx, record); err != nil {
		return domain.StockRecord{}, s.mapRepositoryError(err)
	}

	s.logger(ctx, eventStockConfigure, map[string]any{
		"product_id":   productID,
		"quantity":     cmd.Quantity,
		"max_quantity": cmd.MaxQuantity,
	})
	return record, nil
}

func (s *stockService) ListAdjustments(ctx context.Context, productID string, pager domain.Pagination) (domain.CursorPage[domain.StockAdjustment], error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.CursorPage[domain.StockAdjustment]{}, fmt.Errorf("%w: product id is required", ErrStockInvalidInput)
	}

	page, err := s.stocks.ListAdjustments(ctx, productID, pager)
	if err != nil {
		return domain.CursorPage[domain.StockAdjustment]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *stockService) publishStockEvent(ctx context.Context, result repositories.StockAdjustResult) {
	if s.events == nil {
		return
	}
	message := StockEventMessage{
		ProductID:   result.Stock.ProductID,
		OldQuantity: result.Log.OldQuantity,
		NewQuantity: result.Log.NewQuantity,
		Reason:      result.Log.Reason,
		ActorID:     result.Log.ActorID,
		LowStock:    result.Stock.Quantity <= result.Stock.MinQuantity,
		OccurredAt:  result.Log.OccurredAt,
	}
	if _, err := s.events.PublishStockEvent(ctx, message); err != nil {
		s.logger(ctx, eventStockAdjust, map[string]any{
			"product_id": result.Stock.ProductID,
			"publish":    err.Error(),
		})
	}
}

func (s *stockService) mapRepositoryError(err error) error {
	return translateStockError(err)
}

// translateStockError converts repository error kinds into service sentinels.
func translateStockError(err error) error {
	if err == nil {
		return nil
	}
	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		switch stockErr.Code {
		case repositories.StockErrorNotFound:
			return fmt.Errorf("%w: %s", ErrStockNotFound, stockErr.Message)
		case repositories.StockErrorInsufficient:
			return fmt.Errorf("%w: %s", ErrStockInsufficient, stockErr.Message)
		case repositories.StockErrorExceedsMaximum:
			return fmt.Errorf("%w: %s", ErrStockExceedsMaximum, stockErr.Message)
		}
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrStockNotFound, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrStockUnavailable, err)
		}
	}
	return err
}

// DefaultAdjustReason resolves the audit reason, defaulting contextually on
// the delta's sign when the caller supplies none.
func DefaultAdjustReason(reason string, delta int) string {
	reason = strings.TrimSpace(reason)
	if reason != "" {
		return reason
	}
	if delta > 0 {
		return reasonStockIn
	}
	return reasonStockOut
}
