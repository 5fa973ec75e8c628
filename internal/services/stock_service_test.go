package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/phonemart/api/internal/domain"
	"github.com/phonemart/api/internal/repositories"
)

func TestNewStockService(t *testing.T) {
	if _, err := NewStockService(StockServiceDeps{}); err == nil {
		t.Fatalf("expected error when stock repository missing")
	}
}

func TestStockServiceAdjust(t *testing.T) {
	now := time.Date(2025, time.March, 10, 9, 30, 0, 0, time.UTC)

	t.Run("defaults reason from delta sign", func(t *testing.T) {
		repo := &stubStockRepository{
			adjustResp: repositories.StockAdjustResult{
				Stock: domain.StockRecord{ProductID: "prd_001", Quantity: 12, MinQuantity: 5},
				Log:   domain.StockAdjustment{ID: "adj_001", ProductID: "prd_001", OldQuantity: 2, NewQuantity: 12, Reason: "stock-in", OccurredAt: now},
			},
		}
		events := &stubEventPublisher{}
		svc, err := NewStockService(StockServiceDeps{
			Stocks: repo,
			Events: events,
			Clock:  func() time.Time { return now },
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		stock, log, err := svc.Adjust(context.Background(), StockAdjustCommand{
			ProductID: " prd_001 ",
			Delta:     10,
			ActorID:   "usr_admin",
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if repo.adjustReq.ProductID != "prd_001" {
			t.Fatalf("expected trimmed product id, got %q", repo.adjustReq.ProductID)
		}
		if repo.adjustReq.Reason != "stock-in" {
			t.Fatalf("expected default reason stock-in, got %q", repo.adjustReq.Reason)
		}
		if !repo.adjustReq.Now.Equal(now) {
			t.Fatalf("expected clock value passed to repository, got %v", repo.adjustReq.Now)
		}
		if stock.Quantity != 12 || log.ID != "adj_001" {
			t.Fatalf("unexpected result: %+v %+v", stock, log)
		}
		if len(events.stockEvents) != 1 {
			t.Fatalf("expected one stock event, got %d", len(events.stockEvents))
		}
		if events.stockEvents[0].LowStock {
			t.Fatalf("quantity 12 with minimum 5 must not flag low stock")
		}
	})

	t.Run("negative delta defaults to stock-out and flags low stock", func(t *testing.T) {
		repo := &stubStockRepository{
			adjustResp: repositories.StockAdjustResult{
				Stock: domain.StockRecord{ProductID: "prd_001", Quantity: 4, MinQuantity: 5},
				Log:   domain.StockAdjustment{ProductID: "prd_001", OldQuantity: 7, NewQuantity: 4, Reason: "stock-out", OccurredAt: now},
			},
		}
		events := &stubEventPublisher{}
		svc, _ := NewStockService(StockServiceDeps{Stocks: repo, Events: events, Clock: func() time.Time { return now }})

		if _, _, err := svc.Adjust(context.Background(), StockAdjustCommand{ProductID: "prd_001", Delta: -3}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if repo.adjustReq.Reason != "stock-out" {
			t.Fatalf("expected default reason stock-out, got %q", repo.adjustReq.Reason)
		}
		if len(events.stockEvents) != 1 || !events.stockEvents[0].LowStock {
			t.Fatalf("expected low stock event when quantity reaches minimum")
		}
	})

	t.Run("rejects zero delta", func(t *testing.T) {
		svc, _ := NewStockService(StockServiceDeps{Stocks: &stubStockRepository{}})
		if _, _, err := svc.Adjust(context.Background(), StockAdjustCommand{ProductID: "prd_001"}); !errors.Is(err, ErrStockInvalidInput) {
			t.Fatalf("expected ErrStockInvalidInput, got %v", err)
		}
	})

	t.Run("maps insufficient stock", func(t *testing.T) {
		repo := &stubStockRepository{
			adjustErr: repositories.NewStockError(repositories.StockErrorInsufficient, "prd_001 has 2", nil),
		}
		svc, _ := NewStockService(StockServiceDeps{Stocks: repo})
		if _, _, err := svc.Adjust(context.Background(), StockAdjustCommand{ProductID: "prd_001", Delta: -5}); !errors.Is(err, ErrStockInsufficient) {
			t.Fatalf("expected ErrStockInsufficient, got %v", err)
		}
	})

	t.Run("maps exceeds maximum", func(t *testing.T) {
		repo := &stubStockRepository{
			adjustErr: repositories.NewStockError(repositories.StockErrorExceedsMaximum, "prd_001 max 100", nil),
		}
		svc, _ := NewStockService(StockServiceDeps{Stocks: repo})
		if _, _, err := svc.Adjust(context.Background(), StockAdjustCommand{ProductID: "prd_001", Delta: 500}); !errors.Is(err, ErrStockExceedsMaximum) {
			t.Fatalf("expected ErrStockExceedsMaximum, got %v", err)
		}
	})
}

func TestStockServiceConfigure(t *testing.T) {
	now := time.Date(2025, time.March, 10, 9, 30, 0, 0, time.UTC)

	t.Run("persists record with clock timestamp", func(t *testing.T) {
		repo := &stubStockRepository{}
		svc, _ := NewStockService(StockServiceDeps{Stocks: repo, Clock: func() time.Time { return now }})

		record, err := svc.Configure(context.Background(), StockConfigureCommand{
			ProductID:   " prd_002 ",
			Quantity:    40,
			MaxQuantity: 100,
			MinQuantity: 5,
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if repo.putRecord.ProductID != "prd_002" {
			t.Fatalf("expected trimmed product id, got %q", repo.putRecord.ProductID)
		}
		if !record.UpdatedAt.Equal(now) {
			t.Fatalf("expected UpdatedAt from clock, got %v", record.UpdatedAt)
		}
	})

	t.Run("rejects quantity above maximum", func(t *testing.T) {
		svc, _ := NewStockService(StockServiceDeps{Stocks: &stubStockRepository{}})
		_, err := svc.Configure(context.Background(), StockConfigureCommand{ProductID: "prd_002", Quantity: 120, MaxQuantity: 100})
		if !errors.Is(err, ErrStockInvalidInput) {
			t.Fatalf("expected ErrStockInvalidInput, got %v", err)
		}
	})
}

func TestStockServiceListAdjustments(t *testing.T) {
	repo := &stubStockRepository{
		listPage: domain.CursorPage[domain.StockAdjustment]{
			Items:         []domain.StockAdjustment{{ID: "adj_001"}},
			NextPageToken: "next",
		},
	}
	svc, _ := NewStockService(StockServiceDeps{Stocks: repo})

	page, err := svc.ListAdjustments(context.Background(), "prd_001", domain.Pagination{PageSize: 10})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(page.Items) != 1 || page.NextPageToken != "next" {
		t.Fatalf("unexpected page: %+v", page)
	}

	if _, err := svc.ListAdjustments(context.Background(), "  ", domain.Pagination{}); !errors.Is(err, ErrStockInvalidInput) {
		t.Fatalf("expected ErrStockInvalidInput for blank product id, got %v", err)
	}
}

type stubStockRepository struct {
	adjustReq  repositories.StockAdjustRequest
	adjustResp repositories.StockAdjustResult
	adjustErr  error

	getStock domain.StockRecord
	getErr   error

	putRecord domain.StockRecord
	putErr    error

	listPage domain.CursorPage[domain.StockAdjustment]
	listErr  error
}

func (s *stubStockRepository) Adjust(_ context.Context, req repositories.StockAdjustRequest) (repositories.StockAdjustResult, error) {
	s.adjustReq = req
	if s.adjustErr != nil {
		return repositories.StockAdjustResult{}, s.adjustErr
	}
	return s.adjustResp, nil
}

func (s *stubStockRepository) Get(context.Context, string) (domain.StockRecord, error) {
	if s.getErr != nil {
		return domain.StockRecord{}, s.getErr
	}
	return s.getStock, nil
}

func (s *stubStockRepository) Put(_ context.Context, record domain.StockRecord) error {
	s.putRecord = record
	return s.putErr
}

func (s *stubStockRepository) ListAdjustments(context.Context, string, domain.Pagination) (domain.CursorPage[domain.StockAdjustment], error) {
	if s.listErr != nil {
		return domain.CursorPage[domain.StockAdjustment]{}, s.listErr
	}
	return s.listPage, nil
}

type stubEventPublisher struct {
	stockEvents []StockEventMessage
	orderEvents []OrderEventMessage
	publishErr  error
}

func (s *stubEventPublisher) PublishStockEvent(_ context.Context, message StockEventMessage) (string, error) {
	if s.publishErr != nil {
		return "", s.publishErr
	}
	s.stockEvents = append(s.stockEvents, message)
	return "msg_stock", nil
}

func (s *stubEventPublisher) PublishOrderEvent(_ context.Context, message OrderEventMessage) (string, error) {
	if s.publishErr != nil {
		return "", s.publishErr
	}
	s.orderEvents = append(s.orderEvents, message)
	return "msg_order", nil
}

type stubRepoError struct {
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *stubRepoError) Error() string       { return "stub repository error" }
func (e *stubRepoError) IsNotFound() bool    { return e.notFound }
func (e *stubRepoError) IsConflict() bool    { return e.conflict }
func (e *stubRepoError) IsUnavailable() bool { return e.unavailable }
