package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/phonemart/api/internal/domain"
	"github.com/phonemart/api/internal/services"
)

type stubStockService struct {
	adjustFn    func(context.Context, services.StockAdjustCommand) (domain.StockRecord, domain.StockAdjustment, error)
	getFn       func(context.Context, string) (domain.StockRecord, error)
	configureFn func(context.Context, services.StockConfigureCommand) (domain.StockRecord, error)
	listFn      func(context.Context, string, domain.Pagination) (domain.CursorPage[domain.StockAdjustment], error)
}

func (s *stubStockService) Adjust(ctx context.Context, cmd services.StockAdjustCommand) (domain.StockRecord, domain.StockAdjustment, error) {
	if s.adjustFn != nil {
		return s.adjustFn(ctx, cmd)
	}
	return domain.StockRecord{}, domain.StockAdjustment{}, services.ErrStockNotFound
}

func (s *stubStockService) Get(ctx context.Context, productID string) (domain.StockRecord, error) {
	if s.getFn != nil {
		return s.getFn(ctx, productID)
	}
	return domain.StockRecord{}, services.ErrStockNotFound
}

func (s *stubStockService) Configure(ctx context.Context, cmd services.StockConfigureCommand) (domain.StockRecord, error) {
	if s.configureFn != nil {
		return s.configureFn(ctx, cmd)
	}
	return domain.StockRecord{}, services.ErrStockInvalidInput
}

func (s *stubStockService) ListAdjustments(ctx context.Context, productID string, pager domain.Pagination) (domain.CursorPage[domain.StockAdjustment], error) {
	if s.listFn != nil {
		return s.listFn(ctx, productID, pager)
	}
	return domain.CursorPage[domain.StockAdjustment]{}, nil
}

func newAdminRouter(discounts services.DiscountService, stock services.StockService) chi.Router {
	handler := NewAdminHandlers(discounts, stock)
	router := chi.NewRouter()
	router.Route("/admin", handler.Routes)
	return router
}

func TestAdminHandlersRequireStaff(t *testing.T) {
	router := newAdminRouter(&stubDiscountService{}, &stubStockService{})

	req := asCustomer(httptest.NewRequest(http.MethodGet, "/admin/stock/prd_a", nil), "usr_001")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/admin/stock/prd_a", nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

func TestAdminHandlersAdjustStock(t *testing.T) {
	now := time.Date(2025, time.June, 15, 12, 0, 0, 0, time.UTC)

	var captured services.StockAdjustCommand
	stock := &stubStockService{
		adjustFn: func(_ context.Context, cmd services.StockAdjustCommand) (domain.StockRecord, domain.StockAdjustment, error) {
			captured = cmd
			return domain.StockRecord{ProductID: cmd.ProductID, Quantity: 45, MaxQuantity: 100, UpdatedAt: now},
				domain.StockAdjustment{ID: "log_001", ProductID: cmd.ProductID, OldQuantity: 50, NewQuantity: 45, Reason: cmd.Reason, ActorID: cmd.ActorID, OccurredAt: now},
				nil
		},
	}
	router := newAdminRouter(&stubDiscountService{}, stock)

	payload := `{"delta": -5, "reason": "damaged units"}`
	req := asStaff(httptest.NewRequest(http.MethodPost, "/admin/stock/prd_a:adjust", bytes.NewBufferString(payload)))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.ProductID != "prd_a" || captured.Delta != -5 || captured.ActorID != "usr_staff" {
		t.Fatalf("unexpected command: %+v", captured)
	}

	var resp stockAdjustResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Stock.Quantity != 45 || resp.Log.Reason != "damaged units" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestAdminHandlersAdjustStockInsufficient(t *testing.T) {
	stock := &stubStockService{
		adjustFn: func(context.Context, services.StockAdjustCommand) (domain.StockRecord, domain.StockAdjustment, error) {
			return domain.StockRecord{}, domain.StockAdjustment{}, services.ErrStockInsufficient
		},
	}
	router := newAdminRouter(&stubDiscountService{}, stock)

	payload := `{"delta": -500}`
	req := asStaff(httptest.NewRequest(http.MethodPost, "/admin/stock/prd_a:adjust", bytes.NewBufferString(payload)))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
}

func TestAdminHandlersConfigureStock(t *testing.T) {
	var captured services.StockConfigureCommand
	stock := &stubStockService{
		configureFn: func(_ context.Context, cmd services.StockConfigureCommand) (domain.StockRecord, error) {
			captured = cmd
			return domain.StockRecord{ProductID: cmd.ProductID, Quantity: cmd.Quantity, MaxQuantity: cmd.MaxQuantity, MinQuantity: cmd.MinQuantity}, nil
		},
	}
	router := newAdminRouter(&stubDiscountService{}, stock)

	payload := `{"quantity": 80, "max_quantity": 200, "min_quantity": 5}`
	req := asStaff(httptest.NewRequest(http.MethodPut, "/admin/stock/prd_a", bytes.NewBufferString(payload)))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.ProductID != "prd_a" || captured.MaxQuantity != 200 || captured.MinQuantity != 5 {
		t.Fatalf("unexpected command: %+v", captured)
	}
}

func TestAdminHandlersListStockLog(t *testing.T) {
	now := time.Date(2025, time.June, 15, 12, 0, 0, 0, time.UTC)
	stock := &stubStockService{
		listFn: func(_ context.Context, productID string, pager domain.Pagination) (domain.CursorPage[domain.StockAdjustment], error) {
			if productID != "prd_a" || pager.PageSize != 5 {
				t.Fatalf("unexpected request: %q %+v", productID, pager)
			}
			return domain.CursorPage[domain.StockAdjustment]{
				Items: []domain.StockAdjustment{
					{ID: "log_002", ProductID: productID, OldQuantity: 45, NewQuantity: 50, Reason: "stock-in", OccurredAt: now},
				},
				NextPageToken: "tok-next",
			}, nil
		},
	}
	router := newAdminRouter(&stubDiscountService{}, stock)

	req := asStaff(httptest.NewRequest(http.MethodGet, "/admin/stock/prd_a/log?page_size=5", nil))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var resp stockLogListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].Reason != "stock-in" || resp.NextPageToken != "tok-next" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestAdminHandlersCreateDiscount(t *testing.T) {
	var captured services.DiscountCreateCommand
	discounts := &stubDiscountService{
		createFn: func(_ context.Context, actor services.Actor, cmd services.DiscountCreateCommand) (domain.Discount, error) {
			if actor.UserID != "usr_staff" {
				t.Fatalf("expected staff actor, got %q", actor.UserID)
			}
			captured = cmd
			return domain.Discount{ID: "dsc_001", Code: cmd.Code, Percentage: cmd.Percentage}, nil
		},
	}
	router := newAdminRouter(discounts, &stubStockService{})

	payload := `{
		"code": "SUMMER20",
		"percentage": 20,
		"valid_from": "2025-06-01T00:00:00Z",
		"valid_to": "2025-06-30T23:59:59Z",
		"min_order_value": 100000,
		"probability_weight": 3
	}`
	req := asStaff(httptest.NewRequest(http.MethodPost, "/admin/discounts", bytes.NewBufferString(payload)))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Code != "SUMMER20" || captured.MinOrderValue != 100000 || captured.ProbabilityWeight != 3 {
		t.Fatalf("unexpected command: %+v", captured)
	}
	if !captured.ValidFrom.Equal(time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected valid_from: %s", captured.ValidFrom)
	}
}

func TestAdminHandlersCreateDiscountDuplicate(t *testing.T) {
	discounts := &stubDiscountService{
		createFn: func(context.Context, services.Actor, services.DiscountCreateCommand) (domain.Discount, error) {
			return domain.Discount{}, services.ErrDiscountCodeExists
		},
	}
	router := newAdminRouter(discounts, &stubStockService{})

	payload := `{"code": "SUMMER20", "percentage": 20, "valid_from": "2025-06-01T00:00:00Z", "valid_to": "2025-06-30T00:00:00Z"}`
	req := asStaff(httptest.NewRequest(http.MethodPost, "/admin/discounts", bytes.NewBufferString(payload)))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
}

func TestAdminHandlersDeleteDiscount(t *testing.T) {
	var deleted string
	discounts := &stubDiscountService{
		deleteFn: func(_ context.Context, _ services.Actor, id string) error {
			deleted = id
			return nil
		},
	}
	router := newAdminRouter(discounts, &stubStockService{})

	req := asStaff(httptest.NewRequest(http.MethodDelete, "/admin/discounts/dsc_001", nil))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rr.Code)
	}
	if deleted != "dsc_001" {
		t.Fatalf("expected deletion of dsc_001, got %q", deleted)
	}
}
