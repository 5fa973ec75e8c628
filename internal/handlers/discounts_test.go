package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/phonemart/api/internal/domain"
	"github.com/phonemart/api/internal/services"
)

type stubDiscountService struct {
	evaluateFn func(context.Context, string, []services.DiscountLine) (services.DiscountEvaluation, error)
	createFn   func(context.Context, services.Actor, services.DiscountCreateCommand) (domain.Discount, error)
	updateFn   func(context.Context, services.Actor, services.DiscountUpdateCommand) (domain.Discount, error)
	deleteFn   func(context.Context, services.Actor, string) error
	listFn     func(context.Context, services.Actor, domain.Pagination) (domain.CursorPage[domain.Discount], error)
	spinFn     func(context.Context) (domain.Discount, error)
}

func (s *stubDiscountService) Evaluate(ctx context.Context, code string, lines []services.DiscountLine) (services.DiscountEvaluation, error) {
	if s.evaluateFn != nil {
		return s.evaluateFn(ctx, code, lines)
	}
	return services.DiscountEvaluation{}, services.ErrDiscountNotFound
}

func (s *stubDiscountService) Create(ctx context.Context, actor services.Actor, cmd services.DiscountCreateCommand) (domain.Discount, error) {
	if s.createFn != nil {
		return s.createFn(ctx, actor, cmd)
	}
	return domain.Discount{}, services.ErrDiscountInvalidInput
}

func (s *stubDiscountService) Update(ctx context.Context, actor services.Actor, cmd services.DiscountUpdateCommand) (domain.Discount, error) {
	if s.updateFn != nil {
		return s.updateFn(ctx, actor, cmd)
	}
	return domain.Discount{}, services.ErrDiscountInvalidInput
}

func (s *stubDiscountService) Delete(ctx context.Context, actor services.Actor, id string) error {
	if s.deleteFn != nil {
		return s.deleteFn(ctx, actor, id)
	}
	return services.ErrDiscountNotFound
}

func (s *stubDiscountService) List(ctx context.Context, actor services.Actor, pager domain.Pagination) (domain.CursorPage[domain.Discount], error) {
	if s.listFn != nil {
		return s.listFn(ctx, actor, pager)
	}
	return domain.CursorPage[domain.Discount]{}, nil
}

func (s *stubDiscountService) SpinRandom(ctx context.Context) (domain.Discount, error) {
	if s.spinFn != nil {
		return s.spinFn(ctx)
	}
	return domain.Discount{}, services.ErrDiscountNoneAvailable
}

func newDiscountRouter(service services.DiscountService) chi.Router {
	handler := NewDiscountHandlers(service)
	router := chi.NewRouter()
	router.Route("/discounts", handler.Routes)
	return router
}

func TestDiscountHandlersPreview(t *testing.T) {
	var capturedCode string
	var capturedLines []services.DiscountLine
	service := &stubDiscountService{
		evaluateFn: func(_ context.Context, code string, lines []services.DiscountLine) (services.DiscountEvaluation, error) {
			capturedCode = code
			capturedLines = lines
			return services.DiscountEvaluation{
				Discount:         domain.Discount{Code: "SUMMER20", Percentage: 20},
				Subtotal:         200000,
				DiscountAmount:   40000,
				LineDiscounts:    []int64{10000, 30000},
				PerUnitDeduction: []int64{10000, 10000},
				FinalTotal:       160000,
			}, nil
		},
	}
	router := newDiscountRouter(service)

	payload := `{
		"code": "SUMMER20",
		"lines": [
			{"product_id": "prd_a", "quantity": 1, "unit_price": 80000},
			{"product_id": "prd_b", "quantity": 3, "unit_price": 40000}
		]
	}`
	req := asCustomer(httptest.NewRequest(http.MethodPost, "/discounts/preview", bytes.NewBufferString(payload)), "usr_001")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if capturedCode != "SUMMER20" {
		t.Fatalf("expected code SUMMER20, got %q", capturedCode)
	}
	if len(capturedLines) != 2 || capturedLines[1].UnitPrice != 40000 {
		t.Fatalf("unexpected lines: %+v", capturedLines)
	}

	var resp previewDiscountResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.DiscountAmount != 40000 || resp.FinalTotal != 160000 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if len(resp.PerUnitDeduction) != 2 || resp.PerUnitDeduction[0] != 10000 {
		t.Fatalf("unexpected per-unit deductions: %+v", resp.PerUnitDeduction)
	}
}

func TestDiscountHandlersPreviewUsedCode(t *testing.T) {
	service := &stubDiscountService{
		evaluateFn: func(context.Context, string, []services.DiscountLine) (services.DiscountEvaluation, error) {
			return services.DiscountEvaluation{}, services.ErrDiscountAlreadyUsed
		},
	}
	router := newDiscountRouter(service)

	payload := `{"code": "SUMMER20", "lines": [{"product_id": "prd_a", "quantity": 1, "unit_price": 80000}]}`
	req := asCustomer(httptest.NewRequest(http.MethodPost, "/discounts/preview", bytes.NewBufferString(payload)), "usr_001")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
}

func TestDiscountHandlersPreviewRequiresAuth(t *testing.T) {
	router := newDiscountRouter(&stubDiscountService{})

	req := httptest.NewRequest(http.MethodPost, "/discounts/preview", bytes.NewBufferString(`{}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

func TestDiscountHandlersSpin(t *testing.T) {
	service := &stubDiscountService{
		spinFn: func(context.Context) (domain.Discount, error) {
			return domain.Discount{ID: "dsc_001", Code: "LUCKY10", Percentage: 10}, nil
		},
	}
	router := newDiscountRouter(service)

	req := asCustomer(httptest.NewRequest(http.MethodGet, "/discounts/spin", nil), "usr_001")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var resp discountResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Discount.Code != "LUCKY10" {
		t.Fatalf("unexpected response: %+v", resp.Discount)
	}
}

func TestDiscountHandlersSpinNoneAvailable(t *testing.T) {
	router := newDiscountRouter(&stubDiscountService{})

	req := asCustomer(httptest.NewRequest(http.MethodGet, "/discounts/spin", nil), "usr_001")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}
